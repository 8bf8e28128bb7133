package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/gowebpki/jcs"
	"github.com/hashicorp/go-multierror"
	"github.com/stoewer/go-strcase"

	adkerrors "github.com/kagent-dev/supportagent/pkg/adk/errors"
)

// Catalog holds the set of actions the reasoning engine may call.
// Schemas are listed in registration order. Once published the catalog is
// immutable and may be shared between sessions.
type Catalog struct {
	mu        sync.RWMutex
	version   *semver.Version
	order     []string
	schemas   map[string]ActionSchema
	validator map[string]*constraintSet
	published bool
}

// New creates an empty catalog with the given semantic version.
func New(version string) (*Catalog, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("invalid catalog version %q: %w", version, err)
	}
	return &Catalog{
		version:   v,
		schemas:   make(map[string]ActionSchema),
		validator: make(map[string]*constraintSet),
	}, nil
}

// Register adds an action schema.
func (c *Catalog) Register(schema ActionSchema) error {
	if err := checkSchema(schema); err != nil {
		return err
	}

	constraints, err := compileConstraints(schema)
	if err != nil {
		return &adkerrors.InvalidSchemaError{Name: schema.Name, Reason: err.Error()}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.published {
		return &adkerrors.InvalidSchemaError{Name: schema.Name, Reason: "catalog is published and can no longer change"}
	}
	if _, exists := c.schemas[schema.Name]; exists {
		return &adkerrors.DuplicateNameError{Name: schema.Name}
	}

	c.schemas[schema.Name] = schema.clone()
	c.validator[schema.Name] = constraints
	c.order = append(c.order, schema.Name)
	return nil
}

// MustRegister is like Register but panics on error.
func (c *Catalog) MustRegister(schemas ...ActionSchema) *Catalog {
	for _, s := range schemas {
		if err := c.Register(s); err != nil {
			panic(err)
		}
	}
	return c
}

// Publish freezes the catalog.
func (c *Catalog) Publish() *Catalog {
	c.mu.Lock()
	c.published = true
	c.mu.Unlock()
	return c
}

// Published reports whether the catalog is frozen.
func (c *Catalog) Published() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.published
}

// DescribeAll returns every schema in registration order. The returned slice
// is a copy; callers may not mutate the catalog through it.
func (c *Catalog) DescribeAll() []ActionSchema {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]ActionSchema, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.schemas[name].clone())
	}
	return out
}

// Lookup returns the schema registered under name.
func (c *Catalog) Lookup(name string) (ActionSchema, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.schemas[name]
	if !ok {
		return ActionSchema{}, false
	}
	return s.clone(), true
}

// Names returns the registered action names in order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.order...)
}

// Len returns the number of registered actions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Version returns the catalog version.
func (c *Catalog) Version() *semver.Version {
	return c.version
}

// Compatible reports whether the catalog version satisfies constraint, e.g. "^1.0".
func (c *Catalog) Compatible(constraint string) (bool, error) {
	cons, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid version constraint %q: %w", constraint, err)
	}
	return cons.Check(c.version), nil
}

// Fingerprint returns a hex SHA-256 of the canonical JSON listing. Two
// catalogs with the same actions in the same order share a fingerprint.
func (c *Catalog) Fingerprint() (string, error) {
	raw, err := json.Marshal(c.DescribeAll())
	if err != nil {
		return "", fmt.Errorf("failed to marshal catalog: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize catalog: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// JSONSchema returns the parameter schema of the named action.
func (c *Catalog) JSONSchema(name string) (map[string]any, error) {
	s, ok := c.Lookup(name)
	if !ok {
		return nil, &adkerrors.UnknownActionError{Name: name}
	}
	return s.JSONSchema(), nil
}

// Validate checks args against the named action and returns the arguments
// coerced to their declared types. Arguments not declared by the schema are
// dropped.
func (c *Catalog) Validate(actionName string, args map[string]any) (map[string]any, error) {
	c.mu.RLock()
	schema, ok := c.schemas[actionName]
	constraints := c.validator[actionName]
	c.mu.RUnlock()

	if !ok {
		return nil, &adkerrors.UnknownActionError{Name: actionName}
	}

	var missing []string
	for _, p := range schema.Parameters {
		if !p.Required {
			continue
		}
		if v, present := args[p.Name]; !present || v == nil {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &adkerrors.MissingParameterError{Action: actionName, Parameters: missing}
	}

	normalized := make(map[string]any, len(schema.Parameters))
	for _, p := range schema.Parameters {
		raw, present := args[p.Name]
		if !present || raw == nil {
			continue
		}
		v, err := coerce(p.Type, raw)
		if err != nil {
			return nil, &adkerrors.TypeMismatchError{
				Action:    actionName,
				Parameter: p.Name,
				Expected:  string(p.Type),
				Got:       describeValue(raw),
			}
		}
		normalized[p.Name] = v
	}

	if err := constraints.check(normalized); err != nil {
		return nil, &adkerrors.ConstraintViolationError{Action: actionName, Detail: err.Error()}
	}

	return normalized, nil
}

func checkSchema(s ActionSchema) error {
	var result *multierror.Error

	switch {
	case s.Name == "":
		result = multierror.Append(result, fmt.Errorf("name is required"))
	case strcase.SnakeCase(s.Name) != s.Name:
		result = multierror.Append(result, fmt.Errorf("name must be snake_case, e.g. %q", strcase.SnakeCase(s.Name)))
	}

	seen := make(map[string]struct{}, len(s.Parameters))
	for _, p := range s.Parameters {
		if p.Name == "" {
			result = multierror.Append(result, fmt.Errorf("parameter name is required"))
			continue
		}
		if _, dup := seen[p.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("parameter %q is declared twice", p.Name))
		}
		seen[p.Name] = struct{}{}
		if !p.Type.valid() {
			result = multierror.Append(result, fmt.Errorf("parameter %q has unknown type %q", p.Name, p.Type))
		}
		if p.Pattern != "" {
			if _, err := regexp.Compile(p.Pattern); err != nil {
				result = multierror.Append(result, fmt.Errorf("parameter %q pattern: %w", p.Name, err))
			}
		}
	}

	switch s.Kind {
	case KindBackend, KindPolicyQuery:
	default:
		result = multierror.Append(result, fmt.Errorf("unknown kind %q", s.Kind))
	}

	if s.Sensitive {
		if s.PolicyTopic == "" {
			result = multierror.Append(result, fmt.Errorf("sensitive action requires a policy topic"))
		}
		if s.Kind == KindPolicyQuery {
			result = multierror.Append(result, fmt.Errorf("policy query actions cannot be sensitive"))
		}
	}
	if s.EntityParam != "" {
		if _, ok := seen[s.EntityParam]; !ok {
			result = multierror.Append(result, fmt.Errorf("entity parameter %q is not declared", s.EntityParam))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return &adkerrors.InvalidSchemaError{Name: s.Name, Reason: err.Error()}
	}
	return nil
}
