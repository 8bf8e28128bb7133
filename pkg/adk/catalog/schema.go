package catalog

// ParamType is the declared type of an action parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeNumber  ParamType = "number"
	TypeInteger ParamType = "integer"
	TypeBoolean ParamType = "boolean"
)

func (t ParamType) valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeInteger, TypeBoolean:
		return true
	}
	return false
}

// Kind tells the orchestrator where an action is routed.
type Kind string

const (
	// KindBackend actions are executed by the action backend.
	KindBackend Kind = "backend"
	// KindPolicyQuery actions are answered by the policy knowledge store and
	// recorded for the policy gatekeeper.
	KindPolicyQuery Kind = "policy_query"
)

// ParamSpec describes a single action parameter.
type ParamSpec struct {
	Name        string    `json:"name" yaml:"name" mapstructure:"name"`
	Type        ParamType `json:"type" yaml:"type" mapstructure:"type"`
	Required    bool      `json:"required" yaml:"required" mapstructure:"required"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Enum        []string  `json:"enum,omitempty" yaml:"enum,omitempty" mapstructure:"enum"`
	Pattern     string    `json:"pattern,omitempty" yaml:"pattern,omitempty" mapstructure:"pattern"`
}

// Endpoint binds an action to an HTTP call on the backend. Path segments of
// the form {param} are filled from the action arguments.
type Endpoint struct {
	Method string `json:"method" yaml:"method" mapstructure:"method"`
	Path   string `json:"path" yaml:"path" mapstructure:"path"`
}

// ActionSchema is the declarative description of a callable action.
type ActionSchema struct {
	Name        string      `json:"name" yaml:"name" mapstructure:"name"`
	Description string      `json:"description" yaml:"description" mapstructure:"description"`
	Parameters  []ParamSpec `json:"parameters" yaml:"parameters" mapstructure:"parameters"`

	// RequiredScope must be granted to the principal; empty means no scope.
	RequiredScope string `json:"required_scope,omitempty" yaml:"required_scope,omitempty" mapstructure:"required_scope"`
	// Sensitive actions must pass the policy gate before dispatch.
	Sensitive bool `json:"sensitive,omitempty" yaml:"sensitive,omitempty" mapstructure:"sensitive"`
	// Idempotent actions may be retried on transport failure.
	Idempotent bool `json:"idempotent,omitempty" yaml:"idempotent,omitempty" mapstructure:"idempotent"`
	Kind       Kind `json:"kind" yaml:"kind" mapstructure:"kind"`
	// PolicyTopic names the policy area a sensitive action is gated on.
	PolicyTopic string `json:"policy_topic,omitempty" yaml:"policy_topic,omitempty" mapstructure:"policy_topic"`
	// EntityParam names the argument identifying the entity acted on; the
	// policy gate is keyed by it.
	EntityParam string    `json:"entity_param,omitempty" yaml:"entity_param,omitempty" mapstructure:"entity_param"`
	Endpoint    *Endpoint `json:"endpoint,omitempty" yaml:"endpoint,omitempty" mapstructure:"endpoint"`
}

// Param returns the parameter spec with the given name.
func (s ActionSchema) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// JSONSchema renders the parameter specification as a JSON Schema object, the
// shape reasoning engines expect for tool parameters.
func (s ActionSchema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s.Parameters))
	required := make([]string, 0, len(s.Parameters))

	for _, p := range s.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, v := range p.Enum {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func (s ActionSchema) clone() ActionSchema {
	out := s
	out.Parameters = make([]ParamSpec, len(s.Parameters))
	for i, p := range s.Parameters {
		p.Enum = append([]string(nil), p.Enum...)
		out.Parameters[i] = p
	}
	if s.Endpoint != nil {
		ep := *s.Endpoint
		out.Endpoint = &ep
	}
	return out
}
