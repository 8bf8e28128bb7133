package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// constraintSet holds the compiled JSON Schema for the enum and pattern
// constraints of an action's string parameters. A nil set accepts everything.
type constraintSet struct {
	schema *jsonschema.Schema
	params []string
}

func compileConstraints(s ActionSchema) (*constraintSet, error) {
	properties := map[string]any{}
	var params []string
	for _, p := range s.Parameters {
		if len(p.Enum) == 0 && p.Pattern == "" {
			continue
		}
		if p.Type != TypeString {
			return nil, fmt.Errorf("parameter %q: enum and pattern are only supported on string parameters", p.Name)
		}
		prop := map[string]any{"type": "string"}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Pattern != "" {
			prop["pattern"] = p.Pattern
		}
		properties[p.Name] = prop
		params = append(params, p.Name)
	}
	if len(params) == 0 {
		return nil, nil
	}

	raw, err := json.Marshal(map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": properties,
	})
	if err != nil {
		return nil, fmt.Errorf("constraint schema marshal failed: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://supportagent.local/actions/%s.schema.json", s.Name)
	if err := c.AddResource(schemaURL, strings.NewReader(string(raw))); err != nil {
		return nil, fmt.Errorf("constraint schema load failed: %w", err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("constraint schema compile failed: %w", err)
	}
	return &constraintSet{schema: compiled, params: params}, nil
}

func (cs *constraintSet) check(args map[string]any) error {
	if cs == nil {
		return nil
	}
	doc := make(map[string]any, len(cs.params))
	for _, name := range cs.params {
		if v, ok := args[name]; ok {
			doc[name] = v
		}
	}
	return cs.schema.Validate(doc)
}

// coerce converts raw to the Go representation of t: string, float64, int64
// or bool. Engines frequently send numbers as strings and vice versa, so
// unambiguous textual forms are accepted.
func coerce(t ParamType, raw any) (any, error) {
	switch t {
	case TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64), nil
		case float32:
			return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
		case int:
			return strconv.Itoa(v), nil
		case int64:
			return strconv.FormatInt(v, 10), nil
		case json.Number:
			return v.String(), nil
		}
	case TypeNumber:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
				return f, nil
			}
		}
	case TypeInteger:
		switch v := raw.(type) {
		case int:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				return int64(v), nil
			}
		case json.Number:
			return v.Int64()
		case string:
			if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
				return i, nil
			}
		}
	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "true":
				return true, nil
			case "false":
				return false, nil
			}
		}
	}
	return nil, fmt.Errorf("cannot use %s as %s", describeValue(raw), t)
}

func describeValue(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case float32, float64, int, int64, json.Number:
		return "number"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", v)
	}
}
