// Parameter schemas and validation.

package tools

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Schema renders the descriptor's parameters as a JSON Schema object.
func (d Descriptor) Schema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	required := []string{}
	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        jsonType(p.ParamType),
			"description": p.Description,
		}
		if p.ParamType == "array" {
			items := p.Items
			if items == nil {
				items = map[string]any{"type": "string"}
			}
			prop["items"] = items
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func jsonType(t string) string {
	if t == "" {
		return "string"
	}
	return t
}

// SchemaValidator checks required parameters, types, and that required
// strings are not blank.
func SchemaValidator(params []ToolParameter) Validator {
	return func(args json.RawMessage) []string {
		var values map[string]any
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		if err := json.Unmarshal(args, &values); err != nil || values == nil {
			return []string{"arguments must be a JSON object"}
		}

		var violations []string
		for _, p := range params {
			v, present := values[p.Name]
			if !present || v == nil {
				if p.Required {
					violations = append(violations, fmt.Sprintf("missing required parameter '%s'", p.Name))
				}
				continue
			}
			if !typeMatches(jsonType(p.ParamType), v) {
				violations = append(violations, fmt.Sprintf("parameter '%s' must be of type %s", p.Name, jsonType(p.ParamType)))
				continue
			}
			if s, ok := v.(string); ok && p.Required && strings.TrimSpace(s) == "" {
				violations = append(violations, fmt.Sprintf("parameter '%s' cannot be empty", p.Name))
			}
		}
		return violations
	}
}

// Validators combines validators; all violations are reported.
func Validators(vs ...Validator) Validator {
	return func(args json.RawMessage) []string {
		var out []string
		for _, v := range vs {
			if v != nil {
				out = append(out, v(args)...)
			}
		}
		return out
	}
}

func typeMatches(t string, v any) bool {
	switch t {
	case "string":
		_, ok := v.(string)
		return ok
	case "integer":
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	default:
		return true
	}
}
