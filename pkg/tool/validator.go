package tool

import (
	"encoding/json"
	"fmt"
)

// Validator checks params against a tool's declared schema before execution.
type Validator interface {
	Validate(params map[string]any, schema *JSONSchema) error
}

// DefaultValidator implements the subset of JSON Schema the registry needs:
// required fields, primitive types, enums, and arrays.
type DefaultValidator struct{}

// Validate implements Validator.
func (DefaultValidator) Validate(params map[string]any, schema *JSONSchema) error {
	if schema == nil {
		return nil
	}
	if schema.Type != "object" {
		return fmt.Errorf("tool: top-level schema type %q unsupported", schema.Type)
	}
	for _, name := range schema.Required {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("tool: missing required parameter %q", name)
		}
	}
	for name, value := range params {
		raw, ok := schema.Properties[name]
		if !ok {
			// Unknown parameters are tolerated; providers occasionally add
			// fields the schema has not caught up with.
			continue
		}
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if err := validateValue(name, value, prop); err != nil {
			return err
		}
	}
	return nil
}

func validateValue(name string, value any, prop map[string]any) error {
	typeName, _ := prop["type"].(string)
	switch typeName {
	case "", "object":
		return nil
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("tool: parameter %q must be a string", name)
		}
	case "number", "integer":
		switch value.(type) {
		case float64, float32, int, int32, int64, json.Number:
		default:
			return fmt.Errorf("tool: parameter %q must be a number", name)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("tool: parameter %q must be a boolean", name)
		}
	case "array":
		items, ok := value.([]any)
		if !ok {
			return fmt.Errorf("tool: parameter %q must be an array", name)
		}
		itemProp, _ := prop["items"].(map[string]any)
		if itemProp != nil {
			for i, item := range items {
				if err := validateValue(fmt.Sprintf("%s[%d]", name, i), item, itemProp); err != nil {
					return err
				}
			}
		}
	default:
		return nil
	}

	if enum, ok := prop["enum"].([]any); ok && len(enum) > 0 {
		for _, allowed := range enum {
			if allowed == value {
				return nil
			}
		}
		return fmt.Errorf("tool: parameter %q not in enum", name)
	}
	return nil
}
