package tool

import (
	"errors"
	"fmt"
	"strings"
)

// JSONSchema captures the subset of JSON Schema we require for tool inputs.
type JSONSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
	Enum       []any          `json:"enum,omitempty"`
	Items      *JSONSchema    `json:"items,omitempty"`
}

// Validate asserts that the schema itself is well formed. The registry calls
// this at registration time so malformed tools fail fast.
func (s *JSONSchema) Validate() error {
	if s == nil {
		return nil
	}
	if strings.TrimSpace(s.Type) == "" {
		return errors.New("tool: schema missing type")
	}
	if s.Type == "object" {
		for _, name := range s.Required {
			if _, ok := s.Properties[name]; !ok {
				return fmt.Errorf("tool: required property %q not declared", name)
			}
		}
		for name, prop := range s.Properties {
			if _, ok := prop.(map[string]any); !ok {
				return fmt.Errorf("tool: property %q is not an object", name)
			}
		}
	}
	return nil
}

// ObjectSchema is a convenience constructor for the common object shape.
func ObjectSchema(properties map[string]any, required ...string) *JSONSchema {
	return &JSONSchema{Type: "object", Properties: properties, Required: required}
}

// StringProp builds a string property descriptor.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}

// NumberProp builds a number property descriptor.
func NumberProp(description string) map[string]any {
	return map[string]any{"type": "number", "description": description}
}

// BoolProp builds a boolean property descriptor.
func BoolProp(description string) map[string]any {
	return map[string]any{"type": "boolean", "description": description}
}

// ArrayProp builds an array property descriptor.
func ArrayProp(description string, items map[string]any) map[string]any {
	return map[string]any{"type": "array", "description": description, "items": items}
}
