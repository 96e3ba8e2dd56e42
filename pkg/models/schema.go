package models

import "fmt"

// SchemaFieldType enumerates the value types a schema field may declare.
type SchemaFieldType string

const (
	SchemaFieldTypeString  SchemaFieldType = "string"
	SchemaFieldTypeBoolean SchemaFieldType = "boolean"
	SchemaFieldTypeNumber  SchemaFieldType = "number"
	SchemaFieldTypeArray   SchemaFieldType = "array"
	SchemaFieldTypeObject  SchemaFieldType = "object"
)

// SimpleSchema declares the shape of a workflow's params or state: a flat list
// of typed fields with optional defaults and string enumerations.
type SimpleSchema struct {
	Schema []SchemaField `json:"schema" yaml:"schema" validate:"dive"`
}

// SchemaField is one declared variable of a params or state schema.
type SchemaField struct {
	Name        string          `json:"name"                  yaml:"name" validate:"required"`
	Type        SchemaFieldType `json:"type"                  yaml:"type" validate:"required,oneof=string boolean number array object"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool            `json:"required,omitempty"    yaml:"required,omitempty"`
	Default     any             `json:"default,omitempty"     yaml:"default,omitempty"`
	Enum        []string        `json:"enum,omitempty"        yaml:"enum,omitempty"`
}

// ApplyDefaults returns a copy of the given values with schema defaults filled
// in for absent fields. A nil schema passes values through untouched.
func (s *SimpleSchema) ApplyDefaults(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))

	for k, v := range values {
		out[k] = v
	}

	if s == nil {
		return out
	}

	for _, field := range s.Schema {
		if _, ok := out[field.Name]; ok {
			continue
		}

		if field.Default != nil {
			out[field.Name] = field.Default
		}
	}

	return out
}

// Check validates the given values against the schema: required fields must be
// present and enum-constrained strings must hold one of the allowed values.
func (s *SimpleSchema) Check(values map[string]any) error {
	if s == nil {
		return nil
	}

	for _, field := range s.Schema {
		value, ok := values[field.Name]
		if !ok {
			if field.Required {
				return fmt.Errorf("missing required field %q", field.Name)
			}

			continue
		}

		if len(field.Enum) > 0 {
			str, isString := value.(string)
			if !isString {
				return fmt.Errorf("field %q: enum constraint requires a string, got %T", field.Name, value)
			}

			allowed := false

			for _, candidate := range field.Enum {
				if candidate == str {
					allowed = true

					break
				}
			}

			if !allowed {
				return fmt.Errorf("field %q: value %q is not one of %v", field.Name, str, field.Enum)
			}
		}
	}

	return nil
}
