package types

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// SchemaType is a JSON Schema primitive type.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema is the subset of JSON Schema used for tool and handoff parameters.
type JSONSchema struct {
	Type        SchemaType `json:"type,omitempty"`
	Description string     `json:"description,omitempty"`

	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`

	Items *JSONSchema `json:"items,omitempty"`
	Enum  []any       `json:"enum,omitempty"`
}

func NewObjectSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeObject, Properties: map[string]*JSONSchema{}}
}

func NewStringSchema() *JSONSchema { return &JSONSchema{Type: SchemaTypeString} }

func NewNumberSchema() *JSONSchema { return &JSONSchema{Type: SchemaTypeNumber} }

// NewEnumSchema creates a string enum schema.
func NewEnumSchema(values ...string) *JSONSchema {
	s := &JSONSchema{Type: SchemaTypeString, Enum: make([]any, len(values))}
	for i, v := range values {
		s.Enum[i] = v
	}
	return s
}

func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = map[string]*JSONSchema{}
	}
	s.Properties[name] = prop
	return s
}

// AddRequired marks fields as required, skipping ones already listed.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	for _, n := range names {
		if !s.IsRequired(n) {
			s.Required = append(s.Required, n)
		}
	}
	return s
}

func (s *JSONSchema) IsRequired(name string) bool { return slices.Contains(s.Required, name) }

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// Clone returns a deep copy.
func (s *JSONSchema) Clone() *JSONSchema {
	if s == nil {
		return nil
	}
	out := *s
	if s.Properties != nil {
		out.Properties = make(map[string]*JSONSchema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = v.Clone()
		}
	}
	out.Required = slices.Clone(s.Required)
	out.Items = s.Items.Clone()
	out.Enum = slices.Clone(s.Enum)
	if s.AdditionalProperties != nil {
		v := *s.AdditionalProperties
		out.AdditionalProperties = &v
	}
	return &out
}

func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// Check validates v, as produced by json.Unmarshal, against the schema:
// types, enums, required fields and array items. Undeclared properties are
// rejected only when additionalProperties is false.
func (s *JSONSchema) Check(v any) error {
	return s.check("", v)
}

func (s *JSONSchema) check(path string, v any) error {
	at := path
	if at == "" {
		at = "value"
	}
	if !s.matchesType(v) {
		return fmt.Errorf("%s must be %s", at, s.Type)
	}
	if len(s.Enum) > 0 && !s.allows(v) {
		return fmt.Errorf("%s must be one of %v", at, s.Enum)
	}

	switch val := v.(type) {
	case map[string]any:
		for _, name := range s.Required {
			if _, ok := val[name]; !ok {
				return fmt.Errorf("missing required field %q", join(path, name))
			}
		}
		for name, field := range val {
			prop, ok := s.Properties[name]
			if !ok {
				if s.AdditionalProperties != nil && !*s.AdditionalProperties {
					return fmt.Errorf("unexpected field %q", join(path, name))
				}
				continue
			}
			if err := prop.check(join(path, name), field); err != nil {
				return err
			}
		}
	case []any:
		if s.Items == nil {
			return nil
		}
		for i, item := range val {
			if err := s.Items.check(fmt.Sprintf("%s[%d]", at, i), item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *JSONSchema) matchesType(v any) bool {
	switch s.Type {
	case "":
		return true
	case SchemaTypeString:
		_, ok := v.(string)
		return ok
	case SchemaTypeNumber:
		_, ok := v.(float64)
		return ok
	case SchemaTypeInteger:
		f, ok := v.(float64)
		return ok && f == math.Trunc(f)
	case SchemaTypeBoolean:
		_, ok := v.(bool)
		return ok
	case SchemaTypeObject:
		_, ok := v.(map[string]any)
		return ok
	case SchemaTypeArray:
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

// allows compares scalars only; maps and slices never match an enum.
func (s *JSONSchema) allows(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return false
	}
	return slices.Contains(s.Enum, v)
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
