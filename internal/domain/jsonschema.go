package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// JSONSchema is a compiled payload contract. The zero value accepts any payload.
type JSONSchema struct {
	raw      json.RawMessage
	compiled *jsonschema.Schema
}

func NewJSONSchema(raw json.RawMessage) (JSONSchema, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return JSONSchema{}, Invalid("json_schema", "must not be empty")
	}
	compiled, err := jsonschema.CompileString("schema.json", string(raw))
	if err != nil {
		return JSONSchema{}, Invalid("json_schema", "%v", err)
	}
	return JSONSchema{raw: append(json.RawMessage(nil), raw...), compiled: compiled}, nil
}

func (s JSONSchema) Raw() json.RawMessage { return s.raw }

func (s JSONSchema) IsZero() bool { return s.compiled == nil }

// Validate checks payload against the schema and reports violations as a ValidationError.
func (s JSONSchema) Validate(payload json.RawMessage) error {
	if s.compiled == nil {
		return nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return Invalid("payload", "is not valid JSON: %v", err)
	}
	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate payload: %w", err)
	}
	out := &ValidationError{}
	for _, leaf := range leaves(ve) {
		field := "payload"
		if leaf.InstanceLocation != "" {
			field = "payload" + leaf.InstanceLocation
		}
		out.Fields = append(out.Fields, FieldError{Field: field, Message: leaf.Message})
	}
	return out
}

func leaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, leaves(c)...)
	}
	return out
}

func (s JSONSchema) MarshalJSON() ([]byte, error) {
	if len(s.raw) == 0 {
		return []byte("null"), nil
	}
	return s.raw, nil
}

func (s *JSONSchema) UnmarshalJSON(b []byte) error {
	v, err := NewJSONSchema(b)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
