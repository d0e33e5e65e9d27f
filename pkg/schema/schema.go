// Package schema compiles JSON schemas and validates JSON values against them.
package schema

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/jsonschema-go/jsonschema"
)

// ValidationError reports a value that does not satisfy a schema.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Schema is a compiled JSON schema. It is immutable and safe for concurrent
// use.
type Schema struct {
	raw      json.RawMessage
	resolved *jsonschema.Resolved
}

// FromJSON compiles a schema from its JSON text.
func FromJSON(data []byte) (*Schema, error) {
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}

	resolved, err := s.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("schema: resolve: %w", err)
	}

	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("schema: parse: %w", err)
	}

	return &Schema{raw: raw, resolved: resolved}, nil
}

// FromValue compiles a schema from a JSON-encodable value, typically a
// map[string]any decoded from a request body.
func FromValue(v any) (*Schema, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("schema: encode: %w", err)
	}

	return FromJSON(data)
}

// FromPath reads and compiles the schema stored at path.
func FromPath(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read %s: %w", path, err)
	}

	s, err := FromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s)", err, path)
	}

	return s, nil
}

// Validate checks instance against the schema. Instances are normalized
// through their JSON encoding first, so structs and typed maps are accepted.
func (s *Schema) Validate(instance any) error {
	data, err := json.Marshal(instance)
	if err != nil {
		return &ValidationError{Err: err}
	}

	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return &ValidationError{Err: err}
	}

	if err := s.resolved.Validate(v); err != nil {
		return &ValidationError{Err: err}
	}

	return nil
}

// JSON returns the schema's original JSON text.
func (s *Schema) JSON() json.RawMessage {
	return s.raw
}

// MarshalJSON implements json.Marshaler.
func (s *Schema) MarshalJSON() ([]byte, error) {
	if s == nil || len(s.raw) == 0 {
		return []byte("null"), nil
	}

	return s.raw, nil
}
