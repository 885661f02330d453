package actions

import (
	"encoding/json"
	"fmt"

	"github.com/jobengine/worker-core/internal/errs"
	"github.com/xeipuuv/gojsonschema"
)

// Schema validates an untyped payload into a typed value, or rejects it
// with a structured error. Implementations may wrap a runtime JSON-schema
// library (as JSONSchema does below) or a statically generated validator.
type Schema interface {
	Validate(raw json.RawMessage) (map[string]any, error)
}

// JSONSchema validates against a JSON Schema document, compiled once at
// registration time the way the teacher's payload-validation tooling
// precompiles a gojsonschema.Schema instead of reparsing it per call.
type JSONSchema struct {
	compiled *gojsonschema.Schema
}

// NewJSONSchema compiles schemaJSON (a JSON Schema document) once.
func NewJSONSchema(schemaJSON []byte) (*JSONSchema, error) {
	loader := gojsonschema.NewBytesLoader(schemaJSON)
	compiled, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("actions: compile schema: %w", err)
	}
	return &JSONSchema{compiled: compiled}, nil
}

// Validate checks raw against the compiled schema and, on success,
// returns it decoded into a map.
func (s *JSONSchema) Validate(raw json.RawMessage) (map[string]any, error) {
	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errs.New(errs.ValidationError, "schema evaluation failed: %v", err)
	}
	if !result.Valid() {
		vf := &errs.ValidationFailure{}
		for _, re := range result.Errors() {
			vf.Fields = append(vf.Fields, errs.FieldError{
				Field:   re.Field(),
				Message: re.Description(),
			})
		}
		return nil, vf
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.New(errs.ValidationError, "decode validated payload: %v", err)
	}
	return out, nil
}

// NoSchema accepts any payload unchanged, for actions that take no
// structured input beyond the action name.
type NoSchema struct{}

func (NoSchema) Validate(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errs.New(errs.ValidationError, "decode payload: %v", err)
	}
	return out, nil
}
