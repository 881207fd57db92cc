package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// SchemaValidator compiles and caches JSON Schemas and validates tool
// arguments and results against them. It is safe for concurrent use.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*gojsonschema.Schema
}

// NewSchemaValidator creates an empty validator cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*gojsonschema.Schema)}
}

// ValidateArgs validates tool arguments against the input schema.
func (sv *SchemaValidator) ValidateArgs(d *Descriptor, args json.RawMessage) error {
	return sv.validate(d, d.InputSchema, args, "args_invalid")
}

// ValidateResult validates a tool result against the output schema.
func (sv *SchemaValidator) ValidateResult(d *Descriptor, result json.RawMessage) error {
	return sv.validate(d, d.OutputSchema, result, "result_invalid")
}

// validate checks one document against one schema. A nil document validates
// as an empty object so tools without arguments need no placeholder.
func (sv *SchemaValidator) validate(d *Descriptor, schemaJSON, doc json.RawMessage, kind string) error {
	schema, err := sv.compile(schemaJSON)
	if err != nil {
		return fmt.Errorf("tools: invalid schema for %s: %w", d.QualifiedName(), err)
	}

	if len(doc) == 0 {
		doc = json.RawMessage(`{}`)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("tools: validate %s: %w", d.QualifiedName(), err)
	}
	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ValidationError{
		Type:   kind,
		Tool:   d.QualifiedName(),
		Detail: strings.Join(details, "; "),
	}
}

// compile returns the cached compiled schema, compiling on first use.
func (sv *SchemaValidator) compile(schemaJSON json.RawMessage) (*gojsonschema.Schema, error) {
	key := string(schemaJSON)

	sv.mu.Lock()
	defer sv.mu.Unlock()
	if schema, ok := sv.cache[key]; ok {
		return schema, nil
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(key))
	if err != nil {
		return nil, err
	}
	sv.cache[key] = schema
	return schema, nil
}
