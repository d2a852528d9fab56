package tenantconfig

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// CompiledSchema validates finalize_reservation arguments against the
// per-tenant answers schema, ahead of the Finalizer's own per-field
// coercion.
type CompiledSchema struct {
	schema *jsonschema.Schema
}

// Compile builds a jsonschema.Schema from the Loader's generated schema map.
func Compile(schemaMap map[string]interface{}) (*CompiledSchema, error) {
	raw, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: marshal schema: %w", err)
	}

	const resourceURL = "finalize_reservation.json"

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tenantconfig: add schema resource: %w", err)
	}

	schema, err := compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("tenantconfig: compile schema: %w", err)
	}

	return &CompiledSchema{schema: schema}, nil
}

// Validate checks a decoded JSON value (as produced by json.Unmarshal into
// interface{}) against the compiled schema.
func (c *CompiledSchema) Validate(v interface{}) error {
	if err := c.schema.Validate(v); err != nil {
		return fmt.Errorf("tenantconfig: schema validation: %w", err)
	}
	return nil
}
