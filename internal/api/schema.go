package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"slicesim/internal/telemetry"
)

//go:embed schemas/create_simulation.json
var schemaFS embed.FS

const createSchemaURL = "create_simulation.json"

func compileCreateSchema() (*jsonschema.Schema, error) {
	raw, err := schemaFS.ReadFile("schemas/" + createSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(createSchemaURL, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(createSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// decodeCreate validates raw against the create schema and decodes it. Schema
// failures are reported as ValidationErrors naming the offending field.
func decodeCreate(schema *jsonschema.Schema, raw []byte) (telemetry.SimulationConfig, error) {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return telemetry.SimulationConfig{}, &telemetry.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	if err := schema.Validate(payload); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return telemetry.SimulationConfig{}, schemaViolation(verr)
		}
		return telemetry.SimulationConfig{}, err
	}
	var cfg telemetry.SimulationConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return telemetry.SimulationConfig{}, &telemetry.ValidationError{Field: "body", Reason: err.Error()}
	}
	return cfg, nil
}

// schemaViolation reports the first leaf cause of a schema failure.
func schemaViolation(verr *jsonschema.ValidationError) *telemetry.ValidationError {
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if field == "" && strings.HasSuffix(leaf.KeywordLocation, "/required") {
		field = missingProperty(leaf.Message)
	}
	if field == "" {
		field = "body"
	}
	return &telemetry.ValidationError{Field: field, Reason: leaf.Message}
}

// missingProperty extracts the first name from a "missing properties: 'a', 'b'"
// message.
func missingProperty(msg string) string {
	_, list, ok := strings.Cut(msg, ":")
	if !ok {
		return ""
	}
	first, _, _ := strings.Cut(list, ",")
	return strings.Trim(strings.TrimSpace(first), "'")
}
