package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/triggerflow/pkg/schema"
)

const (
	bundleSchemaURL        = "https://triggerflow.dev/schemas/bundle.json"
	triggerConfigSchemaURL = "https://triggerflow.dev/schemas/trigger-config.json"
)

// triggerConfigSchemaJSON is the JSON Schema for a trigger_config blob.
const triggerConfigSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://triggerflow.dev/schemas/trigger-config.json",
  "type": "object",
  "properties": {
    "operations": {
      "type": "array",
      "items": { "type": "string", "enum": ["create", "update", "delete"] },
      "minItems": 1,
      "uniqueItems": true
    }
  }
}`

// bundleSchemaJSON is the JSON Schema for a DefinitionBundle import file.
// Step types are free-form strings: unknown kinds are accepted and run as no-ops.
const bundleSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://triggerflow.dev/schemas/bundle.json",
  "type": "object",
  "required": ["workflows"],
  "properties": {
    "workflows": {
      "type": "array",
      "items": { "$ref": "#/$defs/workflow" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "workflow": {
      "type": "object",
      "required": ["name", "steps"],
      "properties": {
        "id": { "type": "string" },
        "name": { "type": "string", "minLength": 1 },
        "enabled": { "type": "boolean" },
        "configuration": { "type": ["object", "null"] },
        "steps": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/step" }
        },
        "triggers": {
          "type": ["array", "null"],
          "items": { "$ref": "#/$defs/trigger" }
        }
      },
      "additionalProperties": false
    },
    "step": {
      "type": "object",
      "required": ["position", "type"],
      "properties": {
        "id": { "type": "string" },
        "position": { "type": "integer" },
        "type": { "type": "string", "minLength": 1 },
        "params": { "type": ["object", "null"] }
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["trigger_type", "trigger_source_id"],
      "properties": {
        "id": { "type": "string" },
        "trigger_type": { "type": "string", "enum": ["form_submission", "database_change"] },
        "trigger_source_id": { "type": "string", "minLength": 1 },
        "trigger_config": {
          "anyOf": [
            { "type": "null" },
            { "$ref": "https://triggerflow.dev/schemas/trigger-config.json" }
          ]
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates definition bundles, trigger configs and step
// parameters using JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	bundleSchema        *jsonschema.Schema
	triggerConfigSchema *jsonschema.Schema

	// mu guards the cache for dynamically compiled parameter schemas.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the bundle and
// trigger config schemas pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newInputCompiler()

	for url, src := range map[string]string{
		triggerConfigSchemaURL: triggerConfigSchemaJSON,
		bundleSchemaURL:        bundleSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	bundle, err := c.Compile(bundleSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile bundle schema: %w", err)
	}
	triggerCfg, err := c.Compile(triggerConfigSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile trigger config schema: %w", err)
	}

	return &JSONSchemaValidator{
		bundleSchema:        bundle,
		triggerConfigSchema: triggerCfg,
		cache:               make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateBundle checks the structure of a definition bundle.
func (v *JSONSchemaValidator) ValidateBundle(bundle *schema.DefinitionBundle) error {
	if bundle == nil {
		return schema.NewError(schema.ErrCodeValidation, "definition bundle is nil")
	}

	doc, err := toJSONValue(bundle)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize definition bundle").WithCause(err)
	}
	if err := v.bundleSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateTriggerConfig checks a raw trigger_config blob. Empty or null is valid.
func (v *JSONSchemaValidator) ValidateTriggerConfig(raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "trigger_config is not valid JSON").WithCause(err)
	}
	if err := v.triggerConfigSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}
	return nil
}

// ValidateInput validates step parameters against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "params are nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid params schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize params").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toFlowError(err)
	}

	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("triggerflow://params-schema/%d", len(v.cache))

	// Use a fresh compiler per dynamic schema to avoid resource collision.
	c := newInputCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// newInputCompiler creates a Compiler configured for input/output validation.
func newInputCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError
// with clear, actionable messages for agent consumption.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
