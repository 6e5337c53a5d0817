package validation

import (
	"errors"

	"github.com/rendis/triggerflow/pkg/schema"
)

// BundleValidator orchestrates the two-stage validation pipeline for imports:
// 1. Structural (JSON Schema)
// 2. Semantic (step kinds, step params, trigger configs, duplicates)
type BundleValidator struct {
	jsonSchema *JSONSchemaValidator
	steps      StepLookup
}

// NewBundleValidator creates a BundleValidator.
// lookup may be nil to skip step parameter checks.
func NewBundleValidator(lookup StepLookup) (*BundleValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &BundleValidator{
		jsonSchema: jsv,
		steps:      lookup,
	}, nil
}

// Validate runs the pipeline and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (bv *BundleValidator) Validate(bundle *schema.DefinitionBundle) *schema.ValidationResult {
	if bundle == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "definition bundle is nil")
		return r
	}

	result := validateStructural(bv.jsonSchema, bundle)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(bundle, bv.jsonSchema, bv.steps))
	return result
}

// ValidateBundle satisfies the Validator interface.
func (bv *BundleValidator) ValidateBundle(bundle *schema.DefinitionBundle) error {
	return bv.Validate(bundle).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (bv *BundleValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return bv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateBundle, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, bundle *schema.DefinitionBundle) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateBundle(bundle)
	if err == nil {
		return result
	}

	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, fe.Message)
	return result
}
