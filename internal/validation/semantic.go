package validation

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rendis/triggerflow/pkg/schema"
)

// validateSemantic checks what the bundle schema cannot express: duplicate ids,
// step params against each step kind's schema, trigger config contents.
func validateSemantic(bundle *schema.DefinitionBundle, jsv *JSONSchemaValidator, lookup StepLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	workflowIDs := make(map[string]bool, len(bundle.Workflows))
	for i := range bundle.Workflows {
		wf := &bundle.Workflows[i]
		path := fmt.Sprintf("workflows[%d]", i)

		if wf.ID != "" {
			if workflowIDs[wf.ID] {
				result.AddError(path+".id", schema.ErrCodeConflict,
					fmt.Sprintf("duplicate workflow id %q", wf.ID))
			}
			workflowIDs[wf.ID] = true
		}

		validateSteps(wf, path, jsv, lookup, result)
		validateTriggers(wf, path, jsv, result)
	}

	return result
}

func validateSteps(wf *schema.WorkflowDefinition, path string, jsv *JSONSchemaValidator, lookup StepLookup, result *schema.ValidationResult) {
	if len(wf.Steps) == 0 {
		result.AddWarning(path+".steps", schema.ErrCodeValidation, "workflow has no steps")
	}

	positions := make(map[int]bool, len(wf.Steps))
	stepIDs := make(map[string]bool, len(wf.Steps))
	for j := range wf.Steps {
		step := &wf.Steps[j]
		stepPath := fmt.Sprintf("%s.steps[%d]", path, j)

		if step.ID != "" {
			if stepIDs[step.ID] {
				result.AddError(stepPath+".id", schema.ErrCodeConflict,
					fmt.Sprintf("duplicate step id %q", step.ID))
			}
			stepIDs[step.ID] = true
		}

		if positions[step.Position] {
			result.AddWarning(stepPath+".position", schema.ErrCodeValidation,
				fmt.Sprintf("position %d is shared with an earlier step; declaration order breaks the tie", step.Position))
		}
		positions[step.Position] = true

		if lookup == nil {
			continue
		}
		paramsSchema, ok := lookup.ParamsSchema(step.Type)
		if !ok {
			result.AddWarning(stepPath+".type", schema.ErrCodeValidation,
				fmt.Sprintf("unknown step type %q will be skipped at run time", step.Type))
			continue
		}
		validateParams(step.Type, step.Params, paramsSchema, stepPath+".params", jsv, lookup, result)
	}
}

func validateParams(stepType schema.StepType, raw json.RawMessage, paramsSchema json.RawMessage, path string, jsv *JSONSchemaValidator, lookup StepLookup, result *schema.ValidationResult) {
	params := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &params); err != nil {
			result.AddError(path, schema.ErrCodeValidation, "params must be a JSON object")
			return
		}
	}

	// Placeholders are resolved at run time, so only the shape is checked here.
	if err := jsv.ValidateInput(params, paramsSchema); err != nil {
		addFlowError(result, path, err)
		return
	}
	// The step kind's own rules, e.g. that a named e-mail template exists.
	if checker, ok := lookup.(StepChecker); ok {
		if err := checker.CheckParams(stepType, params); err != nil {
			addFlowError(result, path, err)
		}
	}
}

func validateTriggers(wf *schema.WorkflowDefinition, path string, jsv *JSONSchemaValidator, result *schema.ValidationResult) {
	seen := make(map[string]bool, len(wf.Triggers))
	for j := range wf.Triggers {
		tr := &wf.Triggers[j]
		trPath := fmt.Sprintf("%s.triggers[%d]", path, j)

		key := string(tr.Type) + "/" + tr.SourceID
		if seen[key] {
			result.AddWarning(trPath, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate %s trigger for source %q runs the workflow twice per event", tr.Type, tr.SourceID))
		}
		seen[key] = true

		if len(tr.Config) == 0 || string(tr.Config) == "null" {
			continue
		}
		if err := jsv.ValidateTriggerConfig(tr.Config); err != nil {
			addFlowError(result, trPath+".trigger_config", err)
			continue
		}
		if tr.Type == schema.TriggerFormSubmission {
			result.AddWarning(trPath+".trigger_config", schema.ErrCodeValidation,
				"trigger_config is ignored for form_submission triggers")
		}
	}
}

// addFlowError flattens a validator error into result issues.
func addFlowError(result *schema.ValidationResult, path string, err error) {
	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	if violations, ok := fe.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError(path, fe.Code, v)
		}
		return
	}
	result.AddError(path, fe.Code, fe.Message)
}
