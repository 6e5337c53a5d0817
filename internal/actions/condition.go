package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/pkg/schema"
)

var conditionSchema = json.RawMessage(`{
  "type": "object",
  "required": ["field", "operator", "value"],
  "properties": {
    "field": { "type": "string", "minLength": 1 },
    "operator": { "enum": ["equals", "not_equals", "contains", "greater_than", "less_than"] },
    "value": { "type": ["string", "number", "boolean"] }
  }
}`)

// ConditionAction evaluates ctx[field] <operator> value and records the result.
// The result never changes which steps run.
type ConditionAction struct {
	cmp    *expressions.Comparator
	interp *expressions.Interpolator
}

// NewConditionAction creates the condition action.
func NewConditionAction(cmp *expressions.Comparator, interp *expressions.Interpolator) *ConditionAction {
	return &ConditionAction{cmp: cmp, interp: interp}
}

func (a *ConditionAction) Type() schema.StepType { return schema.StepTypeCondition }

func (a *ConditionAction) Schema() ActionSchema {
	return ActionSchema{
		ParamsSchema: conditionSchema,
		Description:  "Compare a context field with a value and log the result",
	}
}

func (a *ConditionAction) Validate(params map[string]any) error {
	if strings.TrimSpace(stringParam(params, "field", "")) == "" {
		return schema.NewError(schema.ErrCodeValidation, "condition requires 'field'")
	}
	op := stringParam(params, "operator", "")
	if !a.cmp.Supports(op) {
		return schema.NewErrorf(schema.ErrCodeValidation, "condition: unknown operator %q", op).
			WithDetails(map[string]any{"supported": expressions.Operators()})
	}
	if _, ok := params["value"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "condition requires 'value'")
	}
	return nil
}

func (a *ConditionAction) Execute(_ context.Context, input ActionInput) (*ActionOutput, error) {
	field := strings.TrimSpace(stringParam(input.Params, "field", ""))
	op := stringParam(input.Params, "operator", "")

	value := input.Params["value"]
	if s, ok := value.(string); ok {
		value = a.interp.Interpolate(s, input.Context)
	}
	left, _ := expressions.Lookup(input.Context, field)

	result, err := a.cmp.Compare(op, left, value)
	if err != nil {
		return nil, err
	}

	return &ActionOutput{
		Logs: []string{fmt.Sprintf("Condition %s %s %s: %t", field, op, expressions.Stringify(value), result)},
		Set:  map[string]any{contextKey("condition", input.StepID, "result"): result},
	}, nil
}
