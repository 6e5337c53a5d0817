package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/pkg/schema"
)

func newConditionAction() *ConditionAction {
	return NewConditionAction(expressions.MustComparator(), expressions.NewInterpolator())
}

func TestCondition_GreaterThanLogsResult(t *testing.T) {
	a := newConditionAction()
	params := map[string]any{"field": "age", "operator": "greater_than", "value": "18"}

	out, err := a.Execute(context.Background(), ActionInput{StepID: "c1", Params: params, Context: map[string]any{"age": float64(20)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Condition age greater_than 18: true"}, out.Logs)
	assert.Equal(t, true, out.Set["condition_c1_result"])

	out, err = a.Execute(context.Background(), ActionInput{StepID: "c1", Params: params, Context: map[string]any{"age": float64(10)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Condition age greater_than 18: false"}, out.Logs)
	assert.Equal(t, false, out.Set["condition_c1_result"])
}

func TestCondition_InterpolatesValueAndNestedField(t *testing.T) {
	a := newConditionAction()
	out, err := a.Execute(context.Background(), ActionInput{
		StepID:  "c1",
		Params:  map[string]any{"field": "user.plan", "operator": "equals", "value": "{{expected}}"},
		Context: map[string]any{"user": map[string]any{"plan": "gold"}, "expected": "gold"},
	})
	require.NoError(t, err)
	assert.Equal(t, true, out.Set["condition_c1_result"])
}

func TestCondition_NonNumericOperandFails(t *testing.T) {
	a := newConditionAction()
	_, err := a.Execute(context.Background(), ActionInput{
		Params:  map[string]any{"field": "age", "operator": "less_than", "value": "18"},
		Context: map[string]any{"age": "unknown"},
	})
	requireFlowCode(t, err, schema.ErrCodeValidation)
}

func TestCondition_Validate(t *testing.T) {
	a := newConditionAction()
	assert.NoError(t, a.Validate(map[string]any{"field": "a", "operator": "contains", "value": "x"}))
	requireFlowCode(t, a.Validate(map[string]any{"operator": "equals", "value": "x"}), schema.ErrCodeValidation)
	requireFlowCode(t, a.Validate(map[string]any{"field": "a", "operator": "matches", "value": "x"}), schema.ErrCodeValidation)
	requireFlowCode(t, a.Validate(map[string]any{"field": "a", "operator": "equals"}), schema.ErrCodeValidation)
}
