package actions

import (
	"context"
	"encoding/json"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Action executes one kind of workflow step.
// Execute must not mutate input.Context; mutations are returned in ActionOutput.Set
// and applied by the runner once the step succeeds.
type Action interface {
	Type() schema.StepType
	Schema() ActionSchema
	Execute(ctx context.Context, input ActionInput) (*ActionOutput, error)
	Validate(params map[string]any) error
}

// ActionSchema describes the parameter contract of an action.
type ActionSchema struct {
	ParamsSchema json.RawMessage `json:"params_schema,omitempty"`
	Description  string          `json:"description,omitempty"`
}

// ActionInput is the data provided to an action at execution time.
type ActionInput struct {
	StepID  string         `json:"step_id"`
	OwnerID string         `json:"owner_id"`
	Params  map[string]any `json:"params"`
	Context map[string]any `json:"context,omitempty"`
}

// ActionOutput is the result of a successful step.
type ActionOutput struct {
	Logs []string       `json:"logs,omitempty"`
	Set  map[string]any `json:"set,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Type        schema.StepType `json:"type"`
	Description string          `json:"description,omitempty"`
}

// contextKey builds the per-step context keys, e.g. email_<step>_sent.
func contextKey(prefix, stepID, suffix string) string {
	return prefix + "_" + stepID + "_" + suffix
}
