package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/triggerflow/internal/actions"
	"github.com/rendis/triggerflow/internal/logging"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/internal/validation"
	"github.com/rendis/triggerflow/pkg/schema"
)

// ManualTrigger is recorded as trigger_type when a run is not started by an event.
const ManualTrigger = "manual"

// RunResult is the outcome of one workflow run. Step failures are reported
// here, never as a Go error.
type RunResult struct {
	ExecutionID string                 `json:"execution_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Status      schema.ExecutionStatus `json:"status"`
	Success     bool                   `json:"success"`
	Logs        []string               `json:"logs"`
	Error       string                 `json:"error,omitempty"`
}

// Runner executes a workflow's steps in position order for one owner.
type Runner struct {
	ownerID   string
	store     store.Store
	registry  *actions.Registry
	validator validation.Validator
	fsm       *ExecutionFSM
	logger    *slog.Logger
	now       func() time.Time
}

// Run loads an enabled workflow and executes it with seed as the initial
// context. Lookup failures return an error and create no execution record.
func (r *Runner) Run(ctx context.Context, workflowID string, seed map[string]any) (*RunResult, error) {
	wf, err := r.store.GetWorkflow(ctx, r.ownerID, workflowID)
	if err != nil {
		return nil, err
	}
	if !wf.Enabled {
		return nil, schema.NewErrorf(schema.ErrCodeWorkflowDisabled, "workflow %s is disabled", wf.ID).
			WithDetails(map[string]any{"workflow_id": wf.ID})
	}
	return r.execute(ctx, wf, seed)
}

// execute records an execution for an already resolved workflow and drives it
// to a terminal status.
func (r *Runner) execute(ctx context.Context, wf *store.Workflow, seed map[string]any) (*RunResult, error) {
	ctx = logging.WithOwnerID(ctx, r.ownerID)
	ctx = logging.WithWorkflowID(ctx, wf.ID)

	triggerType := ManualTrigger
	if s, ok := seed["trigger_type"].(string); ok && s != "" {
		triggerType = s
	}

	exec := &store.WorkflowExecution{
		ID:          uuid.New().String(),
		WorkflowID:  wf.ID,
		OwnerID:     r.ownerID,
		Status:      schema.ExecutionRunning,
		TriggerType: triggerType,
		TriggerData: cloneMap(seed),
		Logs:        []string{},
		StartedAt:   r.now(),
	}
	if err := r.store.InsertExecution(ctx, exec); err != nil {
		return nil, err
	}
	ctx = logging.WithExecutionID(ctx, exec.ID)
	r.logger.InfoContext(ctx, "execution started", slog.String("trigger_type", triggerType))

	logs, runErr := r.runSteps(ctx, wf, cloneMap(seed))

	res := &RunResult{ExecutionID: exec.ID, WorkflowID: wf.ID}
	if runErr != nil {
		res.Status = schema.ExecutionFailed
		res.Error = errorText(runErr)
		logs = append(logs, "Workflow failed: "+res.Error)
	} else {
		res.Status = schema.ExecutionCompleted
		res.Success = true
		logs = append(logs, "Workflow completed successfully")
	}
	res.Logs = logs

	r.finish(ctx, exec.ID, res)
	return res, nil
}

func (r *Runner) runSteps(ctx context.Context, wf *store.Workflow, runCtx map[string]any) ([]string, error) {
	logs := []string{}

	steps, err := r.store.ListStepsOrdered(ctx, r.ownerID, wf.ID)
	if err != nil {
		return logs, err
	}
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Position < steps[j].Position })

	for i, step := range steps {
		n := i + 1
		if err := ctx.Err(); err != nil {
			return logs, contextError(err, fmt.Sprintf("run stopped before step %d", n))
		}
		logs = append(logs, fmt.Sprintf("Executing step %d: %s", n, step.Type))

		action, err := r.registry.Get(step.Type)
		if err != nil {
			logs = append(logs, fmt.Sprintf("Unknown step type: %s, skipping", step.Type))
			continue
		}

		stepCtx := logging.WithStepID(ctx, step.ID)
		out, err := r.runStep(stepCtx, action, step, runCtx)
		if err != nil {
			r.logger.WarnContext(stepCtx, "step failed", slog.String("type", string(step.Type)), slog.String("error", err.Error()))
			logs = append(logs, fmt.Sprintf("Step %d (%s) failed: %s", n, step.Type, errorText(err)))
			return logs, err
		}
		if out != nil {
			logs = append(logs, out.Logs...)
			for k, v := range out.Set {
				runCtx[k] = v
			}
		}
	}
	return logs, nil
}

func (r *Runner) runStep(ctx context.Context, action actions.Action, step *store.WorkflowStep, runCtx map[string]any) (out *actions.ActionOutput, err error) {
	params := map[string]any{}
	if len(step.Params) > 0 {
		if err := json.Unmarshal(step.Params, &params); err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "step params are not a JSON object").
				WithStep(step.ID).WithCause(err)
		}
		if params == nil {
			params = map[string]any{}
		}
	}

	if ps := action.Schema().ParamsSchema; len(ps) > 0 && r.validator != nil {
		if err := r.validator.ValidateInput(params, ps); err != nil {
			return nil, withStep(err, step.ID)
		}
	}
	if err := action.Validate(params); err != nil {
		return nil, withStep(err, step.ID)
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = nil
			err = schema.NewErrorf(schema.ErrCodeExecution, "step panicked: %v", rec).WithStep(step.ID)
		}
	}()

	out, err = action.Execute(ctx, actions.ActionInput{
		StepID:  step.ID,
		OwnerID: r.ownerID,
		Params:  params,
		Context: runCtx,
	})
	if err != nil {
		return nil, withStep(err, step.ID)
	}
	return out, nil
}

// finish validates the terminal transition and persists it. The write uses a
// context detached from cancellation so a cancelled run is still finalized.
func (r *Runner) finish(ctx context.Context, executionID string, res *RunResult) {
	if err := r.fsm.Transition(ctx, executionID, schema.ExecutionRunning, res.Status); err != nil {
		r.logger.ErrorContext(ctx, "execution transition rejected", slog.String("error", err.Error()))
		return
	}

	completed := r.now()
	update := store.ExecutionUpdate{
		Status:      res.Status,
		Logs:        res.Logs,
		Error:       res.Error,
		CompletedAt: &completed,
	}
	if err := r.store.UpdateExecution(context.WithoutCancel(ctx), r.ownerID, executionID, update); err != nil {
		r.logger.ErrorContext(ctx, "persist execution result", slog.String("error", err.Error()))
	}
}

func withStep(err error, stepID string) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		if fe.StepID == "" {
			fe.StepID = stepID
		}
		return err
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error()).WithStep(stepID).WithCause(err)
}

// contextError maps a context error to a CANCELLED or TIMEOUT_ERROR FlowError.
func contextError(err error, msg string) *schema.FlowError {
	code := schema.ErrCodeCancelled
	if errors.Is(err, context.DeadlineExceeded) {
		code = schema.ErrCodeTimeout
	}
	return schema.NewErrorf(code, "%s: %v", msg, err).WithCause(err)
}

// errorText is the message stored on a failed execution.
func errorText(err error) string {
	var fe *schema.FlowError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
