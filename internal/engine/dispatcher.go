package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Summary reports the outcome of one dispatched event.
type Summary struct {
	TriggeredCount int              `json:"triggered_count"`
	Results        []DispatchResult `json:"results"`
}

// DispatchResult is the outcome of one matched workflow.
type DispatchResult struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowName string `json:"workflow_name"`
	Success      bool   `json:"success"`
	ExecutionID  string `json:"execution_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Dispatcher fans an event out to every matching workflow. It never returns
// an error: failures are reported per workflow in the Summary.
type Dispatcher struct {
	matcher    *Matcher
	runner     *Runner
	logger     *slog.Logger
	poolSize   int
	runTimeout time.Duration
}

// DispatchFormSubmission runs every enabled workflow bound to formID.
func (d *Dispatcher) DispatchFormSubmission(ctx context.Context, formID string, data map[string]any, submissionID string) *Summary {
	seed := seedContext(data, map[string]any{
		"form_id":       formID,
		"submission_id": submissionID,
		"trigger_type":  string(schema.TriggerFormSubmission),
	})

	matches, err := d.matcher.MatchFormTriggers(ctx, formID)
	if err != nil {
		d.logger.ErrorContext(ctx, "match form triggers", slog.String("form_id", formID), slog.String("error", err.Error()))
		return emptySummary()
	}
	return d.runAll(ctx, matches, seed)
}

// DispatchDatabaseChange runs every enabled workflow bound to tableID whose
// trigger admits op.
func (d *Dispatcher) DispatchDatabaseChange(ctx context.Context, tableID string, op schema.Operation, record map[string]any, recordID string) *Summary {
	if !op.Valid() {
		d.logger.WarnContext(ctx, "ignoring database change with unknown operation",
			slog.String("table_id", tableID), slog.String("operation", string(op)))
		return emptySummary()
	}

	seed := seedContext(record, map[string]any{
		"table_id":     tableID,
		"record_id":    recordID,
		"operation":    string(op),
		"trigger_type": string(schema.TriggerDatabaseChange),
	})

	matches, err := d.matcher.MatchTableTriggers(ctx, tableID, op)
	if err != nil {
		d.logger.ErrorContext(ctx, "match table triggers", slog.String("table_id", tableID), slog.String("error", err.Error()))
		return emptySummary()
	}
	return d.runAll(ctx, matches, seed)
}

// runAll executes each match on its own pooled goroutine. Results keep the
// order of matches regardless of completion order.
func (d *Dispatcher) runAll(ctx context.Context, matches []ResolvedTrigger, seed map[string]any) *Summary {
	if len(matches) == 0 {
		return emptySummary()
	}

	results := make([]DispatchResult, len(matches))
	pool := NewWorkerPool(d.poolSize, WithPanicHandler(func(r any) {
		d.logger.ErrorContext(ctx, "dispatch task panicked", slog.Any("panic", r))
	}))

	for i, m := range matches {
		results[i] = DispatchResult{WorkflowID: m.Workflow.ID, WorkflowName: m.Workflow.Name}
		slot := &results[i]
		wf := m.Workflow

		err := pool.Submit(ctx, func(ctx context.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					slot.Success = false
					slot.Error = fmt.Sprintf("workflow run panicked: %v", r)
					err = schema.NewError(schema.ErrCodeExecution, slot.Error)
				}
			}()

			runCtx, cancel := d.withTimeout(ctx)
			defer cancel()

			res, err := d.runner.execute(runCtx, wf, seed)
			if err != nil {
				slot.Error = errorText(err)
				return err
			}
			slot.ExecutionID = res.ExecutionID
			slot.Success = res.Success
			slot.Error = res.Error
			if !res.Success {
				// counted as failed in the pool metrics
				return schema.NewError(schema.ErrCodeExecution, res.Error)
			}
			return nil
		})
		if err != nil {
			slot.Error = "workflow not started: " + err.Error()
		}
	}
	pool.Shutdown()
	d.logger.DebugContext(ctx, "dispatch finished", slog.Int("triggered", len(matches)), slog.String("pool", pool.Metrics().String()))

	return &Summary{TriggeredCount: len(matches), Results: results}
}

func (d *Dispatcher) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.runTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.runTimeout)
}

// seedContext spreads the event fields and then sets the event metadata keys.
func seedContext(fields, meta map[string]any) map[string]any {
	seed := make(map[string]any, len(fields)+len(meta))
	for k, v := range fields {
		seed[k] = v
	}
	for k, v := range meta {
		seed[k] = v
	}
	return seed
}

func emptySummary() *Summary {
	return &Summary{Results: []DispatchResult{}}
}
