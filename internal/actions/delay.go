package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/pkg/schema"
)

// DefaultMaxDelay caps a delay step when no limit is configured.
const DefaultMaxDelay = 10 * time.Second

var delaySchema = json.RawMessage(`{
  "type": "object",
  "required": ["duration"],
  "properties": {
    "duration": { "type": ["number", "string"] },
    "unit": { "enum": ["seconds", "minutes", "hours", "days"] }
  }
}`)

var delayUnits = map[string]time.Duration{
	"seconds": time.Second,
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
}

// DelayAction blocks the run for a bounded time. It is not a durable timer:
// the wait is capped at maxDelay and abandoned when the run is cancelled.
type DelayAction struct {
	maxDelay time.Duration
	interp   *expressions.Interpolator
}

// NewDelayAction creates the delay action. maxDelay <= 0 uses DefaultMaxDelay.
func NewDelayAction(maxDelay time.Duration, interp *expressions.Interpolator) *DelayAction {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	return &DelayAction{maxDelay: maxDelay, interp: interp}
}

func (a *DelayAction) Type() schema.StepType { return schema.StepTypeDelay }

func (a *DelayAction) Schema() ActionSchema {
	return ActionSchema{
		ParamsSchema: delaySchema,
		Description:  fmt.Sprintf("Pause the run (capped at %s)", a.maxDelay),
	}
}

func (a *DelayAction) Validate(params map[string]any) error {
	if _, ok := params["duration"]; !ok {
		return schema.NewError(schema.ErrCodeValidation, "delay requires 'duration'")
	}
	if _, ok := delayUnits[stringParam(params, "unit", "seconds")]; !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "delay: unknown unit %q", params["unit"])
	}
	return nil
}

func (a *DelayAction) Execute(ctx context.Context, input ActionInput) (*ActionOutput, error) {
	unitName := stringParam(input.Params, "unit", "seconds")
	unit, ok := delayUnits[unitName]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: unknown unit %q", unitName)
	}

	raw := input.Params["duration"]
	if s, ok := raw.(string); ok {
		raw = a.interp.Interpolate(s, input.Context)
	}
	amount, ok := numberParam(raw)
	if !ok || amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "delay: duration must be a finite non-negative number, got %v", raw)
	}

	// compare in float space; huge amounts would overflow time.Duration
	wait, capped := a.maxDelay, true
	if nanos := amount * float64(unit); nanos <= float64(a.maxDelay) {
		wait, capped = time.Duration(nanos), false
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, schema.NewError(schema.ErrCodeCancelled, "delay interrupted").WithCause(ctx.Err())
	}

	line := fmt.Sprintf("Delayed %s %s", expressions.Stringify(amount), unitName)
	if capped {
		line += fmt.Sprintf(" (capped at %s)", wait)
	}
	return &ActionOutput{Logs: []string{line}}, nil
}
