package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/triggerflow/pkg/schema"
)

// ValidExecutionTransitions lists the allowed moves of an execution record.
// Terminal statuses have no outgoing edges.
var ValidExecutionTransitions = map[schema.ExecutionStatus][]schema.ExecutionStatus{
	schema.ExecutionRunning: {schema.ExecutionCompleted, schema.ExecutionFailed},
}

// TransitionHook is called after a state transition.
type TransitionHook func(ctx context.Context, executionID string, from, to schema.ExecutionStatus) error

type hookKey struct {
	from, to schema.ExecutionStatus
}

// ExecutionFSM guards execution lifecycle transitions.
// The caller is responsible for persisting the new state to the store.
type ExecutionFSM struct {
	mu    sync.RWMutex
	after map[hookKey][]TransitionHook
}

// NewExecutionFSM creates an ExecutionFSM with no hooks.
func NewExecutionFSM() *ExecutionFSM {
	return &ExecutionFSM{after: make(map[hookKey][]TransitionHook)}
}

// OnAfter registers a hook called after a transition. Hooks run in
// registration order and the first error is returned.
func (f *ExecutionFSM) OnAfter(from, to schema.ExecutionStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates a move and runs its hooks.
func (f *ExecutionFSM) Transition(ctx context.Context, executionID string, from, to schema.ExecutionStatus) error {
	if !isValidTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid execution transition: %s -> %s", from, to).
			WithDetails(map[string]any{"execution_id": executionID, "from": string(from), "to": string(to)})
	}

	key := hookKey{from, to}
	f.mu.RLock()
	after := slices.Clone(f.after[key])
	f.mu.RUnlock()

	for _, hook := range after {
		if err := hook(ctx, executionID, from, to); err != nil {
			return err
		}
	}
	return nil
}

func isValidTransition(from, to schema.ExecutionStatus) bool {
	return slices.Contains(ValidExecutionTransitions[from], to)
}
