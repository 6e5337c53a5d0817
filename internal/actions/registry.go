package actions

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/rendis/triggerflow/pkg/schema"
)

// Registry maps step types to actions. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.StepType]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[schema.StepType]Action),
	}
}

// Register adds an action to the registry. Returns error on duplicate type.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	stepType := action.Type()
	if stepType == "" {
		return schema.NewError(schema.ErrCodeValidation, "action step type is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[stepType]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", stepType)
	}

	r.actions[stepType] = action
	return nil
}

// Get retrieves the action for a step type.
func (r *Registry) Get(stepType schema.StepType) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[stepType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no action for step type %q", stepType)
	}
	return action, nil
}

// List returns info for all registered actions, sorted by type.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for _, a := range r.actions {
		infos = append(infos, ActionInfo{
			Type:        a.Type(),
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Has checks if an action is registered.
func (r *Registry) Has(stepType schema.StepType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[stepType]
	return ok
}

// CheckParams runs the Validate rules of the action registered for stepType.
func (r *Registry) CheckParams(stepType schema.StepType, params map[string]any) error {
	action, err := r.Get(stepType)
	if err != nil {
		return err
	}
	return action.Validate(params)
}

// ParamsSchema returns the parameter schema of a registered step type.
func (r *Registry) ParamsSchema(stepType schema.StepType) (json.RawMessage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[stepType]
	if !ok {
		return nil, false
	}
	return a.Schema().ParamsSchema, true
}
