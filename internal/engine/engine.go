// Package engine matches events to workflows and runs their steps.
//
// An Engine is bound to one owning identity and holds no state beyond its
// collaborators, so callers construct one per request or worker.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/triggerflow/internal/actions"
	"github.com/rendis/triggerflow/internal/expressions"
	"github.com/rendis/triggerflow/internal/mailer"
	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/internal/validation"
	"github.com/rendis/triggerflow/pkg/schema"
)

const (
	DefaultPoolSize   = 10
	DefaultRunTimeout = 2 * time.Minute
)

// Config tunes dispatch concurrency and run limits.
type Config struct {
	PoolSize   int           `mapstructure:"pool_size"`
	RunTimeout time.Duration `mapstructure:"run_timeout"`
	MaxDelay   time.Duration `mapstructure:"max_delay"`
}

func (c Config) withDefaults() Config {
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = actions.DefaultMaxDelay
	}
	return c
}

// Deps are the collaborators an Engine is built from. Store and Mailer are
// required; the rest fall back to defaults.
type Deps struct {
	Store     store.Store
	Mailer    mailer.Sender
	Logger    *slog.Logger
	Clock     func() time.Time
	Validator validation.Validator
	// Registry overrides the built-in actions.
	Registry *actions.Registry
}

// Engine is the entry point used by request handlers.
type Engine struct {
	ownerID    string
	registry   *actions.Registry
	runner     *Runner
	matcher    *Matcher
	dispatcher *Dispatcher
}

// New builds an Engine scoped to ownerID.
func New(ownerID string, deps Deps, cfg Config) (*Engine, error) {
	if ownerID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "owner id is required")
	}
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "store is required")
	}
	cfg = cfg.withDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	validator := deps.Validator
	if validator == nil {
		v, err := validation.NewJSONSchemaValidator()
		if err != nil {
			return nil, err
		}
		validator = v
	}

	registry := deps.Registry
	if registry == nil {
		if deps.Mailer == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "mailer is required")
		}
		registry = actions.NewRegistry()
		err := actions.RegisterBuiltins(registry, actions.Deps{
			Interpolator: expressions.NewInterpolator(expressions.WithClock(now)),
			Comparator:   expressions.MustComparator(),
			Mailer:       deps.Mailer,
			Records:      deps.Store,
			MaxDelay:     cfg.MaxDelay,
		})
		if err != nil {
			return nil, err
		}
	}

	fsm := NewExecutionFSM()
	for _, to := range ValidExecutionTransitions[schema.ExecutionRunning] {
		fsm.OnAfter(schema.ExecutionRunning, to, func(ctx context.Context, id string, from, to schema.ExecutionStatus) error {
			logger.InfoContext(ctx, "execution finished", slog.String("status", string(to)))
			return nil
		})
	}

	runner := &Runner{
		ownerID:   ownerID,
		store:     deps.Store,
		registry:  registry,
		validator: validator,
		fsm:       fsm,
		logger:    logger,
		now:       now,
	}
	matcher := &Matcher{ownerID: ownerID, store: deps.Store, logger: logger}

	return &Engine{
		ownerID:  ownerID,
		registry: registry,
		runner:   runner,
		matcher:  matcher,
		dispatcher: &Dispatcher{
			matcher:    matcher,
			runner:     runner,
			logger:     logger,
			poolSize:   cfg.PoolSize,
			runTimeout: cfg.RunTimeout,
		},
	}, nil
}

// OwnerID returns the identity every operation is scoped to.
func (e *Engine) OwnerID() string { return e.ownerID }

// Matcher exposes trigger resolution without running anything.
func (e *Engine) Matcher() *Matcher { return e.matcher }

// StepTypes lists the step types this engine can execute.
func (e *Engine) StepTypes() []actions.ActionInfo { return e.registry.List() }

// RunWorkflow runs one workflow directly under the configured run timeout.
// A missing or disabled workflow is returned as an error; a failed step is
// reported in the result.
func (e *Engine) RunWorkflow(ctx context.Context, workflowID string, input map[string]any) (*RunResult, error) {
	ctx, cancel := e.dispatcher.withTimeout(ctx)
	defer cancel()
	return e.runner.Run(ctx, workflowID, input)
}

// DispatchFormSubmission starts the workflows bound to a submitted form.
func (e *Engine) DispatchFormSubmission(ctx context.Context, formID string, data map[string]any, submissionID string) *Summary {
	return e.dispatcher.DispatchFormSubmission(ctx, formID, data, submissionID)
}

// DispatchDatabaseChange starts the workflows bound to a table mutation.
func (e *Engine) DispatchDatabaseChange(ctx context.Context, tableID string, op schema.Operation, record map[string]any, recordID string) *Summary {
	return e.dispatcher.DispatchDatabaseChange(ctx, tableID, op, record, recordID)
}
