// Package sweeper finalizes executions left running by a crashed process.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/triggerflow/internal/store"
	"github.com/rendis/triggerflow/pkg/schema"
)

// AbandonedReason is stored as the error of a swept execution.
const AbandonedReason = "abandoned"

const (
	DefaultSchedule   = "@every 1m"
	DefaultStaleAfter = 15 * time.Minute
	DefaultBatchSize  = 100
)

// Config controls how often and how aggressively stale runs are swept.
type Config struct {
	Schedule   string        `mapstructure:"schedule"`
	StaleAfter time.Duration `mapstructure:"stale_after"`
	BatchSize  int           `mapstructure:"batch_size"`
}

// ExecutionStore is the slice of store.Store the sweeper uses.
type ExecutionStore interface {
	ListStaleExecutions(ctx context.Context, filter store.StaleFilter) ([]*store.WorkflowExecution, error)
	UpdateExecution(ctx context.Context, ownerID, id string, update store.ExecutionUpdate) error
}

// Sweeper periodically fails executions that stayed running past StaleAfter.
type Sweeper struct {
	store      ExecutionStore
	schedule   cron.Schedule
	staleAfter time.Duration
	batch      int
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New parses cfg.Schedule (standard five-field cron or a descriptor such as
// "@every 1m") and returns a stopped Sweeper.
func New(st ExecutionStore, cfg Config, logger *slog.Logger) (*Sweeper, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "parse sweeper schedule %q: %s", cfg.Schedule, err.Error()).WithCause(err)
	}

	return &Sweeper{
		store:      st,
		schedule:   schedule,
		staleAfter: cfg.StaleAfter,
		batch:      cfg.BatchSize,
		logger:     logger.With(slog.String("component", "sweeper")),
		now:        time.Now,
	}, nil
}

// NextRun returns the first sweep time after from.
func (s *Sweeper) NextRun(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// Sweep fails every execution still running that started before now-StaleAfter.
// It returns how many executions were finalized.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now().UTC()
	stale, err := s.store.ListStaleExecutions(ctx, store.StaleFilter{
		Before: now.Add(-s.staleAfter),
		Limit:  s.batch,
	})
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, exec := range stale {
		logs := append(append([]string{}, exec.Logs...), "Workflow failed: "+AbandonedReason)
		err := s.store.UpdateExecution(ctx, exec.OwnerID, exec.ID, store.ExecutionUpdate{
			Status:      schema.ExecutionFailed,
			Logs:        logs,
			Error:       AbandonedReason,
			CompletedAt: &now,
		})
		switch {
		case err == nil:
			swept++
		case schema.IsCode(err, schema.ErrCodeConflict):
			// finished between list and update
		default:
			s.logger.ErrorContext(ctx, "finalize abandoned execution",
				slog.String("execution_id", exec.ID), slog.String("error", err.Error()))
		}
	}

	if swept > 0 {
		s.logger.InfoContext(ctx, "swept abandoned executions", slog.Int("count", swept))
	}
	return swept, nil
}

// Start runs an immediate sweep and then one per schedule tick until Stop or
// ctx cancellation.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("sweeper already started")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.done)
	s.logger.Info("sweeper started")
	return nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	s.tick(ctx)
	for {
		timer := time.NewTimer(time.Until(s.NextRun(s.now())))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
		s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
	}
}

// Stop cancels the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
	s.logger.Info("sweeper stopped")
}
