package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// PoolMetrics is a snapshot of worker pool counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PanicHandler receives the value recovered from a task that panicked.
type PanicHandler func(recovered any)

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPanicHandler installs a callback for recovered task panics.
func WithPanicHandler(h PanicHandler) PoolOption {
	return func(p *WorkerPool) { p.onPanic = h }
}

// WorkerPool bounds the number of workflow runs executing at once.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	done    chan struct{}
	closed  bool
	onPanic PanicHandler

	active, completed, failed, panics atomic.Int64
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int, opts ...PoolOption) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		sem:  make(chan struct{}, size),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit runs fn on a pooled goroutine. It blocks while the pool is full and
// gives up when ctx is done or the pool shuts down.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// wg.Add must happen under the lock so Shutdown cannot Wait between the
	// closed check and the Add.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.mu.Unlock()

	go p.run(ctx, fn)
	return nil
}

func (p *WorkerPool) run(ctx context.Context, fn func(ctx context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.failed.Add(1)
			if p.onPanic != nil {
				p.onPanic(r)
			}
		}
		p.active.Add(-1)
		<-p.sem
		p.wg.Done()
	}()

	if err := fn(ctx); err != nil {
		p.failed.Add(1)
		return
	}
	p.completed.Add(1)
}

// Shutdown rejects new submissions and waits for running work.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
	}
}

func (m PoolMetrics) String() string {
	return fmt.Sprintf("active=%d completed=%d failed=%d panics=%d", m.Active, m.Completed, m.Failed, m.Panics)
}
