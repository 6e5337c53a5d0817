package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsEveryWorkflowIntoItsSlot(t *testing.T) {
	pool := NewWorkerPool(3)

	results := make([]string, 8)
	for i := range results {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			results[i] = "wf-" + string(rune('a'+i))
			return nil
		}))
	}
	pool.Shutdown()

	assert.Equal(t, "wf-a", results[0])
	assert.Equal(t, "wf-h", results[7])
	assert.Equal(t, PoolMetrics{Completed: 8}, pool.Metrics())
}

func TestWorkerPool_BoundsConcurrentRuns(t *testing.T) {
	const size = 2
	pool := NewWorkerPool(size)

	var running, peak atomic.Int64
	for range 6 {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			return nil
		}))
	}
	pool.Shutdown()

	assert.LessOrEqual(t, peak.Load(), int64(size))
	assert.Positive(t, peak.Load())
}

func TestWorkerPool_SubmitBlocksUntilSlotFrees(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	submitted := make(chan error, 1)
	go func() {
		submitted <- pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	}()

	select {
	case <-submitted:
		t.Fatal("second run started while the only slot was busy")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second run never got a slot")
	}
}

func TestWorkerPool_CancelledSubmit(t *testing.T) {
	pool := NewWorkerPool(1)
	defer pool.Shutdown()

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		<-release
		return nil
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := pool.Submit(ctx, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorkerPool_PanickingRunDoesNotStopOthers(t *testing.T) {
	var recovered atomic.Value
	pool := NewWorkerPool(2, WithPanicHandler(func(r any) { recovered.Store(r) }))

	var ok atomic.Int64
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		panic("step exploded")
	}))
	for range 3 {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			ok.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
		return errors.New("step failed")
	}))
	pool.Shutdown()

	assert.Equal(t, "step exploded", recovered.Load())
	assert.EqualValues(t, 3, ok.Load())
	m := pool.Metrics()
	assert.Equal(t, "active=0 completed=3 failed=2 panics=1", m.String())
}

func TestWorkerPool_ShutdownRejectsNewWork(t *testing.T) {
	pool := NewWorkerPool(2)

	var done atomic.Int64
	for range 4 {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			done.Add(1)
			return nil
		}))
	}
	pool.Shutdown()
	pool.Shutdown()

	assert.EqualValues(t, 4, done.Load())
	err := pool.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolShutdown)
}
