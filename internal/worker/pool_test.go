package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stepResult struct {
	seq int
	err error
}

func (r *stepResult) GetError() error { return r.err }

// step is a job that optionally sleeps, fails or counts its executions
type step struct {
	seq   int
	delay time.Duration
	fail  bool
	runs  *atomic.Int32
}

func (s *step) Execute(ctx context.Context) Result {
	if s.runs != nil {
		s.runs.Add(1)
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return &stepResult{seq: s.seq, err: ctx.Err()}
		}
	}
	if s.fail {
		return &stepResult{seq: s.seq, err: errors.New("claim rejected by backend")}
	}
	return &stepResult{seq: s.seq}
}

func TestNewPoolClampsWorkers(t *testing.T) {
	assert.Equal(t, 5, NewPool(context.Background(), 5).workers)
	assert.Equal(t, 1, NewPool(context.Background(), 0).workers)
	assert.Equal(t, 1, NewPool(context.Background(), -3).workers)
}

func TestPoolRunsEveryJob(t *testing.T) {
	pool := NewPool(context.Background(), 3)
	pool.Start()

	var runs atomic.Int32
	for i := 0; i < 12; i++ {
		pool.Submit(&step{seq: i, runs: &runs})
	}

	assert.Len(t, pool.Wait(), 12)
	assert.Equal(t, int32(12), runs.Load())
}

func TestPoolKeepsSubmissionOrder(t *testing.T) {
	pool := NewPool(context.Background(), 4)
	pool.Start()

	// Earlier jobs finish last
	for i := 0; i < 8; i++ {
		pool.Submit(&step{seq: i, delay: time.Duration(8-i) * 3 * time.Millisecond})
	}

	results := pool.Wait()
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, i, r.(*stepResult).seq)
	}
}

func TestPoolAcceptsMoreJobsThanBuffers(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()

	done := make(chan []Result)
	go func() {
		for i := 0; i < 200; i++ {
			pool.Submit(&step{seq: i})
		}
		done <- pool.Wait()
	}()

	select {
	case results := <-done:
		assert.Len(t, results, 200)
	case <-time.After(5 * time.Second):
		t.Fatal("pool stalled with a long job list")
	}
}

func TestPoolBoundsConcurrency(t *testing.T) {
	const workers = 4
	pool := NewPool(context.Background(), workers)
	pool.Start()

	var current, peak atomic.Int32
	for i := 0; i < 40; i++ {
		pool.Submit(jobFunc(func(ctx context.Context) Result {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			return &stepResult{}
		}))
	}
	pool.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(workers))
	assert.Positive(t, peak.Load())
}

func TestPoolReportsErrorsPerJob(t *testing.T) {
	pool := NewPool(context.Background(), 2)
	pool.Start()
	require.True(t, pool.Submit(&step{seq: 0, fail: true}))
	require.True(t, pool.Submit(&step{seq: 1}))

	results := pool.Wait()
	require.Len(t, results, 2)
	assert.Error(t, results[0].GetError())
	assert.NoError(t, results[1].GetError())
}

func TestPoolSubmitAfterShutdownReturns(t *testing.T) {
	pool := NewPool(context.Background(), 1)
	pool.Start()
	pool.Shutdown()

	done := make(chan bool)
	go func() {
		done <- pool.Submit(&step{})
	}()

	select {
	case queued := <-done:
		assert.False(t, queued)
	case <-time.After(time.Second):
		t.Fatal("Submit blocked after Shutdown")
	}
	assert.Empty(t, pool.Wait())
}

func TestPoolStopsOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(ctx, 1)
	pool.Start()

	pool.Submit(&step{seq: 0, delay: time.Minute})
	cancel()

	done := make(chan []Result)
	go func() {
		assert.False(t, pool.Submit(&step{seq: 1}))
		done <- pool.Wait()
	}()

	select {
	case results := <-done:
		for _, r := range results {
			if r.(*stepResult).seq == 0 {
				assert.ErrorIs(t, r.GetError(), context.Canceled)
			}
		}
	case <-time.After(time.Second):
		t.Fatal("pool did not stop after parent cancellation")
	}
}

type jobFunc func(ctx context.Context) Result

func (f jobFunc) Execute(ctx context.Context) Result { return f(ctx) }
