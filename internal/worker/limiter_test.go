package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterDefaults(t *testing.T) {
	limiter := NewLimiter(4, 10, 5)
	assert.Equal(t, 4, limiter.Capacity())
	assert.NotNil(t, limiter.bucket, "rate bucket expected when requestsPerSecond > 0")

	clamped := NewLimiter(-1, 0, -1)
	assert.Equal(t, 1, clamped.Capacity())
	assert.Nil(t, clamped.bucket)
}

func TestLimiterReleaseIsIdempotent(t *testing.T) {
	limiter := NewLimiter(2, 0, 0)

	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.InFlight())

	release()
	release()
	assert.Equal(t, 0, limiter.InFlight())

	// A double release must not hand out a third slot
	r1, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	r2, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer r1()
	defer r2()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, limiter.InFlight())
}

func TestLimiterAcquireHonorsDeadline(t *testing.T) {
	limiter := NewLimiter(1, 0, 0)

	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = limiter.Acquire(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestLimiterRateWaitDoesNotLeakSlot(t *testing.T) {
	// 1 rps, burst 1: the second acquire must wait for a fresh token
	limiter := NewLimiter(4, 1, 1)

	release, err := limiter.Acquire(context.Background())
	require.NoError(t, err)
	release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = limiter.Acquire(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, limiter.InFlight())
}

func TestLimiterBoundsConcurrency(t *testing.T) {
	limiter := NewLimiter(3, 0, 0)

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := limiter.Acquire(context.Background())
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			n := current.Add(1)
			for {
				m := peak.Load()
				if n <= m || peak.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			current.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(3))
}
