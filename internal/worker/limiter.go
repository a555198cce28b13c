package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Limiter bounds calls into the reasoning backend: a counting semaphore caps
// simultaneous evaluator invocations and an optional token bucket caps the
// request rate. One Limiter is shared by every session in the process.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int
	bucket   *rate.Limiter // nil means unlimited rate
	inFlight atomic.Int64
}

// NewLimiter creates a limiter allowing maxConcurrent simultaneous calls.
// requestsPerSecond <= 0 disables the rate limit.
func NewLimiter(maxConcurrent int, requestsPerSecond float64, burst int) *Limiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	if burst <= 0 {
		burst = 1
	}

	l := &Limiter{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: maxConcurrent,
	}
	if requestsPerSecond > 0 {
		l.bucket = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
	}
	return l
}

// Acquire blocks until a slot and a rate token are available or ctx is done.
// The returned release func must be called exactly once when the backend call
// has actually returned; extra calls are ignored.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire backend slot: %w", err)
	}
	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			l.sem.Release(1)
			return nil, fmt.Errorf("wait for backend rate: %w", err)
		}
	}
	l.inFlight.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			l.sem.Release(1)
		})
	}, nil
}

// InFlight returns the number of currently held slots
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Capacity returns the maximum number of simultaneous calls
func (l *Limiter) Capacity() int {
	return l.capacity
}
