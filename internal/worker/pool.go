package worker

import (
	"context"
	"sort"
	"sync"
)

// Job is one unit of work run by the pool
type Job interface {
	Execute(ctx context.Context) Result
}

// Result is what a Job returns
type Result interface {
	GetError() error
}

type indexedJob struct {
	seq int
	job Job
}

type indexedResult struct {
	seq    int
	result Result
}

// Pool runs jobs on a fixed number of workers. Results are collected while
// jobs run, so any number of jobs may be submitted before Wait, and Wait
// returns them in submission order.
type Pool struct {
	workers int
	jobs    chan indexedJob
	results chan indexedResult
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	closeResults sync.Once
	collected    []indexedResult
	collectDone  chan struct{}

	mu   sync.Mutex
	next int
}

// NewPool creates a pool with the given number of workers (at least one).
// Jobs receive a context derived from parent.
func NewPool(parent context.Context, workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	return &Pool{
		workers:     workers,
		jobs:        make(chan indexedJob, workers),
		results:     make(chan indexedResult, workers),
		ctx:         ctx,
		cancel:      cancel,
		collectDone: make(chan struct{}),
	}
}

// Start launches the workers and the result collector
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	go func() {
		defer close(p.collectDone)
		for r := range p.results {
			p.collected = append(p.collected, r)
		}
	}()
}

func (p *Pool) work() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case ij, ok := <-p.jobs:
			if !ok {
				return
			}
			p.results <- indexedResult{seq: ij.seq, result: ij.job.Execute(p.ctx)}
		}
	}
}

// Submit queues a job and reports whether it was accepted. It blocks while
// every worker is busy and returns false once the pool is shut down or its
// parent context is done.
func (p *Pool) Submit(job Job) bool {
	if p.ctx.Err() != nil {
		return false
	}
	p.mu.Lock()
	seq := p.next
	p.next++
	p.mu.Unlock()

	select {
	case <-p.ctx.Done():
		return false
	case p.jobs <- indexedJob{seq: seq, job: job}:
		return true
	}
}

// Wait stops intake, waits for the workers and returns results in submission
// order. Queued jobs no worker picked up before Shutdown or cancellation have
// no result.
func (p *Pool) Wait() []Result {
	close(p.jobs)
	p.wg.Wait()
	p.finish()
	<-p.collectDone
	p.cancel()

	sort.Slice(p.collected, func(i, j int) bool { return p.collected[i].seq < p.collected[j].seq })
	results := make([]Result, len(p.collected))
	for i, r := range p.collected {
		results[i] = r.result
	}
	return results
}

// Shutdown cancels running jobs and stops the workers. Wait may still be
// called afterwards to collect what finished.
func (p *Pool) Shutdown() {
	p.cancel()
	p.wg.Wait()
	p.finish()
}

func (p *Pool) finish() {
	p.closeResults.Do(func() { close(p.results) })
}
