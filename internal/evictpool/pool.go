// Package evictpool provides the bounded deferred-execution facility used
// to run cache eviction off the caller's goroutine when setMaxSize lowers
// the ceiling. Concurrency is bounded with golang.org/x/sync/semaphore.Weighted,
// the same package the teacher's core/internal/batch.Processor imports in
// core/internal/batch/batch.go's processGroupsPipelined to cap outstanding
// read-ahead bytes (acquire before starting work, release after); here the
// weight is a fixed job-slot count rather than a byte budget. Completion
// tracking mirrors that same function's readWg.Wait()-then-close pattern:
// a sync.WaitGroup counts outstanding jobs, and a small mutex-guarded
// counter makes the queue depth observable for tests, per spec §5's "the
// queue must be observable for test assertions on pending job count".
package evictpool

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool runs submitted jobs on up to a fixed number of worker goroutines.
type Pool struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu      sync.Mutex
	pending int

	logger *slog.Logger
}

// New returns a pool that runs at most workers jobs concurrently. workers
// values below 1 are clamped to 1.
func New(workers int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers)), logger: logger}
}

// Submit queues job to run on a worker goroutine. The goroutine blocks
// until a slot is free before running job.
func (p *Pool) Submit(job func()) {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			p.pending--
			p.mu.Unlock()
		}()

		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			p.logger.Warn("evictpool: acquire failed", "error", err)
			return
		}
		defer p.sem.Release(1)

		job()
	}()
}

// Pending returns the number of jobs queued or currently running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Wait blocks until every job submitted so far has completed. It is safe
// to call concurrently with Submit; jobs submitted after Wait is called
// are still waited on if Wait has not yet returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
