// Package jobs runs background work scheduled from event listeners.
//
// Listeners on the bus must return quickly, so anything they trigger
// (automation actions, API notifications) is handed to a Runner. Run never
// blocks the caller; concurrency is bounded by a weighted semaphore.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("jobs: runner closed")

// Logger is the logging surface used for failed and panicking jobs.
type Logger interface {
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Error(string, ...any) {}

// Func is a unit of work. ctx is cancelled when the runner closes.
type Func func(ctx context.Context)

// Runner schedules Funcs on goroutines.
//
// Thread Safety: all methods are safe for concurrent use.
type Runner struct {
	sem    *semaphore.Weighted
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool

	logger Logger
}

// NewRunner creates a runner executing at most maxConcurrent jobs at once.
func NewRunner(maxConcurrent int) *Runner {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		sem:    semaphore.NewWeighted(int64(maxConcurrent)),
		ctx:    ctx,
		cancel: cancel,
		logger: noopLogger{},
	}
	r.idle = sync.NewCond(&r.mu)
	return r
}

// SetLogger sets the logger for job panics.
func (r *Runner) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Run schedules fn and returns immediately. name only appears in logs.
func (r *Runner) Run(name string, fn Func) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot run %s", ErrClosed, name)
	}
	r.pending++
	r.mu.Unlock()

	go r.execute(name, fn)
	return nil
}

func (r *Runner) execute(name string, fn Func) {
	defer r.done()

	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		// Runner closed while the job was queued.
		return
	}
	defer r.sem.Release(1)

	defer func() {
		if p := recover(); p != nil {
			r.mu.Lock()
			logger := r.logger
			r.mu.Unlock()
			logger.Error("job panicked", "job", name, "panic", p)
		}
	}()

	fn(r.ctx)
}

func (r *Runner) done() {
	r.mu.Lock()
	r.pending--
	if r.pending == 0 {
		r.idle.Broadcast()
	}
	r.mu.Unlock()
}

// Pending returns the number of scheduled jobs that have not finished.
func (r *Runner) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Wait blocks until no jobs are pending, including jobs scheduled by
// other jobs while waiting.
func (r *Runner) Wait() {
	r.mu.Lock()
	for r.pending > 0 {
		r.idle.Wait()
	}
	r.mu.Unlock()
}

// Close rejects new jobs, cancels the context passed to running ones and
// waits for them to return.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.Wait()
}
