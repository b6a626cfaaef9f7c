// Package saveq serializes remote writes to one logical stream so that
// concurrent save attempts never race and the latest submitted state is the
// one eventually persisted.
package saveq

import (
	"context"
	"log"
	"sync"
	"time"

	"timesheet/internal/metrics"
)

// Task is one remote write attempt. It may fail; the queue owns retries.
type Task func(ctx context.Context) error

// Status is the save-state text surfaced to the UI layer.
type Status string

const (
	StatusSaving Status = "saving"
	StatusSaved  Status = "saved"
	StatusError  Status = "save failed"
)

const (
	defaultMaxRetries = 3
	baseDelay         = 1 * time.Second
	maxDelay          = 5 * time.Second
	// redispatchDelay separates a finished attempt from the pending one it
	// triggers, avoiding tight recursion.
	redispatchDelay = 100 * time.Millisecond
)

// Deferrer is the slice of the connectivity monitor the queue needs: an
// online flag and a place to park writes that cannot currently succeed.
type Deferrer interface {
	IsOnline() bool
	Defer(op func(ctx context.Context) error, opContext string)
}

// Queue coalesces submissions into a single pending slot: while one write
// is in flight, every further Submit overwrites the slot, so an intermediate
// state superseded before the in-flight write finishes is never persisted
// on its own.
type Queue struct {
	mu       sync.Mutex
	saving   bool
	pending  bool
	lastTask Task
	// seq stamps each Submit; a delayed re-dispatch carries the stamp of the
	// snapshot it holds, so one superseded by a newer Submit is dropped
	// instead of overwriting the fresher state.
	seq uint64

	maxRetries int
	monitor    Deferrer
	onStatus   func(Status)
	onFailure  func(err error)

	// test seams
	sleep    func(time.Duration)
	dispatch func(d time.Duration, fn func())
}

// Option tweaks queue construction.
type Option func(*Queue)

// WithStatus registers the UI status callback.
func WithStatus(fn func(Status)) Option {
	return func(q *Queue) { q.onStatus = fn }
}

// WithFailureHook registers a callback fired when a write exhausts its
// retries while online, after the error status has been surfaced. Used to
// escalate the failed state to the durable replay queue.
func WithFailureHook(fn func(err error)) Option {
	return func(q *Queue) { q.onFailure = fn }
}

// WithMaxRetries overrides the per-attempt retry limit.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

// withSleep replaces the backoff sleeper; tests use it to run instantly.
func withSleep(fn func(time.Duration)) Option {
	return func(q *Queue) { q.sleep = fn }
}

// withDispatch replaces the delayed re-dispatch; tests run it inline.
func withDispatch(fn func(d time.Duration, fn func())) Option {
	return func(q *Queue) { q.dispatch = fn }
}

// New creates a queue. monitor may be nil, in which case final failures are
// only surfaced, never deferred.
func New(monitor Deferrer, opts ...Option) *Queue {
	q := &Queue{
		maxRetries: defaultMaxRetries,
		monitor:    monitor,
		sleep:      time.Sleep,
		dispatch: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Submit records task as the latest state and, if nothing is in flight,
// starts executing it asynchronously. Submit never blocks the caller.
func (q *Queue) Submit(task Task) {
	q.mu.Lock()
	q.seq++
	q.submit(task, q.seq)
}

// submit takes ownership of q.mu and releases it. A stamp older than the
// newest submission means this is a leftover re-dispatch whose snapshot has
// already been superseded; it is dropped.
func (q *Queue) submit(task Task, seq uint64) {
	if seq < q.seq {
		q.mu.Unlock()
		return
	}
	q.lastTask = task
	if q.saving {
		q.pending = true
		q.mu.Unlock()
		return
	}
	q.saving = true
	q.mu.Unlock()

	go q.run(task)
}

// IsSaving reports whether a write is currently in flight.
func (q *Queue) IsSaving() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.saving
}

// HasPending reports whether a superseding task is waiting.
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

// ClearPending drops any waiting task. Use with caution; the state it held
// will not be persisted by this queue.
func (q *Queue) ClearPending() {
	q.mu.Lock()
	q.pending = false
	q.lastTask = nil
	q.mu.Unlock()
}

func (q *Queue) run(task Task) {
	q.status(StatusSaving)
	err := q.attempt(task)
	if err != nil {
		log.Printf("save queue: write failed after retries: %v", err)
		metrics.SaveFailures.Inc()
		if q.monitor != nil && !q.monitor.IsOnline() {
			q.monitor.Defer(func(ctx context.Context) error { return task(ctx) }, "save queue operation")
		} else {
			q.status(StatusError)
			if q.onFailure != nil {
				q.onFailure(err)
			}
		}
	} else {
		q.status(StatusSaved)
	}

	q.mu.Lock()
	runAgain := q.pending
	q.pending = false
	q.saving = false
	var next Task
	var nextSeq uint64
	if runAgain && q.lastTask != nil {
		next = q.lastTask
		nextSeq = q.seq
		q.lastTask = nil
	}
	q.mu.Unlock()

	if next != nil {
		q.dispatch(redispatchDelay, func() {
			q.mu.Lock()
			q.submit(next, nextSeq)
		})
	}
}

// attempt runs the task with up to maxRetries retries and exponential
// backoff (base delay doubling, capped).
func (q *Queue) attempt(task Task) error {
	ctx := context.Background()
	var err error
	for try := 0; try <= q.maxRetries; try++ {
		if try > 0 {
			delay := baseDelay << (try - 1)
			if delay > maxDelay {
				delay = maxDelay
			}
			q.sleep(delay)
			metrics.SaveRetries.Inc()
		}
		metrics.SaveAttempts.Inc()
		if err = task(ctx); err == nil {
			return nil
		}
	}
	return err
}

func (q *Queue) status(s Status) {
	if q.onStatus != nil {
		q.onStatus(s)
	}
}
