package engine

import (
	"sync"

	"github.com/roach88/cardlog/internal/event"
)

// jobKind distinguishes work items of the writer loop.
type jobKind int

const (
	// jobWrite persists and folds one or more events.
	jobWrite jobKind = iota + 1
	// jobRehydrate reloads state from the log.
	jobRehydrate
	// jobTravel moves the displayed height.
	jobTravel
)

// job is one unit of work for the writer loop.
type job struct {
	kind   jobKind
	events []event.Event
	batch  bool
	epoch  uint64

	// travel target; nil returns to live state
	target *int64

	// exitTravel makes a rehydrate drop any time-travel view
	exitTravel bool

	reply chan outcome
}

type outcome struct {
	result Result
	err    error
}

// jobQueue is a thread-safe FIFO queue for jobs.
//
// The queue is unbounded so callers never block on enqueue; backpressure is
// the caller waiting on its reply.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the run loop (prevents goroutine hangs on context cancellation).
type jobQueue struct {
	mu     sync.Mutex
	jobs   []job
	closed bool
	signal chan struct{} // Signals job availability (buffered, size 1)
}

// newJobQueue creates an empty job queue.
func newJobQueue() *jobQueue {
	return &jobQueue{
		jobs:   make([]job, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a job to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *jobQueue) Enqueue(j job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.jobs = append(q.jobs, j)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (job{}, false) if queue is empty.
func (q *jobQueue) TryDequeue() (job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.jobs) == 0 {
		return job{}, false
	}

	j := q.jobs[0]

	// Clear the slot so the backing array does not pin event payloads.
	q.jobs[0] = job{}

	if len(q.jobs) == 1 {
		q.jobs = q.jobs[:0]
	} else {
		q.jobs = q.jobs[1:]
	}

	return j, true
}

// Wait returns a channel that signals when jobs may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *jobQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *jobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// Close signals that no more jobs will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *jobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}
