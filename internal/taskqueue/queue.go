// Package taskqueue is a single-consumer FIFO of fire-and-forget jobs: at
// most one job runs at a time, and a clean shutdown drains whatever is
// still queued before Run returns.
package taskqueue

import (
	"context"
	"errors"

	"github.com/surface-linux/surface-dtx/internal/logging"
)

// Job is a unit of work submitted to the queue. It is run to completion
// (or until ctx is canceled) before the next Job starts.
type Job = func(context.Context) error

// DefaultCapacity is the queue's default bound, matching the daemon's
// original task-channel size.
const DefaultCapacity = 32

// ErrFull is returned by Submit when the queue is at capacity. The task
// queue's original "drop when full" policy is operationally suspect — a
// dropped detachment_cancel_start could leave the UI in a detach-ready
// state forever — so callers are expected to treat ErrFull as fatal
// rather than merely log it.
var ErrFull = errors.New("taskqueue: full")

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("taskqueue: closed")

// Queue is a bounded, single-consumer FIFO of Jobs.
type Queue struct {
	jobs   chan Job
	closed chan struct{}
	logger *logging.Logger
}

// New creates a Queue with the given capacity. A capacity <= 0 uses
// DefaultCapacity.
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{
		jobs:   make(chan Job, capacity),
		closed: make(chan struct{}),
		logger: logging.Default().With("target", "sdtxd::taskqueue"),
	}
}

// Submit enqueues job. It never blocks: a full queue returns ErrFull
// immediately rather than applying backpressure, since the producer is the
// core's single-threaded event loop and must not stall on it.
func (q *Queue) Submit(job Job) error {
	select {
	case <-q.closed:
		return ErrClosed
	default:
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// Run consumes jobs serially until ctx is canceled or Close is called.
// After Close it drains whatever remains queued before returning; a
// canceled ctx makes it return ctx.Err() without running the queued jobs.
// This is the "run to completion on clean shutdown" guarantee: the caller
// is expected to keep ctx alive (or simply pass context.Background) through
// the first shutdown signal and only actually cancel once draining is
// acceptable.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := job(ctx); err != nil {
				return err
			}
		case <-q.closed:
			return q.drain(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// drain runs whatever jobs remain buffered after Close, in order, then
// returns.
func (q *Queue) drain(ctx context.Context) error {
	for {
		select {
		case job, ok := <-q.jobs:
			if !ok {
				return nil
			}
			if err := job(ctx); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Close stops accepting new jobs. Run will drain whatever is already
// buffered and then return.
func (q *Queue) Close() {
	select {
	case <-q.closed:
		// already closed
	default:
		close(q.closed)
	}
}
