// Package queue carries scoring jobs from uploads to the worker pool.
//
// The queue is in-memory and bounded; jobs are lost on restart and
// submissions left pending can always be processed on demand.
package queue

import (
	"context"
	"sync"

	"github.com/okian/roastboard/internal/domain/dedupe"
	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 1000
)

// Job asks for one submission to be scored.
type Job struct {
	Key model.Key
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. It returns false if the queue is full or closed,
	// or the submission is already queued or being worked on.
	Enqueue(ctx context.Context, j Job) bool

	// Dequeue returns a channel of jobs that is closed when the queue is closed.
	Dequeue(ctx context.Context) <-chan Job

	// Done marks the job's submission as no longer in flight.
	Done(ctx context.Context, j Job)

	Len(ctx context.Context) int
	Capacity() int

	// Close stops accepting jobs and closes the dequeue channels.
	Close() error
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	inflight dedupe.Deduper

	mu     sync.RWMutex
	closed bool
}

var _ Queue = (*InMemoryQueue)(nil)

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{
		capacity: defaultQueueCapacity,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.inflight == nil {
		q.inflight = dedupe.NewInMemoryDeduper()
	}
	q.jobs = make(chan Job, q.capacity)

	metrics.UpdateQueueCapacity(q.capacity)
	metrics.UpdateQueueSize(0)
	return q
}

func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		metrics.RecordQueueRejection("closed")
		return false
	}
	if ctx.Err() != nil {
		metrics.RecordQueueRejection("context_cancelled")
		return false
	}

	id := j.Key.String()
	if q.inflight.SeenAndRecord(ctx, id) {
		metrics.RecordQueueRejection("duplicate")
		return false
	}

	select {
	case q.jobs <- j:
		metrics.UpdateQueueSize(len(q.jobs))
		return true
	default:
		q.inflight.Unrecord(ctx, id)
		metrics.RecordQueueRejection("queue_full")
		return false
	}
}

func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			select {
			case out <- j:
				metrics.UpdateQueueSize(len(q.jobs))
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

func (q *InMemoryQueue) Done(ctx context.Context, j Job) {
	q.inflight.Unrecord(ctx, j.Key.String())
}

func (q *InMemoryQueue) Len(_ context.Context) int {
	size := len(q.jobs)
	metrics.UpdateQueueSize(size)
	return size
}

func (q *InMemoryQueue) Capacity() int { return q.capacity }

func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	return nil
}

func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
