// Package worker runs the scoring pipeline for queued submissions.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/roastboard/internal/adapters/mq/queue"
	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultJobTimeout   = 2 * time.Minute
	poolShutdownTimeout = 30 * time.Second
)

// Processor scores one submission.
type Processor interface {
	Process(ctx context.Context, req scoring.Request) (scoring.Outcome, error)
}

// Queue defines how workers receive jobs and release them.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Job
	Done(ctx context.Context, j queue.Job)
}

// Worker processes jobs until stopped.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker after its current job.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue      Queue
	processor  Processor
	name       string
	jobTimeout time.Duration
	processed  *atomic.Int64

	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(q Queue, processor Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      q,
		processor:  processor,
		name:       "worker",
		jobTimeout: defaultJobTimeout,
		processed:  new(atomic.Int64),
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	jobs := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case j, ok := <-jobs:
			if !ok {
				return
			}
			if err := w.processJob(ctx, j); err != nil {
				w.logger.Error(ctx, "error processing job", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker and waits for its loop to exit.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.shutdownOnce.Do(func() { close(w.shutdown) })

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) processJob(ctx context.Context, j queue.Job) error {
	defer w.queue.Done(ctx, j)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	out, err := w.processor.Process(jobCtx, scoring.Request{ID: j.Key.ID, CreatedAtMillis: j.Key.CreatedAtMillis})
	switch {
	case err == nil:
		w.processed.Add(1)
		w.logger.Debug(ctx, "job scored",
			logger.String("submission_id", out.SubmissionID),
			logger.Int("score", out.Score),
		)
		return nil
	case errors.Is(err, model.ErrAlreadyClaimed), errors.Is(err, model.ErrTerminal):
		// Someone else owns the submission or it already ended.
		w.logger.Debug(ctx, "job skipped", logger.String("submission_id", j.Key.ID), logger.Error(err))
		return nil
	default:
		metrics.RecordWorkerError()
		return fmt.Errorf("process %s: %w", j.Key.ID, err)
	}
}

// Pool manages multiple workers sharing one queue.
type Pool struct {
	workers   []*InMemoryWorker
	queue     Queue
	processed atomic.Int64

	shutdownOnce sync.Once
	logger       logger.Logger
}

// NewPool creates workerCount workers. A non-positive count uses runtime.NumCPU().
func NewPool(workerCount int, q Queue, processor Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		workerOpts = append(workerOpts, withCounter(&pool.processed))
		pool.workers[i] = NewInMemoryWorker(q, processor, workerOpts...)
	}

	metrics.UpdateWorkerCount(workerCount)
	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Processed returns how many jobs completed successfully.
func (p *Pool) Processed() int64 { return p.processed.Load() }

// Shutdown closes the queue when it can be closed, then waits for every worker.
func (p *Pool) Shutdown(ctx context.Context) error {
	var err error
	p.shutdownOnce.Do(func() {
		if closer, ok := p.queue.(interface{ Close() error }); ok {
			if cerr := closer.Close(); cerr != nil {
				p.logger.Error(ctx, "error closing queue", logger.Error(cerr))
			}
		}

		shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
		defer cancel()

		for i, w := range p.workers {
			if werr := w.Shutdown(shutdownCtx); werr != nil {
				p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
				err = werr
			}
		}
		metrics.UpdateWorkerCount(0)
	})
	return err
}
