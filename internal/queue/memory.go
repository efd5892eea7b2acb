package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

type (
	// MemoryQueue is the in-process driver. Jobs live in a buffered
	// channel and are lost on restart; stuck ingestions surface through
	// their persisted status, not through the queue.
	MemoryQueue struct {
		jobs   chan ingestion.Job
		logger *slog.Logger

		mu     sync.Mutex
		closed bool

		wg sync.WaitGroup
	}

	// WorkerOptions configures the in-process worker pool.
	WorkerOptions struct {
		Workers   int
		Handler   ingestion.Handler
		OnFailure ingestion.FailureHandler
		Retry     RetryPolicy
	}
)

const (
	defaultMemoryBuffer  = 256
	defaultMemoryWorkers = 4
)

var _ ingestion.Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an in-process queue. The queue buffers jobs
// immediately; call Start once the handler exists to begin processing.
func NewMemoryQueue(buffer int, logger *slog.Logger) *MemoryQueue {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &MemoryQueue{
		jobs:   make(chan ingestion.Job, buffer),
		logger: logger,
	}
}

// Enqueue hands the job to the worker pool. It fails fast when the
// queue is closed or the buffer is full instead of blocking the caller.
func (q *MemoryQueue) Enqueue(_ context.Context, job ingestion.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Start launches the worker pool. Workers exit when ctx is canceled or
// when the queue is closed and drained. Start panics on a nil handler:
// that is a wiring bug, not a runtime condition.
func (q *MemoryQueue) Start(ctx context.Context, opts WorkerOptions) {
	if opts.Handler == nil {
		panic("queue: memory worker pool started without a handler")
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = defaultMemoryWorkers
	}

	w := worker{
		handler:   opts.Handler,
		onFailure: opts.OnFailure,
		retry:     opts.Retry.withDefaults(),
		logger:    q.logger,
	}

	q.logger.Info("Memory queue workers started", slog.Int("workers", workers))

	for i := 0; i < workers; i++ {
		q.wg.Add(1)

		go func() {
			defer q.wg.Done()

			for {
				select {
				case <-ctx.Done():
					return
				case job, ok := <-q.jobs:
					if !ok {
						return
					}

					if err := w.run(ctx, job); err != nil {
						return
					}
				}
			}
		}()
	}
}

// Close stops accepting jobs and waits for the workers to drain the
// buffer. Safe to call more than once.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()

	if !q.closed {
		q.closed = true
		close(q.jobs)
	}

	q.mu.Unlock()

	q.wg.Wait()

	return nil
}
