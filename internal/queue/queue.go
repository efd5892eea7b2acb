// Package queue moves pipeline jobs between the orchestrator and the
// stage workers. The Kafka driver is the production path; the memory
// driver runs the same retry semantics in-process for single-binary
// deployments and tests.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/canonizer-io/canonizer/internal/config"
	"github.com/canonizer-io/canonizer/internal/ingestion"
)

type (
	// Config selects the queue driver and its connection details.
	Config struct {
		// Driver is "kafka" or "memory".
		Driver string

		// Brokers lists the Kafka bootstrap brokers. Ignored by the
		// memory driver.
		Brokers []string
	}

	// RetryPolicy bounds how often a worker re-runs a failing job before
	// handing it to the failure callback.
	RetryPolicy struct {
		MaxAttempts int
		BaseDelay   time.Duration
	}

	// worker executes jobs under the retry policy. Both drivers share it
	// so retry behavior cannot drift between deployments.
	worker struct {
		handler   ingestion.Handler
		onFailure ingestion.FailureHandler
		retry     RetryPolicy
		logger    *slog.Logger
	}
)

// Environment variables configuring the queue.
const (
	EnvQueueDriver  = "CANONIZER_QUEUE_DRIVER"
	EnvKafkaBrokers = "CANONIZER_KAFKA_BROKERS"
)

// Queue drivers.
const (
	DriverMemory = "memory"
	DriverKafka  = "kafka"
)

const (
	defaultBrokers = "localhost:9092"

	defaultMaxAttempts = 3
	defaultBaseDelay   = time.Second
)

// topicPrefix namespaces the per-stage job topics. One topic per stage
// keeps a slow stage's backlog from blocking the others and lets workers
// scale per stage.
const topicPrefix = "canonizer.jobs."

// Sentinel errors for queue construction and use.
var (
	ErrNoBrokers     = errors.New("at least one Kafka broker is required")
	ErrNilHandler    = errors.New("job handler is required")
	ErrUnknownDriver = errors.New("unknown queue driver")
	ErrQueueClosed   = errors.New("queue is closed")
	ErrQueueFull     = errors.New("queue buffer is full")
)

// LoadConfig reads the queue configuration from the environment. The
// memory driver is the default so a bare binary works without a broker.
func LoadConfig() Config {
	return Config{
		Driver:  config.GetEnvStr(EnvQueueDriver, DriverMemory),
		Brokers: config.ParseCommaSeparatedList(config.GetEnvStr(EnvKafkaBrokers, defaultBrokers)),
	}
}

// Validate checks that the driver is known and usable.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverKafka:
		if len(c.Brokers) == 0 {
			return ErrNoBrokers
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
}

// TopicFor returns the Kafka topic carrying jobs for a stage.
func TopicFor(stage ingestion.Stage) string { return topicPrefix + string(stage) }

// GroupFor returns the consumer group name for a stage's workers.
func GroupFor(stage ingestion.Stage) string { return "canonizer-workers-" + string(stage) }

// DefaultRetryPolicy returns the standard worker retry policy: three
// attempts with exponential backoff starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: defaultMaxAttempts, BaseDelay: defaultBaseDelay}
}

// Delay returns the backoff to wait after the given attempt, doubling
// per attempt.
func (r RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	return r.BaseDelay << (attempt - 1)
}

func (r RetryPolicy) withDefaults() RetryPolicy {
	if r.MaxAttempts <= 0 {
		r.MaxAttempts = defaultMaxAttempts
	}

	if r.BaseDelay <= 0 {
		r.BaseDelay = defaultBaseDelay
	}

	return r
}

// run executes one job to settlement. Terminal failures (non-retriable
// or exhausted attempts) are routed to the failure callback and
// consumed; the returned error is non-nil only when shutdown interrupted
// the job, so callers can leave the message unacknowledged.
func (w *worker) run(ctx context.Context, job ingestion.Job) error {
	err := w.attempt(ctx, job)
	if err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.logger.Error("Job failed permanently",
		slog.String("job_id", job.ID),
		slog.String("stage", string(job.Stage)),
		slog.String("ingestion_id", job.IngestionID),
		slog.String("error", err.Error()),
	)

	if w.onFailure != nil {
		w.onFailure(ctx, job, err)
	}

	return nil
}

// attempt runs the handler up to MaxAttempts times, stopping early on
// success, a non-retriable error, or cancellation.
func (w *worker) attempt(ctx context.Context, job ingestion.Job) error {
	var lastErr error

	for n := 1; n <= w.retry.MaxAttempts; n++ {
		lastErr = w.handler(ctx, job)
		if lastErr == nil {
			return nil
		}

		if ingestion.IsNonRetriable(lastErr) {
			return lastErr
		}

		if n == w.retry.MaxAttempts {
			break
		}

		delay := w.retry.Delay(n)

		w.logger.Warn("Job attempt failed",
			slog.String("job_id", job.ID),
			slog.String("stage", string(job.Stage)),
			slog.Int("attempt", n),
			slog.Duration("backoff", delay),
			slog.String("error", lastErr.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()

			return lastErr
		case <-timer.C:
		}
	}

	return lastErr
}
