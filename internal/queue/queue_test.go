package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testJob() ingestion.Job {
	return ingestion.NewJob(ingestion.StageParse, "ing-1", false)
}

func TestRetryPolicy_Delay(t *testing.T) {
	r := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Second}

	assert.Equal(t, time.Second, r.Delay(1))
	assert.Equal(t, 2*time.Second, r.Delay(2))
	assert.Equal(t, 4*time.Second, r.Delay(3))

	// Out-of-range attempts clamp to the base delay.
	assert.Equal(t, time.Second, r.Delay(0))
}

func TestRetryPolicy_WithDefaults(t *testing.T) {
	r := RetryPolicy{}.withDefaults()

	assert.Equal(t, defaultMaxAttempts, r.MaxAttempts)
	assert.Equal(t, defaultBaseDelay, r.BaseDelay)

	custom := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}.withDefaults()
	assert.Equal(t, 5, custom.MaxAttempts)
	assert.Equal(t, time.Millisecond, custom.BaseDelay)
}

func TestTopicNaming(t *testing.T) {
	assert.Equal(t, "canonizer.jobs.parse", TopicFor(ingestion.StageParse))
	assert.Equal(t, "canonizer.jobs.output", TopicFor(ingestion.StageOutput))
	assert.Equal(t, "canonizer-workers-validate", GroupFor(ingestion.StageValidate))
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{Driver: DriverMemory}.Validate())
	assert.NoError(t, Config{Driver: DriverKafka, Brokers: []string{"localhost:9092"}}.Validate())
	assert.ErrorIs(t, Config{Driver: DriverKafka}.Validate(), ErrNoBrokers)
	assert.ErrorIs(t, Config{Driver: "rabbit"}.Validate(), ErrUnknownDriver)
}

func TestLoadConfig(t *testing.T) {
	t.Setenv(EnvQueueDriver, DriverKafka)
	t.Setenv(EnvKafkaBrokers, "broker-1:9092, broker-2:9092")

	cfg := LoadConfig()

	assert.Equal(t, DriverKafka, cfg.Driver)
	assert.Equal(t, []string{"broker-1:9092", "broker-2:9092"}, cfg.Brokers)
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, DriverMemory, cfg.Driver)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
}

func TestNewKafkaQueue_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaQueue(nil, discardLogger())
	assert.ErrorIs(t, err, ErrNoBrokers)
}

func TestNewConsumer_Validation(t *testing.T) {
	handler := func(context.Context, ingestion.Job) error { return nil }

	tests := []struct {
		name string
		cfg  ConsumerConfig
		want error
	}{
		{
			name: "missing brokers",
			cfg:  ConsumerConfig{Stage: ingestion.StageParse, Handler: handler},
			want: ErrNoBrokers,
		},
		{
			name: "invalid stage",
			cfg:  ConsumerConfig{Brokers: []string{"localhost:9092"}, Stage: "shuffle", Handler: handler},
			want: ingestion.ErrInvalidStage,
		},
		{
			name: "missing handler",
			cfg:  ConsumerConfig{Brokers: []string{"localhost:9092"}, Stage: ingestion.StageParse},
			want: ErrNilHandler,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewConsumer(tt.cfg)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	var calls atomic.Int32

	w := worker{
		handler: func(context.Context, ingestion.Job) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}

			return nil
		},
		retry:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		logger: discardLogger(),
	}

	require.NoError(t, w.run(context.Background(), testJob()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWorker_NonRetriableShortCircuits(t *testing.T) {
	var calls, failures atomic.Int32

	cause := errors.New("bad input")

	w := worker{
		handler: func(context.Context, ingestion.Job) error {
			calls.Add(1)

			return ingestion.NonRetriable(cause)
		},
		onFailure: func(_ context.Context, _ ingestion.Job, err error) {
			failures.Add(1)
			assert.ErrorIs(t, err, cause)
		},
		retry:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		logger: discardLogger(),
	}

	require.NoError(t, w.run(context.Background(), testJob()))
	assert.Equal(t, int32(1), calls.Load(), "non-retriable errors must not be retried")
	assert.Equal(t, int32(1), failures.Load())
}

func TestWorker_ExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32

	var gotCause error

	w := worker{
		handler: func(context.Context, ingestion.Job) error {
			calls.Add(1)

			return errors.New("still broken")
		},
		onFailure: func(_ context.Context, _ ingestion.Job, err error) {
			gotCause = err
		},
		retry:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond},
		logger: discardLogger(),
	}

	require.NoError(t, w.run(context.Background(), testJob()))
	assert.Equal(t, int32(3), calls.Load())
	require.Error(t, gotCause)
	assert.Equal(t, "still broken", gotCause.Error())
}

func TestWorker_ShutdownSkipsFailureCallback(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var failures atomic.Int32

	w := worker{
		handler: func(context.Context, ingestion.Job) error {
			// Shutdown arrives while the job is failing.
			cancel()

			return errors.New("transient")
		},
		onFailure: func(context.Context, ingestion.Job, error) {
			failures.Add(1)
		},
		retry:  RetryPolicy{MaxAttempts: 3, BaseDelay: time.Minute},
		logger: discardLogger(),
	}

	err := w.run(ctx, testJob())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), failures.Load(), "interrupted jobs must not be marked failed")
}

func TestMemoryQueue_ProcessesJobs(t *testing.T) {
	q := NewMemoryQueue(8, discardLogger())

	processed := make(chan ingestion.Job, 8)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q.Start(ctx, WorkerOptions{
		Workers: 2,
		Handler: func(_ context.Context, job ingestion.Job) error {
			processed <- job

			return nil
		},
		Retry: RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond},
	})

	stages := []ingestion.Stage{ingestion.StageParse, ingestion.StageInfer, ingestion.StageMap}
	for _, stage := range stages {
		require.NoError(t, q.Enqueue(ctx, ingestion.NewJob(stage, "ing-1", false)))
	}

	seen := make(map[ingestion.Stage]bool)

	for range stages {
		select {
		case job := <-processed:
			seen[job.Stage] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for jobs")
		}
	}

	assert.Len(t, seen, len(stages))
	require.NoError(t, q.Close())
}

func TestMemoryQueue_RoutesFailures(t *testing.T) {
	q := NewMemoryQueue(4, discardLogger())

	failures := make(chan error, 1)

	q.Start(context.Background(), WorkerOptions{
		Workers: 1,
		Handler: func(context.Context, ingestion.Job) error {
			return ingestion.NonRetriable(errors.New("poison"))
		},
		OnFailure: func(_ context.Context, _ ingestion.Job, cause error) {
			failures <- cause
		},
		Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond},
	})

	require.NoError(t, q.Enqueue(context.Background(), ingestion.NewJob(ingestion.StageOutput, "ing-9", false)))

	select {
	case cause := <-failures:
		assert.Contains(t, cause.Error(), "poison")
	case <-time.After(5 * time.Second):
		t.Fatal("failure callback never ran")
	}

	require.NoError(t, q.Close())
}

func TestMemoryQueue_CloseStopsIntake(t *testing.T) {
	q := NewMemoryQueue(1, discardLogger())
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), testJob())
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Closing twice is fine.
	require.NoError(t, q.Close())
}

func TestMemoryQueue_RejectsInvalidJobs(t *testing.T) {
	q := NewMemoryQueue(1, discardLogger())
	defer q.Close()

	assert.Error(t, q.Enqueue(context.Background(), ingestion.Job{}))
}

func TestMemoryQueue_FullBufferFailsFast(t *testing.T) {
	// No workers: the single buffer slot fills and stays full.
	q := NewMemoryQueue(1, discardLogger())
	defer q.Close()

	require.NoError(t, q.Enqueue(context.Background(), ingestion.NewJob(ingestion.StageParse, "a", false)))
	assert.ErrorIs(t, q.Enqueue(context.Background(), ingestion.NewJob(ingestion.StageParse, "b", false)), ErrQueueFull)
}
