package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

type (
	// KafkaQueue publishes jobs to the per-stage topics.
	KafkaQueue struct {
		writer *kafka.Writer
		logger *slog.Logger
	}

	// Consumer drains one stage's topic, running each job through the
	// retry worker and committing only after the job settles.
	Consumer struct {
		reader *kafka.Reader
		worker worker
		stage  ingestion.Stage
		logger *slog.Logger
	}

	// ConsumerConfig wires one stage consumer.
	ConsumerConfig struct {
		Brokers   []string
		Stage     ingestion.Stage
		Handler   ingestion.Handler
		OnFailure ingestion.FailureHandler
		Retry     RetryPolicy
		Logger    *slog.Logger
	}
)

var _ ingestion.Queue = (*KafkaQueue)(nil)

// NewKafkaQueue returns a producer for the per-stage job topics.
func NewKafkaQueue(brokers []string, logger *slog.Logger) (*KafkaQueue, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &KafkaQueue{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		logger: logger,
	}, nil
}

// Enqueue publishes the job to its stage topic, keyed by ingestion ID so
// one ingestion's jobs stay ordered within a partition.
func (q *KafkaQueue) Enqueue(ctx context.Context, job ingestion.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job %s: %w", job.ID, err)
	}

	if err := q.writer.WriteMessages(ctx, kafka.Message{
		Topic: TopicFor(job.Stage),
		Key:   []byte(job.IngestionID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish job %s: %w", job.ID, err)
	}

	return nil
}

// Close flushes pending messages and closes the writer.
func (q *KafkaQueue) Close() error {
	return q.writer.Close()
}

// NewConsumer builds the consumer for one stage's topic. Each stage gets
// its own consumer group, so stages scale and rebalance independently.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, ErrNoBrokers
	}

	if !cfg.Stage.IsValid() {
		return nil, fmt.Errorf("%w: %q", ingestion.ErrInvalidStage, cfg.Stage)
	}

	if cfg.Handler == nil {
		return nil, ErrNilHandler
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     GroupFor(cfg.Stage),
			Topic:       TopicFor(cfg.Stage),
			MinBytes:    1,
			MaxBytes:    10 << 20,
			MaxWait:     500 * time.Millisecond,
			StartOffset: kafka.FirstOffset,
		}),
		worker: worker{
			handler:   cfg.Handler,
			onFailure: cfg.OnFailure,
			retry:     cfg.Retry.withDefaults(),
			logger:    logger,
		},
		stage:  cfg.Stage,
		logger: logger,
	}, nil
}

// Run consumes jobs until ctx is canceled or the reader is closed.
// Offsets are committed only after a job settles; shutdown mid-job
// leaves the message uncommitted for redelivery.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Stage consumer started",
		slog.String("stage", string(c.stage)),
		slog.String("topic", TopicFor(c.stage)),
		slog.String("group", GroupFor(c.stage)),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}

			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.process(ctx, msg); err != nil {
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			c.logger.Error("Failed to commit offset",
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()),
			)
		}
	}
}

// process decodes and settles one message. Malformed payloads are
// dropped with a log line; they would fail identically on every
// redelivery.
func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	var job ingestion.Job

	if err := json.Unmarshal(msg.Value, &job); err != nil {
		c.logger.Error("Dropping malformed job payload",
			slog.String("topic", msg.Topic),
			slog.Int64("offset", msg.Offset),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return c.worker.run(ctx, job)
}

// Close stops the reader; a blocked Run returns after Close.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
