// Package main provides the Canonizer pipeline worker.
//
// The worker drains the per-stage Kafka job topics and runs the pipeline
// stages against the shared stores. Deployments on the memory queue
// driver do not run this binary; there the API server embeds its own
// worker pool.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/canonizer-io/canonizer/internal/config"
	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/pipeline"
	"github.com/canonizer-io/canonizer/internal/queue"
	"github.com/canonizer-io/canonizer/internal/storage"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "canonizer-worker"
)

// pipelineStages lists the five stages in execution order. Consumer
// startup and logs follow this order so deployments read consistently.
var pipelineStages = []ingestion.Stage{
	ingestion.StageParse,
	ingestion.StageInfer,
	ingestion.StageMap,
	ingestion.StageValidate,
	ingestion.StageOutput,
}

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("CANONIZER_LOG_LEVEL", slog.LevelInfo),
	}))

	logger.Info("Starting Canonizer pipeline worker",
		slog.String("service", name),
		slog.String("version", version),
	)

	queueConfig := queue.LoadConfig()
	if err := queueConfig.Validate(); err != nil {
		logger.Error("Invalid queue configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if queueConfig.Driver != queue.DriverKafka {
		logger.Error("Worker requires the kafka queue driver",
			slog.String("driver", queueConfig.Driver),
			slog.String("note", "memory-queue deployments embed workers in the API server"),
		)
		os.Exit(1)
	}

	workerConfig := LoadWorkerConfig()
	if err := workerConfig.Validate(); err != nil {
		logger.Error("Invalid worker configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Load storage configuration
	storageConfig := storage.LoadConfig()

	dbConn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer func() {
		_ = dbConn.Close() // Ensure connection closes on normal shutdown
	}()

	ingestions, err := storage.NewPersistentIngestionStore(dbConn)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize ingestion store", err)
	}

	schemas, err := storage.NewPersistentSchemaStore(dbConn)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize schema store", err)
	}

	journal, err := storage.NewPersistentJournal(dbConn)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize decision journal", err)
	}

	templates, err := storage.NewPersistentTemplateStore(dbConn)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize template store", err)
	}

	logger.Info("Storage initialized",
		slog.String("database_url", storageConfig.MaskDatabaseURL()),
		slog.Int("database_max_open_conns", storageConfig.MaxOpenConns),
		slog.Int("database_max_idle_conns", storageConfig.MaxIdleConns),
	)

	blobDir := storage.LoadBlobDir()

	blobs, err := storage.NewFilesystemBlobStore(blobDir)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize blob store", err)
	}

	logger.Info("Blob store initialized", slog.String("dir", blobDir))

	// Stages enqueue their successors through the same topics this worker
	// consumes, so the worker is also a producer.
	producer, err := queue.NewKafkaQueue(queueConfig.Brokers, logger)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize Kafka producer", err)
	}

	defer func() {
		_ = producer.Close() // Flush pending handoffs on normal shutdown
	}()

	pipelineConfig := pipeline.LoadConfig()

	pipe, err := pipeline.New(pipelineConfig, pipeline.Deps{
		Ingestions: ingestions,
		Journal:    journal,
		Templates:  templates,
		Blobs:      blobs,
		Queue:      producer,
		Schemas:    schemas,
		Logger:     logger,
	})
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize pipeline", err)
	}

	consumers := make([]*queue.Consumer, 0, workerConfig.Total())

	for _, stage := range pipelineStages {
		for i := 0; i < workerConfig.For(stage); i++ {
			consumer, err := queue.NewConsumer(queue.ConsumerConfig{
				Brokers:   queueConfig.Brokers,
				Stage:     stage,
				Handler:   pipe.Handle,
				OnFailure: pipe.HandleFailure,
				Retry:     queue.DefaultRetryPolicy(),
				Logger:    logger,
			})
			if err != nil {
				fatal(logger, dbConn, "Failed to create stage consumer", err)
			}

			consumers = append(consumers, consumer)
		}

		logger.Info("Stage consumers created",
			slog.String("stage", string(stage)),
			slog.Int("workers", workerConfig.For(stage)),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	for _, consumer := range consumers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := consumer.Run(ctx); err != nil {
				logger.Error("Stage consumer exited", slog.String("error", err.Error()))
			}
		}()
	}

	logger.Info("Pipeline worker running", slog.Int("consumers", len(consumers)))

	<-ctx.Done()

	logger.Info("Received shutdown signal, draining consumers")

	// Close the readers so blocked fetches return; jobs interrupted
	// mid-flight stay uncommitted and are redelivered on restart.
	for _, consumer := range consumers {
		_ = consumer.Close()
	}

	wg.Wait()

	logger.Info("Canonizer pipeline worker stopped")
}

// fatal logs a startup failure, releases the database pool, and exits.
// Deferred cleanup does not run past os.Exit, so the pool is closed here.
func fatal(logger *slog.Logger, conn *storage.Connection, msg string, err error) {
	logger.Error(msg, slog.String("error", err.Error()))

	if conn != nil {
		_ = conn.Close()
	}

	os.Exit(1)
}
