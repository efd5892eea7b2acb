// Package main provides the Canonizer CSV normalization service.
//
// The binary hosts the HTTP API over the ingestion pipeline. With the
// memory queue driver it also embeds the stage workers, so one process
// runs the whole pipeline; with the kafka driver it only produces jobs
// and a separate worker deployment drains them.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/canonizer-io/canonizer/internal/api"
	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/config"
	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/pipeline"
	"github.com/canonizer-io/canonizer/internal/queue"
	"github.com/canonizer-io/canonizer/internal/schema"
	"github.com/canonizer-io/canonizer/internal/storage"
)

// Version information.
const (
	version = "0.1.0-dev"
	name    = "canonizer"
)

// EnvEmbeddedWorkers sizes the embedded worker pool used with the memory
// queue driver.
const EnvEmbeddedWorkers = "CANONIZER_QUEUE_WORKERS"

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: serverConfig.LogLevel,
	}))

	logger.Info("Starting Canonizer service",
		slog.String("service", name),
		slog.String("version", version),
	)

	logger.Info("Loaded server configuration",
		slog.String("host", serverConfig.Host),
		slog.Int("port", serverConfig.Port),
		slog.Duration("read_timeout", serverConfig.ReadTimeout),
		slog.Duration("write_timeout", serverConfig.WriteTimeout),
		slog.Duration("shutdown_timeout", serverConfig.ShutdownTimeout),
		slog.String("log_level", serverConfig.LogLevel.String()),
	)

	// Load rate limiter configuration
	middlewareConfig := middleware.LoadConfig()

	// Create rate limiter instance (graceful shutdown handled by server.shutdown())
	rateLimiter := middleware.NewInMemoryRateLimiter(middlewareConfig)

	logger.Info("Rate limiter initialized",
		slog.Int("global_rps", middlewareConfig.GlobalRPS),
		slog.Int("global_burst", middlewareConfig.GlobalBurst),
		slog.Int("client_rps", middlewareConfig.ClientRPS),
		slog.Int("client_burst", middlewareConfig.ClientBurst),
		slog.Int("unauth_rps", middlewareConfig.UnAuthRPS),
		slog.Int("unauth_burst", middlewareConfig.UnAuthBurst),
	)

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
		slog.Duration("database_conn_max_lifetime", storageConfig.ConnMaxLifetime),
		slog.Duration("database_conn_max_idle_time", storageConfig.ConnMaxIdleTime),
	)

	blobDir := storage.LoadBlobDir()

	blobs, err := storage.NewFilesystemBlobStore(blobDir)
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize blob store", err)
	}

	logger.Info("Blob store initialized", slog.String("dir", blobDir))

	var apiKeyStore storage.APIKeyStore

	authEnabled := config.GetEnvBool("CANONIZER_AUTH_ENABLED", false)
	if authEnabled {
		apiKeyStore, err = storage.NewPersistentKeyStore(dbConn)
		if err != nil {
			fatal(logger, dbConn, "Failed to connect to persistent key store", err)
		}

		logger.Info("Client authentication enabled",
			slog.String("database_url", storageConfig.MaskDatabaseURL()),
		)
	} else {
		logger.Warn("Client authentication disabled",
			slog.String("security", "Only use in trusted networks (localhost, VPN, internal)"),
			slog.String("note", "Set CANONIZER_AUTH_ENABLED=true to enable API key authentication"),
		)
	}

	queueConfig := queue.LoadConfig()
	if err := queueConfig.Validate(); err != nil {
		fatal(logger, dbConn, "Invalid queue configuration", err)
	}

	var (
		jobQueue ingestion.Queue
		memQueue *queue.MemoryQueue
	)

	switch queueConfig.Driver {
	case queue.DriverKafka:
		kafkaQueue, err := queue.NewKafkaQueue(queueConfig.Brokers, logger)
		if err != nil {
			fatal(logger, dbConn, "Failed to initialize Kafka queue", err)
		}

		defer func() {
			_ = kafkaQueue.Close() // Flush pending jobs on normal shutdown
		}()

		jobQueue = kafkaQueue

		logger.Info("Kafka queue initialized",
			slog.Any("brokers", queueConfig.Brokers),
			slog.String("note", "stage jobs are processed by the worker deployment"),
		)
	default:
		memQueue = queue.NewMemoryQueue(0, logger)

		defer func() {
			_ = memQueue.Close() // Drain in-flight jobs on normal shutdown
		}()

		jobQueue = memQueue
	}

	pipelineConfig := pipeline.LoadConfig()

	pipe, err := pipeline.New(pipelineConfig, pipeline.Deps{
		Ingestions: ingestions,
		Journal:    journal,
		Templates:  templates,
		Blobs:      blobs,
		Queue:      jobQueue,
		Schemas:    schemas,
		Logger:     logger,
	})
	if err != nil {
		fatal(logger, dbConn, "Failed to initialize pipeline", err)
	}

	logger.Info("Pipeline initialized",
		slog.Int("inference_sample_size", pipelineConfig.InferenceSampleSize),
		slog.Float64("confidence_threshold", pipelineConfig.ConfidenceThreshold),
		slog.Bool("templates_enabled", pipelineConfig.TemplatesEnabled),
	)

	if memQueue != nil {
		memQueue.Start(context.Background(), queue.WorkerOptions{
			Workers:   config.GetEnvInt(EnvEmbeddedWorkers, 0),
			Handler:   pipe.Handle,
			OnFailure: pipe.HandleFailure,
			Retry:     queue.DefaultRetryPolicy(),
		})

		logger.Info("Embedded pipeline workers started",
			slog.String("driver", queue.DriverMemory),
		)
	}

	registered, err := schema.SyncDir(context.Background(), schemas)
	if err != nil {
		fatal(logger, dbConn, "Failed to sync schema registry", err)
	}

	if registered > 0 {
		logger.Info("Schema registry synced", slog.Int("schemas", registered))
	}

	server := api.NewServer(serverConfig, api.Deps{
		Pipeline:    pipe,
		Schemas:     schemas,
		Ingestions:  ingestions,
		APIKeyStore: apiKeyStore,
		RateLimiter: rateLimiter,
	})

	if err := server.Start(); err != nil {
		logger.Error("Server failed to start",
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	logger.Info("Canonizer service stopped")
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
