// Package ingestion provides the domain models and persistence interfaces
// for the normalization pipeline.
//
// This package defines the interfaces the pipeline needs for persistence,
// blobs, and job dispatch, following the Dependency Inversion Principle.
// Concrete implementations (PostgreSQL, filesystem, Kafka, in-memory)
// live in internal/storage and internal/queue.
package ingestion

import (
	"context"
	"errors"
	"io"
)

// Sentinel errors returned by store implementations.
var (
	// ErrIngestionNotFound indicates the requested ingestion does not exist.
	ErrIngestionNotFound = errors.New("ingestion not found")

	// ErrTemplateNotFound indicates no mapping template exists for the
	// requested schema + fingerprint pair.
	ErrTemplateNotFound = errors.New("mapping template not found")

	// ErrBlobNotFound indicates the requested blob key does not exist.
	ErrBlobNotFound = errors.New("blob not found")
)

type (
	// Store persists ingestion records.
	//
	// Update replaces the full record; the pipeline's serialization (at
	// most one stage active per ingestion) makes last-write-wins safe.
	Store interface {
		// Create persists a new ingestion record.
		Create(ctx context.Context, ing *Ingestion) error

		// Get loads an ingestion by ID. Returns ErrIngestionNotFound when
		// no such record exists.
		Get(ctx context.Context, id string) (*Ingestion, error)

		// Update replaces the stored record and refreshes updatedAt.
		Update(ctx context.Context, ing *Ingestion) error

		// Delete removes an ingestion record.
		Delete(ctx context.Context, id string) error

		// HealthCheck verifies the store is reachable.
		HealthCheck(ctx context.Context) error
	}

	// Journal is the append-only decision journal.
	//
	// Entries for one ingestion are totally ordered by creation time and
	// strictly monotonic within a stage. ReplaceStage exists for retry
	// idempotency: a stage purges its own prior entries and appends the
	// fresh set in one call, so re-execution never double-counts.
	Journal interface {
		// Append adds a single entry.
		Append(ctx context.Context, entry *DecisionEntry) error

		// ReplaceStage atomically deletes the ingestion's entries for one
		// stage and appends the replacement entries.
		ReplaceStage(ctx context.Context, ingestionID string, stage Stage, entries []DecisionEntry) error

		// List returns the ingestion's entries in order. A non-empty stage
		// filters to that stage only.
		List(ctx context.Context, ingestionID string, stage Stage) ([]DecisionEntry, error)
	}

	// TemplateStore persists mapping templates keyed by schema and source
	// fingerprint. It is consulted only when template reuse is enabled.
	TemplateStore interface {
		// Find returns the template for (schemaID, fingerprint), or
		// ErrTemplateNotFound.
		Find(ctx context.Context, schemaID, fingerprint string) (*MappingTemplate, error)

		// Save upserts a template on (schemaID, fingerprint).
		Save(ctx context.Context, tpl *MappingTemplate) error

		// IncrementUsage bumps usageCount after a template is applied.
		IncrementUsage(ctx context.Context, id string) error
	}

	// BlobStore stores raw uploads and pipeline artifacts. Keys follow the
	// fixed layout raw/<id>.<ext>, parsed/<id>.json, output/<id>.csv,
	// output/<id>.json and output/<id>/{errors,decisions,schema}.json.
	BlobStore interface {
		// Save writes the blob and returns the key it was stored under.
		Save(ctx context.Context, key string, r io.Reader) (string, error)

		// Load reads a whole blob into memory. Returns ErrBlobNotFound for
		// unknown keys.
		Load(ctx context.Context, key string) ([]byte, error)

		// GetPath returns a local filesystem path for streaming re-parse of
		// large blobs. Returns ErrBlobNotFound for unknown keys.
		GetPath(ctx context.Context, key string) (string, error)

		// Delete removes a blob. Deleting a missing key is not an error.
		Delete(ctx context.Context, key string) error

		// Exists reports whether the key is present.
		Exists(ctx context.Context, key string) (bool, error)
	}

	// Queue dispatches stage jobs for asynchronous execution with
	// at-least-once delivery. The job ID is the idempotency key.
	Queue interface {
		Enqueue(ctx context.Context, job Job) error
	}

	// Handler processes one dequeued job. Returning nil acknowledges the
	// job; returning an error triggers the consumer's retry policy unless
	// the error is marked non-retriable.
	Handler func(ctx context.Context, job Job) error

	// FailureHandler runs after a job's retries are exhausted (or after a
	// non-retriable failure). Implementations mark the ingestion failed.
	FailureHandler func(ctx context.Context, job Job, cause error)

	// NonRetriableError marks a handler failure the consumer must not
	// retry, such as the abort error policy firing.
	NonRetriableError struct {
		Err error
	}
)

// Error implements the error interface.
func (e *NonRetriableError) Error() string { return e.Err.Error() }

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *NonRetriableError) Unwrap() error { return e.Err }

// NonRetriable wraps err so the queue consumer fails the job immediately
// instead of retrying.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}

	return &NonRetriableError{Err: err}
}

// IsNonRetriable reports whether err carries the non-retriable marker.
func IsNonRetriable(err error) bool {
	var target *NonRetriableError

	return errors.As(err, &target)
}
