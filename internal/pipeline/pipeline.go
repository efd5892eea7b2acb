// Package pipeline implements the five-stage normalization pipeline:
// parse, infer, map, validate, output.
//
// Stages communicate exclusively through persisted state (the ingestion
// record, the parsed-sample blob, and the decision journal), so every
// stage is safe to re-execute from scratch under at-least-once job
// delivery. The orchestrator operations (start, resume, snapshot,
// decisions, output) live on the same Pipeline type and are what the API
// layer calls.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/canonizer-io/canonizer/internal/config"
	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

type (
	// Config carries the pipeline's tunables. LoadConfig fills in the
	// defaults; zero values are rejected by Validate.
	Config struct {
		// InferenceSampleSize caps how many parsed rows are retained for
		// type inference.
		InferenceSampleSize int

		// ConfidenceThreshold is the mapping confidence below which a
		// mapping counts as ambiguous and forces human review.
		ConfidenceThreshold float64

		// TemplatesEnabled turns on mapping-template reuse: resolved
		// reviews are saved and recurring header layouts skip review.
		TemplatesEnabled bool
	}

	// Deps bundles the stores the pipeline works against. Templates may
	// be nil when template reuse is disabled; everything else is required.
	Deps struct {
		Ingestions ingestion.Store
		Journal    ingestion.Journal
		Templates  ingestion.TemplateStore
		Blobs      ingestion.BlobStore
		Queue      ingestion.Queue
		Schemas    schema.Store
		Logger     *slog.Logger
	}

	// Pipeline owns stage execution and the orchestrator operations.
	Pipeline struct {
		ingestions ingestion.Store
		journal    ingestion.Journal
		templates  ingestion.TemplateStore
		blobs      ingestion.BlobStore
		queue      ingestion.Queue
		schemas    schema.Store
		config     Config
		logger     *slog.Logger
	}
)

// Environment variables configuring the pipeline.
const (
	EnvInferenceSampleSize = "CANONIZER_INFERENCE_SAMPLE_SIZE"
	EnvConfidenceThreshold = "CANONIZER_CONFIDENCE_THRESHOLD"
	EnvTemplatesEnabled    = "CANONIZER_MAPPING_TEMPLATES_ENABLED"
)

// Tunable defaults and fixed algorithm constants.
const (
	defaultInferenceSampleSize = 1000
	defaultConfidenceThreshold = 0.8

	// fuzzyMinSimilarity is the floor below which a fuzzy candidate is
	// discarded entirely.
	fuzzyMinSimilarity = 0.5

	// alternativeMinSimilarity is the floor for review alternatives.
	alternativeMinSimilarity = 0.4

	// maxAlternatives bounds how many alternatives a mapping carries.
	maxAlternatives = 3

	// journaledRowErrorCap bounds the row-error sample embedded in the
	// validation_complete journal entry. The full list lives in the
	// validation result and the errors.json artifact.
	journaledRowErrorCap = 10
)

// Sentinel errors surfaced by orchestrator operations and stages.
var (
	ErrNilDependency       = errors.New("pipeline dependency is required")
	ErrNotAwaitingReview   = errors.New("ingestion is not awaiting review")
	ErrOutputNotReady      = errors.New("ingestion is not complete")
	ErrUnsupportedFormat   = errors.New("unsupported output format")
	ErrMissingStageInput   = errors.New("missing predecessor output")
	ErrDecisionsIncomplete = errors.New("decisions do not cover all ambiguous mappings")
	ErrUnknownSourceColumn = errors.New("decision references an unknown source column")
	ErrUnknownTargetColumn = errors.New("decision references an unknown target column")
	ErrDuplicateDecision   = errors.New("duplicate decision for source column")
	ErrTargetColumnReused  = errors.New("target column bound more than once")
	ErrAbortPolicy         = errors.New("abort error policy triggered")
)

// LoadConfig reads the pipeline tunables from the environment.
func LoadConfig() Config {
	return Config{
		InferenceSampleSize: config.GetEnvInt(EnvInferenceSampleSize, defaultInferenceSampleSize),
		ConfidenceThreshold: config.GetEnvFloat(EnvConfidenceThreshold, defaultConfidenceThreshold),
		TemplatesEnabled:    config.GetEnvBool(EnvTemplatesEnabled, false),
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.InferenceSampleSize <= 0 {
		return fmt.Errorf("inference sample size must be positive, got %d", c.InferenceSampleSize)
	}

	if c.ConfidenceThreshold <= 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0,1], got %v", c.ConfidenceThreshold)
	}

	return nil
}

// New creates a Pipeline after validating the configuration and the
// required dependencies. A nil Templates store is allowed only while
// template reuse is disabled.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}

	if deps.Ingestions == nil || deps.Journal == nil || deps.Blobs == nil ||
		deps.Queue == nil || deps.Schemas == nil {
		return nil, ErrNilDependency
	}

	if cfg.TemplatesEnabled && deps.Templates == nil {
		return nil, fmt.Errorf("%w: template store (template reuse is enabled)", ErrNilDependency)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("CANONIZER_LOG_LEVEL", slog.LevelInfo),
		}))
	}

	return &Pipeline{
		ingestions: deps.Ingestions,
		journal:    deps.Journal,
		templates:  deps.Templates,
		blobs:      deps.Blobs,
		queue:      deps.Queue,
		schemas:    deps.Schemas,
		config:     cfg,
		logger:     logger,
	}, nil
}

// Blob keys follow a fixed layout so retried stages overwrite their own
// artifacts instead of accumulating copies.
func parsedKey(id string) string     { return "parsed/" + id + ".json" }
func outputCSVKey(id string) string  { return "output/" + id + ".csv" }
func outputJSONKey(id string) string { return "output/" + id + ".json" }
func errorsKey(id string) string     { return "output/" + id + "/errors.json" }
func decisionsKey(id string) string  { return "output/" + id + "/decisions.json" }
func schemaKey(id string) string     { return "output/" + id + "/schema.json" }

// transition validates and persists a status change, refreshing
// updatedAt. The caller journals the stage's entries separately.
func (p *Pipeline) transition(ctx context.Context, ing *ingestion.Ingestion, to ingestion.Status) error {
	if err := ingestion.ValidateTransition(ing.Status, to); err != nil {
		return err
	}

	from := ing.Status
	ing.Status = to
	ing.UpdatedAt = time.Now().UTC()

	if err := p.ingestions.Update(ctx, ing); err != nil {
		ing.Status = from

		return fmt.Errorf("failed to persist status %s: %w", to, err)
	}

	return nil
}

// entry builds a journal entry stamped with the current time.
func entry(ingestionID string, stage ingestion.Stage, decisionType string, details map[string]any) ingestion.DecisionEntry {
	return ingestion.DecisionEntry{
		IngestionID:  ingestionID,
		Stage:        stage,
		DecisionType: decisionType,
		Details:      details,
		CreatedAt:    time.Now().UTC(),
	}
}

// loadSchema fetches the ingestion's canonical schema, or nil in
// passthrough mode.
func (p *Pipeline) loadSchema(ctx context.Context, ing *ingestion.Ingestion) (*schema.CanonicalSchema, error) {
	if ing.SchemaID == "" {
		return nil, nil
	}

	s, err := p.schemas.Get(ctx, ing.SchemaID)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema %s: %w", ing.SchemaID, err)
	}

	return s, nil
}
