package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// Output formats served by FetchOutput.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// rawExtPattern accepts short alphanumeric filename extensions; anything
// else falls back to csv so user input never shapes a blob key.
var rawExtPattern = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

// StartIngestion stores the upload, creates the ingestion record, and
// dispatches the parse job. An empty schemaID selects passthrough mode.
func (p *Pipeline) StartIngestion(ctx context.Context, file io.Reader, originalFilename, schemaID string) (*ingestion.Ingestion, error) {
	if schemaID != "" {
		if _, err := p.schemas.Get(ctx, schemaID); err != nil {
			return nil, fmt.Errorf("failed to load schema %s: %w", schemaID, err)
		}
	}

	id := uuid.NewString()

	key, err := p.blobs.Save(ctx, rawKey(id, originalFilename), file)
	if err != nil {
		return nil, fmt.Errorf("failed to store upload: %w", err)
	}

	now := time.Now().UTC()
	ing := &ingestion.Ingestion{
		ID:               id,
		SchemaID:         schemaID,
		Status:           ingestion.StatusPending,
		RawFileKey:       key,
		OriginalFilename: originalFilename,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := p.ingestions.Create(ctx, ing); err != nil {
		return nil, fmt.Errorf("failed to create ingestion: %w", err)
	}

	if err := p.transition(ctx, ing, ingestion.StatusParsing); err != nil {
		return nil, err
	}

	if err := p.queue.Enqueue(ctx, ingestion.NewJob(ingestion.StageParse, id, false)); err != nil {
		enqueueErr := fmt.Errorf("failed to enqueue parse job: %w", err)
		p.failIngestion(ctx, ing, enqueueErr)

		return nil, enqueueErr
	}

	p.logger.Info("Ingestion started",
		slog.String("ingestion_id", id),
		slog.String("schema_id", schemaID),
		slog.String("filename", originalFilename),
	)

	return ing, nil
}

// ResumeReview applies human mapping decisions to a suspended ingestion
// and dispatches validation. Decision errors surface synchronously with
// no state change.
func (p *Pipeline) ResumeReview(ctx context.Context, id string, decisions []ingestion.ReviewDecision) (*ingestion.Ingestion, error) {
	ing, err := p.ingestions.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if ing.Status != ingestion.StatusAwaitingReview {
		return nil, fmt.Errorf("%w: ingestion %s is %s", ErrNotAwaitingReview, id, ing.Status)
	}

	target, err := p.loadSchema(ctx, ing)
	if err != nil {
		return nil, err
	}

	if target == nil || ing.MappingResult == nil {
		return nil, fmt.Errorf("%w: mapping result for %s", ErrMissingStageInput, id)
	}

	merged, err := applyReviewDecisions(ing.MappingResult, decisions, target, p.config.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	for _, d := range decisions {
		resolved := entry(id, ingestion.StageMap, ingestion.DecisionHumanResolved, map[string]any{
			"sourceColumn": d.SourceColumn,
			"targetColumn": d.TargetColumn,
		})

		if err := p.journal.Append(ctx, &resolved); err != nil {
			return nil, fmt.Errorf("failed to journal review decision: %w", err)
		}
	}

	ing.MappingResult = merged

	if err := p.transition(ctx, ing, ingestion.StatusMapping); err != nil {
		return nil, err
	}

	if err := p.transition(ctx, ing, ingestion.StatusValidating); err != nil {
		return nil, err
	}

	p.saveTemplate(ctx, ing, merged)

	if err := p.queue.Enqueue(ctx, ingestion.NewJob(ingestion.StageValidate, id, true)); err != nil {
		enqueueErr := fmt.Errorf("failed to enqueue validate job: %w", err)
		p.failIngestion(ctx, ing, enqueueErr)

		return nil, enqueueErr
	}

	p.logger.Info("Review resolved",
		slog.String("ingestion_id", id),
		slog.Int("decisions", len(decisions)),
	)

	return ing, nil
}

// GetIngestion returns the current snapshot of an ingestion.
func (p *Pipeline) GetIngestion(ctx context.Context, id string) (*ingestion.Ingestion, error) {
	return p.ingestions.Get(ctx, id)
}

// ListDecisions returns the ingestion's journal entries in order,
// optionally filtered to one stage. The ingestion is loaded first so
// unknown IDs fail with not-found instead of an empty journal.
func (p *Pipeline) ListDecisions(ctx context.Context, id string, stage ingestion.Stage) ([]ingestion.DecisionEntry, error) {
	if _, err := p.ingestions.Get(ctx, id); err != nil {
		return nil, err
	}

	return p.journal.List(ctx, id, stage)
}

// FetchOutput returns the bytes and content type of a completed
// ingestion's output artifact.
func (p *Pipeline) FetchOutput(ctx context.Context, id, format string) ([]byte, string, error) {
	ing, err := p.ingestions.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if ing.Status != ingestion.StatusComplete {
		return nil, "", fmt.Errorf("%w: ingestion %s is %s", ErrOutputNotReady, id, ing.Status)
	}

	switch format {
	case FormatCSV:
		data, err := p.blobs.Load(ctx, outputCSVKey(id))
		if err != nil {
			return nil, "", fmt.Errorf("failed to load output CSV: %w", err)
		}

		return data, "text/csv; charset=utf-8", nil

	case FormatJSON:
		data, err := p.blobs.Load(ctx, outputJSONKey(id))
		if err != nil {
			return nil, "", fmt.Errorf("failed to load output JSON: %w", err)
		}

		return data, "application/json", nil

	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// failIngestion is the best-effort terminal mark used when a pipeline
// handoff cannot be dispatched.
func (p *Pipeline) failIngestion(ctx context.Context, ing *ingestion.Ingestion, cause error) {
	ing.Error = cause.Error()

	if err := p.transition(ctx, ing, ingestion.StatusFailed); err != nil {
		p.logger.Error("Failed to mark ingestion failed",
			slog.String("ingestion_id", ing.ID),
			slog.String("error", err.Error()),
		)
	}
}

// rawKey derives the raw blob key from the upload's filename extension.
func rawKey(id, filename string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !rawExtPattern.MatchString(ext) {
		ext = "csv"
	}

	return "raw/" + id + "." + ext
}
