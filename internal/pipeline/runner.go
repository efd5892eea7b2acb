package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// stageSuccessor maps each stage to the job that follows it on the happy
// path. Output has no successor; map's fork into awaiting_review needs no
// entry because a suspended ingestion waits for a human, not a job.
var stageSuccessor = map[ingestion.Stage]ingestion.Stage{
	ingestion.StageParse:    ingestion.StageInfer,
	ingestion.StageInfer:    ingestion.StageMap,
	ingestion.StageMap:      ingestion.StageValidate,
	ingestion.StageValidate: ingestion.StageOutput,
}

// Handle executes one dequeued stage job. It classifies the job against
// the persisted status first: redeliveries for finished stages are
// acknowledged (repeating the successor enqueue when the handoff may have
// been lost), and deliveries that arrive ahead of the record are left to
// the consumer's retry policy.
func (p *Pipeline) Handle(ctx context.Context, job ingestion.Job) error {
	if err := job.Validate(); err != nil {
		return ingestion.NonRetriable(fmt.Errorf("invalid job: %w", err))
	}

	ing, err := p.ingestions.Get(ctx, job.IngestionID)
	if err != nil {
		if errors.Is(err, ingestion.ErrIngestionNotFound) {
			return ingestion.NonRetriable(err)
		}

		return fmt.Errorf("failed to load ingestion %s: %w", job.IngestionID, err)
	}

	active := job.Stage.ActiveStatus()

	switch {
	case ing.Status == active:
		return p.runStage(ctx, job, ing)

	case ing.Status.Rank() > active.Rank():
		return p.heal(ctx, job, ing)

	default:
		return fmt.Errorf("ingestion %s is %s, not ready for stage %s", ing.ID, ing.Status, job.Stage)
	}
}

// runStage dispatches the job to its stage implementation.
func (p *Pipeline) runStage(ctx context.Context, job ingestion.Job, ing *ingestion.Ingestion) error {
	switch job.Stage {
	case ingestion.StageParse:
		return p.runParse(ctx, ing)
	case ingestion.StageInfer:
		return p.runInfer(ctx, ing)
	case ingestion.StageMap:
		return p.runMap(ctx, ing)
	case ingestion.StageValidate:
		return p.runValidate(ctx, ing)
	case ingestion.StageOutput:
		return p.runOutput(ctx, ing)
	default:
		return ingestion.NonRetriable(fmt.Errorf("%w: %q", ingestion.ErrInvalidStage, job.Stage))
	}
}

// heal handles a redelivered job whose stage already completed. When the
// record sits exactly on the successor's active status, the handoff
// enqueue may have been lost and is repeated; deterministic job IDs keep
// the repeat idempotent. Anything further along is acknowledged as done.
func (p *Pipeline) heal(ctx context.Context, job ingestion.Job, ing *ingestion.Ingestion) error {
	if next, ok := stageSuccessor[job.Stage]; ok && ing.Status == next.ActiveStatus() {
		p.logger.Info("Repeating successor enqueue for redelivered job",
			slog.String("job_id", job.ID),
			slog.String("ingestion_id", ing.ID),
			slog.String("status", string(ing.Status)),
		)

		return p.queue.Enqueue(ctx, ingestion.NewJob(next, ing.ID, false))
	}

	p.logger.Info("Ignoring redelivered job for finished stage",
		slog.String("job_id", job.ID),
		slog.String("ingestion_id", ing.ID),
		slog.String("status", string(ing.Status)),
	)

	return nil
}

// HandleFailure marks the ingestion failed after a job's retries are
// exhausted. It is the queue consumer's terminal callback, so it only
// logs its own errors.
func (p *Pipeline) HandleFailure(ctx context.Context, job ingestion.Job, cause error) {
	ing, err := p.ingestions.Get(ctx, job.IngestionID)
	if err != nil {
		p.logger.Error("Failed to load ingestion for failure handling",
			slog.String("job_id", job.ID),
			slog.String("ingestion_id", job.IngestionID),
			slog.String("error", err.Error()),
		)

		return
	}

	if ing.Status.IsTerminal() {
		return
	}

	ing.Error = cause.Error()

	if err := p.transition(ctx, ing, ingestion.StatusFailed); err != nil {
		p.logger.Error("Failed to mark ingestion failed",
			slog.String("ingestion_id", ing.ID),
			slog.String("error", err.Error()),
		)

		return
	}

	failure := entry(ing.ID, job.Stage, ingestion.DecisionStageFailed, map[string]any{
		"jobId": job.ID,
		"error": cause.Error(),
	})

	if err := p.journal.Append(ctx, &failure); err != nil {
		p.logger.Error("Failed to journal stage failure",
			slog.String("ingestion_id", ing.ID),
			slog.String("error", err.Error()),
		)
	}

	p.logger.Error("Ingestion failed",
		slog.String("ingestion_id", ing.ID),
		slog.String("stage", string(job.Stage)),
		slog.String("error", cause.Error()),
	)
}
