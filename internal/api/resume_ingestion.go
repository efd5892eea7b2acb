package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/pipeline"
)

// handleResumeIngestion handles review resolution.
// POST /api/v1/ingestions/{id}/resume - Apply human mapping decisions and
// resume a suspended ingestion
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body, invalid JSON, or empty decisions array
//   - 404 Not Found: Unknown ingestion
//   - 409 Conflict: Ingestion is not awaiting review
//   - 422 Unprocessable Entity: Decisions do not resolve the review
//     (incomplete coverage, unknown columns, duplicates, reused targets)
//
// Success responses:
//   - 200 OK: Updated ingestion snapshot; validation continues asynchronously
func (s *Server) handleResumeIngestion(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	// Content-Type validation
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	decisions, problem := s.parseResumeRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	ing, err := s.pipeline.ResumeReview(ctx, id, decisions)
	if err != nil {
		s.writeResumeError(w, r, id, err)

		return
	}

	s.logger.Info("Review resolved",
		slog.String("correlation_id", correlationID),
		slog.String("ingestion_id", id),
		slog.Int("decisions", len(decisions)),
		slog.Duration("duration", time.Since(startTime)),
	)

	s.writeJSON(w, r, http.StatusOK, ing)
}

// parseResumeRequest parses and validates the HTTP request body.
// Returns the mapped domain decisions or a ProblemDetail if parsing fails.
func (s *Server) parseResumeRequest(r *http.Request) ([]ingestion.ReviewDecision, *ProblemDetail) {
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var req ResumeRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	if len(req.Decisions) == 0 {
		return nil, BadRequest("Decisions array cannot be empty")
	}

	// Map API requests to domain models. An empty targetColumn is
	// meaningful (drop the column), so only whitespace is normalized.
	decisions := make([]ingestion.ReviewDecision, len(req.Decisions))
	for i, d := range req.Decisions {
		decisions[i] = ingestion.ReviewDecision{
			SourceColumn: strings.TrimSpace(d.SourceColumn),
			TargetColumn: strings.TrimSpace(d.TargetColumn),
		}
	}

	return decisions, nil
}

// writeResumeError maps orchestrator resume failures onto HTTP statuses.
// Decision validation errors are client errors; the review stays open so
// the client can correct and retry.
func (s *Server) writeResumeError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, ingestion.ErrIngestionNotFound):
		WriteErrorResponse(w, r, s.logger, NotFound("Ingestion not found: "+id))

	case errors.Is(err, pipeline.ErrNotAwaitingReview):
		WriteErrorResponse(w, r, s.logger, Conflict("Ingestion is not awaiting review"))

	case errors.Is(err, pipeline.ErrDecisionsIncomplete),
		errors.Is(err, pipeline.ErrUnknownSourceColumn),
		errors.Is(err, pipeline.ErrUnknownTargetColumn),
		errors.Is(err, pipeline.ErrDuplicateDecision),
		errors.Is(err, pipeline.ErrTargetColumnReused):
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("Invalid decisions: "+err.Error()))

	default:
		s.logger.ErrorContext(r.Context(), "Failed to resume ingestion",
			"correlation_id", middleware.GetCorrelationID(r.Context()),
			"ingestion_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to resume ingestion"))
	}
}
