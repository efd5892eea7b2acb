package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// handleGetDecisions handles GET /api/v1/ingestions/{id}/decisions.
// Returns the ingestion's decision journal in append order: every
// automated choice the pipeline made, every human resolution, and every
// terminal failure, each with its stage and structured details.
//
// Query Parameters:
//   - stage: parse | infer | map | validate | output (optional; default all)
func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	stage := ingestion.Stage(r.URL.Query().Get("stage"))
	if stage != "" && !stage.IsValid() {
		WriteErrorResponse(w, r, s.logger, BadRequest(
			fmt.Sprintf("Invalid parameter 'stage': %q is not a pipeline stage", stage),
		))

		return
	}

	entries, err := s.pipeline.ListDecisions(ctx, id, stage)
	if err != nil {
		if errors.Is(err, ingestion.ErrIngestionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Ingestion not found: "+id))

			return
		}

		s.logger.ErrorContext(ctx, "Failed to list decisions",
			"correlation_id", correlationID,
			"ingestion_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list decisions"))

		return
	}

	response := DecisionListResponse{
		IngestionID: id,
		Stage:       string(stage),
		Decisions:   entries,
		Total:       len(entries),
	}

	s.writeJSON(w, r, http.StatusOK, response)
}
