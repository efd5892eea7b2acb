package api

import (
	"errors"
	"net/http"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// handleGetIngestion handles GET /api/v1/ingestions/{id}.
// Returns the current snapshot of an ingestion: status, stage results,
// row counts, and the failure reason for failed runs. Clients poll this
// endpoint to track pipeline progress and detect the awaiting_review
// suspension.
func (s *Server) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	ing, err := s.pipeline.GetIngestion(ctx, id)
	if err != nil {
		if errors.Is(err, ingestion.ErrIngestionNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Ingestion not found: "+id))

			return
		}

		s.logger.ErrorContext(ctx, "Failed to load ingestion",
			"correlation_id", correlationID,
			"ingestion_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load ingestion"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, ing)
}
