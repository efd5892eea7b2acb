package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/pipeline"
)

// handleGetOutput handles GET /api/v1/ingestions/{id}/output.
// Streams the normalized output artifact of a completed ingestion.
//
// Query Parameters:
//   - format: csv | json (default: csv)
//
// Response codes:
//   - 200 OK: Artifact bytes with the format's content type
//   - 400 Bad Request: Unknown format
//   - 404 Not Found: Unknown ingestion
//   - 409 Conflict: Ingestion has not completed yet
func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	format := r.URL.Query().Get("format")
	if format == "" {
		format = pipeline.FormatCSV
	}

	data, contentType, err := s.pipeline.FetchOutput(ctx, id, format)
	if err != nil {
		switch {
		case errors.Is(err, ingestion.ErrIngestionNotFound):
			WriteErrorResponse(w, r, s.logger, NotFound("Ingestion not found: "+id))

		case errors.Is(err, pipeline.ErrOutputNotReady):
			WriteErrorResponse(w, r, s.logger, Conflict("Ingestion output is not ready"))

		case errors.Is(err, pipeline.ErrUnsupportedFormat):
			WriteErrorResponse(w, r, s.logger, BadRequest(
				fmt.Sprintf("Invalid parameter 'format': %q, must be csv or json", format),
			))

		default:
			s.logger.ErrorContext(ctx, "Failed to fetch output",
				"correlation_id", correlationID,
				"ingestion_id", id,
				"format", format,
				"error", err.Error(),
			)
			WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to fetch output"))
		}

		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", id+"."+format))
	w.WriteHeader(http.StatusOK)

	if _, err := w.Write(data); err != nil {
		s.logger.ErrorContext(ctx, "Failed to write output response",
			"correlation_id", correlationID,
			"ingestion_id", id,
			"error", err.Error(),
		)
	}
}
