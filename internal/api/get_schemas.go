package api

import (
	"errors"
	"net/http"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// handleListSchemas handles GET /api/v1/schemas.
// Returns every registered canonical schema ordered by name then version.
func (s *Server) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	schemas, err := s.schemas.List(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list schemas",
			"correlation_id", correlationID,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to list schemas"))

		return
	}

	response := SchemaListResponse{
		Schemas: schemas,
		Total:   len(schemas),
	}

	s.writeJSON(w, r, http.StatusOK, response)
}

// handleGetSchema handles GET /api/v1/schemas/{id}.
// Returns a single canonical schema by ID.
func (s *Server) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	cs, err := s.schemas.Get(ctx, id)
	if err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Schema not found: "+id))

			return
		}

		s.logger.ErrorContext(ctx, "Failed to load schema",
			"correlation_id", correlationID,
			"schema_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to load schema"))

		return
	}

	s.writeJSON(w, r, http.StatusOK, cs)
}

// handleDeleteSchema handles DELETE /api/v1/schemas/{id}.
// Removes a canonical schema. Existing ingestions keep the schema
// snapshot they were validated against, so deletion never rewrites
// history.
func (s *Server) handleDeleteSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)
	id := r.PathValue("id")

	if err := s.schemas.Delete(ctx, id); err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			WriteErrorResponse(w, r, s.logger, NotFound("Schema not found: "+id))

			return
		}

		s.logger.ErrorContext(ctx, "Failed to delete schema",
			"correlation_id", correlationID,
			"schema_id", id,
			"error", err.Error(),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to delete schema"))

		return
	}

	s.logger.InfoContext(ctx, "Schema deleted",
		"correlation_id", correlationID,
		"schema_id", id,
	)

	w.WriteHeader(http.StatusNoContent)
}
