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

	"github.com/google/uuid"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// handleCreateSchema handles canonical schema registration.
// POST /api/v1/schemas - Create a canonical schema from a JSON definition
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be application/json
//   - 413 Payload Too Large: Request body exceeds MaxRequestSize
//   - 400 Bad Request: Empty body or invalid JSON
//   - 422 Unprocessable Entity: Schema fails domain validation
//   - 409 Conflict: A schema with the same name and version exists
//
// Success responses:
//   - 201 Created: The stored schema including its server-assigned ID
func (s *Server) handleCreateSchema(w http.ResponseWriter, r *http.Request) {
	correlationID := middleware.GetCorrelationID(r.Context())

	// Content-Type validation
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be application/json"))

		return
	}

	req, problem := s.parseSchemaRequest(r)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	cs := mapSchemaRequest(req)

	if err := cs.Validate(); err != nil {
		WriteErrorResponse(w, r, s.logger, UnprocessableEntity("Invalid schema: "+err.Error()))

		return
	}

	if err := s.schemas.Create(r.Context(), cs); err != nil {
		if errors.Is(err, schema.ErrDuplicateSchema) {
			WriteErrorResponse(w, r, s.logger,
				Conflict(fmt.Sprintf("Schema %q version %d already exists", cs.Name, cs.Version)))

			return
		}

		s.logger.Error("Failed to create schema",
			slog.String("correlation_id", correlationID),
			slog.String("name", cs.Name),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to create schema"))

		return
	}

	s.logger.Info("Schema created",
		slog.String("correlation_id", correlationID),
		slog.String("schema_id", cs.ID),
		slog.String("name", cs.Name),
		slog.Int("version", cs.Version),
		slog.Int("columns", len(cs.Columns)),
	)

	s.writeJSON(w, r, http.StatusCreated, cs)
}

// parseSchemaRequest parses and validates the HTTP request body.
// Returns the decoded request or a ProblemDetail if parsing fails.
func (s *Server) parseSchemaRequest(r *http.Request) (*SchemaRequest, *ProblemDetail) {
	// Request size check (optimization: fail fast for known oversized requests)
	// Allow unknown sizes (-1) or 0 (empty, caught later)
	if r.ContentLength > 0 && r.ContentLength > s.config.MaxRequestSize {
		return nil, PayloadTooLarge(
			fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize),
		)
	}

	// Empty body check (better UX: specific error message)
	if r.ContentLength == 0 {
		return nil, BadRequest("Request body cannot be empty")
	}

	var req SchemaRequest

	decoder := json.NewDecoder(io.LimitReader(r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(&req); err != nil {
		return nil, BadRequest("Invalid JSON: " + err.Error())
	}

	return &req, nil
}

// mapSchemaRequest maps an API request type to the domain model.
// Server-controlled fields (ID, timestamps) are assigned here; the
// optional version and error policy fall back to the domain defaults.
func mapSchemaRequest(req *SchemaRequest) *schema.CanonicalSchema {
	now := time.Now().UTC()

	cs := &schema.CanonicalSchema{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Version:     req.Version,
		Description: strings.TrimSpace(req.Description),
		Columns:     req.Columns,
		ErrorPolicy: schema.ErrorPolicy(strings.TrimSpace(req.ErrorPolicy)),
		Strict:      req.Strict,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	cs.ApplyDefaults()

	return cs
}
