package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/canonizer-io/canonizer/internal/api/middleware"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// multipartMemoryLimit bounds how much of an upload is buffered in
// memory before the multipart reader spills to temp files.
const multipartMemoryLimit = 10 << 20 // 10 MB

// handleCreateIngestion handles CSV upload.
// POST /api/v1/ingestions - Upload a file and start the normalization pipeline
//
// The request is multipart/form-data with a required "file" part and an
// optional "schemaId" field. An absent schemaId selects passthrough mode:
// the file is normalized against its own inferred schema.
//
// Request validation (returns 4xx):
//   - 415 Unsupported Media Type: Content-Type must be multipart/form-data
//   - 413 Payload Too Large: Upload exceeds MaxUploadSize
//   - 400 Bad Request: Malformed form or missing "file" part
//   - 422 Unprocessable Entity: schemaId references an unknown schema
//
// Success responses:
//   - 202 Accepted: Ingestion snapshot; the pipeline continues asynchronously
func (s *Server) handleCreateIngestion(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	ctx := r.Context()
	correlationID := middleware.GetCorrelationID(ctx)

	// Hard cap on the request body. ParseMultipartForm surfaces the
	// violation as *http.MaxBytesError.
	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadSize)

	if err := r.ParseMultipartForm(multipartMemoryLimit); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			WriteErrorResponse(w, r, s.logger, PayloadTooLarge(
				fmt.Sprintf("Upload exceeds maximum size of %d bytes", s.config.MaxUploadSize),
			))

			return
		}

		if errors.Is(err, http.ErrNotMultipart) || errors.Is(err, http.ErrMissingBoundary) {
			WriteErrorResponse(w, r, s.logger, UnsupportedMediaType("Content-Type must be multipart/form-data"))

			return
		}

		WriteErrorResponse(w, r, s.logger, BadRequest("Malformed multipart form: "+err.Error()))

		return
	}

	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		WriteErrorResponse(w, r, s.logger, BadRequest(`Multipart form requires a "file" part`))

		return
	}

	defer func() {
		_ = file.Close()
	}()

	schemaID := strings.TrimSpace(r.FormValue("schemaId"))

	ing, err := s.pipeline.StartIngestion(ctx, file, header.Filename, schemaID)
	if err != nil {
		if errors.Is(err, schema.ErrSchemaNotFound) {
			WriteErrorResponse(w, r, s.logger, UnprocessableEntity("Unknown schema: "+schemaID))

			return
		}

		s.logger.Error("Failed to start ingestion",
			slog.String("correlation_id", correlationID),
			slog.String("filename", header.Filename),
			slog.String("schema_id", schemaID),
			slog.String("error", err.Error()),
		)
		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to start ingestion"))

		return
	}

	s.logger.Info("Ingestion accepted",
		slog.String("correlation_id", correlationID),
		slog.String("ingestion_id", ing.ID),
		slog.String("filename", header.Filename),
		slog.String("schema_id", schemaID),
		slog.Int64("size", header.Size),
		slog.Duration("duration", time.Since(startTime)),
	)

	s.writeJSON(w, r, http.StatusAccepted, ing)
}
