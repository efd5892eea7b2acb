// Package api provides the HTTP API server for the Canonizer service.
package api

import (
	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

type (
	// Version represents the API version response structure.
	Version struct {
		Version     string `json:"version"`
		ServiceName string `json:"serviceName"`
		BuildInfo   string `json:"buildInfo,omitempty"`
	}

	// HealthStatus represents the health check response structure.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// SchemaRequest is the payload of POST /api/v1/schemas.
	// This is separate from the domain model (schema.CanonicalSchema) to
	// decouple the API contract from internal domain types: clients never
	// supply IDs or timestamps, the server assigns them.
	SchemaRequest struct {
		Name        string                    `json:"name"`
		Version     int                       `json:"version,omitempty"`
		Description string                    `json:"description,omitempty"`
		Columns     []schema.ColumnDefinition `json:"columns"`
		ErrorPolicy string                    `json:"errorPolicy,omitempty"`
		Strict      bool                      `json:"strict,omitempty"`
	}

	// SchemaListResponse represents the response for GET /api/v1/schemas.
	SchemaListResponse struct {
		Schemas []*schema.CanonicalSchema `json:"schemas"`
		Total   int                       `json:"total"`
	}

	// ReviewDecisionRequest is one human mapping choice in a resume
	// payload. An empty targetColumn drops the source column.
	ReviewDecisionRequest struct {
		SourceColumn string `json:"sourceColumn"`
		TargetColumn string `json:"targetColumn"`
	}

	// ResumeRequest is the payload of POST /api/v1/ingestions/{id}/resume.
	ResumeRequest struct {
		Decisions []ReviewDecisionRequest `json:"decisions"`
	}

	// DecisionListResponse represents the response for
	// GET /api/v1/ingestions/{id}/decisions: the ingestion's decision
	// journal in append order, optionally filtered to one stage.
	DecisionListResponse struct {
		IngestionID string                    `json:"ingestionId"`
		Stage       string                    `json:"stage,omitempty"`
		Decisions   []ingestion.DecisionEntry `json:"decisions"`
		Total       int                       `json:"total"`
	}
)
