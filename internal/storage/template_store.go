package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// Compile-time interface check.
var _ ingestion.TemplateStore = (*PersistentTemplateStore)(nil)

// PersistentTemplateStore implements ingestion.TemplateStore with a
// PostgreSQL backend, keyed by the (schema_id, source_fingerprint) pair.
type PersistentTemplateStore struct {
	conn *Connection
}

// NewPersistentTemplateStore creates a PostgreSQL template store over an
// existing connection pool.
func NewPersistentTemplateStore(conn *Connection) (*PersistentTemplateStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentTemplateStore{conn: conn}, nil
}

// Find returns the template for (schemaID, fingerprint).
func (s *PersistentTemplateStore) Find(ctx context.Context, schemaID, fingerprint string) (*ingestion.MappingTemplate, error) {
	query := `
		SELECT id, schema_id, source_fingerprint, mappings, usage_count, created_at, updated_at
		FROM mapping_templates
		WHERE schema_id = $1 AND source_fingerprint = $2
	`

	var (
		tpl          ingestion.MappingTemplate
		mappingsJSON []byte
	)

	err := s.conn.QueryRowContext(ctx, query, schemaID, fingerprint).Scan(
		&tpl.ID,
		&tpl.SchemaID,
		&tpl.SourceFingerprint,
		&mappingsJSON,
		&tpl.UsageCount,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ingestion.ErrTemplateNotFound
		}

		return nil, wrapQueryError("failed to load mapping template", err)
	}

	if err := json.Unmarshal(mappingsJSON, &tpl.Mappings); err != nil {
		return nil, fmt.Errorf("failed to decode template mappings: %w", err)
	}

	return &tpl, nil
}

// Save upserts a template on (schemaID, fingerprint). An existing row
// keeps its id, usage count and created_at; only the mappings and
// updated_at change.
func (s *PersistentTemplateStore) Save(ctx context.Context, tpl *ingestion.MappingTemplate) error {
	mappings, err := json.Marshal(tpl.Mappings)
	if err != nil {
		return fmt.Errorf("failed to encode template mappings: %w", err)
	}

	query := `
		INSERT INTO mapping_templates (id, schema_id, source_fingerprint, mappings, usage_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (schema_id, source_fingerprint) DO UPDATE
		SET mappings = EXCLUDED.mappings,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = s.conn.ExecContext(ctx, query,
		tpl.ID,
		tpl.SchemaID,
		tpl.SourceFingerprint,
		mappings,
		tpl.UsageCount,
		tpl.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return wrapQueryError("failed to upsert mapping template", err)
	}

	return nil
}

// IncrementUsage bumps usageCount after a template is applied.
func (s *PersistentTemplateStore) IncrementUsage(ctx context.Context, id string) error {
	query := `
		UPDATE mapping_templates
		SET usage_count = usage_count + 1, updated_at = $2
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return wrapQueryError("failed to increment template usage", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ingestion.ErrTemplateNotFound
	}

	return nil
}
