package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// Compile-time interface check.
var _ ingestion.Store = (*PersistentIngestionStore)(nil)

// PersistentIngestionStore implements ingestion.Store with a PostgreSQL
// backend. Stage results are stored as JSONB documents; the store never
// interprets them.
type PersistentIngestionStore struct {
	conn *Connection
}

// NewPersistentIngestionStore creates a PostgreSQL ingestion store over
// an existing connection pool.
func NewPersistentIngestionStore(conn *Connection) (*PersistentIngestionStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentIngestionStore{conn: conn}, nil
}

// Create persists a new ingestion record.
func (s *PersistentIngestionStore) Create(ctx context.Context, ing *ingestion.Ingestion) error {
	if err := ing.Validate(); err != nil {
		return err
	}

	inferred, mapping, validation, err := marshalStageResults(ing)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO ingestions (
			id, schema_id, status, raw_file_key, original_filename, output_file_key,
			inferred_schema, mapping_result, validation_result,
			row_count, valid_row_count, error, created_at, updated_at, completed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	_, err = s.conn.ExecContext(ctx, query,
		ing.ID,
		ing.SchemaID,
		string(ing.Status),
		ing.RawFileKey,
		ing.OriginalFilename,
		ing.OutputFileKey,
		inferred,
		mapping,
		validation,
		ing.RowCount,
		ing.ValidRowCount,
		ing.Error,
		ing.CreatedAt,
		ing.UpdatedAt,
		ing.CompletedAt,
	)
	if err != nil {
		return wrapQueryError("failed to insert ingestion", err)
	}

	return nil
}

// Get loads an ingestion by ID.
func (s *PersistentIngestionStore) Get(ctx context.Context, id string) (*ingestion.Ingestion, error) {
	query := `
		SELECT id, schema_id, status, raw_file_key, original_filename, output_file_key,
		       inferred_schema, mapping_result, validation_result,
		       row_count, valid_row_count, error, created_at, updated_at, completed_at
		FROM ingestions
		WHERE id = $1
	`

	var (
		ing        ingestion.Ingestion
		status     string
		inferred   []byte
		mapping    []byte
		validation []byte
	)

	err := s.conn.QueryRowContext(ctx, query, id).Scan(
		&ing.ID,
		&ing.SchemaID,
		&status,
		&ing.RawFileKey,
		&ing.OriginalFilename,
		&ing.OutputFileKey,
		&inferred,
		&mapping,
		&validation,
		&ing.RowCount,
		&ing.ValidRowCount,
		&ing.Error,
		&ing.CreatedAt,
		&ing.UpdatedAt,
		&ing.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ingestion.ErrIngestionNotFound
		}

		return nil, wrapQueryError("failed to load ingestion", err)
	}

	ing.Status = ingestion.Status(status)

	if err := unmarshalStageResults(&ing, inferred, mapping, validation); err != nil {
		return nil, err
	}

	return &ing, nil
}

// Update replaces the stored record. The pipeline serializes updates per
// ingestion, so a full-row replace is safe.
func (s *PersistentIngestionStore) Update(ctx context.Context, ing *ingestion.Ingestion) error {
	if err := ing.Validate(); err != nil {
		return err
	}

	inferred, mapping, validation, err := marshalStageResults(ing)
	if err != nil {
		return err
	}

	query := `
		UPDATE ingestions
		SET schema_id = $2, status = $3, raw_file_key = $4, original_filename = $5,
		    output_file_key = $6, inferred_schema = $7, mapping_result = $8,
		    validation_result = $9, row_count = $10, valid_row_count = $11,
		    error = $12, updated_at = $13, completed_at = $14
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query,
		ing.ID,
		ing.SchemaID,
		string(ing.Status),
		ing.RawFileKey,
		ing.OriginalFilename,
		ing.OutputFileKey,
		inferred,
		mapping,
		validation,
		ing.RowCount,
		ing.ValidRowCount,
		ing.Error,
		ing.UpdatedAt,
		ing.CompletedAt,
	)
	if err != nil {
		return wrapQueryError("failed to update ingestion", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ingestion.ErrIngestionNotFound
	}

	return nil
}

// Delete removes an ingestion record.
func (s *PersistentIngestionStore) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM ingestions WHERE id = $1`, id)
	if err != nil {
		return wrapQueryError("failed to delete ingestion", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ingestion.ErrIngestionNotFound
	}

	return nil
}

// HealthCheck verifies the database is reachable.
func (s *PersistentIngestionStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

// marshalStageResults serializes the three stage-result documents. Nil
// results become SQL NULL, not the JSON literal null.
func marshalStageResults(ing *ingestion.Ingestion) ([]byte, []byte, []byte, error) {
	var (
		inferred   []byte
		mapping    []byte
		validation []byte
		err        error
	)

	if ing.InferredSchema != nil {
		if inferred, err = json.Marshal(ing.InferredSchema); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode inferred schema: %w", err)
		}
	}

	if ing.MappingResult != nil {
		if mapping, err = json.Marshal(ing.MappingResult); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode mapping result: %w", err)
		}
	}

	if ing.ValidationResult != nil {
		if validation, err = json.Marshal(ing.ValidationResult); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to encode validation result: %w", err)
		}
	}

	return inferred, mapping, validation, nil
}

// unmarshalStageResults restores the stage-result documents onto the
// record. NULL columns leave the fields nil.
func unmarshalStageResults(ing *ingestion.Ingestion, inferred, mapping, validation []byte) error {
	if len(inferred) > 0 {
		ing.InferredSchema = &ingestion.InferredSchema{}
		if err := json.Unmarshal(inferred, ing.InferredSchema); err != nil {
			return fmt.Errorf("failed to decode inferred schema: %w", err)
		}
	}

	if len(mapping) > 0 {
		ing.MappingResult = &ingestion.MappingResult{}
		if err := json.Unmarshal(mapping, ing.MappingResult); err != nil {
			return fmt.Errorf("failed to decode mapping result: %w", err)
		}
	}

	if len(validation) > 0 {
		ing.ValidationResult = &ingestion.ValidationResult{}
		if err := json.Unmarshal(validation, ing.ValidationResult); err != nil {
			return fmt.Errorf("failed to decode validation result: %w", err)
		}
	}

	return nil
}
