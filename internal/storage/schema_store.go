package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/canonizer-io/canonizer/internal/schema"
)

// Compile-time interface check.
var _ schema.Store = (*PersistentSchemaStore)(nil)

// PersistentSchemaStore implements schema.Store with a PostgreSQL
// backend. Column definitions are stored as one JSONB document since
// the store never queries inside them.
type PersistentSchemaStore struct {
	conn *Connection
}

// NewPersistentSchemaStore creates a PostgreSQL schema store over an
// existing connection pool.
func NewPersistentSchemaStore(conn *Connection) (*PersistentSchemaStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentSchemaStore{conn: conn}, nil
}

// Create persists a new schema.
func (s *PersistentSchemaStore) Create(ctx context.Context, cs *schema.CanonicalSchema) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	columns, err := json.Marshal(cs.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode schema columns: %w", err)
	}

	query := `
		INSERT INTO schemas (id, name, version, description, columns, error_policy, strict, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.conn.ExecContext(ctx, query,
		cs.ID,
		cs.Name,
		cs.Version,
		cs.Description,
		columns,
		string(cs.ErrorPolicy),
		cs.Strict,
		cs.CreatedAt,
		cs.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s v%d", schema.ErrDuplicateSchema, cs.Name, cs.Version)
		}

		return wrapQueryError("failed to insert schema", err)
	}

	return nil
}

// Get loads a schema by ID.
func (s *PersistentSchemaStore) Get(ctx context.Context, id string) (*schema.CanonicalSchema, error) {
	query := `
		SELECT id, name, version, description, columns, error_policy, strict, created_at, updated_at
		FROM schemas
		WHERE id = $1
	`

	cs, err := scanSchema(s.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, schema.ErrSchemaNotFound
		}

		return nil, wrapQueryError("failed to load schema", err)
	}

	return cs, nil
}

// List returns all schemas ordered by name then version.
func (s *PersistentSchemaStore) List(ctx context.Context) ([]*schema.CanonicalSchema, error) {
	query := `
		SELECT id, name, version, description, columns, error_policy, strict, created_at, updated_at
		FROM schemas
		ORDER BY name, version
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapQueryError("failed to list schemas", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	schemas := []*schema.CanonicalSchema{}

	for rows.Next() {
		cs, err := scanSchema(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schema: %w", err)
		}

		schemas = append(schemas, cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schemas: %w", err)
	}

	return schemas, nil
}

// Delete removes a schema.
func (s *PersistentSchemaStore) Delete(ctx context.Context, id string) error {
	result, err := s.conn.ExecContext(ctx, `DELETE FROM schemas WHERE id = $1`, id)
	if err != nil {
		return wrapQueryError("failed to delete schema", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return schema.ErrSchemaNotFound
	}

	return nil
}

// Upsert inserts or replaces a schema keyed by (name, version). An
// existing row keeps its id and created_at, so registry reloads stay
// idempotent.
func (s *PersistentSchemaStore) Upsert(ctx context.Context, cs *schema.CanonicalSchema) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	columns, err := json.Marshal(cs.Columns)
	if err != nil {
		return fmt.Errorf("failed to encode schema columns: %w", err)
	}

	query := `
		INSERT INTO schemas (id, name, version, description, columns, error_policy, strict, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name, version) DO UPDATE
		SET description = EXCLUDED.description,
		    columns = EXCLUDED.columns,
		    error_policy = EXCLUDED.error_policy,
		    strict = EXCLUDED.strict,
		    updated_at = EXCLUDED.updated_at
	`

	_, err = s.conn.ExecContext(ctx, query,
		cs.ID,
		cs.Name,
		cs.Version,
		cs.Description,
		columns,
		string(cs.ErrorPolicy),
		cs.Strict,
		cs.CreatedAt,
		time.Now().UTC(),
	)
	if err != nil {
		return wrapQueryError("failed to upsert schema", err)
	}

	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanSchema reads one schemas row.
func scanSchema(row rowScanner) (*schema.CanonicalSchema, error) {
	var (
		cs          schema.CanonicalSchema
		columnsJSON []byte
		errorPolicy string
	)

	err := row.Scan(
		&cs.ID,
		&cs.Name,
		&cs.Version,
		&cs.Description,
		&columnsJSON,
		&errorPolicy,
		&cs.Strict,
		&cs.CreatedAt,
		&cs.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	cs.ErrorPolicy = schema.ErrorPolicy(errorPolicy)

	if err := json.Unmarshal(columnsJSON, &cs.Columns); err != nil {
		return nil, fmt.Errorf("failed to decode schema columns: %w", err)
	}

	return &cs, nil
}
