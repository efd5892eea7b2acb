package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// Compile-time interface check.
var _ ingestion.Journal = (*PersistentJournal)(nil)

// PersistentJournal implements the append-only decision journal with a
// PostgreSQL backend. Entry order is the BIGSERIAL id, so List returns
// entries exactly as they were written.
type PersistentJournal struct {
	conn *Connection
}

// NewPersistentJournal creates a PostgreSQL journal over an existing
// connection pool.
func NewPersistentJournal(conn *Connection) (*PersistentJournal, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentJournal{conn: conn}, nil
}

// Append adds a single entry and fills in its assigned ID.
func (j *PersistentJournal) Append(ctx context.Context, entry *ingestion.DecisionEntry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	details, err := detailsToJSON(entry.Details)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO decision_logs (ingestion_id, stage, decision_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err = j.conn.QueryRowContext(ctx, query,
		entry.IngestionID,
		string(entry.Stage),
		entry.DecisionType,
		details,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return wrapQueryError("failed to append journal entry", err)
	}

	return nil
}

// ReplaceStage atomically deletes the ingestion's entries for one stage
// and appends the replacement entries. Retried stages call this so
// re-execution never double-counts decisions.
func (j *PersistentJournal) ReplaceStage(ctx context.Context, ingestionID string, stage ingestion.Stage, entries []ingestion.DecisionEntry) error {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
	}

	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return wrapQueryError("failed to begin transaction", err)
	}

	defer func() {
		_ = tx.Rollback() // Safe to call after commit
	}()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM decision_logs WHERE ingestion_id = $1 AND stage = $2`,
		ingestionID, string(stage),
	)
	if err != nil {
		return wrapQueryError("failed to clear stage entries", err)
	}

	query := `
		INSERT INTO decision_logs (ingestion_id, stage, decision_type, details, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	for i := range entries {
		details, err := detailsToJSON(entries[i].Details)
		if err != nil {
			return err
		}

		err = tx.QueryRowContext(ctx, query,
			entries[i].IngestionID,
			string(entries[i].Stage),
			entries[i].DecisionType,
			details,
			entries[i].CreatedAt,
		).Scan(&entries[i].ID)
		if err != nil {
			return wrapQueryError("failed to insert stage entry", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return wrapQueryError("failed to commit stage entries", err)
	}

	return nil
}

// List returns the ingestion's entries in insertion order. A non-empty
// stage filters to that stage only.
func (j *PersistentJournal) List(ctx context.Context, ingestionID string, stage ingestion.Stage) ([]ingestion.DecisionEntry, error) {
	query := `
		SELECT id, ingestion_id, stage, decision_type, details, created_at
		FROM decision_logs
		WHERE ingestion_id = $1
	`

	args := []any{ingestionID}

	if stage != "" {
		query += ` AND stage = $2`

		args = append(args, string(stage))
	}

	query += ` ORDER BY id`

	rows, err := j.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapQueryError("failed to list journal entries", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var entries []ingestion.DecisionEntry

	for rows.Next() {
		var (
			entry       ingestion.DecisionEntry
			entryStage  string
			detailsJSON []byte
		)

		err := rows.Scan(
			&entry.ID,
			&entry.IngestionID,
			&entryStage,
			&entry.DecisionType,
			&detailsJSON,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}

		entry.Stage = ingestion.Stage(entryStage)

		if len(detailsJSON) > 0 {
			if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
				return nil, fmt.Errorf("failed to decode journal details: %w", err)
			}
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating journal entries: %w", err)
	}

	if entries == nil {
		entries = []ingestion.DecisionEntry{}
	}

	return entries, nil
}

// detailsToJSON serializes a details map for JSONB storage. Nil maps
// become the empty object so the column can stay NOT NULL.
func detailsToJSON(details map[string]any) ([]byte, error) {
	if details == nil {
		return []byte("{}"), nil
	}

	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode journal details: %w", err)
	}

	return data, nil
}
