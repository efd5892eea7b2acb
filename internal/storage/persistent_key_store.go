package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/canonizer-io/canonizer/internal/config"
)

// Audit log operations.
const (
	keyCreated = "created"
	keyUpdated = "updated"
	keyDeleted = "deleted"
)

// Compile-time interface check.
var _ APIKeyStore = (*PersistentKeyStore)(nil)

// PersistentKeyStore implements APIKeyStore with a PostgreSQL backend.
// Keys are stored as bcrypt hashes next to a deterministic SHA-256
// lookup digest; every mutation is audit-logged.
type PersistentKeyStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPersistentKeyStore creates a PostgreSQL key store over an existing
// connection pool.
func NewPersistentKeyStore(conn *Connection) (*PersistentKeyStore, error) {
	if conn == nil {
		return nil, ErrNoDatabaseConnection
	}

	return &PersistentKeyStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("CANONIZER_LOG_LEVEL", slog.LevelInfo),
		})),
	}, nil
}

// Close releases the store. The shared connection pool is owned by the
// caller, so this is a no-op kept for io.Closer sweeps.
func (s *PersistentKeyStore) Close() error {
	return nil
}

// FindByKey retrieves an API key by its key value. The lookup digest
// resolves a single candidate row, which is then verified against the
// stored bcrypt hash. Soft-deleted keys are still returned; callers
// check Active through ValidateKey.
// Returns (nil, false) if the key is not found or invalid.
func (s *PersistentKeyStore) FindByKey(ctx context.Context, key string) (*APIKey, bool) {
	if key == "" {
		return nil, false
	}

	query := `
		SELECT id, key_hash, client_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE key_lookup = $1
	`

	apiKey, err := scanAPIKey(s.conn.QueryRowContext(ctx, query, LookupDigest(key)))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Error("Failed to find API key", slog.String("key", MaskKey(key)), slog.String("error", err.Error()))
		}

		return nil, false
	}

	// The scanned Key field holds the bcrypt hash.
	if !CompareAPIKeyHash(apiKey.Key, key) {
		return nil, false
	}

	apiKey.Key = MaskKey(key)

	return apiKey, true
}

// Add stores a new API key with bcrypt hashing and audit logging.
//
// Duplicate detection runs on the lookup digest, since bcrypt produces a
// different hash for the same input every time. Soft-deleted duplicates
// also count: a revoked key cannot be re-added.
func (s *PersistentKeyStore) Add(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	keyLookup := LookupDigest(apiKey.Key)

	var exists bool

	err := s.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM api_keys WHERE key_lookup = $1)`,
		keyLookup,
	).Scan(&exists)
	if err != nil {
		return wrapQueryError("failed to check for duplicate API key", err)
	}

	if exists {
		return ErrKeyAlreadyExists
	}

	keyHash, err := HashAPIKey(apiKey.Key)
	if err != nil {
		return fmt.Errorf("failed to hash API key: %w", err)
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		INSERT INTO api_keys (id, key_hash, key_lookup, client_id, name, permissions, created_at, expires_at, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.conn.ExecContext(
		ctx,
		query,
		apiKey.ID,
		keyHash,
		keyLookup,
		apiKey.ClientID,
		apiKey.Name,
		permissionsJSON,
		apiKey.CreatedAt,
		apiKey.ExpiresAt,
		apiKey.Active,
	)
	if err != nil {
		return wrapQueryError("failed to insert API key", err)
	}

	s.audit(ctx, keyCreated, apiKey)

	return nil
}

// Update modifies an existing API key's name, permissions, active flag
// and expiration. The key hash itself is immutable.
func (s *PersistentKeyStore) Update(ctx context.Context, apiKey *APIKey) error {
	if apiKey == nil { // pragma: allowlist secret
		return ErrKeyNil
	}

	if apiKey.ID == "" {
		return ErrKeyNotFound
	}

	permissionsJSON, err := permissionsToJSON(apiKey.Permissions)
	if err != nil {
		return fmt.Errorf("failed to serialize permissions: %w", err)
	}

	query := `
		UPDATE api_keys
		SET name = $1, permissions = $2, active = $3, expires_at = $4
		WHERE id = $5
	`

	result, err := s.conn.ExecContext(
		ctx,
		query,
		apiKey.Name,
		permissionsJSON,
		apiKey.Active,
		apiKey.ExpiresAt,
		apiKey.ID,
	)
	if err != nil {
		return wrapQueryError("failed to update API key", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.audit(ctx, keyUpdated, apiKey)

	return nil
}

// Delete performs a soft delete by setting active=FALSE. The row stays
// in place for the audit trail.
func (s *PersistentKeyStore) Delete(ctx context.Context, keyID string) error {
	if keyID == "" {
		return ErrKeyNotFound
	}

	query := `
		UPDATE api_keys
		SET active = FALSE
		WHERE id = $1
	`

	result, err := s.conn.ExecContext(ctx, query, keyID)
	if err != nil {
		return wrapQueryError("failed to delete API key", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrKeyNotFound
	}

	s.audit(ctx, keyDeleted, &APIKey{ID: keyID})

	return nil
}

// ListByClient returns all active API keys for one client, newest first.
func (s *PersistentKeyStore) ListByClient(ctx context.Context, clientID string) ([]*APIKey, error) {
	if clientID == "" {
		return nil, ErrClientIDEmpty
	}

	query := `
		SELECT id, key_hash, client_id, name, permissions, created_at, expires_at, active
		FROM api_keys
		WHERE client_id = $1 AND active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := s.conn.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, wrapQueryError("failed to query API keys", err)
	}

	defer func() {
		_ = rows.Close()
	}()

	keys := []*APIKey{}

	for rows.Next() {
		apiKey, err := scanAPIKey(rows)
		if err != nil {
			continue
		}

		apiKey.Key = MaskKey(apiKey.Key)
		keys = append(keys, apiKey)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return keys, nil
}

// scanAPIKey reads one api_keys row. The Key field receives the stored
// bcrypt hash; callers mask or compare it.
func scanAPIKey(row rowScanner) (*APIKey, error) {
	var (
		apiKey          APIKey
		permissionsJSON []byte
	)

	err := row.Scan(
		&apiKey.ID,
		&apiKey.Key,
		&apiKey.ClientID,
		&apiKey.Name,
		&permissionsJSON,
		&apiKey.CreatedAt,
		&apiKey.ExpiresAt,
		&apiKey.Active,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(permissionsJSON, &apiKey.Permissions); err != nil {
		return nil, err
	}

	return &apiKey, nil
}

// permissionsToJSON converts a permissions slice to JSON for JSONB storage.
func permissionsToJSON(permissions []string) ([]byte, error) {
	if permissions == nil {
		permissions = []string{}
	}

	return json.Marshal(permissions)
}

// audit writes an audit log entry for an API key mutation. Audit logging
// is best-effort: failures are logged, not returned.
func (s *PersistentKeyStore) audit(ctx context.Context, operation string, apiKey *APIKey) {
	query := `
		INSERT INTO api_key_audit_log (api_key_id, operation, masked_key, client_id)
		VALUES ($1, $2, $3, $4)
	`

	_, err := s.conn.ExecContext(ctx, query, apiKey.ID, operation, MaskKey(apiKey.Key), apiKey.ClientID)
	if err != nil {
		s.logger.Error("Failed to write API key audit log entry",
			slog.String("operation", operation),
			slog.String("key_id", apiKey.ID),
			slog.String("error", err.Error()),
		)
	}
}
