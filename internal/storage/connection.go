package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const (
	// postgresDriver is the database/sql driver name registered by lib/pq.
	postgresDriver = "postgres"

	healthCheckTimeout = 5 * time.Second
)

var (
	// ErrNoDatabaseConnection is returned when a store is constructed or
	// used without a live connection.
	ErrNoDatabaseConnection = errors.New("no database connection")

	// ErrDatabaseUnavailable wraps connection-class failures (PostgreSQL
	// error class 08) so callers can distinguish a lost database from a
	// query that legitimately failed.
	ErrDatabaseUnavailable = errors.New("database unavailable")
)

// Connection wraps *sql.DB with pool tuning applied from Config. All
// persistent stores share one Connection; closing it closes the pool.
type Connection struct {
	DB *sql.DB
}

// NewConnection opens a PostgreSQL connection pool and verifies it with a
// ping before returning.
func NewConnection(config *Config) (*Connection, error) {
	if config == nil {
		return nil, ErrNoDatabaseConnection
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(postgresDriver, config.databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: db}, nil
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.DB.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.DB.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement without returning rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.DB.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.DB.BeginTx(ctx, opts)
}

// HealthCheck verifies the pool can reach the database. Used by the
// /ready and /health endpoints.
func (c *Connection) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := c.DB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrDatabaseUnavailable, err)
	}

	return nil
}

// Close closes the connection pool. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.DB == nil {
		return nil
	}

	return c.DB.Close()
}

// isConnectionError reports whether err indicates the database connection
// itself failed rather than the query.
//
// PostgreSQL class 08 covers connection exceptions:
//
//	08000 - connection_exception
//	08001 - sqlclient_unable_to_establish_sqlconnection
//	08003 - connection_does_not_exist
//	08004 - sqlserver_rejected_establishment_of_sqlconnection
//	08006 - connection_failure
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	return errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn)
}

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (code 23505). Stores translate these into their domain
// duplicate sentinels.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// wrapQueryError adds context to a store error, tagging connection-class
// failures with ErrDatabaseUnavailable.
func wrapQueryError(op string, err error) error {
	if isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrDatabaseUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}
