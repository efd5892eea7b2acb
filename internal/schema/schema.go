// Package schema provides the canonical schema model: user-declared target
// structures, column types, the validator variants, and the dynamic cell
// Value representation threaded through type coercion.
package schema

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

type (
	// ColumnType is the declared (or inferred) type of a column.
	ColumnType string

	// ErrorPolicy governs what happens to a row containing at least one
	// cell error. It is consulted in two places: the validate stage picks
	// the row action, and the output stage applies the coerce_default
	// substitution rule.
	ErrorPolicy string

	// ColumnDefinition declares one target column.
	//
	// Nullable defaults to true and therefore uses a pointer: an absent
	// field in JSON or YAML must read as nullable, not as false.
	ColumnDefinition struct {
		Name       string      `json:"name"                 yaml:"name"`
		Type       ColumnType  `json:"type"                 yaml:"type"`
		Required   bool        `json:"required,omitempty"   yaml:"required,omitempty"`
		Nullable   *bool       `json:"nullable,omitempty"   yaml:"nullable,omitempty"`
		Aliases    []string    `json:"aliases,omitempty"    yaml:"aliases,omitempty"`
		Default    any         `json:"default,omitempty"    yaml:"default,omitempty"`
		DateFormat string      `json:"dateFormat,omitempty" yaml:"dateFormat,omitempty"`
		Validators []Validator `json:"validators,omitempty" yaml:"validators,omitempty"`
	}

	// CanonicalSchema is the user-declared target a hostile CSV is
	// normalized into. Column order is significant: it is the output
	// column order.
	CanonicalSchema struct {
		ID          string             `json:"id"                    yaml:"id,omitempty"`
		Name        string             `json:"name"                  yaml:"name"`
		Version     int                `json:"version"               yaml:"version,omitempty"`
		Description string             `json:"description,omitempty" yaml:"description,omitempty"`
		Columns     []ColumnDefinition `json:"columns"               yaml:"columns"`
		ErrorPolicy ErrorPolicy        `json:"errorPolicy"           yaml:"errorPolicy,omitempty"`
		Strict      bool               `json:"strict"                yaml:"strict,omitempty"`
		CreatedAt   time.Time          `json:"createdAt"             yaml:"-"`
		UpdatedAt   time.Time          `json:"updatedAt"             yaml:"-"`
	}

	// Store persists canonical schemas.
	//
	// The domain package defines this interface to specify what it needs;
	// concrete implementations live in internal/storage.
	Store interface {
		// Create persists a new schema.
		Create(ctx context.Context, s *CanonicalSchema) error

		// Get loads a schema by ID. Returns ErrSchemaNotFound when no such
		// schema exists.
		Get(ctx context.Context, id string) (*CanonicalSchema, error)

		// List returns all schemas ordered by name then version.
		List(ctx context.Context) ([]*CanonicalSchema, error)

		// Delete removes a schema.
		Delete(ctx context.Context, id string) error

		// Upsert inserts or replaces a schema keyed by (name, version).
		// Used by the file registry so repeated loads stay idempotent.
		Upsert(ctx context.Context, s *CanonicalSchema) error
	}
)

// Column types.
const (
	TypeString   ColumnType = "string"
	TypeInteger  ColumnType = "integer"
	TypeFloat    ColumnType = "float"
	TypeBoolean  ColumnType = "boolean"
	TypeDate     ColumnType = "date"
	TypeDateTime ColumnType = "datetime"
	TypeEmail    ColumnType = "email"
	TypeUUID     ColumnType = "uuid"
	TypeURL      ColumnType = "url"
	TypeJSON     ColumnType = "json"
)

// Error policies.
const (
	PolicyRejectRow     ErrorPolicy = "reject_row"
	PolicyFlag          ErrorPolicy = "flag"
	PolicyCoerceDefault ErrorPolicy = "coerce_default"
	PolicyAbort         ErrorPolicy = "abort"
)

// DefaultErrorPolicy applies when a schema declares none.
const DefaultErrorPolicy = PolicyFlag

// Sentinel errors for schema validation failures.
var (
	ErrSchemaNotFound     = errors.New("schema not found")
	ErrDuplicateSchema    = errors.New("schema name and version already registered")
	ErrEmptySchemaName    = errors.New("schema name is required")
	ErrNoColumns          = errors.New("schema requires at least one column")
	ErrEmptyColumnName    = errors.New("column name is required")
	ErrDuplicateColumn    = errors.New("duplicate column name")
	ErrInvalidColumnType  = errors.New("invalid column type")
	ErrInvalidErrorPolicy = errors.New("invalid error policy")
)

// IsValid reports whether t is a known column type.
func (t ColumnType) IsValid() bool {
	switch t {
	case TypeString, TypeInteger, TypeFloat, TypeBoolean, TypeDate,
		TypeDateTime, TypeEmail, TypeUUID, TypeURL, TypeJSON:
		return true
	default:
		return false
	}
}

// IsValid reports whether p is a known error policy.
func (p ErrorPolicy) IsValid() bool {
	switch p {
	case PolicyRejectRow, PolicyFlag, PolicyCoerceDefault, PolicyAbort:
		return true
	default:
		return false
	}
}

// IsNullable reports whether empty cells are kept as null for this
// column. Columns are nullable unless explicitly declared otherwise.
func (c *ColumnDefinition) IsNullable() bool {
	if c.Nullable == nil {
		return true
	}

	return *c.Nullable
}

// HasDefault reports whether the column declares a default value.
func (c *ColumnDefinition) HasDefault() bool {
	return c.Default != nil
}

// DefaultString renders the declared default as the raw cell text it
// substitutes. JSON and YAML decoding hand numbers over as float64 or
// int, so both are formatted without a trailing fraction when whole.
func (c *ColumnDefinition) DefaultString() (string, bool) {
	if c.Default == nil {
		return "", false
	}

	switch v := c.Default.(type) {
	case string:
		return v, true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// ApplyDefaults fills in the optional schema fields: version 1 and the
// flag error policy.
func (s *CanonicalSchema) ApplyDefaults() {
	if s.Version == 0 {
		s.Version = 1
	}

	if s.ErrorPolicy == "" {
		s.ErrorPolicy = DefaultErrorPolicy
	}
}

// Validate checks the structural invariants of a schema: a name, at
// least one column, unique column names, known types and policy, and
// well-formed validators (regex patterns must compile).
func (s *CanonicalSchema) Validate() error {
	if s.Name == "" {
		return ErrEmptySchemaName
	}

	if len(s.Columns) == 0 {
		return ErrNoColumns
	}

	if !s.ErrorPolicy.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidErrorPolicy, s.ErrorPolicy)
	}

	seen := make(map[string]bool, len(s.Columns))

	for i := range s.Columns {
		col := &s.Columns[i]

		if col.Name == "" {
			return fmt.Errorf("%w: column %d", ErrEmptyColumnName, i)
		}

		if seen[col.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateColumn, col.Name)
		}

		seen[col.Name] = true

		if !col.Type.IsValid() {
			return fmt.Errorf("%w: column %q has type %q", ErrInvalidColumnType, col.Name, col.Type)
		}

		for j := range col.Validators {
			if err := col.Validators[j].Validate(); err != nil {
				return fmt.Errorf("column %q validator %d: %w", col.Name, j, err)
			}
		}
	}

	return nil
}

// Column returns the definition of the named column, or nil.
func (s *CanonicalSchema) Column(name string) *ColumnDefinition {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}

	return nil
}

// ColumnNames returns the declared column names in schema order.
func (s *CanonicalSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i := range s.Columns {
		names[i] = s.Columns[i].Name
	}

	return names
}
