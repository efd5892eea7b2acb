package schema

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ordersSchemaYAML = `
name: orders
version: 2
description: Orders feed
errorPolicy: reject_row
strict: true
columns:
  - name: order_id
    type: string
    required: true
    validators:
      - type: unique
  - name: amount
    type: float
    validators:
      - type: min
        value: 0
  - name: status
    type: string
    aliases:
      - state
    validators:
      - type: enum
        values: [pending, shipped, delivered]
`

func TestLoadFile_Valid(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "orders.yaml")

	require.NoError(t, os.WriteFile(path, []byte(ordersSchemaYAML), 0o644))

	s, err := LoadFile(path)

	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "orders", s.Name)
	assert.Equal(t, 2, s.Version)
	assert.Equal(t, PolicyRejectRow, s.ErrorPolicy)
	assert.True(t, s.Strict)
	assert.NotEmpty(t, s.ID, "registry assigns an ID when the file declares none")
	require.Len(t, s.Columns, 3)
	assert.True(t, s.Columns[0].Required)
	assert.Equal(t, []string{"state"}, s.Columns[2].Aliases)
	require.Len(t, s.Columns[1].Validators, 1)
	assert.Equal(t, ValidatorMin, s.Columns[1].Validators[0].Type)
	require.NotNil(t, s.Columns[1].Validators[0].Value)
	assert.Equal(t, 0.0, *s.Columns[1].Validators[0].Value)
}

func TestLoadFile_DefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "minimal.yaml")

	content := `
name: minimal
columns:
  - name: a
    type: string
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadFile(path)

	require.NoError(t, err)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, PolicyFlag, s.ErrorPolicy)
}

func TestLoadFile_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "broken.yaml")

	require.NoError(t, os.WriteFile(path, []byte("columns: [unclosed"), 0o644))

	_, err := LoadFile(path)

	require.Error(t, err)
}

func TestLoadFile_InvalidSchema(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "empty.yaml")

	require.NoError(t, os.WriteFile(path, []byte("name: nocolumns\n"), 0o644))

	_, err := LoadFile(path)

	require.ErrorIs(t, err, ErrNoColumns)
}

func TestLoadDir_MissingDirectory(t *testing.T) {
	schemas, err := LoadDir("/nonexistent/schema/dir")

	// Missing directory is fine - the registry is optional.
	require.NoError(t, err)
	assert.Empty(t, schemas)
}

func TestLoadDir_SkipsMalformedFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "b_orders.yaml"), []byte(ordersSchemaYAML), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "a_minimal.yml"), []byte("name: minimal\ncolumns:\n  - name: a\n    type: string\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "broken.yaml"), []byte("{{nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "notes.txt"), []byte("not a schema"), 0o644))

	schemas, err := LoadDir(tmpDir)

	require.NoError(t, err)
	require.Len(t, schemas, 2, "malformed and non-YAML files are skipped")
	// Sorted by file name for a stable load order.
	assert.Equal(t, "minimal", schemas[0].Name)
	assert.Equal(t, "orders", schemas[1].Name)
}

// upsertRecorder records Upsert calls; the other Store methods are not
// exercised by the registry.
type upsertRecorder struct {
	upserted []*CanonicalSchema
}

func (r *upsertRecorder) Create(context.Context, *CanonicalSchema) error { return nil }

func (r *upsertRecorder) Get(context.Context, string) (*CanonicalSchema, error) {
	return nil, ErrSchemaNotFound
}

func (r *upsertRecorder) List(context.Context) ([]*CanonicalSchema, error) { return nil, nil }

func (r *upsertRecorder) Delete(context.Context, string) error { return nil }

func (r *upsertRecorder) Upsert(_ context.Context, s *CanonicalSchema) error {
	r.upserted = append(r.upserted, s)

	return nil
}

func TestSyncDir(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "orders.yaml"), []byte(ordersSchemaYAML), 0o644))

	t.Setenv(SchemaDirEnvVar, tmpDir)

	store := &upsertRecorder{}

	n, err := SyncDir(context.Background(), store)

	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, store.upserted, 1)
	assert.Equal(t, "orders", store.upserted[0].Name)
}
