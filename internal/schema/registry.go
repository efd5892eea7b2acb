package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/canonizer-io/canonizer/internal/config"
)

// DefaultSchemaDir is where canonical schema files live unless
// CANONIZER_SCHEMA_DIR points elsewhere.
const DefaultSchemaDir = "schemas"

// SchemaDirEnvVar is the environment variable overriding the schema
// directory location.
const SchemaDirEnvVar = "CANONIZER_SCHEMA_DIR"

// LoadFile parses a single YAML file into a canonical schema, applies
// field defaults, and validates it. Unlike LoadDir this is strict: any
// failure is returned to the caller.
func LoadFile(path string) (*CanonicalSchema, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the operator-controlled schema dir
	if err != nil {
		return nil, fmt.Errorf("failed to read schema file %s: %w", path, err)
	}

	var s CanonicalSchema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse schema file %s: %w", path, err)
	}

	s.ApplyDefaults()

	if s.ID == "" {
		s.ID = uuid.NewString()
	}

	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema in %s: %w", path, err)
	}

	return &s, nil
}

// LoadDir loads every .yaml/.yml file under dir as one canonical schema.
//
// Behavior:
//   - Returns no schemas (not an error) if the directory doesn't exist -
//     a schema registry is optional
//   - Logs a warning and skips any file that fails to read, parse, or
//     validate (graceful degradation)
//   - Returns the remaining schemas sorted by file name for a stable
//     load order
//
// This keeps the server bootable with a partial or absent registry;
// schemas can always be created through the API instead.
func LoadDir(dir string) ([]*CanonicalSchema, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Schema directory not found, continuing without registry",
				slog.String("dir", dir))

			return nil, nil
		}

		slog.Warn("Failed to read schema directory, continuing without registry",
			slog.String("dir", dir),
			slog.String("error", err.Error()))

		return nil, nil
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	schemas := make([]*CanonicalSchema, 0, len(names))

	for _, name := range names {
		path := filepath.Join(dir, name)

		s, err := LoadFile(path)
		if err != nil {
			slog.Warn("Skipping schema file",
				slog.String("path", path),
				slog.String("error", err.Error()))

			continue
		}

		schemas = append(schemas, s)
	}

	return schemas, nil
}

// SyncDir loads the schema directory named by CANONIZER_SCHEMA_DIR
// (default "schemas") and upserts each schema into the store keyed by
// name and version. Returns the number of schemas registered.
func SyncDir(ctx context.Context, store Store) (int, error) {
	dir := config.GetEnvStr(SchemaDirEnvVar, DefaultSchemaDir)

	schemas, err := LoadDir(dir)
	if err != nil {
		return 0, err
	}

	for _, s := range schemas {
		if err := store.Upsert(ctx, s); err != nil {
			return 0, fmt.Errorf("failed to register schema %q v%d: %w", s.Name, s.Version, err)
		}

		slog.Info("Registered schema",
			slog.String("name", s.Name),
			slog.Int("version", s.Version),
			slog.Int("columns", len(s.Columns)))
	}

	return len(schemas), nil
}
