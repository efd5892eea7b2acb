package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// Compile-time interface checks for the in-memory implementations.
var (
	_ ingestion.Store         = (*MemoryIngestionStore)(nil)
	_ ingestion.Journal       = (*MemoryJournal)(nil)
	_ ingestion.TemplateStore = (*MemoryTemplateStore)(nil)
	_ ingestion.BlobStore     = (*MemoryBlobStore)(nil)
	_ schema.Store            = (*MemorySchemaStore)(nil)
)

// MemoryIngestionStore is a thread-safe in-memory ingestion store used by
// tests and single-process development mode.
type MemoryIngestionStore struct {
	mutex      sync.RWMutex
	ingestions map[string]*ingestion.Ingestion
}

// NewMemoryIngestionStore creates an empty in-memory ingestion store.
func NewMemoryIngestionStore() *MemoryIngestionStore {
	return &MemoryIngestionStore{
		ingestions: make(map[string]*ingestion.Ingestion),
	}
}

// Create persists a new ingestion record.
func (s *MemoryIngestionStore) Create(_ context.Context, ing *ingestion.Ingestion) error {
	if err := ing.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.ingestions[ing.ID]; exists {
		return fmt.Errorf("ingestion %s already exists", ing.ID)
	}

	record := *ing
	s.ingestions[ing.ID] = &record

	return nil
}

// Get loads an ingestion by ID.
func (s *MemoryIngestionStore) Get(_ context.Context, id string) (*ingestion.Ingestion, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ing, exists := s.ingestions[id]
	if !exists {
		return nil, ingestion.ErrIngestionNotFound
	}

	record := *ing

	return &record, nil
}

// Update replaces the stored record.
func (s *MemoryIngestionStore) Update(_ context.Context, ing *ingestion.Ingestion) error {
	if err := ing.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.ingestions[ing.ID]; !exists {
		return ingestion.ErrIngestionNotFound
	}

	record := *ing
	s.ingestions[ing.ID] = &record

	return nil
}

// Delete removes an ingestion record.
func (s *MemoryIngestionStore) Delete(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.ingestions[id]; !exists {
		return ingestion.ErrIngestionNotFound
	}

	delete(s.ingestions, id)

	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryIngestionStore) HealthCheck(_ context.Context) error { return nil }

// MemoryJournal is a thread-safe in-memory decision journal.
type MemoryJournal struct {
	mutex   sync.RWMutex
	entries map[string][]ingestion.DecisionEntry
	nextID  int64
}

// NewMemoryJournal creates an empty in-memory journal.
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{
		entries: make(map[string][]ingestion.DecisionEntry),
	}
}

// Append adds a single entry.
func (j *MemoryJournal) Append(_ context.Context, e *ingestion.DecisionEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	j.append(*e)

	return nil
}

// ReplaceStage atomically deletes the ingestion's entries for one stage
// and appends the replacement entries.
func (j *MemoryJournal) ReplaceStage(_ context.Context, ingestionID string, stage ingestion.Stage, entries []ingestion.DecisionEntry) error {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return err
		}
	}

	j.mutex.Lock()
	defer j.mutex.Unlock()

	kept := make([]ingestion.DecisionEntry, 0, len(j.entries[ingestionID]))
	for _, e := range j.entries[ingestionID] {
		if e.Stage != stage {
			kept = append(kept, e)
		}
	}

	j.entries[ingestionID] = kept

	for _, e := range entries {
		j.append(e)
	}

	return nil
}

// List returns the ingestion's entries in insertion order, optionally
// filtered by stage.
func (j *MemoryJournal) List(_ context.Context, ingestionID string, stage ingestion.Stage) ([]ingestion.DecisionEntry, error) {
	j.mutex.RLock()
	defer j.mutex.RUnlock()

	result := make([]ingestion.DecisionEntry, 0, len(j.entries[ingestionID]))

	for _, e := range j.entries[ingestionID] {
		if stage != "" && e.Stage != stage {
			continue
		}

		result = append(result, e)
	}

	return result, nil
}

// append assigns the next ID and stores the entry. Caller must hold the
// write lock.
func (j *MemoryJournal) append(e ingestion.DecisionEntry) {
	j.nextID++
	e.ID = j.nextID
	j.entries[e.IngestionID] = append(j.entries[e.IngestionID], e)
}

// MemoryTemplateStore is a thread-safe in-memory mapping template store.
type MemoryTemplateStore struct {
	mutex     sync.RWMutex
	templates map[string]*ingestion.MappingTemplate
	byID      map[string]*ingestion.MappingTemplate
}

// NewMemoryTemplateStore creates an empty in-memory template store.
func NewMemoryTemplateStore() *MemoryTemplateStore {
	return &MemoryTemplateStore{
		templates: make(map[string]*ingestion.MappingTemplate),
		byID:      make(map[string]*ingestion.MappingTemplate),
	}
}

// templateKey is the (schema, fingerprint) map key.
func templateKey(schemaID, fingerprint string) string {
	return schemaID + "\x1f" + fingerprint
}

// Find returns the template for (schemaID, fingerprint).
func (s *MemoryTemplateStore) Find(_ context.Context, schemaID, fingerprint string) (*ingestion.MappingTemplate, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	tpl, exists := s.templates[templateKey(schemaID, fingerprint)]
	if !exists {
		return nil, ingestion.ErrTemplateNotFound
	}

	record := *tpl

	return &record, nil
}

// Save upserts a template on (schemaID, fingerprint).
func (s *MemoryTemplateStore) Save(_ context.Context, tpl *ingestion.MappingTemplate) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	key := templateKey(tpl.SchemaID, tpl.SourceFingerprint)

	record := *tpl
	record.UpdatedAt = time.Now().UTC()

	if existing, exists := s.templates[key]; exists {
		record.ID = existing.ID
		record.UsageCount = existing.UsageCount
		record.CreatedAt = existing.CreatedAt
	}

	s.templates[key] = &record
	s.byID[record.ID] = &record

	return nil
}

// IncrementUsage bumps usageCount after a template is applied.
func (s *MemoryTemplateStore) IncrementUsage(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tpl, exists := s.byID[id]
	if !exists {
		return ingestion.ErrTemplateNotFound
	}

	tpl.UsageCount++
	tpl.UpdatedAt = time.Now().UTC()

	return nil
}

// MemoryBlobStore is a thread-safe in-memory blob store. GetPath
// materializes blobs into a temporary directory, so streaming re-parse
// works exactly as it does against the filesystem store.
type MemoryBlobStore struct {
	mutex   sync.RWMutex
	blobs   map[string][]byte
	tempDir string
}

// NewMemoryBlobStore creates an empty in-memory blob store.
func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{
		blobs: make(map[string][]byte),
	}
}

// Save writes the blob and returns its key.
func (s *MemoryBlobStore) Save(_ context.Context, key string, r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("failed to read blob %s: %w", key, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.blobs[key] = data

	return key, nil
}

// Load reads a whole blob into memory.
func (s *MemoryBlobStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	data, exists := s.blobs[key]
	if !exists {
		return nil, ingestion.ErrBlobNotFound
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return buf, nil
}

// GetPath writes the blob to a temp file and returns its path.
func (s *MemoryBlobStore) GetPath(_ context.Context, key string) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	data, exists := s.blobs[key]
	if !exists {
		return "", ingestion.ErrBlobNotFound
	}

	if s.tempDir == "" {
		dir, err := os.MkdirTemp("", "canonizer-blobs-")
		if err != nil {
			return "", fmt.Errorf("failed to create blob temp dir: %w", err)
		}

		s.tempDir = dir
	}

	path := filepath.Join(s.tempDir, strings.ReplaceAll(key, "/", "_"))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to materialize blob %s: %w", key, err)
	}

	return path, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (s *MemoryBlobStore) Delete(_ context.Context, key string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.blobs, key)

	return nil
}

// Exists reports whether the key is present.
func (s *MemoryBlobStore) Exists(_ context.Context, key string) (bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	_, exists := s.blobs[key]

	return exists, nil
}

// MemorySchemaStore is a thread-safe in-memory canonical schema store.
type MemorySchemaStore struct {
	mutex   sync.RWMutex
	schemas map[string]*schema.CanonicalSchema
}

// NewMemorySchemaStore creates an empty in-memory schema store.
func NewMemorySchemaStore() *MemorySchemaStore {
	return &MemorySchemaStore{
		schemas: make(map[string]*schema.CanonicalSchema),
	}
}

// Create persists a new schema. Mirrors the persistent store's unique
// constraint on (name, version).
func (s *MemorySchemaStore) Create(_ context.Context, cs *schema.CanonicalSchema) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.schemas[cs.ID]; exists {
		return fmt.Errorf("%w: id %s", schema.ErrDuplicateSchema, cs.ID)
	}

	for _, existing := range s.schemas {
		if existing.Name == cs.Name && existing.Version == cs.Version {
			return fmt.Errorf("%w: %s v%d", schema.ErrDuplicateSchema, cs.Name, cs.Version)
		}
	}

	record := *cs
	s.schemas[cs.ID] = &record

	return nil
}

// Get loads a schema by ID.
func (s *MemorySchemaStore) Get(_ context.Context, id string) (*schema.CanonicalSchema, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	cs, exists := s.schemas[id]
	if !exists {
		return nil, schema.ErrSchemaNotFound
	}

	record := *cs

	return &record, nil
}

// List returns all schemas ordered by name then version.
func (s *MemorySchemaStore) List(_ context.Context) ([]*schema.CanonicalSchema, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*schema.CanonicalSchema, 0, len(s.schemas))

	for _, cs := range s.schemas {
		record := *cs
		result = append(result, &record)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}

		return result[i].Version < result[j].Version
	})

	return result, nil
}

// Delete removes a schema.
func (s *MemorySchemaStore) Delete(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, exists := s.schemas[id]; !exists {
		return schema.ErrSchemaNotFound
	}

	delete(s.schemas, id)

	return nil
}

// Upsert inserts or replaces a schema keyed by (name, version).
func (s *MemorySchemaStore) Upsert(_ context.Context, cs *schema.CanonicalSchema) error {
	if err := cs.Validate(); err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	record := *cs

	for id, existing := range s.schemas {
		if existing.Name == cs.Name && existing.Version == cs.Version {
			record.ID = existing.ID
			record.CreatedAt = existing.CreatedAt
			s.schemas[id] = &record

			return nil
		}
	}

	s.schemas[record.ID] = &record

	return nil
}
