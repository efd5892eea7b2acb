package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/canonizer-io/canonizer/internal/config"
	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// EnvBlobDir selects the filesystem blob store root.
const EnvBlobDir = "CANONIZER_BLOB_DIR"

const defaultBlobDir = "./data/blobs"

// ErrInvalidBlobKey is returned for keys that would escape the blob root
// or contain empty path segments.
var ErrInvalidBlobKey = errors.New("invalid blob key")

// Compile-time interface check.
var _ ingestion.BlobStore = (*FilesystemBlobStore)(nil)

// FilesystemBlobStore stores blobs as files under a root directory. Keys
// map to relative paths; writes go through a temp file and rename so a
// crash never leaves a partial blob at its final key.
type FilesystemBlobStore struct {
	root string
}

// LoadBlobDir reads the blob root from the environment.
func LoadBlobDir() string {
	return config.GetEnvStr(EnvBlobDir, defaultBlobDir)
}

// NewFilesystemBlobStore creates the store, creating the root directory
// if needed.
func NewFilesystemBlobStore(root string) (*FilesystemBlobStore, error) {
	if root == "" {
		root = defaultBlobDir
	}

	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob root %s: %w", root, err)
	}

	return &FilesystemBlobStore{root: root}, nil
}

// Save writes the blob and returns the key it was stored under.
func (s *FilesystemBlobStore) Save(_ context.Context, key string, r io.Reader) (string, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create blob directory for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".blob-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", key, err)
	}

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to write blob %s: %w", key, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to close blob %s: %w", key, err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())

		return "", fmt.Errorf("failed to finalize blob %s: %w", key, err)
	}

	return key, nil
}

// Load reads a whole blob into memory.
func (s *FilesystemBlobStore) Load(_ context.Context, key string) ([]byte, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ingestion.ErrBlobNotFound
		}

		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}

	return data, nil
}

// GetPath returns the blob's filesystem path for streaming reads.
func (s *FilesystemBlobStore) GetPath(_ context.Context, key string) (string, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ingestion.ErrBlobNotFound
		}

		return "", fmt.Errorf("failed to stat blob %s: %w", key, err)
	}

	return path, nil
}

// Delete removes a blob. Deleting a missing key is not an error.
func (s *FilesystemBlobStore) Delete(_ context.Context, key string) error {
	path, err := s.keyPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}

	return nil
}

// Exists reports whether the key is present.
func (s *FilesystemBlobStore) Exists(_ context.Context, key string) (bool, error) {
	path, err := s.keyPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}

	return true, nil
}

// keyPath validates a key and maps it to a path under the root. Keys are
// slash-separated with no empty, "." or ".." segments, so they cannot
// escape the root.
func (s *FilesystemBlobStore) keyPath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("%w: empty key", ErrInvalidBlobKey)
	}

	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidBlobKey, key)
		}
	}

	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
