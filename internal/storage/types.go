// Package storage provides the persistence implementations for the
// canonizer: PostgreSQL stores for ingestions, schemas, the decision
// journal, mapping templates and API keys, a filesystem blob store, and
// in-memory equivalents for tests and single-process mode.
package storage

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// API key format constants.
	randomBytesSize = 32
	keyPrefix       = "canonizer_ak_"
	apiKeyLength    = len(keyPrefix) + randomBytesSize*2 // prefix + 64 hex chars
	maskPrefixLen   = len(keyPrefix) + 4                 // Show "canonizer_ak_1234"
	maskSuffixLen   = 4                                  // Show last 4 chars
)

var (
	// ErrKeyAlreadyExists is returned when attempting to add a key that already exists.
	ErrKeyAlreadyExists = errors.New("API key already exists")
	// ErrKeyNotFound is returned when attempting to operate on a non-existent key.
	ErrKeyNotFound = errors.New("API key not found")
	// ErrKeyNil is returned when a nil API key is provided.
	ErrKeyNil = errors.New("API key cannot be nil")
	// ErrClientIDEmpty is returned when the client ID is empty during key generation.
	ErrClientIDEmpty = errors.New("client ID cannot be empty")
	// ErrKeyStringEmpty is returned when key string is empty during parsing.
	ErrKeyStringEmpty = errors.New("key string cannot be empty")
	// ErrInvalidKeyFormat is returned when an API key doesn't match the expected format.
	ErrInvalidKeyFormat = errors.New("invalid API key format")
	// ErrInvalidKeyLength is returned when an API key's length is incorrect.
	ErrInvalidKeyLength = errors.New("invalid API key length")
)

// APIKey identifies one client system authorized to upload files and
// manage schemas, together with its permissions.
type APIKey struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	ClientID    string     `json:"clientId"`
	Name        string     `json:"name"`
	Permissions []string   `json:"permissions"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`
	Active      bool       `json:"active"`
}

// APIKeyStore defines the interface for API key storage and retrieval.
type APIKeyStore interface {
	// FindByKey retrieves an API key by its key value
	FindByKey(ctx context.Context, key string) (*APIKey, bool)
	// Add stores a new API key
	Add(ctx context.Context, apiKey *APIKey) error
	// Update modifies an existing API key
	Update(ctx context.Context, apiKey *APIKey) error
	// Delete removes an API key
	Delete(ctx context.Context, keyID string) error
	// ListByClient returns all API keys for a specific client
	ListByClient(ctx context.Context, clientID string) ([]*APIKey, error)
}

// ValidateKey performs constant-time comparison of the provided key against this API key.
func (ak *APIKey) ValidateKey(providedKey string) bool {
	if providedKey == "" || ak.Key == "" {
		return false
	}

	if !ak.Active {
		return false
	}

	if ak.ExpiresAt != nil && time.Now().After(*ak.ExpiresAt) {
		return false
	}

	return SecureCompare(ak.Key, providedKey)
}

// HasPermission checks if the API key has a specific permission.
func (ak *APIKey) HasPermission(permission string) bool {
	for _, p := range ak.Permissions {
		if p == permission {
			return true
		}
	}

	return false
}

// SecureCompare performs constant-time comparison of two strings to prevent timing attacks.
func SecureCompare(a, b string) bool {
	// If lengths differ, still perform a comparison so the call takes
	// constant time, then return false.
	if len(a) != len(b) {
		dummy := make([]byte, len(a))
		subtle.ConstantTimeCompare([]byte(a), dummy)

		return false
	}

	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// MaskKey masks an API key for secure logging by showing only the prefix and suffix.
// Designed specifically for 77-character canonizer API keys in format:
// "canonizer_ak_" + 64 hex chars = 77 total chars.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}

	keyLen := len(key)

	// For standard-length API keys, show a meaningful prefix and suffix
	if keyLen == apiKeyLength {
		maskedLen := keyLen - maskPrefixLen - maskSuffixLen

		return key[:maskPrefixLen] + strings.Repeat("*", maskedLen) + key[keyLen-maskSuffixLen:]
	}

	// For any other key length (testing, development, etc.), mask completely
	return strings.Repeat("*", keyLen)
}

// GenerateAPIKey creates a new secure API key for a client.
func GenerateAPIKey(clientID string) (string, error) {
	if clientID == "" {
		return "", ErrClientIDEmpty
	}

	// Generate 32 random bytes (256 bits)
	randomBytes := make([]byte, randomBytesSize)

	_, err := rand.Read(randomBytes)
	if err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	return keyPrefix + hex.EncodeToString(randomBytes), nil
}

// ParseAPIKey extracts the API key from various header formats.
func ParseAPIKey(keyString string) (string, error) {
	if keyString == "" {
		return "", ErrKeyStringEmpty
	}

	// Remove "Bearer " prefix if present
	keyString = strings.TrimPrefix(keyString, "Bearer ")

	if !strings.HasPrefix(keyString, keyPrefix) {
		return "", ErrInvalidKeyFormat
	}

	if len(keyString) != apiKeyLength {
		return "", ErrInvalidKeyLength
	}

	return keyString, nil
}
