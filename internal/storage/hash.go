package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	// bcryptCost defines the computational cost for bcrypt hashing.
	// Cost 10 = ~60ms per hash. Can be raised to 12 (~250ms) when key
	// validation latency allows.
	bcryptCost  = 10
	bcryptLimit = 72
)

// HashAPIKey generates a bcrypt hash of the API key for storage. The
// plaintext key is never persisted, only the hash.
//
// Bcrypt has a 72-byte input limit; canonizer keys are 77 bytes, so the
// key is pre-hashed with SHA-256 before bcrypt.
func HashAPIKey(apiKey string) (string, error) {
	if apiKey == "" {
		return "", ErrKeyNil
	}

	hash, err := bcrypt.GenerateFromPassword(bcryptInput(apiKey), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}

	return string(hash), nil
}

// CompareAPIKeyHash performs constant-time comparison of an API key
// against its bcrypt hash. Returns false for any error condition (empty
// inputs, invalid hash format).
func CompareAPIKeyHash(hash, apiKey string) bool {
	if hash == "" || apiKey == "" {
		return false
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), bcryptInput(apiKey)) == nil
}

// LookupDigest returns the hex-encoded SHA-256 digest of an API key.
// The digest is stored as a deterministic lookup column next to the
// bcrypt hash: queries resolve a single candidate row by digest, and the
// bcrypt hash remains the verifier.
func LookupDigest(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))

	return hex.EncodeToString(sum[:])
}

// bcryptInput applies the SHA-256 pre-hash for keys beyond bcrypt's
// 72-byte limit. Hashing and comparison must share this preparation.
func bcryptInput(apiKey string) []byte {
	if len(apiKey) <= bcryptLimit {
		return []byte(apiKey)
	}

	sum := sha256.Sum256([]byte(apiKey))

	return sum[:]
}
