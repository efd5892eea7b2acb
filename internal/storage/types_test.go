package storage

import (
	"testing"
	"time"
)

func TestKeyValidation(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	apiKey := &APIKey{
		ID:          "api-key-1",
		Key:         "test-key-123",
		ClientID:    "orders-team",
		Name:        "Orders Team Upload Key",
		Permissions: []string{"ingestions:write", "schemas:read"},
		CreatedAt:   time.Now(),
		ExpiresAt:   nil,
		Active:      true,
	}

	tests := []struct {
		name     string
		key      string
		expected bool
	}{
		{
			name:     "valid API key matches",
			key:      "test-key-123",
			expected: true,
		},
		{
			name:     "invalid API key does not match",
			key:      "wrong-key",
			expected: false,
		},
		{
			name:     "empty key fails validation",
			key:      "",
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := apiKey.ValidateKey(tt.key)
			if result != tt.expected {
				t.Errorf("ValidateKey(%q) = %v, want %v", tt.key, result, tt.expected)
			}
		})
	}

	t.Run("inactive API key fails validation", func(t *testing.T) {
		inactiveKey := &APIKey{
			ID:       "api-key-2",
			Key:      "inactive-key",
			ClientID: "test-client",
			Active:   false,
		}

		result := inactiveKey.ValidateKey("inactive-key")
		if result != false {
			t.Errorf("ValidateKey on inactive key = %v, want false", result)
		}
	})

	t.Run("expired API key fails validation", func(t *testing.T) {
		pastTime := time.Now().Add(-time.Hour)
		expiredKey := &APIKey{
			ID:        "api-key-3",
			Key:       "expired-key",
			ClientID:  "test-client",
			Active:    true,
			ExpiresAt: &pastTime,
		}

		result := expiredKey.ValidateKey("expired-key")
		if result != false {
			t.Errorf("ValidateKey on expired key = %v, want false", result)
		}
	})
}

func TestKeyPermissions(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	apiKey := &APIKey{
		ID:          "api-key-1",
		Key:         "test-key-123",
		ClientID:    "orders-team",
		Name:        "Orders Team Upload Key",
		Permissions: []string{"ingestions:write", "schemas:read", "schemas:write"},
		Active:      true,
	}

	tests := []struct {
		name       string
		permission string
		expected   bool
	}{
		{
			name:       "has ingestions write permission",
			permission: "ingestions:write",
			expected:   true,
		},
		{
			name:       "has schemas read permission",
			permission: "schemas:read",
			expected:   true,
		},
		{
			name:       "does not have admin permission",
			permission: "admin:write",
			expected:   false,
		},
		{
			name:       "empty permission string",
			permission: "",
			expected:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := apiKey.HasPermission(tt.permission)
			if result != tt.expected {
				t.Errorf("HasPermission(%q) = %v, want %v", tt.permission, result, tt.expected)
			}
		})
	}
}

func TestSecureCompare(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		key1     string
		key2     string
		expected bool
	}{
		{
			name:     "identical keys match",
			key1:     "canonizer_ak_1234567890abcdef",
			key2:     "canonizer_ak_1234567890abcdef",
			expected: true,
		},
		{
			name:     "different keys don't match",
			key1:     "canonizer_ak_1234567890abcdef",
			key2:     "canonizer_ak_abcdef1234567890",
			expected: false,
		},
		{
			name:     "different length keys don't match",
			key1:     "canonizer_ak_1234567890abcdef",
			key2:     "canonizer_ak_1234",
			expected: false,
		},
		{
			name:     "empty keys match",
			key1:     "",
			key2:     "",
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SecureCompare(tt.key1, tt.key2)
			if result != tt.expected {
				t.Errorf("SecureCompare(%q, %q) = %v, want %v", tt.key1, tt.key2, result, tt.expected)
			}
		})
	}
}

func TestKeyMasking(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{
			name:     "standard 77-char canonizer API key",
			key:      "canonizer_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			expected: "canonizer_ak_1234********************************************************cdef",
		},
		{
			name:     "non-standard key (testing/dev)",
			key:      "test-key-123",
			expected: "************",
		},
		{
			name:     "empty key",
			key:      "",
			expected: "",
		},
		{
			name:     "very short key",
			key:      "ab",
			expected: "**",
		},
		{
			name:     "short key",
			key:      "short",
			expected: "*****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := MaskKey(tt.key)
			if result != tt.expected {
				t.Errorf("MaskKey(%q) = %q, want %q", tt.key, result, tt.expected)
			}
		})
	}
}

func TestGenerateAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name     string
		clientID string
		wantErr  bool
	}{
		{
			name:     "valid client ID generates key",
			clientID: "orders-team",
			wantErr:  false,
		},
		{
			name:     "empty client ID fails",
			clientID: "",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := GenerateAPIKey(tt.clientID)

			if tt.wantErr {
				if err == nil {
					t.Errorf("GenerateAPIKey(%q) expected error, got nil", tt.clientID)
				}

				return
			}

			if err != nil {
				t.Errorf("GenerateAPIKey(%q) unexpected error: %v", tt.clientID, err)

				return
			}

			if len(key) != apiKeyLength {
				t.Errorf("GenerateAPIKey(%q) key length = %d, want %d", tt.clientID, len(key), apiKeyLength)
			}

			// Generated keys must round-trip through the parser.
			parsed, err := ParseAPIKey(key)
			if err != nil {
				t.Errorf("ParseAPIKey(generated key) error = %v", err)
			}

			if parsed != key {
				t.Errorf("ParseAPIKey(generated key) = %q, want %q", parsed, key)
			}
		})
	}
}

func TestParseAPIKey(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name      string
		keyString string
		expected  string
		wantErr   bool
	}{
		{
			name:      "valid API key format",
			keyString: "Bearer canonizer_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			expected:  "canonizer_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			wantErr:   false,
		},
		{
			name:      "API key without Bearer prefix",
			keyString: "canonizer_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			expected:  "canonizer_ak_1234567890abcdef1234567890abcdef1234567890abcdef1234567890abcdef",
			wantErr:   false,
		},
		{
			name:      "invalid key format",
			keyString: "invalid-key-format",
			expected:  "",
			wantErr:   true,
		},
		{
			name:      "wrong length",
			keyString: "canonizer_ak_1234",
			expected:  "",
			wantErr:   true,
		},
		{
			name:      "empty key string",
			keyString: "",
			expected:  "",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := ParseAPIKey(tt.keyString)

			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseAPIKey(%q) expected error, got nil", tt.keyString)
				}

				return
			}

			if err != nil {
				t.Errorf("ParseAPIKey(%q) unexpected error: %v", tt.keyString, err)

				return
			}

			if key != tt.expected {
				t.Errorf("ParseAPIKey(%q) = %q, want %q", tt.keyString, key, tt.expected)
			}
		})
	}
}
