package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// Fingerprint computes a deterministic identity for a header layout: the
// SHA256 of the sorted column names. Recurring inputs with the same
// columns in any order produce the same fingerprint, which is the lookup
// key for mapping-template reuse.
//
// Returns: 64-character lowercase hex string.
func Fingerprint(columns []string) string {
	sorted := make([]string, len(columns))
	copy(sorted, columns)
	sort.Strings(sorted)

	// Unit separator keeps adjacent names from running together.
	hash := sha256.Sum256([]byte(strings.Join(sorted, "\x1f")))

	return hex.EncodeToString(hash[:])
}
