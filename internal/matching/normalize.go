// Package matching provides the string primitives behind column mapping:
// header-name normalization, similarity scoring for fuzzy matches, and
// header fingerprints for mapping-template reuse.
//
// All functions are pure and operate on plain strings, keeping them
// reusable across the map stage, the template store, and review tooling.
package matching

import (
	"strings"
	"unicode"
)

// NormalizeColumnName reduces a header name to its comparable core:
// lowercase with separators and every other non-alphanumeric rune
// removed.
//
// Examples:
//   - "Customer_Email" → "customeremail"
//   - "customer-email" → "customeremail"
//   - " Customer Email " → "customeremail"
func NormalizeColumnName(name string) string {
	lower := strings.ToLower(name)

	var b strings.Builder

	b.Grow(len(lower))

	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// Tokenize splits a header name on separators (underscore, dash,
// whitespace) and normalizes each piece. Empty pieces are dropped.
//
// Examples:
//   - "order_id" → ["order", "id"]
//   - "Customer E-Mail" → ["customer", "e", "mail"]
func Tokenize(name string) []string {
	lower := strings.ToLower(name)

	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})

	tokens := make([]string, 0, len(fields))

	for _, f := range fields {
		cleaned := NormalizeColumnName(f)
		if cleaned != "" {
			tokens = append(tokens, cleaned)
		}
	}

	return tokens
}
