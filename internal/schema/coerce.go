package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrCoercion marks a raw cell that cannot be converted to its column type.
var ErrCoercion = errors.New("coercion failed")

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

	// Canonical v1 through v5 UUIDs only, mixed case accepted.
	uuidPattern = regexp.MustCompile(`^(?i)[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

	// Gates the ISO attempt so 2024/01/02 never half-parses as ISO.
	isoDatePrefix = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

var (
	isoDateTimeLayouts = []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	// Slash and dash dates without a leading year use US month-first
	// ordering.
	looseDateLayouts = []string{
		"2006/01/02",
		"01/02/2006",
		"01-02-2006",
	}
)

var (
	trueWords  = map[string]bool{"true": true, "1": true, "yes": true, "y": true, "on": true}
	falseWords = map[string]bool{"false": true, "0": true, "no": true, "n": true, "off": true}
)

// Coerce converts a raw cell to the column's declared type. The input
// is trimmed first; callers resolve emptiness before coercion, so raw
// is never empty here.
func Coerce(raw string, col *ColumnDefinition) (Value, error) {
	trimmed := strings.TrimSpace(raw)

	switch col.Type {
	case TypeString:
		return StringValue(trimmed), nil

	case TypeInteger:
		i, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a valid integer", ErrCoercion, raw)
		}

		return IntValue(i), nil

	case TypeFloat:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %q is not a valid number", ErrCoercion, raw)
		}

		return FloatValue(f), nil

	case TypeBoolean:
		lower := strings.ToLower(trimmed)
		if trueWords[lower] {
			return BoolValue(true), nil
		}

		if falseWords[lower] {
			return BoolValue(false), nil
		}

		return Value{}, fmt.Errorf("%w: %q is not a valid boolean", ErrCoercion, raw)

	case TypeDate:
		t, ok := parseTemporal(trimmed, col.DateFormat)
		if !ok {
			return Value{}, fmt.Errorf("%w: %q is not a valid date", ErrCoercion, raw)
		}

		return StringValue(t.Format("2006-01-02")), nil

	case TypeDateTime:
		t, ok := parseTemporal(trimmed, col.DateFormat)
		if !ok {
			return Value{}, fmt.Errorf("%w: %q is not a valid datetime", ErrCoercion, raw)
		}

		return StringValue(t.UTC().Format(time.RFC3339)), nil

	case TypeEmail:
		if !emailPattern.MatchString(trimmed) {
			return Value{}, fmt.Errorf("%w: %q is not a valid email address", ErrCoercion, raw)
		}

		return StringValue(strings.ToLower(trimmed)), nil

	case TypeUUID:
		if !uuidPattern.MatchString(trimmed) {
			return Value{}, fmt.Errorf("%w: %q is not a valid UUID", ErrCoercion, raw)
		}

		return StringValue(strings.ToLower(trimmed)), nil

	case TypeURL:
		u, err := url.Parse(trimmed)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Value{}, fmt.Errorf("%w: %q is not an absolute URL", ErrCoercion, raw)
		}

		return StringValue(trimmed), nil

	case TypeJSON:
		if !json.Valid([]byte(trimmed)) {
			return Value{}, fmt.Errorf("%w: %q is not valid JSON", ErrCoercion, raw)
		}

		return JSONValue(json.RawMessage(trimmed)), nil

	default:
		return Value{}, fmt.Errorf("%w: unsupported column type %q", ErrCoercion, col.Type)
	}
}

// IsEmail reports whether s has the email shape coercion accepts.
func IsEmail(s string) bool { return emailPattern.MatchString(s) }

// IsUUID reports whether s is a canonical v1 through v5 UUID.
func IsUUID(s string) bool { return uuidPattern.MatchString(s) }

// IsAbsoluteURL reports whether s parses as a URL with scheme and host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)

	return err == nil && u.Scheme != "" && u.Host != ""
}

// IsISODate reports whether s is a bare ISO-8601 date (YYYY-MM-DD).
func IsISODate(s string) bool {
	if !isoDatePrefix.MatchString(s) || len(s) != len("2006-01-02") {
		return false
	}

	_, err := time.Parse("2006-01-02", s)

	return err == nil
}

// IsISODateTime reports whether s is an ISO-8601 timestamp, with or
// without zone. Bare dates are not timestamps; see IsISODate.
func IsISODateTime(s string) bool {
	if !isoDatePrefix.MatchString(s) || len(s) <= len("2006-01-02") {
		return false
	}

	for _, layout := range isoDateTimeLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}

	return false
}

// parseTemporal tries the column's explicit dateFormat first, then the
// strict ISO layouts, then the loose US layouts.
func parseTemporal(s, explicitLayout string) (time.Time, bool) {
	if explicitLayout != "" {
		if t, err := time.Parse(explicitLayout, s); err == nil {
			return t, true
		}
	}

	if isoDatePrefix.MatchString(s) {
		for _, layout := range isoDateTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
	}

	for _, layout := range looseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}

	return time.Time{}, false
}
