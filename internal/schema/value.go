package schema

import (
	"encoding/json"
	"strconv"
)

type (
	// ValueKind discriminates the variants of Value.
	ValueKind uint8

	// Value is a coerced cell. The CSV artifact renders it with String,
	// the JSON artifact marshals it with its native type, so an integer
	// column emits 42 rather than "42" and a null stays null.
	Value struct {
		kind ValueKind
		str  string
		i    int64
		f    float64
		b    bool
		raw  json.RawMessage
	}
)

// Value kinds.
const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindJSON
)

// NullValue returns the null cell value.
func NullValue() Value { return Value{kind: KindNull} }

// StringValue wraps a string cell.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue wraps an integer cell.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue wraps a float cell.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// BoolValue wraps a boolean cell.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// JSONValue wraps an already-validated JSON document.
func JSONValue(raw json.RawMessage) Value { return Value{kind: KindJSON, raw: raw} }

// Kind returns the variant of the value.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// String renders the value as CSV cell text. Null renders as the empty
// string, floats without a fixed precision, booleans as true or false.
func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindJSON:
		return string(v.raw)
	default:
		return ""
	}
}

// Int returns the integer payload. The second result is false for any
// other kind.
func (v Value) Int() (int64, bool) {
	if v.kind != KindInt {
		return 0, false
	}

	return v.i, true
}

// Float returns the value as a float64 for numeric kinds. Integers
// widen; everything else reports false.
func (v Value) Float() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// Bool returns the boolean payload. The second result is false for any
// other kind.
func (v Value) Bool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}

	return v.b, true
}

// MarshalJSON emits the value with its native JSON type.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindJSON:
		return v.raw, nil
	default:
		return []byte("null"), nil
	}
}
