package schema

import (
	"errors"
	"testing"
)

func TestCoerce(t *testing.T) {
	tests := []struct {
		name       string
		colType    ColumnType
		dateFormat string
		raw        string
		want       string
		wantErr    bool
	}{
		// Strings trim surrounding whitespace.
		{name: "string trims", colType: TypeString, raw: "  hello  ", want: "hello"},
		{name: "string keeps inner spaces", colType: TypeString, raw: "a b", want: "a b"},

		// Integers are strict decimal.
		{name: "integer", colType: TypeInteger, raw: "42", want: "42"},
		{name: "integer negative", colType: TypeInteger, raw: "-7", want: "-7"},
		{name: "integer trims", colType: TypeInteger, raw: " 42 ", want: "42"},
		{name: "integer rejects float", colType: TypeInteger, raw: "3.14", wantErr: true},
		{name: "integer rejects text", colType: TypeInteger, raw: "abc", wantErr: true},

		// Floats accept integer literals; multiple dots fail the parse.
		{name: "float", colType: TypeFloat, raw: "3.14", want: "3.14"},
		{name: "float negative", colType: TypeFloat, raw: "-0.5", want: "-0.5"},
		{name: "float from integer literal", colType: TypeFloat, raw: "4", want: "4"},
		{name: "float rejects double dot", colType: TypeFloat, raw: "1.2.3", wantErr: true},

		// Booleans accept the word lists case-insensitively.
		{name: "boolean true word", colType: TypeBoolean, raw: "TRUE", want: "true"},
		{name: "boolean yes", colType: TypeBoolean, raw: "Yes", want: "true"},
		{name: "boolean y", colType: TypeBoolean, raw: "y", want: "true"},
		{name: "boolean on", colType: TypeBoolean, raw: "on", want: "true"},
		{name: "boolean one", colType: TypeBoolean, raw: "1", want: "true"},
		{name: "boolean zero", colType: TypeBoolean, raw: "0", want: "false"},
		{name: "boolean off", colType: TypeBoolean, raw: "off", want: "false"},
		{name: "boolean n", colType: TypeBoolean, raw: "N", want: "false"},
		{name: "boolean rejects other words", colType: TypeBoolean, raw: "maybe", wantErr: true},
		{name: "boolean rejects other numbers", colType: TypeBoolean, raw: "10", wantErr: true},

		// Dates normalize to YYYY-MM-DD.
		{name: "date iso", colType: TypeDate, raw: "2024-01-15", want: "2024-01-15"},
		{name: "date from iso datetime", colType: TypeDate, raw: "2024-01-15T10:30:00Z", want: "2024-01-15"},
		{name: "date slash year first", colType: TypeDate, raw: "2024/01/15", want: "2024-01-15"},
		{name: "date us slash", colType: TypeDate, raw: "01/15/2024", want: "2024-01-15"},
		{name: "date us dash", colType: TypeDate, raw: "01-15-2024", want: "2024-01-15"},
		{name: "date rejects garbage", colType: TypeDate, raw: "not-a-date", wantErr: true},
		{name: "date rejects impossible month", colType: TypeDate, raw: "2024-13-01", wantErr: true},

		// Datetimes normalize to RFC 3339 UTC.
		{name: "datetime rfc3339", colType: TypeDateTime, raw: "2024-01-15T10:30:00Z", want: "2024-01-15T10:30:00Z"},
		{name: "datetime naive", colType: TypeDateTime, raw: "2024-01-15T10:30:00", want: "2024-01-15T10:30:00Z"},
		{name: "datetime space separated", colType: TypeDateTime, raw: "2024-01-15 10:30:00", want: "2024-01-15T10:30:00Z"},
		{name: "datetime offset converts to utc", colType: TypeDateTime, raw: "2024-01-15T10:30:00+02:00", want: "2024-01-15T08:30:00Z"},
		{name: "datetime from bare date", colType: TypeDateTime, raw: "2024-01-15", want: "2024-01-15T00:00:00Z"},

		// Emails lowercase on accept.
		{name: "email lowercased", colType: TypeEmail, raw: "User@Example.COM", want: "user@example.com"},
		{name: "email rejects missing at", colType: TypeEmail, raw: "user.example.com", wantErr: true},
		{name: "email rejects missing dot", colType: TypeEmail, raw: "user@example", wantErr: true},
		{name: "email rejects spaces", colType: TypeEmail, raw: "us er@example.com", wantErr: true},

		// UUIDs lowercase on accept; only canonical v1-v5 forms pass.
		{
			name:    "uuid lowercased",
			colType: TypeUUID,
			raw:     "550E8400-E29B-41D4-A716-446655440000",
			want:    "550e8400-e29b-41d4-a716-446655440000",
		},
		{name: "uuid rejects bad variant", colType: TypeUUID, raw: "550e8400-e29b-41d4-c716-446655440000", wantErr: true},
		{name: "uuid rejects version zero", colType: TypeUUID, raw: "550e8400-e29b-01d4-a716-446655440000", wantErr: true},
		{name: "uuid rejects short form", colType: TypeUUID, raw: "550e8400", wantErr: true},

		// URLs must be absolute.
		{name: "url absolute", colType: TypeURL, raw: "https://example.com/path?q=1", want: "https://example.com/path?q=1"},
		{name: "url rejects relative", colType: TypeURL, raw: "/path/only", wantErr: true},
		{name: "url rejects bare word", colType: TypeURL, raw: "example", wantErr: true},

		// JSON accepts any valid JSON value.
		{name: "json object", colType: TypeJSON, raw: `{"a":1}`, want: `{"a":1}`},
		{name: "json array", colType: TypeJSON, raw: `[1,2]`, want: `[1,2]`},
		{name: "json scalar", colType: TypeJSON, raw: `42`, want: `42`},
		{name: "json rejects malformed", colType: TypeJSON, raw: `{"a":}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := &ColumnDefinition{Name: "c", Type: tt.colType, DateFormat: tt.dateFormat}

			got, err := Coerce(tt.raw, col)

			if tt.wantErr {
				if err == nil {
					t.Fatalf("Coerce(%q, %s) = %q, want error", tt.raw, tt.colType, got.String())
				}

				if !errors.Is(err, ErrCoercion) {
					t.Fatalf("Coerce(%q, %s) error = %v, want ErrCoercion", tt.raw, tt.colType, err)
				}

				return
			}

			if err != nil {
				t.Fatalf("Coerce(%q, %s) unexpected error: %v", tt.raw, tt.colType, err)
			}

			if got.String() != tt.want {
				t.Errorf("Coerce(%q, %s) = %q, want %q", tt.raw, tt.colType, got.String(), tt.want)
			}
		})
	}
}

// Ambiguous MM/DD dates resolve month-first.
func TestCoerceAmbiguousDateUsesUSOrdering(t *testing.T) {
	col := &ColumnDefinition{Name: "d", Type: TypeDate}

	got, err := Coerce("03/04/2024", col)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.String() != "2024-03-04" {
		t.Errorf("Coerce(03/04/2024) = %q, want 2024-03-04 (month first)", got.String())
	}
}

func TestCoerceExplicitDateFormatWins(t *testing.T) {
	col := &ColumnDefinition{Name: "d", Type: TypeDate, DateFormat: "02.01.2006"}

	got, err := Coerce("15.01.2024", col)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got.String() != "2024-01-15" {
		t.Errorf("Coerce(15.01.2024) = %q, want 2024-01-15", got.String())
	}
}

func TestCoerceValueKinds(t *testing.T) {
	tests := []struct {
		name    string
		colType ColumnType
		raw     string
		want    ValueKind
	}{
		{name: "integer kind", colType: TypeInteger, raw: "5", want: KindInt},
		{name: "float kind", colType: TypeFloat, raw: "5.5", want: KindFloat},
		{name: "boolean kind", colType: TypeBoolean, raw: "yes", want: KindBool},
		{name: "json kind", colType: TypeJSON, raw: "[]", want: KindJSON},
		{name: "date is rendered as string", colType: TypeDate, raw: "2024-01-15", want: KindString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := &ColumnDefinition{Name: "c", Type: tt.colType}

			got, err := Coerce(tt.raw, col)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got.Kind() != tt.want {
				t.Errorf("Coerce(%q, %s) kind = %v, want %v", tt.raw, tt.colType, got.Kind(), tt.want)
			}
		})
	}
}
