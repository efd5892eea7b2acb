package pipeline

import (
	"testing"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

func TestOutputColumns(t *testing.T) {
	t.Run("canonical order", func(t *testing.T) {
		got := outputColumns(nil, ordersSchema(schema.PolicyFlag))

		want := []string{"order_id", "status"}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("columns = %v, want %v", got, want)
		}
	})

	t.Run("passthrough keeps first appearance and drops unmapped", func(t *testing.T) {
		mapping := &ingestion.MappingResult{
			Mappings: []ingestion.ColumnMapping{
				{SourceColumn: "b", TargetColumn: "b"},
				{SourceColumn: "a", TargetColumn: "a"},
				{SourceColumn: "B", TargetColumn: "b"},
				{SourceColumn: "junk", TargetColumn: ""},
			},
		}

		got := outputColumns(mapping, nil)

		want := []string{"b", "a"}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("columns = %v, want %v", got, want)
		}
	})
}

func TestBuildOutputRowsRejectsFailedRows(t *testing.T) {
	target := ordersSchema(schema.PolicyRejectRow)
	mapping := identityMapping("order_id", "status")

	parsed := parsedRows([]string{"order_id", "status"},
		[]string{"ORD-1", "pending"},
		[]string{"ORD-1", "SHIPPED"},
		[]string{"ORD-2", "unknown"},
	)

	validation, err := validateRows(parsed, mapping, target)
	if err != nil {
		t.Fatalf("validateRows: %v", err)
	}

	rows, rejected := buildOutputRows(parsed, mapping, validation, target, outputColumns(mapping, target))

	if rejected != 2 {
		t.Errorf("rejected = %d, want 2", rejected)
	}

	if len(rows) != 1 {
		t.Fatalf("rows = %d, want only the valid row", len(rows))
	}

	if rows[0]["order_id"].String() != "ORD-1" || rows[0]["status"].String() != "pending" {
		t.Errorf("row = %v, want ORD-1/pending", rows[0])
	}
}

func TestBuildOutputRowsFlagKeepsFailedRows(t *testing.T) {
	target := ordersSchema(schema.PolicyFlag)
	mapping := identityMapping("order_id", "status")

	parsed := parsedRows([]string{"order_id", "status"},
		[]string{"ORD-1", "pending"},
		[]string{"ORD-1", "SHIPPED"},
		[]string{"ORD-2", "unknown"},
	)

	validation, err := validateRows(parsed, mapping, target)
	if err != nil {
		t.Fatalf("validateRows: %v", err)
	}

	rows, rejected := buildOutputRows(parsed, mapping, validation, target, outputColumns(mapping, target))

	if rejected != 0 || len(rows) != 3 {
		t.Fatalf("rows = %d rejected = %d, want all 3 retained", len(rows), rejected)
	}

	// Flagged rows keep their original content.
	if rows[1]["status"].String() != "SHIPPED" {
		t.Errorf("row 2 status = %q, want the raw value", rows[1]["status"].String())
	}
}

func TestBuildOutputRowsCoercedSubstitutesDefault(t *testing.T) {
	target := &schema.CanonicalSchema{
		ID:   "sch",
		Name: "amounts",
		Columns: []schema.ColumnDefinition{
			{Name: "order_id", Type: schema.TypeString},
			{Name: "amount", Type: schema.TypeFloat, Default: 0},
		},
		ErrorPolicy: schema.PolicyCoerceDefault,
	}
	mapping := identityMapping("order_id", "amount")

	parsed := parsedRows([]string{"order_id", "amount"},
		[]string{"ORD-1", "abc"},
		[]string{"ORD-2", "5.5"},
	)

	validation, err := validateRows(parsed, mapping, target)
	if err != nil {
		t.Fatalf("validateRows: %v", err)
	}

	rows, rejected := buildOutputRows(parsed, mapping, validation, target, outputColumns(mapping, target))

	if rejected != 0 || len(rows) != 2 {
		t.Fatalf("rows = %d rejected = %d, want both rows kept", len(rows), rejected)
	}

	if rows[0]["amount"].String() != "0" {
		t.Errorf("coerced amount = %q, want the default 0", rows[0]["amount"].String())
	}

	// The untouched column of the coerced row survives as-is.
	if rows[0]["order_id"].String() != "ORD-1" {
		t.Errorf("order_id = %q, want ORD-1", rows[0]["order_id"].String())
	}

	if rows[1]["amount"].String() != "5.5" {
		t.Errorf("clean amount = %q, want 5.5", rows[1]["amount"].String())
	}
}

func TestBuildOutputRowsPassthrough(t *testing.T) {
	mapping := identityMapping("b", "a")

	parsed := parsedRows([]string{"b", "a"},
		[]string{"2", "1"},
	)

	validation, err := validateRows(parsed, mapping, nil)
	if err != nil {
		t.Fatalf("validateRows: %v", err)
	}

	columns := outputColumns(mapping, nil)

	rows, rejected := buildOutputRows(parsed, mapping, validation, nil, columns)

	if rejected != 0 || len(rows) != 1 {
		t.Fatalf("rows = %d rejected = %d, want one row", len(rows), rejected)
	}

	if rows[0]["b"].String() != "2" || rows[0]["a"].String() != "1" {
		t.Errorf("row = %v, want source values by name", rows[0])
	}
}

func TestCoerceDefault(t *testing.T) {
	if _, ok := coerceDefault(&schema.ColumnDefinition{Name: "a", Type: schema.TypeInteger}); ok {
		t.Error("no declared default must report false")
	}

	v, ok := coerceDefault(&schema.ColumnDefinition{Name: "a", Type: schema.TypeInteger, Default: 9})
	if !ok || v.String() != "9" {
		t.Errorf("value = %q ok = %v, want 9 true", v.String(), ok)
	}

	// A default the column type cannot absorb is skipped.
	if _, ok := coerceDefault(&schema.ColumnDefinition{Name: "a", Type: schema.TypeInteger, Default: "abc"}); ok {
		t.Error("an uncoercible default must report false")
	}
}

func TestEncodeCSV(t *testing.T) {
	columns := []string{"a", "b"}
	rows := []map[string]schema.Value{
		{"a": schema.StringValue("x,y"), "b": schema.NullValue()},
	}

	got, err := encodeCSV(columns, rows)
	if err != nil {
		t.Fatalf("encodeCSV: %v", err)
	}

	want := "a,b\n\"x,y\",\n"
	if string(got) != want {
		t.Errorf("csv = %q, want %q", got, want)
	}
}
