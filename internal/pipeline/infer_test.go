package pipeline

import (
	"math"
	"reflect"
	"testing"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

func rowsFor(column string, values ...string) []map[string]string {
	rows := make([]map[string]string, 0, len(values))
	for _, v := range values {
		rows = append(rows, map[string]string{column: v})
	}

	return rows
}

func TestDetectValueType(t *testing.T) {
	tests := []struct {
		value string
		want  schema.ColumnType
	}{
		{"550e8400-e29b-41d4-a716-446655440000", schema.TypeUUID},
		{"alice@example.com", schema.TypeEmail},
		{"https://example.com/path", schema.TypeURL},
		{"2024-01-15T10:30:00Z", schema.TypeDateTime},
		{"2024-01-15", schema.TypeDate},
		{"true", schema.TypeBoolean},
		{"no", schema.TypeBoolean},
		{"42", schema.TypeInteger},
		{"-7", schema.TypeInteger},
		{"3.14", schema.TypeFloat},
		{`{"a":1}`, schema.TypeJSON},
		{`[1,2,3]`, schema.TypeJSON},
		{`{broken`, schema.TypeString},
		{"hello", schema.TypeString},
		{"1", schema.TypeInteger},
		{"on", schema.TypeString},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			if got := detectValueType(tt.value); got != tt.want {
				t.Errorf("detectValueType(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestInferColumnIntegerPromotion(t *testing.T) {
	col := inferColumn("n", rowsFor("n", "1", "2", "3.5", "4"))

	if col.InferredType != schema.TypeFloat {
		t.Errorf("inferredType = %v, want float", col.InferredType)
	}

	if col.Confidence != 1.0 {
		t.Errorf("confidence = %v, want 1.0 (integer votes credited)", col.Confidence)
	}
}

func TestInferColumnAllNull(t *testing.T) {
	col := inferColumn("n", rowsFor("n", "", "  ", ""))

	if col.InferredType != schema.TypeString {
		t.Errorf("inferredType = %v, want string", col.InferredType)
	}

	if col.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", col.Confidence)
	}

	if !col.Nullable {
		t.Error("all-null column should be nullable")
	}

	if col.NullCount != 3 || col.TotalCount != 3 {
		t.Errorf("counts = %d/%d, want 3/3", col.NullCount, col.TotalCount)
	}
}

func TestInferColumnNullsAndConfidence(t *testing.T) {
	col := inferColumn("n", rowsFor("n", "1", "", "2", "x"))

	if col.InferredType != schema.TypeInteger {
		t.Errorf("inferredType = %v, want integer", col.InferredType)
	}

	// Two integer votes out of three non-null values.
	if math.Abs(col.Confidence-2.0/3.0) > 1e-9 {
		t.Errorf("confidence = %v, want 2/3", col.Confidence)
	}

	if !col.Nullable || col.NullCount != 1 {
		t.Errorf("nullable = %v nullCount = %d, want true/1", col.Nullable, col.NullCount)
	}
}

func TestInferColumnUniqueRatio(t *testing.T) {
	col := inferColumn("n", rowsFor("n", "a", "b", "a", "c"))

	if math.Abs(col.UniqueRatio-0.75) > 1e-9 {
		t.Errorf("uniqueRatio = %v, want 0.75", col.UniqueRatio)
	}
}

func TestInferColumnSampleValuesCapped(t *testing.T) {
	col := inferColumn("n", rowsFor("n", "a", "b", "c", "d", "e", "f", "a"))

	want := []string{"a", "b", "c", "d", "e"}
	if !reflect.DeepEqual(col.SampleValues, want) {
		t.Errorf("sampleValues = %v, want first five distinct %v", col.SampleValues, want)
	}
}

func TestInferColumnTieBreaksByDetectionOrder(t *testing.T) {
	// One boolean vote, one integer vote: boolean is more specific.
	col := inferColumn("n", rowsFor("n", "true", "42"))

	if col.InferredType != schema.TypeBoolean {
		t.Errorf("inferredType = %v, want boolean on tie", col.InferredType)
	}

	if col.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", col.Confidence)
	}
}

func TestInferColumnsKeepsParseMetadata(t *testing.T) {
	parsed := &ingestion.ParseResult{
		Columns:           []string{"id", "email"},
		Rows:              []map[string]string{{"id": "1", "email": "a@example.com"}},
		TotalRowCount:     250,
		ParseErrors:       []ingestion.ParseError{{Row: 7, Message: "row has 3 fields, expected 2; extra fields dropped"}},
		DetectedDelimiter: ";",
	}

	inferred := inferColumns(parsed)

	if len(inferred.Columns) != 2 {
		t.Fatalf("columns = %d, want 2", len(inferred.Columns))
	}

	if inferred.Columns[1].InferredType != schema.TypeEmail {
		t.Errorf("email column inferred as %v", inferred.Columns[1].InferredType)
	}

	if inferred.RowCount != 250 || inferred.DetectedDelimiter != ";" || len(inferred.ParseErrors) != 1 {
		t.Errorf("parse metadata not carried: %+v", inferred)
	}
}
