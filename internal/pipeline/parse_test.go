package pipeline

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.csv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp csv: %v", err)
	}

	return path
}

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name  string
		probe string
		want  rune
	}{
		{"comma", "a,b,c\n1,2,3", ','},
		{"semicolon", "a;b;c\n1;2;3", ';'},
		{"tab", "a\tb\tc", '\t'},
		{"pipe", "a|b|c", '|'},
		{"majority wins", "a;b;c,d", ';'},
		{"tie keeps candidate order", "a,b;c", ','},
		{"no candidate defaults to comma", "justoneheader", ','},
		{"only first line counted", "a,b\nx;y;z;w;v", ','},
		{"empty probe", "", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detectDelimiter([]byte(tt.probe)); got != tt.want {
				t.Errorf("detectDelimiter(%q) = %q, want %q", tt.probe, got, tt.want)
			}
		})
	}
}

func TestHeaderColumns(t *testing.T) {
	tests := []struct {
		name          string
		header        []string
		wantColumns   []string
		wantPositions []string
	}{
		{
			name:          "plain names trimmed",
			header:        []string{" id ", "name"},
			wantColumns:   []string{"id", "name"},
			wantPositions: []string{"id", "name"},
		},
		{
			name:          "blank names become positional",
			header:        []string{"id", "", "  "},
			wantColumns:   []string{"id", "column_2", "column_3"},
			wantPositions: []string{"id", "column_2", "column_3"},
		},
		{
			name:          "duplicates collapse onto first position",
			header:        []string{"id", "name", "id"},
			wantColumns:   []string{"id", "name"},
			wantPositions: []string{"id", "name", "id"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			columns, positions := headerColumns(tt.header)

			if !reflect.DeepEqual(columns, tt.wantColumns) {
				t.Errorf("columns = %v, want %v", columns, tt.wantColumns)
			}

			if !reflect.DeepEqual(positions, tt.wantPositions) {
				t.Errorf("positions = %v, want %v", positions, tt.wantPositions)
			}
		})
	}
}

func TestParseFile(t *testing.T) {
	path := writeTempCSV(t, "id,name,amount\n1,alice,10\n2,bob,20\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if !reflect.DeepEqual(result.Columns, []string{"id", "name", "amount"}) {
		t.Errorf("columns = %v", result.Columns)
	}

	if result.TotalRowCount != 2 {
		t.Errorf("totalRowCount = %d, want 2", result.TotalRowCount)
	}

	if len(result.ParseErrors) != 0 {
		t.Errorf("parseErrors = %v, want none", result.ParseErrors)
	}

	want := map[string]string{"id": "2", "name": "bob", "amount": "20"}
	if !reflect.DeepEqual(result.Rows[1], want) {
		t.Errorf("row 2 = %v, want %v", result.Rows[1], want)
	}
}

func TestParseFileSemicolonDelimiter(t *testing.T) {
	path := writeTempCSV(t, "a;b;c\n1;2;3\n")

	result, err := parseFile(path, ';', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if !reflect.DeepEqual(result.Columns, []string{"a", "b", "c"}) {
		t.Errorf("columns = %v", result.Columns)
	}

	if result.TotalRowCount != 1 {
		t.Errorf("totalRowCount = %d, want 1", result.TotalRowCount)
	}

	if result.DetectedDelimiter != ";" {
		t.Errorf("detectedDelimiter = %q, want ;", result.DetectedDelimiter)
	}
}

func TestParseFilePadsShortRows(t *testing.T) {
	path := writeTempCSV(t, "a,b,c\n1,2\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if len(result.ParseErrors) != 0 {
		t.Errorf("short rows should not be parse errors, got %v", result.ParseErrors)
	}

	want := map[string]string{"a": "1", "b": "2", "c": ""}
	if !reflect.DeepEqual(result.Rows[0], want) {
		t.Errorf("row = %v, want %v", result.Rows[0], want)
	}
}

func TestParseFileTruncatesLongRows(t *testing.T) {
	path := writeTempCSV(t, "a,b\n1,2,3,4\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if result.TotalRowCount != 1 {
		t.Errorf("totalRowCount = %d, want 1 (truncated rows are kept)", result.TotalRowCount)
	}

	if len(result.ParseErrors) != 1 || result.ParseErrors[0].Row != 1 {
		t.Fatalf("parseErrors = %v, want one error on row 1", result.ParseErrors)
	}

	want := map[string]string{"a": "1", "b": "2"}
	if !reflect.DeepEqual(result.Rows[0], want) {
		t.Errorf("row = %v, want %v", result.Rows[0], want)
	}
}

func TestParseFileSampleCap(t *testing.T) {
	path := writeTempCSV(t, "n\n1\n2\n3\n4\n5\n")

	result, err := parseFile(path, ',', 2)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if len(result.Rows) != 2 {
		t.Errorf("sampled rows = %d, want 2", len(result.Rows))
	}

	if result.TotalRowCount != 5 {
		t.Errorf("totalRowCount = %d, want 5 (streaming counts past the cap)", result.TotalRowCount)
	}
}

func TestParseFileStripsBOM(t *testing.T) {
	path := writeTempCSV(t, "\ufeffid,name\n1,alice\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if result.Columns[0] != "id" {
		t.Errorf("first column = %q, want id without BOM", result.Columns[0])
	}
}

func TestParseFileQuotedFields(t *testing.T) {
	path := writeTempCSV(t, "id,note\n1,\"hello, world\"\n2,\"say \"\"hi\"\"\"\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if got := result.Rows[0]["note"]; got != "hello, world" {
		t.Errorf("quoted comma = %q", got)
	}

	if got := result.Rows[1]["note"]; got != `say "hi"` {
		t.Errorf("escaped quote = %q", got)
	}
}

func TestParseFileSkipsEmptyLines(t *testing.T) {
	path := writeTempCSV(t, "a,b\n1,2\n\n3,4\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if result.TotalRowCount != 2 {
		t.Errorf("totalRowCount = %d, want 2 (blank line skipped)", result.TotalRowCount)
	}
}

func TestParseFileDuplicateHeaderLastValueWins(t *testing.T) {
	path := writeTempCSV(t, "id,name,id\n1,alice,9\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if !reflect.DeepEqual(result.Columns, []string{"id", "name"}) {
		t.Errorf("columns = %v", result.Columns)
	}

	if got := result.Rows[0]["id"]; got != "9" {
		t.Errorf("id = %q, want rightmost value 9", got)
	}
}

func TestParseFileEmptyFile(t *testing.T) {
	path := writeTempCSV(t, "")

	_, err := parseFile(path, ',', 0)
	if !errors.Is(err, ErrNoHeader) {
		t.Errorf("err = %v, want ErrNoHeader", err)
	}
}

func TestParseFileHeaderOnly(t *testing.T) {
	path := writeTempCSV(t, "a,b,c\n")

	result, err := parseFile(path, ',', 0)
	if err != nil {
		t.Fatalf("parseFile: %v", err)
	}

	if result.TotalRowCount != 0 || len(result.Rows) != 0 {
		t.Errorf("want zero rows, got total=%d sampled=%d", result.TotalRowCount, len(result.Rows))
	}
}

func TestProbeDelimiter(t *testing.T) {
	path := writeTempCSV(t, "a;b;c\n1;2;3\n")

	got, err := probeDelimiter(path)
	if err != nil {
		t.Fatalf("probeDelimiter: %v", err)
	}

	if got != ';' {
		t.Errorf("delimiter = %q, want ;", got)
	}
}
