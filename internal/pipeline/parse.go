package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/canonizer-io/canonizer/internal/ingestion"
)

// delimiterProbeSize bounds how much of the file the delimiter sniffer
// reads.
const delimiterProbeSize = 4096

// delimiterCandidates are tried in order; ties keep the earlier one.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// ErrNoHeader indicates the uploaded file has no header row to parse.
var ErrNoHeader = errors.New("file contains no header row")

// runParse executes the parse stage: sniff the delimiter, stream-parse
// the raw file, persist the sampled rows for inference, and hand off to
// the infer stage.
func (p *Pipeline) runParse(ctx context.Context, ing *ingestion.Ingestion) error {
	path, err := p.blobs.GetPath(ctx, ing.RawFileKey)
	if err != nil {
		return fmt.Errorf("failed to locate raw file %s: %w", ing.RawFileKey, err)
	}

	delimiter, err := probeDelimiter(path)
	if err != nil {
		return err
	}

	result, err := parseFile(path, delimiter, p.config.InferenceSampleSize)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode parse result: %w", err)
	}

	if _, err := p.blobs.Save(ctx, parsedKey(ing.ID), bytes.NewReader(payload)); err != nil {
		return fmt.Errorf("failed to persist parse result: %w", err)
	}

	entries := []ingestion.DecisionEntry{
		entry(ing.ID, ingestion.StageParse, ingestion.DecisionParseComplete, map[string]any{
			"columnCount":     len(result.Columns),
			"rowCount":        result.TotalRowCount,
			"parseErrorCount": len(result.ParseErrors),
			"delimiter":       result.DetectedDelimiter,
		}),
	}

	if err := p.journal.ReplaceStage(ctx, ing.ID, ingestion.StageParse, entries); err != nil {
		return fmt.Errorf("failed to journal parse stage: %w", err)
	}

	rowCount := result.TotalRowCount
	ing.RowCount = &rowCount

	if err := p.transition(ctx, ing, ingestion.StatusInferring); err != nil {
		return err
	}

	p.logger.Info("Parse stage complete",
		slog.String("ingestion_id", ing.ID),
		slog.Int("columns", len(result.Columns)),
		slog.Int("rows", result.TotalRowCount),
		slog.Int("parse_errors", len(result.ParseErrors)),
		slog.String("delimiter", result.DetectedDelimiter),
	)

	return p.queue.Enqueue(ctx, ingestion.NewJob(ingestion.StageInfer, ing.ID, false))
}

// probeDelimiter sniffs the delimiter from the first line of the file's
// leading probe window.
func probeDelimiter(path string) (rune, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open raw file: %w", err)
	}
	defer f.Close()

	probe := make([]byte, delimiterProbeSize)

	n, err := io.ReadFull(f, probe)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return 0, fmt.Errorf("failed to read delimiter probe: %w", err)
	}

	return detectDelimiter(probe[:n]), nil
}

// detectDelimiter counts each candidate on the first line of the probe
// and returns the most frequent one. Zero occurrences fall back to comma.
func detectDelimiter(probe []byte) rune {
	line := probe
	if i := bytes.IndexByte(probe, '\n'); i >= 0 {
		line = probe[:i]
	}

	best := ','
	bestCount := 0

	for _, candidate := range delimiterCandidates {
		if n := bytes.Count(line, []byte(string(candidate))); n > bestCount {
			best = candidate
			bestCount = n
		}
	}

	return best
}

// parseFile stream-parses the CSV at path with the given delimiter.
// sampleCap bounds how many row maps are retained; a cap <= 0 keeps every
// row, which is how the validate and output stages re-read the full file.
//
// Rows shorter than the header are padded with empty strings. Rows longer
// than the header are truncated and recorded as parse errors. Lines the
// reader cannot parse at all are recorded and skipped without counting
// toward the row total.
func parseFile(path string, delimiter rune, sampleCap int) (*ingestion.ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open raw file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoHeader
		}

		return nil, fmt.Errorf("failed to read header row: %w", err)
	}

	header[0] = strings.TrimPrefix(header[0], "\ufeff")
	columns, positions := headerColumns(header)

	result := &ingestion.ParseResult{
		Columns:           columns,
		Rows:              []map[string]string{},
		ParseErrors:       []ingestion.ParseError{},
		DetectedDelimiter: string(delimiter),
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			result.ParseErrors = append(result.ParseErrors, ingestion.ParseError{
				Row:     result.TotalRowCount + 1,
				Message: err.Error(),
			})

			continue
		}

		result.TotalRowCount++

		if len(record) > len(positions) {
			result.ParseErrors = append(result.ParseErrors, ingestion.ParseError{
				Row: result.TotalRowCount,
				Message: fmt.Sprintf("row has %d fields, expected %d; extra fields dropped",
					len(record), len(positions)),
			})
			record = record[:len(positions)]
		}

		if sampleCap > 0 && len(result.Rows) >= sampleCap {
			continue
		}

		row := make(map[string]string, len(columns))
		for _, name := range columns {
			row[name] = ""
		}

		for i, value := range record {
			row[positions[i]] = value
		}

		result.Rows = append(result.Rows, row)
	}

	return result, nil
}

// headerColumns cleans the header row. positions maps every field index
// to its column name; columns lists each distinct name once, at its first
// position. Blank names become column_<n>; duplicate names collapse onto
// one column, with the rightmost field winning per row.
func headerColumns(header []string) (columns, positions []string) {
	columns = make([]string, 0, len(header))
	positions = make([]string, len(header))
	seen := make(map[string]struct{}, len(header))

	for i, raw := range header {
		name := strings.TrimSpace(raw)
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}

		positions[i] = name

		if _, dup := seen[name]; dup {
			continue
		}

		seen[name] = struct{}{}

		columns = append(columns, name)
	}

	return columns, positions
}
