package pipeline

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

type (
	// OutputMetadata describes one completed normalization run inside the
	// JSON artifact.
	OutputMetadata struct {
		IngestionID   string    `json:"ingestionId"`
		SchemaID      string    `json:"schemaId,omitempty"`
		SchemaName    string    `json:"schemaName,omitempty"`
		SchemaVersion int       `json:"schemaVersion,omitempty"`
		ProcessedAt   time.Time `json:"processedAt"`
		TotalRows     int       `json:"totalRows"`
		OutputRows    int       `json:"outputRows"`
		RejectedRows  int       `json:"rejectedRows"`
	}

	// OutputDocument is the shape of the output/<id>.json artifact.
	OutputDocument struct {
		Metadata OutputMetadata            `json:"metadata"`
		Columns  []string                  `json:"columns"`
		Data     []map[string]schema.Value `json:"data"`
	}

	// SchemaDocument is the shape of the output/<id>/schema.json
	// artifact: everything needed to explain how columns were resolved.
	SchemaDocument struct {
		CanonicalSchema *schema.CanonicalSchema   `json:"canonicalSchema"`
		InferredSchema  *ingestion.InferredSchema `json:"inferredSchema"`
		Mappings        []ingestion.ColumnMapping `json:"mappings"`
	}
)

// runOutput executes the output stage: rebuild the full row set, apply
// the resolved mappings with lightweight re-coercion, and emit the five
// artifacts under their deterministic keys.
func (p *Pipeline) runOutput(ctx context.Context, ing *ingestion.Ingestion) error {
	if ing.MappingResult == nil || ing.ValidationResult == nil {
		return fmt.Errorf("%w: validation result for %s", ErrMissingStageInput, ing.ID)
	}

	target, err := p.loadSchema(ctx, ing)
	if err != nil {
		return err
	}

	parsed, err := p.reparse(ctx, ing)
	if err != nil {
		return err
	}

	columns := outputColumns(ing.MappingResult, target)
	rows, rejected := buildOutputRows(parsed, ing.MappingResult, ing.ValidationResult, target, columns)

	csvBytes, err := encodeCSV(columns, rows)
	if err != nil {
		return err
	}

	if _, err := p.blobs.Save(ctx, outputCSVKey(ing.ID), bytes.NewReader(csvBytes)); err != nil {
		return fmt.Errorf("failed to persist %s: %w", outputCSVKey(ing.ID), err)
	}

	doc := OutputDocument{
		Metadata: OutputMetadata{
			IngestionID:  ing.ID,
			SchemaID:     ing.SchemaID,
			ProcessedAt:  time.Now().UTC(),
			TotalRows:    parsed.TotalRowCount,
			OutputRows:   len(rows),
			RejectedRows: rejected,
		},
		Columns: columns,
		Data:    rows,
	}

	if target != nil {
		doc.Metadata.SchemaName = target.Name
		doc.Metadata.SchemaVersion = target.Version
	}

	if err := p.saveJSON(ctx, outputJSONKey(ing.ID), doc); err != nil {
		return err
	}

	if err := p.saveJSON(ctx, errorsKey(ing.ID), ing.ValidationResult); err != nil {
		return err
	}

	schemaDoc := SchemaDocument{
		CanonicalSchema: target,
		InferredSchema:  ing.InferredSchema,
		Mappings:        ing.MappingResult.Mappings,
	}

	if err := p.saveJSON(ctx, schemaKey(ing.ID), schemaDoc); err != nil {
		return err
	}

	// Journal before snapshotting so output_complete itself is part of
	// the decisions artifact.
	entries := []ingestion.DecisionEntry{
		entry(ing.ID, ingestion.StageOutput, ingestion.DecisionOutputComplete, map[string]any{
			"outputFileKey": outputCSVKey(ing.ID),
			"outputRows":    len(rows),
			"rejectedRows":  rejected,
		}),
	}

	if err := p.journal.ReplaceStage(ctx, ing.ID, ingestion.StageOutput, entries); err != nil {
		return fmt.Errorf("failed to journal output stage: %w", err)
	}

	journal, err := p.journal.List(ctx, ing.ID, "")
	if err != nil {
		return fmt.Errorf("failed to snapshot decision journal: %w", err)
	}

	if err := p.saveJSON(ctx, decisionsKey(ing.ID), journal); err != nil {
		return err
	}

	ing.OutputFileKey = outputCSVKey(ing.ID)
	now := time.Now().UTC()
	ing.CompletedAt = &now

	if err := p.transition(ctx, ing, ingestion.StatusComplete); err != nil {
		return err
	}

	p.logger.Info("Output stage complete",
		slog.String("ingestion_id", ing.ID),
		slog.Int("output_rows", len(rows)),
		slog.Int("rejected_rows", rejected),
		slog.String("output_file_key", ing.OutputFileKey),
	)

	return nil
}

// outputColumns is the emitted column sequence: canonical order when a
// schema exists, else each mapped target name at its first appearance.
func outputColumns(mapping *ingestion.MappingResult, target *schema.CanonicalSchema) []string {
	if target != nil {
		return target.ColumnNames()
	}

	seen := make(map[string]struct{}, len(mapping.Mappings))
	columns := make([]string, 0, len(mapping.Mappings))

	for _, m := range mapping.Mappings {
		if m.TargetColumn == "" {
			continue
		}

		if _, dup := seen[m.TargetColumn]; dup {
			continue
		}

		seen[m.TargetColumn] = struct{}{}

		columns = append(columns, m.TargetColumn)
	}

	return columns
}

// buildOutputRows assembles the emitted rows in input order, skipping
// rejected rows. For coerced rows, every column named in the row's
// errors is replaced with the column default when one is declared.
func buildOutputRows(parsed *ingestion.ParseResult, mapping *ingestion.MappingResult, validation *ingestion.ValidationResult, target *schema.CanonicalSchema, columns []string) (rows []map[string]schema.Value, rejected int) {
	actions := make(map[int]ingestion.RowAction, len(validation.RowErrors))
	offending := make(map[int]map[string]bool)

	for _, re := range validation.RowErrors {
		actions[re.Row] = re.Action

		if re.Action != ingestion.RowActionCoerced {
			continue
		}

		cols := make(map[string]bool, len(re.Errors))
		for _, ce := range re.Errors {
			cols[ce.Column] = true
		}

		offending[re.Row] = cols
	}

	sourceFor := mapping.TargetIndex()
	rows = make([]map[string]schema.Value, 0, len(parsed.Rows))

	for i, row := range parsed.Rows {
		rowNum := i + 1

		if actions[rowNum] == ingestion.RowActionRejected {
			rejected++

			continue
		}

		out := make(map[string]schema.Value, len(columns))

		if target == nil {
			for _, name := range columns {
				out[name] = schema.StringValue(row[sourceFor[name]])
			}

			rows = append(rows, out)

			continue
		}

		substitute := offending[rowNum]

		for j := range target.Columns {
			col := &target.Columns[j]

			if substitute[col.Name] {
				if v, ok := coerceDefault(col); ok {
					out[col.Name] = v

					continue
				}
			}

			source := sourceFor[col.Name]

			raw := ""
			if source != "" {
				raw = row[source]
			}

			value, _ := resolveCell(raw, col, rowNum, source)
			out[col.Name] = value
		}

		rows = append(rows, out)
	}

	return rows, rejected
}

// coerceDefault is the typed form of the column default, when declared
// and coercible.
func coerceDefault(col *schema.ColumnDefinition) (schema.Value, bool) {
	def, ok := col.DefaultString()
	if !ok {
		return schema.NullValue(), false
	}

	v, err := schema.Coerce(def, col)
	if err != nil {
		return schema.NullValue(), false
	}

	return v, true
}

// encodeCSV renders the output rows as RFC 4180 comma-delimited CSV with
// a header row. Null cells render empty.
func encodeCSV(columns []string, rows []map[string]schema.Value) ([]byte, error) {
	var buf bytes.Buffer

	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(columns))

	for _, row := range rows {
		for i, name := range columns {
			record[i] = row[name].String()
		}

		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()

	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}

	return buf.Bytes(), nil
}

// saveJSON marshals v with 2-space indentation and stores it at key.
func (p *Pipeline) saveJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	if _, err := p.blobs.Save(ctx, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to persist %s: %w", key, err)
	}

	return nil
}
