package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// maxSampleValues bounds the distinct example values kept per column.
const maxSampleValues = 5

// inferOrder is the per-sample detection order, most specific first. It
// doubles as the tie-break order when two types draw equal votes.
var inferOrder = []schema.ColumnType{
	schema.TypeUUID,
	schema.TypeEmail,
	schema.TypeURL,
	schema.TypeDateTime,
	schema.TypeDate,
	schema.TypeBoolean,
	schema.TypeInteger,
	schema.TypeFloat,
	schema.TypeJSON,
	schema.TypeString,
}

// runInfer executes the infer stage: load the parsed sample, vote a type
// per column, persist the inferred schema, and hand off to the map stage.
func (p *Pipeline) runInfer(ctx context.Context, ing *ingestion.Ingestion) error {
	parsed, err := p.loadParseResult(ctx, ing.ID)
	if err != nil {
		return err
	}

	inferred := inferColumns(parsed)
	ing.InferredSchema = inferred

	columnDetails := make([]map[string]any, 0, len(inferred.Columns))
	for _, col := range inferred.Columns {
		columnDetails = append(columnDetails, map[string]any{
			"name":        col.Name,
			"type":        string(col.InferredType),
			"confidence":  col.Confidence,
			"nullable":    col.Nullable,
			"uniqueRatio": col.UniqueRatio,
		})
	}

	entries := []ingestion.DecisionEntry{
		entry(ing.ID, ingestion.StageInfer, ingestion.DecisionTypeInference, map[string]any{
			"columns":  columnDetails,
			"rowCount": inferred.RowCount,
		}),
	}

	if err := p.journal.ReplaceStage(ctx, ing.ID, ingestion.StageInfer, entries); err != nil {
		return fmt.Errorf("failed to journal infer stage: %w", err)
	}

	if err := p.transition(ctx, ing, ingestion.StatusMapping); err != nil {
		return err
	}

	p.logger.Info("Infer stage complete",
		slog.String("ingestion_id", ing.ID),
		slog.Int("columns", len(inferred.Columns)),
		slog.Int("sample_rows", len(parsed.Rows)),
	)

	return p.queue.Enqueue(ctx, ingestion.NewJob(ingestion.StageMap, ing.ID, false))
}

// loadParseResult reads the persisted parse output back from the blob
// store. Every stage after parse starts here.
func (p *Pipeline) loadParseResult(ctx context.Context, ingestionID string) (*ingestion.ParseResult, error) {
	raw, err := p.blobs.Load(ctx, parsedKey(ingestionID))
	if err != nil {
		return nil, fmt.Errorf("%w: parse result for %s: %v", ErrMissingStageInput, ingestionID, err)
	}

	var parsed ingestion.ParseResult
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode parse result for %s: %w", ingestionID, err)
	}

	return &parsed, nil
}

// inferColumns runs type voting over the sampled rows for every column.
func inferColumns(parsed *ingestion.ParseResult) *ingestion.InferredSchema {
	columns := make([]ingestion.InferredColumn, 0, len(parsed.Columns))
	for _, name := range parsed.Columns {
		columns = append(columns, inferColumn(name, parsed.Rows))
	}

	return &ingestion.InferredSchema{
		Columns:           columns,
		RowCount:          parsed.TotalRowCount,
		ParseErrors:       parsed.ParseErrors,
		DetectedDelimiter: parsed.DetectedDelimiter,
	}
}

// inferColumn votes a type for one column across the sampled rows.
//
// Empty cells count toward nullCount and cast no vote. The winner is the
// type with the most votes, ties broken by detection order. An integer
// winner is promoted to float when any value voted float, crediting both
// vote counts, so mixed numeric columns do not come out integer.
func inferColumn(name string, rows []map[string]string) ingestion.InferredColumn {
	votes := make(map[schema.ColumnType]int, len(inferOrder))
	distinct := make(map[string]struct{})
	samples := make([]string, 0, maxSampleValues)
	nullCount := 0

	for _, row := range rows {
		value := strings.TrimSpace(row[name])
		if value == "" {
			nullCount++

			continue
		}

		votes[detectValueType(value)]++

		if _, ok := distinct[value]; !ok {
			distinct[value] = struct{}{}

			if len(samples) < maxSampleValues {
				samples = append(samples, value)
			}
		}
	}

	nonNull := len(rows) - nullCount

	col := ingestion.InferredColumn{
		Name:         name,
		InferredType: schema.TypeString,
		Nullable:     nullCount > 0,
		SampleValues: samples,
		NullCount:    nullCount,
		TotalCount:   len(rows),
	}

	if nonNull == 0 {
		return col
	}

	winner := schema.TypeString
	winnerVotes := 0

	for _, t := range inferOrder {
		if votes[t] > winnerVotes {
			winner = t
			winnerVotes = votes[t]
		}
	}

	if winner == schema.TypeInteger && votes[schema.TypeFloat] > 0 {
		winner = schema.TypeFloat
		winnerVotes = votes[schema.TypeInteger] + votes[schema.TypeFloat]
	}

	col.InferredType = winner
	col.Confidence = float64(winnerVotes) / float64(nonNull)
	col.UniqueRatio = float64(len(distinct)) / float64(nonNull)

	return col
}

// detectValueType classifies a single non-empty value, most specific
// type first.
func detectValueType(value string) schema.ColumnType {
	if schema.IsUUID(value) {
		return schema.TypeUUID
	}

	if schema.IsEmail(value) {
		return schema.TypeEmail
	}

	if schema.IsAbsoluteURL(value) {
		return schema.TypeURL
	}

	if schema.IsISODateTime(value) {
		return schema.TypeDateTime
	}

	if schema.IsISODate(value) {
		return schema.TypeDate
	}

	if isBooleanWord(value) {
		return schema.TypeBoolean
	}

	if _, err := strconv.ParseInt(value, 10, 64); err == nil {
		return schema.TypeInteger
	}

	if _, err := strconv.ParseFloat(value, 64); err == nil {
		return schema.TypeFloat
	}

	if isJSONValue(value) {
		return schema.TypeJSON
	}

	return schema.TypeString
}

// isBooleanWord restricts the boolean vote to unambiguous words. The
// full coercion set also accepts 1/0/y/n/on/off, but counting those here
// would swallow numeric and single-letter columns.
func isBooleanWord(value string) bool {
	switch strings.ToLower(value) {
	case "true", "false", "yes", "no":
		return true
	default:
		return false
	}
}

// isJSONValue votes json only for object or array literals. Bare JSON
// scalars are indistinguishable from the simpler types above.
func isJSONValue(value string) bool {
	if !strings.HasPrefix(value, "{") && !strings.HasPrefix(value, "[") {
		return false
	}

	return json.Valid([]byte(value))
}
