package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// runValidate executes the validate stage: re-read the full row set,
// coerce every cell to its target type, run the declared validators, and
// classify rows per the schema's error policy.
func (p *Pipeline) runValidate(ctx context.Context, ing *ingestion.Ingestion) error {
	if ing.MappingResult == nil {
		return fmt.Errorf("%w: mapping result for %s", ErrMissingStageInput, ing.ID)
	}

	target, err := p.loadSchema(ctx, ing)
	if err != nil {
		return err
	}

	parsed, err := p.reparse(ctx, ing)
	if err != nil {
		return err
	}

	result, err := validateRows(parsed, ing.MappingResult, target)
	if err != nil {
		return err
	}

	ing.ValidationResult = result
	valid := result.ValidRowCount
	ing.ValidRowCount = &valid

	policy := schema.DefaultErrorPolicy
	if target != nil {
		policy = target.ErrorPolicy
	}

	details := map[string]any{
		"errorPolicy":    string(policy),
		"validRows":      result.ValidRowCount,
		"invalidRows":    result.InvalidRowCount,
		"totalRows":      result.TotalRowCount,
		"errorsByColumn": result.ErrorsByColumn,
	}

	if len(result.RowErrors) > 0 {
		sample := result.RowErrors
		if len(sample) > journaledRowErrorCap {
			sample = sample[:journaledRowErrorCap]
		}

		details["rowErrorSample"] = sample
	}

	entries := []ingestion.DecisionEntry{
		entry(ing.ID, ingestion.StageValidate, ingestion.DecisionValidationComplete, details),
	}

	if err := p.journal.ReplaceStage(ctx, ing.ID, ingestion.StageValidate, entries); err != nil {
		return fmt.Errorf("failed to journal validate stage: %w", err)
	}

	if err := p.transition(ctx, ing, ingestion.StatusOutputting); err != nil {
		return err
	}

	p.logger.Info("Validate stage complete",
		slog.String("ingestion_id", ing.ID),
		slog.Int("valid_rows", result.ValidRowCount),
		slog.Int("invalid_rows", result.InvalidRowCount),
		slog.String("error_policy", string(policy)),
	)

	return p.queue.Enqueue(ctx, ingestion.NewJob(ingestion.StageOutput, ing.ID, false))
}

// reparse re-reads the full raw file with the delimiter the parse stage
// detected. Validate and output both rebuild the complete row set rather
// than trusting the capped sample.
func (p *Pipeline) reparse(ctx context.Context, ing *ingestion.Ingestion) (*ingestion.ParseResult, error) {
	path, err := p.blobs.GetPath(ctx, ing.RawFileKey)
	if err != nil {
		return nil, fmt.Errorf("failed to locate raw file %s: %w", ing.RawFileKey, err)
	}

	delimiter := ','
	if ing.InferredSchema != nil && ing.InferredSchema.DetectedDelimiter != "" {
		delimiter, _ = utf8.DecodeRuneInString(ing.InferredSchema.DetectedDelimiter)
	}

	return parseFile(path, delimiter, 0)
}

// validateRows coerces and validates every parsed row against the
// schema. A nil schema is passthrough: every row counts as valid.
func validateRows(parsed *ingestion.ParseResult, mapping *ingestion.MappingResult, target *schema.CanonicalSchema) (*ingestion.ValidationResult, error) {
	result := &ingestion.ValidationResult{
		TotalRowCount:  parsed.TotalRowCount,
		ErrorsByColumn: map[string]int{},
	}

	if target == nil {
		result.ValidRowCount = parsed.TotalRowCount

		return result, nil
	}

	sourceFor := mapping.TargetIndex()

	checkers := make(map[string]*schema.ColumnChecker, len(target.Columns))

	for i := range target.Columns {
		col := &target.Columns[i]

		checker, err := schema.NewColumnChecker(col)
		if err != nil {
			return nil, ingestion.NonRetriable(fmt.Errorf("invalid validator on column %s: %w", col.Name, err))
		}

		checkers[col.Name] = checker
	}

	for i, row := range parsed.Rows {
		rowNum := i + 1

		var cellErrors []ingestion.CellError

		for j := range target.Columns {
			col := &target.Columns[j]
			source := sourceFor[col.Name]

			raw := ""
			if source != "" {
				raw = row[source]
			}

			value, errs := resolveCell(raw, col, rowNum, source)
			cellErrors = append(cellErrors, errs...)

			if value.IsNull() {
				continue
			}

			for _, violation := range checkers[col.Name].Check(value) {
				cellErrors = append(cellErrors, ingestion.CellError{
					Row:           rowNum,
					Column:        col.Name,
					SourceColumn:  source,
					ErrorType:     ingestion.CellErrorValidationFailed,
					ValidatorType: violation.Type,
					Message:       violation.Message,
				})
			}
		}

		if len(cellErrors) == 0 {
			result.ValidRowCount++

			continue
		}

		result.InvalidRowCount++

		for _, ce := range cellErrors {
			result.ErrorsByColumn[ce.Column]++
		}

		action, err := rowAction(target.ErrorPolicy, rowNum, cellErrors)
		if err != nil {
			return nil, err
		}

		result.RowErrors = append(result.RowErrors, ingestion.RowError{
			Row:    rowNum,
			Action: action,
			Errors: cellErrors,
		})
	}

	return result, nil
}

// resolveCell runs emptiness resolution and type coercion for one cell,
// returning the value the validators should see plus any cell errors.
//
// Empty cells resolve in order: nullable keeps null, then a declared
// default fills in, then required flags the absence, then null. Coercion
// failures substitute the default when one is declared and otherwise keep
// the raw value so flagged rows still show their original content.
func resolveCell(raw string, col *schema.ColumnDefinition, rowNum int, source string) (schema.Value, []ingestion.CellError) {
	if strings.TrimSpace(raw) == "" {
		switch {
		case col.IsNullable():
			return schema.NullValue(), nil

		case col.HasDefault():
			raw, _ = col.DefaultString()

		case col.Required:
			return schema.NullValue(), []ingestion.CellError{{
				Row:          rowNum,
				Column:       col.Name,
				SourceColumn: source,
				ErrorType:    ingestion.CellErrorRequiredMissing,
				Message:      fmt.Sprintf("required column %s has no value", col.Name),
			}}

		default:
			return schema.NullValue(), nil
		}
	}

	value, err := schema.Coerce(raw, col)
	if err == nil {
		return value, nil
	}

	cellErr := ingestion.CellError{
		Row:          rowNum,
		Column:       col.Name,
		SourceColumn: source,
		ErrorType:    ingestion.CellErrorTypeCoercion,
		Message:      err.Error(),
	}

	if def, ok := col.DefaultString(); ok {
		if fallback, defErr := schema.Coerce(def, col); defErr == nil {
			return fallback, []ingestion.CellError{cellErr}
		}
	}

	return schema.StringValue(raw), []ingestion.CellError{cellErr}
}

// rowAction maps the schema's error policy onto a row disposition. The
// abort policy stops the stage at the first failing row and is not
// retriable: the same row fails the same way every time.
func rowAction(policy schema.ErrorPolicy, rowNum int, cellErrors []ingestion.CellError) (ingestion.RowAction, error) {
	switch policy {
	case schema.PolicyRejectRow:
		return ingestion.RowActionRejected, nil
	case schema.PolicyCoerceDefault:
		return ingestion.RowActionCoerced, nil
	case schema.PolicyAbort:
		return "", ingestion.NonRetriable(fmt.Errorf("%w: row %d: %s", ErrAbortPolicy, rowNum, cellErrors[0].Message))
	default:
		return ingestion.RowActionFlagged, nil
	}
}
