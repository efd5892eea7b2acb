package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/canonizer-io/canonizer/internal/ingestion"
	"github.com/canonizer-io/canonizer/internal/matching"
	"github.com/canonizer-io/canonizer/internal/schema"
)

// Strategy confidences. Fuzzy confidence is the similarity score itself.
const (
	confidenceExact           = 1.0
	confidenceCaseInsensitive = 0.95
	confidenceAlias           = 0.9
)

// runMap executes the map stage: match source columns to schema columns,
// then either hand off to validation or suspend for human review.
func (p *Pipeline) runMap(ctx context.Context, ing *ingestion.Ingestion) error {
	if ing.InferredSchema == nil {
		return fmt.Errorf("%w: inferred schema for %s", ErrMissingStageInput, ing.ID)
	}

	target, err := p.loadSchema(ctx, ing)
	if err != nil {
		return err
	}

	sources := make([]string, 0, len(ing.InferredSchema.Columns))
	for _, col := range ing.InferredSchema.Columns {
		sources = append(sources, col.Name)
	}

	var (
		result  *ingestion.MappingResult
		entries []ingestion.DecisionEntry
	)

	switch {
	case target == nil:
		result = passthroughMappings(sources)
		entries = append(entries, entry(ing.ID, ingestion.StageMap, ingestion.DecisionPassthroughMapping, map[string]any{
			"columnCount": len(sources),
		}))

	default:
		if tpl := p.findTemplate(ctx, target.ID, sources); tpl != nil {
			result = applyTemplate(sources, tpl)
			entries = append(entries, entry(ing.ID, ingestion.StageMap, ingestion.DecisionTemplateApplied, map[string]any{
				"templateId":  tpl.ID,
				"fingerprint": tpl.SourceFingerprint,
			}))

			if err := p.templates.IncrementUsage(ctx, tpl.ID); err != nil {
				p.logger.Warn("Failed to increment template usage",
					slog.String("template_id", tpl.ID),
					slog.String("error", err.Error()))
			}
		} else {
			result = buildMappings(sources, target, p.config.ConfidenceThreshold)
			entries = append(entries, mappingEntries(ing.ID, result)...)
		}
	}

	if result.RequiresReview {
		names := make([]string, 0, len(result.AmbiguousMappings))
		for _, m := range result.AmbiguousMappings {
			names = append(names, m.SourceColumn)
		}

		entries = append(entries, entry(ing.ID, ingestion.StageMap, ingestion.DecisionReviewRequired, map[string]any{
			"ambiguousColumns": names,
		}))
	}

	ing.MappingResult = result

	if err := p.journal.ReplaceStage(ctx, ing.ID, ingestion.StageMap, entries); err != nil {
		return fmt.Errorf("failed to journal map stage: %w", err)
	}

	if result.RequiresReview {
		if err := p.transition(ctx, ing, ingestion.StatusAwaitingReview); err != nil {
			return err
		}

		p.logger.Info("Map stage suspended for review",
			slog.String("ingestion_id", ing.ID),
			slog.Int("ambiguous", len(result.AmbiguousMappings)),
		)

		return nil
	}

	if err := p.transition(ctx, ing, ingestion.StatusValidating); err != nil {
		return err
	}

	p.logger.Info("Map stage complete",
		slog.String("ingestion_id", ing.ID),
		slog.Int("mappings", len(result.Mappings)),
	)

	return p.queue.Enqueue(ctx, ingestion.NewJob(ingestion.StageValidate, ing.ID, false))
}

// passthroughMappings builds identity mappings for the no-schema case.
func passthroughMappings(sources []string) *ingestion.MappingResult {
	mappings := make([]ingestion.ColumnMapping, 0, len(sources))
	for _, source := range sources {
		mappings = append(mappings, ingestion.ColumnMapping{
			SourceColumn: source,
			TargetColumn: source,
			Method:       ingestion.MethodExact,
			Confidence:   confidenceExact,
		})
	}

	return &ingestion.MappingResult{Mappings: mappings}
}

// buildMappings matches each source column against the schema columns
// using the four strategies in precedence order. The candidate pool is
// greedy: once a target is bound it leaves the pool.
func buildMappings(sources []string, target *schema.CanonicalSchema, threshold float64) *ingestion.MappingResult {
	available := make([]*schema.ColumnDefinition, 0, len(target.Columns))
	for i := range target.Columns {
		available = append(available, &target.Columns[i])
	}

	result := &ingestion.MappingResult{
		Mappings: make([]ingestion.ColumnMapping, 0, len(sources)),
	}

	for _, source := range sources {
		mapping, matched := matchColumn(source, available)

		if matched >= 0 {
			available = append(available[:matched], available[matched+1:]...)
		}

		if mapping.Confidence < threshold {
			mapping.AlternativeMappings = alternatives(source, available)
		}

		if isAmbiguous(mapping, target.Strict, threshold) {
			result.AmbiguousMappings = append(result.AmbiguousMappings, mapping)
		}

		result.Mappings = append(result.Mappings, mapping)
	}

	result.RequiresReview = len(result.AmbiguousMappings) > 0

	return result
}

// matchColumn tries the strategies in precedence order against the
// available pool. It returns the mapping and the index of the bound pool
// entry, or -1 when the column stays unmapped.
func matchColumn(source string, available []*schema.ColumnDefinition) (ingestion.ColumnMapping, int) {
	mapping := ingestion.ColumnMapping{SourceColumn: source}

	for i, col := range available {
		if source == col.Name {
			mapping.TargetColumn = col.Name
			mapping.Method = ingestion.MethodExact
			mapping.Confidence = confidenceExact

			return mapping, i
		}
	}

	lower := strings.ToLower(source)

	for i, col := range available {
		if lower == strings.ToLower(col.Name) || foldedAliasMatch(lower, col.Aliases) {
			mapping.TargetColumn = col.Name
			mapping.Method = ingestion.MethodCaseInsensitive
			mapping.Confidence = confidenceCaseInsensitive

			return mapping, i
		}
	}

	normalized := matching.NormalizeColumnName(source)

	for i, col := range available {
		if normalizedAliasMatch(normalized, col.Aliases) {
			mapping.TargetColumn = col.Name
			mapping.Method = ingestion.MethodAlias
			mapping.Confidence = confidenceAlias

			return mapping, i
		}
	}

	bestIdx := -1
	bestScore := 0.0

	for i, col := range available {
		if score := columnSimilarity(source, col); score > bestScore {
			bestIdx = i
			bestScore = score
		}
	}

	if bestIdx >= 0 && bestScore >= fuzzyMinSimilarity {
		mapping.TargetColumn = available[bestIdx].Name
		mapping.Method = ingestion.MethodFuzzy
		mapping.Confidence = bestScore

		return mapping, bestIdx
	}

	mapping.Method = ingestion.MethodUnmapped

	return mapping, -1
}

// foldedAliasMatch reports whether the lowercased source equals any
// lowercased alias.
func foldedAliasMatch(lower string, aliases []string) bool {
	for _, alias := range aliases {
		if lower == strings.ToLower(alias) {
			return true
		}
	}

	return false
}

// normalizedAliasMatch reports whether the normalized source equals any
// normalized alias. Normalization drops case, separators and anything
// outside [a-z0-9].
func normalizedAliasMatch(normalized string, aliases []string) bool {
	if normalized == "" {
		return false
	}

	for _, alias := range aliases {
		if normalized == matching.NormalizeColumnName(alias) {
			return true
		}
	}

	return false
}

// columnSimilarity is the best similarity between the source and the
// target's name or any of its aliases.
func columnSimilarity(source string, col *schema.ColumnDefinition) float64 {
	best := matching.Similarity(source, col.Name)

	for _, alias := range col.Aliases {
		if s := matching.Similarity(source, alias); s > best {
			best = s
		}
	}

	return best
}

// alternatives scores the source against the remaining pool and keeps
// the top candidates at or above the alternative floor, descending.
func alternatives(source string, available []*schema.ColumnDefinition) []ingestion.AlternativeMapping {
	candidates := make([]ingestion.AlternativeMapping, 0, len(available))

	for _, col := range available {
		if score := columnSimilarity(source, col); score >= alternativeMinSimilarity {
			candidates = append(candidates, ingestion.AlternativeMapping{
				TargetColumn: col.Name,
				Confidence:   score,
			})
		}
	}

	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) > maxAlternatives {
		candidates = candidates[:maxAlternatives]
	}

	return candidates
}

// isAmbiguous reports whether a mapping needs human review: confidence
// strictly between zero and the threshold, or an unmapped column under a
// strict schema. Manual drops (empty target, method manual) never count.
func isAmbiguous(m ingestion.ColumnMapping, strict bool, threshold float64) bool {
	if m.Confidence > 0 && m.Confidence < threshold {
		return true
	}

	return m.Method == ingestion.MethodUnmapped && strict
}

// mappingEntries journals one entry per column mapping decision.
func mappingEntries(ingestionID string, result *ingestion.MappingResult) []ingestion.DecisionEntry {
	entries := make([]ingestion.DecisionEntry, 0, len(result.Mappings))

	for _, m := range result.Mappings {
		decisionType := ingestion.DecisionColumnMapped
		details := map[string]any{
			"sourceColumn": m.SourceColumn,
			"method":       string(m.Method),
			"confidence":   m.Confidence,
		}

		if m.TargetColumn == "" {
			decisionType = ingestion.DecisionColumnUnmapped
		} else {
			details["targetColumn"] = m.TargetColumn
		}

		if len(m.AlternativeMappings) > 0 {
			alts := make([]map[string]any, 0, len(m.AlternativeMappings))
			for _, alt := range m.AlternativeMappings {
				alts = append(alts, map[string]any{
					"targetColumn": alt.TargetColumn,
					"confidence":   alt.Confidence,
				})
			}

			details["alternatives"] = alts
		}

		entries = append(entries, entry(ingestionID, ingestion.StageMap, decisionType, details))
	}

	return entries
}

// findTemplate looks up a mapping template for the source header set.
// Lookups are best effort: errors other than not-found are logged and
// the stage falls back to strategy matching.
func (p *Pipeline) findTemplate(ctx context.Context, schemaID string, sources []string) *ingestion.MappingTemplate {
	if !p.config.TemplatesEnabled || p.templates == nil {
		return nil
	}

	fingerprint := matching.Fingerprint(sources)

	tpl, err := p.templates.Find(ctx, schemaID, fingerprint)
	if err != nil {
		if !errors.Is(err, ingestion.ErrTemplateNotFound) {
			p.logger.Warn("Template lookup failed",
				slog.String("schema_id", schemaID),
				slog.String("error", err.Error()))
		}

		return nil
	}

	return tpl
}

// applyTemplate rebuilds the template's resolved mappings in source
// order. Applied mappings are manual with full confidence: a human or a
// prior confident run already settled them.
func applyTemplate(sources []string, tpl *ingestion.MappingTemplate) *ingestion.MappingResult {
	bySource := make(map[string]ingestion.ColumnMapping, len(tpl.Mappings))
	for _, m := range tpl.Mappings {
		bySource[m.SourceColumn] = m
	}

	mappings := make([]ingestion.ColumnMapping, 0, len(sources))

	for _, source := range sources {
		recorded, ok := bySource[source]
		if !ok {
			mappings = append(mappings, ingestion.ColumnMapping{
				SourceColumn: source,
				Method:       ingestion.MethodUnmapped,
			})

			continue
		}

		mappings = append(mappings, ingestion.ColumnMapping{
			SourceColumn: source,
			TargetColumn: recorded.TargetColumn,
			Method:       ingestion.MethodManual,
			Confidence:   confidenceExact,
		})
	}

	return &ingestion.MappingResult{Mappings: mappings}
}

// saveTemplate records the resolved mappings so the next upload with the
// same header set skips review. Best effort: failures are logged, never
// surfaced to the caller.
func (p *Pipeline) saveTemplate(ctx context.Context, ing *ingestion.Ingestion, result *ingestion.MappingResult) {
	if !p.config.TemplatesEnabled || p.templates == nil || ing.SchemaID == "" {
		return
	}

	sources := make([]string, 0, len(result.Mappings))
	mappings := make([]ingestion.ColumnMapping, 0, len(result.Mappings))

	for _, m := range result.Mappings {
		sources = append(sources, m.SourceColumn)
		mappings = append(mappings, ingestion.ColumnMapping{
			SourceColumn: m.SourceColumn,
			TargetColumn: m.TargetColumn,
			Method:       m.Method,
			Confidence:   m.Confidence,
		})
	}

	now := time.Now().UTC()
	tpl := &ingestion.MappingTemplate{
		ID:                uuid.NewString(),
		SchemaID:          ing.SchemaID,
		SourceFingerprint: matching.Fingerprint(sources),
		Mappings:          mappings,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := p.templates.Save(ctx, tpl); err != nil {
		p.logger.Warn("Failed to save mapping template",
			slog.String("ingestion_id", ing.ID),
			slog.String("schema_id", ing.SchemaID),
			slog.String("error", err.Error()))

		return
	}

	p.logger.Info("Saved mapping template",
		slog.String("schema_id", ing.SchemaID),
		slog.String("fingerprint", tpl.SourceFingerprint))
}

// applyReviewDecisions merges human decisions into a copy of the
// persisted mapping result. It returns an error and leaves the input
// untouched when the decisions are inconsistent or leave ambiguity
// unresolved.
func applyReviewDecisions(result *ingestion.MappingResult, decisions []ingestion.ReviewDecision, target *schema.CanonicalSchema, threshold float64) (*ingestion.MappingResult, error) {
	bySource := make(map[string]int, len(result.Mappings))
	for i, m := range result.Mappings {
		bySource[m.SourceColumn] = i
	}

	targetNames := make(map[string]struct{}, len(target.Columns))
	for _, col := range target.Columns {
		targetNames[col.Name] = struct{}{}
	}

	merged := &ingestion.MappingResult{
		Mappings: make([]ingestion.ColumnMapping, len(result.Mappings)),
	}
	copy(merged.Mappings, result.Mappings)

	applied := make(map[string]struct{}, len(decisions))

	for _, d := range decisions {
		if _, dup := applied[d.SourceColumn]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDecision, d.SourceColumn)
		}

		applied[d.SourceColumn] = struct{}{}

		i, ok := bySource[d.SourceColumn]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSourceColumn, d.SourceColumn)
		}

		if d.TargetColumn != "" {
			if _, ok := targetNames[d.TargetColumn]; !ok {
				return nil, fmt.Errorf("%w: %s", ErrUnknownTargetColumn, d.TargetColumn)
			}
		}

		merged.Mappings[i] = ingestion.ColumnMapping{
			SourceColumn: d.SourceColumn,
			TargetColumn: d.TargetColumn,
			Method:       ingestion.MethodManual,
			Confidence:   confidenceExact,
		}
	}

	for _, m := range result.AmbiguousMappings {
		if _, ok := applied[m.SourceColumn]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrDecisionsIncomplete, m.SourceColumn)
		}
	}

	bound := make(map[string]string, len(merged.Mappings))

	for _, m := range merged.Mappings {
		if m.TargetColumn == "" {
			continue
		}

		if first, dup := bound[m.TargetColumn]; dup {
			return nil, fmt.Errorf("%w: %s (bound by %s and %s)",
				ErrTargetColumnReused, m.TargetColumn, first, m.SourceColumn)
		}

		bound[m.TargetColumn] = m.SourceColumn
	}

	for _, m := range merged.Mappings {
		if isAmbiguous(m, target.Strict, threshold) {
			merged.AmbiguousMappings = append(merged.AmbiguousMappings, m)
		}
	}

	merged.RequiresReview = len(merged.AmbiguousMappings) > 0

	return merged, nil
}
