// Package ingestion provides the domain model for CSV ingestion runs:
// the ingestion record, its status lifecycle, pipeline stage results, and
// the decision journal entries that explain every automated choice.
package ingestion

import (
	"errors"
	"fmt"
	"time"

	"github.com/canonizer-io/canonizer/internal/schema"
)

type (
	// Status tracks an ingestion through the pipeline. Statuses advance
	// monotonically along the stage sequence; the only branch is
	// mapping -> awaiting_review -> mapping when human review is needed.
	Status string

	// Stage identifies one of the five pipeline stages. Decision journal
	// entries and queue jobs are keyed by stage.
	Stage string

	// MappingMethod records which strategy produced a column mapping.
	MappingMethod string

	// CellErrorType classifies a cell-scoped validation problem.
	CellErrorType string

	// RowAction is the disposition assigned to a row that contains at
	// least one cell error, derived from the schema's error policy.
	RowAction string

	// Ingestion is a single normalization run over one uploaded file.
	// Stage results are persisted onto the record as each stage completes
	// so that every later stage (and every retry) works purely from
	// persisted state.
	Ingestion struct {
		ID               string            `json:"id"`
		SchemaID         string            `json:"schemaId,omitempty"`
		Status           Status            `json:"status"`
		RawFileKey       string            `json:"rawFileKey"`
		OriginalFilename string            `json:"originalFilename,omitempty"`
		OutputFileKey    string            `json:"outputFileKey,omitempty"`
		InferredSchema   *InferredSchema   `json:"inferredSchema,omitempty"`
		MappingResult    *MappingResult    `json:"mappingResult,omitempty"`
		ValidationResult *ValidationResult `json:"validationResult,omitempty"`
		RowCount         *int              `json:"rowCount,omitempty"`
		ValidRowCount    *int              `json:"validRowCount,omitempty"`
		Error            string            `json:"error,omitempty"`
		CreatedAt        time.Time         `json:"createdAt"`
		UpdatedAt        time.Time         `json:"updatedAt"`
		CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	}

	// ParseError records a single unparseable or malformed input line.
	// Row is 1-indexed over data rows (the header is row 0 for humans).
	ParseError struct {
		Row     int    `json:"row"`
		Message string `json:"message"`
	}

	// ParseResult is the parse stage's output. It is persisted to the blob
	// store under parsed/<id>.json so the infer stage never re-reads the
	// raw file. Rows holds up to the configured sample cap; TotalRowCount
	// counts every data line seen while streaming to EOF.
	ParseResult struct {
		Columns           []string            `json:"columns"`
		Rows              []map[string]string `json:"rows"`
		TotalRowCount     int                 `json:"totalRowCount"`
		ParseErrors       []ParseError        `json:"parseErrors"`
		DetectedDelimiter string              `json:"detectedDelimiter"`
	}

	// InferredColumn is the per-column verdict of the infer stage.
	InferredColumn struct {
		Name         string            `json:"name"`
		InferredType schema.ColumnType `json:"inferredType"`
		Confidence   float64           `json:"confidence"`
		Nullable     bool              `json:"nullable"`
		UniqueRatio  float64           `json:"uniqueRatio"`
		SampleValues []string          `json:"sampleValues"`
		NullCount    int               `json:"nullCount"`
		TotalCount   int               `json:"totalCount"`
	}

	// InferredSchema is the infer stage's output, persisted on the
	// ingestion record.
	InferredSchema struct {
		Columns           []InferredColumn `json:"columns"`
		RowCount          int              `json:"rowCount"`
		ParseErrors       []ParseError     `json:"parseErrors"`
		DetectedDelimiter string           `json:"detectedDelimiter"`
	}

	// AlternativeMapping is a rejected-but-plausible candidate offered to
	// a human reviewer alongside a low-confidence mapping.
	AlternativeMapping struct {
		TargetColumn string  `json:"targetColumn"`
		Confidence   float64 `json:"confidence"`
	}

	// ColumnMapping binds one source column to a canonical target column,
	// or to nothing when unmapped. TargetColumn is empty for unmapped.
	ColumnMapping struct {
		SourceColumn        string               `json:"sourceColumn"`
		TargetColumn        string               `json:"targetColumn,omitempty"`
		Method              MappingMethod        `json:"method"`
		Confidence          float64              `json:"confidence"`
		AlternativeMappings []AlternativeMapping `json:"alternativeMappings,omitempty"`
	}

	// MappingResult is the map stage's output. AmbiguousMappings repeats
	// the mappings that need human review; RequiresReview mirrors whether
	// that list is non-empty.
	MappingResult struct {
		Mappings          []ColumnMapping `json:"mappings"`
		RequiresReview    bool            `json:"requiresReview"`
		AmbiguousMappings []ColumnMapping `json:"ambiguousMappings,omitempty"`
	}

	// ReviewDecision is one human mapping choice supplied on resume.
	// An empty TargetColumn drops the source column from the output.
	ReviewDecision struct {
		SourceColumn string `json:"sourceColumn"`
		TargetColumn string `json:"targetColumn"`
	}

	// CellError is a cell-scoped problem found during validation.
	// Row is 1-indexed for human display.
	CellError struct {
		Row           int                  `json:"row"`
		Column        string               `json:"column"`
		SourceColumn  string               `json:"sourceColumn,omitempty"`
		ErrorType     CellErrorType        `json:"errorType"`
		ValidatorType schema.ValidatorType `json:"validatorType,omitempty"`
		Message       string               `json:"message"`
	}

	// RowError groups the cell errors of one row together with the
	// disposition the error policy assigned to that row.
	RowError struct {
		Row    int         `json:"row"`
		Action RowAction   `json:"action"`
		Errors []CellError `json:"errors"`
	}

	// ValidationResult is the validate stage's output.
	ValidationResult struct {
		ValidRowCount   int            `json:"validRowCount"`
		InvalidRowCount int            `json:"invalidRowCount"`
		TotalRowCount   int            `json:"totalRowCount"`
		RowErrors       []RowError     `json:"rowErrors,omitempty"`
		ErrorsByColumn  map[string]int `json:"errorsByColumn,omitempty"`
	}

	// DecisionEntry is one append-only decision journal record. The
	// journal is the single authoritative source of explainability for an
	// ingestion; all other logs are diagnostic only.
	DecisionEntry struct {
		ID           int64          `json:"id,omitempty"`
		IngestionID  string         `json:"ingestionId"`
		Stage        Stage          `json:"stage"`
		DecisionType string         `json:"decisionType"`
		Details      map[string]any `json:"details"`
		CreatedAt    time.Time      `json:"createdAt"`
	}

	// MappingTemplate records the resolved mappings for a (schema, source
	// header set) pair so recurring uploads can skip review. The pipeline
	// consults templates only when template reuse is enabled.
	MappingTemplate struct {
		ID                string          `json:"id"`
		SchemaID          string          `json:"schemaId"`
		SourceFingerprint string          `json:"sourceFingerprint"`
		Mappings          []ColumnMapping `json:"mappings"`
		UsageCount        int             `json:"usageCount"`
		CreatedAt         time.Time       `json:"createdAt"`
		UpdatedAt         time.Time       `json:"updatedAt"`
	}

	// Job is a unit of pipeline work dispatched through the queue. The ID
	// doubles as the idempotency key: <stage>-<ingestionID>, or
	// <stage>-resume-<ingestionID> for the post-review validate job.
	Job struct {
		ID          string `json:"id"`
		Stage       Stage  `json:"stage"`
		IngestionID string `json:"ingestionId"`
		Resume      bool   `json:"resume,omitempty"`
	}
)

// Ingestion statuses.
const (
	StatusPending        Status = "pending"
	StatusParsing        Status = "parsing"
	StatusInferring      Status = "inferring"
	StatusMapping        Status = "mapping"
	StatusAwaitingReview Status = "awaiting_review"
	StatusValidating     Status = "validating"
	StatusOutputting     Status = "outputting"
	StatusComplete       Status = "complete"
	StatusFailed         Status = "failed"
)

// Pipeline stages.
const (
	StageParse    Stage = "parse"
	StageInfer    Stage = "infer"
	StageMap      Stage = "map"
	StageValidate Stage = "validate"
	StageOutput   Stage = "output"
)

// Mapping methods in descending confidence order.
const (
	MethodExact           MappingMethod = "exact"
	MethodCaseInsensitive MappingMethod = "case_insensitive"
	MethodAlias           MappingMethod = "alias"
	MethodFuzzy           MappingMethod = "fuzzy"
	MethodManual          MappingMethod = "manual"
	MethodUnmapped        MappingMethod = "unmapped"
)

// Cell error types.
const (
	CellErrorTypeCoercion     CellErrorType = "type_coercion"
	CellErrorValidationFailed CellErrorType = "validation_failed"
	CellErrorRequiredMissing  CellErrorType = "required_missing"
)

// Row actions.
const (
	RowActionFlagged  RowAction = "flagged"
	RowActionRejected RowAction = "rejected"
	RowActionCoerced  RowAction = "coerced"
)

// Decision types emitted into the journal.
const (
	DecisionParseComplete      = "parse_complete"
	DecisionTypeInference      = "type_inference"
	DecisionColumnMapped       = "column_mapped"
	DecisionColumnUnmapped     = "column_unmapped"
	DecisionPassthroughMapping = "passthrough_mapping"
	DecisionTemplateApplied    = "template_applied"
	DecisionReviewRequired     = "review_required"
	DecisionHumanResolved      = "human_resolved"
	DecisionValidationComplete = "validation_complete"
	DecisionOutputComplete     = "output_complete"
	DecisionStageFailed        = "stage_failed"
)

// Sentinel errors for domain validation failures.
var (
	ErrEmptyIngestionID  = errors.New("ingestion id is required")
	ErrEmptyRawFileKey   = errors.New("rawFileKey is required")
	ErrInvalidStatus     = errors.New("invalid status")
	ErrInvalidStage      = errors.New("invalid stage")
	ErrEmptyDecisionType = errors.New("decisionType is required")
	ErrEmptyJobID        = errors.New("job id is required")
)

// IsValid reports whether s is a known ingestion status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusParsing, StatusInferring, StatusMapping,
		StatusAwaitingReview, StatusValidating, StatusOutputting,
		StatusComplete, StatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal status. Terminal ingestions
// are immutable except for deletion.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// IsValid reports whether st is a known pipeline stage.
func (st Stage) IsValid() bool {
	switch st {
	case StageParse, StageInfer, StageMap, StageValidate, StageOutput:
		return true
	default:
		return false
	}
}

// IsValid reports whether m is a known mapping method.
func (m MappingMethod) IsValid() bool {
	switch m {
	case MethodExact, MethodCaseInsensitive, MethodAlias, MethodFuzzy,
		MethodManual, MethodUnmapped:
		return true
	default:
		return false
	}
}

// Validate checks the structural invariants of an ingestion record.
func (i *Ingestion) Validate() error {
	if i.ID == "" {
		return ErrEmptyIngestionID
	}

	if i.RawFileKey == "" {
		return ErrEmptyRawFileKey
	}

	if !i.Status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, i.Status)
	}

	return nil
}

// Validate checks that a journal entry carries the required fields.
func (e *DecisionEntry) Validate() error {
	if e.IngestionID == "" {
		return ErrEmptyIngestionID
	}

	if !e.Stage.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, e.Stage)
	}

	if e.DecisionType == "" {
		return ErrEmptyDecisionType
	}

	return nil
}

// Validate checks that a queue job is well formed.
func (j Job) Validate() error {
	if j.ID == "" {
		return ErrEmptyJobID
	}

	if !j.Stage.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStage, j.Stage)
	}

	if j.IngestionID == "" {
		return ErrEmptyIngestionID
	}

	return nil
}

// NewJob builds a stage job with its deterministic idempotency key.
func NewJob(stage Stage, ingestionID string, resume bool) Job {
	id := fmt.Sprintf("%s-%s", stage, ingestionID)
	if resume {
		id = fmt.Sprintf("%s-resume-%s", stage, ingestionID)
	}

	return Job{
		ID:          id,
		Stage:       stage,
		IngestionID: ingestionID,
		Resume:      resume,
	}
}

// MappingForSource returns the mapping whose source column matches name,
// or nil when the source column is unknown.
func (r *MappingResult) MappingForSource(name string) *ColumnMapping {
	for i := range r.Mappings {
		if r.Mappings[i].SourceColumn == name {
			return &r.Mappings[i]
		}
	}

	return nil
}

// TargetIndex builds the targetColumn -> sourceColumn reverse index used
// by the validate and output stages. Unmapped columns are skipped.
func (r *MappingResult) TargetIndex() map[string]string {
	index := make(map[string]string, len(r.Mappings))

	for _, m := range r.Mappings {
		if m.TargetColumn != "" {
			index[m.TargetColumn] = m.SourceColumn
		}
	}

	return index
}
