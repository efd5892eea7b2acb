package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"
)

type (
	// ValidatorType identifies one of the supported validation rules.
	ValidatorType string

	// Validator is one declared validation rule on a column. The variants
	// form a closed set selected by Type; only the parameter fields the
	// active variant uses are consulted.
	//
	// Value carries the numeric parameter of min, max, minLength and
	// maxLength. The length variants read it as a whole number.
	Validator struct {
		Type    ValidatorType `json:"type"              yaml:"type"`
		Pattern string        `json:"pattern,omitempty" yaml:"pattern,omitempty"`
		Value   *float64      `json:"value,omitempty"   yaml:"value,omitempty"`
		Values  []string      `json:"values,omitempty"  yaml:"values,omitempty"`
		Message string        `json:"message,omitempty" yaml:"message,omitempty"`
	}

	// Violation is a single validator failure for one cell.
	Violation struct {
		Type    ValidatorType
		Message string
	}

	// compiledValidator pairs a per-cell validator with its prepared
	// execution state so the row loop never recompiles patterns or
	// rebuilds enum sets.
	compiledValidator struct {
		v    Validator
		re   *regexp.Regexp
		enum map[string]struct{}
	}

	// ColumnChecker executes the declared validators of one column. All
	// variants except unique are per-cell predicates; unique tracks
	// values across the whole dataset, so a single checker must serve an
	// entire validation run.
	ColumnChecker struct {
		perCell []compiledValidator
		unique  *Validator
		seen    map[string]struct{}
	}
)

// Validator types.
const (
	ValidatorRegex     ValidatorType = "regex"
	ValidatorMin       ValidatorType = "min"
	ValidatorMax       ValidatorType = "max"
	ValidatorMinLength ValidatorType = "minLength"
	ValidatorMaxLength ValidatorType = "maxLength"
	ValidatorEnum      ValidatorType = "enum"
	ValidatorUnique    ValidatorType = "unique"
)

// Sentinel errors for validator declaration failures.
var (
	ErrInvalidValidatorType = errors.New("invalid validator type")
	ErrMissingPattern       = errors.New("regex validator requires a pattern")
	ErrInvalidPattern       = errors.New("regex validator pattern does not compile")
	ErrMissingValue         = errors.New("validator requires a numeric value")
	ErrNegativeLength       = errors.New("length validator value must not be negative")
	ErrMissingEnumValues    = errors.New("enum validator requires at least one value")
	ErrNilColumn            = errors.New("column definition is required")
)

// IsValid reports whether t is a known validator type.
func (t ValidatorType) IsValid() bool {
	switch t {
	case ValidatorRegex, ValidatorMin, ValidatorMax,
		ValidatorMinLength, ValidatorMaxLength, ValidatorEnum, ValidatorUnique:
		return true
	default:
		return false
	}
}

// Validate checks that the validator declares the parameters its variant
// needs and that a regex pattern compiles.
func (v *Validator) Validate() error {
	switch v.Type {
	case ValidatorRegex:
		if v.Pattern == "" {
			return ErrMissingPattern
		}

		if _, err := regexp.Compile(v.Pattern); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrInvalidPattern, v.Pattern, err)
		}
	case ValidatorMin, ValidatorMax:
		if v.Value == nil {
			return fmt.Errorf("%w: %s", ErrMissingValue, v.Type)
		}
	case ValidatorMinLength, ValidatorMaxLength:
		if v.Value == nil {
			return fmt.Errorf("%w: %s", ErrMissingValue, v.Type)
		}

		if *v.Value < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeLength, v.Type)
		}
	case ValidatorEnum:
		if len(v.Values) == 0 {
			return ErrMissingEnumValues
		}
	case ValidatorUnique:
		// No parameters.
	default:
		return fmt.Errorf("%w: %q", ErrInvalidValidatorType, v.Type)
	}

	return nil
}

// FailureMessage returns the declared message, or a default describing
// the rule when none was declared.
func (v *Validator) FailureMessage() string {
	if v.Message != "" {
		return v.Message
	}

	switch v.Type {
	case ValidatorRegex:
		return "value does not match pattern " + v.Pattern
	case ValidatorMin:
		return "value is below the minimum " + formatBound(*v.Value)
	case ValidatorMax:
		return "value is above the maximum " + formatBound(*v.Value)
	case ValidatorMinLength:
		return fmt.Sprintf("value is shorter than %d characters", int(*v.Value))
	case ValidatorMaxLength:
		return fmt.Sprintf("value is longer than %d characters", int(*v.Value))
	case ValidatorEnum:
		return "value is not one of: " + strings.Join(v.Values, ", ")
	case ValidatorUnique:
		return "value must be unique"
	default:
		return "validation failed"
	}
}

// NewColumnChecker compiles the validators declared on col into an
// executable checker. Declaration errors (unknown variant, missing
// parameters, bad pattern) surface here, before any row is processed.
func NewColumnChecker(col *ColumnDefinition) (*ColumnChecker, error) {
	if col == nil {
		return nil, ErrNilColumn
	}

	checker := &ColumnChecker{}

	for i := range col.Validators {
		v := col.Validators[i]
		if err := v.Validate(); err != nil {
			return nil, fmt.Errorf("column %q validator %d: %w", col.Name, i, err)
		}

		if v.Type == ValidatorUnique {
			if checker.unique == nil {
				checker.unique = &v
				checker.seen = make(map[string]struct{})
			}

			continue
		}

		cv := compiledValidator{v: v}

		switch v.Type {
		case ValidatorRegex:
			cv.re = regexp.MustCompile(v.Pattern)
		case ValidatorEnum:
			cv.enum = make(map[string]struct{}, len(v.Values))
			for _, allowed := range v.Values {
				cv.enum[allowed] = struct{}{}
			}
		}

		checker.perCell = append(checker.perCell, cv)
	}

	return checker, nil
}

// Check runs the column's validators against one coerced cell value and
// returns every violation. Null values skip validation entirely, the
// unique tracker included.
func (c *ColumnChecker) Check(v Value) []Violation {
	if v.IsNull() {
		return nil
	}

	var violations []Violation

	text := v.String()

	for i := range c.perCell {
		cv := &c.perCell[i]
		if cv.check(v, text) {
			continue
		}

		violations = append(violations, Violation{Type: cv.v.Type, Message: cv.v.FailureMessage()})
	}

	if c.unique != nil {
		if _, dup := c.seen[text]; dup {
			violations = append(violations, Violation{Type: ValidatorUnique, Message: c.unique.FailureMessage()})
		} else {
			c.seen[text] = struct{}{}
		}
	}

	return violations
}

// check reports whether the value passes one per-cell validator.
//
// A value that cannot be read as a number passes the min and max bound
// checks: the coercion step has already reported such values.
func (cv *compiledValidator) check(v Value, text string) bool {
	switch cv.v.Type {
	case ValidatorRegex:
		return cv.re.MatchString(text)
	case ValidatorMin:
		n, ok := numericValue(v, text)

		return !ok || n >= *cv.v.Value
	case ValidatorMax:
		n, ok := numericValue(v, text)

		return !ok || n <= *cv.v.Value
	case ValidatorMinLength:
		return utf8.RuneCountInString(text) >= int(*cv.v.Value)
	case ValidatorMaxLength:
		return utf8.RuneCountInString(text) <= int(*cv.v.Value)
	case ValidatorEnum:
		_, ok := cv.enum[text]

		return ok
	default:
		return true
	}
}

// numericValue reads v as a float64, re-parsing string content when the
// value is not already numeric.
func numericValue(v Value, text string) (float64, bool) {
	if f, ok := v.Float(); ok {
		return f, true
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}

	return f, true
}

func formatBound(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
