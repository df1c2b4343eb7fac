package ml

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

type Kind uint8

const (
	KindMissing Kind = iota
	KindNumber
	KindCategory
)

// Value is one cell of a raw record. The zero Value is missing.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
}

func Missing() Value { return Value{} }

func Number(v float64) Value {
	if math.IsNaN(v) {
		return Value{}
	}
	return Value{Kind: KindNumber, Num: v}
}

func Category(s string) Value { return Value{Kind: KindCategory, Str: s} }

func (v Value) IsMissing() bool { return v.Kind == KindMissing }

func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindCategory:
		return v.Str
	default:
		return ""
	}
}

// Record maps a column name to its raw value.
type Record map[string]Value

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

type Schema struct {
	Numeric     []string `json:"numeric" yaml:"numeric"`
	Categorical []string `json:"categorical" yaml:"categorical"`
	Target      string   `json:"target" yaml:"target"`
}

const (
	ColumnGender            = "gender"
	ColumnRaceEthnicity     = "race_ethnicity"
	ColumnParentalEducation = "parental_level_of_education"
	ColumnLunch             = "lunch"
	ColumnTestPreparation   = "test_preparation_course"
	ColumnReadingScore      = "reading_score"
	ColumnWritingScore      = "writing_score"
	ColumnMathScore         = "math_score"
)

// StudentSchema is the fixed schema of the student performance dataset.
func StudentSchema() Schema {
	return Schema{
		Numeric: []string{ColumnWritingScore, ColumnReadingScore},
		Categorical: []string{
			ColumnGender,
			ColumnRaceEthnicity,
			ColumnParentalEducation,
			ColumnLunch,
			ColumnTestPreparation,
		},
		Target: ColumnMathScore,
	}
}

func (s Schema) Validate() error {
	if len(s.Numeric)+len(s.Categorical) == 0 {
		return errors.New("schema declares no feature columns")
	}
	seen := make(map[string]string, len(s.Numeric)+len(s.Categorical)+1)
	check := func(name, group string) error {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("schema has an empty %s column name", group)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("column %q declared as both %s and %s", name, prev, group)
		}
		seen[name] = group
		return nil
	}
	for _, name := range s.Numeric {
		if err := check(name, "numeric"); err != nil {
			return err
		}
	}
	for _, name := range s.Categorical {
		if err := check(name, "categorical"); err != nil {
			return err
		}
	}
	if s.Target != "" {
		if err := check(s.Target, "target"); err != nil {
			return err
		}
	}
	return nil
}

// Features returns the feature columns, numeric first.
func (s Schema) Features() []string {
	out := make([]string, 0, len(s.Numeric)+len(s.Categorical))
	out = append(out, s.Numeric...)
	return append(out, s.Categorical...)
}

func (s Schema) Equal(o Schema) bool {
	return equalStrings(s.Numeric, o.Numeric) &&
		equalStrings(s.Categorical, o.Categorical) &&
		s.Target == o.Target
}

// ValidateRecord checks that every feature column is present. A column
// present with a missing value passes. The target is only required when
// requireTarget is set.
func (s Schema) ValidateRecord(rec Record, requireTarget bool) error {
	return s.validateRecord(rec, -1, requireTarget)
}

func (s Schema) ValidateRecords(recs []Record, requireTarget bool) error {
	for i, rec := range recs {
		if err := s.validateRecord(rec, i, requireTarget); err != nil {
			return err
		}
	}
	return nil
}

func (s Schema) validateRecord(rec Record, row int, requireTarget bool) error {
	for _, name := range s.Features() {
		if _, ok := rec[name]; !ok {
			return &MissingColumnError{Column: name, Row: row}
		}
	}
	if requireTarget && s.Target != "" {
		if _, ok := rec[s.Target]; !ok {
			return &MissingColumnError{Column: s.Target, Row: row}
		}
	}
	return nil
}

// ValidateColumns checks a tabular header against the schema.
func (s Schema) ValidateColumns(header []string, requireTarget bool) error {
	present := make(map[string]struct{}, len(header))
	for _, h := range header {
		present[strings.TrimSpace(h)] = struct{}{}
	}
	for _, name := range s.Features() {
		if _, ok := present[name]; !ok {
			return &MissingColumnError{Column: name, Row: -1}
		}
	}
	if requireTarget && s.Target != "" {
		if _, ok := present[s.Target]; !ok {
			return &MissingColumnError{Column: s.Target, Row: -1}
		}
	}
	return nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// numericValue resolves a cell of a numeric column. ok is false for missing.
func numericValue(column string, row int, v Value) (float64, bool, error) {
	switch v.Kind {
	case KindMissing:
		return 0, false, nil
	case KindNumber:
		if math.IsInf(v.Num, 0) {
			return 0, false, &InvalidValueError{Column: column, Row: row, Value: v.String()}
		}
		return v.Num, true, nil
	default:
		raw := strings.TrimSpace(v.Str)
		if isMissingToken(raw) {
			return 0, false, nil
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsInf(f, 0) {
			return 0, false, &InvalidValueError{Column: column, Row: row, Value: v.Str}
		}
		if math.IsNaN(f) {
			return 0, false, nil
		}
		return f, true, nil
	}
}

// categoryValue resolves a cell of a categorical column. ok is false for missing.
func categoryValue(v Value) (string, bool) {
	switch v.Kind {
	case KindMissing:
		return "", false
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64), true
	default:
		return v.Str, true
	}
}

func isMissingToken(s string) bool {
	switch s {
	case "", "NA", "NaN", "nan", "null":
		return true
	}
	return false
}

// ParseCell converts a raw text cell into a Value for the given column.
// Numeric columns keep unparseable text as a Category so the error surfaces
// with row context at transform time.
func (s Schema) ParseCell(column, raw string) Value {
	trimmed := strings.TrimSpace(raw)
	if isMissingToken(trimmed) {
		return Missing()
	}
	if s.isNumeric(column) || column == s.Target {
		if f, err := strconv.ParseFloat(trimmed, 64); err == nil && !math.IsInf(f, 0) {
			return Number(f)
		}
		return Category(trimmed)
	}
	return Category(raw)
}

func (s Schema) isNumeric(column string) bool {
	for _, name := range s.Numeric {
		if name == column {
			return true
		}
	}
	return false
}
