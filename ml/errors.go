package ml

import (
	"errors"
	"fmt"
)

var (
	ErrMissingColumn        = errors.New("missing column")
	ErrEmptyColumn          = errors.New("column has no non-missing values")
	ErrNotFitted            = errors.New("preprocessor not fitted")
	ErrInvalidValue         = errors.New("invalid value")
	ErrUnknownCategory      = errors.New("unknown category")
	ErrEmptyDataset         = errors.New("dataset is empty")
	ErrNoAcceptableModel    = errors.New("no model reached the minimum score")
	ErrUnsupportedModelType = errors.New("unsupported model type")
)

// MissingColumnError reports a declared column absent from an input record.
// Row is -1 when the record is not part of a batch.
type MissingColumnError struct {
	Column string
	Row    int
}

func (e *MissingColumnError) Error() string {
	if e.Row >= 0 {
		return fmt.Sprintf("missing column %q in row %d", e.Column, e.Row)
	}
	return fmt.Sprintf("missing column %q", e.Column)
}

func (e *MissingColumnError) Is(target error) bool { return target == ErrMissingColumn }

type EmptyColumnError struct {
	Column string
}

func (e *EmptyColumnError) Error() string {
	return fmt.Sprintf("column %q has no non-missing values to fit on", e.Column)
}

func (e *EmptyColumnError) Is(target error) bool { return target == ErrEmptyColumn }

type NotFittedError struct {
	Op string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("%s called before fit", e.Op)
}

func (e *NotFittedError) Is(target error) bool { return target == ErrNotFitted }

type InvalidValueError struct {
	Column string
	Row    int
	Value  string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid numeric value %q for column %q in row %d", e.Value, e.Column, e.Row)
}

func (e *InvalidValueError) Is(target error) bool { return target == ErrInvalidValue }

// UnknownCategoryError is only produced when the categorical chain is built
// with UnknownError.
type UnknownCategoryError struct {
	Column   string
	Category string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("category %q was not seen during fit for column %q", e.Category, e.Column)
}

func (e *UnknownCategoryError) Is(target error) bool { return target == ErrUnknownCategory }
