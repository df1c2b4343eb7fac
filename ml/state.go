package ml

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	PreprocessorFormat  = "examscore.preprocessor"
	PreprocessorVersion = 1
)

type preprocessorDocument struct {
	Format        string                   `json:"format"`
	Version       int                      `json:"version"`
	Schema        Schema                   `json:"schema"`
	HandleUnknown UnknownPolicy            `json:"handle_unknown"`
	Numeric       []NumericColumnState     `json:"numeric"`
	Categorical   []CategoricalColumnState `json:"categorical"`
}

func (f *FittedPreprocessor) MarshalJSON() ([]byte, error) {
	return json.Marshal(preprocessorDocument{
		Format:        PreprocessorFormat,
		Version:       PreprocessorVersion,
		Schema:        f.schema,
		HandleUnknown: f.handleUnknown,
		Numeric:       f.numeric,
		Categorical:   f.categorical,
	})
}

// UnmarshalJSON decodes and validates a persisted preprocessor. Any schema
// mismatch is reported as an error so a stale or foreign artifact is never
// used silently.
func (f *FittedPreprocessor) UnmarshalJSON(data []byte) error {
	var doc preprocessorDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Format != PreprocessorFormat {
		return fmt.Errorf("unexpected artifact format %q", doc.Format)
	}
	if doc.Version != PreprocessorVersion {
		return fmt.Errorf("unsupported preprocessor version %d", doc.Version)
	}
	decoded, err := NewFittedPreprocessor(doc.Schema, doc.HandleUnknown, doc.Numeric, doc.Categorical)
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
