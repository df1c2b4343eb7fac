package ml

import "context"

// Estimator is a regressor trained on transformed feature rows.
type Estimator interface {
	Type() string
	Fit(features [][]float64, target []float64) error
	Predict(features [][]float64) ([]float64, error)
}

// Predictor serves scores for raw records. It is implemented by the
// inference pipeline and consumed by the HTTP and CLI layers.
type Predictor interface {
	Predict(ctx context.Context, records []Record) ([]float64, error)
}
