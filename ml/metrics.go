package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/stat"
)

type RegressionMetrics struct {
	R2   float64 `json:"r2"`
	MAE  float64 `json:"mae"`
	RMSE float64 `json:"rmse"`
}

func EvaluateRegression(predicted, actual []float64) (RegressionMetrics, error) {
	if len(predicted) == 0 || len(predicted) != len(actual) {
		return RegressionMetrics{}, errors.New("predictions and targets must be non-empty and the same length")
	}
	var absSum, sqSum float64
	for i := range predicted {
		d := predicted[i] - actual[i]
		absSum += math.Abs(d)
		sqSum += d * d
	}
	n := float64(len(predicted))
	return RegressionMetrics{
		R2:   stat.RSquaredFrom(predicted, actual, nil),
		MAE:  absSum / n,
		RMSE: math.Sqrt(sqSum / n),
	}, nil
}
