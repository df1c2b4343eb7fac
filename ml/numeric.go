package ml

import (
	"fmt"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// NumericChain imputes missing values with the training median, then
// standardizes to zero mean and unit variance.
type NumericChain struct {
	Columns []string
}

// NumericColumnState is the learned state of one numeric column.
type NumericColumnState struct {
	Column string  `json:"column"`
	Median float64 `json:"median"`
	Mean   float64 `json:"mean"`
	Scale  float64 `json:"scale"`
}

func (c NumericChain) fit(rows []Record) ([]NumericColumnState, error) {
	states := make([]NumericColumnState, len(c.Columns))
	for j, name := range c.Columns {
		values := make([]float64, len(rows))
		present := make([]bool, len(rows))
		observed := make([]float64, 0, len(rows))
		for i, rec := range rows {
			v, ok, err := numericValue(name, i, rec[name])
			if err != nil {
				return nil, err
			}
			if ok {
				values[i] = v
				present[i] = true
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			return nil, &EmptyColumnError{Column: name}
		}
		median, err := stats.Median(observed)
		if err != nil {
			return nil, fmt.Errorf("median of %s: %w", name, err)
		}
		for i := range values {
			if !present[i] {
				values[i] = median
			}
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		states[j] = NumericColumnState{
			Column: name,
			Median: median,
			Mean:   mean,
			Scale:  safeScale(std),
		}
	}
	return states, nil
}

func (s NumericColumnState) transform(row int, v Value) (float64, error) {
	x, ok, err := numericValue(s.Column, row, v)
	if err != nil {
		return 0, err
	}
	if !ok {
		x = s.Median
	}
	return (x - s.Mean) / s.Scale, nil
}

// safeScale mirrors the usual scaler convention: a constant column keeps
// unit scale instead of dividing by zero.
func safeScale(std float64) float64 {
	if std < 1e-12 {
		return 1
	}
	return std
}
