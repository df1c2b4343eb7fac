package ml

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const (
	ModelLinearRegression = "linear_regression"
	ModelRidge            = "ridge"
)

// LinearRegression is ordinary least squares, or ridge regression when
// Alpha > 0. The intercept is not penalized.
type LinearRegression struct {
	Alpha        float64   `json:"alpha"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
}

func NewLinearRegression() *LinearRegression { return &LinearRegression{} }

func NewRidge(alpha float64) *LinearRegression { return &LinearRegression{Alpha: alpha} }

func (m *LinearRegression) Type() string {
	if m.Alpha > 0 {
		return ModelRidge
	}
	return ModelLinearRegression
}

func (m *LinearRegression) Fit(features [][]float64, target []float64) error {
	n, p, err := checkTrainingShape(features, target)
	if err != nil {
		return err
	}
	if m.Alpha < 0 {
		return fmt.Errorf("alpha must be non-negative, got %v", m.Alpha)
	}

	means := make([]float64, p)
	for _, row := range features {
		for j, v := range row {
			means[j] += v
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	yMean := 0.0
	for _, y := range target {
		yMean += y
	}
	yMean /= float64(n)

	// ridge is solved as least squares on [X; sqrt(alpha)*I]
	rows := n
	if m.Alpha > 0 {
		rows += p
	}
	x := mat.NewDense(rows, p, nil)
	y := mat.NewDense(rows, 1, nil)
	for i, row := range features {
		for j, v := range row {
			x.Set(i, j, v-means[j])
		}
		y.Set(i, 0, target[i]-yMean)
	}
	if m.Alpha > 0 {
		penalty := math.Sqrt(m.Alpha)
		for j := 0; j < p; j++ {
			x.Set(n+j, j, penalty)
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return errors.New("linear regression: SVD factorization failed")
	}
	rank := svd.Rank(1e-10)
	if rank == 0 {
		m.Coefficients = make([]float64, p)
		m.Intercept = yMean
		return nil
	}
	var beta mat.Dense
	svd.SolveTo(&beta, y, rank)

	m.Coefficients = make([]float64, p)
	intercept := yMean
	for j := 0; j < p; j++ {
		m.Coefficients[j] = beta.At(j, 0)
		intercept -= m.Coefficients[j] * means[j]
	}
	m.Intercept = intercept
	return nil
}

func (m *LinearRegression) Predict(features [][]float64) ([]float64, error) {
	if m.Coefficients == nil {
		return nil, errors.New("model not trained")
	}
	out := make([]float64, len(features))
	for i, row := range features {
		if len(row) != len(m.Coefficients) {
			return nil, fmt.Errorf("row %d has %d features, model expects %d", i, len(row), len(m.Coefficients))
		}
		out[i] = m.Intercept + mat.Dot(mat.NewVecDense(len(row), row), mat.NewVecDense(len(row), m.Coefficients))
	}
	return out, nil
}

func checkTrainingShape(features [][]float64, target []float64) (n, p int, err error) {
	if len(features) == 0 || len(target) == 0 {
		return 0, 0, errors.New("features or target empty")
	}
	if len(features) != len(target) {
		return 0, 0, errors.New("features and target size mismatch")
	}
	p = len(features[0])
	if p == 0 {
		return 0, 0, errors.New("features have no columns")
	}
	for i, row := range features {
		if len(row) != p {
			return 0, 0, fmt.Errorf("row %d has %d features, expected %d", i, len(row), p)
		}
	}
	return len(features), p, nil
}
