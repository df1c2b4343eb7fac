package ml

import (
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"
)

// DefaultMinScore is the lowest test R² a winning model may have.
const DefaultMinScore = 0.6

type Candidate struct {
	Name string
	New  func() Estimator
}

type TrainerConfig struct {
	MaxTreeDepth   int     `yaml:"max_tree_depth"`
	MinSamplesLeaf int     `yaml:"min_samples_leaf"`
	RidgeAlpha     float64 `yaml:"ridge_alpha"`
	MinScore       float64 `yaml:"min_score"`
}

// DefaultCandidates returns the estimators a training run compares.
func DefaultCandidates(cfg TrainerConfig) []Candidate {
	alpha := cfg.RidgeAlpha
	if alpha <= 0 {
		alpha = 1
	}
	return []Candidate{
		{Name: "Linear Regression", New: func() Estimator { return NewLinearRegression() }},
		{Name: "Ridge", New: func() Estimator { return NewRidge(alpha) }},
		{Name: "Decision Tree", New: func() Estimator {
			return NewRegressionTree(cfg.MaxTreeDepth, cfg.MinSamplesLeaf)
		}},
	}
}

type CandidateReport struct {
	Name    string            `json:"name"`
	Type    string            `json:"type"`
	Train   RegressionMetrics `json:"train"`
	Test    RegressionMetrics `json:"test"`
	FitErr  string            `json:"fit_error,omitempty"`
	trained Estimator
}

type TrainResult struct {
	Best    CandidateReport
	Model   Estimator
	Reports []CandidateReport
}

// TrainBest fits every candidate on trainArr, scores R² on testArr and
// returns the best. Both arrays carry the target as their last column.
func TrainBest(candidates []Candidate, trainArr, testArr [][]float64, minScore float64, logger *zap.Logger) (*TrainResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate models")
	}
	trainX, trainY := SplitFeaturesTarget(trainArr)
	testX, testY := SplitFeaturesTarget(testArr)

	reports := make([]CandidateReport, 0, len(candidates))
	for _, c := range candidates {
		model := c.New()
		report := CandidateReport{Name: c.Name, Type: model.Type()}
		if err := model.Fit(trainX, trainY); err != nil {
			logger.Warn("candidate failed to fit", zap.String("model", c.Name), zap.Error(err))
			report.FitErr = err.Error()
			reports = append(reports, report)
			continue
		}
		var err error
		if report.Train, err = score(model, trainX, trainY); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		if report.Test, err = score(model, testX, testY); err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}
		report.trained = model
		logger.Info("candidate evaluated",
			zap.String("model", c.Name),
			zap.Float64("train_r2", report.Train.R2),
			zap.Float64("test_r2", report.Test.R2),
		)
		reports = append(reports, report)
	}

	ranked := make([]CandidateReport, 0, len(reports))
	for _, r := range reports {
		if r.trained != nil {
			ranked = append(ranked, r)
		}
	}
	if len(ranked) == 0 {
		return nil, fmt.Errorf("every candidate failed to fit")
	}
	sort.SliceStable(ranked, func(i, j int) bool { return rankScore(ranked[i]) > rankScore(ranked[j]) })
	best := ranked[0]
	// NaN (constant test targets, exact fit) must not pass the gate.
	if !(best.Test.R2 >= minScore) {
		return nil, fmt.Errorf("%w: best %s scored %.4f < %.4f", ErrNoAcceptableModel, best.Name, best.Test.R2, minScore)
	}
	return &TrainResult{Best: best, Model: best.trained, Reports: reports}, nil
}

func rankScore(r CandidateReport) float64 {
	if math.IsNaN(r.Test.R2) {
		return math.Inf(-1)
	}
	return r.Test.R2
}

func score(model Estimator, X [][]float64, y []float64) (RegressionMetrics, error) {
	if len(X) == 0 {
		return RegressionMetrics{}, nil
	}
	predicted, err := model.Predict(X)
	if err != nil {
		return RegressionMetrics{}, err
	}
	return EvaluateRegression(predicted, y)
}
