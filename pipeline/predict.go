package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"

	"go.uber.org/zap"

	"examscore/artifact"
	"examscore/ml"
)

// PredictOptions 推理配置
type PredictOptions struct {
	Schema           ml.Schema
	Store            *artifact.Store
	Cache            *artifact.Cache // nil: artifacts are reloaded on every call
	PreprocessorPath string
	ModelPath        string
	Logger           *zap.Logger
}

// PredictPipeline 推理流水线
type PredictPipeline struct {
	opts   PredictOptions
	logger *zap.Logger
}

var _ ml.Predictor = (*PredictPipeline)(nil)

// ErrArtifactMismatch means the model was not trained on the output of the
// preprocessor it is served with.
var ErrArtifactMismatch = errors.New("model and preprocessor come from different training runs")

func NewPredictPipeline(opts PredictOptions) *PredictPipeline {
	if opts.Store == nil {
		opts.Store = artifact.NewStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PredictPipeline{opts: opts, logger: logger}
}

// Predict returns one raw score per record, in input order.
func (p *PredictPipeline) Predict(ctx context.Context, records []ml.Record) ([]float64, error) {
	if len(records) == 0 {
		return []float64{}, nil
	}
	if err := p.opts.Schema.ValidateRecords(records, false); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preprocessor, err := loadArtifact[ml.FittedPreprocessor](p, p.opts.PreprocessorPath)
	if err != nil {
		return nil, err
	}
	if !preprocessor.Schema().Equal(p.opts.Schema) {
		return nil, fmt.Errorf("preprocessor %s was fit on a different schema", p.opts.PreprocessorPath)
	}
	model, err := loadArtifact[ml.SavedModel](p, p.opts.ModelPath)
	if err != nil {
		return nil, err
	}
	if len(model.Features) > 0 && !slices.Equal(model.Features, preprocessor.FeatureNames()) {
		return nil, fmt.Errorf("%w: model %s, preprocessor %s", ErrArtifactMismatch, p.opts.ModelPath, p.opts.PreprocessorPath)
	}

	features, err := preprocessor.Transform(records)
	if err != nil {
		return nil, err
	}
	scores, err := model.Predict(features)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", p.opts.ModelPath, err)
	}
	for i, s := range scores {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("model %s produced non-finite score for record %d", p.opts.ModelPath, i)
		}
	}
	p.logger.Debug("prediction completed", zap.Int("records", len(records)))
	return scores, nil
}

func loadArtifact[T any](p *PredictPipeline, path string) (*T, error) {
	if p.opts.Cache != nil {
		return artifact.LoadCached[T](p.opts.Cache, path)
	}
	obj := new(T)
	if err := p.opts.Store.Load(path, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// CustomData 预测表单数据
type CustomData struct {
	Gender                   string  `json:"gender"`
	RaceEthnicity            string  `json:"race_ethnicity"`
	ParentalLevelOfEducation string  `json:"parental_level_of_education"`
	Lunch                    string  `json:"lunch"`
	TestPreparationCourse    string  `json:"test_preparation_course"`
	ReadingScore             float64 `json:"reading_score"`
	WritingScore             float64 `json:"writing_score"`
}

// ToRecord converts the form fields into a raw record. Blank categorical
// fields are missing and take the training mode.
func (c CustomData) ToRecord() ml.Record {
	return ml.Record{
		ml.ColumnGender:            formCategory(c.Gender),
		ml.ColumnRaceEthnicity:     formCategory(c.RaceEthnicity),
		ml.ColumnParentalEducation: formCategory(c.ParentalLevelOfEducation),
		ml.ColumnLunch:             formCategory(c.Lunch),
		ml.ColumnTestPreparation:   formCategory(c.TestPreparationCourse),
		ml.ColumnReadingScore:      ml.Number(c.ReadingScore),
		ml.ColumnWritingScore:      ml.Number(c.WritingScore),
	}
}

func formCategory(s string) ml.Value {
	if strings.TrimSpace(s) == "" {
		return ml.Missing()
	}
	return ml.Category(s)
}
