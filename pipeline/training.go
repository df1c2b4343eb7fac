package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"examscore/artifact"
	"examscore/ml"
)

const (
	DefaultPreprocessorFile = "preprocessor.json"
	DefaultModelFile        = "model.json"
)

// TrainingConfig 训练配置
type TrainingConfig struct {
	Schema           ml.Schema
	Ingestion        IngestionConfig
	ArtifactDir      string
	PreprocessorFile string
	ModelFile        string
	HandleUnknown    ml.UnknownPolicy
	Trainer          ml.TrainerConfig
}

// TrainingReport 训练结果
type TrainingReport struct {
	RunID            string               `json:"run_id"`
	Ingestion        *IngestionResult     `json:"ingestion"`
	Best             ml.CandidateReport   `json:"best"`
	Candidates       []ml.CandidateReport `json:"candidates"`
	PreprocessorPath string               `json:"preprocessor_path"`
	ModelPath        string               `json:"model_path"`
	TrainedAt        time.Time            `json:"trained_at"`
}

// RunTraining ingests the source dataset, fits the preprocessor on the train
// split, selects the best estimator on the test split and persists both
// artifacts. Nothing is written to the artifact paths unless a model passes
// the minimum score.
func RunTraining(ctx context.Context, config TrainingConfig, store *artifact.Store, logger *zap.Logger) (*TrainingReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = artifact.NewStore()
	}
	if config.ArtifactDir == "" {
		return nil, errors.New("artifact dir is required")
	}
	if err := config.Schema.Validate(); err != nil {
		return nil, err
	}
	if config.Schema.Target == "" {
		return nil, errors.New("training schema has no target column")
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	ingestion := config.Ingestion
	ingestion.ArtifactDir = config.ArtifactDir
	ingested, err := Ingest(ctx, ingestion, config.Schema, logger)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}

	train, err := ReadRecords(ingested.TrainPath, config.Schema, true)
	if err != nil {
		return nil, err
	}
	test, err := ReadRecords(ingested.TestPath, config.Schema, true)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	preprocessor := ml.BuildWithOptions(config.Schema, ml.BuildOptions{
		HandleUnknown: config.HandleUnknown,
		Logger:        logger,
	})
	trainArr, testArr, err := ml.TransformDatasets(preprocessor, train, test)
	if err != nil {
		return nil, fmt.Errorf("data transformation: %w", err)
	}
	fitted, err := preprocessor.Fitted()
	if err != nil {
		return nil, err
	}
	logger.Info("data transformation completed", zap.Int("features", fitted.Width()))

	minScore := config.Trainer.MinScore
	if minScore == 0 {
		minScore = ml.DefaultMinScore
	}
	result, err := ml.TrainBest(ml.DefaultCandidates(config.Trainer), trainArr, testArr, minScore, logger)
	if err != nil {
		return nil, fmt.Errorf("model training: %w", err)
	}
	logger.Info("best model found",
		zap.String("model", result.Best.Name),
		zap.Float64("r2", result.Best.Test.R2),
	)

	report := &TrainingReport{
		RunID:            runID,
		Ingestion:        ingested,
		Best:             result.Best,
		Candidates:       result.Reports,
		PreprocessorPath: filepath.Join(config.ArtifactDir, orDefault(config.PreprocessorFile, DefaultPreprocessorFile)),
		ModelPath:        filepath.Join(config.ArtifactDir, orDefault(config.ModelFile, DefaultModelFile)),
		TrainedAt:        time.Now().UTC(),
	}
	if err := store.Save(report.PreprocessorPath, fitted); err != nil {
		return nil, fmt.Errorf("save preprocessor: %w", err)
	}
	model := &ml.SavedModel{Estimator: result.Model, Features: fitted.FeatureNames()}
	if err := store.Save(report.ModelPath, model); err != nil {
		return nil, fmt.Errorf("save model: %w", err)
	}
	logger.Info("artifacts saved",
		zap.String("preprocessor", report.PreprocessorPath),
		zap.String("model", report.ModelPath),
	)
	return report, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
