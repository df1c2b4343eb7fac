package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"examscore/artifact"
	"examscore/config"
	"examscore/db"
	"examscore/logging"
	"examscore/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	source := flag.String("source", "", "dataset path (.csv or .xlsx), overrides ingestion.source")
	artifactDir := flag.String("artifact_dir", "", "artifact output dir, overrides artifacts.dir")
	testRatio := flag.Float64("test_ratio", 0, "test ratio, overrides ingestion.test_ratio")
	seed := flag.Int64("seed", -1, "split seed, overrides ingestion.seed")
	maxDepth := flag.Int("max_depth", 0, "max tree depth, overrides training.max_tree_depth")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *source != "" {
		cfg.Ingestion.SourcePath = *source
	}
	if *artifactDir != "" {
		cfg.Artifacts.Dir = *artifactDir
	}
	if *testRatio > 0 {
		cfg.Ingestion.TestRatio = *testRatio
	}
	if *seed >= 0 {
		cfg.Ingestion.Seed = *seed
	}
	if *maxDepth > 0 {
		cfg.Training.MaxTreeDepth = *maxDepth
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := pipeline.RunTraining(ctx, pipeline.TrainingConfig{
		Schema:           cfg.Schema,
		Ingestion:        cfg.Ingestion,
		ArtifactDir:      cfg.Artifacts.Dir,
		PreprocessorFile: cfg.Artifacts.Preprocessor,
		ModelFile:        cfg.Artifacts.Model,
		HandleUnknown:    cfg.Training.HandleUnknown,
		Trainer:          cfg.Training.TrainerConfig,
	}, artifact.NewStore(), logger)
	if err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}

	if err := db.InitDB(cfg.Database.Path); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	if err := db.SaveTrainingLog(db.TrainingLog{
		RunID:     report.RunID,
		ModelName: report.Best.Name,
		ModelType: report.Best.Type,
		R2:        report.Best.Test.R2,
		MAE:       report.Best.Test.MAE,
		RMSE:      report.Best.Test.RMSE,
		TrainRows: report.Ingestion.TrainRows,
		TestRows:  report.Ingestion.TestRows,
		TrainedAt: report.TrainedAt,
	}); err != nil {
		logger.Error("failed to record training run", zap.Error(err))
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		logger.Fatal("failed to encode report", zap.Error(err))
	}
	fmt.Println(string(out))
}
