package pipeline

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"examscore/ml"
)

const (
	DefaultTestRatio = 0.2
	DefaultSplitSeed = 42
)

// IngestionConfig 数据摄取配置
type IngestionConfig struct {
	SourcePath  string  `yaml:"source"`
	ArtifactDir string  `yaml:"-"`
	TestRatio   float64 `yaml:"test_ratio"`
	Seed        int64   `yaml:"seed"`
	Charset     string  `yaml:"charset"`
	Sheet       string  `yaml:"sheet"`
}

// IngestionResult 数据摄取结果
type IngestionResult struct {
	RawPath   string `json:"raw_path"`
	TrainPath string `json:"train_path"`
	TestPath  string `json:"test_path"`
	Rows      int    `json:"rows"`
	TrainRows int    `json:"train_rows"`
	TestRows  int    `json:"test_rows"`
}

// Ingest reads the source dataset, writes a UTF-8 copy as data.csv and a
// seeded shuffle split into train.csv and test.csv under ArtifactDir.
func Ingest(ctx context.Context, config IngestionConfig, schema ml.Schema, logger *zap.Logger) (*IngestionResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SourcePath == "" {
		return nil, fmt.Errorf("ingestion source path is required")
	}
	if config.TestRatio <= 0 || config.TestRatio >= 1 {
		config.TestRatio = DefaultTestRatio
	}
	logger.Info("starting data ingestion", zap.String("source", config.SourcePath))

	table, err := ReadTable(config.SourcePath, config.Charset, config.Sheet)
	if err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	if err := schema.ValidateColumns(table.Header, true); err != nil {
		return nil, fmt.Errorf("dataset %s: %w", config.SourcePath, err)
	}
	if len(table.Rows) < 2 {
		return nil, fmt.Errorf("dataset %s has %d rows, need at least 2 to split", config.SourcePath, len(table.Rows))
	}
	logger.Info("dataset loaded", zap.Int("rows", len(table.Rows)))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.ArtifactDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	result := &IngestionResult{
		RawPath:   filepath.Join(config.ArtifactDir, "data.csv"),
		TrainPath: filepath.Join(config.ArtifactDir, "train.csv"),
		TestPath:  filepath.Join(config.ArtifactDir, "test.csv"),
		Rows:      len(table.Rows),
	}
	if err := writeCSV(result.RawPath, table.Header, table.Rows); err != nil {
		return nil, err
	}

	train, test := splitRows(table.Rows, config.TestRatio, config.Seed)
	if err := writeCSV(result.TrainPath, table.Header, train); err != nil {
		return nil, err
	}
	if err := writeCSV(result.TestPath, table.Header, test); err != nil {
		return nil, err
	}
	result.TrainRows = len(train)
	result.TestRows = len(test)

	logger.Info("data ingestion completed",
		zap.Int("train_rows", result.TrainRows),
		zap.Int("test_rows", result.TestRows),
		zap.Int64("seed", config.Seed),
	)
	return result, nil
}

// splitRows shuffles with a fixed seed and holds out ceil(n*testRatio) rows,
// keeping at least one row on each side.
func splitRows(rows [][]string, testRatio float64, seed int64) (train, test [][]string) {
	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(len(rows))

	nTest := int(math.Ceil(float64(len(rows)) * testRatio))
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= len(rows) {
		nTest = len(rows) - 1
	}
	for i, idx := range indices {
		if i < nTest {
			test = append(test, rows[idx])
		} else {
			train = append(train, rows[idx])
		}
	}
	return train, test
}
