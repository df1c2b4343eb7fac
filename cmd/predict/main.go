package main

import (
	"context"
	"encoding/csv"
	"flag"
	"io"
	"log"
	"os"
	"strconv"

	"go.uber.org/zap"

	"examscore/config"
	"examscore/logging"
	"examscore/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	input := flag.String("input", "", "records to score (.csv or .xlsx)")
	output := flag.String("output", "", "output csv path, stdout when empty")
	charset := flag.String("charset", "", "legacy charset of the input csv")
	flag.Parse()

	if *input == "" {
		log.Fatal("input is required")
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer logger.Sync()

	table, err := pipeline.ReadTable(*input, *charset, "")
	if err != nil {
		logger.Fatal("failed to read input", zap.Error(err))
	}
	records, err := table.Records(cfg.Schema, false)
	if err != nil {
		logger.Fatal("invalid input", zap.Error(err))
	}

	predictor := pipeline.NewPredictPipeline(pipeline.PredictOptions{
		Schema:           cfg.Schema,
		PreprocessorPath: cfg.PreprocessorPath(),
		ModelPath:        cfg.ModelPath(),
		Logger:           logger,
	})
	scores, err := predictor.Predict(context.Background(), records)
	if err != nil {
		logger.Fatal("prediction failed", zap.Error(err))
	}

	var w io.Writer = os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatal("failed to create output", zap.Error(err))
		}
		defer f.Close()
		w = f
	}
	if err := writeScores(w, table, scores, "predicted_"+cfg.Schema.Target); err != nil {
		logger.Fatal("failed to write output", zap.Error(err))
	}
	logger.Info("batch prediction completed", zap.Int("records", len(scores)))
}

func writeScores(w io.Writer, table *pipeline.Table, scores []float64, column string) error {
	out := csv.NewWriter(w)
	if err := out.Write(append(append([]string(nil), table.Header...), column)); err != nil {
		return err
	}
	for i, row := range table.Rows {
		padded := make([]string, len(table.Header), len(table.Header)+1)
		copy(padded, row)
		if err := out.Write(append(padded, strconv.FormatFloat(scores[i], 'f', 4, 64))); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}
