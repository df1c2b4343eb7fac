package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"examscore/artifact"
	"examscore/config"
	"examscore/db"
	qhttp "examscore/http"
	"examscore/logging"
	"examscore/monitoring"
	"examscore/pipeline"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// 1. Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// 2. Initialize database
	if err := db.InitDB(cfg.Database.Path); err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("database initialized", zap.String("path", cfg.Database.Path))

	// 3. Prediction pipeline
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := artifact.NewStore()
	opts := pipeline.PredictOptions{
		Schema:           cfg.Schema,
		Store:            store,
		PreprocessorPath: cfg.PreprocessorPath(),
		ModelPath:        cfg.ModelPath(),
		Logger:           logger,
	}
	if cfg.Serving.Cache {
		cache, err := artifact.NewCache(store, cfg.Serving.CacheSize)
		if err != nil {
			logger.Fatal("failed to create artifact cache", zap.Error(err))
		}
		opts.Cache = cache
		if cfg.Serving.Watch {
			if err := os.MkdirAll(cfg.Artifacts.Dir, 0o755); err != nil {
				logger.Fatal("failed to create artifact dir", zap.Error(err))
			}
			go func() {
				if err := artifact.Watch(ctx, cfg.Artifacts.Dir, cache, logger); err != nil {
					logger.Error("artifact watcher stopped", zap.Error(err))
				}
			}()
		}
	}
	if !store.Exists(opts.ModelPath) {
		logger.Warn("no trained model yet, predictions will fail until cmd/train_model has run",
			zap.String("model", opts.ModelPath))
	}

	handlers, err := qhttp.NewHandlers(pipeline.NewPredictPipeline(opts), db.Recorder{}, cfg.Schema, logger)
	if err != nil {
		logger.Fatal("failed to create handlers", zap.Error(err))
	}
	handlers.SetMetrics(monitoring.NewMetricsCollector())

	// 4. Start HTTP server
	serverConfig := qhttp.DefaultServerConfig()
	serverConfig.Port = cfg.Http.Port
	serverConfig.MaxBodyBytes = cfg.Http.MaxBodyBytes
	if cfg.Http.TimeoutSec > 0 {
		serverConfig.Timeout = time.Duration(cfg.Http.TimeoutSec) * time.Second
	}
	server := qhttp.NewServer(serverConfig, handlers, logger)

	// 5. Serve until SIGINT/SIGTERM, then shut down gracefully
	if err := server.Run(ctx); err != nil {
		logger.Error("HTTP server failed", zap.Error(err))
	}
	logger.Info("exiting")
}
