package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/drought-forecast-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/drought-forecast-service/internal/adapter/kafka"
	"github.com/couchcryptid/drought-forecast-service/internal/adapter/sqlite"
	"github.com/couchcryptid/drought-forecast-service/internal/artifacts"
	"github.com/couchcryptid/drought-forecast-service/internal/config"
	"github.com/couchcryptid/drought-forecast-service/internal/inference"
	"github.com/couchcryptid/drought-forecast-service/internal/observability"
	"github.com/couchcryptid/drought-forecast-service/internal/persistence"
	"github.com/couchcryptid/drought-forecast-service/internal/pipeline"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	paths := artifacts.Paths{
		Dir:           cfg.ModelDir,
		Model:         cfg.ModelFile,
		ScalerX:       cfg.ScalerXFile,
		ScalerY:       cfg.ScalerYFile,
		FeatureConfig: cfg.FeatureConfigFile,
		ONNXLibrary:   cfg.ONNXLibraryPath,
	}
	bundle, err := artifacts.Load(paths, artifacts.LoadONNXModel)
	if err != nil {
		logger.Error("failed to load model artifacts", "dir", cfg.ModelDir, "error", err)
		os.Exit(1)
	}
	logger.Info("model artifacts loaded",
		"model", paths.ModelPath(),
		"features", bundle.Schema.Names(),
		"model_version", cfg.ModelVersion,
	)

	// Initialize the inference cache (disabled with INFERENCE_CACHE_SIZE=0).
	var inferer pipeline.Inferer = bundle.Engine
	if cfg.InferenceCacheSize > 0 {
		inferer = inference.NewCachedEngine(bundle.Engine, cfg.InferenceCacheSize).WithMetrics(metrics)
		logger.Info("inference cache enabled", "cache_size", cfg.InferenceCacheSize)
	}

	predictor := pipeline.NewPredictor(bundle.Schema, bundle.Scalers, inferer, bundle.Classifier, logger, metrics,
		pipeline.WithModelVersion(cfg.ModelVersion),
	)
	batcher := pipeline.NewBatcher(predictor, cfg.BatchWorkers, logger, metrics)

	// Persistence is optional: predictions still succeed without a store.
	var repo persistence.Repository
	var store *sqlite.Store
	if cfg.DatabasePath != "" {
		store, err = sqlite.Open(ctx, cfg.DatabasePath, logger)
		if err != nil {
			logger.Warn("prediction store unavailable, persistence disabled", "path", cfg.DatabasePath, "error", err)
		} else {
			repo = store
			logger.Info("prediction store opened", "path", cfg.DatabasePath)
		}
	} else {
		logger.Info("persistence disabled")
	}

	recorderOpts := []persistence.Option{}
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled {
		publisher = kafkaadapter.NewPublisher(cfg, logger)
		recorderOpts = append(recorderOpts, persistence.WithPublisher(publisher))
		logger.Info("prediction events enabled", "topic", cfg.KafkaPredictionsTopic, "brokers", cfg.KafkaBrokers)
	}
	recorder := persistence.NewRecorder(repo, logger, metrics, recorderOpts...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Predictor:      predictor,
		Batcher:        batcher,
		Recorder:       recorder,
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logger.Error("prediction store close error", "error", err)
		}
	}
	if err := bundle.Close(); err != nil {
		logger.Error("model close error", "error", err)
	}

	logger.Info("shutdown complete")
}
