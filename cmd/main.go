package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"rentpredict/config"
	rhttp "rentpredict/http"
	"rentpredict/inference"
	"rentpredict/logging"
	"rentpredict/ml"
	"rentpredict/monitoring"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (default config.yaml when present)")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		var loadErr *ml.ArtifactLoadError
		if errors.As(err, &loadErr) {
			logger.Fatal("model artifact unusable",
				zap.String("path", loadErr.Path),
				zap.String("reason", loadErr.Reason),
				zap.Error(loadErr.Err),
			)
		}
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("exiting")
}

func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return "config.yaml"
	}
	return ""
}

// newServer loads the artifact once and wires the serving stack. It fails
// before anything listens when the artifact is unusable.
func newServer(cfg *config.Config, logger *zap.Logger) (*rhttp.Server, error) {
	pipeline, err := ml.LoadPipeline(cfg.Model.Path)
	if err != nil {
		return nil, err
	}
	meta := pipeline.Metadata()
	logger.Info("model loaded",
		zap.String("path", cfg.Model.Path),
		zap.String("model_id", meta.ID),
		zap.Int("feature_width", meta.FeatureWidth),
		zap.Int("localities", pipeline.Localities().Len()),
	)

	svc, err := inference.NewService(pipeline,
		inference.WithCache(cfg.Model.CacheSize),
		inference.WithLogger(logger.Named("inference")),
	)
	if err != nil {
		return nil, err
	}
	metrics := monitoring.NewMetrics()
	metrics.SetModel(meta.ID, meta.Regressor)
	return rhttp.NewServer(cfg.HTTP, svc, logger.Named("http"), metrics), nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	server, err := newServer(cfg, logger)
	if err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() { errs <- server.Start() }()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	return server.Stop(shutdownCtx)
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.HTTP.ShutdownTimeout > 0 {
		return cfg.HTTP.ShutdownTimeout
	}
	return 5 * time.Second
}
