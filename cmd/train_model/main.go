package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"rentpredict/config"
	"rentpredict/db"
	"rentpredict/logging"
	"rentpredict/ml"
	"rentpredict/pipeline"
)

const watchDebounce = 500 * time.Millisecond

type trainJob struct {
	dataPath     string
	artifactPath string
	dbPath       string
	opts         ml.TrainOptions
	logger       *zap.Logger
	out          io.Writer
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	dataPath := flag.String("data", "", "training dataset (.csv or .xlsx), overrides training.data_path")
	outPath := flag.String("out", "", "artifact output path, overrides model.path")
	dbPath := flag.String("db", "", "training run registry, overrides training.db_path; \"none\" disables it")
	watch := flag.Bool("watch", false, "retrain whenever the dataset file changes")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	job := &trainJob{
		dataPath:     override(*dataPath, cfg.Training.DataPath),
		artifactPath: override(*outPath, cfg.Model.Path),
		dbPath:       override(*dbPath, cfg.Training.DBPath),
		opts:         cfg.TrainOptions(),
		logger:       logger,
		out:          os.Stdout,
	}
	if job.dbPath == "none" {
		job.dbPath = ""
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := job.run(ctx); err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
	if !*watch {
		return
	}

	logger.Info("watching dataset", zap.String("path", job.dataPath))
	err = watchFile(ctx, job.dataPath, watchDebounce, func() {
		if _, err := job.run(ctx); err != nil {
			logger.Error("retraining failed", zap.Error(err))
		}
	})
	if err != nil {
		logger.Fatal("watch failed", zap.Error(err))
	}
}

func override(flagValue, configValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return configValue
}

// run trains from the dataset, saves the artifact, records the run and
// prints the locality labels the model was trained with.
func (j *trainJob) run(ctx context.Context) (*ml.TrainingReport, error) {
	records, stats, err := pipeline.LoadRecords(j.dataPath)
	if err != nil {
		return nil, err
	}
	j.logger.Info("dataset loaded",
		zap.String("path", stats.Path),
		zap.String("format", stats.Format),
		zap.Int("rows", stats.Rows),
		zap.Int("padded_rows", stats.PaddedRows),
		zap.Int("skipped_rows", stats.SkippedRows),
	)

	p, report, err := ml.Fit(records, j.opts)
	if report != nil {
		j.logQuality(report.Quality)
	}
	if err != nil {
		return report, fmt.Errorf("fit pipeline: %w", err)
	}
	if err := p.Save(j.artifactPath); err != nil {
		return report, fmt.Errorf("save artifact: %w", err)
	}
	j.logger.Info("model trained",
		zap.String("model_id", report.Metadata.ID),
		zap.String("artifact", j.artifactPath),
		zap.Int("training_rows", report.Metadata.TrainingRows),
		zap.Int("feature_width", report.Metadata.FeatureWidth),
		zap.Float64("train_rmse", report.Metadata.TrainRMSE),
		zap.Duration("duration", report.Duration),
	)

	if j.dbPath != "" {
		if err := j.record(ctx, report); err != nil {
			return report, err
		}
	}

	fmt.Fprintf(j.out, "Localities: %s\n", strings.Join(p.Localities().Labels(), ", "))
	return report, nil
}

func (j *trainJob) record(ctx context.Context, report *ml.TrainingReport) error {
	store, err := db.Open(j.dbPath)
	if err != nil {
		return fmt.Errorf("open training registry: %w", err)
	}
	defer store.Close()

	id, err := store.RecordTrainingRun(ctx, db.NewTrainingRun(report, j.dataPath, j.artifactPath))
	if err != nil {
		return err
	}
	j.logger.Info("training run recorded", zap.Int64("run_id", id), zap.String("db", j.dbPath))
	return nil
}

func (j *trainJob) logQuality(q ml.DataQualityReport) {
	fields := []zap.Field{
		zap.Int("total_rows", q.TotalRows),
		zap.Int("admitted", q.Admitted),
		zap.Int("floor_num_imputed", q.FloorNumImputed),
		zap.Int("total_floors_imputed", q.TotalFloorsImputed),
		zap.Float64("median_floor_num", q.MedianFloorNum),
		zap.Float64("median_total_floors", q.MedianTotalFloors),
	}
	for rule, n := range q.Rejected {
		fields = append(fields, zap.Int("rejected_"+rule, n))
	}
	j.logger.Info("data quality", fields...)
	for _, issue := range q.Issues {
		j.logger.Debug("data quality issue",
			zap.Int("row", issue.Row),
			zap.String("column", issue.Column),
			zap.String("value", issue.Value),
			zap.String("reason", issue.Reason),
		)
	}
}

// watchFile calls onChange once per burst of writes to path. The parent
// directory is watched so editors that replace the file are still seen.
func watchFile(ctx context.Context, path string, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return err
		case <-timer.C:
			onChange()
		}
	}
}
