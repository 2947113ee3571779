package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"rentpredict/ml"
)

// ErrNoRuns is returned by LatestTrainingRun on an empty registry.
var ErrNoRuns = errors.New("no training runs recorded")

const schema = `
    CREATE TABLE IF NOT EXISTS training_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_id VARCHAR(36) NOT NULL UNIQUE,
        regressor VARCHAR(50) NOT NULL,
        data_path TEXT NOT NULL,
        artifact_path TEXT NOT NULL,
        total_rows INTEGER NOT NULL,
        training_rows INTEGER NOT NULL,
        feature_width INTEGER NOT NULL,
        top_localities INTEGER NOT NULL,
        train_rmse REAL NOT NULL,
        duration_ms INTEGER NOT NULL,
        quality TEXT NOT NULL,
        trained_at INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_training_runs_trained_at ON training_runs(trained_at);
`

// TrainingRun is one completed training invocation.
type TrainingRun struct {
	ID            int64                `json:"id"`
	ModelID       string               `json:"model_id"`
	Regressor     string               `json:"regressor"`
	DataPath      string               `json:"data_path"`
	ArtifactPath  string               `json:"artifact_path"`
	TotalRows     int                  `json:"total_rows"`
	TrainingRows  int                  `json:"training_rows"`
	FeatureWidth  int                  `json:"feature_width"`
	TopLocalities int                  `json:"top_localities"`
	TrainRMSE     float64              `json:"train_rmse"`
	Duration      time.Duration        `json:"duration"`
	Quality       ml.DataQualityReport `json:"quality"`
	TrainedAt     time.Time            `json:"trained_at"`
}

// NewTrainingRun flattens a training report for storage.
func NewTrainingRun(report *ml.TrainingReport, dataPath, artifactPath string) TrainingRun {
	return TrainingRun{
		ModelID:       report.Metadata.ID,
		Regressor:     report.Metadata.Regressor,
		DataPath:      dataPath,
		ArtifactPath:  artifactPath,
		TotalRows:     report.Quality.TotalRows,
		TrainingRows:  report.Metadata.TrainingRows,
		FeatureWidth:  report.Metadata.FeatureWidth,
		TopLocalities: report.Metadata.TopLocalities,
		TrainRMSE:     report.Metadata.TrainRMSE,
		Duration:      report.Duration,
		Quality:       report.Quality,
		TrainedAt:     report.Metadata.CreatedAt,
	}
}

// Store is the SQLite training run registry.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}
	database, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	database.SetMaxOpenConns(1)
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: database}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordTrainingRun inserts run and returns its row id.
func (s *Store) RecordTrainingRun(ctx context.Context, run TrainingRun) (int64, error) {
	quality, err := json.Marshal(run.Quality)
	if err != nil {
		return 0, fmt.Errorf("encode quality report: %w", err)
	}
	if run.TrainedAt.IsZero() {
		run.TrainedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
        INSERT INTO training_runs (model_id, regressor, data_path, artifact_path, total_rows,
            training_rows, feature_width, top_localities, train_rmse, duration_ms, quality, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, run.ModelID, run.Regressor, run.DataPath, run.ArtifactPath, run.TotalRows,
		run.TrainingRows, run.FeatureWidth, run.TopLocalities, run.TrainRMSE,
		run.Duration.Milliseconds(), string(quality), run.TrainedAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert training run: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) LatestTrainingRun(ctx context.Context) (*TrainingRun, error) {
	runs, err := s.ListTrainingRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrNoRuns
	}
	return &runs[0], nil
}

// ListTrainingRuns returns up to limit runs, newest first.
func (s *Store) ListTrainingRuns(ctx context.Context, limit int) ([]TrainingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, model_id, regressor, data_path, artifact_path, total_rows, training_rows,
            feature_width, top_localities, train_rmse, duration_ms, quality, trained_at
        FROM training_runs
        ORDER BY trained_at DESC, id DESC
        LIMIT ?
    `, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := make([]TrainingRun, 0)
	for rows.Next() {
		var (
			run        TrainingRun
			durationMS int64
			quality    string
			trainedAt  int64
		)
		if err := rows.Scan(&run.ID, &run.ModelID, &run.Regressor, &run.DataPath, &run.ArtifactPath,
			&run.TotalRows, &run.TrainingRows, &run.FeatureWidth, &run.TopLocalities, &run.TrainRMSE,
			&durationMS, &quality, &trainedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(quality), &run.Quality); err != nil {
			return nil, fmt.Errorf("decode quality report for run %d: %w", run.ID, err)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		run.TrainedAt = time.UnixMilli(trainedAt).UTC()
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
