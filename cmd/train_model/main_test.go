package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"rentpredict/db"
	"rentpredict/ml"
)

func writeDataset(t *testing.T, path string, rows int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Posted On,BHK,Rent,Size,Floor,Area Type,Area Locality,City,Furnishing Status,Tenant Preferred,Bathroom,Point of Contact\n")
	for i := 0; i < rows; i++ {
		size := 450 + (i%10)*90
		fmt.Fprintf(&b, "2022-05-18,%d,%d,%d,%d out of 4,Super Area,Locality %d,Kolkata,Semi-Furnished,Bachelors,%d,Contact Owner\n",
			1+i%3, size*12+i, size, i%5, i%4, 1+i%2)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}
}

func testJob(t *testing.T) (*trainJob, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()
	out := &bytes.Buffer{}
	job := &trainJob{
		dataPath:     filepath.Join(dir, "rent.csv"),
		artifactPath: filepath.Join(dir, "models", "rent.json"),
		dbPath:       filepath.Join(dir, "runs.db"),
		opts: ml.TrainOptions{
			TopLocalities: 2,
			Boosting:      ml.BoostingParams{NumTrees: 10, MinSamplesLeaf: 5},
		},
		logger: zap.NewNop(),
		out:    out,
	}
	writeDataset(t, job.dataPath, 60)
	return job, out
}

func TestTrainJobRun(t *testing.T) {
	job, out := testJob(t)

	report, err := job.run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Quality.TotalRows != 60 || report.Metadata.TrainingRows != 60 {
		t.Fatalf("unexpected report: %+v", report.Quality)
	}

	p, err := ml.LoadPipeline(job.artifactPath)
	if err != nil {
		t.Fatalf("artifact not loadable: %v", err)
	}
	if p.Metadata().ID != report.Metadata.ID {
		t.Fatalf("artifact id %q, want %q", p.Metadata().ID, report.Metadata.ID)
	}

	if !strings.HasPrefix(out.String(), "Localities: Other, Locality ") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	store, err := db.Open(job.dbPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()
	run, err := store.LatestTrainingRun(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ModelID != report.Metadata.ID || run.ArtifactPath != job.artifactPath {
		t.Fatalf("unexpected run: %+v", run)
	}
}

func TestTrainJobNoUsableRows(t *testing.T) {
	job, _ := testJob(t)
	if err := os.WriteFile(job.dataPath, []byte("BHK,Rent,Size,Bathroom\n1,5000,20,1\n"), 0o644); err != nil {
		t.Fatalf("failed to write dataset: %v", err)
	}

	report, err := job.run(context.Background())
	if !errors.Is(err, ml.ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData, got %v", err)
	}
	if report == nil || report.Quality.Rejected[ml.RuleMinSize] != 1 {
		t.Fatalf("expected quality report, got %+v", report)
	}
	if _, err := os.Stat(job.artifactPath); !os.IsNotExist(err) {
		t.Fatal("no artifact should be written")
	}
}

func TestWatchFileDebounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rent.csv")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan struct{}, 4)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 150*time.Millisecond, func() { changes <- struct{}{} })
	}()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf("v%d", i+2)), 0o644); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "other.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	select {
	case <-changes:
	case <-time.After(3 * time.Second):
		t.Fatal("expected a change notification")
	}
	select {
	case <-changes:
		t.Fatal("expected writes to be debounced into one notification")
	case <-time.After(450 * time.Millisecond):
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
