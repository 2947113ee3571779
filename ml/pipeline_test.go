package ml

import (
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var testTrainOptions = TrainOptions{
	TopLocalities: 5,
	Boosting:      BoostingParams{NumTrees: 40, LearningRate: 0.2, MaxDepth: 4, MinSamplesLeaf: 3},
}

func fitTestPipeline(t *testing.T) (*Pipeline, *TrainingReport) {
	t.Helper()
	p, report, err := Fit(sampleRecords(240), testTrainOptions)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p, report
}

func testRecord(p *Pipeline) EngineeredRecord {
	return EngineeredRecord{
		BHK: 2, Size: 900, Bathroom: 2, FloorNum: 3, TotalFloors: 3,
		AreaType: "Super Area", City: "Kolkata", FurnishingStatus: "Furnished",
		TenantPreferred: "Bachelors", AreaLocalitySimple: p.Localities().Bucket("Locality 1"),
	}.WithFloorFlags()
}

func TestFitPredict(t *testing.T) {
	p, report := fitTestPipeline(t)

	if report.Metadata.TrainingRows != 240 || report.Quality.Admitted != 240 {
		t.Fatalf("unexpected report: %+v", report.Metadata)
	}
	if report.Metadata.ID == "" || report.Metadata.Regressor != KindGradientBoosting {
		t.Fatalf("unexpected metadata: %+v", report.Metadata)
	}
	if p.Localities().Len() != 5 {
		t.Fatalf("expected 5 localities, got %d", p.Localities().Len())
	}
	if report.Metadata.TrainRMSE <= 0 || report.Metadata.TrainRMSE > 0.5 {
		t.Fatalf("unexpected training RMSE: %v", report.Metadata.TrainRMSE)
	}

	logRent, err := p.Predict(testRecord(p))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rent := InverseLogTarget(logRent)
	if rent <= 0 || math.IsNaN(rent) {
		t.Fatalf("expected positive rent, got %v", rent)
	}
}

func TestFitRejectsEmptyBatch(t *testing.T) {
	_, report, err := Fit([]RawRecord{{ColSize: "10"}}, TrainOptions{})
	if !errors.Is(err, ErrNoTrainingData) {
		t.Fatalf("expected ErrNoTrainingData, got %v", err)
	}
	if report == nil || report.Quality.TotalRows != 1 {
		t.Fatalf("expected quality report, got %+v", report)
	}
}

func TestPipelineSaveLoadRoundTrip(t *testing.T) {
	p, _ := fitTestPipeline(t)
	path := filepath.Join(t.TempDir(), "models", "rent.json")
	if err := p.Save(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadPipeline(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	got, want := loaded.Metadata(), p.Metadata()
	if got.ID != want.ID || !got.CreatedAt.Equal(want.CreatedAt) || got.TrainingRows != want.TrainingRows || got.TrainRMSE != want.TrainRMSE {
		t.Fatalf("metadata changed: %+v vs %+v", got, want)
	}
	if loaded.Localities().Len() != p.Localities().Len() {
		t.Fatal("locality vocabulary changed")
	}

	records := []EngineeredRecord{testRecord(p)}
	other := testRecord(p)
	other.City = "Atlantis"
	other.AreaLocalitySimple = OtherLocality
	records = append(records, other)

	before, err := p.PredictBatch(records)
	if err != nil {
		t.Fatal(err)
	}
	after, err := loaded.PredictBatch(records)
	if err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if after[i] != before[i] {
			t.Fatalf("prediction %d changed after reload: %v vs %v", i, after[i], before[i])
		}
	}
}

func TestLoadPipelineErrors(t *testing.T) {
	p, _ := fitTestPipeline(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := p.Save(good); err != nil {
		t.Fatal(err)
	}
	payload, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}

	mutate := func(t *testing.T, name string, fn func(map[string]any)) string {
		t.Helper()
		var doc map[string]any
		if err := json.Unmarshal(payload, &doc); err != nil {
			t.Fatal(err)
		}
		fn(doc)
		out, err := json.Marshal(doc)
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, out, 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	corrupt := filepath.Join(dir, "corrupt.json")
	if err := os.WriteFile(corrupt, payload[:len(payload)/2], 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		path   string
		reason string
	}{
		{"missing", filepath.Join(dir, "absent.json"), "not found"},
		{"corrupt", corrupt, "corrupt"},
		{"version", mutate(t, "version.json", func(d map[string]any) { d["format_version"] = 99 }), "format version"},
		{"columns", mutate(t, "columns.json", func(d map[string]any) {
			cols := d["columns"].([]any)
			cols[0], cols[1] = cols[1], cols[0]
		}), "columns mismatch"},
		{"kind", mutate(t, "kind.json", func(d map[string]any) {
			d["regressor"].(map[string]any)["kind"] = "neural_net"
		}), "unsupported regressor"},
		{"width", mutate(t, "width.json", func(d map[string]any) {
			state := d["regressor"].(map[string]any)["state"].(map[string]any)
			state["width"] = 3
		}), "invalid regressor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPipeline(tt.path)
			var loadErr *ArtifactLoadError
			if !errors.As(err, &loadErr) {
				t.Fatalf("expected ArtifactLoadError, got %v", err)
			}
			if !errors.Is(err, ErrArtifactLoad) {
				t.Fatal("expected ErrArtifactLoad sentinel")
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Fatalf("error %q does not mention %q", err, tt.reason)
			}
		})
	}
}

func TestSaveUnfittedPipeline(t *testing.T) {
	var p *Pipeline
	if err := p.Save(filepath.Join(t.TempDir(), "x.json")); err != ErrNotFitted {
		t.Fatalf("expected ErrNotFitted, got %v", err)
	}
}
