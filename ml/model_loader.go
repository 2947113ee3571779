package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

const artifactFormatVersion = 1

// artifact is the single persisted unit: preprocessing state and trained
// model always travel together.
type artifact struct {
	FormatVersion int               `json:"format_version"`
	Metadata      Metadata          `json:"metadata"`
	Columns       []string          `json:"columns"`
	Localities    []string          `json:"localities"`
	Preprocessor  PreprocessorState `json:"preprocessor"`
	Regressor     regressorEnvelope `json:"regressor"`
}

type regressorEnvelope struct {
	Kind  string          `json:"kind"`
	State json.RawMessage `json:"state"`
}

// Save writes the pipeline to path, replacing any previous artifact in one
// rename so readers never observe a partial file.
func (p *Pipeline) Save(path string) error {
	if p == nil || p.preprocessor == nil || p.regressor == nil {
		return ErrNotFitted
	}
	state, err := json.Marshal(p.regressor)
	if err != nil {
		return fmt.Errorf("encode regressor: %w", err)
	}
	payload, err := json.Marshal(artifact{
		FormatVersion: artifactFormatVersion,
		Metadata:      p.metadata,
		Columns:       ModelColumns(),
		Localities:    p.localities.Top(),
		Preprocessor:  p.preprocessor.State(),
		Regressor:     regressorEnvelope{Kind: p.regressor.Kind(), State: state},
	})
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod artifact: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

// LoadPipeline restores a pipeline written by Save. Every failure is an
// *ArtifactLoadError.
func LoadPipeline(path string) (*Pipeline, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, artifactError(path, "artifact not found", err)
	}
	if err != nil {
		return nil, artifactError(path, "read failed", err)
	}

	var a artifact
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, artifactError(path, "corrupt artifact", err)
	}
	if a.FormatVersion != artifactFormatVersion {
		return nil, artifactError(path, fmt.Sprintf("unsupported format version %d", a.FormatVersion), nil)
	}
	if !slices.Equal(a.Columns, ModelColumns()) {
		return nil, artifactError(path, fmt.Sprintf("model columns mismatch: %v", a.Columns), nil)
	}

	preprocessor, err := RestorePreprocessor(a.Preprocessor)
	if err != nil {
		return nil, artifactError(path, "invalid preprocessor", err)
	}
	regressor, err := restoreRegressor(a.Regressor, preprocessor.Width())
	if err != nil {
		return nil, artifactError(path, "invalid regressor", err)
	}

	return &Pipeline{
		preprocessor: preprocessor,
		regressor:    regressor,
		localities:   NewLocalityVocabulary(a.Localities),
		metadata:     a.Metadata,
	}, nil
}

func restoreRegressor(envelope regressorEnvelope, width int) (Regressor, error) {
	switch envelope.Kind {
	case KindGradientBoosting:
		model := &GradientBoosting{}
		if err := json.Unmarshal(envelope.State, model); err != nil {
			return nil, err
		}
		if err := model.validate(width); err != nil {
			return nil, err
		}
		return model, nil
	default:
		return nil, fmt.Errorf("unsupported regressor kind %q", envelope.Kind)
	}
}
