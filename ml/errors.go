package ml

import (
	"errors"
	"fmt"
)

var (
	// ErrArtifactLoad marks every failure to restore a persisted pipeline.
	ErrArtifactLoad = errors.New("artifact load failed")
	// ErrNoTrainingData is returned when cleaning leaves nothing to fit on.
	ErrNoTrainingData = errors.New("no usable training rows")
	// ErrNotFitted is returned by components used before Fit.
	ErrNotFitted = errors.New("model not fitted")
)

// ArtifactLoadError describes why a persisted pipeline could not be restored.
// A service must refuse to start when it sees one.
type ArtifactLoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *ArtifactLoadError) Error() string {
	msg := fmt.Sprintf("load artifact %q: %s", e.Path, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ArtifactLoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrArtifactLoad}
	}
	return []error{ErrArtifactLoad, e.Err}
}

func artifactError(path, reason string, err error) error {
	return &ArtifactLoadError{Path: path, Reason: reason, Err: err}
}

// DataQualityError is a training-time anomaly in one input row. It is
// recorded in the DataQualityReport and never aborts training.
type DataQualityError struct {
	Row    int    `json:"row"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value,omitempty"`
	Reason string `json:"reason"`
}

func (e *DataQualityError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d: %s %q: %s", e.Row, e.Column, e.Value, e.Reason)
}
