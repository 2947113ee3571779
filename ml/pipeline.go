package ml

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// TrainOptions configures Fit. Zero values take defaults.
type TrainOptions struct {
	MinSize       float64
	TopLocalities int
	Boosting      BoostingParams
	// Regressor overrides the default GradientBoosting when set.
	Regressor Regressor
}

// Metadata describes a fitted pipeline and travels inside its artifact.
type Metadata struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	Regressor     string    `json:"regressor"`
	TrainingRows  int       `json:"training_rows"`
	FeatureWidth  int       `json:"feature_width"`
	TopLocalities int       `json:"top_localities"`
	TrainRMSE     float64   `json:"train_rmse"`
}

// TrainingReport is returned by Fit for logging and run bookkeeping.
type TrainingReport struct {
	Quality  DataQualityReport `json:"quality"`
	Metadata Metadata          `json:"metadata"`
	Duration time.Duration     `json:"duration"`
}

// Pipeline is a fitted Preprocessor and Regressor plus the locality
// vocabulary they were trained with. It is never mutated after Fit or
// LoadPipeline returns.
type Pipeline struct {
	preprocessor *Preprocessor
	regressor    Regressor
	localities   *LocalityVocabulary
	metadata     Metadata
}

// Fit engineers features from raw rows, buckets localities, fits the
// preprocessor and trains the regressor on Rent_Log.
func Fit(records []RawRecord, opts TrainOptions) (*Pipeline, *TrainingReport, error) {
	start := time.Now()

	engineer := NewEngineer()
	if opts.MinSize > 0 {
		engineer.MinSize = opts.MinSize
	}
	set, err := engineer.Build(records)
	if err != nil {
		return nil, &TrainingReport{Quality: set.Report}, err
	}

	topK := opts.TopLocalities
	if topK <= 0 {
		topK = DefaultTopLocalities
	}
	localities := FitLocalities(set.Localities, topK)
	set.ApplyLocalities(localities)

	preprocessor, err := FitPreprocessor(set.Records)
	if err != nil {
		return nil, nil, fmt.Errorf("fit preprocessor: %w", err)
	}
	features := preprocessor.TransformBatch(set.Records)

	regressor := opts.Regressor
	if regressor == nil {
		regressor = NewGradientBoosting(opts.Boosting)
	}
	if err := regressor.Fit(features, set.Target); err != nil {
		return nil, nil, fmt.Errorf("fit regressor: %w", err)
	}

	fitted, err := regressor.Predict(features)
	if err != nil {
		return nil, nil, fmt.Errorf("score training rows: %w", err)
	}

	p := &Pipeline{
		preprocessor: preprocessor,
		regressor:    regressor,
		localities:   localities,
		metadata: Metadata{
			ID:            uuid.NewString(),
			CreatedAt:     time.Now().UTC(),
			Regressor:     regressor.Kind(),
			TrainingRows:  len(set.Records),
			FeatureWidth:  preprocessor.Width(),
			TopLocalities: topK,
			TrainRMSE:     rmse(fitted, set.Target),
		},
	}
	report := &TrainingReport{
		Quality:  set.Report,
		Metadata: p.metadata,
		Duration: time.Since(start),
	}
	return p, report, nil
}

// Predict returns the log-scale prediction for one record.
func (p *Pipeline) Predict(record EngineeredRecord) (float64, error) {
	out, err := p.PredictBatch([]EngineeredRecord{record})
	if err != nil {
		return 0, err
	}
	return out[0], nil
}

func (p *Pipeline) PredictBatch(records []EngineeredRecord) ([]float64, error) {
	if p == nil || p.preprocessor == nil || p.regressor == nil {
		return nil, ErrNotFitted
	}
	out, err := p.regressor.Predict(p.preprocessor.TransformBatch(records))
	if err != nil {
		return nil, err
	}
	if len(out) != len(records) {
		return nil, errors.New("regressor returned wrong number of predictions")
	}
	return out, nil
}

func (p *Pipeline) Localities() *LocalityVocabulary { return p.localities }

func (p *Pipeline) Preprocessor() *Preprocessor { return p.preprocessor }

func (p *Pipeline) Metadata() Metadata { return p.metadata }

func rmse(predicted, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	total := 0.0
	for i := range actual {
		diff := predicted[i] - actual[i]
		total += diff * diff
	}
	return math.Sqrt(total / float64(len(actual)))
}
