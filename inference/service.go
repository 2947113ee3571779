package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	json "github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"rentpredict/ml"
)

// Response is the documented serving result. Err keeps the cause for the
// transport layer and is never serialized.
type Response struct {
	Success       bool    `json:"success"`
	PredictedRent float64 `json:"predicted_rent,omitempty"`
	Error         string  `json:"error,omitempty"`
	Err           error   `json:"-"`
}

func (r Response) MarshalJSON() ([]byte, error) {
	if r.Success {
		return json.Marshal(struct {
			Success       bool    `json:"success"`
			PredictedRent float64 `json:"predicted_rent"`
		}{true, r.PredictedRent})
	}
	return json.Marshal(struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
	}{false, r.Error})
}

func Success(rent float64) Response {
	return Response{Success: true, PredictedRent: rent}
}

func Failure(err error) Response {
	return Response{Error: err.Error(), Err: err}
}

// Info describes the loaded model for the /api/model route.
type Info struct {
	Metadata       ml.Metadata `json:"metadata"`
	Columns        []string    `json:"columns"`
	RequiredFields []string    `json:"required_fields"`
	FeatureNames   []string    `json:"feature_names"`
	Localities     []string    `json:"localities"`
}

// Option configures a Service.
type Option func(*Service) error

// WithCache memoizes predictions for up to size distinct engineered records.
func WithCache(size int) Option {
	return func(s *Service) error {
		if size <= 0 {
			return nil
		}
		cache, err := lru.New[ml.EngineeredRecord, float64](size)
		if err != nil {
			return fmt.Errorf("create prediction cache: %w", err)
		}
		s.cache = cache
		return nil
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) error {
		if logger != nil {
			s.logger = logger
		}
		return nil
	}
}

// Service answers single-record rent predictions from one immutable
// pipeline. It is safe for concurrent use.
type Service struct {
	pipeline *ml.Pipeline
	columns  []string
	cache    *lru.Cache[ml.EngineeredRecord, float64]
	logger   *zap.Logger
}

func NewService(p *ml.Pipeline, opts ...Option) (*Service, error) {
	if p == nil || p.Preprocessor() == nil {
		return nil, ml.ErrNotFitted
	}
	s := &Service{
		pipeline: p,
		columns:  ml.ModelColumns(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Engineer validates raw and builds the record the pipeline consumes.
func (s *Service) Engineer(raw map[string]any) (ml.EngineeredRecord, error) {
	req, err := ParseRequest(raw)
	if err != nil {
		return ml.EngineeredRecord{}, err
	}
	return req.Record(s.pipeline.Localities()), nil
}

// Predict returns the rent on the original scale rounded to 2 decimals.
func (s *Service) Predict(ctx context.Context, raw map[string]any) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	record, err := s.Engineer(raw)
	if err != nil {
		return 0, err
	}
	if s.cache != nil {
		if rent, ok := s.cache.Get(record); ok {
			return rent, nil
		}
	}

	logRent, err := s.pipeline.Predict(record)
	if err != nil {
		return 0, fmt.Errorf("predict: %w", err)
	}
	rent := roundCents(ml.InverseLogTarget(logRent))
	if math.IsNaN(rent) || math.IsInf(rent, 0) {
		return 0, errors.New("prediction is not finite")
	}

	if s.cache != nil {
		s.cache.Add(record, rent)
	}
	return rent, nil
}

// PredictRent wraps Predict in the response shape. It never panics.
func (s *Service) PredictRent(ctx context.Context, raw map[string]any) (resp Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("prediction panicked", zap.Any("panic", r))
			resp = Failure(fmt.Errorf("internal error: %v", r))
		}
	}()

	rent, err := s.Predict(ctx, raw)
	if err != nil {
		if !IsValidation(err) {
			s.logger.Warn("prediction failed", zap.Error(err))
		}
		return Failure(err)
	}
	return Success(rent)
}

func (s *Service) Columns() []string {
	return append([]string(nil), s.columns...)
}

// Localities returns the bucket labels the model knows, Other first.
func (s *Service) Localities() []string {
	return s.pipeline.Localities().Labels()
}

func (s *Service) Info() Info {
	return Info{
		Metadata:       s.pipeline.Metadata(),
		Columns:        s.Columns(),
		RequiredFields: RequiredFields(),
		FeatureNames:   s.pipeline.Preprocessor().FeatureNames(),
		Localities:     s.Localities(),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
