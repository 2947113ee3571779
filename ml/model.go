package ml

// Regressor maps transformed feature vectors to the log-scale target. Any
// implementation can back a Pipeline as long as Predict is safe for
// concurrent use once Fit has returned.
type Regressor interface {
	Kind() string
	Fit(features [][]float64, targets []float64) error
	Predict(features [][]float64) ([]float64, error)
}
