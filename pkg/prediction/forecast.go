package prediction

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"restock-forecaster/pkg/series"
)

// Forecast fits the configured model to a regularized series and predicts
// its observed range plus horizon future hours. The series is trusted to be
// a contiguous hourly grid; nothing fitted is kept after the call returns.
func Forecast(s *series.Series, horizon int, config *Config) (*ForecastResult, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := ValidateHorizon(horizon); err != nil {
		return nil, err
	}
	if s == nil {
		return nil, &ModelFitError{Reason: "series is empty"}
	}
	if s.Len() == 0 {
		return nil, &ModelFitError{Retailer: s.Retailer, Reason: "series is empty"}
	}

	predictor, err := NewPredictor(config)
	if err != nil {
		return nil, fmt.Errorf("invalid forecast config: %w", err)
	}

	values := s.Values()
	if err := predictor.Fit(s.Timestamps(), values); err != nil {
		return nil, withRetailer(err, s.Retailer, s.Len())
	}

	result, err := predictor.Predict(horizon)
	if err != nil {
		return nil, withRetailer(err, s.Retailer, s.Len())
	}

	result.Retailer = s.Retailer
	result.Strength = Strength(result.History(), values)
	return result, nil
}

// withRetailer tags fit errors with the retailer; anything that is not
// already a ModelFitError becomes one
func withRetailer(err error, retailer string, points int) error {
	var fitErr *ModelFitError
	if errors.As(err, &fitErr) {
		fitErr.Retailer = retailer
		return fitErr
	}
	return &ModelFitError{Retailer: retailer, Points: points, Reason: "fit failed", Err: err}
}

// checkFitInput rejects series too short or too flat to fit
func checkFitInput(values []float64, minPoints int) error {
	n := len(values)
	if n < minPoints {
		return &ModelFitError{
			Points: n,
			Reason: fmt.Sprintf("insufficient data: need at least %d hourly points", minPoints),
		}
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ModelFitError{Points: n, Reason: fmt.Sprintf("non-finite value at index %d", i)}
		}
	}
	if stat.Variance(values, nil) == 0 {
		return &ModelFitError{Points: n, Reason: "series is constant (zero variance)"}
	}
	return nil
}
