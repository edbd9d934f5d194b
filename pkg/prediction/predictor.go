package prediction

import (
	"fmt"
	"time"
)

// ForecastPoint is one hourly prediction. Value is never clamped, so a
// declining trend can produce negative restock counts.
type ForecastPoint struct {
	Timestamp time.Time `json:"timestamp"`

	// Value is the predicted restock count
	Value float64 `json:"predicted_count"`

	// Lower and Upper bound the prediction interval at ConfidenceLevel
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`

	// Additive components, Value = Trend + Daily + Weekly
	Trend  float64 `json:"trend"`
	Daily  float64 `json:"daily"`
	Weekly float64 `json:"weekly"`

	// InSample is true for timestamps covered by the observed series
	InSample bool `json:"in_sample"`
}

// ForecastResult is the forecast curve for a single retailer
type ForecastResult struct {
	Retailer string `json:"retailer"`
	Method   Method `json:"method"`

	// Horizon is the number of future hours appended after the last observation
	Horizon int `json:"horizon_hours"`

	// Points covers the observed range followed by Horizon future hours
	Points []ForecastPoint `json:"points"`

	// ResidualStdErr is the in-sample residual standard deviation
	ResidualStdErr float64 `json:"residual_std_err"`

	ConfidenceLevel float64 `json:"confidence_level"`

	// Strength of each component over the observed range
	Strength *ComponentStrength `json:"strength,omitempty"`
}

// Method names a forecasting model
type Method string

const (
	// MethodSeasonalRegression fits a changepoint trend plus daily and weekly
	// Fourier terms by penalized least squares
	MethodSeasonalRegression Method = "seasonal-regression"

	// MethodHoltWinters uses additive triple exponential smoothing
	MethodHoltWinters Method = "holt-winters"
)

// Predictor is the interface for hourly restock forecasting models
type Predictor interface {
	// Fit trains the model on an hourly series
	Fit(timestamps []time.Time, values []float64) error

	// Predict returns the in-sample fit followed by horizon future hours
	Predict(horizon int) (*ForecastResult, error)

	// Name returns the predictor's method name
	Name() Method
}

// Config contains configuration for forecasting
type Config struct {
	// Method selects the model
	Method Method `yaml:"method"`

	// MinDataPoints is the minimum series length accepted by Fit.
	// 48 hourly points = two full days.
	MinDataPoints int `yaml:"min_data_points"`

	// DailyOrder and WeeklyOrder are the Fourier orders of the seasonal terms
	DailyOrder  int `yaml:"daily_order"`
	WeeklyOrder int `yaml:"weekly_order"`

	// ChangepointCount is the maximum number of trend changepoints
	ChangepointCount int `yaml:"changepoint_count"`

	// ChangepointRange is the leading fraction of history eligible for changepoints
	ChangepointRange float64 `yaml:"changepoint_range"`

	// ChangepointPriorScale controls trend flexibility (smaller = stiffer)
	ChangepointPriorScale float64 `yaml:"changepoint_prior_scale"`

	// SeasonalityPriorScale controls seasonal flexibility
	SeasonalityPriorScale float64 `yaml:"seasonality_prior_scale"`

	// SeasonalPeriod is the Holt-Winters season length in hours
	SeasonalPeriod int `yaml:"seasonal_period"`

	// ConfidenceLevel for prediction intervals (default: 0.8)
	ConfidenceLevel float64 `yaml:"confidence_level"`
}

// DefaultConfig returns default forecasting configuration
func DefaultConfig() *Config {
	return &Config{
		Method:                MethodSeasonalRegression,
		MinDataPoints:         48,
		DailyOrder:            4,
		WeeklyOrder:           3,
		ChangepointCount:      25,
		ChangepointRange:      0.8,
		ChangepointPriorScale: 0.05,
		SeasonalityPriorScale: 10,
		SeasonalPeriod:        24,
		ConfidenceLevel:       0.8,
	}
}

// Validate checks the configuration for values the models cannot use
func (c *Config) Validate() error {
	switch c.Method {
	case MethodSeasonalRegression, MethodHoltWinters:
	default:
		return fmt.Errorf("unknown forecast method %q", c.Method)
	}
	if c.MinDataPoints < 2 {
		return fmt.Errorf("min_data_points must be at least 2, got %d", c.MinDataPoints)
	}
	if c.DailyOrder < 0 || c.WeeklyOrder < 0 {
		return fmt.Errorf("fourier orders must be non-negative")
	}
	if c.ChangepointCount < 0 {
		return fmt.Errorf("changepoint_count must be non-negative, got %d", c.ChangepointCount)
	}
	if c.ChangepointRange <= 0 || c.ChangepointRange > 1 {
		return fmt.Errorf("changepoint_range must be in (0, 1], got %.2f", c.ChangepointRange)
	}
	if c.ChangepointPriorScale <= 0 || c.SeasonalityPriorScale <= 0 {
		return fmt.Errorf("prior scales must be positive")
	}
	if c.Method == MethodHoltWinters && c.SeasonalPeriod < 2 {
		return fmt.Errorf("seasonal_period must be at least 2, got %d", c.SeasonalPeriod)
	}
	if c.ConfidenceLevel <= 0 || c.ConfidenceLevel >= 1 {
		return fmt.Errorf("confidence_level must be in (0, 1), got %.2f", c.ConfidenceLevel)
	}
	return nil
}

// NewPredictor returns the predictor selected by config.Method
func NewPredictor(config *Config) (Predictor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	switch config.Method {
	case MethodHoltWinters:
		return NewHoltWinters(config), nil
	default:
		return NewSeasonalRegression(config), nil
	}
}

// History returns the in-sample part of the curve
func (r *ForecastResult) History() []ForecastPoint {
	return r.Points[:len(r.Points)-r.Horizon]
}

// Forecasts returns the future part of the curve
func (r *ForecastResult) Forecasts() []ForecastPoint {
	return r.Points[len(r.Points)-r.Horizon:]
}

// NegativeCount returns how many points predict fewer than zero restocks
func (r *ForecastResult) NegativeCount() int {
	count := 0
	for _, p := range r.Points {
		if p.Value < 0 {
			count++
		}
	}
	return count
}

// Peak returns the future point with the highest predicted count
func (r *ForecastResult) Peak() *ForecastPoint {
	future := r.Forecasts()
	if len(future) == 0 {
		return nil
	}

	peak := &future[0]
	for i := range future {
		if future[i].Value > peak.Value {
			peak = &future[i]
		}
	}
	return peak
}

// Summary returns a human-readable summary of the forecast result
func (r *ForecastResult) Summary() string {
	peak := r.Peak()
	if peak == nil {
		return fmt.Sprintf("%s: no forecasts generated", r.Retailer)
	}
	return fmt.Sprintf("%s: %d hours ahead via %s, peak %.2f at %s, residual std err %.3f",
		r.Retailer, r.Horizon, r.Method, peak.Value,
		peak.Timestamp.Format("2006-01-02 15:04"), r.ResidualStdErr)
}
