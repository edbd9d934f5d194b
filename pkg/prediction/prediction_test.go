package prediction

import (
	"errors"
	"math"
	"testing"
	"time"

	"restock-forecaster/pkg/series"
)

// Test data generators

var monday = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

// generateRestockSeries builds an hourly series with a linear trend, a daily
// cosine peaking at peakHour and a weekend boost
func generateRestockSeries(n int, level, trend, dailyAmp float64, peakHour int, weekendBoost float64) *series.Series {
	s := &series.Series{Retailer: "test", Points: make([]series.Point, n)}
	for i := 0; i < n; i++ {
		ts := monday.Add(time.Duration(i) * time.Hour)
		v := level + trend*float64(i)
		v += dailyAmp * math.Cos(2*math.Pi*float64(ts.Hour()-peakHour)/24)
		if wd := ts.Weekday(); wd == time.Saturday || wd == time.Sunday {
			v += weekendBoost
		}
		if v < 0 {
			v = 0
		}
		s.Points[i] = series.Point{Timestamp: ts, Count: int(math.Round(v))}
	}
	return s
}

func constantSeries(n, count int) *series.Series {
	s := &series.Series{Retailer: "flat", Points: make([]series.Point, n)}
	for i := range s.Points {
		s.Points[i] = series.Point{Timestamp: monday.Add(time.Duration(i) * time.Hour), Count: count}
	}
	return s
}

// === Forecast contract ===

func TestForecast_LengthAndTimestamps(t *testing.T) {
	s := generateRestockSeries(14*24, 50, 0.01, 20, 10, 5)

	result, err := Forecast(s, 72, nil)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if len(result.Points) != s.Len()+72 {
		t.Fatalf("Expected %d points, got %d", s.Len()+72, len(result.Points))
	}
	if result.Retailer != "test" {
		t.Errorf("Expected retailer 'test', got '%s'", result.Retailer)
	}
	if result.Method != MethodSeasonalRegression {
		t.Errorf("Expected method %s, got %s", MethodSeasonalRegression, result.Method)
	}

	for i, p := range s.Points {
		if !result.Points[i].Timestamp.Equal(p.Timestamp) {
			t.Fatalf("Point %d: timestamp %s does not match series %s", i, result.Points[i].Timestamp, p.Timestamp)
		}
		if !result.Points[i].InSample {
			t.Fatalf("Point %d should be in-sample", i)
		}
	}

	for i := 1; i < len(result.Points); i++ {
		if d := result.Points[i].Timestamp.Sub(result.Points[i-1].Timestamp); d != time.Hour {
			t.Fatalf("Point %d: step %s, expected 1h", i, d)
		}
	}

	if len(result.History()) != s.Len() {
		t.Errorf("Expected %d history points, got %d", s.Len(), len(result.History()))
	}
	for _, p := range result.Forecasts() {
		if p.InSample {
			t.Fatal("Future point marked in-sample")
		}
		if p.Lower > p.Value || p.Upper < p.Value {
			t.Errorf("Interval [%.2f, %.2f] does not contain %.2f", p.Lower, p.Upper, p.Value)
		}
	}
}

func TestForecast_HorizonBoundaries(t *testing.T) {
	s := generateRestockSeries(7*24, 30, 0, 10, 18, 0)

	for _, horizon := range []int{1, 168} {
		result, err := Forecast(s, horizon, nil)
		if err != nil {
			t.Fatalf("horizon %d: Forecast failed: %v", horizon, err)
		}
		future := result.Forecasts()
		if len(future) != horizon {
			t.Fatalf("horizon %d: expected %d future points, got %d", horizon, horizon, len(future))
		}
		if !future[0].Timestamp.Equal(s.End().Add(time.Hour)) {
			t.Errorf("horizon %d: first future point %s, expected %s", horizon, future[0].Timestamp, s.End().Add(time.Hour))
		}
		if !future[horizon-1].Timestamp.Equal(s.End().Add(time.Duration(horizon) * time.Hour)) {
			t.Errorf("horizon %d: last future point %s misplaced", horizon, future[horizon-1].Timestamp)
		}
	}
}

func TestForecast_InvalidHorizon(t *testing.T) {
	s := generateRestockSeries(72, 30, 0, 10, 18, 0)

	for _, horizon := range []int{0, -1, -168} {
		_, err := Forecast(s, horizon, nil)
		var horizonErr *InvalidHorizonError
		if !errors.As(err, &horizonErr) {
			t.Fatalf("horizon %d: expected InvalidHorizonError, got %v", horizon, err)
		}
		if horizonErr.Horizon != horizon {
			t.Errorf("Expected horizon %d in error, got %d", horizon, horizonErr.Horizon)
		}
	}
}

func TestForecast_ModelFitErrors(t *testing.T) {
	tests := []struct {
		name   string
		series *series.Series
	}{
		{name: "constant zero series", series: constantSeries(200, 0)},
		{name: "constant non-zero series", series: constantSeries(200, 3)},
		{name: "single point", series: generateRestockSeries(1, 5, 0, 0, 0, 0)},
		{name: "47 points", series: generateRestockSeries(47, 30, 0, 10, 18, 0)},
		{name: "empty series", series: &series.Series{Retailer: "empty"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Forecast(tt.series, 24, nil)
			var fitErr *ModelFitError
			if !errors.As(err, &fitErr) {
				t.Fatalf("Expected ModelFitError, got %v", err)
			}
			if fitErr.Retailer != tt.series.Retailer {
				t.Errorf("Expected retailer %q in error, got %q", tt.series.Retailer, fitErr.Retailer)
			}
		})
	}
}

func TestForecast_MinimumLengthAccepted(t *testing.T) {
	s := generateRestockSeries(48, 30, 0, 10, 18, 0)
	if _, err := Forecast(s, 24, nil); err != nil {
		t.Fatalf("Expected 48 points to be accepted, got %v", err)
	}
}

func TestForecast_NegativeValuesNotClamped(t *testing.T) {
	// Steady decline: 200 restocks/hour falling by 2 per hour
	s := generateRestockSeries(96, 200, -2, 5, 12, 0)

	result, err := Forecast(s, 168, nil)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if result.NegativeCount() == 0 {
		t.Fatal("Expected negative predictions for a steadily declining series")
	}
	last := result.Points[len(result.Points)-1]
	if last.Value >= 0 {
		t.Errorf("Expected the final prediction to be negative, got %.2f", last.Value)
	}
}

// === Seasonal regression ===

func TestSeasonalRegression_RecoversDailyPattern(t *testing.T) {
	s := generateRestockSeries(14*24, 40, 0, 15, 10, 0)

	result, err := Forecast(s, 24, nil)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if result.ResidualStdErr > 1.5 {
		t.Errorf("Residual std err %.3f too large for a clean daily pattern", result.ResidualStdErr)
	}

	peak := result.Peak()
	if peak == nil {
		t.Fatal("Expected a peak forecast")
	}
	if h := peak.Timestamp.Hour(); h < 9 || h > 11 {
		t.Errorf("Expected the forecast peak near 10:00, got %02d:00", h)
	}

	if result.Strength == nil || result.Strength.Daily < 0.8 {
		t.Errorf("Expected strong daily component, got %+v", result.Strength)
	}
}

func TestSeasonalRegression_ComponentsSum(t *testing.T) {
	s := generateRestockSeries(10*24, 40, 0.05, 15, 20, 8)

	result, err := Forecast(s, 48, nil)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	for i, p := range result.Points {
		sum := p.Trend + p.Daily + p.Weekly
		if math.Abs(sum-p.Value) > 1e-9 {
			t.Fatalf("Point %d: components sum to %.6f, value %.6f", i, sum, p.Value)
		}
	}
}

func TestSeasonalRegression_PredictWithoutFit(t *testing.T) {
	sr := NewSeasonalRegression(DefaultConfig())

	if _, err := sr.Predict(12); err == nil {
		t.Error("Expected error when predicting without fitting")
	}
}

func TestSeasonalRegression_MismatchedInput(t *testing.T) {
	sr := NewSeasonalRegression(DefaultConfig())

	err := sr.Fit(make([]time.Time, 3), make([]float64, 4))
	if err == nil {
		t.Error("Expected error for mismatched timestamps and values")
	}
}

// === Holt-Winters ===

func TestHoltWinters_FitPredict(t *testing.T) {
	config := DefaultConfig()
	config.Method = MethodHoltWinters

	s := generateRestockSeries(7*24, 50, 0, 20, 14, 0)
	result, err := Forecast(s, 24, config)
	if err != nil {
		t.Fatalf("Forecast failed: %v", err)
	}

	if result.Method != MethodHoltWinters {
		t.Errorf("Expected method 'holt-winters', got '%s'", result.Method)
	}
	if len(result.Points) != s.Len()+24 {
		t.Errorf("Expected %d points, got %d", s.Len()+24, len(result.Points))
	}

	dataMin, dataMax := findMinMax(s.Values())
	for _, p := range result.Forecasts() {
		if p.Weekly != 0 {
			t.Fatalf("Holt-Winters should not produce a weekly component, got %.2f", p.Weekly)
		}
		// Allow some margin for extrapolation
		if p.Value < dataMin-20 || p.Value > dataMax+20 {
			t.Errorf("Forecast %.2f seems unreasonable (data range: %.2f - %.2f)", p.Value, dataMin, dataMax)
		}
	}
}

func TestHoltWinters_Parameters(t *testing.T) {
	config := DefaultConfig()
	config.Method = MethodHoltWinters

	hw := NewHoltWinters(config)
	s := generateRestockSeries(5*24, 50, 0.2, 20, 14, 0)
	if err := hw.Fit(s.Timestamps(), s.Values()); err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	alpha, beta, gamma := hw.Parameters()
	if alpha <= 0 || alpha >= 1 {
		t.Errorf("Alpha should be in (0,1), got %.4f", alpha)
	}
	if beta <= 0 || beta >= 1 {
		t.Errorf("Beta should be in (0,1), got %.4f", beta)
	}
	if gamma <= 0 || gamma >= 1 {
		t.Errorf("Gamma should be in (0,1), got %.4f", gamma)
	}
}

func TestHoltWinters_InsufficientSeasons(t *testing.T) {
	config := DefaultConfig()
	config.Method = MethodHoltWinters
	config.SeasonalPeriod = 48

	s := generateRestockSeries(72, 50, 0, 20, 14, 0)
	_, err := Forecast(s, 24, config)

	var fitErr *ModelFitError
	if !errors.As(err, &fitErr) {
		t.Fatalf("Expected ModelFitError, got %v", err)
	}
}

func TestHoltWinters_PredictWithoutFit(t *testing.T) {
	hw := NewHoltWinters(DefaultConfig())

	if _, err := hw.Predict(12); err == nil {
		t.Error("Expected error when predicting without fitting")
	}
}

// === Config ===

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(c *Config) {}, wantErr: false},
		{name: "holt-winters", mutate: func(c *Config) { c.Method = MethodHoltWinters }, wantErr: false},
		{name: "unknown method", mutate: func(c *Config) { c.Method = "prophet" }, wantErr: true},
		{name: "min points too low", mutate: func(c *Config) { c.MinDataPoints = 1 }, wantErr: true},
		{name: "negative order", mutate: func(c *Config) { c.DailyOrder = -1 }, wantErr: true},
		{name: "changepoint range zero", mutate: func(c *Config) { c.ChangepointRange = 0 }, wantErr: true},
		{name: "zero prior scale", mutate: func(c *Config) { c.SeasonalityPriorScale = 0 }, wantErr: true},
		{name: "confidence of one", mutate: func(c *Config) { c.ConfidenceLevel = 1 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// === Decomposition helpers ===

func TestDominantPeriod(t *testing.T) {
	s := generateRestockSeries(10*24, 40, 0, 15, 6, 0)

	period := DominantPeriod(s.Values(), 48)
	if period != 24 {
		t.Errorf("Expected dominant period 24, got %d", period)
	}

	if p := DominantPeriod([]float64{1, 1, 1, 1, 1, 1}, 0); p != 1 {
		t.Errorf("Expected period 1 for constant data, got %d", p)
	}
}

func TestStrength_MismatchedLengths(t *testing.T) {
	st := Strength([]ForecastPoint{{Value: 1}}, []float64{1, 2})
	if st.Trend != 0 || st.Daily != 0 || st.Weekly != 0 {
		t.Errorf("Expected zero strengths, got %+v", st)
	}
}

func TestForecastResult_PeakAndNegativeCount(t *testing.T) {
	result := &ForecastResult{
		Horizon: 3,
		Points: []ForecastPoint{
			{Value: 9, InSample: true},
			{Value: -1, InSample: true},
			{Value: 2},
			{Value: 7},
			{Value: -0.5},
		},
	}

	peak := result.Peak()
	if peak == nil || peak.Value != 7 {
		t.Errorf("Expected future peak 7, got %+v", peak)
	}
	if n := result.NegativeCount(); n != 2 {
		t.Errorf("Expected 2 negative points, got %d", n)
	}
}

func BenchmarkSeasonalRegression_Fit(b *testing.B) {
	s := generateRestockSeries(30*24, 40, 0.01, 15, 10, 5)
	ts, values := s.Timestamps(), s.Values()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		sr := NewSeasonalRegression(DefaultConfig())
		_ = sr.Fit(ts, values)
	}
}

func findMinMax(data []float64) (min, max float64) {
	min, max = data[0], data[0]
	for _, v := range data[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}
