package prediction

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// HoltWinters implements additive triple exponential smoothing:
//
//	Level:    L_t = α(Y_t - S_{t-m}) + (1-α)(L_{t-1} + T_{t-1})
//	Trend:    T_t = β(L_t - L_{t-1}) + (1-β)T_{t-1}
//	Seasonal: S_t = γ(Y_t - L_t) + (1-γ)S_{t-m}
//
//	Forecast: F_{t+h} = L_t + h*T_t + S_{t-m+h}
//
// Only one season (SeasonalPeriod hours, daily by default) is modelled, so
// the weekly component of its results is always zero.
type HoltWinters struct {
	config *Config

	alpha float64
	beta  float64
	gamma float64

	// Final smoothing state after the last observation
	level     float64
	trend     float64
	seasonals []float64

	timestamps []time.Time
	fitted     []ForecastPoint
	stdErr     float64

	isFitted bool
}

// smoothingState is one pass worth of level/trend/seasonal state
type smoothingState struct {
	level     float64
	trend     float64
	seasonals []float64
}

var (
	alphaGrid = []float64{0.1, 0.3, 0.5, 0.7, 0.9}
	betaGrid  = []float64{0.01, 0.05, 0.1, 0.2}
	gammaGrid = []float64{0.05, 0.1, 0.2, 0.4}
)

// NewHoltWinters creates a Holt-Winters predictor
func NewHoltWinters(config *Config) *HoltWinters {
	return &HoltWinters{config: config}
}

// Name returns the predictor's method name
func (hw *HoltWinters) Name() Method {
	return MethodHoltWinters
}

// Fit grid-searches the smoothing parameters by in-sample SSE and runs the
// final pass with the best ones
func (hw *HoltWinters) Fit(timestamps []time.Time, values []float64) error {
	if len(timestamps) != len(values) {
		return fmt.Errorf("timestamps and values must have the same length: %d != %d", len(timestamps), len(values))
	}
	if err := checkFitInput(values, hw.config.MinDataPoints); err != nil {
		return err
	}

	m := hw.config.SeasonalPeriod
	if len(values) < 2*m {
		return &ModelFitError{
			Points: len(values),
			Reason: fmt.Sprintf("need at least two seasons (%d points)", 2*m),
		}
	}

	bestSSE := math.Inf(1)
	for _, a := range alphaGrid {
		for _, b := range betaGrid {
			for _, g := range gammaGrid {
				_, sse := hw.smooth(values, a, b, g, nil)
				if sse < bestSSE {
					bestSSE = sse
					hw.alpha, hw.beta, hw.gamma = a, b, g
				}
			}
		}
	}

	fitted := make([]float64, len(values))
	final, _ := hw.smooth(values, hw.alpha, hw.beta, hw.gamma, fitted)
	hw.level = final.level
	hw.trend = final.trend
	hw.seasonals = final.seasonals

	hw.timestamps = append([]time.Time(nil), timestamps...)
	hw.fitted = make([]ForecastPoint, len(values))
	residuals := make([]float64, len(values))
	for i, ts := range timestamps {
		seasonal := final.history[i]
		hw.fitted[i] = ForecastPoint{
			Timestamp: ts,
			Value:     fitted[i],
			Trend:     fitted[i] - seasonal,
			Daily:     seasonal,
			InSample:  true,
		}
		residuals[i] = values[i] - fitted[i]
	}
	hw.stdErr = stat.StdDev(residuals, nil)

	hw.isFitted = true
	return nil
}

// smoothResult carries the final state plus the seasonal term used for each
// one-step-ahead fitted value
type smoothResult struct {
	smoothingState
	history []float64
}

// smooth runs one pass over data and returns the final state and the SSE of
// the one-step-ahead fitted values. fitted is filled when non-nil.
func (hw *HoltWinters) smooth(data []float64, alpha, beta, gamma float64, fitted []float64) (smoothResult, float64) {
	state := hw.initialState(data)
	m := len(state.seasonals)
	history := make([]float64, len(data))

	var sse float64
	for t, y := range data {
		idx := t % m
		forecast := state.level + state.trend + state.seasonals[idx]
		if fitted != nil {
			fitted[t] = forecast
		}
		history[t] = state.seasonals[idx]
		if t >= m {
			sse += (y - forecast) * (y - forecast)
		}

		prevLevel := state.level
		state.level = alpha*(y-state.seasonals[idx]) + (1-alpha)*(state.level+state.trend)
		state.trend = beta*(state.level-prevLevel) + (1-beta)*state.trend
		state.seasonals[idx] = gamma*(y-state.level) + (1-gamma)*state.seasonals[idx]
	}

	return smoothResult{smoothingState: state, history: history}, sse
}

// initialState takes the level from the first season, the trend from the
// change between the first two seasons and centred seasonal offsets
func (hw *HoltWinters) initialState(data []float64) smoothingState {
	m := hw.config.SeasonalPeriod

	first := stat.Mean(data[:m], nil)
	second := stat.Mean(data[m:2*m], nil)

	seasonals := make([]float64, m)
	for i := 0; i < m; i++ {
		seasonals[i] = data[i] - first
	}
	// Centre so the offsets sum to zero
	avg := stat.Mean(seasonals, nil)
	for i := range seasonals {
		seasonals[i] -= avg
	}

	return smoothingState{
		level:     first,
		trend:     (second - first) / float64(m),
		seasonals: seasonals,
	}
}

// Predict returns the in-sample fit followed by horizon future hours
func (hw *HoltWinters) Predict(horizon int) (*ForecastResult, error) {
	if !hw.isFitted {
		return nil, fmt.Errorf("model not fitted: call Fit() first")
	}
	if err := ValidateHorizon(horizon); err != nil {
		return nil, err
	}

	n := len(hw.timestamps)
	m := len(hw.seasonals)
	z := distuv.UnitNormal.Quantile(0.5 + hw.config.ConfidenceLevel/2)

	points := make([]ForecastPoint, 0, n+horizon)
	for _, fp := range hw.fitted {
		fp.Lower = fp.Value - z*hw.stdErr
		fp.Upper = fp.Value + z*hw.stdErr
		points = append(points, fp)
	}

	last := hw.timestamps[n-1]
	for h := 1; h <= horizon; h++ {
		trend := hw.level + float64(h)*hw.trend
		seasonal := hw.seasonals[(n+h-1)%m]
		value := trend + seasonal
		width := z * hw.stdErr * math.Sqrt(float64(h))

		points = append(points, ForecastPoint{
			Timestamp: last.Add(time.Duration(h) * time.Hour),
			Value:     value,
			Lower:     value - width,
			Upper:     value + width,
			Trend:     trend,
			Daily:     seasonal,
		})
	}

	return &ForecastResult{
		Method:          hw.Name(),
		Horizon:         horizon,
		Points:          points,
		ResidualStdErr:  hw.stdErr,
		ConfidenceLevel: hw.config.ConfidenceLevel,
	}, nil
}

// Parameters returns the selected smoothing parameters
func (hw *HoltWinters) Parameters() (alpha, beta, gamma float64) {
	return hw.alpha, hw.beta, hw.gamma
}
