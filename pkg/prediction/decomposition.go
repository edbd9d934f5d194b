package prediction

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// ComponentStrength measures how much of the observed variation each fitted
// component explains. Values are between 0 and 1, where 1 means very strong.
type ComponentStrength struct {
	Trend  float64 `json:"trend"`
	Daily  float64 `json:"daily"`
	Weekly float64 `json:"weekly"`
}

// Strength computes component strengths as 1 - Var(R) / Var(R + C) for each
// component C, with R the residual of the in-sample fit
func Strength(history []ForecastPoint, actual []float64) *ComponentStrength {
	n := len(history)
	if n == 0 || n != len(actual) {
		return &ComponentStrength{}
	}

	residual := make([]float64, n)
	for i, p := range history {
		residual[i] = actual[i] - p.Value
	}
	varResidual := stat.Variance(residual, nil)

	strength := func(component func(ForecastPoint) float64) float64 {
		combined := make([]float64, n)
		for i, p := range history {
			combined[i] = residual[i] + component(p)
		}
		v := stat.Variance(combined, nil)
		if v <= 0 {
			return 0
		}
		return math.Max(0, 1-varResidual/v)
	}

	return &ComponentStrength{
		Trend:  strength(func(p ForecastPoint) float64 { return p.Trend }),
		Daily:  strength(func(p ForecastPoint) float64 { return p.Daily }),
		Weekly: strength(func(p ForecastPoint) float64 { return p.Weekly }),
	}
}

// DominantPeriod returns the lag (in samples) of the strongest local
// autocorrelation peak above 0.3, or 1 when there is none
func DominantPeriod(data []float64, maxLag int) int {
	n := len(data)
	if n < 4 {
		return 1
	}
	if maxLag <= 0 || maxLag > n/2 {
		maxLag = n / 2
	}

	mean := stat.Mean(data, nil)
	var variance float64
	for _, v := range data {
		variance += (v - mean) * (v - mean)
	}
	if variance == 0 {
		return 1
	}

	acf := make([]float64, maxLag+2)
	for lag := 1; lag <= maxLag+1 && lag < n; lag++ {
		var sum float64
		for i := lag; i < n; i++ {
			sum += (data[i] - mean) * (data[i-lag] - mean)
		}
		acf[lag] = sum / variance
	}

	best, bestACF := 1, 0.3
	for lag := 2; lag <= maxLag; lag++ {
		if acf[lag] > acf[lag-1] && acf[lag] >= acf[lag+1] && acf[lag] > bestACF {
			best, bestACF = lag, acf[lag]
		}
	}
	return best
}
