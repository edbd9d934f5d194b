package prediction

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	hoursPerDay  = 24
	hoursPerWeek = 7 * 24

	// unpenalized columns still get a tiny ridge so the normal equations stay
	// positive definite
	jitter = 1e-8
)

// SeasonalRegression models an hourly series as
//
//	y(t) = trend(t) + daily(t) + weekly(t) + noise
//
// The trend is piecewise linear with hinge changepoints spread over the
// leading part of history. Both seasonal terms are truncated Fourier series
// anchored to wall-clock hours, so the fitted shape carries past the
// observed window. All coefficients are solved in one penalized least
// squares system; changepoint and Fourier coefficients are shrunk towards
// zero according to their prior scales.
type SeasonalRegression struct {
	config *Config

	// Time axis: t = hours since start / span
	start time.Time
	span  float64

	// Values are divided by scale before fitting
	scale float64

	changepoints []float64
	coef         []float64

	timestamps []time.Time
	values     []float64
	fitted     []ForecastPoint
	stdErr     float64

	isFitted bool
}

// NewSeasonalRegression creates a seasonal regression predictor
func NewSeasonalRegression(config *Config) *SeasonalRegression {
	return &SeasonalRegression{config: config}
}

// Name returns the predictor's method name
func (sr *SeasonalRegression) Name() Method {
	return MethodSeasonalRegression
}

// Fit estimates trend and seasonal coefficients
func (sr *SeasonalRegression) Fit(timestamps []time.Time, values []float64) error {
	if len(timestamps) != len(values) {
		return fmt.Errorf("timestamps and values must have the same length: %d != %d", len(timestamps), len(values))
	}
	if err := checkFitInput(values, sr.config.MinDataPoints); err != nil {
		return err
	}

	n := len(values)
	sr.timestamps = append([]time.Time(nil), timestamps...)
	sr.values = append([]float64(nil), values...)
	sr.start = timestamps[0]
	sr.span = timestamps[n-1].Sub(sr.start).Hours()

	sr.scale = 0
	for _, v := range values {
		sr.scale = math.Max(sr.scale, math.Abs(v))
	}

	sr.changepoints = sr.placeChangepoints()

	p := sr.numFeatures()
	design := mat.NewDense(n, p, nil)
	row := make([]float64, p)
	for i, ts := range timestamps {
		sr.features(ts, row)
		design.SetRow(i, row)
	}

	scaled := make([]float64, n)
	for i, v := range values {
		scaled[i] = v / sr.scale
	}

	coef, err := solvePenalized(design, scaled, sr.penalties())
	if err != nil {
		return &ModelFitError{Points: n, Reason: "penalized least squares did not converge", Err: err}
	}
	sr.coef = coef

	sr.fitted = make([]ForecastPoint, n)
	residuals := make([]float64, n)
	for i, ts := range timestamps {
		sr.fitted[i] = sr.evaluate(ts)
		sr.fitted[i].InSample = true
		residuals[i] = values[i] - sr.fitted[i].Value
	}
	sr.stdErr = stat.StdDev(residuals, nil)

	sr.isFitted = true
	return nil
}

// Predict returns the in-sample fit followed by horizon future hours
func (sr *SeasonalRegression) Predict(horizon int) (*ForecastResult, error) {
	if !sr.isFitted {
		return nil, fmt.Errorf("model not fitted: call Fit() first")
	}
	if err := ValidateHorizon(horizon); err != nil {
		return nil, err
	}

	n := len(sr.timestamps)
	z := distuv.UnitNormal.Quantile(0.5 + sr.config.ConfidenceLevel/2)

	points := make([]ForecastPoint, 0, n+horizon)
	for _, fp := range sr.fitted {
		fp.Lower = fp.Value - z*sr.stdErr
		fp.Upper = fp.Value + z*sr.stdErr
		points = append(points, fp)
	}

	last := sr.timestamps[n-1]
	for h := 1; h <= horizon; h++ {
		fp := sr.evaluate(last.Add(time.Duration(h) * time.Hour))
		// Trend uncertainty grows with distance from the observed window
		width := z * sr.stdErr * math.Sqrt(1+float64(h)/float64(n))
		fp.Lower = fp.Value - width
		fp.Upper = fp.Value + width
		points = append(points, fp)
	}

	return &ForecastResult{
		Method:          sr.Name(),
		Horizon:         horizon,
		Points:          points,
		ResidualStdErr:  sr.stdErr,
		ConfidenceLevel: sr.config.ConfidenceLevel,
	}, nil
}

// placeChangepoints spreads changepoints evenly over the first
// ChangepointRange of the observed timestamps
func (sr *SeasonalRegression) placeChangepoints() []float64 {
	n := len(sr.timestamps)
	history := int(math.Floor(float64(n) * sr.config.ChangepointRange))
	count := sr.config.ChangepointCount
	if count > history-1 {
		count = history - 1
	}
	if count <= 0 {
		return nil
	}

	cps := make([]float64, count)
	for j := 1; j <= count; j++ {
		idx := int(math.Round(float64(j) * float64(history-1) / float64(count)))
		cps[j-1] = sr.scaledTime(sr.timestamps[idx])
	}
	return cps
}

func (sr *SeasonalRegression) numFeatures() int {
	return 2 + len(sr.changepoints) + 2*sr.config.DailyOrder + 2*sr.config.WeeklyOrder
}

// penalties returns the ridge weight of every column: intercept and slope
// are free, changepoint deltas and Fourier terms are shrunk
func (sr *SeasonalRegression) penalties() []float64 {
	cpPenalty := 1 / (sr.config.ChangepointPriorScale * sr.config.ChangepointPriorScale)
	seasonPenalty := 1 / (sr.config.SeasonalityPriorScale * sr.config.SeasonalityPriorScale)

	penalties := make([]float64, 0, sr.numFeatures())
	penalties = append(penalties, jitter, jitter)
	for range sr.changepoints {
		penalties = append(penalties, cpPenalty)
	}
	for i := 0; i < 2*(sr.config.DailyOrder+sr.config.WeeklyOrder); i++ {
		penalties = append(penalties, seasonPenalty)
	}
	return penalties
}

func (sr *SeasonalRegression) scaledTime(ts time.Time) float64 {
	if sr.span == 0 {
		return 0
	}
	return ts.Sub(sr.start).Hours() / sr.span
}

// features fills row with the design-matrix row for ts
func (sr *SeasonalRegression) features(ts time.Time, row []float64) {
	t := sr.scaledTime(ts)
	row[0] = 1
	row[1] = t

	col := 2
	for _, cp := range sr.changepoints {
		row[col] = math.Max(0, t-cp)
		col++
	}

	hour := wallClockHours(ts)
	col = fourierTerms(hour, hoursPerDay, sr.config.DailyOrder, row, col)
	fourierTerms(hour, hoursPerWeek, sr.config.WeeklyOrder, row, col)
}

// evaluate computes the prediction and its components at ts
func (sr *SeasonalRegression) evaluate(ts time.Time) ForecastPoint {
	row := make([]float64, sr.numFeatures())
	sr.features(ts, row)

	trendEnd := 2 + len(sr.changepoints)
	dailyEnd := trendEnd + 2*sr.config.DailyOrder

	var trend, daily, weekly float64
	for j, x := range row {
		contribution := x * sr.coef[j] * sr.scale
		switch {
		case j < trendEnd:
			trend += contribution
		case j < dailyEnd:
			daily += contribution
		default:
			weekly += contribution
		}
	}

	return ForecastPoint{
		Timestamp: ts,
		Value:     trend + daily + weekly,
		Trend:     trend,
		Daily:     daily,
		Weekly:    weekly,
	}
}

// wallClockHours returns hours since the Unix epoch in the timestamp's own
// zone, so Fourier phases follow local hour-of-day and day-of-week
func wallClockHours(ts time.Time) float64 {
	_, offset := ts.Zone()
	return float64(ts.Unix()+int64(offset)) / 3600
}

// fourierTerms writes sin/cos pairs of the given order starting at col and
// returns the next free column
func fourierTerms(hour, period float64, order int, row []float64, col int) int {
	for k := 1; k <= order; k++ {
		x := 2 * math.Pi * float64(k) * hour / period
		row[col] = math.Sin(x)
		row[col+1] = math.Cos(x)
		col += 2
	}
	return col
}

// solvePenalized minimizes ||y - Xb||^2 + sum(penalty_j * b_j^2)
func solvePenalized(x *mat.Dense, y []float64, penalty []float64) ([]float64, error) {
	_, p := x.Dims()

	var xtx mat.SymDense
	xtx.SymOuterK(1, x.T())
	for j := 0; j < p; j++ {
		xtx.SetSym(j, j, xtx.At(j, j)+penalty[j])
	}

	var xty mat.VecDense
	xty.MulVec(x.T(), mat.NewVecDense(len(y), y))

	var chol mat.Cholesky
	if ok := chol.Factorize(&xtx); !ok {
		return nil, fmt.Errorf("normal equations are not positive definite")
	}

	var coef mat.VecDense
	if err := chol.SolveVecTo(&coef, &xty); err != nil {
		return nil, err
	}

	out := make([]float64, p)
	for j := range out {
		out[j] = coef.AtVec(j)
	}
	return out, nil
}
