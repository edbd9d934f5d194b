package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"restock-forecaster/pkg/cadence"
	"restock-forecaster/pkg/logger"
	"restock-forecaster/pkg/metrics"
	"restock-forecaster/pkg/models"
	"restock-forecaster/pkg/prediction"
	"restock-forecaster/pkg/series"
)

// MaxRecommendedHorizon is one week of hours. Longer horizons are accepted
// but extrapolate the weekly pattern past anything the model has seen twice.
const MaxRecommendedHorizon = 7 * 24

// Config controls a Runner
type Config struct {
	// Workers bounds concurrent retailer pipelines; 0 means runtime.NumCPU()
	Workers int

	// RetailerTimeout bounds one retailer's forecast; 0 means no limit
	RetailerTimeout time.Duration

	// MaxSeriesHours caps each retailer's hourly grid; 0 means
	// series.DefaultMaxHours
	MaxSeriesHours int

	// Forecast configures the model; nil means prediction.DefaultConfig()
	Forecast *prediction.Config
}

// Report is the outcome of one run. Every selected retailer appears in
// exactly one of Results and Errors.
type Report struct {
	Horizon  int
	Results  map[string]*prediction.ForecastResult
	Errors   map[string]error
	Profiles map[string]*cadence.Profile
	Duration time.Duration
}

// Runner regularizes, forecasts and profiles retailers independently
type Runner struct {
	config   Config
	analyzer *cadence.Analyzer
	log      *logger.Logger
	metrics  *metrics.PrometheusExporter

	// forecast is swapped in tests
	forecast func(s *series.Series, horizon int, config *prediction.Config) (*prediction.ForecastResult, error)
}

// Option customizes a Runner
type Option func(*Runner)

// WithLogger sets the runner's logger
func WithLogger(l *logger.Logger) Option {
	return func(r *Runner) { r.log = l }
}

// WithMetrics records run and retailer metrics into exporter
func WithMetrics(exporter *metrics.PrometheusExporter) Option {
	return func(r *Runner) { r.metrics = exporter }
}

// WithAnalyzer replaces the default cadence analyzer
func WithAnalyzer(a *cadence.Analyzer) Option {
	return func(r *Runner) { r.analyzer = a }
}

// NewRunner creates a runner
func NewRunner(config Config, opts ...Option) *Runner {
	if config.Forecast == nil {
		config.Forecast = prediction.DefaultConfig()
	}
	r := &Runner{
		config:   config,
		analyzer: cadence.NewAnalyzer(),
		log:      logger.NewNop(),
		forecast: prediction.Forecast,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run forecasts records for a fixed set of retailers and default settings
func Run(records []models.EventRecord, selected []string, horizon int) (*Report, error) {
	return NewRunner(Config{}).Run(context.Background(), records, selected, horizon)
}

// Run forecasts horizon hours for every selected retailer. An empty
// selection means every retailer present in records. Only an invalid
// horizon or configuration fails the run; everything else is recorded per
// retailer in the report.
func (r *Runner) Run(ctx context.Context, records []models.EventRecord, selected []string, horizon int) (*Report, error) {
	start := time.Now()

	if err := prediction.ValidateHorizon(horizon); err != nil {
		return nil, err
	}
	if err := r.config.Forecast.Validate(); err != nil {
		return nil, fmt.Errorf("invalid forecast config: %w", err)
	}
	if horizon > MaxRecommendedHorizon {
		r.log.Warnf("Horizon of %d hours exceeds the recommended maximum of %d", horizon, MaxRecommendedHorizon)
	}

	retailers := uniqueRetailers(selected)
	if len(retailers) == 0 {
		retailers = series.Retailers(records)
	}
	groups := groupByRetailer(records)

	report := &Report{
		Horizon:  horizon,
		Results:  make(map[string]*prediction.ForecastResult, len(retailers)),
		Errors:   make(map[string]error),
		Profiles: make(map[string]*cadence.Profile, len(retailers)),
	}
	var mu sync.Mutex

	workers := r.config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(retailers) {
		workers = len(retailers)
	}
	klog.V(2).Infof("Forecasting %d retailers with %d workers", len(retailers), workers)

	var g errgroup.Group
	g.SetLimit(max(workers, 1))

	for _, name := range retailers {
		name := name
		g.Go(func() error {
			out, err := r.processRetailer(ctx, name, groups[name], horizon)

			mu.Lock()
			defer mu.Unlock()
			if out.profile != nil {
				report.Profiles[name] = out.profile
			}
			if err != nil {
				report.Errors[name] = err
				return nil
			}
			report.Results[name] = out.result
			return nil
		})
	}
	_ = g.Wait()

	report.Duration = time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordRun(len(report.Results), len(report.Errors), report.Duration)
	}
	r.log.Infow("Run complete",
		"horizon", horizon,
		"succeeded", len(report.Results),
		"failed", len(report.Errors),
		"duration", report.Duration.String())

	return report, nil
}

// retailerOutcome is what one retailer's pipeline produced
type retailerOutcome struct {
	result  *prediction.ForecastResult
	profile *cadence.Profile
}

// processRetailer runs one retailer's pipeline. Panics are converted into
// the retailer's error.
func (r *Runner) processRetailer(ctx context.Context, name string, records []models.EventRecord, horizon int) (out retailerOutcome, err error) {
	log := r.log.WithRetailer(name)
	started := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			out.result, err = nil, &PanicError{Retailer: name, Value: rec, Stack: debug.Stack()}
		}
		if err != nil {
			log.WithError(err).Warnw("Retailer failed", "error_type", classifyError(err))
			if r.metrics != nil {
				r.metrics.RecordRetailerError(string(r.config.Forecast.Method), classifyError(err))
			}
		}
	}()

	if err := ctx.Err(); err != nil {
		return out, err
	}

	s, err := series.RegularizeWithLimit(records, name, r.config.MaxSeriesHours)
	if err != nil {
		return out, err
	}
	out.profile = r.analyzer.Analyze(s)

	result, err := r.forecastWithTimeout(ctx, s, horizon)
	if err != nil {
		return out, err
	}
	out.result = result
	out.profile.Project(result)

	elapsed := time.Since(started)
	if r.metrics != nil {
		r.metrics.RecordForecast(name, string(result.Method), s.Len(), result.NegativeCount(), result.ResidualStdErr, elapsed)
	}
	log.Infow("Forecast ready",
		"points", s.Len(),
		"method", result.Method,
		"negative", result.NegativeCount(),
		"pattern", out.profile.PatternType,
		"elapsed", elapsed.String())

	return out, nil
}

type forecastOutcome struct {
	result *prediction.ForecastResult
	err    error
}

// forecastWithTimeout runs the fit on its own goroutine so a stuck fit can
// be abandoned. The goroutine finishes in the background.
func (r *Runner) forecastWithTimeout(ctx context.Context, s *series.Series, horizon int) (*prediction.ForecastResult, error) {
	fitCtx := ctx
	if r.config.RetailerTimeout > 0 {
		var cancel context.CancelFunc
		fitCtx, cancel = context.WithTimeout(ctx, r.config.RetailerTimeout)
		defer cancel()
	}

	done := make(chan forecastOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- forecastOutcome{err: &PanicError{Retailer: s.Retailer, Value: rec, Stack: debug.Stack()}}
			}
		}()
		result, err := r.forecast(s, horizon, r.config.Forecast)
		done <- forecastOutcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-fitCtx.Done():
		// the run's own deadline or cancellation, not the retailer timeout
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, &prediction.ModelFitError{
			Retailer: s.Retailer,
			Points:   s.Len(),
			Reason:   fmt.Sprintf("fit did not finish within %s", r.config.RetailerTimeout),
			Err:      context.DeadlineExceeded,
		}
	}
}

func uniqueRetailers(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func groupByRetailer(records []models.EventRecord) map[string][]models.EventRecord {
	groups := make(map[string][]models.EventRecord)
	for _, rec := range records {
		groups[rec.Retailer] = append(groups[rec.Retailer], rec)
	}
	return groups
}

// Retailers returns every retailer in the report, sorted
func (r *Report) Retailers() []string {
	names := make([]string, 0, len(r.Results)+len(r.Errors))
	for name := range r.Results {
		names = append(names, name)
	}
	for name := range r.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Succeeded returns retailers with a forecast, sorted
func (r *Report) Succeeded() []string {
	return sortedKeys(r.Results)
}

// Failed returns retailers with an error, sorted
func (r *Report) Failed() []string {
	return sortedKeys(r.Errors)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
