package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run results
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailure = "failure"
)

// PrometheusExporter records forecasting batch metrics. Every exporter owns
// its registry, so a batch can be flushed to a node-exporter textfile
// without touching the default registry.
type PrometheusExporter struct {
	registry *prometheus.Registry

	// Run metrics
	RunsTotal         *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	RetailersSelected prometheus.Gauge
	LastRunTimestamp  prometheus.Gauge

	// Per-retailer pipeline metrics
	RetailerForecasts   *prometheus.CounterVec
	RetailerErrors      *prometheus.CounterVec
	FitDuration         *prometheus.HistogramVec
	SeriesPoints        *prometheus.GaugeVec
	ResidualStdErr      *prometheus.GaugeVec
	NegativePredictions *prometheus.GaugeVec

	// Ingest metrics
	RecordsIngested *prometheus.CounterVec
	RowsSkipped     *prometheus.CounterVec

	// Selection metrics
	RuleEvaluations *prometheus.CounterVec
}

// NewPrometheusExporter creates an exporter registering into registry, or
// into a fresh registry when registry is nil
func NewPrometheusExporter(namespace string, registry *prometheus.Registry) *PrometheusExporter {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &PrometheusExporter{
		registry: registry,

		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Total number of forecast runs by result (success/partial/failure)",
			},
			[]string{"result"},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of a complete forecast run in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
		),
		RetailersSelected: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "retailers_selected",
				Help:      "Number of retailers selected in the last run",
			},
		),
		LastRunTimestamp: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
		),

		RetailerForecasts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retailer_forecasts_total",
				Help:      "Total number of per-retailer forecasts by result (success/failure)",
			},
			[]string{"method", "result"},
		),
		RetailerErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retailer_errors_total",
				Help:      "Total number of per-retailer failures by error type",
			},
			[]string{"error_type"},
		),
		FitDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fit_duration_seconds",
				Help:      "Time spent fitting and predicting one retailer",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		SeriesPoints: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "series_points",
				Help:      "Length of the regularized hourly series per retailer",
			},
			[]string{"retailer"},
		),
		ResidualStdErr: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "residual_std_err",
				Help:      "In-sample residual standard deviation per retailer",
			},
			[]string{"retailer"},
		),
		NegativePredictions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "negative_predictions",
				Help:      "Number of predicted points below zero per retailer",
			},
			[]string{"retailer"},
		),

		RecordsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_ingested_total",
				Help:      "Total number of event records loaded by source format",
			},
			[]string{"format"},
		),
		RowsSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_skipped_total",
				Help:      "Total number of invalid input rows skipped by source format",
			},
			[]string{"format"},
		),

		RuleEvaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "selection_rule_evaluations_total",
				Help:      "Total number of selection rule matches by rule and action",
			},
			[]string{"rule", "action"},
		),
	}
}

// Registry returns the registry the exporter's metrics live in
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// RecordRun records a finished run
func (e *PrometheusExporter) RecordRun(succeeded, failed int, duration time.Duration) {
	result := ResultSuccess
	switch {
	case succeeded == 0 && failed > 0:
		result = ResultFailure
	case failed > 0:
		result = ResultPartial
	}
	e.RunsTotal.WithLabelValues(result).Inc()
	e.RunDuration.Observe(duration.Seconds())
	e.RetailersSelected.Set(float64(succeeded + failed))
	e.LastRunTimestamp.SetToCurrentTime()
}

// RecordForecast records a successful retailer forecast
func (e *PrometheusExporter) RecordForecast(retailer, method string, points, negatives int, stdErr float64, duration time.Duration) {
	e.RetailerForecasts.WithLabelValues(method, ResultSuccess).Inc()
	e.FitDuration.WithLabelValues(method).Observe(duration.Seconds())
	e.SeriesPoints.WithLabelValues(retailer).Set(float64(points))
	e.ResidualStdErr.WithLabelValues(retailer).Set(stdErr)
	e.NegativePredictions.WithLabelValues(retailer).Set(float64(negatives))
}

// RecordRetailerError records a failed retailer forecast
func (e *PrometheusExporter) RecordRetailerError(method, errorType string) {
	e.RetailerForecasts.WithLabelValues(method, ResultFailure).Inc()
	e.RetailerErrors.WithLabelValues(errorType).Inc()
}

// RecordIngest records loaded and skipped rows for a source format
func (e *PrometheusExporter) RecordIngest(format string, records, skipped int) {
	e.RecordsIngested.WithLabelValues(format).Add(float64(records))
	e.RowsSkipped.WithLabelValues(format).Add(float64(skipped))
}

// RecordRuleMatch records a selection rule that matched a retailer
func (e *PrometheusExporter) RecordRuleMatch(rule, action string) {
	e.RuleEvaluations.WithLabelValues(rule, action).Inc()
}

// WriteToTextfile writes every metric in the exporter's registry to path in
// the Prometheus text format, for the node-exporter textfile collector
func (e *PrometheusExporter) WriteToTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile %s: %w", path, err)
	}
	return nil
}
