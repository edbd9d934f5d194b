// Package config loads forecaster settings from defaults, a YAML file and
// RESTOCK_* environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
	"unicode/utf8"

	"gopkg.in/yaml.v2"

	"restock-forecaster/pkg/cadence"
	"restock-forecaster/pkg/export"
	"restock-forecaster/pkg/ingest"
	"restock-forecaster/pkg/logger"
	"restock-forecaster/pkg/pipeline"
	"restock-forecaster/pkg/prediction"
	"restock-forecaster/pkg/series"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "RESTOCK_"

// DefaultHorizonHours is the forecast length when none is configured
const DefaultHorizonHours = 72

// Config holds all forecaster settings
type Config struct {
	Input     InputConfig     `yaml:"input"`
	Selection SelectionConfig `yaml:"selection"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Cadence   CadenceConfig   `yaml:"cadence"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// InputConfig describes the event file
type InputConfig struct {
	Path        string         `yaml:"path"`
	Columns     ingest.Columns `yaml:"columns"`
	TimeLayouts []string       `yaml:"time_layouts"`

	// Location is an IANA zone name applied to timestamps without an offset
	Location    string `yaml:"location"`
	SkipInvalid bool   `yaml:"skip_invalid"`
	Sheet       string `yaml:"sheet"`
	Delimiter   string `yaml:"delimiter"`
}

// SelectionConfig chooses the retailers to forecast
type SelectionConfig struct {
	// Retailers lists retailers explicitly; empty means all of them
	Retailers []string `yaml:"retailers"`

	// RulesFile is an optional YAML rule set filtering the selection
	RulesFile string `yaml:"rules_file"`
}

// ForecastConfig holds the horizon and model parameters
type ForecastConfig struct {
	HorizonHours      int `yaml:"horizon_hours"`
	prediction.Config `yaml:",inline"`
}

// PipelineConfig controls concurrency
type PipelineConfig struct {
	Workers         int           `yaml:"workers"`
	RetailerTimeout time.Duration `yaml:"retailer_timeout"`

	// MaxSeriesHours rejects retailers whose events span more hourly slots,
	// which catches mistyped years before a huge grid is built
	MaxSeriesHours int `yaml:"max_series_hours"`
}

// CadenceConfig adds watch windows evaluated for every retailer
type CadenceConfig struct {
	Windows []cadence.WindowSpec `yaml:"windows"`
}

// OutputConfig describes where the forecast table goes
type OutputConfig struct {
	// Path is the output file; empty writes CSV to stdout
	Path       string `yaml:"path"`
	Format     string `yaml:"format"`
	FutureOnly bool   `yaml:"future_only"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig configures the Prometheus textfile output
type MetricsConfig struct {
	// Textfile is written after the run when set
	Textfile  string `yaml:"textfile"`
	Namespace string `yaml:"namespace"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Input: InputConfig{
			Columns:     ingest.DefaultOptions().Columns,
			TimeLayouts: append([]string(nil), ingest.DefaultLayouts...),
			Location:    "UTC",
			Delimiter:   ",",
		},
		Forecast: ForecastConfig{
			HorizonHours: DefaultHorizonHours,
			Config:       *prediction.DefaultConfig(),
		},
		Pipeline: PipelineConfig{
			MaxSeriesHours: series.DefaultMaxHours,
		},
		Output: OutputConfig{
			Format: string(export.FormatCSV),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Namespace: "restock",
		},
	}
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides settings from RESTOCK_* variables found by lookup
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	integer := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = n
		return nil
	}
	boolean := func(name string, dst *bool) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s%s %q: %w", EnvPrefix, name, v, err)
		}
		*dst = b
		return nil
	}

	str("INPUT", &c.Input.Path)
	str("LOCATION", &c.Input.Location)
	str("RULES_FILE", &c.Selection.RulesFile)
	str("OUTPUT", &c.Output.Path)
	str("OUTPUT_FORMAT", &c.Output.Format)
	str("LOG_LEVEL", &c.Logging.Level)
	str("METRICS_TEXTFILE", &c.Metrics.Textfile)

	if v, ok := lookup(EnvPrefix + "RETAILERS"); ok && v != "" {
		c.Selection.Retailers = ParseRetailers(v)
	}
	if v, ok := lookup(EnvPrefix + "METHOD"); ok && v != "" {
		c.Forecast.Method = prediction.Method(v)
	}
	if v, ok := lookup(EnvPrefix + "RETAILER_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %sRETAILER_TIMEOUT %q: %w", EnvPrefix, v, err)
		}
		c.Pipeline.RetailerTimeout = d
	}

	if err := integer("HORIZON_HOURS", &c.Forecast.HorizonHours); err != nil {
		return err
	}
	if err := integer("WORKERS", &c.Pipeline.Workers); err != nil {
		return err
	}
	if err := integer("MAX_SERIES_HOURS", &c.Pipeline.MaxSeriesHours); err != nil {
		return err
	}
	if err := boolean("SKIP_INVALID", &c.Input.SkipInvalid); err != nil {
		return err
	}
	return boolean("LOG_DEVELOPMENT", &c.Logging.Development)
}

// Validate checks settings that would otherwise fail deep inside a run
func (c *Config) Validate() error {
	if c.Forecast.HorizonHours < 1 {
		return fmt.Errorf("forecast.horizon_hours must be at least 1, got %d", c.Forecast.HorizonHours)
	}
	if err := c.Forecast.Config.Validate(); err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	if c.Pipeline.Workers < 0 {
		return fmt.Errorf("pipeline.workers must be non-negative, got %d", c.Pipeline.Workers)
	}
	if c.Pipeline.MaxSeriesHours < 0 {
		return fmt.Errorf("pipeline.max_series_hours must be non-negative, got %d", c.Pipeline.MaxSeriesHours)
	}
	if c.Pipeline.RetailerTimeout < 0 {
		return fmt.Errorf("pipeline.retailer_timeout must be non-negative, got %s", c.Pipeline.RetailerTimeout)
	}
	if _, err := export.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if _, err := time.LoadLocation(c.Input.Location); err != nil {
		return fmt.Errorf("input.location: %w", err)
	}
	if utf8.RuneCountInString(c.Input.Delimiter) > 1 {
		return fmt.Errorf("input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	for _, w := range c.Cadence.Windows {
		if err := cadence.ValidateWindow(w); err != nil {
			return fmt.Errorf("cadence.windows: %w", err)
		}
	}
	return nil
}

// IngestOptions converts the input section for the ingest package
func (c *Config) IngestOptions() (*ingest.Options, error) {
	loc, err := time.LoadLocation(c.Input.Location)
	if err != nil {
		return nil, fmt.Errorf("input.location: %w", err)
	}
	opts := &ingest.Options{
		Columns:     c.Input.Columns,
		Layouts:     c.Input.TimeLayouts,
		Location:    loc,
		SkipInvalid: c.Input.SkipInvalid,
		Sheet:       c.Input.Sheet,
	}
	if r, _ := utf8.DecodeRuneInString(c.Input.Delimiter); r != utf8.RuneError {
		opts.Comma = r
	}
	return opts, nil
}

// PipelineConfig converts the forecast and pipeline sections for a runner
func (c *Config) PipelineConfig() pipeline.Config {
	forecast := c.Forecast.Config
	return pipeline.Config{
		Workers:         c.Pipeline.Workers,
		RetailerTimeout: c.Pipeline.RetailerTimeout,
		MaxSeriesHours:  c.Pipeline.MaxSeriesHours,
		Forecast:        &forecast,
	}
}

// ExportOptions converts the output section; call after Validate
func (c *Config) ExportOptions() export.Options {
	format, _ := export.ParseFormat(c.Output.Format)
	return export.Options{Format: format, FutureOnly: c.Output.FutureOnly}
}

// ParseRetailers splits a comma-separated list, dropping blanks
func ParseRetailers(list string) []string {
	var names []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
