package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"restock-forecaster/pkg/cadence"
	"restock-forecaster/pkg/config"
	"restock-forecaster/pkg/export"
	"restock-forecaster/pkg/ingest"
	"restock-forecaster/pkg/logger"
	"restock-forecaster/pkg/metrics"
	"restock-forecaster/pkg/pipeline"
	"restock-forecaster/pkg/prediction"
	"restock-forecaster/pkg/selection"
)

var (
	configPath      string
	inputPath       string
	retailers       string
	horizon         int
	method          string
	workers         int
	retailerTimeout time.Duration
	maxSeriesHours  int
	rulesFile       string
	outputPath      string
	outputFormat    string
	futureOnly      bool
	logLevel        string
	metricsTextfile string
	showProfiles    bool
)

func main() {
	klog.InitFlags(nil)
	flag.StringVar(&configPath, "config", os.Getenv("RESTOCK_CONFIG"), "Path to YAML config file")
	flag.StringVar(&inputPath, "input", "", "Event file (CSV or XLSX) with DateTime, Retailer, Count columns")
	flag.StringVar(&retailers, "retailers", "", "Comma-separated retailers to forecast (default: all)")
	flag.IntVar(&horizon, "horizon", config.DefaultHorizonHours, "Hours to forecast past the last observation")
	flag.StringVar(&method, "method", "", "Forecast method: seasonal-regression or holt-winters")
	flag.IntVar(&workers, "workers", 0, "Concurrent retailer forecasts (0 = number of CPUs)")
	flag.DurationVar(&retailerTimeout, "retailer-timeout", 0, "Per-retailer fit timeout (0 = none)")
	flag.IntVar(&maxSeriesHours, "max-series-hours", 0, "Reject retailers whose events span more hours (0 = config default)")
	flag.StringVar(&rulesFile, "rules", "", "YAML selection rules file")
	flag.StringVar(&outputPath, "output", "", "Output file (default: stdout)")
	flag.StringVar(&outputFormat, "format", "", "Output format: csv, json or xlsx")
	flag.BoolVar(&futureOnly, "future-only", false, "Only write hours past the last observation")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file after the run")
	flag.BoolVar(&showProfiles, "profiles", false, "Print restock cadence profiles")
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		klog.Fatalf("Invalid configuration: %v", err)
	}

	if err := logger.InitGlobal(logger.Options{Level: cfg.Logging.Level, Development: cfg.Logging.Development}); err != nil {
		klog.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	log := logger.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		logger.Sync()
		klog.Fatalf("Forecast failed: %v", err)
	}
}

// loadConfig layers defaults, the config file, RESTOCK_* variables and flags
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "input":
			cfg.Input.Path = inputPath
		case "retailers":
			cfg.Selection.Retailers = config.ParseRetailers(retailers)
		case "horizon":
			cfg.Forecast.HorizonHours = horizon
		case "method":
			cfg.Forecast.Method = prediction.Method(method)
		case "workers":
			cfg.Pipeline.Workers = workers
		case "retailer-timeout":
			cfg.Pipeline.RetailerTimeout = retailerTimeout
		case "max-series-hours":
			cfg.Pipeline.MaxSeriesHours = maxSeriesHours
		case "rules":
			cfg.Selection.RulesFile = rulesFile
		case "output":
			cfg.Output.Path = outputPath
		case "format":
			cfg.Output.Format = outputFormat
		case "future-only":
			cfg.Output.FutureOnly = futureOnly
		case "log-level":
			cfg.Logging.Level = logLevel
		case "metrics-textfile":
			cfg.Metrics.Textfile = metricsTextfile
		}
	})

	if cfg.Input.Path == "" {
		return nil, fmt.Errorf("no input file: set -input, input.path or RESTOCK_INPUT")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	exporter := metrics.NewPrometheusExporter(cfg.Metrics.Namespace, nil)

	opts, err := cfg.IngestOptions()
	if err != nil {
		return err
	}
	loaded, err := ingest.Load(ctx, cfg.Input.Path, opts)
	if err != nil {
		return err
	}
	exporter.RecordIngest(string(loaded.Format), len(loaded.Records), loaded.Skipped)

	var engine *selection.Engine
	if cfg.Selection.RulesFile != "" {
		engine = selection.NewEngine()
		engine.OnMatch = exporter.RecordRuleMatch
		if err := engine.LoadRules(cfg.Selection.RulesFile); err != nil {
			return err
		}
	}

	selected, decisions, err := selection.Resolve(loaded.Records, cfg.Selection.Retailers, engine)
	if err != nil {
		return fmt.Errorf("failed to select retailers: %w", err)
	}
	for _, name := range selection.Excluded(decisions) {
		log.WithRetailer(name).Info("Excluded by selection rules")
	}
	if len(selected) == 0 {
		log.Warn("No retailers selected, nothing to forecast")
		return writeMetrics(cfg, exporter)
	}

	analyzer := cadence.NewAnalyzer()
	analyzer.Custom = cfg.Cadence.Windows

	runner := pipeline.NewRunner(cfg.PipelineConfig(),
		pipeline.WithLogger(log),
		pipeline.WithMetrics(exporter),
		pipeline.WithAnalyzer(analyzer),
	)

	report, err := runner.Run(ctx, loaded.Records, selected, cfg.Forecast.HorizonHours)
	if err != nil {
		return err
	}

	exportOpts := cfg.ExportOptions()
	if cfg.Output.Path == "" {
		if err := export.Write(os.Stdout, report, exportOpts); err != nil {
			return err
		}
	} else {
		if err := export.WriteFile(cfg.Output.Path, report, exportOpts); err != nil {
			return err
		}
		log.Infof("Wrote %s forecast to %s", exportOpts.Format, cfg.Output.Path)
	}

	printSummary(report)
	return writeMetrics(cfg, exporter)
}

func writeMetrics(cfg *config.Config, exporter *metrics.PrometheusExporter) error {
	if cfg.Metrics.Textfile == "" {
		return nil
	}
	return exporter.WriteToTextfile(cfg.Metrics.Textfile)
}

// printSummary reports every retailer on stderr so stdout stays a clean table
func printSummary(report *pipeline.Report) {
	fmt.Fprintf(os.Stderr, "\nForecast (%d hours) finished in %s\n", report.Horizon, report.Duration.Round(time.Millisecond))

	for _, name := range report.Succeeded() {
		result := report.Results[name]
		fmt.Fprintf(os.Stderr, "  OK    %s\n", result.Summary())
		if n := result.NegativeCount(); n > 0 {
			fmt.Fprintf(os.Stderr, "        %d hours predicted below zero\n", n)
		}
		if showProfiles {
			if profile, ok := report.Profiles[name]; ok {
				fmt.Fprintf(os.Stderr, "        %s\n", profile.Summary())
			}
		}
	}
	for _, name := range report.Failed() {
		fmt.Fprintf(os.Stderr, "  FAIL  %s: %v\n", name, report.Errors[name])
	}
}
