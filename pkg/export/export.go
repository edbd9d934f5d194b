// Package export writes finished forecasts in the table formats read by the
// presentation layer.
package export

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"restock-forecaster/pkg/cadence"
	"restock-forecaster/pkg/pipeline"
	"restock-forecaster/pkg/prediction"
)

// Format is an output table format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want csv, json or xlsx)", name)
	}
}

// FormatFromPath picks the format from the file extension, or fallback
func FormatFromPath(path string, fallback Format) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".json":
		return FormatJSON
	case ".xlsx":
		return FormatXLSX
	default:
		return fallback
	}
}

// Options controls which rows are written
type Options struct {
	Format Format

	// FutureOnly drops the in-sample fit
	FutureOnly bool
}

// Row is one line of the forecast table
type Row struct {
	Retailer       string
	Timestamp      time.Time
	PredictedCount float64
	Lower          float64
	Upper          float64
	InSample       bool

	// BelowZero marks predictions under zero so they can be shown apart
	BelowZero bool
}

var header = []string{"retailer", "timestamp", "predicted_count", "lower", "upper", "in_sample", "below_zero"}

// Rows flattens a report into rows ordered by retailer, then timestamp
func Rows(report *pipeline.Report, futureOnly bool) []Row {
	var rows []Row
	for _, retailer := range report.Succeeded() {
		for _, p := range report.Results[retailer].Points {
			if futureOnly && p.InSample {
				continue
			}
			rows = append(rows, Row{
				Retailer:       retailer,
				Timestamp:      p.Timestamp,
				PredictedCount: p.Value,
				Lower:          p.Lower,
				Upper:          p.Upper,
				InSample:       p.InSample,
				BelowZero:      p.Value < 0,
			})
		}
	}
	return rows
}

// Point is a forecast point as written to JSON
type Point struct {
	prediction.ForecastPoint
	BelowZero bool `json:"below_zero"`
}

// Document is the JSON form of a report
type Document struct {
	GeneratedAt  time.Time                   `json:"generated_at"`
	HorizonHours int                         `json:"horizon_hours"`
	Forecasts    map[string][]Point          `json:"forecasts"`
	Failures     map[string]string           `json:"failures"`
	Profiles     map[string]*cadence.Profile `json:"profiles,omitempty"`
}

// NewDocument converts a report for JSON output
func NewDocument(report *pipeline.Report, futureOnly bool) *Document {
	doc := &Document{
		GeneratedAt:  time.Now().UTC(),
		HorizonHours: report.Horizon,
		Forecasts:    make(map[string][]Point, len(report.Results)),
		Failures:     make(map[string]string, len(report.Errors)),
		Profiles:     report.Profiles,
	}
	for retailer, result := range report.Results {
		points := make([]Point, 0, len(result.Points))
		for _, p := range result.Points {
			if futureOnly && p.InSample {
				continue
			}
			points = append(points, Point{ForecastPoint: p, BelowZero: p.Value < 0})
		}
		doc.Forecasts[retailer] = points
	}
	for retailer, err := range report.Errors {
		doc.Failures[retailer] = err.Error()
	}
	return doc
}

// Retailers returns the retailers with a forecast, sorted
func (d *Document) Retailers() []string {
	names := make([]string, 0, len(d.Forecasts))
	for name := range d.Forecasts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteJSON writes the report as an indented JSON document
func WriteJSON(w io.Writer, report *pipeline.Report, opts Options) error {
	data, err := json.MarshalIndent(NewDocument(report, opts.FutureOnly), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode forecast: %w", err)
	}
	_, err = w.Write(append(data, '\n'))
	return err
}

// Write writes the report in opts.Format
func Write(w io.Writer, report *pipeline.Report, opts Options) error {
	switch opts.Format {
	case FormatJSON:
		return WriteJSON(w, report, opts)
	case FormatXLSX:
		return WriteXLSX(w, report, opts)
	case FormatCSV, "":
		return WriteCSV(w, report, opts)
	default:
		return fmt.Errorf("unknown output format %q", opts.Format)
	}
}

// WriteFile writes the report to path. An empty opts.Format is taken from the
// extension, defaulting to CSV. Nothing is written if encoding fails.
func WriteFile(path string, report *pipeline.Report, opts Options) error {
	if opts.Format == "" {
		opts.Format = FormatFromPath(path, FormatCSV)
	}

	var buf bytes.Buffer
	if err := Write(&buf, report, opts); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadJSON loads a document written by WriteJSON
func ReadJSON(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return &doc, nil
}
