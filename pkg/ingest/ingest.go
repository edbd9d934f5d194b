package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"restock-forecaster/pkg/models"
)

// Format identifies a tabular source format
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Columns names the header cells holding each field. Matching ignores case
// and surrounding whitespace.
type Columns struct {
	Timestamp string `yaml:"timestamp"`
	Retailer  string `yaml:"retailer"`
	Count     string `yaml:"count"`
}

// Options controls how rows become event records
type Options struct {
	Columns Columns

	// Layouts are tried in order for timestamp cells
	Layouts []string

	// Location applies to layouts without a zone
	Location *time.Location

	// SkipInvalid logs and drops bad rows instead of failing the load
	SkipInvalid bool

	// Sheet selects the XLSX worksheet; empty means the first one
	Sheet string

	// Comma is the CSV field delimiter
	Comma rune
}

// DefaultLayouts are the timestamp layouts accepted out of the box
var DefaultLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04",
	"2006-01-02",
}

// DefaultOptions returns options for the DateTime, Retailer, Count layout
func DefaultOptions() *Options {
	return &Options{
		Columns: Columns{
			Timestamp: "DateTime",
			Retailer:  "Retailer",
			Count:     "Count",
		},
		Layouts:  DefaultLayouts,
		Location: time.UTC,
		Comma:    ',',
	}
}

// Result holds the records of one load
type Result struct {
	Format  Format
	Records []models.EventRecord

	// Skipped counts rows dropped with SkipInvalid
	Skipped int
}

// RowError reports a row that could not be turned into a record. Row is the
// 1-based line in the source, header included.
type RowError struct {
	Row    int
	Column string
	Err    error
}

func (e *RowError) Error() string {
	if e.Column == "" {
		return fmt.Sprintf("row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("row %d, column %s: %v", e.Row, e.Column, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// ErrMissingColumn is returned when a configured column is not in the header
var ErrMissingColumn = errors.New("missing column")

// DetectFormat picks the format from the file extension
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX
	default:
		return FormatCSV
	}
}

// Load reads event records from a CSV or XLSX file
func Load(ctx context.Context, path string, opts *Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	var result *Result
	switch DetectFormat(path) {
	case FormatXLSX:
		result, err = ReadXLSX(ctx, f, opts)
	default:
		result, err = ReadCSV(ctx, f, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	klog.Infof("Loaded %d records from %s (%d rows skipped)", len(result.Records), path, result.Skipped)
	return result, nil
}

// rowParser maps header positions and converts rows to records
type rowParser struct {
	opts *Options

	timestampIdx int
	retailerIdx  int
	countIdx     int

	// excelSerial accepts numeric timestamp cells as Excel serial dates
	excelSerial bool
}

func newRowParser(header []string, opts *Options) (*rowParser, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := normalize(name)
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}

	lookup := func(column string) (int, error) {
		i, ok := index[normalize(column)]
		if !ok {
			return -1, fmt.Errorf("%w %q (header: %s)", ErrMissingColumn, column, strings.Join(header, ", "))
		}
		return i, nil
	}

	p := &rowParser{opts: opts}
	var err error
	if p.timestampIdx, err = lookup(opts.Columns.Timestamp); err != nil {
		return nil, err
	}
	if p.retailerIdx, err = lookup(opts.Columns.Retailer); err != nil {
		return nil, err
	}
	if p.countIdx, err = lookup(opts.Columns.Count); err != nil {
		return nil, err
	}
	return p, nil
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
}

// parse converts one row. A nil record with nil error means a blank row.
func (p *rowParser) parse(row int, cells []string) (*models.EventRecord, error) {
	if isBlank(cells) {
		return nil, nil
	}

	cell := func(i int) string {
		if i < len(cells) {
			return strings.TrimSpace(cells[i])
		}
		return ""
	}

	ts, err := p.parseTimestamp(cell(p.timestampIdx))
	if err != nil {
		return nil, &RowError{Row: row, Column: p.opts.Columns.Timestamp, Err: err}
	}

	count, err := parseCount(cell(p.countIdx))
	if err != nil {
		return nil, &RowError{Row: row, Column: p.opts.Columns.Count, Err: err}
	}

	record := &models.EventRecord{
		Timestamp: ts,
		Retailer:  cell(p.retailerIdx),
		Count:     count,
	}
	if err := record.Validate(); err != nil {
		return nil, &RowError{Row: row, Err: err}
	}
	return record, nil
}

func (p *rowParser) parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	loc := p.opts.Location
	if loc == nil {
		loc = time.UTC
	}

	for _, layout := range p.opts.Layouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}

	if p.excelSerial {
		if serial, err := strconv.ParseFloat(value, 64); err == nil {
			return excelSerialToTime(serial, loc)
		}
	}

	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

// parseCount accepts integers and integral decimals such as "3.0"
func parseCount(value string) (int, error) {
	if value == "" {
		return 0, fmt.Errorf("empty count")
	}
	if n, err := strconv.Atoi(value); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("count %q is not a whole number", value)
	}
	return int(f), nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// collect appends a parsed row to result, or fails/skips on error
func (p *rowParser) collect(result *Result, row int, cells []string) error {
	record, err := p.parse(row, cells)
	if err != nil {
		if !p.opts.SkipInvalid {
			return err
		}
		klog.Warningf("Skipping invalid input %v", err)
		result.Skipped++
		return nil
	}
	if record != nil {
		result.Records = append(result.Records, *record)
	}
	return nil
}

func withDefaults(opts *Options) *Options {
	defaults := DefaultOptions()
	if opts == nil {
		return defaults
	}
	o := *opts
	if o.Columns.Timestamp == "" {
		o.Columns.Timestamp = defaults.Columns.Timestamp
	}
	if o.Columns.Retailer == "" {
		o.Columns.Retailer = defaults.Columns.Retailer
	}
	if o.Columns.Count == "" {
		o.Columns.Count = defaults.Columns.Count
	}
	if len(o.Layouts) == 0 {
		o.Layouts = defaults.Layouts
	}
	if o.Location == nil {
		o.Location = defaults.Location
	}
	if o.Comma == 0 {
		o.Comma = defaults.Comma
	}
	return &o
}
