package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"k8s.io/klog/v2"
)

// ReadCSV reads event records from CSV with a header row
func ReadCSV(ctx context.Context, r io.Reader, opts *Options) (*Result, error) {
	opts = withDefaults(opts)

	reader := csv.NewReader(r)
	reader.Comma = opts.Comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("csv input is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	parser, err := newRowParser(header, opts)
	if err != nil {
		return nil, err
	}

	result := &Result{Format: FormatCSV}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cells, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && opts.SkipInvalid {
				klog.Warningf("Skipping malformed csv line %d: %v", parseErr.StartLine, parseErr.Err)
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("failed to read csv: %w", err)
		}

		line, _ := reader.FieldPos(0)
		if err := parser.collect(result, line, cells); err != nil {
			return nil, err
		}
	}

	return result, nil
}
