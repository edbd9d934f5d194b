package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ReadXLSX reads event records from the first (or configured) worksheet.
// Cells are read raw, so date cells arrive as Excel serial numbers and
// are converted in opts.Location.
func ReadXLSX(ctx context.Context, r io.Reader, opts *Options) (*Result, error) {
	opts = withDefaults(opts)

	xlFile, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer xlFile.Close()

	sheetName := opts.Sheet
	if sheetName == "" {
		sheetName = xlFile.GetSheetName(0)
	}
	if sheetName == "" {
		sheetList := xlFile.GetSheetList()
		if len(sheetList) == 0 {
			return nil, fmt.Errorf("no sheets found in xlsx file")
		}
		sheetName = sheetList[0]
	}

	rows, err := xlFile.Rows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheetName, err)
	}
	defer rows.Close()

	raw := excelize.Options{RawCellValue: true}

	if !rows.Next() {
		return nil, fmt.Errorf("sheet %s is empty", sheetName)
	}
	header, err := rows.Columns(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	parser, err := newRowParser(header, opts)
	if err != nil {
		return nil, err
	}
	parser.excelSerial = true

	result := &Result{Format: FormatXLSX}
	rowNum := 1
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rowNum++
		cells, err := rows.Columns(raw)
		if err != nil {
			return nil, &RowError{Row: rowNum, Err: err}
		}
		if err := parser.collect(result, rowNum, cells); err != nil {
			return nil, err
		}
	}
	if err := rows.Error(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	return result, nil
}

// excelSerialToTime converts an Excel serial date to the same wall-clock
// time in loc, rounded to the second
func excelSerialToTime(serial float64, loc *time.Location) (time.Time, error) {
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid excel date %v: %w", serial, err)
	}
	t = t.Round(time.Second)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}
