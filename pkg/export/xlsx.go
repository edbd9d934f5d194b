package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"restock-forecaster/pkg/pipeline"
)

const (
	forecastSheet = "Forecast"
	failureSheet  = "Failures"
)

// WriteXLSX writes the forecast table to a workbook, with a second sheet
// listing failed retailers. Below-zero predictions are filled red.
func WriteXLSX(w io.Writer, report *pipeline.Report, opts Options) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), forecastSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	belowZero, err := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"F8CBAD"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}
	dateStyle, err := f.NewStyle(&excelize.Style{NumFmt: 22})
	if err != nil {
		return fmt.Errorf("failed to create style: %w", err)
	}

	if err := setRow(f, forecastSheet, 1, toCells(header)); err != nil {
		return err
	}
	for i, row := range Rows(report, opts.FutureOnly) {
		rowNum := i + 2
		cells := []interface{}{
			row.Retailer,
			row.Timestamp,
			row.PredictedCount,
			row.Lower,
			row.Upper,
			row.InSample,
			row.BelowZero,
		}
		if err := setRow(f, forecastSheet, rowNum, cells); err != nil {
			return err
		}
		if err := f.SetCellStyle(forecastSheet, cellName(2, rowNum), cellName(2, rowNum), dateStyle); err != nil {
			return fmt.Errorf("failed to style row %d: %w", rowNum, err)
		}
		if row.BelowZero {
			if err := f.SetCellStyle(forecastSheet, cellName(1, rowNum), cellName(len(header), rowNum), belowZero); err != nil {
				return fmt.Errorf("failed to style row %d: %w", rowNum, err)
			}
		}
	}

	if len(report.Errors) > 0 {
		if _, err := f.NewSheet(failureSheet); err != nil {
			return fmt.Errorf("failed to add sheet: %w", err)
		}
		if err := setRow(f, failureSheet, 1, []interface{}{"retailer", "error"}); err != nil {
			return err
		}
		for i, retailer := range report.Failed() {
			if err := setRow(f, failureSheet, i+2, []interface{}{retailer, report.Errors[retailer].Error()}); err != nil {
				return err
			}
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write xlsx: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	if err := f.SetSheetRow(sheet, cellName(1, row), &cells); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

func toCells(values []string) []interface{} {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	return cells
}
