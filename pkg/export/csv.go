package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"restock-forecaster/pkg/pipeline"
)

// WriteCSV writes one row per retailer and hour with RFC3339 timestamps
func WriteCSV(w io.Writer, report *pipeline.Report, opts Options) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, row := range Rows(report, opts.FutureOnly) {
		record := []string{
			row.Retailer,
			row.Timestamp.Format(time.RFC3339),
			formatFloat(row.PredictedCount),
			formatFloat(row.Lower),
			formatFloat(row.Upper),
			strconv.FormatBool(row.InSample),
			strconv.FormatBool(row.BelowZero),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
