package render

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/generation"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

// SnapshotCSV writes one row per reconciled record in canonical order.
func SnapshotCSV(w io.Writer, s snapshot.Snapshot) error {
	writer := csv.NewWriter(w)

	header := []string{"settlement_date", "settlement_period", "start_time_utc", "start_time_local", "publish_time_utc", "publish_time_local", "imbalance_mw"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rec := range s.Records() {
		row := []string{
			rec.Key.Date.Format(period.DateLayout),
			strconv.Itoa(rec.Key.Period),
			formatTime(rec.StartTime),
			formatTime(rec.StartTimeLocal),
			formatTime(rec.PublishTime),
			formatTime(rec.PublishTimeLocal),
			rec.Value.Decimal.String(),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// DiffCSV writes the delta sequence; absent values are empty cells.
func DiffCSV(w io.Writer, v delta.View) error {
	writer := csv.NewWriter(w)

	header := []string{"settlement_period", "previous_mw", "new_mw", "delta_mw", "previous_sign", "new_sign", "direction"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range v.Records {
		row := []string{
			strconv.Itoa(r.Period),
			nullString(r.Previous),
			nullString(r.New),
			nullString(r.Delta),
			string(r.PreviousSign),
			string(r.NewSign),
			string(r.Direction),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// GenerationCSV writes aligned forecast and actual rows for one fuel.
func GenerationCSV(w io.Writer, rows []generation.Row) error {
	writer := csv.NewWriter(w)

	header := []string{"settlement_date", "settlement_period", "fuel", "start_time_utc", "start_time_local", "forecast_mw", "actual_mw", "diff_mw"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, row := range rows {
		record := []string{
			row.Key.Date.Format(period.DateLayout),
			strconv.Itoa(row.Key.Period),
			string(row.Fuel),
			formatTime(row.StartTime),
			formatTime(row.StartTimeLocal),
			row.Forecast.String(),
			row.Actual.String(),
			row.Diff.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}
