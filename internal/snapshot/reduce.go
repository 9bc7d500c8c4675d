package snapshot

import (
	"time"

	"imbalance-watch/internal/period"
)

// Reduce collapses records into one reconciled record per key of w.
//
// Null values and keys outside the window are dropped. Among the remaining
// records for a key the one with the greatest PublishTime wins; equal publish
// times resolve to the record that comes last in the input.
func Reduce(records []Record, w period.Window) Snapshot {
	s := Snapshot{window: w, records: make(map[period.Key]Record, period.PerDay)}

	for _, rec := range records {
		if !rec.Value.Valid {
			continue
		}
		key := period.NewKey(rec.Key.Date, rec.Key.Period)
		if !w.Contains(key) {
			continue
		}
		rec.Key = key

		if current, ok := s.records[key]; ok && rec.PublishTime.Before(current.PublishTime) {
			continue
		}
		s.records[key] = rec
	}

	var latest time.Time
	for _, rec := range s.records {
		if rec.PublishTime.After(latest) {
			latest = rec.PublishTime
		}
	}
	s.latest = latest

	return s
}

// ReduceSeries reduces each Series independently.
func ReduceSeries(records []Record, w period.Window) map[string]Snapshot {
	grouped := make(map[string][]Record)
	for _, rec := range records {
		grouped[rec.Series] = append(grouped[rec.Series], rec)
	}

	out := make(map[string]Snapshot, len(grouped))
	for series, group := range grouped {
		out[series] = Reduce(group, w)
	}
	return out
}
