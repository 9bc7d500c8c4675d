package snapshot

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/period"
)

// ErrNoData signals that a reduction produced no records for the window.
// Reduce itself never returns it; callers decide whether emptiness is fatal.
var ErrNoData = errors.New("snapshot: no published data for window")

// Record is one published value for a settlement period. Raw records may
// carry a null value; reconciled records in a Snapshot never do.
type Record struct {
	Key              period.Key
	StartTime        time.Time
	PublishTime      time.Time
	StartTimeLocal   time.Time
	PublishTimeLocal time.Time
	Value            decimal.NullDecimal
	Series           string
}

// Snapshot is the immutable one-record-per-period view of a window.
type Snapshot struct {
	window  period.Window
	records map[period.Key]Record
	latest  time.Time
}

// Window returns the local-day window the snapshot was reduced for.
func (s Snapshot) Window() period.Window { return s.window }

// Order returns the canonical display order of period indices.
func (s Snapshot) Order() []int { return s.window.CanonicalOrder() }

// LatestPublish is the newest publish time across the reconciled records.
func (s Snapshot) LatestPublish() time.Time { return s.latest }

// Len returns the number of reconciled periods.
func (s Snapshot) Len() int { return len(s.records) }

// IsEmpty reports whether no period has a published value.
func (s Snapshot) IsEmpty() bool { return len(s.records) == 0 }

// Get looks up the reconciled record for k.
func (s Snapshot) Get(k period.Key) (Record, bool) {
	rec, ok := s.records[period.NewKey(k.Date, k.Period)]
	return rec, ok
}

// ByPeriod looks up the reconciled record for period p of this window.
func (s Snapshot) ByPeriod(p int) (Record, bool) {
	key, ok := s.window.KeyFor(p)
	if !ok {
		return Record{}, false
	}
	rec, ok := s.records[key]
	return rec, ok
}

// Records returns the reconciled records in canonical order.
func (s Snapshot) Records() []Record {
	out := make([]Record, 0, len(s.records))
	for _, key := range s.window.Keys() {
		if rec, ok := s.records[key]; ok {
			out = append(out, rec)
		}
	}
	return out
}

// Localize fills the local-time fields of every record from its UTC fields.
// The UTC fields are left untouched, so repeated calls are no-ops.
func Localize(records []Record, loc *time.Location) []Record {
	out := make([]Record, len(records))
	for i, rec := range records {
		rec.StartTimeLocal = period.Localize(rec.StartTime, loc)
		rec.PublishTimeLocal = period.Localize(rec.PublishTime, loc)
		out[i] = rec
	}
	return out
}
