package delta

import (
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/snapshot"
)

// Mode selects how records from two snapshots are paired.
type Mode int

const (
	// SameDate pairs records by (settlement date, period); both snapshots share a target date.
	SameDate Mode = iota
	// CrossDate pairs records by period alone across differently anchored windows.
	CrossDate
)

func (m Mode) String() string {
	switch m {
	case SameDate:
		return "same-date"
	case CrossDate:
		return "cross-date"
	default:
		return "unknown"
	}
}

// Sign classifies a single value.
type Sign string

const (
	Positive Sign = "Positive"
	Negative Sign = "Negative"
)

// Direction classifies a delta. A zero delta is a Decrease.
type Direction string

const (
	Increase Direction = "increase"
	Decrease Direction = "decrease"
)

// Record compares one period across two snapshots. Previous and New are
// invalid when the period has no reconciled value in that snapshot; Delta,
// the signs and Direction are only set for the values that exist.
type Record struct {
	Period       int
	Previous     decimal.NullDecimal
	New          decimal.NullDecimal
	Delta        decimal.NullDecimal
	PreviousSign Sign
	NewSign      Sign
	Direction    Direction
}

// HasDelta reports whether both sides carried a value.
func (r Record) HasDelta() bool { return r.Delta.Valid }

// View is the ordered delta sequence between two snapshots plus the labels a
// renderer needs.
type View struct {
	Mode            Mode
	Records         []Record
	PreviousPublish time.Time
	LatestPublish   time.Time
	PreviousTarget  time.Time
	LatestTarget    time.Time
}

// Diff compares previous against latest. It never fails: missing values
// produce partial records and two empty snapshots produce an empty view.
func Diff(previous, latest snapshot.Snapshot) View {
	mode := ModeFor(previous, latest)
	return View{
		Mode:            mode,
		Records:         merge(previous, latest, keyFuncFor(mode)),
		PreviousPublish: previous.LatestPublish(),
		LatestPublish:   latest.LatestPublish(),
		PreviousTarget:  previous.Window().Target(),
		LatestTarget:    latest.Window().Target(),
	}
}

// ModeFor picks SameDate when both snapshots cover the same target date.
func ModeFor(previous, latest snapshot.Snapshot) Mode {
	if previous.Window().Equal(latest.Window()) {
		return SameDate
	}
	return CrossDate
}

// SignOf classifies v; zero counts as Positive.
func SignOf(v decimal.Decimal) Sign {
	if v.Sign() >= 0 {
		return Positive
	}
	return Negative
}

// DirectionOf classifies d; only strictly positive deltas are an Increase.
func DirectionOf(d decimal.Decimal) Direction {
	if d.Sign() > 0 {
		return Increase
	}
	return Decrease
}

// Changed returns the records whose values moved.
func (v View) Changed() []Record {
	out := make([]Record, 0, len(v.Records))
	for _, r := range v.Records {
		if r.HasDelta() && !r.Delta.Decimal.IsZero() {
			out = append(out, r)
		}
	}
	return out
}

// Largest returns the record with the greatest absolute delta.
func (v View) Largest() (Record, bool) {
	var (
		best  Record
		found bool
	)
	for _, r := range v.Records {
		if !r.HasDelta() {
			continue
		}
		if !found || r.Delta.Decimal.Abs().GreaterThan(best.Delta.Decimal.Abs()) {
			best = r
			found = true
		}
	}
	return best, found
}

// Counts tallies increase and decrease directions across paired records.
func (v View) Counts() (increases, decreases int) {
	for _, r := range v.Records {
		switch r.Direction {
		case Increase:
			increases++
		case Decrease:
			decreases++
		}
	}
	return increases, decreases
}
