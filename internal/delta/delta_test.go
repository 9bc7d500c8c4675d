package delta

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

var (
	day = time.Date(2025, time.December, 7, 0, 0, 0, 0, time.UTC)
	t1  = time.Date(2025, time.December, 6, 9, 0, 0, 0, time.UTC)
	t2  = t1.Add(30 * time.Minute)
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

type point struct {
	period int
	value  float64
}

func build(target, published time.Time, points ...point) snapshot.Snapshot {
	w := period.MustWindow(target)
	records := make([]snapshot.Record, 0, len(points))
	for _, p := range points {
		key, ok := w.KeyFor(p.period)
		if !ok {
			panic("period outside window")
		}
		records = append(records, snapshot.Record{
			Key:         key,
			PublishTime: published,
			Value:       decimal.NewNullDecimal(decimal.NewFromFloat(p.value)),
		})
	}
	return snapshot.Reduce(records, w)
}

func TestDiffConcreteScenario(t *testing.T) {
	prev := build(day, t1, point{5, 120.0})
	latest := build(day, t2, point{5, 95.0})

	view := Diff(prev, latest)
	require.Len(t, view.Records, 1)

	r := view.Records[0]
	assert.Equal(t, 5, r.Period)
	assert.True(t, r.Previous.Decimal.Equal(decimal.NewFromFloat(120.0)))
	assert.True(t, r.New.Decimal.Equal(decimal.NewFromFloat(95.0)))
	assert.True(t, r.Delta.Decimal.Equal(decimal.NewFromFloat(-25.0)))
	assert.Equal(t, Decrease, r.Direction)
	assert.Equal(t, Positive, r.PreviousSign)
	assert.Equal(t, Positive, r.NewSign)
	assert.Equal(t, SameDate, view.Mode)
	assert.Equal(t, t1, view.PreviousPublish)
	assert.Equal(t, t2, view.LatestPublish)
}

func TestDiffZeroDeltaIsDecrease(t *testing.T) {
	view := Diff(build(day, t1, point{10, 100}), build(day, t2, point{10, 100}))
	require.Len(t, view.Records, 1)
	assert.True(t, view.Records[0].Delta.Decimal.IsZero())
	assert.Equal(t, Decrease, view.Records[0].Direction)
	assert.Empty(t, view.Changed())
}

func TestDiffPartialRecords(t *testing.T) {
	prev := build(day, t1, point{47, -10}, point{1, 5})
	latest := build(day, t2, point{1, 8}, point{2, -3})

	view := Diff(prev, latest)
	require.Len(t, view.Records, 3)

	assert.Equal(t, []int{47, 1, 2}, periods(view))

	only47 := view.Records[0]
	assert.True(t, only47.Previous.Valid)
	assert.False(t, only47.New.Valid)
	assert.False(t, only47.HasDelta())
	assert.Equal(t, Negative, only47.PreviousSign)
	assert.Equal(t, Sign(""), only47.NewSign)
	assert.Equal(t, Direction(""), only47.Direction)

	both := view.Records[1]
	assert.Equal(t, Increase, both.Direction)
	assert.True(t, both.Delta.Decimal.Equal(decimal.NewFromInt(3)))

	only2 := view.Records[2]
	assert.False(t, only2.Previous.Valid)
	assert.Equal(t, Negative, only2.NewSign)
}

func TestDiffEmptySnapshots(t *testing.T) {
	view := Diff(build(day, t1), build(day, t2))
	assert.Empty(t, view.Records)
	_, ok := view.Largest()
	assert.False(t, ok)
}

func TestModeSelection(t *testing.T) {
	sameA := build(day, t1, point{1, 1})
	sameB := build(day, t2, point{1, 2})
	next := build(day.AddDate(0, 0, 1), t2, point{1, 2})

	assert.Equal(t, SameDate, ModeFor(sameA, sameB))
	assert.Equal(t, CrossDate, ModeFor(sameA, next))
	assert.Equal(t, "cross-date", CrossDate.String())
}

func TestSameDateMatchesExplicitKeys(t *testing.T) {
	prev := build(day, t1, point{47, 1}, point{48, 2}, point{3, 3})
	latest := build(day, t2, point{47, 4}, point{3, 1}, point{46, 9})

	explicit := func(r snapshot.Record) mergeKey {
		return mergeKey{date: period.Day(r.Key.Date), period: r.Key.Period}
	}

	got := Diff(prev, latest)
	want := merge(prev, latest, explicit)
	if diff := cmp.Diff(want, got.Records, decimalEqual); diff != "" {
		t.Fatalf("same-date diff mismatch (-want +got):\n%s", diff)
	}
}

func TestCrossDateMergesOnPeriod(t *testing.T) {
	// Taken before local midnight for D, then after it for D+1.
	prev := build(day, t1, point{47, 10}, point{5, 120})
	latest := build(day.AddDate(0, 0, 1), t2, point{47, 12}, point{6, 7})

	got := Diff(prev, latest)
	require.Equal(t, CrossDate, got.Mode)

	periodOnly := func(r snapshot.Record) mergeKey { return mergeKey{period: r.Key.Period} }
	want := merge(prev, latest, periodOnly)
	if diff := cmp.Diff(want, got.Records, decimalEqual); diff != "" {
		t.Fatalf("cross-date diff mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, []int{47, 5, 6}, periods(got))
	assert.True(t, got.Records[0].Delta.Decimal.Equal(decimal.NewFromInt(2)), "period 47 pairs across different anchor dates")

	// The same pair keyed by (date, period) would not line up.
	dated := merge(prev, latest, keyFuncFor(SameDate))
	assert.Len(t, dated, 4)
}

func TestViewLargestAndCounts(t *testing.T) {
	view := Diff(
		build(day, t1, point{1, 10}, point{2, 10}, point{3, 10}),
		build(day, t2, point{1, 15}, point{2, -40}, point{3, 10}),
	)

	largest, ok := view.Largest()
	require.True(t, ok)
	assert.Equal(t, 2, largest.Period)

	inc, dec := view.Counts()
	assert.Equal(t, 1, inc)
	assert.Equal(t, 2, dec)
	assert.Len(t, view.Changed(), 2)
}

func TestViewTitle(t *testing.T) {
	view := Diff(build(day, t1, point{1, 1}), build(day, t2, point{1, 2}))
	assert.Equal(t, "Imbalance per Settlement Period 07 Dec 2025: 09:00 UTC vs 09:30 UTC (Update 1)", view.Title("Update 1", time.UTC))

	cross := Diff(build(day, t1, point{1, 1}), build(day.AddDate(0, 0, 1), t2, point{1, 2}))
	assert.Equal(t, "Imbalance per Settlement Period 07 Dec 2025 09:00 UTC vs 08 Dec 2025 09:30 UTC", cross.Title("", time.UTC))
}

func periods(v View) []int {
	out := make([]int, 0, len(v.Records))
	for _, r := range v.Records {
		out = append(out, r.Period)
	}
	return out
}
