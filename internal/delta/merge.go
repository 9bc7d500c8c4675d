package delta

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

type mergeKey struct {
	date   time.Time
	period int
}

type keyFunc func(snapshot.Record) mergeKey

func keyFuncFor(mode Mode) keyFunc {
	if mode == SameDate {
		return func(r snapshot.Record) mergeKey {
			return mergeKey{date: r.Key.Date, period: r.Key.Period}
		}
	}
	return func(r snapshot.Record) mergeKey {
		return mergeKey{period: r.Key.Period}
	}
}

// merge is an outer join of both snapshots on key, ordered canonically.
func merge(previous, latest snapshot.Snapshot, key keyFunc) []Record {
	prevIdx := index(previous, key)
	newIdx := index(latest, key)

	seen := make(map[mergeKey]struct{}, len(prevIdx)+len(newIdx))
	keys := make([]mergeKey, 0, len(prevIdx)+len(newIdx))
	for _, s := range []snapshot.Snapshot{previous, latest} {
		for _, r := range s.Records() {
			k := key(r)
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}

	positions := canonicalPositions()
	sort.SliceStable(keys, func(i, j int) bool {
		return positions[keys[i].period] < positions[keys[j].period]
	})

	out := make([]Record, 0, len(keys))
	for _, k := range keys {
		r := Record{Period: k.period}
		if prev, ok := prevIdx[k]; ok {
			r.Previous = prev.Value
			r.PreviousSign = SignOf(prev.Value.Decimal)
		}
		if next, ok := newIdx[k]; ok {
			r.New = next.Value
			r.NewSign = SignOf(next.Value.Decimal)
		}
		if r.Previous.Valid && r.New.Valid {
			d := r.New.Decimal.Sub(r.Previous.Decimal)
			r.Delta = decimal.NewNullDecimal(d)
			r.Direction = DirectionOf(d)
		}
		out = append(out, r)
	}
	return out
}

func index(s snapshot.Snapshot, key keyFunc) map[mergeKey]snapshot.Record {
	idx := make(map[mergeKey]snapshot.Record, s.Len())
	for _, r := range s.Records() {
		idx[key(r)] = r
	}
	return idx
}

func canonicalPositions() map[int]int {
	order := period.CanonicalOrder()
	positions := make(map[int]int, len(order))
	for i, p := range order {
		positions[p] = i
	}
	return positions
}

// Title labels a comparative chart. The publish times are shown in loc.
func (v View) Title(label string, loc *time.Location) string {
	prevTime := period.Localize(v.PreviousPublish, loc).Format("15:04 MST")
	newTime := period.Localize(v.LatestPublish, loc).Format("15:04 MST")

	var title string
	if v.Mode == SameDate {
		title = fmt.Sprintf("Imbalance per Settlement Period %s: %s vs %s",
			v.LatestTarget.Format("02 Jan 2006"), prevTime, newTime)
	} else {
		title = fmt.Sprintf("Imbalance per Settlement Period %s %s vs %s %s",
			v.PreviousTarget.Format("02 Jan 2006"), prevTime,
			v.LatestTarget.Format("02 Jan 2006"), newTime)
	}
	if label != "" {
		title = fmt.Sprintf("%s (%s)", title, label)
	}
	return title
}
