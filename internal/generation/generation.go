package generation

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

// Fuel is the coarse generation type a psrType rolls up to.
type Fuel string

const (
	Wind  Fuel = "Wind"
	Solar Fuel = "Solar"
)

// Fuels lists the supported fuels in display order.
var Fuels = []Fuel{Wind, Solar}

// FuelFor classifies a BMRS psrType such as "Wind Offshore" or "Solar".
func FuelFor(psrType string) (Fuel, bool) {
	lower := strings.ToLower(psrType)
	switch {
	case strings.Contains(lower, "solar"):
		return Solar, true
	case strings.Contains(lower, "wind"):
		return Wind, true
	default:
		return "", false
	}
}

// Row is forecast against actual generation for one fuel and settlement period.
type Row struct {
	Key            period.Key
	Fuel           Fuel
	StartTime      time.Time
	StartTimeLocal time.Time
	Forecast       decimal.Decimal
	Actual         decimal.Decimal
	Diff           decimal.Decimal
}

// Comparison holds the aligned rows of one window, per fuel, in canonical order.
type Comparison struct {
	Window period.Window
	Rows   map[Fuel][]Row
}

// Fuel returns the rows for f.
func (c Comparison) Fuel(f Fuel) []Row { return c.Rows[f] }

// Len counts rows across every fuel.
func (c Comparison) Len() int {
	n := 0
	for _, rows := range c.Rows {
		n += len(rows)
	}
	return n
}

type fuelKey struct {
	key  period.Key
	fuel Fuel
}

type total struct {
	sum        decimal.Decimal
	start      time.Time
	startLocal time.Time
}

// Align reduces forecast and actual records per psrType, sums them per fuel
// and keeps only periods present on both sides. Diff is actual minus forecast.
func Align(w period.Window, forecast, actual []snapshot.Record) Comparison {
	f := sumByFuel(w, forecast)
	a := sumByFuel(w, actual)

	out := Comparison{Window: w, Rows: make(map[Fuel][]Row)}
	for k, fc := range f {
		ac, ok := a[k]
		if !ok {
			continue
		}
		start, startLocal := fc.start, fc.startLocal
		if start.IsZero() {
			start, startLocal = ac.start, ac.startLocal
		}
		out.Rows[k.fuel] = append(out.Rows[k.fuel], Row{
			Key:            k.key,
			Fuel:           k.fuel,
			StartTime:      start,
			StartTimeLocal: startLocal,
			Forecast:       fc.sum,
			Actual:         ac.sum,
			Diff:           ac.sum.Sub(fc.sum),
		})
	}

	for fuel, rows := range out.Rows {
		sort.Slice(rows, func(i, j int) bool {
			pi, _ := w.Position(rows[i].Key.Period)
			pj, _ := w.Position(rows[j].Key.Period)
			return pi < pj
		})
		out.Rows[fuel] = rows
	}
	return out
}

func sumByFuel(w period.Window, records []snapshot.Record) map[fuelKey]total {
	out := make(map[fuelKey]total)
	for series, snap := range snapshot.ReduceSeries(records, w) {
		fuel, ok := FuelFor(series)
		if !ok {
			continue
		}
		for _, rec := range snap.Records() {
			k := fuelKey{key: rec.Key, fuel: fuel}
			t := out[k]
			t.sum = t.sum.Add(rec.Value.Decimal)
			if t.start.IsZero() || rec.StartTime.Before(t.start) {
				t.start = rec.StartTime
				t.startLocal = rec.StartTimeLocal
			}
			out[k] = t
		}
	}
	return out
}
