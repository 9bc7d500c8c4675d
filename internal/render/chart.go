package render

import (
	"fmt"
	"io"
	"math"
	"strconv"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"imbalance-watch/internal/delta"
	"imbalance-watch/internal/generation"
	"imbalance-watch/internal/period"
	"imbalance-watch/internal/snapshot"
)

var (
	positiveColor = chart.ColorGreen
	negativeColor = chart.ColorRed
)

// signColor colours a value by its sign; faded points mark the previous publication.
func signColor(sign delta.Sign, faded bool) drawing.Color {
	c := negativeColor
	if sign == delta.Positive {
		c = positiveColor
	}
	if faded {
		return c.WithAlpha(110)
	}
	return c
}

// directionColor colours a previous to new connector; only increases are green.
func directionColor(d delta.Direction) drawing.Color {
	if d == delta.Increase {
		return positiveColor
	}
	return negativeColor
}

// SnapshotPNG draws the reconciled imbalance per settlement period as
// sign-coloured points. Periods without a value are left blank.
func SnapshotPNG(w io.Writer, s snapshot.Snapshot, opts Options) error {
	if s.IsEmpty() {
		return ErrNothingToRender
	}
	opts = opts.withDefaults()

	series, y := snapshotSeries(s)
	title := fmt.Sprintf("Imbalance per Settlement Period %s: published %s",
		s.Window().Target().Format("02 Jan 2006"),
		period.Localize(s.LatestPublish(), opts.Location).Format("15:04 MST"))

	graph := chart.Chart{
		Title:  title,
		Width:  opts.Width,
		Height: opts.Height,
		XAxis:  periodAxis(s.Order()),
		YAxis: chart.YAxis{
			Name:           "Imbalance (MW)",
			ValueFormatter: mwFormatter,
			Range:          paddedRange(y),
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{legend(
		legendEntry{"Positive", positiveColor, false},
		legendEntry{"Negative", negativeColor, false},
	)}

	return graph.Render(chart.PNG, w)
}

func snapshotSeries(s snapshot.Snapshot) ([]chart.Series, []float64) {
	records := s.Records()
	x := make([]float64, 0, len(records))
	y := make([]float64, 0, len(records))
	colors := make([]drawing.Color, 0, len(records))
	for _, rec := range records {
		pos, _ := s.Window().Position(rec.Key.Period)
		x = append(x, float64(pos))
		y = append(y, rec.Value.Decimal.InexactFloat64())
		colors = append(colors, signColor(delta.SignOf(rec.Value.Decimal), false))
	}
	return []chart.Series{pointSeries("Indicated imbalance", x, y, colors, 5)}, y
}

// DiffPNG draws the previous points faded, the new points bold, and a dotted
// connector per period carrying both values, green for increases and red
// otherwise. label, when set, is appended to the title.
func DiffPNG(w io.Writer, v delta.View, label string, opts Options) error {
	if len(v.Records) == 0 {
		return ErrNothingToRender
	}
	opts = opts.withDefaults()

	series, y := diffSeries(v)

	graph := chart.Chart{
		Title:  v.Title(label, opts.Location),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis:  periodAxis(period.CanonicalOrder()),
		YAxis: chart.YAxis{
			Name:           "Imbalance (MW)",
			ValueFormatter: mwFormatter,
			Range:          paddedRange(y),
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{legend(
		legendEntry{"Latest (Positive)", positiveColor, false},
		legendEntry{"Latest (Negative)", negativeColor, false},
		legendEntry{"Previous (Positive)", signColor(delta.Positive, true), false},
		legendEntry{"Previous (Negative)", signColor(delta.Negative, true), false},
		legendEntry{"Increase", positiveColor, true},
		legendEntry{"Decrease", negativeColor, true},
	)}

	return graph.Render(chart.PNG, w)
}

// diffSeries returns the point series followed by one connector per record
// with a delta, plus every plotted value for ranging.
func diffSeries(v delta.View) ([]chart.Series, []float64) {
	positions := make(map[int]int, period.PerDay)
	for i, p := range period.CanonicalOrder() {
		positions[p] = i
	}

	var (
		prevX, prevY, newX, newY []float64
		prevC, newC              []drawing.Color
		connectors               []chart.Series
	)
	for _, r := range v.Records {
		x := float64(positions[r.Period])
		if r.Previous.Valid {
			prevX = append(prevX, x)
			prevY = append(prevY, r.Previous.Decimal.InexactFloat64())
			prevC = append(prevC, signColor(r.PreviousSign, true))
		}
		if r.New.Valid {
			newX = append(newX, x)
			newY = append(newY, r.New.Decimal.InexactFloat64())
			newC = append(newC, signColor(r.NewSign, false))
		}
		if r.HasDelta() {
			connectors = append(connectors, chart.ContinuousSeries{
				XValues: []float64{x, x},
				YValues: []float64{r.Previous.Decimal.InexactFloat64(), r.New.Decimal.InexactFloat64()},
				Style: chart.Style{
					StrokeColor:     directionColor(r.Direction),
					StrokeWidth:     2,
					StrokeDashArray: []float64{4, 3},
				},
			})
		}
	}

	// go-chart rejects series without values, so partial views skip them.
	var series []chart.Series
	if len(prevY) > 0 {
		series = append(series, pointSeries("Previous", prevX, prevY, prevC, 3))
	}
	if len(newY) > 0 {
		series = append(series, pointSeries("Latest", newX, newY, newC, 5))
	}
	series = append(series, connectors...)

	return series, append(append([]float64{}, prevY...), newY...)
}

// GenerationPNG draws forecast against actual generation for one fuel.
func GenerationPNG(w io.Writer, fuel generation.Fuel, win period.Window, rows []generation.Row, opts Options) error {
	if len(rows) == 0 {
		return ErrNothingToRender
	}
	opts = opts.withDefaults()

	x := make([]float64, 0, len(rows))
	forecast := make([]float64, 0, len(rows))
	actual := make([]float64, 0, len(rows))
	diff := make([]float64, 0, len(rows))
	for _, row := range rows {
		pos, _ := win.Position(row.Key.Period)
		x = append(x, float64(pos))
		forecast = append(forecast, row.Forecast.InexactFloat64())
		actual = append(actual, row.Actual.InexactFloat64())
		diff = append(diff, row.Diff.InexactFloat64())
	}

	graph := chart.Chart{
		Title: fmt.Sprintf("%s generation forecast vs actual %s (%s)",
			fuel, win.Target().Format("02 Jan 2006"), opts.Location.String()),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis:  periodAxis(win.CanonicalOrder()),
		YAxis: chart.YAxis{
			Name:           "Generation (MW)",
			ValueFormatter: mwFormatter,
			Range:          paddedRange(append(append([]float64{}, forecast...), actual...)),
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Actual - forecast (MW)",
			ValueFormatter: mwFormatter,
			Range:          paddedRange(diff),
		},
		Series: generationSeries(x, forecast, actual, diff),
	}
	graph.Elements = []chart.Renderable{legend(
		legendEntry{string(fuel) + " forecast", chart.ColorAlternateGray, false},
		legendEntry{string(fuel) + " actual", chart.ColorBlue, false},
		legendEntry{"Difference", chart.ColorRed, false},
	)}

	return graph.Render(chart.PNG, w)
}

// generationSeries draws each contiguous run of periods as its own line so
// periods missing on either side stay blank.
func generationSeries(x, forecast, actual, diff []float64) []chart.Series {
	var series []chart.Series
	for _, run := range contiguousRuns(x) {
		lo, hi := run[0], run[1]
		xs := x[lo:hi]
		series = append(series,
			chart.ContinuousSeries{XValues: xs, YValues: forecast[lo:hi], Style: lineStyle(chart.ColorAlternateGray)},
			chart.ContinuousSeries{XValues: xs, YValues: actual[lo:hi], Style: lineStyle(chart.ColorBlue)},
			chart.ContinuousSeries{XValues: xs, YValues: diff[lo:hi], YAxis: chart.YAxisSecondary, Style: lineStyle(chart.ColorRed)},
		)
	}
	return series
}

// contiguousRuns splits ascending positions into [lo, hi) index ranges of
// consecutive values.
func contiguousRuns(x []float64) [][2]int {
	var runs [][2]int
	start := 0
	for i := 1; i <= len(x); i++ {
		if i == len(x) || x[i] != x[i-1]+1 {
			runs = append(runs, [2]int{start, i})
			start = i
		}
	}
	return runs
}

// pointSeries draws markers only; colors holds one entry per value.
func pointSeries(name string, x, y []float64, colors []drawing.Color, width float64) chart.ContinuousSeries {
	return chart.ContinuousSeries{
		Name:    name,
		XValues: x,
		YValues: y,
		Style: chart.Style{
			StrokeWidth: chart.Disabled,
			DotWidth:    width,
			DotColorProvider: func(_, _ chart.Range, i int, _, _ float64) drawing.Color {
				return colors[i]
			},
		},
	}
}

type legendEntry struct {
	label  string
	color  drawing.Color
	dotted bool
}

// legend renders fixed entries instead of one per series, since point and
// connector series carry no single colour of their own.
func legend(entries ...legendEntry) chart.Renderable {
	keys := chart.Chart{}
	for _, e := range entries {
		style := lineStyle(e.color)
		if e.dotted {
			style.StrokeDashArray = []float64{4, 3}
		}
		keys.Series = append(keys.Series, chart.ContinuousSeries{Name: e.label, Style: style})
	}
	return chart.Legend(&keys)
}

// periodAxis places one tick per canonical position labelled with its period.
func periodAxis(order []int) chart.XAxis {
	ticks := make([]chart.Tick, len(order))
	for i, p := range order {
		ticks[i] = chart.Tick{Value: float64(i), Label: strconv.Itoa(p)}
	}
	return chart.XAxis{
		Name:  "Settlement period",
		Ticks: ticks,
	}
}

// paddedRange never collapses to zero width; go-chart rejects flat axes.
func paddedRange(values []float64) *chart.ContinuousRange {
	if len(values) == 0 {
		return &chart.ContinuousRange{Min: -1, Max: 1}
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	pad := (hi - lo) * 0.05
	if pad == 0 {
		pad = math.Max(math.Abs(hi)*0.05, 1)
	}
	return &chart.ContinuousRange{Min: lo - pad, Max: hi + pad}
}

func lineStyle(c drawing.Color) chart.Style {
	return chart.Style{
		StrokeColor: c,
		StrokeWidth: 2,
		DotColor:    c,
		DotWidth:    3,
	}
}

func mwFormatter(v interface{}) string {
	return chart.FloatValueFormatterWithFormat(v, "%.0f")
}
