package period

import "time"

// Window is the ordered set of settlement periods that make up one local day.
// The last Prior periods of the previous date come first, followed by the
// first Current periods of the target date.
type Window struct {
	target time.Time
	keys   []Key
	order  []int
}

// Segment groups the periods a window needs from one calendar date.
type Segment struct {
	Date    time.Time
	Periods []int
}

// WindowFor builds the local-day window for target date d.
func WindowFor(d time.Time) (Window, error) {
	if err := validate(d); err != nil {
		return Window{}, err
	}

	target := Day(d)
	prior := target.AddDate(0, 0, -1)

	keys := make([]Key, 0, PerDay)
	for p := PerDay - Prior + 1; p <= PerDay; p++ {
		keys = append(keys, Key{Date: prior, Period: p})
	}
	for p := 1; p <= Current; p++ {
		keys = append(keys, Key{Date: target, Period: p})
	}

	order := make([]int, len(keys))
	for i, k := range keys {
		order[i] = k.Period
	}

	return Window{target: target, keys: keys, order: order}, nil
}

// MustWindow is WindowFor for dates already validated by the caller.
func MustWindow(d time.Time) Window {
	w, err := WindowFor(d)
	if err != nil {
		panic(err)
	}
	return w
}

// Target is the local calendar date the window represents.
func (w Window) Target() time.Time { return w.target }

// Prior is the calendar date contributing the leading periods.
func (w Window) Prior() time.Time { return w.target.AddDate(0, 0, -1) }

// IsZero reports whether the window was never built.
func (w Window) IsZero() bool { return len(w.keys) == 0 }

// Equal reports whether both windows denote the same target date.
func (w Window) Equal(other Window) bool {
	return w.target.Equal(other.target)
}

// Keys returns a copy of the window's keys in canonical order.
func (w Window) Keys() []Key {
	out := make([]Key, len(w.keys))
	copy(out, w.keys)
	return out
}

// CanonicalOrder is the display sequence of period indices, e.g. 47, 48, 1..46.
func (w Window) CanonicalOrder() []int {
	out := make([]int, len(w.order))
	copy(out, w.order)
	return out
}

// Position returns the index of period p in the canonical order.
func (w Window) Position(p int) (int, bool) {
	for i, candidate := range w.order {
		if candidate == p {
			return i, true
		}
	}
	return 0, false
}

// KeyFor returns the key that carries period p within this window.
func (w Window) KeyFor(p int) (Key, bool) {
	idx, ok := w.Position(p)
	if !ok {
		return Key{}, false
	}
	return w.keys[idx], true
}

// Contains reports whether k is one of the window's keys.
func (w Window) Contains(k Key) bool {
	candidate, ok := w.KeyFor(k.Period)
	return ok && candidate.Date.Equal(Day(k.Date))
}

// Segments splits the window per calendar date for the fetch layer.
func (w Window) Segments() []Segment {
	segments := make([]Segment, 0, 2)
	for _, k := range w.keys {
		n := len(segments)
		if n == 0 || !segments[n-1].Date.Equal(k.Date) {
			segments = append(segments, Segment{Date: k.Date})
			n++
		}
		segments[n-1].Periods = append(segments[n-1].Periods, k.Period)
	}
	return segments
}

// CanonicalOrder is the period order shared by every window.
func CanonicalOrder() []int {
	order := make([]int, 0, PerDay)
	for p := PerDay - Prior + 1; p <= PerDay; p++ {
		order = append(order, p)
	}
	for p := 1; p <= Current; p++ {
		order = append(order, p)
	}
	return order
}
