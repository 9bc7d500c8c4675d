package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"
)

const (
	// PerDay is the number of settlement periods published per calendar date.
	PerDay = 48
	// Prior is the number of trailing periods of D-1 that belong to local day D.
	Prior = 2
	// Current is the number of leading periods of D that belong to local day D.
	Current = PerDay - Prior

	// DateLayout is the wire and CLI format for settlement dates.
	DateLayout = "2006-01-02"
)

var (
	// ErrInvalidDate is returned for malformed or out-of-range settlement dates.
	ErrInvalidDate = errors.New("period: invalid settlement date")

	minDate = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)
	maxDate = time.Date(2099, time.December, 31, 0, 0, 0, 0, time.UTC)
)

// Key identifies one settlement period of one calendar date.
type Key struct {
	Date   time.Time
	Period int
}

// NewKey normalises date to UTC midnight.
func NewKey(date time.Time, p int) Key {
	return Key{Date: Day(date), Period: p}
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%02d", k.Date.Format(DateLayout), k.Period)
}

// Day returns the calendar date of t, read in t's own location, as UTC
// midnight. Local midnight of 7 Dec in Berlin is therefore 7 Dec.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD settlement date.
func ParseDate(s string) (time.Time, error) {
	parsed, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	if err := validate(parsed); err != nil {
		return time.Time{}, err
	}
	return parsed, nil
}

func validate(d time.Time) error {
	if d.IsZero() {
		return fmt.Errorf("%w: zero date", ErrInvalidDate)
	}
	day := Day(d)
	if day.Before(minDate) || day.After(maxDate) {
		return fmt.Errorf("%w: %s outside %s..%s", ErrInvalidDate,
			day.Format(DateLayout), minDate.Format(DateLayout), maxDate.Format(DateLayout))
	}
	return nil
}

// Localize returns t expressed in loc. The input is never modified, so
// applying it to an already localized value yields the same instant.
func Localize(t time.Time, loc *time.Location) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc)
}

// LoadLocation resolves an IANA zone name, defaulting to UTC when empty.
func LoadLocation(name string) (*time.Location, error) {
	if strings.TrimSpace(name) == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load location %q: %w", name, err)
	}
	return loc, nil
}
