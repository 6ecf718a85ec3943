package clock

import (
	"fmt"
	"time"
)

// All instants handled by the dispatch engine are canonical UTC values.
// Display timezones exist only at the edges: a user enters a wall-clock
// date/time in their zone, we convert it once on the way in, and convert
// back once on the way out. Nothing in between ever does offset math.

const wallClockLayout = "2006-01-02 15:04"

// Clock abstracts "now" so batch runs are deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the real current instant in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// FakeClock is a settable clock for tests.
type FakeClock struct {
	Current time.Time
}

func (f *FakeClock) Now() time.Time {
	return f.Current.UTC()
}

// Advance moves the fake clock forward.
func (f *FakeClock) Advance(d time.Duration) {
	f.Current = f.Current.Add(d)
}

// ToCanonical converts a user-entered date ("2006-01-02") and time ("15:04")
// in the given IANA display zone into the canonical UTC instant.
func ToCanonical(date, tm, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", zone, err)
	}

	local, err := time.ParseInLocation(wallClockLayout, date+" "+tm, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse local time %q %q: %w", date, tm, err)
	}

	return local.UTC(), nil
}

// ToDisplay converts a canonical instant into wall-clock time in the given
// display zone, for presentation only.
func ToDisplay(instant time.Time, zone string) (time.Time, error) {
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return time.Time{}, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return instant.In(loc), nil
}
