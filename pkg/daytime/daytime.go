// Package daytime provides a validated wall-clock time-of-day value.
//
// A daytime.Time is a minute-precision "HH:MM" in the process-local day.
// It deliberately carries no date and no timezone; callers anchor it with
// NextAfter against a concrete instant.
package daytime

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ErrInvalidFormat is returned by Parse for anything that is not a valid
// H:MM / HH:MM 24-hour time.
var ErrInvalidFormat = errors.New("invalid time of day (use HH:MM, 24-hour)")

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// Time is an immutable time-of-day value. The zero value is midnight.
type Time struct {
	hour   int
	minute int
}

// New builds a Time from hour/minute, validating the ranges.
func New(hour, minute int) (Time, error) {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Time{}, fmt.Errorf("%w: %02d:%02d out of range", ErrInvalidFormat, hour, minute)
	}
	return Time{hour: hour, minute: minute}, nil
}

// Parse accepts exactly "H:MM" or "HH:MM" with hour 0..23 and minute 0..59.
// Any other shape (missing colon, extra fields, non-numeric, out-of-range)
// yields ErrInvalidFormat.
func Parse(s string) (Time, error) {
	m := reHHMM.FindStringSubmatch(s)
	if len(m) != 3 {
		return Time{}, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	return New(hh, mm)
}

// Hour returns the hour in 0..23.
func (t Time) Hour() int { return t.hour }

// Minute returns the minute in 0..59.
func (t Time) Minute() int { return t.minute }

// String renders the canonical zero-padded form, e.g. "08:30".
// Parse(t.String()) always round-trips to t.
func (t Time) String() string {
	return fmt.Sprintf("%02d:%02d", t.hour, t.minute)
}

// Before reports whether t is earlier in the day than other.
func (t Time) Before(other Time) bool {
	if t.hour != other.hour {
		return t.hour < other.hour
	}
	return t.minute < other.minute
}

// NextAfter returns the next instant strictly after now whose local wall
// clock reads t, i.e. today's occurrence if it is still ahead, otherwise
// tomorrow's.
func (t Time) NextAfter(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), t.hour, t.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
