// Package timeutil provides the platform clock and calendar helpers.
// Week windows are calendar dates in South African Standard Time (UTC+2, no DST),
// so all day arithmetic happens in that zone.
package timeutil

import (
	"fmt"
	"sync"
	"time"
)

// SAST is South African Standard Time (UTC+2, no DST).
var SAST = time.FixedZone("Africa/Johannesburg", 2*60*60)

// DateLayout is the wire format for calendar dates.
const DateLayout = "2006-01-02"

// Clock abstracts the current time so that week selection is testable.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time {
	return time.Now().In(SAST)
}

// FixedClock always returns the same instant until moved.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

// NewFixedClock creates a FixedClock at t.
func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

// Now implements Clock.
func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

// Set moves the clock to t.
func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// Now returns the current time in SAST.
func Now() time.Time {
	return time.Now().In(SAST)
}

// Date creates midnight SAST on the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, SAST)
}

// StartOfDay returns 00:00:00 SAST of t's day.
func StartOfDay(t time.Time) time.Time {
	s := t.In(SAST)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, SAST)
}

// CalendarDate keeps t's year, month and day as read in t's own location and
// returns midnight SAST of that date. DATE columns scan as UTC midnight; this
// puts them back on the local calendar without shifting the day.
func CalendarDate(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, SAST)
}

// EndOfDay returns 23:59:59.999999999 SAST of t's day.
func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// ParseDate parses a YYYY-MM-DD date as midnight SAST.
func ParseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, value, SAST)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// FormatDate formats t as YYYY-MM-DD in SAST.
func FormatDate(t time.Time) string {
	return t.In(SAST).Format(DateLayout)
}

// DaysBetween returns whole calendar days from t1 to t2.
func DaysBetween(t1, t2 time.Time) int {
	return int(StartOfDay(t2).Sub(StartOfDay(t1)).Hours() / 24)
}
