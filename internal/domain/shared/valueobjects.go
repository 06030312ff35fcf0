// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// UUID validation regex (simple version).
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsUUID reports whether s looks like a canonical UUID.
func IsUUID(s string) bool {
	return uuidRegex.MatchString(s)
}

// ═══════════════════════════════════════════════════════════════════════════
// Email Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Email represents a normalized e-mail address used as a sign-in handle.
type Email string

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValid checks if the email has a plausible shape.
func (e Email) IsValid() bool {
	return len(e) <= 254 && emailRegex.MatchString(string(e))
}

// String returns the string representation.
func (e Email) String() string {
	return string(e)
}

// NewEmail creates a normalized Email with validation.
func NewEmail(value string) (Email, error) {
	e := Email(strings.ToLower(strings.TrimSpace(value)))
	if !e.IsValid() {
		return "", fmt.Errorf("%w: email %q", ErrInvalidFormat, value)
	}
	return e, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Percent Value Object
// ═══════════════════════════════════════════════════════════════════════════

// Percent is an integer percentage in the range 0-100.
type Percent int

// PercentOf returns part/whole as a floored percentage, clamped to 0-100.
// A zero whole yields 0.
func PercentOf(part, whole int) Percent {
	if whole <= 0 || part <= 0 {
		return 0
	}
	if part >= whole {
		return 100
	}
	return Percent(part * 100 / whole)
}

// Int returns the underlying int value.
func (p Percent) Int() int {
	return int(p)
}

// ═══════════════════════════════════════════════════════════════════════════
// DateRange Value Object
// ═══════════════════════════════════════════════════════════════════════════

// DateRange is an inclusive calendar range. Start and End are compared at
// day granularity, so a range ending on Friday covers the whole of Friday.
// Days are read in Start's location; both bounds must carry the zone the
// range is meant for.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange creates a DateRange with validation.
func NewDateRange(start, end time.Time) (DateRange, error) {
	if start.IsZero() || end.IsZero() {
		return DateRange{}, fmt.Errorf("%w: date range bounds are required", ErrEmptyValue)
	}
	if end.Before(start) {
		return DateRange{}, fmt.Errorf("%w: range ends before it starts", ErrValueOutOfRange)
	}
	return DateRange{Start: start, End: end}, nil
}

// Contains reports whether t falls on or between the start and end days.
func (r DateRange) Contains(t time.Time) bool {
	day := truncateDay(t.In(r.Start.Location()))
	return !day.Before(truncateDay(r.Start)) && !day.After(truncateDay(r.End))
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
