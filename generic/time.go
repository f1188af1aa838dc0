package generic

import (
	"time"
)

// =============================================================================
// CLOCK - Injectable "now" so imports and tests are deterministic
// =============================================================================

// Clock returns the current time.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now() }

// FixedClock always returns t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Constructors
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// DateOf drops the time-of-day, keeping the calendar date in UTC.
func DateOf(t time.Time) time.Time {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func Today(clock Clock) time.Time {
	if clock == nil {
		clock = SystemClock
	}
	return DateOf(clock())
}

// FormatDate renders an optional date as YYYY-MM-DD, or "" when unknown.
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

// ParseDate is the inverse of FormatDate.
func ParseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil
	}
	return &t
}
