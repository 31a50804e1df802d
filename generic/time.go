package generic

import (
	"fmt"
	"sync"
	"time"
)

// =============================================================================
// DATE - Calendar date at day granularity (UTC midnight)
// =============================================================================

// DateLayout is the wire and storage format for dates.
const DateLayout = "2006-01-02"

type Date struct {
	Time time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in UTC.
func DateOf(t time.Time) Date {
	t = t.UTC()
	return NewDate(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Comparison
func (d Date) Before(other Date) bool        { return d.Time.Before(other.Time) }
func (d Date) After(other Date) bool         { return d.Time.After(other.Time) }
func (d Date) Equal(other Date) bool         { return d.Time.Equal(other.Time) }
func (d Date) BeforeOrEqual(other Date) bool { return !d.After(other) }
func (d Date) AfterOrEqual(other Date) bool  { return !d.Before(other) }

// Arithmetic
func (d Date) AddDays(n int) Date  { return Date{Time: d.Time.AddDate(0, 0, n)} }
func (d Date) AddYears(n int) Date { return Date{Time: d.Time.AddDate(n, 0, 0)} }

// Properties
func (d Date) Year() int          { return d.Time.Year() }
func (d Date) Month() time.Month  { return d.Time.Month() }
func (d Date) Day() int           { return d.Time.Day() }
func (d Date) IsZero() bool       { return d.Time.IsZero() }
func (d Date) String() string     { return d.Time.Format(DateLayout) }

// DaysBetween returns the signed number of whole days from -> to.
func DaysBetween(from, to Date) int {
	return int(to.Time.Sub(from.Time).Hours() / 24)
}

// DaysInclusive counts calendar days in [start, end]. Zero when end < start.
func DaysInclusive(start, end Date) int {
	if end.Before(start) {
		return 0
	}
	return DaysBetween(start, end) + 1
}

// Overlaps reports whether [aStart, aEnd] and [bStart, bEnd] share a day.
func Overlaps(aStart, aEnd, bStart, bEnd Date) bool {
	return aStart.BeforeOrEqual(bEnd) && aEnd.AfterOrEqual(bStart)
}

func StartOfYear(year int) Date { return NewDate(year, time.January, 1) }
func EndOfYear(year int) Date   { return NewDate(year, time.December, 31) }

// =============================================================================
// CLOCK - Source of "now" and "today"
// =============================================================================

// Clock supplies the current instant. Every date-sensitive rule reads today
// through a Clock so tests can pin it.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant until Set is called.
type FixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{now: t.UTC()}
}

// FixedClockAt pins the clock to noon UTC on the given date.
func FixedClockAt(d Date) *FixedClock {
	return NewFixedClock(d.Time.Add(12 * time.Hour))
}

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Today returns the clock's current calendar day.
func Today(c Clock) Date {
	return DateOf(c.Now())
}
