/*
types.go - Time values and enumerations shared by the whole engine

PURPOSE:
  Defines the two physical time representations an event can use and the
  small enums (frequency, calendar system, weekday codes) that the rest of
  the engine switches on.

TIME REPRESENTATIONS:
  TimeUTC:   absolute instant, stored as Unix seconds
  TimeLocal: floating civil date/time (y, m, d, h, mi, s) with no zone

  Instances always use the representation of their event's start. Floating
  values compare at whole-day granularity inside the expansion engine
  (CompareGranular); storage ordering uses the full value (Compare).

SEE ALSO:
  - rule.go: RecurrenceRule and Range
  - event.go: Event and Instance
  - arith.go: Calendar arithmetic provider
*/
package calendar

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// DATE TIME
// =============================================================================

// TimeType selects the physical representation of a DateTime.
type TimeType int

const (
	TimeUTC TimeType = iota
	TimeLocal
)

func (t TimeType) String() string {
	if t == TimeLocal {
		return "local"
	}
	return "utc"
}

// DateTime is either an absolute instant or a floating civil date/time.
type DateTime struct {
	Type TimeType

	// TimeUTC
	Unix int64

	// TimeLocal
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int
	Second int
}

const (
	localLayout = "2006-01-02T15:04:05"
	dateLayout  = "2006-01-02"
)

// UTC returns an absolute instant.
func UTC(sec int64) DateTime { return DateTime{Type: TimeUTC, Unix: sec} }

// FromTime returns the absolute instant of t.
func FromTime(t time.Time) DateTime { return UTC(t.Unix()) }

// Local returns a floating civil date/time.
func Local(year, month, day, hour, minute, second int) DateTime {
	return DateTime{
		Type: TimeLocal, Year: year, Month: month, Day: day,
		Hour: hour, Minute: minute, Second: second,
	}
}

// LocalFromTime returns the floating civil fields of t in t's own location.
func LocalFromTime(t time.Time) DateTime {
	return Local(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

func (d DateTime) IsLocal() bool { return d.Type == TimeLocal }

// IsZero reports whether d is the zero value.
func (d DateTime) IsZero() bool { return d == DateTime{} }

// Time converts d to a time.Time. Floating values are placed in UTC.
func (d DateTime) Time() time.Time {
	if d.Type == TimeLocal {
		return time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, time.UTC)
	}
	return time.Unix(d.Unix, 0).UTC()
}

// In converts d to the representation tt. Floating values are interpreted
// in loc; instants are rendered as civil fields in loc.
func (d DateTime) In(tt TimeType, loc *time.Location) DateTime {
	if loc == nil {
		loc = time.UTC
	}
	if d.Type == tt {
		return d
	}
	if tt == TimeLocal {
		return LocalFromTime(time.Unix(d.Unix, 0).In(loc))
	}
	return FromTime(time.Date(d.Year, time.Month(d.Month), d.Day, d.Hour, d.Minute, d.Second, 0, loc))
}

// DateOnly returns the civil date of d (floating values only keep y/m/d).
func (d DateTime) DateOnly() DateTime {
	c := d.civil()
	return Local(c.Year, c.Month, c.Day, 0, 0, 0)
}

// civil returns the floating view of d; instants are rendered in UTC.
func (d DateTime) civil() DateTime {
	if d.Type == TimeLocal {
		return d
	}
	return LocalFromTime(time.Unix(d.Unix, 0).UTC())
}

// Compare orders two values using the full value.
func (d DateTime) Compare(o DateTime) int {
	if d.Type == TimeUTC && o.Type == TimeUTC {
		return cmpInt64(d.Unix, o.Unix)
	}
	a, b := d.civil(), o.civil()
	for _, p := range [][2]int{
		{a.Year, b.Year}, {a.Month, b.Month}, {a.Day, b.Day},
		{a.Hour, b.Hour}, {a.Minute, b.Minute}, {a.Second, b.Second},
	} {
		if c := cmpInt64(int64(p[0]), int64(p[1])); c != 0 {
			return c
		}
	}
	return 0
}

// CompareDate orders two values by civil date only.
func (d DateTime) CompareDate(o DateTime) int {
	return d.DateOnly().Compare(o.DateOnly())
}

// CompareGranular compares at the granularity of the representation:
// full instants when both are absolute, whole days otherwise.
func (d DateTime) CompareGranular(o DateTime) int {
	if d.Type == TimeLocal || o.Type == TimeLocal {
		return d.CompareDate(o)
	}
	return d.Compare(o)
}

func (d DateTime) Before(o DateTime) bool { return d.Compare(o) < 0 }
func (d DateTime) After(o DateTime) bool  { return d.Compare(o) > 0 }
func (d DateTime) Equal(o DateTime) bool  { return d.Compare(o) == 0 }

// String renders instants as RFC 3339 in UTC and floating values without a zone.
func (d DateTime) String() string {
	if d.Type == TimeLocal {
		return d.Time().Format(localLayout)
	}
	return d.Time().Format(time.RFC3339)
}

// ParseDateTime accepts RFC 3339 (absolute), "2006-01-02T15:04:05" and
// "2006-01-02" (floating).
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return FromTime(t), nil
	}
	if t, err := time.Parse(localLayout, s); err == nil {
		return LocalFromTime(t), nil
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return LocalFromTime(t), nil
	}
	return DateTime{}, fmt.Errorf("invalid date-time %q", s)
}

func (d DateTime) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DateTime) UnmarshalText(b []byte) error {
	v, err := ParseDateTime(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// DaysBetween returns the number of whole civil days from a to b.
func DaysBetween(a, b DateTime) int {
	from, to := a.DateOnly().Time(), b.DateOnly().Time()
	return int(to.Sub(from).Hours() / 24)
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// =============================================================================
// FREQUENCY
// =============================================================================

// Frequency is the period a recurrence rule repeats over.
type Frequency int

const (
	FreqNone Frequency = iota
	FreqDaily
	FreqWeekly
	FreqMonthly
	FreqYearly
)

var frequencyNames = map[Frequency]string{
	FreqNone:    "NONE",
	FreqDaily:   "DAILY",
	FreqWeekly:  "WEEKLY",
	FreqMonthly: "MONTHLY",
	FreqYearly:  "YEARLY",
}

func (f Frequency) String() string {
	if s, ok := frequencyNames[f]; ok {
		return s
	}
	return fmt.Sprintf("Frequency(%d)", int(f))
}

// ParseFrequency accepts the RFC 5545 names (case-insensitive) and "" for none.
func ParseFrequency(s string) (Frequency, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return FreqNone, nil
	}
	for f, name := range frequencyNames {
		if name == s {
			return f, nil
		}
	}
	return FreqNone, &RuleError{Field: "freq", Value: s, Reason: "unknown frequency"}
}

func (f Frequency) MarshalText() ([]byte, error) { return []byte(f.String()), nil }

func (f *Frequency) UnmarshalText(b []byte) error {
	v, err := ParseFrequency(string(b))
	if err != nil {
		return err
	}
	*f = v
	return nil
}

// =============================================================================
// CALENDAR SYSTEM
// =============================================================================

// System selects how the arithmetic provider resolves civil fields.
type System string

const (
	SystemSolar     System = "solar"
	SystemLunisolar System = "lunisolar"
)

// =============================================================================
// WEEKDAY CODES
// =============================================================================

var weekdayCodes = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// WeekdayCode returns the two-letter RFC 5545 code of wd.
func WeekdayCode(wd time.Weekday) string { return weekdayCodes[wd] }

// ParseWeekday parses a two-letter weekday code ("MO").
func ParseWeekday(code string) (time.Weekday, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	for i, c := range weekdayCodes {
		if c == code {
			return time.Weekday(i), nil
		}
	}
	return time.Sunday, &RuleError{Field: "weekday", Value: code, Reason: "unknown weekday code"}
}
