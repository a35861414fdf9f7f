package calendar

import (
	"errors"
	"fmt"
	"time"
)

// ErrFieldOutOfRange is wrapped by ArithmeticError when Set receives a value
// outside the field's range.
var ErrFieldOutOfRange = errors.New("field value out of range")

// =============================================================================
// GREGORIAN PROVIDER - Solar calendar backed by the time package
// =============================================================================

// Gregorian implements Provider for SystemSolar.
type Gregorian struct{}

func NewGregorian() Gregorian { return Gregorian{} }

// Open returns a context in zone tzid. Lunisolar arithmetic is not available.
func (Gregorian) Open(system System, tzid string, weekStart time.Weekday) (Context, error) {
	switch system {
	case SystemSolar, "":
	case SystemLunisolar:
		return nil, &ArithmeticError{Op: "open", Err: ErrUnsupportedCalendar}
	default:
		return nil, &ArithmeticError{Op: "open", Err: fmt.Errorf("%w: %q", ErrUnsupportedCalendar, system)}
	}
	if weekStart < time.Sunday || weekStart > time.Saturday {
		return nil, &ArithmeticError{Op: "open", Err: fmt.Errorf("invalid week start %d", weekStart)}
	}
	if tzid == "" {
		tzid = "UTC"
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return nil, &ArithmeticError{Op: "open", Err: err}
	}
	return &gregorianContext{
		loc:       loc,
		weekStart: weekStart,
		t:         time.Date(1970, time.January, 1, 0, 0, 0, 0, loc),
	}, nil
}

type gregorianContext struct {
	loc       *time.Location
	weekStart time.Weekday
	floating  bool
	t         time.Time
}

func (c *gregorianContext) zone() *time.Location {
	if c.floating {
		return time.UTC
	}
	return c.loc
}

func (c *gregorianContext) SetInstant(v DateTime) error {
	if v.Type == TimeLocal {
		if v.Month < 1 || v.Month > 12 || v.Day < 1 || v.Day > daysIn(v.Year, time.Month(v.Month)) ||
			v.Hour < 0 || v.Hour > 23 || v.Minute < 0 || v.Minute > 59 || v.Second < 0 || v.Second > 59 {
			return &ArithmeticError{Op: "set_instant", Err: fmt.Errorf("%w: %s", ErrFieldOutOfRange, v)}
		}
		c.floating = true
		c.t = time.Date(v.Year, time.Month(v.Month), v.Day, v.Hour, v.Minute, v.Second, 0, time.UTC)
		return nil
	}
	c.floating = false
	c.t = time.Unix(v.Unix, 0).In(c.loc)
	return nil
}

func (c *gregorianContext) Instant() DateTime {
	if c.floating {
		return LocalFromTime(c.t)
	}
	return FromTime(c.t)
}

func (c *gregorianContext) Clone() Context {
	cp := *c
	return &cp
}

func (c *gregorianContext) Get(f Field) int {
	switch f {
	case FieldYear:
		return c.t.Year()
	case FieldMonth:
		return int(c.t.Month())
	case FieldDay:
		return c.t.Day()
	case FieldHour:
		return c.t.Hour()
	case FieldMinute:
		return c.t.Minute()
	case FieldSecond:
		return c.t.Second()
	case FieldDayOfWeek:
		return int(c.t.Weekday())
	case FieldDayOfWeekInMonth:
		return (c.t.Day()-1)/7 + 1
	case FieldWeekOfYear:
		return weekOfYear(civilDate(c.t), c.weekStart)
	case FieldDayOfYear:
		return c.t.YearDay()
	}
	return 0
}

func (c *gregorianContext) Set(f Field, v int) error {
	if !inRange(f, v) {
		return &ArithmeticError{Op: "set", Field: f, Value: v, Err: ErrFieldOutOfRange}
	}
	y, mo, d := c.t.Date()
	h, mi, s := c.t.Clock()

	switch f {
	case FieldYear:
		y = v
	case FieldMonth:
		mo = time.Month(v)
	case FieldDay:
		d = v
	case FieldHour:
		h = v
	case FieldMinute:
		mi = v
	case FieldSecond:
		s = v
	case FieldDayOfWeek:
		d += offsetInWeek(time.Weekday(v), c.weekStart) - offsetInWeek(c.t.Weekday(), c.weekStart)
	case FieldDayOfWeekInMonth:
		wd := c.t.Weekday()
		if v > 0 {
			first := time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC).Weekday()
			d = 1 + (int(wd)-int(first)+7)%7 + (v-1)*7
		} else {
			last := daysIn(y, mo)
			lastWd := time.Date(y, mo, last, 0, 0, 0, 0, time.UTC).Weekday()
			d = last - (int(lastWd)-int(wd)+7)%7 + (v+1)*7
		}
	case FieldWeekOfYear:
		n := v
		if n < 0 {
			n = weeksInYear(y, c.weekStart) + 1 + n
		}
		target := firstWeekStart(y, c.weekStart).AddDate(0, 0, (n-1)*7+offsetInWeek(c.t.Weekday(), c.weekStart))
		y, mo, d = target.Date()
	case FieldDayOfYear:
		var target time.Time
		if v > 0 {
			target = time.Date(y, time.January, v, 0, 0, 0, 0, time.UTC)
		} else {
			target = time.Date(y, time.December, 32+v, 0, 0, 0, 0, time.UTC)
		}
		y, mo, d = target.Date()
	}

	c.t = time.Date(y, mo, d, h, mi, s, 0, c.zone())
	return nil
}

func (c *gregorianContext) Add(f Field, amount int) error {
	switch f {
	case FieldYear, FieldMonth:
		y, mo, d := c.t.Date()
		h, mi, s := c.t.Clock()
		if f == FieldYear {
			y += amount
		} else {
			mo += time.Month(amount)
		}
		first := time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
		if max := daysIn(first.Year(), first.Month()); d > max {
			d = max
		}
		c.t = time.Date(first.Year(), first.Month(), d, h, mi, s, 0, c.zone())
	case FieldWeekOfYear:
		c.t = c.t.AddDate(0, 0, 7*amount)
	case FieldDay, FieldDayOfYear, FieldDayOfWeek:
		c.t = c.t.AddDate(0, 0, amount)
	case FieldHour:
		c.t = c.t.Add(time.Duration(amount) * time.Hour)
	case FieldMinute:
		c.t = c.t.Add(time.Duration(amount) * time.Minute)
	case FieldSecond:
		c.t = c.t.Add(time.Duration(amount) * time.Second)
	default:
		return &ArithmeticError{Op: "add", Field: f, Value: amount, Err: errors.New("field cannot be added to")}
	}
	return nil
}

// =============================================================================
// WEEK MATH
// =============================================================================
// Week 1 is the first week (starting on weekStart) with at least four days in
// the new year, i.e. the week containing January 4. With a Monday week start
// this is ISO 8601 numbering.

func offsetInWeek(wd, weekStart time.Weekday) int {
	return (int(wd) - int(weekStart) + 7) % 7
}

func firstWeekStart(year int, weekStart time.Weekday) time.Time {
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	return jan4.AddDate(0, 0, -offsetInWeek(jan4.Weekday(), weekStart))
}

func weeksInYear(year int, weekStart time.Weekday) int {
	span := firstWeekStart(year+1, weekStart).Sub(firstWeekStart(year, weekStart))
	return int(span.Hours()/24) / 7
}

func weekOfYear(date time.Time, weekStart time.Weekday) int {
	year := date.Year()
	start := date.AddDate(0, 0, -offsetInWeek(date.Weekday(), weekStart))
	first := firstWeekStart(year, weekStart)
	if start.Before(first) {
		return weeksInYear(year-1, weekStart)
	}
	w := int(start.Sub(first).Hours()/24)/7 + 1
	if w > weeksInYear(year, weekStart) {
		return 1
	}
	return w
}

// =============================================================================
// HELPERS
// =============================================================================

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func inRange(f Field, v int) bool {
	signed := func(limit int) bool { return v != 0 && v >= -limit && v <= limit }
	switch f {
	case FieldYear:
		return v >= 1 && v <= 9999
	case FieldMonth:
		return v >= 1 && v <= 12
	case FieldDay:
		return v >= 1 && v <= 31
	case FieldHour:
		return v >= 0 && v <= 23
	case FieldMinute, FieldSecond:
		return v >= 0 && v <= 59
	case FieldDayOfWeek:
		return v >= 0 && v <= 6
	case FieldDayOfWeekInMonth:
		return signed(5)
	case FieldWeekOfYear:
		return signed(53)
	case FieldDayOfYear:
		return signed(366)
	}
	return false
}
