package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// =============================================================================
// RANGE - How a recurrence ends
// =============================================================================

type RangeKind int

const (
	RangeUnbounded RangeKind = iota
	RangeCount
	RangeUntil
)

// Range bounds a recurrence by occurrence count, by an inclusive end, or not
// at all. The zero value is unbounded.
type Range struct {
	Kind  RangeKind `json:"kind"`
	Count int       `json:"count,omitempty"`
	Until DateTime  `json:"until,omitempty"`
}

func Count(n int) Range          { return Range{Kind: RangeCount, Count: n} }
func Until(bound DateTime) Range { return Range{Kind: RangeUntil, Until: bound} }
func Forever() Range             { return Range{Kind: RangeUnbounded} }

func (r Range) String() string {
	switch r.Kind {
	case RangeCount:
		return fmt.Sprintf("COUNT=%d", r.Count)
	case RangeUntil:
		return "UNTIL=" + r.Until.String()
	default:
		return "FOREVER"
	}
}

// =============================================================================
// RECURRENCE RULE
// =============================================================================

// RecurrenceRule is a recurrence already decomposed into typed fields.
// ByDay keeps the weekday codes as entered ("MO", "+2TH", "-1FR"); they are
// parsed once per expansion by the anchor resolver.
type RecurrenceRule struct {
	Frequency  Frequency    `json:"freq"`
	Interval   int          `json:"interval,omitempty"`
	Range      Range        `json:"range"`
	BySecond   []int        `json:"by_second,omitempty"`
	ByMinute   []int        `json:"by_minute,omitempty"`
	ByHour     []int        `json:"by_hour,omitempty"`
	ByDay      []string     `json:"by_day,omitempty"`
	ByMonthDay []int        `json:"by_month_day,omitempty"`
	ByYearDay  []int        `json:"by_year_day,omitempty"`
	ByWeekNo   []int        `json:"by_week_no,omitempty"`
	ByMonth    []int        `json:"by_month,omitempty"`
	BySetPos   []int        `json:"by_set_pos,omitempty"`
	WeekStart  time.Weekday `json:"week_start"`
}

// Normalized returns a copy with the interval forced to at least 1.
func (r RecurrenceRule) Normalized() RecurrenceRule {
	if r.Interval <= 0 {
		r.Interval = 1
	}
	return r
}

// Clone returns a deep copy of r.
func (r RecurrenceRule) Clone() RecurrenceRule {
	out := r
	out.BySecond = cloneInts(r.BySecond)
	out.ByMinute = cloneInts(r.ByMinute)
	out.ByHour = cloneInts(r.ByHour)
	out.ByMonthDay = cloneInts(r.ByMonthDay)
	out.ByYearDay = cloneInts(r.ByYearDay)
	out.ByWeekNo = cloneInts(r.ByWeekNo)
	out.ByMonth = cloneInts(r.ByMonth)
	out.BySetPos = cloneInts(r.BySetPos)
	if r.ByDay != nil {
		out.ByDay = append([]string(nil), r.ByDay...)
	}
	return out
}

func cloneInts(v []int) []int {
	if v == nil {
		return nil
	}
	return append([]int(nil), v...)
}

// =============================================================================
// WEEKDAY ORDINAL - "+2TH", "-1MO", "FR"
// =============================================================================

// WeekdayOrdinal is a weekday with an optional signed ordinal.
// Ordinal 0 means every such weekday of the period.
type WeekdayOrdinal struct {
	Ordinal int
	Day     time.Weekday
}

func (w WeekdayOrdinal) String() string {
	if w.Ordinal == 0 {
		return WeekdayCode(w.Day)
	}
	return fmt.Sprintf("%+d%s", w.Ordinal, WeekdayCode(w.Day))
}

// ParseWeekdayOrdinal parses a BYDAY entry.
func ParseWeekdayOrdinal(code string) (WeekdayOrdinal, error) {
	s := strings.ToUpper(strings.TrimSpace(code))
	if len(s) < 2 {
		return WeekdayOrdinal{}, &RuleError{Field: "by_day", Value: code, Reason: "weekday code too short"}
	}
	wd, err := ParseWeekday(s[len(s)-2:])
	if err != nil {
		return WeekdayOrdinal{}, &RuleError{Field: "by_day", Value: code, Reason: "unknown weekday code"}
	}
	out := WeekdayOrdinal{Day: wd}
	if prefix := s[:len(s)-2]; prefix != "" {
		n, err := strconv.Atoi(prefix)
		if err != nil || n == 0 || n < -53 || n > 53 {
			return WeekdayOrdinal{}, &RuleError{Field: "by_day", Value: code, Reason: "invalid ordinal"}
		}
		out.Ordinal = n
	}
	return out, nil
}
