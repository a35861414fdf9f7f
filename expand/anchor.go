/*
anchor.go - Turns a recurrence rule into a closed expansion plan

PURPOSE:
  Reads the by-fields of a rule exactly once and produces a Plan: the
  frequency, interval and range the generator loops over, plus the list of
  anchors (the positions inside one period where an occurrence lands).

DRIVING FIELDS:
  Yearly:  ByMonth (+ByDay | +ByMonthDay | start's day)
           else ByYearDay
           else ByWeekNo (+ByDay weekdays | start's weekday)
           else ByMonthDay / ByDay applied to every month
           else start's month and day
  Monthly: ByDay (plain codes expand to ordinals 1..5), else ByMonthDay,
           else start's day of month
  Weekly:  ByDay weekdays (ordinals ignored), else start's weekday
  Daily:   the period's day itself
  None:    one occurrence at the series start

LIMITS:
  Fields that do not drive a frequency narrow it instead:
  ByMonth limits Daily/Weekly/Monthly, ByMonthDay limits Daily/Weekly and
  Monthly/Yearly when ByDay drives, ByDay limits Daily.

BUDGET:
  For Count ranges each anchor emits at most Budget occurrences. Anchors that
  can miss periods (day 31, 5th weekday, week 53, year day 366, limits) skew
  per-anchor progress, so such plans get a budget of the full count and the
  publisher trims the excess.

SEE ALSO:
  - generator.go: Walks each anchor through the periods
  - setpos.go: Applies BySetPos after generation
*/
package expand

import (
	"time"

	"github.com/warp/calendar-engine/calendar"
)

// =============================================================================
// ANCHOR
// =============================================================================

type AnchorKind int

const (
	AnchorStart          AnchorKind = iota // the period's own day (Daily/None)
	AnchorMonthDay                         // Month (0 = period's), Day signed
	AnchorWeekdayInMonth                   // Month (0 = period's), Ordinal, Weekday
	AnchorYearDay                          // Day signed
	AnchorWeekNo                           // Week signed, Weekday
	AnchorWeekday                          // Weekday within the period's week
)

// Anchor is one resolved position inside a period.
type Anchor struct {
	Kind    AnchorKind
	Month   int
	Day     int
	Ordinal int
	Week    int
	Weekday time.Weekday

	// Clock overrides the start's time of day when set.
	Clock  bool
	Hour   int
	Minute int
	Second int
}

// mayMiss reports whether applying a to some period can produce no date.
func (a Anchor) mayMiss() bool {
	switch a.Kind {
	case AnchorMonthDay:
		return a.Day > 28 || a.Day < -28
	case AnchorWeekdayInMonth:
		return a.Ordinal >= 5 || a.Ordinal <= -5
	case AnchorYearDay:
		return a.Day >= 366 || a.Day <= -366
	case AnchorWeekNo:
		return a.Week >= 53 || a.Week <= -53
	}
	return false
}

// =============================================================================
// PLAN
// =============================================================================

// Plan is the resolved form of a rule for one expansion.
type Plan struct {
	Frequency calendar.Frequency
	Interval  int
	Range     calendar.Range
	Anchors   []Anchor
	Budget    int // per-anchor emit cap, 0 = uncapped
	SetPos    []int
	WeekStart time.Weekday

	limits limits
}

// HasSetPos reports whether any non-zero set position is present.
func (p Plan) HasSetPos() bool { return countPositions(p.SetPos) > 0 }

// weekNumbered reports whether a yearly plan is driven by week numbers.
func (p Plan) weekNumbered() bool {
	if p.Frequency != calendar.FreqYearly {
		return false
	}
	for _, a := range p.Anchors {
		if a.Kind == AnchorWeekNo {
			return true
		}
	}
	return false
}

// limits narrow generated candidates.
type limits struct {
	months    map[int]bool
	monthDays []int
	weekdays  map[time.Weekday]bool
}

func (l limits) active() bool {
	return len(l.months) > 0 || len(l.monthDays) > 0 || len(l.weekdays) > 0
}

// allow reports whether the date at c passes every limit.
func (l limits) allow(c calendar.Context) (bool, error) {
	if len(l.months) > 0 && !l.months[c.Get(calendar.FieldMonth)] {
		return false, nil
	}
	if len(l.weekdays) > 0 && !l.weekdays[time.Weekday(c.Get(calendar.FieldDayOfWeek))] {
		return false, nil
	}
	if len(l.monthDays) == 0 {
		return true, nil
	}
	last, err := lastDayOfMonth(c)
	if err != nil {
		return false, err
	}
	day := c.Get(calendar.FieldDay)
	for _, d := range l.monthDays {
		if d == day || (d < 0 && last+1+d == day) {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// RESOLVE
// =============================================================================

// Resolve builds the plan for rule. start positions the context on the
// series start; it is read, never moved.
func Resolve(rule calendar.RecurrenceRule, start calendar.Context) (Plan, error) {
	rule = rule.Normalized()
	if err := checkRanges(rule); err != nil {
		return Plan{}, err
	}

	days, err := parseByDay(rule.ByDay)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		Frequency: rule.Frequency,
		Interval:  rule.Interval,
		Range:     rule.Range,
		SetPos:    append([]int(nil), rule.BySetPos...),
		WeekStart: rule.WeekStart,
	}

	sm := start.Get(calendar.FieldMonth)
	sd := start.Get(calendar.FieldDay)
	swd := time.Weekday(start.Get(calendar.FieldDayOfWeek))

	switch rule.Frequency {
	case calendar.FreqNone:
		plan.Interval = 1
		plan.Range = calendar.Count(1)
		plan.SetPos = nil
		plan.Anchors = []Anchor{{Kind: AnchorStart}}
		plan.Budget = 1
		return plan, nil

	case calendar.FreqYearly:
		plan.Anchors, err = resolveYearly(rule, days, sm, sd, swd, &plan.limits)

	case calendar.FreqMonthly:
		plan.Anchors, err = resolveMonthly(rule, days, sd, &plan.limits)

	case calendar.FreqWeekly:
		plan.Anchors = resolveWeekly(days, swd)
		plan.limits.months = intSet(rule.ByMonth)
		plan.limits.monthDays = rule.ByMonthDay

	case calendar.FreqDaily:
		plan.Anchors = []Anchor{{Kind: AnchorStart}}
		plan.limits.months = intSet(rule.ByMonth)
		plan.limits.monthDays = rule.ByMonthDay
		plan.limits.weekdays = weekdaySet(days)

	default:
		return Plan{}, &calendar.RuleError{Field: "freq", Value: rule.Frequency, Reason: "unsupported frequency"}
	}
	if err != nil {
		return Plan{}, err
	}

	plan.Anchors = withClock(plan.Anchors, rule, start)
	plan.Anchors = dedupe(plan.Anchors)

	if rule.Range.Kind == calendar.RangeCount {
		if rule.Range.Count < 1 {
			return Plan{}, &calendar.RuleError{Field: "count", Value: rule.Range.Count, Reason: "must be positive"}
		}
		plan.Budget = budget(rule.Range.Count, plan.Anchors, plan.SetPos, plan.limits.active())
	}
	return plan, nil
}

func resolveYearly(rule calendar.RecurrenceRule, days []calendar.WeekdayOrdinal, sm, sd int, swd time.Weekday, lim *limits) ([]Anchor, error) {
	switch {
	case len(rule.ByMonth) > 0:
		var out []Anchor
		for _, m := range rule.ByMonth {
			switch {
			case len(days) > 0:
				a, err := monthWeekdayAnchors(m, days)
				if err != nil {
					return nil, err
				}
				out = append(out, a...)
			case len(rule.ByMonthDay) > 0:
				for _, d := range rule.ByMonthDay {
					out = append(out, Anchor{Kind: AnchorMonthDay, Month: m, Day: d})
				}
			default:
				out = append(out, Anchor{Kind: AnchorMonthDay, Month: m, Day: sd})
			}
		}
		if len(days) > 0 {
			lim.monthDays = rule.ByMonthDay
		}
		return out, nil

	case len(rule.ByYearDay) > 0:
		out := make([]Anchor, 0, len(rule.ByYearDay))
		for _, d := range rule.ByYearDay {
			out = append(out, Anchor{Kind: AnchorYearDay, Day: d})
		}
		return out, nil

	case len(rule.ByWeekNo) > 0:
		weekdays := []time.Weekday{swd}
		if len(days) > 0 {
			weekdays = weekdays[:0]
			for _, d := range days {
				weekdays = append(weekdays, d.Day)
			}
		}
		var out []Anchor
		for _, w := range rule.ByWeekNo {
			for _, wd := range weekdays {
				out = append(out, Anchor{Kind: AnchorWeekNo, Week: w, Weekday: wd})
			}
		}
		return out, nil

	case len(days) > 0:
		for _, d := range days {
			if d.Ordinal != 0 {
				return nil, &calendar.RuleError{Field: "by_day", Value: d.String(), Reason: "yearly ordinal weekdays need by_month or by_week_no"}
			}
		}
		var out []Anchor
		for m := 1; m <= 12; m++ {
			a, err := monthWeekdayAnchors(m, days)
			if err != nil {
				return nil, err
			}
			out = append(out, a...)
		}
		lim.monthDays = rule.ByMonthDay
		return out, nil

	case len(rule.ByMonthDay) > 0:
		var out []Anchor
		for m := 1; m <= 12; m++ {
			for _, d := range rule.ByMonthDay {
				out = append(out, Anchor{Kind: AnchorMonthDay, Month: m, Day: d})
			}
		}
		return out, nil
	}
	return []Anchor{{Kind: AnchorMonthDay, Month: sm, Day: sd}}, nil
}

func resolveMonthly(rule calendar.RecurrenceRule, days []calendar.WeekdayOrdinal, sd int, lim *limits) ([]Anchor, error) {
	lim.months = intSet(rule.ByMonth)
	switch {
	case len(days) > 0:
		lim.monthDays = rule.ByMonthDay
		return monthWeekdayAnchors(0, days)
	case len(rule.ByMonthDay) > 0:
		out := make([]Anchor, 0, len(rule.ByMonthDay))
		for _, d := range rule.ByMonthDay {
			out = append(out, Anchor{Kind: AnchorMonthDay, Day: d})
		}
		return out, nil
	}
	return []Anchor{{Kind: AnchorMonthDay, Day: sd}}, nil
}

func resolveWeekly(days []calendar.WeekdayOrdinal, swd time.Weekday) []Anchor {
	if len(days) == 0 {
		return []Anchor{{Kind: AnchorWeekday, Weekday: swd}}
	}
	out := make([]Anchor, 0, len(days))
	for _, d := range days {
		out = append(out, Anchor{Kind: AnchorWeekday, Weekday: d.Day})
	}
	return out
}

// monthWeekdayAnchors expands ByDay inside one month. A code without an
// ordinal stands for every such weekday, i.e. ordinals 1 through 5.
func monthWeekdayAnchors(month int, days []calendar.WeekdayOrdinal) ([]Anchor, error) {
	var out []Anchor
	for _, d := range days {
		if d.Ordinal == 0 {
			for n := 1; n <= 5; n++ {
				out = append(out, Anchor{Kind: AnchorWeekdayInMonth, Month: month, Ordinal: n, Weekday: d.Day})
			}
			continue
		}
		if d.Ordinal > 5 || d.Ordinal < -5 {
			return nil, &calendar.RuleError{Field: "by_day", Value: d.String(), Reason: "monthly ordinal must be within ±5"}
		}
		out = append(out, Anchor{Kind: AnchorWeekdayInMonth, Month: month, Ordinal: d.Ordinal, Weekday: d.Day})
	}
	return out, nil
}

// withClock multiplies anchors by ByHour x ByMinute x BySecond. Missing
// lists default to the start's own field. Floating events keep their start
// time of day.
func withClock(anchors []Anchor, rule calendar.RecurrenceRule, start calendar.Context) []Anchor {
	if start.Instant().IsLocal() {
		return anchors
	}
	if len(rule.ByHour) == 0 && len(rule.ByMinute) == 0 && len(rule.BySecond) == 0 {
		return anchors
	}
	hours := orDefault(rule.ByHour, start.Get(calendar.FieldHour))
	minutes := orDefault(rule.ByMinute, start.Get(calendar.FieldMinute))
	seconds := orDefault(rule.BySecond, start.Get(calendar.FieldSecond))

	out := make([]Anchor, 0, len(anchors)*len(hours)*len(minutes)*len(seconds))
	for _, a := range anchors {
		for _, h := range hours {
			for _, mi := range minutes {
				for _, s := range seconds {
					a.Clock, a.Hour, a.Minute, a.Second = true, h, mi, s
					out = append(out, a)
				}
			}
		}
	}
	return out
}

func dedupe(anchors []Anchor) []Anchor {
	seen := make(map[Anchor]bool, len(anchors))
	out := anchors[:0]
	for _, a := range anchors {
		if !seen[a] {
			seen[a] = true
			out = append(out, a)
		}
	}
	return out
}

// =============================================================================
// BUDGET
// =============================================================================

func budget(count int, anchors []Anchor, setPos []int, limited bool) int {
	n := len(anchors)
	if n == 0 {
		return 0
	}
	b := ceilDiv(count, n)
	if k := countPositions(setPos); k > 0 {
		b = count * (n / k)
		if n%k != 0 {
			b += n
		}
		// First window may start after some of its instances.
		b = max(b, ceilDiv(count, min(k, n))+1)
	}
	if n > 1 && b < count && (limited || anyMayMiss(anchors)) {
		b = count
	}
	return b
}

func anyMayMiss(anchors []Anchor) bool {
	for _, a := range anchors {
		if a.mayMiss() {
			return true
		}
	}
	return false
}

func countPositions(setPos []int) int {
	k := 0
	for _, p := range setPos {
		if p != 0 {
			k++
		}
	}
	return k
}

// =============================================================================
// VALIDATION
// =============================================================================

func checkRanges(rule calendar.RecurrenceRule) error {
	checks := []struct {
		field    string
		values   []int
		lo, hi   int
		nonZero  bool
		signedOK bool
	}{
		{"by_month", rule.ByMonth, 1, 12, true, false},
		{"by_month_day", rule.ByMonthDay, 1, 31, true, true},
		{"by_year_day", rule.ByYearDay, 1, 366, true, true},
		{"by_week_no", rule.ByWeekNo, 1, 53, true, true},
		{"by_hour", rule.ByHour, 0, 23, false, false},
		{"by_minute", rule.ByMinute, 0, 59, false, false},
		{"by_second", rule.BySecond, 0, 59, false, false},
		{"by_set_pos", rule.BySetPos, 0, 366, false, true},
	}
	for _, c := range checks {
		for _, v := range c.values {
			abs := v
			if c.signedOK && v < 0 {
				abs = -v
			}
			if (c.nonZero && v == 0) || abs < c.lo || abs > c.hi {
				return &calendar.RuleError{Field: c.field, Value: v, Reason: "out of range"}
			}
		}
	}
	if rule.WeekStart < time.Sunday || rule.WeekStart > time.Saturday {
		return &calendar.RuleError{Field: "week_start", Value: int(rule.WeekStart), Reason: "out of range"}
	}
	return nil
}

func parseByDay(codes []string) ([]calendar.WeekdayOrdinal, error) {
	out := make([]calendar.WeekdayOrdinal, 0, len(codes))
	for _, code := range codes {
		wo, err := calendar.ParseWeekdayOrdinal(code)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func intSet(values []int) map[int]bool {
	if len(values) == 0 {
		return nil
	}
	out := make(map[int]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}

func weekdaySet(days []calendar.WeekdayOrdinal) map[time.Weekday]bool {
	if len(days) == 0 {
		return nil
	}
	out := make(map[time.Weekday]bool, len(days))
	for _, d := range days {
		out[d.Day] = true
	}
	return out
}

func orDefault(values []int, def int) []int {
	if len(values) == 0 {
		return []int{def}
	}
	return values
}

func ceilDiv(a, b int) int { return (a + b - 1) / b }
