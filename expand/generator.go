/*
generator.go - Materializes occurrences for each anchor of a plan

PURPOSE:
  Walks every anchor through the periods of the series and inserts one
  instance per matching period into the instance store.

PERIODS:
  A period base sits at 00:00:00 on the first day of the period containing
  the series start:
    Yearly:  January 1
    Monthly: day 1 of the month
    Weekly:  the week-start day
    Daily:   the day itself
  The base advances by Interval periods. The cursor is the base with the
  anchor applied and the time of day restored.

STATES (per anchor):
  Seed     -> base at the start's period
  Validate -> candidate before the series start is skipped
  Emit     -> insert (cursor, cursor+duration), advance, repeat

STOP CONDITIONS:
  - Count: the anchor emitted its budget
  - Until: cursor later than the bound (the bound is inclusive)
  - Unbounded: base or cursor beyond the horizon (civil 2038-12-31)
  - MaxReseedAttempts consecutive periods where the anchor had no date
  - MaxIdleYears without a new instance while the limits reject every
    date the anchor lands on
  Until bounds past the horizon are clamped to it by the publisher; Count
  and None ranges ignore the horizon.

COMPARISONS:
  Full instants for UTC events, whole days for floating events.

SEE ALSO:
  - anchor.go: Builds the plan
  - publisher.go: Drives generation and the later filter passes
*/
package expand

import (
	"context"
	"time"

	"github.com/warp/calendar-engine/calendar"
	appLog "github.com/warp/calendar-engine/log"
)

// MaxReseedAttempts bounds consecutive periods in which an anchor produced
// no date (day 31 in short months, 5th weekdays, week 53, February 29).
// The anchor stops after that many misses in a row.
const MaxReseedAttempts = 50

// MaxIdleYears bounds how long an anchor may keep landing on dates that the
// limits reject (or another anchor already produced) without inserting.
// BYMONTH=2;BYMONTHDAY=29 yields at most eight idle years; 30 never matches.
const MaxIdleYears = 50

// Horizon is the last civil date an open-ended series may reach.
var Horizon = civilDate{Year: 2038, Month: 12, Day: 31}

type civilDate struct{ Year, Month, Day int }

func (d civilDate) before(o civilDate) bool {
	if d.Year != o.Year {
		return d.Year < o.Year
	}
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func civilOf(c calendar.Context) civilDate {
	return civilDate{
		Year:  c.Get(calendar.FieldYear),
		Month: c.Get(calendar.FieldMonth),
		Day:   c.Get(calendar.FieldDay),
	}
}

func beyondHorizon(c calendar.Context) bool { return Horizon.before(civilOf(c)) }

// =============================================================================
// DURATION
// =============================================================================

// duration is applied to every cursor to produce the instance end.
type duration struct {
	floating bool
	seconds  int
	days     int
	endClock [3]int
}

func newDuration(start, end calendar.DateTime) (duration, error) {
	if start.Type != end.Type || end.Compare(start) < 0 {
		return duration{}, calendar.ErrInvalidTimeRange
	}
	if start.IsLocal() {
		return duration{
			floating: true,
			days:     calendar.DaysBetween(start, end),
			endClock: [3]int{end.Hour, end.Minute, end.Second},
		}, nil
	}
	return duration{seconds: int(end.Unix - start.Unix)}, nil
}

func (d duration) endOf(cursor calendar.Context) (calendar.DateTime, error) {
	end := cursor.Clone()
	if !d.floating {
		if err := end.Add(calendar.FieldSecond, d.seconds); err != nil {
			return calendar.DateTime{}, err
		}
		return end.Instant(), nil
	}
	if err := end.Add(calendar.FieldDay, d.days); err != nil {
		return calendar.DateTime{}, err
	}
	if err := setClock(end, d.endClock[0], d.endClock[1], d.endClock[2]); err != nil {
		return calendar.DateTime{}, err
	}
	return end.Instant(), nil
}

// =============================================================================
// GENERATOR
// =============================================================================

type generator struct {
	plan     Plan
	store    calendar.InstanceStore
	eventID  int64
	start    calendar.Context
	startDT  calendar.DateTime
	until    *calendar.DateTime
	dur      duration
	clock    [3]int
	seen     map[calendar.DateTime]bool
	inserted int
	dupes    int
}

func newGenerator(plan Plan, store calendar.InstanceStore, eventID int64, start calendar.Context, until *calendar.DateTime, dur duration) *generator {
	return &generator{
		plan:    plan,
		store:   store,
		eventID: eventID,
		start:   start,
		startDT: start.Instant(),
		until:   until,
		dur:     dur,
		clock: [3]int{
			start.Get(calendar.FieldHour),
			start.Get(calendar.FieldMinute),
			start.Get(calendar.FieldSecond),
		},
		seen: make(map[calendar.DateTime]bool),
	}
}

// run expands every anchor in order.
func (g *generator) run(ctx context.Context) error {
	for _, a := range g.plan.Anchors {
		if err := g.runAnchor(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (g *generator) runAnchor(ctx context.Context, a Anchor) error {
	base, err := periodBase(g.start, g.plan.Frequency, g.plan.WeekStart)
	if err != nil {
		return err
	}

	unbounded := g.plan.Range.Kind == calendar.RangeUnbounded
	emitted, misses := 0, 0
	lastYield := base.Get(calendar.FieldYear)
	for !(unbounded && beyondHorizon(base)) {
		cursor, ok, err := g.apply(base, a)
		if err != nil {
			return err
		}

		switch {
		case !ok:
			misses++
			if misses > MaxReseedAttempts {
				appLog.Debug("[Generator] anchor stopped after consecutive misses",
					"event_id", g.eventID, "anchor", a.Kind, "misses", misses)
				return nil
			}

		case unbounded && beyondHorizon(cursor):
			return nil

		default:
			misses = 0
			at := cursor.Instant()
			if g.until != nil && at.CompareGranular(*g.until) > 0 {
				return nil
			}
			if at.CompareGranular(g.startDT) < 0 {
				break
			}
			allowed, err := g.plan.limits.allow(cursor)
			if err != nil {
				return err
			}
			fresh := false
			if allowed {
				if g.plan.Budget > 0 && emitted >= g.plan.Budget {
					return nil
				}
				if fresh, err = g.emit(ctx, cursor, at); err != nil {
					return err
				}
			}
			if fresh {
				emitted++
				lastYield = cursor.Get(calendar.FieldYear)
			} else if cursor.Get(calendar.FieldYear)-lastYield > MaxIdleYears {
				appLog.Debug("[Generator] anchor stopped after idle years",
					"event_id", g.eventID, "anchor", a.Kind, "since", lastYield)
				return nil
			}
		}

		if err := advance(base, g.plan.Frequency, g.plan.Interval); err != nil {
			return err
		}
	}
	return nil
}

// emit inserts one instance unless another anchor already produced it.
func (g *generator) emit(ctx context.Context, cursor calendar.Context, at calendar.DateTime) (bool, error) {
	if g.seen[at] {
		g.dupes++
		return false, nil
	}
	end, err := g.dur.endOf(cursor)
	if err != nil {
		return false, err
	}
	if _, err := g.store.InsertInstance(ctx, g.eventID, at, end); err != nil {
		return false, wrapStorage("insert_instance", err)
	}
	g.seen[at] = true
	g.inserted++
	return true, nil
}

// apply positions a copy of base on anchor a. ok is false when the anchor
// has no date in this period.
func (g *generator) apply(base calendar.Context, a Anchor) (calendar.Context, bool, error) {
	c := base.Clone()
	ok, err := applyAnchor(c, a)
	if err != nil || !ok {
		return nil, false, err
	}
	h, mi, s := g.clock[0], g.clock[1], g.clock[2]
	if a.Clock {
		h, mi, s = a.Hour, a.Minute, a.Second
	}
	if err := setClock(c, h, mi, s); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

// =============================================================================
// PERIOD ARITHMETIC
// =============================================================================

func periodField(f calendar.Frequency) calendar.Field {
	switch f {
	case calendar.FreqYearly:
		return calendar.FieldYear
	case calendar.FreqMonthly:
		return calendar.FieldMonth
	case calendar.FreqWeekly:
		return calendar.FieldWeekOfYear
	}
	return calendar.FieldDay
}

// periodBase returns a context at 00:00:00 on the first day of the period
// containing start.
func periodBase(start calendar.Context, f calendar.Frequency, weekStart time.Weekday) (calendar.Context, error) {
	c := start.Clone()
	if err := setClock(c, 0, 0, 0); err != nil {
		return nil, err
	}
	var err error
	switch f {
	case calendar.FreqYearly:
		if err = c.Set(calendar.FieldDay, 1); err == nil {
			err = c.Set(calendar.FieldMonth, 1)
		}
	case calendar.FreqMonthly:
		err = c.Set(calendar.FieldDay, 1)
	case calendar.FreqWeekly:
		err = c.Set(calendar.FieldDayOfWeek, int(weekStart))
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func advance(base calendar.Context, f calendar.Frequency, interval int) error {
	return base.Add(periodField(f), interval)
}

// applyAnchor moves c from a period base to the anchor's date.
func applyAnchor(c calendar.Context, a Anchor) (bool, error) {
	switch a.Kind {
	case AnchorStart:
		return true, nil

	case AnchorMonthDay:
		month, err := enterMonth(c, a.Month)
		if err != nil {
			return false, err
		}
		if a.Day > 0 {
			if err := c.Set(calendar.FieldDay, a.Day); err != nil {
				return false, err
			}
		} else {
			if err := c.Add(calendar.FieldMonth, 1); err != nil {
				return false, err
			}
			if err := c.Add(calendar.FieldDay, a.Day); err != nil {
				return false, err
			}
		}
		return c.Get(calendar.FieldMonth) == month, nil

	case AnchorWeekdayInMonth:
		month, err := enterMonth(c, a.Month)
		if err != nil {
			return false, err
		}
		delta := (int(a.Weekday) - c.Get(calendar.FieldDayOfWeek) + 7) % 7
		if err := c.Add(calendar.FieldDay, delta); err != nil {
			return false, err
		}
		if err := c.Set(calendar.FieldDayOfWeekInMonth, a.Ordinal); err != nil {
			return false, err
		}
		return c.Get(calendar.FieldMonth) == month, nil

	case AnchorYearDay:
		year := c.Get(calendar.FieldYear)
		if err := c.Set(calendar.FieldDayOfYear, a.Day); err != nil {
			return false, err
		}
		return c.Get(calendar.FieldYear) == year, nil

	case AnchorWeekNo:
		want := a.Week
		if want < 0 {
			weeks, err := weeksInYear(c)
			if err != nil {
				return false, err
			}
			want = weeks + 1 + want
			if want < 1 {
				return false, nil
			}
		}
		if err := c.Set(calendar.FieldWeekOfYear, a.Week); err != nil {
			return false, err
		}
		if err := c.Set(calendar.FieldDayOfWeek, int(a.Weekday)); err != nil {
			return false, err
		}
		return c.Get(calendar.FieldWeekOfYear) == want, nil

	case AnchorWeekday:
		return true, c.Set(calendar.FieldDayOfWeek, int(a.Weekday))
	}
	return false, &calendar.RuleError{Field: "anchor", Value: int(a.Kind), Reason: "unknown anchor kind"}
}

// enterMonth moves a month-1 base to month m (0 keeps the current month)
// and returns the month the anchor must land in.
func enterMonth(c calendar.Context, m int) (int, error) {
	if m == 0 {
		return c.Get(calendar.FieldMonth), nil
	}
	if err := c.Set(calendar.FieldMonth, m); err != nil {
		return 0, err
	}
	return m, nil
}

// weeksInYear reads the week number of December 28, which always falls in
// the last week of its year.
func weeksInYear(c calendar.Context) (int, error) {
	dec28 := c.Clone()
	if err := dec28.Set(calendar.FieldDay, 28); err != nil {
		return 0, err
	}
	if err := dec28.Set(calendar.FieldMonth, 12); err != nil {
		return 0, err
	}
	return dec28.Get(calendar.FieldWeekOfYear), nil
}

func lastDayOfMonth(c calendar.Context) (int, error) {
	eom := c.Clone()
	if err := eom.Set(calendar.FieldDay, 1); err != nil {
		return 0, err
	}
	if err := eom.Add(calendar.FieldMonth, 1); err != nil {
		return 0, err
	}
	if err := eom.Add(calendar.FieldDay, -1); err != nil {
		return 0, err
	}
	return eom.Get(calendar.FieldDay), nil
}

func setClock(c calendar.Context, h, mi, s int) error {
	if err := c.Set(calendar.FieldHour, h); err != nil {
		return err
	}
	if err := c.Set(calendar.FieldMinute, mi); err != nil {
		return err
	}
	return c.Set(calendar.FieldSecond, s)
}
