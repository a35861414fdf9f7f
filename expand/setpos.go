package expand

import (
	"context"
	"time"

	"github.com/warp/calendar-engine/calendar"
)

// =============================================================================
// SET-POSITION FILTER - BYSETPOS over already generated instances
// =============================================================================
// Windows are the periods of the rule's frequency, starting with the one that
// contains the series start and stepping by the interval. Inside a window the
// instances are ordered by start; position p > 0 keeps the p-th, p < 0 keeps
// the p-th from the end, 0 is ignored. Everything else in the window goes.
// Yearly plans driven by week numbers use the week-numbering year instead:
// its week 1 can start in late December of the previous calendar year.

// filterSetPos runs until no instance remains at or after the current window.
func filterSetPos(ctx context.Context, store calendar.InstanceStore, eventID int64, plan Plan, start calendar.Context) (int, error) {
	window, err := periodBase(start, plan.Frequency, plan.WeekStart)
	if err != nil {
		return 0, err
	}
	field := periodField(plan.Frequency)

	removed := 0
	for {
		from, to, err := windowBounds(window, field, plan)
		if err != nil {
			return removed, err
		}
		remaining, err := store.CountFutureInstances(ctx, eventID, from)
		if err != nil {
			return removed, wrapStorage("count_future_instances", err)
		}
		if remaining == 0 {
			return removed, nil
		}

		list, err := store.ListInstances(ctx, eventID, from, to)
		if err != nil {
			return removed, wrapStorage("list_instances", err)
		}
		if len(list) > 0 {
			n, err := store.DeleteInstances(ctx, eventID, calendar.DeleteWindowExcept(from, to, keepPositions(list, plan.SetPos)))
			if err != nil {
				return removed, wrapStorage("delete_instances", err)
			}
			removed += n
		}

		if err := window.Add(field, plan.Interval); err != nil {
			return removed, err
		}
	}
}

// windowBounds returns the half-open range of instants window covers.
func windowBounds(window calendar.Context, field calendar.Field, plan Plan) (calendar.DateTime, calendar.DateTime, error) {
	next := window.Clone()
	if err := next.Add(field, 1); err != nil {
		return calendar.DateTime{}, calendar.DateTime{}, err
	}
	if !plan.weekNumbered() {
		return window.Instant(), next.Instant(), nil
	}
	from, err := weekOneStart(window, plan.WeekStart)
	if err != nil {
		return calendar.DateTime{}, calendar.DateTime{}, err
	}
	to, err := weekOneStart(next, plan.WeekStart)
	if err != nil {
		return calendar.DateTime{}, calendar.DateTime{}, err
	}
	return from, to, nil
}

// weekOneStart returns the first day of week 1 of c's year at midnight.
func weekOneStart(c calendar.Context, weekStart time.Weekday) (calendar.DateTime, error) {
	w := c.Clone()
	if err := w.Set(calendar.FieldWeekOfYear, 1); err != nil {
		return calendar.DateTime{}, err
	}
	if err := w.Set(calendar.FieldDayOfWeek, int(weekStart)); err != nil {
		return calendar.DateTime{}, err
	}
	return w.Instant(), nil
}

// keepPositions returns the ids selected by positions. Out-of-range
// positions select nothing.
func keepPositions(list []calendar.Instance, positions []int) []int64 {
	var keep []int64
	for _, p := range positions {
		idx := -1
		switch {
		case p > 0:
			idx = p - 1
		case p < 0:
			idx = len(list) + p
		}
		if idx >= 0 && idx < len(list) {
			keep = append(keep, list[idx].ID)
		}
	}
	return keep
}
