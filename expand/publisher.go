/*
publisher.go - Series lifecycle: publish and discard instances of an event

PURPOSE:
  The single entry point that turns an event record into stored instances.
  Everything else in this package is a step Publish calls.

PUBLISH STEPS:
  1. Duration = end - start (seconds for UTC, whole days for floating)
  2. Exception overrides expand as single occurrences
  3. Interval >= 1
  4. Effective bound: Count -> budget (no horizon), Until -> clamped to
     the horizon, Unbounded -> horizon
  5. Resolve anchors, generate, apply BySetPos
  6. Count(n): drop instances later than the n-th
  7. Drop instances at every exdate
  8. Overrides: drop the replaced occurrence of the original series

ATOMICITY:
  Publish is not atomic on its own. Callers that need all-or-nothing run
  Discard + Publish inside TxStore.WithTx (see events.Service). On a rule
  or arithmetic failure after instances were written, Publish discards the
  event's instances before returning.

CONCURRENCY:
  A Publisher is safe for concurrent use: every call opens its own
  calculation context from the provider.

SEE ALSO:
  - anchor.go, generator.go, setpos.go: The expansion steps
  - events/service.go: Transactional wrapper
*/
package expand

import (
	"context"
	"errors"
	"time"

	"github.com/warp/calendar-engine/calendar"
	appLog "github.com/warp/calendar-engine/log"
)

// =============================================================================
// PUBLISHER
// =============================================================================

// Publisher materializes and discards event instances.
type Publisher struct {
	provider calendar.Provider
}

func NewPublisher(provider calendar.Provider) *Publisher {
	if provider == nil {
		provider = calendar.NewGregorian()
	}
	return &Publisher{provider: provider}
}

// Summary reports what one Publish call did.
type Summary struct {
	EventID    int64
	Frequency  calendar.Frequency
	Anchors    int
	Generated  int // instances inserted by the generator
	Duplicates int // candidates produced by more than one anchor
	Removed    int // instances dropped by set-pos, truncation and exdates
}

// Published is the number of instances left in the store.
func (s Summary) Published() int { return s.Generated - s.Removed }

// Publish expands ev into store. ev is not modified.
func (p *Publisher) Publish(ctx context.Context, store calendar.InstanceStore, ev calendar.Event) (Summary, error) {
	sum := Summary{EventID: ev.ID}
	err := p.publish(ctx, store, ev, &sum)
	if err == nil {
		appLog.Debug("[Publisher] published",
			"event_id", ev.ID, "freq", sum.Frequency, "generated", sum.Generated, "published", sum.Published())
		return sum, nil
	}

	if sum.Generated > 0 && !errors.Is(err, calendar.ErrStorageFailure) {
		if _, derr := store.DeleteInstances(ctx, ev.ID, calendar.DeleteAll()); derr != nil {
			appLog.Error("[Publisher] cleanup after failed publish", derr, "event_id", ev.ID)
		}
	}
	return sum, &calendar.ExpansionError{EventID: ev.ID, Err: err}
}

func (p *Publisher) publish(ctx context.Context, store calendar.InstanceStore, ev calendar.Event, sum *Summary) error {
	dur, err := newDuration(ev.Start, ev.End)
	if err != nil {
		appLog.Warn("[Publisher] rejected time range",
			"event_id", ev.ID, "start", ev.Start, "end", ev.End)
		return err
	}

	rule := calendar.RecurrenceRule{Frequency: calendar.FreqNone}
	if ev.Rule != nil && !ev.IsOverride() {
		rule = ev.Rule.Clone()
	}
	rule = rule.Normalized()
	sum.Frequency = rule.Frequency

	cal, err := p.provider.Open(ev.CalendarSystem, ev.Location(), rule.WeekStart)
	if err != nil {
		return err
	}
	if err := cal.SetInstant(ev.Start); err != nil {
		return err
	}
	loc, err := time.LoadLocation(ev.Location())
	if err != nil {
		return &calendar.ArithmeticError{Op: "open", Err: err}
	}

	plan, err := Resolve(rule, cal)
	if err != nil {
		return err
	}
	sum.Anchors = len(plan.Anchors)

	gen := newGenerator(plan, store, ev.ID, cal, effectiveUntil(plan.Range, ev.Partition(), loc), dur)
	err = gen.run(ctx)
	sum.Generated, sum.Duplicates = gen.inserted, gen.dupes
	if err != nil {
		return err
	}

	if plan.HasSetPos() {
		n, err := filterSetPos(ctx, store, ev.ID, plan, cal)
		sum.Removed += n
		if err != nil {
			return err
		}
	}

	if plan.Range.Kind == calendar.RangeCount {
		n, err := store.DeleteInstances(ctx, ev.ID, calendar.DeleteAfterNth(ev.Partition(), plan.Range.Count))
		if err != nil {
			return wrapStorage("truncate", err)
		}
		sum.Removed += n
	}

	for _, ex := range ev.Exdates {
		n, err := store.DeleteInstances(ctx, ev.ID, calendar.DeleteAt(ex.In(ev.Partition(), loc)))
		if err != nil {
			return wrapStorage("delete_exdate", err)
		}
		sum.Removed += n
	}

	return p.ApplyOverride(ctx, store, ev)
}

// ApplyOverride removes the occurrence an exception override replaces from
// its original series. It is a no-op for other events.
func (p *Publisher) ApplyOverride(ctx context.Context, store calendar.InstanceStore, ev calendar.Event) error {
	if !ev.IsOverride() {
		return nil
	}
	rid, ok := ev.RecurrenceID.Get()
	if !ok {
		return nil
	}
	if _, err := store.DeleteInstances(ctx, ev.OriginalEventID, calendar.DeleteAt(rid)); err != nil {
		return wrapStorage("delete_replaced", err)
	}
	return nil
}

// Discard removes every instance of the event from both partitions.
func (p *Publisher) Discard(ctx context.Context, store calendar.InstanceStore, eventID int64) error {
	if _, err := store.DeleteInstances(ctx, eventID, calendar.DeleteAll()); err != nil {
		return &calendar.ExpansionError{EventID: eventID, Err: wrapStorage("discard", err)}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

// effectiveUntil converts an Until bound to the event's partition. Bounds
// past the horizon are clamped to its last second.
func effectiveUntil(r calendar.Range, partition calendar.TimeType, loc *time.Location) *calendar.DateTime {
	if r.Kind != calendar.RangeUntil {
		return nil
	}
	u := r.Until.In(partition, loc)
	last := calendar.Local(Horizon.Year, Horizon.Month, Horizon.Day, 23, 59, 59).In(partition, loc)
	if u.Compare(last) > 0 {
		return &last
	}
	return &u
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, calendar.ErrStorageFailure) {
		return err
	}
	return &calendar.StorageError{Op: op, Err: err}
}
