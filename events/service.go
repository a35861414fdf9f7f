/*
service.go - Event lifecycle around the expansion engine

PURPOSE:
  Owns event records and keeps their instances consistent. Every mutation
  runs in one TxStore.WithTx so readers never see an event whose instances
  belong to a previous version.

MUTATION FLOW:
  1. Save the event record
  2. Discard its instances
  3. Publish the new instance set
  4. Series: re-apply the removals of its existing overrides
     Override: republish the original series

  A failure at any step rolls the transaction back; the previous record and
  instance set stay in place.

OVERRIDES:
  An override (OriginalEventID > 0) replaces one occurrence of a series.
  Deleting a series deletes its overrides. Deleting an override republishes
  the series so the replaced occurrence comes back.

SEE ALSO:
  - expand/publisher.go: Publish and Discard
  - api/handlers.go: HTTP surface
*/
package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/expand"
	appLog "github.com/warp/calendar-engine/log"
	"github.com/warp/calendar-engine/metrics"
)

// ErrInvalidOverride is returned when an override points at another
// override, at itself, or has no recurrence id.
var ErrInvalidOverride = errors.New("invalid exception override")

// Defaults fill event fields a client left empty.
type Defaults struct {
	Timezone string
}

// Service manages events and their instances.
type Service struct {
	store     calendar.TxStore
	publisher *expand.Publisher
	defaults  Defaults
}

func NewService(store calendar.TxStore, publisher *expand.Publisher, defaults Defaults) *Service {
	if publisher == nil {
		publisher = expand.NewPublisher(nil)
	}
	return &Service{store: store, publisher: publisher, defaults: defaults}
}

// Result is a saved event and what its publication did.
type Result struct {
	Event   calendar.Event
	Summary expand.Summary
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Create stores a new event and publishes its instances.
func (s *Service) Create(ctx context.Context, ev calendar.Event) (Result, error) {
	ev.ID = 0
	s.applyDefaults(&ev)

	var res Result
	err := s.store.WithTx(ctx, func(tx calendar.Store) error {
		if err := validateOverride(ctx, tx, ev); err != nil {
			return err
		}
		id, err := tx.SaveEvent(ctx, ev)
		if err != nil {
			return err
		}
		saved, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		res.Event = saved
		res.Summary, err = s.rebuild(ctx, tx, saved)
		return err
	})
	if err != nil {
		return Result{}, err
	}

	appLog.Info("[Service] event created",
		"event_id", res.Event.ID, "uid", res.Event.UID, "freq", res.Event.Frequency(), "instances", res.Summary.Published())
	return res, nil
}

// Update replaces an existing event and rebuilds its instances.
func (s *Service) Update(ctx context.Context, ev calendar.Event) (Result, error) {
	s.applyDefaults(&ev)

	var res Result
	err := s.store.WithTx(ctx, func(tx calendar.Store) error {
		prev, err := tx.GetEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		ev.CreatedAt = prev.CreatedAt
		if prev.UID != "" {
			ev.UID = prev.UID
		}
		if err := validateOverride(ctx, tx, ev); err != nil {
			return err
		}
		if _, err := tx.SaveEvent(ctx, ev); err != nil {
			return err
		}
		saved, err := tx.GetEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		res.Event = saved
		if res.Summary, err = s.rebuild(ctx, tx, saved); err != nil {
			return err
		}

		// The slot the override used to replace comes back.
		if prev.IsOverride() {
			if _, err := s.rebuildByID(ctx, tx, prev.OriginalEventID); err != nil && !calendar.IsNotFound(err) {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	appLog.Info("[Service] event updated",
		"event_id", res.Event.ID, "freq", res.Event.Frequency(), "instances", res.Summary.Published())
	return res, nil
}

// Delete removes an event with its instances. Deleting a series also
// deletes its overrides.
func (s *Service) Delete(ctx context.Context, id int64) error {
	err := s.store.WithTx(ctx, func(tx calendar.Store) error {
		ev, err := tx.GetEvent(ctx, id)
		if err != nil {
			return err
		}

		if !ev.IsOverride() {
			overrides, err := tx.ListOverrides(ctx, id)
			if err != nil {
				return err
			}
			for _, o := range overrides {
				if err := s.remove(ctx, tx, o.ID); err != nil {
					return err
				}
			}
			return s.remove(ctx, tx, id)
		}

		if err := s.remove(ctx, tx, id); err != nil {
			return err
		}
		if _, err := s.rebuildByID(ctx, tx, ev.OriginalEventID); err != nil && !calendar.IsNotFound(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}

	appLog.Info("[Service] event deleted", "event_id", id)
	return nil
}

// Republish rebuilds every event, series first. Failures are logged and
// returned together; the remaining events are still processed.
func (s *Service) Republish(ctx context.Context) (int, error) {
	all, err := s.store.ListEvents(ctx)
	if err != nil {
		return 0, err
	}

	ordered := make([]calendar.Event, 0, len(all))
	for _, ev := range all {
		if !ev.IsOverride() {
			ordered = append(ordered, ev)
		}
	}
	for _, ev := range all {
		if ev.IsOverride() {
			ordered = append(ordered, ev)
		}
	}

	var (
		errs []error
		done int
	)
	for _, ev := range ordered {
		err := s.store.WithTx(ctx, func(tx calendar.Store) error {
			_, err := s.rebuild(ctx, tx, ev)
			return err
		})
		if err != nil {
			appLog.Error("[Service] republish failed", err, "event_id", ev.ID)
			errs = append(errs, err)
			continue
		}
		done++
	}

	appLog.Info("[Service] republished", "events", done, "failed", len(errs))
	return done, errors.Join(errs...)
}

// Import creates a batch of events. Events whose UID matches a series in
// the batch and carry a recurrence id become overrides of that series.
func (s *Service) Import(ctx context.Context, batch []calendar.Event) ([]Result, error) {
	series := make(map[string]int64)
	var results []Result

	create := func(ev calendar.Event) error {
		res, err := s.Create(ctx, ev)
		if err != nil {
			return fmt.Errorf("import %q: %w", ev.UID, err)
		}
		results = append(results, res)
		if !res.Event.IsOverride() && res.Event.UID != "" {
			series[res.Event.UID] = res.Event.ID
		}
		return nil
	}

	for _, ev := range batch {
		if ev.RecurrenceID.IsPresent() {
			continue
		}
		if err := create(ev); err != nil {
			return results, err
		}
	}
	for _, ev := range batch {
		if ev.RecurrenceID.IsAbsent() {
			continue
		}
		id, ok := series[ev.UID]
		if !ok {
			appLog.Warn("[Service] skipping orphan override", "uid", ev.UID)
			continue
		}
		ev.OriginalEventID = id
		ev.UID = ""
		if err := create(ev); err != nil {
			return results, err
		}
	}
	return results, nil
}

// =============================================================================
// QUERIES
// =============================================================================

func (s *Service) Get(ctx context.Context, id int64) (calendar.Event, error) {
	return s.store.GetEvent(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]calendar.Event, error) {
	return s.store.ListEvents(ctx)
}

// Instances returns every instance overlapping [from, to).
func (s *Service) Instances(ctx context.Context, from, to time.Time) ([]calendar.Instance, error) {
	if !from.Before(to) {
		return nil, calendar.ErrInvalidTimeRange
	}
	return s.store.InstancesInRange(ctx, from, to)
}

// EventInstances returns the instances of one event starting in [from, to).
// Bounds are converted to the event's representation in its own zone.
func (s *Service) EventInstances(ctx context.Context, id int64, from, to time.Time) ([]calendar.Instance, error) {
	if !from.Before(to) {
		return nil, calendar.ErrInvalidTimeRange
	}
	ev, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(ev.Location())
	if err != nil {
		return nil, &calendar.ArithmeticError{Op: "open", Err: err}
	}
	lo := calendar.FromTime(from).In(ev.Partition(), loc)
	hi := calendar.FromTime(to).In(ev.Partition(), loc)
	return s.store.ListInstances(ctx, id, lo, hi)
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Service) applyDefaults(ev *calendar.Event) {
	if ev.UID == "" && !ev.IsOverride() {
		ev.UID = uuid.NewString()
	}
	if ev.Timezone == "" {
		ev.Timezone = s.defaults.Timezone
	}
	if ev.CalendarSystem == "" {
		ev.CalendarSystem = calendar.SystemSolar
	}
}

// rebuild discards and republishes ev inside tx, then re-applies the
// removals its overrides own.
func (s *Service) rebuild(ctx context.Context, tx calendar.Store, ev calendar.Event) (expand.Summary, error) {
	start := time.Now()
	if err := s.publisher.Discard(ctx, tx, ev.ID); err != nil {
		return expand.Summary{}, err
	}
	sum, err := s.publisher.Publish(ctx, tx, ev)
	metrics.ObservePublish(ev.Frequency().String(), start, sum.Published(), err)
	if err != nil {
		return sum, err
	}

	if ev.IsOverride() {
		return sum, nil
	}
	overrides, err := tx.ListOverrides(ctx, ev.ID)
	if err != nil {
		return sum, err
	}
	for _, o := range overrides {
		if err := s.publisher.ApplyOverride(ctx, tx, o); err != nil {
			return sum, &calendar.ExpansionError{EventID: o.ID, Err: err}
		}
	}
	return sum, nil
}

func (s *Service) rebuildByID(ctx context.Context, tx calendar.Store, id int64) (expand.Summary, error) {
	ev, err := tx.GetEvent(ctx, id)
	if err != nil {
		return expand.Summary{}, err
	}
	return s.rebuild(ctx, tx, ev)
}

func (s *Service) remove(ctx context.Context, tx calendar.Store, id int64) error {
	if err := s.publisher.Discard(ctx, tx, id); err != nil {
		return err
	}
	return tx.DeleteEvent(ctx, id)
}

func validateOverride(ctx context.Context, tx calendar.Store, ev calendar.Event) error {
	if !ev.IsOverride() {
		return nil
	}
	if ev.OriginalEventID == ev.ID {
		return fmt.Errorf("%w: event %d cannot override itself", ErrInvalidOverride, ev.ID)
	}
	if ev.RecurrenceID.IsAbsent() {
		return fmt.Errorf("%w: recurrence id is required", ErrInvalidOverride)
	}
	original, err := tx.GetEvent(ctx, ev.OriginalEventID)
	if err != nil {
		return err
	}
	if original.IsOverride() {
		return fmt.Errorf("%w: event %d is itself an override", ErrInvalidOverride, original.ID)
	}
	return nil
}
