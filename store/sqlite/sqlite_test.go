package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/expand"
	"github.com/warp/calendar-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "calendar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func at(day, hour int) calendar.DateTime {
	return calendar.FromTime(time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC))
}

func TestEventRoundTripKeepsRuleAndOverride(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	series := calendar.Event{
		UID:            "series@test",
		Summary:        "standup",
		CalendarSystem: calendar.SystemSolar,
		Timezone:       "Europe/Paris",
		Start:          at(1, 9),
		End:            at(1, 10),
		Rule: &calendar.RecurrenceRule{
			Frequency: calendar.FreqWeekly,
			Interval:  2,
			Range:     calendar.Until(at(31, 9)),
			ByDay:     []string{"MO", "WE"},
			WeekStart: time.Monday,
		},
		Exdates: []calendar.DateTime{at(3, 9)},
	}
	id, err := s.SaveEvent(ctx, series)
	require.NoError(t, err)

	got, err := s.GetEvent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Europe/Paris", got.Timezone)
	assert.Equal(t, series.Start, got.Start)
	require.NotNil(t, got.Rule)
	assert.Equal(t, *series.Rule, *got.Rule)
	assert.Equal(t, series.Exdates, got.Exdates)
	assert.False(t, got.CreatedAt.IsZero())

	overrideID, err := s.SaveEvent(ctx, calendar.Event{
		Summary:         "moved",
		Start:           calendar.Local(2024, 1, 8, 0, 0, 0),
		End:             calendar.Local(2024, 1, 9, 0, 0, 0),
		OriginalEventID: id,
		RecurrenceID:    mo.Some(at(8, 9)),
	})
	require.NoError(t, err)

	overrides, err := s.ListOverrides(ctx, id)
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, overrideID, overrides[0].ID)
	assert.Equal(t, at(8, 9), overrides[0].RecurrenceID.MustGet())
	assert.Nil(t, overrides[0].Rule)
	assert.True(t, overrides[0].Start.IsLocal())
}

func TestSaveUnknownEventFails(t *testing.T) {
	s := newStore(t)

	_, err := s.SaveEvent(context.Background(), calendar.Event{ID: 42, Start: at(1, 9), End: at(1, 9)})

	assert.ErrorIs(t, err, calendar.ErrEventNotFound)
}

func TestDeleteFilters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: at(1, 9), End: at(1, 9)})
	require.NoError(t, err)

	var ids []int64
	for _, d := range []int{5, 1, 3, 4, 2, 6} {
		instID, err := s.InsertInstance(ctx, id, at(d, 9), at(d, 10))
		require.NoError(t, err)
		ids = append(ids, instID)
	}

	// keep the first five by start
	n, err := s.DeleteInstances(ctx, id, calendar.DeleteAfterNth(calendar.TimeUTC, 5))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.DeleteInstances(ctx, id, calendar.DeleteAt(at(3, 9)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// day 1 is ids[1]
	n, err = s.DeleteInstances(ctx, id, calendar.DeleteWindowExcept(at(1, 0), at(3, 0), []int64{ids[1]}))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.CountFutureInstances(ctx, id, at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	list, err := s.ListInstances(ctx, id, at(1, 0), at(31, 0))
	require.NoError(t, err)
	var starts []calendar.DateTime
	for _, inst := range list {
		starts = append(starts, inst.Start)
	}
	assert.Equal(t, []calendar.DateTime{at(1, 9), at(4, 9), at(5, 9)}, starts)

	n, err = s.DeleteInstances(ctx, id, calendar.DeleteAll())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestLocalDeleteAtMatchesWholeDay(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: calendar.Local(2024, 1, 1, 0, 0, 0), End: calendar.Local(2024, 1, 2, 0, 0, 0)})
	require.NoError(t, err)
	_, err = s.InsertInstance(ctx, id, calendar.Local(2024, 1, 8, 0, 0, 0), calendar.Local(2024, 1, 9, 0, 0, 0))
	require.NoError(t, err)

	n, err := s.DeleteInstances(ctx, id, calendar.DeleteAt(calendar.Local(2024, 1, 8, 17, 30, 0)))

	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestInstancesInRangeMergesPartitions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	for i := 0; i < 4; i++ {
		_, err := s.SaveEvent(ctx, calendar.Event{Start: at(1, 9), End: at(1, 9)})
		require.NoError(t, err)
	}
	_, _ = s.InsertInstance(ctx, 1, at(1, 0), at(3, 0))
	_, _ = s.InsertInstance(ctx, 2, at(5, 0), at(5, 0))
	_, _ = s.InsertInstance(ctx, 3, at(9, 0), at(10, 0))
	_, _ = s.InsertInstance(ctx, 4, calendar.Local(2024, 1, 4, 0, 0, 0), calendar.Local(2024, 1, 5, 0, 0, 0))

	got, err := s.InstancesInRange(ctx, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC))

	require.NoError(t, err)
	var events []int64
	for _, inst := range got {
		events = append(events, inst.EventID)
	}
	assert.Equal(t, []int64{1, 4, 2}, events)
}

func TestDeleteEventCascadesInstances(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: at(1, 9), End: at(1, 9)})
	require.NoError(t, err)
	_, err = s.InsertInstance(ctx, id, at(1, 9), at(1, 9))
	require.NoError(t, err)

	require.NoError(t, s.DeleteEvent(ctx, id))

	n, err := s.CountFutureInstances(ctx, id, at(1, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.ErrorIs(t, s.DeleteEvent(ctx, id), calendar.ErrEventNotFound)
}

func TestWithTxRollsBackPublish(t *testing.T) {
	// GIVEN: a weekly series published once
	ctx := context.Background()
	s := newStore(t)
	ev := calendar.Event{
		Start: at(1, 9),
		End:   at(1, 10),
		Rule:  &calendar.RecurrenceRule{Frequency: calendar.FreqWeekly, Range: calendar.Count(4)},
	}
	id, err := s.SaveEvent(ctx, ev)
	require.NoError(t, err)
	ev.ID = id
	pub := expand.NewPublisher(nil)
	_, err = pub.Publish(ctx, s, ev)
	require.NoError(t, err)

	// WHEN: a republish inside a transaction fails after discarding
	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx calendar.Store) error {
		if err := pub.Discard(ctx, tx, id); err != nil {
			return err
		}
		return boom
	})

	// THEN: the original instances are still there
	assert.ErrorIs(t, err, boom)
	n, err := s.CountFutureInstances(ctx, id, at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: at(1, 9), End: at(1, 9)})
	require.NoError(t, err)
	_, err = s.InsertInstance(ctx, id, at(1, 9), at(1, 9))
	require.NoError(t, err)

	require.NoError(t, s.Reset(ctx))

	events, err := s.ListEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestMixedRepresentationsRejected(t *testing.T) {
	s := newStore(t)

	_, err := s.InsertInstance(context.Background(), 1, at(1, 9), calendar.Local(2024, 1, 1, 10, 0, 0))

	assert.ErrorIs(t, err, calendar.ErrStorageFailure)
}
