package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/store/postgres"
)

// newStore connects to APP_TEST_PG_DSN and starts from empty tables.
func newStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("APP_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("APP_TEST_PG_DSN not set")
	}
	ctx := context.Background()
	s, err := postgres.New(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, s.Reset(ctx))
	t.Cleanup(func() { s.Close() })
	return s
}

func at(day, hour int) calendar.DateTime {
	return calendar.FromTime(time.Date(2024, 1, day, hour, 0, 0, 0, time.UTC))
}

func TestPostgresEventRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	ev := calendar.Event{
		Summary: "review",
		Start:   at(1, 9),
		End:     at(1, 10),
		Rule:    &calendar.RecurrenceRule{Frequency: calendar.FreqMonthly, ByDay: []string{"-1FR"}, Range: calendar.Count(3)},
		Exdates: []calendar.DateTime{at(26, 9)},
	}

	id, err := s.SaveEvent(ctx, ev)
	require.NoError(t, err)
	got, err := s.GetEvent(ctx, id)

	require.NoError(t, err)
	require.NotNil(t, got.Rule)
	assert.Equal(t, *ev.Rule, *got.Rule)
	assert.Equal(t, ev.Exdates, got.Exdates)
}

func TestPostgresDeleteFilters(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: at(1, 9), End: at(1, 9)})
	require.NoError(t, err)
	var ids []int64
	for d := 1; d <= 6; d++ {
		instID, err := s.InsertInstance(ctx, id, at(d, 9), at(d, 10))
		require.NoError(t, err)
		ids = append(ids, instID)
	}

	n, err := s.DeleteInstances(ctx, id, calendar.DeleteAfterNth(calendar.TimeUTC, 4))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeleteInstances(ctx, id, calendar.DeleteWindowExcept(at(1, 0), at(5, 0), []int64{ids[0], ids[3]}))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, err := s.ListInstances(ctx, id, at(1, 0), at(31, 0))
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, at(4, 9), list[1].Start)
}

func TestPostgresLocalInstances(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: calendar.Local(2024, 1, 1, 0, 0, 0), End: calendar.Local(2024, 1, 2, 0, 0, 0)})
	require.NoError(t, err)
	_, err = s.InsertInstance(ctx, id, calendar.Local(2024, 1, 8, 0, 0, 0), calendar.Local(2024, 1, 9, 0, 0, 0))
	require.NoError(t, err)

	got, err := s.InstancesInRange(ctx, time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC), time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, calendar.Local(2024, 1, 8, 0, 0, 0), got[0].Start)

	n, err := s.DeleteInstances(ctx, id, calendar.DeleteAt(calendar.Local(2024, 1, 8, 9, 0, 0)))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPostgresWithTxRollback(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	id, err := s.SaveEvent(ctx, calendar.Event{Start: at(1, 9), End: at(1, 9)})
	require.NoError(t, err)
	_, err = s.InsertInstance(ctx, id, at(1, 9), at(1, 9))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.WithTx(ctx, func(tx calendar.Store) error {
		if _, err := tx.DeleteInstances(ctx, id, calendar.DeleteAll()); err != nil {
			return err
		}
		return boom
	})

	assert.ErrorIs(t, err, boom)
	n, err := s.CountFutureInstances(ctx, id, at(1, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
