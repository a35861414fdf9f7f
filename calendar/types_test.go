package calendar_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
)

func TestParseDateTime(t *testing.T) {
	tests := []struct {
		in   string
		want calendar.DateTime
	}{
		{"2024-01-01T09:00:00Z", calendar.FromTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))},
		{"2024-01-01T10:00:00+01:00", calendar.FromTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))},
		{"2024-01-01T09:30:00", calendar.Local(2024, 1, 1, 9, 30, 0)},
		{"2024-01-01", calendar.Local(2024, 1, 1, 0, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := calendar.ParseDateTime(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := calendar.ParseDateTime("next tuesday")
	assert.Error(t, err)
}

func TestCompareGranular(t *testing.T) {
	morning := calendar.Local(2024, 1, 1, 9, 0, 0)
	evening := calendar.Local(2024, 1, 1, 21, 0, 0)

	assert.Equal(t, 0, morning.CompareGranular(evening))
	assert.Equal(t, -1, morning.Compare(evening))

	a := calendar.UTC(100)
	b := calendar.UTC(200)
	assert.Equal(t, -1, a.CompareGranular(b))
}

func TestDateTimeIn(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	local := calendar.Local(2024, 1, 1, 9, 0, 0)
	inst := local.In(calendar.TimeUTC, tokyo)
	assert.Equal(t, "2024-01-01T00:00:00Z", inst.String())
	assert.Equal(t, local, inst.In(calendar.TimeLocal, tokyo))
}

func TestDaysBetween(t *testing.T) {
	assert.Equal(t, 3, calendar.DaysBetween(calendar.Local(2024, 2, 27, 23, 0, 0), calendar.Local(2024, 3, 1, 1, 0, 0)))
	assert.Equal(t, 0, calendar.DaysBetween(calendar.Local(2024, 2, 27, 0, 0, 0), calendar.Local(2024, 2, 27, 8, 0, 0)))
}

func TestParseWeekdayOrdinal(t *testing.T) {
	tests := []struct {
		in      string
		want    calendar.WeekdayOrdinal
		wantErr bool
	}{
		{"MO", calendar.WeekdayOrdinal{Day: time.Monday}, false},
		{"+2th", calendar.WeekdayOrdinal{Ordinal: 2, Day: time.Thursday}, false},
		{"-1FR", calendar.WeekdayOrdinal{Ordinal: -1, Day: time.Friday}, false},
		{"0MO", calendar.WeekdayOrdinal{}, true},
		{"54SU", calendar.WeekdayOrdinal{}, true},
		{"XX", calendar.WeekdayOrdinal{}, true},
		{"M", calendar.WeekdayOrdinal{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := calendar.ParseWeekdayOrdinal(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, calendar.ErrInvalidRule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFrequency(t *testing.T) {
	f, err := calendar.ParseFrequency("weekly")
	require.NoError(t, err)
	assert.Equal(t, calendar.FreqWeekly, f)

	f, err = calendar.ParseFrequency("")
	require.NoError(t, err)
	assert.Equal(t, calendar.FreqNone, f)

	_, err = calendar.ParseFrequency("HOURLY")
	var ruleErr *calendar.RuleError
	assert.True(t, errors.As(err, &ruleErr))
	assert.Equal(t, "freq", ruleErr.Field)
}

func TestDeleteFilterMatches(t *testing.T) {
	inst := calendar.Instance{ID: 5, Start: calendar.Local(2024, 1, 8, 0, 0, 0)}

	assert.True(t, calendar.DeleteAt(calendar.Local(2024, 1, 8, 15, 0, 0)).Matches(inst))
	assert.False(t, calendar.DeleteAt(calendar.UTC(inst.Start.Time().Unix())).Matches(inst))

	window := calendar.DeleteWindowExcept(calendar.Local(2024, 1, 1, 0, 0, 0), calendar.Local(2024, 2, 1, 0, 0, 0), []int64{5})
	assert.False(t, window.Matches(inst))
	window.Keep = nil
	assert.True(t, window.Matches(inst))
}
