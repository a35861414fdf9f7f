package calendar_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
)

func openUTC(t *testing.T, at calendar.DateTime, weekStart time.Weekday) calendar.Context {
	t.Helper()
	c, err := calendar.NewGregorian().Open(calendar.SystemSolar, "UTC", weekStart)
	require.NoError(t, err)
	require.NoError(t, c.SetInstant(at))
	return c
}

func utcDate(y, m, d int) calendar.DateTime {
	return calendar.FromTime(time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC))
}

func TestOpenRejectsLunisolar(t *testing.T) {
	_, err := calendar.NewGregorian().Open(calendar.SystemLunisolar, "UTC", time.Monday)

	assert.ErrorIs(t, err, calendar.ErrUnsupportedCalendar)
	assert.ErrorIs(t, err, calendar.ErrArithmeticFailure)
}

func TestOpenRejectsUnknownZone(t *testing.T) {
	_, err := calendar.NewGregorian().Open(calendar.SystemSolar, "Mars/Olympus", time.Monday)

	assert.ErrorIs(t, err, calendar.ErrArithmeticFailure)
}

func TestSetIsLenientButRangeChecked(t *testing.T) {
	c := openUTC(t, utcDate(2024, 4, 1), time.Monday)

	// April 31 rolls into May.
	require.NoError(t, c.Set(calendar.FieldDay, 31))
	assert.Equal(t, 5, c.Get(calendar.FieldMonth))
	assert.Equal(t, 1, c.Get(calendar.FieldDay))

	err := c.Set(calendar.FieldDay, 32)
	assert.ErrorIs(t, err, calendar.ErrArithmeticFailure)
	assert.ErrorIs(t, err, calendar.ErrInvalidRule)
	assert.ErrorIs(t, err, calendar.ErrFieldOutOfRange)
}

func TestAddMonthPinsDay(t *testing.T) {
	c := openUTC(t, utcDate(2024, 1, 31), time.Monday)

	require.NoError(t, c.Add(calendar.FieldMonth, 1))
	assert.Equal(t, utcDate(2024, 2, 29), c.Instant())

	require.NoError(t, c.Add(calendar.FieldYear, 1))
	assert.Equal(t, utcDate(2025, 2, 28), c.Instant())
}

func TestWeekOfYear(t *testing.T) {
	tests := []struct {
		name      string
		date      calendar.DateTime
		weekStart time.Weekday
		want      int
	}{
		{"ISO week 53 of previous year", utcDate(2021, 1, 1), time.Monday, 53},
		{"ISO first week", utcDate(2021, 1, 4), time.Monday, 1},
		{"late December in next year's week 1", utcDate(2024, 12, 30), time.Monday, 1},
		{"mid year", utcDate(2024, 5, 13), time.Monday, 20},
		{"sunday start", utcDate(2024, 1, 7), time.Sunday, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openUTC(t, tt.date, tt.weekStart)
			assert.Equal(t, tt.want, c.Get(calendar.FieldWeekOfYear))
		})
	}
}

func TestSetWeekOfYear(t *testing.T) {
	// GIVEN: Wednesday January 1, 2025 with Monday weeks
	c := openUTC(t, utcDate(2025, 1, 1), time.Monday)

	// WHEN: the last week is selected
	require.NoError(t, c.Set(calendar.FieldWeekOfYear, -1))

	// THEN: Wednesday of ISO week 52 of 2025
	assert.Equal(t, utcDate(2025, 12, 24), c.Instant())
	assert.Equal(t, 52, c.Get(calendar.FieldWeekOfYear))
}

func TestSetDayOfWeekInMonth(t *testing.T) {
	// 2024-05-01 is a Wednesday.
	c := openUTC(t, utcDate(2024, 5, 1), time.Monday)

	require.NoError(t, c.Set(calendar.FieldDayOfWeekInMonth, 3))
	assert.Equal(t, utcDate(2024, 5, 15), c.Instant())

	require.NoError(t, c.Set(calendar.FieldDayOfWeekInMonth, -1))
	assert.Equal(t, utcDate(2024, 5, 29), c.Instant())

	// A fifth Wednesday does not exist in June 2024; the value rolls into July.
	require.NoError(t, c.Set(calendar.FieldMonth, 6))
	require.NoError(t, c.Set(calendar.FieldDay, 5))
	require.NoError(t, c.Set(calendar.FieldDayOfWeekInMonth, 5))
	assert.Equal(t, 7, c.Get(calendar.FieldMonth))
}

func TestSetDayOfWeekStaysInWeek(t *testing.T) {
	// Thursday 2024-01-04.
	monday := openUTC(t, utcDate(2024, 1, 4), time.Monday)
	require.NoError(t, monday.Set(calendar.FieldDayOfWeek, int(time.Sunday)))
	assert.Equal(t, utcDate(2024, 1, 7), monday.Instant())

	sunday := openUTC(t, utcDate(2024, 1, 4), time.Sunday)
	require.NoError(t, sunday.Set(calendar.FieldDayOfWeek, int(time.Sunday)))
	assert.Equal(t, utcDate(2023, 12, 31), sunday.Instant())
}

func TestSetDayOfYear(t *testing.T) {
	c := openUTC(t, utcDate(2023, 1, 1), time.Monday)

	require.NoError(t, c.Set(calendar.FieldDayOfYear, -1))
	assert.Equal(t, utcDate(2023, 12, 31), c.Instant())

	require.NoError(t, c.Set(calendar.FieldDayOfYear, 366))
	assert.Equal(t, utcDate(2024, 1, 1), c.Instant())
}

func TestFloatingContextKeepsCivilFields(t *testing.T) {
	c, err := calendar.NewGregorian().Open(calendar.SystemSolar, "Asia/Tokyo", time.Monday)
	require.NoError(t, err)
	require.NoError(t, c.SetInstant(calendar.Local(2024, 3, 10, 2, 30, 0)))

	require.NoError(t, c.Add(calendar.FieldDay, 1))

	assert.Equal(t, calendar.Local(2024, 3, 11, 2, 30, 0), c.Instant())
}

func TestZonedContextReadsCivilFieldsInZone(t *testing.T) {
	c, err := calendar.NewGregorian().Open(calendar.SystemSolar, "America/New_York", time.Monday)
	require.NoError(t, err)

	// 03:00Z on Jan 2 is still Jan 1 in New York.
	require.NoError(t, c.SetInstant(calendar.FromTime(time.Date(2024, 1, 2, 3, 0, 0, 0, time.UTC))))

	assert.Equal(t, 1, c.Get(calendar.FieldDay))
	assert.Equal(t, 22, c.Get(calendar.FieldHour))
}

func TestCloneIsIndependent(t *testing.T) {
	c := openUTC(t, utcDate(2024, 1, 1), time.Monday)
	cp := c.Clone()

	require.NoError(t, cp.Add(calendar.FieldDay, 10))

	assert.Equal(t, utcDate(2024, 1, 1), c.Instant())
	assert.Equal(t, utcDate(2024, 1, 11), cp.Instant())
}
