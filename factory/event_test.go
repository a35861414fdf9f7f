package factory_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/factory"
)

func utc(y, m, d, h, mi, s int) calendar.DateTime {
	return calendar.FromTime(time.Date(y, time.Month(m), d, h, mi, s, 0, time.UTC))
}

func TestParseEventStructuredRule(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)

	ev, err := f.ParseEvent(`{
		"summary": "Sprint review",
		"start": "2024-01-05T14:00:00Z",
		"end": "2024-01-05T15:00:00Z",
		"rule": {"freq": "monthly", "by_day": ["-1FR"], "count": 12},
		"exdates": ["2024-03-29T14:00:00Z"]
	}`)

	require.NoError(t, err)
	assert.Equal(t, "Sprint review", ev.Summary)
	assert.Equal(t, utc(2024, 1, 5, 14, 0, 0), ev.Start)
	require.NotNil(t, ev.Rule)
	assert.Equal(t, calendar.FreqMonthly, ev.Rule.Frequency)
	assert.Equal(t, []string{"-1FR"}, ev.Rule.ByDay)
	assert.Equal(t, calendar.Count(12), ev.Rule.Range)
	assert.Equal(t, time.Monday, ev.Rule.WeekStart)
	assert.Equal(t, []calendar.DateTime{utc(2024, 3, 29, 14, 0, 0)}, ev.Exdates)
}

func TestParseEventRRuleText(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)

	ev, err := f.ParseEvent(`{
		"start": "2024-01-01T09:00:00Z",
		"end": "2024-01-01T09:30:00Z",
		"rrule": "RRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,+1WE;WKST=SU;COUNT=6"
	}`)

	require.NoError(t, err)
	require.NotNil(t, ev.Rule)
	assert.Equal(t, calendar.FreqWeekly, ev.Rule.Frequency)
	assert.Equal(t, 2, ev.Rule.Interval)
	assert.Equal(t, []string{"MO", "+1WE"}, ev.Rule.ByDay)
	assert.Equal(t, time.Sunday, ev.Rule.WeekStart)
	assert.Equal(t, calendar.Count(6), ev.Rule.Range)
}

func TestDateOnlyUntilIsEndOfDayInZone(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)
	start := utc(2024, 1, 1, 9, 0, 0)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	rule, err := f.ParseRRule("FREQ=DAILY;UNTIL=20240110", start, ny)
	require.NoError(t, err)

	// 23:59:59 EST is 04:59:59Z the next day.
	assert.Equal(t, calendar.Until(utc(2024, 1, 11, 4, 59, 59)), rule.Range)

	local, err := f.ParseRRule("FREQ=DAILY;UNTIL=20240110", calendar.Local(2024, 1, 1, 0, 0, 0), ny)
	require.NoError(t, err)
	assert.Equal(t, calendar.Until(calendar.Local(2024, 1, 10, 23, 59, 59)), local.Range)
}

func TestParseRRuleUntilInstant(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)

	rule, err := f.ParseRRule("FREQ=WEEKLY;UNTIL=20240110T000000Z", utc(2024, 1, 1, 9, 0, 0), time.UTC)

	require.NoError(t, err)
	assert.Equal(t, calendar.Until(utc(2024, 1, 10, 0, 0, 0)), rule.Range)
}

func TestParseRRuleRejects(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)
	start := utc(2024, 1, 1, 9, 0, 0)

	tests := []struct {
		name string
		text string
	}{
		{"missing freq", "INTERVAL=2"},
		{"hourly", "FREQ=HOURLY;COUNT=3"},
		{"garbage", "FREQ=WEEKLY;BYDAY=XX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseRRule(tt.text, start, time.UTC)
			assert.ErrorIs(t, err, calendar.ErrInvalidRule)
		})
	}
}

func TestFromJSONErrors(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)

	tests := []struct {
		name string
		ej   factory.EventJSON
		want error
	}{
		{"bad start", factory.EventJSON{Start: "tomorrow"}, factory.ErrInvalidEvent},
		{"bad zone", factory.EventJSON{Start: "2024-01-01", Timezone: "Mars/Base"}, factory.ErrInvalidEvent},
		{"both rule forms", factory.EventJSON{Start: "2024-01-01", Rule: &factory.RuleJSON{Freq: "daily"}, RRule: "FREQ=DAILY"}, factory.ErrInvalidEvent},
		{"count and until", factory.EventJSON{Start: "2024-01-01", Rule: &factory.RuleJSON{Freq: "daily", Count: 2, Until: "2024-02-01"}}, calendar.ErrInvalidRule},
		{"unknown freq", factory.EventJSON{Start: "2024-01-01", Rule: &factory.RuleJSON{Freq: "hourly"}}, calendar.ErrInvalidRule},
		{"bad week start", factory.EventJSON{Start: "2024-01-01", Rule: &factory.RuleJSON{Freq: "daily", WeekStart: "XX"}}, calendar.ErrInvalidRule},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.FromJSON(tt.ej)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestMissingEndMeansZeroDuration(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)

	ev, err := f.FromJSON(factory.EventJSON{Start: "2024-02-01"})

	require.NoError(t, err)
	assert.Equal(t, ev.Start, ev.End)
	assert.True(t, ev.Start.IsLocal())
}

func TestOverrideFields(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)

	ev, err := f.FromJSON(factory.EventJSON{
		Start:           "2024-01-03T15:00:00Z",
		End:             "2024-01-03T16:00:00Z",
		OriginalEventID: 7,
		RecurrenceID:    "2024-01-03T09:00:00Z",
	})

	require.NoError(t, err)
	assert.True(t, ev.IsOverride())
	assert.Equal(t, utc(2024, 1, 3, 9, 0, 0), ev.RecurrenceID.MustGet())

	ej := f.ToJSON(ev)
	assert.Equal(t, "2024-01-03T09:00:00Z", ej.RecurrenceID)
	assert.Nil(t, ej.Rule)
}

func TestToJSONRendersRuleBothWays(t *testing.T) {
	f := factory.NewEventFactory(time.Monday)
	ev := calendar.Event{
		Start: utc(2024, 1, 5, 14, 0, 0),
		End:   utc(2024, 1, 5, 15, 0, 0),
		Rule: &calendar.RecurrenceRule{
			Frequency: calendar.FreqMonthly,
			Interval:  2,
			ByDay:     []string{"-1FR"},
			Range:     calendar.Count(4),
		},
	}

	ej := f.ToJSON(ev)

	require.NotNil(t, ej.Rule)
	assert.Equal(t, "monthly", ej.Rule.Freq)
	assert.Equal(t, 4, ej.Rule.Count)
	assert.Equal(t, "SU", ej.Rule.WeekStart)
	assert.True(t, strings.Contains(ej.RRule, "FREQ=MONTHLY"), ej.RRule)
	assert.True(t, strings.Contains(ej.RRule, "COUNT=4"), ej.RRule)
	assert.True(t, strings.Contains(ej.RRule, "-1FR"), ej.RRule)
}
