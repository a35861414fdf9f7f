package expand

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
)

func openAt(t *testing.T, start calendar.DateTime) calendar.Context {
	t.Helper()
	c, err := calendar.NewGregorian().Open(calendar.SystemSolar, "UTC", time.Monday)
	require.NoError(t, err)
	require.NoError(t, c.SetInstant(start))
	return c
}

func TestResolveDrivingFields(t *testing.T) {
	start := calendar.FromTime(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)) // Friday

	tests := []struct {
		name string
		rule calendar.RecurrenceRule
		want []Anchor
	}{
		{
			name: "yearly defaults to start month and day",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqYearly},
			want: []Anchor{{Kind: AnchorMonthDay, Month: 3, Day: 15}},
		},
		{
			name: "yearly by month keeps start day",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqYearly, ByMonth: []int{1, 7}},
			want: []Anchor{{Kind: AnchorMonthDay, Month: 1, Day: 15}, {Kind: AnchorMonthDay, Month: 7, Day: 15}},
		},
		{
			name: "monthly defaults to start day",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqMonthly},
			want: []Anchor{{Kind: AnchorMonthDay, Day: 15}},
		},
		{
			name: "monthly ordinal weekday",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqMonthly, ByDay: []string{"+2TU"}},
			want: []Anchor{{Kind: AnchorWeekdayInMonth, Ordinal: 2, Weekday: time.Tuesday}},
		},
		{
			name: "weekly collapses duplicate weekdays and drops ordinals",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqWeekly, ByDay: []string{"MO", "1MO", "FR"}},
			want: []Anchor{{Kind: AnchorWeekday, Weekday: time.Monday}, {Kind: AnchorWeekday, Weekday: time.Friday}},
		},
		{
			name: "weekly defaults to start weekday",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqWeekly},
			want: []Anchor{{Kind: AnchorWeekday, Weekday: time.Friday}},
		},
		{
			name: "daily is the start itself",
			rule: calendar.RecurrenceRule{Frequency: calendar.FreqDaily},
			want: []Anchor{{Kind: AnchorStart}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := Resolve(tt.rule, openAt(t, start))
			require.NoError(t, err)
			assert.Equal(t, tt.want, plan.Anchors)
		})
	}
}

func TestResolveMonthlyPlainWeekdayExpandsOrdinals(t *testing.T) {
	start := calendar.FromTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	plan, err := Resolve(calendar.RecurrenceRule{Frequency: calendar.FreqMonthly, ByDay: []string{"WE"}}, openAt(t, start))

	require.NoError(t, err)
	require.Len(t, plan.Anchors, 5)
	for i, a := range plan.Anchors {
		assert.Equal(t, i+1, a.Ordinal)
		assert.Equal(t, time.Wednesday, a.Weekday)
	}
}

func TestResolveNoneForcesSingleOccurrence(t *testing.T) {
	start := calendar.FromTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	plan, err := Resolve(calendar.RecurrenceRule{Frequency: calendar.FreqNone, Interval: 4, Range: calendar.Count(9)}, openAt(t, start))

	require.NoError(t, err)
	assert.Equal(t, 1, plan.Interval)
	assert.Equal(t, calendar.Count(1), plan.Range)
	assert.Equal(t, 1, plan.Budget)
}

func TestResolveClockMultipliesAnchors(t *testing.T) {
	start := calendar.FromTime(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC))
	rule := calendar.RecurrenceRule{Frequency: calendar.FreqWeekly, ByDay: []string{"MO", "TH"}, ByHour: []int{8, 12}}

	plan, err := Resolve(rule, openAt(t, start))

	require.NoError(t, err)
	require.Len(t, plan.Anchors, 4)
	for _, a := range plan.Anchors {
		assert.True(t, a.Clock)
		assert.Equal(t, 30, a.Minute)
	}
}

func TestResolveUnknownFrequency(t *testing.T) {
	start := calendar.FromTime(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))

	_, err := Resolve(calendar.RecurrenceRule{Frequency: calendar.Frequency(42)}, openAt(t, start))

	assert.ErrorIs(t, err, calendar.ErrInvalidRule)
}

func TestBudget(t *testing.T) {
	plain := func(n int) []Anchor {
		out := make([]Anchor, n)
		for i := range out {
			out[i] = Anchor{Kind: AnchorWeekday, Weekday: time.Weekday(i % 7)}
		}
		return out
	}

	tests := []struct {
		name    string
		count   int
		anchors []Anchor
		setPos  []int
		limited bool
		want    int
	}{
		{"single anchor", 10, plain(1), nil, false, 10},
		{"ceil over anchors", 10, plain(3), nil, false, 4},
		{"set pos divides", 4, plain(6), []int{1, -1}, false, 12},
		{"set pos remainder", 4, plain(3), []int{1, -1}, false, 7},
		{"set pos zero ignored", 4, plain(3), []int{0, 1}, false, 12},
		{"more positions than anchors", 4, plain(1), []int{1, 2, 3}, false, 5},
		{"limits raise to count", 10, plain(3), nil, true, 10},
		{"missing anchors raise to count", 6, []Anchor{{Kind: AnchorMonthDay, Day: 31}, {Kind: AnchorMonthDay, Day: 1}}, nil, false, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, budget(tt.count, tt.anchors, tt.setPos, tt.limited))
		})
	}
}

func TestKeepPositions(t *testing.T) {
	list := []calendar.Instance{{ID: 10}, {ID: 11}, {ID: 12}}

	assert.Equal(t, []int64{10, 12}, keepPositions(list, []int{1, -1}))
	assert.Equal(t, []int64{11}, keepPositions(list, []int{0, 2, 9, -9}))
	assert.Empty(t, keepPositions(nil, []int{1}))
}
