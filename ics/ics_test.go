package ics_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/factory"
	"github.com/warp/calendar-engine/ics"
)

const sample = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART;TZID=Europe/Paris:20240101T090000\r\n" +
	"DTEND;TZID=Europe/Paris:20240101T091500\r\n" +
	"RRULE:FREQ=WEEKLY;BYDAY=MO,WE;COUNT=6\r\n" +
	"EXDATE;TZID=Europe/Paris:20240103T090000,20240108T090000\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:standup@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"SUMMARY:Standup (late)\r\n" +
	"RECURRENCE-ID;TZID=Europe/Paris:20240110T090000\r\n" +
	"DTSTART;TZID=Europe/Paris:20240110T110000\r\n" +
	"DURATION:PT30M\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:holiday@example.com\r\n" +
	"DTSTAMP:20240101T000000Z\r\n" +
	"SUMMARY:Holiday\r\n" +
	"DTSTART;VALUE=DATE:20240501\r\n" +
	"RRULE:FREQ=YEARLY\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func utc(y, m, d, h, mi int) calendar.DateTime {
	return calendar.FromTime(time.Date(y, time.Month(m), d, h, mi, 0, 0, time.UTC))
}

func TestDecodeEvents(t *testing.T) {
	events, err := ics.DecodeEvents(strings.NewReader(sample), factory.NewEventFactory(time.Monday))

	require.NoError(t, err)
	require.Len(t, events, 3)

	series := events[0]
	assert.Equal(t, "standup@example.com", series.UID)
	assert.Equal(t, "Europe/Paris", series.Timezone)
	assert.Equal(t, utc(2024, 1, 1, 8, 0), series.Start)
	assert.Equal(t, utc(2024, 1, 1, 8, 15), series.End)
	require.NotNil(t, series.Rule)
	assert.Equal(t, []string{"MO", "WE"}, series.Rule.ByDay)
	assert.Equal(t, calendar.Count(6), series.Rule.Range)
	assert.Equal(t, []calendar.DateTime{utc(2024, 1, 3, 8, 0), utc(2024, 1, 8, 8, 0)}, series.Exdates)

	moved := events[1]
	assert.Equal(t, utc(2024, 1, 10, 8, 0), moved.RecurrenceID.MustGet())
	assert.Equal(t, utc(2024, 1, 10, 10, 30), moved.End)

	holiday := events[2]
	assert.Equal(t, calendar.Local(2024, 5, 1, 0, 0, 0), holiday.Start)
	assert.Equal(t, calendar.Local(2024, 5, 2, 0, 0, 0), holiday.End)
	assert.Equal(t, calendar.FreqYearly, holiday.Frequency())
}

func TestDecodeRejectsMissingStart(t *testing.T) {
	data := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:x\r\nDTSTAMP:20240101T000000Z\r\nSUMMARY:broken\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	_, err := ics.DecodeEvents(strings.NewReader(data), factory.NewEventFactory(time.Monday))

	assert.ErrorIs(t, err, ics.ErrInvalidCalendar)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := ics.DecodeEvents(strings.NewReader("not a calendar"), factory.NewEventFactory(time.Monday))

	assert.ErrorIs(t, err, ics.ErrInvalidCalendar)
}

func TestDecodeRejectsUnknownExdateZone(t *testing.T) {
	// GIVEN: a valid start and an EXDATE in a zone that does not exist
	data := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:x\r\nDTSTAMP:20240101T000000Z\r\n" +
		"DTSTART:20240101T090000Z\r\nRRULE:FREQ=DAILY;COUNT=3\r\n" +
		"EXDATE;TZID=Mars/Base:20240102T090000\r\nEND:VEVENT\r\n" +
		"END:VCALENDAR\r\n"

	// WHEN: decoded
	_, err := ics.DecodeEvents(strings.NewReader(data), factory.NewEventFactory(time.Monday))

	// THEN: the zone is reported instead of silently replaced
	require.ErrorIs(t, err, ics.ErrInvalidCalendar)
	assert.Contains(t, err.Error(), "Mars/Base")
}

func TestEncodeInstances(t *testing.T) {
	events := []calendar.Event{
		{ID: 1, UID: "standup@example.com", Summary: "Standup", Rule: &calendar.RecurrenceRule{Frequency: calendar.FreqWeekly}},
		{ID: 2, Summary: "Holiday"},
	}
	instances := []calendar.Instance{
		{ID: 10, EventID: 1, Start: utc(2024, 1, 1, 8, 0), End: utc(2024, 1, 1, 8, 15)},
		{ID: 11, EventID: 2, Start: calendar.Local(2024, 5, 1, 0, 0, 0), End: calendar.Local(2024, 5, 2, 0, 0, 0)},
		{ID: 12, EventID: 99, Start: utc(2024, 1, 1, 8, 0), End: utc(2024, 1, 1, 8, 0)},
	}

	var buf bytes.Buffer
	require.NoError(t, ics.EncodeInstances(&buf, events, instances))
	out := buf.String()

	assert.Equal(t, 2, strings.Count(out, "BEGIN:VEVENT"))
	assert.Contains(t, out, "DTSTART:20240101T080000Z")
	assert.Contains(t, out, "RECURRENCE-ID:20240101T080000Z")
	assert.Contains(t, out, "DTSTART;VALUE=DATE:20240501")
	assert.Contains(t, out, "UID:event-2")

	// the export decodes again
	decoded, err := ics.DecodeEvents(strings.NewReader(out), factory.NewEventFactory(time.Monday))
	require.NoError(t, err)
	assert.Len(t, decoded, 2)
}
