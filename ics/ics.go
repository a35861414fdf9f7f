/*
Package ics reads and writes iCalendar (RFC 5545) data.

PURPOSE:
  The text codec lives at the edge of the system. Import turns VEVENTs into
  calendar.Event records (RRULE decoded by factory.ParseRRule); export turns
  stored instances back into one VEVENT per occurrence so any calendar
  client can display the expanded series.

DATE MAPPING:
  DTSTART;VALUE=DATE:20240101        floating date (all-day)
  DTSTART:20240101T090000            floating date-time
  DTSTART:20240101T090000Z           absolute
  DTSTART;TZID=Europe/Paris:2024...  absolute, event timezone = Europe/Paris

OVERRIDES:
  A VEVENT with RECURRENCE-ID keeps its series UID. events.Service.Import
  links it to the series with the same UID.

SEE ALSO:
  - factory/event.go: RRULE text decoding
  - api/handlers.go: POST /api/import, GET /api/instances.ics
*/
package ics

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/samber/mo"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/factory"
)

const (
	productID      = "-//warp//Calendar Engine//EN"
	propRecurrence = "RECURRENCE-ID"

	dateFormat     = "20060102"
	floatingFormat = "20060102T150405"
	utcFormat      = "20060102T150405Z"
)

// ErrInvalidCalendar is returned for iCalendar data that cannot be imported.
var ErrInvalidCalendar = errors.New("invalid iCalendar data")

// =============================================================================
// DECODE
// =============================================================================

// DecodeEvents reads every VEVENT of every VCALENDAR in r.
func DecodeEvents(r io.Reader, f *factory.EventFactory) ([]calendar.Event, error) {
	dec := ical.NewDecoder(r)

	var out []calendar.Event
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCalendar, err)
		}
		for _, event := range cal.Events() {
			ev, err := decodeEvent(event, f)
			if err != nil {
				uid, _ := event.Props.Text(ical.PropUID)
				return nil, fmt.Errorf("VEVENT %q: %w", uid, err)
			}
			out = append(out, ev)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no events found", ErrInvalidCalendar)
	}
	return out, nil
}

func decodeEvent(event ical.Event, f *factory.EventFactory) (calendar.Event, error) {
	ev := calendar.Event{CalendarSystem: calendar.SystemSolar}
	ev.UID, _ = event.Props.Text(ical.PropUID)
	ev.Summary, _ = event.Props.Text(ical.PropSummary)

	startProp := event.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return ev, fmt.Errorf("%w: missing DTSTART", ErrInvalidCalendar)
	}
	if tzid := startProp.Params.Get(ical.ParamTimezoneID); tzid != "" {
		ev.Timezone = tzid
	}
	loc, err := time.LoadLocation(ev.Location())
	if err != nil {
		return ev, fmt.Errorf("%w: TZID %q: %v", ErrInvalidCalendar, ev.Timezone, err)
	}

	if ev.Start, err = parseProp(startProp.Value, startProp.Params); err != nil {
		return ev, err
	}

	switch endProp := event.Props.Get(ical.PropDateTimeEnd); {
	case endProp != nil:
		if ev.End, err = parseProp(endProp.Value, endProp.Params); err != nil {
			return ev, err
		}
	case event.Props.Get(ical.PropDuration) != nil:
		d, err := event.Props.Get(ical.PropDuration).Duration()
		if err != nil {
			return ev, fmt.Errorf("%w: DURATION: %v", ErrInvalidCalendar, err)
		}
		ev.End = addDuration(ev.Start, d)
	case isDate(startProp.Params, startProp.Value):
		ev.End = addDuration(ev.Start, 24*time.Hour)
	default:
		ev.End = ev.Start
	}

	if rr := event.Props.Get(ical.PropRecurrenceRule); rr != nil && rr.Value != "" {
		rule, err := f.ParseRRule(rr.Value, ev.Start, loc)
		if err != nil {
			return ev, err
		}
		ev.Rule = &rule
	}

	for _, prop := range event.Props.Values(ical.PropExceptionDates) {
		for _, raw := range strings.Split(prop.Value, ",") {
			ex, err := parseProp(raw, prop.Params)
			if err != nil {
				return ev, err
			}
			ev.Exdates = append(ev.Exdates, ex)
		}
	}

	if rid := event.Props.Get(propRecurrence); rid != nil && rid.Value != "" {
		v, err := parseProp(rid.Value, rid.Params)
		if err != nil {
			return ev, err
		}
		ev.RecurrenceID = mo.Some(v)
	}
	return ev, nil
}

func isDate(params ical.Params, value string) bool {
	return strings.EqualFold(params.Get(ical.ParamValue), "DATE") || len(strings.TrimSpace(value)) == len(dateFormat)
}

// parseProp maps one DATE or DATE-TIME value onto the engine's
// representations. A TZID that does not load is an error.
func parseProp(value string, params ical.Params) (calendar.DateTime, error) {
	value = strings.TrimSpace(value)
	switch {
	case isDate(params, value):
		t, err := time.Parse(dateFormat, value)
		if err != nil {
			return calendar.DateTime{}, fmt.Errorf("%w: date %q", ErrInvalidCalendar, value)
		}
		return calendar.LocalFromTime(t), nil

	case strings.HasSuffix(value, "Z"):
		t, err := time.Parse(utcFormat, value)
		if err != nil {
			return calendar.DateTime{}, fmt.Errorf("%w: date-time %q", ErrInvalidCalendar, value)
		}
		return calendar.FromTime(t), nil

	case params.Get(ical.ParamTimezoneID) != "":
		tzid := params.Get(ical.ParamTimezoneID)
		tz, err := time.LoadLocation(tzid)
		if err != nil {
			return calendar.DateTime{}, fmt.Errorf("%w: TZID %q: %v", ErrInvalidCalendar, tzid, err)
		}
		t, err := time.ParseInLocation(floatingFormat, value, tz)
		if err != nil {
			return calendar.DateTime{}, fmt.Errorf("%w: date-time %q", ErrInvalidCalendar, value)
		}
		return calendar.FromTime(t), nil

	default:
		t, err := time.Parse(floatingFormat, value)
		if err != nil {
			return calendar.DateTime{}, fmt.Errorf("%w: date-time %q", ErrInvalidCalendar, value)
		}
		return calendar.LocalFromTime(t), nil
	}
}

func addDuration(dt calendar.DateTime, d time.Duration) calendar.DateTime {
	if dt.IsLocal() {
		return calendar.LocalFromTime(dt.Time().Add(d))
	}
	return calendar.UTC(dt.Unix + int64(d/time.Second))
}

// =============================================================================
// ENCODE
// =============================================================================

// EncodeInstances writes one VCALENDAR with a VEVENT per instance. events
// supplies UID and SUMMARY by event id; instances of unknown events are
// skipped.
func EncodeInstances(w io.Writer, events []calendar.Event, instances []calendar.Instance) error {
	byID := make(map[int64]calendar.Event, len(events))
	for _, ev := range events {
		byID[ev.ID] = ev
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropVersion, "2.0")

	stamp := time.Now().UTC()
	for _, inst := range instances {
		ev, ok := byID[inst.EventID]
		if !ok {
			continue
		}
		uid := ev.UID
		if ev.IsOverride() {
			if series, ok := byID[ev.OriginalEventID]; ok {
				uid = series.UID
			}
		}
		if uid == "" {
			uid = fmt.Sprintf("event-%d", ev.ID)
		}

		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, uid)
		event.Props.SetText(ical.PropSummary, ev.Summary)
		event.Props.SetDateTime(ical.PropDateTimeStamp, stamp)
		allDay := isAllDay(inst)
		event.Props.Set(dateProp(ical.PropDateTimeStart, inst.Start, allDay))
		event.Props.Set(dateProp(ical.PropDateTimeEnd, inst.End, allDay))

		switch {
		case ev.IsOverride():
			if rid, ok := ev.RecurrenceID.Get(); ok {
				event.Props.Set(dateProp(propRecurrence, rid, rid.IsLocal() && allDay))
			}
		case ev.Frequency() != calendar.FreqNone:
			event.Props.Set(dateProp(propRecurrence, inst.Start, allDay))
		}

		cal.Children = append(cal.Children, event.Component)
	}

	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	return nil
}

// isAllDay reports floating instances that cover whole days.
func isAllDay(inst calendar.Instance) bool {
	s, e := inst.Start, inst.End
	return s.IsLocal() && s.Hour == 0 && s.Minute == 0 && s.Second == 0 &&
		e.Hour == 0 && e.Minute == 0 && e.Second == 0 && e.After(s)
}

func dateProp(name string, dt calendar.DateTime, allDay bool) *ical.Prop {
	prop := ical.NewProp(name)
	switch {
	case allDay:
		prop.Params.Set(ical.ParamValue, "DATE")
		prop.Value = dt.Time().Format(dateFormat)
	case dt.IsLocal():
		prop.Value = dt.Time().Format(floatingFormat)
	default:
		prop.Value = dt.Time().Format(utcFormat)
	}
	return prop
}
