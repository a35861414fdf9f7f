/*
Package factory provides JSON to Go event conversion.

PURPOSE:
  Converts JSON event definitions into calendar.Event values and back.
  A recurrence can be given either as structured fields ("rule") or as
  RFC 5545 RRULE text ("rrule"); the text form is decoded with rrule-go
  at this boundary only. The expansion engine never sees RRULE text.

JSON SCHEMA:
  {
    "summary": "Sprint review",
    "timezone": "Europe/Paris",
    "start": "2024-01-05T14:00:00Z",
    "end": "2024-01-05T15:00:00Z",
    "rule": {
      "freq": "monthly",
      "by_day": ["-1FR"],
      "count": 12
    },
    "exdates": ["2024-03-29T14:00:00Z"]
  }

  Equivalent text form: "rrule": "FREQ=MONTHLY;BYDAY=-1FR;COUNT=12"

DATES:
  RFC 3339 values are absolute. "2006-01-02T15:04:05" and "2006-01-02" are
  floating. A date-only UNTIL on an absolute event means the end of that
  day in the event's zone.

USAGE:
  f := factory.NewEventFactory(time.Monday)
  ev, err := f.ParseEvent(jsonString)

SEE ALSO:
  - calendar/rule.go: RecurrenceRule
  - api/handlers.go: Uses the factory for request bodies
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/teambition/rrule-go"

	"github.com/warp/calendar-engine/calendar"
)

// ErrInvalidEvent is returned for malformed event definitions.
var ErrInvalidEvent = errors.New("invalid event definition")

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// EventJSON is the JSON representation of an event.
type EventJSON struct {
	ID              int64     `json:"id,omitempty"`
	UID             string    `json:"uid,omitempty"`
	Summary         string    `json:"summary"`
	CalendarSystem  string    `json:"calendar_system,omitempty"` // solar, lunisolar
	Timezone        string    `json:"timezone,omitempty"`
	Start           string    `json:"start"`
	End             string    `json:"end"`
	Rule            *RuleJSON `json:"rule,omitempty"`
	RRule           string    `json:"rrule,omitempty"`
	Exdates         []string  `json:"exdates,omitempty"`
	OriginalEventID int64     `json:"original_event_id,omitempty"`
	RecurrenceID    string    `json:"recurrence_id,omitempty"`
	CreatedAt       string    `json:"created_at,omitempty"`
	UpdatedAt       string    `json:"updated_at,omitempty"`
}

// RuleJSON represents a recurrence rule. Count and Until are exclusive.
type RuleJSON struct {
	Freq       string   `json:"freq"` // daily, weekly, monthly, yearly
	Interval   int      `json:"interval,omitempty"`
	Count      int      `json:"count,omitempty"`
	Until      string   `json:"until,omitempty"`
	BySecond   []int    `json:"by_second,omitempty"`
	ByMinute   []int    `json:"by_minute,omitempty"`
	ByHour     []int    `json:"by_hour,omitempty"`
	ByDay      []string `json:"by_day,omitempty"`
	ByMonthDay []int    `json:"by_month_day,omitempty"`
	ByYearDay  []int    `json:"by_year_day,omitempty"`
	ByWeekNo   []int    `json:"by_week_no,omitempty"`
	ByMonth    []int    `json:"by_month,omitempty"`
	BySetPos   []int    `json:"by_set_pos,omitempty"`
	WeekStart  string   `json:"week_start,omitempty"` // MO..SU
}

// =============================================================================
// EVENT FACTORY
// =============================================================================

// EventFactory converts JSON events to calendar events.
type EventFactory struct {
	// WeekStart applies to rules that do not name one.
	WeekStart time.Weekday
}

func NewEventFactory(weekStart time.Weekday) *EventFactory {
	return &EventFactory{WeekStart: weekStart}
}

// ParseEvent parses a JSON string into an Event.
func (f *EventFactory) ParseEvent(jsonStr string) (calendar.Event, error) {
	var ej EventJSON
	if err := json.Unmarshal([]byte(jsonStr), &ej); err != nil {
		return calendar.Event{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return f.FromJSON(ej)
}

// FromJSON converts EventJSON to calendar.Event.
func (f *EventFactory) FromJSON(ej EventJSON) (calendar.Event, error) {
	ev := calendar.Event{
		ID:              ej.ID,
		UID:             ej.UID,
		Summary:         ej.Summary,
		CalendarSystem:  calendar.System(strings.ToLower(ej.CalendarSystem)),
		Timezone:        ej.Timezone,
		OriginalEventID: ej.OriginalEventID,
	}

	var err error
	if ev.Start, err = parseDate("start", ej.Start); err != nil {
		return calendar.Event{}, err
	}
	if ej.End == "" {
		ev.End = ev.Start
	} else if ev.End, err = parseDate("end", ej.End); err != nil {
		return calendar.Event{}, err
	}

	loc, err := time.LoadLocation(ev.Location())
	if err != nil {
		return calendar.Event{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidEvent, ej.Timezone, err)
	}

	switch {
	case ej.Rule != nil && ej.RRule != "":
		return calendar.Event{}, fmt.Errorf("%w: rule and rrule are exclusive", ErrInvalidEvent)
	case ej.Rule != nil:
		rule, err := f.ruleFromJSON(*ej.Rule, ev.Start, loc)
		if err != nil {
			return calendar.Event{}, err
		}
		ev.Rule = &rule
	case ej.RRule != "":
		rule, err := f.ParseRRule(ej.RRule, ev.Start, loc)
		if err != nil {
			return calendar.Event{}, err
		}
		ev.Rule = &rule
	}

	for _, raw := range ej.Exdates {
		ex, err := parseDate("exdates", raw)
		if err != nil {
			return calendar.Event{}, err
		}
		ev.Exdates = append(ev.Exdates, ex)
	}

	if ej.RecurrenceID != "" {
		rid, err := parseDate("recurrence_id", ej.RecurrenceID)
		if err != nil {
			return calendar.Event{}, err
		}
		ev.RecurrenceID = mo.Some(rid)
	}

	return ev, nil
}

// ToJSON converts an Event to EventJSON. Rules are rendered both ways.
func (f *EventFactory) ToJSON(ev calendar.Event) EventJSON {
	ej := EventJSON{
		ID:              ev.ID,
		UID:             ev.UID,
		Summary:         ev.Summary,
		CalendarSystem:  string(ev.CalendarSystem),
		Timezone:        ev.Timezone,
		Start:           ev.Start.String(),
		End:             ev.End.String(),
		OriginalEventID: ev.OriginalEventID,
	}
	if ev.Rule != nil {
		rj := ruleToJSON(*ev.Rule)
		ej.Rule = &rj
		ej.RRule = FormatRRule(*ev.Rule)
	}
	for _, ex := range ev.Exdates {
		ej.Exdates = append(ej.Exdates, ex.String())
	}
	if rid, ok := ev.RecurrenceID.Get(); ok {
		ej.RecurrenceID = rid.String()
	}
	if !ev.CreatedAt.IsZero() {
		ej.CreatedAt = ev.CreatedAt.Format(time.RFC3339)
	}
	if !ev.UpdatedAt.IsZero() {
		ej.UpdatedAt = ev.UpdatedAt.Format(time.RFC3339)
	}
	return ej
}

// =============================================================================
// STRUCTURED RULES
// =============================================================================

func (f *EventFactory) ruleFromJSON(rj RuleJSON, start calendar.DateTime, loc *time.Location) (calendar.RecurrenceRule, error) {
	freq, err := calendar.ParseFrequency(rj.Freq)
	if err != nil {
		return calendar.RecurrenceRule{}, err
	}

	rule := calendar.RecurrenceRule{
		Frequency:  freq,
		Interval:   rj.Interval,
		BySecond:   rj.BySecond,
		ByMinute:   rj.ByMinute,
		ByHour:     rj.ByHour,
		ByDay:      rj.ByDay,
		ByMonthDay: rj.ByMonthDay,
		ByYearDay:  rj.ByYearDay,
		ByWeekNo:   rj.ByWeekNo,
		ByMonth:    rj.ByMonth,
		BySetPos:   rj.BySetPos,
		WeekStart:  f.WeekStart,
	}
	if rj.WeekStart != "" {
		if rule.WeekStart, err = calendar.ParseWeekday(rj.WeekStart); err != nil {
			return calendar.RecurrenceRule{}, err
		}
	}

	switch {
	case rj.Count != 0 && rj.Until != "":
		return calendar.RecurrenceRule{}, &calendar.RuleError{Field: "count", Value: rj.Count, Reason: "count and until are exclusive"}
	case rj.Count != 0:
		rule.Range = calendar.Count(rj.Count)
	case rj.Until != "":
		until, err := parseUntil(rj.Until, start, loc)
		if err != nil {
			return calendar.RecurrenceRule{}, err
		}
		rule.Range = calendar.Until(until)
	}
	return rule, nil
}

func ruleToJSON(rule calendar.RecurrenceRule) RuleJSON {
	rj := RuleJSON{
		Freq:       strings.ToLower(rule.Frequency.String()),
		Interval:   rule.Interval,
		BySecond:   rule.BySecond,
		ByMinute:   rule.ByMinute,
		ByHour:     rule.ByHour,
		ByDay:      rule.ByDay,
		ByMonthDay: rule.ByMonthDay,
		ByYearDay:  rule.ByYearDay,
		ByWeekNo:   rule.ByWeekNo,
		ByMonth:    rule.ByMonth,
		BySetPos:   rule.BySetPos,
		WeekStart:  calendar.WeekdayCode(rule.WeekStart),
	}
	switch rule.Range.Kind {
	case calendar.RangeCount:
		rj.Count = rule.Range.Count
	case calendar.RangeUntil:
		rj.Until = rule.Range.Until.String()
	}
	return rj
}

// =============================================================================
// RRULE TEXT (rrule-go)
// =============================================================================

var rruleFreqs = map[rrule.Frequency]calendar.Frequency{
	rrule.YEARLY:  calendar.FreqYearly,
	rrule.MONTHLY: calendar.FreqMonthly,
	rrule.WEEKLY:  calendar.FreqWeekly,
	rrule.DAILY:   calendar.FreqDaily,
}

// rrule-go numbers weekdays from Monday.
var rruleWeekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

func fromRRuleDay(day int) time.Weekday { return time.Weekday((day + 1) % 7) }

func toRRuleDay(wd time.Weekday) rrule.Weekday { return rruleWeekdays[(int(wd)+6)%7] }

// ParseRRule decodes RFC 5545 RRULE text ("FREQ=WEEKLY;BYDAY=MO,WE",
// optionally prefixed with "RRULE:") into a typed rule. start and loc give
// a date-only UNTIL its meaning.
func (f *EventFactory) ParseRRule(text string, start calendar.DateTime, loc *time.Location) (calendar.RecurrenceRule, error) {
	text = strings.TrimSpace(text)
	if len(text) >= 6 && strings.EqualFold(text[:6], "RRULE:") {
		text = text[6:]
	}
	parts := rruleParts(text)

	opt, err := rrule.StrToROptionInLocation(text, loc)
	if err != nil {
		return calendar.RecurrenceRule{}, &calendar.RuleError{Field: "rrule", Value: text, Reason: err.Error()}
	}

	freq, ok := rruleFreqs[opt.Freq]
	if !ok {
		return calendar.RecurrenceRule{}, &calendar.RuleError{Field: "freq", Value: parts["FREQ"], Reason: "unsupported frequency"}
	}
	if len(opt.Byeaster) > 0 {
		return calendar.RecurrenceRule{}, &calendar.RuleError{Field: "byeaster", Value: opt.Byeaster, Reason: "not supported"}
	}

	rule := calendar.RecurrenceRule{
		Frequency:  freq,
		Interval:   opt.Interval,
		BySecond:   opt.Bysecond,
		ByMinute:   opt.Byminute,
		ByHour:     opt.Byhour,
		ByMonthDay: opt.Bymonthday,
		ByYearDay:  opt.Byyearday,
		ByWeekNo:   opt.Byweekno,
		ByMonth:    opt.Bymonth,
		BySetPos:   opt.Bysetpos,
		WeekStart:  f.WeekStart,
	}
	if _, ok := parts["WKST"]; ok {
		rule.WeekStart = fromRRuleDay(opt.Wkst.Day())
	}
	for _, wd := range opt.Byweekday {
		code := calendar.WeekdayCode(fromRRuleDay(wd.Day()))
		if wd.N() != 0 {
			code = fmt.Sprintf("%+d%s", wd.N(), code)
		}
		rule.ByDay = append(rule.ByDay, code)
	}

	until, hasUntil := parts["UNTIL"]
	switch {
	case opt.Count > 0 && hasUntil:
		return calendar.RecurrenceRule{}, &calendar.RuleError{Field: "count", Value: opt.Count, Reason: "count and until are exclusive"}
	case opt.Count > 0:
		rule.Range = calendar.Count(opt.Count)
	case hasUntil:
		if len(until) == len("20060102") {
			day := opt.Until
			rule.Range = calendar.Until(endOfDay(calendar.Local(day.Year(), int(day.Month()), day.Day(), 0, 0, 0), start, loc))
		} else if strings.HasSuffix(until, "Z") {
			rule.Range = calendar.Until(calendar.FromTime(opt.Until))
		} else {
			rule.Range = calendar.Until(calendar.LocalFromTime(opt.Until))
		}
	}
	return rule, nil
}

// FormatRRule renders rule as RRULE text without DTSTART.
func FormatRRule(rule calendar.RecurrenceRule) string {
	opt := rrule.ROption{
		Interval:   rule.Interval,
		Wkst:       toRRuleDay(rule.WeekStart),
		Bysecond:   rule.BySecond,
		Byminute:   rule.ByMinute,
		Byhour:     rule.ByHour,
		Bymonthday: rule.ByMonthDay,
		Byyearday:  rule.ByYearDay,
		Byweekno:   rule.ByWeekNo,
		Bymonth:    rule.ByMonth,
		Bysetpos:   rule.BySetPos,
	}
	for rf, cf := range rruleFreqs {
		if cf == rule.Frequency {
			opt.Freq = rf
		}
	}
	if rule.Frequency == calendar.FreqNone {
		return ""
	}
	for _, code := range rule.ByDay {
		wo, err := calendar.ParseWeekdayOrdinal(code)
		if err != nil {
			continue
		}
		wd := toRRuleDay(wo.Day)
		if wo.Ordinal != 0 {
			wd = wd.Nth(wo.Ordinal)
		}
		opt.Byweekday = append(opt.Byweekday, wd)
	}
	switch rule.Range.Kind {
	case calendar.RangeCount:
		opt.Count = rule.Range.Count
	case calendar.RangeUntil:
		opt.Until = rule.Range.Until.Time()
	}
	return opt.RRuleString()
}

// rruleParts splits RRULE text into upper-cased KEY -> raw value.
func rruleParts(text string) map[string]string {
	parts := make(map[string]string)
	for _, kv := range strings.Split(text, ";") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		parts[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return parts
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseDate(field, raw string) (calendar.DateTime, error) {
	dt, err := calendar.ParseDateTime(raw)
	if err != nil {
		return calendar.DateTime{}, fmt.Errorf("%w: %s: %v", ErrInvalidEvent, field, err)
	}
	return dt, nil
}

func parseUntil(raw string, start calendar.DateTime, loc *time.Location) (calendar.DateTime, error) {
	until, err := calendar.ParseDateTime(raw)
	if err != nil {
		return calendar.DateTime{}, &calendar.RuleError{Field: "until", Value: raw, Reason: err.Error()}
	}
	if len(strings.TrimSpace(raw)) == len("2006-01-02") {
		return endOfDay(until, start, loc), nil
	}
	return until, nil
}

// endOfDay turns a civil date into an inclusive bound in start's
// representation.
func endOfDay(day calendar.DateTime, start calendar.DateTime, loc *time.Location) calendar.DateTime {
	last := calendar.Local(day.Year, day.Month, day.Day, 23, 59, 59)
	if start.IsLocal() {
		return last
	}
	return last.In(calendar.TimeUTC, loc)
}
