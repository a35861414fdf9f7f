/*
samples.go - Demo data loaders for testing and demonstrations

PURPOSE:

	Provides pre-built calendars that populate the store with realistic
	series. Each sample creates events through the factory and the service,
	so every sample also exercises JSON parsing, expansion and publication.

AVAILABLE SAMPLES:

	standup:    Weekday standup in Paris with a skipped and a moved day
	month-end:  Last-Friday review and last-workday payday
	holidays:   Floating all-day yearly holidays, including Feb 29
	on-call:    Two-week rotation defined by RRULE text with UNTIL

HOW SAMPLES WORK:
 1. Reset the store (clear all data)
 2. Build event JSON relative to the current week
 3. Parse via factory, create via service (publishes instances)
 4. Create overrides against the new series ids

USAGE VIA API:

	POST /api/samples/load
	{"sample_id": "standup"}

ADDING NEW SAMPLES:
 1. Add to 'samples' slice with ID, name, description
 2. Create loader function: loadXxxSample(ctx, base)
 3. Add case to LoadSample

NOTE:

	Samples reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler struct
  - factory/event.go: Event JSON format
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/calendar-engine/calendar"
	appLog "github.com/warp/calendar-engine/log"
)

// ErrUnknownSample is returned by LoadSample for an unlisted id.
var ErrUnknownSample = errors.New("unknown sample")

var samples = []SampleDTO{
	{
		ID:          "standup",
		Name:        "Team Standup",
		Description: "Weekday standup at 09:30 Paris time, one skipped Wednesday and one Friday moved to 11:00",
		Category:    "weekly",
	},
	{
		ID:          "month-end",
		Name:        "Month End",
		Description: "Sprint review on the last Friday of each month and payday on the last workday",
		Category:    "monthly",
	},
	{
		ID:          "holidays",
		Name:        "Holidays",
		Description: "Floating all-day holidays: New Year, Thanksgiving and a leap-day birthday",
		Category:    "yearly",
	},
	{
		ID:          "on-call",
		Name:        "On-call Rotation",
		Description: "Every other week, Monday to Sunday, for the next six months",
		Category:    "weekly",
	},
}

// ListSamples returns all available demo data sets.
func (h *Handler) ListSamples(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, samples)
}

// GetCurrentSample returns the currently loaded data set, if any.
func (h *Handler) GetCurrentSample(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentSample
	h.mu.Unlock()

	for _, s := range samples {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadSampleHandler resets the store and loads a demo data set.
func (h *Handler) LoadSampleHandler(w http.ResponseWriter, r *http.Request) {
	var req LoadSampleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	err := h.LoadSample(r.Context(), req.SampleID)
	switch {
	case errors.Is(err, ErrUnknownSample):
		writeError(w, http.StatusBadRequest, "Unknown sample", err)
		return
	case err != nil:
		writeServiceError(w, fmt.Sprintf("Failed to load sample: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "loaded",
		"sample_id": req.SampleID,
	})
}

// LoadSample resets the store and loads the named data set.
func (h *Handler) LoadSample(ctx context.Context, id string) error {
	var load func(context.Context, time.Time) error
	switch id {
	case "standup":
		load = h.loadStandupSample
	case "month-end":
		load = h.loadMonthEndSample
	case "holidays":
		load = h.loadHolidaysSample
	case "on-call":
		load = h.loadOnCallSample
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSample, id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentSample = ""

	if err := load(ctx, weekStart(time.Now().UTC())); err != nil {
		return err
	}
	h.currentSample = id
	appLog.Info("[Samples] loaded", "sample", id)
	return nil
}

// weekStart returns the Monday of t's week at midnight.
func weekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	d := t.AddDate(0, 0, -offset)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
}

func (h *Handler) createFromJSON(ctx context.Context, jsonStr string) (calendar.Event, error) {
	ev, err := h.Factory.ParseEvent(jsonStr)
	if err != nil {
		return calendar.Event{}, err
	}
	res, err := h.Service.Create(ctx, ev)
	if err != nil {
		return calendar.Event{}, err
	}
	return res.Event, nil
}

// =============================================================================
// SAMPLE LOADERS
// =============================================================================

func (h *Handler) loadStandupSample(ctx context.Context, monday time.Time) error {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		return err
	}
	at := func(days, hour, minute int) string {
		d := monday.AddDate(0, 0, days)
		return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, paris).Format(time.RFC3339)
	}

	series, err := h.createFromJSON(ctx, fmt.Sprintf(`{
		"summary": "Team standup",
		"timezone": "Europe/Paris",
		"start": %q,
		"end": %q,
		"rrule": "FREQ=WEEKLY;BYDAY=MO,TU,WE,TH,FR",
		"exdates": [%q]
	}`, at(0, 9, 30), at(0, 9, 45), at(9, 9, 30)))
	if err != nil {
		return fmt.Errorf("standup: %w", err)
	}

	_, err = h.createFromJSON(ctx, fmt.Sprintf(`{
		"summary": "Team standup (after the demo)",
		"timezone": "Europe/Paris",
		"start": %q,
		"end": %q,
		"original_event_id": %d,
		"recurrence_id": %q
	}`, at(4, 11, 0), at(4, 11, 15), series.ID, at(4, 9, 30)))
	if err != nil {
		return fmt.Errorf("standup override: %w", err)
	}
	return nil
}

func (h *Handler) loadMonthEndSample(ctx context.Context, monday time.Time) error {
	first := time.Date(monday.Year(), monday.Month(), 1, 0, 0, 0, 0, time.UTC)

	_, err := h.createFromJSON(ctx, fmt.Sprintf(`{
		"summary": "Sprint review",
		"start": %q,
		"end": %q,
		"rule": {"freq": "monthly", "by_day": ["-1FR"], "count": 12}
	}`, first.Add(15*time.Hour).Format(time.RFC3339), first.Add(16*time.Hour).Format(time.RFC3339)))
	if err != nil {
		return fmt.Errorf("sprint review: %w", err)
	}

	_, err = h.createFromJSON(ctx, fmt.Sprintf(`{
		"summary": "Payday",
		"start": %q,
		"rule": {"freq": "monthly", "by_day": ["MO", "TU", "WE", "TH", "FR"], "by_set_pos": [-1]}
	}`, first.Format("2006-01-02")))
	if err != nil {
		return fmt.Errorf("payday: %w", err)
	}
	return nil
}

func (h *Handler) loadHolidaysSample(ctx context.Context, monday time.Time) error {
	year := monday.Year()
	holidays := []string{
		fmt.Sprintf(`{"summary": "New Year", "start": "%d-01-01", "end": "%d-01-02", "rule": {"freq": "yearly"}}`, year, year),
		fmt.Sprintf(`{"summary": "Thanksgiving", "start": "%d-11-01", "end": "%d-11-02",
			"rule": {"freq": "yearly", "by_month": [11], "by_day": ["+4TH"]}}`, year, year),
		`{"summary": "Leap-day birthday", "start": "2024-02-29", "end": "2024-03-01", "rule": {"freq": "yearly", "count": 3}}`,
	}
	for _, js := range holidays {
		if _, err := h.createFromJSON(ctx, js); err != nil {
			return fmt.Errorf("holidays: %w", err)
		}
	}
	return nil
}

func (h *Handler) loadOnCallSample(ctx context.Context, monday time.Time) error {
	until := monday.AddDate(0, 6, 0).Format("20060102")

	_, err := h.createFromJSON(ctx, fmt.Sprintf(`{
		"summary": "On call",
		"start": %q,
		"end": %q,
		"rrule": "FREQ=WEEKLY;INTERVAL=2;UNTIL=%s"
	}`, monday.Format("2006-01-02"), monday.AddDate(0, 0, 7).Format("2006-01-02"), until))
	if err != nil {
		return fmt.Errorf("on-call: %w", err)
	}
	return nil
}
