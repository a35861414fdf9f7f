package api

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/calendar-engine/factory"
)

func TestListSamples(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodGet, "/api/samples", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SampleDTO](t, rec), len(samples))
}

func TestEverySampleLoads(t *testing.T) {
	want := map[string]int{"standup": 2, "month-end": 2, "holidays": 3, "on-call": 1}

	for _, s := range samples {
		t.Run(s.ID, func(t *testing.T) {
			h, router := setupTestHandler(t)

			require.NoError(t, h.LoadSample(context.Background(), s.ID))

			list := decode[[]factory.EventJSON](t, do(t, router, http.MethodGet, "/api/events", ""))
			assert.Len(t, list, want[s.ID])
			current := decode[SampleDTO](t, do(t, router, http.MethodGet, "/api/samples/current", ""))
			assert.Equal(t, s.ID, current.ID)
		})
	}
}

func TestStandupSampleSkipsAndMoves(t *testing.T) {
	// GIVEN: The standup sample
	_, router := setupTestHandler(t)
	rec := do(t, router, http.MethodPost, "/api/samples/load", `{"sample_id": "standup"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	list := decode[[]factory.EventJSON](t, do(t, router, http.MethodGet, "/api/events", ""))
	require.Len(t, list, 2)
	series := list[0]
	if series.OriginalEventID != 0 {
		series = list[1]
	}

	// WHEN: Listing the first two weeks of the series
	monday := weekStart(time.Now().UTC())
	path := fmt.Sprintf("/api/events/%d/instances?from=%s&to=%s", series.ID,
		monday.Format(time.RFC3339), monday.AddDate(0, 0, 14).Format(time.RFC3339))
	body := decode[instancesBody](t, do(t, router, http.MethodGet, path, ""))

	// THEN: Ten weekdays minus the skipped and the moved one
	assert.Equal(t, 8, body.Count)
}

func TestLoadSampleResetsPreviousData(t *testing.T) {
	_, router := setupTestHandler(t)
	createEvent(t, router, dailyJSON)

	rec := do(t, router, http.MethodPost, "/api/samples/load", `{"sample_id": "on-call"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	list := decode[[]factory.EventJSON](t, do(t, router, http.MethodGet, "/api/events", ""))
	require.Len(t, list, 1)
	assert.Equal(t, "On call", list[0].Summary)
}

func TestLoadUnknownSample(t *testing.T) {
	_, router := setupTestHandler(t)

	rec := do(t, router, http.MethodPost, "/api/samples/load", `{"sample_id": "nope"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWeekStart(t *testing.T) {
	sunday := time.Date(2024, 1, 7, 18, 0, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), weekStart(sunday))
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), weekStart(sunday.AddDate(0, 0, 1)))
}
