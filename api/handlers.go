/*
handlers.go - HTTP API handlers for the calendar engine

PURPOSE:
  Exposes event management and instance queries via REST API. Handles HTTP
  request/response, JSON and iCalendar serialization, and delegates to
  events.Service.

ENDPOINTS:
  Events:
    GET    /api/events                  List all events
    POST   /api/events                  Create event (publishes instances)
    GET    /api/events/{id}             Get event
    PUT    /api/events/{id}             Replace event (republishes)
    DELETE /api/events/{id}             Delete event and its instances
    GET    /api/events/{id}/instances   Instances of one event

  Instances:
    GET    /api/instances?from&to       Instances overlapping a window
    GET    /api/instances.ics?from&to   Same window as iCalendar

  Import:
    POST   /api/import                  Create events from an iCalendar body

  Admin:
    POST   /api/admin/republish         Rebuild every event
    POST   /api/admin/repair            Run a repair pass now
    GET    /api/admin/repair            Last repair pass

  Samples:
    GET    /api/samples                 List demo data sets
    GET    /api/samples/current         Currently loaded data set
    POST   /api/samples/load            Reset and load a data set

QUERY WINDOWS:
  from and to accept RFC 3339 ("2024-01-01T09:00:00Z") or a date
  ("2024-01-01", midnight UTC). Missing from means today; missing to
  means from + 31 days.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, rule, override or iCalendar data
  - 404: Event not found
  - 507: Store out of space
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - samples.go: Demo data loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/samber/mo"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/events"
	"github.com/warp/calendar-engine/factory"
	"github.com/warp/calendar-engine/ics"
	appLog "github.com/warp/calendar-engine/log"
)

const (
	defaultWindow  = 31 * 24 * time.Hour
	maxImportBytes = 10 << 20
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Resetter clears all stored data.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *events.Service
	Factory *factory.EventFactory
	Repair  *events.RepairScheduler
	Store   Resetter

	mu            sync.Mutex
	currentSample string
}

// NewHandler creates a new handler.
func NewHandler(service *events.Service, f *factory.EventFactory, repair *events.RepairScheduler, store Resetter) *Handler {
	return &Handler{
		Service: service,
		Factory: f,
		Repair:  repair,
		Store:   store,
	}
}

// =============================================================================
// EVENT HANDLERS
// =============================================================================

// ListEvents returns all events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	list, err := h.Service.List(r.Context())
	if err != nil {
		writeServiceError(w, "Failed to list events", err)
		return
	}

	dtos := make([]factory.EventJSON, 0, len(list))
	for _, ev := range list {
		dtos = append(dtos, h.Factory.ToJSON(ev))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateEvent creates an event and publishes its instances.
func (h *Handler) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req factory.EventJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ev, err := h.Factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event", err)
		return
	}

	res, err := h.Service.Create(r.Context(), ev)
	if err != nil {
		writeServiceError(w, "Failed to create event", err)
		return
	}
	writeJSON(w, http.StatusCreated, h.toEventResponse(res))
}

// GetEvent returns one event.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	ev, err := h.Service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, "Failed to get event", err)
		return
	}
	writeJSON(w, http.StatusOK, h.Factory.ToJSON(ev))
}

// UpdateEvent replaces an event and republishes it.
func (h *Handler) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	var req factory.EventJSON
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.ID = id

	ev, err := h.Factory.FromJSON(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid event", err)
		return
	}

	res, err := h.Service.Update(r.Context(), ev)
	if err != nil {
		writeServiceError(w, "Failed to update event", err)
		return
	}
	writeJSON(w, http.StatusOK, h.toEventResponse(res))
}

// DeleteEvent removes an event, its overrides and its instances.
func (h *Handler) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}

	if err := h.Service.Delete(r.Context(), id); err != nil {
		writeServiceError(w, "Failed to delete event", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// EventInstances returns the instances of one event.
func (h *Handler) EventInstances(w http.ResponseWriter, r *http.Request) {
	id, ok := eventID(w, r)
	if !ok {
		return
	}
	from, to, ok := window(w, r)
	if !ok {
		return
	}

	ctx := r.Context()
	ev, err := h.Service.Get(ctx, id)
	if err != nil {
		writeServiceError(w, "Failed to get event", err)
		return
	}
	list, err := h.Service.EventInstances(ctx, id, from, to)
	if err != nil {
		writeServiceError(w, "Failed to list instances", err)
		return
	}
	writeJSON(w, http.StatusOK, toInstancesResponse(from, to, list, map[int64]calendar.Event{ev.ID: ev}))
}

// =============================================================================
// INSTANCE HANDLERS
// =============================================================================

// ListInstances returns every instance overlapping the window.
func (h *Handler) ListInstances(w http.ResponseWriter, r *http.Request) {
	from, to, ok := window(w, r)
	if !ok {
		return
	}

	list, evs, err := h.instancesWithEvents(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, "Failed to list instances", err)
		return
	}

	byID := make(map[int64]calendar.Event, len(evs))
	for _, ev := range evs {
		byID[ev.ID] = ev
	}
	writeJSON(w, http.StatusOK, toInstancesResponse(from, to, list, byID))
}

// ExportInstances writes the window as an iCalendar document.
func (h *Handler) ExportInstances(w http.ResponseWriter, r *http.Request) {
	from, to, ok := window(w, r)
	if !ok {
		return
	}

	list, evs, err := h.instancesWithEvents(r.Context(), from, to)
	if err != nil {
		writeServiceError(w, "Failed to list instances", err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="instances.ics"`)
	if err := ics.EncodeInstances(w, evs, list); err != nil {
		appLog.Error("[API] ics export failed", err)
	}
}

func (h *Handler) instancesWithEvents(ctx context.Context, from, to time.Time) ([]calendar.Instance, []calendar.Event, error) {
	list, err := h.Service.Instances(ctx, from, to)
	if err != nil {
		return nil, nil, err
	}
	evs, err := h.Service.List(ctx)
	if err != nil {
		return nil, nil, err
	}
	return list, evs, nil
}

// ImportCalendar creates events from an iCalendar request body.
func (h *Handler) ImportCalendar(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, maxImportBytes)

	batch, err := ics.DecodeEvents(body, h.Factory)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid calendar", err)
		return
	}

	results, err := h.Service.Import(r.Context(), batch)
	if err != nil {
		writeServiceError(w, "Failed to import calendar", err)
		return
	}

	resp := ImportResponse{Imported: len(results), Events: make([]EventResponse, 0, len(results))}
	for _, res := range results {
		resp.Events = append(resp.Events, h.toEventResponse(res))
	}
	writeJSON(w, http.StatusCreated, resp)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// Republish rebuilds the instances of every event.
func (h *Handler) Republish(w http.ResponseWriter, r *http.Request) {
	n, err := h.Service.Republish(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, RepublishResponse{Republished: n, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, RepublishResponse{Republished: n})
}

// TriggerRepair runs a repair pass now.
func (h *Handler) TriggerRepair(w http.ResponseWriter, r *http.Request) {
	run := h.Repair.RunNow(r.Context())

	dto := toRepairRunDTO(run)
	if h.Repair.CheckInterval > 0 {
		dto.NextRunAt = h.Repair.NextRunTime().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, dto)
}

// GetRepair returns the last repair pass.
func (h *Handler) GetRepair(w http.ResponseWriter, r *http.Request) {
	run, ok := h.Repair.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "No repair run yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRepairRunDTO(run))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func eventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid event id", fmt.Errorf("id %q", raw))
		return 0, false
	}
	return id, true
}

// window reads the from/to query parameters.
func window(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	fromOpt, err := queryTime(r, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return time.Time{}, time.Time{}, false
	}
	toOpt, err := queryTime(r, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return time.Time{}, time.Time{}, false
	}

	from := fromOpt.OrElse(time.Now().UTC().Truncate(24 * time.Hour))
	to := toOpt.OrElse(from.Add(defaultWindow))
	if !from.Before(to) {
		writeError(w, http.StatusBadRequest, "Invalid window", calendar.ErrInvalidTimeRange)
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func queryTime(r *http.Request, key string) (mo.Option[time.Time], error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return mo.None[time.Time](), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return mo.Some(t.UTC()), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return mo.None[time.Time](), fmt.Errorf("%s: expected RFC 3339 or YYYY-MM-DD, got %q", key, raw)
	}
	return mo.Some(t), nil
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case calendar.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, calendar.ErrNoSpace):
		return http.StatusInsufficientStorage
	case calendar.IsClientError(err),
		errors.Is(err, factory.ErrInvalidEvent),
		errors.Is(err, events.ErrInvalidOverride),
		errors.Is(err, ics.ErrInvalidCalendar):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		appLog.Error("[API] "+message, err)
	}
	writeError(w, status, message, err)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
