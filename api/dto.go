/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Event bodies reuse
  factory.EventJSON so the HTTP contract and the JSON import format stay
  the same document.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Events:     factory.EventJSON, EventResponse, PublishDTO
  Instances:  InstanceDTO, InstancesResponse
  Admin:      RepublishResponse, RepairRunDTO
  Samples:    SampleDTO, LoadSampleRequest

SEE ALSO:
  - handlers.go: Uses these types
  - factory/event.go: EventJSON type
*/
package api

import (
	"strings"
	"time"

	"github.com/samber/mo"
	"github.com/shopspring/decimal"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/events"
	"github.com/warp/calendar-engine/expand"
	"github.com/warp/calendar-engine/factory"
)

// =============================================================================
// EVENTS
// =============================================================================

// PublishDTO reports what one publication stored.
type PublishDTO struct {
	Frequency  string `json:"freq"`
	Anchors    int    `json:"anchors"`
	Generated  int    `json:"generated"`
	Duplicates int    `json:"duplicates"`
	Removed    int    `json:"removed"`
	Published  int    `json:"published"`
}

// EventResponse is a saved event with its publication summary.
type EventResponse struct {
	Event   factory.EventJSON `json:"event"`
	Publish PublishDTO        `json:"publish"`
}

func toPublishDTO(sum expand.Summary) PublishDTO {
	return PublishDTO{
		Frequency:  strings.ToLower(sum.Frequency.String()),
		Anchors:    sum.Anchors,
		Generated:  sum.Generated,
		Duplicates: sum.Duplicates,
		Removed:    sum.Removed,
		Published:  sum.Published(),
	}
}

func (h *Handler) toEventResponse(res events.Result) EventResponse {
	return EventResponse{
		Event:   h.Factory.ToJSON(res.Event),
		Publish: toPublishDTO(res.Summary),
	}
}

// =============================================================================
// INSTANCES
// =============================================================================

// InstanceDTO represents one occurrence in API responses.
type InstanceDTO struct {
	ID            int64             `json:"id"`
	EventID       int64             `json:"event_id"`
	Summary       mo.Option[string] `json:"summary"`
	Start         string            `json:"start"`
	End           string            `json:"end"`
	Floating      bool              `json:"floating"`
	DurationHours decimal.Decimal   `json:"duration_hours"`
	RecurrenceID  mo.Option[string] `json:"recurrence_id"`
}

// InstancesResponse wraps a range query.
type InstancesResponse struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Count     int           `json:"count"`
	Instances []InstanceDTO `json:"instances"`
}

var secondsPerHour = decimal.NewFromInt(3600)

func toInstanceDTO(inst calendar.Instance, ev mo.Option[calendar.Event]) InstanceDTO {
	dto := InstanceDTO{
		ID:            inst.ID,
		EventID:       inst.EventID,
		Start:         inst.Start.String(),
		End:           inst.End.String(),
		Floating:      inst.Start.IsLocal(),
		DurationHours: decimal.NewFromInt(int64(inst.Duration() / time.Second)).Div(secondsPerHour).Round(4),
	}
	if e, ok := ev.Get(); ok {
		dto.Summary = mo.Some(e.Summary)
		if rid, ok := e.RecurrenceID.Get(); ok {
			dto.RecurrenceID = mo.Some(rid.String())
		}
	}
	return dto
}

func toInstancesResponse(from, to time.Time, list []calendar.Instance, byID map[int64]calendar.Event) InstancesResponse {
	dtos := make([]InstanceDTO, 0, len(list))
	for _, inst := range list {
		ev, ok := byID[inst.EventID]
		opt := mo.None[calendar.Event]()
		if ok {
			opt = mo.Some(ev)
		}
		dtos = append(dtos, toInstanceDTO(inst, opt))
	}
	return InstancesResponse{
		From:      from.Format(time.RFC3339),
		To:        to.Format(time.RFC3339),
		Count:     len(dtos),
		Instances: dtos,
	}
}

// =============================================================================
// ADMIN
// =============================================================================

// RepublishResponse reports a full rebuild.
type RepublishResponse struct {
	Republished int    `json:"republished"`
	Error       string `json:"error,omitempty"`
}

// RepairRunDTO represents one repair pass.
type RepairRunDTO struct {
	StartedAt   string `json:"started_at"`
	CompletedAt string `json:"completed_at"`
	Checked     int    `json:"checked"`
	Repaired    int    `json:"repaired"`
	Failed      int    `json:"failed"`
	NextRunAt   string `json:"next_run_at,omitempty"`
}

func toRepairRunDTO(run events.RepairRun) RepairRunDTO {
	return RepairRunDTO{
		StartedAt:   run.StartedAt.Format(time.RFC3339),
		CompletedAt: run.CompletedAt.Format(time.RFC3339),
		Checked:     run.Checked,
		Repaired:    run.Repaired,
		Failed:      run.Failed,
	}
}

// ImportResponse lists the events created from an iCalendar body.
type ImportResponse struct {
	Imported int             `json:"imported"`
	Events   []EventResponse `json:"events"`
}

// =============================================================================
// SAMPLES
// =============================================================================

// SampleDTO describes a demo data set.
type SampleDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// LoadSampleRequest selects a demo data set.
type LoadSampleRequest struct {
	SampleID string `json:"sample_id"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
