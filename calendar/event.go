package calendar

import (
	"sort"
	"time"

	"github.com/samber/mo"
)

// =============================================================================
// EVENT - The record that owns a recurrence rule
// =============================================================================

// Event is a calendar entry. It owns zero or one recurrence rule.
//
// An Event with OriginalEventID > 0 is an exception override: it replaces the
// occurrence RecurrenceID of the series OriginalEventID.
type Event struct {
	ID              int64
	UID             string
	Summary         string
	CalendarSystem  System
	Timezone        string
	Start           DateTime
	End             DateTime
	Rule            *RecurrenceRule
	Exdates         []DateTime
	OriginalEventID int64
	RecurrenceID    mo.Option[DateTime]
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// IsOverride reports whether e replaces one occurrence of another series.
func (e Event) IsOverride() bool { return e.OriginalEventID > 0 }

// Frequency returns the rule's frequency, FreqNone without a rule.
func (e Event) Frequency() Frequency {
	if e.Rule == nil {
		return FreqNone
	}
	return e.Rule.Frequency
}

// Location returns the time zone used for civil arithmetic.
func (e Event) Location() string {
	if e.Timezone == "" {
		return "UTC"
	}
	return e.Timezone
}

// Partition returns the instance partition this event's occurrences live in.
func (e Event) Partition() TimeType { return e.Start.Type }

// =============================================================================
// INSTANCE - One materialized occurrence
// =============================================================================

// Instance is a generated occurrence. Instances are derived data: only the
// expansion engine creates them, and they are discarded with their event.
type Instance struct {
	ID      int64
	EventID int64
	Start   DateTime
	End     DateTime
}

// Duration returns the instance length. Floating values are measured as if
// they were in UTC.
func (i Instance) Duration() time.Duration {
	return i.End.Time().Sub(i.Start.Time())
}

// Overlaps reports whether i intersects [from, to). Zero-length instances
// count when they start inside the window.
func (i Instance) Overlaps(from, to DateTime) bool {
	if !i.Start.Before(to) {
		return false
	}
	return i.End.After(from) || !i.Start.Before(from)
}

// SortInstances orders by start, then event, then id.
func SortInstances(list []Instance) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if c := a.Start.Compare(b.Start); c != 0 {
			return c < 0
		}
		if a.EventID != b.EventID {
			return a.EventID < b.EventID
		}
		return a.ID < b.ID
	})
}
