/*
store.go - Persistence interfaces for events and their instances

PURPOSE:
  Defines the boundary between the expansion engine and the database.
  The engine only needs InstanceStore; the surrounding service also needs
  EventStore, InstanceReader and transactions.

PARTITIONS:
  Instances live in one of two partitions, chosen by the event's start type:
  - utc:   absolute instants (Unix seconds)
  - local: floating civil date/times
  A delete filter names its partition explicitly, except DeleteAll which
  clears both.

DELETE FILTERS:
  DeleteAll()                      every instance of the event
  DeleteAfterNth(partition, n)     start later than the n-th instance by start
  DeleteAt(dt)                     start equal to dt (same civil date for local)
  DeleteWindowExcept(from, to, ids) start in [from, to) and id not in ids

ATOMICITY:
  WithTx() runs fn inside one storage transaction. The service wraps
  discard+publish for an event in a single WithTx so readers never observe
  a half-rebuilt instance set.

IMPLEMENTATIONS:
  - calendar/store/memory.go: In-memory for tests and dev
  - store/sqlite/sqlite.go:    SQLite
  - store/postgres/postgres.go: PostgreSQL via pgx

SEE ALSO:
  - expand/publisher.go: Main consumer of InstanceStore
*/
package calendar

import (
	"context"
	"time"
)

// =============================================================================
// INSTANCE STORE - What the expansion engine writes to
// =============================================================================

// InstanceStore persists generated occurrences keyed by owning event id.
type InstanceStore interface {
	// InsertInstance stores one occurrence and returns its row id.
	// start and end must share a representation.
	InsertInstance(ctx context.Context, eventID int64, start, end DateTime) (int64, error)

	// DeleteInstances removes the event's instances matching filter and
	// returns how many were removed.
	DeleteInstances(ctx context.Context, eventID int64, filter DeleteFilter) (int, error)

	// CountFutureInstances counts instances with start >= from in from's partition.
	CountFutureInstances(ctx context.Context, eventID int64, from DateTime) (int, error)

	// ListInstances returns instances with start in [from, to), ordered by start.
	ListInstances(ctx context.Context, eventID int64, from, to DateTime) ([]Instance, error)
}

// FilterKind selects a DeleteFilter variant.
type FilterKind int

const (
	FilterAll FilterKind = iota
	FilterAfterNth
	FilterAt
	FilterWindowExcept
)

// DeleteFilter selects the instances DeleteInstances removes.
type DeleteFilter struct {
	Kind      FilterKind
	Partition TimeType
	N         int
	At        DateTime
	From      DateTime
	To        DateTime
	Keep      []int64
}

func DeleteAll() DeleteFilter { return DeleteFilter{Kind: FilterAll} }

func DeleteAfterNth(partition TimeType, n int) DeleteFilter {
	return DeleteFilter{Kind: FilterAfterNth, Partition: partition, N: n}
}

func DeleteAt(at DateTime) DeleteFilter {
	return DeleteFilter{Kind: FilterAt, Partition: at.Type, At: at}
}

func DeleteWindowExcept(from, to DateTime, keep []int64) DeleteFilter {
	return DeleteFilter{Kind: FilterWindowExcept, Partition: from.Type, From: from, To: to, Keep: keep}
}

// Keeps reports whether id is protected by a window filter.
func (f DeleteFilter) Keeps(id int64) bool {
	for _, k := range f.Keep {
		if k == id {
			return true
		}
	}
	return false
}

// Matches reports whether an instance start is selected by an At or window
// filter. All and AfterNth depend on the whole instance set and are decided
// by the store.
func (f DeleteFilter) Matches(inst Instance) bool {
	if inst.Start.Type != f.Partition {
		return false
	}
	switch f.Kind {
	case FilterAt:
		if f.Partition == TimeLocal {
			return inst.Start.CompareDate(f.At) == 0
		}
		return inst.Start.Equal(f.At)
	case FilterWindowExcept:
		return !inst.Start.Before(f.From) && inst.Start.Before(f.To) && !f.Keeps(inst.ID)
	}
	return false
}

// =============================================================================
// EVENT STORE - Records owned by the surrounding service
// =============================================================================

// EventStore persists event records.
type EventStore interface {
	// SaveEvent inserts the event when ID is 0, otherwise updates it.
	// Returns the event id. Updating a missing event returns ErrEventNotFound.
	SaveEvent(ctx context.Context, ev Event) (int64, error)

	GetEvent(ctx context.Context, id int64) (Event, error)

	ListEvents(ctx context.Context) ([]Event, error)

	// ListOverrides returns the exception overrides of a series.
	ListOverrides(ctx context.Context, originalID int64) ([]Event, error)

	DeleteEvent(ctx context.Context, id int64) error
}

// InstanceReader answers range queries across all events.
type InstanceReader interface {
	// InstancesInRange returns instances overlapping [from, to), ordered by
	// start. Floating instances are compared using the civil fields of from
	// and to in their own location.
	InstancesInRange(ctx context.Context, from, to time.Time) ([]Instance, error)
}

// Store is everything the service needs outside a transaction.
type Store interface {
	EventStore
	InstanceStore
	InstanceReader
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
