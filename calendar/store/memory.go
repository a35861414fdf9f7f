// Package store provides in-process Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/calendar-engine/calendar"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu        sync.RWMutex
	events    map[int64]calendar.Event
	instances map[int64][]calendar.Instance // per event, ordered by start
	nextEvent int64
	nextInst  int64
}

func NewMemory() *Memory {
	return &Memory{
		events:    make(map[int64]calendar.Event),
		instances: make(map[int64][]calendar.Instance),
	}
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

func (m *Memory) SaveEvent(_ context.Context, ev calendar.Event) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveEventLocked(ev)
}

func (m *Memory) saveEventLocked(ev calendar.Event) (int64, error) {
	if ev.ID == 0 {
		m.nextEvent++
		ev.ID = m.nextEvent
	} else if _, ok := m.events[ev.ID]; !ok {
		return 0, calendar.ErrEventNotFound
	}
	m.events[ev.ID] = copyEvent(ev)
	return ev.ID, nil
}

func (m *Memory) GetEvent(_ context.Context, id int64) (calendar.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEventLocked(id)
}

func (m *Memory) getEventLocked(id int64) (calendar.Event, error) {
	ev, ok := m.events[id]
	if !ok {
		return calendar.Event{}, calendar.ErrEventNotFound
	}
	return copyEvent(ev), nil
}

func (m *Memory) ListEvents(_ context.Context) ([]calendar.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEventsLocked(func(calendar.Event) bool { return true }), nil
}

func (m *Memory) ListOverrides(_ context.Context, originalID int64) ([]calendar.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEventsLocked(func(ev calendar.Event) bool { return ev.OriginalEventID == originalID }), nil
}

func (m *Memory) listEventsLocked(keep func(calendar.Event) bool) []calendar.Event {
	var result []calendar.Event
	for _, ev := range m.events {
		if keep(ev) {
			result = append(result, copyEvent(ev))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// DeleteEvent removes the event and its instances.
func (m *Memory) DeleteEvent(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteEventLocked(id)
}

func (m *Memory) deleteEventLocked(id int64) error {
	if _, ok := m.events[id]; !ok {
		return calendar.ErrEventNotFound
	}
	delete(m.events, id)
	delete(m.instances, id)
	return nil
}

// -----------------------------------------------------------------------------
// Instances
// -----------------------------------------------------------------------------

func (m *Memory) InsertInstance(_ context.Context, eventID int64, start, end calendar.DateTime) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(eventID, start, end), nil
}

func (m *Memory) insertLocked(eventID int64, start, end calendar.DateTime) int64 {
	m.nextInst++
	inst := calendar.Instance{ID: m.nextInst, EventID: eventID, Start: start, End: end}
	list := m.instances[eventID]

	// Binary search keeps the list ordered by start, ties by insertion.
	i := sort.Search(len(list), func(i int) bool {
		return list[i].Start.After(start)
	})
	list = append(list, calendar.Instance{})
	copy(list[i+1:], list[i:])
	list[i] = inst
	m.instances[eventID] = list
	return inst.ID
}

func (m *Memory) DeleteInstances(_ context.Context, eventID int64, filter calendar.DeleteFilter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(eventID, filter), nil
}

func (m *Memory) deleteLocked(eventID int64, filter calendar.DeleteFilter) int {
	list := m.instances[eventID]
	if filter.Kind == calendar.FilterAll {
		delete(m.instances, eventID)
		return len(list)
	}

	match := filter.Matches
	if filter.Kind == calendar.FilterAfterNth {
		nth, ok := nthStart(list, filter.Partition, filter.N)
		if !ok {
			return 0
		}
		match = func(inst calendar.Instance) bool {
			return inst.Start.Type == filter.Partition && inst.Start.After(nth)
		}
	}

	kept := list[:0:0]
	for _, inst := range list {
		if !match(inst) {
			kept = append(kept, inst)
		}
	}
	m.instances[eventID] = kept
	return len(list) - len(kept)
}

func nthStart(list []calendar.Instance, partition calendar.TimeType, n int) (calendar.DateTime, bool) {
	if n <= 0 {
		return calendar.DateTime{}, false
	}
	seen := 0
	for _, inst := range list {
		if inst.Start.Type != partition {
			continue
		}
		seen++
		if seen == n {
			return inst.Start, true
		}
	}
	return calendar.DateTime{}, false
}

func (m *Memory) CountFutureInstances(_ context.Context, eventID int64, from calendar.DateTime) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.countLocked(eventID, from), nil
}

func (m *Memory) countLocked(eventID int64, from calendar.DateTime) int {
	n := 0
	for _, inst := range m.instances[eventID] {
		if inst.Start.Type == from.Type && !inst.Start.Before(from) {
			n++
		}
	}
	return n
}

func (m *Memory) ListInstances(_ context.Context, eventID int64, from, to calendar.DateTime) ([]calendar.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLocked(eventID, from, to), nil
}

func (m *Memory) listLocked(eventID int64, from, to calendar.DateTime) []calendar.Instance {
	var result []calendar.Instance
	for _, inst := range m.instances[eventID] {
		if inst.Start.Type == from.Type && !inst.Start.Before(from) && inst.Start.Before(to) {
			result = append(result, inst)
		}
	}
	return result
}

// InstancesInRange returns instances overlapping [from, to) across all events.
func (m *Memory) InstancesInRange(_ context.Context, from, to time.Time) ([]calendar.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rangeLocked(from, to), nil
}

func (m *Memory) rangeLocked(from, to time.Time) []calendar.Instance {
	bounds := map[calendar.TimeType][2]calendar.DateTime{
		calendar.TimeUTC:   {calendar.FromTime(from), calendar.FromTime(to)},
		calendar.TimeLocal: {calendar.LocalFromTime(from), calendar.LocalFromTime(to)},
	}
	var result []calendar.Instance
	for _, list := range m.instances {
		for _, inst := range list {
			b := bounds[inst.Start.Type]
			if inst.Overlaps(b[0], b[1]) {
				result = append(result, inst)
			}
		}
	}
	calendar.SortInstances(result)
	return result
}

// Reset clears all data (for testing/demo).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = make(map[int64]calendar.Event)
	m.instances = make(map[int64][]calendar.Instance)
	return nil
}

func copyEvent(ev calendar.Event) calendar.Event {
	if ev.Rule != nil {
		r := ev.Rule.Clone()
		ev.Rule = &r
	}
	if ev.Exdates != nil {
		ev.Exdates = append([]calendar.DateTime(nil), ev.Exdates...)
	}
	return ev
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(calendar.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	events    map[int64]calendar.Event
	instances map[int64][]calendar.Instance
	nextEvent int64
	nextInst  int64
}

func (tm *TxMemory) snapshot() memorySnapshot {
	events := make(map[int64]calendar.Event, len(tm.events))
	for k, v := range tm.events {
		events[k] = v
	}
	instances := make(map[int64][]calendar.Instance, len(tm.instances))
	for k, v := range tm.instances {
		instances[k] = append([]calendar.Instance(nil), v...)
	}
	return memorySnapshot{events: events, instances: instances, nextEvent: tm.nextEvent, nextInst: tm.nextInst}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.events = s.events
	tm.instances = s.instances
	tm.nextEvent = s.nextEvent
	tm.nextInst = s.nextInst
}

// txMemoryView runs against the parent with its lock already held.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveEvent(_ context.Context, ev calendar.Event) (int64, error) {
	return tv.parent.saveEventLocked(ev)
}

func (tv *txMemoryView) GetEvent(_ context.Context, id int64) (calendar.Event, error) {
	return tv.parent.getEventLocked(id)
}

func (tv *txMemoryView) ListEvents(_ context.Context) ([]calendar.Event, error) {
	return tv.parent.listEventsLocked(func(calendar.Event) bool { return true }), nil
}

func (tv *txMemoryView) ListOverrides(_ context.Context, originalID int64) ([]calendar.Event, error) {
	return tv.parent.listEventsLocked(func(ev calendar.Event) bool { return ev.OriginalEventID == originalID }), nil
}

func (tv *txMemoryView) DeleteEvent(_ context.Context, id int64) error {
	return tv.parent.deleteEventLocked(id)
}

func (tv *txMemoryView) InsertInstance(_ context.Context, eventID int64, start, end calendar.DateTime) (int64, error) {
	return tv.parent.insertLocked(eventID, start, end), nil
}

func (tv *txMemoryView) DeleteInstances(_ context.Context, eventID int64, filter calendar.DeleteFilter) (int, error) {
	return tv.parent.deleteLocked(eventID, filter), nil
}

func (tv *txMemoryView) CountFutureInstances(_ context.Context, eventID int64, from calendar.DateTime) (int, error) {
	return tv.parent.countLocked(eventID, from), nil
}

func (tv *txMemoryView) ListInstances(_ context.Context, eventID int64, from, to calendar.DateTime) ([]calendar.Instance, error) {
	return tv.parent.listLocked(eventID, from, to), nil
}

func (tv *txMemoryView) InstancesInRange(_ context.Context, from, to time.Time) ([]calendar.Instance, error) {
	return tv.parent.rangeLocked(from, to), nil
}

var (
	_ calendar.Store   = (*Memory)(nil)
	_ calendar.TxStore = (*TxMemory)(nil)
	_ calendar.Store   = (*txMemoryView)(nil)
)
