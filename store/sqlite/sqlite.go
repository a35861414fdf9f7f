/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements calendar.TxStore (events, instances, range queries and
  transactions) on SQLite. store/postgres implements the same contract
  with pgx; only the SQL dialect differs.

KEY TABLES:
  events:          Event records; rule and exdates as JSON
  utc_instances:   Absolute occurrences, Unix seconds
  local_instances: Floating occurrences, "YYYY-MM-DDTHH:MM:SS" text

  Instances reference their event with ON DELETE CASCADE, so no instance
  outlives its event even if a caller forgets to discard.

INDEXES:
  idx_utc_instances_event_start / idx_local_instances_event_start:
  every engine query filters by event and orders by start.

ERRORS:
  Every driver error is wrapped in calendar.StorageError. SQLITE_FULL
  additionally matches calendar.ErrNoSpace.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety and a single connection, so a
  transaction and plain calls never interleave. WithTx holds the write
  lock; the store it hands out talks to the sql.Tx only.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/calendar.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - calendar/store.go: Interface definitions
  - calendar/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/samber/mo"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/metrics"
)

const localLayout = "2006-01-02T15:04:05"

// Store implements calendar.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		uid TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		calendar_system TEXT NOT NULL DEFAULT 'solar',
		timezone TEXT NOT NULL DEFAULT '',
		dtstart TEXT NOT NULL,
		dtend TEXT NOT NULL,
		rule_json TEXT,
		exdates_json TEXT NOT NULL DEFAULT '[]',
		original_event_id INTEGER NOT NULL DEFAULT 0,
		recurrence_id TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_original
		ON events(original_event_id) WHERE original_event_id > 0;

	CREATE TABLE IF NOT EXISTS utc_instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		dtstart INTEGER NOT NULL,
		dtend INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_utc_instances_event_start
		ON utc_instances(event_id, dtstart);
	CREATE INDEX IF NOT EXISTS idx_utc_instances_start
		ON utc_instances(dtstart);

	CREATE TABLE IF NOT EXISTS local_instances (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		dtstart TEXT NOT NULL,
		dtend TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_local_instances_event_start
		ON local_instances(event_id, dtstart);
	CREATE INDEX IF NOT EXISTS idx_local_instances_start
		ON local_instances(dtstart);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// EVENT STORE (calendar.EventStore interface)
// =============================================================================

func (s *Store) SaveEvent(ctx context.Context, ev calendar.Event) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveEvent(ctx, s.db, ev)
}

func (s *Store) GetEvent(ctx context.Context, id int64) (calendar.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEvent(ctx, s.db, id)
}

func (s *Store) ListEvents(ctx context.Context) ([]calendar.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEvents(ctx, s.db, "list_events", eventColumns+" ORDER BY id")
}

func (s *Store) ListOverrides(ctx context.Context, originalID int64) ([]calendar.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEvents(ctx, s.db, "list_overrides", eventColumns+" WHERE original_event_id = ? ORDER BY id", originalID)
}

func (s *Store) DeleteEvent(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEvent(ctx, s.db, id)
}

const eventColumns = `
	SELECT id, uid, summary, calendar_system, timezone, dtstart, dtend, rule_json,
	       exdates_json, original_event_id, recurrence_id, created_at, updated_at
	FROM events`

func saveEvent(ctx context.Context, db queryer, ev calendar.Event) (int64, error) {
	defer metrics.ObserveDBLatency(ctx, "save_event", time.Now())

	var ruleJSON sql.NullString
	if ev.Rule != nil {
		b, err := json.Marshal(ev.Rule)
		if err != nil {
			return 0, fmt.Errorf("encode rule: %w", err)
		}
		ruleJSON = sql.NullString{String: string(b), Valid: true}
	}
	exdates := make([]string, 0, len(ev.Exdates))
	for _, ex := range ev.Exdates {
		exdates = append(exdates, ex.String())
	}
	exdatesJSON, _ := json.Marshal(exdates)

	var rid sql.NullString
	if v, ok := ev.RecurrenceID.Get(); ok {
		rid = sql.NullString{String: v.String(), Valid: true}
	}

	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	args := []any{
		ev.UID, ev.Summary, string(ev.CalendarSystem), ev.Timezone,
		ev.Start.String(), ev.End.String(), ruleJSON, string(exdatesJSON),
		ev.OriginalEventID, rid,
		ev.CreatedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	}

	if ev.ID == 0 {
		res, err := db.ExecContext(ctx, `
			INSERT INTO events
			(uid, summary, calendar_system, timezone, dtstart, dtend, rule_json,
			 exdates_json, original_event_id, recurrence_id, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, args...)
		if err != nil {
			return 0, storageErr("save_event", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, storageErr("save_event", err)
		}
		return id, nil
	}

	res, err := db.ExecContext(ctx, `
		UPDATE events SET
			uid = ?, summary = ?, calendar_system = ?, timezone = ?, dtstart = ?, dtend = ?,
			rule_json = ?, exdates_json = ?, original_event_id = ?, recurrence_id = ?,
			created_at = ?, updated_at = ?
		WHERE id = ?
	`, append(args, ev.ID)...)
	if err != nil {
		return 0, storageErr("save_event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, calendar.ErrEventNotFound
	}
	return ev.ID, nil
}

func getEvent(ctx context.Context, db queryer, id int64) (calendar.Event, error) {
	events, err := queryEvents(ctx, db, "get_event", eventColumns+" WHERE id = ?", id)
	if err != nil {
		return calendar.Event{}, err
	}
	if len(events) == 0 {
		return calendar.Event{}, calendar.ErrEventNotFound
	}
	return events[0], nil
}

func deleteEvent(ctx context.Context, db queryer, id int64) error {
	defer metrics.ObserveDBLatency(ctx, "delete_event", time.Now())

	res, err := db.ExecContext(ctx, "DELETE FROM events WHERE id = ?", id)
	if err != nil {
		return storageErr("delete_event", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return calendar.ErrEventNotFound
	}
	return nil
}

func queryEvents(ctx context.Context, db queryer, op, query string, args ...any) ([]calendar.Event, error) {
	defer metrics.ObserveDBLatency(ctx, op, time.Now())

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var events []calendar.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (calendar.Event, error) {
	var (
		ev                          calendar.Event
		system, start, end, exdates string
		ruleJSON, rid               sql.NullString
		createdAt, updatedAt        string
	)
	if err := rows.Scan(&ev.ID, &ev.UID, &ev.Summary, &system, &ev.Timezone, &start, &end,
		&ruleJSON, &exdates, &ev.OriginalEventID, &rid, &createdAt, &updatedAt); err != nil {
		return ev, storageErr("scan_event", err)
	}
	ev.CalendarSystem = calendar.System(system)

	var err error
	if ev.Start, err = calendar.ParseDateTime(start); err != nil {
		return ev, storageErr("scan_event", err)
	}
	if ev.End, err = calendar.ParseDateTime(end); err != nil {
		return ev, storageErr("scan_event", err)
	}
	if ruleJSON.Valid {
		var rule calendar.RecurrenceRule
		if err := json.Unmarshal([]byte(ruleJSON.String), &rule); err != nil {
			return ev, storageErr("scan_event", err)
		}
		ev.Rule = &rule
	}
	var raw []string
	if err := json.Unmarshal([]byte(exdates), &raw); err != nil {
		return ev, storageErr("scan_event", err)
	}
	for _, r := range raw {
		dt, err := calendar.ParseDateTime(r)
		if err != nil {
			return ev, storageErr("scan_event", err)
		}
		ev.Exdates = append(ev.Exdates, dt)
	}
	if rid.Valid {
		dt, err := calendar.ParseDateTime(rid.String)
		if err != nil {
			return ev, storageErr("scan_event", err)
		}
		ev.RecurrenceID = mo.Some(dt)
	}
	ev.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	ev.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return ev, nil
}

// =============================================================================
// INSTANCE STORE (calendar.InstanceStore interface)
// =============================================================================

func (s *Store) InsertInstance(ctx context.Context, eventID int64, start, end calendar.DateTime) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertInstance(ctx, s.db, eventID, start, end)
}

func (s *Store) DeleteInstances(ctx context.Context, eventID int64, filter calendar.DeleteFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteInstances(ctx, s.db, eventID, filter)
}

func (s *Store) CountFutureInstances(ctx context.Context, eventID int64, from calendar.DateTime) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countFutureInstances(ctx, s.db, eventID, from)
}

func (s *Store) ListInstances(ctx context.Context, eventID int64, from, to calendar.DateTime) ([]calendar.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listInstances(ctx, s.db, eventID, from, to)
}

// InstancesInRange returns instances overlapping [from, to) across all events.
func (s *Store) InstancesInRange(ctx context.Context, from, to time.Time) ([]calendar.Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return instancesInRange(ctx, s.db, from, to)
}

func table(tt calendar.TimeType) string {
	if tt == calendar.TimeLocal {
		return "local_instances"
	}
	return "utc_instances"
}

// column encodes a value for its partition's dtstart/dtend columns.
func column(dt calendar.DateTime) any {
	if dt.IsLocal() {
		return dt.Time().Format(localLayout)
	}
	return dt.Unix
}

func insertInstance(ctx context.Context, db queryer, eventID int64, start, end calendar.DateTime) (int64, error) {
	defer metrics.ObserveDBLatency(ctx, "insert_instance", time.Now())

	if start.Type != end.Type {
		return 0, storageErr("insert_instance", errors.New("start and end use different representations"))
	}
	res, err := db.ExecContext(ctx,
		"INSERT INTO "+table(start.Type)+" (event_id, dtstart, dtend) VALUES (?, ?, ?)",
		eventID, column(start), column(end))
	if err != nil {
		return 0, storageErr("insert_instance", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("insert_instance", err)
	}
	return id, nil
}

func deleteInstances(ctx context.Context, db queryer, eventID int64, f calendar.DeleteFilter) (int, error) {
	defer metrics.ObserveDBLatency(ctx, "delete_instances", time.Now())

	var stmts []struct {
		query string
		args  []any
	}
	add := func(query string, args ...any) {
		stmts = append(stmts, struct {
			query string
			args  []any
		}{query, args})
	}

	t := table(f.Partition)
	switch f.Kind {
	case calendar.FilterAll:
		add("DELETE FROM utc_instances WHERE event_id = ?", eventID)
		add("DELETE FROM local_instances WHERE event_id = ?", eventID)

	case calendar.FilterAfterNth:
		if f.N <= 0 {
			return 0, nil
		}
		add(`DELETE FROM `+t+` WHERE event_id = ? AND dtstart > (
				SELECT dtstart FROM `+t+` WHERE event_id = ?
				ORDER BY dtstart, id LIMIT 1 OFFSET ?)`,
			eventID, eventID, f.N-1)

	case calendar.FilterAt:
		if f.Partition == calendar.TimeLocal {
			add("DELETE FROM local_instances WHERE event_id = ? AND substr(dtstart, 1, 10) = ?",
				eventID, f.At.Time().Format("2006-01-02"))
		} else {
			add("DELETE FROM utc_instances WHERE event_id = ? AND dtstart = ?", eventID, f.At.Unix)
		}

	case calendar.FilterWindowExcept:
		query := "DELETE FROM " + t + " WHERE event_id = ? AND dtstart >= ? AND dtstart < ?"
		args := []any{eventID, column(f.From), column(f.To)}
		if len(f.Keep) > 0 {
			query += " AND id NOT IN (" + strings.TrimSuffix(strings.Repeat("?,", len(f.Keep)), ",") + ")"
			for _, id := range f.Keep {
				args = append(args, id)
			}
		}
		add(query, args...)

	default:
		return 0, storageErr("delete_instances", fmt.Errorf("unknown filter kind %d", f.Kind))
	}

	total := 0
	for _, st := range stmts {
		res, err := db.ExecContext(ctx, st.query, st.args...)
		if err != nil {
			return total, storageErr("delete_instances", err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
	}
	return total, nil
}

func countFutureInstances(ctx context.Context, db queryer, eventID int64, from calendar.DateTime) (int, error) {
	defer metrics.ObserveDBLatency(ctx, "count_future_instances", time.Now())

	var n int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table(from.Type)+" WHERE event_id = ? AND dtstart >= ?",
		eventID, column(from)).Scan(&n)
	if err != nil {
		return 0, storageErr("count_future_instances", err)
	}
	return n, nil
}

func listInstances(ctx context.Context, db queryer, eventID int64, from, to calendar.DateTime) ([]calendar.Instance, error) {
	defer metrics.ObserveDBLatency(ctx, "list_instances", time.Now())

	rows, err := db.QueryContext(ctx,
		"SELECT id, event_id, dtstart, dtend FROM "+table(from.Type)+
			" WHERE event_id = ? AND dtstart >= ? AND dtstart < ? ORDER BY dtstart, id",
		eventID, column(from), column(to))
	if err != nil {
		return nil, storageErr("list_instances", err)
	}
	defer rows.Close()
	return scanInstances(rows, from.Type)
}

func instancesInRange(ctx context.Context, db queryer, from, to time.Time) ([]calendar.Instance, error) {
	defer metrics.ObserveDBLatency(ctx, "instances_in_range", time.Now())

	bounds := map[calendar.TimeType][2]calendar.DateTime{
		calendar.TimeUTC:   {calendar.FromTime(from), calendar.FromTime(to)},
		calendar.TimeLocal: {calendar.LocalFromTime(from), calendar.LocalFromTime(to)},
	}

	var result []calendar.Instance
	for _, tt := range []calendar.TimeType{calendar.TimeUTC, calendar.TimeLocal} {
		lo, hi := column(bounds[tt][0]), column(bounds[tt][1])
		rows, err := db.QueryContext(ctx,
			"SELECT id, event_id, dtstart, dtend FROM "+table(tt)+
				" WHERE dtstart < ? AND (dtend > ? OR dtstart >= ?) ORDER BY dtstart, id",
			hi, lo, lo)
		if err != nil {
			return nil, storageErr("instances_in_range", err)
		}
		list, err := scanInstances(rows, tt)
		rows.Close()
		if err != nil {
			return nil, err
		}
		result = append(result, list...)
	}
	calendar.SortInstances(result)
	return result, nil
}

func scanInstances(rows *sql.Rows, tt calendar.TimeType) ([]calendar.Instance, error) {
	var out []calendar.Instance
	for rows.Next() {
		var inst calendar.Instance
		if tt == calendar.TimeLocal {
			var start, end string
			if err := rows.Scan(&inst.ID, &inst.EventID, &start, &end); err != nil {
				return nil, storageErr("scan_instance", err)
			}
			var err error
			if inst.Start, err = parseLocal(start); err != nil {
				return nil, storageErr("scan_instance", err)
			}
			if inst.End, err = parseLocal(end); err != nil {
				return nil, storageErr("scan_instance", err)
			}
		} else {
			var start, end int64
			if err := rows.Scan(&inst.ID, &inst.EventID, &start, &end); err != nil {
				return nil, storageErr("scan_instance", err)
			}
			inst.Start, inst.End = calendar.UTC(start), calendar.UTC(end)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("scan_instance", err)
	}
	return out, nil
}

func parseLocal(s string) (calendar.DateTime, error) {
	t, err := time.Parse(localLayout, s)
	if err != nil {
		return calendar.DateTime{}, err
	}
	return calendar.LocalFromTime(t), nil
}

// =============================================================================
// TRANSACTIONAL STORE (calendar.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store calendar.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// txStore runs every call on the open transaction. The parent's lock is
// already held by WithTx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveEvent(ctx context.Context, ev calendar.Event) (int64, error) {
	return saveEvent(ctx, ts.tx, ev)
}

func (ts *txStore) GetEvent(ctx context.Context, id int64) (calendar.Event, error) {
	return getEvent(ctx, ts.tx, id)
}

func (ts *txStore) ListEvents(ctx context.Context) ([]calendar.Event, error) {
	return queryEvents(ctx, ts.tx, "list_events", eventColumns+" ORDER BY id")
}

func (ts *txStore) ListOverrides(ctx context.Context, originalID int64) ([]calendar.Event, error) {
	return queryEvents(ctx, ts.tx, "list_overrides", eventColumns+" WHERE original_event_id = ? ORDER BY id", originalID)
}

func (ts *txStore) DeleteEvent(ctx context.Context, id int64) error {
	return deleteEvent(ctx, ts.tx, id)
}

func (ts *txStore) InsertInstance(ctx context.Context, eventID int64, start, end calendar.DateTime) (int64, error) {
	return insertInstance(ctx, ts.tx, eventID, start, end)
}

func (ts *txStore) DeleteInstances(ctx context.Context, eventID int64, filter calendar.DeleteFilter) (int, error) {
	return deleteInstances(ctx, ts.tx, eventID, filter)
}

func (ts *txStore) CountFutureInstances(ctx context.Context, eventID int64, from calendar.DateTime) (int, error) {
	return countFutureInstances(ctx, ts.tx, eventID, from)
}

func (ts *txStore) ListInstances(ctx context.Context, eventID int64, from, to calendar.DateTime) ([]calendar.Instance, error) {
	return listInstances(ctx, ts.tx, eventID, from, to)
}

func (ts *txStore) InstancesInRange(ctx context.Context, from, to time.Time) ([]calendar.Instance, error) {
	return instancesInRange(ctx, ts.tx, from, to)
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"utc_instances", "local_instances", "events"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return storageErr("reset", err)
		}
	}
	return nil
}

// storageErr wraps a driver error; a full database also matches ErrNoSpace.
func storageErr(op string, err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrFull {
		err = fmt.Errorf("%w: %v", calendar.ErrNoSpace, err)
	}
	return &calendar.StorageError{Op: op, Err: err}
}

var (
	_ calendar.TxStore = (*Store)(nil)
	_ calendar.Store   = (*txStore)(nil)
)
