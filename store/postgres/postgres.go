/*
Package postgres provides a PostgreSQL-backed implementation of the storage interfaces.

PURPOSE:
  Same contract as store/sqlite, for deployments that share one database
  between several engine processes. Uses a pgx connection pool; every
  query runs either on the pool or on an open pgx.Tx through one querier.

KEY TABLES:
  events:          Event records; rule as JSONB, exdates as a TEXT[]
  utc_instances:   Absolute occurrences, Unix seconds (BIGINT)
  local_instances: Floating occurrences (TIMESTAMP without time zone)

ERRORS:
  Driver errors become calendar.StorageError. SQLSTATE 53100 (disk_full)
  additionally matches calendar.ErrNoSpace.

SEE ALSO:
  - calendar/store.go: Interface definitions
  - store/sqlite/sqlite.go: Embedded single-file variant
*/
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/mo"

	"github.com/warp/calendar-engine/calendar"
	"github.com/warp/calendar-engine/metrics"
)

const codeDiskFull = "53100"

// querier is the subset of pgxpool.Pool and pgx.Tx the store uses.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements calendar.TxStore on PostgreSQL.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// queries implements calendar.Store on top of a querier.
type queries struct {
	q querier
}

// New connects to dsn and migrates the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := &Store{queries: queries{q: pool}, pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id BIGSERIAL PRIMARY KEY,
		uid TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		calendar_system TEXT NOT NULL DEFAULT 'solar',
		timezone TEXT NOT NULL DEFAULT '',
		dtstart TEXT NOT NULL,
		dtend TEXT NOT NULL,
		rule_json JSONB,
		exdates TEXT[] NOT NULL DEFAULT '{}',
		original_event_id BIGINT NOT NULL DEFAULT 0,
		recurrence_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_original
		ON events(original_event_id) WHERE original_event_id > 0;

	CREATE TABLE IF NOT EXISTS utc_instances (
		id BIGSERIAL PRIMARY KEY,
		event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		dtstart BIGINT NOT NULL,
		dtend BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_utc_instances_event_start
		ON utc_instances(event_id, dtstart);

	CREATE TABLE IF NOT EXISTS local_instances (
		id BIGSERIAL PRIMARY KEY,
		event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		dtstart TIMESTAMP NOT NULL,
		dtend TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_local_instances_event_start
		ON local_instances(event_id, dtstart);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// WithTx runs fn inside one transaction. fn's error rolls everything back.
func (s *Store) WithTx(ctx context.Context, fn func(store calendar.Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return storageErr("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("commit", err)
	}
	return nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "TRUNCATE utc_instances, local_instances, events RESTART IDENTITY")
	if err != nil {
		return storageErr("reset", err)
	}
	return nil
}

// =============================================================================
// EVENTS
// =============================================================================

const eventColumns = `
	SELECT id, uid, summary, calendar_system, timezone, dtstart, dtend, rule_json,
	       exdates, original_event_id, recurrence_id, created_at, updated_at
	FROM events`

func (s *queries) SaveEvent(ctx context.Context, ev calendar.Event) (int64, error) {
	defer metrics.ObserveDBLatency(ctx, "save_event", time.Now())

	var rule any
	if ev.Rule != nil {
		b, err := json.Marshal(ev.Rule)
		if err != nil {
			return 0, fmt.Errorf("encode rule: %w", err)
		}
		rule = b
	}
	exdates := make([]string, 0, len(ev.Exdates))
	for _, ex := range ev.Exdates {
		exdates = append(exdates, ex.String())
	}
	var rid *string
	if v, ok := ev.RecurrenceID.Get(); ok {
		str := v.String()
		rid = &str
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	if ev.ID == 0 {
		var id int64
		err := s.q.QueryRow(ctx, `
			INSERT INTO events
			(uid, summary, calendar_system, timezone, dtstart, dtend, rule_json,
			 exdates, original_event_id, recurrence_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			RETURNING id
		`, ev.UID, ev.Summary, string(ev.CalendarSystem), ev.Timezone, ev.Start.String(), ev.End.String(),
			rule, exdates, ev.OriginalEventID, rid, ev.CreatedAt, now).Scan(&id)
		if err != nil {
			return 0, storageErr("save_event", err)
		}
		return id, nil
	}

	tag, err := s.q.Exec(ctx, `
		UPDATE events SET
			uid = $1, summary = $2, calendar_system = $3, timezone = $4, dtstart = $5, dtend = $6,
			rule_json = $7, exdates = $8, original_event_id = $9, recurrence_id = $10,
			created_at = $11, updated_at = $12
		WHERE id = $13
	`, ev.UID, ev.Summary, string(ev.CalendarSystem), ev.Timezone, ev.Start.String(), ev.End.String(),
		rule, exdates, ev.OriginalEventID, rid, ev.CreatedAt, now, ev.ID)
	if err != nil {
		return 0, storageErr("save_event", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, calendar.ErrEventNotFound
	}
	return ev.ID, nil
}

func (s *queries) GetEvent(ctx context.Context, id int64) (calendar.Event, error) {
	events, err := s.queryEvents(ctx, "get_event", eventColumns+" WHERE id = $1", id)
	if err != nil {
		return calendar.Event{}, err
	}
	if len(events) == 0 {
		return calendar.Event{}, calendar.ErrEventNotFound
	}
	return events[0], nil
}

func (s *queries) ListEvents(ctx context.Context) ([]calendar.Event, error) {
	return s.queryEvents(ctx, "list_events", eventColumns+" ORDER BY id")
}

func (s *queries) ListOverrides(ctx context.Context, originalID int64) ([]calendar.Event, error) {
	return s.queryEvents(ctx, "list_overrides", eventColumns+" WHERE original_event_id = $1 ORDER BY id", originalID)
}

func (s *queries) DeleteEvent(ctx context.Context, id int64) error {
	defer metrics.ObserveDBLatency(ctx, "delete_event", time.Now())

	tag, err := s.q.Exec(ctx, "DELETE FROM events WHERE id = $1", id)
	if err != nil {
		return storageErr("delete_event", err)
	}
	if tag.RowsAffected() == 0 {
		return calendar.ErrEventNotFound
	}
	return nil
}

func (s *queries) queryEvents(ctx context.Context, op, sql string, args ...any) ([]calendar.Event, error) {
	defer metrics.ObserveDBLatency(ctx, op, time.Now())

	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr(op, err)
	}
	defer rows.Close()

	var events []calendar.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, storageErr(op, err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(op, err)
	}
	return events, nil
}

func scanEvent(rows pgx.Rows) (calendar.Event, error) {
	var (
		ev                 calendar.Event
		system, start, end string
		rule               []byte
		exdates            []string
		rid                *string
	)
	if err := rows.Scan(&ev.ID, &ev.UID, &ev.Summary, &system, &ev.Timezone, &start, &end,
		&rule, &exdates, &ev.OriginalEventID, &rid, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
		return ev, err
	}
	ev.CalendarSystem = calendar.System(system)

	var err error
	if ev.Start, err = calendar.ParseDateTime(start); err != nil {
		return ev, err
	}
	if ev.End, err = calendar.ParseDateTime(end); err != nil {
		return ev, err
	}
	if rule != nil {
		var r calendar.RecurrenceRule
		if err := json.Unmarshal(rule, &r); err != nil {
			return ev, err
		}
		ev.Rule = &r
	}
	for _, raw := range exdates {
		dt, err := calendar.ParseDateTime(raw)
		if err != nil {
			return ev, err
		}
		ev.Exdates = append(ev.Exdates, dt)
	}
	if rid != nil {
		dt, err := calendar.ParseDateTime(*rid)
		if err != nil {
			return ev, err
		}
		ev.RecurrenceID = mo.Some(dt)
	}
	return ev, nil
}

// =============================================================================
// INSTANCES
// =============================================================================

func table(tt calendar.TimeType) string {
	if tt == calendar.TimeLocal {
		return "local_instances"
	}
	return "utc_instances"
}

func column(dt calendar.DateTime) any {
	if dt.IsLocal() {
		return dt.Time()
	}
	return dt.Unix
}

func (s *queries) InsertInstance(ctx context.Context, eventID int64, start, end calendar.DateTime) (int64, error) {
	defer metrics.ObserveDBLatency(ctx, "insert_instance", time.Now())

	if start.Type != end.Type {
		return 0, storageErr("insert_instance", errors.New("start and end use different representations"))
	}
	var id int64
	err := s.q.QueryRow(ctx,
		"INSERT INTO "+table(start.Type)+" (event_id, dtstart, dtend) VALUES ($1, $2, $3) RETURNING id",
		eventID, column(start), column(end)).Scan(&id)
	if err != nil {
		return 0, storageErr("insert_instance", err)
	}
	return id, nil
}

func (s *queries) DeleteInstances(ctx context.Context, eventID int64, f calendar.DeleteFilter) (int, error) {
	defer metrics.ObserveDBLatency(ctx, "delete_instances", time.Now())

	t := table(f.Partition)
	var (
		sql  string
		args []any
	)
	switch f.Kind {
	case calendar.FilterAll:
		total := 0
		for _, tt := range []calendar.TimeType{calendar.TimeUTC, calendar.TimeLocal} {
			n, err := s.exec(ctx, "DELETE FROM "+table(tt)+" WHERE event_id = $1", eventID)
			total += n
			if err != nil {
				return total, err
			}
		}
		return total, nil

	case calendar.FilterAfterNth:
		if f.N <= 0 {
			return 0, nil
		}
		sql = `DELETE FROM ` + t + ` WHERE event_id = $1 AND dtstart > (
			SELECT dtstart FROM ` + t + ` WHERE event_id = $1
			ORDER BY dtstart, id OFFSET $2 LIMIT 1)`
		args = []any{eventID, f.N - 1}

	case calendar.FilterAt:
		if f.Partition == calendar.TimeLocal {
			sql = "DELETE FROM local_instances WHERE event_id = $1 AND dtstart::date = $2::date"
			args = []any{eventID, f.At.Time().Format("2006-01-02")}
		} else {
			sql = "DELETE FROM utc_instances WHERE event_id = $1 AND dtstart = $2"
			args = []any{eventID, f.At.Unix}
		}

	case calendar.FilterWindowExcept:
		keep := f.Keep
		if keep == nil {
			keep = []int64{}
		}
		sql = "DELETE FROM " + t + " WHERE event_id = $1 AND dtstart >= $2 AND dtstart < $3 AND id <> ALL($4)"
		args = []any{eventID, column(f.From), column(f.To), keep}

	default:
		return 0, storageErr("delete_instances", fmt.Errorf("unknown filter kind %d", f.Kind))
	}

	return s.exec(ctx, sql, args...)
}

func (s *queries) exec(ctx context.Context, sql string, args ...any) (int, error) {
	tag, err := s.q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, storageErr("delete_instances", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *queries) CountFutureInstances(ctx context.Context, eventID int64, from calendar.DateTime) (int, error) {
	defer metrics.ObserveDBLatency(ctx, "count_future_instances", time.Now())

	var n int
	err := s.q.QueryRow(ctx,
		"SELECT COUNT(*) FROM "+table(from.Type)+" WHERE event_id = $1 AND dtstart >= $2",
		eventID, column(from)).Scan(&n)
	if err != nil {
		return 0, storageErr("count_future_instances", err)
	}
	return n, nil
}

func (s *queries) ListInstances(ctx context.Context, eventID int64, from, to calendar.DateTime) ([]calendar.Instance, error) {
	defer metrics.ObserveDBLatency(ctx, "list_instances", time.Now())

	rows, err := s.q.Query(ctx,
		"SELECT id, event_id, dtstart, dtend FROM "+table(from.Type)+
			" WHERE event_id = $1 AND dtstart >= $2 AND dtstart < $3 ORDER BY dtstart, id",
		eventID, column(from), column(to))
	if err != nil {
		return nil, storageErr("list_instances", err)
	}
	return scanInstances(rows, from.Type)
}

// InstancesInRange returns instances overlapping [from, to) across all events.
func (s *queries) InstancesInRange(ctx context.Context, from, to time.Time) ([]calendar.Instance, error) {
	defer metrics.ObserveDBLatency(ctx, "instances_in_range", time.Now())

	bounds := map[calendar.TimeType][2]calendar.DateTime{
		calendar.TimeUTC:   {calendar.FromTime(from), calendar.FromTime(to)},
		calendar.TimeLocal: {calendar.LocalFromTime(from), calendar.LocalFromTime(to)},
	}

	var result []calendar.Instance
	for _, tt := range []calendar.TimeType{calendar.TimeUTC, calendar.TimeLocal} {
		lo, hi := column(bounds[tt][0]), column(bounds[tt][1])
		rows, err := s.q.Query(ctx,
			"SELECT id, event_id, dtstart, dtend FROM "+table(tt)+
				" WHERE dtstart < $1 AND (dtend > $2 OR dtstart >= $2) ORDER BY dtstart, id",
			hi, lo)
		if err != nil {
			return nil, storageErr("instances_in_range", err)
		}
		list, err := scanInstances(rows, tt)
		if err != nil {
			return nil, err
		}
		result = append(result, list...)
	}
	calendar.SortInstances(result)
	return result, nil
}

func scanInstances(rows pgx.Rows, tt calendar.TimeType) ([]calendar.Instance, error) {
	defer rows.Close()

	var out []calendar.Instance
	for rows.Next() {
		var inst calendar.Instance
		if tt == calendar.TimeLocal {
			var start, end time.Time
			if err := rows.Scan(&inst.ID, &inst.EventID, &start, &end); err != nil {
				return nil, storageErr("scan_instance", err)
			}
			inst.Start, inst.End = calendar.LocalFromTime(start), calendar.LocalFromTime(end)
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

// storageErr wraps a driver error; disk_full also matches ErrNoSpace.
func storageErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeDiskFull {
		err = fmt.Errorf("%w: %v", calendar.ErrNoSpace, err)
	}
	return &calendar.StorageError{Op: op, Err: err}
}

var (
	_ calendar.TxStore = (*Store)(nil)
	_ calendar.Store   = (*queries)(nil)
)
