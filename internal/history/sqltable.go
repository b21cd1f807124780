package history

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"
)

// EventsTable is the relational table SQL sinks append to.
const EventsTable = "camrelay_events"

// DefaultRecentLimit is used by Recent when limit <= 0.
const DefaultRecentLimit = 50

// Dialect is what differs between the relational backends.
type Dialect struct {
	Name     string
	ID       string // primary key column definition
	TimeType string
	Bind     func(n int) string
}

var (
	SQLite = Dialect{
		Name:     "sqlite",
		ID:       "id INTEGER PRIMARY KEY AUTOINCREMENT",
		TimeType: "TIMESTAMP",
		Bind:     func(int) string { return "?" },
	}
	Postgres = Dialect{
		Name:     "postgres",
		ID:       "id BIGSERIAL PRIMARY KEY",
		TimeType: "TIMESTAMPTZ",
		Bind:     func(n int) string { return "$" + strconv.Itoa(n) },
	}
)

// Reader lists stored events, newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// SQLTable appends events to EventsTable and reads them back.
type SQLTable struct {
	db      *sql.DB
	dialect Dialect
	insert  string
	recent  string
}

// OpenSQLTable creates EventsTable and its index on db when missing. The
// table owns db from then on.
func OpenSQLTable(ctx context.Context, db *sql.DB, d Dialect) (*SQLTable, error) {
	t := &SQLTable{db: db, dialect: d}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s(
			%s,
			occurred_at %s NOT NULL,
			event TEXT NOT NULL,
			process TEXT NOT NULL,
			pid INTEGER NOT NULL,
			strategy TEXT NULL,
			status TEXT NOT NULL,
			exit_error TEXT NULL
		)`, EventsTable, d.ID, d.TimeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_occurred_at ON %[1]s(occurred_at)`, EventsTable),
	}
	for _, s := range stmts {
		if _, err := db.ExecContext(ctx, s); err != nil {
			return nil, fmt.Errorf("%s schema: %w", d.Name, err)
		}
	}
	b := d.Bind
	t.insert = fmt.Sprintf(`INSERT INTO %s(occurred_at, event, process, pid, strategy, status, exit_error)
		VALUES(%s, %s, %s, %s, %s, %s, %s)`, EventsTable, b(1), b(2), b(3), b(4), b(5), b(6), b(7))
	t.recent = fmt.Sprintf(`SELECT occurred_at, event, process, pid, strategy, status, exit_error
		FROM %s ORDER BY occurred_at DESC, id DESC LIMIT %s`, EventsTable, b(1))
	return t, nil
}

func (t *SQLTable) Send(ctx context.Context, e Event) error {
	at := e.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	rec := e.Record
	_, err := t.db.ExecContext(ctx, t.insert,
		at.UTC(), string(e.Type), rec.Name, rec.PID, nullable(rec.Strategy), rec.Status, nullable(rec.Error))
	return err
}

// Recent returns up to limit events, newest first.
func (t *SQLTable) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := t.db.QueryContext(ctx, t.recent, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e                 Event
			typ               string
			strategy, exitErr sql.NullString
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Name, &e.Record.PID, &strategy, &e.Record.Status, &exitErr); err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.OccurredAt = e.OccurredAt.UTC()
		e.Record.Strategy = strategy.String
		e.Record.Error = exitErr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *SQLTable) Close() error {
	if t.db != nil {
		return t.db.Close()
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
