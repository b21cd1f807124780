// Package clickhouse ships camrelay events to ClickHouse over the native protocol.
package clickhouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/camrelay/internal/history"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)

const dialTimeout = 5 * time.Second

type Sink struct {
	conn  driver.Conn
	table string
}

// New connects to addr as the default user and creates table when missing.
func New(addr, table string) (*Sink, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:        []string{addr},
		Auth:        clickhouse.Auth{Database: "default", Username: "default"},
		DialTimeout: dialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", addr, err)
	}
	s := &Sink{conn: conn, table: table}
	// event and process take a handful of values each
	err = conn.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			occurred_at DateTime64(3, 'UTC'),
			event LowCardinality(String),
			process LowCardinality(String),
			pid Int64,
			strategy LowCardinality(String),
			status LowCardinality(String),
			exit_error String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (process, occurred_at)`, table))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return s, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	rec := e.Record
	err := s.conn.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (occurred_at, event, process, pid, strategy, status, exit_error) VALUES (?, ?, ?, ?, ?, ?, ?)`, s.table),
		e.OccurredAt.UTC(), string(e.Type), rec.Name, int64(rec.PID), rec.Strategy, rec.Status, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("clickhouse insert %s: %w", e.Type, err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (s *Sink) Recent(ctx context.Context, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = history.DefaultRecentLimit
	}
	rows, err := s.conn.Query(ctx, fmt.Sprintf(
		`SELECT occurred_at, event, process, pid, strategy, status, exit_error FROM %s ORDER BY occurred_at DESC LIMIT %d`,
		s.table, limit))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []history.Event
	for rows.Next() {
		var (
			e   history.Event
			typ string
			pid int64
		)
		if err := rows.Scan(&e.OccurredAt, &typ, &e.Record.Name, &pid, &e.Record.Strategy, &e.Record.Status, &e.Record.Error); err != nil {
			return nil, err
		}
		e.Type = history.EventType(typ)
		e.Record.PID = int(pid)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
