// Package sqlite stores camrelay events in a local SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/camrelay/internal/history"
)

type Sink struct {
	*history.SQLTable
}

// New opens "sqlite:///path/file.db", "sqlite://:memory:" or a bare path.
// The parent directory of a file database is created.
func New(dsn string) (*Sink, error) {
	path := strings.TrimPrefix(strings.TrimSpace(dsn), "sqlite://")
	if path == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection: a second one would see a different :memory: database
	db.SetMaxOpenConns(1)

	t, err := history.OpenSQLTable(context.Background(), db, history.SQLite)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Sink{SQLTable: t}, nil
}
