// Package sqlite provides a durable snapshot.Local backed by a SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	_ "github.com/mattn/go-sqlite3"

	"github.com/xenking/venkat-express/internal/domain/snapshot"
)

//go:embed schema.sql
var schemaSQL string

var (
	_ snapshot.Local  = (*Local)(nil)
	_ snapshot.Pinger = (*Local)(nil)
)

// Local is a key/value store in a single SQLite table.
//
// The connection runs in WAL mode with a single writer connection, so
// concurrent sessions sharing the file never see SQLITE_BUSY.
type Local struct {
	db *sql.DB
}

// Open creates or opens the database at path. Use ":memory:" in tests.
func Open(path string) (*Local, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("executing %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Local{db: db}, nil
}

// Close closes the database.
func (l *Local) Close() error {
	return l.db.Close()
}

func (l *Local) Read(key string) (string, bool, error) {
	var value string
	err := l.db.QueryRow(`SELECT value FROM local_values WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading %q: %w", key, err)
	}
	return value, true, nil
}

func (l *Local) Write(key, value string) error {
	_, err := l.db.Exec(`
INSERT INTO local_values (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("writing %q: %w", key, err)
	}
	return nil
}

func (l *Local) Remove(key string) error {
	if _, err := l.db.Exec(`DELETE FROM local_values WHERE key = ?`, key); err != nil {
		return fmt.Errorf("removing %q: %w", key, err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (l *Local) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}
