// Package store provides SQLite-backed persistence for tasks and tags.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	_ "modernc.org/sqlite"
)

// Sentinel errors for store operations.
var (
	ErrNotFound  = errors.New("not found")
	ErrTagExists = errors.New("tag with this name already exists")
)

// timeLayout is fixed-width UTC so that text comparison in SQL orders
// instants chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store provides access to the taskcal SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens (creating if needed) the database at dbPath and runs
// migrations. ":memory:" is accepted for throwaway stores.
func New(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
		dsn = dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'todo',
		priority INTEGER NOT NULL DEFAULT 3,
		tags TEXT NOT NULL DEFAULT '[]',
		start_at TEXT,
		due_at TEXT,
		all_day INTEGER NOT NULL DEFAULT 0,
		estimate_minutes INTEGER,
		actual_minutes INTEGER NOT NULL DEFAULT 0,
		recurrence TEXT,
		recurrence_rule TEXT NOT NULL DEFAULT 'NONE',
		checklist TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tags (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (user_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_user_status_due ON tasks(user_id, status, due_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_due ON tasks(user_id, due_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_start ON tasks(user_id, start_at);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_rule ON tasks(user_id, recurrence_rule);
	`

	_, err := s.db.Exec(schema)
	return err
}

func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

func optionalTime(o mo.Option[time.Time]) any {
	if t, ok := o.Get(); ok {
		return formatTime(t)
	}
	return nil
}

func scanOptionalTime(ns sql.NullString) (mo.Option[time.Time], error) {
	if !ns.Valid {
		return mo.None[time.Time](), nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return mo.None[time.Time](), err
	}
	return mo.Some(t), nil
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
