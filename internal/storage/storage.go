// Package storage is the durable layer under the session store, scheduler,
// reminder queue, webhook dispatcher, todo surface, and credential store.
//
// Everything lives in one SQLite database opened through the pure-Go
// modernc driver, so the binary carries no cgo dependency.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// ErrNotFound is returned for lookups on rows that do not exist.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite handle.
type DB struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the storage logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Open opens (creating if needed) the database at path and runs migrations.
func Open(path string, opts ...Option) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Serialize writers; SQLite allows one at a time anyway.
	handle.SetMaxOpenConns(1)

	d := &DB{
		db:     handle,
		logger: slog.Default().With("component", "storage"),
	}
	for _, opt := range opts {
		opt(d)
	}
	if err := d.migrate(context.Background()); err != nil {
		handle.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			current_agent TEXT NOT NULL,
			state TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			last_active TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			UNIQUE(session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, seq)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			cron_expression TEXT NOT NULL,
			prompt TEXT NOT NULL,
			target_agent TEXT NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			in_flight INTEGER NOT NULL DEFAULT 0,
			last_run TIMESTAMP,
			next_run TIMESTAMP,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS reminders (
			id TEXT PRIMARY KEY,
			fire_at TIMESTAMP NOT NULL,
			prompt TEXT NOT NULL,
			target_agent TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS webhook_definitions (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			target_agent TEXT NOT NULL,
			prompt_template TEXT NOT NULL,
			secret TEXT,
			async INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			name TEXT PRIMARY KEY,
			encrypted_value TEXT NOT NULL,
			salt TEXT NOT NULL,
			type TEXT,
			description TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS todo_projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			agent TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent, created_at)`,
		`CREATE TABLE IF NOT EXISTS todo_tasks (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			title TEXT NOT NULL,
			description TEXT,
			done INTEGER NOT NULL DEFAULT 0,
			due_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	// Clear stale claims left by a previous process crash.
	if _, err := d.db.ExecContext(ctx, `UPDATE scheduled_tasks SET in_flight = 0`); err != nil {
		return fmt.Errorf("migrate: reset in-flight: %w", err)
	}
	return nil
}
