// Package store provides SQLite-backed persistence for wise-magpie.
//
// The store exclusively owns all persistent entities: tasks, the quota
// window, usage samples, usage records and daemon metadata. Other
// components read snapshots and mutate through its API.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store provides access to the wise-magpie SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a new Store and runs migrations.
func New(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Open with WAL mode for better concurrency between the daemon and
	// the CLI commands sharing the database.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
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

// migrate runs idempotent schema migrations.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT 'manual',
		source_ref TEXT NOT NULL DEFAULT '',
		requested_model TEXT NOT NULL DEFAULT '',
		priority REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		work_dir TEXT NOT NULL DEFAULT '',
		branch_name TEXT NOT NULL DEFAULT '',
		result_summary TEXT NOT NULL DEFAULT '',
		actual_cost_usd REAL NOT NULL DEFAULT 0,
		claimed_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_source_ref
		ON tasks(source, source_ref) WHERE source_ref != '';
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);

	CREATE TABLE IF NOT EXISTS quota_window (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		started_at DATETIME NOT NULL,
		last_correction_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS quota_counts (
		model TEXT PRIMARY KEY,
		consumed INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS usage_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		active INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_usage_samples_ts ON usage_samples(timestamp);

	CREATE TABLE IF NOT EXISTS usage_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		task_id INTEGER,
		autonomous INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_usage_log_ts ON usage_log(timestamp);

	CREATE TABLE IF NOT EXISTS daemon_meta (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		pid INTEGER NOT NULL,
		instance_id TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		last_tick_at DATETIME NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}
