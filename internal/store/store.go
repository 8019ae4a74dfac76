// File path: internal/store/store.go
//
// Package store is the single writable shared resource of the service: durable
// storage of sessions, events, insights, cron jobs, and credentials over
// SQLite in WAL mode. Derived session fields (event count, last event,
// effective status) are computed at read time and never stored.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// ErrNotFound reports a lookup for an unknown row.
var ErrNotFound = errors.New("not found")

// Store wraps a pooled sqlx.DB connection to the SQLite database.
type Store struct {
	db *sqlx.DB
}

// Open constructs a Store backed by the SQLite database at the provided path.
// The schema is migrated on first use.
func Open(path string) (*Store, error) {
	cfg := LoadConfig()
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		cfg.Path = trimmed
	}
	return OpenWithConfig(cfg)
}

// OpenWithConfig constructs a Store using the provided configuration.
func OpenWithConfig(cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path required")
	}
	abs, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve sqlite path: %w", err)
	}
	busy := int(cfg.BusyTimeout / time.Millisecond)
	if busy <= 0 {
		busy = 5000
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)", abs, busy)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.BusyTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the underlying database resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying sqlx.DB for read-only tooling (the analyzer's SQL
// tool queries through it).
func (s *Store) DB() *sqlx.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func (s *Store) migrate(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialised")
	}
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute schema statement %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration: %w", err)
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
                id TEXT PRIMARY KEY,
                source TEXT NOT NULL,
                start_time INTEGER NOT NULL,
                last_event_time INTEGER NOT NULL,
                status TEXT NOT NULL DEFAULT 'active',
                metadata TEXT NOT NULL DEFAULT '{}',
                user_id TEXT
        );`,
	`CREATE TABLE IF NOT EXISTS events (
                seq INTEGER PRIMARY KEY AUTOINCREMENT,
                id TEXT NOT NULL,
                session_id TEXT NOT NULL,
                timestamp INTEGER NOT NULL,
                source TEXT NOT NULL,
                category TEXT NOT NULL,
                type TEXT NOT NULL,
                role TEXT,
                text TEXT,
                tool_name TEXT,
                tool_input TEXT,
                tool_output TEXT,
                error TEXT,
                meta TEXT,
                FOREIGN KEY(session_id) REFERENCES sessions(id) ON DELETE CASCADE
        );`,
	`CREATE INDEX IF NOT EXISTS idx_events_session_timestamp ON events(session_id, timestamp);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_last_event ON sessions(last_event_time);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);`,
	`CREATE TABLE IF NOT EXISTS insights (
                id TEXT PRIMARY KEY,
                user_id TEXT NOT NULL,
                repo TEXT,
                content TEXT NOT NULL,
                categories TEXT NOT NULL DEFAULT '[]',
                follow_up_actions TEXT NOT NULL DEFAULT '[]',
                sessions_analyzed INTEGER NOT NULL DEFAULT 0,
                events_analyzed INTEGER NOT NULL DEFAULT 0,
                phase TEXT,
                round INTEGER NOT NULL DEFAULT 0,
                answers_received INTEGER NOT NULL DEFAULT 0,
                tokens_used INTEGER NOT NULL DEFAULT 0,
                model TEXT,
                created_at INTEGER NOT NULL,
                updated_at INTEGER NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS insight_questions (
                id TEXT PRIMARY KEY,
                insight_id TEXT NOT NULL,
                text TEXT NOT NULL,
                answer TEXT,
                answered INTEGER NOT NULL DEFAULT 0,
                created_at INTEGER NOT NULL,
                FOREIGN KEY(insight_id) REFERENCES insights(id) ON DELETE CASCADE
        );`,
	`CREATE TABLE IF NOT EXISTS insight_analysis_state (
                user_id TEXT PRIMARY KEY,
                last_analyzed_at INTEGER NOT NULL DEFAULT 0,
                last_event_timestamp INTEGER NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS cron_jobs (
                id TEXT PRIMARY KEY,
                user_id TEXT NOT NULL,
                name TEXT NOT NULL,
                prompt TEXT NOT NULL,
                schedule_text TEXT,
                cron_expression TEXT NOT NULL,
                timezone TEXT NOT NULL DEFAULT 'UTC',
                enabled INTEGER NOT NULL DEFAULT 1,
                notify_slack INTEGER NOT NULL DEFAULT 0,
                last_run_at INTEGER NOT NULL DEFAULT 0,
                last_run_session_id TEXT,
                last_run_status TEXT,
                next_run_at INTEGER NOT NULL DEFAULT 0,
                total_runs INTEGER NOT NULL DEFAULT 0
        );`,
	`CREATE TABLE IF NOT EXISTS users (
                id TEXT PRIMARY KEY,
                email TEXT NOT NULL UNIQUE,
                password_hash TEXT NOT NULL,
                created_at INTEGER NOT NULL
        );`,
	`CREATE TABLE IF NOT EXISTS api_keys (
                id TEXT PRIMARY KEY,
                user_id TEXT NOT NULL,
                name TEXT,
                key_hash TEXT NOT NULL UNIQUE,
                created_at INTEGER NOT NULL,
                FOREIGN KEY(user_id) REFERENCES users(id) ON DELETE CASCADE
        );`,
}
