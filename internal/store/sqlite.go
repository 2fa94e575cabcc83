package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultRevisionLimit bounds the sync history kept per mapped object.
const DefaultRevisionLimit = 10

// SQLiteStore is the SQLite-backed sync state database: mapped objects,
// the push queue, and per-mapping runtime state share one file so claim
// and link updates stay transactional.
type SQLiteStore struct {
	db            *sql.DB
	path          string
	revisionLimit int
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithRevisionLimit overrides the per-object revision history bound.
func WithRevisionLimit(n int) Option {
	return func(s *SQLiteStore) {
		if n > 0 {
			s.revisionLimit = n
		}
	}
}

// NewSQLiteStore opens the sync database at dbPath, applying pragmas and
// running migrations.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	// Ensure parent directory exists
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := enablePragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable pragmas: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	s := &SQLiteStore{db: db, path: dbPath, revisionLimit: DefaultRevisionLimit}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// enablePragmas sets SQLite pragmas for performance and safety.
func enablePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for collaborators sharing the sync
// database file, such as the local entity store.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// timeText renders a time for the mapped-object tables; zero times
// become the empty string.
func timeText(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTimeText is the inverse of timeText.
func parseTimeText(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// timeNano renders a time as unix nanoseconds for the queue and state
// tables; zero times become 0.
func timeNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// parseTimeNano is the inverse of timeNano.
func parseTimeNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
