// Package store owns the single-file SQLite database shared by the API
// server, the workers, and the sweeper. It provides schema initialization,
// the version gate for atomic claim support, and the file registry; the
// queue's state machine lives in internal/queue on top of it.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Error definitions
var (
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrVersionTooOld    = errors.New("sqlite version too old")
)

// UPDATE ... RETURNING shipped in SQLite 3.35.0; the atomic dequeue claim
// depends on it.
var minSQLiteVersion = [3]int{3, 35, 0}

// TimeLayout is the storage format for timestamps: fixed-width UTC text, so
// SQL string comparison orders rows chronologically.
const TimeLayout = "2006-01-02 15:04:05.000000000"

// FormatTime renders t for storage
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime reads a stored timestamp
func ParseTime(s string) (time.Time, error) {
	return time.ParseInLocation(TimeLayout, s, time.UTC)
}

// Store wraps the shared SQLite handle
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the database at path, verifies the
// SQLite version, and initializes the schema. The connection pool is capped
// at a single connection: SQLite serializes writers anyway, and a lone
// connection sidesteps SQLITE_BUSY between in-process callers.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrStoreUnavailable, dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?%s", path, strings.Join([]string{
		"_pragma=foreign_keys(1)",
		"_pragma=journal_mode(WAL)",
		"_pragma=busy_timeout(5000)",
	}, "&"))

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := checkVersion(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrStoreUnavailable, err)
	}

	return s, nil
}

// checkVersion enforces the minimum SQLite version at startup. This is a
// hard precondition: on an older library the dequeue claim would silently
// stop being atomic.
func checkVersion(ctx context.Context, db *sql.DB) error {
	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	parts := strings.Split(version, ".")
	var v [3]int
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return fmt.Errorf("%w: unparseable version %q", ErrVersionTooOld, version)
		}
		v[i] = n
	}

	if v[0] != minSQLiteVersion[0] {
		if v[0] < minSQLiteVersion[0] {
			return versionError(version)
		}
		return nil
	}
	if v[1] != minSQLiteVersion[1] {
		if v[1] < minSQLiteVersion[1] {
			return versionError(version)
		}
		return nil
	}
	if v[2] < minSQLiteVersion[2] {
		return versionError(version)
	}
	return nil
}

func versionError(version string) error {
	return fmt.Errorf("%w: have %s, need >= %d.%d.%d for UPDATE ... RETURNING",
		ErrVersionTooOld, version,
		minSQLiteVersion[0], minSQLiteVersion[1], minSQLiteVersion[2])
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS files (
			id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			content_type TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_files_created ON files(created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS transcription_tasks (
			id TEXT PRIMARY KEY,
			file_id TEXT NOT NULL,
			status TEXT NOT NULL,

			priority INTEGER DEFAULT 0,
			retry_count INTEGER DEFAULT 0,
			max_retries INTEGER DEFAULT 3,

			worker_id TEXT,
			started_at TEXT,
			last_heartbeat TEXT,
			timeout_seconds INTEGER DEFAULT 3600,

			progress REAL DEFAULT 0.0,
			duration REAL,
			segments TEXT,
			error TEXT,

			created_at TEXT NOT NULL,
			completed_at TEXT,

			FOREIGN KEY (file_id) REFERENCES files(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue
			ON transcription_tasks(status, priority DESC, created_at ASC)`,
		`CREATE INDEX IF NOT EXISTS idx_worker ON transcription_tasks(worker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_heartbeat ON transcription_tasks(last_heartbeat)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DB exposes the underlying handle for the queue layer
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}
