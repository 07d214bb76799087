package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/studypal/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements CacheStore, OutboxStore, PendingStore and
// RecordRepository on one SQLite database.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.BusyRetry
}

var (
	_ CacheStore       = (*SQLiteStore)(nil)
	_ OutboxStore      = (*SQLiteStore)(nil)
	_ PendingStore     = (*SQLiteStore)(nil)
	_ RecordRepository = (*SQLiteStore)(nil)
)

// NewSQLite opens (creating if needed) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db, retry: shared.DefaultBusyRetry}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS record_cache (
		user_id TEXT PRIMARY KEY,
		record_json TEXT NOT NULL,
		record_updated_at INTEGER NOT NULL,
		cached_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS outbox (
		user_id TEXT PRIMARY KEY,
		entry_id TEXT NOT NULL,
		record_json TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_outbox_enqueued ON outbox(enqueued_at);

	CREATE TABLE IF NOT EXISTS pending_notifications (
		owner TEXT PRIMARY KEY,
		ids_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS records (
		user_id TEXT PRIMARY KEY,
		record_json TEXT NOT NULL,
		record_updated_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// exec runs a write statement with SQLITE_BUSY retries.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var result sql.Result
	err := shared.RetryOnBusy(ctx, s.retry, op, func() error {
		var execErr error
		result, execErr = s.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return result, err
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
