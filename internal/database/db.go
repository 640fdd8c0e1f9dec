// Package database is the history store: an append-only observation
// ledger over SQLite plus the derived current-state projection that the
// scrape loop writes into and the analyser reads from.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so text comparison orders chronologically.
const timeLayout = "2006-01-02 15:04:05.000000000"

type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

type Options struct {
	BusyTimeout time.Duration
	MkdirAll    bool
}

func DefaultOptions() *Options {
	return &Options{
		BusyTimeout: 10 * time.Second,
	}
}

// Open opens (and if needed creates) the history database at path and
// applies the schema. One Store owns one connection pool for one process.
func Open(path string, opts *Options) (*Store, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	if opts.MkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		db:     db,
		logger: slog.Default().With("component", "database"),
	}, nil
}

// OpenMemory opens an in-memory store for tests. MaxOpenConns is pinned
// to 1 so every query hits the same in-memory database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:", nil)
	if err != nil {
		t.Fatalf("database.OpenMemory: %v", err)
	}
	s.db.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Transaction executes fn within a database transaction, rolling back on
// any error so a failed write never leaves partial state behind.
func (s *Store) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
