// Package sqlite implements the migration backend for SQLite databases using
// the pure-Go modernc.org/sqlite driver.
//
// SQLite has no advisory locks. Acquire serialises runners sharing one
// Backend inside a process; it does not exclude other processes. Two
// processes migrating the same file concurrently can both see a migration as
// pending, and the loser then fails in Execute or with ErrConflict when
// recording, which the runner reports as a ledger inconsistency. Run one
// migrator per database file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/example/grant-migrate/internal/migration"
)

// Backend applies migrations to a SQLite database over a single connection.
type Backend struct {
	db  *sql.DB
	cfg Config
	now func() time.Time

	// Holds a token while a runner owns the backend. In-process only.
	lock chan struct{}
}

var _ migration.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the time source used for ledger timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Backend, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", migration.ErrConfig, err)
	}

	if err := createDatabaseDir(cfg.Path); err != nil {
		return nil, fmt.Errorf("%w: %w", migration.ErrConnection, err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, classify(err))
	}
	// One connection: pragmas and in-memory databases are per connection.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	b := &Backend{db: db, cfg: cfg, now: time.Now, lock: make(chan struct{}, 1)}
	for _, opt := range opts {
		opt(b)
	}

	if err := b.configure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", cfg.Path, classify(err))
	}
	return b, nil
}

// OpenURL connects to the database named by a sqlite: or file: connection string.
func OpenURL(ctx context.Context, dsn string, opts ...Option) (*Backend, error) {
	path, err := ParseURL(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", migration.ErrConfig, err)
	}
	cfg := DefaultConfig(path)
	if path == ":memory:" {
		cfg = InMemoryConfig()
	}
	return Open(ctx, cfg, opts...)
}

// DB exposes the underlying handle, for inspection in tests.
func (b *Backend) DB() *sql.DB {
	return b.db
}

// Close closes the connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

// configure applies PRAGMA settings to the connection
func (b *Backend) configure(ctx context.Context) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", b.cfg.BusyTimeout.Milliseconds()),
	}
	if b.cfg.JournalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = "+strings.ToUpper(b.cfg.JournalMode))
	}
	if b.cfg.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+strings.ToUpper(b.cfg.Synchronous))
	}
	if b.cfg.EnableForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}

	for _, pragma := range pragmas {
		if _, err := b.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("sqlite: %s: %w", pragma, classify(err))
		}
	}
	return nil
}

// Acquire takes the in-process migration lock, waiting until it is free or
// ctx is done.
func (b *Backend) Acquire(ctx context.Context, _ string) (func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire sqlite lock: %w", err)
	}
	select {
	case b.lock <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire sqlite lock: %w", ctx.Err())
	}
	var once sync.Once
	return func() error {
		once.Do(func() { <-b.lock })
		return nil
	}, nil
}

// EnsureLedger creates the schema_migrations table if it doesn't exist
func (b *Backend) EnsureLedger(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		)`

	if _, err := b.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations table: %w", classify(err))
	}
	return nil
}

// IsApplied checks if a migration has been recorded
func (b *Backend) IsApplied(ctx context.Context, name string) (bool, error) {
	const querySQL = `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = ?)`

	var exists int
	if err := b.db.QueryRowContext(ctx, querySQL, name).Scan(&exists); err != nil {
		return false, fmt.Errorf("sqlite: check %s applied: %w", name, classify(err))
	}
	return exists == 1, nil
}

// RecordApplied records a successful migration in the ledger
func (b *Backend) RecordApplied(ctx context.Context, name string) error {
	const insertSQL = `INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)`

	appliedAt := b.now().UTC().Format(time.RFC3339Nano)
	if _, err := b.db.ExecContext(ctx, insertSQL, name, appliedAt); err != nil {
		return fmt.Errorf("sqlite: record %s: %w", name, classify(err))
	}
	return nil
}

// Applied returns all ledger entries ordered by filename
func (b *Backend) Applied(ctx context.Context) ([]migration.LedgerEntry, error) {
	const querySQL = `SELECT filename, applied_at FROM schema_migrations ORDER BY filename ASC`

	rows, err := b.db.QueryContext(ctx, querySQL)
	if err != nil {
		err = classify(err)
		if errors.Is(err, migration.ErrLedgerMissing) {
			return []migration.LedgerEntry{}, nil
		}
		return nil, fmt.Errorf("sqlite: list applied migrations: %w", err)
	}
	defer rows.Close()

	entries := []migration.LedgerEntry{}
	for rows.Next() {
		var filename, appliedAtStr string
		if err := rows.Scan(&filename, &appliedAtStr); err != nil {
			return nil, fmt.Errorf("sqlite: scan ledger entry: %w", classify(err))
		}
		appliedAt, err := parseTimestamp(appliedAtStr)
		if err != nil {
			return nil, fmt.Errorf("sqlite: ledger entry %s: %w", filename, err)
		}
		entries = append(entries, migration.LedgerEntry{Filename: filename, AppliedAt: appliedAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate ledger: %w", classify(err))
	}
	return entries, nil
}

// Execute runs the statements of a migration within one transaction
func (b *Backend) Execute(ctx context.Context, m migration.Migration, content string) (err error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin transaction for %s: %w", m.Name, classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, stmt := range migration.SplitStatements(content) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return &migration.StatementError{Index: i + 1, Statement: stmt, Err: classify(execErr)}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit %s: %w", m.Name, classify(err))
	}
	return nil
}

func createDatabaseDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("sqlite: create database directory %s: %w", dir, err)
	}
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000Z", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised applied_at %q", value)
}
