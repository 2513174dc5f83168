// Package postgres implements the migration backend for PostgreSQL on pgx.
//
// The backend holds a single connection for the whole run. The advisory lock
// is session-scoped, so it lives exactly as long as that connection, and each
// migration file is sent as one simple-protocol batch inside a transaction so
// that PostgreSQL's transactional DDL keeps the file all-or-nothing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/grant-migrate/internal/migration"
)

// Backend applies migrations to a PostgreSQL database.
type Backend struct {
	conn *pgx.Conn
}

var _ migration.Backend = (*Backend)(nil)

// Open connects to the database at dsn, which may be a URL or a libpq
// keyword/value string.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse connection string: %w", migration.ErrConfig, err)
	}
	// Migrations are arbitrary DDL; cached statements would go stale.
	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect to %s:%d: %w", cfg.Host, cfg.Port, classify(err))
	}
	return &Backend{conn: conn}, nil
}

// IsURL reports whether dsn names a PostgreSQL database.
func IsURL(dsn string) bool {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return true
	}
	// libpq keyword/value form, e.g. "host=localhost dbname=grants"
	return !strings.Contains(dsn, "://") && strings.Contains(dsn, "=")
}

// Conn exposes the underlying connection, for inspection in tests.
func (b *Backend) Conn() *pgx.Conn {
	return b.conn
}

// Close closes the connection, releasing any advisory lock still held.
func (b *Backend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.conn.Close(ctx)
}

// Acquire blocks until the session-scoped advisory lock for key is held.
func (b *Backend) Acquire(ctx context.Context, key string) (func() error, error) {
	lockID := LockID(key)
	if _, err := b.conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, lockID); err != nil {
		return nil, fmt.Errorf("postgres: pg_advisory_lock(%d): %w", lockID, classify(err))
	}

	released := false
	return func() error {
		if released {
			return nil
		}
		released = true
		if b.conn.IsClosed() {
			return nil
		}
		// The run context may already be cancelled.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var unlocked bool
		if err := b.conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, lockID).Scan(&unlocked); err != nil {
			return fmt.Errorf("postgres: pg_advisory_unlock(%d): %w", lockID, classify(err))
		}
		if !unlocked {
			return fmt.Errorf("postgres: advisory lock %d was not held", lockID)
		}
		return nil
	}, nil
}

// LockID maps a lock key to the int64 space of pg_advisory_lock using FNV-1a.
func LockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// EnsureLedger creates the schema_migrations table if it does not exist.
func (b *Backend) EnsureLedger(ctx context.Context) error {
	_, err := b.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)`)
	if err != nil {
		return fmt.Errorf("postgres: create schema_migrations table: %w", classify(err))
	}
	return nil
}

// IsApplied reports whether name is recorded in the ledger.
func (b *Backend) IsApplied(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := b.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE filename = $1)`, name).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check %s applied: %w", name, classify(err))
	}
	return exists, nil
}

// RecordApplied inserts a ledger entry stamped by the server clock.
func (b *Backend) RecordApplied(ctx context.Context, name string) error {
	if _, err := b.conn.Exec(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("postgres: record %s: %w", name, classify(err))
	}
	return nil
}

// Applied returns all ledger entries ordered by filename.
func (b *Backend) Applied(ctx context.Context) ([]migration.LedgerEntry, error) {
	rows, err := b.conn.Query(ctx, `SELECT filename, applied_at FROM schema_migrations ORDER BY filename`)
	if err != nil {
		return b.appliedError(err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (migration.LedgerEntry, error) {
		var entry migration.LedgerEntry
		err := row.Scan(&entry.Filename, &entry.AppliedAt)
		return entry, err
	})
	if err != nil {
		return b.appliedError(err)
	}
	if entries == nil {
		entries = []migration.LedgerEntry{}
	}
	return entries, nil
}

func (b *Backend) appliedError(err error) ([]migration.LedgerEntry, error) {
	err = classify(err)
	if errors.Is(err, migration.ErrLedgerMissing) {
		return []migration.LedgerEntry{}, nil
	}
	return nil, fmt.Errorf("postgres: list applied migrations: %w", err)
}

// Execute runs the whole file inside one transaction.
func (b *Backend) Execute(ctx context.Context, m migration.Migration, content string) error {
	err := pgx.BeginFunc(ctx, b.conn, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, content)
		return err
	})
	if err == nil {
		return nil
	}

	stmtErr := &migration.StatementError{Err: classify(err)}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Position > 0 {
		stmtErr.Line = migration.LineOf(content, int(pgErr.Position))
	}
	return stmtErr
}
