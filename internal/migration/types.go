package migration

import (
	"context"
	"strconv"
	"time"
)

// LedgerTable is the name of the table that records applied migrations.
const LedgerTable = "schema_migrations"

// DefaultLockKey is the advisory lock key used when none is configured.
const DefaultLockKey = LedgerTable

// Migration is a single migration file discovered in a Source.
type Migration struct {
	Name     string // Filename; ordering key and ledger key
	Path     string // Location of the file within its source
	Checksum string // BLAKE2b-256 of the content, set once the content is loaded
}

// LedgerEntry is a row of the schema_migrations table.
type LedgerEntry struct {
	Filename  string
	AppliedAt time.Time
}

// Source enumerates migration files and reads their content.
type Source interface {
	// Scan returns the available migrations ordered by name. A missing or
	// empty source yields an empty slice.
	Scan(ctx context.Context) ([]Migration, error)

	// Load returns the SQL content of a migration.
	Load(ctx context.Context, m Migration) (string, error)
}

// Ledger bootstraps and queries the schema_migrations table.
type Ledger interface {
	// EnsureLedger creates the ledger table if it does not exist.
	EnsureLedger(ctx context.Context) error

	// IsApplied reports whether a ledger entry exists for name.
	IsApplied(ctx context.Context, name string) (bool, error)

	// RecordApplied inserts a ledger entry stamped with the current time.
	// Recording the same name twice fails with ErrConflict.
	RecordApplied(ctx context.Context, name string) error

	// Applied returns every ledger entry ordered by filename. A missing
	// ledger table yields an empty slice.
	Applied(ctx context.Context) ([]LedgerEntry, error)
}

// Executor applies the statements of one migration file.
type Executor interface {
	// Execute runs sql as a single transaction. On error nothing from the
	// file remains applied.
	Execute(ctx context.Context, m Migration, sql string) error
}

// Locker provides mutual exclusion between runners sharing a database.
type Locker interface {
	// Acquire blocks until the lock for key is held. The returned release
	// function must be called exactly once.
	Acquire(ctx context.Context, key string) (release func() error, err error)
}

// Backend is a database the runner can migrate.
type Backend interface {
	Ledger
	Executor
	Locker
	Close() error
}

// Report describes the outcome of a successful run.
type Report struct {
	RunID    string
	Applied  []string      // Names applied by this run, in order
	Skipped  []string      // Names already present in the ledger
	Duration time.Duration // Wall time of the run
}

// UpToDate reports whether the run found nothing to apply.
func (r Report) UpToDate() bool {
	return len(r.Applied) == 0
}

// Summary renders the outcome for operators.
func (r Report) Summary() string {
	switch n := len(r.Applied); n {
	case 0:
		return "up to date"
	case 1:
		return "1 migration applied"
	default:
		return strconv.Itoa(n) + " migrations applied"
	}
}

// Status is a read-only view of the source compared with the ledger.
type Status struct {
	Applied  []AppliedMigration
	Pending  []Migration
	Orphaned []LedgerEntry // Ledger entries with no matching file in the source
}

// AppliedMigration pairs a ledger entry with its file, when still present.
type AppliedMigration struct {
	LedgerEntry
	Migration *Migration
}

// UpToDate reports whether no migrations are pending.
func (s Status) UpToDate() bool {
	return len(s.Pending) == 0
}

// Current returns the last applied filename, or "" for an empty ledger.
func (s Status) Current() string {
	if len(s.Applied) == 0 {
		return ""
	}
	return s.Applied[len(s.Applied)-1].Filename
}
