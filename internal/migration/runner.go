package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/grant-migrate/internal/logging"
)

// Runner applies pending migrations from a Source to a Backend.
type Runner struct {
	backend Backend
	source  Source
	logger  *slog.Logger
	lockKey string
	runID   func() string
	now     func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the base logger. A logger carried by the run context takes
// precedence.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithLockKey sets the advisory lock key shared by competing runners.
func WithLockKey(key string) Option {
	return func(r *Runner) {
		if key != "" {
			r.lockKey = key
		}
	}
}

// WithRunID sets the generator for run identifiers.
func WithRunID(fn func() string) Option {
	return func(r *Runner) {
		if fn != nil {
			r.runID = fn
		}
	}
}

// WithClock sets the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner constructs a Runner. Both backend and source are required.
func NewRunner(backend Backend, source Source, opts ...Option) (*Runner, error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: no database backend configured", ErrConfig)
	}
	if source == nil {
		return nil, fmt.Errorf("%w: no migration source configured", ErrConfig)
	}

	r := &Runner{
		backend: backend,
		source:  source,
		logger:  slog.Default(),
		lockKey: DefaultLockKey,
		runID:   uuid.NewString,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run applies every pending migration in filename order. It stops at the
// first failure; migrations applied before the failure stay recorded.
func (r *Runner) Run(ctx context.Context) (report Report, err error) {
	start := r.now()
	report = Report{RunID: r.runID()}
	logger := r.runLogger(ctx, "run", "run_id", report.RunID)

	release, err := r.backend.Acquire(ctx, r.lockKey)
	if err != nil {
		logger.Error("failed to acquire migration lock", "lock_key", r.lockKey, "error", err, "error_kind", ErrorKind(err))
		return report, fmt.Errorf("acquire migration lock %q: %w", r.lockKey, err)
	}
	logger.Debug("migration lock acquired", "lock_key", r.lockKey)
	defer func() {
		if rerr := release(); rerr != nil {
			logger.Warn("failed to release migration lock", "lock_key", r.lockKey, "error", rerr)
		}
	}()

	if err := r.backend.EnsureLedger(ctx); err != nil {
		logger.Error("failed to initialize ledger", "table", LedgerTable, "error", err, "error_kind", ErrorKind(err))
		return report, fmt.Errorf("ensure %s table: %w", LedgerTable, err)
	}

	migrations, err := r.scan(ctx)
	if err != nil {
		logger.Error("failed to scan migration source", "error", err)
		return report, err
	}
	logger.Info("scanned migration source", "count", len(migrations))

	for _, m := range migrations {
		if err := ctx.Err(); err != nil {
			// Nothing of m has run yet, so no file is named.
			return report, r.fail(logger, newRunError(ErrInterrupted, "", report.Applied, err))
		}

		applied, err := r.backend.IsApplied(ctx, m.Name)
		if err != nil {
			return report, r.fail(logger, newRunError(kindOf(ctx, err), m.Name, report.Applied,
				fmt.Errorf("check ledger: %w", err)))
		}
		if applied {
			logger.Info("migration already applied", "migration", m.Name)
			report.Skipped = append(report.Skipped, m.Name)
			continue
		}

		if err := r.apply(ctx, logger, m); err != nil {
			var runErr *RunError
			if errors.As(err, &runErr) {
				runErr.Applied = append([]string(nil), report.Applied...)
			}
			return report, r.fail(logger, err)
		}
		report.Applied = append(report.Applied, m.Name)
	}

	report.Duration = r.now().Sub(start)
	if report.UpToDate() {
		logger.Info("up to date", "skipped", len(report.Skipped))
	} else {
		logger.Info("migrations applied", "count", len(report.Applied), "duration", report.Duration)
	}
	return report, nil
}

// scan returns the source's migrations in filename order, whatever order the
// source enumerates them in. Duplicate names are rejected.
func (r *Runner) scan(ctx context.Context) ([]Migration, error) {
	scanned, err := r.source.Scan(ctx)
	if err != nil {
		return nil, err
	}
	migrations := append([]Migration(nil), scanned...)
	SortMigrations(migrations)
	for i := 1; i < len(migrations); i++ {
		if migrations[i].Name == migrations[i-1].Name {
			return nil, &SourceError{
				Path:      migrations[i].Name,
				Operation: "scan",
				Err:       fmt.Errorf("duplicate migration %s", migrations[i].Name),
			}
		}
	}
	return migrations, nil
}

func (r *Runner) apply(ctx context.Context, logger *slog.Logger, m Migration) error {
	sql, err := r.source.Load(ctx, m)
	if err != nil {
		return newRunError(ErrMigrationExecution, m.Name, nil, err)
	}
	m.Checksum = Checksum(sql)

	mlogger := logger.With("migration", m.Name, "checksum", m.Checksum)
	mlogger.Info("applying migration", "path", m.Path)

	started := r.now()
	if err := r.backend.Execute(ctx, m, sql); err != nil {
		kind := ErrMigrationExecution
		if ctx.Err() != nil {
			kind = ErrInterrupted
		}
		return newRunError(kind, m.Name, nil, err)
	}

	// The file is committed at this point; record it even if the run is
	// being cancelled.
	if err := r.backend.RecordApplied(context.WithoutCancel(ctx), m.Name); err != nil {
		return newRunError(ErrLedgerInconsistency, m.Name, nil, err)
	}

	mlogger.Info("migration applied", "duration", r.now().Sub(started))
	return nil
}

// kindOf picks the run error kind for a failure outside migration execution.
func kindOf(ctx context.Context, err error) error {
	switch {
	case ctx.Err() != nil:
		return ErrInterrupted
	case errors.Is(err, ErrConnection):
		return ErrConnection
	case errors.Is(err, ErrPermission):
		return ErrPermission
	}
	return ErrMigrationExecution
}

func (r *Runner) fail(logger *slog.Logger, err error) error {
	attrs := []any{"error", err, "error_kind", ErrorKind(err)}
	var runErr *RunError
	if errors.As(err, &runErr) {
		attrs = append(attrs, "migration", runErr.Filename, "applied", runErr.Applied)
	}
	if errors.Is(err, ErrLedgerInconsistency) {
		logger.Error("migration executed but not recorded; reconcile schema_migrations manually before re-running", attrs...)
	} else {
		logger.Error("migration run aborted", attrs...)
	}
	return err
}

// Status compares the source with the ledger without modifying either.
func (r *Runner) Status(ctx context.Context) (Status, error) {
	logger := r.runLogger(ctx, "status")

	entries, err := r.backend.Applied(ctx)
	if err != nil {
		logger.Error("failed to read ledger", "error", err, "error_kind", ErrorKind(err))
		return Status{}, fmt.Errorf("read %s: %w", LedgerTable, err)
	}

	migrations, err := r.scan(ctx)
	if err != nil {
		logger.Error("failed to scan migration source", "error", err)
		return Status{}, err
	}

	byName := make(map[string]int, len(migrations))
	for i, m := range migrations {
		byName[m.Name] = i
	}

	var status Status
	recorded := make(map[string]bool, len(entries))
	for _, entry := range entries {
		recorded[entry.Filename] = true
		i, ok := byName[entry.Filename]
		if !ok {
			status.Orphaned = append(status.Orphaned, entry)
			continue
		}
		m := migrations[i]
		status.Applied = append(status.Applied, AppliedMigration{LedgerEntry: entry, Migration: &m})
	}

	for _, m := range migrations {
		if recorded[m.Name] {
			continue
		}
		sql, err := r.source.Load(ctx, m)
		if err != nil {
			return Status{}, err
		}
		m.Checksum = Checksum(sql)
		status.Pending = append(status.Pending, m)
	}

	logger.Debug("migration status", "applied", len(status.Applied), "pending", len(status.Pending), "orphaned", len(status.Orphaned))
	return status, nil
}

func (r *Runner) runLogger(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	logger := logging.FromContext(ctx)
	if logger == nil {
		logger = r.logger
	}
	pairs := append([]any{"component", "migration", "operation", operation}, attrs...)
	return logger.With(pairs...)
}
