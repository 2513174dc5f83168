// Package testfixtures provides deterministic collaborators for migration tests.
package testfixtures

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/example/grant-migrate/internal/migration"
)

// Backend is an in-memory migration.Backend that records every call and
// lets tests inject failures per migration.
type Backend struct {
	mu sync.Mutex

	ledgerExists bool
	ledger       map[string]time.Time
	schema       map[string]string // migration name -> executed SQL, for applied files
	now          func() time.Time

	// Executions lists the names passed to Execute, in call order, including failures.
	Executions []string
	// Calls lists every interface method invoked, in order.
	Calls []string

	// FailExecute makes Execute fail for the named migrations.
	FailExecute map[string]error
	// FailRecord makes RecordApplied fail for the named migrations.
	FailRecord map[string]error
	// FailIsApplied makes IsApplied fail for the named migrations.
	FailIsApplied map[string]error
	// EnsureErr, AcquireErr and AppliedErr fail the corresponding calls.
	EnsureErr  error
	AcquireErr error
	AppliedErr error
	// OnExecute runs before each Execute, e.g. to cancel the run context.
	OnExecute func(name string)
	// OnRecord runs after each successful RecordApplied.
	OnRecord func(name string)

	locked   bool
	acquires int
	releases int
	closed   bool
}

var _ migration.Backend = (*Backend)(nil)

// NewBackend returns an empty backend without a ledger table. When now is
// nil the shared ReferenceTime clock is used.
func NewBackend(now func() time.Time) *Backend {
	if now == nil {
		now = NewClock(time.Time{}).NowFunc()
	}
	return &Backend{
		ledger:        make(map[string]time.Time),
		schema:        make(map[string]string),
		now:           now,
		FailExecute:   make(map[string]error),
		FailRecord:    make(map[string]error),
		FailIsApplied: make(map[string]error),
	}
}

// Seed marks names as already applied and creates the ledger.
func (b *Backend) Seed(names ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ledgerExists = true
	for _, name := range names {
		b.ledger[name] = b.now()
	}
}

// Acquire takes the lock. A second Acquire without release fails, which
// surfaces runners that forget to release.
func (b *Backend) Acquire(ctx context.Context, key string) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "Acquire")
	if b.AcquireErr != nil {
		return nil, b.AcquireErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.locked {
		return nil, fmt.Errorf("testfixtures: lock %q already held", key)
	}
	b.locked = true
	b.acquires++

	var once sync.Once
	return func() error {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.Calls = append(b.Calls, "Release")
			b.locked = false
			b.releases++
		})
		return nil
	}, nil
}

// EnsureLedger creates the ledger if absent.
func (b *Backend) EnsureLedger(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "EnsureLedger")
	if b.EnsureErr != nil {
		return b.EnsureErr
	}
	b.ledgerExists = true
	return nil
}

// IsApplied reports whether name is in the ledger.
func (b *Backend) IsApplied(ctx context.Context, name string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "IsApplied:"+name)
	if err := b.FailIsApplied[name]; err != nil {
		return false, err
	}
	if !b.ledgerExists {
		return false, migration.ErrLedgerMissing
	}
	_, ok := b.ledger[name]
	return ok, nil
}

// RecordApplied adds name to the ledger.
func (b *Backend) RecordApplied(ctx context.Context, name string) error {
	if err := b.record(name); err != nil {
		return err
	}
	if b.OnRecord != nil {
		b.OnRecord(name)
	}
	return nil
}

func (b *Backend) record(name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "RecordApplied:"+name)
	if err := b.FailRecord[name]; err != nil {
		return err
	}
	if !b.ledgerExists {
		return migration.ErrLedgerMissing
	}
	if _, ok := b.ledger[name]; ok {
		return fmt.Errorf("%w: %s", migration.ErrConflict, name)
	}
	b.ledger[name] = b.now()
	return nil
}

// Applied lists ledger entries ordered by filename.
func (b *Backend) Applied(ctx context.Context) ([]migration.LedgerEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "Applied")
	if b.AppliedErr != nil {
		return nil, b.AppliedErr
	}
	entries := make([]migration.LedgerEntry, 0, len(b.ledger))
	for name, at := range b.ledger {
		entries = append(entries, migration.LedgerEntry{Filename: name, AppliedAt: at})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Filename < entries[j].Filename })
	return entries, nil
}

// Execute records the execution and applies the injected failure, if any.
func (b *Backend) Execute(ctx context.Context, m migration.Migration, sql string) error {
	if b.OnExecute != nil {
		b.OnExecute(m.Name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls = append(b.Calls, "Execute:"+m.Name)
	b.Executions = append(b.Executions, m.Name)
	if err := b.FailExecute[m.Name]; err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	b.schema[m.Name] = sql
	return nil
}

// Close marks the backend closed.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// LedgerNames returns the recorded migration names in order.
func (b *Backend) LedgerNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.ledger))
	for name := range b.ledger {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LedgerExists reports whether EnsureLedger or Seed has run.
func (b *Backend) LedgerExists() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ledgerExists
}

// ExecutedSQL returns the SQL last executed successfully for name.
func (b *Backend) ExecutedSQL(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sql, ok := b.schema[name]
	return sql, ok
}

// Locked reports whether the lock is currently held.
func (b *Backend) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked
}

// LockCounts returns how many times the lock was acquired and released.
func (b *Backend) LockCounts() (acquires, releases int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.acquires, b.releases
}

// Closed reports whether Close was called.
func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Reset clears the call logs and injected failures, keeping the ledger.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Executions = nil
	b.Calls = nil
	b.FailExecute = make(map[string]error)
	b.FailRecord = make(map[string]error)
	b.FailIsApplied = make(map[string]error)
	b.EnsureErr, b.AcquireErr, b.AppliedErr = nil, nil, nil
	b.OnExecute = nil
	b.OnRecord = nil
}
