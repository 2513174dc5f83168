package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/grant-migrate/internal/sqlite"
)

// NewSQLiteBackend opens a SQLite backend on a temporary database file that
// is closed when the test ends. The file outlives Close within the test, so
// callers may reopen it with OpenSQLiteBackend to simulate a second run.
func NewSQLiteBackend(tb testing.TB, opts ...sqlite.Option) (*sqlite.Backend, string) {
	tb.Helper()
	path := filepath.Join(tb.TempDir(), "grants.db")
	return OpenSQLiteBackend(tb, path, opts...), path
}

// OpenSQLiteBackend opens a SQLite backend on path that is closed when the test ends.
func OpenSQLiteBackend(tb testing.TB, path string, opts ...sqlite.Option) *sqlite.Backend {
	tb.Helper()
	cfg := sqlite.DefaultConfig(path)
	cfg.Synchronous = "OFF"

	backend, err := sqlite.Open(context.Background(), cfg, opts...)
	if err != nil {
		tb.Fatalf("failed to open sqlite backend: %v", err)
	}
	tb.Cleanup(func() {
		_ = backend.Close()
	})
	return backend
}

// SQLiteTableExists reports whether table exists in the backend's database.
func SQLiteTableExists(tb testing.TB, backend *sqlite.Backend, table string) bool {
	tb.Helper()
	var count int
	err := backend.DB().QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&count)
	if err != nil {
		tb.Fatalf("failed to inspect sqlite_master: %v", err)
	}
	return count > 0
}
