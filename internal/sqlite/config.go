package sqlite

import (
	"fmt"
	"strings"
	"time"
)

// Config holds SQLite-specific database configuration
type Config struct {
	// Path is the database file path, or ":memory:"
	Path string

	// BusyTimeout sets how long to wait for database locks held by other processes
	BusyTimeout time.Duration

	// EnableForeignKeys enables foreign key constraint checking
	EnableForeignKeys bool

	// JournalMode sets the SQLite journal mode (WAL, DELETE, TRUNCATE, etc.)
	JournalMode string

	// Synchronous sets the synchronous mode (FULL, NORMAL, OFF)
	Synchronous string
}

// DefaultConfig returns a configuration with sensible defaults for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		BusyTimeout:       30 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "WAL",
		Synchronous:       "FULL",
	}
}

// InMemoryConfig returns a configuration for a private in-memory database.
func InMemoryConfig() Config {
	return Config{
		Path:              ":memory:",
		BusyTimeout:       5 * time.Second,
		EnableForeignKeys: true,
		JournalMode:       "MEMORY",
		Synchronous:       "OFF",
	}
}

// ParseURL extracts the database path from a sqlite: or file: connection string.
//
//	sqlite:///var/lib/grants.db  -> /var/lib/grants.db
//	sqlite://grants.db           -> grants.db
//	sqlite::memory:              -> :memory:
//	file:grants.db               -> grants.db
func ParseURL(dsn string) (string, error) {
	var path string
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		path = strings.TrimPrefix(dsn, "sqlite://")
	case strings.HasPrefix(dsn, "sqlite:"):
		path = strings.TrimPrefix(dsn, "sqlite:")
	case strings.HasPrefix(dsn, "file:"):
		path = strings.TrimPrefix(dsn, "file:")
	default:
		return "", fmt.Errorf("sqlite: unsupported connection string %q", dsn)
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", fmt.Errorf("sqlite: connection string %q has no database path", dsn)
	}
	return path, nil
}

// ValidateConfig validates the SQLite configuration
func ValidateConfig(cfg Config) error {
	if cfg.Path == "" {
		return fmt.Errorf("sqlite: database path cannot be empty")
	}

	if cfg.BusyTimeout < 0 {
		return fmt.Errorf("sqlite: BusyTimeout cannot be negative")
	}

	validJournalModes := map[string]bool{
		"DELETE":   true,
		"TRUNCATE": true,
		"PERSIST":  true,
		"MEMORY":   true,
		"WAL":      true,
		"OFF":      true,
	}
	if cfg.JournalMode != "" && !validJournalModes[strings.ToUpper(cfg.JournalMode)] {
		return fmt.Errorf("sqlite: invalid journal mode: %s", cfg.JournalMode)
	}

	validSyncModes := map[string]bool{
		"OFF":    true,
		"NORMAL": true,
		"FULL":   true,
		"EXTRA":  true,
	}
	if cfg.Synchronous != "" && !validSyncModes[strings.ToUpper(cfg.Synchronous)] {
		return fmt.Errorf("sqlite: invalid synchronous mode: %s", cfg.Synchronous)
	}

	return nil
}
