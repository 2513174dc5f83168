package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/grant-migrate/internal/config"
	"github.com/example/grant-migrate/internal/migration"
	"github.com/example/grant-migrate/internal/postgres"
	"github.com/example/grant-migrate/internal/sqlite"
)

// openBackend picks the backend from the connection string's scheme.
func openBackend(ctx context.Context, dsn string) (migration.Backend, error) {
	switch {
	case isSQLiteURL(dsn):
		backend, err := sqlite.OpenURL(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return backend, nil
	case postgres.IsURL(dsn):
		backend, err := postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	return nil, fmt.Errorf("%w: unsupported database URL %q (want postgres://, postgresql://, sqlite: or file:)",
		migration.ErrConfig, config.RedactURL(dsn))
}

func isSQLiteURL(dsn string) bool {
	lower := strings.ToLower(dsn)
	return strings.HasPrefix(lower, "sqlite:") || strings.HasPrefix(lower, "file:")
}
