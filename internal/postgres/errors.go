package postgres

import (
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/grant-migrate/internal/migration"
)

// SQLSTATE codes the backend distinguishes.
const (
	codeInsufficientPrivilege = "42501"
	codeUniqueViolation       = "23505"
	codeUndefinedTable        = "42P01"
	codeInvalidPassword       = "28P01"
	codeInvalidAuthorization  = "28000"
	codeAdminShutdown         = "57P01"
	codeCannotConnectNow      = "57P03"
)

// classify wraps driver errors with the migration error kinds they represent.
// PostgreSQL's error message is preserved verbatim.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeInsufficientPrivilege, codeInvalidPassword, codeInvalidAuthorization:
			return fmt.Errorf("%w: %w", migration.ErrPermission, err)
		case codeUniqueViolation:
			return fmt.Errorf("%w: %w", migration.ErrConflict, err)
		case codeUndefinedTable:
			if pgErr.TableName == migration.LedgerTable || containsLedger(pgErr.Message) {
				return fmt.Errorf("%w: %w", migration.ErrLedgerMissing, err)
			}
		case codeAdminShutdown, codeCannotConnectNow:
			return fmt.Errorf("%w: %w", migration.ErrConnection, err)
		}
		return err
	}

	var connectErr *pgconn.ConnectError
	var netErr net.Error
	switch {
	case errors.As(err, &connectErr), errors.As(err, &netErr), pgconn.Timeout(err):
		return fmt.Errorf("%w: %w", migration.ErrConnection, err)
	}
	return err
}

func containsLedger(message string) bool {
	return message == `relation "`+migration.LedgerTable+`" does not exist`
}
