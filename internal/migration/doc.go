// Package migration applies a directory of SQL schema migrations to a database.
//
// Migration files live in a single directory and are identified by filename.
// They are applied in byte-wise lexicographic order of that filename, so
// authors control ordering with a sortable prefix (e.g. "001_initial.sql" or
// "20240102_add_grants.sql"). Files without a ".sql" extension are ignored.
//
// The runner tracks applied migrations in a schema_migrations ledger table
// that it creates on first use. Each pending file is executed as one
// transaction and recorded afterwards; the first failure aborts the run.
// A session-scoped lock held for the whole run serialises concurrent runners
// against the same database.
//
// Example usage:
//
//	runner, err := migration.NewRunner(backend, migration.NewDirSource("migrations"),
//		migration.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	report, err := runner.Run(ctx)
//	if err != nil {
//		return err
//	}
//	logger.Info(report.Summary())
package migration
