// Command grant-migrate applies the grant-matching pipeline's SQL migrations
// to PostgreSQL or SQLite and records them in schema_migrations.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/example/grant-migrate/internal/config"
	"github.com/example/grant-migrate/internal/logging"
	"github.com/example/grant-migrate/internal/migration"
)

const defaultEnvFile = ".env"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if err := newApp(stdout, stderr).Run(ctx, args); err != nil {
		fmt.Fprintf(stderr, "grant-migrate: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:      "grant-migrate",
		Usage:     "Apply pending SQL migrations and record them in schema_migrations",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "load environment variables from `FILE`; existing variables win",
				Value: defaultEnvFile,
			},
			&cli.StringFlag{
				Name:  "dir",
				Usage: "migration directory (default $MIGRATIONS_DIR or ./migrations)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error (default $LOG_LEVEL or info)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json (default $LOG_FORMAT or text)",
			},
			&cli.StringFlag{
				Name:  "lock-key",
				Usage: "advisory lock key shared by concurrent runners (default $MIGRATE_LOCK_KEY)",
			},
		},
		Action: upAction,
		Commands: []*cli.Command{
			{
				Name:   "up",
				Usage:  "Apply every pending migration in filename order (default)",
				Action: upAction,
			},
			{
				Name:   "status",
				Usage:  "List applied, pending and orphaned migrations without changing anything",
				Action: statusAction,
			},
		},
	}
}

// session bundles what a subcommand needs once configuration is resolved.
type session struct {
	cfg     config.Config
	logger  *slog.Logger
	backend migration.Backend
	runner  *migration.Runner
}

func (s *session) close() {
	if err := s.backend.Close(); err != nil {
		s.logger.Warn("failed to close database connection", "error", err)
	}
}

func openSession(ctx context.Context, cmd *cli.Command) (*session, error) {
	if err := loadEnvFile(cmd); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(cmd, &cfg)

	logger, err := logging.New(cmd.Root().ErrWriter, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", migration.ErrConfig, err)
	}
	logger.Debug("configuration loaded",
		"database", cfg.Redacted(),
		"migrations_dir", cfg.MigrationsDir,
		"lock_key", cfg.LockKey)

	backend, err := openBackend(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "database", cfg.Redacted(), "error", err, "error_kind", migration.ErrorKind(err))
		return nil, err
	}

	runner, err := migration.NewRunner(backend, migration.NewDirSource(cfg.MigrationsDir),
		migration.WithLogger(logger),
		migration.WithLockKey(cfg.LockKey))
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	return &session{cfg: cfg, logger: logger, backend: backend, runner: runner}, nil
}

// loadEnvFile loads the --env-file. A missing default file is not an error.
func loadEnvFile(cmd *cli.Command) error {
	path := cmd.String("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !cmd.IsSet("env-file") {
			return nil
		}
		return fmt.Errorf("%w: load env file %s: %w", migration.ErrConfig, path, err)
	}
	return nil
}

func applyFlags(cmd *cli.Command, cfg *config.Config) {
	if dir := cmd.String("dir"); dir != "" {
		cfg.MigrationsDir = dir
	}
	if level := cmd.String("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format := cmd.String("log-format"); format != "" {
		cfg.LogFormat = format
	}
	if key := cmd.String("lock-key"); key != "" {
		cfg.LockKey = key
	}
}

func upAction(ctx context.Context, cmd *cli.Command) error {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.runner.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.Root().Writer, report.Summary())
	return nil
}

func statusAction(ctx context.Context, cmd *cli.Command) error {
	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.close()

	status, err := s.runner.Status(ctx)
	if err != nil {
		return err
	}
	return writeStatus(cmd.Root().Writer, status)
}
