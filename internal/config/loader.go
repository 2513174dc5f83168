package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/example/grant-migrate/internal/migration"
)

// Config captures environment driven configuration values for a migration run.
type Config struct {
	DatabaseURL   string
	MigrationsDir string
	LockKey       string
	LogLevel      string
	LogFormat     string
}

// Lookup retrieves an environment variable; os.LookupEnv satisfies it.
type Lookup func(key string) (string, bool)

// Load parses configuration values from the current process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom parses configuration values using lookup.
//
// DATABASE_URL wins when set. Otherwise the libpq variables PGHOST, PGPORT,
// PGUSER, PGPASSWORD, PGDATABASE and PGSSLMODE are combined into a URL.
// Missing connection information is an error; no default target is assumed.
func LoadFrom(lookup Lookup) (Config, error) {
	cfg := Config{
		MigrationsDir: "migrations",
		LockKey:       migration.DefaultLockKey,
		LogLevel:      "info",
		LogFormat:     "text",
	}

	get := func(key string) string {
		value, _ := lookup(key)
		return strings.TrimSpace(value)
	}

	if dir := get("MIGRATIONS_DIR"); dir != "" {
		cfg.MigrationsDir = dir
	}
	if key := get("MIGRATE_LOCK_KEY"); key != "" {
		cfg.LockKey = key
	}
	if level := get("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}
	if format := get("LOG_FORMAT"); format != "" {
		cfg.LogFormat = format
	}

	if dsn := get("DATABASE_URL"); dsn != "" {
		cfg.DatabaseURL = dsn
		return cfg, nil
	}

	missing := make([]string, 0, 3)
	invalid := make([]string, 0, 1)

	host := get("PGHOST")
	if host == "" {
		missing = append(missing, "PGHOST")
	}
	user := get("PGUSER")
	if user == "" {
		missing = append(missing, "PGUSER")
	}
	database := get("PGDATABASE")
	if database == "" {
		missing = append(missing, "PGDATABASE")
	}

	port := 5432
	if portValue := get("PGPORT"); portValue != "" {
		p, err := strconv.Atoi(portValue)
		if err != nil || p <= 0 || p > 65535 {
			invalid = append(invalid, "PGPORT")
		} else {
			port = p
		}
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("%w: set DATABASE_URL or the connection variables; missing: %s",
			migration.ErrConfig, strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		return Config{}, fmt.Errorf("%w: invalid environment values: %s", migration.ErrConfig, strings.Join(invalid, ", "))
	}

	// The password is not trimmed; surrounding spaces may be significant.
	password, hasPassword := lookup("PGPASSWORD")

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/" + database,
	}
	if hasPassword && password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	if sslmode := get("PGSSLMODE"); sslmode != "" {
		u.RawQuery = url.Values{"sslmode": {sslmode}}.Encode()
	}
	cfg.DatabaseURL = u.String()

	return cfg, nil
}

// Redacted returns the connection target with any password masked.
func (c Config) Redacted() string {
	return RedactURL(c.DatabaseURL)
}

// RedactURL masks the password in a URL-form connection string. Strings that
// are not URLs, such as libpq keyword strings, have their password= value masked.
func RedactURL(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Scheme != "" && u.Host != "" {
		return u.Redacted()
	}
	fields := strings.Fields(dsn)
	for i, field := range fields {
		if strings.HasPrefix(strings.ToLower(field), "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}
