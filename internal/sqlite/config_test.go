package sqlite

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		dsn     string
		want    string
		wantErr bool
	}{
		{dsn: "sqlite:///var/lib/grants.db", want: "/var/lib/grants.db"},
		{dsn: "sqlite://grants.db", want: "grants.db"},
		{dsn: "sqlite:grants.db", want: "grants.db"},
		{dsn: "sqlite::memory:", want: ":memory:"},
		{dsn: "file:grants.db?cache=shared", want: "grants.db"},
		{dsn: "sqlite://", wantErr: true},
		{dsn: "postgres://localhost/grants", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			got, err := ParseURL(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "empty path", mutate: func(c *Config) { c.Path = "" }, wantErr: "path cannot be empty"},
		{name: "negative timeout", mutate: func(c *Config) { c.BusyTimeout = -time.Second }, wantErr: "BusyTimeout"},
		{name: "journal mode", mutate: func(c *Config) { c.JournalMode = "sideways" }, wantErr: "invalid journal mode"},
		{name: "lower case journal mode", mutate: func(c *Config) { c.JournalMode = "wal" }},
		{name: "synchronous", mutate: func(c *Config) { c.Synchronous = "SOMETIMES" }, wantErr: "invalid synchronous mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig("grants.db")
			tt.mutate(&cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, time.January, 2, 15, 4, 5, 0, time.UTC)
	for _, value := range []string{"2024-01-02T15:04:05Z", "2024-01-02T15:04:05.000Z", "2024-01-02 15:04:05"} {
		got, err := parseTimestamp(value)
		require.NoError(t, err, value)
		assert.True(t, want.Equal(got), value)
	}

	_, err := parseTimestamp("yesterday")
	assert.Error(t, err)
}
