package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "debug", "json")
	require.NoError(t, err)

	logger.Debug("migration applied", "migration", "001_create_faculty.sql")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "DEBUG", record["level"])
	assert.Equal(t, "migration applied", record["msg"])
	assert.Equal(t, "001_create_faculty.sql", record["migration"])
}

func TestNew_TextFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "warn", "text")
	require.NoError(t, err)

	logger.Info("scanned migration source", "count", 3)
	logger.Warn("failed to release migration lock", "lock_key", "schema_migrations")

	out := buf.String()
	assert.NotContains(t, out, "scanned migration source")
	assert.Contains(t, out, "failed to release migration lock")
	assert.Contains(t, out, "grant-migrate")
	assert.Contains(t, out, "lock_key=schema_migrations")
}

func TestNew_RejectsUnknownValues(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "info", "xml")
	assert.ErrorContains(t, err, `unknown log format "xml"`)

	_, err = New(&bytes.Buffer{}, "loud", "json")
	assert.ErrorContains(t, err, `unknown log level "loud"`)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		" warn ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"debug+2": slog.LevelDebug + 2,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
}

func TestContextWithLogger(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	logger := Discard()
	ctx := ContextWithLogger(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))

	assert.Equal(t, ctx, ContextWithLogger(ctx, nil))
}
