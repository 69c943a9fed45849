package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("dev", slog.LevelError))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING", slog.LevelError))
	assert.Equal(t, slog.LevelError, ParseLevel("prod", slog.LevelInfo))
	assert.Equal(t, slog.LevelInfo, ParseLevel("", slog.LevelInfo))
	assert.Equal(t, slog.LevelError, ParseLevel("loud", slog.LevelError))
}

func TestNewJSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: "warn", Format: "json"}, slog.LevelError, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "peer", "b")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "b", rec["peer"])
}
