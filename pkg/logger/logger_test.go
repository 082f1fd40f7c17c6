package logger

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeConsoleAndLevel(t *testing.T) {
	defer SetDebug(false)

	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Console = &buf
	require.NoError(t, Initialize(cfg))

	Debug("hidden")
	Info("shown")
	require.NoError(t, Sync())
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
	assert.False(t, DebugEnabled())

	SetDebug(true)
	assert.True(t, DebugEnabled())
	WithCorrelationID("abc").Debug("now visible")
	assert.Contains(t, buf.String(), "now visible")
	assert.Contains(t, buf.String(), "abc")
}

func TestInitializeFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "fsmonitor.log")

	cfg := DefaultConfig()
	cfg.Console = nil
	cfg.OutputPath = path
	cfg.EnableJSON = true
	require.NoError(t, Initialize(cfg))

	Warn("to file")
	require.NoError(t, Sync())
	assert.FileExists(t, path)
}

func TestInitializeBadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	cfg := DefaultConfig()
	cfg.Level = "loud"
	cfg.Console = &buf
	require.NoError(t, Initialize(cfg))

	assert.False(t, DebugEnabled())
	Error("still logged")
	assert.Contains(t, buf.String(), "still logged")
}
