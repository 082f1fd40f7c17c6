package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pulsepoint/fsmonitor/internal/journal"
	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCommand returns a command carrying the persistent flags, parsed from args
func testCommand(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := &cobra.Command{Use: "test"}
	addPersistentFlags(cmd)
	require.NoError(t, cmd.ParseFlags(args))
	return cmd
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fsmonitor.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, v, err := loadConfig(testCommand(t))
	require.NoError(t, err)

	assert.False(t, cfg.Debug)
	assert.False(t, cfg.Trace)
	assert.Equal(t, "fsnotify", cfg.Watcher.Backend)
	assert.True(t, cfg.Watcher.ReportParents)
	assert.Equal(t, 4096, cfg.Watcher.BufferSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Logging.File)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, journal.DefaultPath(), cfg.Journal.Path)
	assert.Empty(t, v.ConfigFileUsed())
}

func TestLoadConfigFlags(t *testing.T) {
	cmd := testCommand(t, "--debug", "--trace", "--backend", "notify", "--log-file", "/tmp/fsmon.log", "--journal")
	cfg, _, err := loadConfig(cmd)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Trace)
	assert.Equal(t, "notify", cfg.Watcher.Backend)
	assert.Equal(t, "/tmp/fsmon.log", cfg.Logging.File)
	assert.True(t, cfg.Journal.Enabled)
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
debug: true
watcher:
  backend: notify
  report_parents: false
  buffer_size: 128
logging:
  level: warn
  json: true
journal:
  enabled: true
  path: /var/tmp/fsmonitor.db
`)

	cfg, v, err := loadConfig(testCommand(t, "--config", path))
	require.NoError(t, err)

	assert.Equal(t, path, v.ConfigFileUsed())
	assert.True(t, cfg.Debug)
	assert.Equal(t, "notify", cfg.Watcher.Backend)
	assert.False(t, cfg.Watcher.ReportParents)
	assert.Equal(t, 128, cfg.Watcher.BufferSize)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Logging.JSON)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, "/var/tmp/fsmonitor.db", cfg.Journal.Path)
}

func TestLoadConfigFlagOverridesFile(t *testing.T) {
	path := writeConfig(t, "watcher:\n  backend: notify\n")

	cfg, _, err := loadConfig(testCommand(t, "--config", path, "--backend", "fsnotify"))
	require.NoError(t, err)
	assert.Equal(t, "fsnotify", cfg.Watcher.Backend)
}

func TestLoadConfigEnvironment(t *testing.T) {
	cmd := testCommand(t)
	t.Setenv("PULSEPOINT_FSMONITOR_WATCHER_BACKEND", "notify")
	t.Setenv("PULSEPOINT_FSMONITOR_LOGGING_LEVEL", "debug")

	cfg, _, err := loadConfig(cmd)
	require.NoError(t, err)
	assert.Equal(t, "notify", cfg.Watcher.Backend)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{
			name: "unknown backend",
			args: func(t *testing.T) []string { return []string{"--backend", "polling"} },
		},
		{
			name: "missing config file",
			args: func(t *testing.T) []string {
				return []string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}
			},
		},
		{
			name: "negative buffer",
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfig(t, "watcher:\n  buffer_size: -1\n")}
			},
		},
		{
			name: "malformed file",
			args: func(t *testing.T) []string {
				return []string{"--config", writeConfig(t, "watcher: [\n")}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := loadConfig(testCommand(t, tt.args(t)...))
			require.Error(t, err)
			assert.True(t, fserrors.IsConfigError(err), err.Error())
		})
	}
}

func TestConfigShow(t *testing.T) {
	path := writeConfig(t, "trace: true\n")

	var out bytes.Buffer
	cmd := testCommand(t, "--config", path)
	cmd.SetOut(&out)

	require.NoError(t, runConfigShow(cmd, nil))
	text := out.String()
	assert.True(t, strings.HasPrefix(text, "# config file: "+path+"\n"), text)
	assert.Contains(t, text, "trace: true")
	assert.Contains(t, text, "backend: fsnotify")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	defer versionCmd.SetOut(nil)

	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "unison-fsmonitor "+version)
	assert.Contains(t, out.String(), "protocol: 1")
}
