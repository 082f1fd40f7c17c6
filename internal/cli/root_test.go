package cli

import (
	"bytes"
	"io"
	"strings"
	"testing"

	fserrors "github.com/pulsepoint/fsmonitor/pkg/errors"
	"github.com/pulsepoint/fsmonitor/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	defer logger.SetDebug(false)

	cmd := testCommand(t, append([]string{"--config", writeConfig(t, "logging:\n  level: error\n")}, args...)...)
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(input))
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)

	err := runMonitor(cmd, nil)
	return out.String(), err
}

func TestRunMonitorCleanExit(t *testing.T) {
	root := t.TempDir()
	input := "VERSION 1\n" +
		"START r1 " + root + "\n" +
		"DIR\n" +
		"DONE\n" +
		"CHANGES r1\n" +
		"RESET r1\n"

	out, err := runWithInput(t, input)
	require.NoError(t, err)
	assert.Equal(t, "VERSION 1\nOK\nOK\nDONE\n", out)
}

func TestRunMonitorProtocolError(t *testing.T) {
	out, err := runWithInput(t, "VERSION 1\nFOO\n", "--debug")
	require.Error(t, err)
	assert.True(t, fserrors.IsProtocolError(err))
	assert.Equal(t, "VERSION 1\nERROR unexpected%20root%20cmd%3A%20FOO\n", out)
}

func TestRunMonitorWatchError(t *testing.T) {
	input := "VERSION 1\nSTART r1 " + t.TempDir() + "/missing\n"
	out, err := runWithInput(t, input, "--backend", "fsnotify")
	require.Error(t, err)
	assert.True(t, fserrors.IsWatchError(err))
	assert.Contains(t, out, "ERROR cannot%20watch%20")
}

func TestRunMonitorBadBackend(t *testing.T) {
	_, err := runWithInput(t, "", "--backend", "polling")
	assert.True(t, fserrors.IsConfigError(err))
}
