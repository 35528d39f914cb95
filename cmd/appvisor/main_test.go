package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/appvisor"
)

// writeConfig creates appvisor.toml in a fresh project root and makes it the
// working directory, so commands find it without --config.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	root := t.TempDir()
	body := `
[app]
project_root = "` + filepath.ToSlash(root) + `"
runner = "appvisor-no-such-runner"
runner_fallbacks = []

[registry]
type = "file"

[timeouts]
startup = "5s"
poll_interval = "50ms"
stop_grace = "300ms"
kill_grace = "500ms"
orphan_grace = "300ms"
probe = "200ms"
` + extra
	require.NoError(t, os.WriteFile(filepath.Join(root, "appvisor.toml"), []byte(body), 0o600))
	t.Chdir(root)
	return root
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := buildRoot(&out, &errOut)
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func freePort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	return strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)
}

func TestHelpMentionsCommands(t *testing.T) {
	var out bytes.Buffer
	root := buildRoot(&out, &out)
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	for _, sub := range []string{"start", "stop", "status", "logs", "clear-logs", "cleanup", "serve"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestStatusJSONUnmanaged(t *testing.T) {
	writeConfig(t, "")
	port := freePort(t)
	out, err := run(t, "status", "--port", port, "--json")
	require.NoError(t, err)

	var st map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, "unmanaged", st["state"])
	assert.Equal(t, "not managed (no marker)", st["message"])
}

func TestStatusTextUnmanaged(t *testing.T) {
	writeConfig(t, "")
	out, err := run(t, "status", "--detailed")
	require.NoError(t, err)
	assert.Contains(t, out, "port 8501: not managed (no marker)")
	assert.Contains(t, out, "no managed instances found")
}

func TestStartMissingRunnerFails(t *testing.T) {
	writeConfig(t, "")
	_, err := run(t, "start", "--port", freePort(t))
	require.Error(t, err)
	assert.True(t, errors.Is(err, appvisor.ErrPrerequisiteMissing), "got %v", err)
}

func TestStopAndCleanupNoop(t *testing.T) {
	writeConfig(t, "")
	port := freePort(t)

	out, err := run(t, "stop", "--port", port)
	require.NoError(t, err)
	assert.Equal(t, "stopped (port "+port+")\n", out)

	out, err = run(t, "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "terminated 0 orphaned instance(s)\n", out)
}

func TestLogsAndClearLogs(t *testing.T) {
	root := writeConfig(t, "")

	out, err := run(t, "logs", "--port", "8600")
	require.NoError(t, err)
	assert.Equal(t, "no log files for port 8600\n", out)

	dir := filepath.Join(root, "logs", "streamlit")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	outFile := filepath.Join(dir, "grammar_correction_app_8600.out")
	require.NoError(t, os.WriteFile(outFile, []byte("a\nb\nc\n"), 0o600))

	out, err = run(t, "logs", "--port", "8600", "-n", "2")
	require.NoError(t, err)
	assert.Equal(t, "b\nc\n", out)

	out, err = run(t, "clear-logs", "--port", "8600")
	require.NoError(t, err)
	assert.Equal(t, "removed "+outFile+"\n", out)

	out, err = run(t, "clear-logs", "--port", "8600")
	require.NoError(t, err)
	assert.Equal(t, "no log files for port 8600\n", out)
}

func TestMetricsTextfileWritten(t *testing.T) {
	root := writeConfig(t, "[metrics]\ntextfile = \"appvisor.prom\"\n")
	_, err := run(t, "stop")
	require.NoError(t, err)

	b, err := os.ReadFile(filepath.Join(root, "appvisor.prom"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "appvisor_instance_stops_total")
}

func TestBadConfigFails(t *testing.T) {
	writeConfig(t, "")
	_, err := run(t, "status", "--config", filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestInvalidLogLevel(t *testing.T) {
	writeConfig(t, "")
	var out bytes.Buffer
	root := buildRoot(&out, &out)
	root.SetArgs([]string{"status", "--log-level", "loud"})
	err := root.Execute()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "log level"), "got %v", err)
}
