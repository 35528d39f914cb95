package process

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRunner_OnPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses sh")
	}
	p, err := FindRunner("sh", nil)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(p))
}

func TestFindRunner_Fallbacks(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "uv")
	require.NoError(t, os.WriteFile(present, []byte("#!/bin/sh\n"), 0o755))

	p, err := FindRunner("appvisor-no-such-runner", []string{
		filepath.Join(dir, "missing"),
		dir, // directories never qualify
		present,
	})
	require.NoError(t, err)
	assert.Equal(t, present, p)
}

func TestFindRunner_HomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	bin := filepath.Join(home, ".local", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "uv"), nil, 0o755))

	p, err := FindRunner("appvisor-no-such-runner", []string{"~/.local/bin/uv"})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(bin, "uv"), p)
}

func TestFindRunner_NotFound(t *testing.T) {
	_, err := FindRunner("appvisor-no-such-runner", []string{filepath.Join(t.TempDir(), "uv")})
	assert.ErrorIs(t, err, ErrRunnerNotFound)
}
