package registry

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := NewSQLiteStore(filepath.Join(t.TempDir(), "markers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Store{
		"file":   NewFileStore(t.TempDir(), ""),
		"memory": NewMemoryStore(),
		"sqlite": sq,
	}
}

func TestStoreContract(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok := s.Read(8501)
			assert.False(t, ok, "empty store reads absent")

			require.NoError(t, s.Write(8501, 1234))
			pid, ok := s.Read(8501)
			require.True(t, ok)
			assert.Equal(t, 1234, pid)

			require.NoError(t, s.Write(8501, 4321), "write overwrites")
			pid, ok = s.Read(8501)
			require.True(t, ok)
			assert.Equal(t, 4321, pid)

			_, ok = s.Read(8502)
			assert.False(t, ok, "ports are independent")

			require.NoError(t, s.Remove(8501))
			_, ok = s.Read(8501)
			assert.False(t, ok)
			require.NoError(t, s.Remove(8501), "removing twice is a no-op")
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "")
	require.NoError(t, s.Write(8501, 42))

	want := filepath.Join(dir, ".grammar_correction_app_8501.pid")
	assert.Equal(t, want, s.Path(8501))
	b, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "42", string(b))
}

func TestFileStore_Malformed(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir, "app")
	for _, content := range []string{"", "abc", "-5", "0", "12 34"} {
		require.NoError(t, os.WriteFile(s.Path(9000), []byte(content), 0o600))
		_, ok := s.Read(9000)
		assert.False(t, ok, "content %q", content)
	}
	require.NoError(t, os.WriteFile(s.Path(9000), []byte(" 77\n"), 0o600))
	pid, ok := s.Read(9000)
	assert.True(t, ok)
	assert.Equal(t, 77, pid)
}

func TestFileStore_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "state")
	s := NewFileStore(dir, "")
	require.NoError(t, s.Write(1, 2))
	_, err := os.Stat(s.Path(1))
	require.NoError(t, err)
}

func TestOpen(t *testing.T) {
	s, err := Open(Config{Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open(Config{Type: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	s, err = Open(Config{Type: "SQLite", Path: ":memory:"})
	require.NoError(t, err)
	c, ok := s.(io.Closer)
	require.True(t, ok)
	require.NoError(t, c.Close())

	_, err = Open(Config{Type: "file"})
	assert.Error(t, err)
	_, err = Open(Config{Type: "sqlite"})
	assert.Error(t, err)
	_, err = Open(Config{Type: "etcd"})
	assert.Error(t, err)
}
