package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileStore keeps one hidden marker file per port:
// <Dir>/.<Prefix>_<port>.pid holding the decimal pid.
type FileStore struct {
	Dir    string
	Prefix string
}

func NewFileStore(dir, prefix string) *FileStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &FileStore{Dir: dir, Prefix: prefix}
}

// Path returns the marker location for port.
func (s *FileStore) Path(port int) string {
	return filepath.Join(s.Dir, fmt.Sprintf(".%s_%d.pid", s.Prefix, port))
}

func (s *FileStore) Write(port, pid int) error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return err
	}
	return os.WriteFile(s.Path(port), []byte(strconv.Itoa(pid)), 0o600)
}

func (s *FileStore) Read(port int) (int, bool) {
	b, err := os.ReadFile(s.Path(port))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (s *FileStore) Remove(port int) error {
	err := os.Remove(s.Path(port))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
