// Package registry persists the port -> pid markers that identify the
// instance the lifecycle controller launched (or adopted) on each port.
package registry

import (
	"fmt"
	"strings"
)

// DefaultPrefix names markers when no prefix is configured.
const DefaultPrefix = "grammar_correction_app"

// Store records at most one pid per port.
//
// Read never fails: missing, unreadable and malformed markers all read as
// absent. Remove on a missing marker is a no-op.
type Store interface {
	Write(port, pid int) error
	Read(port int) (pid int, ok bool)
	Remove(port int) error
}

// Config selects and parameterises a Store.
type Config struct {
	Type   string // file (default) | sqlite | memory
	Dir    string // file: directory holding marker files
	Prefix string // file: marker name prefix
	Path   string // sqlite: database file
}

// Open builds the Store described by cfg. Stores that hold resources
// also implement io.Closer.
func Open(cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", "file":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("registry: file store requires a directory")
		}
		return NewFileStore(cfg.Dir, cfg.Prefix), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("registry: unsupported type %q", cfg.Type)
	}
}
