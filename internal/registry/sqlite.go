package registry

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps markers in a single SQLite table (modernc.org/sqlite,
// CGO-free). Use ":memory:" for an in-memory database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens path and creates the markers table if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return nil, errors.New("registry: empty sqlite path")
	}
	d, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	// a single connection keeps ":memory:" databases coherent
	d.SetMaxOpenConns(1)
	// busy timeout helps with short concurrent locks between CLI invocations
	_, _ = d.Exec("PRAGMA busy_timeout=3000;")
	s := &SQLiteStore{db: d}
	if err := s.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS markers(
		port INTEGER PRIMARY KEY,
		pid INTEGER NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`)
	return err
}

func (s *SQLiteStore) Write(port, pid int) error {
	_, err := s.db.Exec(`
		INSERT INTO markers(port, pid, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(port) DO UPDATE SET pid=excluded.pid, updated_at=excluded.updated_at;`,
		port, pid, time.Now().UTC())
	return err
}

func (s *SQLiteStore) Read(port int) (int, bool) {
	var pid int
	if err := s.db.QueryRow(`SELECT pid FROM markers WHERE port = ?`, port).Scan(&pid); err != nil {
		return 0, false
	}
	return pid, pid > 0
}

func (s *SQLiteStore) Remove(port int) error {
	_, err := s.db.Exec(`DELETE FROM markers WHERE port = ?`, port)
	return err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
