package logger

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Default logging configuration constants
const (
	DefaultMaxSizeMB  = 10 // MB
	DefaultMaxBackups = 3  // number of backup files
	DefaultMaxAgeDays = 7  // days
	DefaultPrefix     = "grammar_correction_app"
)

// ErrNoLogs is returned by Tail when neither channel file exists.
var ErrNoLogs = errors.New("no log files found")

// Config describes where the supervised child's stdout/stderr land.
// Files are Dir/<Prefix>_<port>.out and Dir/<Prefix>_<port>.err.
// Rotation parameters follow lumberjack semantics and apply to foreground
// writers and to archiving previous channels when KeepPrevious is set.
type Config struct {
	Dir          string // base directory for logs
	Prefix       string // file name prefix
	KeepPrevious bool   // archive the previous pair instead of discarding it
	MaxSizeMB    int    // megabytes before rotation (default 10)
	MaxBackups   int    // number of backups to keep (default 3)
	MaxAgeDays   int    // days to keep (default 7)
	Compress     bool   // Gzip rotated files
}

// Channels manages the per-port log file pair.
type Channels struct {
	cfg Config
}

func NewChannels(cfg Config) *Channels {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	return &Channels{cfg: cfg}
}

// Paths returns the stdout and stderr file paths for port, creating the log
// directory if needed.
func (c *Channels) Paths(port int) (string, string, error) {
	if c.cfg.Dir == "" {
		return "", "", errors.New("logger: log directory not configured")
	}
	if err := os.MkdirAll(c.cfg.Dir, 0o750); err != nil {
		return "", "", err
	}
	base := filepath.Join(c.cfg.Dir, fmt.Sprintf("%s_%d", c.cfg.Prefix, port))
	return base + ".out", base + ".err", nil
}

// Open truncates and opens both files for a detached child. The caller
// hands them to the child and closes its own copies after launch.
func (c *Channels) Open(port int) (*os.File, *os.File, error) {
	outPath, errPath, err := c.Paths(port)
	if err != nil {
		return nil, nil, err
	}
	if c.cfg.KeepPrevious {
		for _, p := range []string{outPath, errPath} {
			if err := c.archive(p); err != nil {
				return nil, nil, fmt.Errorf("archive %s: %w", p, err)
			}
		}
	}
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, nil, err
	}
	errF, err := os.OpenFile(errPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		_ = out.Close()
		return nil, nil, err
	}
	return out, errF, nil
}

// Writers returns rotating writers for both channels, used when the child
// runs attached and its output is tee'd by the caller.
func (c *Channels) Writers(port int) (io.WriteCloser, io.WriteCloser, error) {
	outPath, errPath, err := c.Paths(port)
	if err != nil {
		return nil, nil, err
	}
	return c.rotating(outPath), c.rotating(errPath), nil
}

// Clear deletes both files for port and returns the ones that existed.
func (c *Channels) Clear(port int) ([]string, error) {
	outPath, errPath, err := c.Paths(port)
	if err != nil {
		return nil, err
	}
	var cleared []string
	for _, p := range []string{outPath, errPath} {
		err := os.Remove(p)
		switch {
		case err == nil:
			cleared = append(cleared, p)
		case errors.Is(err, fs.ErrNotExist):
		default:
			return cleared, err
		}
	}
	return cleared, nil
}

// archive moves a non-empty file aside as a timestamped lumberjack backup,
// pruning old backups per the retention settings.
func (c *Channels) archive(path string) error {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && fi.Size() == 0) {
		return nil
	}
	if err != nil {
		return err
	}
	l := c.rotating(path)
	if err := l.Rotate(); err != nil {
		return err
	}
	return l.Close()
}

func (c *Channels) rotating(path string) *lj.Logger {
	return &lj.Logger{
		Filename:   path,
		MaxSize:    valOr(c.cfg.MaxSizeMB, DefaultMaxSizeMB),
		MaxBackups: valOr(c.cfg.MaxBackups, DefaultMaxBackups),
		MaxAge:     valOr(c.cfg.MaxAgeDays, DefaultMaxAgeDays),
		Compress:   c.cfg.Compress,
	}
}

func valOr(v int, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
