package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	lj "gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the manager's own logger.
type Options struct {
	Level   string    // debug | info | warn | error
	Console io.Writer // human-readable output, usually stderr; nil disables
	Color   bool      // ANSI level colours on Console
	File    string    // optional JSON log file, rotated by lumberjack
	MaxSize int       // MB before the file rotates
}

// ParseLevel maps a level name to slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// New builds a logger writing text to Console and JSON to File. The returned
// closer releases the file and must be called on shutdown.
func New(o Options) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(o.Level)
	if err != nil {
		return nil, nil, err
	}
	hopts := &slog.HandlerOptions{Level: lvl}
	var hs []slog.Handler
	if o.Console != nil {
		if o.Color {
			hs = append(hs, NewColorTextHandler(o.Console, hopts, false))
		} else {
			hs = append(hs, slog.NewTextHandler(o.Console, hopts))
		}
	}
	var closer io.Closer = nopCloser{}
	if o.File != "" {
		f := &lj.Logger{
			Filename:   o.File,
			MaxSize:    valOr(o.MaxSize, DefaultMaxSizeMB),
			MaxBackups: DefaultMaxBackups,
			MaxAge:     DefaultMaxAgeDays,
		}
		hs = append(hs, slog.NewJSONHandler(f, hopts))
		closer = f
	}
	switch len(hs) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, hopts)), closer, nil
	case 1:
		return slog.New(hs[0]), closer, nil
	default:
		return slog.New(fanout(hs)), closer, nil
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
