package logger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fsnotify/fsnotify"
)

const tailBlock = 64 * 1024

// Tail writes the last lines of each existing channel file for port to w,
// each under a "==> path <==" header. With follow it keeps streaming
// appended data until ctx is done.
func (c *Channels) Tail(ctx context.Context, port, lines int, follow bool, w io.Writer) error {
	outPath, errPath, err := c.Paths(port)
	if err != nil {
		return err
	}
	var paths []string
	for _, p := range []string{outPath, errPath} {
		if _, err := os.Stat(p); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		return ErrNoLogs
	}
	return Tail(ctx, w, lines, follow, paths...)
}

// Tail prints the last lines of every path and optionally follows them.
func Tail(ctx context.Context, w io.Writer, lines int, follow bool, paths ...string) error {
	offsets := make(map[string]int64, len(paths))
	for i, p := range paths {
		if len(paths) > 1 {
			if i > 0 {
				_, _ = fmt.Fprintln(w)
			}
			_, _ = fmt.Fprintf(w, "==> %s <==\n", p)
		}
		end, err := lastLines(p, lines, w)
		if err != nil {
			return err
		}
		offsets[p] = end
	}
	if !follow {
		return nil
	}
	return followFiles(ctx, w, offsets)
}

// lastLines copies the final n lines of path to w and returns the file size
// it observed.
func lastLines(path string, n int, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := fi.Size()
	if n <= 0 || size == 0 {
		return size, nil
	}
	start := size
	var buf []byte
	for start > 0 {
		step := int64(tailBlock)
		if start < step {
			step = start
		}
		start -= step
		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		buf = append(chunk, buf...)
		// one extra newline: the file usually ends with one
		if bytes.Count(buf, []byte{'\n'}) > n {
			break
		}
	}
	trimmed := bytes.TrimSuffix(buf, []byte{'\n'})
	cut := 0
	for i, seen := len(trimmed)-1, 0; i >= 0; i-- {
		if trimmed[i] == '\n' {
			seen++
			if seen == n {
				cut = i + 1
				break
			}
		}
	}
	_, err = w.Write(buf[cut:])
	return size, err
}

func followFiles(ctx context.Context, w io.Writer, offsets map[string]int64) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	for p := range offsets {
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			off, tracked := offsets[ev.Name]
			if !tracked {
				continue
			}
			next, err := copyFrom(ev.Name, off, w)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					continue
				}
				return err
			}
			offsets[ev.Name] = next
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch: %w", err)
		}
	}
}

// copyFrom writes everything after off to w. A file that shrank was
// truncated by a new start, so it is read from the beginning.
func copyFrom(path string, off int64, w io.Writer) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return off, err
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return off, err
	}
	if fi.Size() < off {
		off = 0
	}
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return off, err
	}
	n, err := io.Copy(w, f)
	return off + n, err
}
