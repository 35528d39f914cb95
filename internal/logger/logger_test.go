package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPaths_CreatesDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs", "streamlit")
	c := NewChannels(Config{Dir: dir})
	out, errPath, err := c.Paths(8501)
	if err != nil {
		t.Fatalf("Paths error: %v", err)
	}
	if out != filepath.Join(dir, "grammar_correction_app_8501.out") {
		t.Fatalf("unexpected stdout path %s", out)
	}
	if errPath != filepath.Join(dir, "grammar_correction_app_8501.err") {
		t.Fatalf("unexpected stderr path %s", errPath)
	}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestPaths_NoDir(t *testing.T) {
	if _, _, err := NewChannels(Config{}).Paths(1); err == nil {
		t.Fatalf("expected error without a directory")
	}
}

func TestOpen_Truncates(t *testing.T) {
	c := NewChannels(Config{Dir: t.TempDir(), Prefix: "app"})
	outPath, _, _ := c.Paths(9000)
	if err := os.WriteFile(outPath, []byte("previous run\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out, errF, err := c.Open(9000)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_, _ = out.WriteString("fresh\n")
	_ = out.Close()
	_ = errF.Close()

	b, _ := os.ReadFile(outPath)
	if string(b) != "fresh\n" {
		t.Fatalf("expected truncated file, got %q", string(b))
	}
}

func TestOpen_KeepPreviousArchives(t *testing.T) {
	dir := t.TempDir()
	c := NewChannels(Config{Dir: dir, Prefix: "app", KeepPrevious: true})
	outPath, errPath, _ := c.Paths(9000)
	if err := os.WriteFile(outPath, []byte("run one\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// empty previous channel is not archived
	if err := os.WriteFile(errPath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	out, errF, err := c.Open(9000)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_ = out.Close()
	_ = errF.Close()

	entries, _ := os.ReadDir(dir)
	var backups []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "app_9000-") {
			backups = append(backups, e.Name())
		}
	}
	if len(backups) != 1 {
		t.Fatalf("expected one archived channel, got %v", backups)
	}
	b, _ := os.ReadFile(filepath.Join(dir, backups[0]))
	if string(b) != "run one\n" {
		t.Fatalf("archive content %q", string(b))
	}
	if fi, _ := os.Stat(outPath); fi.Size() != 0 {
		t.Fatalf("current channel not empty")
	}
}

func TestWriters(t *testing.T) {
	c := NewChannels(Config{Dir: t.TempDir()})
	outW, errW, err := c.Writers(8501)
	if err != nil {
		t.Fatalf("Writers error: %v", err)
	}
	_, _ = outW.Write([]byte("hello-out\n"))
	_, _ = errW.Write([]byte("hello-err\n"))
	_ = outW.Close()
	_ = errW.Close()

	outPath, errPath, _ := c.Paths(8501)
	if b, _ := os.ReadFile(outPath); string(b) != "hello-out\n" {
		t.Fatalf("stdout content %q", string(b))
	}
	if b, _ := os.ReadFile(errPath); string(b) != "hello-err\n" {
		t.Fatalf("stderr content %q", string(b))
	}
}

func TestClear(t *testing.T) {
	c := NewChannels(Config{Dir: t.TempDir()})
	outPath, errPath, _ := c.Paths(8501)
	_ = os.WriteFile(outPath, []byte("x"), 0o644)

	cleared, err := c.Clear(8501)
	if err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	if len(cleared) != 1 || cleared[0] != outPath {
		t.Fatalf("cleared %v", cleared)
	}
	if _, err := os.Stat(errPath); !os.IsNotExist(err) {
		t.Fatalf("stderr file should not exist")
	}

	cleared, err = c.Clear(8501)
	if err != nil || len(cleared) != 0 {
		t.Fatalf("second clear: %v %v", cleared, err)
	}
}
