// Package inspect discovers supervised application processes by their
// command line, independent of any marker files.
package inspect

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

// Signature is the heuristic process identity: a command line is managed
// when it contains every non-empty part.
type Signature struct {
	LaunchToken string // e.g. "streamlit"
	RunToken    string // e.g. "run"
	ProjectRoot string // absolute project root
	EntryPoint  string // e.g. "main.py"
}

// Matches reports whether cmdline carries the whole signature.
func (s Signature) Matches(cmdline string) bool {
	if cmdline == "" {
		return false
	}
	for _, part := range []string{s.LaunchToken, s.RunToken, s.ProjectRoot, s.EntryPoint} {
		if !strings.Contains(cmdline, part) {
			return false
		}
	}
	return true
}

// Instance is one managed process found on the host. Port is 0 when it
// could not be parsed from the command line.
type Instance struct {
	PID     int    `json:"pid"`
	Port    int    `json:"port,omitempty"`
	Cmdline string `json:"cmdline"`
}

// Inspector scans the process table for a Signature.
type Inspector struct {
	sig    Signature
	logger *slog.Logger
	self   int
}

func New(sig Signature, logger *slog.Logger) *Inspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inspector{sig: sig, logger: logger, self: os.Getpid()}
}

// Signature returns the identity this inspector matches.
func (i *Inspector) Signature() Signature { return i.sig }

// FindManaged lists every process whose command line matches the signature.
// Processes that vanish or deny access mid-scan are skipped; only a failure
// to list the process table at all is returned.
func (i *Inspector) FindManaged(ctx context.Context) ([]Instance, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	var out []Instance
	for _, p := range procs {
		pid := int(p.Pid)
		if pid == i.self {
			continue
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil {
			if transient(err) {
				i.logger.Debug("skip process during scan", "pid", pid, "error", err)
			} else {
				i.logger.Warn("read process command line", "pid", pid, "error", err)
			}
			continue
		}
		if len(args) == 0 {
			continue
		}
		cmdline := strings.Join(args, " ")
		if !i.sig.Matches(cmdline) {
			continue
		}
		out = append(out, Instance{PID: pid, Cmdline: cmdline})
	}
	return out, nil
}

// FindManagedWithPorts is FindManaged restricted to instances whose port
// could be extracted.
func (i *Inspector) FindManagedWithPorts(ctx context.Context) ([]Instance, error) {
	all, err := i.FindManaged(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, inst := range all {
		port, ok := ExtractPort(inst.Cmdline)
		if !ok {
			continue
		}
		inst.Port = port
		out = append(out, inst)
	}
	return out, nil
}

// transient classifies per-process scan errors: the process exited between
// listing and reading, or belongs to someone we cannot inspect.
func transient(err error) bool {
	return errors.Is(err, process.ErrorProcessNotRunning) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.ESRCH) ||
		errors.Is(err, syscall.EPERM) ||
		errors.Is(err, syscall.EACCES)
}
