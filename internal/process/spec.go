package process

import (
	"context"
	"io"
	"os/exec"
	"time"
)

// Spec describes one launch of the supervised application.
type Spec struct {
	Path   string   // resolved executable
	Args   []string // arguments after the executable
	Dir    string   // working directory
	Env    []string // full environment, K=V
	Stdout io.Writer
	Stderr io.Writer
}

// Command builds a detached command: the child gets its own session and is
// not tied to any context, so it outlives the caller.
func (s Spec) Command() *exec.Cmd {
	cmd := exec.Command(s.Path, s.Args...)
	s.apply(cmd)
	return cmd
}

// CommandContext builds an attached command. When ctx is done the whole
// process group receives SIGTERM; if it has not exited after waitDelay the
// leader is killed and Wait returns.
func (s Spec) CommandContext(ctx context.Context, waitDelay time.Duration) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.Path, s.Args...)
	s.apply(cmd)
	cmd.Cancel = func() error {
		pid := cmd.Process.Pid
		return Signal(pid, pid, SigTerm)
	}
	cmd.WaitDelay = waitDelay
	return cmd
}

func (s Spec) apply(cmd *exec.Cmd) {
	cmd.Dir = s.Dir
	if len(s.Env) > 0 {
		cmd.Env = s.Env
	}
	cmd.Stdout = s.Stdout
	cmd.Stderr = s.Stderr
	configureSysProcAttr(cmd)
}
