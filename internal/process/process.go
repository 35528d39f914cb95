// Package process holds the OS-level primitives the lifecycle controller
// builds on: zombie-aware liveness, process-group signalling, session
// launch and runner lookup.
package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// pollInterval is how often WaitExit re-checks liveness.
const pollInterval = 50 * time.Millisecond

// ErrInvalidPID is returned by Signal for pids that never name a supervised
// child: 0, negative values and init.
var ErrInvalidPID = errors.New("refusing to signal pid")

// Alive reports whether pid names a live process. A zombie (exited but not
// yet reaped) counts as dead.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if !signalZero(pid) {
		return false
	}
	return !isZombie(pid)
}

func isZombie(pid int) bool {
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return false
	}
	st, err := p.Status()
	if err != nil || len(st) == 0 {
		return false
	}
	return st[0] == gopsproc.Zombie
}

// WaitExit polls until pid is no longer alive or timeout elapses.
// It returns true once the process is gone.
func WaitExit(ctx context.Context, pid int, timeout time.Duration) bool {
	if !Alive(pid) {
		return true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return !Alive(pid)
		case <-deadline.C:
			return !Alive(pid)
		case <-tick.C:
			if !Alive(pid) {
				return true
			}
		}
	}
}

// Terminate asks a single process (not its group) to exit, waits up to grace
// and then kills it, waiting up to killWait for it to disappear. A process
// that is already gone is not an error.
func Terminate(ctx context.Context, pid int, grace, killWait time.Duration) error {
	if pid <= 1 {
		return fmt.Errorf("%w %d", ErrInvalidPID, pid)
	}
	p, err := gopsproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gopsproc.ErrorProcessNotRunning) {
			return nil
		}
		return err
	}
	if err := p.TerminateWithContext(ctx); err != nil {
		if IsNoSuchProcess(err) {
			return nil
		}
		return err
	}
	if WaitExit(ctx, pid, grace) {
		return nil
	}
	if err := p.KillWithContext(ctx); err != nil && !IsNoSuchProcess(err) {
		return err
	}
	if !WaitExit(ctx, pid, killWait) {
		return errors.New("process survived SIGKILL")
	}
	return nil
}
