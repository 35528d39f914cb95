//go:build windows

package process

import (
	"errors"
	"fmt"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// SIGTERM and SIGKILL as used by the controller. Windows has no graceful
// group signal, so both end in TerminateProcess.
const (
	SigTerm = syscall.SIGTERM
	SigKill = syscall.SIGKILL
)

func signalZero(pid int) bool {
	ok, err := gopsproc.PidExists(int32(pid))
	return err == nil && ok
}

// GroupOf returns pid itself; the child was created with
// CREATE_NEW_PROCESS_GROUP.
func GroupOf(pid int) (int, error) {
	if !signalZero(pid) {
		return 0, gopsproc.ErrorProcessNotRunning
	}
	return pid, nil
}

// Signal terminates pid. Windows cannot deliver POSIX signals to a group.
func Signal(pid, _ int, _ syscall.Signal) error {
	if pid <= 1 {
		return fmt.Errorf("%w %d", ErrInvalidPID, pid)
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return err
	}
	return p.Kill()
}

func IsNoSuchProcess(err error) bool {
	return errors.Is(err, gopsproc.ErrorProcessNotRunning)
}
