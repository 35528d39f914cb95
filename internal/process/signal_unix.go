//go:build !windows

package process

import (
	"errors"
	"fmt"
	"syscall"

	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// SIGTERM and SIGKILL as used by the controller.
const (
	SigTerm = syscall.SIGTERM
	SigKill = syscall.SIGKILL
)

// signalZero probes pid with signal 0. EPERM still proves existence.
func signalZero(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// GroupOf returns the process group id of pid.
func GroupOf(pid int) (int, error) {
	return syscall.Getpgid(pid)
}

// Signal delivers sig to the process group pgid. When pgid is unknown, is
// init's group or is the caller's own group, only pid is signalled.
// kill(-1) would reach every process the caller may signal.
func Signal(pid, pgid int, sig syscall.Signal) error {
	if pid <= 1 {
		return fmt.Errorf("%w %d", ErrInvalidPID, pid)
	}
	if pgid <= 1 || pgid == syscall.Getpgrp() {
		return syscall.Kill(pid, sig)
	}
	return syscall.Kill(-pgid, sig)
}

// IsNoSuchProcess reports whether err says the target no longer exists.
func IsNoSuchProcess(err error) bool {
	return errors.Is(err, syscall.ESRCH) || errors.Is(err, gopsproc.ErrorProcessNotRunning)
}
