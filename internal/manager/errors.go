package manager

import (
	"errors"
	"fmt"
)

var (
	// ErrPrerequisiteMissing means the runner executable could not be found.
	ErrPrerequisiteMissing = errors.New("prerequisite missing")
	// ErrPortConflict means something unrelated already listens on the port.
	ErrPortConflict = errors.New("port already in use")
	// ErrLaunchTimeout means the child never started listening in time.
	ErrLaunchTimeout = errors.New("application did not start listening in time")
	// ErrPrematureExit means the child exited before its port opened.
	ErrPrematureExit = errors.New("application exited during startup")
	// ErrStopTimeout means the instance survived SIGKILL.
	ErrStopTimeout = errors.New("application did not stop")
)

// LaunchError reports a child that was started but never became ready.
// Its process group has been killed by the time the error is returned.
type LaunchError struct {
	Port int
	PID  int
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch on port %d (pid %d): %v", e.Port, e.PID, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
