package manager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/appvisor/internal/env"
	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
)

var errNotListening = errors.New("port not listening yet")

// StartOptions selects how Start launches the application.
type StartOptions struct {
	Port          int
	Background    bool // detach and return once the port is listening
	EnableLogging bool // write the child's output to the port's log channels
	Restart       bool // replace a running instance instead of adopting it
}

// Start ensures an instance is running on o.Port and returns its pid.
//
// A running instance found by command line or by marker is adopted (or,
// with Restart, stopped first). Every other managed instance is then
// terminated, the port is checked to be free and the runner is launched in
// a new session. In background mode Start returns once the port accepts
// connections; in foreground mode it blocks until the child exits or ctx is
// cancelled and returns pid 0.
func (c *Controller) Start(ctx context.Context, o StartOptions) (int, error) {
	if o.Port <= 0 || o.Port > 65535 {
		return 0, fmt.Errorf("invalid port %d", o.Port)
	}
	log := c.log.With("port", o.Port)

	insts, err := c.finder.FindManagedWithPorts(ctx)
	if err != nil {
		log.Warn("scan for running instances", "error", err)
	}
	for _, inst := range insts {
		if inst.Port != o.Port {
			log.Info("managed instance running on another port", "other_port", inst.Port, "pid", inst.PID)
			continue
		}
		if !o.Restart {
			return c.adopt(ctx, o.Port, inst.PID), nil
		}
		log.Info("restarting running instance", "pid", inst.PID)
		if err := c.Stop(ctx, o.Port); err != nil {
			return 0, err
		}
		break
	}

	if pid, ok := c.registry.Read(o.Port); ok {
		if c.registered(pid) {
			if !o.Restart {
				log.Info("application already running", "pid", pid)
				metrics.IncStart(o.Port, "adopted")
				return pid, nil
			}
			log.Info("restarting registered instance", "pid", pid)
			if err := c.Stop(ctx, o.Port); err != nil {
				return 0, err
			}
		} else {
			c.purgeStale(ctx, o.Port, pid)
		}
	}

	c.sweepOrphans(ctx)

	if !c.prober.IsPortAvailable(ctx, o.Port) {
		log.Error("port is in use by another process")
		metrics.IncLaunchFailure(o.Port, "port_conflict")
		return 0, fmt.Errorf("port %d: %w", o.Port, ErrPortConflict)
	}

	runner, err := process.FindRunner(c.launch.Runner, c.launch.Fallbacks)
	if err != nil {
		log.Error("runner not found; install it or add it to PATH", "runner", c.launch.Runner)
		metrics.IncLaunchFailure(o.Port, "prerequisite")
		return 0, fmt.Errorf("%w: %w", ErrPrerequisiteMissing, err)
	}

	spec := c.spec(runner, o.Port)
	log.Info("starting application", "runner", runner, "args", spec.Args, "background", o.Background)
	if !o.Background {
		return 0, c.runForeground(ctx, spec, o)
	}
	return c.startBackground(ctx, spec, o)
}

func (c *Controller) adopt(ctx context.Context, port, pid int) int {
	c.log.Info("application already running", "port", port, "pid", pid)
	if err := c.registry.Write(port, pid); err != nil {
		c.log.Warn("write marker", "port", port, "pid", pid, "error", err)
	}
	metrics.IncStart(port, "adopted")
	metrics.SetCurrentState(port, string(StateRunning))
	c.record(ctx, history.EventAdopt, port, pid, "")
	return pid
}

// spec builds the launch; the runner's directory goes first on PATH so the
// tools it spawns resolve the same way.
func (c *Controller) spec(runner string, port int) process.Spec {
	e := env.New()
	e.PrependPath(filepath.Dir(runner))
	return process.Spec{
		Path: runner,
		Args: c.launch.args(port),
		Dir:  c.launch.Dir,
		Env:  e.Merge(c.launch.Env),
	}
}

func (c *Controller) startBackground(ctx context.Context, spec process.Spec, o StartOptions) (int, error) {
	log := c.log.With("port", o.Port)
	if o.EnableLogging {
		out, errF, err := c.logs.Open(o.Port)
		if err != nil {
			return 0, fmt.Errorf("open log channels: %w", err)
		}
		// the child holds its own descriptors once started
		defer func() {
			_ = out.Close()
			_ = errF.Close()
		}()
		log.Info("application output", "stdout", out.Name(), "stderr", errF.Name())
		spec.Stdout, spec.Stderr = out, errF
	}

	cmd := spec.Command()
	if err := cmd.Start(); err != nil {
		metrics.IncLaunchFailure(o.Port, "exec")
		return 0, fmt.Errorf("launch %s: %w", spec.Path, err)
	}
	pid := cmd.Process.Pid
	exited := make(chan struct{})
	go func() {
		err := cmd.Wait()
		c.log.Debug("application process exited", "port", o.Port, "pid", pid, "error", err)
		close(exited)
	}()

	log.Info("waiting for application to listen", "pid", pid, "timeout", c.timeouts.Startup)
	began := time.Now()
	if err := c.awaitListening(ctx, o.Port, exited); err != nil {
		reason := "timeout"
		if errors.Is(err, ErrPrematureExit) {
			reason = "premature_exit"
		}
		log.Error("application failed to start", "pid", pid, "error", err)
		c.killGroup(pid, exited)
		metrics.IncLaunchFailure(o.Port, reason)
		c.record(ctx, history.EventLaunchFailed, o.Port, pid, err.Error())
		return 0, &LaunchError{Port: o.Port, PID: pid, Err: err}
	}

	if err := c.registry.Write(o.Port, pid); err != nil {
		log.Warn("write marker", "pid", pid, "error", err)
	}
	metrics.ObserveStartup(o.Port, time.Since(began).Seconds())
	metrics.IncStart(o.Port, "launched")
	metrics.SetCurrentState(o.Port, string(StateRunning))
	c.record(ctx, history.EventStart, o.Port, pid, "")
	log.Info("application started", "pid", pid, "url", fmt.Sprintf("http://localhost:%d", o.Port))
	return pid, nil
}

// awaitListening polls the port until it accepts connections, the child
// exits, or the startup timeout passes.
func (c *Controller) awaitListening(ctx context.Context, port int, exited <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Startup)
	defer cancel()

	op := func() error {
		if !c.prober.IsPortAvailable(ctx, port) {
			return nil
		}
		select {
		case <-exited:
			return backoff.Permanent(ErrPrematureExit)
		default:
			return errNotListening
		}
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.NewConstantBackOff(c.timeouts.PollInterval), ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrPrematureExit):
		return fmt.Errorf("exited before port %d opened: %w", port, ErrPrematureExit)
	default:
		return fmt.Errorf("port %d not listening after %s: %w", port, c.timeouts.Startup, ErrLaunchTimeout)
	}
}

// killGroup kills the launch's whole process group and waits briefly for
// the reaper.
func (c *Controller) killGroup(pid int, exited <-chan struct{}) {
	if err := process.Signal(pid, pid, process.SigKill); err != nil && !process.IsNoSuchProcess(err) {
		c.log.Warn("kill process group", "pgid", pid, "error", err)
	}
	select {
	case <-exited:
	case <-time.After(c.timeouts.KillGrace):
		c.log.Warn("process not reaped after kill", "pid", pid)
	}
}

// runForeground runs the child attached to the caller's output. Cancelling
// ctx stops it: SIGTERM to the group, then SIGKILL after the stop grace.
func (c *Controller) runForeground(ctx context.Context, spec process.Spec, o StartOptions) error {
	log := c.log.With("port", o.Port)
	stdout, stderr := c.stdout, c.stderr
	if o.EnableLogging {
		outW, errW, err := c.logs.Writers(o.Port)
		if err != nil {
			return fmt.Errorf("open log channels: %w", err)
		}
		defer func() {
			_ = outW.Close()
			_ = errW.Close()
		}()
		stdout, stderr = io.MultiWriter(stdout, outW), io.MultiWriter(stderr, errW)
	}
	spec.Stdout, spec.Stderr = stdout, stderr

	cmd := spec.CommandContext(ctx, c.timeouts.StopGrace)
	if err := cmd.Start(); err != nil {
		metrics.IncLaunchFailure(o.Port, "exec")
		return fmt.Errorf("launch %s: %w", spec.Path, err)
	}
	pid := cmd.Process.Pid
	metrics.IncStart(o.Port, "foreground")
	c.record(ctx, history.EventStart, o.Port, pid, "foreground")
	log.Info("application running in foreground, interrupt to stop", "pid", pid)

	err := cmd.Wait()
	if ctx.Err() != nil {
		// leftovers in the group after the leader went away
		if kerr := process.Signal(pid, pid, process.SigKill); kerr != nil && !process.IsNoSuchProcess(kerr) {
			log.Warn("kill process group", "pgid", pid, "error", kerr)
		}
		log.Info("application stopped", "pid", pid)
		metrics.IncStop(o.Port, "stopped")
		c.record(ctx, history.EventStop, o.Port, pid, "interrupted")
		return nil
	}
	c.record(ctx, history.EventStop, o.Port, pid, "exited")
	if err != nil {
		return fmt.Errorf("application exited: %w", err)
	}
	log.Info("application exited", "pid", pid)
	return nil
}
