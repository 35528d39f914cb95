package manager

import (
	"context"
	"fmt"

	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
)

// Stop stops the registered instance on port: SIGTERM to its process group,
// SIGKILL after the stop grace, then the marker is removed and remaining
// managed processes are swept. With no live registered instance Stop only
// sweeps orphans and succeeds. An instance that survives SIGKILL yields
// ErrStopTimeout and keeps its marker.
func (c *Controller) Stop(ctx context.Context, port int) error {
	log := c.log.With("port", port)
	pid, ok := c.registry.Read(port)
	if !ok || !c.registered(pid) {
		if ok {
			c.purgeStale(ctx, port, pid)
		}
		if n := c.sweepOrphans(ctx); n == 0 {
			log.Info("no running application")
		}
		metrics.IncStop(port, "noop")
		metrics.SetCurrentState(port, string(StateUnmanaged))
		return nil
	}

	log.Info("stopping application", "pid", pid)
	pgid, err := c.procs.groupOf(pid)
	if err != nil {
		if process.IsNoSuchProcess(err) {
			return c.stopped(ctx, port, pid, "stopped")
		}
		return c.stopFailed(ctx, port, pid, fmt.Errorf("resolve process group of pid %d: %w", pid, err))
	}

	if err := c.procs.signal(pid, pgid, process.SigTerm); err != nil {
		if process.IsNoSuchProcess(err) {
			return c.stopped(ctx, port, pid, "stopped")
		}
		return c.stopFailed(ctx, port, pid, fmt.Errorf("signal process group %d: %w", pgid, err))
	}
	if c.procs.waitExit(ctx, pid, c.timeouts.StopGrace) {
		return c.stopped(ctx, port, pid, "stopped")
	}

	log.Warn("application ignored SIGTERM, sending SIGKILL", "pid", pid, "pgid", pgid)
	if err := c.procs.signal(pid, pgid, process.SigKill); err != nil && !process.IsNoSuchProcess(err) {
		return c.stopFailed(ctx, port, pid, fmt.Errorf("kill process group %d: %w", pgid, err))
	}
	if !c.procs.waitExit(ctx, pid, c.timeouts.KillGrace) {
		return c.stopFailed(ctx, port, pid, fmt.Errorf("pid %d on port %d: %w", pid, port, ErrStopTimeout))
	}
	return c.stopped(ctx, port, pid, "killed")
}

func (c *Controller) stopped(ctx context.Context, port, pid int, outcome string) error {
	if err := c.registry.Remove(port); err != nil {
		c.log.Warn("remove marker", "port", port, "error", err)
	}
	c.log.Info("application stopped", "port", port, "pid", pid)
	metrics.IncStop(port, outcome)
	metrics.SetCurrentState(port, string(StateUnmanaged))
	c.record(ctx, history.EventStop, port, pid, outcome)
	c.sweepOrphans(ctx)
	return nil
}

func (c *Controller) stopFailed(ctx context.Context, port, pid int, err error) error {
	c.log.Error("failed to stop application", "port", port, "pid", pid, "error", err)
	metrics.IncStop(port, "failed")
	c.record(ctx, history.EventStopFailed, port, pid, err.Error())
	return err
}
