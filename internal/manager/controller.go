// Package manager implements the lifecycle controller: start, stop, status
// and cleanup of the supervised application, one instance per port.
package manager

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/appvisor/internal/history"
	"github.com/loykin/appvisor/internal/inspect"
	"github.com/loykin/appvisor/internal/metrics"
	"github.com/loykin/appvisor/internal/process"
	"github.com/loykin/appvisor/internal/registry"
)

// eventTimeout bounds delivery of one history event.
const eventTimeout = 5 * time.Second

// PortChecker reports whether nothing listens on a local port.
type PortChecker interface {
	IsPortAvailable(ctx context.Context, port int) bool
}

// Finder locates managed instances by command line.
type Finder interface {
	FindManaged(ctx context.Context) ([]inspect.Instance, error)
	FindManagedWithPorts(ctx context.Context) ([]inspect.Instance, error)
}

// LogSinks hands out the per-port output channels of the child.
type LogSinks interface {
	Open(port int) (*os.File, *os.File, error)
	Writers(port int) (io.WriteCloser, io.WriteCloser, error)
}

// Launch describes how the application is started. Args may contain the
// placeholders {entry} and {port}.
type Launch struct {
	Runner    string   // executable looked up on PATH
	Fallbacks []string // checked in order when PATH lookup fails
	Args      []string
	Entry     string   // absolute entry-point path
	Dir       string   // working directory, the project root
	Env       []string // extra K=V on top of the OS environment
}

func (l Launch) args(port int) []string {
	r := strings.NewReplacer("{entry}", l.Entry, "{port}", strconv.Itoa(port))
	out := make([]string, len(l.Args))
	for i, a := range l.Args {
		out[i] = r.Replace(a)
	}
	return out
}

// Timeouts bounds every wait the controller performs.
type Timeouts struct {
	Startup      time.Duration // launch until listening
	PollInterval time.Duration // between readiness probes
	StopGrace    time.Duration // SIGTERM until SIGKILL
	KillGrace    time.Duration // SIGKILL until giving up
	OrphanGrace  time.Duration // orphan SIGTERM until SIGKILL
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Startup:      15 * time.Second,
		PollInterval: 500 * time.Millisecond,
		StopGrace:    3 * time.Second,
		KillGrace:    time.Second,
		OrphanGrace:  3 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Startup <= 0 {
		t.Startup = d.Startup
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.StopGrace <= 0 {
		t.StopGrace = d.StopGrace
	}
	if t.KillGrace <= 0 {
		t.KillGrace = d.KillGrace
	}
	if t.OrphanGrace <= 0 {
		t.OrphanGrace = d.OrphanGrace
	}
	return t
}

// Options wires a Controller. History, Logger, Stdout and Stderr are optional.
type Options struct {
	Registry registry.Store
	Finder   Finder
	Prober   PortChecker
	Logs     LogSinks
	Launch   Launch
	Timeouts Timeouts
	History  history.Sink
	Logger   *slog.Logger
	Stdout   io.Writer // foreground child output, default os.Stdout
	Stderr   io.Writer // default os.Stderr
}

// osProcs is the process surface used to check and stop registered pids.
type osProcs struct {
	alive    func(pid int) bool
	groupOf  func(pid int) (int, error)
	signal   func(pid, pgid int, sig syscall.Signal) error
	waitExit func(ctx context.Context, pid int, timeout time.Duration) bool
}

var hostProcs = osProcs{
	alive:    process.Alive,
	groupOf:  process.GroupOf,
	signal:   process.Signal,
	waitExit: process.WaitExit,
}

// Controller coordinates the registry, the inspector and the prober. Calls
// are synchronous and do not lock across invocations.
type Controller struct {
	registry registry.Store
	finder   Finder
	prober   PortChecker
	logs     LogSinks
	launch   Launch
	timeouts Timeouts
	history  history.Sink
	log      *slog.Logger
	stdout   io.Writer
	stderr   io.Writer
	procs    osProcs
}

func New(o Options) (*Controller, error) {
	switch {
	case o.Registry == nil:
		return nil, errors.New("manager: registry is required")
	case o.Finder == nil:
		return nil, errors.New("manager: finder is required")
	case o.Prober == nil:
		return nil, errors.New("manager: prober is required")
	case o.Logs == nil:
		return nil, errors.New("manager: log sinks are required")
	case o.Launch.Runner == "":
		return nil, errors.New("manager: runner is required")
	}
	c := &Controller{
		registry: o.Registry,
		finder:   o.Finder,
		prober:   o.Prober,
		logs:     o.Logs,
		launch:   o.Launch,
		timeouts: o.Timeouts.withDefaults(),
		history:  o.History,
		log:      o.Logger,
		stdout:   o.Stdout,
		stderr:   o.Stderr,
		procs:    hostProcs,
	}
	if c.log == nil {
		c.log = slog.Default()
	}
	if c.stdout == nil {
		c.stdout = os.Stdout
	}
	if c.stderr == nil {
		c.stderr = os.Stderr
	}
	return c, nil
}

// Cleanup terminates every managed instance regardless of port and returns
// how many were terminated. It never fails.
func (c *Controller) Cleanup(ctx context.Context) int {
	c.log.Info("cleaning up orphaned instances")
	n := c.sweepOrphans(ctx)
	c.log.Info("cleanup completed", "terminated", n)
	return n
}

// sweepOrphans sends SIGTERM to each managed process, escalating to SIGKILL
// after the orphan grace period.
func (c *Controller) sweepOrphans(ctx context.Context) int {
	insts, err := c.finder.FindManaged(ctx)
	if err != nil {
		c.log.Warn("scan for orphaned instances", "error", err)
		return 0
	}
	n := 0
	for _, inst := range insts {
		port, _ := inspect.ExtractPort(inst.Cmdline)
		c.log.Info("terminating orphaned instance", "pid", inst.PID, "port", port)
		if err := process.Terminate(ctx, inst.PID, c.timeouts.OrphanGrace, c.timeouts.KillGrace); err != nil {
			c.log.Warn("terminate orphaned instance", "pid", inst.PID, "error", err)
			continue
		}
		n++
		metrics.IncOrphan()
		c.record(ctx, history.EventOrphan, port, inst.PID, "")
	}
	return n
}

// registered reports whether a marker pid names a live process. Pids 0 and 1
// never belong to a supervised child, so such markers count as stale.
func (c *Controller) registered(pid int) bool {
	return pid > 1 && c.procs.alive(pid)
}

func (c *Controller) purgeStale(ctx context.Context, port, pid int) {
	c.log.Info("removing stale marker", "port", port, "pid", pid)
	if err := c.registry.Remove(port); err != nil {
		c.log.Warn("remove stale marker", "port", port, "error", err)
	}
	metrics.IncStale(port)
	c.record(ctx, history.EventStale, port, pid, "")
}

// record delivers an event to the history sinks. Delivery outlives a
// cancelled ctx so that interrupted operations are still recorded.
func (c *Controller) record(ctx context.Context, t history.EventType, port, pid int, msg string) {
	if c.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), eventTimeout)
	defer cancel()
	e := history.Event{Type: t, OccurredAt: time.Now().UTC(), Port: port, PID: pid, Message: msg}
	if err := c.history.Send(ctx, e); err != nil {
		c.log.Warn("record history event", "type", t, "port", port, "error", err)
	}
}
