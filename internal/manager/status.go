package manager

import (
	"context"
	"fmt"

	"github.com/loykin/appvisor/internal/inspect"
	"github.com/loykin/appvisor/internal/metrics"
)

// State is the derived condition of one port.
type State string

const (
	StateUnmanaged State = "unmanaged" // no marker, no live instance on the port
	StateRunning   State = "running"   // marker names a live process
	StateStale     State = "stale"     // marker names a dead process
	StateOrphaned  State = "orphaned"  // live instance on the port without a matching marker
)

// InstanceStatus is one managed process seen by the scan.
type InstanceStatus struct {
	inspect.Instance
	Running bool `json:"running"`
}

// Report is the result of Status.
type Report struct {
	Port      int              `json:"port"`
	State     State            `json:"state"`
	Running   bool             `json:"running"`
	PID       int              `json:"pid,omitempty"`
	Message   string           `json:"message"`
	Instances []InstanceStatus `json:"instances"`
}

// State derives the condition of port without side effects.
func (c *Controller) State(ctx context.Context, port int) State {
	pid, ok := c.registry.Read(port)
	if ok {
		if c.registered(pid) {
			return StateRunning
		}
		return StateStale
	}
	insts, err := c.finder.FindManagedWithPorts(ctx)
	if err != nil {
		c.log.Warn("scan for running instances", "error", err)
	}
	for _, inst := range insts {
		if inst.Port == port && c.procs.alive(inst.PID) {
			return StateOrphaned
		}
	}
	return StateUnmanaged
}

// Status lists every managed instance on the host and reports on port.
// A marker naming a dead process is removed as a side effect.
func (c *Controller) Status(ctx context.Context, port int) (Report, error) {
	rep := Report{Port: port, Instances: []InstanceStatus{}}
	insts, err := c.finder.FindManagedWithPorts(ctx)
	if err != nil {
		c.log.Warn("scan for running instances", "error", err)
	}
	for _, inst := range insts {
		rep.Instances = append(rep.Instances, InstanceStatus{Instance: inst, Running: c.procs.alive(inst.PID)})
	}

	marker, hasMarker := c.registry.Read(port)
	for _, is := range rep.Instances {
		if is.Port != port || !is.Running {
			continue
		}
		rep.Running = true
		rep.PID = is.PID
		rep.State = StateOrphaned
		if hasMarker && marker == is.PID {
			rep.State = StateRunning
		}
		rep.Message = fmt.Sprintf("running (PID %d, port %d)", is.PID, port)
		metrics.SetCurrentState(port, string(rep.State))
		return rep, nil
	}

	switch {
	case !hasMarker:
		rep.State = StateUnmanaged
		rep.Message = "not managed (no marker)"
	case c.registered(marker):
		rep.State = StateRunning
		rep.Running = true
		rep.PID = marker
		rep.Message = fmt.Sprintf("running (PID %d, port %d)", marker, port)
	default:
		c.purgeStale(ctx, port, marker)
		rep.State = StateStale
		rep.PID = marker
		rep.Message = "stopped (stale marker)"
	}
	metrics.SetCurrentState(port, string(rep.State))
	return rep, nil
}
