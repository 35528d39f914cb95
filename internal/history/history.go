package history

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"         // launched and confirmed listening
	EventAdopt        EventType = "adopt"         // existing instance taken over
	EventStop         EventType = "stop"          // confirmed stopped
	EventStale        EventType = "stale"         // marker named a dead pid and was purged
	EventOrphan       EventType = "orphan"        // unregistered instance terminated
	EventLaunchFailed EventType = "launch_failed" // child died or never listened
	EventStopFailed   EventType = "stop_failed"   // survived SIGKILL
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Port       int       `json:"port"`
	PID        int       `json:"pid"`
	Message    string    `json:"message,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Multi delivers each event to every sink concurrently. A failing sink does
// not cancel delivery to the others.
type Multi []Sink

func (m Multi) Send(ctx context.Context, e Event) error {
	var g errgroup.Group
	for _, s := range m {
		g.Go(func() error { return s.Send(ctx, e) })
	}
	return g.Wait()
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
