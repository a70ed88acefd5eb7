package history

import (
	"context"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart          EventType = "start"
	EventDrainRequested EventType = "drain_requested"
	EventDrainCompleted EventType = "drain_completed"
	EventDrainTimedOut  EventType = "drain_timed_out"
	EventStop           EventType = "stop"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Service    string    `json:"service"`
	PID        int       `json:"pid"`
	Detail     string    `json:"detail"`
}

// Sink is a destination for history events (analytics/statistics
// systems). Implementations must be safe for concurrent use. Sends are
// best-effort; a failing sink never affects the stop protocol.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
