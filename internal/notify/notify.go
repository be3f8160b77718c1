// Package notify publishes dispatch lifecycle events to downstream
// consumers such as control-room displays.
package notify

import (
	"context"
	"time"
)

// Event types.
const (
	DispatchCreated = "dispatch.created"
	DispatchUpdated = "dispatch.updated"
)

// Event describes a committed dispatch change.
type Event struct {
	Type        string    `json:"type"`
	DispatchID  string    `json:"dispatch_id"`
	SessionID   string    `json:"session_id"`
	ResponderID string    `json:"responder_id,omitempty"`
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
}

// Publisher delivers events. Publish must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
