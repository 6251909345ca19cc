// Package streaming carries real-time execution events from running agent
// instances to subscribers: lifecycle transitions, action results, and the
// named output streams agents publish their terminal results on.
package streaming

import (
	"context"
	"time"
)

// StreamEvent is a real-time event emitted during agent execution.
type StreamEvent struct {
	InstanceID string    `json:"instance_id"`
	AgentLabel string    `json:"agent_label,omitempty"`
	StateKey   string    `json:"state_key,omitempty"`
	Stream     string    `json:"stream,omitempty"` // named output stream, when the event is an emission
	EventType  string    `json:"event_type"`
	Payload    any       `json:"payload,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// EventFilter specifies which events a subscriber wants to receive. Zero
// fields match everything.
type EventFilter struct {
	InstanceID string   `json:"instance_id,omitempty"`
	Stream     string   `json:"stream,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// Matches reports whether the event passes the filter.
func (f EventFilter) Matches(e StreamEvent) bool {
	if f.InstanceID != "" && f.InstanceID != e.InstanceID {
		return false
	}
	if f.Stream != "" && f.Stream != e.Stream {
		return false
	}
	if len(f.EventTypes) == 0 {
		return true
	}
	for _, t := range f.EventTypes {
		if t == e.EventType {
			return true
		}
	}
	return false
}

// EventHub provides pub/sub for real-time agent events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
