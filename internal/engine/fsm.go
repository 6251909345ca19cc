package engine

import (
	"context"
	"sync"

	"github.com/rendis/agentic/internal/store"
	"github.com/rendis/agentic/pkg/schema"
)

// EventAppender is satisfied by the RunStore; the FSM emits a lifecycle
// event for every accepted transition.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.RunEvent) error
}

// InstanceFSM validates instance lifecycle transitions against a fixed
// table and records each one in the run event log.
type InstanceFSM struct {
	mu       sync.Mutex
	appender EventAppender
}

// NewInstanceFSM creates an FSM that emits events via the given appender.
func NewInstanceFSM(appender EventAppender) *InstanceFSM {
	return &InstanceFSM{appender: appender}
}

// Transition validates and records an instance status transition. It returns
// the lifecycle event type that was emitted, so the caller can mirror it on
// the streaming hub.
func (f *InstanceFSM) Transition(ctx context.Context, instanceID, stateKey string, from, to schema.InstanceStatus) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !isValidInstanceTransition(from, to) {
		return "", schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid instance transition: %s -> %s", from, to).
			WithInstance(instanceID).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}

	eventType := transitionEventType(from, to)
	if eventType != "" {
		event := &store.RunEvent{
			RunID:    instanceID,
			StateKey: stateKey,
			Type:     eventType,
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return "", schema.NewErrorf(schema.ErrCodeStore, "emit lifecycle event: %s", err.Error()).
				WithInstance(instanceID).WithCause(err)
		}
	}
	return eventType, nil
}

func isValidInstanceTransition(from, to schema.InstanceStatus) bool {
	allowed, ok := ValidInstanceTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// transitionEventType maps a transition to its lifecycle event. Entering
// running means started on the first transition and resumed when coming back
// from a wait.
func transitionEventType(from, to schema.InstanceStatus) string {
	switch to {
	case schema.StatusRunning:
		if from == schema.StatusWaitingForInput {
			return schema.EventInstanceResumed
		}
		return schema.EventInstanceStarted
	case schema.StatusWaitingForInput:
		return schema.EventInstanceWaiting
	case schema.StatusCompleted:
		return schema.EventInstanceCompleted
	case schema.StatusFailed:
		return schema.EventInstanceFailed
	case schema.StatusCancelled:
		return schema.EventInstanceCancelled
	default:
		return ""
	}
}

// ValidInstanceTransitions defines the allowed lifecycle transitions.
// Terminal statuses have no successors.
var ValidInstanceTransitions = map[schema.InstanceStatus][]schema.InstanceStatus{
	schema.StatusPending:         {schema.StatusRunning, schema.StatusCancelled, schema.StatusFailed},
	schema.StatusRunning:         {schema.StatusWaitingForInput, schema.StatusCompleted, schema.StatusFailed, schema.StatusCancelled},
	schema.StatusWaitingForInput: {schema.StatusRunning, schema.StatusFailed, schema.StatusCancelled},
	schema.StatusCompleted:       {},
	schema.StatusFailed:          {},
	schema.StatusCancelled:       {},
}
