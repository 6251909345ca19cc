package schema

// Event type constants for the run-history log and the streaming hub.
const (
	EventInstanceStarted   = "instance_started"
	EventInstanceCompleted = "instance_completed"
	EventInstanceFailed    = "instance_failed"
	EventInstanceCancelled = "instance_cancelled"
	EventInstanceWaiting   = "instance_waiting"
	EventInstanceResumed   = "instance_resumed"

	EventStateEntered = "state_entered"
	EventStateExited  = "state_exited"

	EventActionCompleted = "action_completed"
	EventActionFailed    = "action_failed"

	EventChildSpawned  = "child_spawned"
	EventChildDetached = "child_detached"

	EventInputDelivered = "input_delivered"
	EventOutputEmitted  = "output_emitted"
)

// InstanceStatus represents the lifecycle state of an agent instance.
type InstanceStatus string

const (
	StatusPending         InstanceStatus = "pending"
	StatusRunning         InstanceStatus = "running"
	StatusWaitingForInput InstanceStatus = "waiting_for_input"
	StatusCompleted       InstanceStatus = "completed"
	StatusFailed          InstanceStatus = "failed"
	StatusCancelled       InstanceStatus = "cancelled"
)

// Terminal reports whether the status is terminal.
func (s InstanceStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}
