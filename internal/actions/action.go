// Package actions executes the individual action kinds of an agent state.
// The Dispatcher handles the data actions (call_api, llm, get_agent_config,
// set_agent_config) itself and reports control actions (wait_for_input,
// spawn_agent) back to the caller as outcomes, keeping this package free of
// any dependency on the engine.
package actions

import (
	"context"
)

// Status classifies what the executor must do after an action ran.
type Status int

const (
	// Completed means the action produced a result value that replaces the
	// instance's result slot.
	Completed Status = iota
	// NoResult means the action completed without touching the result slot.
	NoResult
	// Suspended means the instance must park until input is delivered.
	Suspended
	// Spawn means the executor must spawn a child agent.
	Spawn
)

// Outcome is the dispatcher's report on a single action.
type Outcome struct {
	Status Status
	Value  string // set when Status == Completed
}

// ExecContext carries the per-instance data an action can read: the original
// instance input, the current result slot, and the variable store lookup.
type ExecContext struct {
	Input  string
	Result string
	Lookup func(key string) (string, bool)
	Store  func(key, value string)
}

// APIRequest is the normalized input to an APICaller.
type APIRequest struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// APIResponse is the raw transport result. Status interpretation is the
// dispatcher's job.
type APIResponse struct {
	StatusCode int
	Body       string
}

// APICaller abstracts the HTTP transport used by call_api so tests can
// substitute a fake.
type APICaller interface {
	Do(ctx context.Context, req APIRequest) (APIResponse, error)
}
