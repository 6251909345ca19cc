// Package model defines the language-model collaborator interface used by
// the llm action, plus a deterministic in-memory implementation for tests.
// Provider adapters live in the anthropic and openai subpackages.
package model

import (
	"context"
	"fmt"
	"sync"
)

// Request captures the normalized model input produced by an llm action.
type Request struct {
	UserPrompt   string `json:"user_prompt"`
	SystemPrompt string `json:"system_prompt,omitempty"`
}

// Model is the minimal interface the dispatcher needs to drive generation.
type Model interface {
	Complete(ctx context.Context, req Request) (string, error)

	// Info returns a short provider/model identifier for logging.
	Info() Info
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock", etc.
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	err       error
	calls     []Request
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for a user prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailWith makes every subsequent Complete call return err.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns the requests seen so far.
func (m *MockModel) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Request, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// Complete implements Model.
func (m *MockModel) Complete(ctx context.Context, req Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if m.err != nil {
		return "", m.err
	}
	if resp, ok := m.responses[req.UserPrompt]; ok {
		return resp, nil
	}
	return fmt.Sprintf("mock response to: %s", req.UserPrompt), nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
