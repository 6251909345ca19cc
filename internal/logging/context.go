package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	instanceIDKey ctxKey = iota
	stateKeyKey
	agentLabelKey
)

// WithInstanceID returns a context with the instance ID set.
func WithInstanceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// WithStateKey returns a context with the current state key set.
func WithStateKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, stateKeyKey, key)
}

// WithAgentLabel returns a context with the agent label set.
func WithAgentLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, agentLabelKey, label)
}

// InstanceID extracts the instance ID from the context, or "" if absent.
func InstanceID(ctx context.Context) string {
	v, _ := ctx.Value(instanceIDKey).(string)
	return v
}

// StateKey extracts the state key from the context, or "" if absent.
func StateKey(ctx context.Context) string {
	v, _ := ctx.Value(stateKeyKey).(string)
	return v
}

// AgentLabel extracts the agent label from the context, or "" if absent.
func AgentLabel(ctx context.Context) string {
	v, _ := ctx.Value(agentLabelKey).(string)
	return v
}

// WithIDs sets all three correlation attributes on the context at once.
func WithIDs(ctx context.Context, instanceID, stateKey, agentLabel string) context.Context {
	ctx = WithInstanceID(ctx, instanceID)
	ctx = WithStateKey(ctx, stateKey)
	ctx = WithAgentLabel(ctx, agentLabel)
	return ctx
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation attributes from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := InstanceID(ctx); v != "" {
		r.AddAttrs(slog.String("instance_id", v))
	}
	if v := StateKey(ctx); v != "" {
		r.AddAttrs(slog.String("state_key", v))
	}
	if v := AgentLabel(ctx); v != "" {
		r.AddAttrs(slog.String("agent", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
