package actions

import (
	"context"
	"log/slog"

	"github.com/rendis/agentic/internal/expressions"
	"github.com/rendis/agentic/internal/model"
	"github.com/rendis/agentic/pkg/schema"
)

// Dispatcher executes the data actions of an agent state. One dispatcher is
// shared by all instances; per-instance data arrives through ExecContext.
type Dispatcher struct {
	api   APICaller
	model model.Model
	jq    *expressions.Extractor
	log   *slog.Logger
}

// NewDispatcher wires the dispatcher's collaborators. logger must not be nil.
func NewDispatcher(api APICaller, m model.Model, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		api:   api,
		model: m,
		jq:    expressions.NewExtractor(),
		log:   logger,
	}
}

// Execute runs a single action and reports its outcome. Control actions
// (wait_for_input, spawn_agent) return immediately with the matching status;
// the executor owns their semantics.
func (d *Dispatcher) Execute(ctx context.Context, action schema.Action, ec ExecContext) (Outcome, error) {
	switch action.Type {
	case schema.ActionCallAPI:
		return d.callAPI(ctx, action.CallAPI, ec)
	case schema.ActionLLM:
		return d.callModel(ctx, action.LLM, ec)
	case schema.ActionWaitForInput:
		return Outcome{Status: Suspended}, nil
	case schema.ActionSpawnAgent:
		return Outcome{Status: Spawn}, nil
	case schema.ActionGetAgentConfig:
		return d.getConfig(ctx, action.ConfigKey, ec)
	case schema.ActionSetAgentConfig:
		return d.setConfig(ctx, action.ConfigKey, ec)
	default:
		return Outcome{}, schema.NewErrorf(schema.ErrCodeExecution, "unknown action type %q", action.Type)
	}
}

func (d *Dispatcher) callAPI(ctx context.Context, data *schema.CallAPIData, ec ExecContext) (Outcome, error) {
	req := APIRequest{
		URL:    d.interpolate(ctx, data.URL, ec),
		Method: data.Method,
		Body:   d.interpolate(ctx, data.Body, ec),
	}
	if data.AuthHeaderName != "" {
		req.Headers = map[string]string{
			data.AuthHeaderName: d.interpolate(ctx, data.AuthHeaderValue, ec),
		}
	}

	resp, err := d.api.Do(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if resp.StatusCode >= 400 {
		return Outcome{}, schema.NewErrorf(schema.ErrCodeTransport, "api call to %s returned %d", req.URL, resp.StatusCode).
			WithDetails(map[string]any{"status_code": resp.StatusCode, "body": truncate(resp.Body, 512)})
	}

	value, err := d.applyResultPath(ctx, data.ResultPath, resp.Body)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: Completed, Value: value}, nil
}

func (d *Dispatcher) callModel(ctx context.Context, data *schema.LLMData, ec ExecContext) (Outcome, error) {
	req := model.Request{UserPrompt: d.interpolate(ctx, data.UserPrompt, ec)}
	if data.SystemPrompt != nil {
		req.SystemPrompt = d.interpolate(ctx, *data.SystemPrompt, ec)
	}

	text, err := d.model.Complete(ctx, req)
	if err != nil {
		if _, ok := err.(*schema.AgenticError); ok {
			return Outcome{}, err
		}
		return Outcome{}, schema.NewErrorf(schema.ErrCodeProvider, "model completion failed: %s", err.Error()).WithCause(err)
	}

	value, err := d.applyResultPath(ctx, data.ResultPath, text)
	if err != nil {
		return Outcome{}, err
	}
	return Outcome{Status: Completed, Value: value}, nil
}

func (d *Dispatcher) getConfig(ctx context.Context, key string, ec ExecContext) (Outcome, error) {
	resolved := d.interpolate(ctx, key, ec)
	value, ok := ec.Lookup(resolved)
	if !ok {
		return Outcome{}, schema.NewErrorf(schema.ErrCodeMissingKey, "config key %q is not set", resolved)
	}
	return Outcome{Status: Completed, Value: value}, nil
}

func (d *Dispatcher) setConfig(ctx context.Context, key string, ec ExecContext) (Outcome, error) {
	if ec.Store == nil {
		return Outcome{}, schema.NewErrorf(schema.ErrCodeExecution, "no variable store attached")
	}
	resolved := d.interpolate(ctx, key, ec)
	ec.Store(resolved, ec.Result)
	return Outcome{Status: NoResult}, nil
}

// interpolate resolves placeholder tokens against the execution context.
// Missing sources resolve to the empty string with a warning, matching the
// forgiving template semantics of the config grammar.
func (d *Dispatcher) interpolate(ctx context.Context, template string, ec ExecContext) string {
	resolved, missing := expressions.Resolve(template, expressions.Scope{
		Input:  ec.Input,
		Output: ec.Result,
		Lookup: ec.Lookup,
	})
	for _, token := range missing {
		d.log.WarnContext(ctx, "placeholder resolved to empty string", "token", token)
	}
	return resolved
}

func (d *Dispatcher) applyResultPath(ctx context.Context, path, raw string) (string, error) {
	if path == "" {
		return raw, nil
	}
	return d.jq.ExtractString(ctx, path, raw)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
