package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/rendis/agentic/internal/actions"
	"github.com/rendis/agentic/internal/expressions"
	"github.com/rendis/agentic/internal/logging"
	"github.com/rendis/agentic/internal/store"
	"github.com/rendis/agentic/internal/streaming"
	"github.com/rendis/agentic/pkg/schema"
)

// Executor drives a single instance through its state machine. One executor
// is shared by every instance; each Run call owns one instance's goroutine.
type Executor struct {
	dispatcher *actions.Dispatcher
	spawner    *Spawner
	runs       store.RunStore
	hub        streaming.EventHub
	fsm        *InstanceFSM
	log        *slog.Logger
}

// NewExecutor wires the executor. The spawner's runner must be set to the
// returned executor before any spawn_agent action executes.
func NewExecutor(dispatcher *actions.Dispatcher, spawner *Spawner, runs store.RunStore, hub streaming.EventHub, logger *slog.Logger) *Executor {
	return &Executor{
		dispatcher: dispatcher,
		spawner:    spawner,
		runs:       runs,
		hub:        hub,
		fsm:        NewInstanceFSM(runs),
		log:        logger,
	}
}

// Run executes the instance to a terminal status. It never returns before
// the instance is terminal and Done() is closed.
func (e *Executor) Run(ctx context.Context, inst *Instance) {
	ctx = logging.WithIDs(ctx, inst.id, "", inst.def.Label)
	defer inst.finish()

	if err := e.transition(ctx, inst, schema.StatusRunning); err != nil {
		e.fail(ctx, inst, err)
		return
	}
	e.log.InfoContext(ctx, "instance started", "initial_state", inst.def.InitialStateKey)

	stateKey := inst.def.InitialStateKey
	for {
		if ctx.Err() != nil {
			e.markCancelled(ctx, inst)
			return
		}

		state, ok := inst.def.States[stateKey]
		if !ok {
			e.fail(ctx, inst, schema.NewErrorf(schema.ErrCodeInvalidTransition,
				"next state %q is not defined", stateKey).WithInstance(inst.id))
			return
		}

		sctx := logging.WithStateKey(ctx, stateKey)
		inst.setPosition(stateKey, 0)
		e.publish(sctx, inst, schema.EventStateEntered, stateKey, "", nil)

		for i, action := range state.Actions {
			inst.setPosition(stateKey, i)

			out, err := e.dispatcher.Execute(sctx, action, e.execContext(inst))
			if err != nil {
				if ctx.Err() != nil {
					e.markCancelled(ctx, inst)
					return
				}
				e.publish(sctx, inst, schema.EventActionFailed, stateKey, "", map[string]any{
					"action": string(action.Type), "index": i, "error": err.Error(),
				})
				e.fail(sctx, inst, e.decorate(err, inst, stateKey, i))
				return
			}

			switch out.Status {
			case actions.Completed:
				inst.setResult(out.Value)
			case actions.NoResult:
				// result slot untouched
			case actions.Suspended:
				if err := e.suspend(sctx, inst, stateKey); err != nil {
					return
				}
			case actions.Spawn:
				value, hasValue, err := e.spawner.Spawn(sctx, inst, action.SpawnAgent)
				if err != nil {
					if ctx.Err() != nil {
						e.markCancelled(ctx, inst)
						return
					}
					e.fail(sctx, inst, e.decorate(err, inst, stateKey, i))
					return
				}
				if hasValue {
					inst.setResult(value)
				}
			}

			e.publish(sctx, inst, schema.EventActionCompleted, stateKey, "", map[string]any{
				"action": string(action.Type), "index": i,
			})
		}

		e.publish(sctx, inst, schema.EventStateExited, stateKey, "", nil)

		if state.NextState == nil {
			e.complete(sctx, inst)
			return
		}
		stateKey = e.resolveNextState(sctx, inst, *state.NextState)
	}
}

// resolveNextState interpolates a next_state reference. Literal keys pass
// through untouched; tokenized ones are resolved against the current scope.
func (e *Executor) resolveNextState(ctx context.Context, inst *Instance, next string) string {
	if !expressions.HasTokens(next) {
		return next
	}
	resolved, missing := expressions.Resolve(next, e.scope(inst))
	for _, token := range missing {
		e.log.WarnContext(ctx, "next_state placeholder resolved to empty string", "token", token)
	}
	return resolved
}

// suspend parks the instance until input arrives or the context is cancelled.
// The delivered value becomes the wait action's result.
func (e *Executor) suspend(ctx context.Context, inst *Instance, stateKey string) error {
	if err := e.transition(ctx, inst, schema.StatusWaitingForInput); err != nil {
		e.fail(ctx, inst, err)
		return err
	}
	e.log.InfoContext(ctx, "instance waiting for input")

	select {
	case value := <-inst.inputCh:
		inst.setResult(value)
		if err := e.transition(ctx, inst, schema.StatusRunning); err != nil {
			e.fail(ctx, inst, err)
			return err
		}
		e.publish(ctx, inst, schema.EventInputDelivered, stateKey, "", nil)
		e.log.InfoContext(ctx, "input delivered, instance resumed")
		return nil
	case <-ctx.Done():
		e.markCancelled(ctx, inst)
		return ctx.Err()
	}
}

func (e *Executor) complete(ctx context.Context, inst *Instance) {
	result := inst.Result()
	if err := e.transition(ctx, inst, schema.StatusCompleted); err != nil {
		e.fail(ctx, inst, err)
		return
	}

	now := time.Now().UTC()
	completed := schema.StatusCompleted
	if err := e.runs.UpdateRun(ctx, inst.id, store.RunUpdate{
		Status: &completed, Result: &result, CompletedAt: &now,
	}); err != nil {
		e.log.WarnContext(ctx, "persist run completion failed", "error", err)
	}

	e.publish(ctx, inst, schema.EventInstanceCompleted, "", "", map[string]any{"result": result})
	if inst.def.OutputStream != nil {
		e.publish(ctx, inst, schema.EventOutputEmitted, "", *inst.def.OutputStream, map[string]any{"result": result})
	}
	e.log.InfoContext(ctx, "instance completed")
}

func (e *Executor) fail(ctx context.Context, inst *Instance, err error) {
	aerr := asAgenticError(err)
	inst.setFailure(aerr)

	if _, terr := e.fsm.Transition(ctx, inst.id, inst.Snapshot().StateKey, inst.Status(), schema.StatusFailed); terr != nil {
		e.log.WarnContext(ctx, "record failure transition failed", "error", terr)
	}
	inst.setStatus(schema.StatusFailed)

	errJSON, _ := json.Marshal(aerr)
	now := time.Now().UTC()
	failed := schema.StatusFailed
	if uerr := e.runs.UpdateRun(ctx, inst.id, store.RunUpdate{
		Status: &failed, Error: errJSON, CompletedAt: &now,
	}); uerr != nil {
		e.log.WarnContext(ctx, "persist run failure failed", "error", uerr)
	}

	e.publish(ctx, inst, schema.EventInstanceFailed, "", "", map[string]any{"error": aerr.Error()})
	e.log.ErrorContext(ctx, "instance failed", "error", aerr)
}

func (e *Executor) markCancelled(ctx context.Context, inst *Instance) {
	inst.setFailure(schema.NewError(schema.ErrCodeCancelled, "instance cancelled").WithInstance(inst.id))

	if _, terr := e.fsm.Transition(ctx, inst.id, inst.Snapshot().StateKey, inst.Status(), schema.StatusCancelled); terr != nil {
		e.log.WarnContext(ctx, "record cancel transition failed", "error", terr)
	}
	inst.setStatus(schema.StatusCancelled)

	now := time.Now().UTC()
	cancelled := schema.StatusCancelled
	if err := e.runs.UpdateRun(ctx, inst.id, store.RunUpdate{
		Status: &cancelled, CompletedAt: &now,
	}); err != nil {
		e.log.WarnContext(ctx, "persist run cancellation failed", "error", err)
	}

	e.publish(ctx, inst, schema.EventInstanceCancelled, "", "", nil)
	e.log.InfoContext(ctx, "instance cancelled")
}

// transition validates the status change, records it, persists the new
// status and mirrors the lifecycle event on the hub.
func (e *Executor) transition(ctx context.Context, inst *Instance, to schema.InstanceStatus) error {
	from := inst.Status()
	stateKey := inst.Snapshot().StateKey

	eventType, err := e.fsm.Transition(ctx, inst.id, stateKey, from, to)
	if err != nil {
		var aerr *schema.AgenticError
		if errors.As(err, &aerr) && aerr.Code == schema.ErrCodeStore {
			// A broken event log must not kill the run.
			e.log.WarnContext(ctx, "lifecycle event not recorded", "error", err)
		} else {
			return err
		}
	}
	inst.setStatus(to)

	status := to
	if uerr := e.runs.UpdateRun(ctx, inst.id, store.RunUpdate{Status: &status}); uerr != nil {
		e.log.WarnContext(ctx, "persist status failed", "status", string(to), "error", uerr)
	}
	if eventType != "" {
		e.publish(ctx, inst, eventType, stateKey, "", nil)
	}
	return nil
}

func (e *Executor) publish(ctx context.Context, inst *Instance, eventType, stateKey, stream string, payload map[string]any) {
	err := e.hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: inst.id,
		AgentLabel: inst.def.Label,
		StateKey:   stateKey,
		Stream:     stream,
		EventType:  eventType,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil && ctx.Err() == nil {
		e.log.WarnContext(ctx, "publish stream event failed", "event", eventType, "error", err)
	}
}

// execContext builds the dispatcher scope from the instance's current data.
// Rebuilt per action so the result slot is always current.
func (e *Executor) execContext(inst *Instance) actions.ExecContext {
	return actions.ExecContext{
		Input:  inst.input,
		Result: inst.Result(),
		Lookup: e.lookup(inst),
		Store:  inst.vars.Set,
	}
}

func (e *Executor) scope(inst *Instance) expressions.Scope {
	return expressions.Scope{
		Input:  inst.input,
		Output: inst.Result(),
		Lookup: e.lookup(inst),
	}
}

func (e *Executor) lookup(inst *Instance) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, err := inst.vars.Get(key)
		return v, err == nil
	}
}

// decorate attaches position info to an action error.
func (e *Executor) decorate(err error, inst *Instance, stateKey string, actionIndex int) *schema.AgenticError {
	aerr := asAgenticError(err)
	if aerr.InstanceID == "" {
		aerr = aerr.WithInstance(inst.id)
	}
	if aerr.StateKey == "" {
		aerr = aerr.WithAction(stateKey, actionIndex)
	}
	return aerr
}

func asAgenticError(err error) *schema.AgenticError {
	var aerr *schema.AgenticError
	if errors.As(err, &aerr) {
		return aerr
	}
	return schema.NewErrorf(schema.ErrCodeExecution, "%s", err.Error()).WithCause(err)
}
