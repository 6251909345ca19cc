package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/agentic/internal/config"
	"github.com/rendis/agentic/internal/store"
	"github.com/rendis/agentic/internal/streaming"
	"github.com/rendis/agentic/pkg/schema"
)

// childRunner runs a child instance to completion. Satisfied by the Executor.
type childRunner interface {
	Run(ctx context.Context, inst *Instance)
}

// instanceHost is the engine surface the spawner needs: registering children
// in the instance table and running detached goroutines whose lifetime is
// bound to the engine, not the parent.
type instanceHost interface {
	adopt(inst *Instance)
	spawnDetached(fn func())
	baseContext() context.Context
}

// Spawner creates child instances for spawn_agent actions. Blocking children
// run inline on the parent's goroutine; background children run detached and
// outlive the parent.
type Spawner struct {
	loader config.Loader
	runs   store.RunStore
	hub    streaming.EventHub
	log    *slog.Logger

	// Set by the engine after construction; the executor and spawner
	// reference each other.
	runner childRunner
	host   instanceHost
}

// NewSpawner creates a spawner. runner and host are wired by the engine.
func NewSpawner(loader config.Loader, runs store.RunStore, hub streaming.EventHub, logger *slog.Logger) *Spawner {
	return &Spawner{
		loader: loader,
		runs:   runs,
		hub:    hub,
		log:    logger,
	}
}

// Spawn creates and runs a child for the given spawn_agent payload. For a
// blocking child the returned value is the child's result and hasValue is
// true; a background spawn returns immediately with hasValue false.
func (s *Spawner) Spawn(ctx context.Context, parent *Instance, data *schema.SpawnAgentData) (value string, hasValue bool, err error) {
	def, err := s.resolveDefinition(data)
	if err != nil {
		return "", false, err
	}

	input := s.childInput(ctx, parent, data.InputLabel)
	child := newInstance(def, input)
	child.parentID = parent.id
	child.outputLabel = data.OutputLabel
	child.background = data.IsBackground
	if data.InputLabel != "" {
		// The bound value is reachable both as {input} and as a child variable.
		child.vars.Seed(map[string]string{data.InputLabel: input})
	}

	if data.IsBackground {
		return "", false, s.spawnBackground(ctx, parent, child)
	}
	return s.spawnBlocking(ctx, parent, child)
}

// childInput resolves the value that seeds the child's {input} token: the
// parent variable named by input_label when set, otherwise the parent's
// current result slot.
func (s *Spawner) childInput(ctx context.Context, parent *Instance, inputLabel string) string {
	if inputLabel == "" {
		return parent.Result()
	}
	if v, err := parent.vars.Get(inputLabel); err == nil {
		return v
	}
	s.log.DebugContext(ctx, "input label not set, child inherits result slot", "input_label", inputLabel)
	return parent.Result()
}

func (s *Spawner) resolveDefinition(data *schema.SpawnAgentData) (*schema.AgentDefinition, error) {
	if data.AgentConfig != nil {
		return data.AgentConfig, nil
	}
	if s.loader == nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"cannot load %q: no config loader attached", data.AgentConfigFile)
	}
	return s.loader.Load(data.AgentConfigFile)
}

func (s *Spawner) spawnBlocking(ctx context.Context, parent *Instance, child *Instance) (string, bool, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	child.cancel = cancel

	s.register(ctx, parent, child)
	s.runner.Run(cctx, child)

	switch child.Status() {
	case schema.StatusCompleted:
		result := child.Result()
		parent.vars.Set(child.outputLabel, result)
		return result, true, nil
	case schema.StatusCancelled:
		return "", false, schema.NewErrorf(schema.ErrCodeCancelled,
			"child %s cancelled", child.id).WithInstance(parent.id)
	default:
		return "", false, schema.NewErrorf(schema.ErrCodeChildFailure,
			"child %s (%s) failed", child.id, child.def.Label).
			WithInstance(parent.id).WithCause(child.Failure())
	}
}

// spawnBackground launches the child detached from the parent's context: the
// child is cancelled by an explicit Cancel or engine shutdown, never by the
// parent finishing.
func (s *Spawner) spawnBackground(ctx context.Context, parent *Instance, child *Instance) error {
	cctx, cancel := context.WithCancel(s.host.baseContext())
	child.cancel = cancel

	s.register(ctx, parent, child)
	s.host.spawnDetached(func() {
		defer cancel()
		s.runner.Run(cctx, child)
		s.bindResult(parent, child)
	})
	return nil
}

// bindResult writes a finished background child's result into the parent's
// variables. A parent that already reached a terminal status no longer
// observes anything; the result is dropped and the detachment recorded.
func (s *Spawner) bindResult(parent *Instance, child *Instance) {
	ctx := context.Background()
	if child.Status() != schema.StatusCompleted {
		return
	}
	if parent.Status().Terminal() {
		s.log.Info("parent already terminal, dropping background child result",
			"parent_id", parent.id, "child_id", child.id)
		s.emit(ctx, parent, child, schema.EventChildDetached)
		return
	}
	parent.vars.Set(child.outputLabel, child.Result())
}

func (s *Spawner) register(ctx context.Context, parent *Instance, child *Instance) {
	parent.addChild(child)
	s.host.adopt(child)

	if err := s.runs.CreateRun(ctx, &store.Run{
		ID:         child.id,
		AgentLabel: child.def.Label,
		ParentID:   parent.id,
		Status:     schema.StatusPending,
		Input:      child.input,
	}); err != nil {
		s.log.WarnContext(ctx, "persist child run failed", "child_id", child.id, "error", err)
	}

	s.emit(ctx, parent, child, schema.EventChildSpawned)
	s.log.InfoContext(ctx, "child spawned",
		"child_id", child.id, "agent", child.def.Label, "background", child.background)
}

func (s *Spawner) emit(ctx context.Context, parent *Instance, child *Instance, eventType string) {
	if err := s.runs.AppendEvent(ctx, &store.RunEvent{
		RunID: parent.id,
		Type:  eventType,
	}); err != nil {
		s.log.WarnContext(ctx, "record child event failed", "event", eventType, "error", err)
	}
	_ = s.hub.Publish(ctx, streaming.StreamEvent{
		InstanceID: parent.id,
		AgentLabel: parent.def.Label,
		EventType:  eventType,
		Payload:    map[string]any{"child_id": child.id, "agent": child.def.Label},
		Timestamp:  time.Now().UTC(),
	})
}
