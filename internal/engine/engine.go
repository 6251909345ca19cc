// Package engine runs agent instances: hierarchical finite-state machines
// whose states execute actions through the dispatcher. Every instance owns
// one goroutine; root instances are bounded by a worker pool, children are
// not. The engine is the only entry point for starting, resuming, observing
// and cancelling instances.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rendis/agentic/internal/actions"
	"github.com/rendis/agentic/internal/config"
	"github.com/rendis/agentic/internal/model"
	"github.com/rendis/agentic/internal/store"
	"github.com/rendis/agentic/internal/streaming"
	"github.com/rendis/agentic/internal/validation"
	"github.com/rendis/agentic/pkg/schema"
)

const defaultMaxConcurrentRuns = 32

// Config wires the engine's collaborators. Model is required; everything
// else has an in-process default.
type Config struct {
	Model  model.Model
	Loader config.Loader
	Store  store.RunStore
	Hub    streaming.EventHub
	Caller actions.APICaller
	Logger *slog.Logger

	// MaxConcurrentRuns bounds concurrently executing root instances.
	MaxConcurrentRuns int
}

// Engine orchestrates agent instances.
type Engine struct {
	log      *slog.Logger
	runs     store.RunStore
	hub      streaming.EventHub
	loader   config.Loader
	executor *Executor
	spawner  *Spawner
	pool     *runPool

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu        sync.Mutex
	instances map[string]*Instance
	closed    bool
	detached  sync.WaitGroup
}

// New creates an engine from the given config.
func New(cfg Config) (*Engine, error) {
	if cfg.Model == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "engine requires a model")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemoryStore()
	}
	if cfg.Hub == nil {
		cfg.Hub = streaming.NewMemoryHub()
	}
	if cfg.Caller == nil {
		cfg.Caller = actions.NewHTTPCaller(actions.HTTPConfig{})
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = defaultMaxConcurrentRuns
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	dispatcher := actions.NewDispatcher(cfg.Caller, cfg.Model, cfg.Logger)
	spawner := NewSpawner(cfg.Loader, cfg.Store, cfg.Hub, cfg.Logger)
	executor := NewExecutor(dispatcher, spawner, cfg.Store, cfg.Hub, cfg.Logger)

	e := &Engine{
		log:        cfg.Logger,
		runs:       cfg.Store,
		hub:        cfg.Hub,
		loader:     cfg.Loader,
		executor:   executor,
		spawner:    spawner,
		pool:       newRunPool(cfg.MaxConcurrentRuns, cfg.Logger),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		instances:  make(map[string]*Instance),
	}
	spawner.runner = executor
	spawner.host = e
	return e, nil
}

// Handle refers to a started root instance.
type Handle struct {
	inst *Instance
}

// InstanceID returns the root instance's id.
func (h *Handle) InstanceID() string { return h.inst.id }

// Wait blocks until the instance is terminal or ctx expires. On completion
// it returns the instance's result; a failed or cancelled instance yields
// its terminal error.
func (h *Handle) Wait(ctx context.Context) (string, error) {
	select {
	case <-h.inst.Done():
		if failure := h.inst.Failure(); failure != nil {
			return "", failure
		}
		return h.inst.Result(), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Start validates the definition and launches a root instance with the given
// input. It blocks while the pool is at capacity.
func (e *Engine) Start(ctx context.Context, def *schema.AgentDefinition, input string) (*Handle, error) {
	if err := validation.ValidateSemantics(def); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeConflict, "engine is shut down")
	}
	e.mu.Unlock()

	inst := newInstance(def, input)
	cctx, cancel := context.WithCancel(e.baseCtx)
	inst.cancel = cancel
	e.adopt(inst)

	if err := e.runs.CreateRun(ctx, &store.Run{
		ID:         inst.id,
		AgentLabel: def.Label,
		Status:     schema.StatusPending,
		Input:      input,
	}); err != nil {
		e.log.WarnContext(ctx, "persist run failed", "instance_id", inst.id, "error", err)
	}

	err := e.pool.Launch(ctx, inst, func() {
		defer cancel()
		e.executor.Run(cctx, inst)
	})
	if err != nil {
		cancel()
		e.forget(inst.id)
		if errors.Is(err, errPoolShutdown) {
			return nil, schema.NewError(schema.ErrCodeConflict, "engine is shut down").WithCause(err)
		}
		return nil, err
	}
	return &Handle{inst: inst}, nil
}

// StartFromFile loads a definition through the config loader and starts it.
func (e *Engine) StartFromFile(ctx context.Context, path, input string) (*Handle, error) {
	if e.loader == nil {
		return nil, schema.NewError(schema.ErrCodeConfig, "no config loader attached")
	}
	def, err := e.loader.Load(path)
	if err != nil {
		return nil, err
	}
	return e.Start(ctx, def, input)
}

// DeliverInput resumes an instance parked on wait_for_input. Any instance
// that is not currently waiting rejects the input.
func (e *Engine) DeliverInput(id, input string) error {
	inst, err := e.instance(id)
	if err != nil {
		return err
	}
	return inst.offerInput(input)
}

// Cancel aborts an instance and, recursively, all of its descendants,
// including detached background children.
func (e *Engine) Cancel(id string) error {
	inst, err := e.instance(id)
	if err != nil {
		return err
	}
	cancelTree(inst)
	return nil
}

func cancelTree(inst *Instance) {
	for _, child := range inst.childInstances() {
		cancelTree(child)
	}
	if inst.cancel != nil {
		inst.cancel()
	}
}

// Release drops a terminal instance from the engine's table once its result
// has been consumed. The run store keeps the durable record.
func (e *Engine) Release(id string) error {
	inst, err := e.instance(id)
	if err != nil {
		return err
	}
	if !inst.Status().Terminal() {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"instance %s is %s, not terminal", id, inst.Status())
	}
	e.forget(id)
	return nil
}

// Status returns a snapshot of the instance.
func (e *Engine) Status(id string) (InstanceSnapshot, error) {
	inst, err := e.instance(id)
	if err != nil {
		return InstanceSnapshot{}, err
	}
	return inst.Snapshot(), nil
}

// Instances returns snapshots of every known instance.
func (e *Engine) Instances() []InstanceSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snaps := make([]InstanceSnapshot, 0, len(e.instances))
	for _, inst := range e.instances {
		snaps = append(snaps, inst.Snapshot())
	}
	return snaps
}

// Subscribe exposes the streaming hub.
func (e *Engine) Subscribe(ctx context.Context, filter streaming.EventFilter) (<-chan streaming.StreamEvent, func(), error) {
	return e.hub.Subscribe(ctx, filter)
}

// Shutdown cancels every instance and waits for all goroutines to drain, or
// until ctx expires.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.baseCancel()

	drained := make(chan struct{})
	go func() {
		e.pool.Shutdown()
		e.detached.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		e.log.Info("engine shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// --- instanceHost ---

func (e *Engine) adopt(inst *Instance) {
	e.mu.Lock()
	e.instances[inst.id] = inst
	e.mu.Unlock()
}

func (e *Engine) spawnDetached(fn func()) {
	e.detached.Add(1)
	go func() {
		defer e.detached.Done()
		fn()
	}()
}

func (e *Engine) baseContext() context.Context {
	return e.baseCtx
}

func (e *Engine) forget(id string) {
	e.mu.Lock()
	delete(e.instances, id)
	e.mu.Unlock()
}

func (e *Engine) instance(id string) (*Instance, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	inst, ok := e.instances[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "instance %s not found", id)
	}
	return inst, nil
}
