package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rendis/agentic/pkg/schema"
)

var errPoolShutdown = errors.New("run pool is shut down")

// runPool admits root instances for execution and bounds how many run at
// once. Children never go through the pool: blocking children share their
// parent's slot and background children are tracked by the engine, so a
// full pool cannot deadlock a parent against its own child.
type runPool struct {
	slots chan struct{}
	log   *slog.Logger

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func newRunPool(size int, logger *slog.Logger) *runPool {
	if size <= 0 {
		size = 1
	}
	return &runPool{
		slots: make(chan struct{}, size),
		log:   logger,
	}
}

// Launch blocks until a slot frees up, then runs the instance on its own
// goroutine. A panic escaping run marks the instance failed instead of
// taking down the process.
func (p *runPool) Launch(ctx context.Context, inst *Instance, run func()) error {
	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	// Re-check closed after acquiring the slot; wg.Add must happen under
	// the lock so Shutdown's wg.Wait cannot race it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return errPoolShutdown
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.failInstance(inst, r)
			}
			<-p.slots
			p.wg.Done()
		}()
		run()
	}()
	return nil
}

// failInstance records a panic as the instance's terminal failure. The
// executor's own deferred cleanup has already run by the time the panic
// reaches the pool, so only the status and error need patching up.
func (p *runPool) failInstance(inst *Instance, cause any) {
	p.log.Error("instance goroutine panicked", "instance_id", inst.id, "panic", cause)
	if inst.Failure() == nil {
		inst.setFailure(schema.NewErrorf(schema.ErrCodeExecution,
			"instance panicked: %v", cause).WithInstance(inst.id))
	}
	if !inst.Status().Terminal() {
		inst.setStatus(schema.StatusFailed)
	}
}

// Shutdown stops admissions and waits for running instances to drain.
func (p *runPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	p.wg.Wait()
}
