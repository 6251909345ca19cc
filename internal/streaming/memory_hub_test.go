package streaming

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentic/pkg/schema"
)

func TestPublishSubscribe(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	event := StreamEvent{
		InstanceID: "inst-1",
		StateKey:   "research",
		EventType:  schema.EventActionCompleted,
		Payload:    map[string]any{"result": "ok"},
	}

	err = hub.Publish(ctx, event)
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, event.InstanceID, got.InstanceID)
		assert.Equal(t, event.StateKey, got.StateKey)
		assert.Equal(t, event.EventType, got.EventType)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestFilterByInstanceID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{InstanceID: "inst-1"})
	require.NoError(t, err)
	defer cancel()

	// Should be received (matching instance)
	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: schema.EventStateEntered})
	require.NoError(t, err)

	// Should be dropped (different instance)
	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-2", EventType: schema.EventStateEntered})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "inst-1", got.InstanceID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	// Channel should be empty -- the inst-2 event was filtered out.
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestFilterByStream(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{Stream: "answers"})
	require.NoError(t, err)
	defer cancel()

	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", Stream: "answers", EventType: schema.EventOutputEmitted})
	require.NoError(t, err)
	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", Stream: "debug", EventType: schema.EventOutputEmitted})
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, "answers", got.Stream)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event: %+v", evt)
	case <-time.After(50 * time.Millisecond):
		// expected
	}
}

func TestFilterByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{schema.EventInstanceCompleted, schema.EventInstanceFailed},
	})
	require.NoError(t, err)
	defer cancel()

	// Should be received
	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: schema.EventInstanceCompleted})
	require.NoError(t, err)

	// Should be dropped
	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: schema.EventStateEntered})
	require.NoError(t, err)

	// Should be received
	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: schema.EventInstanceFailed})
	require.NoError(t, err)

	var received []string
	for i := 0; i < 2; i++ {
		select {
		case got := <-ch:
			received = append(received, got.EventType)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	assert.Equal(t, []string{schema.EventInstanceCompleted, schema.EventInstanceFailed}, received)
}

func TestMultipleSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()

	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	event := StreamEvent{InstanceID: "inst-1", EventType: schema.EventInstanceCompleted}
	err = hub.Publish(ctx, event)
	require.NoError(t, err)

	for _, ch := range []<-chan StreamEvent{ch1, ch2} {
		select {
		case got := <-ch:
			assert.Equal(t, "inst-1", got.InstanceID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestCancelSubscription(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)

	// Cancel removes the subscriber and closes its channel.
	cancel()

	err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: "tick"})
	require.NoError(t, err)

	evt, open := <-ch
	assert.False(t, open, "channel should be closed after cancel, got %+v", evt)

	hub.mu.Lock()
	assert.Empty(t, hub.subs)
	hub.mu.Unlock()

	// A second cancel is a no-op.
	cancel()
}

func TestBackpressure(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Fill the channel buffer then publish a few more.
	// None of these should block.
	for i := 0; i < subscriptionBuffer+10; i++ {
		err = hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: "tick"})
		require.NoError(t, err)
	}

	// We should be able to drain exactly subscriptionBuffer events.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			goto done
		}
	}
done:
	assert.Equal(t, subscriptionBuffer, drained)
}

func TestConcurrentAccess(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()
	const goroutines = 20
	const eventsPerGoroutine = 50

	var wg sync.WaitGroup

	cancels := make([]func(), goroutines)
	for i := 0; i < goroutines; i++ {
		_, cancel, err := hub.Subscribe(ctx, EventFilter{})
		require.NoError(t, err)
		cancels[i] = cancel
	}
	defer func() {
		for _, c := range cancels {
			c()
		}
	}()

	// Concurrent publishers
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < eventsPerGoroutine; j++ {
				_ = hub.Publish(ctx, StreamEvent{InstanceID: "inst-concurrent", EventType: "tick"})
			}
		}()
	}

	// Concurrent subscribers being added/removed
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
			if err != nil {
				return
			}
			for k := 0; k < 5; k++ {
				select {
				case <-ch:
				case <-time.After(10 * time.Millisecond):
				}
			}
			cancel()
		}()
	}

	wg.Wait()
}

func TestPublishCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, StreamEvent{InstanceID: "inst-1", EventType: "tick"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSubscribeCancelledContext(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := hub.Subscribe(ctx, EventFilter{})
	assert.ErrorIs(t, err, context.Canceled)
}
