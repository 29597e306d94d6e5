package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trellisflow/trellis/pkg/channels/gochannel"
	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
)

func newTestBus(t *testing.T) eventbus.EventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func waitForEvent[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case received := <-ch:
		return received
	case <-time.After(5 * time.Second):
		t.Fatal("did not receive event within timeout")
	}

	var zero T

	return zero
}

func TestWatermillEventBus_PublishSubscribeRoundtrip(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionEvent, 1)

	err := bus.Handle(events.ExecutionStartedEvent, func(_ context.Context, event any) error {
		executionEvent, ok := event.(*events.ExecutionEvent)
		if ok {
			received <- executionEvent
		}

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = bus.Subscribe(ctx, events.ExecutionsTopic)
	require.NoError(t, err)

	sent := events.NewExecutionEvent(events.ExecutionStartedEvent, "exec-1", "wf-1")
	sent.Data = map[string]any{"status": "running"}

	err = bus.Publish(ctx, events.ExecutionsTopic, "exec-1", sent)
	require.NoError(t, err)

	got := waitForEvent(t, received)
	assert.Equal(t, sent.ID, got.ID)
	assert.Equal(t, events.ExecutionStartedEvent, got.Type)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "running", got.Data["status"])
}

func TestWatermillEventBus_RoutesByEventType(t *testing.T) {
	bus := newTestBus(t)

	updated := make(chan *events.WorkflowUpdated, 1)
	deleted := make(chan *events.WorkflowDeleted, 1)

	err := bus.Handle(events.WorkflowUpdatedEvent, func(_ context.Context, event any) error {
		updated <- event.(*events.WorkflowUpdated)

		return nil
	})
	require.NoError(t, err)

	err = bus.Handle(events.WorkflowDeletedEvent, func(_ context.Context, event any) error {
		deleted <- event.(*events.WorkflowDeleted)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, events.WorkflowsTopic))

	require.NoError(t, bus.Publish(ctx, events.WorkflowsTopic, "wf-1", events.NewWorkflowUpdated("wf-1")))
	require.NoError(t, bus.Publish(ctx, events.WorkflowsTopic, "wf-2", events.NewWorkflowDeleted("wf-2")))

	gotUpdated := waitForEvent(t, updated)
	assert.Equal(t, "wf-1", gotUpdated.WorkflowID)

	gotDeleted := waitForEvent(t, deleted)
	assert.Equal(t, "wf-2", gotDeleted.WorkflowID)
}

func TestWatermillEventBus_TopicsAreIsolated(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionCancelRequested, 2)

	err := bus.Handle(events.ExecutionCancelRequestedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionCancelRequested)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Only the control topic is consumed; the executions topic is not.
	require.NoError(t, bus.Subscribe(ctx, events.ControlTopic))

	started := events.NewExecutionEvent(events.ExecutionStartedEvent, "exec-1", "wf-1")
	require.NoError(t, bus.Publish(ctx, events.ExecutionsTopic, "exec-1", started))

	cancelEvent := events.NewExecutionCancelRequested("exec-1", "wf-1", "alice")
	require.NoError(t, bus.Publish(ctx, events.ControlTopic, "exec-1", cancelEvent))

	got := waitForEvent(t, received)
	assert.Equal(t, "exec-1", got.ExecutionID)
	assert.Equal(t, "alice", got.RequestedBy)
	assert.Empty(t, received)
}

func TestWatermillEventBus_UnhandledTypesAreAcked(t *testing.T) {
	bus := newTestBus(t)

	received := make(chan *events.ExecutionEvent, 1)

	err := bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		received <- event.(*events.ExecutionEvent)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx, events.ExecutionsTopic))

	// No handler for node.started; the bus must ack it and move on.
	require.NoError(t, bus.Publish(ctx, events.ExecutionsTopic, "exec-1",
		events.NewExecutionEvent(events.NodeStartedEvent, "exec-1", "wf-1")))
	require.NoError(t, bus.Publish(ctx, events.ExecutionsTopic, "exec-1",
		events.NewExecutionEvent(events.ExecutionCompletedEvent, "exec-1", "wf-1")))

	got := waitForEvent(t, received)
	assert.Equal(t, events.ExecutionCompletedEvent, got.Type)
}

func TestWatermillEventBus_GenerateID(t *testing.T) {
	bus := newTestBus(t)

	first := bus.GenerateID()
	second := bus.GenerateID()

	assert.NotEmpty(t, first)
	assert.NotEqual(t, first, second)
}
