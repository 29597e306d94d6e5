// Package gateway is the realtime fan-out layer: authenticated
// WebSocket clients join execution and workflow rooms and receive the
// execution events flowing over the bus. Filtering happens at delivery
// time, so the gateway subscribes to the event stream exactly once no
// matter how many clients are connected.
package gateway

import (
	"context"
	"log/slog"
	"sync"

	"github.com/trellisflow/trellis/pkg/eventbus"
	"github.com/trellisflow/trellis/pkg/events"
	"github.com/trellisflow/trellis/pkg/metrics"
)

const (
	roomExecution = "execution"
	roomWorkflow  = "workflow"
)

// Hub tracks connected clients and their room memberships.
type Hub struct {
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu         sync.RWMutex
	clients    map[*Client]struct{}
	executions map[string]map[*Client]struct{}
	workflows  map[string]map[*Client]struct{}
}

func NewHub(m *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		metrics:    m,
		logger:     logger.With("module", "gateway_hub"),
		clients:    make(map[*Client]struct{}),
		executions: make(map[string]map[*Client]struct{}),
		workflows:  make(map[string]map[*Client]struct{}),
	}
}

// ConsumeExecutionEvents registers the execution-topic handlers. The
// caller still subscribes the bus to events.ExecutionsTopic.
func (h *Hub) ConsumeExecutionEvents(bus eventbus.EventSubscriber) error {
	types := []events.EventType{
		events.ExecutionStartedEvent,
		events.ExecutionCompletedEvent,
		events.ExecutionFailedEvent,
		events.ExecutionCancelledEvent,
		events.ExecutionProgressEvent,
		events.ExecutionLogEvent,
		events.NodeStartedEvent,
		events.NodeCompletedEvent,
		events.NodeFailedEvent,
	}

	for _, eventType := range types {
		err := bus.Handle(eventType, func(_ context.Context, event any) error {
			if executionEvent, ok := event.(*events.ExecutionEvent); ok {
				h.Broadcast(executionEvent)
			}

			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Broadcast delivers the event to every client subscribed to its
// execution or workflow room. Slow clients lose frames, never block.
// Delivery happens under the read lock: enqueue never blocks, and
// unregister closes send channels under the write lock, so a frame can
// never race a closing channel.
func (h *Hub) Broadcast(event *events.ExecutionEvent) {
	frame := ServerFrame{
		Event:       frameEvent(event.Type),
		ExecutionID: event.ExecutionID,
		WorkflowID:  event.WorkflowID,
		Data:        event,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.executions[event.ExecutionID] {
		client.enqueue(frame)
	}

	for client := range h.workflows[event.WorkflowID] {
		if _, ok := h.executions[event.ExecutionID][client]; ok {
			continue
		}

		client.enqueue(frame)
	}
}

// ConnectionCount returns the number of authenticated connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// ExecutionSubscribers returns how many clients watch the execution.
func (h *Hub) ExecutionSubscribers(executionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.executions[executionID])
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	h.metrics.GatewayConnected()
	h.logger.Info("Client connected", "user_id", client.userID)
}

func (h *Hub) unregister(client *Client) {
	h.mu.Lock()

	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()

		return
	}

	delete(h.clients, client)

	executionRooms := leaveAll(h.executions, client)
	workflowRooms := leaveAll(h.workflows, client)

	close(client.send)
	h.mu.Unlock()

	for range executionRooms {
		h.metrics.RoomLeft(roomExecution)
	}

	for range workflowRooms {
		h.metrics.RoomLeft(roomWorkflow)
	}

	h.metrics.GatewayDisconnected()
	h.logger.Info("Client disconnected", "user_id", client.userID)
}

func (h *Hub) subscribeExecution(client *Client, executionID string) {
	if h.join(h.executions, client, executionID) {
		h.metrics.RoomJoined(roomExecution)
	}
}

func (h *Hub) unsubscribeExecution(client *Client, executionID string) {
	if h.leave(h.executions, client, executionID) {
		h.metrics.RoomLeft(roomExecution)
	}
}

func (h *Hub) subscribeWorkflow(client *Client, workflowID string) {
	if h.join(h.workflows, client, workflowID) {
		h.metrics.RoomJoined(roomWorkflow)
	}
}

func (h *Hub) unsubscribeWorkflow(client *Client, workflowID string) {
	if h.leave(h.workflows, client, workflowID) {
		h.metrics.RoomLeft(roomWorkflow)
	}
}

func (h *Hub) join(rooms map[string]map[*Client]struct{}, client *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Only registered clients may hold room memberships; a client that
	// disconnected mid-subscribe must not leak into a room.
	if _, ok := h.clients[client]; !ok {
		return false
	}

	room, ok := rooms[roomID]
	if !ok {
		room = make(map[*Client]struct{})
		rooms[roomID] = room
	}

	if _, ok := room[client]; ok {
		return false
	}

	room[client] = struct{}{}

	return true
}

func (h *Hub) leave(rooms map[string]map[*Client]struct{}, client *Client, roomID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := rooms[roomID]
	if !ok {
		return false
	}

	if _, ok := room[client]; !ok {
		return false
	}

	delete(room, client)

	if len(room) == 0 {
		delete(rooms, roomID)
	}

	return true
}

// leaveAll removes the client from every room, returning the room IDs
// it was in. Caller holds h.mu.
func leaveAll(rooms map[string]map[*Client]struct{}, client *Client) []string {
	var left []string

	for roomID, room := range rooms {
		if _, ok := room[client]; !ok {
			continue
		}

		delete(room, client)
		left = append(left, roomID)

		if len(room) == 0 {
			delete(rooms, roomID)
		}
	}

	return left
}

func frameEvent(eventType events.EventType) string {
	switch eventType {
	case events.ExecutionProgressEvent:
		return FrameExecutionProgress
	case events.ExecutionLogEvent:
		return FrameExecutionLog
	case events.NodeStartedEvent, events.NodeCompletedEvent, events.NodeFailedEvent:
		return FrameNodeExecutionEvent
	default:
		return FrameExecutionEvent
	}
}
