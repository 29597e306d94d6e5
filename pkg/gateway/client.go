package gateway

import (
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/trellisflow/trellis/pkg/events"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024

	// sendBufferSize bounds the per-client queue. A client that cannot
	// keep up with an event burst loses frames instead of backing the
	// hub up.
	sendBufferSize = 64
)

// Client frame names.
const (
	FrameSubscribeExecution   = "subscribe-execution"
	FrameUnsubscribeExecution = "unsubscribe-execution"
	FrameSubscribeWorkflow    = "subscribe-workflow"
	FrameUnsubscribeWorkflow  = "unsubscribe-workflow"
)

// Server frame names.
const (
	FrameExecutionSubscribed   = "execution-subscribed"
	FrameExecutionUnsubscribed = "execution-unsubscribed"
	FrameWorkflowSubscribed    = "workflow-subscribed"
	FrameWorkflowUnsubscribed  = "workflow-unsubscribed"
	FrameExecutionEvent        = "execution-event"
	FrameExecutionProgress     = "execution-progress"
	FrameNodeExecutionEvent    = "node-execution-event"
	FrameExecutionLog          = "execution-log"
	FrameError                 = "error"
)

// ClientFrame is a JSON message sent by a connected client.
type ClientFrame struct {
	Event       string `json:"event"`
	ExecutionID string `json:"executionId,omitempty"`
	WorkflowID  string `json:"workflowId,omitempty"`
}

// ServerFrame is a JSON message sent to a connected client.
type ServerFrame struct {
	Event       string                 `json:"event"`
	ExecutionID string                 `json:"executionId,omitempty"`
	WorkflowID  string                 `json:"workflowId,omitempty"`
	Message     string                 `json:"message,omitempty"`
	Data        *events.ExecutionEvent `json:"data,omitempty"`
}

// Client is one authenticated WebSocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan ServerFrame
	logger *slog.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, logger *slog.Logger) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan ServerFrame, sendBufferSize),
		logger: logger.With("module", "gateway_client", "user_id", userID),
	}
}

// enqueue hands a frame to the write pump without ever blocking.
func (c *Client) enqueue(frame ServerFrame) {
	select {
	case c.send <- frame:
	default:
		c.logger.Warn("Send buffer full, dropping frame", "event", frame.Event)
	}
}

// readPump consumes client frames until the connection dies. It owns
// the connection's read side and the client's hub registration.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var frame ClientFrame

		if err := c.conn.ReadJSON(&frame); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) || websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("Connection read ended", "error", err)
			}

			return
		}

		c.handle(frame)
	}
}

func (c *Client) handle(frame ClientFrame) {
	switch frame.Event {
	case FrameSubscribeExecution:
		if frame.ExecutionID == "" {
			c.enqueue(ServerFrame{Event: FrameError, Message: "executionId is required"})

			return
		}

		c.hub.subscribeExecution(c, frame.ExecutionID)
		c.enqueue(ServerFrame{Event: FrameExecutionSubscribed, ExecutionID: frame.ExecutionID})
	case FrameUnsubscribeExecution:
		c.hub.unsubscribeExecution(c, frame.ExecutionID)
		c.enqueue(ServerFrame{Event: FrameExecutionUnsubscribed, ExecutionID: frame.ExecutionID})
	case FrameSubscribeWorkflow:
		if frame.WorkflowID == "" {
			c.enqueue(ServerFrame{Event: FrameError, Message: "workflowId is required"})

			return
		}

		c.hub.subscribeWorkflow(c, frame.WorkflowID)
		c.enqueue(ServerFrame{Event: FrameWorkflowSubscribed, WorkflowID: frame.WorkflowID})
	case FrameUnsubscribeWorkflow:
		c.hub.unsubscribeWorkflow(c, frame.WorkflowID)
		c.enqueue(ServerFrame{Event: FrameWorkflowUnsubscribed, WorkflowID: frame.WorkflowID})
	default:
		c.enqueue(ServerFrame{Event: FrameError, Message: "unknown event: " + frame.Event})
	}
}

// writePump drains the send queue onto the wire and keeps the
// connection alive with pings. It owns the connection's write side.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})

				return
			}

			if err := c.conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
