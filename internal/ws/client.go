package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rank-alerts/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBufferSize = 64
)

// CommandHandler reacts to client-issued monitoring commands. The Monitor
// Supervisor implements it.
type CommandHandler interface {
	StartMonitoring(projectID string, keywords []string) error
	StopMonitoring(projectID string) error
}

// Client is one live subscriber connection. It is owned by the hub; its
// lifetime ends on transport disconnect or explicit unsubscribe.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	handler CommandHandler
	logger  zerolog.Logger

	send      chan []byte
	closeOnce sync.Once

	// guarded by hub.mu
	projectID  string
	registered bool
}

// NewClient wraps an upgraded connection. The caller subscribes it to a
// project and starts the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, handler CommandHandler, logger zerolog.Logger) *Client {
	return &Client{
		hub:     hub,
		conn:    conn,
		handler: handler,
		logger:  logging.Component(logger, "ws_client"),
		send:    make(chan []byte, sendBufferSize),
	}
}

// Run subscribes the client, greets it, and blocks pumping messages until
// the connection dies.
func (c *Client) Run(projectID string) {
	c.hub.Subscribe(c, projectID)

	greeting, err := json.Marshal(NewEnvelope(MessageTypeConnected, projectID, map[string]string{"status": "subscribed"}))
	if err == nil {
		c.trySend(greeting)
	}

	go c.writePump()
	c.readPump()
}

// trySend enqueues a payload without blocking. False means the queue is
// full or closed and the client should be pruned.
func (c *Client) trySend(payload []byte) bool {
	defer func() {
		// Send on a closed channel races with pruning; treat as failure.
		_ = recover()
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.Unsubscribe(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		c.handleMessage(payload)
	}
}

func (c *Client) handleMessage(payload []byte) {
	var msg struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		c.logger.Warn().Err(err).Msg("discarding malformed client message")
		return
	}

	projectID := c.currentProject()

	switch msg.Type {
	case MessageTypePing:
		if pong, err := json.Marshal(NewEnvelope(MessageTypePong, projectID, nil)); err == nil {
			c.trySend(pong)
		}

	case MessageTypeStartMonitoring:
		if c.handler == nil {
			return
		}
		var req StartMonitoringRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			c.logger.Warn().Err(err).Msg("invalid start_monitoring payload")
			return
		}
		if err := c.handler.StartMonitoring(projectID, req.Keywords); err != nil {
			c.logger.Warn().Err(err).Str("project_id", projectID).Msg("start_monitoring rejected")
		}

	case MessageTypeStopMonitoring:
		if c.handler == nil {
			return
		}
		if err := c.handler.StopMonitoring(projectID); err != nil {
			c.logger.Warn().Err(err).Str("project_id", projectID).Msg("stop_monitoring rejected")
		}

	default:
		c.logger.Warn().Str("type", msg.Type).Msg("unknown client message type")
	}
}

func (c *Client) currentProject() string {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	return c.projectID
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
