// Package websocket pushes job status updates to connected clients.
package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const writeTimeout = 5 * time.Second

// Message is the envelope for every pushed update.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Client wraps a WebSocket connection.
type Client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Conn returns the underlying WebSocket connection.
func (c *Client) Conn() *websocket.Conn {
	return c.conn
}

func (c *Client) write(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, msg)
}

// Hub manages the active WebSocket connections, for example several open tabs.
type Hub struct {
	mu             sync.RWMutex
	clients        map[*Client]struct{}
	maxConnections int
	logger         logrus.FieldLogger
}

// NewHub creates a new Hub with a connection limit.
func NewHub(maxConnections int, logger logrus.FieldLogger) *Hub {
	if maxConnections <= 0 {
		maxConnections = 10
	}
	return &Hub{
		clients:        make(map[*Client]struct{}),
		maxConnections: maxConnections,
		logger:         logger,
	}
}

// Register adds a connection.
// If the limit is exceeded, the new connection is closed and nil is returned.
func (h *Hub) Register(conn *websocket.Conn) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.clients) >= h.maxConnections {
		h.logger.WithField("max", h.maxConnections).Warn("Too many websocket connections, closing new connection")
		// Zero deadline: best effort.
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too many connections"),
			time.Time{},
		)
		_ = conn.Close()
		return nil
	}

	client := &Client{conn: conn}
	h.clients[client] = struct{}{}
	return client
}

// Unregister removes a client and closes its connection.
func (h *Hub) Unregister(client *Client) {
	if client == nil {
		return
	}

	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()

	_ = client.conn.Close()
}

// Broadcast sends a raw message to every active client.
func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := client.write(msg); err != nil {
			h.logger.WithError(err).Debug("Failed to write websocket message, dropping client")
			go h.Unregister(client)
		}
	}
}

// Publish encodes a typed update and broadcasts it.
func (h *Hub) Publish(kind string, data any) {
	msg, err := json.Marshal(Message{Type: kind, Data: data})
	if err != nil {
		h.logger.WithError(err).WithField("type", kind).Error("Failed to encode websocket message")
		return
	}
	h.Broadcast(msg)
}

// ActiveConnections returns the number of active WebSocket connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}
