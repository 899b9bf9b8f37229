package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	ws "github.com/vdavid/listsweep/internal/websocket"
)

// WebSocketHandler streams job status changes to connected clients.
// Authentication happens in the middleware, which also accepts ?token= since
// browsers cannot set headers on websocket requests.
type WebSocketHandler struct {
	hub    *ws.Hub
	logger logrus.FieldLogger
}

func NewWebSocketHandler(hub *ws.Hub, logger logrus.FieldLogger) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, logger: logger.WithField("handler", "ws")}
}

var wsUpgrader = websocket.Upgrader{
	// The server is expected to run on localhost or behind a trusted reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers it with the hub.
func (h *WebSocketHandler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to upgrade connection")
		return
	}

	client := h.hub.Register(conn)
	if client == nil {
		h.logger.Warn("Connection rejected, too many connections")
		return
	}

	go h.readLoop(client)
}

// readLoop drains the connection until the peer goes away, then unregisters it.
func (h *WebSocketHandler) readLoop(client *ws.Client) {
	conn := client.Conn()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.hub.Unregister(client)
}
