package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	// CORS is allow-all for the API as well
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles WebSocket connections for state updates
type Handler struct {
	hub *StateHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *StateHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP upgrades the request and registers the connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.hub.logger.Warnf("upgrade error: %v", err)
		return
	}

	h.hub.logger.Debugf("new connection from %s", r.RemoteAddr)

	c := h.hub.register(conn)
	go h.readPump(c)
}

// readPump keeps the connection alive and notices client disconnection
func (h *Handler) readPump(c *client) {
	conn := c.conn
	defer h.hub.drop(conn)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	ticker := time.NewTicker(pingPeriod)
	done := make(chan struct{})
	defer func() {
		ticker.Stop()
		close(done)
	}()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.write(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.hub.logger.Debugf("read error: %v", err)
			}
			return
		}
	}
}
