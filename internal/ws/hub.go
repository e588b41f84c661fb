// Package ws pushes console state snapshots to WebSocket clients.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"posvision/internal/state"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const writeWait = 10 * time.Second

// client serializes writes to one connection
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

// StateHub manages WebSocket connections receiving state snapshots
type StateHub struct {
	clients map[*websocket.Conn]*client
	mu      sync.RWMutex
	store   *state.Store
	logger  *zap.SugaredLogger

	updates     <-chan state.Snapshot
	unsubscribe func()
}

// NewStateHub creates a hub publishing snapshots of store
func NewStateHub(store *state.Store, logger *zap.SugaredLogger) *StateHub {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	updates, unsubscribe := store.Subscribe()
	return &StateHub{
		clients:     make(map[*websocket.Conn]*client),
		store:       store,
		logger:      logger,
		updates:     updates,
		unsubscribe: unsubscribe,
	}
}

// Run broadcasts every state change until ctx is done
func (h *StateHub) Run(ctx context.Context) {
	defer h.unsubscribe()

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case snap, ok := <-h.updates:
			if !ok {
				return
			}
			h.Broadcast(NewStateMessage(snap))
		}
	}
}

// register adds a connection and sends it the current state
func (h *StateHub) register(conn *websocket.Conn) *client {
	c := &client{conn: conn}

	h.mu.Lock()
	h.clients[conn] = c
	total := len(h.clients)
	h.mu.Unlock()

	h.logger.Debugf("client registered (total: %d)", total)

	if data, err := json.Marshal(NewStateMessage(h.store.Snapshot())); err == nil {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.drop(conn)
		}
	}
	return c
}

// Unregister removes a connection
func (h *StateHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		h.logger.Debugf("client unregistered (total: %d)", len(h.clients))
	}
}

func (h *StateHub) drop(conn *websocket.Conn) {
	h.Unregister(conn)
	conn.Close()
}

// Broadcast sends msg to every client, dropping those that fail
func (h *StateHub) Broadcast(msg *StateMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorf("error marshaling state message: %v", err)
		return
	}

	h.mu.RLock()
	clients := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, data); err != nil {
			h.logger.Debugf("error sending to client: %v", err)
			h.drop(c.conn)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *StateHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *StateHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn, c := range h.clients {
		c.mu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		conn.Close()
		delete(h.clients, conn)
	}
}
