// Package realtime pushes chat state and notices to browsers over WebSocket.
package realtime

import (
	"log/slog"
	"sync"

	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/coder/websocket"
)

const noticeBuffer = 16

type client struct {
	id      int64
	conn    *websocket.Conn
	notices chan chat.Notice
}

// Hub tracks the open connections of every client and fans notices out to them.
type Hub struct {
	mu     sync.RWMutex
	nextID int64
	active map[string]map[int64]*client
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{active: make(map[string]map[int64]*client)}
}

func (h *Hub) register(clientID string, conn *websocket.Conn) *client {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	c := &client{id: h.nextID, conn: conn, notices: make(chan chat.Notice, noticeBuffer)}
	if _, ok := h.active[clientID]; !ok {
		h.active[clientID] = make(map[int64]*client)
	}
	h.active[clientID][c.id] = c
	slog.Info("Chat stream registered", "client_id", clientID, "conn_id", c.id)
	return c
}

func (h *Hub) unregister(clientID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.active[clientID]; ok {
		if _, exists := conns[c.id]; exists {
			delete(conns, c.id)
			if len(conns) == 0 {
				delete(h.active, clientID)
			}
			slog.Info("Chat stream unregistered", "client_id", clientID, "conn_id", c.id)
		}
	}
}

// Connections returns the number of open connections for clientID.
func (h *Hub) Connections(clientID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.active[clientID])
}

// Notify delivers n to every connection of clientID. Slow connections miss
// notices rather than block the caller.
func (h *Hub) Notify(clientID string, n chat.Notice) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.active[clientID] {
		select {
		case c.notices <- n:
		default:
			slog.Warn("Notice dropped for slow chat stream", "client_id", clientID, "conn_id", c.id)
		}
	}
}

// For returns a chat.Notifier bound to clientID.
func (h *Hub) For(clientID string) chat.Notifier {
	return chat.NotifierFunc(func(n chat.Notice) { h.Notify(clientID, n) })
}

// CloseClient closes every connection of clientID.
func (h *Hub) CloseClient(clientID string) {
	h.mu.Lock()
	conns := h.active[clientID]
	delete(h.active, clientID)
	h.mu.Unlock()

	for id, c := range conns {
		_ = c.conn.Close(websocket.StatusGoingAway, "workspace closed")
		slog.Info("Chat stream closed", "client_id", clientID, "conn_id", id)
	}
}
