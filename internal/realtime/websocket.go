package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/ashureev/autostream-chat/internal/identity"
	"github.com/coder/websocket"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 8
)

// Workspaces resolves a client's controller.
type Workspaces interface {
	Get(ctx context.Context, clientID string) (*chat.Controller, error)
}

// Handler serves GET /ws/chat.
type Handler struct {
	hub           *Hub
	workspaces    Workspaces
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket handler.
func NewHandler(hub *Hub, workspaces Workspaces, allowedOrigin string, isDev bool) *Handler {
	return &Handler{
		hub:           hub,
		workspaces:    workspaces,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// frame is one server-to-client message.
type frame struct {
	Type   string       `json:"type"`
	State  *chat.View   `json:"state,omitempty"`
	Notice *chat.Notice `json:"notice,omitempty"`
	Reply  *chat.Reply  `json:"reply,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// inbound is one client-to-server message.
type inbound struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ctrl, err := h.workspaces.Get(r.Context(), clientID)
	if err != nil {
		slog.Error("Failed to open workspace", "error", err, "client_id", clientID)
		http.Error(w, `{"error":"workspace unavailable"}`, http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "client_id", clientID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "client_id", clientID)
		}
	}()

	c := h.hub.register(clientID, ws)
	defer h.hub.unregister(clientID, c)

	states, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	replies := make(chan frame, 4)
	go func() {
		defer cancel()
		h.readLoop(ctx, ws, ctrl, clientID, replies)
	}()

	initial := ctrl.View()
	if err := writeFrame(ctx, ws, frame{Type: "state", State: &initial}); err != nil {
		slog.Debug("Failed to send initial state", "error", err, "client_id", clientID)
		return
	}

	for {
		var f frame
		select {
		case <-ctx.Done():
			slog.Info("Chat stream disconnected", "client_id", clientID)
			return
		case st, ok := <-states:
			if !ok {
				return
			}
			v := ctrl.ViewOf(st)
			f = frame{Type: "state", State: &v}
		case n := <-c.notices:
			f = frame{Type: "notice", Notice: &n}
		case f = <-replies:
		}
		if err := writeFrame(ctx, ws, f); err != nil {
			if !errors.Is(err, context.Canceled) {
				slog.Debug("WebSocket write error", "error", err, "client_id", clientID)
			}
			return
		}
	}
}

func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, ctrl *chat.Controller, clientID string, replies chan<- frame) {
	// Messages are sent one at a time in arrival order while other frames
	// keep being read.
	sends := make(chan string, sendBuffer)
	defer close(sends)
	go func() {
		for text := range sends {
			if ctx.Err() != nil {
				return
			}
			reply, err := ctrl.HandleUserMessage(ctx, text)
			if err != nil {
				send(ctx, replies, frame{Type: "error", Error: err.Error()})
				continue
			}
			send(ctx, replies, frame{Type: "reply", Reply: &reply})
		}
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "client_id", clientID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "client_id", clientID)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			send(ctx, replies, frame{Type: "error", Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case "ping":
			send(ctx, replies, frame{Type: "pong"})
		case "message":
			select {
			case sends <- msg.Content:
			default:
				send(ctx, replies, frame{Type: "error", Error: "too many pending messages"})
			}
		case "new_session":
			sess := ctrl.CreateSession()
			go func() {
				if err := ctrl.StartSession(context.WithoutCancel(ctx), sess.ID); err != nil {
					slog.Warn("Failed to open conversation", "error", err, "client_id", clientID)
				}
			}()
		case "select_session":
			ctrl.SelectSession(msg.SessionID)
		default:
			send(ctx, replies, frame{Type: "error", Error: "unknown message type"})
		}
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func send(ctx context.Context, ch chan<- frame, f frame) {
	select {
	case ch <- f:
	case <-ctx.Done():
	}
}

func writeFrame(ctx context.Context, ws *websocket.Conn, f frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}
