package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// BackendAPI is the part of the backend client exposed for diagnostics.
type BackendAPI interface {
	GetSession(ctx context.Context, sessionID string) (*backend.SessionState, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Stats(ctx context.Context) (*backend.Stats, error)
	Health(ctx context.Context) (*backend.Health, error)
}

// BackendHandler proxies the backend's session and diagnostics endpoints.
type BackendHandler struct {
	*Handler
	client BackendAPI
}

// NewBackendHandler creates a backend proxy handler.
func NewBackendHandler(base *Handler, client BackendAPI) *BackendHandler {
	return &BackendHandler{Handler: base, client: client}
}

// RegisterRoutes registers backend proxy routes.
func (h *BackendHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/backend", func(r chi.Router) {
		r.Get("/session/{id}", h.GetSession)
		r.Delete("/session/{id}", h.DeleteSession)
		r.Get("/stats", h.Stats)
		r.Get("/health", h.Health)
	})
}

// GetSession returns the backend's view of a session.
func (h *BackendHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	state, err := h.client.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, state)
}

// DeleteSession deletes a session on the backend.
func (h *BackendHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.client.DeleteSession(r.Context(), id); err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "deleted", "session_id": id})
}

// Stats returns the backend's session statistics.
func (h *BackendHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.client.Stats(r.Context())
	if err != nil {
		h.backendError(w, err)
		return
	}
	JSON(w, http.StatusOK, stats)
}

// Health reports whether the backend is reachable.
func (h *BackendHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	health, err := h.client.Health(ctx)
	if err != nil {
		h.logger.Warn("Backend health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
		return
	}
	JSON(w, http.StatusOK, health)
}

func (h *BackendHandler) backendError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrSessionNotFound) {
		Error(w, http.StatusNotFound, err.Error())
		return
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		Error(w, apiErr.StatusCode, err.Error())
		return
	}
	h.logger.Error("Backend request failed", "error", err)
	Error(w, http.StatusBadGateway, err.Error())
}
