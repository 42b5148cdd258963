package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports readiness of the server's dependencies.
type HealthHandler struct {
	repo    Pinger
	backend BackendAPI
}

// NewHealthHandler creates a readiness handler. Either dependency may be nil.
func NewHealthHandler(repo Pinger, backend BackendAPI) *HealthHandler {
	return &HealthHandler{repo: repo, backend: backend}
}

// Ready returns the status of the database and the backend. The backend being
// down degrades the status without failing it.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			slog.Error("Health check failed", "error", err)
			checks["database"] = "unreachable"
			status = "unhealthy"
			statusCode = http.StatusServiceUnavailable
		} else {
			checks["database"] = "ok"
		}
	}

	if h.backend != nil {
		if _, err := h.backend.Health(ctx); err != nil {
			checks["backend"] = "unreachable"
			if statusCode == http.StatusOK {
				status = "degraded"
			}
		} else {
			checks["backend"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterRoutes registers the readiness route.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/health", h.Ready)
}
