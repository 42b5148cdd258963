package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/autostream-chat/internal/backend"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthyBackend struct{ failingBackend }

func (healthyBackend) Health(context.Context) (*backend.Health, error) {
	return &backend.Health{Status: "healthy"}, nil
}

func TestReady(t *testing.T) {
	t.Parallel()

	ok := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("disk I/O error") })
	backendDown := failingBackend{err: errors.New("connection refused")}

	tests := []struct {
		name       string
		repo       Pinger
		backend    BackendAPI
		wantCode   int
		wantStatus string
	}{
		{"all healthy", ok, healthyBackend{}, http.StatusOK, "healthy"},
		{"backend down", ok, backendDown, http.StatusOK, "degraded"},
		{"database down", down, healthyBackend{}, http.StatusServiceUnavailable, "unhealthy"},
		{"both down", down, backendDown, http.StatusServiceUnavailable, "unhealthy"},
		{"no dependencies", nil, nil, http.StatusOK, "healthy"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			NewHealthHandler(tt.repo, tt.backend).Ready(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var body struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.Checks["api"] != "ok" {
				t.Errorf("checks = %v", body.Checks)
			}
		})
	}
}
