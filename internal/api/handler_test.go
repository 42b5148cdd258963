//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTeapot, "short and stout")

	if w.Code != http.StatusTeapot {
		t.Errorf("Expected status 418, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "short and stout" {
		t.Errorf("Expected error message, got %v", got)
	}
}

func TestDecode(t *testing.T) {
	h := NewHandler(16, nil)

	tests := []struct {
		name     string
		body     string
		optional bool
		wantOK   bool
		wantCode int
	}{
		{"valid", `{"id":"a"}`, false, true, http.StatusOK},
		{"malformed", `{"id":`, false, false, http.StatusBadRequest},
		{"too large", `{"id":"` + strings.Repeat("x", 64) + `"}`, false, false, http.StatusRequestEntityTooLarge},
		{"empty optional", ``, true, true, http.StatusOK},
		{"empty required", ``, false, false, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var v struct {
				ID string `json:"id"`
			}
			ok := h.decode(w, r, &v, tt.optional)
			if ok != tt.wantOK {
				t.Fatalf("decode ok = %v, want %v", ok, tt.wantOK)
			}
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
		})
	}
}
