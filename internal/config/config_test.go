package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GRPC_HEALTH_ADDR", "")
	t.Setenv("PORT", "8080")
	t.Setenv("AUTOSTREAM_API_URL", "http://localhost:8000/")
	t.Setenv("DB_PATH", "./data/chat.db")
	t.Setenv("FALLBACK_DELAY", "500ms")
	t.Setenv("RATE_LIMIT_REQUESTS", "20")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BackendURL != "http://localhost:8000" {
		t.Errorf("BackendURL = %q", cfg.BackendURL)
	}
	if cfg.FallbackDelay != 500*time.Millisecond {
		t.Errorf("FallbackDelay = %v", cfg.FallbackDelay)
	}
	if cfg.RateLimit.Requests != 20 {
		t.Errorf("RateLimit.Requests = %d", cfg.RateLimit.Requests)
	}
	if cfg.Probe.Addr != "" {
		t.Errorf("Probe.Addr = %q", cfg.Probe.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("RATE_LIMIT_REQUESTS", "0")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero rate limit")
	}
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"90s", 90 * time.Second},
		{"250", 250 * time.Millisecond},
		{"bogus", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("TEST_DURATION", tt.value)
		if got := getEnvDuration("TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("getEnvDuration(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "off")
	if getEnvBool("TEST_BOOL", true) {
		t.Error("off parsed as true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if !getEnvBool("TEST_BOOL", true) {
		t.Error("unknown value did not fall back")
	}
}

func TestIsDevelopment(t *testing.T) {
	t.Parallel()

	if !(&Config{}).IsDevelopment() {
		t.Error("empty frontend URL should be development")
	}
	if (&Config{FrontendURL: "https://chat.autostream.io"}).IsDevelopment() {
		t.Error("public frontend URL should not be development")
	}
}
