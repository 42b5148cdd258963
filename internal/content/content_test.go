package content

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.OpeningMessage != "Hi" || len(c.QuickReplies) != 3 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "copy.yaml")
	data := []byte("connection_trouble: Backend is down.\nquick_replies:\n  - Pricing?\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.ConnectionTrouble != "Backend is down." {
		t.Errorf("ConnectionTrouble = %q", c.ConnectionTrouble)
	}
	if len(c.QuickReplies) != 1 || c.QuickReplies[0] != "Pricing?" {
		t.Errorf("QuickReplies = %v", c.QuickReplies)
	}
	if c.GreetingFallback != Default().GreetingFallback {
		t.Errorf("missing key should keep default")
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "copy.yaml")
	if err := os.WriteFile(path, []byte("quick_replies: [unterminated"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadRequiresPlanPlaceholder(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("plan_interest: I like the %s plan\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected error for plan_interest without placeholder")
	}

	good := filepath.Join(dir, "good.yaml")
	if err := os.WriteFile(good, []byte("plan_interest: Tell me about {plan}\n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	c, err := Load(good)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := c.PlanInterestFor("Pro"); got != "Tell me about Pro" {
		t.Errorf("PlanInterestFor = %q", got)
	}
}

func TestDefaultPlanInterest(t *testing.T) {
	t.Parallel()

	if got := Default().PlanInterestFor("Basic"); got != "I'm interested in the Basic plan" {
		t.Errorf("PlanInterestFor = %q", got)
	}
}
