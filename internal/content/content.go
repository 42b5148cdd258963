// Package content holds the canned text the chat shows without consulting the
// backend.
package content

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Copy is the set of locally generated messages and labels.
type Copy struct {
	// GreetingFallback is shown when the initial greeting call fails.
	GreetingFallback string `yaml:"greeting_fallback"`
	// ConnectionTrouble is appended after a failed backend call.
	ConnectionTrouble string `yaml:"connection_trouble"`
	// OpeningMessage is sent to the backend to start a conversation.
	OpeningMessage string   `yaml:"opening_message"`
	LeadCaptured   string   `yaml:"lead_captured"`
	SendFailed     string   `yaml:"send_failed"`
	QuickReplies   []string `yaml:"quick_replies"`
	// PlanInterest must contain PlanPlaceholder.
	PlanInterest string `yaml:"plan_interest"`
	SwitchToPro  string `yaml:"switch_to_pro"`
}

// PlanPlaceholder is replaced by the plan name in PlanInterest.
const PlanPlaceholder = "{plan}"

// Default returns the built-in copy.
func Default() Copy {
	return Copy{
		GreetingFallback:  "Hi there! 👋 I'm the AutoStream AI Assistant. I help video creators find the perfect editing plan.\n\nWhat would you like to know about our video editing services?",
		ConnectionTrouble: "I'm having trouble connecting to the server. Please check your connection and try again.",
		OpeningMessage:    "Hi",
		LeadCaptured:      "Lead captured successfully! 🎉",
		SendFailed:        "Failed to send message. Please try again.",
		QuickReplies: []string{
			"Tell me pricing",
			"I want Pro plan",
			"Do you support YouTube?",
		},
		PlanInterest: "I'm interested in the {plan} plan",
		SwitchToPro:  "I'd like to switch to Pro plan",
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default value. An empty path returns the defaults.
func Load(path string) (Copy, error) {
	c := Default()
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, fmt.Errorf("copy file %s: %w", path, err)
		}
		return c, fmt.Errorf("read copy file: %w", err)
	}

	var override Copy
	if err := yaml.Unmarshal(data, &override); err != nil {
		return c, fmt.Errorf("parse copy file %s: %w", path, err)
	}
	c.merge(override)
	if !strings.Contains(c.PlanInterest, PlanPlaceholder) {
		return c, fmt.Errorf("copy file %s: plan_interest must contain %s", path, PlanPlaceholder)
	}
	return c, nil
}

// PlanInterestFor returns the plan interest message for the named plan.
func (c Copy) PlanInterestFor(plan string) string {
	return strings.ReplaceAll(c.PlanInterest, PlanPlaceholder, plan)
}

func (c *Copy) merge(o Copy) {
	setIf := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setIf(&c.GreetingFallback, o.GreetingFallback)
	setIf(&c.ConnectionTrouble, o.ConnectionTrouble)
	setIf(&c.OpeningMessage, o.OpeningMessage)
	setIf(&c.LeadCaptured, o.LeadCaptured)
	setIf(&c.SendFailed, o.SendFailed)
	setIf(&c.PlanInterest, o.PlanInterest)
	setIf(&c.SwitchToPro, o.SwitchToPro)
	if len(o.QuickReplies) > 0 {
		c.QuickReplies = append([]string(nil), o.QuickReplies...)
	}
}
