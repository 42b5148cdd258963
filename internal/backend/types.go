// Package backend is the HTTP client for the AutoStream classification-and-reply
// service.
package backend

import "encoding/json"

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResponse is the structured reply of POST /api/chat.
type ChatResponse struct {
	Reply        string            `json:"reply"`
	Intent       string            `json:"intent"`
	State        ConversationState `json:"state"`
	UIComponents *UIComponents     `json:"ui_components,omitempty"`
}

// UI returns the response's UI directives, or the zero value when the backend
// sent none.
func (r *ChatResponse) UI() UIComponents {
	if r == nil || r.UIComponents == nil {
		return UIComponents{}
	}
	return *r.UIComponents
}

// ConversationState is the state block the backend keeps per session.
type ConversationState struct {
	SelectedPlan      *string `json:"selected_plan"`
	Name              *string `json:"name"`
	Email             *string `json:"email"`
	Platform          *string `json:"platform"`
	YTChannel         *string `json:"yt_channel"`
	LeadCaptured      bool    `json:"lead_captured"`
	TurnCount         int     `json:"turn_count"`
	ConversationState string  `json:"conversation_state,omitempty"`
}

// UIComponents are the visibility directives for optional cards.
type UIComponents struct {
	ShowPricingCards      bool            `json:"show_pricing_cards,omitempty"`
	ShowPlanComparison    bool            `json:"show_plan_comparison,omitempty"`
	ShowYouTubePermission bool            `json:"show_youtube_permission,omitempty"`
	YouTubeChannel        string          `json:"youtube_channel,omitempty"`
	ShowConfirmation      bool            `json:"show_confirmation,omitempty"`
	ShowSuccess           bool            `json:"show_success,omitempty"`
	YouTubeAnalysis       json.RawMessage `json:"youtube_analysis,omitempty"`
}

// SessionState is the body of GET /api/session/{id}.
type SessionState struct {
	SessionID    string  `json:"session_id"`
	Intent       string  `json:"intent"`
	SelectedPlan *string `json:"selected_plan"`
	Name         *string `json:"name"`
	Email        *string `json:"email"`
	Platform     *string `json:"platform"`
	LeadCaptured bool    `json:"lead_captured"`
	TurnCount    int     `json:"turn_count"`
	MessageCount int     `json:"message_count"`
}

// Stats is the body of GET /api/stats.
type Stats struct {
	TotalSessions int     `json:"total_sessions"`
	MaxSessions   int     `json:"max_sessions"`
	OldestSession *string `json:"oldest_session"`
}

// Health is the body of GET /health.
type Health struct {
	Status string `json:"status"`
}

// errorBody is the body of a non-2xx response.
type errorBody struct {
	Detail string `json:"detail"`
}
