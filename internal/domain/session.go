// Package domain contains the chat data model shared by the store, the backend
// adapter and the transports.
package domain

import (
	"time"
	"unicode/utf8"
)

// titleLimit is the number of characters kept when a title is derived from the
// first user message.
const titleLimit = 30

// Plan is a pricing plan reported by the backend.
type Plan string

const (
	PlanBasic Plan = "basic"
	PlanPro   Plan = "pro"
)

// Valid reports whether p is one of the known plans.
func (p Plan) Valid() bool {
	return p == PlanBasic || p == PlanPro
}

// Question marks which lead field the conversation is currently soliciting.
type Question string

const (
	QuestionName     Question = "name"
	QuestionEmail    Question = "email"
	QuestionPlatform Question = "platform"
	QuestionConfirm  Question = "confirm"
	QuestionComplete Question = "complete"
)

// LeadField names one field of LeadInfo.
type LeadField string

const (
	LeadName     LeadField = "name"
	LeadEmail    LeadField = "email"
	LeadPlatform LeadField = "platform"
)

// LeadInfo is a partially filled prospect record. A nil field is absent.
type LeadInfo struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Platform *string `json:"platform"`
}

// Clone returns a copy that shares no pointers with l.
func (l LeadInfo) Clone() LeadInfo {
	return LeadInfo{
		Name:     clonePtr(l.Name),
		Email:    clonePtr(l.Email),
		Platform: clonePtr(l.Platform),
	}
}

// With returns a copy of l with field set to value. Unknown fields leave l unchanged.
func (l LeadInfo) With(field LeadField, value *string) LeadInfo {
	out := l.Clone()
	switch field {
	case LeadName:
		out.Name = clonePtr(value)
	case LeadEmail:
		out.Email = clonePtr(value)
	case LeadPlatform:
		out.Platform = clonePtr(value)
	}
	return out
}

// Complete reports whether all three lead fields are present.
func (l LeadInfo) Complete() bool {
	return l.Name != nil && l.Email != nil && l.Platform != nil
}

// Session is one conversation thread.
type Session struct {
	ID                  string      `json:"id"`
	Title               string      `json:"title"`
	Messages            []Message   `json:"messages"`
	LeadInfo            LeadInfo    `json:"leadInfo"`
	IntentLevel         IntentLevel `json:"intentLevel"`
	SelectedPlan        *Plan       `json:"selectedPlan"`
	YouTubeLink         *string     `json:"youtubeLink"`
	ShowYouTubeAnalysis bool        `json:"showYouTubeAnalysis"`
	CurrentQuestion     *Question   `json:"currentQuestion"`
	IsSubmitted         bool        `json:"isSubmitted"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// NewSession returns an empty session titled after its creation time.
func NewSession(id string, now time.Time) Session {
	return Session{
		ID:          id,
		Title:       "Session " + now.Format("15:04"),
		Messages:    []Message{},
		IntentLevel: IntentExploring,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	out := s
	out.Messages = make([]Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	out.LeadInfo = s.LeadInfo.Clone()
	out.SelectedPlan = clonePtr(s.SelectedPlan)
	out.YouTubeLink = clonePtr(s.YouTubeLink)
	out.CurrentQuestion = clonePtr(s.CurrentQuestion)
	return out
}

// AppendMessage appends m to a fresh copy of the log. The first message of a
// session sets the title when it comes from the user.
func (s *Session) AppendMessage(m Message) {
	if len(s.Messages) == 0 && m.Sender == SenderUser {
		s.Title = TruncateTitle(m.Content)
	}
	msgs := make([]Message, len(s.Messages), len(s.Messages)+1)
	copy(msgs, s.Messages)
	s.Messages = append(msgs, m)
}

// TruncateTitle keeps the first 30 characters of content, adding an ellipsis
// when anything was cut.
func TruncateTitle(content string) string {
	if utf8.RuneCountInString(content) <= titleLimit {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleLimit]) + "..."
}

// Ref returns a pointer to a copy of v.
func Ref[T any](v T) *T {
	return &v
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
