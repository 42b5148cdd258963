package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/ashureev/autostream-chat/internal/identity"
	"github.com/go-chi/chi/v5"
)

// Workspaces resolves and resets client workspaces.
type Workspaces interface {
	Get(ctx context.Context, clientID string) (*chat.Controller, error)
	Reset(ctx context.Context, clientID string) (int64, error)
}

// ChatHandler serves the chat state and operations of the caller's workspace.
type ChatHandler struct {
	*Handler
	workspaces Workspaces
	limiter    *RateLimiter
}

// NewChatHandler creates a chat handler. A nil limiter disables rate limiting.
func NewChatHandler(base *Handler, workspaces Workspaces, limiter *RateLimiter) *ChatHandler {
	return &ChatHandler{Handler: base, workspaces: workspaces, limiter: limiter}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/chat", func(r chi.Router) {
		r.Get("/state", h.GetState)
		r.Post("/start", h.Start)
		r.Delete("/history", h.DeleteHistory)

		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/active", h.GetActiveSession)
		r.Put("/sessions/active", h.SelectSession)
		r.Patch("/sessions/active", h.PatchActiveSession)

		r.Post("/confirm", h.Confirm)
		r.Post("/youtube-analysis", h.YouTubeAnalysis)

		r.Group(func(r chi.Router) {
			if h.limiter != nil {
				r.Use(h.limiter.Middleware)
			}
			r.Post("/messages", h.SendMessage)
			r.Post("/plan", h.SelectPlan)
			r.Post("/switch-to-pro", h.SwitchToPro)
		})
	})
}

// controller resolves the caller's workspace or writes an error response.
func (h *ChatHandler) controller(w http.ResponseWriter, r *http.Request) (*chat.Controller, bool) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	ctrl, err := h.workspaces.Get(r.Context(), clientID)
	if err != nil {
		h.logger.Error("Failed to open workspace", "error", err, "client_id", clientID)
		Error(w, http.StatusServiceUnavailable, "workspace unavailable")
		return nil, false
	}
	return ctrl, true
}

// GetState returns every session, the active pointer and the input flags.
func (h *ChatHandler) GetState(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.View())
}

// Start opens the active session's conversation. A backend failure is not an
// error for the caller: the static greeting follows shortly.
func (h *ChatHandler) Start(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	if err := ctrl.Start(r.Context()); err != nil {
		h.logger.Warn("Failed to open conversation",
			"error", err,
			"client_id", identity.ClientIDFromContext(r.Context()))
	}
	JSON(w, http.StatusOK, ctrl.View())
}

// DeleteHistory drops the caller's workspace and persisted sessions.
func (h *ChatHandler) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	clientID := identity.ClientIDFromContext(r.Context())
	if clientID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	n, err := h.workspaces.Reset(r.Context(), clientID)
	if err != nil {
		h.logger.Error("Failed to delete history", "error", err, "client_id", clientID)
		Error(w, http.StatusInternalServerError, "failed to delete history")
		return
	}
	JSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

// CreateSession opens a new active session and greets it in the background.
func (h *ChatHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	sess := ctrl.CreateSession()

	clientID := identity.ClientIDFromContext(r.Context())
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if err := ctrl.StartSession(ctx, sess.ID); err != nil {
			h.logger.Warn("Failed to open conversation", "error", err, "client_id", clientID, "session_id", sess.ID)
		}
	}()

	JSON(w, http.StatusCreated, sess)
}

// GetActiveSession returns the active session.
func (h *ChatHandler) GetActiveSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.Store().ActiveSession())
}

type selectSessionRequest struct {
	ID string `json:"id"`
}

// SelectSession moves the active pointer. Unknown ids are accepted and fall
// back to the first session.
func (h *ChatHandler) SelectSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req selectSessionRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.ID == "" {
		Error(w, http.StatusBadRequest, "id is required")
		return
	}
	ctrl.SelectSession(req.ID)
	JSON(w, http.StatusOK, ctrl.View())
}

// PatchActiveSession applies field setters to the active session. Only keys
// present in the body are applied; null clears a field.
func (h *ChatHandler) PatchActiveSession(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var body map[string]json.RawMessage
	if !h.decode(w, r, &body, false) {
		return
	}
	if err := applyPatch(ctrl.Store(), body); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	JSON(w, http.StatusOK, ctrl.Store().ActiveSession())
}

func applyPatch(st *chat.Store, body map[string]json.RawMessage) error {
	// Validate everything before touching the store.
	var (
		question, plan, link   *string
		showAnalysis           *bool
		lead                   map[string]json.RawMessage
		hasQ, hasP, hasL, hasA bool
	)
	for key, raw := range body {
		var err error
		switch key {
		case "currentQuestion":
			hasQ = true
			question, err = optionalString(raw)
			if err == nil && question != nil && !validQuestion(domain.Question(*question)) {
				err = fmt.Errorf("unknown question %q", *question)
			}
		case "selectedPlan":
			hasP = true
			plan, err = optionalString(raw)
			if err == nil && plan != nil && !domain.Plan(*plan).Valid() {
				err = fmt.Errorf("unknown plan %q", *plan)
			}
		case "youtubeLink":
			hasL = true
			link, err = optionalString(raw)
		case "showYouTubeAnalysis":
			hasA = true
			showAnalysis = new(bool)
			err = json.Unmarshal(raw, showAnalysis)
		case "leadInfo":
			err = json.Unmarshal(raw, &lead)
			for field := range lead {
				if !validLeadField(domain.LeadField(field)) {
					err = fmt.Errorf("unknown lead field %q", field)
				}
			}
		default:
			err = fmt.Errorf("unknown field %q", key)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}

	leadValues := make(map[domain.LeadField]*string, len(lead))
	for field, raw := range lead {
		v, err := optionalString(raw)
		if err != nil {
			return fmt.Errorf("leadInfo.%s: %w", field, err)
		}
		leadValues[domain.LeadField(field)] = v
	}

	if hasQ {
		var q *domain.Question
		if question != nil {
			q = domain.Ref(domain.Question(*question))
		}
		st.SetCurrentQuestion(q)
	}
	if hasP {
		var p *domain.Plan
		if plan != nil {
			p = domain.Ref(domain.Plan(*plan))
		}
		st.SetSelectedPlan(p)
	}
	if hasL {
		st.SetYouTubeLink(link)
	}
	if hasA && showAnalysis != nil {
		st.SetShowYouTubeAnalysis(*showAnalysis)
	}
	for field, v := range leadValues {
		st.UpdateLead(field, v)
	}
	return nil
}

// optionalString decodes a JSON string or null.
func optionalString(raw json.RawMessage) (*string, error) {
	var v *string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("expected string or null")
	}
	return v, nil
}

func validQuestion(q domain.Question) bool {
	switch q {
	case domain.QuestionName, domain.QuestionEmail, domain.QuestionPlatform, domain.QuestionConfirm, domain.QuestionComplete:
		return true
	}
	return false
}

func validLeadField(f domain.LeadField) bool {
	return f == domain.LeadName || f == domain.LeadEmail || f == domain.LeadPlatform
}

type sendMessageRequest struct {
	Content string `json:"content"`
}

// SendMessage records the user's message and returns the backend's reply.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req sendMessageRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	reply, err := ctrl.HandleUserMessage(r.Context(), req.Content)
	h.writeReply(w, r, reply, err)
}

type selectPlanRequest struct {
	Plan domain.Plan `json:"plan"`
}

// SelectPlan tells the backend which plan the user is interested in.
func (h *ChatHandler) SelectPlan(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req selectPlanRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	reply, err := ctrl.SelectPlan(r.Context(), req.Plan)
	h.writeReply(w, r, reply, err)
}

// SwitchToPro asks the backend to move the lead to Pro.
func (h *ChatHandler) SwitchToPro(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	reply, err := ctrl.SwitchToPro(r.Context())
	h.writeReply(w, r, reply, err)
}

// writeReply maps controller errors to status codes. Backend failures keep
// the session in the body so the caller sees the recorded user message.
func (h *ChatHandler) writeReply(w http.ResponseWriter, r *http.Request, reply chat.Reply, err error) {
	switch {
	case err == nil:
		JSON(w, http.StatusOK, reply)
	case errors.Is(err, chat.ErrEmptyMessage), errors.Is(err, chat.ErrUnknownPlan):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chat.ErrInputDisabled):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "request cancelled")
	default:
		h.logger.Warn("Chat message failed",
			"error", err,
			"client_id", identity.ClientIDFromContext(r.Context()),
			"session_id", reply.Session.ID)
		JSON(w, http.StatusBadGateway, map[string]interface{}{
			"error":   err.Error(),
			"session": reply.Session,
		})
	}
}

// Confirm submits the active session's lead.
func (h *ChatHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, ctrl.Confirm())
}

type youtubeAnalysisRequest struct {
	Accept bool `json:"accept"`
}

// YouTubeAnalysis records the user's answer to the channel analysis offer.
func (h *ChatHandler) YouTubeAnalysis(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := h.controller(w, r)
	if !ok {
		return
	}
	var req youtubeAnalysisRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	if req.Accept {
		JSON(w, http.StatusOK, ctrl.AcceptYouTubeAnalysis())
		return
	}
	JSON(w, http.StatusOK, ctrl.DeclineYouTubeAnalysis())
}
