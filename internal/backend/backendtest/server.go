// Package backendtest provides a scripted in-process AutoStream backend for tests.
package backendtest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/go-chi/chi/v5"
)

// Reply is one scripted answer to POST /api/chat. A non-zero Status turns it
// into an error response carrying Detail.
type Reply struct {
	Response *backend.ChatResponse
	Status   int
	Detail   string
	// Raw, when set, is written verbatim with status 200.
	Raw string
}

// Server is a fake backend. Unscripted chat requests get an echo reply with
// intent "greeting" and the session's current state.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	replies  []Reply
	requests []backend.ChatRequest
	sessions map[string]*backend.SessionState
	latency  time.Duration
	healthy  bool
}

// New starts a fake backend and registers its shutdown with t.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		sessions: make(map[string]*backend.SessionState),
		healthy:  true,
	}

	r := chi.NewRouter()
	r.Post("/api/chat", s.handleChat)
	r.Get("/api/session/{id}", s.handleGetSession)
	r.Delete("/api/session/{id}", s.handleDeleteSession)
	r.Get("/api/stats", s.handleStats)
	r.Get("/health", s.handleHealth)

	s.Server = httptest.NewServer(r)
	t.Cleanup(s.Close)
	return s
}

// Enqueue scripts the next chat replies in order.
func (s *Server) Enqueue(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = append(s.replies, replies...)
}

// SetLatency delays every chat reply by d.
func (s *Server) SetLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latency = d
}

// SetHealthy toggles the /health status between 200 and 503.
func (s *Server) SetHealthy(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = ok
}

// Requests returns the chat requests received so far.
func (s *Server) Requests() []backend.ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.ChatRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req backend.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"detail": "invalid request"})
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	latency := s.latency
	state := s.sessions[req.SessionID]
	if state == nil {
		state = &backend.SessionState{SessionID: req.SessionID, Intent: domainGreeting}
		s.sessions[req.SessionID] = state
	}
	state.TurnCount++
	state.MessageCount += 2
	var reply *Reply
	if len(s.replies) > 0 {
		reply = &s.replies[0]
		s.replies = s.replies[1:]
	}
	fallback := backend.ChatResponse{
		Reply:  "ack: " + req.Message,
		Intent: state.Intent,
		State: backend.ConversationState{
			SelectedPlan: state.SelectedPlan,
			Name:         state.Name,
			Email:        state.Email,
			Platform:     state.Platform,
			LeadCaptured: state.LeadCaptured,
			TurnCount:    state.TurnCount,
		},
	}
	if reply != nil && reply.Response != nil {
		rs := reply.Response.State
		state.Intent = reply.Response.Intent
		state.SelectedPlan, state.Name, state.Email, state.Platform = rs.SelectedPlan, rs.Name, rs.Email, rs.Platform
		state.LeadCaptured = rs.LeadCaptured
	}
	s.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-r.Context().Done():
			return
		}
	}

	switch {
	case reply == nil:
		writeJSON(w, http.StatusOK, fallback)
	case reply.Status != 0:
		writeJSON(w, reply.Status, map[string]string{"detail": reply.Detail})
	case reply.Raw != "":
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(reply.Raw))
	default:
		writeJSON(w, http.StatusOK, reply.Response)
	}
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	state, ok := s.sessions[id]
	var out backend.SessionState
	if ok {
		out = *state
	}
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Session not found"})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "Session " + id + " deleted"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := backend.Stats{TotalSessions: len(s.sessions), MaxSessions: 100}
	for id := range s.sessions {
		if stats.OldestSession == nil || id < *stats.OldestSession {
			oldest := id
			stats.OldestSession = &oldest
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	healthy := s.healthy
	s.mu.Unlock()
	if !healthy {
		writeJSON(w, http.StatusServiceUnavailable, backend.Health{Status: "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, backend.Health{Status: "healthy"})
}

const domainGreeting = "greeting"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
