package chat

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/ashureev/autostream-chat/internal/content"
	"github.com/ashureev/autostream-chat/internal/convlog"
	"github.com/ashureev/autostream-chat/internal/domain"
)

// DefaultFallbackDelay is how long after a failed call the connection-trouble
// message is appended.
const DefaultFallbackDelay = 500 * time.Millisecond

var errEmptyResponse = errors.New("backend returned no response")

// Backend is the part of the backend client the sync adapter needs.
type Backend interface {
	SendMessage(ctx context.Context, sessionID, message string) (*backend.ChatResponse, error)
}

// Syncer turns user utterances into backend calls and folds the replies into
// the store. Calls for the same session are serialized; each reply is applied
// to the session that issued the call.
type Syncer struct {
	store         *Store
	backend       Backend
	scheduler     *Scheduler
	notifier      Notifier
	log           convlog.Logger
	copy          content.Copy
	fallbackDelay time.Duration
	clientID      string
	logger        *slog.Logger

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

// SyncerConfig holds the collaborators of a Syncer.
type SyncerConfig struct {
	ClientID      string
	Backend       Backend
	Scheduler     *Scheduler
	Notifier      Notifier
	ConvLog       convlog.Logger
	Copy          content.Copy
	FallbackDelay time.Duration
	Logger        *slog.Logger
}

// NewSyncer creates a sync adapter for store.
func NewSyncer(store *Store, cfg SyncerConfig) *Syncer {
	if cfg.Scheduler == nil {
		cfg.Scheduler = NewScheduler()
	}
	if cfg.Notifier == nil {
		cfg.Notifier = noopNotifier{}
	}
	if cfg.ConvLog == nil {
		cfg.ConvLog = convlog.Noop()
	}
	if cfg.Copy.ConnectionTrouble == "" {
		cfg.Copy = content.Default()
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = DefaultFallbackDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Syncer{
		store:         store,
		backend:       cfg.Backend,
		scheduler:     cfg.Scheduler,
		notifier:      cfg.Notifier,
		log:           cfg.ConvLog,
		copy:          cfg.Copy,
		fallbackDelay: cfg.FallbackDelay,
		clientID:      cfg.ClientID,
		logger:        cfg.Logger,
		locks:         make(map[string]chan struct{}),
	}
}

// Send sends text on behalf of the active session.
func (s *Syncer) Send(ctx context.Context, text string) (*backend.ChatResponse, error) {
	return s.SendTo(ctx, s.store.ActiveSession().ID, text)
}

// SendTo sends text on behalf of sessionID and applies the reply to that
// session. On failure the error is returned unchanged and a fallback AI
// message is scheduled.
func (s *Syncer) SendTo(ctx context.Context, sessionID, text string) (*backend.ChatResponse, error) {
	sem := s.sessionLock(sessionID)
	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-sem }()

	wasSubmitted := false
	if sess, ok := s.store.Session(sessionID); ok {
		wasSubmitted = sess.IsSubmitted
	}
	s.logEvent(sessionID, "outbound", "chat_user_message", text, nil)

	s.store.SetTyping(true)
	resp, err := s.backend.SendMessage(ctx, sessionID, text)
	s.store.SetTyping(false)
	if err == nil && resp == nil {
		err = errEmptyResponse
	}
	if err != nil {
		s.fail(sessionID, err)
		return nil, err
	}

	s.apply(sessionID, resp, wasSubmitted)
	return resp, nil
}

func (s *Syncer) apply(sessionID string, resp *backend.ChatResponse, wasSubmitted bool) {
	s.store.AddMessageTo(sessionID, domain.SenderAI, resp.Reply, domain.MessageText)

	st := resp.State
	s.store.UpdateSession(sessionID, func(sess *domain.Session) {
		sess.IntentLevel = domain.IntentFromLabel(resp.Intent)
		sess.SelectedPlan = nil
		if st.SelectedPlan != nil {
			sess.SelectedPlan = domain.Ref(domain.Plan(*st.SelectedPlan))
		}
		sess.LeadInfo = domain.LeadInfo{
			Name:     st.Name,
			Email:    st.Email,
			Platform: st.Platform,
		}.Clone()
		sess.YouTubeLink = nil
		if st.YTChannel != nil {
			sess.YouTubeLink = domain.Ref(*st.YTChannel)
		}
		sess.IsSubmitted = st.LeadCaptured
	})

	s.logEvent(sessionID, "inbound", "chat_assistant_message", resp.Reply, map[string]any{
		"intent":        resp.Intent,
		"lead_captured": st.LeadCaptured,
		"turn_count":    st.TurnCount,
	})

	if st.LeadCaptured && !wasSubmitted {
		s.notifier.Notify(Notice{Level: NoticeSuccess, Text: s.copy.LeadCaptured, SessionID: sessionID})
	}
}

func (s *Syncer) fail(sessionID string, err error) {
	s.logger.Error("Error sending message to backend",
		"client_id", s.clientID,
		"session_id", sessionID,
		"error", err,
	)
	s.logEvent(sessionID, "inbound", "chat_error", err.Error(), nil)
	s.notifier.Notify(Notice{Level: NoticeError, Text: s.copy.SendFailed, SessionID: sessionID})

	fallback := s.copy.ConnectionTrouble
	s.scheduler.Schedule(s.fallbackDelay, func() {
		s.store.AddMessageTo(sessionID, domain.SenderAI, fallback, domain.MessageText)
	}, nil)
}

// sessionLock returns the one-slot semaphore serializing calls for sessionID.
func (s *Syncer) sessionLock(sessionID string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[sessionID] = l
	}
	return l
}

func (s *Syncer) logEvent(sessionID, direction, eventType, raw string, meta map[string]any) {
	s.log.Log(convlog.Event{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		ClientID:   s.clientID,
		SessionID:  sessionID,
		Channel:    "chat_http",
		Direction:  direction,
		EventType:  eventType,
		ContentRaw: raw,
		Meta:       meta,
	})
}
