package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/ashureev/autostream-chat/internal/content"
	"github.com/ashureev/autostream-chat/internal/convlog"
	"github.com/ashureev/autostream-chat/internal/domain"
)

// DefaultGreetingFallbackDelay is how long the static greeting takes to appear
// when the opening call fails.
const DefaultGreetingFallbackDelay = 800 * time.Millisecond

var (
	// ErrEmptyMessage is returned for blank user input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrInputDisabled is returned once the active session's lead is submitted.
	ErrInputDisabled = errors.New("input is disabled for a submitted session")
	// ErrUnknownPlan is returned by SelectPlan for plans other than basic and pro.
	ErrUnknownPlan = errors.New("unknown plan")
	// ErrSessionNotFound is returned by StartSession for an unknown session id.
	ErrSessionNotFound = errors.New("session not found")
)

// Reply is the outcome of a user message: the updated session and the UI
// directives that came with the backend response.
type Reply struct {
	Session domain.Session       `json:"session"`
	UI      backend.UIComponents `json:"ui"`
	Intent  string               `json:"intent"`
}

// View is a state snapshot with the derived input flags the UI needs.
type View struct {
	State
	InputDisabled    bool     `json:"inputDisabled"`
	ShowQuickReplies bool     `json:"showQuickReplies"`
	QuickReplies     []string `json:"quickReplies"`
}

// Config holds the collaborators of a Controller.
type Config struct {
	ClientID              string
	Backend               Backend
	Notifier              Notifier
	ConvLog               convlog.Logger
	Copy                  content.Copy
	FallbackDelay         time.Duration
	GreetingFallbackDelay time.Duration
	StoreOptions          []StoreOption
	Logger                *slog.Logger
}

// Controller owns the state of one workspace and is the only entry point the
// transports use to change it.
type Controller struct {
	clientID      string
	store         *Store
	syncer        *Syncer
	scheduler     *Scheduler
	copy          content.Copy
	greetingDelay time.Duration
	logger        *slog.Logger

	mu          sync.Mutex
	initialized map[string]bool
}

// NewController builds a store, scheduler and sync adapter for one workspace.
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Copy.OpeningMessage == "" {
		cfg.Copy = content.Default()
	}
	if cfg.GreetingFallbackDelay <= 0 {
		cfg.GreetingFallbackDelay = DefaultGreetingFallbackDelay
	}

	store := NewStore(cfg.StoreOptions...)
	scheduler := NewScheduler()
	syncer := NewSyncer(store, SyncerConfig{
		ClientID:      cfg.ClientID,
		Backend:       cfg.Backend,
		Scheduler:     scheduler,
		Notifier:      cfg.Notifier,
		ConvLog:       cfg.ConvLog,
		Copy:          cfg.Copy,
		FallbackDelay: cfg.FallbackDelay,
		Logger:        cfg.Logger,
	})

	c := &Controller{
		clientID:      cfg.ClientID,
		store:         store,
		syncer:        syncer,
		scheduler:     scheduler,
		copy:          cfg.Copy,
		greetingDelay: cfg.GreetingFallbackDelay,
		logger:        cfg.Logger,
		initialized:   make(map[string]bool),
	}
	// Restored sessions with history never get a fresh greeting.
	for _, s := range store.Snapshot().Sessions {
		if len(s.Messages) > 0 {
			c.initialized[s.ID] = true
		}
	}
	return c
}

// Store exposes the underlying session store for direct field setters.
func (c *Controller) Store() *Store {
	return c.store
}

// Start opens the conversation of the active session by sending the opening
// message, once per session. If the backend is unreachable a static greeting
// is shown after a delay.
func (c *Controller) Start(ctx context.Context) error {
	return c.open(ctx, c.store.ActiveSession())
}

// StartSession is Start for the session with the given id, whether or not it
// is still active.
func (c *Controller) StartSession(ctx context.Context, id string) error {
	sess, ok := c.store.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return c.open(ctx, sess)
}

func (c *Controller) open(ctx context.Context, sess domain.Session) error {
	c.mu.Lock()
	if c.initialized[sess.ID] || len(sess.Messages) > 0 {
		c.initialized[sess.ID] = true
		c.mu.Unlock()
		return nil
	}
	c.initialized[sess.ID] = true
	c.mu.Unlock()

	if _, err := c.syncer.SendTo(ctx, sess.ID, c.copy.OpeningMessage); err != nil {
		greeting := c.copy.GreetingFallback
		c.SimulateResponse(c.greetingDelay, func() {
			c.store.AddMessageTo(sess.ID, domain.SenderAI, greeting, domain.MessageText)
		})
		return fmt.Errorf("open conversation: %w", err)
	}
	return nil
}

// HandleUserMessage records the user's message in the active session, sends it
// to the backend and applies the returned directives. On backend failure the
// returned Reply still carries the session (with the user message) and the
// error is returned.
func (c *Controller) HandleUserMessage(ctx context.Context, text string) (Reply, error) {
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}
	active := c.store.ActiveSession()
	if active.IsSubmitted {
		return Reply{Session: active}, ErrInputDisabled
	}

	c.store.AddMessageTo(active.ID, domain.SenderUser, text, domain.MessageText)

	resp, err := c.syncer.SendTo(ctx, active.ID, text)
	if err != nil {
		sess, _ := c.store.Session(active.ID)
		return Reply{Session: sess}, err
	}

	ui := resp.UI()
	if ui.ShowConfirmation {
		c.store.UpdateSession(active.ID, func(s *domain.Session) { s.CurrentQuestion = domain.Ref(domain.QuestionConfirm) })
	}
	if ui.ShowSuccess {
		c.store.UpdateSession(active.ID, func(s *domain.Session) { s.CurrentQuestion = domain.Ref(domain.QuestionComplete) })
	}

	sess, _ := c.store.Session(active.ID)
	return Reply{Session: sess, UI: ui, Intent: resp.Intent}, nil
}

// SelectPlan tells the backend the user is interested in plan.
func (c *Controller) SelectPlan(ctx context.Context, plan domain.Plan) (Reply, error) {
	var name string
	switch plan {
	case domain.PlanPro:
		name = "Pro"
	case domain.PlanBasic:
		name = "Basic"
	default:
		return Reply{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}
	return c.HandleUserMessage(ctx, c.copy.PlanInterestFor(name))
}

// SwitchToPro asks the backend to move the lead to the Pro plan.
func (c *Controller) SwitchToPro(ctx context.Context) (Reply, error) {
	return c.HandleUserMessage(ctx, c.copy.SwitchToPro)
}

// Confirm marks the active session's lead as submitted.
func (c *Controller) Confirm() domain.Session {
	c.store.UpdateActiveSession(func(s *domain.Session) {
		s.IsSubmitted = true
		s.CurrentQuestion = domain.Ref(domain.QuestionComplete)
	})
	return c.store.ActiveSession()
}

// AcceptYouTubeAnalysis enables the YouTube analysis view for the active session.
func (c *Controller) AcceptYouTubeAnalysis() domain.Session {
	c.store.SetShowYouTubeAnalysis(true)
	return c.store.ActiveSession()
}

// DeclineYouTubeAnalysis records that the user declined the analysis.
func (c *Controller) DeclineYouTubeAnalysis() domain.Session {
	active := c.store.ActiveSession()
	c.logger.Info("YouTube analysis declined", "client_id", c.clientID, "session_id", active.ID)
	return active
}

// CreateSession cancels pending delayed responses and opens a new active session.
func (c *Controller) CreateSession() domain.Session {
	c.cancelPending()
	return c.store.CreateSession()
}

// SelectSession cancels pending delayed responses and switches the active session.
func (c *Controller) SelectSession(id string) {
	c.cancelPending()
	c.store.SelectSession(id)
}

// SimulateResponse shows the typing indicator for delay, then runs fn. Switching
// sessions before it fires cancels it.
func (c *Controller) SimulateResponse(delay time.Duration, fn func()) func() bool {
	c.store.SetTyping(true)
	return c.scheduler.Schedule(delay, func() {
		c.store.SetTyping(false)
		fn()
	}, func() {
		c.store.SetTyping(false)
	})
}

// InputDisabled reports whether the user may not type: a request is in flight
// or the lead has been submitted.
func (c *Controller) InputDisabled() bool {
	return c.store.IsTyping() || c.store.ActiveSession().IsSubmitted
}

// ShowQuickReplies reports whether quick replies should be offered.
func (c *Controller) ShowQuickReplies() bool {
	return len(c.store.ActiveSession().Messages) <= 1 && !c.store.IsTyping()
}

// QuickReplies returns the canned quick reply texts.
func (c *Controller) QuickReplies() []string {
	return append([]string(nil), c.copy.QuickReplies...)
}

// View returns the current state with derived flags.
func (c *Controller) View() View {
	return c.ViewOf(c.store.Snapshot())
}

// ViewOf derives the UI flags for st.
func (c *Controller) ViewOf(st State) View {
	active := st.Active()
	return View{
		State:            st,
		InputDisabled:    st.IsTyping || active.IsSubmitted,
		ShowQuickReplies: len(active.Messages) <= 1 && !st.IsTyping,
		QuickReplies:     c.QuickReplies(),
	}
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() State {
	return c.store.Snapshot()
}

// Subscribe forwards to the store's change feed.
func (c *Controller) Subscribe() (<-chan State, func()) {
	return c.store.Subscribe()
}

// Close cancels pending delayed work and detaches the store's change hook.
// A closed controller still answers calls, but its changes are no longer
// persisted.
func (c *Controller) Close() {
	c.scheduler.Close()
	c.store.DetachChangeHook()
}

func (c *Controller) cancelPending() {
	if n := c.scheduler.CancelAll(); n > 0 {
		c.logger.Debug("cancelled pending delayed responses", "client_id", c.clientID, "count", n)
	}
}
