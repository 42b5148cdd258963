// Package workspace keeps one chat controller per client and persists its
// sessions.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/ashureev/autostream-chat/internal/content"
	"github.com/ashureev/autostream-chat/internal/convlog"
	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/ashureev/autostream-chat/internal/store"
)

// ErrClosed is returned by Get once the registry is closed.
var ErrClosed = errors.New("workspace registry closed")

// NotifierFactory returns the notifier for a client's controller.
type NotifierFactory func(clientID string) chat.Notifier

// Config holds the collaborators shared by every workspace.
type Config struct {
	Backend       chat.Backend
	Repo          store.Repository // nil disables persistence
	Notifiers     NotifierFactory
	ConvLog       convlog.Logger
	Copy          content.Copy
	FallbackDelay time.Duration
	GreetingDelay time.Duration
	// SaveBacklog is the number of sessions waiting to be written above
	// which a warning is logged.
	SaveBacklog int
	// OnReset, if set, is called with the client ID after its workspace is
	// dropped by Reset and before its history is deleted.
	OnReset func(clientID string)
	Logger  *slog.Logger
}

type entry struct {
	ctrl     *chat.Controller
	lastSeen time.Time
}

// Registry maps client IDs to live controllers.
type Registry struct {
	cfg    Config
	saver  *saver
	logger *slog.Logger
	now    func() time.Time

	mu         sync.Mutex
	workspaces map[string]*entry
	loading    map[string]chan struct{}
	closed     bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ConvLog == nil {
		cfg.ConvLog = convlog.Noop()
	}
	r := &Registry{
		cfg:        cfg,
		logger:     cfg.Logger,
		now:        time.Now,
		workspaces: make(map[string]*entry),
		loading:    make(map[string]chan struct{}),
	}
	if cfg.Repo != nil {
		r.saver = newSaver(cfg.Repo, cfg.SaveBacklog, cfg.Logger)
	}
	return r
}

// Get returns the client's controller, building it on first use from
// persisted history.
func (r *Registry) Get(ctx context.Context, clientID string) (*chat.Controller, error) {
	if ctrl, err := r.lookup(clientID); ctrl != nil || err != nil {
		return ctrl, err
	}

	release, err := r.claim(ctx, clientID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Built by another caller while we waited.
	if ctrl, err := r.lookup(clientID); ctrl != nil || err != nil {
		return ctrl, err
	}

	ctrl, err := r.build(ctx, clientID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		ctrl.Close()
		return nil, ErrClosed
	}
	r.workspaces[clientID] = &entry{ctrl: ctrl, lastSeen: r.now()}
	return ctrl, nil
}

func (r *Registry) lookup(clientID string) (*chat.Controller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	if e, ok := r.workspaces[clientID]; ok {
		e.lastSeen = r.now()
		return e.ctrl, nil
	}
	return nil, nil
}

// claim makes the caller the only one building or resetting clientID's
// workspace until release is called.
func (r *Registry) claim(ctx context.Context, clientID string) (release func(), err error) {
	for {
		r.mu.Lock()
		wait, busy := r.loading[clientID]
		if !busy {
			done := make(chan struct{})
			r.loading[clientID] = done
			r.mu.Unlock()
			return func() {
				r.mu.Lock()
				delete(r.loading, clientID)
				close(done)
				r.mu.Unlock()
			}, nil
		}
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (r *Registry) build(ctx context.Context, clientID string) (*chat.Controller, error) {
	var opts []chat.StoreOption
	if r.cfg.Repo != nil {
		sessions, err := r.cfg.Repo.LoadSessions(ctx, clientID)
		if err != nil {
			return nil, fmt.Errorf("load sessions for %s: %w", clientID, err)
		}
		if len(sessions) > 0 {
			opts = append(opts, chat.WithSessions(sessions, ""))
			r.logger.Info("Restored workspace", "client_id", clientID, "sessions", len(sessions))
		}
	}

	if r.saver != nil {
		opts = append(opts, chat.WithChangeHook(func(s domain.Session, position int) {
			r.saver.Enqueue(saveJob{clientID: clientID, position: position, session: s})
		}))
	}

	var notifier chat.Notifier
	if r.cfg.Notifiers != nil {
		notifier = r.cfg.Notifiers(clientID)
	}

	return chat.NewController(chat.Config{
		ClientID:              clientID,
		Backend:               r.cfg.Backend,
		Notifier:              notifier,
		ConvLog:               r.cfg.ConvLog,
		Copy:                  r.cfg.Copy,
		FallbackDelay:         r.cfg.FallbackDelay,
		GreetingFallbackDelay: r.cfg.GreetingDelay,
		StoreOptions:          opts,
		Logger:                r.logger,
	}), nil
}

// Touch refreshes a live workspace's last-seen time.
func (r *Registry) Touch(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.workspaces[clientID]; ok {
		e.lastSeen = r.now()
	}
}

// Len returns the number of live workspaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workspaces)
}

// Evict drops a live workspace. Its persisted history is kept.
func (r *Registry) Evict(clientID string) bool {
	r.mu.Lock()
	e, ok := r.workspaces[clientID]
	delete(r.workspaces, clientID)
	r.mu.Unlock()
	if ok {
		e.ctrl.Close()
	}
	return ok
}

// EvictIdle drops every workspace not seen within ttl and returns their client IDs.
func (r *Registry) EvictIdle(ttl time.Duration) []string {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	var idle []*entry
	var ids []string
	for id, e := range r.workspaces {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e)
			ids = append(ids, id)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		e.ctrl.Close()
	}
	return ids
}

// Reset drops the client's workspace and deletes its persisted history. The
// dropped controller stops persisting before the delete, and Get waits for
// Reset to finish, so nothing written before Reset reappears afterwards.
func (r *Registry) Reset(ctx context.Context, clientID string) (int64, error) {
	release, err := r.claim(ctx, clientID)
	if err != nil {
		return 0, err
	}
	defer release()

	r.Evict(clientID)
	if r.cfg.OnReset != nil {
		r.cfg.OnReset(clientID)
	}
	if r.saver == nil {
		return 0, nil
	}

	var n int64
	err = r.saver.Purge(clientID, func() error {
		var err error
		n, err = r.cfg.Repo.DeleteClient(ctx, clientID)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete history for %s: %w", clientID, err)
	}
	return n, nil
}

// Close stops every controller and flushes pending saves.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	all := r.workspaces
	r.workspaces = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range all {
		e.ctrl.Close()
	}
	if r.saver != nil {
		r.saver.Close()
	}
}
