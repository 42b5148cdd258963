// Package chat implements the multi-session conversational state model: the
// session store, the backend sync adapter and the controller that drives both.
package chat

import (
	"sync"
	"time"

	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/google/uuid"
)

// State is an immutable snapshot of a workspace.
type State struct {
	Sessions        []domain.Session `json:"sessions"`
	ActiveSessionID string           `json:"activeSessionId"`
	IsTyping        bool             `json:"isTyping"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := State{
		Sessions:        make([]domain.Session, len(s.Sessions)),
		ActiveSessionID: s.ActiveSessionID,
		IsTyping:        s.IsTyping,
	}
	for i, sess := range s.Sessions {
		out.Sessions[i] = sess.Clone()
	}
	return out
}

// Active returns the active session of the snapshot, falling back to the
// first session when the active pointer dangles.
func (s State) Active() domain.Session {
	for _, sess := range s.Sessions {
		if sess.ID == s.ActiveSessionID {
			return sess
		}
	}
	if len(s.Sessions) == 0 {
		return domain.Session{}
	}
	return s.Sessions[0]
}

// Store owns every session of a workspace. Each update replaces the affected
// session with an updated copy, so values handed out earlier never change.
type Store struct {
	mu       sync.Mutex
	sessions []domain.Session
	activeID string
	typing   int

	now   func() time.Time
	newID func() string

	// hookMu is taken before mu is released so hook calls follow update order.
	hookMu   sync.Mutex
	onChange func(sess domain.Session, position int)

	subsMu  sync.Mutex
	subs    map[int]chan State
	nextSub int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides how session and message IDs are generated.
func WithIDGenerator(gen func() string) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithSessions seeds the store, e.g. from persisted history.
func WithSessions(sessions []domain.Session, activeID string) StoreOption {
	return func(s *Store) {
		s.sessions = make([]domain.Session, len(sessions))
		for i, sess := range sessions {
			s.sessions[i] = sess.Clone()
		}
		s.activeID = activeID
	}
}

// WithChangeHook registers fn to run after every session mutation with a copy
// of the updated session and its index. Calls are delivered one at a time in
// the order the updates were applied. fn must not call back into the store.
func WithChangeHook(fn func(sess domain.Session, position int)) StoreOption {
	return func(s *Store) { s.onChange = fn }
}

// NewStore creates a store. Without seeded sessions it starts with one empty
// active session.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:   time.Now,
		newID: uuid.NewString,
		subs:  make(map[int]chan State),
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.sessions) == 0 {
		first := domain.NewSession(s.newID(), s.now())
		s.sessions = []domain.Session{first}
		s.activeID = first.ID
	}
	if s.activeID == "" {
		s.activeID = s.sessions[len(s.sessions)-1].ID
	}
	return s
}

// CreateSession appends a new empty session and makes it active.
func (s *Store) CreateSession() domain.Session {
	s.mu.Lock()
	sess := domain.NewSession(s.newID(), s.now())
	next := make([]domain.Session, len(s.sessions), len(s.sessions)+1)
	copy(next, s.sessions)
	s.sessions = append(next, sess)
	s.activeID = sess.ID
	s.hookMu.Lock()
	s.mu.Unlock()

	s.runHook(sess, len(next))
	s.broadcast()
	return sess.Clone()
}

// SelectSession moves the active pointer. The id is not validated: an unknown
// id leaves the pointer dangling and ActiveSession falls back to the first session.
func (s *Store) SelectSession(id string) {
	s.mu.Lock()
	s.activeID = id
	s.mu.Unlock()

	s.broadcast()
}

// ActiveSessionID returns the raw active pointer, which may be dangling.
func (s *Store) ActiveSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ActiveSession returns the active session, or the first session when the
// active pointer does not match any.
func (s *Store) ActiveSession() domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[s.activeIndexLocked()].Clone()
}

// Session returns the session with the given id.
func (s *Store) Session(id string) (domain.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return domain.Session{}, false
	}
	return s.sessions[i].Clone(), true
}

// AddMessage appends a message to the active session. A zero type means text.
func (s *Store) AddMessage(sender domain.Sender, content string, typ domain.MessageType) domain.Message {
	s.mu.Lock()
	id := s.sessions[s.activeIndexLocked()].ID
	s.mu.Unlock()

	msg, _ := s.AddMessageTo(id, sender, content, typ)
	return msg
}

// AddMessageTo appends a message to the session with the given id. It reports
// false when no such session exists.
func (s *Store) AddMessageTo(sessionID string, sender domain.Sender, content string, typ domain.MessageType) (domain.Message, bool) {
	if typ == "" {
		typ = domain.MessageText
	}
	s.mu.Lock()
	msg := domain.Message{
		ID:        s.newID(),
		Type:      typ,
		Sender:    sender,
		Content:   content,
		Timestamp: s.now(),
	}
	s.mu.Unlock()

	ok := s.UpdateSession(sessionID, func(sess *domain.Session) {
		sess.AppendMessage(msg)
	})
	return msg, ok
}

// UpdateActiveSession applies a partial update to the active session and
// refreshes its UpdatedAt.
func (s *Store) UpdateActiveSession(apply func(*domain.Session)) {
	s.mu.Lock()
	id := s.sessions[s.activeIndexLocked()].ID
	s.mu.Unlock()

	s.UpdateSession(id, apply)
}

// UpdateSession applies a partial update to the session with the given id and
// refreshes its UpdatedAt. It reports false when no such session exists.
func (s *Store) UpdateSession(id string, apply func(*domain.Session)) bool {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false
	}
	updated := s.sessions[i].Clone()
	apply(&updated)
	updated.ID = id
	updated.UpdatedAt = s.now()

	next := make([]domain.Session, len(s.sessions))
	copy(next, s.sessions)
	next[i] = updated
	s.sessions = next
	s.hookMu.Lock()
	s.mu.Unlock()

	s.runHook(updated, i)
	s.broadcast()
	return true
}

// SetIntent sets the active session's intent level.
func (s *Store) SetIntent(level domain.IntentLevel) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.IntentLevel = level })
}

// UpdateLead sets one lead field of the active session.
func (s *Store) UpdateLead(field domain.LeadField, value *string) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.LeadInfo = sess.LeadInfo.With(field, value) })
}

// SetCurrentQuestion sets which lead field is being solicited. Nil clears it.
func (s *Store) SetCurrentQuestion(q *domain.Question) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.CurrentQuestion = q })
}

// SetSubmitted sets the active session's submission flag.
func (s *Store) SetSubmitted(submitted bool) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.IsSubmitted = submitted })
}

// SetSelectedPlan sets the active session's plan. Nil clears it.
func (s *Store) SetSelectedPlan(plan *domain.Plan) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.SelectedPlan = plan })
}

// SetYouTubeLink sets the active session's detected channel. Nil clears it.
func (s *Store) SetYouTubeLink(link *string) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.YouTubeLink = link })
}

// SetShowYouTubeAnalysis toggles the YouTube analysis view for the active session.
func (s *Store) SetShowYouTubeAnalysis(show bool) {
	s.UpdateActiveSession(func(sess *domain.Session) { sess.ShowYouTubeAnalysis = show })
}

// SetTyping raises (true) or lowers (false) the typing indicator. Raises are
// counted so overlapping requests keep the indicator on until all complete.
func (s *Store) SetTyping(typing bool) {
	s.mu.Lock()
	if typing {
		s.typing++
	} else if s.typing > 0 {
		s.typing--
	}
	s.mu.Unlock()

	s.broadcast()
}

// IsTyping reports whether any request or simulated response is in flight.
func (s *Store) IsTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing > 0
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving the latest state after each change.
// Intermediate states are dropped when the reader lags. The returned func
// unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subsMu.Unlock()
		})
	}
}

// DetachChangeHook removes the change hook. It waits for a hook call in
// progress, and no call starts after it returns.
func (s *Store) DetachChangeHook() {
	s.hookMu.Lock()
	s.onChange = nil
	s.hookMu.Unlock()
}

// runHook must be entered with hookMu held.
func (s *Store) runHook(sess domain.Session, position int) {
	defer s.hookMu.Unlock()
	if s.onChange != nil {
		s.onChange(sess.Clone(), position)
	}
}

func (s *Store) broadcast() {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	if len(s.subs) == 0 {
		return
	}
	snap := s.Snapshot()
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Store) snapshotLocked() State {
	st := State{
		Sessions:        s.sessions,
		ActiveSessionID: s.activeID,
		IsTyping:        s.typing > 0,
	}
	return st.Clone()
}

func (s *Store) indexLocked(id string) int {
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) activeIndexLocked() int {
	if i := s.indexLocked(s.activeID); i >= 0 {
		return i
	}
	return 0
}
