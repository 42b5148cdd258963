package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/ashureev/autostream-chat/internal/domain"
)

type memRepo struct {
	mu       sync.Mutex
	sessions map[string]map[string]savedSession // client -> session id -> saved
	loadErr  error
	saves    int
	cleanups int
}

type savedSession struct {
	position int
	session  domain.Session
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]map[string]savedSession)}
}

func (m *memRepo) SaveSession(_ context.Context, clientID string, position int, s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[clientID] == nil {
		m.sessions[clientID] = make(map[string]savedSession)
	}
	m.sessions[clientID][s.ID] = savedSession{position: position, session: s.Clone()}
	m.saves++
	return nil
}

func (m *memRepo) LoadSessions(_ context.Context, clientID string) ([]domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	saved := m.sessions[clientID]
	out := make([]domain.Session, len(saved))
	for _, s := range saved {
		out[s.position] = s.session.Clone()
	}
	return out, nil
}

func (m *memRepo) DeleteClient(_ context.Context, clientID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.sessions[clientID]))
	delete(m.sessions, clientID)
	return n, nil
}

func (m *memRepo) CleanupExpired(context.Context, time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
	return 0, nil
}

func (m *memRepo) Ping(context.Context) error { return nil }
func (m *memRepo) Close() error               { return nil }

func (m *memRepo) saved(clientID, sessionID string) (savedSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[clientID][sessionID]
	return s, ok
}

type echoBackend struct{}

func (echoBackend) SendMessage(_ context.Context, _, message string) (*backend.ChatResponse, error) {
	return &backend.ChatResponse{Reply: "ack: " + message, Intent: domain.LabelGreeting}, nil
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestGetReturnsSameController(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{Backend: echoBackend{}})
	defer reg.Close()

	a, err := reg.Get(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	b, _ := reg.Get(context.Background(), "anon_a")
	c, _ := reg.Get(context.Background(), "anon_b")
	if a != b {
		t.Fatal("same client got different controllers")
	}
	if a == c {
		t.Fatal("different clients share a controller")
	}
	if reg.Len() != 2 {
		t.Fatalf("Len = %d", reg.Len())
	}
}

func TestGetConcurrentBuildsOnce(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{Backend: echoBackend{}})
	defer reg.Close()

	var wg sync.WaitGroup
	ctrls := make([]*chat.Controller, 8)
	for i := range ctrls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctrls[i], _ = reg.Get(context.Background(), "anon_a")
		}(i)
	}
	wg.Wait()
	for _, c := range ctrls[1:] {
		if c != ctrls[0] {
			t.Fatal("concurrent Get built more than one controller")
		}
	}
}

func TestChangesArePersistedAndRestored(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	reg := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})

	ctrl, err := reg.Get(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := ctrl.HandleUserMessage(context.Background(), "Tell me pricing"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}
	second := ctrl.CreateSession()
	first := ctrl.Snapshot().Sessions[0]

	eventually(t, func() bool {
		s, ok := repo.saved("anon_a", first.ID)
		_, ok2 := repo.saved("anon_a", second.ID)
		return ok && ok2 && len(s.session.Messages) == 2
	}, "sessions not saved")

	if s, _ := repo.saved("anon_a", second.ID); s.position != 1 {
		t.Errorf("second session position = %d", s.position)
	}
	reg.Close()

	reg2 := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})
	defer reg2.Close()
	restored, err := reg2.Get(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	snap := restored.Snapshot()
	if len(snap.Sessions) != 2 {
		t.Fatalf("restored %d sessions", len(snap.Sessions))
	}
	if snap.Sessions[0].Title != "Tell me pricing" || len(snap.Sessions[0].Messages) != 2 {
		t.Errorf("first session = %+v", snap.Sessions[0])
	}
	if restored.Store().ActiveSession().ID != second.ID {
		t.Errorf("active = %q, want last session", restored.Store().ActiveSession().ID)
	}
}

func TestGetPropagatesLoadError(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	repo.loadErr = errors.New("disk on fire")
	reg := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})
	defer reg.Close()

	if _, err := reg.Get(context.Background(), "anon_a"); !errors.Is(err, repo.loadErr) {
		t.Fatalf("err = %v", err)
	}
	if reg.Len() != 0 {
		t.Fatal("failed workspace kept")
	}
}

func TestEvictIdle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{Backend: echoBackend{}})
	defer reg.Close()

	now := time.Now()
	reg.now = func() time.Time { return now }
	if _, err := reg.Get(context.Background(), "anon_old"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour)
	if _, err := reg.Get(context.Background(), "anon_new"); err != nil {
		t.Fatal(err)
	}

	evicted := reg.EvictIdle(30 * time.Minute)
	if len(evicted) != 1 || evicted[0] != "anon_old" {
		t.Fatalf("evicted = %v", evicted)
	}
	if reg.Len() != 1 {
		t.Fatalf("Len = %d", reg.Len())
	}
}

func TestResetDeletesHistory(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	reg := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})
	defer reg.Close()

	ctrl, _ := reg.Get(context.Background(), "anon_a")
	ctrl.Confirm()
	id := ctrl.Store().ActiveSession().ID
	eventually(t, func() bool { _, ok := repo.saved("anon_a", id); return ok }, "session not saved")

	n, err := reg.Reset(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d", n)
	}
	fresh, _ := reg.Get(context.Background(), "anon_a")
	if fresh == ctrl {
		t.Fatal("reset kept the old controller")
	}
	if fresh.InputDisabled() {
		t.Fatal("reset workspace still submitted")
	}
}

type gatedBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedBackend) SendMessage(_ context.Context, _, message string) (*backend.ChatResponse, error) {
	g.entered <- struct{}{}
	<-g.release
	return &backend.ChatResponse{Reply: "ack: " + message, Intent: domain.LabelGreeting}, nil
}

func TestResetDuringBackendCallStaysDeleted(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	be := gatedBackend{entered: make(chan struct{}, 1), release: make(chan struct{})}
	var reset []string
	reg := NewRegistry(Config{
		Backend: be,
		Repo:    repo,
		OnReset: func(id string) { reset = append(reset, id) },
	})
	defer reg.Close()

	ctrl, err := reg.Get(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = ctrl.HandleUserMessage(context.Background(), "Tell me pricing")
	}()
	<-be.entered

	if _, err := reg.Reset(context.Background(), "anon_a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	close(be.release)
	<-done

	if reg.saver.Pending() != 0 {
		t.Fatalf("pending saves after reset = %d", reg.saver.Pending())
	}
	if sessions, _ := repo.LoadSessions(context.Background(), "anon_a"); len(sessions) != 0 {
		t.Fatalf("history came back after reset: %+v", sessions)
	}
	if len(reset) != 1 || reset[0] != "anon_a" {
		t.Fatalf("OnReset calls = %v", reset)
	}
}

func TestResetDetachesOldController(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	reg := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})
	defer reg.Close()

	old, _ := reg.Get(context.Background(), "anon_a")
	if _, err := reg.Reset(context.Background(), "anon_a"); err != nil {
		t.Fatalf("Reset: %v", err)
	}

	// A connection still holding the old controller keeps talking to it.
	if _, err := old.HandleUserMessage(context.Background(), "still here?"); err != nil {
		t.Fatalf("HandleUserMessage: %v", err)
	}

	fresh, err := reg.Get(context.Background(), "anon_a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if fresh == old {
		t.Fatal("reset kept the old controller")
	}
	snap := fresh.Snapshot()
	if len(snap.Sessions) != 1 || len(snap.Sessions[0].Messages) != 0 {
		t.Fatalf("fresh workspace loaded old writes: %+v", snap.Sessions)
	}
	if reg.saver.Pending() != 0 {
		t.Fatal("old controller still queues saves")
	}
	if sessions, _ := repo.LoadSessions(context.Background(), "anon_a"); len(sessions) != 0 {
		t.Fatalf("old controller persisted after reset: %+v", sessions)
	}
}

func TestGetWaitsForReset(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	reg := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})
	defer reg.Close()

	release, err := reg.claim(context.Background(), "anon_a")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := reg.Get(ctx, "anon_a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Get during reset: err = %v", err)
	}
	release()
	if _, err := reg.Get(context.Background(), "anon_a"); err != nil {
		t.Fatalf("Get after reset: %v", err)
	}
}

func TestSweepRunsCleanup(t *testing.T) {
	t.Parallel()

	repo := newMemRepo()
	reg := NewRegistry(Config{Backend: echoBackend{}, Repo: repo})
	defer reg.Close()

	now := time.Now()
	reg.now = func() time.Time { return now }
	if _, err := reg.Get(context.Background(), "anon_a"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)

	var evicted []string
	sweep(context.Background(), reg, TTLConfig{
		WorkspaceTTL: time.Hour,
		HistoryTTL:   24 * time.Hour,
		OnEvict:      func(id string) { evicted = append(evicted, id) },
	})

	if len(evicted) != 1 || evicted[0] != "anon_a" {
		t.Fatalf("evicted = %v", evicted)
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.cleanups != 1 {
		t.Fatalf("cleanups = %d", repo.cleanups)
	}
}

func TestGetAfterClose(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(Config{Backend: echoBackend{}})
	reg.Close()
	if _, err := reg.Get(context.Background(), "anon_a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
