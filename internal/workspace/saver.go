package workspace

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/ashureev/autostream-chat/internal/store"
)

const (
	defaultSaveBacklog = 256
	saveTimeout        = 10 * time.Second
	flushTimeout       = 5 * time.Second
)

type saveJob struct {
	clientID string
	position int
	session  domain.Session
}

type saveKey struct {
	clientID  string
	sessionID string
}

// saver writes session snapshots to the repository off the request path.
// Pending snapshots are keyed by client and session: a newer snapshot
// replaces the queued one, so the backlog never exceeds the number of
// changed sessions and no session loses its last change.
type saver struct {
	repo    store.Repository
	logger  *slog.Logger
	backlog int

	mu      sync.Mutex
	pending map[saveKey]saveJob
	order   []saveKey
	closed  bool

	// writeMu is held for every repository write.
	writeMu sync.Mutex

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	coalesced atomic.Int64
	saved     atomic.Int64
}

// newSaver starts the write worker. backlog is the number of distinct pending
// sessions above which a warning is logged.
func newSaver(repo store.Repository, backlog int, logger *slog.Logger) *saver {
	if backlog <= 0 {
		backlog = defaultSaveBacklog
	}
	s := &saver{
		repo:    repo,
		logger:  logger,
		backlog: backlog,
		pending: make(map[saveKey]saveJob),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue never blocks.
func (s *saver) Enqueue(job saveJob) {
	key := saveKey{clientID: job.clientID, sessionID: job.session.ID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, queued := s.pending[key]; queued {
		s.coalesced.Add(1)
	} else {
		s.order = append(s.order, key)
		if len(s.order) == s.backlog {
			s.logger.Warn("Session save backlog growing", "pending", len(s.order))
		}
	}
	s.pending[key] = job
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Purge discards the queued snapshots of clientID, waits for a write in
// progress and runs fn before any further write starts.
func (s *saver) Purge(clientID string, fn func() error) error {
	s.mu.Lock()
	purged := 0
	keep := s.order[:0]
	for _, key := range s.order {
		if key.clientID != clientID {
			keep = append(keep, key)
			continue
		}
		if _, ok := s.pending[key]; ok {
			delete(s.pending, key)
			purged++
		}
	}
	s.order = keep
	s.mu.Unlock()

	if purged > 0 {
		s.logger.Debug("Discarded pending session saves", "client_id", clientID, "count", purged)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}

// Pending returns the number of sessions waiting to be written.
func (s *saver) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *saver) run() {
	defer close(s.done)
	for {
		s.drain(context.Background())
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
	}
}

func (s *saver) drain(ctx context.Context) int {
	n := 0
	for {
		s.writeMu.Lock()
		job, ok := s.next()
		if !ok {
			s.writeMu.Unlock()
			return n
		}
		s.save(ctx, job)
		s.writeMu.Unlock()
		n++
	}
}

func (s *saver) next() (saveJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.order) > 0 {
		key := s.order[0]
		s.order = s.order[1:]
		if job, ok := s.pending[key]; ok {
			delete(s.pending, key)
			return job, true
		}
	}
	return saveJob{}, false
}

func (s *saver) save(ctx context.Context, job saveJob) {
	ctx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()

	start := time.Now()
	if err := s.repo.SaveSession(ctx, job.clientID, job.position, job.session); err != nil {
		s.logger.Error("Failed to save session",
			"client_id", job.clientID,
			"session_id", job.session.ID,
			"error", err,
		)
		return
	}
	s.saved.Add(1)
	if d := time.Since(start); d > 100*time.Millisecond {
		s.logger.Warn("Slow session save",
			"client_id", job.clientID,
			"session_id", job.session.ID,
			"duration_ms", d.Milliseconds(),
		)
	}
}

// Close stops the worker and writes whatever is still queued.
func (s *saver) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		close(s.stop)
		<-s.done

		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if flushed := s.drain(ctx); flushed > 0 {
			s.logger.Info("Flushed pending session saves", "count", flushed)
		}
		if n := s.coalesced.Load(); n > 0 {
			s.logger.Debug("Session snapshots coalesced", "count", n)
		}
	})
}
