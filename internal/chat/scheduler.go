package chat

import (
	"sync"
	"time"
)

// Scheduler runs delayed tasks that can be cancelled individually or all at once.
type Scheduler struct {
	mu     sync.Mutex
	next   uint64
	tasks  map[uint64]*task
	closed bool
}

type task struct {
	timer    *time.Timer
	onCancel func()
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[uint64]*task)}
}

// Schedule runs fn after delay. onCancel, if non-nil, runs instead when the task
// is cancelled before firing. The returned func cancels the task and reports
// whether it was still pending.
func (s *Scheduler) Schedule(delay time.Duration, fn, onCancel func()) func() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() bool { return false }
	}

	id := s.next
	s.next++
	t := &task{onCancel: onCancel}
	// The callback takes s.mu, so it cannot observe the map before t is stored.
	t.timer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, pending := s.tasks[id]
		delete(s.tasks, id)
		s.mu.Unlock()
		if pending {
			fn()
		}
	})
	s.tasks[id] = t

	return func() bool { return s.cancel(id) }
}

func (s *Scheduler) cancel(id uint64) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	delete(s.tasks, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.timer.Stop()
	if t.onCancel != nil {
		t.onCancel()
	}
	return true
}

// CancelAll cancels every pending task and returns how many were cancelled.
func (s *Scheduler) CancelAll() int {
	s.mu.Lock()
	pending := s.tasks
	s.tasks = make(map[uint64]*task)
	s.mu.Unlock()

	for _, t := range pending {
		t.timer.Stop()
		if t.onCancel != nil {
			t.onCancel()
		}
	}
	return len(pending)
}

// Pending returns the number of tasks that have not fired yet.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels pending tasks and rejects new ones.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.CancelAll()
}
