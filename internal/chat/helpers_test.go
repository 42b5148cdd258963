package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
)

var errBackendDown = errors.New("HTTP error! status: 502")

type sentMessage struct {
	SessionID string
	Message   string
}

// fakeBackend answers from a queue of scripted results. With no script it
// echoes the message with intent "greeting".
type fakeBackend struct {
	mu       sync.Mutex
	script   []fakeResult
	sent     []sentMessage
	gate     chan struct{}
	inFlight int
	maxSeen  int
}

type fakeResult struct {
	resp *backend.ChatResponse
	err  error
}

func (f *fakeBackend) reply(resp *backend.ChatResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, fakeResult{resp: resp})
}

func (f *fakeBackend) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, fakeResult{err: err})
}

// hold makes SendMessage block until release is called.
func (f *fakeBackend) hold() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
}

func (f *fakeBackend) release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gate != nil {
		close(f.gate)
		f.gate = nil
	}
}

func (f *fakeBackend) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeBackend) maxConcurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxSeen
}

func (f *fakeBackend) SendMessage(ctx context.Context, sessionID, message string) (*backend.ChatResponse, error) {
	f.mu.Lock()
	f.sent = append(f.sent, sentMessage{SessionID: sessionID, Message: message})
	f.inFlight++
	if f.inFlight > f.maxSeen {
		f.maxSeen = f.inFlight
	}
	gate := f.gate
	var res *fakeResult
	if len(f.script) > 0 {
		res = &f.script[0]
		f.script = f.script[1:]
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if res == nil {
		return &backend.ChatResponse{Reply: "ack: " + message, Intent: "greeting"}, nil
	}
	return res.resp, res.err
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// eventually polls cond until it holds or the timeout expires.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
