package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/autostream-chat/internal/backend"
	"github.com/ashureev/autostream-chat/internal/chat"
	"github.com/ashureev/autostream-chat/internal/domain"
	"github.com/ashureev/autostream-chat/internal/identity"
	"github.com/ashureev/autostream-chat/internal/workspace"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type echoBackend struct{}

func (echoBackend) SendMessage(_ context.Context, _, message string) (*backend.ChatResponse, error) {
	return &backend.ChatResponse{Reply: "ack: " + message, Intent: domain.LabelProductPricing}, nil
}

type gatedBackend struct {
	entered chan struct{}
	release chan struct{}
}

func (g gatedBackend) SendMessage(ctx context.Context, sessionID, message string) (*backend.ChatResponse, error) {
	g.entered <- struct{}{}
	<-g.release
	return echoBackend{}.SendMessage(ctx, sessionID, message)
}

func newTestServer(t *testing.T) (*httptest.Server, *Hub, *workspace.Registry) {
	t.Helper()
	return newTestServerWith(t, echoBackend{})
}

func newTestServerWith(t *testing.T, be chat.Backend) (*httptest.Server, *Hub, *workspace.Registry) {
	t.Helper()
	hub := NewHub()
	reg := workspace.NewRegistry(workspace.Config{Backend: be, Notifiers: hub.For})
	t.Cleanup(reg.Close)

	h := identity.Middleware(true, nil)(NewHandler(hub, reg, "*", true))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, hub, reg
}

func dial(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hdr := http.Header{}
	hdr.Set(identity.ClientHeaderName, clientID)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{HTTPHeader: hdr})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

// readUntil reads frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read %s frame: %v", typ, err)
		}
		if f.Type == typ {
			return f
		}
	}
}

func testClientID(t *testing.T) string {
	t.Helper()
	id, err := identity.NewClientID()
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func TestStreamSendsInitialState(t *testing.T) {
	t.Parallel()

	srv, hub, _ := newTestServer(t)
	clientID := testClientID(t)
	conn := dial(t, srv, clientID)

	f := readUntil(t, conn, "state")
	if f.State == nil || len(f.State.Sessions) != 1 {
		t.Fatalf("initial state = %+v", f.State)
	}
	if !f.State.ShowQuickReplies {
		t.Error("quick replies hidden in empty session")
	}
	if hub.Connections(clientID) != 1 {
		t.Fatalf("connections = %d", hub.Connections(clientID))
	}
}

func TestStreamHandlesMessages(t *testing.T) {
	t.Parallel()

	srv, _, reg := newTestServer(t)
	clientID := testClientID(t)
	conn := dial(t, srv, clientID)
	readUntil(t, conn, "state")

	ctx := context.Background()
	if err := wsjson.Write(ctx, conn, inbound{Type: "message", Content: "Tell me pricing"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	f := readUntil(t, conn, "reply")
	if f.Reply == nil || len(f.Reply.Session.Messages) != 2 {
		t.Fatalf("reply = %+v", f.Reply)
	}
	if f.Reply.Session.IntentLevel != domain.IntentInterested {
		t.Errorf("intent = %q", f.Reply.Session.IntentLevel)
	}

	ctrl, err := reg.Get(ctx, clientID)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(ctrl.Store().ActiveSession().Messages); got != 2 {
		t.Fatalf("workspace has %d messages", got)
	}

	if err := wsjson.Write(ctx, conn, inbound{Type: "message", Content: "  "}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readUntil(t, conn, "error"); f.Error != chat.ErrEmptyMessage.Error() {
		t.Fatalf("error = %q", f.Error)
	}

	if err := wsjson.Write(ctx, conn, inbound{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "pong")
}

func TestStreamAnswersPingDuringBackendCall(t *testing.T) {
	t.Parallel()

	be := gatedBackend{entered: make(chan struct{}, 2), release: make(chan struct{})}
	srv, _, reg := newTestServerWith(t, be)
	clientID := testClientID(t)
	conn := dial(t, srv, clientID)
	readUntil(t, conn, "state")

	ctx := context.Background()
	for _, text := range []string{"first", "second"} {
		if err := wsjson.Write(ctx, conn, inbound{Type: "message", Content: text}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	<-be.entered

	if err := wsjson.Write(ctx, conn, inbound{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	readUntil(t, conn, "pong")

	close(be.release)
	readUntil(t, conn, "reply")
	f := readUntil(t, conn, "reply")
	msgs := f.Reply.Session.Messages
	if len(msgs) != 4 || msgs[0].Content != "first" || msgs[2].Content != "second" {
		t.Fatalf("messages out of order: %+v", msgs)
	}

	ctrl, err := reg.Get(ctx, clientID)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(ctrl.Store().ActiveSession().Messages); got != 4 {
		t.Fatalf("workspace has %d messages", got)
	}
}

func TestStreamPushesStateChanges(t *testing.T) {
	t.Parallel()

	srv, _, reg := newTestServer(t)
	clientID := testClientID(t)
	conn := dial(t, srv, clientID)
	readUntil(t, conn, "state")

	ctrl, err := reg.Get(context.Background(), clientID)
	if err != nil {
		t.Fatal(err)
	}
	ctrl.Confirm()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		f := readUntil(t, conn, "state")
		if f.State.InputDisabled {
			return
		}
	}
	t.Fatal("submission never pushed")
}

func TestStreamForwardsNotices(t *testing.T) {
	t.Parallel()

	srv, hub, _ := newTestServer(t)
	clientID := testClientID(t)
	conn := dial(t, srv, clientID)
	readUntil(t, conn, "state")

	hub.Notify(clientID, chat.Notice{Level: chat.NoticeSuccess, Text: "Lead captured successfully! 🎉"})
	f := readUntil(t, conn, "notice")
	if f.Notice == nil || f.Notice.Level != chat.NoticeSuccess {
		t.Fatalf("notice = %+v", f.Notice)
	}

	hub.Notify("anon_someone_else", chat.Notice{Level: chat.NoticeError, Text: "not for you"})
}

func TestCloseClientDisconnects(t *testing.T) {
	t.Parallel()

	srv, hub, _ := newTestServer(t)
	clientID := testClientID(t)
	conn := dial(t, srv, clientID)
	readUntil(t, conn, "state")

	hub.CloseClient(clientID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			return
		}
	}
}

func TestRejectsForeignOrigin(t *testing.T) {
	t.Parallel()

	hub := NewHub()
	reg := workspace.NewRegistry(workspace.Config{Backend: echoBackend{}})
	defer reg.Close()
	h := identity.Middleware(true, nil)(NewHandler(hub, reg, "https://chat.autostream.io", false))

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	req.Header.Set("Origin", "https://evil.test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}
