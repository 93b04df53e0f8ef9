package connection

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/market-feed/internal/auth"
	"github.com/rickgao/market-feed/internal/model"
	"github.com/rickgao/market-feed/internal/session"
)

// feedServer records control messages and lets tests push frames or drop the connection.
type feedServer struct {
	mu       sync.Mutex
	controls []ControlMessage
	types    []int
	header   http.Header

	push chan []byte
	kill chan struct{}
	got  chan struct{}
}

func newFeedServer() *feedServer {
	return &feedServer{
		push: make(chan []byte, 16),
		kill: make(chan struct{}),
		got:  make(chan struct{}, 64),
	}
}

func (s *feedServer) handle(conn *websocket.Conn, r *http.Request) {
	s.mu.Lock()
	s.header = r.Header.Clone()
	s.mu.Unlock()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			typ, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg ControlMessage
			json.Unmarshal(data, &msg)
			s.mu.Lock()
			s.controls = append(s.controls, msg)
			s.types = append(s.types, typ)
			s.mu.Unlock()
			s.got <- struct{}{}
		}
	}()

	for {
		select {
		case data := <-s.push:
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				return
			}
		case <-s.kill:
			return
		case <-closed:
			return
		}
	}
}

func (s *feedServer) waitControl(t *testing.T) ControlMessage {
	t.Helper()
	select {
	case <-s.got:
	case <-time.After(time.Second):
		t.Fatal("no control message received")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.types[len(s.types)-1] != websocket.BinaryMessage {
		t.Errorf("control frame type = %d, want binary", s.types[len(s.types)-1])
	}
	return s.controls[len(s.controls)-1]
}

func (s *feedServer) controlCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.controls)
}

type recordingHandler struct {
	mu     sync.Mutex
	frames [][]byte
	err    error
	seen   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{seen: make(chan struct{}, 64)}
}

func (h *recordingHandler) HandleFrame(_ context.Context, msg RawMessage) error {
	h.mu.Lock()
	h.frames = append(h.frames, msg.Data)
	h.mu.Unlock()
	h.seen <- struct{}{}
	return h.err
}

func testFeed(t *testing.T, srv *feedServer, h FrameHandler) (*Feed, *session.Session, func()) {
	t.Helper()

	server := mockWSServer(t, srv.handle)
	cfg := DefaultFeedConfig()
	cfg.URL = wsURL(server)
	cfg.Client = testClientConfig()

	sess := session.New()
	feed := NewFeed(cfg, sess, auth.StaticToken("tok"), h)

	return feed, sess, func() {
		feed.Disconnect()
		server.Close()
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func TestFeed_ConnectAndHealth(t *testing.T) {
	srv := newFeedServer()
	feed, _, cleanup := testFeed(t, srv, nil)
	defer cleanup()

	if feed.State() != model.StateDisconnected {
		t.Fatalf("initial state = %v", feed.State())
	}

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	h := feed.Health()
	if h.State != model.StateConnected {
		t.Errorf("state = %v, want CONNECTED", h.State)
	}
	if h.ConnectedAt == nil {
		t.Error("ConnectedAt not set")
	}

	waitFor(t, func() bool {
		srv.mu.Lock()
		defer srv.mu.Unlock()
		return srv.header != nil
	})
	srv.mu.Lock()
	gotAuth := srv.header.Get("Authorization")
	srv.mu.Unlock()
	if gotAuth != "Bearer tok" {
		t.Errorf("Authorization = %q", gotAuth)
	}

	if err := feed.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() = %v, want ErrAlreadyConnected", err)
	}
}

type fakeAuthorizer struct {
	url string
	err error
	got string
}

func (a *fakeAuthorizer) Authorize(_ context.Context, token string) (string, error) {
	a.got = token
	return a.url, a.err
}

func TestFeed_ConnectViaAuthorizer(t *testing.T) {
	srv := newFeedServer()
	server := mockWSServer(t, srv.handle)
	defer server.Close()

	a := &fakeAuthorizer{url: wsURL(server)}
	cfg := DefaultFeedConfig()
	cfg.Client = testClientConfig()

	feed := NewFeed(cfg, session.New(), auth.StaticToken("tok"), nil, WithAuthorizer(a))
	defer feed.Disconnect()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if a.got != "tok" {
		t.Errorf("authorizer token = %q", a.got)
	}
}

func TestFeed_ConnectFailures(t *testing.T) {
	tests := []struct {
		name   string
		tokens auth.TokenProvider
		authz  Authorizer
		url    string
		wantOp string
	}{
		{"no token", auth.StaticToken(""), nil, "ws://127.0.0.1:1", "token"},
		{"authorize rejected", auth.StaticToken("tok"), &fakeAuthorizer{err: errors.New("401")}, "", "authorize"},
		{"dial refused", auth.StaticToken("tok"), nil, "ws://127.0.0.1:1", "dial"},
		{"no url", auth.StaticToken("tok"), nil, "", "dial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultFeedConfig()
			cfg.URL = tt.url
			cfg.HandshakeTimeout = time.Second
			cfg.Client = testClientConfig()

			var opts []FeedOption
			if tt.authz != nil {
				opts = append(opts, WithAuthorizer(tt.authz))
			}
			feed := NewFeed(cfg, session.New(), tt.tokens, nil, opts...)

			err := feed.Connect(context.Background())
			var connErr *ConnectionError
			if !errors.As(err, &connErr) {
				t.Fatalf("Connect() error = %v, want *ConnectionError", err)
			}
			if connErr.Op != tt.wantOp {
				t.Errorf("Op = %q, want %q", connErr.Op, tt.wantOp)
			}
			if feed.State() != model.StateDisconnected {
				t.Errorf("state = %v, want DISCONNECTED", feed.State())
			}
		})
	}
}

func TestFeed_SubscribeMessage(t *testing.T) {
	srv := newFeedServer()
	feed, sess, cleanup := testFeed(t, srv, nil)
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	keys := model.Keys("MCX_FO|1", "NSE_INDEX|Nifty 50")
	if err := feed.Subscribe(context.Background(), keys, model.ModeFull); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	msg := srv.waitControl(t)
	if msg.Method != MethodSubscribe {
		t.Errorf("method = %q, want sub", msg.Method)
	}
	if msg.Data.Mode != "full_d30" {
		t.Errorf("mode = %q, want full_d30", msg.Data.Mode)
	}
	if len(msg.Data.InstrumentKeys) != 2 || msg.Data.InstrumentKeys[1] != "NSE_INDEX|Nifty 50" {
		t.Errorf("keys = %v", msg.Data.InstrumentKeys)
	}
	if msg.GUID == "" {
		t.Error("guid is empty")
	}

	// Subscribe does not record the keys; the reconciler does.
	if sess.ActiveCount() != 0 {
		t.Errorf("active = %d, want 0", sess.ActiveCount())
	}
}

func TestFeed_ChangeModeMessage(t *testing.T) {
	srv := newFeedServer()
	feed, sess, cleanup := testFeed(t, srv, nil)
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess.AddActive(sess.Epoch(), model.Keys("MCX_FO|1"), model.ModeFull)

	if err := feed.ChangeMode(context.Background(), model.Keys("MCX_FO|1"), model.ModeStandard); err != nil {
		t.Fatalf("ChangeMode() error = %v", err)
	}

	msg := srv.waitControl(t)
	if msg.Method != MethodChangeMode || msg.Data.Mode != "full" {
		t.Errorf("message = %+v, want change_mode to full", msg)
	}
	if len(msg.Data.InstrumentKeys) != 1 || msg.Data.InstrumentKeys[0] != "MCX_FO|1" {
		t.Errorf("keys = %v", msg.Data.InstrumentKeys)
	}

	// The caller records the new mode.
	if m, _ := sess.ActiveMode("MCX_FO|1"); m != model.ModeFull {
		t.Errorf("ActiveMode = %v, want unchanged FULL", m)
	}
}

func TestFeed_BatchSizeExceeded(t *testing.T) {
	srv := newFeedServer()
	feed, sess, cleanup := testFeed(t, srv, nil)
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	keys := make([]model.InstrumentKey, DefaultBatchLimit+1)
	for i := range keys {
		keys[i] = model.InstrumentKey("MCX_FO|" + string(rune('a'+i%26)) + string(rune('a'+i/26)))
	}
	sess.AddActive(sess.Epoch(), keys, model.ModeFull)

	if err := feed.Subscribe(context.Background(), keys, model.ModeFull); !errors.Is(err, ErrBatchSizeExceeded) {
		t.Errorf("Subscribe() = %v, want ErrBatchSizeExceeded", err)
	}
	if err := feed.Unsubscribe(context.Background(), keys); !errors.Is(err, ErrBatchSizeExceeded) {
		t.Errorf("Unsubscribe() = %v, want ErrBatchSizeExceeded", err)
	}

	if err := feed.Subscribe(context.Background(), keys[:DefaultBatchLimit], model.ModeFull); err != nil {
		t.Errorf("Subscribe(limit) = %v", err)
	}
	msg := srv.waitControl(t)
	if len(msg.Data.InstrumentKeys) != DefaultBatchLimit {
		t.Errorf("keys on wire = %d, want %d", len(msg.Data.InstrumentKeys), DefaultBatchLimit)
	}
	if srv.controlCount() != 1 {
		t.Errorf("control messages = %d, want 1 (oversized calls have no effect)", srv.controlCount())
	}
}

func TestFeed_UnsubscribeInactiveIsNoop(t *testing.T) {
	srv := newFeedServer()
	feed, sess, cleanup := testFeed(t, srv, nil)
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess.AddActive(sess.Epoch(), model.Keys("A"), model.ModeStandard)

	if err := feed.Unsubscribe(context.Background(), model.Keys("X", "Y")); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if srv.controlCount() != 0 {
		t.Errorf("control messages = %d, want 0", srv.controlCount())
	}
	if !sess.IsActive("A") || sess.ActiveCount() != 1 {
		t.Error("active set changed")
	}

	// Mixed: only the active key is sent.
	if err := feed.Unsubscribe(context.Background(), model.Keys("X", "A")); err != nil {
		t.Fatal(err)
	}
	msg := srv.waitControl(t)
	if msg.Method != MethodUnsubscribe || len(msg.Data.InstrumentKeys) != 1 || msg.Data.InstrumentKeys[0] != "A" {
		t.Errorf("unsub = %+v", msg)
	}
}

func TestFeed_NotConnected(t *testing.T) {
	feed := NewFeed(DefaultFeedConfig(), session.New(), auth.StaticToken("tok"), nil)

	if err := feed.Subscribe(context.Background(), model.Keys("A"), model.ModeStandard); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
	if err := feed.Unsubscribe(context.Background(), model.Keys("A")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() = %v, want ErrNotConnected", err)
	}
	if err := feed.ChangeMode(context.Background(), model.Keys("A"), model.ModeFull); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ChangeMode() = %v, want ErrNotConnected", err)
	}
}

func TestFeed_FramesReachHandlerInOrder(t *testing.T) {
	srv := newFeedServer()
	h := newRecordingHandler()
	h.err = errors.New("decode failed")
	feed, sess, cleanup := testFeed(t, srv, h)
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		srv.push <- []byte{byte(i)}
	}
	for i := 0; i < 5; i++ {
		select {
		case <-h.seen:
		case <-time.After(time.Second):
			t.Fatalf("handler saw %d of 5 frames", i)
		}
	}

	h.mu.Lock()
	for i, f := range h.frames {
		if f[0] != byte(i) {
			t.Errorf("frame %d = %v", i, f)
		}
	}
	h.mu.Unlock()

	// last_message_at moves even though every frame failed to decode.
	if sess.Health().LastMessageAt == nil {
		t.Error("LastMessageAt not set")
	}
	if feed.State() != model.StateConnected {
		t.Errorf("state = %v, handler errors must not drop the connection", feed.State())
	}
}

func TestFeed_UnexpectedClose(t *testing.T) {
	srv := newFeedServer()
	feed, sess, cleanup := testFeed(t, srv, nil)
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess.AddActive(sess.Epoch(), model.Keys("A", "B"), model.ModeFull)

	close(srv.kill)

	waitFor(t, func() bool { return feed.State() == model.StateDisconnected })

	h := feed.Health()
	if h.ReconnectCount != 1 {
		t.Errorf("reconnect count = %d, want 1", h.ReconnectCount)
	}
	if h.ActiveSubscriptionCount != 0 {
		t.Errorf("active = %d, want 0", h.ActiveSubscriptionCount)
	}
	if err := feed.Subscribe(context.Background(), model.Keys("A"), model.ModeFull); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
}

func TestFeed_Disconnect(t *testing.T) {
	srv := newFeedServer()
	feed, sess, cleanup := testFeed(t, srv, newRecordingHandler())
	defer cleanup()

	if err := feed.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	sess.AddActive(sess.Epoch(), model.Keys("A", "B", "C"), model.ModeStandard)

	done := make(chan struct{})
	go func() {
		feed.Disconnect()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Disconnect() did not return")
	}

	h := feed.Health()
	if h.State != model.StateDisconnected {
		t.Errorf("state = %v, want DISCONNECTED", h.State)
	}
	if h.ActiveSubscriptionCount != 0 {
		t.Errorf("active = %d, want 0", h.ActiveSubscriptionCount)
	}
	if h.ReconnectCount != 0 {
		t.Errorf("reconnect count = %d, want 0 for a requested disconnect", h.ReconnectCount)
	}
	if err := feed.Subscribe(context.Background(), model.Keys("A"), model.ModeStandard); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}

	// Idempotent.
	feed.Disconnect()
	if feed.State() != model.StateDisconnected {
		t.Error("second Disconnect changed state")
	}

	// The feed can be connected again.
	if err := feed.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
}
