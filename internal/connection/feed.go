package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/market-feed/internal/auth"
	"github.com/rickgao/market-feed/internal/metrics"
	"github.com/rickgao/market-feed/internal/model"
	"github.com/rickgao/market-feed/internal/session"
)

// ClientFactory builds a fresh transport for each connect.
type ClientFactory func(cfg ClientConfig, logger *slog.Logger) Client

// Feed is the provider connection state machine:
// DISCONNECTED -> CONNECTING -> CONNECTED -> DISCONNECTED.
type Feed struct {
	cfg        FeedConfig
	session    *session.Session
	tokens     auth.TokenProvider
	authorizer Authorizer
	handler    FrameHandler
	newClient  ClientFactory
	metrics    *metrics.Metrics
	logger     *slog.Logger

	// lifecycleMu serializes Connect and Disconnect.
	lifecycleMu sync.Mutex

	// mu guards cur. It is never held while waiting on the receive loop.
	mu  sync.RWMutex
	cur *feedConn
}

// feedConn is one established connection and its receive loop.
type feedConn struct {
	client  Client
	done    chan struct{}
	closing atomic.Bool
	cancel  context.CancelFunc
}

// FeedOption configures a Feed.
type FeedOption func(*Feed)

// WithAuthorizer resolves the feed URL through the provider's authorize endpoint.
func WithAuthorizer(a Authorizer) FeedOption {
	return func(f *Feed) { f.authorizer = a }
}

// WithClientFactory overrides the transport constructor.
func WithClientFactory(fn ClientFactory) FeedOption {
	return func(f *Feed) { f.newClient = fn }
}

// WithMetrics records connection metrics.
func WithMetrics(m *metrics.Metrics) FeedOption {
	return func(f *Feed) { f.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FeedOption {
	return func(f *Feed) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFeed creates a disconnected Feed. handler receives every inbound frame.
func NewFeed(cfg FeedConfig, sess *session.Session, tokens auth.TokenProvider, handler FrameHandler, opts ...FeedOption) *Feed {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}

	f := &Feed{
		cfg:       cfg,
		session:   sess,
		tokens:    tokens,
		handler:   handler,
		newClient: NewClient,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "feed")

	return f
}

// BatchLimit returns the per-call key ceiling.
func (f *Feed) BatchLimit() int {
	return f.cfg.BatchLimit
}

// Connect performs the token lookup, provider authorization and WebSocket
// handshake, bounded by HandshakeTimeout. On failure the state stays
// DISCONNECTED and Connect may be retried.
func (f *Feed) Connect(ctx context.Context) error {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	if !f.session.BeginConnect() {
		return ErrAlreadyConnected
	}
	f.metrics.SetConnectionState(model.StateConnecting)

	if err := f.connect(ctx); err != nil {
		f.session.MarkDisconnected(false)
		f.metrics.SetConnectionState(model.StateDisconnected)
		return err
	}

	return nil
}

func (f *Feed) connect(ctx context.Context) error {
	if f.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.HandshakeTimeout)
		defer cancel()
	}

	token, err := f.tokens.Token(ctx)
	if err != nil {
		return &ConnectionError{Op: "token", Err: err}
	}

	url := f.cfg.URL
	if f.authorizer != nil {
		url, err = f.authorizer.Authorize(ctx, token)
		if err != nil {
			return &ConnectionError{Op: "authorize", Err: err}
		}
	}
	if url == "" {
		return &ConnectionError{Op: "dial", Err: fmt.Errorf("no feed url")}
	}

	header := auth.BearerHeader(token)
	header.Set("Accept", "*/*")

	client := f.newClient(f.cfg.Client, f.logger)
	if err := client.Connect(ctx, url, header); err != nil {
		return &ConnectionError{Op: "dial", Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &feedConn{client: client, done: make(chan struct{}), cancel: cancel}

	f.mu.Lock()
	if !f.session.MarkConnected(time.Now()) {
		f.mu.Unlock()
		cancel()
		client.Close()
		return &ConnectionError{Op: "dial", Err: ErrConnectAbandoned}
	}
	f.cur = c
	f.mu.Unlock()

	f.metrics.SetConnectionState(model.StateConnected)
	f.metrics.SetActiveSubscriptions(0)
	f.logger.Info("feed connected")

	go f.receiveLoop(runCtx, c)

	return nil
}

// receiveLoop hands each frame to the handler in arrival order. It exits when
// the transport ends, either through Disconnect or an unexpected closure.
func (f *Feed) receiveLoop(ctx context.Context, c *feedConn) {
	defer close(c.done)

	for msg := range c.client.Messages() {
		f.session.MarkMessage(msg.ReceivedAt)
		f.metrics.FrameReceived()

		if f.handler == nil {
			continue
		}
		if err := f.handler.HandleFrame(ctx, RawMessage(msg)); err != nil {
			f.logger.Debug("frame handler error", "error", err)
		}
	}

	if c.closing.Load() {
		return
	}

	var cause error
	select {
	case cause = <-c.client.Errors():
	default:
	}

	f.mu.Lock()
	if f.cur == c {
		f.cur = nil
	}
	f.mu.Unlock()
	c.cancel()
	c.client.Close()

	if f.session.MarkDisconnected(true) {
		f.metrics.Reconnected()
		f.metrics.SetConnectionState(model.StateDisconnected)
		f.metrics.SetActiveSubscriptions(0)
		f.logger.Warn("feed connection lost", "error", cause)
	}
}

// Disconnect closes the connection and waits for the receive loop to exit.
// It is idempotent and always leaves the Feed DISCONNECTED with an empty
// active set.
func (f *Feed) Disconnect() {
	f.lifecycleMu.Lock()
	defer f.lifecycleMu.Unlock()

	f.mu.Lock()
	c := f.cur
	f.cur = nil
	f.mu.Unlock()

	if c != nil {
		c.closing.Store(true)
		c.client.Close()
		c.cancel()
		<-c.done
	}

	if f.session.MarkDisconnected(false) {
		f.logger.Info("feed disconnected")
	}
	f.metrics.SetConnectionState(model.StateDisconnected)
	f.metrics.SetActiveSubscriptions(0)
}

// Subscribe requests streaming for keys in mode. It does not touch the
// active set; the caller records success.
func (f *Feed) Subscribe(ctx context.Context, keys []model.InstrumentKey, mode model.SubscriptionMode) error {
	return f.send(ctx, MethodSubscribe, keys, mode.WireMode())
}

// Unsubscribe stops streaming for keys. Keys not in the active set are
// ignored; when none remain the call is a no-op.
func (f *Feed) Unsubscribe(ctx context.Context, keys []model.InstrumentKey) error {
	if _, err := f.conn(len(keys)); err != nil {
		return err
	}

	keys = f.session.FilterActive(keys)
	if len(keys) == 0 {
		return nil
	}

	return f.send(ctx, MethodUnsubscribe, keys, "")
}

// ChangeMode switches already subscribed keys to mode. Like Subscribe, it
// leaves the active set to the caller.
func (f *Feed) ChangeMode(ctx context.Context, keys []model.InstrumentKey, mode model.SubscriptionMode) error {
	return f.send(ctx, MethodChangeMode, keys, mode.WireMode())
}

// Health returns the current connection health.
func (f *Feed) Health() model.ConnectionHealth {
	return f.session.Health()
}

// State returns the connection state.
func (f *Feed) State() model.ConnectionState {
	return f.session.State()
}

// conn returns the live connection after checking the call contract.
func (f *Feed) conn(n int) (*feedConn, error) {
	f.mu.RLock()
	c := f.cur
	f.mu.RUnlock()

	if c == nil || f.session.State() != model.StateConnected {
		return nil, ErrNotConnected
	}
	if n > f.cfg.BatchLimit {
		return nil, fmt.Errorf("%w: %d keys, limit %d", ErrBatchSizeExceeded, n, f.cfg.BatchLimit)
	}
	return c, nil
}

func (f *Feed) send(ctx context.Context, method string, keys []model.InstrumentKey, mode string) error {
	c, err := f.conn(len(keys))
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := ControlMessage{
		GUID:   uuid.NewString(),
		Method: method,
		Data: ControlData{
			Mode:           mode,
			InstrumentKeys: keys,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", method, err)
	}

	if err := c.client.Send(data); err != nil {
		return &ConnectionError{Op: method, Err: err}
	}

	f.logger.Debug("control message sent", "method", method, "keys", len(keys), "mode", mode)
	return nil
}
