package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/market-feed/internal/model"
)

// Errors
var (
	ErrNotConnected      = errors.New("not connected")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrBatchSizeExceeded = errors.New("batch size exceeded")
	ErrAlreadyClosed     = errors.New("already closed")
	ErrConnectAbandoned  = errors.New("connect abandoned by disconnect")
)

// ConnectionError reports a failed handshake, authorization or transport write.
// The attempt may be retried.
type ConnectionError struct {
	Op  string // "token", "authorize", "dial", "subscribe", ...
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("feed %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// RawMessage is one inbound frame handed to the FrameHandler.
type RawMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// FrameHandler processes inbound frames. It is called from the receive loop,
// one frame at a time.
type FrameHandler interface {
	HandleFrame(ctx context.Context, msg RawMessage) error
}

// FrameHandlerFunc adapts a function to FrameHandler.
type FrameHandlerFunc func(ctx context.Context, msg RawMessage) error

func (f FrameHandlerFunc) HandleFrame(ctx context.Context, msg RawMessage) error {
	return f(ctx, msg)
}

// Authorizer exchanges an access token for the feed's WebSocket URL.
type Authorizer interface {
	Authorize(ctx context.Context, token string) (string, error)
}

// Control message methods.
const (
	MethodSubscribe   = "sub"
	MethodUnsubscribe = "unsub"
	MethodChangeMode  = "change_mode"
)

// ControlMessage is a subscription request. It is JSON encoded and sent as a binary frame.
type ControlMessage struct {
	GUID   string      `json:"guid"`
	Method string      `json:"method"`
	Data   ControlData `json:"data"`
}

// ControlData carries the mode and keys of a control message.
type ControlData struct {
	Mode           string                `json:"mode,omitempty"`
	InstrumentKeys []model.InstrumentKey `json:"instrumentKeys"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	PingInterval     time.Duration // Keepalive ping period (0 disables)
	WriteTimeout     time.Duration // Write deadline for sends
	HandshakeTimeout time.Duration // WebSocket upgrade timeout
	BufferSize       int           // Message hand-off buffer; full buffer blocks the reader
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingInterval:     20 * time.Second,
		WriteTimeout:     5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		BufferSize:       64,
	}
}

// FeedConfig configures the Feed.
type FeedConfig struct {
	// URL is dialed directly when no Authorizer is set.
	URL string

	// BatchLimit is the most keys one subscribe/unsubscribe call may carry.
	BatchLimit int

	// HandshakeTimeout bounds Connect: token, authorization and dial.
	HandshakeTimeout time.Duration

	Client ClientConfig
}

// DefaultBatchLimit is the provider's safe per-call key ceiling.
const DefaultBatchLimit = 50

// DefaultFeedConfig returns sensible defaults.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		BatchLimit:       DefaultBatchLimit,
		HandshakeTimeout: 15 * time.Second,
		Client:           DefaultClientConfig(),
	}
}
