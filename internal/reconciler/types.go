package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/market-feed/internal/model"
)

// ErrReconnectExhausted is returned by Run when MaxReconnectAttempts
// consecutive connects fail.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// TransientSubscriptionError reports a subscribe or unsubscribe call that
// failed for one chunk. The keys stay in their previous state and are retried
// on a later tick.
type TransientSubscriptionError struct {
	Op   string
	Keys []model.InstrumentKey
	Err  error
}

func (e *TransientSubscriptionError) Error() string {
	return fmt.Sprintf("%s %d keys: %v", e.Op, len(e.Keys), e.Err)
}

func (e *TransientSubscriptionError) Unwrap() error {
	return e.Err
}

// Feed is the connection the reconciler drives.
type Feed interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, keys []model.InstrumentKey, mode model.SubscriptionMode) error
	Unsubscribe(ctx context.Context, keys []model.InstrumentKey) error
	ChangeMode(ctx context.Context, keys []model.InstrumentKey, mode model.SubscriptionMode) error
	State() model.ConnectionState
	BatchLimit() int
}

// WatchList supplies the runtime interest set.
type WatchList interface {
	Entries(ctx context.Context) ([]model.WatchEntry, error)
}

// ActiveSet is the record of confirmed subscriptions. Updates carry the
// connection epoch read at the start of a pass and are refused once that
// connection is gone. *session.Session implements it.
type ActiveSet interface {
	Epoch() uint64
	AddActive(epoch uint64, keys []model.InstrumentKey, mode model.SubscriptionMode) bool
	RemoveActive(epoch uint64, keys []model.InstrumentKey) bool
	ActiveModes() map[model.InstrumentKey]model.SubscriptionMode
	ActiveCount() int
}

// Config holds reconciler settings.
type Config struct {
	// Interval is the period between ticks.
	Interval time.Duration

	// SubscribeDelay is the minimum gap between consecutive subscribe or
	// unsubscribe calls within a tick.
	SubscribeDelay time.Duration

	// BatchSize caps keys per call. Zero uses the feed's batch limit.
	BatchSize int

	// MaxChunksPerTick caps subscribe calls per tick. Zero means no cap.
	MaxChunksPerTick int

	// Mode is requested for every subscription without a watch-list override.
	Mode model.SubscriptionMode

	// BaseKeys are always desired, in addition to the watch list.
	BaseKeys []model.InstrumentKey

	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration

	// MaxReconnectAttempts bounds consecutive failed connects. Zero means retry forever.
	MaxReconnectAttempts int
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Interval:           3 * time.Second,
		SubscribeDelay:     100 * time.Millisecond,
		Mode:               model.ModeFull,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  time.Minute,
	}
}

// TickResult describes one reconciliation pass.
type TickResult struct {
	// Skipped is set when the feed was not connected.
	Skipped bool

	// Err is set when desired state could not be read; nothing was changed.
	Err error

	Desired      int
	Subscribed   []model.InstrumentKey
	ModeChanged  []model.InstrumentKey
	Unsubscribed []model.InstrumentKey
	Failed       []*TransientSubscriptionError

	// Abandoned is set when the connection changed during the pass; the
	// remaining calls were dropped and the next pass starts over.
	Abandoned bool

	// Deferred counts keys left for later ticks by MaxChunksPerTick.
	Deferred int
}

// ReconcilerStats holds cumulative counters.
type ReconcilerStats struct {
	Ticks        int64     `json:"ticks"`
	Skipped      int64     `json:"skipped"`
	Subscribed   int64     `json:"subscribed"`
	ModeChanged  int64     `json:"mode_changed"`
	Unsubscribed int64     `json:"unsubscribed"`
	FailedChunks int64     `json:"failed_chunks"`
	Connects     int64     `json:"connects"`
	LastTickAt   time.Time `json:"last_tick_at"`
	LastError    string    `json:"last_error,omitempty"`
}
