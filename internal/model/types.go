package model

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Instruments and Subscriptions
// -----------------------------------------------------------------------------

// InstrumentKey identifies a tradable instrument (e.g., "MCX_FO|472789").
type InstrumentKey string

// Segment returns the exchange segment prefix of the key ("MCX_FO" for "MCX_FO|472789").
func (k InstrumentKey) Segment() string {
	s := string(k)
	if i := strings.IndexByte(s, '|'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Keys converts a string slice to instrument keys.
func Keys(ss ...string) []InstrumentKey {
	out := make([]InstrumentKey, len(ss))
	for i, s := range ss {
		out[i] = InstrumentKey(s)
	}
	return out
}

// Depth limits per subscription mode.
const (
	StandardDepth = 5
	FullDepth     = 15

	// MaxDepth is the widest depth any mode produces; storage is sized to it.
	MaxDepth = FullDepth
)

// SubscriptionMode is the depth tier negotiated at subscribe time.
type SubscriptionMode int

const (
	ModeStandard SubscriptionMode = iota // 5 levels per side
	ModeFull                             // extended depth, 15 levels per side
)

// MaxDepth returns the number of depth slots per side for the mode.
func (m SubscriptionMode) MaxDepth() int {
	if m == ModeFull {
		return FullDepth
	}
	return StandardDepth
}

// WireMode returns the mode string sent to the provider.
func (m SubscriptionMode) WireMode() string {
	if m == ModeFull {
		return "full_d30"
	}
	return "full"
}

func (m SubscriptionMode) String() string {
	if m == ModeFull {
		return "FULL"
	}
	return "STANDARD"
}

// ParseMode parses a configured mode name. Both the enum names and the
// provider's wire names are accepted ("full_d5" is STANDARD, "full_d30" is FULL).
func ParseMode(s string) (SubscriptionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "standard", "full_d5", "d5":
		return ModeStandard, nil
	case "full", "extended", "full_d30", "d30":
		return ModeFull, nil
	}
	return ModeStandard, fmt.Errorf("unknown subscription mode %q", s)
}

// WatchEntry is one watch-list row. A nil Mode means the feed's default mode.
type WatchEntry struct {
	Key  InstrumentKey
	Mode *SubscriptionMode
}

// -----------------------------------------------------------------------------
// Ticks
// -----------------------------------------------------------------------------

// DepthLevel is one order book level: best-first bid and ask at the same index.
type DepthLevel struct {
	BidPrice float64
	BidQty   int64
	AskPrice float64
	AskQty   int64
}

// TickRecord is the latest known state of one instrument.
// Depth always holds exactly Mode.MaxDepth() levels.
type TickRecord struct {
	Key  InstrumentKey
	Mode SubscriptionMode

	LTP           float64 // Last traded price
	LastTradeTime int64   // ms since epoch
	LastTradeQty  int64
	PrevClose     float64 // Previous session close

	// Day OHLC
	Open  float64
	High  float64
	Low   float64
	Close float64

	Volume        int64 // Volume traded today
	OpenInterest  float64
	AvgTradePrice float64
	TotalBuyQty   float64
	TotalSellQty  float64

	Depth []DepthLevel

	ExchangeTs int64     // Frame timestamp from provider (ms)
	ReceivedAt time.Time // Local receive time of the frame
}

// NewTickRecord returns a zero-filled record with fixed-width depth for mode.
func NewTickRecord(key InstrumentKey, mode SubscriptionMode) TickRecord {
	return TickRecord{
		Key:   key,
		Mode:  mode,
		Depth: make([]DepthLevel, mode.MaxDepth()),
	}
}

// Normalize pads or truncates Depth to exactly Mode.MaxDepth() levels.
func (r *TickRecord) Normalize() {
	want := r.Mode.MaxDepth()
	if len(r.Depth) == want {
		return
	}
	depth := make([]DepthLevel, want)
	copy(depth, r.Depth)
	r.Depth = depth
}

// Clone returns a deep copy of the record.
func (r TickRecord) Clone() TickRecord {
	c := r
	c.Depth = append([]DepthLevel(nil), r.Depth...)
	return c
}

// BestBid returns the top-of-book bid, or zero.
func (r TickRecord) BestBid() float64 {
	if len(r.Depth) == 0 {
		return 0
	}
	return r.Depth[0].BidPrice
}

// BestAsk returns the top-of-book ask, or zero.
func (r TickRecord) BestAsk() float64 {
	if len(r.Depth) == 0 {
		return 0
	}
	return r.Depth[0].AskPrice
}

// -----------------------------------------------------------------------------
// Connection Health
// -----------------------------------------------------------------------------

// ConnectionState is the feed connection lifecycle state.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	default:
		return "DISCONNECTED"
	}
}

// MarshalText renders the state name in JSON output.
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ConnectionHealth is a read-only view of the feed connection.
type ConnectionHealth struct {
	State                   ConnectionState `json:"state"`
	LastMessageAt           *time.Time      `json:"last_message_at,omitempty"` // nil until the first frame
	ConnectedAt             *time.Time      `json:"connected_at,omitempty"`
	ReconnectCount          int             `json:"reconnect_count"`
	ActiveSubscriptionCount int             `json:"active_subscription_count"`
}
