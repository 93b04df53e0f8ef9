// Package decodertest builds binary feed frames for tests and the depth probe.
package decodertest

import (
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Request modes echoed in Feed.requestMode.
const (
	RequestLTPC         = 0
	RequestFullD5       = 1
	RequestOptionGreeks = 2
	RequestFullD30      = 3
)

// Frame types.
const (
	TypeInitial    = 0
	TypeLive       = 1
	TypeMarketInfo = 2
)

// LTPC is the last traded price block.
type LTPC struct {
	LTP float64
	LTT int64
	LTQ int64
	CP  float64
}

// Quote is one depth level.
type Quote struct {
	BidQ int64
	BidP float64
	AskQ int64
	AskP float64
}

// OHLC is one candle.
type OHLC struct {
	Interval string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Vol      int64
	Ts       int64
}

// MarketFull is the full market feed of a tradable instrument.
type MarketFull struct {
	LTPC   LTPC
	Quotes []Quote
	OHLC   []OHLC
	ATP    float64
	VTT    int64
	OI     float64
	TBQ    float64
	TSQ    float64
}

// IndexFull is the full feed of an index.
type IndexFull struct {
	LTPC LTPC
	OHLC []OHLC
}

// FirstLevel is the option-greeks shape with a single depth level.
type FirstLevel struct {
	LTPC  LTPC
	Depth Quote
	VTT   int64
	OI    float64
}

// Feed is one feed map value. Exactly one of the payload pointers should be set;
// none set produces an empty Feed.
type Feed struct {
	LTPC        *LTPC
	MarketFull  *MarketFull
	IndexFull   *IndexFull
	FirstLevel  *FirstLevel
	RequestMode int
	// OmitMode leaves requestMode off the wire.
	OmitMode bool
}

// FrameBuilder assembles a FeedResponse.
type FrameBuilder struct {
	Type      int
	CurrentTs int64
	feeds     []feedEntry
	segments  map[string]int
	extra     []byte
}

type feedEntry struct {
	key  string
	feed Feed
}

// NewFrame returns a live_feed frame builder.
func NewFrame(currentTs int64) *FrameBuilder {
	return &FrameBuilder{Type: TypeLive, CurrentTs: currentTs}
}

// Add appends a feed entry. Entries are encoded in call order.
func (b *FrameBuilder) Add(key string, f Feed) *FrameBuilder {
	b.feeds = append(b.feeds, feedEntry{key: key, feed: f})
	return b
}

// Segment adds a market_info segment status.
func (b *FrameBuilder) Segment(name string, status int) *FrameBuilder {
	if b.segments == nil {
		b.segments = make(map[string]int)
	}
	b.segments[name] = status
	return b
}

// Unknown appends an unrecognised varint field to the top-level message.
func (b *FrameBuilder) Unknown(num protowire.Number, v uint64) *FrameBuilder {
	b.extra = protowire.AppendTag(b.extra, num, protowire.VarintType)
	b.extra = protowire.AppendVarint(b.extra, v)
	return b
}

// Bytes encodes the frame.
func (b *FrameBuilder) Bytes() []byte {
	var out []byte
	out = appendVarint(out, 1, uint64(b.Type))
	for _, e := range b.feeds {
		var entry []byte
		entry = appendString(entry, 1, e.key)
		entry = appendMessage(entry, 2, encodeFeed(e.feed))
		out = appendMessage(out, 2, entry)
	}
	out = appendVarint(out, 3, uint64(b.CurrentTs))
	if len(b.segments) > 0 {
		names := make([]string, 0, len(b.segments))
		for n := range b.segments {
			names = append(names, n)
		}
		sort.Strings(names)

		var info []byte
		for _, n := range names {
			var entry []byte
			entry = appendString(entry, 1, n)
			entry = appendVarint(entry, 2, uint64(b.segments[n]))
			info = appendMessage(info, 1, entry)
		}
		out = appendMessage(out, 4, info)
	}
	return append(out, b.extra...)
}

// Ladder returns n quotes with prices stepping away from mid.
func Ladder(n int, mid float64) []Quote {
	qs := make([]Quote, n)
	for i := range qs {
		step := float64(i+1) * 0.05
		qs[i] = Quote{
			BidQ: int64(100 * (i + 1)),
			BidP: mid - step,
			AskQ: int64(110 * (i + 1)),
			AskP: mid + step,
		}
	}
	return qs
}

// DayCandle returns a single "1d" candle.
func DayCandle(open, high, low, close float64, vol int64) []OHLC {
	return []OHLC{{Interval: "1d", Open: open, High: high, Low: low, Close: close, Vol: vol}}
}

func encodeFeed(f Feed) []byte {
	var out []byte
	switch {
	case f.LTPC != nil:
		out = appendMessage(out, 1, encodeLTPC(*f.LTPC))
	case f.MarketFull != nil:
		out = appendMessage(out, 2, appendMessage(nil, 1, encodeMarketFull(*f.MarketFull)))
	case f.IndexFull != nil:
		out = appendMessage(out, 2, appendMessage(nil, 2, encodeIndexFull(*f.IndexFull)))
	case f.FirstLevel != nil:
		out = appendMessage(out, 3, encodeFirstLevel(*f.FirstLevel))
	}
	if !f.OmitMode {
		out = appendVarint(out, 4, uint64(f.RequestMode))
	}
	return out
}

func encodeLTPC(l LTPC) []byte {
	var out []byte
	out = appendDouble(out, 1, l.LTP)
	out = appendVarint(out, 2, uint64(l.LTT))
	out = appendVarint(out, 3, uint64(l.LTQ))
	out = appendDouble(out, 4, l.CP)
	return out
}

func encodeQuote(q Quote) []byte {
	var out []byte
	out = appendVarint(out, 1, uint64(q.BidQ))
	out = appendDouble(out, 2, q.BidP)
	out = appendVarint(out, 3, uint64(q.AskQ))
	out = appendDouble(out, 4, q.AskP)
	return out
}

func encodeOHLC(candles []OHLC) []byte {
	var out []byte
	for _, c := range candles {
		var m []byte
		m = appendString(m, 1, c.Interval)
		m = appendDouble(m, 2, c.Open)
		m = appendDouble(m, 3, c.High)
		m = appendDouble(m, 4, c.Low)
		m = appendDouble(m, 5, c.Close)
		m = appendVarint(m, 6, uint64(c.Vol))
		m = appendVarint(m, 7, uint64(c.Ts))
		out = appendMessage(out, 1, m)
	}
	return out
}

func encodeMarketFull(m MarketFull) []byte {
	var out []byte
	out = appendMessage(out, 1, encodeLTPC(m.LTPC))

	var level []byte
	for _, q := range m.Quotes {
		level = appendMessage(level, 1, encodeQuote(q))
	}
	out = appendMessage(out, 2, level)

	if len(m.OHLC) > 0 {
		out = appendMessage(out, 4, encodeOHLC(m.OHLC))
	}
	out = appendDouble(out, 5, m.ATP)
	out = appendVarint(out, 6, uint64(m.VTT))
	out = appendDouble(out, 7, m.OI)
	out = appendDouble(out, 9, m.TBQ)
	out = appendDouble(out, 10, m.TSQ)
	return out
}

func encodeIndexFull(m IndexFull) []byte {
	var out []byte
	out = appendMessage(out, 1, encodeLTPC(m.LTPC))
	if len(m.OHLC) > 0 {
		out = appendMessage(out, 2, encodeOHLC(m.OHLC))
	}
	return out
}

func encodeFirstLevel(m FirstLevel) []byte {
	var out []byte
	out = appendMessage(out, 1, encodeLTPC(m.LTPC))
	out = appendMessage(out, 2, encodeQuote(m.Depth))
	out = appendVarint(out, 4, uint64(m.VTT))
	out = appendDouble(out, 5, m.OI)
	return out
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}
