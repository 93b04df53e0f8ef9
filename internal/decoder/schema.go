package decoder

import "google.golang.org/protobuf/encoding/protowire"

// FeedResponse fields.
const (
	feedResponseType       protowire.Number = 1
	feedResponseFeeds      protowire.Number = 2
	feedResponseCurrentTs  protowire.Number = 3
	feedResponseMarketInfo protowire.Number = 4
)

// Map entry fields (map<string, V> is encoded as repeated {key=1, value=2}).
const (
	mapEntryKey   protowire.Number = 1
	mapEntryValue protowire.Number = 2
)

// Feed fields (oneof FeedUnion + requestMode).
const (
	feedLTPC        protowire.Number = 1
	feedFullFeed    protowire.Number = 2
	feedFirstLevel  protowire.Number = 3
	feedRequestMode protowire.Number = 4
)

// FullFeed fields (oneof FullFeedUnion).
const (
	fullFeedMarket protowire.Number = 1
	fullFeedIndex  protowire.Number = 2
)

// LTPC fields.
const (
	ltpcLTP protowire.Number = 1
	ltpcLTT protowire.Number = 2
	ltpcLTQ protowire.Number = 3
	ltpcCP  protowire.Number = 4
)

// MarketFullFeed fields.
const (
	marketFFLTPC        protowire.Number = 1
	marketFFMarketLevel protowire.Number = 2
	marketFFGreeks      protowire.Number = 3
	marketFFOHLC        protowire.Number = 4
	marketFFATP         protowire.Number = 5
	marketFFVTT         protowire.Number = 6
	marketFFOI          protowire.Number = 7
	marketFFIV          protowire.Number = 8
	marketFFTBQ         protowire.Number = 9
	marketFFTSQ         protowire.Number = 10
)

// IndexFullFeed fields.
const (
	indexFFLTPC protowire.Number = 1
	indexFFOHLC protowire.Number = 2
)

// FirstLevelWithGreeks fields.
const (
	firstLevelLTPC   protowire.Number = 1
	firstLevelDepth  protowire.Number = 2
	firstLevelGreeks protowire.Number = 3
	firstLevelVTT    protowire.Number = 4
	firstLevelOI     protowire.Number = 5
	firstLevelIV     protowire.Number = 6
)

// MarketLevel / MarketOHLC repeated fields.
const (
	marketLevelQuotes protowire.Number = 1
	marketOHLCEntries protowire.Number = 1
)

// Quote fields.
const (
	quoteBidQ protowire.Number = 1
	quoteBidP protowire.Number = 2
	quoteAskQ protowire.Number = 3
	quoteAskP protowire.Number = 4
)

// OHLC fields.
const (
	ohlcInterval protowire.Number = 1
	ohlcOpen     protowire.Number = 2
	ohlcHigh     protowire.Number = 3
	ohlcLow      protowire.Number = 4
	ohlcClose    protowire.Number = 5
	ohlcVol      protowire.Number = 6
	ohlcTs       protowire.Number = 7
)

// MarketInfo fields.
const (
	marketInfoSegmentStatus protowire.Number = 1
)

// dayInterval is the OHLC interval carrying the session's day candle.
const dayInterval = "1d"

// FrameType is the FeedResponse.type enum.
type FrameType int

const (
	FrameInitial    FrameType = 0
	FrameLive       FrameType = 1
	FrameMarketInfo FrameType = 2
)

func (t FrameType) String() string {
	switch t {
	case FrameInitial:
		return "initial_feed"
	case FrameLive:
		return "live_feed"
	case FrameMarketInfo:
		return "market_info"
	}
	return "unknown"
}

// RequestMode is the Feed.requestMode enum echoed by the provider.
type RequestMode int

const (
	RequestModeLTPC         RequestMode = 0
	RequestModeFullD5       RequestMode = 1
	RequestModeOptionGreeks RequestMode = 2
	RequestModeFullD30      RequestMode = 3
)

var marketStatusNames = map[uint64]string{
	0: "PRE_OPEN_START",
	1: "PRE_OPEN_END",
	2: "NORMAL_OPEN",
	3: "NORMAL_CLOSE",
	4: "CLOSING_START",
	5: "CLOSING_END",
}
