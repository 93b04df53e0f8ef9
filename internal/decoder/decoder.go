package decoder

import (
	"errors"

	"github.com/rickgao/market-feed/internal/model"
)

// Shape identifies which payload a feed entry carried.
type Shape int

const (
	ShapeNone Shape = iota
	ShapeLTPC
	ShapeIndexFull
	ShapeFirstLevel
	ShapeMarketFull
)

func (s Shape) String() string {
	switch s {
	case ShapeLTPC:
		return "ltpc"
	case ShapeIndexFull:
		return "index_full"
	case ShapeFirstLevel:
		return "first_level"
	case ShapeMarketFull:
		return "market_full"
	}
	return "none"
}

// Full reports whether the shape carries a complete tick (OHLC, volume, OI and depth).
func (s Shape) Full() bool {
	return s == ShapeMarketFull
}

// FieldSet is a bitmask of field groups present in an update.
type FieldSet uint8

const (
	FieldLTPC FieldSet = 1 << iota
	FieldOHLC
	FieldVolume
	FieldOpenInterest
	FieldTopOfBook
	FieldDepth
	FieldTotals
)

// Has reports whether all groups in g are present.
func (s FieldSet) Has(g FieldSet) bool {
	return s&g == g
}

// LTPC holds last-traded-price class fields.
type LTPC struct {
	LTP float64
	LTT int64 // Last trade time, ms since epoch
	LTQ int64 // Last trade quantity
	CP  float64
}

// OHLC is one candle from the feed's marketOHLC list.
type OHLC struct {
	Interval string
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   int64
	Ts       int64
}

// Update is the decoded payload for one instrument within a frame.
type Update struct {
	Key    model.InstrumentKey
	Shape  Shape
	Fields FieldSet

	// Mode is the depth tier of the entry. ModeKnown is false when the
	// provider did not echo a request mode and Mode was inferred.
	Mode      model.SubscriptionMode
	ModeKnown bool

	LTPC          LTPC
	Day           OHLC
	Volume        int64
	OpenInterest  float64
	AvgTradePrice float64
	TotalBuyQty   float64
	TotalSellQty  float64

	// Depth is best-first and at most Mode.MaxDepth() long (not padded).
	Depth []model.DepthLevel
}

// Frame is one decoded FeedResponse.
type Frame struct {
	Type      FrameType
	CurrentTs int64
	Updates   []Update

	// Segments holds segment status for market_info frames.
	Segments map[string]string
}

// Keys returns the distinct instrument keys updated by the frame, in wire order.
func (f *Frame) Keys() []model.InstrumentKey {
	seen := make(map[model.InstrumentKey]struct{}, len(f.Updates))
	keys := make([]model.InstrumentKey, 0, len(f.Updates))
	for _, u := range f.Updates {
		if _, ok := seen[u.Key]; ok {
			continue
		}
		seen[u.Key] = struct{}{}
		keys = append(keys, u.Key)
	}
	return keys
}

// Decode parses one binary frame. Feed entries without a payload are skipped.
func Decode(data []byte) (*Frame, error) {
	frame := &Frame{}

	err := walk("FeedResponse", data, func(f field) error {
		switch f.num {
		case feedResponseType:
			v, err := f.asUint()
			if err != nil {
				return err
			}
			frame.Type = FrameType(v)

		case feedResponseFeeds:
			b, err := f.asBytes()
			if err != nil {
				return err
			}
			u, ok, err := decodeFeedEntry(b)
			if err != nil {
				return err
			}
			if ok {
				frame.Updates = append(frame.Updates, u)
			}

		case feedResponseCurrentTs:
			v, err := f.asInt64()
			if err != nil {
				return err
			}
			frame.CurrentTs = v

		case feedResponseMarketInfo:
			b, err := f.asBytes()
			if err != nil {
				return err
			}
			segments, err := decodeMarketInfo(b)
			if err != nil {
				return err
			}
			frame.Segments = segments
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return frame, nil
}

// decodeFeedEntry decodes one map<string, Feed> entry.
func decodeFeedEntry(b []byte) (Update, bool, error) {
	var (
		key     string
		hasKey  bool
		payload []byte
	)

	err := walk("FeedResponse.FeedsEntry", b, func(f field) error {
		var err error
		switch f.num {
		case mapEntryKey:
			key, err = f.asString()
			hasKey = true
		case mapEntryValue:
			payload, err = f.asBytes()
		}
		return err
	})
	if err != nil {
		return Update{}, false, err
	}
	if !hasKey || key == "" {
		return Update{}, false, &DecodeError{
			Message: "FeedResponse.FeedsEntry",
			Field:   mapEntryKey,
			Err:     errors.New("missing instrument key"),
		}
	}

	u := Update{Key: model.InstrumentKey(key)}
	if err := decodeFeed(payload, &u); err != nil {
		return Update{}, false, err
	}
	if u.Shape == ShapeNone {
		return Update{}, false, nil
	}

	return u, true, nil
}

func decodeFeed(b []byte, u *Update) error {
	var (
		quotes     []model.DepthLevel
		requestSet bool
		request    RequestMode
	)

	err := walk("Feed", b, func(f field) error {
		switch f.num {
		case feedLTPC:
			m, err := f.asBytes()
			if err != nil {
				return err
			}
			if err := decodeLTPC(m, &u.LTPC); err != nil {
				return err
			}
			u.Shape = ShapeLTPC
			u.Fields = FieldLTPC

		case feedFullFeed:
			m, err := f.asBytes()
			if err != nil {
				return err
			}
			q, err := decodeFullFeed(m, u)
			if err != nil {
				return err
			}
			quotes = q

		case feedFirstLevel:
			m, err := f.asBytes()
			if err != nil {
				return err
			}
			q, err := decodeFirstLevel(m, u)
			if err != nil {
				return err
			}
			quotes = q

		case feedRequestMode:
			v, err := f.asUint()
			if err != nil {
				return err
			}
			request = RequestMode(v)
			requestSet = true
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.Mode, u.ModeKnown = resolveMode(request, requestSet, len(quotes))
	if u.Fields.Has(FieldDepth) || u.Fields.Has(FieldTopOfBook) {
		if max := u.Mode.MaxDepth(); len(quotes) > max {
			quotes = quotes[:max]
		}
		u.Depth = quotes
	}

	return nil
}

// resolveMode maps the echoed request mode to a depth tier, inferring it from
// the number of book levels when the provider left it at the proto default.
func resolveMode(request RequestMode, set bool, levels int) (model.SubscriptionMode, bool) {
	if set {
		switch request {
		case RequestModeFullD30:
			return model.ModeFull, true
		case RequestModeFullD5:
			return model.ModeStandard, true
		}
	}
	if levels > model.StandardDepth {
		return model.ModeFull, false
	}
	return model.ModeStandard, false
}

func decodeFullFeed(b []byte, u *Update) ([]model.DepthLevel, error) {
	var quotes []model.DepthLevel

	err := walk("FullFeed", b, func(f field) error {
		if f.num != fullFeedMarket && f.num != fullFeedIndex {
			return nil
		}
		m, err := f.asBytes()
		if err != nil {
			return err
		}
		switch f.num {
		case fullFeedMarket:
			q, err := decodeMarketFull(m, u)
			if err != nil {
				return err
			}
			quotes = q
			u.Shape = ShapeMarketFull
			u.Fields = FieldLTPC | FieldOHLC | FieldVolume | FieldOpenInterest | FieldTopOfBook | FieldDepth | FieldTotals

		case fullFeedIndex:
			if err := decodeIndexFull(m, u); err != nil {
				return err
			}
			quotes = nil
			u.Shape = ShapeIndexFull
			u.Fields = FieldLTPC | FieldOHLC
		}
		return nil
	})

	return quotes, err
}

func decodeMarketFull(b []byte, u *Update) ([]model.DepthLevel, error) {
	var quotes []model.DepthLevel

	err := walk("MarketFullFeed", b, func(f field) error {
		var err error
		switch f.num {
		case marketFFLTPC:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				err = decodeLTPC(m, &u.LTPC)
			}
		case marketFFMarketLevel:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				quotes, err = decodeMarketLevel(m)
			}
		case marketFFOHLC:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				err = decodeMarketOHLC(m, &u.Day)
			}
		case marketFFATP:
			u.AvgTradePrice, err = f.asDouble()
		case marketFFVTT:
			u.Volume, err = f.asInt64()
		case marketFFOI:
			u.OpenInterest, err = f.asDouble()
		case marketFFTBQ:
			u.TotalBuyQty, err = f.asDouble()
		case marketFFTSQ:
			u.TotalSellQty, err = f.asDouble()
		}
		return err
	})

	return quotes, err
}

func decodeIndexFull(b []byte, u *Update) error {
	return walk("IndexFullFeed", b, func(f field) error {
		var err error
		switch f.num {
		case indexFFLTPC:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				err = decodeLTPC(m, &u.LTPC)
			}
		case indexFFOHLC:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				err = decodeMarketOHLC(m, &u.Day)
			}
		}
		return err
	})
}

func decodeFirstLevel(b []byte, u *Update) ([]model.DepthLevel, error) {
	var quotes []model.DepthLevel

	u.Shape = ShapeFirstLevel
	u.Fields = FieldLTPC | FieldTopOfBook | FieldVolume | FieldOpenInterest

	err := walk("FirstLevelWithGreeks", b, func(f field) error {
		var err error
		switch f.num {
		case firstLevelLTPC:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				err = decodeLTPC(m, &u.LTPC)
			}
		case firstLevelDepth:
			var m []byte
			if m, err = f.asBytes(); err == nil {
				var q model.DepthLevel
				if err = decodeQuote(m, &q); err == nil {
					quotes = []model.DepthLevel{q}
				}
			}
		case firstLevelVTT:
			u.Volume, err = f.asInt64()
		case firstLevelOI:
			u.OpenInterest, err = f.asDouble()
		}
		return err
	})

	return quotes, err
}

func decodeLTPC(b []byte, out *LTPC) error {
	return walk("LTPC", b, func(f field) error {
		var err error
		switch f.num {
		case ltpcLTP:
			out.LTP, err = f.asDouble()
		case ltpcLTT:
			out.LTT, err = f.asInt64()
		case ltpcLTQ:
			out.LTQ, err = f.asInt64()
		case ltpcCP:
			out.CP, err = f.asDouble()
		}
		return err
	})
}

func decodeMarketLevel(b []byte) ([]model.DepthLevel, error) {
	var quotes []model.DepthLevel

	err := walk("MarketLevel", b, func(f field) error {
		if f.num != marketLevelQuotes {
			return nil
		}
		m, err := f.asBytes()
		if err != nil {
			return err
		}
		var q model.DepthLevel
		if err := decodeQuote(m, &q); err != nil {
			return err
		}
		quotes = append(quotes, q)
		return nil
	})

	return quotes, err
}

func decodeQuote(b []byte, q *model.DepthLevel) error {
	return walk("Quote", b, func(f field) error {
		var err error
		switch f.num {
		case quoteBidQ:
			q.BidQty, err = f.asInt64()
		case quoteBidP:
			q.BidPrice, err = f.asDouble()
		case quoteAskQ:
			q.AskQty, err = f.asInt64()
		case quoteAskP:
			q.AskPrice, err = f.asDouble()
		}
		return err
	})
}

// decodeMarketOHLC stores the day candle in day; other intervals are ignored.
func decodeMarketOHLC(b []byte, day *OHLC) error {
	return walk("MarketOHLC", b, func(f field) error {
		if f.num != marketOHLCEntries {
			return nil
		}
		m, err := f.asBytes()
		if err != nil {
			return err
		}
		var c OHLC
		if err := decodeOHLC(m, &c); err != nil {
			return err
		}
		if c.Interval == dayInterval {
			*day = c
		}
		return nil
	})
}

func decodeOHLC(b []byte, c *OHLC) error {
	return walk("OHLC", b, func(f field) error {
		var err error
		switch f.num {
		case ohlcInterval:
			c.Interval, err = f.asString()
		case ohlcOpen:
			c.Open, err = f.asDouble()
		case ohlcHigh:
			c.High, err = f.asDouble()
		case ohlcLow:
			c.Low, err = f.asDouble()
		case ohlcClose:
			c.Close, err = f.asDouble()
		case ohlcVol:
			c.Volume, err = f.asInt64()
		case ohlcTs:
			c.Ts, err = f.asInt64()
		}
		return err
	})
}

func decodeMarketInfo(b []byte) (map[string]string, error) {
	segments := make(map[string]string)

	err := walk("MarketInfo", b, func(f field) error {
		if f.num != marketInfoSegmentStatus {
			return nil
		}
		m, err := f.asBytes()
		if err != nil {
			return err
		}

		var (
			name   string
			status uint64
		)
		err = walk("MarketInfo.SegmentStatusEntry", m, func(e field) error {
			var err error
			switch e.num {
			case mapEntryKey:
				name, err = e.asString()
			case mapEntryValue:
				status, err = e.asUint()
			}
			return err
		})
		if err != nil {
			return err
		}

		if s, ok := marketStatusNames[status]; ok {
			segments[name] = s
		} else {
			segments[name] = "UNKNOWN"
		}
		return nil
	})

	return segments, err
}
