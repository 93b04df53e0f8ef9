package router

import (
	"time"

	"github.com/rickgao/market-feed/internal/decoder"
	"github.com/rickgao/market-feed/internal/model"
)

// Merge combines an update with the previous snapshot of the same key.
//
// A full-shape update replaces the snapshot: the result starts zero-filled so
// nothing from an earlier frame survives. A partial update overlays only the
// field groups it carries onto prev (or onto a zero-filled record when prev is
// nil). The result always has exactly mode.MaxDepth() depth levels.
func Merge(prev *model.TickRecord, u decoder.Update, mode model.SubscriptionMode, exchangeTs int64, receivedAt time.Time) model.TickRecord {
	var rec model.TickRecord
	if u.Shape.Full() || prev == nil {
		rec = model.NewTickRecord(u.Key, mode)
	} else {
		rec = prev.Clone()
		rec.Mode = mode
		rec.Normalize()
	}

	if u.Fields.Has(decoder.FieldLTPC) {
		rec.LTP = u.LTPC.LTP
		rec.LastTradeTime = u.LTPC.LTT
		rec.LastTradeQty = u.LTPC.LTQ
		rec.PrevClose = u.LTPC.CP
	}
	if u.Fields.Has(decoder.FieldOHLC) {
		rec.Open = u.Day.Open
		rec.High = u.Day.High
		rec.Low = u.Day.Low
		rec.Close = u.Day.Close
	}
	if u.Fields.Has(decoder.FieldVolume) {
		rec.Volume = u.Volume
	}
	if u.Fields.Has(decoder.FieldOpenInterest) {
		rec.OpenInterest = u.OpenInterest
	}
	if u.Fields.Has(decoder.FieldTotals) {
		rec.AvgTradePrice = u.AvgTradePrice
		rec.TotalBuyQty = u.TotalBuyQty
		rec.TotalSellQty = u.TotalSellQty
	}

	switch {
	case u.Fields.Has(decoder.FieldDepth):
		clear(rec.Depth)
		copy(rec.Depth, u.Depth)
	case u.Fields.Has(decoder.FieldTopOfBook) && len(u.Depth) > 0:
		rec.Depth[0] = u.Depth[0]
	}

	rec.ExchangeTs = exchangeTs
	rec.ReceivedAt = receivedAt
	return rec
}
