package router

import (
	"context"

	"github.com/rickgao/market-feed/internal/model"
)

// TickSink persists complete tick records. One call per frame.
type TickSink interface {
	WriteTicks(ctx context.Context, recs []model.TickRecord) error
}

// ModeLookup returns the mode a key was subscribed with.
type ModeLookup func(key model.InstrumentKey) (model.SubscriptionMode, bool)

// RouterStats contains runtime statistics.
type RouterStats struct {
	FramesReceived int64
	FramesDropped  int64 // Decode failures
	UpdatesMerged  int64
	WriteErrors    int64
	Snapshots      int   // Instruments with a cached snapshot
}
