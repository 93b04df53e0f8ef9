package writer

import (
	"context"

	"github.com/rickgao/market-feed/internal/model"
)

// Mirror receives records after they are stored.
type Mirror interface {
	MirrorTicks(ctx context.Context, recs []model.TickRecord) error
}

// WriterMetrics holds counters for a writer.
type WriterMetrics struct {
	Upserts      int64
	Errors       int64
	Batches      int64
	MirrorErrors int64
}

// tickRow is one latest-tick row in TickColumns order.
type tickRow []any
