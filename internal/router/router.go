package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/market-feed/internal/connection"
	"github.com/rickgao/market-feed/internal/decoder"
	"github.com/rickgao/market-feed/internal/metrics"
	"github.com/rickgao/market-feed/internal/model"
)

// Router decodes inbound frames, merges each update into the instrument's
// snapshot and hands the complete records to the sink.
//
// HandleFrame runs on the feed's receive loop, so frames are merged in wire order.
type Router struct {
	sink    TickSink
	modes   ModeLookup
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu        sync.RWMutex
	snapshots map[model.InstrumentKey]model.TickRecord

	received    atomic.Int64
	dropped     atomic.Int64
	merged      atomic.Int64
	writeErrors atomic.Int64
}

// New creates a Router. modes may be nil, in which case the mode carried by
// the frame is used.
func New(sink TickSink, modes ModeLookup, m *metrics.Metrics, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	return &Router{
		sink:      sink,
		modes:     modes,
		metrics:   m,
		logger:    logger.With("component", "router"),
		snapshots: make(map[model.InstrumentKey]model.TickRecord),
	}
}

// HandleFrame processes one raw frame. A decode failure drops the frame and
// leaves every snapshot untouched.
func (r *Router) HandleFrame(ctx context.Context, msg connection.RawMessage) error {
	r.received.Add(1)

	frame, err := decoder.Decode(msg.Data)
	if err != nil {
		r.dropped.Add(1)
		r.metrics.DecodeError()
		r.logger.Warn("dropping malformed frame", "bytes", len(msg.Data), "error", err)
		return err
	}

	if frame.Type == decoder.FrameMarketInfo {
		r.logger.Info("market status", "segments", frame.Segments)
	}
	if len(frame.Updates) == 0 {
		return nil
	}

	recs := r.merge(frame, msg.ReceivedAt)
	if r.sink == nil {
		return nil
	}

	if err := r.sink.WriteTicks(ctx, recs); err != nil {
		r.writeErrors.Add(1)
		if !errors.Is(err, context.Canceled) {
			r.logger.Error("tick write failed", "instruments", len(recs), "error", err)
		}
		return fmt.Errorf("write ticks: %w", err)
	}

	return nil
}

// merge applies every update of the frame and returns the resulting records.
func (r *Router) merge(frame *decoder.Frame, receivedAt time.Time) []model.TickRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := make([]model.TickRecord, 0, len(frame.Updates))
	for _, u := range frame.Updates {
		var prev *model.TickRecord
		if snap, ok := r.snapshots[u.Key]; ok {
			prev = &snap
		}

		rec := Merge(prev, u, r.modeFor(u, prev), frame.CurrentTs, receivedAt)
		r.snapshots[u.Key] = rec
		recs = append(recs, rec.Clone())

		r.merged.Add(1)
		r.metrics.UpdateMerged(u.Shape.String())
	}
	return recs
}

// modeFor prefers the subscribed mode, then the mode the frame reports. A
// partial update that does not echo its mode keeps the snapshot's mode.
func (r *Router) modeFor(u decoder.Update, prev *model.TickRecord) model.SubscriptionMode {
	if r.modes != nil {
		if m, ok := r.modes(u.Key); ok {
			return m
		}
	}
	if !u.ModeKnown && !u.Shape.Full() && prev != nil {
		return prev.Mode
	}
	return u.Mode
}

// Snapshot returns a copy of the latest merged record for key.
func (r *Router) Snapshot(key model.InstrumentKey) (model.TickRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.snapshots[key]
	if !ok {
		return model.TickRecord{}, false
	}
	return rec.Clone(), true
}

// Forget drops cached snapshots for keys no longer subscribed.
func (r *Router) Forget(keys []model.InstrumentKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, k := range keys {
		delete(r.snapshots, k)
	}
}

// Stats returns current statistics.
func (r *Router) Stats() RouterStats {
	r.mu.RLock()
	n := len(r.snapshots)
	r.mu.RUnlock()

	return RouterStats{
		FramesReceived: r.received.Load(),
		FramesDropped:  r.dropped.Load(),
		UpdatesMerged:  r.merged.Load(),
		WriteErrors:    r.writeErrors.Load(),
		Snapshots:      n,
	}
}
