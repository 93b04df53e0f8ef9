package writer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/market-feed/internal/database"
	"github.com/rickgao/market-feed/internal/metrics"
	"github.com/rickgao/market-feed/internal/model"
)

// TickWriter upserts TickRecords into the latest-tick table.
type TickWriter struct {
	db      database.Querier
	table   string
	upsert  string
	mirror  Mirror
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu    sync.Mutex
	stats WriterMetrics
}

// Option configures a TickWriter.
type Option func(*TickWriter)

// WithMirror sets a secondary store written after each successful batch.
func WithMirror(m Mirror) Option {
	return func(w *TickWriter) { w.mirror = m }
}

// WithMetrics records write counts and latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *TickWriter) { w.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *TickWriter) { w.logger = l }
}

// NewTickWriter creates a writer for table. The table name is interpolated
// into SQL and must be a validated identifier.
func NewTickWriter(db database.Querier, table string, opts ...Option) *TickWriter {
	w := &TickWriter{
		db:     db,
		table:  table,
		upsert: upsertSQL(table),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	w.logger = w.logger.With("component", "tick_writer", "table", table)
	return w
}

// Upsert stores a single record.
func (w *TickWriter) Upsert(ctx context.Context, rec model.TickRecord) error {
	return w.WriteTicks(ctx, []model.TickRecord{rec})
}

// WriteTicks stores one frame's records in a single batch. The last record
// per key wins.
func (w *TickWriter) WriteTicks(ctx context.Context, recs []model.TickRecord) error {
	recs = coalesce(recs)
	if len(recs) == 0 {
		return nil
	}

	start := time.Now()
	err := w.batchUpsert(ctx, recs)
	w.metrics.TicksWritten(len(recs), time.Since(start), err)

	w.mu.Lock()
	if err != nil {
		w.stats.Errors++
	} else {
		w.stats.Upserts += int64(len(recs))
		w.stats.Batches++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("batch upsert failed", "error", err, "count", len(recs))
		return fmt.Errorf("upsert %d ticks: %w", len(recs), err)
	}

	w.logger.Debug("upserted ticks", "count", len(recs), "duration", time.Since(start))

	if w.mirror != nil {
		if err := w.mirror.MirrorTicks(ctx, recs); err != nil {
			w.mu.Lock()
			w.stats.MirrorErrors++
			w.mu.Unlock()
			w.metrics.MirrorError()
			w.logger.Warn("mirror write failed", "error", err, "count", len(recs))
		}
	}
	return nil
}

// Stats returns current metrics.
func (w *TickWriter) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *TickWriter) batchUpsert(ctx context.Context, recs []model.TickRecord) error {
	batch := &pgx.Batch{}
	for _, r := range recs {
		batch.Queue(w.upsert, transform(r)...)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for _, r := range recs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upsert %s: %w", r.Key, err)
		}
	}
	return nil
}

// coalesce keeps the last record per key, in order of first appearance.
func coalesce(recs []model.TickRecord) []model.TickRecord {
	if len(recs) < 2 {
		return recs
	}
	idx := make(map[model.InstrumentKey]int, len(recs))
	out := make([]model.TickRecord, 0, len(recs))
	for _, r := range recs {
		if i, ok := idx[r.Key]; ok {
			out[i] = r
			continue
		}
		idx[r.Key] = len(out)
		out = append(out, r)
	}
	return out
}

// transform flattens a record into TickColumns order. Depth past the
// record's levels is written as zero.
func transform(r model.TickRecord) tickRow {
	row := make(tickRow, 0, len(database.TickColumns()))
	row = append(row,
		string(r.Key),
		r.Mode.String(),
		r.LTP,
		r.LastTradeTime,
		r.LastTradeQty,
		r.PrevClose,
		r.Open,
		r.High,
		r.Low,
		r.Close,
		r.Volume,
		r.OpenInterest,
		r.AvgTradePrice,
		r.TotalBuyQty,
		r.TotalSellQty,
	)

	var depth [model.MaxDepth]model.DepthLevel
	copy(depth[:], r.Depth)
	for _, l := range depth {
		row = append(row, l.BidPrice)
	}
	for _, l := range depth {
		row = append(row, l.BidQty)
	}
	for _, l := range depth {
		row = append(row, l.AskPrice)
	}
	for _, l := range depth {
		row = append(row, l.AskQty)
	}

	return append(row, r.ExchangeTs, r.ReceivedAt)
}

// upsertSQL builds INSERT ... ON CONFLICT (instrument_key) DO UPDATE that
// replaces every column.
func upsertSQL(table string) string {
	cols := database.TickColumns()

	placeholders := make([]string, len(cols))
	sets := make([]string, 0, len(cols))
	for i, c := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if c != "instrument_key" {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}
	sets = append(sets, "updated_at = now()")

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (instrument_key) DO UPDATE SET %s",
		table,
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(sets, ", "),
	)
}
