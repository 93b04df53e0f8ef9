package writer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/rickgao/market-feed/internal/database"
	"github.com/rickgao/market-feed/internal/database/dbtest"
	"github.com/rickgao/market-feed/internal/metrics"
	"github.com/rickgao/market-feed/internal/model"
)

type fakeMirror struct {
	mu   sync.Mutex
	recs []model.TickRecord
	err  error
}

func (m *fakeMirror) MirrorTicks(_ context.Context, recs []model.TickRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, recs...)
	return m.err
}

func record(key string, mode model.SubscriptionMode, ltp float64) model.TickRecord {
	r := model.NewTickRecord(model.InstrumentKey(key), mode)
	r.LTP = ltp
	r.ReceivedAt = time.Date(2024, 6, 10, 9, 15, 0, 0, time.UTC)
	return r
}

func column(t *testing.T, args []any, name string) any {
	t.Helper()
	for i, c := range database.TickColumns() {
		if c == name {
			return args[i]
		}
	}
	t.Fatalf("no column %q", name)
	return nil
}

func TestTransform(t *testing.T) {
	r := record("MCX_FO|472789", model.ModeStandard, 6012.5)
	r.Volume = 1200
	r.OpenInterest = 8800
	r.Open, r.High, r.Low, r.Close = 6000, 6020, 5990, 6010
	r.ExchangeTs = 1718000000000
	for i := range r.Depth {
		r.Depth[i] = model.DepthLevel{BidPrice: 6012 - float64(i), BidQty: int64(i + 1), AskPrice: 6013 + float64(i), AskQty: int64(10 * (i + 1))}
	}

	row := transform(r)

	if len(row) != len(database.TickColumns()) {
		t.Fatalf("len(row) = %d, want %d", len(row), len(database.TickColumns()))
	}

	tests := []struct {
		col  string
		want any
	}{
		{"instrument_key", "MCX_FO|472789"},
		{"mode", "STANDARD"},
		{"ltp", 6012.5},
		{"volume", int64(1200)},
		{"oi", 8800.0},
		{"high", 6020.0},
		{"bid_price_1", 6012.0},
		{"bid_qty_5", int64(5)},
		{"ask_price_5", 6017.0},
		{"ask_qty_1", int64(10)},
		// STANDARD records leave levels 6..15 zero-filled.
		{"bid_price_6", 0.0},
		{"bid_qty_15", int64(0)},
		{"ask_price_15", 0.0},
		{"exchange_ts", int64(1718000000000)},
		{"received_at", r.ReceivedAt},
	}
	for _, tt := range tests {
		if got := column(t, row, tt.col); got != tt.want {
			t.Errorf("%s = %v (%T), want %v (%T)", tt.col, got, got, tt.want, tt.want)
		}
	}
}

func TestTransform_FullDepth(t *testing.T) {
	r := record("NSE_FO|35005", model.ModeFull, 100)
	r.Depth[14] = model.DepthLevel{BidPrice: 99.25, BidQty: 7, AskPrice: 100.75, AskQty: 9}

	row := transform(r)

	if got := column(t, row, "bid_price_15"); got != 99.25 {
		t.Errorf("bid_price_15 = %v, want 99.25", got)
	}
	if got := column(t, row, "ask_qty_15"); got != int64(9) {
		t.Errorf("ask_qty_15 = %v, want 9", got)
	}
}

func TestUpsertSQL(t *testing.T) {
	sql := upsertSQL("websocket_ticks_v3")

	for _, frag := range []string{
		"INSERT INTO websocket_ticks_v3 (instrument_key, mode, ltp,",
		"$77)",
		"ON CONFLICT (instrument_key) DO UPDATE SET",
		"ltp = EXCLUDED.ltp",
		"bid_price_15 = EXCLUDED.bid_price_15",
		"received_at = EXCLUDED.received_at",
		"updated_at = now()",
	} {
		if !strings.Contains(sql, frag) {
			t.Errorf("upsert SQL missing %q", frag)
		}
	}
	if strings.Contains(sql, "instrument_key = EXCLUDED") {
		t.Error("upsert SQL rewrites the conflict key")
	}
}

func TestWriteTicks_OneBatchPerFrame(t *testing.T) {
	db := &dbtest.DB{}
	w := NewTickWriter(db, "ticks")

	recs := []model.TickRecord{
		record("A|1", model.ModeFull, 10),
		record("B|2", model.ModeFull, 20),
		record("C|3", model.ModeStandard, 30),
	}
	if err := w.WriteTicks(context.Background(), recs); err != nil {
		t.Fatalf("WriteTicks() error = %v", err)
	}

	batches := db.Batches()
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(batches))
	}
	if len(batches[0]) != 3 {
		t.Fatalf("got %d statements, want 3", len(batches[0]))
	}
	if got := batches[0][1].Args[0]; got != "B|2" {
		t.Errorf("second upsert key = %v, want B|2", got)
	}

	stats := w.Stats()
	if stats.Upserts != 3 || stats.Batches != 1 || stats.Errors != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestWriteTicks_LastRecordPerKeyWins(t *testing.T) {
	db := &dbtest.DB{}
	w := NewTickWriter(db, "ticks")

	recs := []model.TickRecord{
		record("A|1", model.ModeFull, 10),
		record("B|2", model.ModeFull, 20),
		record("A|1", model.ModeFull, 11),
	}
	if err := w.WriteTicks(context.Background(), recs); err != nil {
		t.Fatal(err)
	}

	stmts := db.Batches()[0]
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if stmts[0].Args[0] != "A|1" || column(t, stmts[0].Args, "ltp") != 11.0 {
		t.Errorf("first upsert = %v ltp %v, want A|1 ltp 11", stmts[0].Args[0], column(t, stmts[0].Args, "ltp"))
	}
}

func TestWriteTicks_Empty(t *testing.T) {
	db := &dbtest.DB{}
	w := NewTickWriter(db, "ticks")

	if err := w.WriteTicks(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(db.Batches()) != 0 {
		t.Error("sent a batch for no records")
	}
}

func TestWriteTicks_Error(t *testing.T) {
	boom := errors.New("deadlock detected")
	db := &dbtest.DB{BatchErr: boom}
	mirror := &fakeMirror{}
	w := NewTickWriter(db, "ticks", WithMirror(mirror))

	err := w.Upsert(context.Background(), record("A|1", model.ModeFull, 10))
	if !errors.Is(err, boom) {
		t.Fatalf("Upsert() error = %v, want %v", err, boom)
	}

	stats := w.Stats()
	if stats.Errors != 1 || stats.Upserts != 0 || stats.Batches != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
	if len(mirror.recs) != 0 {
		t.Error("mirrored records from a failed batch")
	}
}

func TestWriteTicks_Mirror(t *testing.T) {
	mirror := &fakeMirror{}
	w := NewTickWriter(&dbtest.DB{}, "ticks", WithMirror(mirror))

	recs := []model.TickRecord{record("A|1", model.ModeFull, 10), record("A|1", model.ModeFull, 12)}
	if err := w.WriteTicks(context.Background(), recs); err != nil {
		t.Fatal(err)
	}

	if len(mirror.recs) != 1 || mirror.recs[0].LTP != 12 {
		t.Errorf("mirror got %+v, want the coalesced record", mirror.recs)
	}
}

func TestWriteTicks_MirrorFailureDoesNotFailWrite(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	mirror := &fakeMirror{err: errors.New("redis down")}
	w := NewTickWriter(&dbtest.DB{}, "ticks", WithMirror(mirror), WithMetrics(m))

	if err := w.Upsert(context.Background(), record("A|1", model.ModeFull, 10)); err != nil {
		t.Fatalf("Upsert() error = %v, want nil", err)
	}

	stats := w.Stats()
	if stats.MirrorErrors != 1 || stats.Upserts != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if got := testutil.ToFloat64(m.MirrorErrors); got != 1 {
		t.Errorf("mirror_errors_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Upserts); got != 1 {
		t.Errorf("upserts_total = %v, want 1", got)
	}
}
