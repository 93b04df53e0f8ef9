package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/rickgao/market-feed/internal/model"
)

// Scalar columns of the latest-tick table, in insert order. Depth columns
// follow, then exchange_ts and received_at.
var tickScalarColumns = []string{
	"instrument_key",
	"mode",
	"ltp",
	"ltt",
	"ltq",
	"cp",
	"open",
	"high",
	"low",
	"close",
	"volume",
	"oi",
	"atp",
	"total_buy_qty",
	"total_sell_qty",
}

// TickColumns returns every latest-tick column in insert order: the scalar
// columns, bid_price_1..N, bid_qty_1..N, ask_price_1..N, ask_qty_1..N
// (N = model.MaxDepth), exchange_ts and received_at.
func TickColumns() []string {
	cols := make([]string, 0, len(tickScalarColumns)+4*model.MaxDepth+2)
	cols = append(cols, tickScalarColumns...)
	for _, group := range []string{"bid_price", "bid_qty", "ask_price", "ask_qty"} {
		for i := 1; i <= model.MaxDepth; i++ {
			cols = append(cols, fmt.Sprintf("%s_%d", group, i))
		}
	}
	return append(cols, "exchange_ts", "received_at")
}

func tickColumnType(col string) string {
	switch {
	case col == "instrument_key":
		return "TEXT PRIMARY KEY"
	case col == "mode":
		return "TEXT NOT NULL"
	case col == "ltt", col == "ltq", col == "volume", col == "exchange_ts", strings.Contains(col, "_qty_"):
		return "BIGINT NOT NULL DEFAULT 0"
	case col == "received_at":
		return "TIMESTAMPTZ NOT NULL"
	default:
		return "DOUBLE PRECISION NOT NULL DEFAULT 0"
	}
}

// TickTableDDL returns the CREATE TABLE statement for the latest-tick table.
func TickTableDDL(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", table)
	for _, col := range TickColumns() {
		fmt.Fprintf(&b, "\t%s %s,\n", col, tickColumnType(col))
	}
	b.WriteString("\tupdated_at TIMESTAMPTZ NOT NULL DEFAULT now()\n)")
	return b.String()
}

// WatchTableDDL returns the CREATE TABLE statement for the watch list. mode
// optionally overrides the feed's default subscription mode per instrument.
func WatchTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	instrument_key TEXT PRIMARY KEY,
	mode TEXT CHECK (mode IN ('standard', 'full')),
	added_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, table)
}

// WatchNotifyDDL returns the statements that make every change to the watch
// list send a NOTIFY on channel.
func WatchNotifyDDL(table, channel string) []string {
	fn := table + "_notify"
	trigger := unqualified(table) + "_notify"
	return []string{
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('%s', TG_OP);
	RETURN NULL;
END
$$ LANGUAGE plpgsql`, fn, channel),
		fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s", trigger, table),
		fmt.Sprintf("CREATE TRIGGER %s AFTER INSERT OR UPDATE OR DELETE OR TRUNCATE ON %s FOR EACH STATEMENT EXECUTE FUNCTION %s()",
			trigger, table, fn),
	}
}

func unqualified(table string) string {
	if i := strings.LastIndexByte(table, '.'); i >= 0 {
		return table[i+1:]
	}
	return table
}

type schemaStep struct {
	what string
	sql  []string
}

// EnsureSchema creates the latest-tick and watch-list tables if missing and,
// when channel is set, installs the watch-list change notification.
// Table and channel names must already be validated identifiers.
func EnsureSchema(ctx context.Context, db Querier, tickTable, watchTable, channel string) error {
	steps := []schemaStep{
		{"create " + tickTable, []string{TickTableDDL(tickTable)}},
		{"create " + watchTable, []string{
			WatchTableDDL(watchTable),
			fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS mode TEXT CHECK (mode IN ('standard', 'full'))", watchTable),
		}},
	}
	if channel != "" {
		steps = append(steps, schemaStep{"notify trigger on " + watchTable, WatchNotifyDDL(watchTable, channel)})
	}

	for _, step := range steps {
		for _, stmt := range step.sql {
			if _, err := db.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", step.what, err)
			}
		}
	}
	return nil
}
