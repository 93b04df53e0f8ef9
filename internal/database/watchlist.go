package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/market-feed/internal/model"
)

// WatchList reads the runtime interest set.
type WatchList struct {
	db    Querier
	query string
}

// NewWatchList returns a reader over table.
func NewWatchList(db Querier, table string) *WatchList {
	return &WatchList{
		db:    db,
		query: fmt.Sprintf("SELECT instrument_key, mode FROM %s", table),
	}
}

// Entries returns every watched instrument with its optional mode override.
// Blank keys are skipped; a NULL or blank mode leaves Mode nil.
func (w *WatchList) Entries(ctx context.Context) ([]model.WatchEntry, error) {
	rows, err := w.db.Query(ctx, w.query)
	if err != nil {
		return nil, fmt.Errorf("read watch list: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanWatchEntry)
	if err != nil {
		return nil, fmt.Errorf("read watch list: %w", err)
	}

	out := entries[:0]
	for _, e := range entries {
		if e.Key != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func scanWatchEntry(row pgx.CollectableRow) (model.WatchEntry, error) {
	var (
		key  string
		mode *string
	)
	if err := row.Scan(&key, &mode); err != nil {
		return model.WatchEntry{}, err
	}

	e := model.WatchEntry{Key: model.InstrumentKey(key)}
	if mode != nil && strings.TrimSpace(*mode) != "" {
		m, err := model.ParseMode(*mode)
		if err != nil {
			return model.WatchEntry{}, fmt.Errorf("instrument %s: %w", key, err)
		}
		e.Mode = &m
	}
	return e, nil
}

// Catalog reads the instrument master.
type Catalog struct {
	db    Querier
	table string
}

// NewCatalog returns a reader over table.
func NewCatalog(db Querier, table string) *Catalog {
	return &Catalog{db: db, table: table}
}

// ActiveKeys returns the keys of active instruments in segment with the given
// instrument type, e.g. ("MCX_FO", "FUT").
func (c *Catalog) ActiveKeys(ctx context.Context, segment, instrumentType string) ([]model.InstrumentKey, error) {
	query := fmt.Sprintf(
		"SELECT instrument_key FROM %s WHERE segment = $1 AND instrument_type = $2 AND is_active ORDER BY instrument_key",
		c.table,
	)
	keys, err := queryKeys(ctx, c.db, query, segment, instrumentType)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s/%s: %w", segment, instrumentType, err)
	}
	return keys, nil
}

func queryKeys(ctx context.Context, db Querier, query string, args ...any) ([]model.InstrumentKey, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	raw, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}

	keys := make([]model.InstrumentKey, 0, len(raw))
	for _, k := range raw {
		if k == "" {
			continue
		}
		keys = append(keys, model.InstrumentKey(k))
	}
	return keys, nil
}
