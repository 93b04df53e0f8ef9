// Package cache mirrors the latest tick of each instrument into Redis so
// readers that only need top of book avoid the relational store.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/market-feed/internal/config"
	"github.com/rickgao/market-feed/internal/model"
)

// TickMirror writes one hash per instrument: <prefix><instrument_key>.
type TickMirror struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewClient builds a Redis client from config.
func NewClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewTickMirror returns a mirror writing through client. A zero ttl keeps
// hashes forever.
func NewTickMirror(client redis.UniversalClient, prefix string, ttl time.Duration) *TickMirror {
	return &TickMirror{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the hash key for an instrument.
func (m *TickMirror) Key(key model.InstrumentKey) string {
	return m.prefix + string(key)
}

// MirrorTicks writes every record in one pipeline.
func (m *TickMirror) MirrorTicks(ctx context.Context, recs []model.TickRecord) error {
	if len(recs) == 0 {
		return nil
	}
	_, err := m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range recs {
			k := m.Key(r.Key)
			pipe.HSet(ctx, k, tickFields(r)...)
			if m.ttl > 0 {
				pipe.Expire(ctx, k, m.ttl)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror %d ticks: %w", len(recs), err)
	}
	return nil
}

// Ping checks the Redis connection.
func (m *TickMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (m *TickMirror) Close() error {
	return m.client.Close()
}

// tickFields flattens the record into HSET field/value pairs. Only the top of
// book is mirrored; full depth lives in the tick table.
func tickFields(r model.TickRecord) []any {
	return []any{
		"mode", r.Mode.String(),
		"ltp", r.LTP,
		"ltt", r.LastTradeTime,
		"cp", r.PrevClose,
		"open", r.Open,
		"high", r.High,
		"low", r.Low,
		"close", r.Close,
		"volume", r.Volume,
		"oi", r.OpenInterest,
		"bid", r.BestBid(),
		"ask", r.BestAsk(),
		"exchange_ts", r.ExchangeTs,
		"received_at", r.ReceivedAt.UnixMilli(),
	}
}
