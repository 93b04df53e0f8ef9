package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/market-feed/internal/config"
)

// Querier is the subset of *pgxpool.Pool used by the readers and the tick writer.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Pools holds database connections for a feed instance.
type Pools struct {
	// Postgres holds the latest-tick table, the watch list and the instrument catalog.
	Postgres *pgxpool.Pool
}

// NewPools creates the connection pool described by cfg.
func NewPools(ctx context.Context, cfg config.DatabaseConfig, appName string) (*Pools, error) {
	pg, err := Connect(ctx, cfg.Postgres, appName)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Pools{Postgres: pg}, nil
}

// Connect creates a single connection pool.
func Connect(ctx context.Context, cfg config.DBConfig, appName string) (*pgxpool.Pool, error) {
	connStr := BuildConnString(cfg, appName)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Close closes the connection pool.
func (p *Pools) Close() {
	if p.Postgres != nil {
		p.Postgres.Close()
	}
}

// Ping verifies the connection is healthy.
func (p *Pools) Ping(ctx context.Context) error {
	if p.Postgres == nil {
		return fmt.Errorf("ping postgres: pool not open")
	}
	if err := p.Postgres.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}
