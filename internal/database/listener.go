package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NotifyConn is a dedicated connection that can LISTEN.
type NotifyConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	WaitForNotification(ctx context.Context) (*pgconn.Notification, error)
	Release()
}

// AcquireFunc hands out a NotifyConn.
type AcquireFunc func(ctx context.Context) (NotifyConn, error)

// PoolAcquirer takes listen connections from pool.
func PoolAcquirer(pool *pgxpool.Pool) AcquireFunc {
	return func(ctx context.Context) (NotifyConn, error) {
		c, err := pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		return poolConn{c}, nil
	}
}

type poolConn struct {
	*pgxpool.Conn
}

func (c poolConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	return c.Conn.Conn().WaitForNotification(ctx)
}

// Listener calls back on every NOTIFY of one channel.
type Listener struct {
	acquire  AcquireFunc
	channel  string
	retryMin time.Duration
	retryMax time.Duration
	logger   *slog.Logger
}

// NewListener creates a Listener on channel.
func NewListener(acquire AcquireFunc, channel string, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{
		acquire:  acquire,
		channel:  channel,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
		logger:   logger.With("component", "listener", "channel", channel),
	}
}

// Listen calls fn once after every successful LISTEN, since changes made while
// not listening are otherwise lost, and then once per notification. A lost
// connection is re-acquired with backoff. Listen returns nil when ctx ends.
func (l *Listener) Listen(ctx context.Context, fn func()) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.retryMin
	bo.MaxInterval = l.retryMax

	for {
		err := l.listenOnce(ctx, fn, bo.Reset)
		if ctx.Err() != nil {
			return nil
		}

		wait := bo.NextBackOff()
		l.logger.Warn("listen connection lost", "retry_in", wait, "error", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, fn, listening func()) error {
	conn, err := l.acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer conn.Release()

	channel := pgx.Identifier{l.channel}.Sanitize()
	if _, err := conn.Exec(ctx, "LISTEN "+channel); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer func() {
		// The connection goes back to the pool.
		uctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		conn.Exec(uctx, "UNLISTEN "+channel)
	}()

	listening()
	l.logger.Info("listening")
	fn()

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		l.logger.Debug("notification", "payload", n.Payload)
		fn()
	}
}
