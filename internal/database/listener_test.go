package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type fakeNotifyConn struct {
	notes chan *pgconn.Notification
	// fail ends WaitForNotification with an error, as a dropped connection does.
	fail chan error

	mu       sync.Mutex
	execs    []string
	released bool
}

func newFakeNotifyConn() *fakeNotifyConn {
	return &fakeNotifyConn{
		notes: make(chan *pgconn.Notification),
		fail:  make(chan error, 1),
	}
}

func (c *fakeNotifyConn) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execs = append(c.execs, sql)
	return pgconn.NewCommandTag("LISTEN"), nil
}

func (c *fakeNotifyConn) WaitForNotification(ctx context.Context) (*pgconn.Notification, error) {
	select {
	case n := <-c.notes:
		return n, nil
	case err := <-c.fail:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeNotifyConn) Release() {
	c.mu.Lock()
	c.released = true
	c.mu.Unlock()
}

func (c *fakeNotifyConn) statements() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.execs...)
}

func (c *fakeNotifyConn) isReleased() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.released
}

func waitCalls(t *testing.T, calls <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-calls:
		case <-time.After(2 * time.Second):
			t.Fatalf("callback ran %d times, want %d", i, n)
		}
	}
}

func TestListener_CallsBackOnNotify(t *testing.T) {
	conn := newFakeNotifyConn()
	acquire := func(context.Context) (NotifyConn, error) { return conn, nil }
	l := NewListener(acquire, "watch_list_changed", nil)

	calls := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Listen(ctx, func() { calls <- struct{}{} }) }()

	// One call right after LISTEN, then one per notification.
	waitCalls(t, calls, 1)
	conn.notes <- &pgconn.Notification{Channel: "watch_list_changed", Payload: "INSERT"}
	conn.notes <- &pgconn.Notification{Channel: "watch_list_changed", Payload: "DELETE"}
	waitCalls(t, calls, 2)

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen() = %v, want nil on cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Listen() did not return after cancel")
	}

	stmts := conn.statements()
	if len(stmts) != 2 || stmts[0] != `LISTEN "watch_list_changed"` || stmts[1] != `UNLISTEN "watch_list_changed"` {
		t.Errorf("statements = %q", stmts)
	}
	if !conn.isReleased() {
		t.Error("connection not released")
	}
}

func TestListener_Reacquires(t *testing.T) {
	first, second := newFakeNotifyConn(), newFakeNotifyConn()

	var mu sync.Mutex
	attempts := 0
	acquire := func(context.Context) (NotifyConn, error) {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		switch attempts {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("too many connections")
		default:
			return second, nil
		}
	}
	l := NewListener(acquire, "watch_list_changed", nil)
	l.retryMin = time.Millisecond
	l.retryMax = 5 * time.Millisecond

	calls := make(chan struct{}, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Listen(ctx, func() { calls <- struct{}{} })

	waitCalls(t, calls, 1)
	first.fail <- errors.New("unexpected EOF")

	// The replacement connection triggers a catch-up call of its own.
	waitCalls(t, calls, 1)
	if !first.isReleased() {
		t.Error("dropped connection not released")
	}
	second.notes <- &pgconn.Notification{Channel: "watch_list_changed", Payload: "UPDATE"}
	waitCalls(t, calls, 1)

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("acquire attempts = %d, want 3", attempts)
	}
}
