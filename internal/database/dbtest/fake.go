// Package dbtest provides an in-memory stand-in for a pgx pool.
package dbtest

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Call is one recorded statement.
type Call struct {
	SQL  string
	Args []any
}

// DB records statements and serves canned query rows. The zero value is ready
// to use.
type DB struct {
	mu sync.Mutex

	// Rows is returned by every Query.
	Rows [][]any

	QueryErr error
	ExecErr  error
	// BatchErr fails the first Exec of every batch.
	BatchErr error
	PingErr  error

	execs   []Call
	queries []Call
	batches [][]Call
}

// Exec records the statement.
func (d *DB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.execs = append(d.execs, Call{SQL: sql, Args: args})
	if d.ExecErr != nil {
		return pgconn.CommandTag{}, d.ExecErr
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

// Query records the statement and returns Rows.
func (d *DB) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.queries = append(d.queries, Call{SQL: sql, Args: args})
	if d.QueryErr != nil {
		return nil, d.QueryErr
	}
	return &rows{data: d.Rows}, nil
}

// SendBatch records every queued statement.
func (d *DB) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	d.mu.Lock()
	defer d.mu.Unlock()
	calls := make([]Call, 0, b.Len())
	for _, q := range b.QueuedQueries {
		calls = append(calls, Call{SQL: q.SQL, Args: q.Arguments})
	}
	d.batches = append(d.batches, calls)
	return &batchResults{n: len(calls), err: d.BatchErr}
}

// Ping returns PingErr.
func (d *DB) Ping(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.PingErr
}

// Execs returns the recorded Exec calls.
func (d *DB) Execs() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.execs...)
}

// Queries returns the recorded Query calls.
func (d *DB) Queries() []Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Call(nil), d.queries...)
}

// Batches returns the statements of every batch sent.
func (d *DB) Batches() [][]Call {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]Call(nil), d.batches...)
}

type rows struct {
	data   [][]any
	pos    int
	closed bool
}

func (r *rows) Close()                                       { r.closed = true }
func (r *rows) Err() error                                   { return nil }
func (r *rows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *rows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rows) RawValues() [][]byte                          { return nil }
func (r *rows) Conn() *pgx.Conn                              { return nil }

func (r *rows) Next() bool {
	if r.closed || r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *rows) Values() ([]any, error) {
	if r.pos == 0 {
		return nil, errors.New("dbtest: Values before Next")
	}
	return r.data[r.pos-1], nil
}

func (r *rows) Scan(dest ...any) error {
	row, err := r.Values()
	if err != nil {
		return err
	}
	if len(dest) != len(row) {
		return fmt.Errorf("dbtest: scan %d values into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d)
		if target.Kind() != reflect.Pointer || target.IsNil() {
			return fmt.Errorf("dbtest: scan target %d is not a pointer", i)
		}
		if row[i] == nil {
			target.Elem().SetZero()
			continue
		}
		v := reflect.ValueOf(row[i])
		elem := target.Elem().Type()
		if elem.Kind() == reflect.Pointer && v.Type().AssignableTo(elem.Elem()) {
			p := reflect.New(elem.Elem())
			p.Elem().Set(v)
			target.Elem().Set(p)
			continue
		}
		if !v.Type().AssignableTo(elem) {
			return fmt.Errorf("dbtest: cannot scan %T into %s", row[i], target.Elem().Type())
		}
		target.Elem().Set(v)
	}
	return nil
}

type batchResults struct {
	n    int
	done int
	err  error
}

func (b *batchResults) Exec() (pgconn.CommandTag, error) {
	if b.done >= b.n {
		return pgconn.CommandTag{}, errors.New("dbtest: no more batch results")
	}
	b.done++
	if b.err != nil && b.done == 1 {
		return pgconn.CommandTag{}, b.err
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *batchResults) Query() (pgx.Rows, error) {
	_, err := b.Exec()
	return &rows{}, err
}

func (b *batchResults) QueryRow() pgx.Row {
	_, err := b.Exec()
	return errRow{err: err}
}

func (b *batchResults) Close() error { return nil }

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }
