package client

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"

	"github.com/oriys/asyncsql/internal/adapter"
	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/pool"
)

var errBrokenConn = fmt.Errorf("connection is broken: %w", driver.ErrBadConn)

// Conn is a leased connection. Statements issued on it run one at a time,
// in the order they were issued, even when issued concurrently.
type Conn struct {
	client *Client
	lease  *pool.Lease[*adapter.Adapter]

	mu       sync.Mutex
	pending  []func()
	running  bool
	closing  bool
	released bool
	closeCbs []func(error)
}

// ID returns the identifier of the underlying connection.
func (cn *Conn) ID() string { return cn.lease.Conn().ID() }

// UpdateWithParams executes a statement that does not return rows. For
// inserts, cb receives the generated keys when the driver reports them.
func (cn *Conn) UpdateWithParams(ctx context.Context, sql string, params []any, cb func(*UpdateResult, error)) {
	cn.run(ctx, opUpdate, sql, params, func(u *UpdateResult, _ *ResultSet, err error) {
		if cb != nil {
			cb(u, err)
		}
	})
}

// Update is UpdateWithParams without parameters.
func (cn *Conn) Update(ctx context.Context, sql string, cb func(*UpdateResult, error)) {
	cn.UpdateWithParams(ctx, sql, nil, cb)
}

// QueryWithParams executes a query and delivers the fully read result.
func (cn *Conn) QueryWithParams(ctx context.Context, sql string, params []any, cb func(*ResultSet, error)) {
	cn.run(ctx, opQuery, sql, params, func(_ *UpdateResult, rs *ResultSet, err error) {
		if cb != nil {
			cb(rs, err)
		}
	})
}

// Query is QueryWithParams without parameters.
func (cn *Conn) Query(ctx context.Context, sql string, cb func(*ResultSet, error)) {
	cn.QueryWithParams(ctx, sql, nil, cb)
}

// Close returns the connection to the pool once every statement already
// issued has completed. Later statements fail with ErrConnClosed. cb, if
// not nil, runs after the connection has been returned; calling Close
// again is allowed.
func (cn *Conn) Close(cb func(error)) {
	cn.mu.Lock()
	if cb != nil {
		cn.closeCbs = append(cn.closeCbs, cb)
	}
	if cn.closing {
		if !cn.released {
			cn.mu.Unlock()
			return
		}
		cbs := cn.takeCloseCbsLocked()
		cn.mu.Unlock()
		cn.client.async(func() { cn.notifyClosed(cbs) })
		return
	}
	cn.closing = true
	if cn.running {
		cn.mu.Unlock()
		return
	}
	cn.running = true
	cn.mu.Unlock()
	cn.client.async(cn.drain)
}

func (cn *Conn) run(ctx context.Context, op, sql string, params []any, done func(*UpdateResult, *ResultSet, error)) {
	c := cn.client
	r := c.begin(ctx, op, sql, params)
	// The lease is already held, so acquisition is immediate.
	r.advance(StateAcquiring)

	err := cn.enqueue(func() {
		u, rs, err := c.execute(r, cn.lease.Conn())
		c.complete(r, u, rs, err, done)
	})
	if err != nil {
		kind := KindClosed
		if errors.Is(err, ErrPoolClosed) {
			kind = KindPool
		}
		c.async(func() { c.complete(r, nil, nil, newError(kind, op, err), done) })
	}
}

func (cn *Conn) enqueue(task func()) error {
	if cn.client.closed.Load() {
		return ErrPoolClosed
	}
	cn.mu.Lock()
	if cn.closing {
		cn.mu.Unlock()
		return ErrConnClosed
	}
	cn.pending = append(cn.pending, task)
	if cn.running {
		cn.mu.Unlock()
		return nil
	}
	cn.running = true
	cn.mu.Unlock()
	cn.client.async(cn.drain)
	return nil
}

// drain runs queued statements until none are left, then releases the
// lease if Close has been called.
func (cn *Conn) drain() {
	for {
		cn.mu.Lock()
		if len(cn.pending) == 0 {
			cn.running = false
			if !cn.closing || cn.released {
				cn.mu.Unlock()
				return
			}
			cn.released = true
			cbs := cn.takeCloseCbsLocked()
			cn.mu.Unlock()

			cn.lease.Release()
			cn.notifyClosed(cbs)
			return
		}
		task := cn.pending[0]
		cn.pending[0] = nil
		cn.pending = cn.pending[1:]
		cn.mu.Unlock()

		cn.runTask(task)
	}
}

// runTask keeps a panic in one statement from stalling the queue behind it
// and the eventual release of the lease.
func (cn *Conn) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in statement", "conn_id", cn.ID(), "panic", r)
		}
	}()
	task()
}

func (cn *Conn) takeCloseCbsLocked() []func(error) {
	cbs := cn.closeCbs
	cn.closeCbs = nil
	return cbs
}

func (cn *Conn) notifyClosed(cbs []func(error)) {
	for _, cb := range cbs {
		cn.client.deliver(func() { cb(nil) })
	}
}
