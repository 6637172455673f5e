// Package client is an asynchronous relational-database client.
//
// Every operation returns immediately and reports its outcome through a
// completion callback, invoked exactly once. Blocking driver work runs on a
// bounded set of worker goroutines, never on the caller's goroutine.
//
//	c, err := client.New(ctx, cfg)
//	c.GetConnection(ctx, func(conn *client.Conn, err error) {
//		conn.UpdateWithParams(ctx, "INSERT INTO t (a) VALUES (?)", []any{nil},
//			func(res *client.UpdateResult, err error) { ... })
//	})
//
// A connection obtained from GetConnection is held until Conn.Close; the
// one-shot Client.UpdateWithParams and Client.QueryWithParams acquire and
// release a connection around a single statement.
package client

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/jmoiron/sqlx"

	"github.com/oriys/asyncsql/internal/adapter"
	"github.com/oriys/asyncsql/internal/config"
	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/pool"
	"github.com/oriys/asyncsql/internal/worker"
)

// Client owns a connection pool and the workers that drive it.
type Client struct {
	cfg     *config.Config
	db      *sqlx.DB
	pool    *pool.Pool[*adapter.Adapter]
	workers *worker.Pool
	serial  *worker.Pool // non-nil in serial callback mode
	stmtLog *logging.Logger
	closed  atomic.Bool
}

// New creates a client. No connection is opened until the first request.
func New(ctx context.Context, cfg *config.Config) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	db, err := adapter.Connect(cfg.Driver(), dsn, cfg.MaxPoolSize)
	if err != nil {
		return nil, err
	}

	stmtLog := logging.NewLogger(os.Stdout)
	if cfg.StatementLog.Enabled {
		stmtLog.Enable(true)
		stmtLog.SetConsole(cfg.StatementLog.Console)
		if cfg.StatementLog.Path != "" {
			if err := stmtLog.SetOutput(cfg.StatementLog.Path); err != nil {
				db.Close()
				return nil, fmt.Errorf("open statement log: %w", err)
			}
		}
	}

	c := &Client{cfg: cfg, db: db, stmtLog: stmtLog}
	c.workers = worker.New(worker.Config{Name: "asyncsql", Workers: cfg.WorkerCount()})
	c.workers.Start()
	if cfg.CallbackMode == config.CallbackSerial {
		c.serial = worker.New(worker.Config{Name: "asyncsql-callbacks", Workers: 1})
		c.serial.Start()
	}

	c.pool, err = pool.New(pool.Config{
		Name:            cfg.Driver(),
		MaxSize:         cfg.MaxPoolSize,
		MinIdle:         cfg.MinIdle,
		MaxQueueDepth:   cfg.MaxQueueDepth,
		AcquireTimeout:  cfg.AcquireTimeout,
		IdleTimeout:     cfg.IdleTimeout,
		MaxLifetime:     cfg.MaxLifetime,
		CleanupInterval: cfg.CleanupInterval,
	}, func(ctx context.Context) (*adapter.Adapter, error) {
		return adapter.Open(ctx, db)
	}, c.workers)
	if err != nil {
		c.workers.Stop()
		if c.serial != nil {
			c.serial.Stop()
		}
		db.Close()
		return nil, err
	}

	mode := cfg.CallbackMode
	if mode == "" {
		mode = config.CallbackWorker
	}
	logging.Op().InfoContext(ctx, "client started",
		"driver", cfg.Driver(),
		"max_pool_size", cfg.MaxPoolSize,
		"workers", cfg.WorkerCount(),
		"callback_mode", mode)
	return c, nil
}

// NewFromMap creates a client from a decoded JSON-style configuration with
// keys such as url, driver_class and max_pool_size.
func NewFromMap(ctx context.Context, m map[string]any) (*Client, error) {
	cfg, err := config.FromMap(m)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// GetConnection leases a connection. cb receives a *Conn that must be
// closed with Conn.Close, or an error of KindPool.
func (c *Client) GetConnection(ctx context.Context, cb func(*Conn, error)) {
	if cb == nil {
		return
	}
	if c.closed.Load() {
		c.async(func() { c.deliver(func() { cb(nil, newError(KindPool, "get_connection", ErrPoolClosed)) }) })
		return
	}
	c.pool.Acquire(ctx, func(l *pool.Lease[*adapter.Adapter], err error) {
		if err != nil {
			c.deliver(func() { cb(nil, newError(KindPool, "get_connection", err)) })
			return
		}
		cn := &Conn{client: c, lease: l}
		c.deliver(func() { cb(cn, nil) })
	})
}

// UpdateWithParams executes one statement on a pooled connection and
// releases the connection before cb runs.
func (c *Client) UpdateWithParams(ctx context.Context, sql string, params []any, cb func(*UpdateResult, error)) {
	c.oneShot(ctx, opUpdate, sql, params, func(u *UpdateResult, _ *ResultSet, err error) {
		if cb != nil {
			cb(u, err)
		}
	})
}

// QueryWithParams executes one query on a pooled connection and releases
// the connection before cb runs.
func (c *Client) QueryWithParams(ctx context.Context, sql string, params []any, cb func(*ResultSet, error)) {
	c.oneShot(ctx, opQuery, sql, params, func(_ *UpdateResult, rs *ResultSet, err error) {
		if cb != nil {
			cb(rs, err)
		}
	})
}

func (c *Client) oneShot(ctx context.Context, op, sql string, params []any, done func(*UpdateResult, *ResultSet, error)) {
	r := c.begin(ctx, op, sql, params)
	if c.closed.Load() {
		c.async(func() { c.complete(r, nil, nil, newError(KindPool, op, ErrPoolClosed), done) })
		return
	}
	r.advance(StateAcquiring)
	c.pool.Acquire(ctx, func(l *pool.Lease[*adapter.Adapter], err error) {
		if err != nil {
			c.complete(r, nil, nil, newError(KindPool, op, err), done)
			return
		}
		r.wait = l.Wait()
		u, rs, err := c.execute(r, l.Conn())
		l.Release()
		c.complete(r, u, rs, err, done)
	})
}

// Stats returns a snapshot of the connection pool.
func (c *Client) Stats() pool.Stats {
	return c.pool.Stats()
}

// Close closes the pool, failing queued requests with ErrPoolClosed, and
// waits for the workers to deliver every outstanding callback. Connections
// still held by a Conn are closed when that Conn is closed. Close must not
// be called from a callback.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.pool.Close()
	c.workers.Stop()
	if c.serial != nil {
		c.serial.Stop()
	}
	c.stmtLog.Close()
	if cerr := c.db.Close(); cerr != nil && err == nil {
		err = cerr
	}
	logging.Op().Info("client closed", "driver", c.cfg.Driver())
	return err
}

// async runs fn on a worker.
func (c *Client) async(fn func()) {
	c.workers.Submit(fn)
}

// deliver runs a user callback according to the callback mode. It is
// always called from a worker goroutine. A panicking callback is logged and
// does not unwind into the pool or a Conn's statement queue.
func (c *Client) deliver(fn func()) {
	if c.serial != nil {
		c.serial.Submit(fn)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in callback", "panic", r)
		}
	}()
	fn()
}
