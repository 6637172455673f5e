// Package pool implements a bounded connection pool with a non-blocking,
// continuation-based acquire.
//
// # Acquisition
//
// Acquire never blocks the caller. The continuation is handed a lease
// through the configured executor as soon as one of these happens:
//
//  1. A free connection exists: it is leased immediately.
//  2. The pool is below MaxSize: a slot is reserved and a new connection is
//     opened on the executor for this request.
//  3. Otherwise the request joins a FIFO wait queue and is served by the
//     next Release, in arrival order.
//
// Queue wait is bounded by AcquireTimeout and by the request context.
//
// # Invariants
//
// free + inUse + opening + closing never exceeds MaxSize, so a replacement
// is only opened once the connection it replaces has been closed. Every
// continuation is invoked exactly once, and never while the pool lock is
// held. A broken connection is closed on release and never leased again.
// Once closed the pool issues no further leases.
package pool

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oriys/asyncsql/internal/worker"
)

var (
	// ErrPoolClosed is returned for acquisitions on, or pending during, Close.
	ErrPoolClosed = errors.New("pool closed")
	// ErrAcquireTimeout is returned when a queued request waits longer than AcquireTimeout.
	ErrAcquireTimeout = errors.New("timed out waiting for a connection")
	// ErrQueueFull is returned when MaxQueueDepth requests are already waiting.
	ErrQueueFull = errors.New("connection wait queue is full")
)

// Conn is a pooled connection.
type Conn interface {
	ID() string
	// Broken reports that the connection must be discarded instead of reused.
	Broken() bool
	Close() error
}

// Factory opens a new connection.
type Factory[C Conn] func(ctx context.Context) (C, error)

// Config configures a Pool.
type Config struct {
	Name            string
	MaxSize         int
	MinIdle         int
	MaxQueueDepth   int           // 0 = unbounded
	AcquireTimeout  time.Duration // 0 = wait until the context is done
	IdleTimeout     time.Duration
	MaxLifetime     time.Duration
	CleanupInterval time.Duration
}

type pooledConn[C Conn] struct {
	conn     C
	created  time.Time
	lastUsed time.Time
}

// Lease is exclusive use of one connection until Release.
type Lease[C Conn] struct {
	pool     *Pool[C]
	pc       *pooledConn[C]
	wait     time.Duration
	released bool
}

// Conn returns the leased connection.
func (l *Lease[C]) Conn() C { return l.pc.conn }

// Wait returns how long the request waited for this lease.
func (l *Lease[C]) Wait() time.Duration { return l.wait }

// Release returns the connection to the pool. Calling it more than once
// has no effect.
func (l *Lease[C]) Release() { l.pool.Release(l) }

// Pool is a bounded pool of connections of type C.
type Pool[C Conn] struct {
	cfg     Config
	factory Factory[C]
	exec    worker.Executor

	mu      sync.Mutex
	free    []*pooledConn[C] // most recently used last
	inUse   int
	opening int
	closing int // discarded connections still counted until their Close returns
	waiters *list.List // of *waiter[C]
	closed  bool
	stats   counters

	stop        chan struct{}
	janitorDone chan struct{}
}

// New creates a pool. exec runs connection opens and continuations; a nil
// exec starts a goroutine per task.
func New[C Conn](cfg Config, factory Factory[C], exec worker.Executor) (*Pool[C], error) {
	if factory == nil {
		return nil, errors.New("pool: factory is required")
	}
	if cfg.MaxSize < 1 {
		return nil, errors.New("pool: MaxSize must be at least 1")
	}
	if cfg.MinIdle > cfg.MaxSize {
		cfg.MinIdle = cfg.MaxSize
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if exec == nil {
		exec = worker.Goroutine{}
	}

	p := &Pool[C]{
		cfg:     cfg,
		factory: factory,
		exec:    exec,
		waiters: list.New(),
		stop:    make(chan struct{}),
	}
	if cfg.CleanupInterval > 0 && (cfg.IdleTimeout > 0 || cfg.MaxLifetime > 0 || cfg.MinIdle > 0) {
		p.janitorDone = make(chan struct{})
		go p.cleanupLoop()
	}
	return p, nil
}

// MaxSize returns the configured upper bound on live connections.
func (p *Pool[C]) MaxSize() int { return p.cfg.MaxSize }

// Name returns the pool name used in logs and metrics.
func (p *Pool[C]) Name() string { return p.cfg.Name }

func (p *Pool[C]) totalLocked() int {
	return len(p.free) + p.inUse + p.opening + p.closing
}
