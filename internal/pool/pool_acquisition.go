// pool_acquisition.go contains the acquire path: immediate lease, lazy open
// and the FIFO wait queue with its timeout and cancellation handling.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/metrics"
)

// waiter is one pending acquisition. done is guarded by the pool lock and
// flips exactly once, which is what makes the continuation run once.
type waiter[C Conn] struct {
	ctx      context.Context
	cb       func(*Lease[C], error)
	enqueued time.Time
	deadline time.Time // zero when AcquireTimeout is 0
	elem     *list.Element
	done     bool
	timer    *time.Timer
	stopCtx  func() bool
}

// Acquire requests a connection. cb receives either a lease or an error,
// exactly once, on the pool's executor. The caller must Release the lease.
//
// ctx bounds the wait in the queue and the connection open made on this
// request's behalf. It does not reach statements run on the lease.
func (p *Pool[C]) Acquire(ctx context.Context, cb func(*Lease[C], error)) {
	if cb == nil {
		return
	}
	if err := ctx.Err(); err != nil {
		p.fail(cb, "canceled", err)
		return
	}

	now := time.Now()
	w := &waiter[C]{ctx: ctx, cb: cb, enqueued: now}
	if p.cfg.AcquireTimeout > 0 {
		w.deadline = now.Add(p.cfg.AcquireTimeout)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.fail(cb, "closed", ErrPoolClosed)
		return
	}

	if n := len(p.free); n > 0 {
		pc := p.free[n-1]
		p.free[n-1] = nil
		p.free = p.free[:n-1]
		lease := p.leaseLocked(pc, 0)
		p.reportLocked()
		p.mu.Unlock()
		metrics.RecordAcquire(p.cfg.Name, "ok", 0)
		p.exec.Submit(func() { cb(lease, nil) })
		return
	}

	if p.totalLocked() < p.cfg.MaxSize {
		w.done = true
		p.opening++
		p.reportLocked()
		p.mu.Unlock()
		p.open(w)
		return
	}

	if p.cfg.MaxQueueDepth > 0 && p.waiters.Len() >= p.cfg.MaxQueueDepth {
		depth := p.waiters.Len()
		p.mu.Unlock()
		logging.Op().Warn("connection wait queue full", "pool", p.cfg.Name, "waiters", depth)
		p.fail(cb, "queue_full", ErrQueueFull)
		return
	}

	w.elem = p.waiters.PushBack(w)
	p.stats.waitCount++
	if p.cfg.AcquireTimeout > 0 {
		w.timer = time.AfterFunc(p.cfg.AcquireTimeout, func() { p.expire(w, ErrAcquireTimeout) })
	}
	if ctx.Done() != nil {
		w.stopCtx = context.AfterFunc(ctx, func() { p.expire(w, ctx.Err()) })
	}
	p.reportLocked()
	p.mu.Unlock()
}

// expire fails a queued waiter after its timeout or context fires. It is a
// no-op when the waiter has already been served.
func (p *Pool[C]) expire(w *waiter[C], cause error) {
	p.mu.Lock()
	if w.done {
		p.mu.Unlock()
		return
	}
	p.detachLocked(w)
	result := "canceled"
	if errors.Is(cause, ErrAcquireTimeout) {
		p.stats.timeouts++
		result = "timeout"
	}
	waiters := p.waiters.Len()
	p.reportLocked()
	p.mu.Unlock()

	logging.Op().Debug("connection wait ended", "pool", p.cfg.Name, "reason", result,
		"waited", time.Since(w.enqueued), "waiters", waiters)
	p.fail(w.cb, result, cause)
}

// popWaiterLocked removes and returns the oldest waiter, or nil.
func (p *Pool[C]) popWaiterLocked() *waiter[C] {
	front := p.waiters.Front()
	if front == nil {
		return nil
	}
	w := front.Value.(*waiter[C])
	p.detachLocked(w)
	return w
}

func (p *Pool[C]) detachLocked(w *waiter[C]) {
	w.done = true
	if w.elem != nil {
		p.waiters.Remove(w.elem)
		w.elem = nil
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	if w.stopCtx != nil {
		w.stopCtx()
	}
}

// startOpenForWaiterLocked reserves a slot for the oldest waiter if there
// is one and the pool has room. The caller must call open on the result
// after unlocking.
func (p *Pool[C]) startOpenForWaiterLocked() *waiter[C] {
	if p.closed || p.waiters.Len() == 0 || p.totalLocked() >= p.cfg.MaxSize {
		return nil
	}
	w := p.popWaiterLocked()
	p.opening++
	return w
}

func (p *Pool[C]) leaseLocked(pc *pooledConn[C], wait time.Duration) *Lease[C] {
	p.inUse++
	p.stats.acquired++
	if wait > 0 {
		p.stats.waitDuration += wait
	}
	return &Lease[C]{pool: p, pc: pc, wait: wait}
}

// open creates a connection on the executor for w, whose slot is already
// counted in p.opening. A nil w opens an idle connection for MinIdle.
func (p *Pool[C]) open(w *waiter[C]) {
	p.exec.Submit(func() {
		ctx := context.Background()
		if w != nil {
			ctx = w.ctx
			if !w.deadline.IsZero() {
				var cancel context.CancelFunc
				ctx, cancel = context.WithDeadline(ctx, w.deadline)
				defer cancel()
			}
		}

		start := time.Now()
		conn, err := p.factory(ctx)
		if err != nil {
			p.openFailed(w, err)
			return
		}

		now := time.Now()
		pc := &pooledConn[C]{conn: conn, created: now, lastUsed: now}
		metrics.RecordConnCreated(p.cfg.Name)

		p.mu.Lock()
		p.opening--
		p.stats.created++
		if p.closed {
			p.stats.destroyed++
			p.reportLocked()
			p.mu.Unlock()
			p.closeConn(pc)
			if w != nil {
				p.fail(w.cb, "closed", ErrPoolClosed)
			}
			return
		}

		if w == nil {
			// Warm connection: serve the oldest waiter if one appeared meanwhile.
			if next := p.popWaiterLocked(); next != nil {
				w = next
			} else {
				p.free = append(p.free, pc)
				p.reportLocked()
				p.mu.Unlock()
				return
			}
		}
		wait := now.Sub(w.enqueued)
		lease := p.leaseLocked(pc, wait)
		p.reportLocked()
		p.mu.Unlock()

		logging.Op().Debug("connection opened", "pool", p.cfg.Name, "conn_id", conn.ID(),
			"open_ms", now.Sub(start).Milliseconds())
		metrics.RecordAcquire(p.cfg.Name, "ok", wait)
		w.cb(lease, nil)
	})
}

// openFailed frees the reserved slot, starts an open for the next waiter and
// reports err to the requester.
func (p *Pool[C]) openFailed(w *waiter[C], err error) {
	p.mu.Lock()
	p.opening--
	next := p.startOpenForWaiterLocked()
	p.reportLocked()
	p.mu.Unlock()

	logging.Op().Error("open connection failed", "pool", p.cfg.Name, "error", err)
	if next != nil {
		p.open(next)
	}
	if w == nil {
		return
	}

	result := "error"
	if errors.Is(err, context.DeadlineExceeded) && w.ctx.Err() == nil && !w.deadline.IsZero() {
		p.mu.Lock()
		p.stats.timeouts++
		p.mu.Unlock()
		err = fmt.Errorf("%w: %w", ErrAcquireTimeout, err)
		result = "timeout"
	}
	metrics.RecordAcquire(p.cfg.Name, result, 0)
	w.cb(nil, fmt.Errorf("open connection: %w", err))
}

// fail delivers err to cb on the executor.
func (p *Pool[C]) fail(cb func(*Lease[C], error), result string, err error) {
	metrics.RecordAcquire(p.cfg.Name, result, 0)
	p.exec.Submit(func() { cb(nil, err) })
}
