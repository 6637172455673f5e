package pool

import (
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oriys/asyncsql/internal/logging"
	"github.com/oriys/asyncsql/internal/metrics"
)

type counters struct {
	created      int64
	destroyed    int64
	acquired     int64
	released     int64
	broken       int64
	timeouts     int64
	waitCount    int64
	waitDuration time.Duration
}

// Stats is a point-in-time snapshot of pool state.
type Stats struct {
	MaxSize int `json:"max_size"`
	Open    int `json:"open"`
	Idle    int `json:"idle"`
	InUse   int `json:"in_use"`
	Opening int `json:"opening"`
	Waiters int `json:"waiters"`

	Created      int64         `json:"created"`
	Destroyed    int64         `json:"destroyed"`
	Acquired     int64         `json:"acquired"`
	Released     int64         `json:"released"`
	Broken       int64         `json:"broken"`
	Timeouts     int64         `json:"timeouts"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

// Release returns the lease's connection. A healthy connection goes to the
// oldest waiter, or back to the free set. A broken or expired connection is
// closed, and if requests are queued a replacement is opened for the oldest.
func (p *Pool[C]) Release(l *Lease[C]) {
	if l == nil {
		return
	}
	p.mu.Lock()
	if l.released {
		p.mu.Unlock()
		return
	}
	l.released = true
	p.inUse--
	p.stats.released++
	pc := l.pc
	now := time.Now()

	if p.closed {
		p.stats.destroyed++
		p.reportLocked()
		p.mu.Unlock()
		p.closeConn(pc)
		return
	}

	broken := pc.conn.Broken()
	expired := p.cfg.MaxLifetime > 0 && now.Sub(pc.created) >= p.cfg.MaxLifetime
	if broken || expired {
		p.stats.destroyed++
		if broken {
			p.stats.broken++
		}
		p.closing++
		p.reportLocked()
		p.mu.Unlock()

		if broken {
			metrics.RecordConnBroken(p.cfg.Name)
			logging.Op().Warn("discarding broken connection", "pool", p.cfg.Name, "conn_id", pc.conn.ID())
		}
		p.closeConn(pc)
		p.discarded()
		return
	}

	pc.lastUsed = now
	if w := p.popWaiterLocked(); w != nil {
		wait := now.Sub(w.enqueued)
		lease := p.leaseLocked(pc, wait)
		p.reportLocked()
		p.mu.Unlock()
		metrics.RecordAcquire(p.cfg.Name, "ok", wait)
		p.exec.Submit(func() { w.cb(lease, nil) })
		return
	}
	p.free = append(p.free, pc)
	p.reportLocked()
	p.mu.Unlock()
}

// Stats returns a snapshot of the pool.
func (p *Pool[C]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxSize:      p.cfg.MaxSize,
		Open:         len(p.free) + p.inUse + p.closing,
		Idle:         len(p.free),
		InUse:        p.inUse,
		Opening:      p.opening,
		Waiters:      p.waiters.Len(),
		Created:      p.stats.created,
		Destroyed:    p.stats.destroyed,
		Acquired:     p.stats.acquired,
		Released:     p.stats.released,
		Broken:       p.stats.broken,
		Timeouts:     p.stats.timeouts,
		WaitCount:    p.stats.waitCount,
		WaitDuration: p.stats.waitDuration,
	}
}

// Close fails every queued request with ErrPoolClosed, closes the free
// connections and rejects later acquisitions. Leased connections are closed
// when they are released; connections still being opened are closed when
// they arrive. Calling Close again returns nil.
func (p *Pool[C]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	var pending []*waiter[C]
	for w := p.popWaiterLocked(); w != nil; w = p.popWaiterLocked() {
		pending = append(pending, w)
	}
	free := p.free
	p.free = nil
	p.stats.destroyed += int64(len(free))
	inUse := p.inUse
	p.reportLocked()
	p.mu.Unlock()

	close(p.stop)
	if p.janitorDone != nil {
		<-p.janitorDone
	}

	for _, w := range pending {
		p.fail(w.cb, "closed", ErrPoolClosed)
	}

	var g errgroup.Group
	for _, pc := range free {
		g.Go(func() error {
			metrics.RecordConnDestroyed(p.cfg.Name)
			return pc.conn.Close()
		})
	}
	err := g.Wait()

	logging.Op().Info("pool closed", "pool", p.cfg.Name, "closed_idle", len(free),
		"failed_waiters", len(pending), "in_use", inUse)
	return err
}

func (p *Pool[C]) closeConn(pc *pooledConn[C]) {
	metrics.RecordConnDestroyed(p.cfg.Name)
	if err := pc.conn.Close(); err != nil {
		logging.Op().Warn("close connection failed", "pool", p.cfg.Name, "conn_id", pc.conn.ID(), "error", err)
	}
}

// discarded frees the slot of one discarded connection and, if requests are
// queued, opens a replacement for the oldest.
func (p *Pool[C]) discarded() {
	p.mu.Lock()
	p.closing--
	next := p.startOpenForWaiterLocked()
	p.reportLocked()
	p.mu.Unlock()
	if next != nil {
		p.open(next)
	}
}

func (p *Pool[C]) reportLocked() {
	metrics.SetPoolSize(p.cfg.Name, len(p.free), p.inUse, p.opening, p.waiters.Len())
}
