package pool

import (
	"time"

	"github.com/oriys/asyncsql/internal/logging"
)

func (p *Pool[C]) cleanupLoop() {
	defer close(p.janitorDone)
	ticker := time.NewTicker(p.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.cleanupExpired()
		}
	}
}

// cleanupExpired closes free connections past MaxLifetime, and free
// connections idle longer than IdleTimeout while more than MinIdle remain.
// It then opens connections until MinIdle are idle or opening.
//
// Connections are closed after the lock is released.
func (p *Pool[C]) cleanupExpired() {
	now := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var expired []*pooledConn[C]
	idle := len(p.free)
	keep := p.free[:0]
	// Oldest first, so the least recently used go before MinIdle is reached.
	for _, pc := range p.free {
		tooOld := p.cfg.MaxLifetime > 0 && now.Sub(pc.created) >= p.cfg.MaxLifetime
		tooIdle := p.cfg.IdleTimeout > 0 && now.Sub(pc.lastUsed) >= p.cfg.IdleTimeout && idle > p.cfg.MinIdle
		if tooOld || tooIdle {
			expired = append(expired, pc)
			idle--
			continue
		}
		keep = append(keep, pc)
	}
	clear(p.free[len(keep):])
	p.free = keep
	p.stats.destroyed += int64(len(expired))
	p.closing += len(expired)

	warm := p.cfg.MinIdle - len(p.free) - p.opening
	if room := p.cfg.MaxSize - p.totalLocked(); warm > room {
		warm = room
	}
	if warm < 0 || p.waiters.Len() > 0 {
		warm = 0
	}
	p.opening += warm
	p.reportLocked()
	p.mu.Unlock()

	if len(expired) > 0 {
		logging.Op().Debug("evicting idle connections", "pool", p.cfg.Name, "count", len(expired))
	}
	for _, pc := range expired {
		p.closeConn(pc)
		p.discarded()
	}
	for i := 0; i < warm; i++ {
		p.open(nil)
	}
}
