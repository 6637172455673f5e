// Package worker provides the bounded goroutine context that runs blocking
// driver I/O and completion callbacks off the caller's goroutine.
//
// Submit never blocks: tasks are appended to an unbounded FIFO list and
// picked up by a fixed number of worker goroutines. A pool with a single
// worker is an ordered serial executor, which is how the client implements
// its "serial" callback mode.
package worker

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/oriys/asyncsql/internal/logging"
)

// Executor runs tasks asynchronously.
type Executor interface {
	Submit(task func())
}

// Config configures a worker pool.
type Config struct {
	Name    string
	Workers int
}

// Pool is a fixed-size set of goroutines draining a FIFO task queue.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	tasks   *list.List
	started bool
	stopped bool
	running int
	wg      sync.WaitGroup
}

// New creates a worker pool. Call Start before submitting work.
func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Name == "" {
		cfg.Name = "worker"
	}
	p := &Pool{
		cfg:   cfg,
		tasks: list.New(),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(fmt.Sprintf("%s-%d", p.cfg.Name, i))
	}
	logging.Op().Debug("workers started", "pool", p.cfg.Name, "workers", p.cfg.Workers)
}

// Submit queues task for execution. It never blocks. Once the pool has been
// stopped the task runs on its own goroutine so that it is still executed
// exactly once.
func (p *Pool) Submit(task func()) {
	if task == nil {
		return
	}
	p.mu.Lock()
	if p.stopped || !p.started {
		p.mu.Unlock()
		go p.run(task)
		return
	}
	p.tasks.PushBack(task)
	p.cond.Signal()
	p.mu.Unlock()
}

// Pending returns the number of queued tasks not yet picked up by a worker.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Len()
}

// Running returns the number of tasks currently executing.
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop lets the workers drain every queued task and then waits for them to exit.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	logging.Op().Debug("workers stopped", "pool", p.cfg.Name)
}

func (p *Pool) worker(id string) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for p.tasks.Len() == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.tasks.Len() == 0 {
			p.mu.Unlock()
			return
		}
		task := p.tasks.Remove(p.tasks.Front()).(func())
		p.running++
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("recovered panic in worker task", "pool", p.cfg.Name, "panic", r)
		}
	}()
	task()
}

// Inline runs tasks on the submitting goroutine.
type Inline struct{}

// Submit runs task immediately.
func (Inline) Submit(task func()) {
	if task != nil {
		task()
	}
}

// Goroutine runs every task on a fresh goroutine.
type Goroutine struct{}

// Submit starts task on its own goroutine.
func (Goroutine) Submit(task func()) {
	if task != nil {
		go task()
	}
}
