package scheduler

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// workerPool runs units on a fixed number of goroutines in FIFO order. While
// suspended, queued units stay queued; units already running are not affected.
type workerPool struct {
	workers  int
	logger   *slog.Logger
	afterRun func(*unit)

	mu        sync.Mutex
	cond      *sync.Cond
	queue     []*unit
	active    int
	suspended bool
	closed    bool

	wg sync.WaitGroup
}

func newWorkerPool(workers int, logger *slog.Logger, afterRun func(*unit)) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	p := &workerPool{
		workers:  workers,
		logger:   logger,
		afterRun: afterRun,
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Go(p.worker)
	}
	return p
}

// enqueue marks u ready and appends it to the intake. It reports false once the
// pool is closed.
func (p *workerPool) enqueue(u *unit) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	u.transition(unitReady)
	p.queue = append(p.queue, u)
	p.cond.Signal()
	return true
}

func (p *workerPool) suspend() {
	p.mu.Lock()
	p.suspended = true
	p.mu.Unlock()
}

func (p *workerPool) resume() {
	p.mu.Lock()
	p.suspended = false
	p.cond.Broadcast()
	p.mu.Unlock()
}

func (p *workerPool) stats() (queued, active int, suspended bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue), p.active, p.suspended
}

// close stops the workers. Units still queued are dropped. With wait set, close
// blocks until running units return.
func (p *workerPool) close(wait bool) {
	p.mu.Lock()
	p.closed = true
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	if wait {
		p.wg.Wait()
	}
}

func (p *workerPool) worker() {
	for {
		p.mu.Lock()
		for !p.closed && (p.suspended || len(p.queue) == 0) {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		u := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.run(u)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *workerPool) run(u *unit) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("scheduler: worker recovered panic",
				"handle_id", u.handleID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			u.finish()
		}
		if p.afterRun != nil {
			p.afterRun(u)
		}
	}()
	u.run()
}
