package scheduler

import (
	"context"
	"sync"
)

// activity counts outstanding work: admissions in flight, queued and running units,
// handles waiting for a requeue, running reactors and undelivered completions.
// Held and deferred tasks are not counted.
type activity struct {
	mu   sync.Mutex
	cond *sync.Cond
	n    int
}

func newActivity() *activity {
	a := &activity{}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *activity) add() {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func (a *activity) done() {
	a.mu.Lock()
	a.n--
	if a.n < 0 {
		a.mu.Unlock()
		panic("scheduler: negative activity count")
	}
	if a.n == 0 {
		a.cond.Broadcast()
	}
	a.mu.Unlock()
}

func (a *activity) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func (a *activity) wait() {
	a.mu.Lock()
	for a.n > 0 {
		a.cond.Wait()
	}
	a.mu.Unlock()
}

// waitContext is wait with an escape hatch. The helper goroutine exits once the
// count reaches zero.
func (a *activity) waitContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
