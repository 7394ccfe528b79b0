package scheduler

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// serialQueue runs closures one at a time, in submission order, on its own
// goroutine. The mailbox is unbounded so posting never blocks the poster.
type serialQueue struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	items  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
}

func newSerialQueue(name string, logger *slog.Logger) *serialQueue {
	q := &serialQueue{
		name:   name,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.loop()
	return q
}

// async posts fn and reports whether it was accepted. Nothing is accepted after close.
func (q *serialQueue) async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// sync posts fn and waits for it to run. It must not be called from the queue's
// own goroutine.
func (q *serialQueue) sync(fn func()) bool {
	ran := make(chan struct{})
	if !q.async(func() {
		defer close(ran)
		fn()
	}) {
		return false
	}
	<-ran
	return true
}

// close stops accepting work, runs what is already queued and waits for the
// goroutine to exit.
func (q *serialQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	<-q.done
}

func (q *serialQueue) loop() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.items) == 0 {
			if q.closed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		for _, fn := range batch {
			q.run(fn)
		}
	}
}

func (q *serialQueue) run(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("scheduler: recovered panic",
				"queue", q.name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
}

// queueDispatcher adapts a serialQueue to Dispatcher. Once the queue is closed,
// callbacks run on their own goroutine.
type queueDispatcher struct {
	q *serialQueue
}

func (d queueDispatcher) Dispatch(fn func()) {
	if !d.q.async(fn) {
		go fn()
	}
}
