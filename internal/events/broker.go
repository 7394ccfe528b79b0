// Package events fans scheduler lifecycle events out to streaming subscribers.
package events

import (
	"sync"

	"github.com/seantiz/tasker/internal/scheduler"
)

// subscriberBufferSize is the channel buffer for each subscriber.
// Events are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// All subscribes to every handle's events.
const All int64 = 0

// Broker manages per-handle event streaming to subscribers. It implements
// scheduler.Observer and is safe for concurrent use.
//
// A handle's topic is closed by its terminal event. Closed topics are retained as
// markers so that a late subscriber receives a closed channel instead of waiting
// forever.
type Broker struct {
	mu     sync.Mutex
	topics map[int64]*topic
	closed bool
}

type topic struct {
	subs   map[int]chan scheduler.Event
	nextID int
	closed bool
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		topics: make(map[int64]*topic),
	}
}

// Subscribe returns a channel that receives events for the given handle id, or for
// every handle when id is All, and an unsubscribe function.
func (b *Broker) Subscribe(id int64) (<-chan scheduler.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.topics[id]
	if !ok {
		t = &topic{subs: make(map[int]chan scheduler.Event)}
		b.topics[id] = t
	}

	ch := make(chan scheduler.Event, subscriberBufferSize)
	if t.closed || b.closed {
		close(ch)
		return ch, func() {}
	}

	sid := t.nextID
	t.nextID++
	t.subs[sid] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, sid)
	}
}

// Observe publishes ev to the subscribers of its handle and to the All topic.
func (b *Broker) Observe(ev scheduler.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.publish(All, ev)
	if ev.HandleID == All {
		return
	}
	b.publish(ev.HandleID, ev)
	if ev.Kind.Terminal() {
		b.closeTopic(ev.HandleID)
	}
}

func (b *Broker) publish(id int64, ev scheduler.Event) {
	t, ok := b.topics[id]
	if !ok || t.closed {
		return
	}
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
			// Drop the event for slow subscribers rather than stall the scheduler.
		}
	}
}

func (b *Broker) closeTopic(id int64) {
	t, ok := b.topics[id]
	if !ok {
		b.topics[id] = &topic{subs: make(map[int]chan scheduler.Event), closed: true}
		return
	}
	t.closed = true
	for sid, ch := range t.subs {
		close(ch)
		delete(t.subs, sid)
	}
}

// Close ends every stream. Later subscribers receive a closed channel.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id := range b.topics {
		b.closeTopic(id)
	}
}
