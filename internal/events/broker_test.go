package events_test

import (
	"testing"

	"github.com/seantiz/tasker/internal/events"
	"github.com/seantiz/tasker/internal/scheduler"
)

func ev(id int64, kind scheduler.EventKind) scheduler.Event {
	return scheduler.Event{Kind: kind, HandleID: id}
}

func drain(ch <-chan scheduler.Event) []scheduler.EventKind {
	var got []scheduler.EventKind
	for e := range ch {
		got = append(got, e.Kind)
	}
	return got
}

func TestBrokerClosesTopicOnTerminalEvent(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Observe(ev(1, scheduler.EventSubmitted))
	b.Observe(ev(2, scheduler.EventSubmitted))
	b.Observe(ev(1, scheduler.EventStarted))
	b.Observe(ev(1, scheduler.EventSucceeded))

	got := drain(ch)
	want := []scheduler.EventKind{scheduler.EventSubmitted, scheduler.EventStarted, scheduler.EventSucceeded}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestBrokerAllTopicSeesEveryHandle(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe(events.All)
	defer unsub()

	b.Observe(ev(1, scheduler.EventSucceeded))
	b.Observe(ev(2, scheduler.EventFailed))
	b.Observe(ev(0, scheduler.EventSuspended))
	b.Close()

	got := drain(ch)
	if len(got) != 3 {
		t.Fatalf("got %v, want 3 events", got)
	}
}

func TestBrokerLateSubscriberGetsClosed(t *testing.T) {
	b := events.NewBroker()
	b.Observe(ev(7, scheduler.EventCancelled))

	ch, unsub := b.Subscribe(7)
	defer unsub()
	if _, ok := <-ch; ok {
		t.Error("subscribing to a finished handle should yield a closed channel")
	}
}

func TestBrokerUnsubscribe(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe(3)
	unsub()

	b.Observe(ev(3, scheduler.EventStarted))
	select {
	case e := <-ch:
		t.Errorf("unsubscribed channel received %v", e.Kind)
	default:
	}
}

func TestBrokerDropsForSlowSubscriber(t *testing.T) {
	b := events.NewBroker()
	ch, unsub := b.Subscribe(events.All)
	defer unsub()

	for range 1000 {
		b.Observe(ev(0, scheduler.EventResumed))
	}
	b.Close()

	if n := len(drain(ch)); n == 0 || n >= 1000 {
		t.Errorf("received %d events, want a bounded non-zero number", n)
	}
}

func TestBrokerSubscribeAfterClose(t *testing.T) {
	b := events.NewBroker()
	b.Close()
	b.Close()

	ch, _ := b.Subscribe(events.All)
	if _, ok := <-ch; ok {
		t.Error("subscribe after Close should yield a closed channel")
	}
}

func TestBrokerWithScheduler(t *testing.T) {
	b := events.NewBroker()
	s := scheduler.New(scheduler.WithObservers(b))
	ch, unsub := b.Subscribe(events.All)
	defer unsub()

	h := s.Submit(scheduler.TaskFunc(func() (any, error) { return nil, nil }), nil)
	s.WaitUntilAllFinished()

	for e := range ch {
		if e.HandleID == h.ID() && e.Kind == scheduler.EventSucceeded {
			b.Close()
		}
	}
}
