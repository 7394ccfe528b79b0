package scheduler

import (
	"fmt"
	"time"
)

// EventKind identifies a lifecycle transition.
type EventKind int

// Lifecycle event kinds. HandleID is zero for Suspended and Resumed, which concern
// the whole pool.
const (
	// EventSubmitted: Submit registered the task. Label is set.
	EventSubmitted EventKind = iota
	// EventAdmitted: the task passed the interceptors and was queued.
	EventAdmitted
	// EventHeld: an interceptor parked the task in its batch.
	EventHeld
	// EventDiscarded: an interceptor dropped the task. Terminal.
	EventDiscarded
	// EventStarted: a worker began an attempt.
	EventStarted
	// EventSucceeded: the task delivered a result without error. Terminal.
	EventSucceeded
	// EventFailed: the task delivered an error result. Terminal.
	EventFailed
	// EventRequeued: a reaction put the task back on the queue for another attempt.
	EventRequeued
	// EventCancelled: the task was cancelled or failed by a reactor. Terminal.
	EventCancelled
	// EventTimedOut: the task did not finish within its timeout. Terminal.
	EventTimedOut
	// EventReactorStarted: a reactor run began. Reactor is set.
	EventReactorStarted
	// EventReactorFinished: a reactor run ended. Err holds its failure, if any.
	EventReactorFinished
	// EventSuspended: workers stopped taking queued units.
	EventSuspended
	// EventResumed: workers resumed taking queued units.
	EventResumed
)

var eventKindNames = [...]string{
	EventSubmitted:       "submitted",
	EventAdmitted:        "admitted",
	EventHeld:            "held",
	EventDiscarded:       "discarded",
	EventStarted:         "started",
	EventSucceeded:       "succeeded",
	EventFailed:          "failed",
	EventRequeued:        "requeued",
	EventCancelled:       "cancelled",
	EventTimedOut:        "timed_out",
	EventReactorStarted:  "reactor_started",
	EventReactorFinished: "reactor_finished",
	EventSuspended:       "suspended",
	EventResumed:         "resumed",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Terminal reports whether k is the last event a handle will see.
func (k EventKind) Terminal() bool {
	switch k {
	case EventDiscarded, EventSucceeded, EventFailed, EventCancelled, EventTimedOut:
		return true
	default:
		return false
	}
}

// Event describes one lifecycle transition. Fields that do not apply to a kind are
// zero: reactor and pool events have no HandleID, handle events have no Reactor.
type Event struct {
	Kind     EventKind
	HandleID int64
	Label    string // Submitted only
	RunID    string
	Attempt  int
	Reactor  string
	Err      error
	At       time.Time
	Duration time.Duration // run time for Succeeded and Failed
}

// Observer receives lifecycle events. Events are delivered in order on a dedicated
// goroutine; a slow observer delays other observers but never the scheduler.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }
