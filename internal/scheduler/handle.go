package scheduler

import (
	"fmt"
	"strconv"
)

// State is the caller-visible lifecycle state of a submitted task.
type State int

const (
	// StatePending: submitted, not running yet. Deferred, delayed, held and queued
	// tasks are all pending.
	StatePending State = iota
	// StateExecuting: admitted and running, including while a reaction to its result
	// is pending requeue.
	StateExecuting
	// StateFinished: terminal.
	StateFinished
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle identifies one submitted task. It is a small value; copies refer to the
// same task. The zero Handle reports StateFinished and ignores Start and Cancel.
type Handle struct {
	id int64
	s  *Scheduler
}

// ID returns the handle id, unique for the process lifetime.
func (h Handle) ID() int64 { return h.id }

// Start admits a task submitted with WithStartImmediately(false). It has no effect
// on a task that was already started, finished or cancelled.
func (h Handle) Start() {
	if h.s != nil {
		h.s.Start(h)
	}
}

// Cancel cancels the task with ErrCancelled. Only the first cancellation has an
// effect; cancelling a finished task is a no-op.
func (h Handle) Cancel() {
	h.CancelWithError(ErrCancelled)
}

// CancelWithError is like Cancel but delivers err instead of ErrCancelled.
func (h Handle) CancelWithError(err error) {
	if h.s != nil {
		h.s.Cancel(h, err)
	}
}

// State returns a consistent snapshot of the task's state.
func (h Handle) State() State {
	if h.s == nil {
		return StateFinished
	}
	return h.s.state(h.id)
}

func (h Handle) String() string {
	return "handle-" + strconv.FormatInt(h.id, 10)
}
