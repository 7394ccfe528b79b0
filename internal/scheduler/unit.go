package scheduler

import (
	"fmt"
	"sync"

	"github.com/seantiz/tasker/internal/model"
)

type unitState int32

const (
	unitPending unitState = iota
	unitReady
	unitExecuting
	unitFinished
)

func (s unitState) String() string {
	switch s {
	case unitPending:
		return "pending"
	case unitReady:
		return "ready"
	case unitExecuting:
		return "executing"
	case unitFinished:
		return "finished"
	default:
		return fmt.Sprintf("unitState(%d)", int(s))
	}
}

// unit is one schedulable run of a task. States only move forward; cancel forces
// finished. A finished unit never runs again; a retry gets a new unit with the same
// body.
type unit struct {
	handleID int64
	attempt  int
	runID    string
	body     func(*unit)

	mu        sync.Mutex
	state     unitState
	cancelled bool
}

func newUnit(handleID int64, attempt int, body func(*unit)) *unit {
	return &unit{
		handleID: handleID,
		attempt:  attempt,
		runID:    model.NewID(),
		body:     body,
	}
}

// transition moves the unit to next if that is a forward move and returns the
// state before and after the call.
func (u *unit) transition(next unitState) (from, to unitState) {
	u.mu.Lock()
	defer u.mu.Unlock()
	from = u.state
	if next > u.state {
		u.state = next
	}
	return from, u.state
}

func (u *unit) current() unitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

func (u *unit) isCancelled() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cancelled
}

// start moves the unit to executing and reports whether the body may run. A
// cancelled unit jumps straight to finished.
func (u *unit) start() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled || u.state == unitFinished {
		u.state = unitFinished
		return false
	}
	u.state = unitExecuting
	return true
}

func (u *unit) finish() {
	u.transition(unitFinished)
}

// cancel marks the unit cancelled and reports whether this call did it. An
// executing unit is also marked finished; its body keeps running.
func (u *unit) cancel() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.cancelled {
		return false
	}
	u.cancelled = true
	if u.state == unitExecuting {
		u.state = unitFinished
	}
	return true
}

func (u *unit) run() {
	if u.start() {
		u.body(u)
	}
}
