package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrCancelled is delivered when a handle is cancelled.
	ErrCancelled = errors.New("scheduler: task cancelled")
	// ErrTimedOut is delivered when a task exceeds its execution timeout.
	ErrTimedOut = errors.New("scheduler: task timed out")
	// ErrReactorFailed matches every *ReactorError.
	ErrReactorFailed = errors.New("scheduler: reactor failed")
	// ErrReactorTimedOut matches every *ReactorTimeoutError.
	ErrReactorTimedOut = errors.New("scheduler: reactor timed out")
	// ErrDiscarded is delivered when an interceptor discards a task.
	ErrDiscarded = errors.New("scheduler: task discarded")
	// ErrPanicked wraps a panic recovered from a task, interceptor or reactor.
	ErrPanicked = errors.New("scheduler: panicked")
	// ErrClosed is delivered to tasks submitted after Shutdown.
	ErrClosed = errors.New("scheduler: closed")
	// ErrUnknown means an internal invariant was violated.
	ErrUnknown = errors.New("scheduler: internal invariant violated")
)

// ReactorError reports that a reactor completed with an error. Every handle that
// was waiting on that reactor for a requeue receives it.
type ReactorError struct {
	Reactor string
	Cause   error
}

func (e *ReactorError) Error() string {
	return fmt.Sprintf("scheduler: reactor %s failed: %v", e.Reactor, e.Cause)
}

// Unwrap exposes both ErrReactorFailed and the cause to errors.Is and errors.As.
func (e *ReactorError) Unwrap() []error {
	return []error{ErrReactorFailed, e.Cause}
}

// ReactorTimeoutError reports that an asynchronous reactor did not call done within
// its configured timeout.
type ReactorTimeoutError struct {
	Reactor string
	Timeout time.Duration
}

func (e *ReactorTimeoutError) Error() string {
	return fmt.Sprintf("scheduler: reactor %s timed out after %s", e.Reactor, e.Timeout)
}

func (e *ReactorTimeoutError) Unwrap() error { return ErrReactorTimedOut }
