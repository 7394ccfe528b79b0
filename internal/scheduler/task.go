package scheduler

import "time"

// Result is the outcome of one task execution: a value or an error.
type Result struct {
	Value any
	Err   error
}

// Success returns a successful Result carrying v.
func Success(v any) Result { return Result{Value: v} }

// Failure returns a failed Result carrying err.
func Failure(err error) Result { return Result{Err: err} }

// Task is a unit of asynchronous work.
//
// Execute must call done exactly once. Timeout bounds how long the scheduler waits
// for done; zero means no timeout. OnCancel is called once when the scheduler drops
// the task because of cancellation, timeout or a reactor failure. It is never called
// for an ordinary success or failure.
type Task interface {
	Execute(done func(Result))
	Timeout() time.Duration
	OnCancel(err error)
}

// Labeled is implemented by tasks that carry a human-readable kind. The label is
// attached to the Submitted event.
type Labeled interface {
	Label() string
}

// TaskFunc adapts a synchronous function to Task. It has no timeout and ignores
// cancellation.
type TaskFunc func() (any, error)

// Execute calls f and reports its return values.
func (f TaskFunc) Execute(done func(Result)) {
	v, err := f()
	done(Result{Value: v, Err: err})
}

// Timeout returns zero.
func (TaskFunc) Timeout() time.Duration { return 0 }

// OnCancel does nothing.
func (TaskFunc) OnCancel(error) {}

// Completion receives the final Result of a submitted task.
type Completion func(Result)

// Dispatcher runs completion callbacks. Dispatch must eventually run fn.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(fn func())

// Dispatch calls d(fn).
func (d DispatcherFunc) Dispatch(fn func()) { d(fn) }
