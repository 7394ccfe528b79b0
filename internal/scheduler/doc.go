// Package scheduler provides an in-process asynchronous task scheduler with a
// two-stage middleware pipeline: interceptors decide whether and when a task may
// run, reactors decide what happens after it produced a result.
//
// # Flow
//
//	Submit -> (delay) -> interceptors -> worker pool -> Task.Execute -> reactors
//	                                          ^                            |
//	                                          +------- requeue ------------+
//
// A requeued task gets a fresh execution unit that goes straight back to the worker
// pool; interceptors only see a task once.
//
// # Concurrency
//
// All scheduler bookkeeping (pending table, interceptor batches, requeue set, running
// reactors) is owned by a single coordination goroutine. Interceptors and reactors
// run on their own serial goroutines; completions, OnCancel and observers are
// dispatched off the coordination goroutine so user code never blocks it.
//
// Cancellation and timeouts are cooperative: a running Execute body is never
// interrupted. Only the first outcome for a task is delivered; anything the body
// reports afterwards is ignored.
//
// # Callbacks
//
// Completion callbacks run on the scheduler's callbacks goroutine unless the task was
// submitted WithCompletionQueue. Callbacks may call Submit, Start, Cancel and State,
// but must not call WaitUntilAllFinished or Shutdown.
package scheduler
