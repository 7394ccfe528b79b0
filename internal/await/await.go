// Package await submits a task and blocks until its result arrives.
package await

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/tasker/internal/scheduler"
)

// ErrWaitTimedOut is returned when the wait gave up before the task finished. The
// task itself keeps running.
var ErrWaitTimedOut = errors.New("await: wait timed out")

// Run submits task to s and waits for its result. A nil s uses scheduler.Default().
// timeout bounds the wait only; zero waits until ctx is done. When ctx ends first,
// its error is returned.
func Run(ctx context.Context, s *scheduler.Scheduler, task scheduler.Task, timeout time.Duration, opts ...scheduler.SubmitOption) (any, error) {
	if s == nil {
		s = scheduler.Default()
	}

	results := make(chan scheduler.Result, 1)
	s.Submit(task, func(res scheduler.Result) { results <- res }, opts...)

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case res := <-results:
		return res.Value, res.Err
	case <-expired:
		return nil, ErrWaitTimedOut
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Func runs fn as a task and waits for it.
func Func(ctx context.Context, s *scheduler.Scheduler, fn func() (any, error), timeout time.Duration) (any, error) {
	return Run(ctx, s, scheduler.TaskFunc(fn), timeout)
}
