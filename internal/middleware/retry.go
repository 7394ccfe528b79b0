package middleware

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/tasker/internal/scheduler"
)

// ErrRetryable marks task errors that Retry acts on by default.
var ErrRetryable = errors.New("retryable")

// Retryable wraps err so that it matches ErrRetryable.
func Retryable(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}

// Retry requeues failed tasks. Failures arriving while a backoff is running join
// that wave and are requeued together when it ends. Register it as an observer
// too, so tasks cancelled or timed out mid-retry are forgotten.
type Retry struct {
	// MaxAttempts is the number of requeues allowed per task.
	MaxAttempts int
	// Backoff is the pause before a wave of failed tasks runs again.
	Backoff time.Duration
	// Suspend stops queued tasks from starting during the backoff.
	Suspend bool
	// Match selects the errors to retry. Default: errors.Is(err, ErrRetryable).
	Match func(error) bool

	mu       sync.Mutex
	attempts map[int64]int
}

// NewRetry returns a Retry for retryable errors. Pass it to both
// scheduler.WithReactors and scheduler.WithObservers.
func NewRetry(maxAttempts int, backoff time.Duration) *Retry {
	return &Retry{MaxAttempts: maxAttempts, Backoff: backoff}
}

// Name implements scheduler.Named.
func (r *Retry) Name() string { return "retry" }

// ShouldExecute implements scheduler.Reactor.
func (r *Retry) ShouldExecute(res scheduler.Result, _ scheduler.Task, h scheduler.Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.attempts == nil {
		r.attempts = make(map[int64]int)
	}

	if res.Err == nil || !r.matches(res.Err) {
		delete(r.attempts, h.ID())
		return false
	}
	n := r.attempts[h.ID()] + 1
	if n > r.MaxAttempts {
		delete(r.attempts, h.ID())
		return false
	}
	r.attempts[h.ID()] = n
	return true
}

func (r *Retry) matches(err error) bool {
	if r.Match != nil {
		return r.Match(err)
	}
	return errors.Is(err, ErrRetryable)
}

// Execute implements scheduler.Reactor. It waits out the backoff.
func (r *Retry) Execute(done func(error)) {
	if r.Backoff <= 0 {
		done(nil)
		return
	}
	time.AfterFunc(r.Backoff, func() { done(nil) })
}

// Config implements scheduler.Reactor.
func (r *Retry) Config() scheduler.ReactorConfig {
	return scheduler.ReactorConfig{
		RequeuesTask:  true,
		SuspendsQueue: r.Suspend,
	}
}

// Observe implements scheduler.Observer. It drops the attempt count of a task
// that ended while a retry was pending.
func (r *Retry) Observe(ev scheduler.Event) {
	if !ev.Kind.Terminal() {
		return
	}
	r.mu.Lock()
	delete(r.attempts, ev.HandleID)
	r.mu.Unlock()
}

// Pending returns the number of tasks with retries in progress.
func (r *Retry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attempts)
}
