package scheduler

import (
	"log/slog"
	"runtime"
	"time"
)

type config struct {
	workers      int
	logger       *slog.Logger
	interceptors []Interceptor
	reactors     []Reactor
	observers    []Observer
}

// Option configures a Scheduler.
type Option func(*config)

// WithWorkers sets the number of worker goroutines. Default is runtime.NumCPU().
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithLogger sets the logger. Default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithInterceptors appends interceptors. They run in the order given.
func WithInterceptors(ics ...Interceptor) Option {
	return func(c *config) {
		for _, ic := range ics {
			if ic != nil {
				c.interceptors = append(c.interceptors, ic)
			}
		}
	}
}

// WithReactors appends reactors. Their index in registration order is their
// identity for deduplication.
func WithReactors(rs ...Reactor) Option {
	return func(c *config) {
		for _, r := range rs {
			if r != nil {
				c.reactors = append(c.reactors, r)
			}
		}
	}
}

// WithObservers appends lifecycle observers.
func WithObservers(obs ...Observer) Option {
	return func(c *config) {
		for _, o := range obs {
			if o != nil {
				c.observers = append(c.observers, o)
			}
		}
	}
}

func defaultConfig() config {
	return config{
		workers: runtime.NumCPU(),
		logger:  slog.New(slog.DiscardHandler),
	}
}

type submitConfig struct {
	startImmediately bool
	delay            time.Duration
	timeout          *time.Duration
	dispatcher       Dispatcher
}

// SubmitOption configures a single Submit call.
type SubmitOption func(*submitConfig)

// WithStartImmediately controls whether the task is admitted right away. With
// false, the task stays pending until Handle.Start. Default is true.
func WithStartImmediately(v bool) SubmitOption {
	return func(c *submitConfig) { c.startImmediately = v }
}

// WithDelay waits d after admission before the task reaches the interceptors.
func WithDelay(d time.Duration) SubmitOption {
	return func(c *submitConfig) { c.delay = d }
}

// WithTimeout overrides Task.Timeout for this submission. Zero disables the timeout.
func WithTimeout(d time.Duration) SubmitOption {
	return func(c *submitConfig) { c.timeout = &d }
}

// WithCompletionQueue delivers the completion (and OnCancel) through d instead of
// the scheduler's callbacks goroutine.
func WithCompletionQueue(d Dispatcher) SubmitOption {
	return func(c *submitConfig) { c.dispatcher = d }
}
