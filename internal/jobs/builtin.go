package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/tasker/internal/middleware"
	"github.com/seantiz/tasker/internal/scheduler"
)

// ErrJobFailed is the error of a sleep job asked to fail.
var ErrJobFailed = errors.New("job failed")

// Builtin returns a registry with the sleep and flaky kinds.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register("sleep", "Waits duration_ms, then returns message or fails when fail is set", newSleep)
	r.Register("flaky", "Fails with a retryable error the first failures runs, then succeeds", newFlaky)
	return r
}

// SleepParams are the parameters of a sleep job.
type SleepParams struct {
	DurationMS int    `json:"duration_ms"`
	Fail       bool   `json:"fail"`
	Message    string `json:"message"`
	TimeoutMS  int    `json:"timeout_ms"`
}

type sleepJob struct {
	params SleepParams

	stopOnce sync.Once
	stop     chan struct{}
}

func newSleep(raw json.RawMessage) (Job, error) {
	var p SleepParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.DurationMS < 0 || p.TimeoutMS < 0 {
		return nil, errors.New("duration_ms and timeout_ms must not be negative")
	}
	return &sleepJob{params: p, stop: make(chan struct{})}, nil
}

func (j *sleepJob) Execute(done func(scheduler.Result)) {
	t := time.NewTimer(time.Duration(j.params.DurationMS) * time.Millisecond)
	defer t.Stop()
	select {
	case <-t.C:
	case <-j.stop:
		done(scheduler.Failure(scheduler.ErrCancelled))
		return
	}

	if j.params.Fail {
		msg := j.params.Message
		if msg == "" {
			msg = "sleep"
		}
		done(scheduler.Failure(fmt.Errorf("%w: %s", ErrJobFailed, msg)))
		return
	}
	done(scheduler.Success(j.params.Message))
}

func (j *sleepJob) Timeout() time.Duration {
	return time.Duration(j.params.TimeoutMS) * time.Millisecond
}

// OnCancel wakes a sleeping Execute so the goroutine does not outlive the task.
func (j *sleepJob) OnCancel(error) {
	j.stopOnce.Do(func() { close(j.stop) })
}

func (j *sleepJob) Label() string { return "sleep" }

func (j *sleepJob) Describe() map[string]any {
	return map[string]any{
		"duration_ms": j.params.DurationMS,
		"fail":        j.params.Fail,
		"timeout_ms":  j.params.TimeoutMS,
	}
}

// FlakyParams are the parameters of a flaky job.
type FlakyParams struct {
	Failures int `json:"failures"`
}

type flakyJob struct {
	failures int
	runs     atomic.Int64
}

func newFlaky(raw json.RawMessage) (Job, error) {
	var p FlakyParams
	if err := decode(raw, &p); err != nil {
		return nil, err
	}
	if p.Failures < 0 {
		return nil, errors.New("failures must not be negative")
	}
	return &flakyJob{failures: p.Failures}, nil
}

func (j *flakyJob) Execute(done func(scheduler.Result)) {
	n := j.runs.Add(1)
	if n <= int64(j.failures) {
		done(scheduler.Failure(middleware.Retryable(fmt.Errorf("flaky run %d of %d", n, j.failures))))
		return
	}
	done(scheduler.Success(n))
}

func (j *flakyJob) Timeout() time.Duration { return 0 }

func (j *flakyJob) OnCancel(error) {}

func (j *flakyJob) Label() string { return "flaky" }

func (j *flakyJob) Describe() map[string]any {
	return map[string]any{"failures": j.failures}
}
