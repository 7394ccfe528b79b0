package jobs_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/tasker/internal/jobs"
	"github.com/seantiz/tasker/internal/middleware"
	"github.com/seantiz/tasker/internal/scheduler"
)

func run(t *testing.T, job jobs.Job) scheduler.Result {
	t.Helper()
	results := make(chan scheduler.Result, 1)
	go job.Execute(func(r scheduler.Result) { results <- r })
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("job did not finish")
		return scheduler.Result{}
	}
}

func TestRegistryList(t *testing.T) {
	reg := jobs.Builtin()
	reg.Register("alpha", "first", func(json.RawMessage) (jobs.Job, error) { return nil, errors.New("nope") })

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("List() returned %d kinds, want 3", len(list))
	}
	want := []string{"alpha", "flaky", "sleep"}
	for i, info := range list {
		if info.Kind != want[i] {
			t.Errorf("List()[%d].Kind = %q, want %q", i, info.Kind, want[i])
		}
		if info.Description == "" {
			t.Errorf("kind %q has no description", info.Kind)
		}
	}
}

func TestRegistryBuildUnknown(t *testing.T) {
	_, err := jobs.Builtin().Build("missing", nil)
	if !errors.Is(err, jobs.ErrUnknownKind) {
		t.Fatalf("Build(missing) error = %v, want ErrUnknownKind", err)
	}
}

func TestRegistryBuildInvalidParams(t *testing.T) {
	reg := jobs.Builtin()
	if _, err := reg.Build("sleep", json.RawMessage(`{"duration_ms": "soon"}`)); err == nil {
		t.Error("expected error for non-numeric duration")
	}
	if _, err := reg.Build("sleep", json.RawMessage(`{"duration_ms": -1}`)); err == nil {
		t.Error("expected error for negative duration")
	}
	if _, err := reg.Build("flaky", json.RawMessage(`{"failures": -2}`)); err == nil {
		t.Error("expected error for negative failures")
	}
}

func TestSleepJob(t *testing.T) {
	job, err := jobs.Builtin().Build("sleep", json.RawMessage(`{"duration_ms": 5, "message": "hi", "timeout_ms": 100}`))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if job.Label() != "sleep" {
		t.Errorf("Label() = %q, want sleep", job.Label())
	}
	if job.Timeout() != 100*time.Millisecond {
		t.Errorf("Timeout() = %v, want 100ms", job.Timeout())
	}
	if got := job.Describe()["duration_ms"]; got != 5 {
		t.Errorf("Describe()[duration_ms] = %v, want 5", got)
	}

	r := run(t, job)
	if r.Err != nil || r.Value != "hi" {
		t.Errorf("result = %+v, want hi", r)
	}
}

func TestSleepJobFails(t *testing.T) {
	job, err := jobs.Builtin().Build("sleep", json.RawMessage(`{"fail": true, "message": "bad input"}`))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	r := run(t, job)
	if !errors.Is(r.Err, jobs.ErrJobFailed) {
		t.Errorf("error = %v, want ErrJobFailed", r.Err)
	}
}

func TestSleepJobStopsOnCancel(t *testing.T) {
	job, err := jobs.Builtin().Build("sleep", json.RawMessage(`{"duration_ms": 60000}`))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results := make(chan scheduler.Result, 1)
	go job.Execute(func(r scheduler.Result) { results <- r })

	job.OnCancel(scheduler.ErrCancelled)
	job.OnCancel(scheduler.ErrCancelled)

	select {
	case r := <-results:
		if !errors.Is(r.Err, scheduler.ErrCancelled) {
			t.Errorf("error = %v, want ErrCancelled", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sleep did not stop after OnCancel")
	}
}

func TestFlakyJob(t *testing.T) {
	job, err := jobs.Builtin().Build("flaky", json.RawMessage(`{"failures": 2}`))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := range 2 {
		if r := run(t, job); !errors.Is(r.Err, middleware.ErrRetryable) {
			t.Fatalf("run %d error = %v, want retryable", i+1, r.Err)
		}
	}
	if r := run(t, job); r.Err != nil || r.Value != int64(3) {
		t.Errorf("third run = %+v, want success 3", r)
	}
}

func TestFlakyJobWithRetry(t *testing.T) {
	retry := middleware.NewRetry(3, 0)
	s := scheduler.New(scheduler.WithWorkers(1), scheduler.WithReactors(retry), scheduler.WithObservers(retry))
	t.Cleanup(s.WaitUntilAllFinished)

	job, err := jobs.Builtin().Build("flaky", json.RawMessage(`{"failures": 2}`))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	results := make(chan scheduler.Result, 1)
	s.Submit(job, func(r scheduler.Result) { results <- r })

	select {
	case r := <-results:
		if r.Err != nil {
			t.Fatalf("error = %v, want success after retries", r.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion")
	}
}
