package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/seantiz/tasker/internal/scheduler"
)

func TestMetricsObserve(t *testing.T) {
	m := NewMetrics()

	submitted := testutil.ToFloat64(tasksSubmittedTotal.WithLabelValues("sleep"))
	succeeded := testutil.ToFloat64(tasksFinishedTotal.WithLabelValues("succeeded"))
	cancelled := testutil.ToFloat64(tasksFinishedTotal.WithLabelValues("cancelled"))
	requeues := testutil.ToFloat64(taskRequeuesTotal)
	reactorErrors := testutil.ToFloat64(reactorRunsTotal.WithLabelValues("retry", "error"))

	m.Observe(scheduler.Event{Kind: scheduler.EventSubmitted, HandleID: 1, Label: "sleep"})
	m.Observe(scheduler.Event{Kind: scheduler.EventHeld, HandleID: 1})
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksHeld))
	m.Observe(scheduler.Event{Kind: scheduler.EventAdmitted, HandleID: 1})
	assert.Equal(t, 0.0, testutil.ToFloat64(tasksHeld))

	m.Observe(scheduler.Event{Kind: scheduler.EventStarted, HandleID: 1})
	assert.Equal(t, 1.0, testutil.ToFloat64(tasksRunning))
	m.Observe(scheduler.Event{Kind: scheduler.EventRequeued, HandleID: 1})
	assert.Equal(t, 0.0, testutil.ToFloat64(tasksRunning))
	m.Observe(scheduler.Event{Kind: scheduler.EventStarted, HandleID: 1})
	m.Observe(scheduler.Event{Kind: scheduler.EventSucceeded, HandleID: 1, Duration: 20 * time.Millisecond})
	assert.Equal(t, 0.0, testutil.ToFloat64(tasksRunning))

	m.Observe(scheduler.Event{Kind: scheduler.EventSubmitted, HandleID: 2, Label: "sleep"})
	m.Observe(scheduler.Event{Kind: scheduler.EventHeld, HandleID: 2})
	m.Observe(scheduler.Event{Kind: scheduler.EventCancelled, HandleID: 2})
	assert.Equal(t, 0.0, testutil.ToFloat64(tasksHeld))

	m.Observe(scheduler.Event{Kind: scheduler.EventSuspended})
	assert.Equal(t, 1.0, testutil.ToFloat64(schedulerSuspended))
	m.Observe(scheduler.Event{Kind: scheduler.EventReactorFinished, Reactor: "retry", Err: errors.New("x")})
	m.Observe(scheduler.Event{Kind: scheduler.EventResumed})
	assert.Equal(t, 0.0, testutil.ToFloat64(schedulerSuspended))

	assert.Equal(t, submitted+2, testutil.ToFloat64(tasksSubmittedTotal.WithLabelValues("sleep")))
	assert.Equal(t, succeeded+1, testutil.ToFloat64(tasksFinishedTotal.WithLabelValues("succeeded")))
	assert.Equal(t, cancelled+1, testutil.ToFloat64(tasksFinishedTotal.WithLabelValues("cancelled")))
	assert.Equal(t, requeues+1, testutil.ToFloat64(taskRequeuesTotal))
	assert.Equal(t, reactorErrors+1, testutil.ToFloat64(reactorRunsTotal.WithLabelValues("retry", "error")))
}

func TestMetricsWithScheduler(t *testing.T) {
	before := testutil.ToFloat64(tasksFinishedTotal.WithLabelValues("failed"))
	s := scheduler.New(scheduler.WithObservers(NewMetrics()))
	s.Submit(scheduler.TaskFunc(func() (any, error) { return nil, errors.New("no") }), nil)
	s.WaitUntilAllFinished()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(tasksFinishedTotal.WithLabelValues("failed")) == before+1
	}, 5*time.Second, 5*time.Millisecond)
}
