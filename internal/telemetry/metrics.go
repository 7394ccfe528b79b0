package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/tasker/internal/scheduler"
)

var (
	tasksSubmittedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_tasks_submitted_total",
			Help: "Total number of submitted tasks.",
		},
		[]string{"kind"},
	)

	tasksFinishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_tasks_finished_total",
			Help: "Total number of tasks that reached a final outcome.",
		},
		[]string{"outcome"},
	)

	taskRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tasker_task_run_duration_seconds",
			Help:    "Duration of task executions that produced a result.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	taskRequeuesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tasker_task_requeues_total",
			Help: "Total number of task requeues requested by reactors.",
		},
	)

	tasksHeld = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasker_tasks_held",
			Help: "Number of tasks currently held by interceptors.",
		},
	)

	tasksRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasker_tasks_running",
			Help: "Number of task executions currently running.",
		},
	)

	reactorRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasker_reactor_runs_total",
			Help: "Total number of finished reactor runs.",
		},
		[]string{"reactor", "result"},
	)

	schedulerSuspended = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tasker_scheduler_suspended",
			Help: "1 while a reactor holds the worker pool suspended.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		tasksSubmittedTotal,
		tasksFinishedTotal,
		taskRunDuration,
		taskRequeuesTotal,
		tasksHeld,
		tasksRunning,
		reactorRunsTotal,
		schedulerSuspended,
	)
}

// Metrics updates the package collectors from lifecycle events. It implements
// scheduler.Observer.
type Metrics struct {
	mu sync.Mutex
	// held and running track which handles the gauges currently count, so terminal
	// events decrement them exactly once.
	held    map[int64]struct{}
	running map[int64]struct{}
}

// NewMetrics creates a metrics observer.
func NewMetrics() *Metrics {
	return &Metrics{
		held:    make(map[int64]struct{}),
		running: make(map[int64]struct{}),
	}
}

// Observe implements scheduler.Observer.
func (m *Metrics) Observe(ev scheduler.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ev.Kind {
	case scheduler.EventSubmitted:
		kind := ev.Label
		if kind == "" {
			kind = "task"
		}
		tasksSubmittedTotal.WithLabelValues(kind).Inc()
	case scheduler.EventHeld:
		m.held[ev.HandleID] = struct{}{}
		tasksHeld.Inc()
	case scheduler.EventAdmitted:
		m.unhold(ev.HandleID)
	case scheduler.EventStarted:
		m.running[ev.HandleID] = struct{}{}
		tasksRunning.Inc()
	case scheduler.EventRequeued:
		m.stopped(ev.HandleID)
		taskRequeuesTotal.Inc()
	case scheduler.EventSucceeded, scheduler.EventFailed:
		m.stopped(ev.HandleID)
		outcome := ev.Kind.String()
		taskRunDuration.WithLabelValues(outcome).Observe(ev.Duration.Seconds())
		tasksFinishedTotal.WithLabelValues(outcome).Inc()
	case scheduler.EventCancelled, scheduler.EventTimedOut, scheduler.EventDiscarded:
		m.unhold(ev.HandleID)
		m.stopped(ev.HandleID)
		tasksFinishedTotal.WithLabelValues(ev.Kind.String()).Inc()
	case scheduler.EventReactorFinished:
		result := "ok"
		if ev.Err != nil {
			result = "error"
		}
		reactorRunsTotal.WithLabelValues(ev.Reactor, result).Inc()
	case scheduler.EventSuspended:
		schedulerSuspended.Set(1)
	case scheduler.EventResumed:
		schedulerSuspended.Set(0)
	}
}

func (m *Metrics) unhold(id int64) {
	if _, ok := m.held[id]; ok {
		delete(m.held, id)
		tasksHeld.Dec()
	}
}

func (m *Metrics) stopped(id int64) {
	if _, ok := m.running[id]; ok {
		delete(m.running, id)
		tasksRunning.Dec()
	}
}
