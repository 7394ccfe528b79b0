package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/seantiz/tasker/internal/scheduler"
)

const instrumentationName = "github.com/seantiz/tasker/internal/scheduler"

// Tracer records one span per task, a child span per execution attempt and a span
// per reactor run. It implements scheduler.Observer.
type Tracer struct {
	tracer trace.Tracer

	mu       sync.Mutex
	tasks    map[int64]trace.Span
	runs     map[int64]trace.Span
	reactors map[string]trace.Span
}

// NewTracer creates a tracing observer. A nil provider means the global one.
func NewTracer(tp trace.TracerProvider) *Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &Tracer{
		tracer:   tp.Tracer(instrumentationName),
		tasks:    make(map[int64]trace.Span),
		runs:     make(map[int64]trace.Span),
		reactors: make(map[string]trace.Span),
	}
}

// Observe implements scheduler.Observer.
func (t *Tracer) Observe(ev scheduler.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case scheduler.EventSubmitted:
		_, span := t.tracer.Start(context.Background(), "task",
			trace.WithTimestamp(ev.At),
			trace.WithAttributes(
				attribute.Int64("tasker.handle_id", ev.HandleID),
				attribute.String("tasker.kind", ev.Label),
			),
		)
		t.tasks[ev.HandleID] = span

	case scheduler.EventAdmitted, scheduler.EventHeld:
		if span, ok := t.tasks[ev.HandleID]; ok {
			span.AddEvent(ev.Kind.String(), trace.WithTimestamp(ev.At))
		}

	case scheduler.EventStarted:
		_, span := t.tracer.Start(t.taskContext(ev.HandleID), "task.run",
			trace.WithTimestamp(ev.At),
			trace.WithAttributes(
				attribute.String("tasker.run_id", ev.RunID),
				attribute.Int("tasker.attempt", ev.Attempt),
			),
		)
		t.runs[ev.HandleID] = span

	case scheduler.EventRequeued:
		t.endRun(ev, nil)
		if span, ok := t.tasks[ev.HandleID]; ok {
			span.AddEvent("requeued", trace.WithTimestamp(ev.At),
				trace.WithAttributes(attribute.Int("tasker.attempt", ev.Attempt)))
		}

	case scheduler.EventSucceeded, scheduler.EventFailed,
		scheduler.EventCancelled, scheduler.EventTimedOut, scheduler.EventDiscarded:
		t.endRun(ev, ev.Err)
		if span, ok := t.tasks[ev.HandleID]; ok {
			delete(t.tasks, ev.HandleID)
			span.SetAttributes(attribute.String("tasker.outcome", ev.Kind.String()))
			finish(span, ev, ev.Err)
		}

	case scheduler.EventReactorStarted:
		_, span := t.tracer.Start(t.taskContext(ev.HandleID), "reactor "+ev.Reactor,
			trace.WithTimestamp(ev.At),
			trace.WithAttributes(
				attribute.String("tasker.reactor", ev.Reactor),
				attribute.Int64("tasker.trigger_handle_id", ev.HandleID),
			),
		)
		t.reactors[ev.Reactor] = span

	case scheduler.EventReactorFinished:
		if span, ok := t.reactors[ev.Reactor]; ok {
			delete(t.reactors, ev.Reactor)
			finish(span, ev, ev.Err)
		}

	case scheduler.EventSuspended, scheduler.EventResumed:
		for _, span := range t.reactors {
			span.AddEvent(ev.Kind.String(), trace.WithTimestamp(ev.At))
		}
	}
}

func (t *Tracer) taskContext(id int64) context.Context {
	ctx := context.Background()
	if span, ok := t.tasks[id]; ok {
		ctx = trace.ContextWithSpan(ctx, span)
	}
	return ctx
}

func (t *Tracer) endRun(ev scheduler.Event, err error) {
	span, ok := t.runs[ev.HandleID]
	if !ok {
		return
	}
	delete(t.runs, ev.HandleID)
	finish(span, ev, err)
}

func finish(span trace.Span, ev scheduler.Event, err error) {
	if err != nil {
		span.RecordError(err, trace.WithTimestamp(ev.At))
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(ev.At))
}
