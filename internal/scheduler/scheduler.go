package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// record is the scheduler's bookkeeping for one submitted task. Records live in the
// pending table until the task finishes, is cancelled or is discarded.
type record struct {
	id         int64
	task       Task
	completion Completion
	dispatcher Dispatcher
	timeout    time.Duration
	delay      time.Duration
	body       func(*unit)

	unit     *unit
	attempt  int
	admitted bool
}

// Stats is a point-in-time snapshot of the scheduler.
type Stats struct {
	Pending         int  `json:"pending"`
	Held            int  `json:"held"`
	Queued          int  `json:"queued"`
	Active          int  `json:"active"`
	Requeued        int  `json:"requeued"`
	RunningReactors int  `json:"running_reactors"`
	Suspended       bool `json:"suspended"`
	Workers         int  `json:"workers"`
}

// Scheduler runs tasks on a worker pool behind an interceptor chain and a reactor
// chain. Create one with New; the zero value is not usable.
type Scheduler struct {
	logger    *slog.Logger
	observers []Observer
	workers   int

	nextID atomic.Int64
	closed atomic.Bool

	coord      *serialQueue
	intercepts *serialQueue
	reactions  *serialQueue
	callbacks  *serialQueue
	events     *serialQueue

	pool   *workerPool
	active *activity

	// Owned by coord.
	records      map[int64]*record
	interceptors *interceptorChain
	reactors     *reactorChain

	closeOnce sync.Once
}

// New creates a Scheduler and starts its goroutines. Interceptors, reactors and
// observers are fixed for the scheduler's lifetime.
func New(opts ...Option) *Scheduler {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = runtime.NumCPU()
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.DiscardHandler)
	}

	s := &Scheduler{
		logger:       cfg.logger,
		observers:    cfg.observers,
		workers:      cfg.workers,
		active:       newActivity(),
		records:      make(map[int64]*record),
		interceptors: newInterceptorChain(cfg.interceptors),
		reactors:     newReactorChain(cfg.reactors),
	}
	s.coord = newSerialQueue("coordination", s.logger)
	s.intercepts = newSerialQueue("interception", s.logger)
	s.reactions = newSerialQueue("reaction", s.logger)
	s.callbacks = newSerialQueue("callbacks", s.logger)
	s.events = newSerialQueue("events", s.logger)
	s.pool = newWorkerPool(cfg.workers, s.logger, func(*unit) { s.active.done() })
	return s
}

var (
	defaultOnce      sync.Once
	defaultScheduler *Scheduler
)

// Default returns a process-wide Scheduler with default options, creating it on
// first use. Code that can take a *Scheduler should.
func Default() *Scheduler {
	defaultOnce.Do(func() {
		defaultScheduler = New()
	})
	return defaultScheduler
}

// Submit schedules task and returns its handle. completion receives the final
// Result exactly once; it may be nil. After Shutdown the completion receives
// ErrClosed.
func (s *Scheduler) Submit(task Task, completion Completion, opts ...SubmitOption) Handle {
	if task == nil {
		panic("scheduler: Submit with nil task")
	}
	sc := submitConfig{startImmediately: true}
	for _, opt := range opts {
		opt(&sc)
	}
	timeout := task.Timeout()
	if sc.timeout != nil {
		timeout = *sc.timeout
	}

	id := s.nextID.Add(1)
	rec := &record{
		id:         id,
		task:       task,
		completion: completion,
		dispatcher: sc.dispatcher,
		timeout:    timeout,
		delay:      sc.delay,
		attempt:    1,
	}
	rec.body = func(u *unit) { s.execute(id, u) }
	rec.unit = newUnit(id, rec.attempt, rec.body)

	var label string
	if l, ok := task.(Labeled); ok {
		label = l.Label()
	}
	if s.closed.Load() || !s.post(func() { s.register(rec, label, sc.startImmediately) }) {
		s.reject(rec)
	}
	return Handle{id: id, s: s}
}

// Start admits a task submitted with WithStartImmediately(false).
func (s *Scheduler) Start(h Handle) {
	if h.s != s || h.id == 0 {
		return
	}
	s.post(func() {
		if rec, ok := s.records[h.id]; ok {
			s.admit(rec)
		}
	})
}

// Cancel removes the task, calls its OnCancel with err and delivers err as its
// result. A nil err means ErrCancelled. Cancelling a finished task does nothing.
func (s *Scheduler) Cancel(h Handle, err error) {
	if h.s != s || h.id == 0 {
		return
	}
	if err == nil {
		err = ErrCancelled
	}
	s.post(func() {
		if rec, ok := s.records[h.id]; ok {
			s.cancelRecord(rec, err)
		}
	})
}

// Lookup returns the handle for an id previously returned by Submit.
func (s *Scheduler) Lookup(id int64) (Handle, bool) {
	if id <= 0 || id > s.nextID.Load() {
		return Handle{}, false
	}
	return Handle{id: id, s: s}, true
}

// Stats returns a consistent snapshot taken on the coordination goroutine.
func (s *Scheduler) Stats() Stats {
	st := Stats{Workers: s.workers}
	s.coord.sync(func() {
		st.Pending = len(s.records)
		st.Held = s.interceptors.held()
		st.Requeued = len(s.reactors.requeue)
		st.RunningReactors = len(s.reactors.running)
	})
	st.Queued, st.Active, st.Suspended = s.pool.stats()
	return st
}

// WaitUntilAllFinished blocks until no admitted task is queued, running, waiting for
// a reaction or waiting for its completion to be delivered. Held and deferred tasks
// do not count. It must not be called from a completion, interceptor, reactor or
// observer.
func (s *Scheduler) WaitUntilAllFinished() {
	s.active.wait()
}

// Shutdown stops accepting tasks, waits for outstanding work like
// WaitUntilAllFinished and stops every goroutine. If ctx ends first, the pending
// work is abandoned and ctx's error returned. Held and deferred tasks never complete.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	err := s.active.waitContext(ctx)
	s.closeOnce.Do(func() {
		stop := func() {
			s.pool.close(err == nil)
			s.intercepts.close()
			s.reactions.close()
			s.coord.close()
			s.callbacks.close()
			s.events.close()
		}
		if err != nil {
			// Something is stuck inside a reactor or a task; do not wait on it.
			go stop()
			return
		}
		stop()
	})
	if err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	return nil
}

// post runs fn on the coordination goroutine and keeps the scheduler busy until fn
// has returned.
func (s *Scheduler) post(fn func()) bool {
	s.active.add()
	if !s.coord.async(func() {
		defer s.active.done()
		fn()
	}) {
		s.active.done()
		return false
	}
	return true
}

func (s *Scheduler) state(id int64) State {
	st := StateFinished
	s.coord.sync(func() {
		rec, ok := s.records[id]
		if !ok {
			return
		}
		switch rec.unit.current() {
		case unitPending, unitReady:
			if rec.attempt > 1 {
				st = StateExecuting
			} else {
				st = StatePending
			}
		case unitExecuting:
			st = StateExecuting
		}
	})
	return st
}

func (s *Scheduler) register(rec *record, label string, start bool) {
	s.records[rec.id] = rec
	s.emit(Event{Kind: EventSubmitted, HandleID: rec.id, Label: label, RunID: rec.unit.runID, Attempt: rec.attempt})
	if start {
		s.admit(rec)
	}
}

// admit starts admission once per record. The activity token taken here is
// released when the record has been routed, held or dropped.
func (s *Scheduler) admit(rec *record) {
	if rec.admitted {
		return
	}
	rec.admitted = true
	s.active.add()
	if rec.delay > 0 {
		id := rec.id
		time.AfterFunc(rec.delay, func() {
			if !s.coord.async(func() { s.route(id) }) {
				s.active.done()
			}
		})
		return
	}
	s.route(rec.id)
}

func (s *Scheduler) route(id int64) {
	rec, ok := s.records[id]
	if !ok {
		s.active.done()
		return
	}
	if s.interceptors.empty() {
		s.enqueue(rec)
		s.active.done()
		return
	}
	if !s.intercepts.async(func() { s.intercept(id) }) {
		s.active.done()
	}
}

// intercept runs on the interception goroutine.
func (s *Scheduler) intercept(id int64) {
	var (
		task   Task
		counts []int
	)
	if !s.coord.sync(func() {
		if rec, ok := s.records[id]; ok {
			task = rec.task
			counts = s.interceptors.counts()
		}
	}) {
		s.active.done()
		return
	}
	if task == nil {
		s.active.done()
		return
	}

	commands := make([]InterceptCommand, len(s.interceptors.interceptors))
	for i, ic := range s.interceptors.interceptors {
		cmd := InterceptExecute
		s.protect("interceptor", id, func() {
			cmd = ic.Intercept(task, counts[i])
		})
		commands[i] = cmd
	}
	d := decide(commands)

	if !s.coord.sync(func() { s.applyInterception(id, d) }) {
		s.active.done()
	}
}

func (s *Scheduler) applyInterception(id int64, d interception) {
	defer s.active.done()
	rec, ok := s.records[id]
	switch d.outcome() {
	case admitDiscard:
		if ok {
			s.discard(rec)
		}
	case admitHold:
		if ok {
			s.interceptors.hold(d.holdIndex, id)
			s.emit(Event{Kind: EventHeld, HandleID: id, RunID: rec.unit.runID, Attempt: rec.attempt})
		}
	default:
		released := append(s.interceptors.release(d.executeIndices), id)
		for _, rid := range released {
			if r, ok := s.records[rid]; ok {
				s.enqueue(r)
			}
		}
	}
}

func (s *Scheduler) enqueue(rec *record) {
	s.active.add()
	s.emit(Event{Kind: EventAdmitted, HandleID: rec.id, RunID: rec.unit.runID, Attempt: rec.attempt})
	if !s.pool.enqueue(rec.unit) {
		s.active.done()
	}
}

// execute is the body of every unit. It runs on a worker.
func (s *Scheduler) execute(id int64, u *unit) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduler: execution failed",
				"handle_id", id,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			err := fmt.Errorf("%w: %v", ErrUnknown, p)
			s.coord.sync(func() {
				if rec, ok := s.records[id]; ok && rec.unit == u {
					s.cancelRecord(rec, err)
				}
			})
			u.finish()
		}
	}()

	var (
		task    Task
		timeout time.Duration
	)
	s.coord.sync(func() {
		rec, ok := s.records[id]
		if !ok || rec.unit != u || u.isCancelled() {
			return
		}
		task, timeout = rec.task, rec.timeout
		s.emit(Event{Kind: EventStarted, HandleID: id, RunID: u.runID, Attempt: u.attempt})
	})
	if task == nil {
		u.finish()
		return
	}

	res, elapsed, ok := s.run(task, timeout)
	if !ok {
		s.coord.sync(func() {
			if rec, live := s.records[id]; live && rec.unit == u {
				s.cancelRecord(rec, ErrTimedOut)
			}
		})
		u.finish()
		return
	}

	// A cancel that landed while the body ran already delivered; the late result
	// must not reach the reactors.
	live := false
	s.coord.sync(func() {
		rec, ok := s.records[id]
		live = ok && rec.unit == u
	})
	if !live {
		u.finish()
		return
	}

	if s.react(id, u, task, res) {
		return
	}

	s.coord.sync(func() {
		rec, live := s.records[id]
		if !live || rec.unit != u {
			return
		}
		s.removeRecord(rec)
		u.finish()
		kind := EventSucceeded
		if res.Err != nil {
			kind = EventFailed
		}
		s.emit(Event{
			Kind:     kind,
			HandleID: id,
			RunID:    u.runID,
			Attempt:  u.attempt,
			Err:      res.Err,
			Duration: elapsed,
		})
		s.deliver(rec, res, nil)
	})
	u.finish()
}

// run calls task.Execute and waits for its result or its timeout. ok is false when
// the timeout won.
func (s *Scheduler) run(task Task, timeout time.Duration) (res Result, elapsed time.Duration, ok bool) {
	results := make(chan Result, 1)
	var once sync.Once
	report := func(r Result) {
		once.Do(func() { results <- r })
	}

	start := time.Now()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				report(Failure(fmt.Errorf("%w: %v", ErrPanicked, p)))
			}
		}()
		task.Execute(report)
	}()

	if timeout <= 0 {
		res = <-results
		return res, time.Since(start), true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case res = <-results:
		return res, time.Since(start), true
	case <-timer.C:
		return Result{}, time.Since(start), false
	}
}

// react runs the reactor chain for res and reports whether the task was taken over
// for a requeue.
func (s *Scheduler) react(id int64, u *unit, task Task, res Result) bool {
	if s.reactors.empty() {
		return false
	}
	requeue := false
	s.reactions.sync(func() {
		requeue = s.runReaction(id, u, task, res)
	})
	return requeue
}

// runReaction runs on the reaction goroutine.
func (s *Scheduler) runReaction(id int64, u *unit, task Task, res Result) bool {
	h := Handle{id: id, s: s}
	var d reactionDecision
	for i, r := range s.reactors.reactors {
		selected := false
		s.protect("reactor", id, func() {
			selected = r.ShouldExecute(res, task, h)
		})
		if !selected {
			continue
		}
		var cfg ReactorConfig
		s.protect("reactor", id, func() {
			cfg = r.Config()
		})
		d.indices = append(d.indices, i)
		d.configs = append(d.configs, cfg)
		d.requeue = d.requeue || cfg.RequeuesTask
		d.suspend = d.suspend || cfg.SuspendsQueue
	}
	if len(d.indices) == 0 {
		return false
	}

	var (
		launched []launch
		live     bool
	)
	s.coord.sync(func() {
		launched, live = s.scheduleReactions(id, u, d)
	})
	if !live {
		return false
	}

	var immediate []launch
	for _, l := range launched {
		if l.cfg.Immediate {
			immediate = append(immediate, l)
			continue
		}
		s.runAsync(l)
	}
	if len(immediate) > 0 {
		var wg sync.WaitGroup
		for _, l := range immediate {
			wg.Go(func() {
				err := s.runImmediate(l)
				if !s.coord.async(func() { s.finishReaction(l, err) }) {
					s.active.done()
				}
			})
		}
		wg.Wait()
	}
	return d.requeue
}

// scheduleReactions starts the selected reactors for a live record. It reports false,
// launching nothing, once the record was cancelled or replaced.
func (s *Scheduler) scheduleReactions(id int64, u *unit, d reactionDecision) ([]launch, bool) {
	if rec, ok := s.records[id]; !ok || rec.unit != u {
		return nil, false
	}
	if d.requeue {
		if s.reactors.markRequeue(id) {
			s.active.add()
		}
		for _, i := range d.indices {
			s.reactors.associate(i, id)
		}
	}

	var out []launch
	for n, i := range d.indices {
		token, ok := s.reactors.start(i)
		if !ok {
			continue
		}
		s.active.add()
		l := launch{
			index:   i,
			token:   token,
			name:    s.reactors.names[i],
			reactor: s.reactors.reactors[i],
			cfg:     d.configs[n],
		}
		out = append(out, l)
		s.emit(Event{Kind: EventReactorStarted, HandleID: id, RunID: u.runID, Attempt: u.attempt, Reactor: l.name})
	}

	if d.suspend && !s.reactors.idle() && !s.reactors.suspended {
		s.reactors.suspended = true
		s.pool.suspend()
		s.emit(Event{Kind: EventSuspended})
	}
	return out, true
}

// runImmediate runs one immediate reactor and waits for it, bounded by its timeout.
func (s *Scheduler) runImmediate(l launch) error {
	errs := make(chan error, 1)
	go s.callReactor(l, errs)

	if l.cfg.Timeout <= 0 {
		return reactorFailure(l.name, <-errs)
	}
	timer := time.NewTimer(l.cfg.Timeout)
	defer timer.Stop()
	select {
	case err := <-errs:
		return reactorFailure(l.name, err)
	case <-timer.C:
		return &ReactorError{Reactor: l.name, Cause: ErrTimedOut}
	}
}

// runAsync starts one asynchronous reactor with its own timer. Whichever of done
// and the timer comes first settles the run.
func (s *Scheduler) runAsync(l launch) {
	errs := make(chan error, 1)
	go s.callReactor(l, errs)
	go func() {
		var expired <-chan time.Time
		if l.cfg.Timeout > 0 {
			timer := time.NewTimer(l.cfg.Timeout)
			defer timer.Stop()
			expired = timer.C
		}
		var err error
		select {
		case err = <-errs:
			err = reactorFailure(l.name, err)
		case <-expired:
			err = &ReactorTimeoutError{Reactor: l.name, Timeout: l.cfg.Timeout}
		}
		if !s.coord.async(func() { s.finishReaction(l, err) }) {
			s.active.done()
		}
	}()
}

// callReactor runs Execute and sends the first reported error to errs. Later calls
// to done are dropped.
func (s *Scheduler) callReactor(l launch, errs chan<- error) {
	done := func(err error) {
		select {
		case errs <- err:
		default:
		}
	}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduler: reactor panicked",
				"reactor", l.name,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			done(fmt.Errorf("%w: %v", ErrPanicked, p))
		}
	}()
	l.reactor.Execute(done)
}

// finishReaction settles one reactor run on the coordination goroutine. When it was
// the last running reactor, the pool resumes and the requeue set is flushed.
func (s *Scheduler) finishReaction(l launch, err error) {
	if !s.reactors.stop(l.index, l.token) {
		return
	}
	defer s.active.done()

	ids := s.reactors.takeAssociated(l.index)
	s.emit(Event{Kind: EventReactorFinished, Reactor: l.name, Err: err})
	if err != nil {
		s.logger.Warn("scheduler: reactor failed", "reactor", l.name, "handles", len(ids), "error", err)
		for _, id := range ids {
			if rec, ok := s.records[id]; ok {
				s.cancelRecord(rec, err)
			}
		}
	}

	if !s.reactors.idle() {
		return
	}
	if s.reactors.suspended {
		s.reactors.suspended = false
		s.pool.resume()
		s.emit(Event{Kind: EventResumed})
	}
	for _, id := range s.reactors.flush() {
		if rec, ok := s.records[id]; ok {
			s.requeue(rec)
		}
		s.active.done()
	}
}

// requeue gives rec a fresh unit and puts it straight on the pool.
func (s *Scheduler) requeue(rec *record) {
	rec.unit.finish()
	rec.attempt++
	rec.unit = newUnit(rec.id, rec.attempt, rec.body)
	s.emit(Event{Kind: EventRequeued, HandleID: rec.id, RunID: rec.unit.runID, Attempt: rec.attempt})
	s.active.add()
	if !s.pool.enqueue(rec.unit) {
		s.active.done()
	}
}

// removeRecord drops every reference to rec held by the scheduler.
func (s *Scheduler) removeRecord(rec *record) {
	delete(s.records, rec.id)
	s.interceptors.remove(rec.id)
	if s.reactors.dropRequeue(rec.id) {
		s.active.done()
	}
	s.reactors.dissociate(rec.id)
}

func (s *Scheduler) cancelRecord(rec *record, err error) {
	s.removeRecord(rec)
	rec.unit.cancel()
	kind := EventCancelled
	if errors.Is(err, ErrTimedOut) && !errors.Is(err, ErrReactorFailed) {
		kind = EventTimedOut
	}
	s.emit(Event{Kind: kind, HandleID: rec.id, RunID: rec.unit.runID, Attempt: rec.attempt, Err: err})
	s.deliver(rec, Failure(err), err)
}

func (s *Scheduler) discard(rec *record) {
	s.removeRecord(rec)
	rec.unit.cancel()
	s.emit(Event{Kind: EventDiscarded, HandleID: rec.id, RunID: rec.unit.runID, Attempt: rec.attempt, Err: ErrDiscarded})
	s.deliver(rec, Failure(ErrDiscarded), nil)
}

// reject completes a task that arrived after Shutdown.
func (s *Scheduler) reject(rec *record) {
	fn := func() {
		s.protect("completion", rec.id, func() {
			if rec.completion != nil {
				rec.completion(Failure(ErrClosed))
			}
		})
	}
	if rec.dispatcher != nil {
		rec.dispatcher.Dispatch(fn)
		return
	}
	go fn()
}

// deliver hands the outcome to the task's dispatcher by way of the callbacks
// goroutine, so user code never runs on the coordination goroutine. cancelErr is
// passed to OnCancel first when set.
func (s *Scheduler) deliver(rec *record, res Result, cancelErr error) {
	s.active.add()
	task, completion, id := rec.task, rec.completion, rec.id
	fn := func() {
		defer s.active.done()
		if cancelErr != nil {
			s.protect("on_cancel", id, func() { task.OnCancel(cancelErr) })
		}
		if completion != nil {
			s.protect("completion", id, func() { completion(res) })
		}
	}
	d := rec.dispatcher
	if !s.callbacks.async(func() {
		if d == nil {
			fn()
			return
		}
		d.Dispatch(fn)
	}) {
		go fn()
	}
}

// emit stamps ev and publishes it to the observers on the events goroutine. It is
// only called on the coordination goroutine, which gives observers a total order.
func (s *Scheduler) emit(ev Event) {
	if len(s.observers) == 0 {
		return
	}
	ev.At = time.Now()
	s.events.async(func() {
		for _, o := range s.observers {
			s.protect("observer", ev.HandleID, func() { o.Observe(ev) })
		}
	})
}

// protect runs fn and turns a panic into a log line. It reports whether fn
// returned normally.
func (s *Scheduler) protect(what string, id int64, fn func()) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("scheduler: recovered panic",
				"in", what,
				"handle_id", id,
				"panic", p,
				"stack", string(debug.Stack()),
			)
			ok = false
		}
	}()
	fn()
	return true
}
