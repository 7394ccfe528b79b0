package scheduler

import (
	"fmt"
	"slices"
	"time"
)

// ReactorConfig describes how a reactor runs and what its run means for the task
// that triggered it.
type ReactorConfig struct {
	// Immediate reactors run on the reaction goroutine, in parallel with the other
	// immediate reactors selected for the same result, and are waited for.
	Immediate bool
	// Timeout bounds one run. Zero means no timeout.
	Timeout time.Duration
	// RequeuesTask runs the task again once every running reactor has finished.
	RequeuesTask bool
	// SuspendsQueue stops workers from starting queued units until every running
	// reactor has finished.
	SuspendsQueue bool
}

// Reactor runs after a task produced a result.
//
// ShouldExecute is called for every result on the reaction goroutine. When it
// returns true and the reactor is not already running, Execute is started; done must
// be called once, with nil on success. A non-nil error fails every task waiting on
// this reactor for a requeue.
type Reactor interface {
	ShouldExecute(res Result, task Task, h Handle) bool
	Execute(done func(error))
	Config() ReactorConfig
}

// Named is implemented by reactors that want a stable name in errors and events.
type Named interface {
	Name() string
}

func reactorName(r Reactor) string {
	if n, ok := r.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", r)
}

// reactionDecision is the OR of the flags of every reactor that chose to run.
type reactionDecision struct {
	requeue bool
	suspend bool
	indices []int
	configs []ReactorConfig
}

// launch is one started reactor run. The token tells a late settle of an older run
// apart from the current one.
type launch struct {
	index   int
	token   uint64
	name    string
	reactor Reactor
	cfg     ReactorConfig
}

// reactorChain tracks which reactors are running, which handles wait on each of
// them and which handles are due for a requeue. It is owned by the coordination
// goroutine.
type reactorChain struct {
	reactors []Reactor
	names    []string

	running    map[int]uint64
	nextToken  uint64
	associated map[int]map[int64]struct{}
	requeue    []int64
	requeueSet map[int64]struct{}
	suspended  bool
}

func newReactorChain(rs []Reactor) *reactorChain {
	names := make([]string, len(rs))
	for i, r := range rs {
		names[i] = reactorName(r)
	}
	return &reactorChain{
		reactors:   rs,
		names:      names,
		running:    make(map[int]uint64),
		associated: make(map[int]map[int64]struct{}),
		requeueSet: make(map[int64]struct{}),
	}
}

func (c *reactorChain) empty() bool { return len(c.reactors) == 0 }

func (c *reactorChain) idle() bool { return len(c.running) == 0 }

// markRequeue adds id to the requeue set and reports whether it was new.
func (c *reactorChain) markRequeue(id int64) bool {
	if _, ok := c.requeueSet[id]; ok {
		return false
	}
	c.requeueSet[id] = struct{}{}
	c.requeue = append(c.requeue, id)
	return true
}

// dropRequeue removes id from the requeue set and reports whether it was there.
func (c *reactorChain) dropRequeue(id int64) bool {
	if _, ok := c.requeueSet[id]; !ok {
		return false
	}
	delete(c.requeueSet, id)
	for i, q := range c.requeue {
		if q == id {
			c.requeue = append(c.requeue[:i:i], c.requeue[i+1:]...)
			break
		}
	}
	return true
}

// flush empties the requeue set and returns it in insertion order.
func (c *reactorChain) flush() []int64 {
	out := c.requeue
	c.requeue = nil
	clear(c.requeueSet)
	return out
}

func (c *reactorChain) associate(index int, id int64) {
	set, ok := c.associated[index]
	if !ok {
		set = make(map[int64]struct{})
		c.associated[index] = set
	}
	set[id] = struct{}{}
}

func (c *reactorChain) dissociate(id int64) {
	for _, set := range c.associated {
		delete(set, id)
	}
}

func (c *reactorChain) takeAssociated(index int) []int64 {
	set := c.associated[index]
	delete(c.associated, index)
	out := make([]int64, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// start marks reactor index as running. It reports false if it already is.
func (c *reactorChain) start(index int) (uint64, bool) {
	if _, ok := c.running[index]; ok {
		return 0, false
	}
	c.nextToken++
	c.running[index] = c.nextToken
	return c.nextToken, true
}

// stop clears the running mark if token is the current run of index.
func (c *reactorChain) stop(index int, token uint64) bool {
	if cur, ok := c.running[index]; !ok || cur != token {
		return false
	}
	delete(c.running, index)
	return true
}

// reactorFailure wraps a reactor's error unless it already is a scheduler error.
func reactorFailure(name string, err error) error {
	if err == nil {
		return nil
	}
	switch err.(type) {
	case *ReactorError, *ReactorTimeoutError:
		return err
	}
	return &ReactorError{Reactor: name, Cause: err}
}
