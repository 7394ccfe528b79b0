package scheduler

import "fmt"

// InterceptCommand is one interceptor's decision about one task.
type InterceptCommand int

const (
	// InterceptExecute lets the task run and releases this interceptor's batch.
	InterceptExecute InterceptCommand = iota
	// InterceptHold parks the task in this interceptor's batch.
	InterceptHold
	// InterceptDiscard drops the task unless another interceptor forces it.
	InterceptDiscard
	// InterceptForceExecute runs the task regardless of holds and discards.
	InterceptForceExecute
)

func (c InterceptCommand) String() string {
	switch c {
	case InterceptExecute:
		return "execute"
	case InterceptHold:
		return "hold"
	case InterceptDiscard:
		return "discard"
	case InterceptForceExecute:
		return "force_execute"
	default:
		return fmt.Sprintf("InterceptCommand(%d)", int(c))
	}
}

// Interceptor decides whether a task may run. Intercept is called once per task,
// before its first execution, with the number of tasks this interceptor currently
// holds. Interceptors run one at a time on a dedicated goroutine.
type Interceptor interface {
	Intercept(task Task, batchCount int) InterceptCommand
}

// InterceptorFunc adapts a function to Interceptor.
type InterceptorFunc func(task Task, batchCount int) InterceptCommand

// Intercept calls f(task, batchCount).
func (f InterceptorFunc) Intercept(task Task, batchCount int) InterceptCommand {
	return f(task, batchCount)
}

type admission int

const (
	admitRelease admission = iota
	admitHold
	admitDiscard
)

// interception aggregates the commands of one pass over the chain.
type interception struct {
	force          bool
	ignore         bool
	holdIndex      int
	executeIndices []int
}

// decide folds commands in registration order. Hold eligibility is evaluated as
// the pass goes, so a Hold seen before any Discard or ForceExecute is recorded and
// one seen after is not.
func decide(commands []InterceptCommand) interception {
	d := interception{holdIndex: -1}
	for i, cmd := range commands {
		switch cmd {
		case InterceptForceExecute:
			d.force = true
			d.holdIndex = -1
			d.executeIndices = append(d.executeIndices, i)
		case InterceptDiscard:
			d.ignore = true
			if !d.force {
				d.holdIndex = -1
			}
		case InterceptHold:
			if !d.force && !d.ignore {
				d.holdIndex = i
			}
		default:
			d.executeIndices = append(d.executeIndices, i)
		}
	}
	return d
}

func (d interception) outcome() admission {
	switch {
	case d.ignore && !d.force:
		return admitDiscard
	case d.holdIndex >= 0 && !d.force:
		return admitHold
	default:
		return admitRelease
	}
}

// interceptorChain keeps one insertion-ordered batch of held handle ids per
// interceptor. It is owned by the coordination goroutine.
type interceptorChain struct {
	interceptors []Interceptor
	batches      [][]int64
}

func newInterceptorChain(ics []Interceptor) *interceptorChain {
	return &interceptorChain{
		interceptors: ics,
		batches:      make([][]int64, len(ics)),
	}
}

func (c *interceptorChain) empty() bool { return len(c.interceptors) == 0 }

func (c *interceptorChain) counts() []int {
	out := make([]int, len(c.batches))
	for i, b := range c.batches {
		out[i] = len(b)
	}
	return out
}

func (c *interceptorChain) held() int {
	n := 0
	for _, b := range c.batches {
		n += len(b)
	}
	return n
}

func (c *interceptorChain) hold(index int, id int64) {
	c.batches[index] = append(c.batches[index], id)
}

// release drains the batches of the given interceptors, each in insertion order.
func (c *interceptorChain) release(indices []int) []int64 {
	var out []int64
	for _, i := range indices {
		out = append(out, c.batches[i]...)
		c.batches[i] = nil
	}
	return out
}

func (c *interceptorChain) remove(id int64) bool {
	for i, b := range c.batches {
		for j, held := range b {
			if held == id {
				c.batches[i] = append(b[:j:j], b[j+1:]...)
				return true
			}
		}
	}
	return false
}
