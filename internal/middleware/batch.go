package middleware

import "github.com/seantiz/tasker/internal/scheduler"

// Batch holds tasks until Size of them have arrived, then releases the whole batch
// in arrival order. A Size of one or less lets every task through.
type Batch struct {
	Size int
}

// Intercept implements scheduler.Interceptor.
func (b Batch) Intercept(_ scheduler.Task, batchCount int) scheduler.InterceptCommand {
	if batchCount < b.Size-1 {
		return scheduler.InterceptHold
	}
	return scheduler.InterceptExecute
}
