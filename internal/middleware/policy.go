package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/seantiz/tasker/internal/scheduler"
)

// PolicyQuery is the Rego rule a policy module must define. It evaluates to one of
// "execute", "hold", "discard" or "force_execute".
const PolicyQuery = "data.tasker.admission.decision"

const policyEvalTimeout = time.Second

// Describer is implemented by tasks that expose attributes to admission policies.
type Describer interface {
	Describe() map[string]any
}

// Policy is an interceptor backed by a Rego module. The policy input is
//
//	{"label": string, "batch_count": number, "attributes": object}
//
// Evaluation errors and unknown decisions let the task through.
type Policy struct {
	logger *slog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewPolicy compiles the Rego source.
func NewPolicy(ctx context.Context, name, src string, logger *slog.Logger) (*Policy, error) {
	p := &Policy{logger: logger}
	if err := p.Reload(ctx, name, src); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadPolicy compiles the Rego module at path.
func LoadPolicy(ctx context.Context, path string, logger *slog.Logger) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return NewPolicy(ctx, path, string(src), logger)
}

// Reload swaps in a new module. On error the current policy stays in effect.
func (p *Policy) Reload(ctx context.Context, name, src string) error {
	module, err := ast.ParseModuleWithOpts(name, src, ast.ParserOptions{RegoVersion: ast.RegoV1})
	if err != nil {
		return fmt.Errorf("parse rego module %q: %w", name, err)
	}
	query, err := rego.New(
		rego.Query(PolicyQuery),
		rego.ParsedModule(module),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("compile rego module %q: %w", name, err)
	}

	p.mu.Lock()
	p.query = query
	p.mu.Unlock()
	return nil
}

// Intercept implements scheduler.Interceptor.
func (p *Policy) Intercept(task scheduler.Task, batchCount int) scheduler.InterceptCommand {
	input := map[string]any{
		"batch_count": batchCount,
		"attributes":  map[string]any{},
	}
	if l, ok := task.(scheduler.Labeled); ok {
		input["label"] = l.Label()
	}
	if d, ok := task.(Describer); ok {
		if attrs := d.Describe(); attrs != nil {
			input["attributes"] = attrs
		}
	}

	p.mu.RLock()
	query := p.query
	p.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), policyEvalTimeout)
	defer cancel()
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		p.logger.Warn("admission policy failed", "error", err)
		return scheduler.InterceptExecute
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return scheduler.InterceptExecute
	}

	decision, _ := results[0].Expressions[0].Value.(string)
	switch decision {
	case "hold":
		return scheduler.InterceptHold
	case "discard":
		return scheduler.InterceptDiscard
	case "force_execute":
		return scheduler.InterceptForceExecute
	case "execute":
		return scheduler.InterceptExecute
	default:
		p.logger.Warn("admission policy returned unknown decision", "decision", results[0].Expressions[0].Value)
		return scheduler.InterceptExecute
	}
}
