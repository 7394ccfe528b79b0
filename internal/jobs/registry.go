package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/tasker/internal/scheduler"
)

// ErrUnknownKind is returned by Build for kinds that were never registered.
var ErrUnknownKind = errors.New("unknown job kind")

// Job is a task built from a registered kind.
type Job interface {
	scheduler.Task
	scheduler.Labeled
	Describe() map[string]any
}

// Factory builds a job from its JSON parameters. params may be empty.
type Factory func(params json.RawMessage) (Job, error)

// Info describes a registered kind.
type Info struct {
	Kind        string `json:"kind"`
	Description string `json:"description"`
}

type entry struct {
	description string
	factory     Factory
}

// Registry holds the job kinds available for submission.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a kind, replacing any previous factory under the same name.
func (r *Registry) Register(kind, description string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = entry{description: description, factory: f}
}

// Build creates a job of the given kind.
func (r *Registry) Build(kind string, params json.RawMessage) (Job, error) {
	r.mu.RLock()
	e, ok := r.entries[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	job, err := e.factory(params)
	if err != nil {
		return nil, fmt.Errorf("build %s job: %w", kind, err)
	}
	return job, nil
}

// List returns the registered kinds sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.entries))
	for kind, e := range r.entries {
		infos = append(infos, Info{Kind: kind, Description: e.description})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Kind < infos[j].Kind
	})
	return infos
}

// decode unmarshals params into v, treating empty params as an empty object.
func decode(params json.RawMessage, v any) error {
	if len(params) == 0 {
		return nil
	}
	if err := json.Unmarshal(params, v); err != nil {
		return fmt.Errorf("invalid params: %w", err)
	}
	return nil
}
