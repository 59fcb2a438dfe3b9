// Package processor defines the per-job-type processor contract and the
// static registry that maps job-type tags to processors. New job types
// register at process start without touching the worker dispatch loop.
package processor

import (
	"context"
	"fmt"
	"sync"

	"github.com/driftware/flowengine/internal/domain"
)

// Result is what a successful Execute returns.
type Result struct {
	Message string                 `json:"message,omitempty"`
	Output  map[string]interface{} `json:"output,omitempty"`
}

// ProgressFunc reports fractional progress (0-100) at coarse milestones
// so external observers can show liveness for long-running jobs.
type ProgressFunc func(percent int)

// Processor is the contract every job type implements. Validate runs
// before Execute and must check referential integrity; a validation
// failure short-circuits without consuming a retry attempt. Execute is
// the only place side effects occur. Processors must let errors
// propagate, since dead-letter classification depends on seeing the
// real error message.
type Processor interface {
	Validate(ctx context.Context, job *domain.Job) error
	Execute(ctx context.Context, job *domain.Job, progress ProgressFunc) (Result, error)
	OnSuccess(ctx context.Context, job *domain.Job, result Result)
	OnFailure(ctx context.Context, job *domain.Job, jobErr error)
}

// Registry maps job-type tags to processors. It is populated once at
// process start; lookups are concurrency-safe.
type Registry struct {
	mu         sync.RWMutex
	processors map[domain.JobType]Processor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[domain.JobType]Processor)}
}

// Register binds a processor to a job type, replacing any previous
// binding.
func (r *Registry) Register(jobType domain.JobType, p Processor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processors[jobType] = p
}

// Get returns the processor for a job type. Unknown tags fail fast with
// domain.ErrNoProcessorFound.
func (r *Registry) Get(jobType domain.JobType) (Processor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.processors[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoProcessorFound, jobType)
	}
	return p, nil
}

// Types returns the registered job types.
func (r *Registry) Types() []domain.JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]domain.JobType, 0, len(r.processors))
	for t := range r.processors {
		types = append(types, t)
	}
	return types
}
