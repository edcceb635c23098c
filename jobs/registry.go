package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// NotFoundError is returned when a payload names a job nobody registered.
type NotFoundError struct {
	JobID string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("no job registered with id %q", e.JobID)
}

// Registry maps job ids to constructors. Registration is explicit, there is
// no discovery, and resolution of an unknown id is a typed error.
type Registry struct {
	mu             sync.RWMutex
	constructors   map[string]func() Job
	batchFactories map[string]BatchFactory
}

func NewRegistry() *Registry {
	return &Registry{
		constructors:   make(map[string]func() Job),
		batchFactories: make(map[string]BatchFactory),
	}
}

// Register adds a job constructor under its id. Later registrations replace
// earlier ones.
func (r *Registry) Register(id string, constructor func() Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[id] = constructor
}

// RegisterBatchFactory overrides the batch factory the job itself carries.
func (r *Registry) RegisterBatchFactory(id string, factory BatchFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchFactories[id] = factory
}

// Create instantiates a fresh job for one execution attempt.
func (r *Registry) Create(id string) (Job, error) {
	r.mu.RLock()
	constructor, ok := r.constructors[id]
	r.mu.RUnlock()
	if !ok {
		return nil, NotFoundError{JobID: id}
	}
	return constructor(), nil
}

// BatchFactory resolves the factory for a job id, preferring a registered
// override over the job's own.
func (r *Registry) BatchFactory(id string) (BatchFactory, error) {
	r.mu.RLock()
	factory, overridden := r.batchFactories[id]
	r.mu.RUnlock()
	if overridden {
		return factory, nil
	}

	job, err := r.Create(id)
	if err != nil {
		return nil, err
	}
	return job.BatchFactory(), nil
}

// IDs lists the registered job ids in a stable order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.constructors))
	for id := range r.constructors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
