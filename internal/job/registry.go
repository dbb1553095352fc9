package job

import "sync"

// Registration binds a job type to its handler and, optionally, to the
// metered resource each enqueue of that type consumes.
type Registration struct {
	Handler  Handler
	Resource string // metered resource type, "" when the type is free
	Quantity int64  // units consumed per enqueue, defaults to 1 when metered
}

// Registry maps job types to registrations. It is safe for concurrent use;
// registration normally happens once at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Registration)}
}

// Register binds a handler to a job type, replacing any previous binding.
func (r *Registry) Register(jobType string, reg Registration) {
	if reg.Resource != "" && reg.Quantity <= 0 {
		reg.Quantity = 1
	}
	r.mu.Lock()
	r.handlers[jobType] = reg
	r.mu.Unlock()
}

// Lookup returns the registration for a job type.
func (r *Registry) Lookup(jobType string) (Registration, bool) {
	r.mu.RLock()
	reg, ok := r.handlers[jobType]
	r.mu.RUnlock()
	return reg, ok
}

// Known reports whether a handler is registered for the type.
func (r *Registry) Known(jobType string) bool {
	_, ok := r.Lookup(jobType)
	return ok
}
