package runtime

import (
	"fmt"
	"sync"
)

// Handler executes one claimed job of its Type. The enhancement pipeline
// is a Handler; additional job types register alongside it.
type Handler interface {
	Type() string
	Run(ctx *Context) error
}

// Registry maps job_type to its Handler. Populated once at startup and
// read by every worker loop.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register rejects duplicates: two pipelines claiming the same job_type
// is a wiring bug, not a runtime condition.
func (r *Registry) Register(h Handler) error {
	if h == nil {
		return fmt.Errorf("register: nil job handler")
	}
	t := h.Type()
	if t == "" {
		return fmt.Errorf("register: job handler has empty type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[t]; exists {
		return fmt.Errorf("register: duplicate handler for job_type=%s", t)
	}
	r.handlers[t] = h
	return nil
}

func (r *Registry) Get(jobType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	return h, ok
}
