package multistream

import (
	"sync"

	"github.com/cuemby/natcore/pkg/host"
)

// Registry is the responder side's handler table (spec.md §3 "Lifecycles":
// mutable through add/remove under a single writer lock; spec.md §5:
// "reads happen under the same lock for consistency with concurrent
// add/remove").
type Registry struct {
	mu       sync.Mutex
	handlers map[string]host.StreamHandler
}

// NewRegistry returns an empty handler table.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]host.StreamHandler)}
}

// Set registers handler for protocol, replacing any previous registration.
func (r *Registry) Set(protocol string, handler host.StreamHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[protocol] = handler
}

// Remove unregisters protocol, if present.
func (r *Registry) Remove(protocol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, protocol)
}

// lookup returns the handler for protocol, taking the same lock add/remove
// use so a lookup never races a concurrent mutation.
func (r *Registry) lookup(protocol string) (host.StreamHandler, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[protocol]
	return h, ok
}

// Protocols returns a snapshot of the currently registered protocol ids.
func (r *Registry) Protocols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for p := range r.handlers {
		out = append(out, p)
	}
	return out
}
