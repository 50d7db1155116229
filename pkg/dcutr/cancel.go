package dcutr

import (
	"sync"

	"github.com/cuemby/natcore/pkg/ma"
)

// CancelRegistry tracks cancellation handles for in-flight DCUtR dial
// attempts per peer, so that a direct connection established by one DCUtR
// attempt can cancel all of that peer's other ongoing attempts. Only
// pkg/dcutr's Initiator and Responder register with it and call
// CancelAll; a direct connection made any other way (for example by
// AutoNATv2's dial-back) cancels nothing here.
type CancelRegistry struct {
	mu      sync.Mutex
	cancels map[string][]func()
}

// NewCancelRegistry returns an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{cancels: make(map[string][]func())}
}

// Register records cancel as belonging to an in-flight attempt for peer,
// returning an unregister func the attempt MUST call once it finishes
// (success or failure) so stale handles are never invoked.
func (r *CancelRegistry) Register(peer ma.PeerId, cancel func()) (unregister func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := string(peer.Bytes())
	r.cancels[key] = append(r.cancels[key], cancel)
	idx := len(r.cancels[key]) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		list := r.cancels[key]
		if idx < len(list) {
			list[idx] = nil
		}
	}
}

// CancelAll invokes and clears every registered cancel func for peer.
func (r *CancelRegistry) CancelAll(peer ma.PeerId) {
	r.mu.Lock()
	key := string(peer.Bytes())
	list := r.cancels[key]
	delete(r.cancels, key)
	r.mu.Unlock()

	for _, c := range list {
		if c != nil {
			c()
		}
	}
}
