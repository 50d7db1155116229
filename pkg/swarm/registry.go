package swarm

import (
	"sync"

	"github.com/cuemby/natcore/pkg/ma"
)

// registry lets one in-process Host "dial" another by peer id without a
// real socket. It exists purely so tests and the demo CLI can run two (or
// more) Hosts in the same process and exercise the full core — multistream
// negotiation, AutoNATv2 request/dial-back, DCUtR — over genuine
// concurrent goroutines and pipes, just not real network I/O.
type registry struct {
	mu    sync.RWMutex
	hosts map[string]*Host
}

var globalRegistry = &registry{hosts: make(map[string]*Host)}

func (r *registry) register(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hosts[string(h.id.Bytes())] = h
}

func (r *registry) unregister(h *Host) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.hosts, string(h.id.Bytes()))
}

func (r *registry) lookup(peer ma.PeerId) (*Host, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hosts[string(peer.Bytes())]
	return h, ok
}
