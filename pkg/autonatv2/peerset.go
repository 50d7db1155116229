package autonatv2

import (
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/ma"
)

// PeerSet is the client's random-access inventory of peers known to speak
// AutoNATv2 and currently connected (spec.md §4.3 "Peer inventory"). A
// single lock guards it; random pick is O(1) via an index-to-entry
// mapping with swap-remove on delete (spec.md §5).
type PeerSet struct {
	mu      sync.Mutex
	entries []ma.PeerId
	index   map[string]int // peer key -> position in entries
	rand    *rand.Rand
}

// NewPeerSet creates an empty PeerSet. rng may be nil to use the package
// default source.
func NewPeerSet(rng *rand.Rand) *PeerSet {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &PeerSet{index: make(map[string]int), rand: rng}
}

// Add records peer as eligible, if not already present.
func (s *PeerSet) Add(peer ma.PeerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(peer.Bytes())
	if _, ok := s.index[key]; ok {
		return
	}
	s.index[key] = len(s.entries)
	s.entries = append(s.entries, peer)
}

// Remove drops peer from the eligible set via swap-remove, if present.
func (s *PeerSet) Remove(peer ma.PeerId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(peer.Bytes())
	i, ok := s.index[key]
	if !ok {
		return
	}
	last := len(s.entries) - 1
	s.entries[i] = s.entries[last]
	s.index[string(s.entries[i].Bytes())] = i
	s.entries = s.entries[:last]
	delete(s.index, key)
}

// Pick returns a uniformly random peer from the eligible set, or the zero
// PeerId and false if it is empty (spec.md §4.3 client flow step 1).
func (s *PeerSet) Pick() (ma.PeerId, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return ma.PeerId{}, false
	}
	return s.entries[s.rand.Intn(len(s.entries))], true
}

// Len returns the number of eligible peers.
func (s *PeerSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// PeerLifecycleEvent is one of the three events the peer inventory
// subscribes to (spec.md §4.3).
type PeerLifecycleEvent struct {
	Peer               ma.PeerId
	SupportsAutoNATv2  bool
	Connected          bool
}

// Apply recomputes eligibility (supports_autonatv2 ∧ connected) for the
// event's peer and adds/removes it from the set accordingly.
func (s *PeerSet) Apply(ev PeerLifecycleEvent) {
	if ev.SupportsAutoNATv2 && ev.Connected {
		s.Add(ev.Peer)
	} else {
		s.Remove(ev.Peer)
	}
}
