package swarm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/multistream"
)

// peerRecord tracks everything Host knows about one remote peer.
type peerRecord struct {
	addrs      []ma.MultiAddr
	expiresAt  time.Time
	connected  bool
	relayed    bool
}

// Host is an in-process host.Host: peers live in the same address space
// and "dial" each other through the package registry rather than real
// sockets, so the whole core (multistream negotiation, AutoNATv2,
// DCUtR) can be exercised end to end in tests and the demo CLI without a
// network stack underneath.
type Host struct {
	id       ma.PeerId
	addrs    []ma.MultiAddr
	handlers *multistream.Registry
	msCfg    multistream.Config

	mu    sync.Mutex
	peers map[string]*peerRecord
}

// NewHost constructs a Host with id and listen addrs, and registers it in
// the shared in-process registry so other Hosts can dial it.
func NewHost(id ma.PeerId, addrs []ma.MultiAddr) *Host {
	h := &Host{
		id:       id,
		addrs:    addrs,
		handlers: multistream.NewRegistry(),
		msCfg:    multistream.DefaultConfig(),
		peers:    make(map[string]*peerRecord),
	}
	globalRegistry.register(h)
	return h
}

// Close removes the host from the in-process registry.
func (h *Host) Close() {
	globalRegistry.unregister(h)
}

func (h *Host) ID() ma.PeerId { return h.id }

func (h *Host) Addrs() []ma.MultiAddr {
	return append([]ma.MultiAddr(nil), h.addrs...)
}

func (h *Host) SetStreamHandler(protocol string, handler host.StreamHandler) {
	h.handlers.Set(protocol, handler)
}

func (h *Host) RemoveStreamHandler(protocol string) {
	h.handlers.Remove(protocol)
}

func (h *Host) Connectedness(peer ma.PeerId) host.Connectedness {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.peers[string(peer.Bytes())]
	if ok && rec.connected && !rec.relayed {
		return host.Connected
	}
	if _, ok := globalRegistry.lookup(peer); ok {
		return host.CanConnect
	}
	return host.CannotConnect
}

func (h *Host) PeerAddrs(peer ma.PeerId) []ma.MultiAddr {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.peers[string(peer.Bytes())]
	if !ok {
		return nil
	}
	return append([]ma.MultiAddr(nil), rec.addrs...)
}

func (h *Host) AddAddrs(peer ma.PeerId, addrs []ma.MultiAddr, ttl time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(peer.Bytes())
	if len(addrs) == 0 {
		delete(h.peers, key)
		return
	}
	h.peers[key] = &peerRecord{addrs: addrs, expiresAt: time.Now().Add(ttl)}
}

// setConnected records a direct (non-relayed) connection to peer.
func (h *Host) setConnected(peer ma.PeerId, connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(peer.Bytes())
	rec, ok := h.peers[key]
	if !ok {
		rec = &peerRecord{}
		h.peers[key] = rec
	}
	rec.connected = connected
	rec.relayed = false
}

// setRelayed records a relayed connection to peer, which Connectedness
// does not report as Connected (host.go: "Connected = a direct connection
// exists").
func (h *Host) setRelayed(peer ma.PeerId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := string(peer.Bytes())
	rec, ok := h.peers[key]
	if !ok {
		rec = &peerRecord{}
		h.peers[key] = rec
	}
	rec.connected = true
	rec.relayed = true
}

// NewStream dials peer if necessary and negotiates one of protocols over
// a fresh stream (spec.md §6 "Host abstraction").
func (h *Host) NewStream(ctx context.Context, peer ma.PeerId, protocols []string) (host.Stream, error) {
	target, ok := globalRegistry.lookup(peer)
	if !ok {
		return nil, fmt.Errorf("swarm: peer %s not reachable", peer)
	}

	var localAddr, remoteAddr ma.MultiAddr
	if len(h.addrs) > 0 {
		localAddr = h.addrs[0]
	}
	if len(target.addrs) > 0 {
		remoteAddr = target.addrs[0]
	}

	a, b := newDuplexPair()
	initiator := &Stream{pipe: a, conn: host.ConnInfo{LocalPeer: h.id, RemotePeer: peer, LocalAddr: localAddr, RemoteAddr: remoteAddr}}
	responder := &Stream{pipe: b, conn: host.ConnInfo{LocalPeer: target.id, RemotePeer: h.id, LocalAddr: remoteAddr, RemoteAddr: localAddr}}

	h.setConnected(peer, true)
	target.setConnected(h.id, true)

	go target.serve(responder)

	selected, err := multistream.SelectProtocol(initiator, protocols, h.msCfg)
	if err != nil {
		return nil, fmt.Errorf("swarm: negotiate with %s: %w", peer, err)
	}
	initiator.SetProtocol(selected)
	return initiator, nil
}

// serve runs the responder side of one freshly accepted stream.
func (h *Host) serve(s *Stream) {
	if err := multistream.HandleStream(s, h.handlers, h.msCfg); err != nil {
		_ = s.Reset()
	}
}

// DialDirect simulates establishing a direct connection to peer at addr.
// In this in-process transport any registered peer is always reachable;
// the addr argument exists to match host.Host's signature and is returned
// as RemoteAddr in the ConnInfo. Streams opened later with NewStream still
// report the peer's first listen address as their RemoteAddr.
func (h *Host) DialDirect(ctx context.Context, peer ma.PeerId, addr ma.MultiAddr) (host.ConnInfo, error) {
	if _, ok := globalRegistry.lookup(peer); !ok {
		return host.ConnInfo{}, fmt.Errorf("swarm: peer %s not reachable at %s", peer, addr)
	}
	h.setConnected(peer, true)
	return host.ConnInfo{LocalPeer: h.id, RemotePeer: peer, RemoteAddr: addr}, nil
}

// EnsureRelayed returns an existing or freshly dialed connection to peer,
// marked as relayed. This in-process transport has no real relay; it
// stands in for one by tagging the connection IsRelayed so callers that
// branch on it (the traversal coordinator) exercise that path. Unlike
// DialDirect, this never marks the peer Connected: a relayed connection
// must still let the DCUtR initiator's already-direct guard (pkg/dcutr's
// Connectedness(peer) == host.Connected check) see through to an actual
// direct dial.
func (h *Host) EnsureRelayed(ctx context.Context, peer ma.PeerId) (host.ConnInfo, error) {
	if _, ok := globalRegistry.lookup(peer); !ok {
		return host.ConnInfo{}, fmt.Errorf("swarm: ensure relayed to %s: peer not reachable", peer)
	}
	h.setRelayed(peer)
	return host.ConnInfo{LocalPeer: h.id, RemotePeer: peer, IsRelayed: true}, nil
}

var _ host.Host = (*Host)(nil)
