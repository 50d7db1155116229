// Package host defines the abstractions the NAT traversal core consumes
// from the surrounding libp2p-equivalent stack (spec.md §6 "Host
// abstraction (consumed, not defined here)"). The core's own packages
// import only this interface; identity, peerstore persistence, transport
// selection, and the cryptographic handshake live outside the core and are
// injected through it.
package host

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cuemby/natcore/pkg/ma"
)

// ErrDeadlineExceeded is returned by Stream.Read/Write when a
// SetDeadline-bounded I/O operation times out. Transport implementations
// should return this (or an error satisfying errors.Is against it) rather
// than inventing their own per-transport timeout sentinel, so the core's
// retry logic (spec.md §4.1 "Failure policy") can recognize it uniformly.
var ErrDeadlineExceeded = errors.New("host: i/o deadline exceeded")

// Connectedness describes whether a direct connection to a peer currently
// exists.
type Connectedness int

const (
	NotConnected Connectedness = iota
	Connected
	CanConnect
	CannotConnect
)

// Stream is a single bidirectional byte-stream multiplexed over a
// connection to a peer. Reads, writes, and Close/Reset are all suspension
// points per spec.md §5.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer

	// CloseWrite half-closes the stream for writing without releasing read
	// resources, used by AutoNATv2's dial-back flow.
	CloseWrite() error

	// Reset aborts the stream immediately, signalling a protocol violation
	// to the remote peer rather than a clean shutdown.
	Reset() error

	// SetDeadline bounds all future I/O on the stream; used to implement
	// the handshake/message timeouts enumerated in spec.md §5.
	SetDeadline(t time.Time) error

	// Protocol returns the negotiated protocol id, set once multistream
	// negotiation completes.
	Protocol() string

	// SetProtocol records the negotiated protocol id. Called by
	// pkg/multistream once a handshake selects a protocol; application
	// code never needs to call it directly.
	SetProtocol(string)

	// Conn returns the identity of the peer and the local/remote
	// multiaddrs of the underlying connection this stream rides on.
	Conn() ConnInfo
}

// ConnInfo describes the connection a Stream was opened over.
type ConnInfo struct {
	LocalPeer   ma.PeerId
	RemotePeer  ma.PeerId
	LocalAddr   ma.MultiAddr
	RemoteAddr  ma.MultiAddr
	IsRelayed   bool
}

// StreamHandler is invoked with a freshly negotiated stream whose first
// unread byte is the first byte of application data — multistream-select
// has already consumed its own framing and re-injected any leftover bytes
// (spec.md §4.1 "Leftover handling").
type StreamHandler func(s Stream)

// Host is the subset of a libp2p-equivalent node's surface the NAT
// traversal core needs. A real implementation negotiates transport
// security and multiplexing underneath; the core never sees those layers.
type Host interface {
	// ID returns this host's own PeerId.
	ID() ma.PeerId

	// NewStream opens a new stream to peer, dialing it first if there is
	// no existing connection, and negotiates one of protocols via
	// multistream-select.
	NewStream(ctx context.Context, peer ma.PeerId, protocols []string) (Stream, error)

	// SetStreamHandler registers handler for protocol under the
	// multistream handler registry's single writer lock (spec.md §5).
	SetStreamHandler(protocol string, handler StreamHandler)

	// RemoveStreamHandler unregisters a previously set handler.
	RemoveStreamHandler(protocol string)

	// Connectedness reports whether a direct connection to peer exists.
	Connectedness(peer ma.PeerId) Connectedness

	// Addrs returns this host's own listen/observed addresses.
	Addrs() []ma.MultiAddr

	// PeerAddrs returns addresses known for peer (e.g. relay-facing
	// addresses learned via identify), used to seed relayed dials.
	PeerAddrs(peer ma.PeerId) []ma.MultiAddr

	// AddAddrs records addresses for peer with a TTL, as the external
	// peerstore would.
	AddAddrs(peer ma.PeerId, addrs []ma.MultiAddr, ttl time.Duration)

	// DialDirect attempts to establish a direct (non-relayed) connection
	// to peer at addr, used by both the DCUtR state machines and the
	// AutoNATv2 server's dial-back step.
	DialDirect(ctx context.Context, peer ma.PeerId, addr ma.MultiAddr) (ConnInfo, error)

	// EnsureRelayed returns (opening if necessary) a relayed connection to
	// peer, used by the traversal coordinator before it engages DCUtR.
	EnsureRelayed(ctx context.Context, peer ma.PeerId) (ConnInfo, error)
}
