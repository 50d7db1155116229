package autonatv2

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/metrics"
)

// Protocol ids advertised via multistream-select (spec.md §6).
const (
	ProtocolDialRequest = "/libp2p/autonat/2/dial-request"
	ProtocolDialBack    = "/libp2p/autonat/2/dial-back"
)

// Verdict is the caller-visible reachability classification (spec.md §3
// "Reachability result").
type Verdict string

const (
	VerdictPublic  Verdict = "public"
	VerdictPrivate Verdict = "private"
	VerdictUnknown Verdict = "unknown"
)

// Result is the outcome of one CheckReachability call.
type Result struct {
	Addr       ma.MultiAddr
	Verdict    Verdict
	DialStatus DialStatus
}

// Sentinel errors distinguishing spec.md §7's error taxonomy for the
// client path.
var (
	ErrNoEligiblePeer     = errors.New("autonatv2: no eligible peer to ask")
	ErrDialRefused        = errors.New("autonatv2: server refused to dial any offered address")
	ErrRequestRejected    = errors.New("autonatv2: server rejected the request (rate limited)")
	ErrInternal           = errors.New("autonatv2: server reported an internal error")
	ErrProtocolViolation  = errors.New("autonatv2: peer violated the autonatv2 protocol")
)

// ClientConfig bounds one reachability check (spec.md §6).
type ClientConfig struct {
	MaxMsgSize         int
	DialBackMaxMsgSize int
	DialBackWait       time.Duration
	DialDataChunkSize  int
	Now                func() time.Time
}

// DefaultClientConfig mirrors spec.md §6 defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		MaxMsgSize:         8 * 1024,
		DialBackMaxMsgSize: 1024,
		DialBackWait:       5 * time.Second,
		DialDataChunkSize:  4096,
		Now:                time.Now,
	}
}

// dialBackSlot is the single-shot delivery primitive spec.md §9 calls for
// ("nonce-to-dial-back-slot"): at most one value is ever sent.
type dialBackSlot struct {
	ch        chan ma.MultiAddr
	delivered bool
}

// Client runs the AutoNATv2 requester role (spec.md §4.3 "Client flow").
type Client struct {
	peers         *PeerSet
	cfg           ClientConfig
	scope         *scope
	dialBackScope *scope

	mu      sync.Mutex
	pending map[uint64]*dialBackSlot
}

// NewClient constructs a Client over peers (the AutoNATv2 peer inventory)
// with the given config. Callers MUST also call RegisterDialBackHandler
// once on their Host so dial-back connections complete pending slots.
func NewClient(peers *PeerSet, cfg ClientConfig) *Client {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Client{
		peers:         peers,
		cfg:           cfg,
		scope:         newScope(RequestStreamReservation),
		dialBackScope: newScope(DialBackStreamReservation),
		pending:       make(map[uint64]*dialBackSlot),
	}
}

// RegisterDialBackHandler wires the client's dial-back stream handler
// into h under ProtocolDialBack.
func (c *Client) RegisterDialBackHandler(h host.Host) {
	h.SetStreamHandler(ProtocolDialBack, c.handleDialBack)
}

// CheckReachability runs the full client flow (spec.md §4.3 steps 1-7)
// for a candidate address, asking a randomly chosen eligible peer to
// verify it. payDialData reports whether the caller is willing to stream
// dial-data for the address at the same index (a purely local policy —
// spec.md §6's DialRequest carries only addrs and nonce on the wire, so
// this willingness is never serialized, only consulted against the
// server's DialDataRequest).
func (c *Client) CheckReachability(ctx context.Context, h host.Host, addrs []ma.MultiAddr, payDialData []bool) (Result, error) {
	result, err := c.checkReachability(ctx, h, addrs, payDialData)
	if err != nil {
		metrics.AutoNATv2DialsTotal.WithLabelValues("error").Inc()
	} else {
		metrics.AutoNATv2DialsTotal.WithLabelValues(string(result.Verdict)).Inc()
	}
	return result, err
}

func (c *Client) checkReachability(ctx context.Context, h host.Host, addrs []ma.MultiAddr, payDialData []bool) (Result, error) {
	peer, ok := c.peers.Pick()
	if !ok {
		return Result{}, ErrNoEligiblePeer
	}

	s, err := h.NewStream(ctx, peer, []string{ProtocolDialRequest})
	if err != nil {
		return Result{}, fmt.Errorf("autonatv2: open dial-request stream: %w", err)
	}
	defer s.Close()

	release, err := c.scope.reserve(RequestStreamReservation)
	if err != nil {
		_ = s.Reset()
		return Result{}, err
	}
	defer release()

	nonce := rand.Uint64()
	slot := &dialBackSlot{ch: make(chan ma.MultiAddr, 1)}
	c.mu.Lock()
	c.pending[nonce] = slot
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, nonce)
		c.mu.Unlock()
	}()

	encodedAddrs := make([][]byte, len(addrs))
	for i, a := range addrs {
		encodedAddrs[i] = a.Encode()
	}
	req := Message{DialRequest: &DialRequest{Addrs: encodedAddrs, Nonce: nonce}}
	if err := ma.WriteDelimited(s, req.Marshal()); err != nil {
		return Result{}, fmt.Errorf("autonatv2: send dial request: %w", err)
	}

	resp, err := c.readMessage(s)
	if err != nil {
		return Result{}, err
	}

	if resp.DialDataRequest != nil {
		ddr := resp.DialDataRequest
		if int(ddr.AddrIdx) >= len(addrs) || ddr.NumBytes > 100_000 {
			_ = s.Reset()
			return Result{}, fmt.Errorf("%w: dial-data request out of range", ErrProtocolViolation)
		}
		if int(ddr.AddrIdx) >= len(payDialData) || !payDialData[ddr.AddrIdx] {
			_ = s.Reset()
			return Result{}, fmt.Errorf("%w: server requested dial-data for a low-priority address", ErrDialRefused)
		}
		if err := c.streamDialData(s, ddr.NumBytes); err != nil {
			return Result{}, err
		}
		resp, err = c.readMessage(s)
		if err != nil {
			return Result{}, err
		}
	}

	if resp.DialResponse == nil {
		_ = s.Reset()
		return Result{}, fmt.Errorf("%w: expected DialResponse", ErrProtocolViolation)
	}
	return c.classify(*resp.DialResponse, addrs, slot)
}

func (c *Client) streamDialData(s host.Stream, numBytes uint64) error {
	chunk := c.cfg.DialDataChunkSize
	if chunk <= 0 {
		chunk = 4096
	}
	remaining := numBytes
	buf := make([]byte, chunk)
	for remaining > 0 {
		n := uint64(chunk)
		if remaining < n {
			n = remaining
		}
		resp := Message{DialDataResponse: &DialDataResponse{Data: buf[:n]}}
		if err := ma.WriteDelimited(s, resp.Marshal()); err != nil {
			return fmt.Errorf("autonatv2: stream dial-data: %w", err)
		}
		metrics.AutoNATv2DialDataBytesSent.Add(float64(n))
		remaining -= n
	}
	return nil
}

func (c *Client) readMessage(s host.Stream) (Message, error) {
	raw, err := ma.ReadDelimited(s, c.cfg.MaxMsgSize)
	if err != nil {
		return Message{}, fmt.Errorf("autonatv2: read message: %w", err)
	}
	msg, err := UnmarshalMessage(raw)
	if err != nil {
		_ = s.Reset()
		return Message{}, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return msg, nil
}

// classify implements spec.md §4.3's response classification table.
func (c *Client) classify(resp DialResponse, addrs []ma.MultiAddr, slot *dialBackSlot) (Result, error) {
	switch resp.Status {
	case StatusDialRefused:
		return Result{}, ErrDialRefused
	case StatusRequestRejected:
		return Result{}, ErrRequestRejected
	case StatusInternalError:
		return Result{}, ErrInternal
	case StatusOK:
		// fall through to dialStatus handling below
	default:
		return Result{}, fmt.Errorf("%w: unknown response status %d", ErrProtocolViolation, resp.Status)
	}

	if resp.DialStatus == DialStatusUnused {
		return Result{}, fmt.Errorf("%w: server claimed OK with dialStatus UNUSED", ErrProtocolViolation)
	}
	if int(resp.AddrIdx) >= len(addrs) {
		return Result{}, fmt.Errorf("%w: addrIdx %d out of range", ErrProtocolViolation, resp.AddrIdx)
	}
	addr := addrs[resp.AddrIdx]

	switch resp.DialStatus {
	case DialStatusOK:
		select {
		case observed := <-slot.ch:
			if ma.NormalizedEqual(addr, observed) {
				return Result{Addr: addr, Verdict: VerdictPublic, DialStatus: resp.DialStatus}, nil
			}
			return Result{Addr: addr, Verdict: VerdictUnknown, DialStatus: resp.DialStatus}, nil
		case <-time.After(c.cfg.DialBackWait):
			return Result{Addr: addr, Verdict: VerdictUnknown, DialStatus: resp.DialStatus}, nil
		}
	case DialStatusDialError:
		return Result{Addr: addr, Verdict: VerdictPrivate, DialStatus: resp.DialStatus}, nil
	case DialStatusDialBackError:
		select {
		case <-slot.ch:
			return Result{Addr: addr, Verdict: VerdictPublic, DialStatus: resp.DialStatus}, nil
		case <-time.After(c.cfg.DialBackWait):
			return Result{Addr: addr, Verdict: VerdictUnknown, DialStatus: resp.DialStatus}, nil
		}
	default:
		return Result{}, fmt.Errorf("%w: unknown dialStatus %d", ErrProtocolViolation, resp.DialStatus)
	}
}

// handleDialBack is the client-side dial-back stream handler (spec.md
// §4.3 "Dial-back stream handler (client-side)"): reads a single
// DialBack, completes the matching single-shot slot with the
// connection's local address, and acknowledges. A nonce with no pending
// slot, or one already delivered, resets the stream.
func (c *Client) handleDialBack(s host.Stream) {
	defer s.Close()

	release, err := c.dialBackScope.reserve(DialBackStreamReservation)
	if err != nil {
		_ = s.Reset()
		return
	}
	defer release()

	raw, err := ma.ReadDelimited(s, c.cfg.DialBackMaxMsgSize)
	if err != nil {
		_ = s.Reset()
		return
	}
	db, err := UnmarshalDialBack(raw)
	if err != nil {
		_ = s.Reset()
		return
	}

	c.mu.Lock()
	slot, ok := c.pending[db.Nonce]
	if ok {
		if slot.delivered {
			ok = false
		} else {
			slot.delivered = true
		}
	}
	c.mu.Unlock()

	if !ok {
		_ = s.Reset()
		return
	}

	localAddr := s.Conn().LocalAddr
	slot.ch <- localAddr

	resp := DialBackResponse{Status: DialBackStatusOK}
	_ = ma.WriteDelimited(s, resp.Marshal())
	log.WithPeer(s.Conn().RemotePeer.String()).Debug().Uint64("nonce", db.Nonce).Msg("autonatv2 dial-back delivered")
}
