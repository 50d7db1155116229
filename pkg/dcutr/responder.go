package dcutr

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/metrics"
)

// ResponderConfig bounds the responder's own dial fan-out (spec.md §5,
// §6).
type ResponderConfig struct {
	DialTimeout time.Duration
	AddrFilter  AddrFilter
}

// DefaultResponderConfig mirrors the initiator's dial timeout default.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{DialTimeout: 5 * time.Second}
}

// Responder runs the DCUtR upgrade-accepting role (spec.md §4.4
// "Responder state machine"): it never initiates, it only answers a
// CONNECT/SYNC exchange and tries to dial back.
type Responder struct {
	h       host.Host
	cfg     ResponderConfig
	cancels *CancelRegistry
}

// NewResponder constructs a Responder that dials back on h (the same host
// Handle is registered against). Share cancels with any Initiator in the
// same process so either side's successful direct connection cancels the
// other's pending attempts.
func NewResponder(h host.Host, cfg ResponderConfig, cancels *CancelRegistry) *Responder {
	return &Responder{h: h, cfg: cfg, cancels: cancels}
}

// Handle is the stream handler DCUtR registers under ProtocolID (spec.md
// §4.4 steps 1-3).
func (r *Responder) Handle(s host.Stream) {
	defer s.Close()
	metrics.DCUtRAttemptsTotal.WithLabelValues("responder").Inc()

	release, err := newScope(StreamReservation).reserve(StreamReservation)
	if err != nil {
		_ = s.Reset()
		return
	}
	defer release()

	peer := s.Conn().RemotePeer

	raw, err := ma.ReadDelimited(s, MaxMsgSize)
	if err != nil {
		_ = s.Reset()
		return
	}
	msg, err := UnmarshalHolePunch(raw)
	if err != nil || msg.Type != TypeConnect {
		_ = s.Reset()
		return
	}
	remote := decodeAddrs(msg.ObsAddrs)

	local := filterAddrs(r.h.Addrs(), r.cfg.AddrFilter)
	reply := HolePunch{Type: TypeConnect, ObsAddrs: encodeAddrs(local)}
	if err := ma.WriteDelimited(s, reply.Marshal()); err != nil {
		_ = s.Reset()
		return
	}

	raw, err = ma.ReadDelimited(s, MaxMsgSize)
	if err != nil {
		_ = s.Reset()
		return
	}
	ack, err := UnmarshalHolePunch(raw)
	if err != nil || ack.Type != TypeSync {
		_ = s.Reset()
		return
	}

	if len(remote) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DialTimeout+time.Second)
	defer cancel()
	unregister := r.cancels.Register(peer, cancel)
	defer unregister()

	if info, err := r.dialFanOut(ctx, remote, peer); err == nil {
		r.cancels.CancelAll(peer)
		metrics.DCUtRSuccessTotal.WithLabelValues("responder").Inc()
		log.WithPeer(peer.String()).Debug().Str("addr", info.RemoteAddr.String()).Msg("dcutr responder dialed direct")
	}
}

// dialFanOut mirrors the initiator's parallel dial, without the RTT wait
// (spec.md §4.4 step 3: "no RTT wait — the RTT estimate belongs to the
// initiator").
func (r *Responder) dialFanOut(ctx context.Context, remote []ma.MultiAddr, peer ma.PeerId) (host.ConnInfo, error) {
	type result struct {
		info host.ConnInfo
		err  error
	}
	results := make(chan result, len(remote))
	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range remote {
		addr := addr
		g.Go(func() error {
			dialCtx, dialCancel := context.WithTimeout(gctx, r.cfg.DialTimeout)
			defer dialCancel()
			info, err := r.h.DialDirect(dialCtx, peer, addr)
			select {
			case results <- result{info, err}:
			case <-ctx.Done():
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var lastErr error
	for res := range results {
		if res.err == nil {
			return res.info, nil
		}
		lastErr = res.err
	}
	if lastErr == nil {
		lastErr = ErrNoAddresses
	}
	return host.ConnInfo{}, fmt.Errorf("%w: %v", ErrAllDialsFailed, lastErr)
}
