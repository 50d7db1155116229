package dcutr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/metrics"
)

// Sentinel errors for the initiator path (spec.md §7).
var (
	ErrAlreadyDirect  = errors.New("dcutr: a direct connection already exists")
	ErrNoAddresses    = errors.New("dcutr: peer offered no usable addresses")
	ErrAllDialsFailed = errors.New("dcutr: all direct dial attempts failed")
)

// InitiatorConfig bounds one hole-punch attempt (spec.md §5, §6).
type InitiatorConfig struct {
	DialTimeout time.Duration
	MaxRetries  int
	AddrFilter  AddrFilter
	Now         func() time.Time
}

// DefaultInitiatorConfig mirrors spec.md §5's defaults (5s dial, 3 retries).
func DefaultInitiatorConfig() InitiatorConfig {
	return InitiatorConfig{
		DialTimeout: 5 * time.Second,
		MaxRetries:  3,
		Now:         time.Now,
	}
}

// Initiator runs the DCUtR upgrade-initiating role (spec.md §4.4
// "Initiator state machine"). Only the peer that decides it wants direct
// connectivity runs this; the other side runs Responder.
type Initiator struct {
	cfg     InitiatorConfig
	cancels *CancelRegistry
}

// NewInitiator constructs an Initiator sharing cancels with any Responder
// in the same process, so a direct connection established by either
// DCUtR role cancels this one's in-flight dials.
func NewInitiator(cfg InitiatorConfig, cancels *CancelRegistry) *Initiator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Initiator{cfg: cfg, cancels: cancels}
}

// Connect attempts to upgrade an existing relayed connection to peer into
// a direct one (spec.md §4.4 steps 1-8). On success it returns the
// winning direct ConnInfo; on failure the relayed connection remains
// usable (spec.md §7 "Partial-failure rule").
func (in *Initiator) Connect(ctx context.Context, h host.Host, peer ma.PeerId) (host.ConnInfo, error) {
	if h.Connectedness(peer) == host.Connected {
		return host.ConnInfo{}, ErrAlreadyDirect
	}

	// epoch identifies this Connect call across its retries for log
	// correlation: spec.md §3 keys a DCUtR attempt by (peerId,
	// attempt-epoch), and retries of the same call share one epoch while
	// each CONNECT/SYNC exchange within it is still its own attempt.
	epoch := uuid.New().String()
	local := filterAddrs(h.Addrs(), in.cfg.AddrFilter)

	var lastErr error
	for attempt := 0; attempt < in.cfg.MaxRetries; attempt++ {
		info, err := in.attemptOnce(ctx, h, peer, local, epoch)
		if err == nil {
			return info, nil
		}
		lastErr = err
		log.WithPeer(peer.String()).Debug().Str("epoch", epoch).Int("attempt", attempt+1).Err(err).Msg("dcutr attempt failed")
	}
	return host.ConnInfo{}, fmt.Errorf("dcutr: exhausted %d attempts: %w", in.cfg.MaxRetries, lastErr)
}

// attemptOnce runs one full CONNECT/CONNECT/SYNC exchange followed by the
// parallel dial fan-out.
func (in *Initiator) attemptOnce(ctx context.Context, h host.Host, peer ma.PeerId, local []ma.MultiAddr, epoch string) (host.ConnInfo, error) {
	metrics.DCUtRAttemptsTotal.WithLabelValues("initiator").Inc()

	s, err := h.NewStream(ctx, peer, []string{ProtocolID})
	if err != nil {
		return host.ConnInfo{}, fmt.Errorf("dcutr: open stream: %w", err)
	}
	defer s.Close()

	release, err := newScope(StreamReservation).reserve(StreamReservation)
	if err != nil {
		_ = s.Reset()
		return host.ConnInfo{}, err
	}
	defer release()

	t0 := in.cfg.Now()
	connect := HolePunch{Type: TypeConnect, ObsAddrs: encodeAddrs(local)}
	if err := ma.WriteDelimited(s, connect.Marshal()); err != nil {
		return host.ConnInfo{}, fmt.Errorf("dcutr: send CONNECT: %w", err)
	}

	raw, err := ma.ReadDelimited(s, MaxMsgSize)
	if err != nil {
		return host.ConnInfo{}, fmt.Errorf("dcutr: read CONNECT: %w", err)
	}
	reply, err := UnmarshalHolePunch(raw)
	if err != nil || reply.Type != TypeConnect {
		_ = s.Reset()
		return host.ConnInfo{}, fmt.Errorf("dcutr: expected CONNECT reply")
	}
	rtt := in.cfg.Now().Sub(t0)
	metrics.DCUtRRTTSeconds.Observe(rtt.Seconds())
	half := rtt / 2

	syncMsg := HolePunch{Type: TypeSync}
	if err := ma.WriteDelimited(s, syncMsg.Marshal()); err != nil {
		return host.ConnInfo{}, fmt.Errorf("dcutr: send SYNC: %w", err)
	}

	remote := decodeAddrs(reply.ObsAddrs)
	if len(remote) == 0 {
		return host.ConnInfo{}, ErrNoAddresses
	}

	if half > 0 {
		select {
		case <-time.After(half):
		case <-ctx.Done():
			return host.ConnInfo{}, ctx.Err()
		}
	}

	info, err := in.dialFanOut(ctx, h, peer, remote)
	if err != nil {
		return host.ConnInfo{}, err
	}
	in.cancels.CancelAll(peer)
	metrics.DCUtRSuccessTotal.WithLabelValues("initiator").Inc()
	log.WithPeer(peer.String()).Debug().Str("epoch", epoch).Str("addr", info.RemoteAddr.String()).Msg("dcutr initiator dialed direct")
	return info, nil
}

// dialFanOut dials every address in remote concurrently with a per-dial
// timeout, cancelling the rest as soon as one succeeds (spec.md §4.4
// steps 7-8).
func (in *Initiator) dialFanOut(parent context.Context, h host.Host, peer ma.PeerId, remote []ma.MultiAddr) (host.ConnInfo, error) {
	ctx, cancel := context.WithCancel(parent)
	unregister := in.cancels.Register(peer, cancel)
	defer unregister()
	defer cancel()

	type result struct {
		info host.ConnInfo
		err  error
	}
	results := make(chan result, len(remote))

	g, gctx := errgroup.WithContext(ctx)
	for _, addr := range remote {
		addr := addr
		g.Go(func() error {
			dialCtx, dialCancel := context.WithTimeout(gctx, in.cfg.DialTimeout)
			defer dialCancel()
			info, err := h.DialDirect(dialCtx, peer, addr)
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
	for r := range results {
		if r.err == nil {
			cancel()
			return r.info, nil
		}
		lastErr = r.err
	}
	if lastErr == nil {
		lastErr = ErrNoAddresses
	}
	return host.ConnInfo{}, fmt.Errorf("%w: %v", ErrAllDialsFailed, lastErr)
}
