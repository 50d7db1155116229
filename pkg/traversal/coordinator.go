package traversal

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/natcore/pkg/dcutr"
	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/metrics"
	"github.com/cuemby/natcore/pkg/natdiscovery"
)

// ErrNoKnownAddress is returned when the direct strategy is chosen but no
// address is known for the peer to dial.
var ErrNoKnownAddress = errors.New("traversal: no known address for peer")

// Coordinator glues NAT behavior discovery, relay setup through the host,
// and DCUtR into the single operation spec.md §4.5 describes.
type Coordinator struct {
	h         host.Host
	tracker   *natdiscovery.Tracker
	initiator *dcutr.Initiator
}

// NewCoordinator wires the pieces the coordinator dispatches to. tracker
// supplies the local NAT behavior (spec.md §4.2); initiator runs the DCUtR
// upgrade once a relayed connection exists.
func NewCoordinator(h host.Host, tracker *natdiscovery.Tracker, initiator *dcutr.Initiator) *Coordinator {
	return &Coordinator{h: h, tracker: tracker, initiator: initiator}
}

// Dial establishes connectivity to peer, choosing a strategy from the
// current NAT behavior record (spec.md §4.5 steps 1-4):
//   - direct: dial peer's known address directly.
//   - UDP/TCP hole punch: ensure a relayed connection, then engage DCUtR;
//     on failure the relayed connection is returned (spec.md §7
//     "Partial-failure rule").
//   - relayed: return the relayed connection.
func (c *Coordinator) Dial(ctx context.Context, peer ma.PeerId) (host.ConnInfo, error) {
	strategy := c.selectStrategy()
	metrics.TraversalStrategyTotal.WithLabelValues(string(strategy)).Inc()

	switch strategy {
	case natdiscovery.StrategyDirect:
		return c.dialDirect(ctx, peer)
	case natdiscovery.StrategyUDPHolePunch, natdiscovery.StrategyTCPHolePunch:
		return c.dialViaHolePunch(ctx, peer)
	default:
		return c.h.EnsureRelayed(ctx, peer)
	}
}

// selectStrategy consults the tracker's current record (spec.md §4.2
// table); an absent or unknown record is treated as relayed, the safest
// default.
func (c *Coordinator) selectStrategy() natdiscovery.Strategy {
	record, ok := c.tracker.Current()
	if !ok {
		return natdiscovery.StrategyRelayed
	}
	return natdiscovery.SelectStrategy(record)
}

func (c *Coordinator) dialDirect(ctx context.Context, peer ma.PeerId) (host.ConnInfo, error) {
	addrs := c.h.PeerAddrs(peer)
	if len(addrs) == 0 {
		return host.ConnInfo{}, ErrNoKnownAddress
	}
	info, err := c.h.DialDirect(ctx, peer, addrs[0])
	if err != nil {
		return host.ConnInfo{}, fmt.Errorf("traversal: direct dial: %w", err)
	}
	return info, nil
}

// dialViaHolePunch ensures a relayed connection first, then tries DCUtR
// over it. A hole-punch failure is not itself an error: the caller gets
// back the still-usable relayed connection (spec.md §7).
func (c *Coordinator) dialViaHolePunch(ctx context.Context, peer ma.PeerId) (host.ConnInfo, error) {
	relayed, err := c.h.EnsureRelayed(ctx, peer)
	if err != nil {
		return host.ConnInfo{}, fmt.Errorf("traversal: ensure relayed: %w", err)
	}

	direct, err := c.initiator.Connect(ctx, c.h, peer)
	if err != nil {
		log.WithPeer(peer.String()).Debug().Err(err).Msg("dcutr upgrade failed, keeping relayed connection")
		return relayed, nil
	}
	return direct, nil
}
