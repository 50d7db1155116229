package traversal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natcore/pkg/dcutr"
	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/natdiscovery"
	"github.com/cuemby/natcore/pkg/storage"
	"github.com/cuemby/natcore/pkg/swarm"
)

func newPeer(t *testing.T, n byte, addr ma.MultiAddr) (ma.PeerId, *swarm.Host) {
	t.Helper()
	id := ma.NewPeerId([]byte{0xCC, n})
	h := swarm.NewHost(id, []ma.MultiAddr{addr})
	t.Cleanup(h.Close)
	return id, h
}

// seedTracker builds a Tracker whose Current() immediately returns record,
// without running the periodic Start loop.
func seedTracker(t *testing.T, record natdiscovery.Record) *natdiscovery.Tracker {
	t.Helper()
	discover := func(ctx context.Context) (natdiscovery.Record, error) { return record, nil }
	tracker := natdiscovery.NewTracker(discover, storage.NewMemStore(), natdiscovery.DefaultConfig())
	tracker.OnInterfaceChange(context.Background())
	require.Equal(t, record.Mapping, mustCurrent(t, tracker).Mapping)
	return tracker
}

func mustCurrent(t *testing.T, tracker *natdiscovery.Tracker) natdiscovery.Record {
	t.Helper()
	record, ok := tracker.Current()
	require.True(t, ok)
	return record
}

// TestCoordinatorDialDirect covers spec.md §4.5 step 2: an EndpointIndependent
// record on both sides resolves to the direct strategy, and the coordinator
// dials the peer's known address without touching DCUtR.
func TestCoordinatorDialDirect(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 40, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(203, 0, 113, 41, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, aHost := newPeer(t, 1, aAddr)
	bID, bHost := newPeer(t, 2, bAddr)
	aHost.AddAddrs(bID, []ma.MultiAddr{bAddr}, time.Hour)

	tracker := seedTracker(t, natdiscovery.Record{
		Mapping:   natdiscovery.EndpointIndependent,
		Filtering: natdiscovery.EndpointIndependent,
	})
	cancels := dcutr.NewCancelRegistry()
	initiator := dcutr.NewInitiator(dcutr.DefaultInitiatorConfig(), cancels)
	coord := NewCoordinator(aHost, tracker, initiator)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := coord.Dial(ctx, bID)
	require.NoError(t, err)
	assert.Equal(t, bID, info.RemotePeer)
	assert.False(t, info.IsRelayed)
	_ = bHost
}

// TestCoordinatorDialDirectNoKnownAddress covers the edge case where the
// direct strategy is selected but the peer's address was never learned.
func TestCoordinatorDialDirectNoKnownAddress(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 42, ma.CodeTCP, 4001)
	require.NoError(t, err)
	_, aHost := newPeer(t, 3, aAddr)
	bID := ma.NewPeerId([]byte{0xCC, 4})

	tracker := seedTracker(t, natdiscovery.Record{
		Mapping:   natdiscovery.EndpointIndependent,
		Filtering: natdiscovery.EndpointIndependent,
	})
	cancels := dcutr.NewCancelRegistry()
	initiator := dcutr.NewInitiator(dcutr.DefaultInitiatorConfig(), cancels)
	coord := NewCoordinator(aHost, tracker, initiator)

	_, err = coord.Dial(context.Background(), bID)
	assert.ErrorIs(t, err, ErrNoKnownAddress)
}

// TestCoordinatorHolePunchFallsBackToRelayed covers spec.md §7's
// partial-failure rule: when the hole-punch strategy is selected but DCUtR
// cannot upgrade the connection, Dial still returns the relayed connection
// rather than an error. B's handler closes the stream the instant it's
// opened instead of running the CONNECT/SYNC exchange, so every initiator
// attempt fails the handshake and the coordinator falls back.
func TestCoordinatorHolePunchFallsBackToRelayed(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 50, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(203, 0, 113, 51, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, aHost := newPeer(t, 5, aAddr)
	bID, bHost := newPeer(t, 6, bAddr)
	bHost.SetStreamHandler(dcutr.ProtocolID, func(s host.Stream) { s.Close() })

	tracker := seedTracker(t, natdiscovery.Record{
		Mapping:   natdiscovery.AddressDependent,
		Filtering: natdiscovery.EndpointIndependent,
	})
	cancels := dcutr.NewCancelRegistry()
	initiator := dcutr.NewInitiator(dcutr.DefaultInitiatorConfig(), cancels)
	coord := NewCoordinator(aHost, tracker, initiator)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := coord.Dial(ctx, bID)
	require.NoError(t, err)
	assert.True(t, info.IsRelayed)
}

// TestCoordinatorHolePunchUpgradesToDirect covers spec.md §4.5 step 3's
// success branch: B runs a real Responder, so the initiator's CONNECT/SYNC
// exchange completes and the dial fan-out wins, upgrading the relayed
// connection to a direct one.
func TestCoordinatorHolePunchUpgradesToDirect(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 70, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(203, 0, 113, 71, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, aHost := newPeer(t, 9, aAddr)
	bID, bHost := newPeer(t, 10, bAddr)

	bCancels := dcutr.NewCancelRegistry()
	responder := dcutr.NewResponder(bHost, dcutr.DefaultResponderConfig(), bCancels)
	bHost.SetStreamHandler(dcutr.ProtocolID, responder.Handle)

	tracker := seedTracker(t, natdiscovery.Record{
		Mapping:   natdiscovery.AddressDependent,
		Filtering: natdiscovery.EndpointIndependent,
	})
	cancels := dcutr.NewCancelRegistry()
	initiator := dcutr.NewInitiator(dcutr.DefaultInitiatorConfig(), cancels)
	coord := NewCoordinator(aHost, tracker, initiator)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := coord.Dial(ctx, bID)
	require.NoError(t, err)
	assert.False(t, info.IsRelayed)
	assert.Equal(t, bID, info.RemotePeer)
}

// TestCoordinatorNoRecordDefaultsToRelayed covers the "absent record treated
// as relayed" default (spec.md §4.5).
func TestCoordinatorNoRecordDefaultsToRelayed(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 60, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(203, 0, 113, 61, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, aHost := newPeer(t, 7, aAddr)
	bID, _ := newPeer(t, 8, bAddr)

	discover := func(ctx context.Context) (natdiscovery.Record, error) { return natdiscovery.Record{}, nil }
	tracker := natdiscovery.NewTracker(discover, storage.NewMemStore(), natdiscovery.DefaultConfig())
	cancels := dcutr.NewCancelRegistry()
	initiator := dcutr.NewInitiator(dcutr.DefaultInitiatorConfig(), cancels)
	coord := NewCoordinator(aHost, tracker, initiator)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	info, err := coord.Dial(ctx, bID)
	require.NoError(t, err)
	assert.True(t, info.IsRelayed)
}
