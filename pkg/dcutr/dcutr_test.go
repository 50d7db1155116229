package dcutr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/swarm"
)

func newPeer(t *testing.T, n byte, addr ma.MultiAddr) (ma.PeerId, *swarm.Host) {
	t.Helper()
	id := ma.NewPeerId([]byte{0xBB, n})
	h := swarm.NewHost(id, []ma.MultiAddr{addr})
	t.Cleanup(h.Close)
	return id, h
}

// TestHolePunchConeToCone covers spec.md §8 scenario 5: both peers behind
// cone-like NATs (here: both addresses are plain public addresses the
// in-memory transport can always "dial") successfully upgrade to direct.
func TestHolePunchConeToCone(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 10, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(203, 0, 113, 20, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, aHost := newPeer(t, 1, aAddr)
	bID, bHost := newPeer(t, 2, bAddr)

	cancels := NewCancelRegistry()
	responder := NewResponder(bHost, DefaultResponderConfig(), cancels)
	bHost.SetStreamHandler(ProtocolID, responder.Handle)

	initiator := NewInitiator(DefaultInitiatorConfig(), cancels)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	info, err := initiator.Connect(ctx, aHost, bID)
	require.NoError(t, err)
	assert.Equal(t, bID, info.RemotePeer)
}

func TestHolePunchAlreadyDirectGuard(t *testing.T) {
	aAddr, err := ma.NewIP4(203, 0, 113, 30, ma.CodeTCP, 4001)
	require.NoError(t, err)
	bAddr, err := ma.NewIP4(203, 0, 113, 31, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, aHost := newPeer(t, 3, aAddr)
	bID, bHost := newPeer(t, 4, bAddr)

	bHost.SetStreamHandler(ProtocolID, func(s host.Stream) { s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = aHost.DialDirect(ctx, bID, bAddr)
	require.NoError(t, err)

	initiator := NewInitiator(DefaultInitiatorConfig(), NewCancelRegistry())
	_, err = initiator.Connect(ctx, aHost, bID)
	assert.ErrorIs(t, err, ErrAlreadyDirect)
}

func TestHolePunchWireRoundTrip(t *testing.T) {
	addr, err := ma.NewIP4(198, 51, 100, 1, ma.CodeTCP, 4001)
	require.NoError(t, err)

	msg := HolePunch{Type: TypeConnect, ObsAddrs: [][]byte{addr.Encode()}}
	decoded, err := UnmarshalHolePunch(msg.Marshal())
	require.NoError(t, err)
	assert.Equal(t, msg, decoded)

	sync := HolePunch{Type: TypeSync}
	decodedSync, err := UnmarshalHolePunch(sync.Marshal())
	require.NoError(t, err)
	assert.Equal(t, sync, decodedSync)
}

func TestFilterAddrsStripsPrivateAndRelay(t *testing.T) {
	pub, err := ma.NewIP4(203, 0, 113, 5, ma.CodeTCP, 4001)
	require.NoError(t, err)
	priv, err := ma.NewIP4(192, 168, 1, 5, ma.CodeTCP, 4001)
	require.NoError(t, err)

	filtered := filterAddrs([]ma.MultiAddr{pub, priv}, nil)
	require.Len(t, filtered, 1)
	assert.True(t, filtered[0].Equal(pub))
}

func TestCancelRegistryCancelsOngoing(t *testing.T) {
	peer := ma.NewPeerId([]byte{9})
	reg := NewCancelRegistry()
	called := false
	unregister := reg.Register(peer, func() { called = true })
	_ = unregister

	reg.CancelAll(peer)
	assert.True(t, called)
}
