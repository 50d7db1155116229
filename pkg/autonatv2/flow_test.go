package autonatv2

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/swarm"
)

func newTestPeer(t *testing.T, n byte) (ma.PeerId, *swarm.Host) {
	t.Helper()
	id := ma.NewPeerId([]byte{0xAA, n})
	addr, err := ma.NewIP4(203, 0, 113, n, ma.CodeTCP, 4001)
	require.NoError(t, err)
	h := swarm.NewHost(id, []ma.MultiAddr{addr})
	t.Cleanup(h.Close)
	return id, h
}

// TestReachabilityPublicHappyPath covers spec.md §8 scenario 3: a client
// offering its genuinely reachable public address gets verdict public.
func TestReachabilityPublicHappyPath(t *testing.T) {
	clientID, clientHost := newTestPeer(t, 1)
	serverID, serverHost := newTestPeer(t, 2)
	_, dialBackHost := newTestPeer(t, 3)

	limiter := NewRateLimiter(DefaultRateLimiterConfig())
	serverCfg := DefaultServerConfig()
	serverCfg.AmplificationWait = 0
	server := NewServer(dialBackHost, limiter, serverCfg)
	serverHost.SetStreamHandler(ProtocolDialRequest, server.HandleDialRequest)

	peers := NewPeerSet(nil)
	peers.Add(serverID)
	client := NewClient(peers, DefaultClientConfig())
	client.RegisterDialBackHandler(clientHost)

	clientAddr, err := ma.NewIP4(203, 0, 113, 1, ma.CodeTCP, 4001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.CheckReachability(ctx, clientHost, []ma.MultiAddr{clientAddr}, []bool{true})
	require.NoError(t, err)
	assert.Equal(t, VerdictPublic, result.Verdict)
	assert.Equal(t, DialStatusOK, result.DialStatus)

	_ = clientID
}

// TestReachabilityAmplificationGuard covers spec.md §8 scenario 4: a
// mismatched source/dial-back IP forces a dial-data round before the
// server will dial back, and the exchange still completes.
func TestReachabilityAmplificationGuard(t *testing.T) {
	clientID, clientHost := newTestPeer(t, 1)
	serverID, serverHost := newTestPeer(t, 2)
	_, dialBackHost := newTestPeer(t, 3)

	limiter := NewRateLimiter(DefaultRateLimiterConfig())
	serverCfg := DefaultServerConfig()
	serverCfg.AmplificationWait = 0
	server := NewServer(dialBackHost, limiter, serverCfg)
	serverHost.SetStreamHandler(ProtocolDialRequest, server.HandleDialRequest)

	peers := NewPeerSet(nil)
	peers.Add(serverID)
	client := NewClient(peers, DefaultClientConfig())
	client.RegisterDialBackHandler(clientHost)

	// The client offers an address distinct from its actual stream source
	// address (clientHost's own listen addr), so requiresDialData's
	// NormalizedEqual check fails and the server demands dial-data.
	offeredAddr, err := ma.NewIP4(198, 51, 100, 9, ma.CodeTCP, 4001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := client.CheckReachability(ctx, clientHost, []ma.MultiAddr{offeredAddr}, []bool{true})
	require.NoError(t, err)
	assert.Equal(t, DialStatusOK, result.DialStatus)

	_ = clientID
}

func TestReachabilityNoEligiblePeer(t *testing.T) {
	_, clientHost := newTestPeer(t, 1)
	peers := NewPeerSet(nil)
	client := NewClient(peers, DefaultClientConfig())

	addr, err := ma.NewIP4(203, 0, 113, 1, ma.CodeTCP, 4001)
	require.NoError(t, err)

	_, err = client.CheckReachability(context.Background(), clientHost, []ma.MultiAddr{addr}, []bool{true})
	assert.ErrorIs(t, err, ErrNoEligiblePeer)
}

func TestRateLimiterRejectsOverBudget(t *testing.T) {
	clientID, clientHost := newTestPeer(t, 1)
	serverID, serverHost := newTestPeer(t, 2)
	_, dialBackHost := newTestPeer(t, 3)

	now := time.Now()
	limiterCfg := DefaultRateLimiterConfig()
	limiterCfg.PerPeerRPM = 1
	limiterCfg.Now = func() time.Time { return now }
	limiter := NewRateLimiter(limiterCfg)

	serverCfg := DefaultServerConfig()
	serverCfg.AmplificationWait = 0
	server := NewServer(dialBackHost, limiter, serverCfg)
	serverHost.SetStreamHandler(ProtocolDialRequest, server.HandleDialRequest)

	peers := NewPeerSet(nil)
	peers.Add(serverID)
	client := NewClient(peers, DefaultClientConfig())
	client.RegisterDialBackHandler(clientHost)

	addr, err := ma.NewIP4(203, 0, 113, 1, ma.CodeTCP, 4001)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = client.CheckReachability(ctx, clientHost, []ma.MultiAddr{addr}, []bool{true})
	require.NoError(t, err)

	_, err = client.CheckReachability(ctx, clientHost, []ma.MultiAddr{addr}, []bool{true})
	assert.ErrorIs(t, err, ErrRequestRejected)

	_ = clientID
}
