package traversal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/natcore/pkg/ma"
)

func mustAddr(t *testing.T, a, b, c, d byte, port uint16) ma.MultiAddr {
	t.Helper()
	addr, err := ma.NewIP4(a, b, c, d, ma.CodeTCP, port)
	require.NoError(t, err)
	return addr
}

// startAggregator runs the single-writer worker for the duration of the
// test and stops it on cleanup.
func startAggregator(t *testing.T, a *Aggregator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Start(ctx)
}

// waitUntil polls cond until it's true or the deadline passes, failing the
// test on timeout. The aggregator's worker drains its queue asynchronously,
// so tests observe it through this instead of a fixed sleep.
func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	if !cond() {
		t.Fatal("condition not met before deadline")
	}
}

// TestAggregatorActivatesAfterThreshold covers spec.md §4.5's activation
// rule: an external address only becomes advertisable once distinct
// observers cross ActivationThreshold.
func TestAggregatorActivatesAfterThreshold(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cfg.ActivationThreshold = 2
	a := NewAggregator(cfg)
	startAggregator(t, a)

	local := mustAddr(t, 10, 0, 0, 1, 4001)
	external := mustAddr(t, 203, 0, 113, 5, 55001)

	a.Observe(local, external, "observer-a")
	a.Observe(local, external, "observer-b")

	waitUntil(t, func() bool { return len(a.AdvertisableAddrs(local)) == 1 })

	addrs := a.AdvertisableAddrs(local)
	require.Len(t, addrs, 1)
	assert.Equal(t, external.String(), addrs[0].String())
}

// TestAggregatorBelowThresholdNotAdvertised covers the negative case: a
// single observer never activates an address.
func TestAggregatorBelowThresholdNotAdvertised(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	startAggregator(t, a)

	local := mustAddr(t, 10, 0, 0, 2, 4001)
	external := mustAddr(t, 203, 0, 113, 6, 55002)
	a.Observe(local, external, "observer-only")

	// Give the worker a chance to apply the single observation, then
	// assert it never crosses the default threshold of 4.
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, a.AdvertisableAddrs(local))
}

// TestAggregatorCapsAdvertisedAddrs covers the
// MaxExternalThinWaistAddrsPerLocalAddr cap, tie-broken by highest observer
// count and then lexicographically.
func TestAggregatorCapsAdvertisedAddrs(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cfg.ActivationThreshold = 1
	cfg.MaxExternalThinWaistAddrsPerLocalAddr = 2
	a := NewAggregator(cfg)
	startAggregator(t, a)

	local := mustAddr(t, 10, 0, 0, 3, 4001)
	externals := []ma.MultiAddr{
		mustAddr(t, 203, 0, 113, 1, 55001),
		mustAddr(t, 203, 0, 113, 2, 55002),
		mustAddr(t, 203, 0, 113, 3, 55003),
	}
	for i, ext := range externals {
		a.Observe(local, ext, string(rune('a'+i)))
	}

	waitUntil(t, func() bool { return len(a.AdvertisableAddrs(local)) == 2 })
}

// TestNATTypeUndeterminedBelowSampleSize covers spec.md §4.5's minimum
// sample size before a symmetry classification is attempted.
func TestNATTypeUndeterminedBelowSampleSize(t *testing.T) {
	a := NewAggregator(DefaultAggregatorConfig())
	startAggregator(t, a)

	local := mustAddr(t, 10, 0, 0, 4, 4001)
	external := mustAddr(t, 203, 0, 113, 7, 55007)
	a.Observe(local, external, "only-one")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Undetermined, a.NATType("tcp"))
}

// TestNATTypeConeWhenDispersionIsLow covers the cone classification once
// enough samples concentrate on a small set of external addresses.
func TestNATTypeConeWhenDispersionIsLow(t *testing.T) {
	cfg := DefaultAggregatorConfig()
	cfg.MaxExternalThinWaistAddrsPerLocalAddr = 1
	a := NewAggregator(cfg)
	startAggregator(t, a)

	local := mustAddr(t, 10, 0, 0, 5, 4001)
	external := mustAddr(t, 203, 0, 113, 8, 55008)
	for i := 0; i < 6; i++ {
		a.Observe(local, external, string(rune('a'+i)))
	}

	waitUntil(t, func() bool { return a.NATType("tcp") == Cone })
}

// TestObserverKeyDedupesByIPv4Slash32 covers the glossary's Observer
// definition: distinct IPv4 addresses never collide, identical ones do.
func TestObserverKeyDedupesByIPv4Slash32(t *testing.T) {
	a1 := mustAddr(t, 198, 51, 100, 1, 4001)
	a2 := mustAddr(t, 198, 51, 100, 2, 4001)
	assert.NotEqual(t, ObserverKey(a1), ObserverKey(a2))

	same := mustAddr(t, 198, 51, 100, 1, 4002)
	assert.Equal(t, ObserverKey(a1), ObserverKey(same))
}
