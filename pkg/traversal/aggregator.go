package traversal

import (
	"context"
	"sort"
	"sync"

	"github.com/cuemby/natcore/pkg/log"
	"github.com/cuemby/natcore/pkg/ma"
	"github.com/cuemby/natcore/pkg/metrics"
)

// AggregatorConfig bounds the observed-address aggregator (spec.md §6).
type AggregatorConfig struct {
	ActivationThreshold                   int
	MaxExternalThinWaistAddrsPerLocalAddr int
	ObserverSetCacheSize                  int
	QueueCapacity                         int
}

// DefaultAggregatorConfig mirrors spec.md §6's defaults.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		ActivationThreshold:                   4,
		MaxExternalThinWaistAddrsPerLocalAddr: 3,
		ObserverSetCacheSize:                  5,
		QueueCapacity:                         16,
	}
}

// observation is one peer's report of what it saw as our local-to-external
// mapping for a single connection (spec.md §3 "Observation").
type observation struct {
	local    ma.MultiAddr
	external ma.MultiAddr
	observer string
}

// bucket tracks one external address observed for a given local thin
// waist, and the distinct observer keys that reported it (capped at
// ObserverSetCacheSize once activation no longer needs more).
type bucket struct {
	addr      ma.MultiAddr
	observers map[string]struct{}
}

// NATClassification is the coordinator's inferred symmetry for a transport
// family, per spec.md §4.5's dispersion rule.
type NATClassification string

const (
	Cone          NATClassification = "cone"
	Symmetric     NATClassification = "symmetric"
	Undetermined  NATClassification = "undetermined"
)

// Aggregator implements the observed-address aggregator (spec.md §4.5,
// §3 "Observation", §5 "a single-writer worker drains an unbounded (bounded
// in practice to 16) observation queue; public queries run concurrently and
// take a read view"). Observe is the producer side; the worker spawned by
// Start is the single writer; AdvertisableAddrs/NATType are the concurrent
// readers.
type Aggregator struct {
	cfg   AggregatorConfig
	queue chan observation

	mu          sync.RWMutex
	byLocal     map[string]map[string]*bucket // local thin waist key -> external addr key -> bucket
	activated   map[string]struct{}           // external addr keys already counted toward the activation metric
	familyCount map[string]map[string]int     // transport family -> external addr key -> raw observation count
	familyTotal map[string]int
}

// NewAggregator constructs an Aggregator with a bounded observation queue.
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	if cfg.ActivationThreshold <= 0 {
		cfg.ActivationThreshold = 4
	}
	if cfg.MaxExternalThinWaistAddrsPerLocalAddr <= 0 {
		cfg.MaxExternalThinWaistAddrsPerLocalAddr = 3
	}
	if cfg.ObserverSetCacheSize <= 0 {
		cfg.ObserverSetCacheSize = 5
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 16
	}
	return &Aggregator{
		cfg:         cfg,
		queue:       make(chan observation, cfg.QueueCapacity),
		byLocal:     make(map[string]map[string]*bucket),
		activated:   make(map[string]struct{}),
		familyCount: make(map[string]map[string]int),
		familyTotal: make(map[string]int),
	}
}

// Observe enqueues one peer's report of our external address as seen over
// a connection whose local side is local. observer identifies the
// reporting peer's network prefix (glossary "Observer": deduplicated per
// source network prefix, IPv4 /32, IPv6 /56) — callers derive this from
// the connection's RemoteAddr via ObserverKey. Observe never blocks: when
// the queue is full the observation is dropped silently (spec.md §7
// "Resource exhaustion... drop excess observations silently"; §9 Open
// Question leaves backfill-on-next-connection unspecified, so none is
// attempted here).
func (a *Aggregator) Observe(local, external ma.MultiAddr, observer string) {
	select {
	case a.queue <- observation{local: local, external: external, observer: observer}:
	default:
		metrics.ObservationQueueDroppedTotal.Inc()
		log.WithComponent("traversal").Debug().Msg("observation queue full, dropping")
	}
}

// Start runs the aggregator's single writer worker until ctx is cancelled.
func (a *Aggregator) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case obs := <-a.queue:
			a.apply(obs)
		}
	}
}

func (a *Aggregator) apply(obs observation) {
	waist, _, ok := obs.local.ThinWaist()
	if !ok {
		waist = obs.local
	}
	localKey := waist.String()
	extKey := obs.external.String()

	a.mu.Lock()
	defer a.mu.Unlock()

	buckets, ok := a.byLocal[localKey]
	if !ok {
		buckets = make(map[string]*bucket)
		a.byLocal[localKey] = buckets
	}
	b, ok := buckets[extKey]
	if !ok {
		b = &bucket{addr: obs.external, observers: make(map[string]struct{})}
		buckets[extKey] = b
	}
	if _, seen := b.observers[obs.observer]; !seen && len(b.observers) < a.cfg.ObserverSetCacheSize {
		b.observers[obs.observer] = struct{}{}
	}
	if len(b.observers) >= a.cfg.ActivationThreshold {
		if _, counted := a.activated[extKey]; !counted {
			a.activated[extKey] = struct{}{}
			metrics.ObservedAddressesActivatedTotal.Inc()
		}
	}

	family := transportFamily(obs.local)
	counts, ok := a.familyCount[family]
	if !ok {
		counts = make(map[string]int)
		a.familyCount[family] = counts
	}
	counts[extKey]++
	a.familyTotal[family]++
}

// AdvertisableAddrs returns the externally observed addresses for local's
// thin waist that have crossed ACTIVATION_THRESHOLD, capped at
// maxExternalThinWaistAddrsPerLocalAddr and selected by highest observer
// count (ties broken lexicographically by address string for stability,
// spec.md §4.5).
func (a *Aggregator) AdvertisableAddrs(local ma.MultiAddr) []ma.MultiAddr {
	waist, _, ok := local.ThinWaist()
	if !ok {
		waist = local
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	buckets := a.byLocal[waist.String()]
	candidates := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		if len(b.observers) >= a.cfg.ActivationThreshold {
			candidates = append(candidates, b)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if len(candidates[i].observers) != len(candidates[j].observers) {
			return len(candidates[i].observers) > len(candidates[j].observers)
		}
		return candidates[i].addr.String() < candidates[j].addr.String()
	})
	if len(candidates) > a.cfg.MaxExternalThinWaistAddrsPerLocalAddr {
		candidates = candidates[:a.cfg.MaxExternalThinWaistAddrsPerLocalAddr]
	}

	out := make([]ma.MultiAddr, len(candidates))
	for i, b := range candidates {
		out[i] = b.addr
	}
	return out
}

// NATType infers whether this node sits behind a cone-like or symmetric
// NAT for a transport family ("tcp"/"udp"), based on observation
// dispersion (spec.md §4.5): undetermined until at least
// 3*maxExternalThinWaistAddrsPerLocalAddr observations for that family have
// been collected; otherwise cone if the top-3 observed addresses hold at
// least half the observation mass, symmetric otherwise.
func (a *Aggregator) NATType(family string) NATClassification {
	a.mu.RLock()
	defer a.mu.RUnlock()

	total := a.familyTotal[family]
	threshold := 3 * a.cfg.MaxExternalThinWaistAddrsPerLocalAddr
	if total < threshold {
		return Undetermined
	}

	counts := make([]int, 0, len(a.familyCount[family]))
	for _, c := range a.familyCount[family] {
		counts = append(counts, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(counts)))

	top := 0
	for i := 0; i < len(counts) && i < 3; i++ {
		top += counts[i]
	}
	if top*2 >= total {
		return Cone
	}
	return Symmetric
}

// ObserverKey derives the deduplication key for an observer's reported
// address: the full address for IPv4 (/32) or the leading 56 bits for
// IPv6, per the glossary's "Observer" definition.
func ObserverKey(addr ma.MultiAddr) string {
	comps := addr.Components()
	if len(comps) == 0 {
		return ""
	}
	first := comps[0]
	v := first.Value
	if len(v) > 7 {
		v = v[:7]
	}
	return string(first.Code) + ":" + string(v)
}

// transportFamily extracts "tcp"/"udp"/"unknown" from an address's thin
// waist, used to group observations for NATType's dispersion check.
func transportFamily(addr ma.MultiAddr) string {
	_, _, ok := addr.ThinWaist()
	if !ok {
		return "unknown"
	}
	comps := addr.Components()
	for _, c := range comps {
		switch c.Code {
		case ma.CodeTCP:
			return "tcp"
		case ma.CodeUDP:
			return "udp"
		}
	}
	return "unknown"
}
