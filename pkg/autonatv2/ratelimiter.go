package autonatv2

import (
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/ma"
)

// RateLimiterConfig bounds the server's request acceptance (spec.md §4.3
// "Rate limiter", §6 defaults).
type RateLimiterConfig struct {
	RPM         int
	PerPeerRPM  int
	DialDataRPM int
	Now         func() time.Time
}

// DefaultRateLimiterConfig mirrors spec.md §6 defaults (60/12/12).
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{RPM: 60, PerPeerRPM: 12, DialDataRPM: 12, Now: time.Now}
}

// RateLimiter enforces spec.md §4.3's three sliding 1-minute-window
// counters (global, per-peer, dial-data) plus the "ongoing" exclusivity
// set (a peer cannot have two in-flight requests), all under one lock
// (spec.md §5). Cleanup of stale window entries runs opportunistically on
// every Accept call, per spec.md §4.3 "Cleanup".
type RateLimiter struct {
	mu sync.Mutex
	cfg RateLimiterConfig

	global      []time.Time
	perPeer     map[string][]time.Time
	dialData    []time.Time
	ongoing     map[string]bool
}

// NewRateLimiter constructs a RateLimiter from cfg, defaulting Now to
// time.Now if unset (spec.md §9 "Global clock": every time-dependent
// component takes its clock as a parameter).
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimiter{
		cfg:      cfg,
		perPeer:  make(map[string][]time.Time),
		ongoing:  make(map[string]bool),
	}
}

// RejectReason names why Accept refused a request, for metrics labeling
// (spec.md §1 ambient stack: natcore_autonatv2_rate_limited_total).
type RejectReason string

const (
	RejectNone           RejectReason = ""
	RejectGlobalRPM      RejectReason = "global_rpm"
	RejectPerPeerRPM     RejectReason = "per_peer_rpm"
	RejectOngoing        RejectReason = "ongoing"
	RejectDialDataRPM    RejectReason = "dial_data_rpm"
)

// Accept admits a new dial-request from peer, or refuses it with a
// reason. A peer with an in-flight request is always refused
// (linearizable per peer, spec.md §5).
func (l *RateLimiter) Accept(peer ma.PeerId) RejectReason {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	l.cleanupLocked(now)

	key := string(peer.Bytes())
	if l.ongoing[key] {
		return RejectOngoing
	}
	if len(l.global) >= l.cfg.RPM {
		return RejectGlobalRPM
	}
	if len(l.perPeer[key]) >= l.cfg.PerPeerRPM {
		return RejectPerPeerRPM
	}

	l.global = append(l.global, now)
	l.perPeer[key] = append(l.perPeer[key], now)
	l.ongoing[key] = true
	return RejectNone
}

// Complete clears the ongoing flag for peer once its request finishes
// (success, failure, or reset) — callers MUST call this exactly once per
// successful Accept, or the peer is locked out of all future requests.
func (l *RateLimiter) Complete(peer ma.PeerId) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.ongoing, string(peer.Bytes()))
}

// AcceptDialData admits a dial-data request against the separate
// dial-data sliding window, independent of the request-level counters.
func (l *RateLimiter) AcceptDialData() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.Now()
	l.cleanupLocked(now)

	if len(l.dialData) >= l.cfg.DialDataRPM {
		return false
	}
	l.dialData = append(l.dialData, now)
	return true
}

// cleanupLocked prunes every window entry older than one minute. Must be
// called with l.mu held; reentrancy-safe because Accept/AcceptDialData
// always acquire the lock before calling it (spec.md §5 "Rate-limiter
// cleanup MUST be reentrancy-safe").
func (l *RateLimiter) cleanupLocked(now time.Time) {
	cutoff := now.Add(-time.Minute)
	l.global = pruneBefore(l.global, cutoff)
	l.dialData = pruneBefore(l.dialData, cutoff)
	for k, ts := range l.perPeer {
		pruned := pruneBefore(ts, cutoff)
		if len(pruned) == 0 {
			delete(l.perPeer, k)
		} else {
			l.perPeer[k] = pruned
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append([]time.Time(nil), ts[i:]...)
}
