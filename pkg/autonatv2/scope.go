package autonatv2

import (
	"fmt"
	"sync/atomic"
)

// ServiceName is the scope tag every AutoNATv2 stream is opened under
// (spec.md §6 "service name tag libp2p.autonatv2").
const ServiceName = "libp2p.autonatv2"

// RequestStreamReservation is the per-protocol memory ceiling for the
// dial-request stream (spec.md §5).
const RequestStreamReservation = 8 * 1024

// DialBackStreamReservation is the per-protocol memory ceiling for the
// dial-back stream (spec.md §5).
const DialBackStreamReservation = 1024

// scope is a minimal stand-in for the resource manager the host
// abstraction would own in a full libp2p-equivalent stack (spec.md §6
// defines Host only as "open stream / set handler / connectedness /
// addrs" — it has no resource-manager surface). It tracks one service's
// outstanding reservation total so AutoNATv2 can enforce its own
// per-protocol ceilings without widening the Host interface.
type scope struct {
	limit int64
	used  int64
}

func newScope(limit int) *scope {
	return &scope{limit: int64(limit)}
}

// reserve admits n more bytes of reservation, or fails if it would exceed
// the scope's limit (spec.md §5: "on reservation failure the stream is
// reset with an internal-error response").
func (s *scope) reserve(n int) (release func(), err error) {
	if atomic.AddInt64(&s.used, int64(n)) > s.limit {
		atomic.AddInt64(&s.used, -int64(n))
		return nil, fmt.Errorf("autonatv2: %s reservation of %d bytes exceeds limit %d", ServiceName, n, s.limit)
	}
	released := int32(0)
	return func() {
		if atomic.CompareAndSwapInt32(&released, 0, 1) {
			atomic.AddInt64(&s.used, -int64(n))
		}
	}, nil
}
