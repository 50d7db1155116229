package dcutr

import (
	"fmt"
	"sync/atomic"
)

// scope tracks one DCUtR stream's outstanding reservation against
// StreamReservation (spec.md §5), mirroring pkg/autonatv2's scope since
// spec.md defines host.Host without a resource-manager surface (see
// DESIGN.md).
type scope struct {
	limit int64
	used  int64
}

func newScope(limit int) *scope {
	return &scope{limit: int64(limit)}
}

func (s *scope) reserve(n int) (release func(), err error) {
	if atomic.AddInt64(&s.used, int64(n)) > s.limit {
		atomic.AddInt64(&s.used, -int64(n))
		return nil, fmt.Errorf("dcutr: %s reservation of %d bytes exceeds limit %d", ServiceName, n, s.limit)
	}
	released := int32(0)
	return func() {
		if atomic.CompareAndSwapInt32(&released, 0, 1) {
			atomic.AddInt64(&s.used, -int64(n))
		}
	}, nil
}
