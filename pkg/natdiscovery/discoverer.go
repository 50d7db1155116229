package natdiscovery

import (
	"context"
	"fmt"
	"net"

	"golang.org/x/sync/errgroup"
)

// NewRecordDiscoverer wires MappingTest and FilteringTest together into a
// single DiscoverFunc suitable for Tracker: the mapping test owns its own
// bound UDP socket for the probe-A/B/C port reuse requirement, and the
// filtering test owns a second one, both against the same rendezvous
// service. The two tests touch independent sockets and share no state, so
// they run concurrently via errgroup rather than back to back.
func NewRecordDiscoverer(client ProbeClient, servers Servers) DiscoverFunc {
	return func(ctx context.Context) (Record, error) {
		mappingConn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return Record{}, fmt.Errorf("natdiscovery: bind mapping socket: %w", err)
		}
		defer mappingConn.Close()

		filteringConn, err := net.ListenUDP("udp", nil)
		if err != nil {
			return Record{}, fmt.Errorf("natdiscovery: bind filtering socket: %w", err)
		}
		defer filteringConn.Close()

		var mapping Behavior
		var filtering Behavior

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			m, err := MappingTest(gctx, client, mappingConn, servers)
			mapping = m
			return err
		})
		g.Go(func() error {
			f, err := FilteringTest(gctx, client, filteringConn, servers)
			filtering = f
			return err
		})
		if err := g.Wait(); err != nil {
			return Record{}, err
		}

		return Record{Mapping: mapping, Filtering: filtering}, nil
	}
}
