package natdiscovery

import (
	"context"
	"errors"
	"net"
)

// FilteringTest runs the four-stage filtering probe (spec.md §4.2) over a
// single local UDP socket (reusing the same local port as MappingTest
// would, though the two tests may use independent sockets since filtering
// behavior does not depend on port reuse the way mapping does).
func FilteringTest(ctx context.Context, client ProbeClient, conn *net.UDPConn, servers Servers) (Behavior, error) {
	baseline, err := client.Probe(ctx, conn, ProbeRequest{Dest: servers.Primary})
	if err != nil {
		return Unknown, nil
	}
	if baseline.AlternateAddr == nil {
		// Server never advertised a second listening address; spec.md
		// §4.2 degrades this to Unknown rather than guessing.
		return Unknown, nil
	}
	alt := *baseline.AlternateAddr

	// Stage 2: ask the server to reply from (alternateIP, alternatePort).
	_, err = client.Probe(ctx, conn, ProbeRequest{
		Dest:        servers.Primary,
		RespondFrom: &alt,
	})
	switch {
	case err == nil:
		return EndpointIndependent, nil
	case !isProbeTimeout(err):
		return Unknown, nil
	}

	// Stage 3: touch the alternate server directly so a mapping exists for
	// it, then ask for a reply from (alternateIP, a different port).
	if _, err := client.Probe(ctx, conn, ProbeRequest{Dest: alt}); err != nil {
		return Unknown, nil
	}
	differentPort := Endpoint{IP: alt.IP, Port: alt.Port + 1}
	_, err = client.Probe(ctx, conn, ProbeRequest{
		Dest:        alt,
		RespondFrom: &differentPort,
	})
	switch {
	case err == nil:
		return AddressDependent, nil
	case isProbeTimeout(err):
		return AddressAndPortDependent, nil
	default:
		return Unknown, nil
	}
}

// SimplifiedFilteringTest is the two-probe fallback (spec.md §4.2) for
// rendezvous services that advertise only one listening address: it can
// only distinguish EndpointIndependent from "anything stricter", and
// reports AddressDependent for the latter rather than attempting to tell
// AddressDependent from AddressAndPortDependent.
func SimplifiedFilteringTest(ctx context.Context, client ProbeClient, conn *net.UDPConn, primary Endpoint, respondFrom Endpoint) (Behavior, error) {
	_, err := client.Probe(ctx, conn, ProbeRequest{Dest: primary, RespondFrom: &respondFrom})
	switch {
	case err == nil:
		return EndpointIndependent, nil
	case isProbeTimeout(err):
		return AddressDependent, nil
	default:
		return Unknown, nil
	}
}

func isProbeTimeout(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}
