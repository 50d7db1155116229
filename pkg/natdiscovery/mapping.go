package natdiscovery

import (
	"context"
	"net"
)

// Servers describes the rendezvous service's two advertised endpoints
// (spec.md §4.2: "an external rendezvous service that exposes two
// listening sockets on two IP addresses").
type Servers struct {
	Primary   Endpoint
	Alternate Endpoint
}

// MappingTest runs the three-stage mapping probe (spec.md §4.2) over a
// single local UDP socket, reusing the same local port for every probe as
// required. conn must already be bound (e.g. via net.ListenUDP) and is
// closed by the caller, not by MappingTest.
func MappingTest(ctx context.Context, client ProbeClient, conn *net.UDPConn, servers Servers) (Behavior, error) {
	// Probe A: primary IP, primary port.
	respA, err := client.Probe(ctx, conn, ProbeRequest{Dest: servers.Primary})
	if err != nil {
		return Unknown, nil
	}

	// Probe B: alternate IP, same primary port.
	altPrimaryPort := Endpoint{IP: servers.Alternate.IP, Port: servers.Primary.Port}
	respB, err := client.Probe(ctx, conn, ProbeRequest{Dest: altPrimaryPort})
	if err != nil {
		return Unknown, nil
	}

	if respA.MappedEndpoint.Port == respB.MappedEndpoint.Port {
		return EndpointIndependent, nil
	}

	// Probe C: primary IP, primary port + 1.
	altPort := Endpoint{IP: servers.Primary.IP, Port: servers.Primary.Port + 1}
	respC, err := client.Probe(ctx, conn, ProbeRequest{Dest: altPort})
	if err != nil {
		return Unknown, nil
	}

	if respA.MappedEndpoint.Port == respC.MappedEndpoint.Port {
		return AddressDependent, nil
	}
	return AddressAndPortDependent, nil
}
