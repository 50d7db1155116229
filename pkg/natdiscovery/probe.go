package natdiscovery

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Endpoint is a bare IP:port pair, used at the level the mapping and
// filtering tests operate at (spec.md §4.2); it is deliberately narrower
// than ma.MultiAddr, which is the wire-level address type the rest of the
// core exchanges.
type Endpoint struct {
	IP   net.IP
	Port int
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%d", e.IP, e.Port) }

func (e Endpoint) udpAddr() *net.UDPAddr { return &net.UDPAddr{IP: e.IP, Port: e.Port} }

// ProbeRequest is one outbound probe of the rendezvous service. RespondFrom,
// when set, asks the server to send its reply from that endpoint instead of
// the one it received the request on — the filtering test's core
// mechanism (spec.md §4.2).
type ProbeRequest struct {
	Dest        Endpoint
	RespondFrom *Endpoint
}

// ProbeResponse is the rendezvous service's reply: the endpoint it
// observed the request arriving from, and (if it advertises one) an
// alternate listening address the client can use for follow-up probes.
// A nil AlternateAddr means the server didn't advertise a second address,
// which degrades the verdict to Unknown per spec.md §4.2.
type ProbeResponse struct {
	MappedEndpoint Endpoint
	AlternateAddr  *Endpoint
}

// ProbeClient sends one request/response probe over an already-bound UDP
// socket, so the mapping test can reuse the same local port across
// probes A/B/C as spec.md §4.2 requires.
type ProbeClient interface {
	Probe(ctx context.Context, conn *net.UDPConn, req ProbeRequest) (ProbeResponse, error)
}

// UDPProbeClient is the real ProbeClient, talking a small request/response
// encoding of our own over UDP to a rendezvous service (spec.md leaves
// this wire format unspecified — only multistream, DCUtR, and AutoNATv2
// are pinned bit-for-bit in §6 — so natcore defines a minimal one rather
// than adopting a general STUN implementation; see DESIGN.md).
type UDPProbeClient struct {
	// Timeout bounds a single probe round trip (spec.md §6 default 5s).
	Timeout time.Duration
}

const (
	reqFlagRespondFrom byte = 1 << 0
)

func (c UDPProbeClient) Probe(ctx context.Context, conn *net.UDPConn, req ProbeRequest) (ProbeResponse, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}

	payload := encodeRequest(req)
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return ProbeResponse{}, err
	}
	if _, err := conn.WriteToUDP(payload, req.Dest.udpAddr()); err != nil {
		return ProbeResponse{}, fmt.Errorf("natdiscovery: send probe: %w", err)
	}

	buf := make([]byte, 128)
	n, _, err := conn.ReadFromUDP(buf)
	if err != nil {
		return ProbeResponse{}, fmt.Errorf("natdiscovery: read probe response: %w", err)
	}
	return decodeResponse(buf[:n])
}

// encodeRequest/decodeResponse implement the probe wire format. Request:
// [flags byte][respond-from ip len][respond-from ip][respond-from port].
// Response: [flags byte][mapped endpoint][alternate endpoint, present when
// the respond-from flag bit is set].
func encodeRequest(req ProbeRequest) []byte {
	var flags byte
	var ip net.IP
	var port uint16
	if req.RespondFrom != nil {
		flags |= reqFlagRespondFrom
		ip = req.RespondFrom.IP.To4()
		if ip == nil {
			ip = req.RespondFrom.IP.To16()
		}
		port = uint16(req.RespondFrom.Port)
	}
	buf := []byte{flags, byte(len(ip))}
	buf = append(buf, ip...)
	buf = binary.BigEndian.AppendUint16(buf, port)
	return buf
}

func decodeResponse(b []byte) (ProbeResponse, error) {
	if len(b) < 1 {
		return ProbeResponse{}, fmt.Errorf("natdiscovery: truncated probe response")
	}
	flags := b[0]
	b = b[1:]

	mapped, rest, err := decodeEndpoint(b)
	if err != nil {
		return ProbeResponse{}, err
	}
	resp := ProbeResponse{MappedEndpoint: mapped}

	if flags&reqFlagRespondFrom != 0 && len(rest) > 0 {
		alt, _, err := decodeEndpoint(rest)
		if err == nil {
			resp.AlternateAddr = &alt
		}
	}
	return resp, nil
}

func decodeEndpoint(b []byte) (Endpoint, []byte, error) {
	if len(b) < 1 {
		return Endpoint{}, nil, fmt.Errorf("natdiscovery: truncated endpoint")
	}
	ipLen := int(b[0])
	b = b[1:]
	if len(b) < ipLen+2 {
		return Endpoint{}, nil, fmt.Errorf("natdiscovery: truncated endpoint value")
	}
	ip := net.IP(append([]byte(nil), b[:ipLen]...))
	port := binary.BigEndian.Uint16(b[ipLen : ipLen+2])
	return Endpoint{IP: ip, Port: int(port)}, b[ipLen+2:], nil
}
