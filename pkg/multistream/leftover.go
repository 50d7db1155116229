package multistream

import (
	"github.com/cuemby/natcore/pkg/host"
)

// leftoverStream wraps a freshly negotiated host.Stream so that any bytes
// the negotiation's bufio.Reader pulled off the wire past the accepted
// token are served back to the application before further reads touch the
// underlying stream (spec.md §4.1 "Leftover handling": a single socket
// read may return the handshake, the protocol id, AND the first bytes of
// application data in one segment).
type leftoverStream struct {
	host.Stream
	leftover []byte
}

func withLeftover(s host.Stream, leftover []byte) host.Stream {
	if len(leftover) == 0 {
		return s
	}
	return &leftoverStream{Stream: s, leftover: leftover}
}

func (l *leftoverStream) Read(p []byte) (int, error) {
	if len(l.leftover) > 0 {
		n := copy(p, l.leftover)
		l.leftover = l.leftover[n:]
		return n, nil
	}
	return l.Stream.Read(p)
}

// SetDeadline, Write, Close, CloseWrite, Reset, Protocol, SetProtocol,
// Conn are all inherited from the embedded Stream unchanged; only Read
// needs to drain the leftover buffer first.
var _ host.Stream = (*leftoverStream)(nil)
