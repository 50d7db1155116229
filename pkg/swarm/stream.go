package swarm

import (
	"time"

	"github.com/cuemby/natcore/pkg/host"
)

// Stream is the in-memory host.Stream implementation backing Host.
type Stream struct {
	pipe     *duplexPipe
	protocol string
	conn     host.ConnInfo
}

func (s *Stream) Read(p []byte) (int, error)  { return s.pipe.Read(p) }
func (s *Stream) Write(p []byte) (int, error) { return s.pipe.Write(p) }
func (s *Stream) Close() error                { return s.pipe.Close() }
func (s *Stream) CloseWrite() error           { return s.pipe.CloseWrite() }
func (s *Stream) Reset() error                { return s.pipe.Reset() }
func (s *Stream) SetDeadline(t time.Time) error {
	return s.pipe.SetDeadline(t)
}
func (s *Stream) Protocol() string        { return s.protocol }
func (s *Stream) SetProtocol(p string)    { s.protocol = p }
func (s *Stream) Conn() host.ConnInfo     { return s.conn }

var _ host.Stream = (*Stream)(nil)
