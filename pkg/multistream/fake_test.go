package multistream

import (
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/host"
)

// bufPipe is an unbounded-buffer, one-directional byte pipe: Write never
// blocks on a matching Read. Real sockets have kernel send buffers with
// the same property; the lazy-open optimization (spec.md §4.1) relies on
// a caller being able to write ahead of the peer's read, which an
// unbuffered synchronous pipe (net.Pipe, io.Pipe) cannot exercise without
// risking a false deadlock between two goroutines that both write before
// either reads. This fake exists solely to let these tests model that
// real-socket buffering property.
type bufPipe struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	closed   bool
	deadline time.Time
}

func (p *bufPipe) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.buf.Write(b)
}

func (p *bufPipe) Read(b []byte) (int, error) {
	for {
		p.mu.Lock()
		if p.buf.Len() > 0 {
			n, _ := p.buf.Read(b)
			p.mu.Unlock()
			return n, nil
		}
		closed := p.closed
		deadline := p.deadline
		p.mu.Unlock()

		if closed {
			return 0, io.EOF
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return 0, host.ErrDeadlineExceeded
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (p *bufPipe) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *bufPipe) setDeadline(t time.Time) {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
}

// fakeStream adapts a pair of bufPipes to host.Stream for in-process
// negotiation tests.
type fakeStream struct {
	r, w     *bufPipe
	protocol string
}

func newFakeStreamPair() (*fakeStream, *fakeStream) {
	ab, ba := &bufPipe{}, &bufPipe{}
	return &fakeStream{r: ba, w: ab}, &fakeStream{r: ab, w: ba}
}

func (f *fakeStream) Read(p []byte) (int, error)  { return f.r.Read(p) }
func (f *fakeStream) Write(p []byte) (int, error) { return f.w.Write(p) }
func (f *fakeStream) Close() error {
	_ = f.w.Close()
	return nil
}
func (f *fakeStream) CloseWrite() error { return f.w.Close() }
func (f *fakeStream) Reset() error {
	_ = f.w.Close()
	_ = f.r.Close()
	return nil
}
func (f *fakeStream) SetDeadline(t time.Time) error {
	f.r.setDeadline(t)
	return nil
}
func (f *fakeStream) Protocol() string     { return f.protocol }
func (f *fakeStream) SetProtocol(p string) { f.protocol = p }
func (f *fakeStream) Conn() host.ConnInfo  { return host.ConnInfo{} }

var _ host.Stream = (*fakeStream)(nil)
