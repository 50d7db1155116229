package swarm

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/host"
)

// duplexPipe is a minimal in-process transport: two io.Pipe()s, one per
// direction, so that CloseWrite can half-close independently of Close —
// something net.Pipe does not support but AutoNATv2's dial-back flow
// relies on (write DialBack, CloseWrite, then read the optional
// response). Used only by pkg/swarm's in-memory Host, which exists to
// exercise the core end to end in tests and the demo CLI without real
// sockets.
type duplexPipe struct {
	r  *io.PipeReader
	w  *io.PipeWriter

	mu       sync.Mutex
	deadline time.Time
}

func newDuplexPair() (a, b *duplexPipe) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	a = &duplexPipe{r: r1, w: w2}
	b = &duplexPipe{r: r2, w: w1}
	return a, b
}

func (p *duplexPipe) Read(buf []byte) (int, error) {
	p.mu.Lock()
	dl := p.deadline
	p.mu.Unlock()

	if dl.IsZero() {
		return p.r.Read(buf)
	}

	remaining := time.Until(dl)
	if remaining <= 0 {
		return 0, host.ErrDeadlineExceeded
	}

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	go func() {
		n, err := p.r.Read(buf)
		done <- result{n, err}
	}()

	select {
	case res := <-done:
		return res.n, res.err
	case <-time.After(remaining):
		return 0, host.ErrDeadlineExceeded
	}
}

func (p *duplexPipe) Write(buf []byte) (int, error) {
	return p.w.Write(buf)
}

func (p *duplexPipe) Close() error {
	_ = p.w.Close()
	_ = p.r.Close()
	return nil
}

func (p *duplexPipe) CloseWrite() error {
	return p.w.Close()
}

// Reset aborts both directions with an error rather than a clean EOF, so
// the peer's blocked Read observes a failure instead of io.EOF.
func (p *duplexPipe) Reset() error {
	_ = p.w.CloseWithError(errReset)
	_ = p.r.CloseWithError(errReset)
	return nil
}

func (p *duplexPipe) SetDeadline(t time.Time) error {
	p.mu.Lock()
	p.deadline = t
	p.mu.Unlock()
	return nil
}

var errReset = errors.New("swarm: stream reset")
