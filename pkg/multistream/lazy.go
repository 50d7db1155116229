package multistream

import (
	"bufio"
	"sync"
	"time"

	"github.com/cuemby/natcore/pkg/host"
)

// LazyClient wraps a freshly opened stream with the lazy-open optimization
// (spec.md §4.1): the caller's first Write bundles the framework id, the
// single requested protocol, and the caller's own payload into one
// underlying write, so a cooperative responder's single read can observe
// framework id + protocol id + application data together (spec.md §8
// scenario 7). The write and read halves of the handshake are tracked
// independently: writes never block on the read-side handshake, and once
// the read-side handshake fails, every subsequent Read replays that same
// error so write-only callers are unaffected.
type LazyClient struct {
	host.Stream

	protocol string
	cfg      Config

	mu          sync.Mutex
	writeDone   bool
	readDone    bool
	readErr     error
	br          *bufio.Reader
}

// NewLazyClient returns a LazyClient that will negotiate protocol the
// first time either Write or Read is called.
func NewLazyClient(s host.Stream, protocol string, cfg Config) *LazyClient {
	return &LazyClient{Stream: s, protocol: protocol, cfg: cfg}
}

// Write flushes the handshake (framework id + protocol id) bundled ahead
// of p on the first call; subsequent calls write p directly.
func (c *LazyClient) Write(p []byte) (int, error) {
	c.mu.Lock()
	first := !c.writeDone
	c.writeDone = true
	c.mu.Unlock()

	if !first {
		return c.Stream.Write(p)
	}

	buf := encodeToken(frameworkID)
	buf = append(buf, encodeToken(c.protocol)...)
	buf = append(buf, p...)
	n, err := c.Stream.Write(buf)
	// Report only the caller's own payload length, not the bundled
	// handshake bytes, so Write behaves like an ordinary io.Writer.
	written := n - (len(buf) - len(p))
	if written < 0 {
		written = 0
	}
	return written, err
}

// Read completes the read side of the handshake on first call (capturing
// any resulting error for replay on subsequent calls), then reads
// negotiated application data, honoring any leftover bytes buffered past
// the protocol reply token.
func (c *LazyClient) Read(p []byte) (int, error) {
	c.mu.Lock()
	if c.readDone {
		err := c.readErr
		br := c.br
		c.mu.Unlock()
		if err != nil {
			return 0, err
		}
		return br.Read(p)
	}
	first := !c.writeDone
	c.writeDone = true
	c.mu.Unlock()

	if first {
		// No Write has sent the handshake yet: send it on its own so the
		// responder has an offer to answer.
		hs := append(encodeToken(frameworkID), encodeToken(c.protocol)...)
		if _, err := c.Stream.Write(hs); err != nil {
			return 0, err
		}
	}

	br := bufio.NewReader(c.Stream)
	if c.cfg.Timeout > 0 {
		_ = c.Stream.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}

	got, err := readToken(br)
	if err == nil && got != frameworkID {
		err = ErrIncorrectVersion
	}
	if err == nil {
		reply, rerr := readToken(br)
		switch {
		case rerr != nil:
			err = rerr
		case reply == c.protocol:
			// accepted
		case reply == naToken:
			err = ErrNoCommonProtocol
		default:
			err = ErrUnrecognizedResponse
		}
	}

	c.mu.Lock()
	c.readDone = true
	c.readErr = err
	c.br = br
	c.mu.Unlock()

	if c.cfg.Timeout > 0 {
		_ = c.Stream.SetDeadline(time.Time{})
	}
	if err != nil {
		if err != ErrNoCommonProtocol {
			_ = c.Stream.Reset()
		}
		return 0, err
	}
	return br.Read(p)
}

func encodeToken(token string) []byte {
	// MaxTokenSize is enforced by appendToken; a framework id or
	// caller-supplied protocol id that violates it is a programmer error
	// here, not a runtime condition worth propagating through Write.
	buf, _ := appendToken(nil, token)
	return buf
}
