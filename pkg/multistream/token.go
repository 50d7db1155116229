package multistream

import (
	"bufio"
	"io"

	"github.com/cuemby/natcore/pkg/ma"
)

// MaxTokenSize is the maximum payload length of a multistream token,
// before the trailing newline (spec.md §4.1).
const MaxTokenSize = 1024

// frameworkID is the constant multistream-select version token exchanged
// at the start of every handshake (spec.md §4.1, §6).
const frameworkID = "/multistream/1.0.0"

// naToken is the responder's "try next" reply to an unrecognized offer.
const naToken = "na"

// writeToken writes a varint-length-prefixed, newline-terminated token.
// The length prefix counts the trailing newline.
func writeToken(w io.Writer, token string) error {
	buf, err := appendToken(nil, token)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// appendToken appends a token's wire form to buf, sharing the exact
// layout writeToken sends, for callers (the lazy-open client) that need
// to bundle several tokens and a payload into a single underlying Write.
func appendToken(buf []byte, token string) ([]byte, error) {
	if len(token) > MaxTokenSize {
		return buf, ErrMessageTooLarge
	}
	buf = ma.AppendVarint(buf, uint64(len(token)+1))
	buf = append(buf, token...)
	buf = append(buf, '\n')
	return buf, nil
}

// readToken reads one varint-length-prefixed, newline-terminated token
// from br, returning the token with its trailing newline stripped.
func readToken(br *bufio.Reader) (string, error) {
	length, err := readUvarint(br)
	if err != nil {
		return "", err
	}
	if length == 0 || length-1 > MaxTokenSize {
		return "", ErrMessageTooLarge
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(br, buf); err != nil {
		return "", err
	}
	if buf[len(buf)-1] != '\n' {
		return "", ErrIncorrectVersion
	}
	return string(buf[:len(buf)-1]), nil
}

// readUvarint reads a single protobuf-style varint byte-by-byte from br,
// sharing the wire's varint shape with pkg/ma without pulling in a
// buffering dependency of its own.
func readUvarint(br *bufio.Reader) (uint64, error) {
	var x uint64
	var s uint
	for i := 0; i < 10; i++ {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			return x | uint64(b)<<s, nil
		}
		x |= uint64(b&0x7f) << s
		s += 7
	}
	return 0, ErrMessageTooLarge
}
