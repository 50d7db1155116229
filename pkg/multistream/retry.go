package multistream

import (
	"bufio"
	"errors"
	"io"
	"time"

	"github.com/cuemby/natcore/pkg/host"
)

// readTokenWithRetry applies Config's timeout to each attempt and retries
// up to MaxRetries times with linear back-off when the attempt times out
// without the stream itself being closed (spec.md §4.1 "Failure policy").
// A closed stream (io.EOF / io.ErrClosedPipe) is never retried.
func readTokenWithRetry(s host.Stream, br *bufio.Reader, cfg Config) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if cfg.Timeout > 0 {
			_ = s.SetDeadline(time.Now().Add(cfg.Timeout))
		}
		token, err := readToken(br)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if !isTimeout(err) {
			return "", err
		}
		if attempt < cfg.MaxRetries {
			time.Sleep(time.Duration(attempt+1) * 100 * time.Millisecond)
		}
	}
	return "", errors.Join(ErrReadTimeout, lastErr)
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return false
	}
	type timeouter interface{ Timeout() bool }
	var t timeouter
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return errors.Is(err, host.ErrDeadlineExceeded)
}
