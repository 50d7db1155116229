package multistream

import "errors"

// Protocol-level failures (spec.md §4.1, §7 "Protocol violation"); these
// reset the stream and are never retried on the same stream.
var (
	ErrIncorrectVersion    = errors.New("multistream: incorrect version")
	ErrUnrecognizedResponse = errors.New("multistream: unrecognized response")
	ErrMessageTooLarge     = errors.New("multistream: token exceeds maximum size")
	ErrNoCommonProtocol    = errors.New("multistream: no common protocol")
)

// ErrReadTimeout is a transient I/O failure (spec.md §7): retried up to
// MaxRetries before being surfaced to the caller.
var ErrReadTimeout = errors.New("multistream: read timeout")
