package multistream

import (
	"bufio"
	"fmt"
	"time"

	"github.com/cuemby/natcore/pkg/host"
	"github.com/cuemby/natcore/pkg/metrics"
)

// SelectProtocol runs the initiator's side of the handshake (spec.md
// §4.1 "Handshake (initiator)") over a freshly opened stream, offering
// protocols in order and returning the first one the responder accepts.
// Format violations and version mismatches reset the stream before
// returning, per the §7 "Protocol violation" policy.
func SelectProtocol(s host.Stream, protocols []string, cfg Config) (string, error) {
	start := time.Now()
	selected, err := selectProtocol(s, protocols, cfg)
	metrics.MultistreamNegotiationDuration.Observe(time.Since(start).Seconds())
	metrics.MultistreamNegotiationsTotal.WithLabelValues(negotiationOutcome(err)).Inc()
	return selected, err
}

func selectProtocol(s host.Stream, protocols []string, cfg Config) (string, error) {
	br := bufio.NewReader(s)

	if err := writeToken(s, frameworkID); err != nil {
		return "", fmt.Errorf("multistream: write framework id: %w", err)
	}
	got, err := readTokenWithRetry(s, br, cfg)
	if err != nil {
		_ = s.Reset()
		return "", fmt.Errorf("multistream: read framework id: %w", err)
	}
	if got != frameworkID {
		_ = s.Reset()
		return "", ErrIncorrectVersion
	}

	for _, p := range protocols {
		if err := writeToken(s, p); err != nil {
			return "", fmt.Errorf("multistream: offer %q: %w", p, err)
		}
		reply, err := readTokenWithRetry(s, br, cfg)
		if err != nil {
			return "", fmt.Errorf("multistream: read reply to %q: %w", p, err)
		}
		switch reply {
		case p:
			return p, nil
		case naToken:
			continue
		default:
			_ = s.Reset()
			return "", ErrUnrecognizedResponse
		}
	}

	_ = s.Reset()
	return "", ErrNoCommonProtocol
}

// negotiationOutcome maps a negotiation error to the metrics label, per
// the §7 error taxonomy the handshake already returns.
func negotiationOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case err == ErrNoCommonProtocol:
		return "no_common_protocol"
	case err == ErrIncorrectVersion:
		return "incorrect_version"
	case err == ErrUnrecognizedResponse:
		return "unrecognized_response"
	default:
		return "io_error"
	}
}

// HandleStream runs the responder's side of the handshake (spec.md §4.1
// "Handshake (responder)") on a freshly accepted stream: exchanges the
// framework id, then repeatedly reads offered protocol tokens against
// registry until one matches, invoking the handler with a stream whose
// leftover bytes (if any arrived bundled with the negotiation in a single
// read) have been re-injected (spec.md §4.1 "Leftover handling").
func HandleStream(s host.Stream, registry *Registry, cfg Config) error {
	start := time.Now()
	handler, negotiated, err := handleStream(s, registry, cfg)
	metrics.MultistreamNegotiationDuration.Observe(time.Since(start).Seconds())
	metrics.MultistreamNegotiationsTotal.WithLabelValues(negotiationOutcome(err)).Inc()
	if err != nil {
		return err
	}
	handler(negotiated)
	return nil
}

// handleStream runs the handshake itself, stopping short of invoking the
// matched handler so HandleStream can record the negotiation metrics
// before handing off to application code.
func handleStream(s host.Stream, registry *Registry, cfg Config) (host.StreamHandler, host.Stream, error) {
	br := bufio.NewReader(s)

	if err := writeToken(s, frameworkID); err != nil {
		return nil, nil, fmt.Errorf("multistream: write framework id: %w", err)
	}
	got, err := readTokenWithRetry(s, br, cfg)
	if err != nil {
		_ = s.Reset()
		return nil, nil, fmt.Errorf("multistream: read framework id: %w", err)
	}
	if got != frameworkID {
		_ = s.Reset()
		return nil, nil, ErrIncorrectVersion
	}

	for {
		offer, err := readTokenWithRetry(s, br, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("multistream: read offer: %w", err)
		}

		handler, ok := registry.lookup(offer)
		if !ok {
			if err := writeToken(s, naToken); err != nil {
				return nil, nil, fmt.Errorf("multistream: write na: %w", err)
			}
			continue
		}

		if err := writeToken(s, offer); err != nil {
			return nil, nil, fmt.Errorf("multistream: ack %q: %w", offer, err)
		}

		leftover := drainBuffered(br)
		negotiated := withLeftover(s, leftover)
		negotiated.SetProtocol(offer)
		return handler, negotiated, nil
	}
}

// drainBuffered returns (and clears) any bytes bufio.Reader already
// buffered from the underlying stream beyond the last token it parsed —
// these are the bytes the Leftover handling rule requires be replayed to
// the handler.
func drainBuffered(br *bufio.Reader) []byte {
	n := br.Buffered()
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	_, _ = br.Read(buf)
	return buf
}
