/*
Package multistream implements multistream-select: the byte-level
negotiation every application protocol in the NAT traversal core rides on
(spec.md §4.1). A freshly opened stream always starts with a multistream
handshake; once it selects exactly one protocol both sides understand, the
stream is handed to that protocol's handler with the negotiation's own
framing fully consumed.

Tokens are varint-length-prefixed, newline-terminated UTF-8 strings capped
at 1024 bytes, matching the wire protocols table in spec.md §6. The
initiator side (SelectProtocol) also offers a lazy-open optimization
(LazyClient) that overlaps the write half of the handshake with the
caller's first application write, so a single round trip suffices for
protocols where the initiator speaks first. The responder side
(HandleStream) dispatches through a single mutex-guarded handler Registry and re-injects any bytes read past the accepted token before
invoking the handler, so the handler always sees a contiguous
application-data stream starting at the first application byte.
*/
package multistream
