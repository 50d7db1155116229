package ma

import "google.golang.org/protobuf/encoding/protowire"

// AppendVarint and ConsumeVarint re-export protowire's varint codec so
// callers elsewhere in natcore (frame length prefixes, message field tags)
// share one varint implementation with MultiAddr encoding. decode_varint
// (encode_varint(n)) == n holds because both directions delegate to the
// same protowire routines (spec.md §8).
func AppendVarint(b []byte, n uint64) []byte {
	return protowire.AppendVarint(b, n)
}

// ConsumeVarint decodes a varint from the front of b, returning the value
// and the number of bytes consumed, or a negative count on malformed input.
func ConsumeVarint(b []byte) (uint64, int) {
	return protowire.ConsumeVarint(b)
}
