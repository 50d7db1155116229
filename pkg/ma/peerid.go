package ma

import "encoding/hex"

// PeerId is the stable logical identifier for a remote node, derived from
// its public key. Equality is byte equality of the canonical encoding.
type PeerId struct {
	bytes string
}

// NewPeerId wraps a canonical public-key-derived byte encoding.
func NewPeerId(b []byte) PeerId {
	return PeerId{bytes: string(b)}
}

// Bytes returns the canonical encoding.
func (p PeerId) Bytes() []byte { return []byte(p.bytes) }

// Equal reports byte equality of the canonical encodings.
func (p PeerId) Equal(other PeerId) bool { return p.bytes == other.bytes }

// String renders a hex form for logs; it is not a canonical text encoding.
func (p PeerId) String() string { return hex.EncodeToString([]byte(p.bytes)) }

// Empty reports whether the PeerId carries no bytes.
func (p PeerId) Empty() bool { return p.bytes == "" }
