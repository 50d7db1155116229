package ma

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Component is a single (protocol-code, value) pair within a MultiAddr.
// Value is empty for marker protocols.
type Component struct {
	Code  Code
	Value []byte
}

// MultiAddr is an immutable, ordered sequence of components encoding a
// fully qualified network endpoint. Construct via NewMultiAddr or Decode;
// never mutate the Components slice of a constructed value.
type MultiAddr struct {
	components []Component
}

// NewMultiAddr validates and wraps a component sequence. Invariant (i) of
// the data model: the first component must be an address family.
func NewMultiAddr(components ...Component) (MultiAddr, error) {
	if len(components) == 0 {
		return MultiAddr{}, fmt.Errorf("ma: empty address")
	}
	if !addressFamilies[components[0].Code] {
		return MultiAddr{}, fmt.Errorf("ma: first component %s is not an address family", components[0].Code)
	}
	cp := make([]Component, len(components))
	copy(cp, components)
	return MultiAddr{components: cp}, nil
}

// Components returns a defensive copy of the address's components.
func (m MultiAddr) Components() []Component {
	cp := make([]Component, len(m.components))
	copy(cp, m.components)
	return cp
}

// Empty reports whether the address carries no components.
func (m MultiAddr) Empty() bool { return len(m.components) == 0 }

// Encode serializes the address to its wire form: a concatenation of
// (varint protocol-code, value) pairs, per spec.md §6.
func (m MultiAddr) Encode() []byte {
	var out []byte
	for _, c := range m.components {
		out = protowire.AppendVarint(out, uint64(c.Code))
		def := protoTable[c.Code]
		switch def.kind {
		case KindMarker:
			// no value
		case KindLengthPrefixed:
			out = protowire.AppendVarint(out, uint64(len(c.Value)))
			out = append(out, c.Value...)
		default:
			// fixed-size: value already sized correctly by the constructor
			out = append(out, c.Value...)
		}
	}
	return out
}

// Decode parses the wire form produced by Encode. decode(encode(x)) == x
// for all well-formed addresses (spec.md §8).
func Decode(b []byte) (MultiAddr, error) {
	var components []Component
	for len(b) > 0 {
		code, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return MultiAddr{}, fmt.Errorf("ma: malformed protocol code")
		}
		b = b[n:]
		def, ok := protoTable[Code(code)]
		if !ok {
			return MultiAddr{}, fmt.Errorf("ma: unknown protocol code %d", code)
		}
		var value []byte
		switch def.kind {
		case KindMarker:
		case KindFixed4:
			if len(b) < 4 {
				return MultiAddr{}, fmt.Errorf("ma: truncated ip4 value")
			}
			value, b = b[:4], b[4:]
		case KindFixed16:
			if len(b) < 16 {
				return MultiAddr{}, fmt.Errorf("ma: truncated ip6 value")
			}
			value, b = b[:16], b[16:]
		case KindFixed2:
			if len(b) < 2 {
				return MultiAddr{}, fmt.Errorf("ma: truncated port value")
			}
			value, b = b[:2], b[2:]
		case KindLengthPrefixed:
			ln, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return MultiAddr{}, fmt.Errorf("ma: malformed length prefix")
			}
			b = b[n:]
			if uint64(len(b)) < ln {
				return MultiAddr{}, fmt.Errorf("ma: truncated length-prefixed value")
			}
			value, b = b[:ln], b[ln:]
		}
		components = append(components, Component{Code: Code(code), Value: append([]byte(nil), value...)})
	}
	return NewMultiAddr(components...)
}

// String renders a human-readable "/proto/value/..." form, primarily for
// logging; it is not consumed by Decode.
func (m MultiAddr) String() string {
	var sb strings.Builder
	for _, c := range m.components {
		sb.WriteByte('/')
		sb.WriteString(c.Code.String())
		switch protoTable[c.Code].kind {
		case KindMarker:
		case KindFixed4:
			sb.WriteByte('/')
			sb.WriteString(fmt.Sprintf("%d.%d.%d.%d", c.Value[0], c.Value[1], c.Value[2], c.Value[3]))
		case KindFixed16:
			sb.WriteByte('/')
			for i := 0; i < 16; i += 2 {
				if i > 0 {
					sb.WriteByte(':')
				}
				sb.WriteString(fmt.Sprintf("%x", binary.BigEndian.Uint16(c.Value[i:i+2])))
			}
		case KindFixed2:
			sb.WriteByte('/')
			sb.WriteString(strconv.Itoa(int(binary.BigEndian.Uint16(c.Value))))
		case KindLengthPrefixed:
			sb.WriteByte('/')
			sb.Write(c.Value)
		}
	}
	return sb.String()
}

// Equal reports exact component-sequence equality.
func (m MultiAddr) Equal(other MultiAddr) bool {
	if len(m.components) != len(other.components) {
		return false
	}
	for i := range m.components {
		if m.components[i].Code != other.components[i].Code {
			return false
		}
		if string(m.components[i].Value) != string(other.components[i].Value) {
			return false
		}
	}
	return true
}

// SplitCircuit implements invariant (ii): if a p2p-circuit marker is
// present, the address splits into a relay-facing prefix and a
// target-peer suffix. ok is false if no circuit marker is present.
func (m MultiAddr) SplitCircuit() (relay MultiAddr, target MultiAddr, ok bool) {
	for i, c := range m.components {
		if c.Code == CodeP2PCircuit {
			relay = MultiAddr{components: append([]Component(nil), m.components[:i]...)}
			target = MultiAddr{components: append([]Component(nil), m.components[i+1:]...)}
			return relay, target, true
		}
	}
	return MultiAddr{}, MultiAddr{}, false
}

// IsRelay reports whether the address contains a p2p-circuit component.
func (m MultiAddr) IsRelay() bool {
	_, _, ok := m.SplitCircuit()
	return ok
}

// ThinWaist returns the address prefix consisting of exactly the first IP
// component followed by exactly the first TCP/UDP component, per the
// glossary definition. ok is false if the address lacks either part.
func (m MultiAddr) ThinWaist() (waist MultiAddr, rest []Component, ok bool) {
	if len(m.components) < 2 {
		return MultiAddr{}, nil, false
	}
	first := m.components[0]
	if protoTable[first.Code].kind != KindFixed4 && protoTable[first.Code].kind != KindFixed16 {
		return MultiAddr{}, nil, false
	}
	for i := 1; i < len(m.components); i++ {
		if isTransport(m.components[i].Code) {
			waist = MultiAddr{components: append([]Component(nil), m.components[:i+1]...)}
			rest = append([]Component(nil), m.components[i+1:]...)
			return waist, rest, true
		}
	}
	return MultiAddr{}, nil, false
}

// IsPrivate reports whether the address's first component is a loopback or
// RFC1918/ULA private address. Used by DCUtR address filtering and
// AutoNATv2 server-side public-address gating.
func (m MultiAddr) IsPrivate() bool {
	if len(m.components) == 0 {
		return true
	}
	c := m.components[0]
	switch protoTable[c.Code].kind {
	case KindFixed4:
		v := c.Value
		if v[0] == 127 {
			return true
		}
		if v[0] == 10 {
			return true
		}
		if v[0] == 192 && v[1] == 168 {
			return true
		}
		if v[0] == 172 && v[1] >= 16 && v[1] <= 31 {
			return true
		}
		if v[0] == 169 && v[1] == 254 {
			return true
		}
		return false
	case KindFixed16:
		v := c.Value
		if isIPv6Loopback(v) {
			return true
		}
		// fc00::/7 unique local
		return v[0]&0xfe == 0xfc
	default:
		// DNS-named addresses are treated as potentially public; resolution
		// is the caller's responsibility.
		return false
	}
}

func isIPv6Loopback(v []byte) bool {
	for i := 0; i < 15; i++ {
		if v[i] != 0 {
			return false
		}
	}
	return v[15] == 1
}

// NormalizedEqual implements the AutoNATv2 address-consistency rule
// (spec.md §4.3): component sequences must match exactly, except at
// position 0 where dns/dnsaddr may match ip4/ip6, and dns4 may match ip4,
// dns6 may match ip6.
func NormalizedEqual(offered, observed MultiAddr) bool {
	if len(offered.components) == 0 || len(observed.components) == 0 {
		return false
	}
	if len(offered.components) != len(observed.components) {
		return false
	}
	if !familyCompatible(offered.components[0].Code, observed.components[0].Code) {
		return false
	}
	if offered.components[0].Code == observed.components[0].Code &&
		string(offered.components[0].Value) != string(observed.components[0].Value) {
		return false
	}
	for i := 1; i < len(offered.components); i++ {
		if offered.components[i].Code != observed.components[i].Code {
			return false
		}
		if string(offered.components[i].Value) != string(observed.components[i].Value) {
			return false
		}
	}
	return true
}

func familyCompatible(a, b Code) bool {
	if a == b {
		return true
	}
	pairs := [][2]Code{
		{CodeDNS, CodeIP4}, {CodeDNS, CodeIP6},
		{CodeDNSAddr, CodeIP4}, {CodeDNSAddr, CodeIP6},
		{CodeDNS4, CodeIP4},
		{CodeDNS6, CodeIP6},
	}
	for _, p := range pairs {
		if (a == p[0] && b == p[1]) || (a == p[1] && b == p[0]) {
			return true
		}
	}
	return false
}

// SortByKey sorts addresses lexicographically by their encoded form, used
// by the observed-address aggregator's tie-break rule (spec.md §4.5).
func SortByKey(addrs []MultiAddr) {
	sort.Slice(addrs, func(i, j int) bool {
		return string(addrs[i].Encode()) < string(addrs[j].Encode())
	})
}

// NewIP4 builds an /ip4/.../tcp|udp/... address from dotted-quad octets.
func NewIP4(a, b, c, d byte, transport Code, port uint16) (MultiAddr, error) {
	var pbuf [2]byte
	binary.BigEndian.PutUint16(pbuf[:], port)
	return NewMultiAddr(
		Component{Code: CodeIP4, Value: []byte{a, b, c, d}},
		Component{Code: transport, Value: pbuf[:]},
	)
}
