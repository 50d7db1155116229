package ma

// Code identifies a protocol within a MultiAddr component. The numbering
// mirrors the widely deployed multiaddr protocol table so that encoded
// addresses stay compatible with the values peers already advertise.
type Code int

const (
	CodeIP4        Code = 4
	CodeTCP        Code = 6
	CodeUDP        Code = 273
	CodeDNS        Code = 53
	CodeDNS4       Code = 54
	CodeDNS6       Code = 55
	CodeDNSAddr    Code = 56
	CodeIP6        Code = 41
	CodeP2PCircuit Code = 290
	CodeP2P        Code = 421
)

// Kind classifies how a component's value is laid out on the wire.
type Kind int

const (
	// KindMarker components carry no value (e.g. p2p-circuit).
	KindMarker Kind = iota
	// KindFixed4 components carry a fixed 4-byte value (IPv4 address).
	KindFixed4
	// KindFixed16 components carry a fixed 16-byte value (IPv6 address).
	KindFixed16
	// KindFixed2 components carry a fixed 2-byte big-endian value (port).
	KindFixed2
	// KindLengthPrefixed components carry a varint-length-prefixed UTF-8
	// or raw-byte value (DNS names, peer ids).
	KindLengthPrefixed
)

// protoDef describes the wire shape of a protocol code.
type protoDef struct {
	name string
	kind Kind
}

var protoTable = map[Code]protoDef{
	CodeIP4:        {"ip4", KindFixed4},
	CodeIP6:        {"ip6", KindFixed16},
	CodeTCP:        {"tcp", KindFixed2},
	CodeUDP:        {"udp", KindFixed2},
	CodeDNS:        {"dns", KindLengthPrefixed},
	CodeDNS4:       {"dns4", KindLengthPrefixed},
	CodeDNS6:       {"dns6", KindLengthPrefixed},
	CodeDNSAddr:    {"dnsaddr", KindLengthPrefixed},
	CodeP2PCircuit: {"p2p-circuit", KindMarker},
	CodeP2P:        {"p2p", KindLengthPrefixed},
}

// addressFamilies is the set of codes legal as the first component of a
// MultiAddr (invariant (i) of the data model).
var addressFamilies = map[Code]bool{
	CodeIP4: true, CodeIP6: true, CodeDNS: true, CodeDNS4: true, CodeDNS6: true, CodeDNSAddr: true,
}

func (c Code) String() string {
	if d, ok := protoTable[c]; ok {
		return d.name
	}
	return "unknown"
}

func isTransport(c Code) bool {
	return c == CodeTCP || c == CodeUDP
}
