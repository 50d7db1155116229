package dcutr

import "github.com/cuemby/natcore/pkg/ma"

// AddrFilter further restricts the addresses DCUtR is willing to offer in
// a CONNECT, beyond the mandatory private/loopback/relay strip (spec.md
// §4.4 "Address filtering"). A nil filter admits everything that survives
// the mandatory strip.
type AddrFilter func(addr ma.MultiAddr) bool

// filterAddrs strips private/loopback addresses and anything still
// carrying a relay-circuit marker, then applies extra if non-nil.
func filterAddrs(addrs []ma.MultiAddr, extra AddrFilter) []ma.MultiAddr {
	out := make([]ma.MultiAddr, 0, len(addrs))
	for _, a := range addrs {
		if a.IsPrivate() || a.IsRelay() {
			continue
		}
		if extra != nil && !extra(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

func encodeAddrs(addrs []ma.MultiAddr) [][]byte {
	out := make([][]byte, len(addrs))
	for i, a := range addrs {
		out[i] = a.Encode()
	}
	return out
}

func decodeAddrs(raw [][]byte) []ma.MultiAddr {
	out := make([]ma.MultiAddr, 0, len(raw))
	for _, b := range raw {
		a, err := ma.Decode(b)
		if err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}
