package ma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr func() (MultiAddr, error)
	}{
		{
			name: "ip4 tcp",
			addr: func() (MultiAddr, error) { return NewIP4(198, 51, 100, 5, CodeTCP, 4001) },
		},
		{
			name: "ip4 udp",
			addr: func() (MultiAddr, error) { return NewIP4(10, 0, 0, 1, CodeUDP, 55555) },
		},
		{
			name: "relayed address with target peer",
			addr: func() (MultiAddr, error) {
				return NewMultiAddr(
					Component{Code: CodeIP4, Value: []byte{1, 2, 3, 4}},
					Component{Code: CodeTCP, Value: []byte{0x1f, 0x90}},
					Component{Code: CodeP2PCircuit},
					Component{Code: CodeP2P, Value: []byte("target-peer")},
				)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := tt.addr()
			require.NoError(t, err)

			encoded := addr.Encode()
			decoded, err := Decode(encoded)
			require.NoError(t, err)

			assert.True(t, addr.Equal(decoded), "decode(encode(addr)) should equal addr")
		})
	}
}

func TestNewMultiAddrRejectsNonFamilyFirstComponent(t *testing.T) {
	_, err := NewMultiAddr(Component{Code: CodeTCP, Value: []byte{0, 80}})
	assert.Error(t, err)
}

func TestSplitCircuit(t *testing.T) {
	addr, err := NewMultiAddr(
		Component{Code: CodeIP4, Value: []byte{1, 2, 3, 4}},
		Component{Code: CodeTCP, Value: []byte{0x1f, 0x90}},
		Component{Code: CodeP2PCircuit},
		Component{Code: CodeP2P, Value: []byte("target")},
	)
	require.NoError(t, err)

	relay, target, ok := addr.SplitCircuit()
	require.True(t, ok)
	assert.Len(t, relay.Components(), 2)
	assert.Len(t, target.Components(), 1)
	assert.True(t, addr.IsRelay())
}

func TestThinWaist(t *testing.T) {
	addr, err := NewIP4(198, 51, 100, 5, CodeTCP, 4001)
	require.NoError(t, err)

	waist, rest, ok := addr.ThinWaist()
	require.True(t, ok)
	assert.Len(t, waist.Components(), 2)
	assert.Empty(t, rest)
}

func TestIsPrivate(t *testing.T) {
	tests := []struct {
		name    string
		addr    func() (MultiAddr, error)
		private bool
	}{
		{"loopback", func() (MultiAddr, error) { return NewIP4(127, 0, 0, 1, CodeTCP, 80) }, true},
		{"rfc1918 10/8", func() (MultiAddr, error) { return NewIP4(10, 1, 2, 3, CodeTCP, 80) }, true},
		{"rfc1918 192.168", func() (MultiAddr, error) { return NewIP4(192, 168, 1, 1, CodeTCP, 80) }, true},
		{"public", func() (MultiAddr, error) { return NewIP4(198, 51, 100, 5, CodeTCP, 80) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := tt.addr()
			require.NoError(t, err)
			assert.Equal(t, tt.private, addr.IsPrivate())
		})
	}
}

func TestNormalizedEqualRelaxations(t *testing.T) {
	ip4, _ := NewIP4(198, 51, 100, 5, CodeTCP, 4001)
	dnsAddr, _ := NewMultiAddr(Component{Code: CodeDNS, Value: []byte("example.com")}, Component{Code: CodeTCP, Value: []byte{0x0f, 0xa2}})

	assert.False(t, NormalizedEqual(ip4, dnsAddr), "different rest components must not match")

	dns4, _ := NewMultiAddr(Component{Code: CodeDNS4, Value: []byte("x")}, Component{Code: CodeTCP, Value: []byte{0x0f, 0xa1}})
	ip4b, _ := NewMultiAddr(Component{Code: CodeIP4, Value: []byte{1, 2, 3, 4}}, Component{Code: CodeTCP, Value: []byte{0x0f, 0xa1}})
	assert.True(t, NormalizedEqual(dns4, ip4b))
}

func TestVarintRoundTrip(t *testing.T) {
	for _, n := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1 << 40} {
		b := AppendVarint(nil, n)
		got, consumed := ConsumeVarint(b)
		assert.Equal(t, n, got)
		assert.Equal(t, len(b), consumed)
	}
}
