package autonatv2

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{"dial request", Message{DialRequest: &DialRequest{Addrs: [][]byte{{1, 2, 3}}, Nonce: 0xDEADBEEF}}},
		{"dial response", Message{DialResponse: &DialResponse{Status: StatusOK, DialStatus: DialStatusOK, AddrIdx: 2}}},
		{"dial data request", Message{DialDataRequest: &DialDataRequest{AddrIdx: 1, NumBytes: 50000}}},
		{"dial data response", Message{DialDataResponse: &DialDataResponse{Data: make([]byte, 1000)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.msg.Marshal()
			decoded, err := UnmarshalMessage(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestDialBackRoundTrip(t *testing.T) {
	db := DialBack{Nonce: 0x1122334455667788}
	decoded, err := UnmarshalDialBack(db.Marshal())
	require.NoError(t, err)
	assert.Equal(t, db, decoded)

	resp := DialBackResponse{Status: DialBackStatusOK}
	decodedResp, err := UnmarshalDialBackResponse(resp.Marshal())
	require.NoError(t, err)
	assert.Equal(t, resp, decodedResp)
}
