// Package dcutr implements DCUtR hole punching (spec.md §4.4): once a
// relayed connection exists between two peers, one side (the initiator)
// coordinates a simultaneous-connect attempt to upgrade it to a direct
// connection, falling back to the relay on failure.
package dcutr

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolID is the multistream protocol id DCUtR negotiates (spec.md §6).
const ProtocolID = "/libp2p/dcutr"

// ServiceName tags every DCUtR stream's resource reservation (spec.md §6).
const ServiceName = "libp2p.holepunch"

// StreamReservation is DCUtR's per-protocol memory ceiling (spec.md §5).
const StreamReservation = 4 * 1024

// MaxMsgSize is the maximum encoded HolePunch message size (spec.md §4.4).
const MaxMsgSize = 4 * 1024

// MessageType distinguishes the two HolePunch variants (spec.md §4.4, §6).
type MessageType int32

const (
	TypeConnect MessageType = 1
	TypeSync    MessageType = 2
)

const (
	fieldHolePunchType     = 1
	fieldHolePunchObsAddrs = 2
)

// HolePunch is DCUtR's single wire message type: either a CONNECT carrying
// the sender's observed address snapshot, or a bare SYNC (spec.md §6).
type HolePunch struct {
	Type     MessageType
	ObsAddrs [][]byte
}

func (m HolePunch) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldHolePunchType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Type))
	for _, a := range m.ObsAddrs {
		b = protowire.AppendTag(b, fieldHolePunchObsAddrs, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	return b
}

func UnmarshalHolePunch(b []byte) (HolePunch, error) {
	var m HolePunch
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("dcutr: malformed HolePunch tag")
		}
		b = b[n:]
		switch {
		case num == fieldHolePunchType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("dcutr: malformed HolePunch type")
			}
			m.Type = MessageType(v)
			b = b[n:]
		case num == fieldHolePunchObsAddrs && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("dcutr: malformed HolePunch obsAddr")
			}
			m.ObsAddrs = append(m.ObsAddrs, append([]byte(nil), v...))
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("dcutr: malformed HolePunch field")
			}
			b = b[n:]
		}
	}
	if m.Type != TypeConnect && m.Type != TypeSync {
		return m, fmt.Errorf("dcutr: unknown HolePunch type %d", m.Type)
	}
	return m, nil
}
