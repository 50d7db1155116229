// Package autonatv2 implements AutoNATv2 (spec.md §4.3): reachability
// verification with dial-data, in which a remote peer dials the requester
// on a candidate address and reports back, with amplification-attack
// defenses (dial-data demanded whenever the requester's source address
// differs from the address to dial back, a separate dial-back host,
// nonce-based single-shot delivery).
package autonatv2

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// ResponseStatus is the top-level outcome of a dial-request (spec.md §6).
type ResponseStatus int32

const (
	StatusInternalError   ResponseStatus = 0
	StatusRequestRejected ResponseStatus = 100
	StatusDialRefused     ResponseStatus = 101
	StatusOK              ResponseStatus = 200
)

// DialStatus is the low-level outcome of the server's own dial-back
// attempt, carried inside a DialResponse once status is OK (spec.md §6).
type DialStatus int32

const (
	DialStatusUnused        DialStatus = 0
	DialStatusDialError     DialStatus = 100
	DialStatusDialBackError DialStatus = 101
	DialStatusOK            DialStatus = 200
)

// messageFieldDialRequest etc. are the oneof field numbers of the
// top-level AutoNATv2 Message (spec.md §6: "oneof of {DialRequest,
// DialResponse, DialDataRequest, DialDataResponse}").
const (
	messageFieldDialRequest      = 1
	messageFieldDialResponse     = 2
	messageFieldDialDataRequest  = 3
	messageFieldDialDataResponse = 4
)

// Message is the oneof envelope every AutoNATv2 request/reply travels in.
// Exactly one field is set.
type Message struct {
	DialRequest      *DialRequest
	DialResponse     *DialResponse
	DialDataRequest  *DialDataRequest
	DialDataResponse *DialDataResponse
}

// Marshal encodes whichever variant is set as a length-delimited
// sub-message under its oneof field number.
func (m Message) Marshal() []byte {
	var b []byte
	switch {
	case m.DialRequest != nil:
		b = protowire.AppendTag(b, messageFieldDialRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, m.DialRequest.Marshal())
	case m.DialResponse != nil:
		b = protowire.AppendTag(b, messageFieldDialResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, m.DialResponse.Marshal())
	case m.DialDataRequest != nil:
		b = protowire.AppendTag(b, messageFieldDialDataRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, m.DialDataRequest.Marshal())
	case m.DialDataResponse != nil:
		b = protowire.AppendTag(b, messageFieldDialDataResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, m.DialDataResponse.Marshal())
	}
	return b
}

// UnmarshalMessage decodes the oneof envelope, setting exactly the field
// that was present on the wire.
func UnmarshalMessage(b []byte) (Message, error) {
	var m Message
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 || typ != protowire.BytesType {
			return m, fmt.Errorf("autonatv2: malformed Message tag")
		}
		b = b[n:]
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed Message field %d", num)
		}
		b = b[n:]

		switch num {
		case messageFieldDialRequest:
			sub, err := UnmarshalDialRequest(v)
			if err != nil {
				return m, err
			}
			m.DialRequest = &sub
		case messageFieldDialResponse:
			sub, err := UnmarshalDialResponse(v)
			if err != nil {
				return m, err
			}
			m.DialResponse = &sub
		case messageFieldDialDataRequest:
			sub, err := UnmarshalDialDataRequest(v)
			if err != nil {
				return m, err
			}
			m.DialDataRequest = &sub
		case messageFieldDialDataResponse:
			sub, err := UnmarshalDialDataResponse(v)
			if err != nil {
				return m, err
			}
			m.DialDataResponse = &sub
		default:
			return m, fmt.Errorf("autonatv2: unknown Message field %d", num)
		}
	}
	return m, nil
}

// Field numbers mirror the AutoNATv2 protobuf schema (spec.md §6), kept
// bit-for-bit compatible with the deployed wire format rather than
// inventing a new layout (spec.md §1 Non-goals).
const (
	fieldDialRequestAddrs = 1
	fieldDialRequestNonce = 2

	fieldDialResponseStatus     = 1
	fieldDialResponseDialStatus = 2
	fieldDialResponseAddrIdx    = 3

	fieldDialDataRequestAddrIdx   = 1
	fieldDialDataRequestNumBytes  = 2

	fieldDialDataResponseData = 1

	fieldDialBackNonce = 1

	fieldDialBackResponseStatus = 1
)

// DialRequest is the client's offer of candidate addresses plus a nonce
// the server must echo back over the dial-back stream.
type DialRequest struct {
	Addrs [][]byte
	Nonce uint64
}

func (m DialRequest) Marshal() []byte {
	var b []byte
	for _, a := range m.Addrs {
		b = protowire.AppendTag(b, fieldDialRequestAddrs, protowire.BytesType)
		b = protowire.AppendBytes(b, a)
	}
	b = protowire.AppendTag(b, fieldDialRequestNonce, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.Nonce)
	return b
}

func UnmarshalDialRequest(b []byte) (DialRequest, error) {
	var m DialRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialRequest tag")
		}
		b = b[n:]
		switch {
		case num == fieldDialRequestAddrs && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialRequest addr")
			}
			m.Addrs = append(m.Addrs, append([]byte(nil), v...))
			b = b[n:]
		case num == fieldDialRequestNonce && typ == protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialRequest nonce")
			}
			m.Nonce = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialRequest field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// DialResponse is the server's final verdict on one dial-request.
type DialResponse struct {
	Status     ResponseStatus
	DialStatus DialStatus
	AddrIdx    uint32
}

func (m DialResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialResponseStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Status))
	b = protowire.AppendTag(b, fieldDialResponseDialStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.DialStatus))
	b = protowire.AppendTag(b, fieldDialResponseAddrIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.AddrIdx))
	return b
}

func UnmarshalDialResponse(b []byte) (DialResponse, error) {
	var m DialResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialResponse tag")
		}
		b = b[n:]
		switch {
		case num == fieldDialResponseStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialResponse status")
			}
			m.Status = ResponseStatus(v)
			b = b[n:]
		case num == fieldDialResponseDialStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialResponse dialStatus")
			}
			m.DialStatus = DialStatus(v)
			b = b[n:]
		case num == fieldDialResponseAddrIdx && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialResponse addrIdx")
			}
			m.AddrIdx = uint32(v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialResponse field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// DialDataRequest asks the client to stream NumBytes of dial-data before
// the server will dial AddrIdx (spec.md §4.3 step 6, amplification
// defense).
type DialDataRequest struct {
	AddrIdx  uint32
	NumBytes uint64
}

func (m DialDataRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialDataRequestAddrIdx, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.AddrIdx))
	b = protowire.AppendTag(b, fieldDialDataRequestNumBytes, protowire.VarintType)
	b = protowire.AppendVarint(b, m.NumBytes)
	return b
}

func UnmarshalDialDataRequest(b []byte) (DialDataRequest, error) {
	var m DialDataRequest
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialDataRequest tag")
		}
		b = b[n:]
		switch {
		case num == fieldDialDataRequestAddrIdx && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialDataRequest addrIdx")
			}
			m.AddrIdx = uint32(v)
			b = b[n:]
		case num == fieldDialDataRequestNumBytes && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialDataRequest numBytes")
			}
			m.NumBytes = v
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialDataRequest field")
			}
			b = b[n:]
		}
	}
	return m, nil
}

// DialDataResponse carries one chunk of the dial-data the client streams
// in response to a DialDataRequest.
type DialDataResponse struct {
	Data []byte
}

func (m DialDataResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialDataResponseData, protowire.BytesType)
	b = protowire.AppendBytes(b, m.Data)
	return b
}

func UnmarshalDialDataResponse(b []byte) (DialDataResponse, error) {
	var m DialDataResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialDataResponse tag")
		}
		b = b[n:]
		if num == fieldDialDataResponseData && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialDataResponse data")
			}
			m.Data = append([]byte(nil), v...)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialDataResponse field")
		}
		b = b[n:]
	}
	return m, nil
}

// DialBack is sent by the server over the separate dial-back stream to
// prove it actually connected to the address it was verifying.
type DialBack struct {
	Nonce uint64
}

func (m DialBack) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialBackNonce, protowire.Fixed64Type)
	b = protowire.AppendFixed64(b, m.Nonce)
	return b
}

func UnmarshalDialBack(b []byte) (DialBack, error) {
	var m DialBack
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialBack tag")
		}
		b = b[n:]
		if num == fieldDialBackNonce && typ == protowire.Fixed64Type {
			v, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialBack nonce")
			}
			m.Nonce = v
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialBack field")
		}
		b = b[n:]
	}
	return m, nil
}

// DialBackResponseStatus is DialBackResponse's single enum value.
type DialBackResponseStatus int32

const DialBackStatusOK DialBackResponseStatus = 0

// DialBackResponse acknowledges a DialBack.
type DialBackResponse struct {
	Status DialBackResponseStatus
}

func (m DialBackResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldDialBackResponseStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Status))
	return b
}

func UnmarshalDialBackResponse(b []byte) (DialBackResponse, error) {
	var m DialBackResponse
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialBackResponse tag")
		}
		b = b[n:]
		if num == fieldDialBackResponseStatus && typ == protowire.VarintType {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return m, fmt.Errorf("autonatv2: malformed DialBackResponse status")
			}
			m.Status = DialBackResponseStatus(v)
			b = b[n:]
			continue
		}
		n = protowire.ConsumeFieldValue(num, typ, b)
		if n < 0 {
			return m, fmt.Errorf("autonatv2: malformed DialBackResponse field")
		}
		b = b[n:]
	}
	return m, nil
}
