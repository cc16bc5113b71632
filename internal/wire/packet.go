// Package wire defines the inter-node RPC contract carrying CA3 traffic:
// GeneralPacket envelopes, the PacketPayload union, and the request tags
// listed in spec.md §6. Framing (how a GeneralPacket crosses a socket) lives
// in internal/transport; this package only describes the shape.
package wire

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ProtocolVersion is the only version this node speaks. Peer Receiver
// (C7) rejects any packet whose Version differs.
const ProtocolVersion = 4

// PayloadType discriminates a GeneralPacket's payload.
type PayloadType string

const (
	Request       PayloadType = "REQUEST"
	ResultSuccess PayloadType = "RESULT_SUCCESS"
	ResultFailure PayloadType = "RESULT_FAILURE"
)

// RequestTag names one of the twelve-plus request shapes in spec.md §6.
type RequestTag string

const (
	Ping                   RequestTag = "Ping"
	AddPool                RequestTag = "AddPool"
	AddBlock               RequestTag = "AddBlock"
	AddBlockCa3            RequestTag = "AddBlockCa3"
	GetPoolHeight          RequestTag = "GetPoolHeight"
	GetBlockHeight         RequestTag = "GetBlockHeight"
	GetBlockDigest         RequestTag = "GetBlockDigest"
	GetBlock               RequestTag = "GetBlock"
	ExamineBlockDifference RequestTag = "ExamineBlockDifference"
	ExaminePoolDifference  RequestTag = "ExaminePoolDifference"
	DeclareBlockCreation   RequestTag = "DeclareBlockCreation"
	SignAndResendOrStore   RequestTag = "SignAndResendOrStore"
	ResetTestNode          RequestTag = "ResetTestNode"
)

// PacketPayload is the envelope's body.
type PacketPayload struct {
	PayloadType    PayloadType `json:"payload_type"`
	Request        RequestTag  `json:"request,omitempty"`
	DataAsString   string      `json:"data_as_string,omitempty"`
	GErrorAsString string      `json:"g_error_as_string,omitempty"`
}

// GeneralPacket is the single bidirectional envelope every RPC call and
// reply uses, per spec.md §6.
type GeneralPacket struct {
	Version  int           `json:"version"`
	PacketID string        `json:"packet_id"`
	Sender   string        `json:"sender"`
	Receiver string        `json:"receiver"`
	PrevID   string        `json:"prev_id,omitempty"`
	Payload  PacketPayload `json:"payload"`
}

// NewPacketID returns a fresh UUIDv4 string, matching the teacher's use of
// google/uuid for identifiers elsewhere in the pack (e.g. DAO proposal IDs).
func NewPacketID() string { return uuid.NewString() }

// NewRequest builds a REQUEST packet with a fresh packet_id.
func NewRequest(sender, receiver string, tag RequestTag, data interface{}) (GeneralPacket, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return GeneralPacket{}, err
	}
	return GeneralPacket{
		Version:  ProtocolVersion,
		PacketID: NewPacketID(),
		Sender:   sender,
		Receiver: receiver,
		Payload: PacketPayload{
			PayloadType:  Request,
			Request:      tag,
			DataAsString: string(raw),
		},
	}, nil
}

// Reply builds a response packet to req: fresh packet_id, sender/receiver
// swapped, prev_id set to the request's packet_id — per spec.md §4.7.
func (req GeneralPacket) Reply(ok bool, data interface{}, errDetail string) GeneralPacket {
	resp := GeneralPacket{
		Version:  ProtocolVersion,
		PacketID: NewPacketID(),
		Sender:   req.Receiver,
		Receiver: req.Sender,
		PrevID:   req.PacketID,
	}
	if ok {
		raw, err := json.Marshal(data)
		if err != nil {
			resp.Payload = PacketPayload{PayloadType: ResultFailure, GErrorAsString: err.Error()}
			return resp
		}
		resp.Payload = PacketPayload{PayloadType: ResultSuccess, DataAsString: string(raw)}
		return resp
	}
	resp.Payload = PacketPayload{PayloadType: ResultFailure, GErrorAsString: errDetail}
	return resp
}

// Empty reports whether p is the zero packet — the "terminate with empty
// packet_id" response to an unknown request tag, per spec.md §4.7.
func (p GeneralPacket) Empty() bool { return p.PacketID == "" }
