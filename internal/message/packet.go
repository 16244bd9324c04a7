package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ibs-source/delivery-engine/pkg/jsonfast"
)

// Packet type discriminators carried in the "type" field.
const (
	TypeAck       = "ack"
	TypeReceipt   = "receipt"
	TypeRerequest = "rerequest"
	TypeMessage   = "message"
)

// ErrUnknownPacket is returned by Decode for packets it does not understand.
var ErrUnknownPacket = errors.New("unknown packet type")

// Ack is a transport-level acknowledgment, inbound or outbound.
type Ack struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// Rerequest asks the original sender to re-establish the session and resend.
type Rerequest struct {
	ID                        string
	To                        string
	TargetMessageID           string
	IdentityKey               []byte
	SignedPreKeyID            int32
	OneTimePreKeyID           *int32
	SessionSetupEphemeralKey  []byte
	FailedMessageEphemeralKey []byte
	ResendCount               int // 0 omits the field
}

// Inbound is a decoded inbound packet. Exactly one of Envelope and Ack is set.
type Inbound struct {
	Type     string
	Envelope *Envelope
	Ack      *Ack
}

// wirePacket is the union of every inbound packet shape.
type wirePacket struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	From         string `json:"from"`
	Kind         Kind   `json:"kind"`
	Timestamp    int64  `json:"timestamp"`
	Payload      []byte `json:"payload"`
	EphemeralKey []byte `json:"ephemeralKey"`
}

// Decode parses an inbound packet from JSON payload
func Decode(raw []byte) (Inbound, error) {
	var p wirePacket
	if err := json.Unmarshal(raw, &p); err != nil {
		return Inbound{}, fmt.Errorf("failed to parse packet: %w", err)
	}

	if p.Type != TypeAck && p.Type != TypeMessage {
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownPacket, p.Type)
	}

	// Validate required fields
	if p.ID == "" {
		return Inbound{}, fmt.Errorf("%s packet missing required field: id", p.Type)
	}

	if p.Type == TypeAck {
		return Inbound{Type: TypeAck, Ack: &Ack{ID: p.ID, Timestamp: p.Timestamp}}, nil
	}

	if p.From == "" {
		return Inbound{}, fmt.Errorf("message packet missing required field: from")
	}
	kind := p.Kind
	if kind == "" {
		kind = KindChat
	}
	if kind != KindChat && kind != KindProbe {
		return Inbound{}, fmt.Errorf("message packet has invalid kind %q", kind)
	}
	return Inbound{
		Type: TypeMessage,
		Envelope: &Envelope{
			ID:           p.ID,
			SenderID:     p.From,
			Kind:         kind,
			Timestamp:    p.Timestamp,
			Payload:      p.Payload,
			EphemeralKey: p.EphemeralKey,
		},
	}, nil
}

// EncodeAck builds the discrete ack packet for one message id.
func EncodeAck(b *jsonfast.Builder, ack Ack) ([]byte, error) {
	if ack.ID == "" {
		return nil, fmt.Errorf("ack missing required field: id")
	}
	b.Reset()
	b.BeginObject()
	b.AddStringField("type", TypeAck)
	b.AddStringField("id", ack.ID)
	b.AddInt64Field("timestamp", ack.Timestamp)
	b.EndObject()
	return b.Copy(), nil
}

// EncodeReceipt builds the receipt packet for a pending receipt.
func EncodeReceipt(b *jsonfast.Builder, r PendingReceipt) ([]byte, error) {
	switch {
	case r.PacketID == "":
		return nil, fmt.Errorf("receipt missing required field: id")
	case r.RecipientID == "":
		return nil, fmt.Errorf("receipt %s missing required field: to", r.PacketID)
	case !r.Kind.Valid():
		return nil, fmt.Errorf("receipt %s has invalid kind %q", r.PacketID, r.Kind)
	}
	b.Reset()
	b.BeginObject()
	b.AddStringField("type", TypeReceipt)
	b.AddStringField("id", r.PacketID)
	b.AddStringField("to", r.RecipientID)
	b.AddStringField("itemId", r.ItemID)
	b.AddStringField("threadId", r.ThreadID)
	b.AddStringField("kind", string(r.Kind))
	b.EndObject()
	return b.Copy(), nil
}

// EncodeRerequest builds a rerequest packet. Optional fields are omitted when empty.
func EncodeRerequest(b *jsonfast.Builder, r Rerequest) ([]byte, error) {
	switch {
	case r.ID == "":
		return nil, fmt.Errorf("rerequest missing required field: id")
	case r.To == "":
		return nil, fmt.Errorf("rerequest %s missing required field: to", r.ID)
	case r.TargetMessageID == "":
		return nil, fmt.Errorf("rerequest %s missing required field: targetMessageId", r.ID)
	case len(r.IdentityKey) == 0:
		return nil, fmt.Errorf("rerequest %s missing required field: identityKey", r.ID)
	case len(r.SessionSetupEphemeralKey) == 0:
		return nil, fmt.Errorf("rerequest %s missing required field: sessionSetupEphemeralKey", r.ID)
	}
	b.Reset()
	b.BeginObject()
	b.AddStringField("type", TypeRerequest)
	b.AddStringField("id", r.ID)
	b.AddStringField("to", r.To)
	b.AddStringField("targetMessageId", r.TargetMessageID)
	b.AddBase64Field("identityKey", r.IdentityKey)
	b.AddInt64Field("signedPreKeyId", int64(r.SignedPreKeyID))
	if r.OneTimePreKeyID != nil {
		b.AddInt64Field("oneTimePreKeyId", int64(*r.OneTimePreKeyID))
	}
	b.AddBase64Field("sessionSetupEphemeralKey", r.SessionSetupEphemeralKey)
	if len(r.FailedMessageEphemeralKey) > 0 {
		b.AddBase64Field("failedMessageEphemeralKey", r.FailedMessageEphemeralKey)
	}
	if r.ResendCount > 0 {
		b.AddInt64Field("resendCount", int64(r.ResendCount))
	}
	b.EndObject()
	return b.Copy(), nil
}
