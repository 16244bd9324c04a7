// Package message provides the data model shared by the delivery engine:
// inbound envelopes, processing states, receipts, rerequest records and the
// collaborator value types.
package message

import (
	"fmt"
	"time"
)

// Payload is the canonical alias for raw message body
type Payload = []byte

// Kind distinguishes user-visible content from session probes.
type Kind string

const (
	KindChat  Kind = "chat"
	KindProbe Kind = "probe"
)

// Envelope is one inbound application message plus its MessageID.
type Envelope struct {
	ID           string
	SenderID     string
	Kind         Kind
	Timestamp    int64 // server-assigned, unix seconds
	Payload      Payload
	EphemeralKey []byte // sender ephemeral key carried in the envelope, if any
}

// IsProbe reports whether the envelope is a silent session probe.
func (e *Envelope) IsProbe() bool {
	return e.Kind == KindProbe
}

// ProcessingState is the in-memory state of one MessageID.
type ProcessingState int

const (
	StateNew ProcessingState = iota
	StateActive
	StateProcessed
	StateAwaitingRedelivery
)

func (s ProcessingState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateProcessed:
		return "processed"
	case StateAwaitingRedelivery:
		return "awaiting_redelivery"
	default:
		return "unknown"
	}
}

// ReceiptKind is the kind of application-level receipt.
type ReceiptKind string

const (
	ReceiptDelivery ReceiptKind = "delivery"
	ReceiptRead     ReceiptKind = "read"
)

// Valid reports whether k is a known receipt kind.
func (k ReceiptKind) Valid() bool {
	return k == ReceiptDelivery || k == ReceiptRead
}

// Receipt is what the application asks to confirm to an item's author.
type Receipt struct {
	ItemID   string
	ThreadID string
	Kind     ReceiptKind
}

// PendingReceipt is a receipt that has not yet been acked by the transport.
type PendingReceipt struct {
	PacketID    string
	ItemID      string
	RecipientID string
	Kind        ReceiptKind
	ThreadID    string
}

// RerequestRecord is the durable retry bookkeeping for one probe.
type RerequestRecord struct {
	ProbeID     string    `json:"probeId"`
	ResendCount int       `json:"resendCount"`
	LastAttempt time.Time `json:"lastAttempt"`
}

// DecryptFailure is returned by the decryption engine when content cannot be decrypted.
type DecryptFailure struct {
	EphemeralKey []byte // ephemeral key used by the failed message, if known
	Reason       string
}

func (f *DecryptFailure) Error() string {
	if f.Reason == "" {
		return "decryption failed"
	}
	return fmt.Sprintf("decryption failed: %s", f.Reason)
}

// SessionSetupInfo is the material needed to re-establish a session with a peer.
type SessionSetupInfo struct {
	EphemeralKey    []byte
	OneTimePreKeyID *int32
}

// Delivery is what the application handler receives for one envelope.
// Failure is set for tombstones.
type Delivery struct {
	Envelope  Envelope
	Plaintext []byte
	Failure   *DecryptFailure
}
