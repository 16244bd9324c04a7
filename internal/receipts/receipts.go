// Package receipts tracks outbound delivery and read receipts until the
// transport acknowledges them, replaying the whole ledger on every reconnect.
// A Ledger is not safe for concurrent use; the engine owns it on its serial
// queue.
package receipts

import (
	"github.com/google/uuid"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
	"github.com/ibs-source/delivery-engine/pkg/jsonfast"
)

// Sender is the slice of the transport the ledger needs.
type Sender interface {
	Send(packet []byte) bool
	IsConnected() bool
}

// Ledger maps packet ids to receipts awaiting a transport ack.
type Ledger struct {
	sender  Sender
	pending map[string]message.PendingReceipt
	newID   func() string
	buf     *jsonfast.Builder
	log     *log.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithIDGenerator replaces the UUID v4 packet id generator.
func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New creates an empty ledger.
func New(sender Sender, logger *log.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		sender:  sender,
		pending: make(map[string]message.PendingReceipt),
		newID:   uuid.NewString,
		buf:     jsonfast.New(256),
		log:     logger,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Send records a receipt for recipient under a fresh packet id and transmits
// it if connected. Receipts created while disconnected wait for ResendAll.
func (l *Ledger) Send(r message.Receipt, recipient string) message.PendingReceipt {
	pending := message.PendingReceipt{
		PacketID:    l.newID(),
		ItemID:      r.ItemID,
		RecipientID: recipient,
		Kind:        r.Kind,
		ThreadID:    r.ThreadID,
	}
	l.pending[pending.PacketID] = pending

	if l.sender.IsConnected() {
		l.transmit(pending)
	} else {
		l.log.Debug("Holding %s receipt %s for %s until reconnect", pending.Kind, pending.PacketID, recipient)
	}
	return pending
}

// ResendAll retransmits every pending receipt without removing any. It
// returns the number of transmit attempts.
func (l *Ledger) ResendAll() int {
	for _, r := range l.pending {
		l.transmit(r)
	}
	if len(l.pending) > 0 {
		l.log.Info("Resent %d pending receipts", len(l.pending))
	}
	return len(l.pending)
}

// OnAck removes and returns the receipt whose packet id matches. The second
// result is false when the ack belongs to something else.
func (l *Ledger) OnAck(packetID string) (message.PendingReceipt, bool) {
	r, ok := l.pending[packetID]
	if !ok {
		return message.PendingReceipt{}, false
	}
	delete(l.pending, packetID)
	return r, true
}

// Len returns the number of pending receipts.
func (l *Ledger) Len() int {
	return len(l.pending)
}

func (l *Ledger) transmit(r message.PendingReceipt) {
	packet, err := message.EncodeReceipt(l.buf, r)
	if err != nil {
		l.log.Error("Failed to encode receipt %s: %v", r.PacketID, err)
		return
	}
	if !l.sender.Send(packet) {
		l.log.Warn("Failed to send receipt %s to %s", r.PacketID, r.RecipientID)
	}
}
