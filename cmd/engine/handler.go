package main

import (
	"github.com/sirupsen/logrus"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
)

// logHandler is the application side of the binary: it only records what the
// engine hands over.
type logHandler struct {
	log *log.Logger
}

func newLogHandler(logger *log.Logger) *logHandler {
	return &logHandler{log: logger}
}

func (h *logHandler) HandleMessage(d message.Delivery) {
	h.log.InfoWithFields(logrus.Fields{
		"id":    d.Envelope.ID,
		"from":  d.Envelope.SenderID,
		"bytes": len(d.Plaintext),
	}, "Message delivered")
}

func (h *logHandler) HandleUndecryptable(d message.Delivery) {
	h.log.WarnWithFields(logrus.Fields{
		"id":   d.Envelope.ID,
		"from": d.Envelope.SenderID,
	}, "Message could not be decrypted: %v", d.Failure)
}

func (h *logHandler) ReceiptDelivered(r message.PendingReceipt) {
	h.log.Debug("Receipt %s for %s delivered to %s", r.Kind, r.ItemID, r.RecipientID)
}

func (h *logHandler) AckReceived(id string) {
	h.log.Debug("Ack %s", id)
}
