// Package ackqueue sends transport acknowledgments for processed message ids,
// buffering them while the transport is down and flushing on reconnect.
// A Queue is not safe for concurrent use; the engine owns it on its serial
// queue.
package ackqueue

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
	"github.com/ibs-source/delivery-engine/pkg/jsonfast"
)

// Sender is the slice of the transport the queue needs.
type Sender interface {
	Send(packet []byte) bool
	IsConnected() bool
}

// DefaultSessionLimit is how many acked ids a session remembers before the
// oldest are forgotten.
const DefaultSessionLimit = 65536

// Queue holds acks that could not be sent yet.
type Queue struct {
	sender  Sender
	pending map[string]int64 // id -> server timestamp
	sent    *lru.Cache       // ids acked in the current connection session
	buf     *jsonfast.Builder
	log     *log.Logger
}

// Option configures a Queue.
type Option func(*config)

type config struct {
	sessionLimit int
}

// WithSessionLimit bounds the per-session record of acked ids. An id evicted
// from it may be acked again in the same session.
func WithSessionLimit(n int) Option {
	return func(c *config) { c.sessionLimit = n }
}

// New creates an ack queue sending through sender.
func New(sender Sender, logger *log.Logger, opts ...Option) *Queue {
	cfg := config{sessionLimit: DefaultSessionLimit}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.sessionLimit <= 0 {
		cfg.sessionLimit = DefaultSessionLimit
	}
	// lru.New only fails for a non-positive size.
	sent, _ := lru.New(cfg.sessionLimit)

	return &Queue{
		sender:  sender,
		pending: make(map[string]int64),
		sent:    sent,
		buf:     jsonfast.New(128),
		log:     logger,
	}
}

// Ack sends an ack for id now if connected, otherwise buffers it. An id is
// physically acked at most once per connection session.
func (q *Queue) Ack(id string, timestamp int64) {
	if q.sent.Contains(id) {
		q.log.Debug("Ack for %s already sent this session", id)
		return
	}
	if !q.sender.IsConnected() {
		q.pending[id] = timestamp
		q.log.Debug("Buffered ack for %s while disconnected", id)
		return
	}
	q.send(id, timestamp)
}

// Forget clears the session record for id so its next ack goes out even in
// the same session. Called when a message becomes active again after a
// failed attempt that was already acked.
func (q *Queue) Forget(id string) {
	q.sent.Remove(id)
}

// Flush starts a new connection session and sends every buffered ack once.
// Acks whose send fails stay buffered for the next flush.
func (q *Queue) Flush() int {
	q.sent.Purge()
	if len(q.pending) == 0 {
		return 0
	}

	buffered := q.pending
	q.pending = make(map[string]int64, len(buffered))
	flushed := 0
	for id, ts := range buffered {
		if q.send(id, ts) {
			flushed++
		}
	}
	q.log.Info("Flushed %d/%d buffered acks", flushed, len(buffered))
	return flushed
}

// send encodes and transmits one ack. Encoding failures drop the id.
func (q *Queue) send(id string, timestamp int64) bool {
	packet, err := message.EncodeAck(q.buf, message.Ack{ID: id, Timestamp: timestamp})
	if err != nil {
		q.log.Error("Dropping ack for %q: %v", id, err)
		return false
	}
	if !q.sender.Send(packet) {
		q.log.Warn("Failed to send ack for %s, keeping it for the next reconnect", id)
		q.pending[id] = timestamp
		return false
	}
	q.sent.Add(id, struct{}{})
	return true
}

// Len returns the number of buffered acks.
func (q *Queue) Len() int {
	return len(q.pending)
}
