// Package engine is the dispatcher of the delivery engine. It receives raw
// packets from the transport, decides per message id whether to process,
// ignore or re-ack, hands plaintext to the application handler, and drives
// acks, receipts and decrypt-failure recovery. All mutable state lives on a
// single serial queue.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ibs-source/delivery-engine/internal/ackqueue"
	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
	"github.com/ibs-source/delivery-engine/internal/receipts"
	"github.com/ibs-source/delivery-engine/internal/recovery"
	"github.com/ibs-source/delivery-engine/internal/serial"
	"github.com/ibs-source/delivery-engine/internal/tracker"
)

// Transport is the packet connection the engine runs on. The engine never
// changes connectivity; it only reads it.
type Transport interface {
	Send(packet []byte) bool
	IsConnected() bool
	OnConnectionEstablished(fn func())
}

// Decrypter turns an envelope into plaintext. Content failures are reported
// as *message.DecryptFailure.
type Decrypter interface {
	Decrypt(ctx context.Context, env message.Envelope) ([]byte, error)
}

// Handler receives the engine's application-level events. Methods run on the
// engine's serial queue and must not block.
type Handler interface {
	// HandleMessage is called once per successfully decrypted message.
	HandleMessage(d message.Delivery)
	// HandleUndecryptable is called with a tombstone when a regular message
	// could not be decrypted. Recovery has been started.
	HandleUndecryptable(d message.Delivery)
	// ReceiptDelivered is called when the transport acked a receipt.
	ReceiptDelivered(r message.PendingReceipt)
	// AckReceived is called for acks that matched no pending receipt.
	AckReceived(id string)
}

// Config holds the engine's tunables.
type Config struct {
	QueueCapacity  int
	DecryptTimeout time.Duration
	StatsInterval  time.Duration
	Recovery       recovery.Config
}

// Stats is a point-in-time view of the engine state.
type Stats struct {
	Tracked         int
	BufferedAcks    int
	PendingReceipts int
	Recovery        recovery.Stats
	Received        int
	Duplicates      int
	Processed       int
	Failed          int
	Malformed       int
}

// Engine composes tracker, ack queue, receipt ledger and recovery manager.
type Engine struct {
	cfg       Config
	transport Transport
	decrypter Decrypter
	handler   Handler
	queue     *serial.Queue

	tracker  *tracker.Tracker
	acks     *ackqueue.Queue
	receipts *receipts.Ledger
	recovery *recovery.Manager
	counters Stats

	decryptCtx    context.Context
	cancelDecrypt context.CancelFunc
	inflight      sync.WaitGroup
	closeMu       sync.Mutex
	closing       bool // set before inflight.Wait so no decrypt starts after it
	closeOnce     sync.Once
	log           *log.Logger
}

// Option configures optional engine dependencies.
type Option func(*options)

type options struct {
	receiptOpts  []receipts.Option
	recoveryOpts []recovery.Option
}

// WithReceiptOptions passes options to the receipt ledger.
func WithReceiptOptions(opts ...receipts.Option) Option {
	return func(o *options) { o.receiptOpts = append(o.receiptOpts, opts...) }
}

// WithRecoveryOptions passes options to the recovery manager.
func WithRecoveryOptions(opts ...recovery.Option) Option {
	return func(o *options) { o.recoveryOpts = append(o.recoveryOpts, opts...) }
}

// New wires an engine to its collaborators and registers for connection
// events on transport.
func New(
	cfg Config,
	transport Transport,
	decrypter Decrypter,
	keys recovery.KeyManager,
	store recovery.Store,
	handler Handler,
	logger *log.Logger,
	opts ...Option,
) *Engine {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.DecryptTimeout <= 0 {
		cfg.DecryptTimeout = 30 * time.Second
	}

	queue := serial.New(cfg.QueueCapacity, logger.Component("serial"))
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		cfg:           cfg,
		transport:     transport,
		decrypter:     decrypter,
		handler:       handler,
		queue:         queue,
		tracker:       tracker.New(),
		acks:          ackqueue.New(transport, logger.Component("ackqueue")),
		receipts:      receipts.New(transport, logger.Component("receipts"), o.receiptOpts...),
		recovery:      recovery.New(cfg.Recovery, store, keys, transport, queue, logger.Component("recovery"), o.recoveryOpts...),
		decryptCtx:    ctx,
		cancelDecrypt: cancel,
		log:           logger.Component("engine"),
	}

	transport.OnConnectionEstablished(e.connectionEstablished)
	return e
}

// HandlePacket accepts one raw inbound packet from the transport.
func (e *Engine) HandlePacket(raw []byte) {
	if err := e.queue.Post(func() { e.dispatch(raw) }); err != nil {
		e.log.Warn("Dropping inbound packet: %v", err)
	}
}

// SendReceipt records a receipt for recipient and sends it when possible.
func (e *Engine) SendReceipt(r message.Receipt, recipient string) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("invalid receipt kind %q", r.Kind)
	}
	if recipient == "" {
		return fmt.Errorf("receipt for %s has no recipient", r.ItemID)
	}
	return e.queue.Post(func() {
		p := e.receipts.Send(r, recipient)
		e.log.Debug("Queued %s receipt %s for item %s", p.Kind, p.PacketID, p.ItemID)
	})
}

// Stats returns a snapshot taken on the serial queue.
func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.queue.Do(ctx, func() {
		s = e.counters
		s.Tracked = e.tracker.Len()
		s.BufferedAcks = e.acks.Len()
		s.PendingReceipts = e.receipts.Len()
		s.Recovery = e.recovery.Stats()
	})
	return s, err
}

// State returns the processing state of id.
func (e *Engine) State(ctx context.Context, id string) (message.ProcessingState, error) {
	var st message.ProcessingState
	err := e.queue.Do(ctx, func() { st = e.tracker.State(id) })
	return st, err
}

// Sync waits until everything posted before it has run.
func (e *Engine) Sync(ctx context.Context) error {
	return e.queue.Do(ctx, func() {})
}

// connectionEstablished runs on the transport's goroutine after every
// (re)connection.
func (e *Engine) connectionEstablished() {
	err := e.queue.Post(func() {
		flushed := e.acks.Flush()
		resent := e.receipts.ResendAll()
		pruned := e.recovery.Prune()
		e.log.Info("Connection established: flushed %d acks, resent %d receipts, pruned %d records", flushed, resent, pruned)
	})
	if err != nil {
		e.log.Warn("Ignoring connection event: %v", err)
	}
}

func (e *Engine) dispatch(raw []byte) {
	in, err := message.Decode(raw)
	if err != nil {
		e.counters.Malformed++
		if errors.Is(err, message.ErrUnknownPacket) {
			e.log.Debug("Ignoring packet: %v", err)
			return
		}
		e.log.Warn("Dropping malformed packet: %v", err)
		return
	}

	switch in.Type {
	case message.TypeAck:
		e.onAck(*in.Ack)
	case message.TypeMessage:
		e.onEnvelope(*in.Envelope)
	}
}

func (e *Engine) onAck(ack message.Ack) {
	if r, ok := e.receipts.OnAck(ack.ID); ok {
		e.handler.ReceiptDelivered(r)
		return
	}
	e.handler.AckReceived(ack.ID)
}

func (e *Engine) onEnvelope(env message.Envelope) {
	e.counters.Received++

	switch e.tracker.Classify(env.ID) {
	case tracker.Duplicate:
		e.counters.Duplicates++
		e.log.Debug("Duplicate delivery of %s while in flight", env.ID)
	case tracker.AlreadyDone:
		e.counters.Duplicates++
		e.acks.Ack(env.ID, env.Timestamp)
	case tracker.Fresh:
		// A failed attempt may already have been acked this session; the
		// outcome of this attempt gets its own ack.
		e.acks.Forget(env.ID)
		e.decrypt(env)
	}
}

// decrypt runs the decrypter off the queue and posts the outcome back.
func (e *Engine) decrypt(env message.Envelope) {
	e.closeMu.Lock()
	if e.closing {
		e.closeMu.Unlock()
		e.log.Debug("Not decrypting %s, engine is closing", env.ID)
		return
	}
	e.inflight.Add(1)
	e.closeMu.Unlock()

	go func() {
		defer e.inflight.Done()

		ctx, cancel := context.WithTimeout(e.decryptCtx, e.cfg.DecryptTimeout)
		plaintext, err := e.decrypter.Decrypt(ctx, env)
		cancel()

		if e.decryptCtx.Err() != nil {
			return
		}
		if postErr := e.queue.Post(func() { e.onDecrypted(env, plaintext, err) }); postErr != nil {
			e.log.Warn("Dropping decrypt result for %s: %v", env.ID, postErr)
		}
	}()
}

func (e *Engine) onDecrypted(env message.Envelope, plaintext []byte, err error) {
	if err == nil {
		e.counters.Processed++
		e.tracker.MarkProcessed(env.ID)
		e.acks.Ack(env.ID, env.Timestamp)
		if !env.IsProbe() {
			e.handler.HandleMessage(message.Delivery{Envelope: env, Plaintext: plaintext})
		}
		return
	}

	var failure *message.DecryptFailure
	if !errors.As(err, &failure) {
		failure = &message.DecryptFailure{Reason: err.Error()}
	}
	e.counters.Failed++
	e.log.Warn("Could not decrypt %s from %s: %v", env.ID, env.SenderID, err)

	e.tracker.MarkAwaitingRedelivery(env.ID)
	e.acks.Ack(env.ID, env.Timestamp)
	if !env.IsProbe() {
		e.handler.HandleUndecryptable(message.Delivery{Envelope: env, Failure: failure})
	}
	e.recovery.HandleFailure(recovery.Failure{
		MessageID:    env.ID,
		SenderID:     env.SenderID,
		Probe:        env.IsProbe(),
		EphemeralKey: failure.EphemeralKey,
	})
}

// Run blocks until ctx is done, logging stats periodically, then closes the
// engine.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("Starting delivery engine")
	defer e.Close()

	if e.cfg.StatsInterval <= 0 {
		<-ctx.Done()
		e.log.Info("Shutting down delivery engine")
		return ctx.Err()
	}

	ticker := time.NewTicker(e.cfg.StatsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.log.Info("Shutting down delivery engine")
			return ctx.Err()
		case <-ticker.C:
			e.logStats(ctx)
		}
	}
}

func (e *Engine) logStats(ctx context.Context) {
	s, err := e.Stats(ctx)
	if err != nil {
		return
	}
	e.log.Info("Stats: received=%d processed=%d failed=%d duplicates=%d tracked=%d buffered_acks=%d pending_receipts=%d rerequests=%d abandoned=%d store=%s",
		s.Received, s.Processed, s.Failed, s.Duplicates, s.Tracked, s.BufferedAcks, s.PendingReceipts,
		s.Recovery.RerequestsSent, s.Recovery.Abandoned, s.Recovery.StoreState)
}

// Close cancels in-flight decrypts and stops the serial queue. In-memory
// state is discarded.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.closeMu.Lock()
		e.closing = true
		e.closeMu.Unlock()

		e.cancelDecrypt()
		e.inflight.Wait()
		e.queue.Close()
	})
}
