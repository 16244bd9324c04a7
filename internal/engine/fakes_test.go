package engine

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
	"github.com/ibs-source/delivery-engine/internal/recovery"
)

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	onConnect func()
	packets   []map[string]interface{}
}

func (f *fakeTransport) Send(packet []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return false
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(packet, &decoded); err != nil {
		panic(err)
	}
	f.packets = append(f.packets, decoded)
	return true
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) OnConnectionEstablished(fn func()) {
	f.onConnect = fn
}

func (f *fakeTransport) connect() {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.onConnect()
}

func (f *fakeTransport) disconnect() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

// sent returns the packets of the given type sent so far.
func (f *fakeTransport) sent(packetType string) []map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]interface{}
	for _, p := range f.packets {
		if p["type"] == packetType {
			out = append(out, p)
		}
	}
	return out
}

// scriptedDecrypter fails ids listed in failures and blocks ids listed in gates.
type scriptedDecrypter struct {
	mu       sync.Mutex
	failures map[string]error
	gates    map[string]chan struct{}
	calls    map[string]int
}

func newScriptedDecrypter() *scriptedDecrypter {
	return &scriptedDecrypter{
		failures: make(map[string]error),
		gates:    make(map[string]chan struct{}),
		calls:    make(map[string]int),
	}
}

func (d *scriptedDecrypter) fail(id string, err error) {
	d.mu.Lock()
	d.failures[id] = err
	d.mu.Unlock()
}

func (d *scriptedDecrypter) succeed(id string) {
	d.mu.Lock()
	delete(d.failures, id)
	d.mu.Unlock()
}

func (d *scriptedDecrypter) gate(id string) chan struct{} {
	ch := make(chan struct{})
	d.mu.Lock()
	d.gates[id] = ch
	d.mu.Unlock()
	return ch
}

func (d *scriptedDecrypter) Decrypt(ctx context.Context, env message.Envelope) ([]byte, error) {
	d.mu.Lock()
	d.calls[env.ID]++
	gate := d.gates[env.ID]
	err := d.failures[env.ID]
	d.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return append([]byte("plain:"), env.Payload...), nil
}

func (d *scriptedDecrypter) callCount(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[id]
}

type asyncKeys struct{}

func (asyncKeys) IdentityKey() []byte   { return []byte("local-identity") }
func (asyncKeys) SignedPreKeyID() int32 { return 7 }
func (asyncKeys) SessionSetupInfo(_ string, done func(*message.SessionSetupInfo)) {
	go done(&message.SessionSetupInfo{EphemeralKey: []byte("setup")})
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[key], nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) snapshot() (string, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.data[testRecordsKey]), s.sets
}

type recordingHandler struct {
	mu            sync.Mutex
	messages      []message.Delivery
	tombstones    []message.Delivery
	receipts      []message.PendingReceipt
	unmatchedAcks []string
}

func (h *recordingHandler) HandleMessage(d message.Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, d)
}

func (h *recordingHandler) HandleUndecryptable(d message.Delivery) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.tombstones = append(h.tombstones, d)
}

func (h *recordingHandler) ReceiptDelivered(r message.PendingReceipt) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receipts = append(h.receipts, r)
}

func (h *recordingHandler) AckReceived(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unmatchedAcks = append(h.unmatchedAcks, id)
}

func (h *recordingHandler) counts() (messages, tombstones int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.messages), len(h.tombstones)
}

const testRecordsKey = "test:records"

type harness struct {
	t         *testing.T
	transport *fakeTransport
	decrypter *scriptedDecrypter
	store     *memStore
	handler   *recordingHandler
	engine    *Engine
	now       time.Time
	mu        sync.Mutex
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:         t,
		transport: &fakeTransport{},
		decrypter: newScriptedDecrypter(),
		store:     newMemStore(),
		handler:   &recordingHandler{},
		now:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	opts = append(opts, WithRecoveryOptions(recovery.WithClock(h.clock)))
	h.engine = New(Config{
		QueueCapacity:  64,
		DecryptTimeout: time.Second,
		Recovery: recovery.Config{
			RecordsKey:   testRecordsKey,
			MaxResends:   5,
			Retention:    7 * 24 * time.Hour,
			StoreTimeout: time.Second,
		},
	}, h.transport, h.decrypter, asyncKeys{}, h.store, h.handler, log.Discard(), opts...)
	t.Cleanup(h.engine.Close)
	return h
}

func (h *harness) clock() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.now
}

func (h *harness) advance(d time.Duration) {
	h.mu.Lock()
	h.now = h.now.Add(d)
	h.mu.Unlock()
}

func (h *harness) deliver(id, from string, kind message.Kind) {
	h.engine.HandlePacket([]byte(`{"type":"message","id":"` + id + `","from":"` + from +
		`","kind":"` + string(kind) + `","timestamp":1700000000,"payload":"aGk="}`))
}

func (h *harness) ack(id string) {
	h.engine.HandlePacket([]byte(`{"type":"ack","id":"` + id + `","timestamp":1700000001}`))
}

// sync waits for the serial queue to drain what has been posted so far.
func (h *harness) sync() {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(h.t, h.engine.Sync(ctx))
}

func (h *harness) state(id string) message.ProcessingState {
	h.t.Helper()
	st, err := h.engine.State(context.Background(), id)
	require.NoError(h.t, err)
	return st
}

// eventually polls cond on the test goroutine until it holds.
func (h *harness) eventually(cond func() bool, msg string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := h.engine.Sync(ctx); err != nil {
			return false
		}
		return cond()
	}, 2*time.Second, 5*time.Millisecond, msg)
}
