package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
)

const recordsKey = "test:rerequests"

type memStore struct {
	data    map[string][]byte
	getErr  error
	setErr  error
	sets    int
	getHits int
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Get(_ context.Context, key string) ([]byte, error) {
	s.getHits++
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.data[key], nil
}

func (s *memStore) Set(_ context.Context, key string, value []byte) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.sets++
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *memStore) stored(t *testing.T) map[string]message.RerequestRecord {
	t.Helper()
	out := map[string]message.RerequestRecord{}
	if raw := s.data[recordsKey]; raw != nil {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return out
}

type fakeKeys struct {
	info *message.SessionSetupInfo
}

func (k *fakeKeys) IdentityKey() []byte   { return []byte("identity-key") }
func (k *fakeKeys) SignedPreKeyID() int32 { return 42 }
func (k *fakeKeys) SessionSetupInfo(_ string, done func(*message.SessionSetupInfo)) {
	done(k.info)
}

type fakeSender struct {
	packets []map[string]interface{}
	fail    bool
}

func (s *fakeSender) Send(packet []byte) bool {
	if s.fail {
		return false
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(packet, &decoded); err != nil {
		panic(err)
	}
	s.packets = append(s.packets, decoded)
	return true
}

// inlinePoster runs posted work immediately; tests drive everything from one goroutine.
type inlinePoster struct{}

func (inlinePoster) Post(fn func()) error {
	fn()
	return nil
}

type fixture struct {
	store  *memStore
	keys   *fakeKeys
	sender *fakeSender
	now    time.Time
	mgr    *Manager
}

func newFixture(t *testing.T, store *memStore) *fixture {
	t.Helper()
	otk := int32(3)
	f := &fixture{
		store:  store,
		keys:   &fakeKeys{info: &message.SessionSetupInfo{EphemeralKey: []byte("setup-key"), OneTimePreKeyID: &otk}},
		sender: &fakeSender{},
		now:    time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = f.build()
	return f
}

func (f *fixture) build() *Manager {
	n := 0
	return New(
		Config{RecordsKey: recordsKey, MaxResends: 5, Retention: 7 * 24 * time.Hour, StoreTimeout: time.Second},
		f.store, f.keys, f.sender, inlinePoster{}, log.Discard(),
		WithClock(func() time.Time { return f.now }),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("rr-%d", n) }),
	)
}

func TestRegularFailure_SendsRerequestWithoutFailedKey(t *testing.T) {
	f := newFixture(t, newMemStore())

	f.mgr.HandleFailure(Failure{MessageID: "m1", SenderID: "alice"})

	require.Len(t, f.sender.packets, 1)
	p := f.sender.packets[0]
	assert.Equal(t, "rerequest", p["type"])
	assert.Equal(t, "alice", p["to"])
	assert.Equal(t, "m1", p["targetMessageId"])
	assert.Equal(t, float64(42), p["signedPreKeyId"])
	assert.Equal(t, float64(3), p["oneTimePreKeyId"])
	assert.NotContains(t, p, "failedMessageEphemeralKey")
	assert.NotContains(t, p, "resendCount")

	assert.Zero(t, f.store.sets, "regular path keeps no durable counter")
	assert.Equal(t, 1, f.mgr.Stats().RerequestsSent)
}

func TestRegularFailure_CarriesFailedKey(t *testing.T) {
	f := newFixture(t, newMemStore())

	f.mgr.HandleFailure(Failure{MessageID: "m1", SenderID: "alice", EphemeralKey: []byte{9, 9}})

	require.Len(t, f.sender.packets, 1)
	assert.Equal(t, "CQk=", f.sender.packets[0]["failedMessageEphemeralKey"])
}

func TestRegularFailure_NoSessionInfoSkips(t *testing.T) {
	f := newFixture(t, newMemStore())
	f.keys.info = nil

	f.mgr.HandleFailure(Failure{MessageID: "m1", SenderID: "alice"})

	assert.Empty(t, f.sender.packets)
	assert.Equal(t, 1, f.mgr.Stats().Skipped)
}

func TestProbeFailure_BoundedRetry(t *testing.T) {
	f := newFixture(t, newMemStore())

	for i := 1; i <= 5; i++ {
		f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
		require.Len(t, f.sender.packets, i)
		assert.Equal(t, float64(i), f.sender.packets[i-1]["resendCount"])
		assert.Equal(t, i, f.store.stored(t)["s1"].ResendCount)
	}

	setsAtCap := f.store.sets
	for i := 0; i < 10; i++ {
		f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
	}

	assert.Len(t, f.sender.packets, 5, "no rerequests after the cap")
	assert.Equal(t, setsAtCap, f.store.sets, "no store writes after the cap")
	assert.Equal(t, 10, f.mgr.Stats().Abandoned)
}

func TestProbeFailure_CounterSurvivesRestart(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)

	for i := 0; i < 3; i++ {
		f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
	}

	restarted := f.build()
	restarted.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	rec, ok := restarted.Record("s1")
	require.True(t, ok)
	assert.Equal(t, 4, rec.ResendCount)
	assert.Equal(t, f.now, rec.LastAttempt.UTC())
}

func TestProbeAcrossSessions_SixthFailureIsSilent(t *testing.T) {
	f := newFixture(t, newMemStore())

	for session := 0; session < 5; session++ {
		f.mgr.Prune()
		f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
		f.now = f.now.Add(time.Hour)
	}
	require.Len(t, f.sender.packets, 5)

	f.mgr.Prune()
	before := string(f.store.data[recordsKey])
	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	assert.Len(t, f.sender.packets, 5)
	assert.Equal(t, before, string(f.store.data[recordsKey]))
}

func TestPrune_RemovesOnlyStaleRecords(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)

	old := message.RerequestRecord{ProbeID: "old", ResendCount: 2, LastAttempt: f.now.Add(-8 * 24 * time.Hour)}
	fresh := message.RerequestRecord{ProbeID: "fresh", ResendCount: 1, LastAttempt: f.now.Add(-6 * 24 * time.Hour)}
	blob, err := json.Marshal(map[string]message.RerequestRecord{"old": old, "fresh": fresh})
	require.NoError(t, err)
	store.data[recordsKey] = blob

	assert.Equal(t, 1, f.mgr.Prune())

	stored := store.stored(t)
	assert.NotContains(t, stored, "old")
	assert.Contains(t, stored, "fresh")
	assert.Equal(t, 1, f.mgr.Stats().Records)
}

func TestPrune_NoChangeNoWrite(t *testing.T) {
	f := newFixture(t, newMemStore())

	assert.Zero(t, f.mgr.Prune())
	assert.Zero(t, f.store.sets)
}

func TestStorageFailure_ProceedsInMemoryAndCatchesUp(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)
	store.setErr = errors.New("disk full")

	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	assert.Len(t, f.sender.packets, 2, "rerequests still go out")
	rec, ok := f.mgr.Record("s1")
	require.True(t, ok)
	assert.Equal(t, 2, rec.ResendCount)
	assert.Empty(t, store.stored(t))

	store.setErr = nil
	f.mgr.Prune()

	assert.Equal(t, 2, store.stored(t)["s1"].ResendCount, "next persist catches up")
}

func TestStorageFailure_ReadErrorUsesCache(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)

	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
	store.getErr = errors.New("connection refused")
	store.setErr = errors.New("connection refused")
	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	rec, _ := f.mgr.Record("s1")
	assert.Equal(t, 2, rec.ResendCount)

	// Store comes back holding the stale count; the unpersisted cache wins.
	store.getErr, store.setErr = nil, nil
	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})
	assert.Equal(t, 3, store.stored(t)["s1"].ResendCount)
}

func TestStorageFailure_ReadErrorKeepsStoredRecords(t *testing.T) {
	store := newMemStore()
	f := newFixture(t, store)
	capped, err := json.Marshal(map[string]message.RerequestRecord{
		"capped": {ProbeID: "capped", ResendCount: 5, LastAttempt: f.now.Add(-time.Hour)},
	})
	require.NoError(t, err)
	store.data[recordsKey] = capped

	store.getErr = errors.New("i/o timeout")
	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	assert.Len(t, f.sender.packets, 1, "rerequest goes out from memory")
	assert.Zero(t, store.sets, "a map that was never read is not written")
	assert.Equal(t, string(capped), string(store.data[recordsKey]))

	store.getErr = nil
	f.mgr.HandleFailure(Failure{MessageID: "capped", SenderID: "carol", Probe: true})

	assert.Len(t, f.sender.packets, 1, "capped probe stays abandoned")
	assert.Equal(t, 1, f.mgr.Stats().Abandoned)

	f.mgr.Prune()
	stored := store.stored(t)
	assert.Equal(t, 5, stored["capped"].ResendCount)
	assert.Equal(t, 1, stored["s1"].ResendCount, "in-memory attempt merged on catch up")
}

func TestCorruptBlobFallsBackToCache(t *testing.T) {
	store := newMemStore()
	store.data[recordsKey] = []byte("not json")
	f := newFixture(t, store)

	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	assert.Len(t, f.sender.packets, 1)
	rec, ok := f.mgr.Record("s1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.ResendCount)
	assert.Equal(t, "not json", string(store.data[recordsKey]), "unreadable blob is left for inspection")
	assert.Zero(t, store.sets)
}

func TestSendFailureIsOnlyLogged(t *testing.T) {
	f := newFixture(t, newMemStore())
	f.sender.fail = true

	f.mgr.HandleFailure(Failure{MessageID: "s1", SenderID: "bob", Probe: true})

	assert.Zero(t, f.mgr.Stats().RerequestsSent)
	rec, _ := f.mgr.Record("s1")
	assert.Equal(t, 1, rec.ResendCount, "attempt is counted even when the write fails")
}

func TestNewAppliesDefaults(t *testing.T) {
	m := New(Config{RecordsKey: recordsKey}, newMemStore(), &fakeKeys{}, &fakeSender{}, inlinePoster{}, log.Discard())

	assert.Equal(t, 5, m.cfg.MaxResends)
	assert.Equal(t, 7*24*time.Hour, m.cfg.Retention)
	assert.Equal(t, 5*time.Second, m.cfg.StoreTimeout)
}
