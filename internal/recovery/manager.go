// Package recovery issues rerequests to the original sender when inbound
// content cannot be decrypted. Probe messages carry a durable, bounded retry
// counter that survives restarts and is pruned by age on every reconnect.
package recovery

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
	"github.com/ibs-source/delivery-engine/pkg/jsonfast"
)

// ErrNoSessionInfo is logged when the key manager has nothing to
// re-establish a session with.
var ErrNoSessionInfo = errors.New("no session setup info for sender")

// KeyManager supplies local key material. SessionSetupInfo may invoke the
// callback on any goroutine, with nil when nothing is available.
type KeyManager interface {
	IdentityKey() []byte
	SignedPreKeyID() int32
	SessionSetupInfo(senderID string, done func(*message.SessionSetupInfo))
}

// Sender transmits an encoded packet, reporting whether the write was issued.
type Sender interface {
	Send(packet []byte) bool
}

// Poster schedules work on the owner's serial queue.
type Poster interface {
	Post(fn func()) error
}

// Config holds the manager's tunables.
type Config struct {
	RecordsKey   string
	MaxResends   int
	Retention    time.Duration
	StoreTimeout time.Duration
}

// Failure describes one decrypt failure reported by the decryption engine.
type Failure struct {
	MessageID    string
	SenderID     string
	Probe        bool
	EphemeralKey []byte // key the failed message was encrypted with, if known
}

// Stats counts recovery outcomes since start.
type Stats struct {
	RerequestsSent int
	Abandoned      int
	Skipped        int
	Records        int
	StoreState     string // breaker state when the store reports one
}

// Manager drives both recovery paths. Every method except the key manager
// callback must run on the owner's serial queue.
type Manager struct {
	cfg    Config
	store  Store
	keys   KeyManager
	sender Sender
	queue  Poster

	cache records
	dirty bool // cache holds writes the store has not accepted yet

	stats Stats
	now   func() time.Time
	newID func() string
	buf   *jsonfast.Builder
	log   *log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator replaces the UUID v4 packet id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// New creates a recovery manager.
func New(cfg Config, store Store, keys KeyManager, sender Sender, queue Poster, logger *log.Logger, opts ...Option) *Manager {
	if cfg.MaxResends <= 0 {
		cfg.MaxResends = 5
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = 5 * time.Second
	}
	m := &Manager{
		cfg:    cfg,
		store:  store,
		keys:   keys,
		sender: sender,
		queue:  queue,
		cache:  make(records),
		now:    time.Now,
		newID:  uuid.NewString,
		buf:    jsonfast.New(512),
		log:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// HandleFailure starts recovery for one undecryptable message.
func (m *Manager) HandleFailure(f Failure) {
	if !f.Probe {
		m.requestSessionInfo(f, 0)
		return
	}

	recs, readable := m.load()
	rec, ok := recs[f.MessageID]
	if !ok {
		rec = message.RerequestRecord{ProbeID: f.MessageID}
	}
	if rec.ResendCount >= m.cfg.MaxResends {
		m.stats.Abandoned++
		m.log.WarnWithFields(logrus.Fields{
			"probe":  f.MessageID,
			"sender": f.SenderID,
			"count":  rec.ResendCount,
		}, "Probe reached the resend cap, abandoning recovery")
		return
	}

	rec.ResendCount++
	rec.LastAttempt = m.now()
	recs[f.MessageID] = rec
	m.save(readable)

	m.requestSessionInfo(f, rec.ResendCount)
}

// Prune drops records older than the retention window and persists the
// result. It returns the number of records removed.
func (m *Manager) Prune() int {
	recs, readable := m.load()
	removed := recs.prune(m.now().Add(-m.cfg.Retention))
	if removed > 0 || m.dirty {
		m.save(readable)
	}
	if removed > 0 {
		m.log.Info("Pruned %d stale rerequest records", removed)
	}
	return removed
}

// Record returns the cached record for a probe id.
func (m *Manager) Record(probeID string) (message.RerequestRecord, bool) {
	rec, ok := m.cache[probeID]
	return rec, ok
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	s := m.stats
	s.Records = len(m.cache)
	if r, ok := m.store.(stateReporter); ok {
		s.StoreState = r.State()
	}
	return s
}

// requestSessionInfo asks the key manager for setup material and continues
// on the serial queue once it arrives.
func (m *Manager) requestSessionInfo(f Failure, resendCount int) {
	m.keys.SessionSetupInfo(f.SenderID, func(info *message.SessionSetupInfo) {
		if err := m.queue.Post(func() { m.sendRerequest(f, info, resendCount) }); err != nil {
			m.log.Warn("Dropping rerequest for %s: %v", f.MessageID, err)
		}
	})
}

func (m *Manager) sendRerequest(f Failure, info *message.SessionSetupInfo, resendCount int) {
	if info == nil || len(info.EphemeralKey) == 0 {
		m.stats.Skipped++
		m.log.Warn("Not sending rerequest for %s to %s: %v", f.MessageID, f.SenderID, ErrNoSessionInfo)
		return
	}

	packet, err := message.EncodeRerequest(m.buf, message.Rerequest{
		ID:                        m.newID(),
		To:                        f.SenderID,
		TargetMessageID:           f.MessageID,
		IdentityKey:               m.keys.IdentityKey(),
		SignedPreKeyID:            m.keys.SignedPreKeyID(),
		OneTimePreKeyID:           info.OneTimePreKeyID,
		SessionSetupEphemeralKey:  info.EphemeralKey,
		FailedMessageEphemeralKey: f.EphemeralKey,
		ResendCount:               resendCount,
	})
	if err != nil {
		m.log.Error("Failed to encode rerequest for %s: %v", f.MessageID, err)
		return
	}
	if !m.sender.Send(packet) {
		m.log.Warn("Failed to send rerequest for %s to %s", f.MessageID, f.SenderID)
		return
	}
	m.stats.RerequestsSent++
	m.log.Debug("Sent rerequest for %s to %s (resend %d)", f.MessageID, f.SenderID, resendCount)
}

// load refreshes the cache from the store and reports whether the stored map
// was read. On any store failure the cache is used as is. Unpersisted cache
// entries win over older stored ones.
func (m *Manager) load() (records, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()

	data, err := m.store.Get(ctx, m.cfg.RecordsKey)
	if err != nil {
		m.log.Warn("Failed to load rerequest records, using in-memory copy: %v", err)
		return m.cache, false
	}
	stored, err := decodeRecords(data)
	if err != nil {
		m.log.Error("Ignoring unreadable rerequest records, using in-memory copy: %v", err)
		return m.cache, false
	}
	if m.dirty {
		stored.merge(m.cache)
	}
	m.cache = stored
	return m.cache, true
}

// save persists the cache if it was built from the stored map. A cache built
// without reading the store may lack stored records, so it is only marked
// dirty and merged into the stored map on the next successful load.
func (m *Manager) save(readable bool) {
	if !readable {
		m.dirty = true
		m.log.Warn("Keeping rerequest records in memory until the store can be read")
		return
	}
	m.persist()
}

// persist writes the whole cache under the records key.
func (m *Manager) persist() {
	data, err := m.cache.encode()
	if err != nil {
		m.dirty = true
		m.log.Error("%v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.StoreTimeout)
	defer cancel()
	if err := m.store.Set(ctx, m.cfg.RecordsKey, data); err != nil {
		m.dirty = true
		m.log.Warn("Failed to persist rerequest records, keeping in-memory copy: %v", err)
		return
	}
	m.dirty = false
}
