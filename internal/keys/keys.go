// Package keys holds the local key material used to ask peers to
// re-establish a session: the identity key, the signed pre-key id and fresh
// X25519 session-setup ephemeral keys.
package keys

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/curve25519"

	"github.com/ibs-source/delivery-engine/internal/log"
	"github.com/ibs-source/delivery-engine/internal/message"
)

// KeySize is the length of X25519 keys.
const KeySize = curve25519.ScalarSize

// Manager hands out session setup info per peer. Safe for concurrent use.
type Manager struct {
	identity       []byte
	signedPreKeyID int32

	mu         sync.Mutex
	nextPreKey int32
	log        *log.Logger
}

// NewManager creates a manager for the given public identity key. An empty
// key generates a throwaway X25519 identity.
func NewManager(identityKey []byte, signedPreKeyID int32, logger *log.Logger) (*Manager, error) {
	if len(identityKey) == 0 {
		pub, err := generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate identity key: %w", err)
		}
		identityKey = pub
		logger.Warn("No identity key configured, generated an ephemeral identity")
	}
	return &Manager{
		identity:       append([]byte(nil), identityKey...),
		signedPreKeyID: signedPreKeyID,
		log:            logger,
	}, nil
}

// IdentityKey returns the local public identity key.
func (m *Manager) IdentityKey() []byte {
	return m.identity
}

// SignedPreKeyID returns the id of the current signed pre-key.
func (m *Manager) SignedPreKeyID() int32 {
	return m.signedPreKeyID
}

// SessionSetupInfo generates a fresh setup key for sender and passes its
// public half to done on another goroutine. done gets nil if generation fails.
func (m *Manager) SessionSetupInfo(senderID string, done func(*message.SessionSetupInfo)) {
	go func() {
		info, err := m.setup()
		if err != nil {
			m.log.Error("Failed to create session setup info for %s: %v", senderID, err)
			done(nil)
			return
		}
		done(info)
	}()
}

func (m *Manager) setup() (*message.SessionSetupInfo, error) {
	pub, err := generate()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.nextPreKey++
	preKey := m.nextPreKey
	m.mu.Unlock()

	return &message.SessionSetupInfo{
		EphemeralKey:    pub,
		OneTimePreKeyID: &preKey,
	}, nil
}

// generate returns the public half of a fresh X25519 key. The private half
// is not kept.
func generate() ([]byte, error) {
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		return nil, err
	}
	return curve25519.X25519(priv, curve25519.Basepoint)
}
