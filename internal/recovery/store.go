package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ibs-source/delivery-engine/internal/log"
)

// Store is the durable key-value store holding the rerequest record blob.
// Get returns nil, nil for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// stateReporter is implemented by stores that expose a health state.
type stateReporter interface {
	State() string
}

// BreakerSettings configures GuardedStore.
type BreakerSettings struct {
	Name             string
	FailureThreshold int
	ResetTimeout     time.Duration
}

// GuardedStore wraps a Store with a circuit breaker so a dead backend fails
// fast instead of stalling the serial queue on every probe failure.
type GuardedStore struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedStore wraps inner with a breaker built from s.
func NewGuardedStore(inner Store, s BreakerSettings, logger *log.Logger) *GuardedStore {
	threshold := s.FailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	return &GuardedStore{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        s.Name,
			MaxRequests: 1,
			Interval:    0,
			Timeout:     s.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("Store circuit breaker %s changed from %s to %s", name, from, to)
			},
		}),
	}
}

// Get reads key through the breaker.
func (g *GuardedStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Get(ctx, key)
	})
	if err != nil {
		return nil, fmt.Errorf("store get %s: %w", key, err)
	}
	data, _ := v.([]byte)
	return data, nil
}

// Set writes key through the breaker.
func (g *GuardedStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, g.inner.Set(ctx, key, value)
	})
	if err != nil {
		return fmt.Errorf("store set %s: %w", key, err)
	}
	return nil
}

// State reports the breaker state name.
func (g *GuardedStore) State() string {
	return g.breaker.State().String()
}
