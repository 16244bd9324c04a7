package keys

import (
	"context"

	"github.com/ibs-source/delivery-engine/internal/message"
)

// Passthrough is a decrypter for deployments where the transport already
// delivers plaintext. Envelopes without a payload count as undecryptable.
type Passthrough struct{}

// Decrypt returns the envelope payload unchanged.
func (Passthrough) Decrypt(ctx context.Context, env message.Envelope) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(env.Payload) == 0 {
		return nil, &message.DecryptFailure{EphemeralKey: env.EphemeralKey, Reason: "empty payload"}
	}
	return env.Payload, nil
}
