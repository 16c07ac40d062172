// Package revocation issues short-lived tokens that prove a revoke instruction was sent by
// this server. A device confirms a token before wiping its own credentials.
package revocation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// TTL is how long an issued token stays valid.
	TTL = 5 * time.Minute
	// SweepInterval is how often expired tokens are dropped from the in-memory store.
	SweepInterval = 60 * time.Second

	tokenBytes = 32
)

// Entry is what a token vouches for.
type Entry struct {
	DeviceID     uuid.UUID `json:"device_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	MQTTClientID string    `json:"mqtt_client_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Store keeps issued tokens until they expire. Validate does not consume the token, so a
// device that retries its confirmation gets the same answer.
type Store interface {
	Issue(ctx context.Context, e Entry) (string, error)
	Validate(ctx context.Context, token string) (Entry, bool, error)
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate revocation token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
