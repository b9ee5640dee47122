// Package credstore holds one-time AI-session connection secrets between call
// setup and the moment the carrier's media stream connects.
package credstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session's credentials are missing, expired,
// or were already consumed.
var ErrNotFound = errors.New("credstore: session not found")

// Credentials is the value stored per session: where to connect and the
// one-time secret to connect with.
type Credentials struct {
	TransportURL string    `json:"transportUrl"`
	Secret       string    `json:"secret"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Store is the capability the bridge and broker depend on. Entries are
// readable at most once: GetDelete consumes the entry it returns.
type Store interface {
	PutWithTTL(ctx context.Context, sessionID string, creds Credentials, ttl time.Duration) error
	GetDelete(ctx context.Context, sessionID string) (Credentials, error)
}

func key(sessionID string) string {
	return "ai-session:" + sessionID
}
