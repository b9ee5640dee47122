package credstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis instance. GETDEL makes the
// read-and-consume a single atomic operation, so a secret can never be
// observed twice even across processes.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) PutWithTTL(ctx context.Context, sessionID string, creds Credentials, ttl time.Duration) error {
	payload, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("credstore: marshal credentials: %w", err)
	}
	if err := s.client.Set(ctx, key(sessionID), payload, ttl).Err(); err != nil {
		return fmt.Errorf("credstore: set %q: %w", sessionID, err)
	}
	return nil
}

func (s *RedisStore) GetDelete(ctx context.Context, sessionID string) (Credentials, error) {
	raw, err := s.client.GetDel(ctx, key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Credentials{}, ErrNotFound
	}
	if err != nil {
		return Credentials{}, fmt.Errorf("credstore: getdel %q: %w", sessionID, err)
	}
	var creds Credentials
	if err := json.Unmarshal(raw, &creds); err != nil {
		return Credentials{}, fmt.Errorf("credstore: unmarshal credentials for %q: %w", sessionID, err)
	}
	return creds, nil
}
