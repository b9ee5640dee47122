package credstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests. Expiry is
// enforced lazily on read; consumed entries are deleted under the same lock
// that read them.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	creds    Credentials
	deadline time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) PutWithTTL(ctx context.Context, sessionID string, creds Credentials, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key(sessionID)] = memoryEntry{
		creds:    creds,
		deadline: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) GetDelete(ctx context.Context, sessionID string) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(sessionID)
	entry, ok := s.entries[k]
	if !ok {
		return Credentials{}, ErrNotFound
	}
	delete(s.entries, k)
	if s.now().After(entry.deadline) {
		return Credentials{}, ErrNotFound
	}
	return entry.creds, nil
}

// Len reports the number of live entries, counting entries that have expired
// but were not read yet.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
