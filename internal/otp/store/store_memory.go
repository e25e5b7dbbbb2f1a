package store

import (
	"context"
	"sync"
	"time"

	"certdesk/pkg/platform/sentinel"
)

type entry struct {
	hash      string
	expiresAt time.Time
}

// InMemory expires entries lazily on access.
type InMemory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[string]entry), now: time.Now}
}

// WithClock replaces the time source. Intended for tests.
func (s *InMemory) WithClock(now func() time.Time) *InMemory {
	s.now = now
	return s
}

func (s *InMemory) PutIfAbsent(_ context.Context, email, hash string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(email)
	if e, ok := s.entries[k]; ok && s.now().Before(e.expiresAt) {
		return sentinel.ErrAlreadyUsed
	}
	s.entries[k] = entry{hash: hash, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemory) Get(_ context.Context, email string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(email)
	e, ok := s.entries[k]
	if !ok {
		return "", sentinel.ErrNotFound
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, k)
		return "", sentinel.ErrNotFound
	}
	return e.hash, nil
}

func (s *InMemory) Delete(_ context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key(email))
	return nil
}
