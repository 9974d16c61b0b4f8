package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a LeaseStore backed by a map. It exists so the lock engine
// can be exercised without a server; the mutex makes the check-then-write
// atomic the same way the networked backends do with their conditional
// operations.
type MemoryStore struct {
	mu     sync.Mutex
	leases map[string]Lease
	now    func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces the wall clock, letting tests advance time instead of
// sleeping through lease expiries.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{leases: make(map[string]Lease), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Claim implements LeaseStore.Claim using the store's own clock.
func (s *MemoryStore) Claim(ctx context.Context, key, token string, ttl time.Duration) (Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return Lease{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.leases[key]; ok && !cur.Expired(now) {
		return Lease{}, false, nil
	}
	l := Lease{Key: key, Token: token, ExpiresAt: now.Add(ttl)}
	s.leases[key] = l
	return l, true, nil
}

// Release implements LeaseStore.Release.
func (s *MemoryStore) Release(ctx context.Context, key, token string) (ReleaseStatus, error) {
	if err := ctx.Err(); err != nil {
		return NotFound, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.leases[key]
	if !ok {
		return NotFound, nil
	}
	if cur.Token != token {
		return NotOwner, nil
	}
	delete(s.leases, key)
	return Released, nil
}

// EnsureIndex implements LeaseStore.EnsureIndex. Map keys are inherently
// unique, so there is nothing to provision.
func (s *MemoryStore) EnsureIndex(ctx context.Context) error {
	return nil
}

// Get returns the current lease for key, expired or not. Introspection
// helper for tests; the engine never reads lease state outside Claim.
func (s *MemoryStore) Get(key string) (Lease, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[key]
	return l, ok
}
