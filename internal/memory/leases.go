package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Lllllllleong/documentmetadataflow/internal/models"
)

type lease struct {
	holder    string
	expiresAt time.Time
}

// LeaseStore is an in-memory lease table.
type LeaseStore struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

// NewLeaseStore creates an empty lease store using time.Now.
func NewLeaseStore() *LeaseStore {
	return &LeaseStore{leases: make(map[string]lease), now: time.Now}
}

// SetClock overrides the store's clock.
func (s *LeaseStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Acquire takes or extends the lease for key.
func (s *LeaseStore) Acquire(_ context.Context, key models.DocumentKey, holder string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if cur, ok := s.leases[key.String()]; ok && cur.holder != holder && now.Before(cur.expiresAt) {
		return fmt.Errorf("%w: %s held by %s", models.ErrLeaseHeld, key, cur.holder)
	}
	s.leases[key.String()] = lease{holder: holder, expiresAt: now.Add(ttl)}
	return nil
}

// Release drops the lease if holder owns it.
func (s *LeaseStore) Release(_ context.Context, key models.DocumentKey, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.leases[key.String()]; ok && cur.holder == holder {
		delete(s.leases, key.String())
	}
	return nil
}

// Holder returns the current holder of key, or "" when the lease is free.
func (s *LeaseStore) Holder(key models.DocumentKey) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.leases[key.String()]
	if !ok || !s.now().Before(cur.expiresAt) {
		return ""
	}
	return cur.holder
}
