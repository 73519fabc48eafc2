// Package sessionstore persists session records for the registry.
package sessionstore

import (
	"context"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/cache"
)

// MemoryStore keeps sessions in process memory. Each save refreshes the TTL.
type MemoryStore struct {
	items *cache.InMemory[domain.Session]
	ttl   time.Duration
}

// NewMemoryStore creates a store whose records expire after ttl of inactivity.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{items: cache.New[domain.Session](ttl), ttl: ttl}
}

func (m *MemoryStore) Load(_ context.Context, id string) (*domain.Session, error) {
	s, ok := m.items.Get(id)
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	// Hand out a copy so callers never alias the stored record.
	s.State = s.State.Clone()
	s.Cart = s.Cart.Clone()
	return &s, nil
}

func (m *MemoryStore) Save(_ context.Context, s *domain.Session) error {
	rec := *s
	rec.State = s.State.Clone()
	rec.Cart = s.Cart.Clone()
	m.items.SetWithTTL(s.ID, rec, m.ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.items.Delete(id)
	return nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close stops the background expiry loop.
func (m *MemoryStore) Close() error {
	m.items.Close()
	return nil
}
