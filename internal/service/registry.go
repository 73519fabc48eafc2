package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry owns the app sessions. Actions on one session run one at a
// time; different sessions proceed independently.
type Registry struct {
	store    port.SessionStore
	identity *Identity
	locks    keyedMutex
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewRegistry creates a registry persisting to store.
func NewRegistry(store port.SessionStore, identity *Identity, metrics *observability.Metrics, logger *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		identity: identity,
		metrics:  metrics,
		logger:   logger,
	}
}

// Create starts an anonymous session with an empty cart.
func (r *Registry) Create(ctx context.Context) (*domain.Session, error) {
	ctx, span := tracer.Start(ctx, "Registry.Create")
	defer span.End()

	now := time.Now().UTC()
	s := &domain.Session{
		ID:        uuid.NewString(),
		Cart:      recompute(nil),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	r.metrics.IncrSessionCreated()
	r.logger.Debug("session created", zap.String("session_id", s.ID))
	return s, nil
}

// Get loads a session without running an action.
func (r *Registry) Get(ctx context.Context, id string) (*domain.Session, error) {
	return r.store.Load(ctx, id)
}

// Do runs fn against the session's identity manager and cart, then
// persists both. The session is saved even when fn fails so that resets
// such as a failed sign-in stick; fn's error is returned with the result.
func (r *Registry) Do(ctx context.Context, id string, fn func(*SessionManager, *Cart) error) (*domain.Session, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	s, err := r.store.Load(ctx, id)
	if err != nil {
		return nil, err
	}

	mgr := NewSessionManager(r.identity, id, s.State)
	cart := NewCart(s.Cart)
	cart.onApply = r.metrics.IncrCartMutation

	actionErr := fn(mgr, cart)

	s.State = mgr.State()
	s.Cart = cart.State()
	s.UpdatedAt = time.Now().UTC()

	// A client that hung up must not lose a state change already made.
	if err := r.store.Save(context.WithoutCancel(ctx), s); err != nil {
		r.logger.Error("session not saved", zap.String("session_id", id), zap.Error(err))
		return nil, fmt.Errorf("save session: %w", err)
	}
	return s, actionErr
}

// Delete removes a session.
func (r *Registry) Delete(ctx context.Context, id string) error {
	unlock := r.locks.Lock(id)
	defer unlock()
	return r.store.Delete(ctx, id)
}

// Ping checks the session store.
func (r *Registry) Ping(ctx context.Context) error {
	return r.store.Ping(ctx)
}

// keyedMutex hands out one mutex per key and forgets keys nobody holds.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
