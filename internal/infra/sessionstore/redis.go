package sessionstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "session:"

// RedisStore keeps sessions as JSON documents so several BFF instances can
// serve the same session.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStoreWithURL connects using a redis:// URL.
func NewRedisStoreWithURL(rawURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

func key(id string) string { return keyPrefix + id }

func (r *RedisStore) Load(ctx context.Context, id string) (*domain.Session, error) {
	raw, err := r.client.Get(ctx, key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, &domain.ErrNotFound{Resource: "session", ID: id}
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "redis", Err: err}
	}

	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (r *RedisStore) Save(ctx context.Context, s *domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", s.ID, err)
	}
	if err := r.client.Set(ctx, key(s.ID), raw, r.ttl).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, key(id)).Err(); err != nil {
		return &domain.ErrExternalService{Service: "redis", Err: err}
	}
	return nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection pool.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
