package service

import (
	"context"
	"fmt"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const adminTokenKey = "admin-token"

// AdminTokenSource hands out the operator token for admin calls and reuses
// it until skew before the provider's expiry. Concurrent refreshes share
// one token request.
type AdminTokenSource struct {
	admin   port.AdminAPI
	cache   port.Cache[string]
	skew    time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewAdminTokenSource creates a token source backed by cache.
func NewAdminTokenSource(admin port.AdminAPI, cache port.Cache[string], skew time.Duration, metrics *observability.Metrics, logger *zap.Logger) *AdminTokenSource {
	return &AdminTokenSource{
		admin:   admin,
		cache:   cache,
		skew:    skew,
		metrics: metrics,
		logger:  logger,
	}
}

// Token returns a valid operator access token.
func (s *AdminTokenSource) Token(ctx context.Context) (string, error) {
	if tok, ok := s.cache.Get(adminTokenKey); ok {
		s.metrics.IncrAdminTokenHit()
		return tok, nil
	}
	s.metrics.IncrAdminTokenMiss()

	v, err, _ := s.group.Do(adminTokenKey, func() (any, error) {
		if tok, ok := s.cache.Get(adminTokenKey); ok {
			return tok, nil
		}

		tokens, err := s.admin.AdminToken(ctx)
		if err != nil {
			s.metrics.IncrExternalError("keycloak-admin")
			return "", fmt.Errorf("admin token: %w", err)
		}

		// A token that lives no longer than the skew is used once and not kept.
		ttl := time.Duration(tokens.ExpiresIn)*time.Second - s.skew
		s.cache.SetWithTTL(adminTokenKey, tokens.AccessToken, ttl)
		s.logger.Debug("admin token refreshed", zap.Duration("cached_for", max(ttl, 0)))
		return tokens.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token, e.g. after the admin API rejected it.
func (s *AdminTokenSource) Invalidate() {
	s.cache.Delete(adminTokenKey)
}
