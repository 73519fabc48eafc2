// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
)

// IdentityProvider is the OpenID-Connect surface used on behalf of an app user.
type IdentityProvider interface {
	// NewAuthorizationRequest prepares a delegated sign-in: a PKCE verifier
	// and the URL the app opens in an external browser.
	NewAuthorizationRequest(state string) (*domain.AuthorizationRequest, error)
	PasswordGrant(ctx context.Context, username, password string) (*domain.TokenSet, error)
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*domain.TokenSet, error)
	RefreshTokens(ctx context.Context, refreshToken string) (*domain.TokenSet, error)
	UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error)
	EndSession(ctx context.Context, idTokenHint string) error
}

// AdminAPI is the identity provider's administrative REST interface.
// Every call is authenticated with an operator token.
type AdminAPI interface {
	AdminToken(ctx context.Context) (*domain.TokenSet, error)
	CreateUser(ctx context.Context, token string, user domain.NewUser) (string, error)
	GetUser(ctx context.Context, token, userID string) (*domain.IdentityUser, error)
	UpdateUser(ctx context.Context, token string, user *domain.IdentityUser) error
	ClientUUID(ctx context.Context, token, clientID string) (string, error)
	ClientRoles(ctx context.Context, token, clientUUID string) ([]domain.ClientRole, error)
	AssignClientRole(ctx context.Context, token, userID, clientUUID string, role domain.ClientRole) error
	SendVerifyEmail(ctx context.Context, token, userID string) error
}

// AdminTokens hands out an operator token for admin calls.
type AdminTokens interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// SessionStore persists session records between requests.
type SessionStore interface {
	Load(ctx context.Context, id string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// Navigator receives the redirects decided by the session core.
type Navigator interface {
	Redirect(route domain.Route)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	SetWithTTL(key string, value T, ttl time.Duration)
	Delete(key string)
}
