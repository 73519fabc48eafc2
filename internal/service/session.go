// Package service holds the per-session state machines of the BFF: the
// identity manager, the cart aggregator and the registry that persists them.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/port"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("service/session")

// Operation labels for identity metrics.
const (
	opSignIn  = "sign_in"
	opSignOut = "sign_out"
	opSignUp  = "sign_up"
)

// Identity bundles the collaborators shared by every session manager.
type Identity struct {
	provider port.IdentityProvider
	admin    port.AdminAPI
	tokens   port.AdminTokens
	clientID string
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewIdentity wires the identity provider ports. clientID names the
// registered app whose client roles are assigned at sign-up.
func NewIdentity(
	provider port.IdentityProvider,
	admin port.AdminAPI,
	tokens port.AdminTokens,
	clientID string,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *Identity {
	return &Identity{
		provider: provider,
		admin:    admin,
		tokens:   tokens,
		clientID: clientID,
		metrics:  metrics,
		logger:   logger,
	}
}

// SessionManager drives the sign-in state machine of one app session.
// It is not safe for concurrent use; the registry serialises access.
type SessionManager struct {
	*Identity
	sessionID string
	state     domain.SessionState
}

// NewSessionManager resumes a session from its persisted state.
func NewSessionManager(identity *Identity, sessionID string, state domain.SessionState) *SessionManager {
	return &SessionManager{Identity: identity, sessionID: sessionID, state: state}
}

// State returns a copy of the current state.
func (m *SessionManager) State() domain.SessionState {
	return m.state.Clone()
}

// ============================================================
// SignIn: delegated authorization-code flow with PKCE
// ============================================================

// SignIn starts a delegated sign-in. The returned URL is opened by the app;
// the provider later redirects back with a code for CompleteSignIn.
func (m *SessionManager) SignIn(ctx context.Context) (*domain.AuthorizationRequest, error) {
	_, span := tracer.Start(ctx, "SessionManager.SignIn")
	defer span.End()

	if m.state.IsSignedIn {
		return nil, &domain.ErrInvalidState{Phase: m.state.Phase, Operation: "sign-in"}
	}

	req, err := m.provider.NewAuthorizationRequest(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("prepare authorization request: %w", err)
	}

	m.state = domain.SessionState{Phase: domain.PhaseAuthenticating, Pending: req}
	m.logger.Info("delegated sign-in started", zap.String("session_id", m.sessionID))

	out := *req
	return &out, nil
}

// CompleteSignIn exchanges the authorization code returned to the app.
// Any failure returns the session to the anonymous state.
func (m *SessionManager) CompleteSignIn(ctx context.Context, state, code string) error {
	ctx, span := tracer.Start(ctx, "SessionManager.CompleteSignIn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", m.sessionID))

	pending := m.state.Pending
	if m.state.Phase != domain.PhaseAuthenticating || pending == nil {
		return &domain.ErrInvalidState{Phase: m.state.Phase, Operation: "complete sign-in"}
	}

	if state == "" || state != pending.State {
		m.failSignIn(errors.New("state mismatch"))
		return &domain.ErrUnauthorized{Message: "authorization state mismatch"}
	}
	if code == "" {
		m.failSignIn(errors.New("no authorization code"))
		return &domain.ErrUnauthorized{Message: "authorization was not granted"}
	}

	start := time.Now()
	tokens, err := m.provider.ExchangeCode(ctx, code, pending.CodeVerifier)
	m.metrics.RecordDuration("code_exchange", time.Since(start))
	if err != nil {
		m.failSignIn(err)
		return tokenError("authorization code", err)
	}

	m.acceptTokens(ctx, tokens)
	return nil
}

// ============================================================
// SignInWithCredentials: password grant
// ============================================================

func (m *SessionManager) SignInWithCredentials(ctx context.Context, email, password string) error {
	ctx, span := tracer.Start(ctx, "SessionManager.SignInWithCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", m.sessionID))

	if m.state.IsSignedIn {
		return &domain.ErrInvalidState{Phase: m.state.Phase, Operation: "sign-in"}
	}
	m.state = domain.SessionState{Phase: domain.PhaseAuthenticating}

	start := time.Now()
	tokens, err := m.provider.PasswordGrant(ctx, email, password)
	m.metrics.RecordDuration("password_grant", time.Since(start))
	if err != nil {
		m.failSignIn(err)
		return tokenError("credentials", err)
	}

	m.acceptTokens(ctx, tokens)
	return nil
}

// acceptTokens moves to SignedIn and then fetches the user's profile.
func (m *SessionManager) acceptTokens(ctx context.Context, tokens *domain.TokenSet) {
	m.state = domain.SessionState{Phase: domain.PhaseSignedIn, IsSignedIn: true}
	m.storeTokens(tokens)
	m.metrics.IncrIdentityOp(opSignIn, observability.OutcomeSuccess)

	if err := m.fetchUserInfo(ctx); err != nil {
		m.logger.Warn("userinfo fetch failed, signed in without profile",
			zap.String("session_id", m.sessionID),
			zap.Error(err),
		)
		return
	}
	m.logger.Info("signed in",
		zap.String("session_id", m.sessionID),
		zap.String("role", m.state.UserInfo.PrimaryRole()),
	)
}

func (m *SessionManager) storeTokens(tokens *domain.TokenSet) {
	m.state.AccessToken = tokens.AccessToken
	if tokens.IDToken != "" {
		m.state.IDToken = tokens.IDToken
	}
	if tokens.RefreshToken != "" {
		m.state.RefreshToken = tokens.RefreshToken
	}
	m.state.ExpiresAt = nil
	if tokens.ExpiresIn > 0 {
		exp := time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		m.state.ExpiresAt = &exp
	}
}

// refreshIfExpired renews the access token once ExpiresAt has passed. A
// rejected or missing refresh token ends the session.
func (m *SessionManager) refreshIfExpired(ctx context.Context) error {
	if m.state.ExpiresAt == nil || time.Now().Before(*m.state.ExpiresAt) {
		return nil
	}
	ctx, span := tracer.Start(ctx, "SessionManager.refreshIfExpired")
	defer span.End()

	if m.state.RefreshToken == "" {
		m.expire(errors.New("no refresh token"))
		return &domain.ErrUnauthorized{Message: "session expired"}
	}

	start := time.Now()
	tokens, err := m.provider.RefreshTokens(ctx, m.state.RefreshToken)
	m.metrics.RecordDuration("refresh", time.Since(start))
	if err != nil {
		var status *domain.ErrProviderStatus
		if errors.As(err, &status) && status.ClientError() {
			m.expire(err)
			return &domain.ErrUnauthorized{Message: "session expired"}
		}
		m.metrics.IncrExternalError("keycloak-oidc")
		return fmt.Errorf("refresh tokens: %w", err)
	}

	m.storeTokens(tokens)
	m.logger.Debug("access token refreshed", zap.String("session_id", m.sessionID))
	return nil
}

func (m *SessionManager) expire(err error) {
	m.state = domain.SessionState{}
	m.logger.Info("session expired",
		zap.String("session_id", m.sessionID),
		zap.Error(err),
	)
}

func (m *SessionManager) fetchUserInfo(ctx context.Context) error {
	if !m.state.IsSignedIn || m.state.AccessToken == "" {
		return &domain.ErrUnauthorized{Message: "not signed in"}
	}

	info, err := m.provider.UserInfo(ctx, m.state.AccessToken)
	if err != nil {
		m.metrics.IncrExternalError("keycloak-oidc")
		return fmt.Errorf("userinfo: %w", err)
	}
	m.state.UserInfo = info
	m.state.Phase = domain.PhaseSignedInWithProfile
	return nil
}

func (m *SessionManager) failSignIn(err error) {
	m.state = domain.SessionState{}
	m.metrics.IncrIdentityOp(opSignIn, observability.OutcomeFailure)
	m.logger.Warn("sign-in failed",
		zap.String("session_id", m.sessionID),
		zap.Error(err),
	)
}

// tokenError turns a rejected grant into ErrUnauthorized; transport
// failures pass through.
func tokenError(grant string, err error) error {
	var status *domain.ErrProviderStatus
	if errors.As(err, &status) && status.ClientError() {
		return &domain.ErrUnauthorized{Message: "invalid " + grant}
	}
	return fmt.Errorf("%s sign-in: %w", grant, err)
}

// ============================================================
// SignOut
// ============================================================

// SignOut ends the provider session and resets to the anonymous state.
// The local reset happens even when the logout call fails.
func (m *SessionManager) SignOut(ctx context.Context) {
	ctx, span := tracer.Start(ctx, "SessionManager.SignOut")
	defer span.End()

	if m.state.IDToken != "" {
		if err := m.provider.EndSession(ctx, m.state.IDToken); err != nil {
			m.metrics.IncrExternalError("keycloak-oidc")
			m.logger.Warn("end session failed, clearing local state anyway",
				zap.String("session_id", m.sessionID),
				zap.Error(err),
			)
		}
	}

	m.state = domain.SessionState{}
	m.metrics.IncrIdentityOp(opSignOut, observability.OutcomeSuccess)
	m.logger.Info("signed out", zap.String("session_id", m.sessionID))
}

// ============================================================
// Roles
// ============================================================

// HasRole reports whether the signed-in user holds role.
func (m *SessionManager) HasRole(role string) bool {
	return m.state.HasRole(role)
}

// signedInUser returns the user info, fetching it when the first attempt
// after sign-in failed.
func (m *SessionManager) signedInUser(ctx context.Context) (*domain.UserInfo, error) {
	if !m.state.IsSignedIn {
		return nil, &domain.ErrUnauthorized{Message: "not signed in"}
	}
	if err := m.refreshIfExpired(ctx); err != nil {
		return nil, err
	}
	if m.state.UserInfo == nil || m.state.UserInfo.Subject == "" {
		if err := m.fetchUserInfo(ctx); err != nil {
			return nil, err
		}
	}
	return m.state.UserInfo, nil
}
