package service_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/cache"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/infra/sessionstore"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"go.uber.org/zap"
)

// --- Mocks ---

type mockProvider struct {
	tokens      *domain.TokenSet
	grantErr    error
	exchangeErr error
	userInfo    *domain.UserInfo
	userInfoErr error
	endErr      error
	refreshed   *domain.TokenSet
	refreshErr  error

	mu            sync.Mutex
	refreshedWith string
	exchangedCode string
	verifier      string
	endedWith     string
	userInfoCalls int
}

func (m *mockProvider) NewAuthorizationRequest(state string) (*domain.AuthorizationRequest, error) {
	return &domain.AuthorizationRequest{
		State:            state,
		CodeVerifier:     "verifier-" + state,
		AuthorizationURL: "https://kc.example/auth?state=" + state,
	}, nil
}

func (m *mockProvider) PasswordGrant(_ context.Context, _, _ string) (*domain.TokenSet, error) {
	if m.grantErr != nil {
		return nil, m.grantErr
	}
	return m.tokens, nil
}

func (m *mockProvider) ExchangeCode(_ context.Context, code, verifier string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.exchangedCode, m.verifier = code, verifier
	m.mu.Unlock()
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	return m.tokens, nil
}

func (m *mockProvider) RefreshTokens(_ context.Context, refreshToken string) (*domain.TokenSet, error) {
	m.mu.Lock()
	m.refreshedWith = refreshToken
	m.mu.Unlock()
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.refreshed, nil
}

func (m *mockProvider) UserInfo(_ context.Context, _ string) (*domain.UserInfo, error) {
	m.mu.Lock()
	m.userInfoCalls++
	m.mu.Unlock()
	if m.userInfoErr != nil {
		return nil, m.userInfoErr
	}
	u := *m.userInfo
	return &u, nil
}

func (m *mockProvider) EndSession(_ context.Context, idTokenHint string) error {
	m.endedWith = idTokenHint
	return m.endErr
}

type mockAdmin struct {
	tokenCalls atomic.Int32
	tokenTTL   int

	createErr    error
	users        map[string]*domain.IdentityUser
	getErrs      []error
	clientErr    error
	roles        []domain.ClientRole
	verifyErr    error
	updateCalled *domain.IdentityUser

	mu       sync.Mutex
	assigned []domain.ClientRole
	verified []string
	created  []domain.NewUser
}

func (m *mockAdmin) AdminToken(_ context.Context) (*domain.TokenSet, error) {
	n := m.tokenCalls.Add(1)
	return &domain.TokenSet{AccessToken: fmt.Sprintf("admin-%d", n), ExpiresIn: m.tokenTTL}, nil
}

func (m *mockAdmin) CreateUser(_ context.Context, _ string, u domain.NewUser) (string, error) {
	m.mu.Lock()
	m.created = append(m.created, u)
	m.mu.Unlock()
	if m.createErr != nil {
		return "", m.createErr
	}
	return "new-user", nil
}

func (m *mockAdmin) GetUser(_ context.Context, _ string, id string) (*domain.IdentityUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.getErrs) > 0 {
		err := m.getErrs[0]
		m.getErrs = m.getErrs[1:]
		return nil, err
	}
	u, ok := m.users[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "user", ID: id}
	}
	c := *u
	return &c, nil
}

func (m *mockAdmin) UpdateUser(_ context.Context, _ string, u *domain.IdentityUser) error {
	m.updateCalled = u
	return nil
}

func (m *mockAdmin) ClientUUID(_ context.Context, _, _ string) (string, error) {
	if m.clientErr != nil {
		return "", m.clientErr
	}
	return "client-uuid", nil
}

func (m *mockAdmin) ClientRoles(_ context.Context, _, _ string) ([]domain.ClientRole, error) {
	return m.roles, nil
}

func (m *mockAdmin) AssignClientRole(_ context.Context, _, _, _ string, role domain.ClientRole) error {
	m.mu.Lock()
	m.assigned = append(m.assigned, role)
	m.mu.Unlock()
	return nil
}

func (m *mockAdmin) SendVerifyEmail(_ context.Context, _, userID string) error {
	m.mu.Lock()
	m.verified = append(m.verified, userID)
	m.mu.Unlock()
	return m.verifyErr
}

type recordingNavigator struct {
	routes []domain.Route
}

func (n *recordingNavigator) Redirect(route domain.Route) {
	n.routes = append(n.routes, route)
}

// --- Fixtures ---

func signedInTokens() *domain.TokenSet {
	return &domain.TokenSet{AccessToken: "at-1", IDToken: "id-1", RefreshToken: "rt-1", ExpiresIn: 300}
}

func producerInfo() *domain.UserInfo {
	return &domain.UserInfo{
		Subject:  "user-1",
		Username: "ferme.dupont",
		Email:    "jeanne@ferme.fr",
		Roles:    []string{domain.RoleProducer},
	}
}

func completeProfile() domain.Profile {
	return domain.Profile{
		DisplayName:     "Ferme Dupont",
		ResponsibleName: "Jeanne Dupont",
		PhoneNumber:     "0601020304",
		Address:         "12 route des Champs",
		Profession:      "Maraîchère",
	}
}

type fixture struct {
	provider *mockProvider
	admin    *mockAdmin
	tokens   *service.AdminTokenSource
	identity *service.Identity
	metrics  *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		provider: &mockProvider{tokens: signedInTokens(), userInfo: producerInfo()},
		admin:    &mockAdmin{tokenTTL: 300, roles: []domain.ClientRole{{ID: "r1", Name: domain.RoleProducer}, {ID: "r2", Name: domain.RoleRestaurantOwner}}},
		metrics:  observability.NewMetrics(),
	}
	tokenCache := cache.New[string](time.Minute)
	t.Cleanup(tokenCache.Close)
	f.tokens = service.NewAdminTokenSource(f.admin, tokenCache, 30*time.Second, f.metrics, zap.NewNop())
	f.identity = service.NewIdentity(f.provider, f.admin, f.tokens, "marketplace-app", f.metrics, zap.NewNop())
	return f
}

func (f *fixture) manager(state domain.SessionState) *service.SessionManager {
	return service.NewSessionManager(f.identity, "s-1", state)
}

func (f *fixture) registry(t *testing.T) *service.Registry {
	t.Helper()
	store := sessionstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })
	return service.NewRegistry(store, f.identity, f.metrics, zap.NewNop())
}
