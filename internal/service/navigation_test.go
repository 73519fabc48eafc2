package service_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLandingRoute(t *testing.T) {
	complete := &domain.ProfileStatus{IsComplete: true, MissingFields: []string{}}
	incomplete := &domain.ProfileStatus{MissingFields: []string{domain.AttrAddress}}

	tests := []struct {
		name   string
		status *domain.ProfileStatus
		role   string
		want   domain.Route
	}{
		{"unknown profile", nil, domain.RoleProducer, domain.RouteCompleteProfile},
		{"incomplete producer", incomplete, domain.RoleProducer, domain.RouteCompleteProfile},
		{"complete producer", complete, domain.RoleProducer, domain.RouteProducerHome},
		{"complete restaurant owner", complete, domain.RoleRestaurantOwner, domain.RouteRestaurantHome},
		{"complete without role", complete, "", domain.RouteRestaurantHome},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, service.LandingRoute(tt.status, tt.role))
		})
	}
}

func TestRequireSignedIn(t *testing.T) {
	nav := &recordingNavigator{}

	assert.False(t, service.RequireSignedIn(domain.SessionState{}, nav))
	assert.True(t, service.RequireSignedIn(domain.SessionState{IsSignedIn: true}, nav))
	assert.Equal(t, []domain.Route{domain.RouteLogin}, nav.routes)
}

func TestLanding(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		f := newFixture(t)
		nav := &recordingNavigator{}

		res := f.manager(domain.SessionState{}).Landing(context.Background(), nav)

		assert.Equal(t, domain.RouteLogin, res.Redirect)
		assert.Equal(t, []domain.Route{domain.RouteLogin}, nav.routes)
	})

	t.Run("complete producer", func(t *testing.T) {
		f := newFixture(t)
		m := signedInAs(t, f, producerInfo(), completeProfile())
		nav := &recordingNavigator{}

		res := m.Landing(context.Background(), nav)

		assert.Equal(t, domain.RouteProducerHome, res.Redirect)
		require.NotNil(t, res.Profile)
		assert.True(t, res.Profile.IsComplete)
		assert.Equal(t, []domain.Route{domain.RouteProducerHome}, nav.routes)
	})

	t.Run("incomplete restaurant owner", func(t *testing.T) {
		f := newFixture(t)
		info := &domain.UserInfo{Subject: "user-2", Email: "chef@bistro.fr", Roles: []string{domain.RoleRestaurantOwner}}
		m := signedInAs(t, f, info, domain.Profile{DisplayName: "Bistro du Port"})
		nav := &recordingNavigator{}

		res := m.Landing(context.Background(), nav)

		assert.Equal(t, domain.RouteCompleteProfile, res.Redirect)
		assert.ElementsMatch(t, []string{domain.AttrResponsibleName, domain.AttrPhoneNumber, domain.AttrAddress}, res.Profile.MissingFields)
	})

	t.Run("profile lookup error", func(t *testing.T) {
		f := newFixture(t)
		m := signedInAs(t, f, producerInfo(), completeProfile())
		f.admin.getErrs = []error{errors.New("admin down")}
		nav := &recordingNavigator{}

		res := m.Landing(context.Background(), nav)

		assert.Equal(t, domain.RouteCompleteProfile, res.Redirect)
		assert.Nil(t, res.Profile)
	})

	t.Run("roles refreshed", func(t *testing.T) {
		f := newFixture(t)
		m := signedInAs(t, f, producerInfo(), completeProfile())
		f.provider.userInfo = &domain.UserInfo{Subject: "user-1", Roles: []string{domain.RoleRestaurantOwner}}

		res := m.Landing(context.Background(), &recordingNavigator{})

		assert.Equal(t, domain.RouteRestaurantHome, res.Redirect)
		assert.True(t, m.HasRole(domain.RoleRestaurantOwner))
	})
}

// expiredSession is a signed-in producer whose access token has lapsed.
func expiredSession(f *fixture) *service.SessionManager {
	f.admin.users = map[string]*domain.IdentityUser{
		"user-1": {ID: "user-1", Email: "jeanne@ferme.fr", Profile: completeProfile(), Attributes: map[string][]string{}},
	}
	past := time.Now().Add(-time.Minute)
	return f.manager(domain.SessionState{
		Phase:        domain.PhaseSignedInWithProfile,
		IsSignedIn:   true,
		AccessToken:  "at-old",
		IDToken:      "id-1",
		RefreshToken: "rt-1",
		ExpiresAt:    &past,
		UserInfo:     producerInfo(),
	})
}

func TestLanding_RefreshesExpiredAccessToken(t *testing.T) {
	f := newFixture(t)
	f.provider.refreshed = &domain.TokenSet{AccessToken: "at-2", RefreshToken: "rt-2", ExpiresIn: 300}
	m := expiredSession(f)

	res := m.Landing(context.Background(), &recordingNavigator{})

	assert.Equal(t, domain.RouteProducerHome, res.Redirect)
	assert.Equal(t, "rt-1", f.provider.refreshedWith)
	st := m.State()
	assert.Equal(t, "at-2", st.AccessToken)
	assert.Equal(t, "rt-2", st.RefreshToken)
	assert.Equal(t, "id-1", st.IDToken)
	require.NotNil(t, st.ExpiresAt)
	assert.True(t, st.ExpiresAt.After(time.Now()))
}

func TestLanding_RejectedRefreshSignsOut(t *testing.T) {
	f := newFixture(t)
	f.provider.refreshErr = &domain.ErrExternalService{
		Service: "keycloak-oidc",
		Err:     &domain.ErrProviderStatus{Operation: "refresh", StatusCode: http.StatusBadRequest},
	}
	m := expiredSession(f)
	nav := &recordingNavigator{}

	res := m.Landing(context.Background(), nav)

	assert.Equal(t, domain.RouteLogin, res.Redirect)
	assert.Equal(t, []domain.Route{domain.RouteLogin}, nav.routes)
	assert.Equal(t, domain.SessionState{}, m.State())
}

func TestLanding_RefreshTransportErrorKeepsSession(t *testing.T) {
	f := newFixture(t)
	f.provider.refreshErr = &domain.ErrExternalService{Service: "keycloak-oidc", Err: errors.New("connection refused")}
	m := expiredSession(f)

	res := m.Landing(context.Background(), &recordingNavigator{})

	assert.Equal(t, domain.RouteCompleteProfile, res.Redirect)
	st := m.State()
	assert.True(t, st.IsSignedIn)
	assert.Equal(t, "rt-1", st.RefreshToken)
}

func TestProfile_ExpiredWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	past := time.Now().Add(-time.Minute)
	m := f.manager(domain.SessionState{
		Phase:      domain.PhaseSignedInWithProfile,
		IsSignedIn: true,
		ExpiresAt:  &past,
		UserInfo:   producerInfo(),
	})

	_, err := m.Profile(context.Background())

	var unauthorized *domain.ErrUnauthorized
	require.True(t, errors.As(err, &unauthorized))
	assert.False(t, m.State().IsSignedIn)
}
