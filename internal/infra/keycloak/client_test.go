package keycloak_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/keycloak"
	"github.com/marche-conclu/marketplace-bff/internal/infra/resilience"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, h http.Handler) (*keycloak.Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	cfg := keycloak.Config{
		BaseURL:     srv.URL,
		Realm:       "marche-conclu",
		ClientID:    "marketplace-app",
		RedirectURI: "marketplace://callback",
	}
	reads := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond}
	return keycloak.NewClient(srv.Client(), cfg, resilience.NewCircuitBreaker("test-oidc"), reads), srv
}

func TestClient_PasswordGrant(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/marche-conclu/protocol/openid-connect/token", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "at-1",
			"id_token":     "id-1",
			"expires_in":   300,
		})
	}))

	tokens, err := client.PasswordGrant(context.Background(), "chef@bistro.fr", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "at-1", tokens.AccessToken)
	assert.Equal(t, "id-1", tokens.IDToken)
	assert.Equal(t, "password", form.Get("grant_type"))
	assert.Equal(t, "marketplace-app", form.Get("client_id"))
	assert.Equal(t, "chef@bistro.fr", form.Get("username"))
}

func TestClient_PasswordGrant_RejectedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))

	_, err := client.PasswordGrant(context.Background(), "chef@bistro.fr", "wrong")
	require.Error(t, err)

	var status *domain.ErrProviderStatus
	require.True(t, errors.As(err, &status))
	assert.Equal(t, http.StatusUnauthorized, status.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ExchangeCode_RequiresIDToken(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "verifier-1", r.PostForm.Get("code_verifier"))
		assert.Equal(t, "marketplace://callback", r.PostForm.Get("redirect_uri"))
		json.NewEncoder(w).Encode(map[string]any{"access_token": "at-1"})
	}))

	_, err := client.ExchangeCode(context.Background(), "code-1", "verifier-1")
	require.Error(t, err)
	var ext *domain.ErrExternalService
	assert.True(t, errors.As(err, &ext))
}

func TestClient_RefreshTokens(t *testing.T) {
	var form url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		form = r.PostForm
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at-2",
			"refresh_token": "rt-2",
			"expires_in":    300,
		})
	}))

	tokens, err := client.RefreshTokens(context.Background(), "rt-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", tokens.AccessToken)
	assert.Equal(t, "rt-2", tokens.RefreshToken)
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "rt-1", form.Get("refresh_token"))
	assert.Equal(t, "marketplace-app", form.Get("client_id"))
}

func TestClient_Token_ExpiryFromAccessToken(t *testing.T) {
	exp := time.Now().Add(10 * time.Minute)
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"access_token": accessToken, "id_token": "id-1"})
	}))

	tokens, err := client.PasswordGrant(context.Background(), "chef@bistro.fr", "s3cret")
	require.NoError(t, err)
	assert.InDelta(t, 600, tokens.ExpiresIn, 5)
}

func TestClient_UserInfo(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/realms/marche-conclu/protocol/openid-connect/userinfo", r.URL.Path)
		assert.Equal(t, "Bearer at-1", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(map[string]any{
			"sub":                "user-1",
			"preferred_username": "ferme.dupont",
			"given_name":         "Jeanne",
			"family_name":        "Dupont",
			"email":              "jeanne@ferme.fr",
			"roles":              []string{"Producer"},
		})
	}))

	info, err := client.UserInfo(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, &domain.UserInfo{
		Subject:    "user-1",
		Username:   "ferme.dupont",
		GivenName:  "Jeanne",
		FamilyName: "Dupont",
		Email:      "jeanne@ferme.fr",
		Roles:      []string{"Producer"},
	}, info)
}

func TestClient_UserInfo_RolesFromAccessToken(t *testing.T) {
	claims := jwt.MapClaims{
		"sub": "user-2",
		"resource_access": map[string]any{
			"marketplace-app": map[string]any{"roles": []string{"Restaurant Owner"}},
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"sub": "user-2"})
	}))

	info, err := client.UserInfo(context.Background(), accessToken)
	require.NoError(t, err)
	assert.Equal(t, []string{"Restaurant Owner"}, info.Roles)
}

func TestClient_UserInfo_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"sub": "user-1", "roles": []string{"Producer"}})
	}))

	info, err := client.UserInfo(context.Background(), "at-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.Subject)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_EndSession(t *testing.T) {
	var query url.Values
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.True(t, strings.HasSuffix(r.URL.Path, "/protocol/openid-connect/logout"))
		query = r.URL.Query()
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, client.EndSession(context.Background(), "id-1"))
	assert.Equal(t, "id-1", query.Get("id_token_hint"))
	assert.Equal(t, "marketplace-app", query.Get("client_id"))
}

func TestClient_AuthorizationURL(t *testing.T) {
	client, srv := newTestClient(t, http.NotFoundHandler())

	raw := client.AuthorizationURL("state-1", "challenge-1")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, srv.URL+"/realms/marche-conclu/protocol/openid-connect/auth", u.Scheme+"://"+u.Host+u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "state-1", q.Get("state"))
	assert.Equal(t, "challenge-1", q.Get("code_challenge"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "marketplace://callback", q.Get("redirect_uri"))
}

func TestClient_NewAuthorizationRequest(t *testing.T) {
	client, _ := newTestClient(t, http.NotFoundHandler())

	req, err := client.NewAuthorizationRequest("state-2")
	require.NoError(t, err)
	assert.Equal(t, "state-2", req.State)

	u, err := url.Parse(req.AuthorizationURL)
	require.NoError(t, err)
	assert.Equal(t, keycloak.CodeChallengeS256(req.CodeVerifier), u.Query().Get("code_challenge"))
}

func TestPKCE(t *testing.T) {
	v, err := keycloak.NewCodeVerifier()
	require.NoError(t, err)
	assert.Len(t, v, 43)

	// RFC 7636 appendix B test vector.
	assert.Equal(t,
		"E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		keycloak.CodeChallengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"),
	)
}
