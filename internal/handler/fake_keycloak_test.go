package handler_test

import (
	"encoding/json"
	"maps"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/handler"
	"github.com/marche-conclu/marketplace-bff/internal/infra/cache"
	"github.com/marche-conclu/marketplace-bff/internal/infra/keycloak"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"
	"github.com/marche-conclu/marketplace-bff/internal/infra/resilience"
	"github.com/marche-conclu/marketplace-bff/internal/infra/sessionstore"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"go.uber.org/zap"
)

const (
	testEmail    = "jeanne@ferme.fr"
	testPassword = "pw-123456"
	takenEmail   = "taken@ferme.fr"
)

// fakeKeycloak serves the realm and admin endpoints the BFF calls. One
// producer account exists, user-1.
type fakeKeycloak struct {
	mu         sync.Mutex
	attributes map[string][]string
	logouts    atomic.Int32
	created    []string
}

func newFakeKeycloak(t *testing.T) (*fakeKeycloak, *httptest.Server) {
	t.Helper()
	kc := &fakeKeycloak{
		attributes: map[string][]string{
			"role":        {"Producer"},
			"displayName": {"Ferme Dupont"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /realms/marche-conclu/protocol/openid-connect/token", kc.token)
	mux.HandleFunc("GET /realms/marche-conclu/protocol/openid-connect/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeBody(w, http.StatusOK, map[string]any{
			"sub":   "user-1",
			"email": testEmail,
			"roles": []string{"Producer"},
		})
	})
	mux.HandleFunc("GET /realms/marche-conclu/protocol/openid-connect/logout", func(w http.ResponseWriter, r *http.Request) {
		kc.logouts.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /realms/master/protocol/openid-connect/token", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, map[string]any{"access_token": "admin-at", "expires_in": 60})
	})
	mux.HandleFunc("GET /admin/realms/marche-conclu/users/user-1", func(w http.ResponseWriter, r *http.Request) {
		kc.mu.Lock()
		attrs := maps.Clone(kc.attributes)
		kc.mu.Unlock()
		writeBody(w, http.StatusOK, map[string]any{
			"id": "user-1", "username": testEmail, "email": testEmail, "enabled": true, "attributes": attrs,
		})
	})
	mux.HandleFunc("PUT /admin/realms/marche-conclu/users/user-1", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Attributes map[string][]string `json:"attributes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		kc.mu.Lock()
		kc.attributes = body.Attributes
		kc.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /admin/realms/marche-conclu/users", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Username == takenEmail {
			writeBody(w, http.StatusConflict, map[string]string{"errorMessage": "User exists with same username"})
			return
		}
		kc.mu.Lock()
		kc.created = append(kc.created, body.Username)
		kc.mu.Unlock()
		w.Header().Set("Location", "http://"+r.Host+"/admin/realms/marche-conclu/users/user-2")
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /admin/realms/marche-conclu/clients", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, []map[string]string{{"id": "client-uuid", "clientId": "marketplace-app"}})
	})
	mux.HandleFunc("GET /admin/realms/marche-conclu/clients/client-uuid/roles", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, http.StatusOK, []map[string]string{{"id": "r1", "name": "Producer"}, {"id": "r2", "name": "Restaurant Owner"}})
	})
	mux.HandleFunc("POST /admin/realms/marche-conclu/users/user-2/role-mappings/clients/client-uuid", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /admin/realms/marche-conclu/users/user-2/send-verify-email", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return kc, srv
}

func (kc *fakeKeycloak) token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	form := r.PostForm
	granted := false
	switch form.Get("grant_type") {
	case "password":
		granted = form.Get("username") == testEmail && form.Get("password") == testPassword
	case "authorization_code":
		granted = form.Get("code") == "code-1" && form.Get("code_verifier") != ""
	}
	if !granted {
		writeBody(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
		return
	}
	writeBody(w, http.StatusOK, map[string]any{
		"access_token":  "at-1",
		"id_token":      "id-1",
		"refresh_token": "rt-1",
		"expires_in":    300,
	})
}

func (kc *fakeKeycloak) completeProfile() {
	kc.mu.Lock()
	defer kc.mu.Unlock()
	kc.attributes["responsibleName"] = []string{"Jeanne Dupont"}
	kc.attributes["phoneNumber"] = []string{"0601020304"}
	kc.attributes["address"] = []string{"12 route des Champs"}
	kc.attributes["profession"] = []string{"Maraîchère"}
}

func writeBody(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// testEnv is the BFF wired against a fake Keycloak with an in-memory store.
type testEnv struct {
	kc      *fakeKeycloak
	router  http.Handler
	tokens  *service.SessionTokens
	metrics *observability.Metrics
}

func newTestEnv(t *testing.T, opts handler.Options) *testEnv {
	t.Helper()
	kc, srv := newFakeKeycloak(t)
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	cfg := keycloak.Config{
		BaseURL:       srv.URL,
		Realm:         "marche-conclu",
		ClientID:      "marketplace-app",
		RedirectURI:   "marcheconclu://callback",
		AdminRealm:    "master",
		AdminUsername: "operator",
		AdminPassword: "operator-pw",
	}
	reads := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	oidc := keycloak.NewClient(srv.Client(), cfg, resilience.NewCircuitBreaker("test-oidc"), reads)
	admin := keycloak.NewAdminClient(srv.Client(), cfg, resilience.NewCircuitBreaker("test-admin"), reads)

	tokenCache := cache.New[string](time.Minute)
	t.Cleanup(tokenCache.Close)
	store := sessionstore.NewMemoryStore(time.Hour)
	t.Cleanup(func() { store.Close() })

	adminTokens := service.NewAdminTokenSource(admin, tokenCache, 10*time.Second, metrics, logger)
	identity := service.NewIdentity(oidc, admin, adminTokens, cfg.ClientID, metrics, logger)
	registry := service.NewRegistry(store, identity, metrics, logger)
	tokens := service.NewSessionTokens("test-secret", time.Hour)

	return &testEnv{
		kc:      kc,
		router:  handler.NewRouter(registry, tokens, metrics, opts, logger),
		tokens:  tokens,
		metrics: metrics,
	}
}
