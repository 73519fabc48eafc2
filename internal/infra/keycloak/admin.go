package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

// AdminClient calls the realm's admin REST API with an operator token.
type AdminClient struct {
	cfg   Config
	t     *transport
	reads resilience.Config
}

// NewAdminClient creates a new AdminClient. maxConcurrency bounds the
// number of admin calls in flight.
func NewAdminClient(httpClient *http.Client, cfg Config, cb *gobreaker.CircuitBreaker, reads resilience.Config) *AdminClient {
	var bh *resilience.Bulkhead
	if reads.MaxConcurrency > 0 {
		bh = resilience.NewBulkhead(reads.MaxConcurrency)
	}
	return &AdminClient{
		cfg:   cfg,
		t:     &transport{service: "keycloak-admin", httpClient: httpClient, cb: cb, bulkhead: bh},
		reads: reads,
	}
}

func (c *AdminClient) realmURL(parts ...string) string {
	elems := append([]string{"admin", "realms", c.cfg.Realm}, parts...)
	for i, e := range elems {
		elems[i] = url.PathEscape(e)
	}
	return c.cfg.adminBase() + "/" + path.Join(elems...)
}

// AdminToken requests an operator token through the admin-cli password grant.
func (c *AdminClient) AdminToken(ctx context.Context) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", "admin-cli")
	form.Set("username", c.cfg.AdminUsername)
	form.Set("password", c.cfg.AdminPassword)

	tokenURL := c.cfg.adminBase() + "/realms/" + url.PathEscape(c.cfg.AdminRealm) + "/protocol/openid-connect/token"

	var tokens domain.TokenSet
	err := c.t.call(ctx, "admin_token", resilience.NoRetry, formRequest(tokenURL, form), func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&tokens)
	})
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, &domain.ErrExternalService{Service: c.t.service, Err: errors.New("admin token response without access_token")}
	}
	return &tokens, nil
}

type credentialRepresentation struct {
	Type      string `json:"type"`
	Value     string `json:"value"`
	Temporary bool   `json:"temporary"`
}

type userRepresentation struct {
	ID            string                     `json:"id,omitempty"`
	Username      string                     `json:"username,omitempty"`
	Email         string                     `json:"email,omitempty"`
	Enabled       bool                       `json:"enabled"`
	EmailVerified bool                       `json:"emailVerified"`
	Attributes    map[string][]string        `json:"attributes,omitempty"`
	Credentials   []credentialRepresentation `json:"credentials,omitempty"`
}

// userUpdate carries only the fields an update may touch; a full
// representation would reset enabled/emailVerified.
type userUpdate struct {
	Email      string              `json:"email,omitempty"`
	Attributes map[string][]string `json:"attributes"`
}

// CreateUser registers an enabled, unverified user with a permanent
// password and a role attribute. It returns the new user's id.
func (c *AdminClient) CreateUser(ctx context.Context, token string, user domain.NewUser) (string, error) {
	rep := userRepresentation{
		Username:      user.Email,
		Email:         user.Email,
		Enabled:       true,
		EmailVerified: false,
		Attributes:    map[string][]string{domain.AttrRole: {user.Role}},
		Credentials: []credentialRepresentation{
			{Type: "password", Value: user.Password, Temporary: false},
		},
	}

	var userID string
	err := c.t.call(ctx, "create_user", resilience.NoRetry, jsonRequest(http.MethodPost, c.realmURL("users"), token, rep),
		func(resp *http.Response) error {
			loc := resp.Header.Get("Location")
			if loc == "" {
				return errors.New("create user: response without Location header")
			}
			userID = path.Base(loc)
			return nil
		})
	if err != nil {
		return "", err
	}
	return userID, nil
}

// GetUser fetches a user record with its attribute bag.
func (c *AdminClient) GetUser(ctx context.Context, token, userID string) (*domain.IdentityUser, error) {
	var rep userRepresentation
	err := c.t.call(ctx, "get_user", c.reads, getRequest(c.realmURL("users", userID), token), func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&rep)
	})
	if err != nil {
		var status *domain.ErrProviderStatus
		if errors.As(err, &status) && status.StatusCode == http.StatusNotFound {
			return nil, &domain.ErrNotFound{Resource: "user", ID: userID}
		}
		return nil, err
	}

	attrs := rep.Attributes
	if attrs == nil {
		attrs = map[string][]string{}
	}
	return &domain.IdentityUser{
		ID:            rep.ID,
		Username:      rep.Username,
		Email:         rep.Email,
		Enabled:       rep.Enabled,
		EmailVerified: rep.EmailVerified,
		Profile:       ProfileFromAttributes(attrs),
		Attributes:    attrs,
	}, nil
}

// UpdateUser writes the user's email and the profile merged into the
// user's existing attribute bag.
func (c *AdminClient) UpdateUser(ctx context.Context, token string, user *domain.IdentityUser) error {
	body := userUpdate{Email: user.Email, Attributes: MergeProfileAttributes(user.Attributes, user.Profile)}
	return c.t.call(ctx, "update_user", resilience.NoRetry, jsonRequest(http.MethodPut, c.realmURL("users", user.ID), token, body), nil)
}

type clientRepresentation struct {
	ID       string `json:"id"`
	ClientID string `json:"clientId"`
}

// ClientUUID resolves a client's internal id from its public client id.
func (c *AdminClient) ClientUUID(ctx context.Context, token, clientID string) (string, error) {
	var clients []clientRepresentation
	endpoint := c.realmURL("clients") + "?" + url.Values{"clientId": {clientID}}.Encode()
	err := c.t.call(ctx, "get_clients", c.reads, getRequest(endpoint, token), func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&clients)
	})
	if err != nil {
		return "", err
	}
	for _, cl := range clients {
		if cl.ClientID == clientID {
			return cl.ID, nil
		}
	}
	return "", &domain.ErrNotFound{Resource: "client", ID: clientID}
}

// ClientRoles lists the roles declared by a client.
func (c *AdminClient) ClientRoles(ctx context.Context, token, clientUUID string) ([]domain.ClientRole, error) {
	var roles []domain.ClientRole
	err := c.t.call(ctx, "get_client_roles", c.reads, getRequest(c.realmURL("clients", clientUUID, "roles"), token), func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&roles)
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignClientRole maps a client role onto a user.
func (c *AdminClient) AssignClientRole(ctx context.Context, token, userID, clientUUID string, role domain.ClientRole) error {
	endpoint := c.realmURL("users", userID, "role-mappings", "clients", clientUUID)
	return c.t.call(ctx, "assign_client_role", resilience.NoRetry, jsonRequest(http.MethodPost, endpoint, token, []domain.ClientRole{role}), nil)
}

// SendVerifyEmail asks the provider to mail the user a verification link.
func (c *AdminClient) SendVerifyEmail(ctx context.Context, token, userID string) error {
	q := url.Values{"client_id": {c.cfg.ClientID}}
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}
	endpoint := c.realmURL("users", userID, "send-verify-email") + "?" + q.Encode()
	return c.t.call(ctx, "send_verify_email", resilience.NoRetry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return req, nil
	}, nil)
}

func getRequest(endpoint, token string) requestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}
}

func jsonRequest(method, endpoint, token string, body any) requestFunc {
	return func(ctx context.Context) (*http.Request, error) {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", method, err)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}
}
