package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/resilience"

	"github.com/sony/gobreaker"
)

// Client talks to the realm's OpenID-Connect endpoints on behalf of app users.
type Client struct {
	cfg Config
	t   *transport
	// reads is the retry policy for idempotent calls; token exchanges
	// always run once.
	reads resilience.Config
}

// NewClient creates a new Client.
func NewClient(httpClient *http.Client, cfg Config, cb *gobreaker.CircuitBreaker, reads resilience.Config) *Client {
	return &Client{
		cfg:   cfg,
		t:     &transport{service: "keycloak-oidc", httpClient: httpClient, cb: cb},
		reads: reads,
	}
}

func (c *Client) endpoint(name string) string {
	return c.cfg.Issuer() + "/protocol/openid-connect/" + name
}

// AuthorizationURL builds the authorization-code URL with an S256 PKCE challenge.
func (c *Client) AuthorizationURL(state, codeChallenge string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", "openid profile email")
	q.Set("state", state)
	q.Set("code_challenge", codeChallenge)
	q.Set("code_challenge_method", "S256")
	return c.endpoint("auth") + "?" + q.Encode()
}

// NewAuthorizationRequest pairs a fresh PKCE verifier with the
// authorization URL for state.
func (c *Client) NewAuthorizationRequest(state string) (*domain.AuthorizationRequest, error) {
	verifier, err := NewCodeVerifier()
	if err != nil {
		return nil, err
	}
	return &domain.AuthorizationRequest{
		State:            state,
		CodeVerifier:     verifier,
		AuthorizationURL: c.AuthorizationURL(state, CodeChallengeS256(verifier)),
	}, nil
}

// PasswordGrant exchanges a username and password for tokens.
func (c *Client) PasswordGrant(ctx context.Context, username, password string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("username", username)
	form.Set("password", password)
	form.Set("scope", "openid profile email")

	return c.token(ctx, "password_grant", form)
}

// ExchangeCode redeems an authorization code together with its PKCE verifier.
func (c *Client) ExchangeCode(ctx context.Context, code, codeVerifier string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)
	form.Set("code_verifier", codeVerifier)

	tokens, err := c.token(ctx, "code_exchange", form)
	if err != nil {
		return nil, err
	}
	if tokens.IDToken == "" {
		return nil, &domain.ErrExternalService{Service: c.t.service, Err: errors.New("token response without id_token")}
	}
	return tokens, nil
}

// RefreshTokens redeems a refresh token for a new token set.
func (c *Client) RefreshTokens(ctx context.Context, refreshToken string) (*domain.TokenSet, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("refresh_token", refreshToken)

	return c.token(ctx, "refresh", form)
}

func (c *Client) token(ctx context.Context, operation string, form url.Values) (*domain.TokenSet, error) {
	var tokens domain.TokenSet
	err := c.t.call(ctx, operation, resilience.NoRetry, formRequest(c.endpoint("token"), form), func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&tokens)
	})
	if err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, &domain.ErrExternalService{Service: c.t.service, Err: errors.New("token response without access_token")}
	}
	// Some realms omit expires_in; fall back to the token's own exp claim.
	if tokens.ExpiresIn == 0 {
		if claims, err := ParseAccessToken(tokens.AccessToken); err == nil {
			if exp := claims.Expiry(); exp != nil {
				tokens.ExpiresIn = max(int(time.Until(*exp).Seconds()), 1)
			}
		}
	}
	return &tokens, nil
}

type userInfoResponse struct {
	Sub               string   `json:"sub"`
	PreferredUsername string   `json:"preferred_username"`
	GivenName         string   `json:"given_name"`
	FamilyName        string   `json:"family_name"`
	Email             string   `json:"email"`
	Roles             []string `json:"roles"`
}

// UserInfo fetches the signed-in user's claims. When the realm has no
// roles mapper on userinfo, roles are read from the access token.
func (c *Client) UserInfo(ctx context.Context, accessToken string) (*domain.UserInfo, error) {
	var body userInfoResponse
	err := c.t.call(ctx, "userinfo", c.reads, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("userinfo"), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")
		return req, nil
	}, func(resp *http.Response) error {
		return json.NewDecoder(resp.Body).Decode(&body)
	})
	if err != nil {
		return nil, err
	}

	roles := body.Roles
	if len(roles) == 0 {
		if claims, err := ParseAccessToken(accessToken); err == nil {
			roles = claims.ClientRoles(c.cfg.ClientID)
		}
	}

	return &domain.UserInfo{
		Subject:    body.Sub,
		Username:   body.PreferredUsername,
		GivenName:  body.GivenName,
		FamilyName: body.FamilyName,
		Email:      body.Email,
		Roles:      roles,
	}, nil
}

// EndSession ends the provider session identified by the ID token hint.
func (c *Client) EndSession(ctx context.Context, idTokenHint string) error {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	logoutURL := c.endpoint("logout") + "?" + q.Encode()

	return c.t.call(ctx, "logout", resilience.NoRetry, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, logoutURL, nil)
	}, nil)
}
