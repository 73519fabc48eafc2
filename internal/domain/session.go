package domain

import (
	"slices"
	"time"
)

// ============================================================
// Session: identity state held per app session
// ============================================================

// SessionPhase is the position of a session in the sign-in state machine.
type SessionPhase string

const (
	PhaseAnonymous           SessionPhase = ""
	PhaseAuthenticating      SessionPhase = "authenticating"
	PhaseSignedIn            SessionPhase = "signed_in"
	PhaseSignedInWithProfile SessionPhase = "signed_in_with_profile"
)

// String returns a readable phase name; the anonymous phase is the zero value.
func (p SessionPhase) String() string {
	if p == PhaseAnonymous {
		return "anonymous"
	}
	return string(p)
}

// Role names declared as client roles in the identity provider.
const (
	RoleProducer        = "Producer"
	RoleRestaurantOwner = "Restaurant Owner"
)

// UserInfo is the subset of the OIDC userinfo payload the app relies on.
type UserInfo struct {
	Subject    string   `json:"sub"`
	Username   string   `json:"username"`
	GivenName  string   `json:"givenName"`
	FamilyName string   `json:"familyName"`
	Email      string   `json:"email"`
	Roles      []string `json:"roles"`
}

// PrimaryRole is the first declared role, or "" when the user has none.
func (u *UserInfo) PrimaryRole() string {
	if u == nil || len(u.Roles) == 0 {
		return ""
	}
	return u.Roles[0]
}

// AuthorizationRequest is an in-flight delegated sign-in.
type AuthorizationRequest struct {
	State            string `json:"state"`
	CodeVerifier     string `json:"codeVerifier"`
	AuthorizationURL string `json:"authorizationUrl"`
}

// SessionState is the identity half of a session. The zero value is the
// anonymous state and sign-out resets to exactly that value.
type SessionState struct {
	Phase        SessionPhase          `json:"phase,omitempty"`
	IsSignedIn   bool                  `json:"isSignedIn"`
	AccessToken  string                `json:"accessToken,omitempty"`
	IDToken      string                `json:"idToken,omitempty"`
	RefreshToken string                `json:"refreshToken,omitempty"`
	ExpiresAt    *time.Time            `json:"expiresAt,omitempty"`
	UserInfo     *UserInfo             `json:"userInfo,omitempty"`
	Pending      *AuthorizationRequest `json:"pending,omitempty"`
}

// HasRole reports whether the signed-in user holds role.
func (s SessionState) HasRole(role string) bool {
	return s.UserInfo != nil && slices.Contains(s.UserInfo.Roles, role)
}

// Clone returns a deep copy so callers cannot mutate a manager's state.
func (s SessionState) Clone() SessionState {
	out := s
	if s.ExpiresAt != nil {
		t := *s.ExpiresAt
		out.ExpiresAt = &t
	}
	if s.UserInfo != nil {
		u := *s.UserInfo
		u.Roles = slices.Clone(s.UserInfo.Roles)
		out.UserInfo = &u
	}
	if s.Pending != nil {
		p := *s.Pending
		out.Pending = &p
	}
	return out
}

// TokenSet is a token endpoint response.
type TokenSet struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
}

// Session is the persisted record for one app session: identity state and
// cart side by side, with no shared mutable state between them.
type Session struct {
	ID        string       `json:"id"`
	State     SessionState `json:"state"`
	Cart      CartState    `json:"cart"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ============================================================
// Session API: Request / Response types
// ============================================================

// CreateSessionResponse is returned by POST /v1/sessions.
type CreateSessionResponse struct {
	SessionID    string `json:"sessionId"`
	SessionToken string `json:"sessionToken"`
	ExpiresIn    int    `json:"expiresIn"`
}

// SessionView is the client-facing projection of a session; tokens stay server-side.
type SessionView struct {
	SessionID  string    `json:"sessionId"`
	Phase      string    `json:"phase"`
	IsSignedIn bool      `json:"isSignedIn"`
	UserInfo   *UserInfo `json:"userInfo"`
	CartItems  int       `json:"cartItems"`
}

// NewSessionView projects a session for the app.
func NewSessionView(s *Session) SessionView {
	return SessionView{
		SessionID:  s.ID,
		Phase:      s.State.Phase.String(),
		IsSignedIn: s.State.IsSignedIn,
		UserInfo:   s.State.UserInfo,
		CartItems:  s.Cart.TotalItems,
	}
}

// CredentialsRequest is the body for POST /v1/session/sign-in/credentials.
type CredentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// SignInStartResponse is returned by POST /v1/session/sign-in.
type SignInStartResponse struct {
	AuthorizationURL string `json:"authorizationUrl"`
	State            string `json:"state"`
}

// SessionResponse is returned by operations that move the session between
// phases, with the screen the app should show next.
type SessionResponse struct {
	Session  SessionView `json:"session"`
	Redirect Route       `json:"redirect,omitempty"`
}

// RoleCheckResponse is returned by GET /v1/session/roles/{role}.
type RoleCheckResponse struct {
	Role    string `json:"role"`
	HasRole bool   `json:"hasRole"`
}
