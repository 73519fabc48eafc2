package service

import (
	"fmt"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"

	"github.com/golang-jwt/jwt/v5"
)

// ============================================================
// Session tokens: what the app carries instead of provider tokens
// ============================================================

const sessionTokenType = "session"

// SessionClaims are the claims of a session token. Subject is the session id.
type SessionClaims struct {
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// SessionTokens signs and validates HS256 session tokens.
type SessionTokens struct {
	secret []byte
	ttl    time.Duration
}

// NewSessionTokens creates a signer. ttl should match the session store's TTL.
func NewSessionTokens(secret string, ttl time.Duration) *SessionTokens {
	return &SessionTokens{secret: []byte(secret), ttl: ttl}
}

// TTL is the lifetime of issued tokens.
func (t *SessionTokens) TTL() time.Duration { return t.ttl }

// Sign issues a token for sessionID.
func (t *SessionTokens) Sign(sessionID string) (string, error) {
	now := time.Now()
	claims := SessionClaims{
		Type: sessionTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			Issuer:    "marketplace-bff",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate checks a token and returns the session id it names.
func (t *SessionTokens) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", &domain.ErrUnauthorized{Message: "invalid or expired session token"}
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid || claims.Type != sessionTokenType || claims.Subject == "" {
		return "", &domain.ErrUnauthorized{Message: "invalid session token"}
	}
	return claims.Subject, nil
}
