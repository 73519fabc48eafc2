package keycloak

import (
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessClaims are the Keycloak-specific claims of an access token.
type AccessClaims struct {
	PreferredUsername string `json:"preferred_username"`
	RealmAccess       struct {
		Roles []string `json:"roles"`
	} `json:"realm_access"`
	ResourceAccess map[string]struct {
		Roles []string `json:"roles"`
	} `json:"resource_access"`
	jwt.RegisteredClaims
}

// ParseAccessToken decodes a provider token without verifying its
// signature. The result must not be used as proof of identity.
func ParseAccessToken(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("parse access token: %w", err)
	}
	return claims, nil
}

// ClientRoles returns the roles granted for clientID, falling back to realm roles.
func (c *AccessClaims) ClientRoles(clientID string) []string {
	if ra, ok := c.ResourceAccess[clientID]; ok && len(ra.Roles) > 0 {
		return slices.Clone(ra.Roles)
	}
	return slices.Clone(c.RealmAccess.Roles)
}

// Expiry returns the token's exp claim, or nil when absent.
func (c *AccessClaims) Expiry() *time.Time {
	if c.ExpiresAt == nil {
		return nil
	}
	t := c.ExpiresAt.Time
	return &t
}
