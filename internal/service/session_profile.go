package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/marche-conclu/marketplace-bff/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Profile attributes: read and written through the admin API
// ============================================================

// CheckProfileCompletion reports which role-required attributes the
// signed-in user still has to fill in.
func (m *SessionManager) CheckProfileCompletion(ctx context.Context) (domain.ProfileStatus, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.CheckProfileCompletion")
	defer span.End()

	user, role, err := m.currentUser(ctx)
	if err != nil {
		return domain.ProfileStatus{}, err
	}
	return user.Profile.Completion(role), nil
}

// Profile returns the signed-in user's profile attributes.
func (m *SessionManager) Profile(ctx context.Context) (*domain.Profile, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.Profile")
	defer span.End()

	user, _, err := m.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	p := user.Profile
	if p.Email == "" {
		p.Email = user.Email
	}
	return &p, nil
}

// UpdateProfile stores the profile once every role-required field is set.
// Attributes the profile does not cover are preserved.
func (m *SessionManager) UpdateProfile(ctx context.Context, p domain.Profile) (domain.ProfileStatus, error) {
	ctx, span := tracer.Start(ctx, "SessionManager.UpdateProfile")
	defer span.End()

	user, role, err := m.currentUser(ctx)
	if err != nil {
		return domain.ProfileStatus{}, err
	}

	if role != domain.RoleProducer {
		p.Profession = ""
	}
	p.Email = user.Email
	if p.Email == "" {
		p.Email = m.state.UserInfo.Email
	}

	status := p.Completion(role)
	if !status.IsComplete {
		return status, &domain.ErrValidation{
			Field:   strings.Join(status.MissingFields, ","),
			Message: "required profile fields are missing",
		}
	}

	user.Profile = p
	err = m.withAdminToken(ctx, func(token string) error {
		return m.admin.UpdateUser(ctx, token, user)
	})
	if err != nil {
		return domain.ProfileStatus{}, fmt.Errorf("update profile: %w", err)
	}

	m.logger.Info("profile updated",
		zap.String("session_id", m.sessionID),
		zap.String("role", role),
	)
	return status, nil
}

// currentUser loads the signed-in user's record and the role that decides
// the required fields.
func (m *SessionManager) currentUser(ctx context.Context) (*domain.IdentityUser, string, error) {
	info, err := m.signedInUser(ctx)
	if err != nil {
		return nil, "", err
	}

	var user *domain.IdentityUser
	err = m.withAdminToken(ctx, func(token string) error {
		u, err := m.admin.GetUser(ctx, token, info.Subject)
		user = u
		return err
	})
	if err != nil {
		return nil, "", fmt.Errorf("load user %s: %w", info.Subject, err)
	}

	return user, userRole(info, user), nil
}

// userRole prefers the first client role from userinfo and falls back to
// the role attribute written at sign-up.
func userRole(info *domain.UserInfo, user *domain.IdentityUser) string {
	if role := info.PrimaryRole(); role != "" {
		return role
	}
	if v := user.Attributes[domain.AttrRole]; len(v) > 0 {
		return v[0]
	}
	return ""
}
