package service

import (
	"context"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/port"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LandingRoute picks the screen a signed-in user lands on. An unknown or
// incomplete profile always leads to the completion screen.
func LandingRoute(status *domain.ProfileStatus, role string) domain.Route {
	if status == nil || !status.IsComplete {
		return domain.RouteCompleteProfile
	}
	if role == domain.RoleProducer {
		return domain.RouteProducerHome
	}
	return domain.RouteRestaurantHome
}

// RequireSignedIn sends anonymous sessions to the login screen and reports
// whether the caller may go on.
func RequireSignedIn(state domain.SessionState, nav port.Navigator) bool {
	if state.IsSignedIn {
		return true
	}
	nav.Redirect(domain.RouteLogin)
	return false
}

// Landing decides where the app goes after sign-in and reports it to nav.
// Roles are refreshed from userinfo while the profile attributes load.
func (m *SessionManager) Landing(ctx context.Context, nav port.Navigator) domain.LandingResponse {
	ctx, span := tracer.Start(ctx, "SessionManager.Landing")
	defer span.End()

	if !RequireSignedIn(m.state, nav) {
		return domain.LandingResponse{Redirect: domain.RouteLogin}
	}

	info, err := m.signedInUser(ctx)
	if err != nil && !RequireSignedIn(m.state, nav) {
		return domain.LandingResponse{Redirect: domain.RouteLogin}
	}
	if err != nil {
		m.logger.Warn("landing: user unknown", zap.String("session_id", m.sessionID), zap.Error(err))
		nav.Redirect(domain.RouteCompleteProfile)
		return domain.LandingResponse{Redirect: domain.RouteCompleteProfile}
	}

	var (
		fresh *domain.UserInfo
		user  *domain.IdentityUser
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := m.provider.UserInfo(gCtx, m.state.AccessToken)
		if err != nil {
			m.logger.Debug("landing: keeping cached roles", zap.Error(err))
			return nil
		}
		fresh = u
		return nil
	})
	g.Go(func() error {
		return m.withAdminToken(gCtx, func(token string) error {
			u, err := m.admin.GetUser(gCtx, token, info.Subject)
			user = u
			return err
		})
	})
	err = g.Wait()

	if fresh != nil {
		m.state.UserInfo = fresh
		m.state.Phase = domain.PhaseSignedInWithProfile
	}

	var (
		status *domain.ProfileStatus
		role   = m.state.UserInfo.PrimaryRole()
	)
	if err != nil {
		m.logger.Warn("landing: profile lookup failed", zap.String("session_id", m.sessionID), zap.Error(err))
	} else {
		role = userRole(m.state.UserInfo, user)
		s := user.Profile.Completion(role)
		status = &s
	}

	route := LandingRoute(status, role)
	nav.Redirect(route)
	return domain.LandingResponse{Redirect: route, Profile: status}
}
