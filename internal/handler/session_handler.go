package handler

import (
	"context"
	"net/http"
	"net/url"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Sessions
// ============================================================

func createSessionHandler(reg *service.Registry, tokens *service.SessionTokens, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/sessions")
		defer span.End()

		s, err := reg.Create(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		token, err := tokens.Sign(s.ID)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusCreated, domain.CreateSessionResponse{
			SessionID:    s.ID,
			SessionToken: token,
			ExpiresIn:    int(tokens.TTL().Seconds()),
		})
	}
}

func getSessionHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/session")
		defer span.End()

		s, err := reg.Get(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.NewSessionView(s))
	}
}

// ============================================================
// Sign-in / sign-up / sign-out
// ============================================================

func signInHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/sign-in")
		defer span.End()

		var req *domain.AuthorizationRequest
		_, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			var err error
			req, err = m.SignIn(ctx)
			return err
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.SignInStartResponse{
			AuthorizationURL: req.AuthorizationURL,
			State:            req.State,
		})
	}
}

// signInCallbackHandler receives the provider redirect, forwarded by the app.
func signInCallbackHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/session/callback")
		defer span.End()

		q := r.URL.Query()
		if providerErr := q.Get("error"); providerErr != "" {
			logger.Info("provider denied authorization", zap.String("error", providerErr))
		}

		completeSignIn(ctx, w, reg, logger, func(m *service.SessionManager) error {
			return m.CompleteSignIn(ctx, q.Get("state"), q.Get("code"))
		})
	}
}

func signInCredentialsHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/sign-in/credentials")
		defer span.End()

		var req domain.CredentialsRequest
		if err := decodeAndValidate(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		completeSignIn(ctx, w, reg, logger, func(m *service.SessionManager) error {
			return m.SignInWithCredentials(ctx, req.Email, req.Password)
		})
	}
}

// completeSignIn runs a sign-in step and, on success, resolves the landing
// screen within the same session action.
func completeSignIn(ctx context.Context, w http.ResponseWriter, reg *service.Registry, logger *zap.Logger, signIn func(*service.SessionManager) error) {
	nav := &responseNavigator{}
	s, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
		if err := signIn(m); err != nil {
			return err
		}
		m.Landing(ctx, nav)
		return nil
	})
	if err != nil {
		handleServiceError(w, err, logger)
		return
	}

	writeJSON(w, http.StatusOK, domain.SessionResponse{
		Session:  domain.NewSessionView(s),
		Redirect: nav.route,
	})
}

func signUpHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/sign-up")
		defer span.End()

		var req domain.SignUpRequest
		if err := decodeAndValidate(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		var result domain.SignUpResult
		_, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			result = m.SignUpWithCredentials(ctx, req.Email, req.Password, req.Role)
			return nil
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, signUpStatus(result), result)
	}
}

func signUpStatus(res domain.SignUpResult) int {
	switch {
	case res.Success:
		return http.StatusCreated
	case res.Error == domain.SignUpAccountExists:
		return http.StatusConflict
	case res.Error == domain.SignUpInvalidData:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func signOutHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/session/sign-out")
		defer span.End()

		s, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			m.SignOut(ctx)
			return nil
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.SessionResponse{
			Session:  domain.NewSessionView(s),
			Redirect: domain.RouteLogin,
		})
	}
}

// ============================================================
// Roles, profile and landing
// ============================================================

func hasRoleHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/session/roles/{role}")
		defer span.End()

		role, err := url.PathUnescape(chi.URLParam(r, "role"))
		if err != nil || role == "" {
			writeError(w, http.StatusBadRequest, "invalid role")
			return
		}

		s, err := reg.Get(ctx, SessionIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		writeJSON(w, http.StatusOK, domain.RoleCheckResponse{Role: role, HasRole: s.State.HasRole(role)})
	}
}

func profileCompletionHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/session/profile/completion")
		defer span.End()

		var status domain.ProfileStatus
		_, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			var err error
			status, err = m.CheckProfileCompletion(ctx)
			return err
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func getProfileHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/session/profile")
		defer span.End()

		var profile *domain.Profile
		_, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			var err error
			profile, err = m.Profile(ctx)
			return err
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	}
}

func updateProfileHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/session/profile")
		defer span.End()

		var req domain.UpdateProfileRequest
		if err := decodeAndValidate(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		nav := &responseNavigator{}
		var status domain.ProfileStatus
		_, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			var err error
			status, err = m.UpdateProfile(ctx, req.ToProfile())
			if err != nil {
				return err
			}
			m.Landing(ctx, nav)
			return nil
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.LandingResponse{Redirect: nav.route, Profile: &status})
	}
}

func landingHandler(reg *service.Registry, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/session/landing")
		defer span.End()

		var res domain.LandingResponse
		_, err := reg.Do(ctx, SessionIDFromContext(ctx), func(m *service.SessionManager, _ *service.Cart) error {
			res = m.Landing(ctx, &responseNavigator{})
			return nil
		})
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
