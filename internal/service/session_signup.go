package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/marche-conclu/marketplace-bff/internal/domain"
	"github.com/marche-conclu/marketplace-bff/internal/infra/observability"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// SignUpWithCredentials: admin-API registration
// ============================================================

// SignUpWithCredentials registers a user with a role. Only the user
// creation decides the outcome; role assignment and the verification mail
// are logged and skipped on failure.
func (i *Identity) SignUpWithCredentials(ctx context.Context, email, password, role string) domain.SignUpResult {
	ctx, span := tracer.Start(ctx, "Identity.SignUpWithCredentials")
	defer span.End()
	span.SetAttributes(attribute.String("user.role", role))
	defer func(start time.Time) { i.metrics.RecordDuration(opSignUp, time.Since(start)) }(time.Now())

	var userID string
	err := i.withAdminToken(ctx, func(token string) error {
		id, err := i.admin.CreateUser(ctx, token, domain.NewUser{Email: email, Password: password, Role: role})
		userID = id
		return err
	})
	if err != nil {
		i.metrics.IncrIdentityOp(opSignUp, observability.OutcomeFailure)
		result := classifySignUpError(err)
		i.logger.Warn("sign-up failed",
			zap.String("error_code", result.Error),
			zap.Error(err),
		)
		return result
	}
	i.metrics.IncrIdentityOp(opSignUp, observability.OutcomeSuccess)

	token, err := i.tokens.Token(ctx)
	if err != nil {
		i.logger.Warn("sign-up: no admin token for follow-up steps", zap.String("user_id", userID), zap.Error(err))
		return domain.SignUpResult{Success: true, UserID: userID, Message: "account created"}
	}

	if err := i.assignClientRole(ctx, token, userID, role); err != nil {
		i.logger.Warn("sign-up: client role not assigned",
			zap.String("user_id", userID),
			zap.String("role", role),
			zap.Error(err),
		)
	}

	if err := i.admin.SendVerifyEmail(ctx, token, userID); err != nil {
		i.logger.Warn("sign-up: verification email not sent", zap.String("user_id", userID), zap.Error(err))
	}

	i.logger.Info("user registered", zap.String("user_id", userID), zap.String("role", role))
	return domain.SignUpResult{
		Success: true,
		UserID:  userID,
		Message: "account created, check your inbox to verify your email",
	}
}

func (i *Identity) assignClientRole(ctx context.Context, token, userID, role string) error {
	clientUUID, err := i.admin.ClientUUID(ctx, token, i.clientID)
	if err != nil {
		return err
	}
	roles, err := i.admin.ClientRoles(ctx, token, clientUUID)
	if err != nil {
		return err
	}
	for _, r := range roles {
		if r.Name == role {
			return i.admin.AssignClientRole(ctx, token, userID, clientUUID, r)
		}
	}
	return &domain.ErrNotFound{Resource: "client role", ID: role}
}

func classifySignUpError(err error) domain.SignUpResult {
	var status *domain.ErrProviderStatus
	if errors.As(err, &status) {
		switch status.StatusCode {
		case http.StatusConflict:
			return domain.SignUpResult{Error: domain.SignUpAccountExists, Message: "an account already exists for this email"}
		case http.StatusBadRequest:
			return domain.SignUpResult{Error: domain.SignUpInvalidData, Message: "the registration data was rejected"}
		}
	}
	return domain.SignUpResult{Error: domain.SignUpFailed, Message: "registration failed, try again later"}
}

// withAdminToken runs fn with the operator token. A 401 means the cached
// token was revoked early: it is dropped and fn runs once more.
func (i *Identity) withAdminToken(ctx context.Context, fn func(token string) error) error {
	token, err := i.tokens.Token(ctx)
	if err != nil {
		return err
	}
	err = fn(token)
	if !isStatus(err, http.StatusUnauthorized) {
		return err
	}

	i.tokens.Invalidate()
	token, err = i.tokens.Token(ctx)
	if err != nil {
		return err
	}
	return fn(token)
}

func isStatus(err error, code int) bool {
	var status *domain.ErrProviderStatus
	return errors.As(err, &status) && status.StatusCode == code
}
