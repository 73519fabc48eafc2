package domain

import (
	"fmt"
	"net/http"
)

// Error types for consistent error handling across the BFF.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrExternalService indicates a failure in an external service call.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrProviderStatus is a non-2xx answer from the identity provider.
type ErrProviderStatus struct {
	Operation  string
	StatusCode int
	Body       string
}

func (e *ErrProviderStatus) Error() string {
	return fmt.Sprintf("identity provider %s returned status %d", e.Operation, e.StatusCode)
}

// ClientError reports whether the provider rejected the request itself.
func (e *ErrProviderStatus) ClientError() bool {
	return e.StatusCode >= http.StatusBadRequest && e.StatusCode < http.StatusInternalServerError
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrInvalidState indicates an operation that the session's phase does not allow.
type ErrInvalidState struct {
	Phase     SessionPhase
	Operation string
}

func (e *ErrInvalidState) Error() string {
	return fmt.Sprintf("%s not allowed in phase %s", e.Operation, e.Phase)
}
