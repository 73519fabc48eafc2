package domain

// Sign-up error codes returned to the app.
const (
	SignUpAccountExists = "account_exists"
	SignUpInvalidData   = "invalid_data"
	SignUpFailed        = "signup_failed"
)

// SignUpRequest is the body for POST /v1/session/sign-up.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=Producer 'Restaurant Owner'"`
}

// SignUpResult is the outcome of a registration. Only the user creation
// step decides Success; later steps are best-effort.
type SignUpResult struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}
