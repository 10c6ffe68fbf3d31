package session

import (
	"errors"
	"fmt"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/identity"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeUserDisabled       = "user_disabled"
	CodeEmailTaken         = "email_taken"
	CodeWeakPassword       = "weak_password"
	CodeInvalidEmail       = "invalid_email"
	CodeRoleMismatch       = "role_mismatch"
	CodeUnknown            = "unknown"
)

// AuthError is the typed result of a failed sign in or sign up. The login form
// shows Message; ExpectedRole names the stored role on a role mismatch.
type AuthError struct {
	Code         string
	Message      string
	ExpectedRole domain.Role
	Err          error
}

func (e *AuthError) Error() string { return e.Message }

func (e *AuthError) Unwrap() error { return e.Err }

func authError(err error) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	code := CodeUnknown
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		code = CodeInvalidCredentials
	case errors.Is(err, identity.ErrUserDisabled):
		code = CodeUserDisabled
	case errors.Is(err, identity.ErrEmailTaken):
		code = CodeEmailTaken
	case errors.Is(err, identity.ErrWeakPassword):
		code = CodeWeakPassword
	case errors.Is(err, identity.ErrInvalidEmail):
		code = CodeInvalidEmail
	}
	msg := err.Error()
	if code == CodeUnknown {
		msg = "authentication failed, please try again"
	}
	return &AuthError{Code: code, Message: msg, Err: err}
}

func roleMismatch(selected, stored domain.Role) *AuthError {
	msg := fmt.Sprintf("this account is not registered as %s", selected)
	if stored != "" {
		msg = fmt.Sprintf("this account is registered as %s, not %s", stored, selected)
	}
	return &AuthError{Code: CodeRoleMismatch, Message: msg, ExpectedRole: stored}
}
