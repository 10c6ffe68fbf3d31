package domain

import "time"

// Identity is the authenticated principal. Role is deliberately absent; it is
// looked up separately and never trusted from the token body.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is what the auth subsystem hands out after sign in or refresh.
type Session struct {
	ID           string    `json:"-"`
	User         Identity  `json:"user"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// AuthEventType names a transition on the auth-state stream.
type AuthEventType string

const (
	SignedIn       AuthEventType = "SIGNED_IN"
	SignedOut      AuthEventType = "SIGNED_OUT"
	TokenRefreshed AuthEventType = "TOKEN_REFRESHED"
	UserUpdated    AuthEventType = "USER_UPDATED"
)

// AuthEvent carries the session after the transition; nil for SignedOut.
type AuthEvent struct {
	Type      AuthEventType
	UserID    string
	SessionID string
	Session   *Session
}
