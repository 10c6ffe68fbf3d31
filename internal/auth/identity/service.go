// Package identity is the auth subsystem: credentials, sessions, token refresh
// and the auth-state change stream.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/token"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	usersgorm "github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/infra/persistence/gorm/users"
)

var (
	ErrInvalidCredentials = errors.New("invalid login credentials")
	ErrUserDisabled       = errors.New("user disabled")
	ErrEmailTaken         = errors.New("user already registered")
	ErrWeakPassword       = errors.New("password should be at least 6 characters")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidRefresh     = errors.New("invalid refresh token")
)

const minPasswordLen = 6

// UserStore is the persistence the auth subsystem needs.
type UserStore interface {
	Verify(ctx context.Context, email, plain string) (*usersgorm.UserRecord, error)
	Provision(ctx context.Context, u *usersgorm.UserRecord, plain string, role domain.Role, fullName string) error
}

// SignUpInput is what a registration form submits. Role is the intended role,
// stored with the user metadata and provisioned into user_roles.
type SignUpInput struct {
	Email    string
	Password string
	FullName string
	Role     domain.Role
	Metadata map[string]any
}

type Service struct {
	users    UserStore
	tokens   *token.Manager
	sessions SessionStore

	mu        sync.RWMutex
	listeners map[uint64]func(domain.AuthEvent)
	next      uint64
}

func NewService(users UserStore, tokens *token.Manager, sessions SessionStore) *Service {
	if sessions == nil {
		sessions = NewMemoryStore()
	}
	return &Service{users: users, tokens: tokens, sessions: sessions, listeners: map[uint64]func(domain.AuthEvent){}}
}

// Subscribe registers fn on the auth-state stream. fn runs on the caller's
// goroutine of the transition and must return quickly.
func (s *Service) Subscribe(fn func(domain.AuthEvent)) (cancel func()) {
	s.mu.Lock()
	s.next++
	id := s.next
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Service) emit(ev domain.AuthEvent) {
	s.mu.RLock()
	fns := make([]func(domain.AuthEvent), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (s *Service) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	u, err := s.users.Verify(ctx, email, password)
	switch {
	case errors.Is(err, usersgorm.ErrInvalidCredentials):
		return nil, ErrInvalidCredentials
	case errors.Is(err, usersgorm.ErrDisabled):
		return nil, ErrUserDisabled
	case err != nil:
		return nil, fmt.Errorf("verify credentials: %w", err)
	}
	sess, err := s.issue(ctx, u.ID, u.Email, uuid.NewString())
	if err != nil {
		return nil, err
	}
	slog.Info("auth sign in", "user", u.ID)
	s.emit(domain.AuthEvent{Type: domain.SignedIn, UserID: u.ID, SessionID: sess.ID, Session: sess})
	return sess, nil
}

func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*domain.Session, error) {
	email := strings.TrimSpace(in.Email)
	if !strings.Contains(email, "@") || strings.ContainsAny(email, " \t") {
		return nil, ErrInvalidEmail
	}
	if len(in.Password) < minPasswordLen {
		return nil, ErrWeakPassword
	}
	if !in.Role.Valid() {
		in.Role = domain.RoleUser
	}
	meta := map[string]any{}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["role"] = string(in.Role)
	if in.FullName != "" {
		meta["full_name"] = in.FullName
	}
	u := &usersgorm.UserRecord{Email: email, Metadata: meta}
	if err := s.users.Provision(ctx, u, in.Password, in.Role, in.FullName); err != nil {
		if errors.Is(err, usersgorm.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("provision user: %w", err)
	}
	sess, err := s.issue(ctx, u.ID, u.Email, uuid.NewString())
	if err != nil {
		return nil, err
	}
	slog.Info("auth sign up", "user", u.ID, "role", in.Role)
	s.emit(domain.AuthEvent{Type: domain.SignedIn, UserID: u.ID, SessionID: sess.ID, Session: sess})
	return sess, nil
}

// GetSession returns the session behind an access token, or nil when the token
// is missing, malformed, expired or revoked. Only store failures are errors.
func (s *Service) GetSession(ctx context.Context, accessToken string) (*domain.Session, error) {
	if strings.TrimSpace(accessToken) == "" {
		return nil, nil
	}
	c, err := s.tokens.Verify(accessToken, token.Access)
	if err != nil {
		return nil, nil
	}
	ok, err := s.sessions.Valid(ctx, c.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !ok {
		return nil, nil
	}
	return &domain.Session{
		ID:          c.SessionID,
		User:        domain.Identity{ID: c.Subject, Email: c.Email},
		AccessToken: accessToken,
		ExpiresAt:   c.ExpiresAt.Time,
	}, nil
}

// Refresh rotates both tokens of a live session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	c, err := s.tokens.Verify(refreshToken, token.Refresh)
	if err != nil {
		return nil, ErrInvalidRefresh
	}
	ok, err := s.sessions.Valid(ctx, c.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	if !ok {
		return nil, ErrInvalidRefresh
	}
	sess, err := s.issue(ctx, c.Subject, c.Email, c.SessionID)
	if err != nil {
		return nil, err
	}
	s.emit(domain.AuthEvent{Type: domain.TokenRefreshed, UserID: c.Subject, SessionID: sess.ID, Session: sess})
	return sess, nil
}

// SignOut revokes the session behind accessToken. Unknown or expired tokens are ignored.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	c, err := s.tokens.Verify(accessToken, token.Access)
	if err != nil {
		return nil
	}
	return s.Revoke(ctx, c.Subject, c.SessionID)
}

// Revoke ends a session by id and notifies the stream.
func (s *Service) Revoke(ctx context.Context, userID, sessionID string) error {
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	slog.Info("auth sign out", "user", userID)
	s.emit(domain.AuthEvent{Type: domain.SignedOut, UserID: userID, SessionID: sessionID})
	return nil
}

func (s *Service) issue(ctx context.Context, userID, email, sid string) (*domain.Session, error) {
	access, exp, err := s.tokens.Sign(userID, email, sid, token.Access)
	if err != nil {
		return nil, err
	}
	refresh, _, err := s.tokens.Sign(userID, email, sid, token.Refresh)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Put(ctx, sid, userID, s.tokens.TTL(token.Refresh)); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	return &domain.Session{
		ID:           sid,
		User:         domain.Identity{ID: userID, Email: email},
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    exp,
	}, nil
}
