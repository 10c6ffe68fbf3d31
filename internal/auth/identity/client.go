package identity

import (
	"context"
	"sync"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

// Client is one caller's view of the auth subsystem. It holds the caller's
// current tokens and relays auth-state changes that concern its session.
type Client struct {
	svc *Service

	mu        sync.Mutex
	token     string
	session   *domain.Session
	listeners map[uint64]func(domain.AuthEvent)
	next      uint64
	unsub     func()
}

// Client returns a handle bound to accessToken, which may be empty.
func (s *Service) Client(accessToken string) *Client {
	return &Client{svc: s, token: accessToken, listeners: map[uint64]func(domain.AuthEvent){}}
}

// CurrentSession re-validates the held token against the service.
func (c *Client) CurrentSession(ctx context.Context) (*domain.Session, error) {
	c.mu.Lock()
	tok := c.token
	c.mu.Unlock()
	if tok == "" {
		return nil, nil
	}
	sess, err := c.svc.GetSession(ctx, tok)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.token == tok {
		if sess == nil {
			c.token = ""
			c.session = nil
		} else {
			if c.session != nil && c.session.RefreshToken != "" {
				sess.RefreshToken = c.session.RefreshToken
			}
			c.session = sess
		}
	}
	c.mu.Unlock()
	return sess, nil
}

// OnAuthStateChange registers fn for transitions of this client's session.
func (c *Client) OnAuthStateChange(fn func(domain.AuthEvent)) (cancel func()) {
	c.mu.Lock()
	c.next++
	id := c.next
	c.listeners[id] = fn
	if c.unsub == nil {
		c.unsub = c.svc.Subscribe(c.relay)
	}
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		var unsub func()
		if len(c.listeners) == 0 && c.unsub != nil {
			unsub, c.unsub = c.unsub, nil
		}
		c.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	}
}

// relay forwards service events for the session this client currently holds.
// Transitions the client performs itself are emitted locally instead.
func (c *Client) relay(ev domain.AuthEvent) {
	c.mu.Lock()
	if c.session == nil || ev.SessionID != c.session.ID {
		c.mu.Unlock()
		return
	}
	switch ev.Type {
	case domain.SignedOut:
		c.session, c.token = nil, ""
	case domain.TokenRefreshed, domain.UserUpdated:
		if ev.Session != nil {
			c.session, c.token = ev.Session, ev.Session.AccessToken
		}
	}
	c.mu.Unlock()
	c.emit(ev)
}

func (c *Client) emit(ev domain.AuthEvent) {
	c.mu.Lock()
	fns := make([]func(domain.AuthEvent), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) adopt(sess *domain.Session) {
	c.mu.Lock()
	c.session, c.token = sess, sess.AccessToken
	c.mu.Unlock()
	c.emit(domain.AuthEvent{Type: domain.SignedIn, UserID: sess.User.ID, SessionID: sess.ID, Session: sess})
}

func (c *Client) SignIn(ctx context.Context, email, password string) (*domain.Session, error) {
	sess, err := c.svc.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.adopt(sess)
	return sess, nil
}

func (c *Client) SignUp(ctx context.Context, in SignUpInput) (*domain.Session, error) {
	sess, err := c.svc.SignUp(ctx, in)
	if err != nil {
		return nil, err
	}
	c.adopt(sess)
	return sess, nil
}

// SignOut clears local state first, then revokes server-side.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	tok, prev := c.token, c.session
	c.token, c.session = "", nil
	c.mu.Unlock()
	if tok == "" {
		return nil
	}
	err := c.svc.SignOut(ctx, tok)
	ev := domain.AuthEvent{Type: domain.SignedOut}
	if prev != nil {
		ev.UserID, ev.SessionID = prev.User.ID, prev.ID
	}
	c.emit(ev)
	return err
}

// Refresh rotates the held tokens using refreshToken.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*domain.Session, error) {
	c.mu.Lock()
	prevID := ""
	if c.session != nil {
		prevID = c.session.ID
	}
	c.mu.Unlock()
	sess, err := c.svc.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.session, c.token = sess, sess.AccessToken
	c.mu.Unlock()
	// relay already announced the refresh when this client held the session
	if prevID != sess.ID {
		c.emit(domain.AuthEvent{Type: domain.TokenRefreshed, UserID: sess.User.ID, SessionID: sess.ID, Session: sess})
	}
	return sess, nil
}

// Close detaches from the service stream.
func (c *Client) Close() {
	c.mu.Lock()
	unsub := c.unsub
	c.unsub = nil
	c.listeners = map[uint64]func(domain.AuthEvent){}
	c.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
