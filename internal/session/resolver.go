// Package session resolves the current identity and its role on top of the
// auth subsystem.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/auth/identity"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

// SessionReader reads the caller's current session; nil means signed out.
type SessionReader interface {
	CurrentSession(ctx context.Context) (*domain.Session, error)
}

// Auth is the slice of the auth subsystem the resolver drives.
type Auth interface {
	SessionReader
	OnAuthStateChange(fn func(domain.AuthEvent)) (cancel func())
	SignIn(ctx context.Context, email, password string) (*domain.Session, error)
	SignUp(ctx context.Context, in identity.SignUpInput) (*domain.Session, error)
	SignOut(ctx context.Context) error
}

// State is the resolver's view. Role is empty when absent or unresolved.
type State struct {
	User    *domain.Identity `json:"user"`
	Role    domain.Role      `json:"role"`
	Loading bool             `json:"loading"`
}

func (s State) SignedIn() bool { return s.User != nil }

type Options struct {
	RoleTimeout time.Duration
	Logger      *slog.Logger
}

// Resolver holds identity and role for one application scope. It subscribes
// to auth-state changes once in Start and is torn down by Close.
type Resolver struct {
	auth    Auth
	roles   RoleSource
	timeout time.Duration
	log     *slog.Logger

	mu       sync.Mutex
	state    State
	gen      uint64
	changed  chan struct{}
	watchers map[uint64]func(State)
	nextW    uint64
	ctx      context.Context
	cancel   context.CancelFunc
	unsub    func()
	started  bool
	wg       sync.WaitGroup
}

func NewResolver(auth Auth, roles RoleSource, opts Options) *Resolver {
	if opts.RoleTimeout <= 0 {
		opts.RoleTimeout = DefaultRoleTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Resolver{
		auth:     auth,
		roles:    roles,
		timeout:  opts.RoleTimeout,
		log:      opts.Logger,
		state:    State{Loading: true},
		changed:  make(chan struct{}),
		watchers: map[uint64]func(State){},
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the auth stream, then reads the current session once so
// a session that existed before the subscription is not missed. The resolver
// stops when ctx is done or Close is called.
func (r *Resolver) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, r.cancel)
	unsub := r.auth.OnAuthStateChange(r.onAuthEvent)
	r.mu.Lock()
	r.unsub = func() {
		unsub()
		stop()
	}
	r.mu.Unlock()
	r.schedule(r.readCurrent)
}

// Close cancels in-flight resolutions and detaches from the auth stream.
// State is frozen afterwards.
func (r *Resolver) Close() {
	r.mu.Lock()
	r.cancel()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	r.wg.Wait()
}

func (r *Resolver) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Wait blocks until the resolver is no longer loading.
func (r *Resolver) Wait(ctx context.Context) (State, error) {
	for {
		r.mu.Lock()
		st, ch := r.state, r.changed
		r.mu.Unlock()
		if !st.Loading {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		case <-r.ctx.Done():
			return r.State(), r.ctx.Err()
		}
	}
}

// Watch calls fn after every state change until cancel is called.
func (r *Resolver) Watch(fn func(State)) (cancel func()) {
	r.mu.Lock()
	r.nextW++
	id := r.nextW
	r.watchers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

// onAuthEvent runs inside the auth subsystem's notification path. It only
// schedules work.
func (r *Resolver) onAuthEvent(ev domain.AuthEvent) {
	switch {
	case ev.Type == domain.SignedOut:
		r.schedule(func(context.Context) (*domain.Identity, error) { return nil, nil })
	case ev.Session != nil:
		user := ev.Session.User
		r.schedule(func(context.Context) (*domain.Identity, error) { return &user, nil })
	default:
		r.schedule(r.readCurrent)
	}
}

func (r *Resolver) readCurrent(ctx context.Context) (*domain.Identity, error) {
	sess, err := r.auth.CurrentSession(ctx)
	if err != nil || sess == nil {
		return nil, err
	}
	user := sess.User
	return &user, nil
}

// schedule starts a resolution that supersedes every earlier one.
func (r *Resolver) schedule(who func(context.Context) (*domain.Identity, error)) {
	r.mu.Lock()
	if r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.gen++
	gen, ctx := r.gen, r.ctx
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		r.resolve(ctx, gen, who)
	}()
}

func (r *Resolver) resolve(ctx context.Context, gen uint64, who func(context.Context) (*domain.Identity, error)) {
	user, err := who(ctx)
	if err != nil {
		r.log.Warn("session read failed", "error", err)
	}
	if user == nil {
		r.commit(gen, State{})
		return
	}
	if !r.commit(gen, State{User: user, Loading: true}) {
		return
	}
	res := LookupRole(ctx, r.roles, user.ID, r.timeout)
	if res.Kind != RoleFound {
		r.log.Warn("role lookup", "user", user.ID, "result", res.Kind.String(), "error", res.Err)
	}
	r.commit(gen, State{User: user, Role: res.Value()})
}

// commit applies st unless the resolver closed or a newer resolution started.
func (r *Resolver) commit(gen uint64, st State) bool {
	r.mu.Lock()
	if r.ctx.Err() != nil || gen != r.gen {
		r.mu.Unlock()
		return false
	}
	r.state = st
	close(r.changed)
	r.changed = make(chan struct{})
	fns := make([]func(State), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
	return true
}

// set supersedes in-flight resolutions with a known state.
func (r *Resolver) set(st State) {
	r.mu.Lock()
	r.gen++
	gen := r.gen
	r.mu.Unlock()
	r.commit(gen, st)
}

// SignIn authenticates and checks that the stored role equals role. On a
// mismatch the fresh session is signed out again.
func (r *Resolver) SignIn(ctx context.Context, email, password string, role domain.Role) (*domain.Session, error) {
	sess, err := r.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, authError(err)
	}
	res := LookupRole(ctx, r.roles, sess.User.ID, r.timeout)
	if res.Kind != RoleFound || res.Role != role {
		if err := r.auth.SignOut(ctx); err != nil {
			r.log.Warn("sign out after role mismatch", "user", sess.User.ID, "error", err)
		}
		r.set(State{})
		r.log.Info("sign in rejected", "user", sess.User.ID, "selected", role, "result", res.Kind.String(), "stored", res.Value())
		return nil, roleMismatch(role, res.Value())
	}
	user := sess.User
	r.set(State{User: &user, Role: res.Role})
	return sess, nil
}

// SignUp creates the identity; the intended role travels in its metadata.
func (r *Resolver) SignUp(ctx context.Context, in identity.SignUpInput) (*domain.Session, error) {
	sess, err := r.auth.SignUp(ctx, in)
	if err != nil {
		return nil, authError(err)
	}
	return sess, nil
}

// SignOut clears local state before revoking the session.
func (r *Resolver) SignOut(ctx context.Context) error {
	r.set(State{})
	return r.auth.SignOut(ctx)
}

// Resolve is the one-shot form used per request: read the session, look up
// the role under timeout, never fail.
func Resolve(ctx context.Context, sessions SessionReader, roles RoleSource, timeout time.Duration) State {
	sess, err := sessions.CurrentSession(ctx)
	if err != nil {
		slog.Warn("session read failed", "error", err)
	}
	if sess == nil {
		return State{}
	}
	user := sess.User
	res := LookupRole(ctx, roles, user.ID, timeout)
	if res.Kind != RoleFound {
		slog.Warn("role lookup", "user", user.ID, "result", res.Kind.String(), "error", res.Err)
	}
	return State{User: &user, Role: res.Value()}
}
