package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
)

// DefaultRoleTimeout bounds a single role lookup.
const DefaultRoleTimeout = 8 * time.Second

// RoleSource reads the stored role of a user. A user without a role row
// yields domain.ErrNotFound.
type RoleSource interface {
	Role(ctx context.Context, userID string) (domain.Role, error)
}

type RoleSourceFunc func(ctx context.Context, userID string) (domain.Role, error)

func (f RoleSourceFunc) Role(ctx context.Context, userID string) (domain.Role, error) {
	return f(ctx, userID)
}

type RoleKind int

const (
	RoleFound RoleKind = iota
	RoleMissing
	RoleFailed
	RoleTimedOut
)

func (k RoleKind) String() string {
	switch k {
	case RoleFound:
		return "found"
	case RoleMissing:
		return "missing"
	case RoleFailed:
		return "failed"
	case RoleTimedOut:
		return "timed_out"
	}
	return "unknown"
}

// RoleResult is the outcome of LookupRole. Role is set only for RoleFound.
type RoleResult struct {
	Kind RoleKind
	Role domain.Role
	Err  error
}

// Value returns the looked up role or "" for every other outcome.
func (r RoleResult) Value() domain.Role {
	if r.Kind == RoleFound {
		return r.Role
	}
	return ""
}

var (
	lookupsOnce sync.Once
	lookups     metric.Int64Counter
)

func lookupCounter() metric.Int64Counter {
	lookupsOnce.Do(func() {
		lookups, _ = otel.Meter("website-assistant/session").Int64Counter("session.role_lookups")
	})
	return lookups
}

// LookupRole runs src.Role bounded by timeout. A lookup still running when the
// timer fires is abandoned and its late result discarded.
func LookupRole(ctx context.Context, src RoleSource, userID string, timeout time.Duration) RoleResult {
	if timeout <= 0 {
		timeout = DefaultRoleTimeout
	}
	res := lookupRole(ctx, src, userID, timeout)
	if c := lookupCounter(); c != nil {
		c.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", res.Kind.String())))
	}
	return res
}

func lookupRole(ctx context.Context, src RoleSource, userID string, timeout time.Duration) RoleResult {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ch := make(chan RoleResult, 1)
	go func() {
		role, err := src.Role(lctx, userID)
		ch <- classify(role, err)
	}()
	select {
	case r := <-ch:
		if r.Kind == RoleFailed && errors.Is(r.Err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.Kind = RoleTimedOut
		}
		return r
	case <-lctx.Done():
		if err := ctx.Err(); err != nil {
			return RoleResult{Kind: RoleFailed, Err: err}
		}
		return RoleResult{Kind: RoleTimedOut, Err: lctx.Err()}
	}
}

func classify(role domain.Role, err error) RoleResult {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return RoleResult{Kind: RoleMissing}
	case err != nil:
		return RoleResult{Kind: RoleFailed, Err: err}
	case role == "":
		return RoleResult{Kind: RoleMissing}
	case !role.Valid():
		return RoleResult{Kind: RoleFailed, Err: domain.ErrInvalidRole}
	}
	return RoleResult{Kind: RoleFound, Role: role}
}
