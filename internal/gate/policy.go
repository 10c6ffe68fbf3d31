// Package gate decides whether a caller may enter a one-time flow. Every
// decision goes through FailClosed.
package gate

import (
	"context"
	"fmt"
)

type Reason string

const (
	ReasonNone             Reason = ""
	ReasonNoIdentity       Reason = "no_identity"
	ReasonRoleMismatch     Reason = "role_mismatch"
	ReasonAlreadyCompleted Reason = "already_completed"
	ReasonLookupFailed     Reason = "lookup_failed"
)

// Verdict is an access decision. Err is kept for server-side logging only.
type Verdict struct {
	Allow  bool
	Reason Reason
	Err    error
}

func Allow() Verdict { return Verdict{Allow: true} }

func Deny(r Reason) Verdict { return Verdict{Reason: r} }

// FailClosed evaluates check and denies on any error or panic.
func FailClosed(ctx context.Context, check func(context.Context) (Verdict, error)) (v Verdict) {
	defer func() {
		if p := recover(); p != nil {
			v = Verdict{Reason: ReasonLookupFailed, Err: fmt.Errorf("access check panicked: %v", p)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Verdict{Reason: ReasonLookupFailed, Err: err}
	}
	got, err := check(ctx)
	if err != nil {
		return Verdict{Reason: ReasonLookupFailed, Err: err}
	}
	if !got.Allow && got.Reason == ReasonNone {
		got.Reason = ReasonLookupFailed
	}
	return got
}
