package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/session"
)

type fixedWaiter struct {
	st  session.State
	err error
}

func (w fixedWaiter) Wait(context.Context) (session.State, error) { return w.st, w.err }

func signedIn(role domain.Role) session.State {
	return session.State{User: &domain.Identity{ID: "u1", Email: "u1@example.com"}, Role: role}
}

func flag(done bool, err error) FlagFunc {
	return func(context.Context, string) (bool, error) { return done, err }
}

func TestGates(t *testing.T) {
	boom := errors.New("connection reset")
	cases := []struct {
		name   string
		gate   Gate
		state  session.State
		status Status
		reason Reason
	}{
		{"onboarding no session", Onboarding(flag(false, nil)), session.State{}, Rejected, ReasonNoIdentity},
		{"orientation no session", Orientation(flag(false, nil)), session.State{}, Rejected, ReasonNoIdentity},
		{"onboarding wrong role", Onboarding(flag(false, nil)), signedIn(domain.RoleAssist), Rejected, ReasonRoleMismatch},
		{"onboarding no role", Onboarding(flag(false, nil)), signedIn(""), Rejected, ReasonRoleMismatch},
		{"orientation wrong role", Orientation(flag(false, nil)), signedIn(domain.RoleSuperAdmin), Rejected, ReasonRoleMismatch},
		{"onboarding completed", Onboarding(flag(true, nil)), signedIn(domain.RoleUser), Rejected, ReasonAlreadyCompleted},
		{"onboarding open", Onboarding(flag(false, nil)), signedIn(domain.RoleUser), Accepted, ReasonNone},
		{"orientation completed", Orientation(flag(true, nil)), signedIn(domain.RoleAssist), Rejected, ReasonAlreadyCompleted},
		{"orientation open", Orientation(flag(false, nil)), signedIn(domain.RoleAssist), Accepted, ReasonNone},
		{"onboarding flag error hides false", Onboarding(flag(false, boom)), signedIn(domain.RoleUser), Rejected, ReasonLookupFailed},
		{"orientation flag error hides true", Orientation(flag(true, boom)), signedIn(domain.RoleAssist), Rejected, ReasonLookupFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := Run(context.Background(), fixedWaiter{st: tc.state}, tc.gate)
			if out.Status != tc.status || out.Reason != tc.reason {
				t.Fatalf("outcome = %+v", out)
			}
			if out.Status == Rejected && (out.RedirectTo != NotFoundPath || !out.Replace) {
				t.Fatalf("rejection must replace to not-found: %+v", out)
			}
			if out.Status == Accepted && out.RedirectTo != "" {
				t.Fatalf("accepted outcome redirects: %+v", out)
			}
		})
	}
}

func TestPendingWhileLoading(t *testing.T) {
	called := false
	g := Onboarding(FlagFunc(func(context.Context, string) (bool, error) {
		called = true
		return false, nil
	}))
	out := g.Evaluate(context.Background(), session.State{Loading: true})
	if out.Status != Pending || called {
		t.Fatalf("outcome = %+v, flag fetched = %v", out, called)
	}
}

func TestFlagNotFetchedBeforeRoleCheck(t *testing.T) {
	called := false
	g := Orientation(FlagFunc(func(context.Context, string) (bool, error) {
		called = true
		return false, nil
	}))
	g.Evaluate(context.Background(), signedIn(domain.RoleUser))
	if called {
		t.Fatalf("flag fetched for the wrong role")
	}
}

func TestWaitFailureRejects(t *testing.T) {
	out := Run(context.Background(), fixedWaiter{st: session.State{Loading: true}, err: context.DeadlineExceeded}, Onboarding(flag(false, nil)))
	if out.Status != Rejected || out.Reason != ReasonLookupFailed {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestInstanceTerminalIsFinal(t *testing.T) {
	calls := 0
	inst := New(Onboarding(FlagFunc(func(context.Context, string) (bool, error) {
		calls++
		return false, errors.New("flaky")
	})))
	if got := inst.Outcome().Status; got != Pending {
		t.Fatalf("initial status = %v", got)
	}
	w := fixedWaiter{st: signedIn(domain.RoleUser)}
	first := inst.Run(context.Background(), w)
	second := inst.Run(context.Background(), w)
	if first.Status != Rejected || second.Status != Rejected || calls != 1 {
		t.Fatalf("first %+v second %+v calls %d", first, second, calls)
	}
}

func TestFailClosed(t *testing.T) {
	ctx := context.Background()
	if v := FailClosed(ctx, func(context.Context) (Verdict, error) { return Allow(), nil }); !v.Allow {
		t.Fatalf("allow lost: %+v", v)
	}
	if v := FailClosed(ctx, func(context.Context) (Verdict, error) { return Allow(), errors.New("x") }); v.Allow || v.Reason != ReasonLookupFailed {
		t.Fatalf("error allowed: %+v", v)
	}
	if v := FailClosed(ctx, func(context.Context) (Verdict, error) { panic("nil map") }); v.Allow || v.Err == nil {
		t.Fatalf("panic allowed: %+v", v)
	}
	if v := FailClosed(ctx, func(context.Context) (Verdict, error) { return Verdict{}, nil }); v.Allow || v.Reason != ReasonLookupFailed {
		t.Fatalf("zero verdict allowed: %+v", v)
	}
	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if v := FailClosed(cctx, func(context.Context) (Verdict, error) { return Allow(), nil }); v.Allow {
		t.Fatalf("cancelled context allowed")
	}
}

func TestObserveReceivesReason(t *testing.T) {
	var got []Decision
	g := Onboarding(flag(true, nil))
	g.Observe = func(_ context.Context, d Decision) { got = append(got, d) }
	g.Evaluate(context.Background(), signedIn(domain.RoleUser))
	if len(got) != 1 || got[0].Outcome.Reason != ReasonAlreadyCompleted || got[0].UserID != "u1" || got[0].Gate != "onboarding" {
		t.Fatalf("decisions = %+v", got)
	}
}

func TestRunWaitsForResolver(t *testing.T) {
	out := make(chan Outcome, 1)
	w := slowWaiter{delay: 20 * time.Millisecond, st: signedIn("")}
	go func() { out <- Run(context.Background(), w, Orientation(flag(false, nil))) }()
	select {
	case o := <-out:
		if o.Status != Rejected || o.Reason != ReasonRoleMismatch {
			t.Fatalf("outcome = %+v", o)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("gate never decided")
	}
}

type slowWaiter struct {
	delay time.Duration
	st    session.State
}

func (w slowWaiter) Wait(ctx context.Context) (session.State, error) {
	select {
	case <-time.After(w.delay):
		return w.st, nil
	case <-ctx.Done():
		return session.State{Loading: true}, ctx.Err()
	}
}
