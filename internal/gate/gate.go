package gate

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/session"
)

// NotFoundPath is where every rejection lands.
const NotFoundPath = "/not-found"

// FlagSource reads a per-user completion flag. A missing row reads as false.
type FlagSource interface {
	Completed(ctx context.Context, userID string) (bool, error)
}

type FlagFunc func(ctx context.Context, userID string) (bool, error)

func (f FlagFunc) Completed(ctx context.Context, userID string) (bool, error) { return f(ctx, userID) }

type Status int

const (
	Pending Status = iota
	Evaluating
	Accepted
	Rejected
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Evaluating:
		return "evaluating"
	case Accepted:
		return "accepted"
	case Rejected:
		return "rejected"
	}
	return "unknown"
}

func (s Status) Terminal() bool { return s == Accepted || s == Rejected }

// Outcome is what the caller acts on. Rejections always redirect to
// NotFoundPath replacing history; Reason and Err never leave the server.
type Outcome struct {
	Status     Status
	Reason     Reason
	RedirectTo string
	Replace    bool
	Err        error
}

// Decision is reported to observers after each terminal evaluation.
type Decision struct {
	Gate    string
	UserID  string
	Role    domain.Role
	Outcome Outcome
}

// Gate guards one flow: callers must hold Role and must not have completed
// the flow according to Flag.
type Gate struct {
	Name    string
	Role    domain.Role
	Flag    FlagSource
	Observe func(context.Context, Decision)
}

// Onboarding guards the business owner's first-run flow.
func Onboarding(flag FlagSource) Gate {
	return Gate{Name: "onboarding", Role: domain.RoleUser, Flag: flag}
}

// Orientation guards the assistant's first-run flow.
func Orientation(flag FlagSource) Gate {
	return Gate{Name: "orientation", Role: domain.RoleAssist, Flag: flag}
}

// Evaluate decides for st. A loading state yields Pending and no decision.
func (g Gate) Evaluate(ctx context.Context, st session.State) Outcome {
	if st.Loading {
		return Outcome{Status: Pending}
	}
	v := FailClosed(ctx, func(ctx context.Context) (Verdict, error) {
		if st.User == nil {
			return Deny(ReasonNoIdentity), nil
		}
		if g.Role != "" && st.Role != g.Role {
			return Deny(ReasonRoleMismatch), nil
		}
		if g.Flag == nil {
			return Allow(), nil
		}
		done, err := g.Flag.Completed(ctx, st.User.ID)
		if err != nil {
			return Verdict{}, err
		}
		if done {
			return Deny(ReasonAlreadyCompleted), nil
		}
		return Allow(), nil
	})
	out := Outcome{Status: Accepted}
	if !v.Allow {
		out = Outcome{Status: Rejected, Reason: v.Reason, RedirectTo: NotFoundPath, Replace: true, Err: v.Err}
	}
	g.report(ctx, st, out)
	return out
}

var (
	decisionsOnce sync.Once
	decisions     metric.Int64Counter
)

func (g Gate) report(ctx context.Context, st session.State, out Outcome) {
	decisionsOnce.Do(func() {
		decisions, _ = otel.Meter("website-assistant/gate").Int64Counter("gate.decisions")
	})
	if decisions != nil {
		decisions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("gate", g.Name),
			attribute.String("status", out.Status.String()),
			attribute.String("reason", string(out.Reason)),
		))
	}
	d := Decision{Gate: g.Name, Role: st.Role, Outcome: out}
	if st.User != nil {
		d.UserID = st.User.ID
	}
	if out.Status == Rejected {
		slog.Info("gate rejected", "gate", g.Name, "user", d.UserID, "role", st.Role, "reason", out.Reason, "error", out.Err)
	}
	if g.Observe != nil {
		g.Observe(ctx, d)
	}
}

// StateWaiter is satisfied by *session.Resolver.
type StateWaiter interface {
	Wait(ctx context.Context) (session.State, error)
}

// Instance is one gate in front of one view. Once terminal its outcome never
// changes and the flag is not fetched again.
type Instance struct {
	gate Gate

	mu  sync.Mutex
	out Outcome
}

func New(g Gate) *Instance { return &Instance{gate: g, out: Outcome{Status: Pending}} }

func (i *Instance) Outcome() Outcome {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.out
}

// Run waits for the resolver to settle, then evaluates once. If ctx ends while
// still pending the gate rejects.
func (i *Instance) Run(ctx context.Context, w StateWaiter) Outcome {
	i.mu.Lock()
	if i.out.Status.Terminal() {
		out := i.out
		i.mu.Unlock()
		return out
	}
	i.mu.Unlock()

	st, err := w.Wait(ctx)
	var out Outcome
	if err != nil {
		out = Outcome{Status: Rejected, Reason: ReasonLookupFailed, RedirectTo: NotFoundPath, Replace: true, Err: err}
		i.gate.report(ctx, st, out)
	} else {
		i.set(Outcome{Status: Evaluating})
		out = i.gate.Evaluate(ctx, st)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.out.Status.Terminal() {
		return i.out
	}
	i.out = out
	return out
}

func (i *Instance) set(out Outcome) {
	i.mu.Lock()
	if !i.out.Status.Terminal() {
		i.out = out
	}
	i.mu.Unlock()
}

// Run evaluates g once against w.
func Run(ctx context.Context, w StateWaiter, g Gate) Outcome {
	return New(g).Run(ctx, w)
}
