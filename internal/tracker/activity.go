package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
)

// ColdReadLimit caps the messages scanned when the peer set changes.
const ColdReadLimit = 500

type ActivitySource interface {
	RecentWithPeers(ctx context.Context, me string, peers []string, limit int) ([]domain.Message, error)
}

// ActivityTracker maps each tracked peer to the newest message time between
// me and that peer. Timestamps only move forward.
type ActivityTracker struct {
	me  string
	src ActivitySource
	bus Subscriber
	reg *feed.Registry

	mu       sync.Mutex
	peers    map[string]struct{}
	last     map[string]time.Time
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *feed.Subscription
	onChange func(map[string]time.Time)
}

func NewActivityTracker(me string, src ActivitySource, bus Subscriber, reg *feed.Registry) *ActivityTracker {
	if reg == nil {
		reg = feed.NewRegistry()
	}
	return &ActivityTracker{
		me: me, src: src, bus: bus, reg: reg,
		peers: map[string]struct{}{},
		last:  map[string]time.Time{},
	}
}

func (a *ActivityTracker) key() string { return "activity:" + a.me }

// OnChange sets fn to be called with a snapshot after every change. Set before Start.
func (a *ActivityTracker) OnChange(fn func(map[string]time.Time)) {
	a.mu.Lock()
	a.onChange = fn
	a.mu.Unlock()
}

// Start subscribes to message inserts. The channel depends on me only;
// peer changes go through SetPeers without resubscribing.
func (a *ActivityTracker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.ctx, a.cancel = ctx, cancel
	a.mu.Unlock()
	q := feed.Query{Table: messagesTable, Types: []feed.EventType{feed.Insert}}
	sub, err := a.reg.Replace(a.key(), func() (*feed.Subscription, error) {
		return a.bus.Subscribe(ctx, q, a.handle)
	})
	if err != nil {
		cancel()
		return err
	}
	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	return nil
}

func (a *ActivityTracker) handle(ev feed.Event) {
	var m domain.Message
	if err := feed.Decode(ev.New, &m); err != nil {
		slog.Debug("activity event decode", "error", err)
		return
	}
	a.Apply(m)
}

// Apply merges one message. It reports whether the map changed.
func (a *ActivityTracker) Apply(m domain.Message) bool {
	peer := m.Peer(a.me)
	if peer == "" || m.CreatedAt.IsZero() {
		return false
	}
	a.mu.Lock()
	if a.stopped() {
		a.mu.Unlock()
		return false
	}
	if _, ok := a.peers[peer]; !ok {
		a.mu.Unlock()
		return false
	}
	if cur, ok := a.last[peer]; ok && !m.CreatedAt.After(cur) {
		a.mu.Unlock()
		return false
	}
	a.last[peer] = m.CreatedAt
	snap, fn := a.snapshot(), a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
	return true
}

// SetPeers replaces the tracked peer set and reloads from the store. Entries
// for dropped peers disappear. A failed read leaves only what live events
// already recorded for the new set.
func (a *ActivityTracker) SetPeers(ctx context.Context, peers []string) {
	set := make(map[string]struct{}, len(peers))
	list := make([]string, 0, len(peers))
	for _, p := range peers {
		if p == "" || p == a.me {
			continue
		}
		if _, dup := set[p]; !dup {
			set[p] = struct{}{}
			list = append(list, p)
		}
	}
	a.mu.Lock()
	if a.stopped() {
		a.mu.Unlock()
		return
	}
	a.peers = set
	for p := range a.last {
		if _, ok := set[p]; !ok {
			delete(a.last, p)
		}
	}
	a.mu.Unlock()

	var folded map[string]time.Time
	if len(list) > 0 {
		msgs, err := a.src.RecentWithPeers(ctx, a.me, list, ColdReadLimit)
		if err != nil {
			slog.Debug("activity cold read failed", "user", a.me, "error", err)
		}
		folded = fold(a.me, msgs)
	}

	a.mu.Lock()
	if a.stopped() {
		a.mu.Unlock()
		return
	}
	for p, ts := range folded {
		// the peer set may have changed while the read was in flight
		if _, ok := a.peers[p]; !ok {
			continue
		}
		if cur, ok := a.last[p]; !ok || ts.After(cur) {
			a.last[p] = ts
		}
	}
	snap, fn := a.snapshot(), a.onChange
	a.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}

// fold keeps the first timestamp seen per peer; msgs are newest first.
func fold(me string, msgs []domain.Message) map[string]time.Time {
	out := map[string]time.Time{}
	for _, m := range msgs {
		p := m.Peer(me)
		if p == "" {
			continue
		}
		if _, seen := out[p]; !seen {
			out[p] = m.CreatedAt
		}
	}
	return out
}

func (a *ActivityTracker) stopped() bool { return a.ctx != nil && a.ctx.Err() != nil }

func (a *ActivityTracker) snapshot() map[string]time.Time {
	out := make(map[string]time.Time, len(a.last))
	for k, v := range a.last {
		out[k] = v
	}
	return out
}

func (a *ActivityTracker) Snapshot() map[string]time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot()
}

func (a *ActivityTracker) Last(peer string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ts, ok := a.last[peer]
	return ts, ok
}

func (a *ActivityTracker) Stop() {
	a.mu.Lock()
	cancel, sub := a.cancel, a.sub
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		a.reg.Release(a.key(), sub)
	}
}
