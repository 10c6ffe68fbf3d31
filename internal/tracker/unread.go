// Package tracker keeps live per-user views over the message stream: the
// unread count and the last activity per conversation peer.
package tracker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/domain"
	"github.com/pauladamayanamarketing02-pixel/website-assistant-pro-sub003/internal/realtime/feed"
)

const messagesTable = "messages"

// Subscriber is satisfied by every feed.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, q feed.Query, h feed.Handler) (*feed.Subscription, error)
}

type UnreadSource interface {
	UnreadCount(ctx context.Context, receiverID string) (int64, error)
}

// UnreadCounter never adjusts the count arithmetically; every relevant change
// triggers a fresh count from the store.
type UnreadCounter struct {
	me  string
	src UnreadSource
	bus Subscriber
	reg *feed.Registry

	mu       sync.Mutex
	count    int64
	loaded   bool
	issued   uint64
	applied  uint64
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *feed.Subscription
	onChange func(int64)
}

// NewUnreadCounter tracks unread messages addressed to me. reg may be shared
// between trackers; nil gets a private one.
func NewUnreadCounter(me string, src UnreadSource, bus Subscriber, reg *feed.Registry) *UnreadCounter {
	if reg == nil {
		reg = feed.NewRegistry()
	}
	return &UnreadCounter{me: me, src: src, bus: bus, reg: reg}
}

func (c *UnreadCounter) key() string { return "unread:" + c.me }

// OnChange sets fn to be called with every applied count. Set before Start.
func (c *UnreadCounter) OnChange(fn func(int64)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Start subscribes to inserts and updates addressed to me, then performs the
// cold count. The counter stops when ctx ends or Stop is called.
func (c *UnreadCounter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.ctx, c.cancel = ctx, cancel
	c.mu.Unlock()
	q := feed.Query{Table: messagesTable, Types: []feed.EventType{feed.Insert, feed.Update}, Filter: feed.Eq("receiver_id", c.me)}
	sub, err := c.reg.Replace(c.key(), func() (*feed.Subscription, error) {
		return c.bus.Subscribe(ctx, q, func(ev feed.Event) { c.handle(ctx, ev) })
	})
	if err != nil {
		cancel()
		return err
	}
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
	c.Refresh(ctx)
	return nil
}

func (c *UnreadCounter) handle(ctx context.Context, ev feed.Event) {
	if ev.Type == feed.Insert {
		var m domain.Message
		if err := feed.Decode(ev.New, &m); err == nil && !m.Unread() {
			return
		}
	}
	c.Refresh(ctx)
}

// Refresh recounts. A failed count keeps the previous value, and a result
// that finishes after a newer one is discarded.
func (c *UnreadCounter) Refresh(ctx context.Context) {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	n, err := c.src.UnreadCount(ctx, c.me)
	if err != nil {
		slog.Debug("unread recount failed", "user", c.me, "error", err)
		return
	}
	c.mu.Lock()
	if c.stopped() || seq <= c.applied {
		c.mu.Unlock()
		return
	}
	c.applied = seq
	c.count, c.loaded = n, true
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// stopped reports whether the counter was stopped. Callers hold c.mu.
func (c *UnreadCounter) stopped() bool { return c.ctx != nil && c.ctx.Err() != nil }

// Count returns the last applied count and whether any count succeeded yet.
func (c *UnreadCounter) Count() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count, c.loaded
}

func (c *UnreadCounter) Stop() {
	c.mu.Lock()
	cancel, sub := c.cancel, c.sub
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if sub != nil {
		c.reg.Release(c.key(), sub)
	}
}
