package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var ErrClosed = errors.New("feed: bus closed")

const defaultBuffer = 64

type memSub struct {
	q    Query
	h    Handler
	ch   chan Event
	quit chan struct{}
	once sync.Once
}

func (s *memSub) stop() { s.once.Do(func() { close(s.quit) }) }

// MemoryBus is an in-process Bus. Each subscription has its own queue and
// goroutine so a slow handler never blocks publishers; when a queue is full the
// event is dropped for that subscriber.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*memSub
	next   uint64
	buffer int
	closed bool

	delivered metric.Int64Counter
	dropped   metric.Int64Counter
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	meter := otel.Meter("website-assistant/feed")
	delivered, _ := meter.Int64Counter("feed.events.delivered")
	dropped, _ := meter.Int64Counter("feed.events.dropped")
	return &MemoryBus{subs: map[uint64]*memSub{}, buffer: buffer, delivered: delivered, dropped: dropped}
}

func (b *MemoryBus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	attrs := metric.WithAttributes(attribute.String("table", ev.Table), attribute.String("type", string(ev.Type)))
	for _, s := range b.subs {
		if !s.q.match(ev) {
			continue
		}
		select {
		case s.ch <- ev:
			b.delivered.Add(ctx, 1, attrs)
		case <-s.quit:
		default:
			b.dropped.Add(ctx, 1, attrs)
			slog.Warn("feed subscriber queue full; event dropped", "table", ev.Table, "type", ev.Type)
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, q Query, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("feed: nil handler")
	}
	s := &memSub{q: q, h: h, ch: make(chan Event, b.buffer), quit: make(chan struct{})}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.next++
	id := b.next
	b.subs[id] = s
	b.mu.Unlock()

	sub := newSubscription(func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		s.stop()
	})
	go func() {
		for {
			select {
			case <-s.quit:
				return
			case <-ctx.Done():
				sub.Unsubscribe()
				return
			case ev := <-s.ch:
				s.h(ev)
			}
		}
	}()
	return sub, nil
}

// Close releases every subscription; later publishes fail with ErrClosed.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = map[uint64]*memSub{}
	b.mu.Unlock()
	for _, s := range subs {
		s.stop()
	}
	return nil
}
