package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	redis "github.com/redis/go-redis/v9"
)

// RedisBus shares the change feed between replicas through Redis pub/sub.
// Publishes go to Redis only; every replica, including the publisher, receives
// them back on its pattern subscription and fans out locally.
type RedisBus struct {
	cli    *redis.Client
	prefix string
	local  *MemoryBus
	ps     *redis.PubSub
	wg     sync.WaitGroup
}

func NewRedisBus(ctx context.Context, cli *redis.Client, prefix string) (*RedisBus, error) {
	if prefix == "" {
		prefix = "feed:"
	}
	ps := cli.PSubscribe(ctx, prefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("feed: redis psubscribe: %w", err)
	}
	b := &RedisBus{cli: cli, prefix: prefix, local: NewMemoryBus(0), ps: ps}
	b.wg.Add(1)
	go b.loop()
	return b, nil
}

func (b *RedisBus) loop() {
	defer b.wg.Done()
	for msg := range b.ps.Channel() {
		var ev Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			slog.Warn("feed: bad redis payload", "channel", msg.Channel, "error", err)
			continue
		}
		_ = b.local.Publish(context.Background(), ev)
	}
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.cli.Publish(ctx, b.prefix+ev.Table, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, q Query, h Handler) (*Subscription, error) {
	return b.local.Subscribe(ctx, q, h)
}

func (b *RedisBus) Close() error {
	err := b.ps.Close()
	b.wg.Wait()
	_ = b.local.Close()
	return err
}
