package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	kafka "github.com/segmentio/kafka-go"
)

// KafkaMirror exports change events to a Kafka topic, keyed by table.
type KafkaMirror struct {
	w *kafka.Writer
}

func NewKafkaMirror(brokers []string, topic string) *KafkaMirror {
	if topic == "" {
		topic = "website-assistant.changes"
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		RequiredAcks: kafka.RequireOne,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}
	slog.Info("feed kafka mirror enabled", "brokers", brokers, "topic", topic)
	return &KafkaMirror{w: w}
}

func (k *KafkaMirror) Publish(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return k.w.WriteMessages(ctx, kafka.Message{Key: []byte(ev.Table), Value: b})
}

func (k *KafkaMirror) Close() error { return k.w.Close() }

// Tee publishes to the bus first, then to each mirror. Mirror failures are
// logged and never fail the publish.
func Tee(bus Bus, mirrors ...Publisher) Bus {
	if len(mirrors) == 0 {
		return bus
	}
	return &tee{Bus: bus, mirrors: mirrors}
}

type tee struct {
	Bus
	mirrors []Publisher
}

func (t *tee) Publish(ctx context.Context, ev Event) error {
	if err := t.Bus.Publish(ctx, ev); err != nil {
		return err
	}
	for _, m := range t.mirrors {
		if err := m.Publish(ctx, ev); err != nil {
			slog.Warn("feed mirror publish failed", "table", ev.Table, "error", err)
		}
	}
	return nil
}

func (t *tee) Close() error {
	for _, m := range t.mirrors {
		if c, ok := m.(interface{ Close() error }); ok {
			_ = c.Close()
		}
	}
	return t.Bus.Close()
}
