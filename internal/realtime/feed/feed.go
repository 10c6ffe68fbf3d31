// Package feed is the row-level change feed: producers publish insert/update/delete
// events for a table and subscribers receive the ones matching their query.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// Event describes one row change. New is nil for deletes, Old is nil for inserts.
type Event struct {
	Table string         `json:"table"`
	Type  EventType      `json:"type"`
	New   map[string]any `json:"new,omitempty"`
	Old   map[string]any `json:"old,omitempty"`
	At    time.Time      `json:"at"`
}

// Filter is an equality predicate on one column; the zero Filter matches everything.
type Filter struct {
	Column string
	Value  string
}

// Eq builds a column = value filter.
func Eq(column, value string) Filter { return Filter{Column: column, Value: value} }

func (f Filter) match(ev Event) bool {
	if f.Column == "" {
		return true
	}
	row := ev.New
	if row == nil {
		row = ev.Old
	}
	v, ok := row[f.Column]
	if !ok || v == nil {
		return false
	}
	return fmt.Sprint(v) == f.Value
}

// Query selects events for a table, optionally narrowed by type and filter.
type Query struct {
	Table  string
	Types  []EventType
	Filter Filter
}

func (q Query) match(ev Event) bool {
	if q.Table != ev.Table {
		return false
	}
	if len(q.Types) > 0 {
		hit := false
		for _, t := range q.Types {
			if t == ev.Type {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return q.Filter.match(ev)
}

// Key is a stable string for the query, usable as a subscription registry key.
func (q Query) Key() string {
	types := make([]string, 0, len(q.Types))
	for _, t := range q.Types {
		types = append(types, string(t))
	}
	return q.Table + "|" + strings.Join(types, ",") + "|" + q.Filter.Column + "=" + q.Filter.Value
}

type Handler func(Event)

// Publisher accepts change events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Bus delivers published events to matching subscriptions.
type Bus interface {
	Publisher
	Subscribe(ctx context.Context, q Query, h Handler) (*Subscription, error)
	Close() error
}

// Subscription is released with Unsubscribe or when its context ends.
type Subscription struct {
	once sync.Once
	stop func()
	done chan struct{}
}

func newSubscription(stop func()) *Subscription {
	return &Subscription{stop: stop, done: make(chan struct{})}
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		close(s.done)
	})
}

// Done is closed once the subscription has been released.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Row converts a JSON-tagged value into an event row.
func Row(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// Decode converts an event row back into a JSON-tagged value.
func Decode(row map[string]any, out any) error {
	b, err := json.Marshal(row)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
