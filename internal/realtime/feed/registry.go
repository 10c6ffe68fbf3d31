package feed

import "sync"

// Registry keeps at most one live subscription per key. Replacing a key tears
// down the previous subscription before the new one is created.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewRegistry() *Registry { return &Registry{subs: map[string]*Subscription{}} }

func (r *Registry) Replace(key string, subscribe func() (*Subscription, error)) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old := r.subs[key]; old != nil {
		old.Unsubscribe()
		delete(r.subs, key)
	}
	s, err := subscribe()
	if err != nil {
		return nil, err
	}
	r.subs[key] = s
	return s, nil
}

// Release drops key only if it still maps to s.
func (r *Registry) Release(key string, s *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur := r.subs[key]; cur == s {
		cur.Unsubscribe()
		delete(r.subs, key)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, s := range r.subs {
		s.Unsubscribe()
		delete(r.subs, k)
	}
}
