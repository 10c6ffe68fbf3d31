package domains

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
		ok       bool
	}{
		{"Example.COM", "example.com", true},
		{"https://www.shop.example.co.uk/path?q=1", "shop.example.co.uk", true},
		{"example.com.", "example.com", true},
		{"localhost", "", false},
		{"-bad.com", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := Normalize(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("Normalize(%q) = %q, %v", tc.in, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Normalize(%q) expected ErrInvalidName, got %v", tc.in, err)
		}
	}
}

func rdapServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		switch strings.TrimPrefix(r.URL.Path, "/domain/") {
		case "free.com":
			w.WriteHeader(http.StatusNotFound)
		case "taken.com":
			w.Header().Set("Content-Type", "application/rdap+json")
			_, _ = w.Write([]byte(`{"ldhName":"taken.com"}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCheckAvailability(t *testing.T) {
	var hits int32
	srv := rdapServer(t, &hits)
	c := NewChecker(Options{BaseURL: srv.URL}, nil)
	ctx := context.Background()

	res, err := c.Check(ctx, "FREE.com")
	if err != nil || !res.Available || res.Name != "free.com" {
		t.Fatalf("free.com = %+v, %v", res, err)
	}
	res, err = c.Check(ctx, "taken.com")
	if err != nil || res.Available {
		t.Fatalf("taken.com = %+v, %v", res, err)
	}
	if _, err := c.Check(ctx, "broken.com"); !errors.Is(err, ErrUpstream) {
		t.Fatalf("expected ErrUpstream, got %v", err)
	}
	if _, err := c.Check(ctx, "nope"); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}

func TestCheckUsesCache(t *testing.T) {
	var hits int32
	srv := rdapServer(t, &hits)
	cache := NewMemoryCache()
	c := NewChecker(Options{BaseURL: srv.URL, TTL: time.Minute}, cache)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := c.Check(ctx, "free.com"); err != nil {
			t.Fatalf("check: %v", err)
		}
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", n)
	}
	res, _ := c.Check(ctx, "free.com")
	if !res.Cached {
		t.Fatalf("expected cached result")
	}
	// upstream errors are never cached
	_, _ = c.Check(ctx, "broken.com")
	if _, ok, _ := cache.Get(ctx, "broken.com"); ok {
		t.Fatalf("error result must not be cached")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	now := time.Now()
	c.now = func() time.Time { return now }
	ctx := context.Background()
	_ = c.Set(ctx, "a.com", true, time.Second)
	if v, ok, _ := c.Get(ctx, "a.com"); !ok || !v {
		t.Fatalf("expected hit")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := c.Get(ctx, "a.com"); ok {
		t.Fatalf("expected expiry")
	}
}
