// Package domains answers "is this domain name available" through an RDAP
// endpoint, caching answers for a while.
package domains

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultBaseURL = "https://rdap.org"
	DefaultTTL     = 10 * time.Minute
)

var (
	ErrInvalidName = errors.New("invalid domain name")
	ErrUpstream    = errors.New("domain lookup unavailable")
)

var nameRE = regexp.MustCompile(`^([a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)

// Normalize lowercases name and strips a scheme, path and trailing dot.
func Normalize(name string) (string, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.TrimPrefix(strings.TrimPrefix(n, "https://"), "http://")
	if i := strings.IndexAny(n, "/?#"); i >= 0 {
		n = n[:i]
	}
	n = strings.TrimSuffix(strings.TrimPrefix(n, "www."), ".")
	if len(n) > 253 || !nameRE.MatchString(n) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return n, nil
}

type Result struct {
	Name      string    `json:"name"`
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
	Cached    bool      `json:"cached"`
}

// Cache stores availability answers. Get reports ok=false on a miss.
type Cache interface {
	Get(ctx context.Context, name string) (available bool, ok bool, err error)
	Set(ctx context.Context, name string, available bool, ttl time.Duration) error
}

type Options struct {
	BaseURL string        `mapstructure:"base_url"`
	TTL     time.Duration `mapstructure:"ttl"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type Checker struct {
	base  string
	ttl   time.Duration
	http  *http.Client
	cache Cache
	now   func() time.Time
}

// NewChecker builds a checker; a nil cache disables caching.
func NewChecker(opt Options, cache Cache) *Checker {
	if opt.BaseURL == "" {
		opt.BaseURL = DefaultBaseURL
	}
	if opt.TTL <= 0 {
		opt.TTL = DefaultTTL
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 5 * time.Second
	}
	return &Checker{
		base:  strings.TrimRight(opt.BaseURL, "/"),
		ttl:   opt.TTL,
		cache: cache,
		http: &http.Client{
			Timeout:   opt.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		now: time.Now,
	}
}

// Check returns whether name is unregistered. 404 from the registry means
// available, 200 means taken, anything else is ErrUpstream.
func (c *Checker) Check(ctx context.Context, name string) (Result, error) {
	n, err := Normalize(name)
	if err != nil {
		return Result{}, err
	}
	if c.cache != nil {
		avail, ok, err := c.cache.Get(ctx, n)
		if err != nil {
			slog.Warn("domain cache get", "name", n, "error", err)
		} else if ok {
			return Result{Name: n, Available: avail, CheckedAt: c.now().UTC(), Cached: true}, nil
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/domain/"+n, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/rdap+json")
	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	var avail bool
	switch {
	case resp.StatusCode == http.StatusNotFound:
		avail = true
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		avail = false
	default:
		return Result{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}
	if c.cache != nil {
		if err := c.cache.Set(ctx, n, avail, c.ttl); err != nil {
			slog.Warn("domain cache set", "name", n, "error", err)
		}
	}
	return Result{Name: n, Available: avail, CheckedAt: c.now().UTC()}, nil
}
