package objstore

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// PublicPrefix is where the HTTP server mounts file driver downloads.
const PublicPrefix = "/uploads/"

var ErrBadSignature = errors.New("objstore: invalid or expired signature")

// FileStore keeps objects under a local directory and hands out HMAC-signed,
// expiring download paths.
type FileStore struct {
	base   string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func OpenFile(_ context.Context, c Config) (Store, error) {
	return NewFileStore(c)
}

func NewFileStore(c Config) (*FileStore, error) {
	if c.BaseDir == "" {
		return nil, fmt.Errorf("base_dir required for file driver")
	}
	if err := ensureDir(c.BaseDir); err != nil {
		return nil, err
	}
	secret := []byte(c.URLSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	return &FileStore{base: c.BaseDir, secret: secret, ttl: c.ttl(), now: time.Now}, nil
}

func (s *FileStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(sanitizeKey(key)))
}

func (s *FileStore) Put(_ context.Context, key string, r io.ReadSeeker, _ int64, _ string) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func (s *FileStore) sign(key string, exp int64) string {
	m := hmac.New(sha256.New, s.secret)
	fmt.Fprintf(m, "%s|%d", key, exp)
	return hex.EncodeToString(m.Sum(nil))
}

// SignedURL returns a relative download path valid until expiry.
func (s *FileStore) SignedURL(_ context.Context, key string, method string, expiry time.Duration) (string, error) {
	m, err := signMethod(method)
	if err != nil {
		return "", err
	}
	if m != http.MethodGet {
		return "", fmt.Errorf("file driver signs GET only, got %s", m)
	}
	if expiry <= 0 {
		expiry = s.ttl
	}
	key = sanitizeKey(key)
	exp := s.now().Add(expiry).Unix()
	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", s.sign(key, exp))
	u := url.URL{Path: PublicPrefix + key, RawQuery: q.Encode()}
	return u.String(), nil
}

// Open returns the local file for key after checking the URL signature.
func (s *FileStore) Open(key, exp, sig string) (*os.File, error) {
	key = sanitizeKey(key)
	n, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || s.now().Unix() > n {
		return nil, ErrBadSignature
	}
	if !hmac.Equal([]byte(sig), []byte(s.sign(key, n))) {
		return nil, ErrBadSignature
	}
	return os.Open(s.path(key))
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
