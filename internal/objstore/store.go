// Package objstore stores message attachments behind one interface with
// file, s3, oss and cos drivers.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

type Store interface {
	Put(ctx context.Context, key string, r io.ReadSeeker, size int64, contentType string) error
	SignedURL(ctx context.Context, key string, method string, expiry time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

// Config is the storage: section of the server config.
type Config struct {
	Driver         string        `mapstructure:"driver"`
	Bucket         string        `mapstructure:"bucket"`
	Region         string        `mapstructure:"region"`
	Endpoint       string        `mapstructure:"endpoint"`
	AccessKey      string        `mapstructure:"access_key"`
	SecretKey      string        `mapstructure:"secret_key"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	BaseDir        string        `mapstructure:"base_dir"`
	SignedURLTTL   time.Duration `mapstructure:"signed_url_ttl"`
	// URLSecret signs file driver URLs.
	URLSecret string `mapstructure:"url_secret"`
}

const defaultTTL = 15 * time.Minute

func (c Config) ttl() time.Duration {
	if c.SignedURLTTL <= 0 {
		return defaultTTL
	}
	return c.SignedURLTTL
}

func Validate(c Config) error {
	switch strings.ToLower(c.Driver) {
	case "s3":
		if c.Bucket == "" {
			return errors.New("bucket required for s3 driver")
		}
		// credentials come from the AWS environment or IAM
	case "oss":
		if c.Bucket == "" {
			return errors.New("bucket required for oss driver")
		}
		if c.Endpoint == "" {
			return errors.New("endpoint required for oss driver")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return errors.New("access_key/secret_key required for oss driver")
		}
	case "cos":
		if c.Bucket == "" {
			return errors.New("bucket required for cos driver")
		}
		if c.Region == "" && c.Endpoint == "" {
			return errors.New("region or endpoint required for cos driver")
		}
		if c.AccessKey == "" || c.SecretKey == "" {
			return errors.New("access_key/secret_key required for cos driver")
		}
	case "file":
		if c.BaseDir == "" {
			return errors.New("base_dir required for file driver")
		}
	case "":
		return errors.New("storage driver not set")
	default:
		return fmt.Errorf("unknown storage driver: %s", c.Driver)
	}
	return nil
}

// Open validates c and opens the configured driver.
func Open(ctx context.Context, c Config) (Store, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	switch strings.ToLower(c.Driver) {
	case "s3":
		return openS3(ctx, c)
	case "oss":
		return openOSS(ctx, c)
	case "cos":
		return openCOS(ctx, c)
	default:
		return OpenFile(ctx, c)
	}
}

// sanitizeKey prevents path traversal.
func sanitizeKey(key string) string {
	key = filepath.ToSlash(key)
	key = strings.TrimLeft(key, "/")
	parts := strings.Split(key, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}

// signMethod normalizes the verb a signed URL is issued for.
func signMethod(method string) (string, error) {
	switch m := strings.ToUpper(method); m {
	case "", http.MethodGet:
		return http.MethodGet, nil
	case http.MethodPut, http.MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("objstore: unsupported signed url method %q", method)
	}
}

// attachmentDisposition makes browsers download an attachment rather than
// render it from the bucket origin. Keys look like <uploader>/<nanos>_<name>;
// only <name> is suggested to the client.
func attachmentDisposition(key string) string {
	name := path.Base(sanitizeKey(key))
	if _, rest, ok := strings.Cut(name, "_"); ok && rest != "" {
		name = rest
	}
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": name}); v != "" {
		return v
	}
	return "attachment"
}

func contentTypeOr(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// driverErr tags a driver failure with the operation and key.
func driverErr(driver, op, key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("objstore %s %s %q: %w", driver, op, key, err)
}

// buildS3URL constructs a gocloud s3 URL with query params.
func buildS3URL(c Config) string {
	u := url.URL{Scheme: "s3", Host: c.Bucket}
	q := url.Values{}
	if c.Region != "" {
		q.Set("region", c.Region)
	}
	if c.Endpoint != "" {
		q.Set("endpoint", c.Endpoint)
	}
	if c.ForcePathStyle {
		q.Set("s3ForcePathStyle", "true")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// ensureDir is used by the file driver.
func ensureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure base_dir: %w", err)
	}
	return nil
}
