package objstore

import (
	"context"
	"io"
	"time"

	oss "github.com/aliyun/aliyun-oss-go-sdk/oss"
)

var ossMethods = map[string]oss.HTTPMethod{
	"GET":    oss.HTTPGet,
	"PUT":    oss.HTTPPut,
	"DELETE": oss.HTTPDelete,
}

// ossStore keeps attachments in an Aliyun OSS bucket. The SDK is not
// context-aware, so network calls carry oss.WithContext for cancellation.
type ossStore struct {
	bk  *oss.Bucket
	ttl time.Duration
}

func openOSS(_ context.Context, c Config) (Store, error) {
	cli, err := oss.New(c.Endpoint, c.AccessKey, c.SecretKey)
	if err != nil {
		return nil, driverErr("oss", "connect", c.Endpoint, err)
	}
	bk, err := cli.Bucket(c.Bucket)
	if err != nil {
		return nil, driverErr("oss", "bucket", c.Bucket, err)
	}
	return &ossStore{bk: bk, ttl: c.ttl()}, nil
}

func (s *ossStore) Put(ctx context.Context, key string, r io.ReadSeeker, _ int64, contentType string) error {
	key = sanitizeKey(key)
	err := s.bk.PutObject(key, r,
		oss.WithContext(ctx),
		oss.ContentType(contentTypeOr(contentType)),
		oss.ContentDisposition(attachmentDisposition(key)),
	)
	return driverErr("oss", "put", key, err)
}

func (s *ossStore) SignedURL(_ context.Context, key string, method string, expiry time.Duration) (string, error) {
	m, err := signMethod(method)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = s.ttl
	}
	key = sanitizeKey(key)
	u, err := s.bk.SignURL(key, ossMethods[m], int64(expiry/time.Second))
	return u, driverErr("oss", "sign", key, err)
}

// Delete succeeds for keys that are already gone; OSS answers 204 either way.
func (s *ossStore) Delete(ctx context.Context, key string) error {
	key = sanitizeKey(key)
	return driverErr("oss", "delete", key, s.bk.DeleteObject(key, oss.WithContext(ctx)))
}
