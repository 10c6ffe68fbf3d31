package objstore

import (
	"context"
	"io"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
	"gocloud.dev/gcerrors"
)

type s3Store struct {
	bk  *blob.Bucket
	ttl time.Duration
}

func openS3(ctx context.Context, c Config) (Store, error) {
	u := buildS3URL(c)
	bk, err := blob.OpenBucket(ctx, u)
	if err != nil {
		return nil, driverErr("s3", "open", u, err)
	}
	return &s3Store{bk: bk, ttl: c.ttl()}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.ReadSeeker, _ int64, contentType string) error {
	key = sanitizeKey(key)
	w, err := s.bk.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType:        contentTypeOr(contentType),
		ContentDisposition: attachmentDisposition(key),
	})
	if err != nil {
		return driverErr("s3", "put", key, err)
	}
	if _, err := io.Copy(w, r); err != nil {
		// closing after a failed copy aborts the upload
		_ = w.Close()
		return driverErr("s3", "put", key, err)
	}
	return driverErr("s3", "put", key, w.Close())
}

func (s *s3Store) SignedURL(ctx context.Context, key string, method string, expiry time.Duration) (string, error) {
	m, err := signMethod(method)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = s.ttl
	}
	key = sanitizeKey(key)
	u, err := s.bk.SignedURL(ctx, key, &blob.SignedURLOptions{Method: m, Expiry: expiry})
	return u, driverErr("s3", "sign", key, err)
}

// Delete treats a missing object as already deleted.
func (s *s3Store) Delete(ctx context.Context, key string) error {
	key = sanitizeKey(key)
	err := s.bk.Delete(ctx, key)
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil
	}
	return driverErr("s3", "delete", key, err)
}
