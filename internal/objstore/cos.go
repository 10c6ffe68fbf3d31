package objstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cos "github.com/tencentyun/cos-go-sdk-v5"
)

type cosStore struct {
	cli *cos.Client
	ttl time.Duration
	sid string
	sk  string
}

func openCOS(_ context.Context, c Config) (Store, error) {
	var bucketURL *url.URL
	if c.Endpoint != "" {
		u, err := url.Parse(c.Endpoint)
		if err != nil {
			return nil, err
		}
		// path-style when the host does not name the bucket
		if !strings.Contains(u.Host, c.Bucket) && !strings.HasSuffix(u.Path, "/"+c.Bucket) {
			u.Path = "/" + c.Bucket
		}
		bucketURL = u
	} else {
		u, err := url.Parse(fmt.Sprintf("https://%s.cos.%s.myqcloud.com", c.Bucket, c.Region))
		if err != nil {
			return nil, err
		}
		bucketURL = u
	}
	cli := cos.NewClient(&cos.BaseURL{BucketURL: bucketURL}, &http.Client{
		Transport: &cos.AuthorizationTransport{SecretID: c.AccessKey, SecretKey: c.SecretKey},
	})
	return &cosStore{cli: cli, ttl: c.ttl(), sid: c.AccessKey, sk: c.SecretKey}, nil
}

func (s *cosStore) Put(ctx context.Context, key string, r io.ReadSeeker, _ int64, contentType string) error {
	key = sanitizeKey(key)
	opt := &cos.ObjectPutOptions{ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
		ContentType:        contentTypeOr(contentType),
		ContentDisposition: attachmentDisposition(key),
	}}
	_, err := s.cli.Object.Put(ctx, key, r, opt)
	return driverErr("cos", "put", key, err)
}

func (s *cosStore) SignedURL(ctx context.Context, key string, method string, expiry time.Duration) (string, error) {
	m, err := signMethod(method)
	if err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = s.ttl
	}
	key = sanitizeKey(key)
	u, err := s.cli.Object.GetPresignedURL(ctx, m, key, s.sid, s.sk, expiry, nil)
	if err != nil {
		return "", driverErr("cos", "sign", key, err)
	}
	return u.String(), nil
}

func (s *cosStore) Delete(ctx context.Context, key string) error {
	key = sanitizeKey(key)
	_, err := s.cli.Object.Delete(ctx, key)
	return driverErr("cos", "delete", key, err)
}
