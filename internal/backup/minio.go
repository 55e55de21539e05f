package backup

import (
	"context"
	"io"
	"net/url"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	amerrors "github.com/Aman-CERP/amanfacet/internal/errors"
)

// MinIOOptions configures a MinIOStore.
type MinIOOptions struct {
	Endpoint  string // host:port, or a URL whose scheme sets UseSSL
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// MinIOStore keeps archives in a MinIO (or other S3-compatible) bucket.
type MinIOStore struct {
	bucket string
	client *minio.Client
}

// NewMinIOStore builds a client for opts. No request is made.
func NewMinIOStore(opts MinIOOptions) (*MinIOStore, error) {
	if opts.Bucket == "" {
		return nil, amerrors.ConfigError("minio bucket is required", nil)
	}
	endpoint, secure, err := splitEndpoint(opts.Endpoint, opts.UseSSL)
	if err != nil {
		return nil, err
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: secure,
		Region: opts.Region,
	})
	if err != nil {
		return nil, amerrors.ConfigError("create minio client", err).WithDetail("endpoint", endpoint)
	}
	return &MinIOStore{bucket: opts.Bucket, client: client}, nil
}

// splitEndpoint accepts "host:port" or "http(s)://host:port".
func splitEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, amerrors.ConfigError("minio endpoint is required", nil)
	}
	if !strings.Contains(raw, "://") {
		return strings.TrimSuffix(raw, "/"), useSSL, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, amerrors.ConfigError("invalid minio endpoint", err).WithDetail("endpoint", raw)
	}
	return u.Host, u.Scheme == "https", nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *MinIOStore) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return storeError("bucket_exists", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return storeError("make_bucket", s.bucket, err)
	}
	return nil
}

// Put uploads size bytes from body.
func (s *MinIOStore) Put(ctx context.Context, key string, body io.ReadSeeker, size int64) error {
	if _, err := body.Seek(0, io.SeekStart); err != nil {
		return storeError("put", key, err)
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return storeError("put", key, err)
	}
	return nil
}

// Get stats the object first so a missing key fails here rather than on
// the first read.
func (s *MinIOStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		if isMinIONotFound(err) {
			return nil, notFound(key, err)
		}
		return nil, storeError("get", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storeError("get", key, err)
	}
	return obj, nil
}

// List returns every object under prefix.
func (s *MinIOStore) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	for info := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if info.Err != nil {
			return nil, storeError("list", prefix, info.Err)
		}
		out = append(out, Object{Key: info.Key, Size: info.Size, Modified: info.LastModified})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key.
func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil && !isMinIONotFound(err) {
		return storeError("delete", key, err)
	}
	return nil
}

func isMinIONotFound(err error) bool {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}
