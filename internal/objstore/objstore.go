// Package objstore wraps the MinIO client behind the small object-store
// surface the pipeline needs: ensure a bucket, upload a file, download an
// object.
package objstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Client talks to one object store endpoint.
type Client struct {
	mc *minio.Client
}

// New creates a client. The endpoint may carry an http:// or https:// scheme;
// https implies TLS regardless of useSSL.
func New(endpoint, accessKey, secretKey string, useSSL bool) (*Client, error) {
	host, secure, err := normalizeEndpoint(endpoint, useSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}
	return &Client{mc: mc}, nil
}

func normalizeEndpoint(endpoint string, useSSL bool) (host string, secure bool, err error) {
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid object store endpoint %q: %w", endpoint, err)
	}
	return u.Host, u.Scheme == "https", nil
}

// EnsureBucket creates the bucket if it does not already exist.
func (c *Client) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := c.mc.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	return nil
}

// Upload stores a local file as an object and returns its size.
func (c *Client) Upload(ctx context.Context, bucket, object, filePath, contentType string) (int64, error) {
	info, err := c.mc.FPutObject(ctx, bucket, object, filePath, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s to %s: %w", filePath, bucket, err)
	}
	return info.Size, nil
}

// Download retrieves an object into a local file.
func (c *Client) Download(ctx context.Context, bucket, object, filePath string) error {
	if err := c.mc.FGetObject(ctx, bucket, object, filePath, minio.GetObjectOptions{}); err != nil {
		return fmt.Errorf("failed to download %s/%s: %w", bucket, object, err)
	}
	return nil
}
