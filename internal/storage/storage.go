// Package storage implements the Object Store Gateway: bucket lifecycle,
// presigned PUT/GET URL issuance, and server-side streaming GET for worker
// use. It is stateless and assumes an external S3-compatible store.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/goodclips/videoindex/internal/keys"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Buckets is the fixed set of logical buckets this repo maintains.
var Buckets = []string{keys.BucketUploads, keys.BucketSidecars, keys.BucketTmp}

// Gateway is the Object Store Gateway.
type Gateway struct {
	client *minio.Client
}

// Config configures the underlying S3-compatible client.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// New constructs a Gateway bound to the given S3-compatible endpoint.
func New(cfg Config) (*Gateway, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: failed to construct client: %w", err)
	}
	return &Gateway{client: client}, nil
}

// EnsureBuckets creates uploads/sidecars/tmp if they do not already exist,
// run once at startup.
func (g *Gateway) EnsureBuckets(ctx context.Context) error {
	for _, bucket := range Buckets {
		exists, err := g.client.BucketExists(ctx, bucket)
		if err != nil {
			return fmt.Errorf("storage: bucket check failed for %s: %w", bucket, err)
		}
		if exists {
			continue
		}
		if err := g.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("storage: failed to create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PresignedPutParams binds a presigned PUT to a specific content type and
// max size.
type PresignedPutParams struct {
	Bucket      string
	Key         string
	ContentType string
	MaxBytes    int64
	TTL         time.Duration
}

// PresignPut issues a presigned PUT URL valid for TTL. minio-go's
// PresignedPutObject does not itself constrain Content-Type/Content-Length;
// the caller (UCP) issues the URL only after validating mime_type and
// size_bytes and instructs the client to send matching headers on the PUT.
func (g *Gateway) PresignPut(ctx context.Context, p PresignedPutParams) (*url.URL, error) {
	return g.client.PresignedPutObject(ctx, p.Bucket, p.Key, p.TTL)
}

// PresignGet issues a presigned GET URL valid for ttl.
func (g *Gateway) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (*url.URL, error) {
	reqParams := make(url.Values)
	return g.client.PresignedGetObject(ctx, bucket, key, ttl, reqParams)
}

// StatObject returns object metadata, used to verify an upload landed before
// complete_upload transitions the video out of "uploading".
func (g *Gateway) StatObject(ctx context.Context, bucket, key string) (minio.ObjectInfo, error) {
	return g.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
}

// GetObject opens a streaming reader for worker consumption.
func (g *Gateway) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := g.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// minio's GetObject is lazy; force the first read so a missing object
	// surfaces here rather than deep inside a later stage.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		return nil, err
	}
	return obj, nil
}

// PutObject uploads data to bucket/key, used by the pipeline to write
// sidecar JSON artifacts and staged audio/frames.
func (g *Gateway) PutObject(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	_, err := g.client.PutObject(ctx, bucket, key, data, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	return err
}
