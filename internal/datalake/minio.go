package datalake

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

// MinioBlobs stores blobs as objects in an S3-compatible bucket. A single
// PutObject is atomic from the reader's point of view.
type MinioBlobs struct {
	client *minio.Client
	bucket string
	prefix string
}

// NewMinioBlobs connects to the object store and creates the bucket when it
// does not exist yet.
func NewMinioBlobs(ctx context.Context, cfg config.ObjectStoreConfig) (*MinioBlobs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %s: %w", cfg.Bucket, err)
		}
	}
	return &MinioBlobs{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (b *MinioBlobs) key(name string) string {
	return path.Join(b.prefix, name)
}

func (b *MinioBlobs) Put(ctx context.Context, key string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.bucket, b.key(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType(key),
	})
	if err != nil {
		return fmt.Errorf("putting %s: %w", key, err)
	}
	return nil
}

func (b *MinioBlobs) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := b.client.GetObject(ctx, b.bucket, b.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, b.mapErr(key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, b.mapErr(key, err)
	}
	return data, nil
}

func (b *MinioBlobs) mapErr(key string, err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "NoSuchKey" || resp.Code == "NotFound" {
		return fmt.Errorf("%s: %w", key, apperrors.ErrDocumentNotFound)
	}
	return fmt.Errorf("getting %s: %w", key, err)
}

func (b *MinioBlobs) List(ctx context.Context) ([]string, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{
		Prefix:    b.prefix,
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("listing bucket %s: %w", b.bucket, obj.Err)
		}
		name := strings.TrimPrefix(strings.TrimPrefix(obj.Key, b.prefix), "/")
		if name != "" {
			keys = append(keys, name)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (b *MinioBlobs) Ping(ctx context.Context) error {
	_, err := b.client.BucketExists(ctx, b.bucket)
	return err
}

func contentType(key string) string {
	if strings.HasSuffix(key, ".json") {
		return "application/json"
	}
	return "text/plain; charset=utf-8"
}
