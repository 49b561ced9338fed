// Package minio is the object storage backend built on the MinIO client,
// for deployments that talk to MinIO directly rather than through the AWS SDK.
package minio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"assetvault/pkg/meta"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gorm.io/gorm"
)

// Config is used to build an Adapter.
type Config struct {
	Endpoint        string // host:port, an http(s):// prefix selects TLS
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	PartSize        uint64 // 0 lets the client choose
}

// Adapter stores content as objects in one bucket. The row records the key.
type Adapter struct {
	client   *miniogo.Client
	bucket   string
	partSize uint64
	log      *slog.Logger
}

var (
	_ storage.Backend   = (*Adapter)(nil)
	_ storage.Inventory = (*Adapter)(nil)
)

// NewAdapter connects to the server and ensures the bucket exists.
func NewAdapter(ctx context.Context, cfg Config, log *slog.Logger) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	endpoint, secure := splitEndpoint(cfg.Endpoint, cfg.UseSSL)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}
	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	a := &Adapter{client: client, bucket: cfg.Bucket, partSize: cfg.PartSize, log: storage.LoggerOr(log)}
	if err := a.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return a, nil
}

func splitEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), false
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}

func (a *Adapter) ensureBucket(ctx context.Context, region string) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %q: %w", a.bucket, err)
	}
	if exists {
		return nil
	}
	err = a.client.MakeBucket(ctx, a.bucket, miniogo.MakeBucketOptions{Region: region})
	if err != nil && miniogo.ToErrorResponse(err).Code != "BucketAlreadyOwnedByYou" {
		return fmt.Errorf("failed to create bucket %q: %w", a.bucket, err)
	}
	a.log.Info("created bucket", slog.String("bucket", a.bucket))
	return nil
}

func (a *Adapter) Kind() types.BackendKind { return types.KindObject }

func (a *Adapter) Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("put object", err)
	}

	key := storage.NewObjectKey(name)
	// The client streams a multipart upload once data exceeds one part.
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(data), int64(len(data)), miniogo.PutObjectOptions{
		ContentType: storage.ContentType(name, data),
		PartSize:    a.partSize,
	})
	if err != nil {
		return nil, storage.Failure("put object", err)
	}

	item := storage.NewItem(types.KindObject, name, key, data)
	if err := storage.Commit(ctx, db, item, func(ctx context.Context) error { return a.Remove(ctx, key) }, a.log); err != nil {
		return nil, err
	}
	a.log.Debug("saved item", slog.String("item", item.ID.String()), slog.String("key", key), slog.Int("size", len(data)))
	return item, nil
}

func (a *Adapter) Load(ctx context.Context, db *gorm.DB, id types.ItemID) ([]byte, error) {
	item, err := storage.LoadRow(ctx, db, id, types.KindObject, false)
	if err != nil {
		return nil, err
	}

	obj, err := a.client.GetObject(ctx, a.bucket, item.LocationString(), miniogo.GetObjectOptions{})
	if err != nil {
		return nil, storage.Unavailable("get object", err)
	}
	defer obj.Close()

	// GetObject is lazy; Stat surfaces a missing key before reading. The
	// first Read is a separate GET, so the key can still vanish after Stat.
	if _, err := obj.Stat(); err != nil {
		if isNotFound(err) {
			return nil, storage.ResolveMissing(ctx, db, id, "get object", err)
		}
		return nil, storage.Unavailable("stat object", err)
	}
	data, err := storage.ReadAll(ctx, obj, item.Size)
	if isNotFound(err) {
		return nil, storage.ResolveMissing(ctx, db, id, "read object", err)
	}
	if err != nil {
		return nil, storage.Unavailable("read object", err)
	}
	if err := storage.Verify(item, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (a *Adapter) Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	item, err := storage.LoadRow(ctx, db, id, types.KindObject, false)
	if err != nil {
		return err
	}
	key := item.LocationString()
	return storage.DeleteWithContent(ctx, db, id, "remove object", func(ctx context.Context) error {
		return a.Remove(ctx, key)
	})
}

func (a *Adapter) Contents(ctx context.Context) ([]storage.ContentInfo, error) {
	var out []storage.ContentInfo
	for obj := range a.client.ListObjects(ctx, a.bucket, miniogo.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("minio list failed: %w", obj.Err)
		}
		out = append(out, storage.ContentInfo{Location: obj.Key, Size: obj.Size, ModTime: obj.LastModified})
	}
	return out, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.StatObject(ctx, a.bucket, key, miniogo.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	return a.client.RemoveObject(ctx, a.bucket, key, miniogo.RemoveObjectOptions{})
}

func isNotFound(err error) bool {
	var resp miniogo.ErrorResponse
	if !errors.As(err, &resp) {
		return false
	}
	switch resp.Code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return true
	}
	return false
}
