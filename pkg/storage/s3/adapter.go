package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"assetvault/pkg/meta"
	"assetvault/pkg/storage"
	"assetvault/pkg/types"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"gorm.io/gorm"
)

// Client is the subset of the S3 API the adapter uses. *s3.Client satisfies it.
type Client interface {
	manager.UploadAPIClient
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	CreateBucket(ctx context.Context, in *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config is used to build an Adapter.
type Config struct {
	Endpoint        string // empty for AWS, e.g. http://localhost:9000 for MinIO
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string

	// PartSize is the multipart threshold and part size; payloads larger
	// than one part are streamed as a multipart upload.
	PartSize int64
	// Concurrency bounds parallel part uploads per Save.
	Concurrency int
}

const defaultRegion = "us-east-1"

// Adapter is the object storage backend. The row records the object key.
type Adapter struct {
	client   Client
	uploader *manager.Uploader
	bucket   string
	log      *slog.Logger
}

var (
	_ storage.Backend   = (*Adapter)(nil)
	_ storage.Inventory = (*Adapter)(nil)
)

// NewAdapter builds an S3 client from cfg and ensures the bucket exists.
func NewAdapter(ctx context.Context, cfg Config, log *slog.Logger) (*Adapter, error) {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID, cfg.SecretAccessKey, "",
		)))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		// MinIO and most S3-compatible stores need path-style addressing.
		o.UsePathStyle = true
	})
	return NewWithClient(ctx, client, cfg, log)
}

// NewWithClient wraps an existing client. The bucket is checked (and
// created if absent) here, once, and never again per operation.
func NewWithClient(ctx context.Context, client Client, cfg Config, log *slog.Logger) (*Adapter, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	a := &Adapter{
		client: client,
		bucket: cfg.Bucket,
		log:    storage.LoggerOr(log),
	}
	a.uploader = manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = max(cfg.PartSize, manager.MinUploadPartSize)
		if cfg.Concurrency > 0 {
			u.Concurrency = cfg.Concurrency
		}
	})
	if err := a.ensureBucket(ctx, cfg.Region); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) ensureBucket(ctx context.Context, region string) error {
	_, err := a.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(a.bucket)})
	if err == nil {
		return nil
	}
	if !isNotFound(err) {
		return fmt.Errorf("failed to check bucket %q: %w", a.bucket, err)
	}

	in := &s3.CreateBucketInput{Bucket: aws.String(a.bucket)}
	if region != defaultRegion {
		in.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
			LocationConstraint: s3types.BucketLocationConstraint(region),
		}
	}
	_, err = a.client.CreateBucket(ctx, in)
	var owned *s3types.BucketAlreadyOwnedByYou
	if err != nil && !errors.As(err, &owned) {
		return fmt.Errorf("failed to create bucket %q: %w", a.bucket, err)
	}
	a.log.Info("created bucket", slog.String("bucket", a.bucket))
	return nil
}

func (a *Adapter) Kind() types.BackendKind { return types.KindObject }

// Bucket returns the bucket all objects are stored in.
func (a *Adapter) Bucket() string { return a.bucket }

func (a *Adapter) Save(ctx context.Context, db *gorm.DB, name string, data []byte) (*meta.Item, error) {
	if err := storage.ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, storage.Failure("upload object", err)
	}

	// 1. Upload; the manager switches to multipart above PartSize
	key := storage.NewObjectKey(name)
	_, err := a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(storage.ContentType(name, data)),
	})
	if err != nil {
		return nil, storage.Failure("upload object", err)
	}

	// 2. Row; remove the object again if the insert fails
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

	resp, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    item.Location,
	})
	if err != nil {
		if isNotFound(err) {
			return nil, storage.ResolveMissing(ctx, db, id, "get object", err)
		}
		return nil, storage.Unavailable("get object", err)
	}
	defer resp.Body.Close()

	data, err := storage.ReadAll(ctx, resp.Body, item.Size)
	if err != nil {
		return nil, storage.Unavailable("read object", err)
	}
	if err := storage.Verify(item, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Delete removes the row and the object in one transaction; a failed object
// delete keeps the row. S3 deletes are idempotent, so a retry after a failed
// commit succeeds.
func (a *Adapter) Delete(ctx context.Context, db *gorm.DB, id types.ItemID) error {
	item, err := storage.LoadRow(ctx, db, id, types.KindObject, false)
	if err != nil {
		return err
	}
	key := item.LocationString()
	return storage.DeleteWithContent(ctx, db, id, "delete object", func(ctx context.Context) error {
		return a.Remove(ctx, key)
	})
}

// Contents lists every object in the bucket.
func (a *Adapter) Contents(ctx context.Context) ([]storage.ContentInfo, error) {
	var out []storage.ContentInfo
	p := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{Bucket: aws.String(a.bucket)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list failed: %w", err)
		}
		for _, obj := range page.Contents {
			info := storage.ContentInfo{Location: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
			if obj.LastModified != nil {
				info.ModTime = *obj.LastModified
			}
			out = append(out, info)
		}
	}
	return out, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

func (a *Adapter) Remove(ctx context.Context, key string) error {
	_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	return err
}

// isNotFound recognises the many shapes of "no such key/bucket" the SDK
// and S3-compatible servers produce.
func isNotFound(err error) bool {
	var noKey *s3types.NoSuchKey
	var notFound *s3types.NotFound
	var noBucket *s3types.NoSuchBucket
	if errors.As(err, &noKey) || errors.As(err, &notFound) || errors.As(err, &noBucket) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
