package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// fakeS3 is an in-memory S3 good enough for the upload manager, the
// paginator and the adapter.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]map[string][]byte
	uploads  map[string]map[int32][]byte
	modTimes map[string]time.Time

	puts       atomic.Int32
	multiparts atomic.Int32
	opened     atomic.Int32
	closed     atomic.Int32
	createErr  error
}

var _ Client = (*fakeS3)(nil)

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets:  make(map[string]map[string][]byte),
		uploads:  make(map[string]map[int32][]byte),
		modTimes: make(map[string]time.Time),
	}
}

func (f *fakeS3) objects(bucket *string) (map[string][]byte, error) {
	objs, ok := f.buckets[aws.ToString(bucket)]
	if !ok {
		return nil, &s3types.NoSuchBucket{Message: bucket}
	}
	return objs, nil
}

// objectCount reports how many objects bucket holds.
func (f *fakeS3) objectCount(bucket string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buckets[bucket])
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.buckets[aws.ToString(in.Bucket)]; ok {
		return nil, &s3types.BucketAlreadyOwnedByYou{}
	}
	f.buckets[aws.ToString(in.Bucket)] = make(map[string][]byte)
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var body []byte
	if in.Body != nil {
		b, err := io.ReadAll(in.Body)
		if err != nil {
			return nil, err
		}
		body = b
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.objects(in.Bucket)
	if err != nil {
		return nil, err
	}
	objs[aws.ToString(in.Key)] = body
	f.modTimes[aws.ToString(in.Key)] = time.Now()
	f.puts.Add(1)
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("%q", uuid.NewString()))}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.uploads[id] = make(map[int32][]byte)
	return &s3.CreateMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key, UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	parts[aws.ToInt32(in.PartNumber)] = body
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("\"part-%d\"", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	objs, err := f.objects(in.Bucket)
	if err != nil {
		return nil, err
	}
	numbers := make([]int, 0, len(parts))
	for n := range parts {
		numbers = append(numbers, int(n))
	}
	sort.Ints(numbers)
	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(parts[int32(n)])
	}
	objs[aws.ToString(in.Key)] = buf.Bytes()
	f.modTimes[aws.ToString(in.Key)] = time.Now()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.multiparts.Add(1)
	return &s3.CompleteMultipartUploadOutput{Bucket: in.Bucket, Key: in.Key}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.uploads, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

// trackedBody counts closes so tests can check every stream is released.
type trackedBody struct {
	io.Reader
	f *fakeS3
}

func (b trackedBody) Close() error {
	b.f.closed.Add(1)
	return nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.objects(in.Bucket)
	if err != nil {
		return nil, err
	}
	data, ok := objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	f.opened.Add(1)
	return &s3.GetObjectOutput{
		Body:          trackedBody{Reader: bytes.NewReader(bytes.Clone(data)), f: f},
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.objects(in.Bucket)
	if err != nil {
		return nil, err
	}
	data, ok := objs[aws.ToString(in.Key)]
	if !ok {
		return nil, &s3types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.objects(in.Bucket)
	if err != nil {
		return nil, err
	}
	delete(objs, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	objs, err := f.objects(in.Bucket)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objs))
	for k := range objs {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{
		KeyCount:    aws.Int32(int32(len(keys))),
		IsTruncated: aws.Bool(false),
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(k),
			Size:         aws.Int64(int64(len(objs[k]))),
			LastModified: aws.Time(f.modTimes[k]),
		})
	}
	return out, nil
}
