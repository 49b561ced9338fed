package minio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"assetvault/pkg/meta"
	"assetvault/pkg/meta/metatest"
	"assetvault/pkg/storage"
	"assetvault/pkg/storage/storagetest"

	"github.com/google/uuid"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testBucket = "av-unit"

func fakeConfig(endpoint string) Config {
	return Config{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		Bucket:          testBucket,
		AccessKeyID:     "test",
		SecretAccessKey: "test-secret",
	}
}

func newFakeAdapter(t *testing.T) (*Adapter, *fakeServer) {
	t.Helper()
	fake, endpoint := newFakeServer(t)
	a, err := NewAdapter(context.Background(), fakeConfig(endpoint), nil)
	require.NoError(t, err)
	return a, fake
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		in      string
		useSSL  bool
		host    string
		secured bool
	}{
		{"localhost:9000", false, "localhost:9000", false},
		{"localhost:9000", true, "localhost:9000", true},
		{"http://minio:9000/", true, "minio:9000", false},
		{"https://s3.example.com", false, "s3.example.com", true},
	}
	for _, tt := range tests {
		host, secure := splitEndpoint(tt.in, tt.useSSL)
		assert.Equal(t, tt.host, host, tt.in)
		assert.Equal(t, tt.secured, secure, tt.in)
	}
}

func TestNewAdapter_RequiresBucket(t *testing.T) {
	_, err := NewAdapter(context.Background(), Config{Endpoint: "localhost:9000"}, nil)
	assert.ErrorContains(t, err, "bucket is required")
}

func TestMinioAdapter_Integration(t *testing.T) {
	conn, err := net.DialTimeout("tcp", "localhost:9000", time.Second)
	if err != nil {
		t.Skip("Skipping MinIO integration tests (MinIO down)")
	}
	conn.Close()

	storagetest.Run(t, func(t *testing.T) (storage.Backend, *gorm.DB) {
		a, err := NewAdapter(context.Background(), Config{
			Endpoint:        "localhost:9000",
			Bucket:          "av-test-" + uuid.NewString()[:8],
			AccessKeyID:     "minioadmin",
			SecretAccessKey: "minioadmin",
		}, nil)
		require.NoError(t, err)
		return a, metatest.NewDB(t)
	})
}

func TestMinioAdapter_Contract(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) (storage.Backend, *gorm.DB) {
		a, _ := newFakeAdapter(t)
		return a, metatest.NewDB(t)
	})
}

func TestMinioAdapter_EnsuresBucket(t *testing.T) {
	fake, endpoint := newFakeServer(t)
	require.False(t, fake.hasBucket(testBucket))

	_, err := NewAdapter(context.Background(), fakeConfig(endpoint), nil)
	require.NoError(t, err)
	assert.True(t, fake.hasBucket(testBucket))

	// A second adapter finds the bucket and leaves it alone.
	_, err = NewAdapter(context.Background(), fakeConfig(endpoint), nil)
	require.NoError(t, err)
}

func TestMinioAdapter_MissingObjectIsUnavailable(t *testing.T) {
	a, fake := newFakeAdapter(t)
	db := metatest.NewDB(t)
	ctx := context.Background()

	item, err := a.Save(ctx, db, "a.gltf", []byte("{}"))
	require.NoError(t, err)
	fake.drop(testBucket, item.LocationString())

	_, err = a.Load(ctx, db, item.ID)
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, storage.ErrNotFound)

	exists, err := a.Exists(ctx, item.LocationString())
	require.NoError(t, err)
	assert.False(t, exists)

	// Delete still converges: the object is already gone.
	require.NoError(t, a.Delete(ctx, db, item.ID))
	assert.Equal(t, int64(0), metatest.CountItems(t, db))
}

func TestMinioAdapter_RowsPointAtKeys(t *testing.T) {
	a, fake := newFakeAdapter(t)
	db := metatest.NewDB(t)
	ctx := context.Background()

	item, err := a.Save(ctx, db, "duck.glb", []byte("glTF"))
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{2}/[0-9a-f-]{36}-duck\.glb$`, item.LocationString())
	assert.Equal(t, 1, fake.objectCount(testBucket))

	contents, err := a.Contents(ctx)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	assert.Equal(t, item.LocationString(), contents[0].Location)
	assert.Equal(t, int64(4), contents[0].Size)
}

func TestMinioAdapter_DeleteAbortsWhenObjectRemovalFails(t *testing.T) {
	a, fake := newFakeAdapter(t)
	db := metatest.NewDB(t)
	ctx := context.Background()

	item, err := a.Save(ctx, db, "a.gltf", []byte("keep me"))
	require.NoError(t, err)

	fake.failDeletes.Store(true)
	err = a.Delete(ctx, db, item.ID)
	assert.ErrorIs(t, err, storage.ErrBackendFailure)

	// The row delete was rolled back, so the item is still whole.
	_, err = meta.NewRepository(db).GetItem(ctx, item.ID)
	require.NoError(t, err)
	data, err := a.Load(ctx, db, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("keep me"), data)
}

func TestMinioAdapter_InsertFailureRemovesObject(t *testing.T) {
	a, fake := newFakeAdapter(t)
	db := metatest.NewDB(t)
	metatest.FailInserts(t, db)

	_, err := a.Save(context.Background(), db, "doomed.glb", []byte("orphan?"))
	assert.ErrorIs(t, err, storage.ErrBackendFailure)
	assert.ErrorIs(t, err, metatest.ErrInjected)

	assert.Equal(t, int32(1), fake.puts.Load())
	assert.Equal(t, int32(1), fake.deletes.Load())
	assert.Equal(t, 0, fake.objectCount(testBucket))
}

func TestMinioAdapter_FailedCompensationKeepsOriginalError(t *testing.T) {
	a, fake := newFakeAdapter(t)
	db := metatest.NewDB(t)
	metatest.FailInserts(t, db)
	fake.failDeletes.Store(true)

	_, err := a.Save(context.Background(), db, "a.gltf", []byte("orphan"))
	assert.ErrorIs(t, err, metatest.ErrInjected)
	assert.NotContains(t, err.Error(), "AccessDenied")

	// The orphan stays for fsck to find.
	assert.Equal(t, 1, fake.objectCount(testBucket))
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{miniogo.ErrorResponse{Code: "NoSuchKey"}, true},
		{miniogo.ErrorResponse{Code: "NoSuchBucket"}, true},
		{fmt.Errorf("read: %w", miniogo.ErrorResponse{Code: "NoSuchKey"}), true},
		{miniogo.ErrorResponse{Code: "AccessDenied"}, false},
		{errors.New("NoSuchKey"), false},
		{nil, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isNotFound(tt.err), "%v", tt.err)
	}
}
