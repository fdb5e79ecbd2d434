package storage

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/johannesboyne/gofakes3"
	"github.com/johannesboyne/gofakes3/backend/s3mem"
	"github.com/stretchr/testify/require"
)

func newFakeS3(t *testing.T) *S3Storage {
	t.Helper()
	backend := s3mem.New()
	require.NoError(t, backend.CreateBucket("warehouse"))
	ts := httptest.NewServer(gofakes3.New(backend).Server())
	t.Cleanup(ts.Close)

	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String(ts.URL),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider("key", "secret", ""),
	})
	return NewS3StorageWithClient(client, "warehouse", S3Config{Prefix: "strata"})
}

func TestS3Storage_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	store := newFakeS3(t)

	require.NoError(t, store.Put(ctx, "db/events/data/a.parquet", []byte("payload")))

	got, err := store.Get(ctx, "db/events/data/a.parquet")
	require.NoError(t, err)
	require.Equal(t, "payload", string(got))

	exists, err := store.Exists(ctx, "db/events/data/a.parquet")
	require.NoError(t, err)
	require.True(t, exists)

	objs, err := store.List(ctx, "db/events/")
	require.NoError(t, err)
	require.Len(t, objs, 1)
	require.Equal(t, "db/events/data/a.parquet", objs[0].Key)
	require.Equal(t, int64(len("payload")), objs[0].Size)

	require.NoError(t, store.Delete(ctx, "db/events/data/a.parquet"))
	exists, err = store.Exists(ctx, "db/events/data/a.parquet")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestS3Storage_GetMissing(t *testing.T) {
	store := newFakeS3(t)
	_, err := store.Get(context.Background(), "nope")
	require.True(t, errors.Is(err, ErrObjectNotFound), "got %v", err)
}

func TestS3Storage_CompareAndSwapStaleExpected(t *testing.T) {
	ctx := context.Background()
	store := newFakeS3(t)

	require.NoError(t, store.Put(ctx, "db/events/pointer", []byte("v1")))

	ok, err := store.CompareAndSwap(ctx, "db/events/pointer", []byte("v0"), []byte("v2"))
	require.NoError(t, err)
	require.False(t, ok)

	got, err := store.Get(ctx, "db/events/pointer")
	require.NoError(t, err)
	require.Equal(t, "v1", string(got))
}
