package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/strata/internal/storage"
)

type countingStore struct {
	storage.ObjectStore
	gets atomic.Int64
}

func (c *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	c.gets.Add(1)
	return c.ObjectStore.Get(ctx, key)
}

func newCache(t *testing.T, maxBytes int64, opts ...Option) (*Store, *countingStore, string) {
	t.Helper()
	backend := &countingStore{ObjectStore: storage.NewMemoryStorage()}
	dir := t.TempDir()
	s, err := New(backend, dir, maxBytes, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, backend, dir
}

func TestGet_FillsOnMissAndServesHits(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newCache(t, 1<<20)
	require.NoError(t, s.Put(ctx, "wh/db/t/data/a.parquet", []byte("payload")))

	for i := 0; i < 3; i++ {
		data, err := s.Get(ctx, "wh/db/t/data/a.parquet")
		require.NoError(t, err)
		assert.Equal(t, "payload", string(data))
	}
	assert.EqualValues(t, 1, backend.gets.Load())
	assert.EqualValues(t, 7, s.Size())
	assert.Equal(t, 1, s.Len())

	_, err := s.Get(ctx, "wh/db/t/data/missing.parquet")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
	assert.Equal(t, 1, s.Len())
}

func TestGet_ConcurrentMissesShareOneRead(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newCache(t, 1<<20)
	require.NoError(t, s.Put(ctx, "k", []byte("v")))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			data, err := s.Get(ctx, "k")
			assert.NoError(t, err)
			assert.Equal(t, "v", string(data))
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, backend.gets.Load(), int64(16))
	assert.Equal(t, 1, s.Len())
}

func TestBypassAndInvalidation(t *testing.T) {
	ctx := context.Background()
	s, backend, _ := newCache(t, 1<<20, WithBypass("_catalog/"))

	ok, err := s.CompareAndSwap(ctx, "_catalog/db/t.pointer", nil, []byte("v1"))
	require.NoError(t, err)
	require.True(t, ok)
	for i := 0; i < 2; i++ {
		_, err := s.Get(ctx, "_catalog/db/t.pointer")
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, backend.gets.Load())
	assert.Zero(t, s.Len())

	require.NoError(t, s.Put(ctx, "data/a", []byte("abc")))
	_, err = s.Get(ctx, "data/a")
	require.NoError(t, err)
	require.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete(ctx, "data/a"))
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Size())
	_, err = s.Get(ctx, "data/a")
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestEvict_DropsLeastUsedFirst(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newCache(t, 100)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.Put(ctx, fmt.Sprintf("f%d", i), make([]byte, 30)))
	}
	for i := 0; i < 3; i++ {
		_, err := s.Get(ctx, fmt.Sprintf("f%d", i))
		require.NoError(t, err)
	}
	// f0 and f1 are read again and become the most used.
	for i := 0; i < 2; i++ {
		_, err := s.Get(ctx, fmt.Sprintf("f%d", i))
		require.NoError(t, err)
	}
	_, err := s.Get(ctx, "f3")
	require.NoError(t, err)
	s.evict()

	assert.LessOrEqual(t, s.Size(), int64(90))
	_, ok := s.index.Load("f0")
	assert.True(t, ok)
	_, ok = s.index.Load("f1")
	assert.True(t, ok)
	_, ok = s.index.Load("f2")
	assert.False(t, ok)
}

func TestNew_ReindexesExistingFiles(t *testing.T) {
	ctx := context.Background()
	backend := storage.NewMemoryStorage()
	dir := t.TempDir()
	require.NoError(t, backend.Put(ctx, "wh/db/t/metadata/00001.json", []byte("{}")))

	s, err := New(backend, dir, 1<<20)
	require.NoError(t, err)
	_, err = s.Get(ctx, "wh/db/t/metadata/00001.json")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".fill-123"), []byte("partial"), 0644))

	reopened, err := New(backend, dir, 1<<20)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
	assert.EqualValues(t, 2, reopened.Size())
	_, err = os.Stat(filepath.Join(dir, ".fill-123"))
	assert.True(t, os.IsNotExist(err))
}

func TestNew_RejectsZeroCapacity(t *testing.T) {
	_, err := New(storage.NewMemoryStorage(), t.TempDir(), 0)
	assert.Error(t, err)
}
