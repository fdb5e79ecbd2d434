package storage

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// BatchDeleter removes many objects in parallel. Maintenance uses it to
// reclaim expired and orphaned files.
type BatchDeleter struct {
	store       ObjectStore
	concurrency int
}

// BatchDeleteResult contains the outcome of a batch delete.
type BatchDeleteResult struct {
	Deleted []string
	Errors  map[string]error
}

// NewBatchDeleter creates a new batch deleter.
func NewBatchDeleter(store ObjectStore, concurrency int) *BatchDeleter {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &BatchDeleter{store: store, concurrency: concurrency}
}

// Delete removes keys in parallel. Per-key failures are collected rather
// than aborting the batch.
func (b *BatchDeleter) Delete(ctx context.Context, keys []string) *BatchDeleteResult {
	result := &BatchDeleteResult{Errors: make(map[string]error)}
	if len(keys) == 0 {
		return result
	}

	sem := semaphore.NewWeighted(int64(b.concurrency))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, key := range keys {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[key] = fmt.Errorf("semaphore acquire failed: %w", err)
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(key string) {
			defer sem.Release(1)
			defer wg.Done()

			err := b.store.Delete(ctx, key)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[key] = err
				return
			}
			result.Deleted = append(result.Deleted, key)
		}(key)
	}

	wg.Wait()
	return result
}
