// Package cache keeps objects read from remote storage on local disk.
//
// Data files, manifests, manifest lists and metadata files are written once
// under a fresh key and never modified, so a cached copy cannot go stale.
// Keys that are swapped in place, such as the object catalog's pointers,
// must be excluded with WithBypass.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/arkilian/strata/internal/metrics"
	"github.com/arkilian/strata/internal/storage"
)

const (
	maxFileName   = 200
	evictInterval = 5 * time.Second
	// Eviction stops once the cache is below this share of its capacity.
	evictTarget = 0.9
)

type entry struct {
	path       string
	size       int64
	lastAccess atomic.Int64
	hits       atomic.Int64
}

// Store is a storage.ObjectStore that serves Get from a size-bounded
// directory and fills it from the wrapped store on a miss.
type Store struct {
	storage.ObjectStore

	dir      string
	maxBytes int64
	bypass   []string
	logger   zerolog.Logger

	index sync.Map // key -> *entry
	size  atomic.Int64
	fill  singleflight.Group

	evictCh chan struct{}
	stopCh  chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// Option configures a Store.
type Option func(*Store)

// WithBypass excludes keys under the given prefixes from caching.
func WithBypass(prefixes ...string) Option {
	return func(s *Store) { s.bypass = append(s.bypass, prefixes...) }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option { return func(s *Store) { s.logger = l } }

// New wraps backend with a cache of at most maxBytes under dir. Files left
// in dir by a previous process are indexed again.
func New(backend storage.ObjectStore, dir string, maxBytes int64, opts ...Option) (*Store, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("cache: maxBytes must be positive, got %d", maxBytes)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cache: create dir: %w", err)
	}
	s := &Store{
		ObjectStore: backend,
		dir:         dir,
		maxBytes:    maxBytes,
		logger:      zerolog.Nop(),
		evictCh:     make(chan struct{}, 1),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.scan(); err != nil {
		return nil, fmt.Errorf("cache: scan dir: %w", err)
	}
	s.wg.Add(1)
	go s.evictLoop()
	return s, nil
}

// scan indexes the files of a previous run. Files whose name does not
// decode to a key are removed.
func (s *Store) scan() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	now := time.Now().UnixNano()
	for _, de := range entries {
		if de.IsDir() {
			continue
		}
		full := filepath.Join(s.dir, de.Name())
		key, err := url.PathUnescape(de.Name())
		info, ierr := de.Info()
		if err != nil || ierr != nil || strings.HasPrefix(de.Name(), ".") || fileName(key) != de.Name() {
			_ = os.Remove(full)
			continue
		}
		e := &entry{path: full, size: info.Size()}
		e.lastAccess.Store(now)
		s.index.Store(key, e)
		s.size.Add(e.size)
	}
	metrics.CacheBytes.Set(float64(s.size.Load()))
	return nil
}

// fileName maps a key to a file name. Long keys are hashed and cannot be
// recovered by scan.
func fileName(key string) string {
	name := url.PathEscape(key)
	if len(name) > maxFileName {
		sum := sha256.Sum256([]byte(key))
		return "." + hex.EncodeToString(sum[:])
	}
	return name
}

func (s *Store) cacheable(key string) bool {
	for _, p := range s.bypass {
		if strings.HasPrefix(key, p) {
			return false
		}
	}
	return true
}

// Get returns key from the cache, reading it from the wrapped store on a
// miss. Concurrent misses of one key share a single read.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if !s.cacheable(key) {
		return s.ObjectStore.Get(ctx, key)
	}
	if v, ok := s.index.Load(key); ok {
		e := v.(*entry)
		data, err := os.ReadFile(e.path)
		if err == nil {
			e.lastAccess.Store(time.Now().UnixNano())
			e.hits.Add(1)
			metrics.CacheRequests.WithLabelValues("hit").Inc()
			return data, nil
		}
		s.drop(key, e)
	}
	metrics.CacheRequests.WithLabelValues("miss").Inc()

	v, err, _ := s.fill.Do(key, func() (any, error) {
		data, err := s.ObjectStore.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if err := s.store(key, data); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("cache fill failed")
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *Store) store(key string, data []byte) error {
	if int64(len(data)) > s.maxBytes {
		return nil
	}
	path := filepath.Join(s.dir, fileName(key))
	tmp, err := os.CreateTemp(s.dir, ".fill-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}

	e := &entry{path: path, size: int64(len(data))}
	e.lastAccess.Store(time.Now().UnixNano())
	if old, loaded := s.index.Swap(key, e); loaded {
		s.size.Add(-old.(*entry).size)
	}
	metrics.CacheBytes.Set(float64(s.size.Add(e.size)))
	if s.size.Load() > s.maxBytes {
		select {
		case s.evictCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// CompareAndSwap invalidates key and delegates.
func (s *Store) CompareAndSwap(ctx context.Context, key string, expected, data []byte) (bool, error) {
	s.Invalidate(key)
	return s.ObjectStore.CompareAndSwap(ctx, key, expected, data)
}

// Delete deletes key from the wrapped store and the cache.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.ObjectStore.Delete(ctx, key)
	s.Invalidate(key)
	return err
}

// Invalidate removes key from the cache.
func (s *Store) Invalidate(key string) {
	if v, ok := s.index.Load(key); ok {
		s.drop(key, v.(*entry))
	}
}

func (s *Store) drop(key string, e *entry) bool {
	if !s.index.CompareAndDelete(key, e) {
		return false
	}
	_ = os.Remove(e.path)
	metrics.CacheBytes.Set(float64(s.size.Add(-e.size)))
	return true
}

func (s *Store) evictLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(evictInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.evictCh:
			s.evict()
		case <-ticker.C:
			s.evict()
		}
	}
}

// evict removes the least used entries, least recently used first among
// equals, until the cache is below its target size.
func (s *Store) evict() {
	target := int64(float64(s.maxBytes) * evictTarget)
	if s.size.Load() <= s.maxBytes {
		return
	}
	type candidate struct {
		key        string
		e          *entry
		hits, last int64
	}
	var cands []candidate
	s.index.Range(func(k, v any) bool {
		e := v.(*entry)
		cands = append(cands, candidate{key: k.(string), e: e, hits: e.hits.Load(), last: e.lastAccess.Load()})
		return true
	})
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].hits != cands[j].hits {
			return cands[i].hits < cands[j].hits
		}
		return cands[i].last < cands[j].last
	})
	var evicted int
	for _, c := range cands {
		if s.size.Load() <= target {
			break
		}
		if s.drop(c.key, c.e) {
			evicted++
		}
	}
	metrics.CacheEvictions.Add(float64(evicted))
	s.logger.Debug().Int("evicted", evicted).Int64("bytes", s.size.Load()).Msg("cache evicted")
}

// Size returns the bytes held by the cache.
func (s *Store) Size() int64 { return s.size.Load() }

// Len returns the number of cached objects.
func (s *Store) Len() int {
	n := 0
	s.index.Range(func(any, any) bool { n++; return true })
	return n
}

// Close stops the eviction worker. The cached files stay on disk for the
// next process.
func (s *Store) Close() error {
	s.once.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
	return nil
}
