// Package maintenance keeps tables healthy in the background: it deletes
// the files of expired snapshots, finds and removes orphaned objects,
// compacts small data files and tunes bloom filter columns from observed
// predicates. Nothing here is needed for correctness of reads or commits.
package maintenance

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/metrics"
	"github.com/arkilian/strata/internal/storage"
)

// reachability is the set of objects a group of snapshots refers to.
type reachability struct {
	lists     map[string]bool
	manifests map[string]bool
	// files holds every data and delete file named by a manifest entry,
	// live holds only those some snapshot still reads.
	files map[string]bool
	live  map[string]bool
}

// walk reads the manifest lists and manifests of snaps. Objects that are
// already gone are skipped when missingOK is set, so a cleanup interrupted
// halfway can be run again.
func walk(ctx context.Context, store storage.ObjectStore, snaps []metadata.Snapshot, missingOK bool) (*reachability, error) {
	r := &reachability{
		lists:     map[string]bool{},
		manifests: map[string]bool{},
		files:     map[string]bool{},
		live:      map[string]bool{},
	}
	var toRead []manifest.ManifestFile
	for _, s := range snaps {
		r.lists[s.ManifestList] = true
		list, err := manifest.ReadList(ctx, store, s.ManifestList)
		if err != nil {
			if missingOK && errors.Is(err, storage.ErrObjectNotFound) {
				continue
			}
			return nil, err
		}
		for _, mf := range list {
			if r.manifests[mf.Path] {
				continue
			}
			r.manifests[mf.Path] = true
			toRead = append(toRead, mf)
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, mf := range toRead {
		g.Go(func() error {
			m, err := manifest.Read(gctx, store, mf)
			if err != nil {
				if missingOK && errors.Is(err, storage.ErrObjectNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, e := range m.Entries {
				r.files[e.File.Path] = true
				if e.IsLive() {
					r.live[e.File.Path] = true
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return r, nil
}

// CleanupResult lists the objects a cleanup deleted.
type CleanupResult struct {
	DataFiles     []string
	Manifests     []string
	ManifestLists []string
	// Errors holds per-object delete failures. They are safe to retry by
	// running FindOrphans later.
	Errors map[string]error
}

// Deleted returns the total number of deleted objects.
func (r *CleanupResult) Deleted() int {
	return len(r.DataFiles) + len(r.Manifests) + len(r.ManifestLists)
}

// Cleaner deletes the files that snapshot expiry left unreachable.
type Cleaner struct {
	store   storage.ObjectStore
	deleter *storage.BatchDeleter
	logger  zerolog.Logger
}

// NewCleaner creates a Cleaner deleting with the given parallelism.
func NewCleaner(store storage.ObjectStore, concurrency int, logger zerolog.Logger) *Cleaner {
	return &Cleaner{store: store, deleter: storage.NewBatchDeleter(store, concurrency), logger: logger}
}

// Cleanup deletes the objects that were reachable from the snapshots of
// before but are not reachable from any snapshot of after: their data and
// delete files, manifests and manifest lists. Files still read by a
// retained snapshot are never deleted.
func (c *Cleaner) Cleanup(ctx context.Context, before, after *metadata.TableMetadata) (*CleanupResult, error) {
	res := &CleanupResult{Errors: map[string]error{}}
	kept := make(map[int64]bool, len(after.Snapshots))
	for _, s := range after.Snapshots {
		kept[s.SnapshotID] = true
	}
	var expired []metadata.Snapshot
	for _, s := range before.Snapshots {
		if !kept[s.SnapshotID] {
			expired = append(expired, s)
		}
	}
	if len(expired) == 0 {
		return res, nil
	}

	retained, err := walk(ctx, c.store, after.Snapshots, false)
	if err != nil {
		return nil, err
	}
	gone, err := walk(ctx, c.store, expired, true)
	if err != nil {
		return nil, err
	}

	var files, manifests, lists []string
	for p := range gone.files {
		if !retained.live[p] {
			files = append(files, p)
		}
	}
	for p := range gone.manifests {
		if !retained.manifests[p] {
			manifests = append(manifests, p)
		}
	}
	for p := range gone.lists {
		if !retained.lists[p] {
			lists = append(lists, p)
		}
	}

	// Files go first so that an interrupted cleanup leaves manifests that
	// a rerun can still walk.
	res.DataFiles = c.delete(ctx, "data", files, res.Errors)
	res.Manifests = c.delete(ctx, "manifest", manifests, res.Errors)
	res.ManifestLists = c.delete(ctx, "manifest_list", lists, res.Errors)

	c.logger.Info().Int("expired_snapshots", len(expired)).Int("data_files", len(res.DataFiles)).
		Int("manifests", len(res.Manifests)).Int("manifest_lists", len(res.ManifestLists)).
		Int("errors", len(res.Errors)).Msg("cleanup finished")
	return res, nil
}

func (c *Cleaner) delete(ctx context.Context, kind string, keys []string, errs map[string]error) []string {
	if len(keys) == 0 {
		return nil
	}
	out := c.deleter.Delete(ctx, keys)
	for k, err := range out.Errors {
		errs[k] = err
	}
	metrics.FilesDeleted.WithLabelValues(kind).Add(float64(len(out.Deleted)))
	return out.Deleted
}
