package maintenance

import (
	"context"
	"sort"
	"strings"
	"time"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/metrics"
)

// Orphan is an object under a table location that no metadata refers to.
type Orphan struct {
	Path         string
	Size         int64
	LastModified time.Time
	// Err is the ORPHAN_REFERENCE error describing the object.
	Err *strataerrors.StrataError
}

// FindOrphans lists the objects under the table location and reports
// those not referenced by md, by any snapshot of md or by the metadata
// log. Objects modified after olderThan are skipped: they may belong to a
// commit still in flight. Orphans are reported, not deleted.
func (c *Cleaner) FindOrphans(ctx context.Context, md *metadata.TableMetadata, metadataLocation string, olderThan time.Time) ([]Orphan, error) {
	refs, err := walk(ctx, c.store, md.Snapshots, false)
	if err != nil {
		return nil, err
	}
	known := func(p string) bool {
		return refs.lists[p] || refs.manifests[p] || refs.files[p]
	}
	metadataFiles := map[string]bool{metadataLocation: true}
	for _, e := range md.MetadataLog {
		metadataFiles[e.MetadataFile] = true
	}

	objects, err := c.store.List(ctx, strings.TrimSuffix(md.Location, "/")+"/")
	if err != nil {
		return nil, err
	}
	var out []Orphan
	for _, obj := range objects {
		if known(obj.Key) || metadataFiles[obj.Key] || !obj.LastModified.Before(olderThan) {
			continue
		}
		out = append(out, Orphan{
			Path:         obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			Err:          strataerrors.NewOrphanReference(obj.Key),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	metrics.OrphansFound.Add(float64(len(out)))
	if len(out) > 0 {
		c.logger.Warn().Str("location", md.Location).Int("orphans", len(out)).Msg("orphaned objects found")
	}
	return out, nil
}

// RemoveOrphans deletes the given orphans and returns the paths deleted
// and per-path failures.
func (c *Cleaner) RemoveOrphans(ctx context.Context, orphans []Orphan) ([]string, map[string]error) {
	keys := make([]string, len(orphans))
	for i, o := range orphans {
		keys[i] = o.Path
	}
	errs := map[string]error{}
	deleted := c.delete(ctx, "orphan", keys, errs)
	sort.Strings(deleted)
	return deleted, errs
}
