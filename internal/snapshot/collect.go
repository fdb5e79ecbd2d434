package snapshot

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/storage"
)

// Files holds the live entries of a snapshot split by content.
type Files struct {
	Data    []manifest.Entry
	Deletes []manifest.Entry
}

// Paths returns the paths of every live file.
func (f Files) Paths() []string {
	out := make([]string, 0, len(f.Data)+len(f.Deletes))
	for _, e := range f.Data {
		out = append(out, e.File.Path)
	}
	for _, e := range f.Deletes {
		out = append(out, e.File.Path)
	}
	return out
}

// Collect reads every manifest of snap and returns its live entries.
// Manifests are read concurrently; entry order follows the manifest list.
func Collect(ctx context.Context, store storage.ObjectStore, snap *metadata.Snapshot) (Files, error) {
	if snap == nil {
		return Files{}, nil
	}
	list, err := manifest.ReadList(ctx, store, snap.ManifestList)
	if err != nil {
		return Files{}, err
	}
	decoded := make([]*manifest.Manifest, len(list))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, mf := range list {
		if !mf.HasLiveFiles() {
			continue
		}
		g.Go(func() error {
			m, err := manifest.Read(gctx, store, mf)
			if err != nil {
				return err
			}
			decoded[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Files{}, err
	}

	var out Files
	for _, m := range decoded {
		if m == nil {
			continue
		}
		for _, e := range m.LiveEntries() {
			if m.Content == manifest.ManifestContentDeletes {
				out.Deletes = append(out.Deletes, e)
			} else {
				out.Data = append(out.Data, e)
			}
		}
	}
	return out, nil
}
