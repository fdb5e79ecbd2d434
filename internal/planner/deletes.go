package planner

import (
	"context"
	"sort"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/storage"
)

type deleteEntry struct {
	file *manifest.DataFile
	seq  int64
}

// deleteIndex finds the delete files that apply to a data file. Position
// deletes apply to data files with a sequence number less than or equal to
// their own; equality deletes only to strictly older data. A delete file
// applies to data in the same spec and partition, or to all data when it
// was written unpartitioned.
type deleteIndex struct {
	global      []deleteEntry
	partitioned map[string][]deleteEntry
}

func partitionKey(specID int, t partition.Tuple) string {
	return strconv.Itoa(specID) + "|" + t.Key()
}

func loadDeleteIndex(ctx context.Context, store storage.ObjectStore, manifests []manifest.ManifestFile, specs map[int]*partition.Spec) (*deleteIndex, error) {
	idx := &deleteIndex{partitioned: map[string][]deleteEntry{}}
	if len(manifests) == 0 {
		return idx, nil
	}

	decoded := make([]*manifest.Manifest, len(manifests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, mf := range manifests {
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
		return nil, err
	}

	for _, m := range decoded {
		for _, e := range m.LiveEntries() {
			de := deleteEntry{file: e.File, seq: e.SequenceNumber}
			spec := specs[e.File.SpecID]
			if spec == nil || spec.IsUnpartitioned() {
				idx.global = append(idx.global, de)
				continue
			}
			key := partitionKey(e.File.SpecID, e.File.Partition)
			idx.partitioned[key] = append(idx.partitioned[key], de)
		}
	}
	return idx, nil
}

func (idx *deleteIndex) forFile(e manifest.Entry) []*manifest.DataFile {
	var out []*manifest.DataFile
	add := func(candidates []deleteEntry) {
		for _, d := range candidates {
			if applies(d, e.SequenceNumber) {
				out = append(out, d.file)
			}
		}
	}
	add(idx.global)
	add(idx.partitioned[partitionKey(e.File.SpecID, e.File.Partition)])
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func applies(d deleteEntry, dataSeq int64) bool {
	switch d.file.Content {
	case manifest.ContentPositionDeletes:
		return d.seq >= dataSeq
	case manifest.ContentEqualityDeletes:
		return d.seq > dataSeq
	}
	return false
}
