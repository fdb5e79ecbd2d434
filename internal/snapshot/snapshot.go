// Package snapshot builds new snapshots from a parent snapshot and a set
// of file changes. Parent manifests that the change does not touch are
// carried into the new manifest list by reference; manifests holding
// removed files are rewritten with EXISTING and DELETED entries.
package snapshot

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
)

// Changes is the write set of one snapshot.
type Changes struct {
	// Added data files.
	Added []*manifest.DataFile
	// Removed data or delete files, matched by path against the parent.
	Removed []*manifest.DataFile
	// AddedDeletes are position or equality delete files.
	AddedDeletes []*manifest.DataFile
}

// Append adds data files.
func Append(files ...*manifest.DataFile) (Changes, metadata.Operation) {
	return Changes{Added: files}, metadata.OpAppend
}

// Overwrite replaces data files with rewritten copies (copy-on-write).
func Overwrite(removed, added []*manifest.DataFile) (Changes, metadata.Operation) {
	return Changes{Added: added, Removed: removed}, metadata.OpOverwrite
}

// DeleteFiles removes whole data files.
func DeleteFiles(removed ...*manifest.DataFile) (Changes, metadata.Operation) {
	return Changes{Removed: removed}, metadata.OpDelete
}

// RowDelta adds delete files and optionally new data files without
// rewriting existing ones (merge-on-read).
func RowDelta(added, deletes []*manifest.DataFile) (Changes, metadata.Operation) {
	op := metadata.OpDelete
	if len(added) > 0 {
		op = metadata.OpOverwrite
	}
	return Changes{Added: added, AddedDeletes: deletes}, op
}

// Rewrite replaces files with files holding the same rows, e.g. after
// compaction. Delete files whose rows were applied may be removed too.
func Rewrite(removed, added []*manifest.DataFile) (Changes, metadata.Operation) {
	return Changes{Added: added, Removed: removed}, metadata.OpReplace
}

// Options tune Build.
type Options struct {
	// SnapshotID overrides the generated ID.
	SnapshotID int64
	// Now is the clock used for the snapshot timestamp.
	Now func() time.Time
	// Properties are extra summary properties.
	Properties map[string]string
}

// Build writes the manifests and manifest list of a new snapshot whose
// parent is parent (nil for the first snapshot of a branch) and returns
// it. The snapshot is not committed; its sequence number is one above
// base's last sequence number.
func Build(ctx context.Context, store storage.ObjectStore, base *metadata.TableMetadata, parent *metadata.Snapshot, changes Changes, op metadata.Operation, opts Options) (*metadata.Snapshot, error) {
	if err := validate(changes, op); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	snapshotID := opts.SnapshotID
	if snapshotID == 0 {
		snapshotID = NewSnapshotID()
	}
	seq := base.LastSequenceNumber + 1
	if parent != nil && seq <= parent.SequenceNumber {
		return nil, strataerrors.NewCorruptMetadata(
			fmt.Sprintf("parent snapshot %d has sequence number %d above table's %d", parent.SnapshotID, parent.SequenceNumber, base.LastSequenceNumber), nil)
	}

	var parentManifests []manifest.ManifestFile
	if parent != nil {
		var err error
		parentManifests, err = manifest.ReadList(ctx, store, parent.ManifestList)
		if err != nil {
			return nil, err
		}
	}

	sum := newSummaryBuilder()
	kept, rewritten, err := applyRemovals(ctx, store, base, parentManifests, changes.Removed, snapshotID, seq, sum)
	if err != nil {
		return nil, err
	}

	added, err := writeAdded(ctx, store, base, snapshotID, seq, changes, sum)
	if err != nil {
		return nil, err
	}

	manifests := make([]manifest.ManifestFile, 0, len(added)+len(rewritten)+len(kept))
	manifests = append(manifests, added...)
	manifests = append(manifests, rewritten...)
	manifests = append(manifests, kept...)

	var parentID *int64
	if parent != nil {
		id := parent.SnapshotID
		parentID = &id
	}
	listPath := ManifestListPath(base.Location, snapshotID)
	if err := manifest.WriteList(ctx, store, listPath, manifests, snapshotID, parentID, seq); err != nil {
		return nil, strataerrors.NewStorageError(strataerrors.CodeUploadFailed, "write manifest list", err)
	}

	schemaID := base.CurrentSchemaID
	ts := opts.Now().UnixMilli()
	if parent != nil && ts <= parent.TimestampMs {
		ts = parent.TimestampMs + 1
	}
	return &metadata.Snapshot{
		SnapshotID:       snapshotID,
		ParentSnapshotID: parentID,
		SequenceNumber:   seq,
		TimestampMs:      ts,
		ManifestList:     listPath,
		Summary:          sum.build(op, parent, opts.Properties),
		SchemaID:         &schemaID,
	}, nil
}

func validate(c Changes, op metadata.Operation) error {
	invalid := func(msg string) error {
		return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, msg)
	}
	for _, f := range c.Added {
		if f.Content != manifest.ContentData {
			return invalid(fmt.Sprintf("added file %s is not a data file", f.Path))
		}
	}
	for _, f := range c.AddedDeletes {
		if !f.Content.IsDelete() {
			return invalid(fmt.Sprintf("delete file %s has content %s", f.Path, f.Content))
		}
		if f.Content == manifest.ContentEqualityDeletes && len(f.EqualityIDs) == 0 {
			return invalid(fmt.Sprintf("equality delete file %s has no equality field ids", f.Path))
		}
	}
	switch op {
	case metadata.OpAppend:
		if len(c.Removed) > 0 || len(c.AddedDeletes) > 0 {
			return invalid("append cannot remove files or add deletes")
		}
	case metadata.OpReplace:
		if len(c.AddedDeletes) > 0 {
			return invalid("replace cannot add delete files")
		}
		if len(c.Removed) == 0 {
			return invalid("replace must remove at least one file")
		}
	case metadata.OpDelete:
		if len(c.Added) > 0 {
			return invalid("delete cannot add data files")
		}
	case metadata.OpOverwrite:
	default:
		return invalid(fmt.Sprintf("unknown operation %q", op))
	}
	return nil
}

// applyRemovals splits parent manifests into those carried unchanged and
// rewritten copies of those holding removed files. Every removed path must
// be live in the parent.
func applyRemovals(ctx context.Context, store storage.ObjectStore, base *metadata.TableMetadata, parents []manifest.ManifestFile, removed []*manifest.DataFile, snapshotID, seq int64, sum *summaryBuilder) (kept, rewritten []manifest.ManifestFile, err error) {
	if len(removed) == 0 {
		for _, mf := range parents {
			if mf.HasLiveFiles() {
				kept = append(kept, mf)
			}
		}
		return kept, nil, nil
	}

	want := make(map[string]bool, len(removed))
	for _, f := range removed {
		want[f.Path] = true
	}

	decoded := make([]*manifest.Manifest, len(parents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, mf := range parents {
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
		return nil, nil, err
	}

	found := make(map[string]bool, len(want))
	for i, mf := range parents {
		m := decoded[i]
		if m == nil {
			continue
		}
		touched := false
		for _, e := range m.Entries {
			if e.IsLive() && want[e.File.Path] {
				touched = true
				break
			}
		}
		if !touched {
			kept = append(kept, mf)
			continue
		}

		w, err := manifest.NewWriter(m.Spec, m.Schema, m.Content, snapshotID)
		if err != nil {
			return nil, nil, err
		}
		for _, e := range m.Entries {
			switch {
			case !e.IsLive():
				continue
			case want[e.File.Path]:
				if found[e.File.Path] {
					continue
				}
				found[e.File.Path] = true
				sum.removed(e.File)
				err = w.Delete(e)
			default:
				err = w.Existing(e)
			}
			if err != nil {
				return nil, nil, err
			}
		}
		out, err := w.Write(ctx, store, ManifestPath(base.Location), seq)
		if err != nil {
			return nil, nil, strataerrors.NewStorageError(strataerrors.CodeUploadFailed, "rewrite manifest", err)
		}
		rewritten = append(rewritten, out)
	}

	for _, f := range removed {
		if !found[f.Path] {
			return nil, nil, strataerrors.NewValidationError(strataerrors.CodeMissingFile,
				fmt.Sprintf("cannot remove %s: not in the parent snapshot", f.Path)).
				WithDetails(map[string]interface{}{"path": f.Path})
		}
	}
	return kept, rewritten, nil
}

// writeAdded writes one manifest per partition spec for added data files
// and another per spec for delete files.
func writeAdded(ctx context.Context, store storage.ObjectStore, base *metadata.TableMetadata, snapshotID, seq int64, c Changes, sum *summaryBuilder) ([]manifest.ManifestFile, error) {
	type group struct {
		content manifest.ManifestContent
		specID  int
		files   []*manifest.DataFile
	}
	var groups []*group
	index := map[[2]int]*group{}
	add := func(content manifest.ManifestContent, f *manifest.DataFile) {
		key := [2]int{int(content), f.SpecID}
		g, ok := index[key]
		if !ok {
			g = &group{content: content, specID: f.SpecID}
			index[key] = g
			groups = append(groups, g)
		}
		g.files = append(g.files, f)
	}
	for _, f := range c.Added {
		add(manifest.ManifestContentData, f)
	}
	for _, f := range c.AddedDeletes {
		add(manifest.ManifestContentDeletes, f)
	}

	writers := make([]*manifest.Writer, len(groups))
	for i, g := range groups {
		spec, ok := base.SpecByID(g.specID)
		if !ok {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("file %s uses unknown partition spec %d", g.files[0].Path, g.specID))
		}
		w, err := manifest.NewWriter(spec, schemaForSpec(base, spec), g.content, snapshotID)
		if err != nil {
			return nil, err
		}
		for _, f := range g.files {
			if err := w.Add(f, seq); err != nil {
				return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
			}
			sum.added(f)
		}
		writers[i] = w
	}

	out := make([]manifest.ManifestFile, len(writers))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for i, w := range writers {
		eg.Go(func() error {
			mf, err := w.Write(gctx, store, ManifestPath(base.Location), seq)
			if err != nil {
				return strataerrors.NewStorageError(strataerrors.CodeUploadFailed, "write manifest", err)
			}
			out[i] = mf
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// schemaForSpec returns the newest schema that still has every source
// column of spec.
func schemaForSpec(base *metadata.TableMetadata, spec *partition.Spec) *schema.Schema {
	if _, err := spec.ResultTypes(base.CurrentSchema()); err == nil {
		return base.CurrentSchema()
	}
	for i := len(base.Schemas) - 1; i >= 0; i-- {
		if _, err := spec.ResultTypes(base.Schemas[i]); err == nil {
			return base.Schemas[i]
		}
	}
	return base.CurrentSchema()
}
