package table

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/arkilian/strata/internal/datafile"
	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/snapshot"
	"github.com/arkilian/strata/pkg/types"
)

// Delete modes for PropDeleteMode.
const (
	PropDeleteMode = "write.delete.mode"
	CopyOnWrite    = "copy-on-write"
	MergeOnRead    = "merge-on-read"
)

// errNothingToCommit stops a commit whose producer found no work.
var errNothingToCommit = errors.New("nothing to commit")

// WriteOption tunes a write.
type WriteOption func(*writeConfig)

type writeConfig struct {
	branch string
	props  map[string]string
}

// ToBranch commits the write to a branch other than main. The branch must
// exist.
func ToBranch(name string) WriteOption { return func(c *writeConfig) { c.branch = name } }

// WithSummary adds properties to the snapshot summary.
func WithSummary(props map[string]string) WriteOption {
	return func(c *writeConfig) { c.props = props }
}

func newWriteConfig(opts []WriteOption) writeConfig {
	cfg := writeConfig{branch: metadata.MainBranch}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// producer computes the changes of a snapshot against a base and the head
// of the target branch. It runs once per commit attempt.
type producer func(ctx context.Context, base *metadata.TableMetadata, parent *metadata.Snapshot) (snapshot.Changes, metadata.Operation, error)

func branchHead(md *metadata.TableMetadata, branch string) (*metadata.Snapshot, error) {
	if branch == metadata.MainBranch {
		return md.CurrentSnapshot(), nil
	}
	ref, ok := md.Refs[branch]
	if !ok {
		return nil, strataerrors.NewValidationError(strataerrors.CodeRefNotFound, fmt.Sprintf("branch %q not found", branch))
	}
	if ref.Type != metadata.BranchRef {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("%q is a tag, not a branch", branch))
	}
	s, _ := md.SnapshotByID(ref.SnapshotID)
	return s, nil
}

func (t *Table) commitSnapshot(ctx context.Context, cfg writeConfig, produce producer) (*Table, error) {
	next, err := t.commit(ctx, func(ctx context.Context, base *metadata.TableMetadata) (*metadata.Builder, error) {
		b := builder(base)
		cur := b.Current()
		parent, err := branchHead(cur, cfg.branch)
		if err != nil {
			return nil, err
		}
		changes, op, err := produce(ctx, cur, parent)
		if err != nil {
			return nil, err
		}
		snap, err := snapshot.Build(ctx, t.tables.store, cur, parent, changes, op,
			snapshot.Options{Now: t.tables.now, Properties: cfg.props})
		if err != nil {
			return nil, err
		}
		t.tables.logger.Debug().Str("table", t.ident.String()).Int64("snapshot_id", snap.SnapshotID).
			Str("operation", string(op)).Str("branch", cfg.branch).Msg("snapshot built")
		return b.AddSnapshot(*snap).SetBranchSnapshot(cfg.branch, snap.SnapshotID), nil
	})
	if errors.Is(err, errNothingToCommit) {
		return t.Refresh(ctx)
	}
	return next, err
}

// Append writes rows as new data files, partitioned by the default spec,
// and commits them.
func (t *Table) Append(ctx context.Context, rows []types.Row, opts ...WriteOption) (*Table, error) {
	files, err := t.writeRows(ctx, rows)
	if err != nil {
		return nil, err
	}
	return t.AppendFiles(ctx, files, opts...)
}

// AppendFiles commits already written data files.
func (t *Table) AppendFiles(ctx context.Context, files []*manifest.DataFile, opts ...WriteOption) (*Table, error) {
	if len(files) == 0 {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "nothing to append")
	}
	return t.commitSnapshot(ctx, newWriteConfig(opts), func(context.Context, *metadata.TableMetadata, *metadata.Snapshot) (snapshot.Changes, metadata.Operation, error) {
		c, op := snapshot.Append(files...)
		return c, op, nil
	})
}

// Overwrite removes the rows matching filter and appends rows in one
// snapshot. Files with both matching and other rows are rewritten.
func (t *Table) Overwrite(ctx context.Context, filter expr.Expression, rows []types.Row, opts ...WriteOption) (*Table, error) {
	var added []*manifest.DataFile
	if len(rows) > 0 {
		var err error
		if added, err = t.writeRows(ctx, rows); err != nil {
			return nil, err
		}
	}
	cfg := newWriteConfig(opts)
	return t.commitSnapshot(ctx, cfg, func(ctx context.Context, base *metadata.TableMetadata, parent *metadata.Snapshot) (snapshot.Changes, metadata.Operation, error) {
		removed, rewritten, err := t.rewriteMatching(ctx, base, parent, cfg.branch, filter)
		if err != nil {
			return snapshot.Changes{}, "", err
		}
		all := append(rewritten, added...)
		switch {
		case len(removed) == 0 && len(all) == 0:
			return snapshot.Changes{}, "", errNothingToCommit
		case len(removed) == 0:
			c, op := snapshot.Append(all...)
			return c, op, nil
		case len(all) == 0:
			c, op := snapshot.DeleteFiles(removed...)
			return c, op, nil
		}
		c, op := snapshot.Overwrite(removed, all)
		return c, op, nil
	})
}

// Delete removes the rows matching filter. Files whose rows all match are
// dropped. Other affected files are rewritten under copy-on-write, or get
// position delete files under merge-on-read (table property
// write.delete.mode).
func (t *Table) Delete(ctx context.Context, filter expr.Expression, opts ...WriteOption) (*Table, error) {
	cfg := newWriteConfig(opts)
	return t.commitSnapshot(ctx, cfg, func(ctx context.Context, base *metadata.TableMetadata, parent *metadata.Snapshot) (snapshot.Changes, metadata.Operation, error) {
		var (
			c   snapshot.Changes
			err error
		)
		if base.Property(PropDeleteMode, CopyOnWrite) == MergeOnRead {
			c.Removed, c.AddedDeletes, err = t.positionDeletes(ctx, base, parent, cfg.branch, filter)
		} else {
			c.Removed, c.Added, err = t.rewriteMatching(ctx, base, parent, cfg.branch, filter)
		}
		if err != nil {
			return snapshot.Changes{}, "", err
		}
		if len(c.Removed) == 0 && len(c.AddedDeletes) == 0 {
			return snapshot.Changes{}, "", errNothingToCommit
		}
		if len(c.Added) > 0 {
			return c, metadata.OpOverwrite, nil
		}
		return c, metadata.OpDelete, nil
	})
}

// DeleteKeys deletes the rows whose values in columns equal one of keys by
// committing equality delete files. columns must include every partition
// source column of the default spec.
func (t *Table) DeleteKeys(ctx context.Context, columns []string, keys []types.Row, opts ...WriteOption) (*Table, error) {
	sch, spec := t.Schema(), t.Spec()
	ids := make([]int, len(columns))
	for i, name := range columns {
		f, ok := sch.FieldByName(name, true)
		if !ok {
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf("unknown column %q", name))
		}
		ids[i] = f.ID
	}
	for _, src := range spec.SourceIDs() {
		found := false
		for _, id := range ids {
			found = found || id == src
		}
		if !found {
			f, _ := sch.FieldByID(src)
			return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("equality columns must include partition source %q", f.Name))
		}
	}

	groups, err := datafile.Split(sch, spec, keys)
	if err != nil {
		return nil, err
	}
	var deletes []*manifest.DataFile
	for _, g := range groups {
		df, err := datafile.WriteEqualityDeletes(ctx, t.tables.store, t.dataPath(spec, g.Partition), sch, spec, g.Partition, ids, g.Rows, t.writeOptions())
		if err != nil {
			return nil, err
		}
		deletes = append(deletes, df)
	}
	if len(deletes) == 0 {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "no keys to delete")
	}
	return t.commitSnapshot(ctx, newWriteConfig(opts), func(context.Context, *metadata.TableMetadata, *metadata.Snapshot) (snapshot.Changes, metadata.Operation, error) {
		c, op := snapshot.RowDelta(nil, deletes)
		return c, op, nil
	})
}

// RewriteFiles replaces files with files holding the same live rows.
func (t *Table) RewriteFiles(ctx context.Context, removed, added []*manifest.DataFile, opts ...WriteOption) (*Table, error) {
	return t.commitSnapshot(ctx, newWriteConfig(opts), func(context.Context, *metadata.TableMetadata, *metadata.Snapshot) (snapshot.Changes, metadata.Operation, error) {
		c, op := snapshot.Rewrite(removed, added)
		return c, op, nil
	})
}

func (t *Table) dataPath(spec *partition.Spec, tuple partition.Tuple) string {
	dir := ""
	if len(spec.Fields) > 0 {
		dir = spec.Path(tuple)
	}
	return snapshot.DataFilePath(t.md.Location, dir, "parquet")
}

// writeRows splits rows by the default spec and writes one file per
// partition.
func (t *Table) writeRows(ctx context.Context, rows []types.Row) ([]*manifest.DataFile, error) {
	if len(rows) == 0 {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, "no rows to write")
	}
	sch, spec := t.Schema(), t.Spec()
	groups, err := datafile.Split(sch, spec, rows)
	if err != nil {
		return nil, err
	}

	files := make([]*manifest.DataFile, len(groups))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, grp := range groups {
		g.Go(func() error {
			df, err := datafile.WriteData(gctx, t.tables.store, t.dataPath(spec, grp.Partition), sch, spec, grp.Partition, grp.Rows, t.writeOptions())
			if err != nil {
				return err
			}
			files[i] = df
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return files, nil
}

// matchingTasks plans the files of parent that may hold rows matching
// filter, bound to the current schema.
func (t *Table) matchingTasks(base *metadata.TableMetadata, branch string, filter expr.Expression) (*planner.Scan, error) {
	return planner.NewScan(t.tables.store, base, planner.Options{Ref: branch, Filter: filter, CaseSensitive: true})
}

// rewriteMatching returns the files holding rows that match filter and
// copies of them without those rows.
func (t *Table) rewriteMatching(ctx context.Context, base *metadata.TableMetadata, parent *metadata.Snapshot, branch string, filter expr.Expression) (removed, added []*manifest.DataFile, err error) {
	if parent == nil {
		return nil, nil, nil
	}
	scan, err := t.matchingTasks(base, branch, filter)
	if err != nil {
		return nil, nil, err
	}
	sch := base.CurrentSchema()
	match := expr.NewEvaluator(scan.Filter())
	reader := datafile.NewReader(t.tables.store)
	opts := datafile.OptionsFromProperties(base.Properties)

	for task, err := range scan.PlanFiles(ctx, nil) {
		if err != nil {
			return nil, nil, err
		}
		if task.Residual.Op() == expr.OpTrue && len(task.Deletes) == 0 {
			removed = append(removed, task.File)
			continue
		}
		var keep []types.Row
		matched := false
		for row, err := range reader.Rows(ctx, task, sch) {
			if err != nil {
				return nil, nil, err
			}
			if match.Eval(row) {
				matched = true
				continue
			}
			keep = append(keep, row)
		}
		if !matched {
			continue
		}
		removed = append(removed, task.File)
		if len(keep) == 0 {
			continue
		}
		dir := ""
		if len(task.Spec.Fields) > 0 {
			dir = task.Spec.Path(task.File.Partition)
		}
		df, err := datafile.WriteData(ctx, t.tables.store, snapshot.DataFilePath(base.Location, dir, "parquet"),
			sch, task.Spec, task.File.Partition, keep, opts)
		if err != nil {
			return nil, nil, err
		}
		added = append(added, df)
	}
	return removed, added, nil
}

// positionDeletes returns the files whose rows all match filter and
// position delete files for the matching rows of the others.
func (t *Table) positionDeletes(ctx context.Context, base *metadata.TableMetadata, parent *metadata.Snapshot, branch string, filter expr.Expression) (removed, deletes []*manifest.DataFile, err error) {
	if parent == nil {
		return nil, nil, nil
	}
	scan, err := t.matchingTasks(base, branch, filter)
	if err != nil {
		return nil, nil, err
	}
	sch := base.CurrentSchema()
	reader := datafile.NewReader(t.tables.store)
	opts := datafile.OptionsFromProperties(base.Properties)

	for task, err := range scan.PlanFiles(ctx, nil) {
		if err != nil {
			return nil, nil, err
		}
		if task.Residual.Op() == expr.OpTrue && len(task.Deletes) == 0 {
			removed = append(removed, task.File)
			continue
		}
		var pds []datafile.PositionDelete
		for pos, err := range reader.Positions(ctx, task, sch, scan.Filter()) {
			if err != nil {
				return nil, nil, err
			}
			pds = append(pds, datafile.PositionDelete{Path: task.File.Path, Pos: pos})
		}
		if len(pds) == 0 {
			continue
		}
		dir := ""
		if len(task.Spec.Fields) > 0 {
			dir = task.Spec.Path(task.File.Partition)
		}
		df, err := datafile.WritePositionDeletes(ctx, t.tables.store, snapshot.DataFilePath(base.Location, dir, "parquet"),
			task.Spec, task.File.Partition, pds, opts)
		if err != nil {
			return nil, nil, err
		}
		deletes = append(deletes, df)
	}
	return removed, deletes, nil
}
