// Package planner turns a table snapshot and a row filter into the list of
// files a reader must scan. Planning prunes in two stages: manifests whose
// partition summaries cannot match the filter are never read, and files
// whose partition tuple or column statistics cannot match are skipped.
// Pruning is sound; a file is only skipped when no row in it can match.
//
// Plans are lazy: manifests are read as the returned sequence is consumed,
// and iteration may stop at any point. Every iteration starts over from the
// manifest list, so a sequence can be consumed more than once.
package planner

import (
	"context"
	"fmt"
	"iter"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/metrics"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
)

// Options select the snapshot and filter of a scan. At most one of
// SnapshotID, Ref and AsOfTimestampMs may be set; none means the head of
// main.
type Options struct {
	SnapshotID      *int64
	Ref             string
	AsOfTimestampMs *int64

	// Filter is an unbound row filter; nil selects every row.
	Filter expr.Expression
	// Columns projects the scan schema; empty selects every column.
	Columns       []string
	CaseSensitive bool

	// Recorder, when set, receives every predicate of the bound filter.
	Recorder PredicateRecorder
	// Table names the table for the recorder.
	Table string
}

// PredicateRecorder is satisfied by observability.PredicateStats.
type PredicateRecorder interface {
	RecordPredicate(table, column, operator string)
}

// FileScanTask is one data file to read, with the filter that still has
// to be applied to its rows and the delete files that apply to it.
type FileScanTask struct {
	File               *manifest.DataFile
	Spec               *partition.Spec
	DataSequenceNumber int64
	Residual           expr.Expression
	Deletes            []*manifest.DataFile
}

// PlanStats counts what one iteration of a plan looked at.
type PlanStats struct {
	ManifestsTotal         int
	ManifestsScanned       int
	ManifestsSkipped       int
	DeleteManifestsScanned int
	FilesConsidered        int
	FilesSkipped           int
	FilesPlanned           int
	DeleteFilesAttached    int
}

// Scan is a planned read of one snapshot. It is immutable.
type Scan struct {
	store     storage.ObjectStore
	md        *metadata.TableMetadata
	snapshot  *metadata.Snapshot
	schema    *schema.Schema
	projected *schema.Schema
	filter    expr.Expression
	opts      Options
}

// NewScan resolves the snapshot and binds the filter.
func NewScan(store storage.ObjectStore, md *metadata.TableMetadata, opts Options) (*Scan, error) {
	snap, timeTravel, err := resolveSnapshot(md, opts)
	if err != nil {
		return nil, err
	}

	sch := md.CurrentSchema()
	if timeTravel && snap != nil && snap.SchemaID != nil {
		if s, ok := md.SchemaByID(*snap.SchemaID); ok {
			sch = s
		}
	}
	filter, err := expr.BindAndRewrite(sch, opts.Filter, opts.CaseSensitive)
	if err != nil {
		return nil, err
	}
	projected, err := sch.Select(opts.CaseSensitive, opts.Columns...)
	if err != nil {
		return nil, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, err.Error())
	}
	if opts.Recorder != nil {
		recordPredicates(opts.Recorder, opts.Table, filter)
	}
	return &Scan{
		store:     store,
		md:        md,
		snapshot:  snap,
		schema:    sch,
		projected: projected,
		filter:    filter,
		opts:      opts,
	}, nil
}

func resolveSnapshot(md *metadata.TableMetadata, opts Options) (*metadata.Snapshot, bool, error) {
	set := 0
	if opts.SnapshotID != nil {
		set++
	}
	if opts.Ref != "" {
		set++
	}
	if opts.AsOfTimestampMs != nil {
		set++
	}
	if set > 1 {
		return nil, false, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
			"only one of snapshot id, ref and as-of timestamp may be set")
	}

	switch {
	case opts.SnapshotID != nil:
		s, ok := md.SnapshotByID(*opts.SnapshotID)
		if !ok {
			return nil, false, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("snapshot %d not found", *opts.SnapshotID))
		}
		return s, true, nil
	case opts.AsOfTimestampMs != nil:
		s, ok := md.SnapshotAsOf(*opts.AsOfTimestampMs)
		if !ok {
			return nil, false, strataerrors.NewValidationError(strataerrors.CodeInvalidArgument,
				fmt.Sprintf("no snapshot as of %d", *opts.AsOfTimestampMs))
		}
		return s, true, nil
	case opts.Ref != "":
		s, ok := md.SnapshotByRef(opts.Ref)
		if !ok {
			return nil, false, strataerrors.NewValidationError(strataerrors.CodeRefNotFound,
				fmt.Sprintf("ref %q not found", opts.Ref))
		}
		ref := md.Refs[opts.Ref]
		return s, ref.Type == metadata.TagRef, nil
	}
	return md.CurrentSnapshot(), false, nil
}

func recordPredicates(r PredicateRecorder, table string, e expr.Expression) {
	switch x := e.(type) {
	case expr.AndExpr:
		recordPredicates(r, table, x.Left)
		recordPredicates(r, table, x.Right)
	case expr.OrExpr:
		recordPredicates(r, table, x.Left)
		recordPredicates(r, table, x.Right)
	case *expr.BoundPredicate:
		r.RecordPredicate(table, x.Field.Name, x.Op().String())
	}
}

// Snapshot returns the scanned snapshot, nil for an empty table.
func (s *Scan) Snapshot() *metadata.Snapshot { return s.snapshot }

// Schema returns the schema the filter was bound to.
func (s *Scan) Schema() *schema.Schema { return s.schema }

// Projection returns the projected read schema.
func (s *Scan) Projection() *schema.Schema { return s.projected }

// Filter returns the bound, Not-free row filter.
func (s *Scan) Filter() expr.Expression { return s.filter }

// Metadata returns the table metadata the scan was planned against.
func (s *Scan) Metadata() *metadata.TableMetadata { return s.md }

// PlanFiles returns the scan tasks of the snapshot. When stats is non-nil
// it is reset and filled by each iteration.
func (s *Scan) PlanFiles(ctx context.Context, stats *PlanStats) iter.Seq2[FileScanTask, error] {
	return func(yield func(FileScanTask, error) bool) {
		var st PlanStats
		defer func() {
			if stats != nil {
				*stats = st
			}
			metrics.ManifestsScanned.WithLabelValues("scanned").Add(float64(st.ManifestsScanned))
			metrics.ManifestsScanned.WithLabelValues("pruned").Add(float64(st.ManifestsSkipped))
			metrics.FilesScanned.WithLabelValues("planned").Add(float64(st.FilesPlanned))
			metrics.FilesScanned.WithLabelValues("pruned").Add(float64(st.FilesSkipped))
		}()
		if s.snapshot == nil || s.filter.Op() == expr.OpFalse {
			return
		}

		list, err := manifest.ReadList(ctx, s.store, s.snapshot.ManifestList)
		if err != nil {
			yield(FileScanTask{}, err)
			return
		}
		st.ManifestsTotal = len(list)

		evals := newEvaluatorCache(s.md, s.filter)
		var dataManifests, deleteManifests []manifest.ManifestFile
		for _, mf := range list {
			if !mf.HasLiveFiles() {
				st.ManifestsSkipped++
				continue
			}
			ev, err := evals.forSpec(mf.SpecID)
			if err != nil {
				yield(FileScanTask{}, err)
				return
			}
			if !ev.manifest.Eval(mf) {
				st.ManifestsSkipped++
				continue
			}
			if mf.Content == manifest.ManifestContentDeletes {
				deleteManifests = append(deleteManifests, mf)
			} else {
				dataManifests = append(dataManifests, mf)
			}
		}

		deletes, err := loadDeleteIndex(ctx, s.store, deleteManifests, s.md.SpecsByID())
		if err != nil {
			yield(FileScanTask{}, err)
			return
		}
		st.DeleteManifestsScanned = len(deleteManifests)

		for _, mf := range dataManifests {
			if err := ctx.Err(); err != nil {
				yield(FileScanTask{}, err)
				return
			}
			m, err := manifest.Read(ctx, s.store, mf)
			if err != nil {
				yield(FileScanTask{}, err)
				return
			}
			st.ManifestsScanned++
			ev, _ := evals.forSpec(mf.SpecID)
			for _, e := range m.Entries {
				if !e.IsLive() {
					continue
				}
				st.FilesConsidered++
				if ev.residual.ResidualFor(e.File.Partition).Op() == expr.OpFalse || !ev.metrics.Eval(e.File) {
					st.FilesSkipped++
					continue
				}
				residual := ev.residual.ResidualForFile(e.File)
				if residual.Op() == expr.OpFalse {
					st.FilesSkipped++
					continue
				}
				task := FileScanTask{
					File:               e.File,
					Spec:               ev.spec,
					DataSequenceNumber: e.SequenceNumber,
					Residual:           residual,
					Deletes:            deletes.forFile(e),
				}
				st.FilesPlanned++
				st.DeleteFilesAttached += len(task.Deletes)
				if !yield(task, nil) {
					return
				}
			}
		}
	}
}

// Plan is a shorthand for NewScan followed by PlanFiles.
func Plan(ctx context.Context, store storage.ObjectStore, md *metadata.TableMetadata, opts Options) iter.Seq2[FileScanTask, error] {
	scan, err := NewScan(store, md, opts)
	if err != nil {
		return func(yield func(FileScanTask, error) bool) { yield(FileScanTask{}, err) }
	}
	return scan.PlanFiles(ctx, nil)
}

type specEvaluators struct {
	spec     *partition.Spec
	manifest *expr.ManifestEvaluator
	metrics  *expr.MetricsEvaluator
	residual *expr.ResidualEvaluator
}

type evaluatorCache struct {
	md     *metadata.TableMetadata
	filter expr.Expression
	specs  map[int]*specEvaluators
}

func newEvaluatorCache(md *metadata.TableMetadata, filter expr.Expression) *evaluatorCache {
	return &evaluatorCache{md: md, filter: filter, specs: map[int]*specEvaluators{}}
}

func (c *evaluatorCache) forSpec(id int) (*specEvaluators, error) {
	if ev, ok := c.specs[id]; ok {
		return ev, nil
	}
	spec, ok := c.md.SpecByID(id)
	if !ok {
		return nil, strataerrors.NewCorruptMetadata(fmt.Sprintf("manifest references unknown partition spec %d", id), nil)
	}
	ev := &specEvaluators{
		spec:     spec,
		manifest: expr.NewManifestEvaluator(spec, c.filter),
		metrics:  expr.NewMetricsEvaluator(c.filter),
		residual: expr.NewResidualEvaluator(spec, c.filter),
	}
	c.specs[id] = ev
	return ev, nil
}
