package maintenance

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/arkilian/strata/internal/datafile"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/metrics"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/snapshot"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/internal/table"
	"github.com/arkilian/strata/pkg/types"
)

const (
	DefaultTargetFileSizeBytes int64 = 128 << 20
	DefaultMinInputFiles             = 4
)

// CompactOptions tune bin packing. Zero values fall back to the table
// property write.target-file-size-bytes and the defaults above.
type CompactOptions struct {
	TargetFileSizeBytes int64
	MinInputFiles       int
}

// Bin is a group of small files of one partition rewritten into one file.
type Bin struct {
	Tasks []planner.FileScanTask
	Size  int64
}

// CompactResult describes a compaction commit.
type CompactResult struct {
	Bins    int
	Removed []*manifest.DataFile
	Added   []*manifest.DataFile
	// Failed counts bins whose rewrite did not validate; their inputs
	// are left in place.
	Failed int
}

// Compactor rewrites small data files of a partition into larger ones.
type Compactor struct {
	store  storage.ObjectStore
	reader *datafile.Reader
	bp     *Backpressure
	logger zerolog.Logger
}

// NewCompactor creates a compactor. bp may be nil.
func NewCompactor(store storage.ObjectStore, bp *Backpressure, logger zerolog.Logger) *Compactor {
	if bp == nil {
		bp = NewBackpressure(DefaultBackpressureConfig())
	}
	return &Compactor{store: store, reader: datafile.NewReader(store), bp: bp, logger: logger}
}

// Plan returns the bins a compaction of tbl's main branch would rewrite.
// Files at or above the target size are never picked. Files of a spec
// that no longer resolves against the current schema are skipped.
func (c *Compactor) Plan(ctx context.Context, tbl *table.Table, opts CompactOptions) ([]Bin, error) {
	target := opts.TargetFileSizeBytes
	if target <= 0 {
		target = tbl.Metadata().PropertyInt(metadata.PropTargetFileSizeBytes, DefaultTargetFileSizeBytes)
	}
	minFiles := opts.MinInputFiles
	if minFiles <= 0 {
		minFiles = DefaultMinInputFiles
	}
	if tbl.CurrentSnapshot() == nil {
		return nil, nil
	}

	scan, err := tbl.NewScan(planner.Options{})
	if err != nil {
		return nil, err
	}
	sch := tbl.Schema()
	groups := map[string][]planner.FileScanTask{}
	for task, err := range scan.PlanFiles(ctx, nil) {
		if err != nil {
			return nil, err
		}
		if task.File.FileSizeBytes >= target {
			continue
		}
		if _, err := task.Spec.ResultTypes(sch); err != nil {
			continue
		}
		key := strconv.Itoa(task.Spec.SpecID) + "|" + task.File.Partition.Key()
		groups[key] = append(groups[key], task)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var bins []Bin
	for _, k := range keys {
		tasks := groups[k]
		sort.Slice(tasks, func(i, j int) bool {
			if tasks[i].File.FileSizeBytes != tasks[j].File.FileSizeBytes {
				return tasks[i].File.FileSizeBytes < tasks[j].File.FileSizeBytes
			}
			return tasks[i].File.Path < tasks[j].File.Path
		})
		var cur Bin
		flush := func() {
			if len(cur.Tasks) >= minFiles {
				bins = append(bins, cur)
			}
			cur = Bin{}
		}
		for _, task := range tasks {
			if len(cur.Tasks) > 0 && cur.Size+task.File.FileSizeBytes > target {
				flush()
			}
			cur.Tasks = append(cur.Tasks, task)
			cur.Size += task.File.FileSizeBytes
		}
		flush()
	}
	return bins, nil
}

// Compact plans bins, rewrites each one and commits every bin that
// validated in one replace snapshot. The returned table is tbl itself
// when there was nothing to do.
func (c *Compactor) Compact(ctx context.Context, tbl *table.Table, opts CompactOptions) (*table.Table, *CompactResult, error) {
	bins, err := c.Plan(ctx, tbl, opts)
	if err != nil {
		return nil, nil, err
	}
	res := &CompactResult{Bins: len(bins)}
	if len(bins) == 0 {
		return tbl, res, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.bp.Concurrency())
	for _, b := range bins {
		g.Go(func() error {
			df, err := c.rewrite(gctx, tbl, b)
			c.bp.Record(err)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res.Failed++
				c.logger.Warn().Err(err).Str("table", tbl.Identifier().String()).
					Int("files", len(b.Tasks)).Msg("compaction bin skipped")
				return nil
			}
			for _, task := range b.Tasks {
				res.Removed = append(res.Removed, task.File)
			}
			if df != nil {
				res.Added = append(res.Added, df)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if len(res.Removed) == 0 {
		return tbl, res, nil
	}

	next, err := tbl.RewriteFiles(ctx, res.Removed, res.Added,
		table.WithSummary(map[string]string{"compaction-bins": strconv.Itoa(len(res.Added))}))
	if err != nil {
		return nil, nil, err
	}
	metrics.FilesCompacted.Add(float64(len(res.Removed)))
	c.logger.Info().Str("table", tbl.Identifier().String()).Int("removed", len(res.Removed)).
		Int("added", len(res.Added)).Msg("compaction committed")
	return next, res, nil
}

// rewrite merges the live rows of a bin into one file and checks that the
// file reads back the same rows. It returns a nil file when the bin has no
// live rows.
func (c *Compactor) rewrite(ctx context.Context, tbl *table.Table, b Bin) (*manifest.DataFile, error) {
	sch := tbl.Schema()
	first := b.Tasks[0]
	var rows []types.Row
	for _, task := range b.Tasks {
		for row, err := range c.reader.Rows(ctx, task, sch) {
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		// Every row was deleted; the inputs are dropped without a
		// replacement.
		return nil, nil
	}

	dir := ""
	if len(first.Spec.Fields) > 0 {
		dir = first.Spec.Path(first.File.Partition)
	}
	path := snapshot.DataFilePath(tbl.Metadata().Location, dir, "parquet")
	df, err := datafile.WriteData(ctx, c.store, path, sch, first.Spec, first.File.Partition, rows,
		datafile.OptionsFromProperties(tbl.Metadata().Properties))
	if err != nil {
		return nil, err
	}

	out := planner.FileScanTask{File: df, Spec: first.Spec, Residual: expr.AlwaysTrue}
	var written []types.Row
	for row, err := range c.reader.Rows(ctx, out, sch) {
		if err != nil {
			return nil, err
		}
		written = append(written, row)
	}
	if err := validateRewrite(sch, rows, written); err != nil {
		return nil, fmt.Errorf("compaction: %s: %w", path, err)
	}
	return df, nil
}

// validateRewrite compares row counts and an order independent checksum
// of the rows before and after a rewrite.
func validateRewrite(sch *schema.Schema, before, after []types.Row) error {
	if len(before) != len(after) {
		return fmt.Errorf("row count mismatch: expected %d, got %d", len(before), len(after))
	}
	want, got := rowsChecksum(sch, before), rowsChecksum(sch, after)
	if !bytes.Equal(want, got) {
		return fmt.Errorf("checksum mismatch: expected %x, got %x", want, got)
	}
	return nil
}

// rowsChecksum hashes every row field by field in schema order, then
// hashes the sorted row digests.
func rowsChecksum(sch *schema.Schema, rows []types.Row) []byte {
	digests := make([][]byte, len(rows))
	for i, r := range rows {
		h := sha256.New()
		for _, f := range sch.Fields {
			lit, err := types.Coerce(f.Type, r[f.Name])
			if err != nil || lit.IsNull() {
				h.Write([]byte{0})
				continue
			}
			h.Write([]byte{1})
			v := types.ToBytes(lit)
			h.Write([]byte(strconv.Itoa(len(v))))
			h.Write(v)
		}
		digests[i] = h.Sum(nil)
	}
	sort.Slice(digests, func(i, j int) bool { return bytes.Compare(digests[i], digests[j]) < 0 })
	h := sha256.New()
	for _, d := range digests {
		h.Write(d)
	}
	return h.Sum(nil)
}
