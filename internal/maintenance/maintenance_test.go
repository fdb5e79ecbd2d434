package maintenance

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkilian/strata/internal/catalog"
	"github.com/arkilian/strata/internal/commit"
	"github.com/arkilian/strata/internal/config"
	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/observability"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/snapshot"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/internal/table"
	"github.com/arkilian/strata/pkg/types"
)

var eventsID = catalog.Identifier{Namespace: "db", Name: "events"}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type env struct {
	store  *storage.MemoryStorage
	tables *table.Tables
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := storage.NewMemoryStorage()
	c := commit.New(catalog.NewObjectCatalog(store, ""), store, commit.Config{MaxRetries: 10},
		commit.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return &env{store: store, tables: table.New(c, "warehouse")}
}

func (e *env) createEvents(t *testing.T) *table.Table {
	t.Helper()
	sch := schema.New(0,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "level", Type: types.String},
	)
	spec := &partition.Spec{Fields: []partition.Field{
		{SourceID: 2, Name: "level", Transform: partition.Transform{Kind: partition.Identity}},
	}}
	tbl, err := e.tables.Create(context.Background(), eventsID, sch, spec, nil)
	require.NoError(t, err)
	return tbl
}

func (e *env) exists(t *testing.T, key string) bool {
	t.Helper()
	ok, err := e.store.Exists(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func row(id int64, level string) types.Row {
	return types.Row{"id": id, "level": level}
}

func dataFiles(t *testing.T, tbl *table.Table) []string {
	t.Helper()
	scan, err := tbl.NewScan(planner.Options{})
	require.NoError(t, err)
	var out []string
	for task, err := range scan.PlanFiles(context.Background(), nil) {
		require.NoError(t, err)
		out = append(out, task.File.Path)
	}
	sort.Strings(out)
	return out
}

func manifestsOf(t *testing.T, store storage.ObjectStore, snap *metadata.Snapshot) []string {
	t.Helper()
	list, err := manifest.ReadList(context.Background(), store, snap.ManifestList)
	require.NoError(t, err)
	out := make([]string, len(list))
	for i, mf := range list {
		out[i] = mf.Path
	}
	return out
}

func ids(t *testing.T, tbl *table.Table) []int64 {
	t.Helper()
	rows, err := tbl.ReadAll(context.Background(), planner.Options{})
	require.NoError(t, err)
	out := make([]int64, 0, len(rows))
	for _, r := range rows {
		v, err := types.Coerce(types.Long, r["id"])
		require.NoError(t, err)
		id, _ := v.Int64()
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func TestCleanup_RemovesOnlyUnreachableFiles(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tbl := e.createEvents(t)

	tbl, err := tbl.Append(ctx, []types.Row{row(1, "info")})
	require.NoError(t, err)
	first := tbl.CurrentSnapshot().ManifestList
	infoFile := dataFiles(t, tbl)[0]

	tbl, err = tbl.Append(ctx, []types.Row{row(2, "warn")})
	require.NoError(t, err)
	second := tbl.CurrentSnapshot().ManifestList

	tbl, err = tbl.Delete(ctx, expr.Equal("level", "info"))
	require.NoError(t, err)
	warnFile := dataFiles(t, tbl)
	require.Len(t, warnFile, 1)
	assert.NotEqual(t, infoFile, warnFile[0])

	tbl, exp, err := tbl.ExpireSnapshots(ctx, table.ExpireOptions{
		OlderThan:  time.Now().Add(time.Hour),
		RetainLast: 1,
	})
	require.NoError(t, err)
	require.Len(t, exp.Expired, 2)
	// Expiry alone deletes nothing.
	assert.True(t, e.exists(t, infoFile))

	res, err := NewCleaner(e.store, 4, zerolog.Nop()).Cleanup(ctx, exp.Before, exp.After)
	require.NoError(t, err)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{infoFile}, res.DataFiles)
	assert.ElementsMatch(t, []string{first, second}, res.ManifestLists)

	assert.False(t, e.exists(t, infoFile))
	assert.True(t, e.exists(t, warnFile[0]))
	assert.False(t, e.exists(t, first))
	assert.True(t, e.exists(t, tbl.CurrentSnapshot().ManifestList))
	for _, m := range manifestsOf(t, e.store, tbl.CurrentSnapshot()) {
		assert.True(t, e.exists(t, m), m)
	}
	assert.Equal(t, []int64{2}, ids(t, tbl))

	// Nothing expired: nothing to clean.
	again, err := NewCleaner(e.store, 4, zerolog.Nop()).Cleanup(ctx, exp.After, exp.After)
	require.NoError(t, err)
	assert.Zero(t, again.Deleted())
}

func TestCleanup_KeepsFilesOfRetainedSnapshots(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tbl := e.createEvents(t)
	tbl, err := tbl.Append(ctx, []types.Row{row(1, "info")})
	require.NoError(t, err)
	tbl, err = tbl.Append(ctx, []types.Row{row(2, "info")})
	require.NoError(t, err)
	files := dataFiles(t, tbl)

	tbl, exp, err := tbl.ExpireSnapshots(ctx, table.ExpireOptions{OlderThan: time.Now().Add(time.Hour), RetainLast: 1})
	require.NoError(t, err)
	require.Len(t, exp.Expired, 1)

	res, err := NewCleaner(e.store, 2, zerolog.Nop()).Cleanup(ctx, exp.Before, exp.After)
	require.NoError(t, err)
	assert.Empty(t, res.DataFiles)
	for _, f := range files {
		assert.True(t, e.exists(t, f))
	}
	assert.Equal(t, []int64{1, 2}, ids(t, tbl))
}

func TestFindOrphans(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	e.store.SetClock(clk.Now)

	tbl := e.createEvents(t)
	tbl, err := tbl.Append(ctx, []types.Row{row(1, "info"), row(2, "warn")})
	require.NoError(t, err)

	stray := tbl.Metadata().Location + "/data/level=info/stray.parquet"
	require.NoError(t, e.store.Put(ctx, stray, []byte("junk")))
	clk.Advance(100 * time.Hour)
	fresh := tbl.Metadata().Location + "/data/level=info/fresh.parquet"
	require.NoError(t, e.store.Put(ctx, fresh, []byte("in flight")))

	c := NewCleaner(e.store, 2, zerolog.Nop())
	orphans, err := c.FindOrphans(ctx, tbl.Metadata(), tbl.MetadataLocation(), clk.Now().Add(-72*time.Hour))
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, stray, orphans[0].Path)
	assert.EqualValues(t, 4, orphans[0].Size)
	assert.Equal(t, strataerrors.CodeOrphanReference, strataerrors.GetCode(orphans[0].Err))

	deleted, errs := c.RemoveOrphans(ctx, orphans)
	assert.Empty(t, errs)
	assert.Equal(t, []string{stray}, deleted)
	assert.False(t, e.exists(t, stray))
	assert.True(t, e.exists(t, fresh))
	assert.Equal(t, []int64{1, 2}, ids(t, tbl))
}

func TestCompact_MergesSmallFilesPerPartition(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tbl := e.createEvents(t)
	var err error
	for i := range 3 {
		tbl, err = tbl.Append(ctx, []types.Row{row(int64(i), "info")})
		require.NoError(t, err)
	}
	tbl, err = tbl.Append(ctx, []types.Row{row(10, "warn")})
	require.NoError(t, err)
	require.Len(t, dataFiles(t, tbl), 4)

	comp := NewCompactor(e.store, nil, zerolog.Nop())
	opts := CompactOptions{MinInputFiles: 2}
	bins, err := comp.Plan(ctx, tbl, opts)
	require.NoError(t, err)
	require.Len(t, bins, 1)
	assert.Len(t, bins[0].Tasks, 3)

	next, res, err := comp.Compact(ctx, tbl, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Bins)
	assert.Len(t, res.Removed, 3)
	assert.Len(t, res.Added, 1)
	assert.Zero(t, res.Failed)

	snap := next.CurrentSnapshot()
	assert.Equal(t, metadata.OpReplace, snap.Summary.Operation)
	assert.EqualValues(t, 2, snap.Summary.Int(snapshot.TotalDataFiles))
	assert.Equal(t, []int64{0, 1, 2, 10}, ids(t, next))

	// Already compacted: nothing left to do.
	same, res, err := comp.Compact(ctx, next, opts)
	require.NoError(t, err)
	assert.Zero(t, res.Bins)
	assert.Same(t, next, same)
}

func TestCompact_RespectsTargetSize(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tbl := e.createEvents(t)
	var err error
	for i := range 3 {
		tbl, err = tbl.Append(ctx, []types.Row{row(int64(i), "info")})
		require.NoError(t, err)
	}
	bins, err := NewCompactor(e.store, nil, zerolog.Nop()).Plan(ctx, tbl, CompactOptions{
		TargetFileSizeBytes: 1,
		MinInputFiles:       2,
	})
	require.NoError(t, err)
	assert.Empty(t, bins)
}

func TestValidateRewrite(t *testing.T) {
	sch := schema.New(0,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "level", Type: types.String},
	)
	before := []types.Row{row(1, "a"), row(2, "b")}
	require.NoError(t, validateRewrite(sch, before, []types.Row{row(2, "b"), row(1, "a")}))
	require.Error(t, validateRewrite(sch, before, []types.Row{row(1, "a")}))
	require.Error(t, validateRewrite(sch, before, []types.Row{row(1, "a"), row(2, "c")}))
	require.Error(t, validateRewrite(sch, before, []types.Row{row(1, "a"), {"id": int64(2)}}))
}

func TestBloomAdvisor(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tbl := e.createEvents(t)

	stats := observability.NewPredicateStats(time.Hour)
	for range 5 {
		stats.RecordPredicate(eventsID.String(), "id", "=")
		stats.RecordPredicate(eventsID.String(), "level", ">")
	}
	adv := NewBloomAdvisor(stats, 5, 0, zerolog.Nop())
	assert.Equal(t, []string{"id"}, adv.Advise(tbl))

	next, changed, err := adv.Apply(ctx, tbl)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "id", next.Metadata().Property(metadata.PropBloomFilterColumns, ""))

	again, changed, err := adv.Apply(ctx, next)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Same(t, next, again)
}

func TestDaemon_RunOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	tbl := e.createEvents(t)
	var err error
	for i := range 3 {
		tbl, err = tbl.Append(ctx, []types.Row{row(int64(i), "info")})
		require.NoError(t, err)
	}

	d := NewDaemon(config.MaintenanceConfig{
		Namespaces:         []string{"db"},
		SnapshotMaxAge:     time.Minute,
		MinSnapshotsToKeep: 1,
		MinInputFiles:      2,
	}, e.tables, nil, zerolog.Nop())
	d.now = func() time.Time { return time.Now().Add(time.Hour) }

	reports := d.RunOnce(ctx)
	require.Len(t, reports, 1)
	rep := reports[0]
	require.NoError(t, rep.Err)
	assert.Equal(t, eventsID, rep.Table)
	assert.Equal(t, 2, rep.Expired)
	assert.Equal(t, 3, rep.FilesCompacted)
	assert.GreaterOrEqual(t, rep.FilesDeleted, 2)

	cur, err := e.tables.Load(ctx, eventsID)
	require.NoError(t, err)
	assert.Len(t, dataFiles(t, cur), 1)
	assert.Equal(t, []int64{0, 1, 2}, ids(t, cur))
}

func TestDaemon_StartStop(t *testing.T) {
	e := newEnv(t)
	d := NewDaemon(config.MaintenanceConfig{Interval: time.Hour}, e.tables, nil, zerolog.Nop())
	require.NoError(t, d.Start(context.Background()))
	require.Error(t, d.Start(context.Background()))
	d.Stop()
	d.Stop()
}
