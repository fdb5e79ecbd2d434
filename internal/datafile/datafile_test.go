package datafile

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/expr"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/metadata"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/planner"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/internal/storage"
	"github.com/arkilian/strata/pkg/types"
)

var testSchema = schema.New(0,
	schema.Field{ID: 1, Name: "id", Required: true, Type: types.Int},
	schema.Field{ID: 2, Name: "level", Type: types.String},
	schema.Field{ID: 3, Name: "latency", Type: types.Double},
)

func testRows() []types.Row {
	return []types.Row{
		{"id": 1, "level": "info", "latency": 1.5},
		{"id": 2, "level": "warn", "latency": math.NaN()},
		{"id": 3, "level": nil, "latency": 0.25},
		{"id": 4, "level": "info", "latency": nil},
	}
}

func readAll(t *testing.T, r *Reader, task planner.FileScanTask, sch, projection *schema.Schema) []types.Row {
	t.Helper()
	var out []types.Row
	for row, err := range r.Read(context.Background(), task, sch, projection) {
		require.NoError(t, err)
		out = append(out, row)
	}
	return out
}

func ids(rows []types.Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		v, _ := types.Coerce(types.Long, r["id"])
		out[i], _ = v.Int64()
	}
	return out
}

func TestWriteData_Stats(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	spec := partition.Unpartitioned()

	df, err := WriteData(ctx, store, "t/data/a.parquet", testSchema, spec, partition.Tuple{}, testRows(),
		WriteOptions{BloomColumns: []string{"level", "unknown"}})
	require.NoError(t, err)

	assert.Equal(t, manifest.ContentData, df.Content)
	assert.Equal(t, manifest.FormatParquet, df.Format)
	assert.Equal(t, int64(4), df.RecordCount)
	assert.Greater(t, df.FileSizeBytes, int64(0))
	assert.Equal(t, map[int]int64{1: 4, 2: 4, 3: 4}, df.ValueCounts)
	assert.Equal(t, map[int]int64{1: 0, 2: 1, 3: 1}, df.NullValueCounts)
	assert.Equal(t, map[int]int64{3: 1}, df.NaNValueCounts)
	assert.Equal(t, types.ToBytes(types.IntLiteral(1)), df.LowerBounds[1])
	assert.Equal(t, types.ToBytes(types.IntLiteral(4)), df.UpperBounds[1])
	assert.Equal(t, []byte("info"), df.LowerBounds[2])
	assert.Equal(t, []byte("warn"), df.UpperBounds[2])
	assert.Equal(t, types.ToBytes(types.DoubleLiteral(0.25)), df.LowerBounds[3])
	assert.Equal(t, types.ToBytes(types.DoubleLiteral(1.5)), df.UpperBounds[3])
	for id := 1; id <= 3; id++ {
		assert.Greater(t, df.ColumnSizes[id], int64(0), "column %d", id)
	}

	bf, ok, err := df.BloomFilter(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, bf.ContainsLiteral(types.StringLiteral("warn")))
	_, ok, _ = df.BloomFilter(1)
	assert.False(t, ok)

	exists, err := store.Exists(ctx, df.Path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestWrite_Validation(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	spec := partition.Unpartitioned()

	_, err := WriteData(ctx, store, "a.parquet", testSchema, spec, partition.Tuple{}, nil, WriteOptions{})
	assert.Equal(t, strataerrors.CodeInvalidArgument, strataerrors.GetCode(err))

	_, err = WriteData(ctx, store, "b.parquet", testSchema, spec, partition.Tuple{}, []types.Row{{"level": "x"}}, WriteOptions{})
	assert.Equal(t, strataerrors.CodeInvalidArgument, strataerrors.GetCode(err), "required id is missing")

	_, err = WriteData(ctx, store, "c.parquet", testSchema, spec, partition.Tuple{}, testRows(), WriteOptions{Compression: "lzma"})
	assert.Equal(t, strataerrors.CodeInvalidArgument, strataerrors.GetCode(err))

	_, err = WriteEqualityDeletes(ctx, store, "d.parquet", testSchema, spec, partition.Tuple{}, nil, testRows(), WriteOptions{})
	assert.Equal(t, strataerrors.CodeInvalidArgument, strataerrors.GetCode(err))
}

func TestRead_RoundTripAndResidual(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	df, err := WriteData(ctx, store, "t/data/a.parquet", testSchema, partition.Unpartitioned(), partition.Tuple{}, testRows(),
		WriteOptions{Compression: "zstd"})
	require.NoError(t, err)

	r := NewReader(store)
	rows := readAll(t, r, planner.FileScanTask{File: df, Residual: expr.AlwaysTrue}, testSchema, nil)
	require.Len(t, rows, 4)
	assert.Equal(t, types.Row{"id": int32(1), "level": "info", "latency": 1.5}, rows[0])
	assert.Nil(t, rows[2]["level"])
	assert.True(t, math.IsNaN(rows[1]["latency"].(float64)))

	residual, err := expr.BindAndRewrite(testSchema, expr.Equal("level", "info"), true)
	require.NoError(t, err)
	projection, err := testSchema.Select(true, "id")
	require.NoError(t, err)
	rows = readAll(t, r, planner.FileScanTask{File: df, Residual: residual}, testSchema, projection)
	assert.Equal(t, []types.Row{{"id": int32(1)}, {"id": int32(4)}}, rows)
}

func TestRead_SchemaEvolution(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	df, err := WriteData(ctx, store, "t/data/a.parquet", testSchema, partition.Unpartitioned(), partition.Tuple{}, testRows(), WriteOptions{})
	require.NoError(t, err)

	// id widened to long, level renamed, latency dropped, host added.
	evolved := schema.New(1,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "severity", Type: types.String},
		schema.Field{ID: 4, Name: "host", Type: types.String},
	)
	rows := readAll(t, NewReader(store), planner.FileScanTask{File: df, Residual: expr.AlwaysTrue}, evolved, nil)
	require.Len(t, rows, 4)
	assert.Equal(t, types.Row{"id": int64(2), "severity": "warn", "host": nil}, rows[1])
}

func TestRead_AppliesDeletes(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	spec := partition.Unpartitioned()
	df, err := WriteData(ctx, store, "t/data/a.parquet", testSchema, spec, partition.Tuple{}, testRows(), WriteOptions{})
	require.NoError(t, err)

	pos, err := WritePositionDeletes(ctx, store, "t/data/pos.parquet", spec, partition.Tuple{}, []PositionDelete{
		{Path: df.Path, Pos: 0},
		{Path: "t/data/other.parquet", Pos: 2},
	}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, manifest.ContentPositionDeletes, pos.Content)

	// The delete file was written while id was still an int; the reader
	// compares it against the widened column.
	eq, err := WriteEqualityDeletes(ctx, store, "t/data/eq.parquet", testSchema, spec, partition.Tuple{}, []int{1},
		[]types.Row{{"id": 3}}, WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, eq.EqualityIDs)
	assert.Equal(t, manifest.ContentEqualityDeletes, eq.Content)

	widened := schema.New(1,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "level", Type: types.String},
	)
	r := NewReader(store)
	task := planner.FileScanTask{File: df, Residual: expr.AlwaysTrue, Deletes: []*manifest.DataFile{pos, eq}}
	assert.Equal(t, []int64{2, 4}, ids(readAll(t, r, task, widened, nil)))

	var live []types.Row
	for row, err := range r.Rows(ctx, task, widened) {
		require.NoError(t, err)
		live = append(live, row)
	}
	assert.Len(t, live, 2)
}

func TestRead_UnsupportedFormat(t *testing.T) {
	r := NewReader(storage.NewMemoryStorage())
	df := &manifest.DataFile{Path: "x.orc", Format: manifest.FormatORC}
	for _, err := range r.Read(context.Background(), planner.FileScanTask{File: df, Residual: expr.AlwaysTrue}, testSchema, nil) {
		assert.Equal(t, strataerrors.CodeInvalidArgument, strataerrors.GetCode(err))
	}
}

func TestSplit(t *testing.T) {
	spec := &partition.Spec{SpecID: 0, Fields: []partition.Field{
		{SourceID: 2, FieldID: 1000, Name: "level", Transform: partition.Transform{Kind: partition.Identity}},
	}}
	groups, err := Split(testSchema, spec, testRows())
	require.NoError(t, err)
	require.Len(t, groups, 3)

	byLevel := map[string]int{}
	for _, g := range groups {
		byLevel[spec.Path(g.Partition)] = len(g.Rows)
	}
	assert.Equal(t, map[string]int{"level=info": 2, "level=warn": 1, "level=null": 1}, byLevel)

	bad := &partition.Spec{Fields: []partition.Field{{SourceID: 9, Name: "x", Transform: partition.Transform{Kind: partition.Identity}}}}
	_, err = Split(testSchema, bad, testRows())
	assert.Error(t, err)
}

func TestOptionsFromProperties(t *testing.T) {
	opts := OptionsFromProperties(map[string]string{
		metadata.PropBloomFilterColumns: "level, host,",
		PropCompressionCodec:            "gzip",
	})
	assert.Equal(t, []string{"level", "host"}, opts.BloomColumns)
	assert.Equal(t, "gzip", opts.Compression)
}

func TestPositions(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	spec := partition.Unpartitioned()
	df, err := WriteData(ctx, store, "t/data/a.parquet", testSchema, spec, partition.Tuple{}, testRows(), WriteOptions{})
	require.NoError(t, err)
	pos, err := WritePositionDeletes(ctx, store, "t/data/pos.parquet", spec, partition.Tuple{}, []PositionDelete{{Path: df.Path, Pos: 0}}, WriteOptions{})
	require.NoError(t, err)

	filter, err := expr.BindAndRewrite(testSchema, expr.Equal("level", "info"), true)
	require.NoError(t, err)
	var got []int64
	task := planner.FileScanTask{File: df, Residual: expr.AlwaysTrue, Deletes: []*manifest.DataFile{pos}}
	for p, err := range NewReader(store).Positions(ctx, task, testSchema, filter) {
		require.NoError(t, err)
		got = append(got, p)
	}
	assert.Equal(t, []int64{3}, got, "row 0 is already deleted")
}
