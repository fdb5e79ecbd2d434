package expr

import (
	"math"
	"testing"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *schema.Schema {
	return schema.New(1,
		schema.Field{ID: 1, Name: "id", Required: true, Type: types.Long},
		schema.Field{ID: 2, Name: "level", Type: types.String},
		schema.Field{ID: 3, Name: "ts", Type: types.Timestamp},
		schema.Field{ID: 4, Name: "score", Type: types.Double},
		schema.Field{ID: 5, Name: "day", Type: types.Date},
	)
}

func bind(t *testing.T, e Expression) Expression {
	t.Helper()
	out, err := BindAndRewrite(testSchema(), e, true)
	require.NoError(t, err)
	return out
}

func TestBind(t *testing.T) {
	sch := testSchema()

	_, err := Bind(sch, Equal("missing", 1), true)
	require.Error(t, err)
	assert.Equal(t, strataerrors.CodeInvalidArgument, strataerrors.GetCode(err))

	e, err := Bind(sch, IsNull("id"), true)
	require.NoError(t, err)
	assert.Equal(t, AlwaysFalse, e)

	e, err = Bind(sch, NotNull("id"), true)
	require.NoError(t, err)
	assert.Equal(t, AlwaysTrue, e)

	e, err = Bind(sch, In("id", 3, 3), true)
	require.NoError(t, err)
	p := e.(*BoundPredicate)
	assert.Equal(t, OpEq, p.Op())
	assert.True(t, p.Literal().Equal(types.LongLiteral(3)))

	e, err = Bind(sch, Equal("DAY", "1970-01-03"), false)
	require.NoError(t, err)
	assert.True(t, e.(*BoundPredicate).Literal().Equal(types.DateLiteral(2)))

	_, err = Bind(sch, Equal("DAY", "1970-01-03"), true)
	require.Error(t, err)

	_, err = Bind(sch, StartsWith("id", "1"), true)
	require.Error(t, err)

	_, err = Bind(sch, Equal("id", "not-a-number"), true)
	require.Error(t, err)

	e, err = Bind(sch, In("level"), true)
	require.NoError(t, err)
	assert.Equal(t, AlwaysFalse, e)
}

func TestRewriteNot(t *testing.T) {
	e := bind(t, NewNot(NewAnd(LessThan("id", 5), Equal("level", "warn"))))
	or, ok := e.(OrExpr)
	require.True(t, ok, "got %s", e)
	assert.Equal(t, OpGTEq, or.Left.Op())
	assert.Equal(t, OpNotEq, or.Right.Op())

	assert.Equal(t, OpLT, bind(t, NewNot(NewNot(LessThan("id", 5)))).Op())
}

func TestEvaluator(t *testing.T) {
	tests := []struct {
		name string
		expr Expression
		row  types.Row
		want bool
	}{
		{"eq match", Equal("level", "warn"), types.Row{"level": "warn"}, true},
		{"eq null", Equal("level", "warn"), types.Row{}, false},
		{"not eq null", NotEqual("level", "warn"), types.Row{"level": nil}, false},
		{"not eq other", NotEqual("level", "warn"), types.Row{"level": "info"}, true},
		{"negated lt on null", NewNot(LessThan("score", 1.5)), types.Row{}, false},
		{"is null", IsNull("level"), types.Row{}, true},
		{"in", In("id", 1, 2, 3), types.Row{"id": int64(2)}, true},
		{"not in", NotIn("id", 1, 2, 3), types.Row{"id": int64(4)}, true},
		{"starts with", StartsWith("level", "wa"), types.Row{"level": "warn"}, true},
		{"not starts with", NotStartsWith("level", "wa"), types.Row{"level": "info"}, true},
		{"nan compare", GreaterThan("score", 0.0), types.Row{"score": nanValue()}, false},
		{"nan not eq", NotEqual("score", 0.0), types.Row{"score": nanValue()}, true},
		{"is nan", IsNaN("score"), types.Row{"score": nanValue()}, true},
		{"or", NewOr(Equal("id", 1), Equal("id", 2)), types.Row{"id": int64(2)}, true},
		{"and", NewAnd(Equal("id", 1), Equal("level", "a")), types.Row{"id": int64(1), "level": "b"}, false},
		{"timestamp string", GreaterThanEqual("ts", "2026-01-01T00:00:00Z"), types.Row{"ts": int64(1798761600000000)}, true},
		{"int widened", Equal("id", 7), types.Row{"id": int32(7)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewEvaluator(bind(t, tt.expr)).Eval(tt.row))
		})
	}
}

func dayTsSpec() *partition.Spec {
	return &partition.Spec{SpecID: 1, Fields: []partition.Field{
		{SourceID: 3, FieldID: 1000, Name: "ts_day", Transform: partition.Transform{Kind: partition.Day}},
		{SourceID: 1, FieldID: 1001, Name: "id_bucket", Transform: partition.Transform{Kind: partition.Bucket, Param: 8}},
		{SourceID: 2, FieldID: 1002, Name: "level", Transform: partition.Transform{Kind: partition.Identity}},
	}}
}

const microsPerDay = int64(86400) * 1_000_000

func TestProject(t *testing.T) {
	spec := dayTsSpec()

	// ts < start of day 10 excludes day 10 itself.
	e := Project(spec, bind(t, LessThan("ts", 10*microsPerDay)))
	p := e.(*BoundPredicate)
	assert.Equal(t, OpLTEq, p.Op())
	assert.Equal(t, "ts_day", p.Field.Name)
	assert.True(t, p.Literal().Equal(types.DateLiteral(9)))

	e = Project(spec, bind(t, GreaterThan("ts", 10*microsPerDay)))
	p = e.(*BoundPredicate)
	assert.Equal(t, OpGTEq, p.Op())
	assert.True(t, p.Literal().Equal(types.DateLiteral(10)))

	e = Project(spec, bind(t, Equal("id", 34)))
	p = e.(*BoundPredicate)
	assert.Equal(t, OpEq, p.Op())
	assert.Equal(t, types.Int, p.Field.Type)

	assert.Equal(t, AlwaysTrue, Project(spec, bind(t, LessThan("id", 34))))
	assert.Equal(t, AlwaysTrue, Project(spec, bind(t, NotEqual("id", 34))))
	assert.Equal(t, AlwaysTrue, Project(spec, bind(t, Equal("score", 1.0))))

	e = Project(spec, bind(t, NotEqual("level", "warn")))
	assert.Equal(t, OpNotEq, e.Op())

	e = Project(spec, bind(t, NewOr(Equal("level", "a"), LessThan("id", 3))))
	assert.Equal(t, AlwaysTrue, e)
}

func TestProjectTruncateStartsWith(t *testing.T) {
	spec := &partition.Spec{Fields: []partition.Field{
		{SourceID: 2, FieldID: 1000, Name: "level_trunc", Transform: partition.Transform{Kind: partition.Truncate, Param: 2}},
	}}
	e := Project(spec, bind(t, StartsWith("level", "w")))
	assert.Equal(t, OpStartsWith, e.Op())

	e = Project(spec, bind(t, StartsWith("level", "warn")))
	p := e.(*BoundPredicate)
	assert.Equal(t, OpEq, p.Op())
	assert.True(t, p.Literal().Equal(types.StringLiteral("wa")))
}

func summary(typ types.Type, lower, upper types.Literal, containsNull bool) manifest.FieldSummary {
	s := manifest.FieldSummary{ContainsNull: containsNull}
	if !lower.IsNull() {
		s.LowerBound = types.ToBytes(lower)
		s.UpperBound = types.ToBytes(upper)
	}
	if typ.IsFloating() {
		f := false
		s.ContainsNaN = &f
	}
	return s
}

func TestManifestEvaluator(t *testing.T) {
	spec := dayTsSpec()
	mf := manifest.ManifestFile{Partitions: []manifest.FieldSummary{
		summary(types.Date, types.DateLiteral(10), types.DateLiteral(12), false),
		summary(types.Int, types.IntLiteral(0), types.IntLiteral(7), false),
		summary(types.String, types.StringLiteral("info"), types.StringLiteral("warn"), true),
	}}

	tests := []struct {
		name string
		expr Expression
		want bool
	}{
		{"before range", LessThan("ts", 10*microsPerDay), false},
		{"inside range", LessThan("ts", 10*microsPerDay+1), true},
		{"after range", GreaterThanEqual("ts", 13*microsPerDay), false},
		{"level eq in range", Equal("level", "ok"), true},
		{"level eq outside", Equal("level", "zzz"), false},
		{"level in outside", In("level", "aaa", "zzz"), false},
		{"level is null", IsNull("level"), true},
		{"level starts with", StartsWith("level", "x"), false},
		{"unpartitioned column", Equal("score", 1.0), true},
		{"or rescues", NewOr(Equal("level", "zzz"), GreaterThan("ts", 11*microsPerDay)), true},
		{"and prunes", NewAnd(Equal("level", "warn"), LessThan("ts", 0)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := NewManifestEvaluator(spec, bind(t, tt.expr))
			assert.Equal(t, tt.want, ev.Eval(mf))
		})
	}

	allNull := manifest.ManifestFile{Partitions: []manifest.FieldSummary{
		{}, {}, {ContainsNull: true},
	}}
	assert.False(t, NewManifestEvaluator(spec, bind(t, NotNull("level"))).Eval(allNull))
	assert.False(t, NewManifestEvaluator(spec, bind(t, NotEqual("level", "x"))).Eval(allNull))
	assert.True(t, NewManifestEvaluator(spec, bind(t, IsNull("level"))).Eval(allNull))
}

func longBounds(lo, hi int64) (map[int][]byte, map[int][]byte) {
	return map[int][]byte{1: types.ToBytes(types.LongLiteral(lo))},
		map[int][]byte{1: types.ToBytes(types.LongLiteral(hi))}
}

func TestMetricsEvaluator(t *testing.T) {
	lower, upper := longBounds(10, 20)
	f := &manifest.DataFile{
		RecordCount:     10,
		ValueCounts:     map[int]int64{1: 10, 2: 10},
		NullValueCounts: map[int]int64{1: 0, 2: 10},
		LowerBounds:     lower,
		UpperBounds:     upper,
	}

	tests := []struct {
		name string
		expr Expression
		want bool
	}{
		{"lt below lower", LessThan("id", 10), false},
		{"lte lower", LessThanEqual("id", 10), true},
		{"gt upper", GreaterThan("id", 20), false},
		{"eq inside", Equal("id", 15), true},
		{"eq outside", Equal("id", 21), false},
		{"in outside", In("id", 1, 2, 30), false},
		{"in one inside", In("id", 1, 15), true},
		{"all null column eq", Equal("level", "x"), false},
		{"all null column is null", IsNull("level"), true},
		{"all null column not null", NotNull("level"), false},
		{"all null column not eq", NotEqual("level", "x"), false},
		{"no stats column", Equal("score", 1.0), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewMetricsEvaluator(bind(t, tt.expr)).Eval(f))
		})
	}

	empty := &manifest.DataFile{RecordCount: 0}
	assert.False(t, NewMetricsEvaluator(AlwaysTrue).Eval(empty))

	single := &manifest.DataFile{RecordCount: 3, ValueCounts: map[int]int64{1: 3}, NullValueCounts: map[int]int64{1: 0}}
	single.LowerBounds, single.UpperBounds = longBounds(5, 5)
	assert.False(t, NewMetricsEvaluator(bind(t, NotEqual("id", 5))).Eval(single))
	assert.False(t, NewMetricsEvaluator(bind(t, NotIn("id", 4, 5))).Eval(single))
	assert.True(t, NewMetricsEvaluator(bind(t, NotEqual("id", 6))).Eval(single))
}

func TestMetricsEvaluatorBloom(t *testing.T) {
	bf := bloomOf(types.StringLiteral("a"), types.StringLiteral("c"))
	f := &manifest.DataFile{
		RecordCount:  2,
		LowerBounds:  map[int][]byte{2: []byte("a")},
		UpperBounds:  map[int][]byte{2: []byte("c")},
		BloomFilters: map[int][]byte{2: bf},
	}
	assert.True(t, NewMetricsEvaluator(bind(t, Equal("level", "a"))).Eval(f))
	assert.True(t, NewMetricsEvaluator(bind(t, In("level", "b", "c"))).Eval(f))
	assert.False(t, NewMetricsEvaluator(bind(t, Equal("level", "b"))).Eval(f))

	f.BloomFilters[2] = []byte("garbage")
	assert.True(t, NewMetricsEvaluator(bind(t, Equal("level", "b"))).Eval(f))

	negZero := types.DoubleLiteral(math.Copysign(0, -1))
	zeros := &manifest.DataFile{
		RecordCount:     1,
		ValueCounts:     map[int]int64{4: 1},
		NullValueCounts: map[int]int64{4: 0},
		NaNValueCounts:  map[int]int64{4: 0},
		LowerBounds:     map[int][]byte{4: types.ToBytes(negZero)},
		UpperBounds:     map[int][]byte{4: types.ToBytes(negZero)},
		BloomFilters:    map[int][]byte{4: bloomOf(negZero)},
	}
	eqZero := bind(t, Equal("score", 0.0))
	require.True(t, NewEvaluator(eqZero).Eval(types.Row{"score": math.Copysign(0, -1)}))
	assert.True(t, NewMetricsEvaluator(eqZero).Eval(zeros))
	assert.True(t, NewMetricsEvaluator(bind(t, In("score", 0.0, 3.0))).Eval(zeros))
	assert.False(t, NewMetricsEvaluator(bind(t, Equal("score", 1.0))).Eval(zeros))
}

func TestManifestEvaluator_TruncateAtMinimum(t *testing.T) {
	sch := schema.New(1, schema.Field{ID: 1, Name: "i", Type: types.Int})
	spec := &partition.Spec{SpecID: 1, Fields: []partition.Field{
		{SourceID: 1, FieldID: 1000, Name: "i_trunc", Transform: partition.Transform{Kind: partition.Truncate, Param: 10}},
	}}
	part, err := spec.Fields[0].Transform.Apply(types.IntLiteral(math.MinInt32))
	require.NoError(t, err)
	mf := manifest.ManifestFile{Partitions: []manifest.FieldSummary{
		{LowerBound: types.ToBytes(part), UpperBound: types.ToBytes(part)},
	}}

	for _, e := range []Expression{LessThan("i", 0), LessThanEqual("i", math.MinInt32), Equal("i", math.MinInt32)} {
		filter, err := BindAndRewrite(sch, e, true)
		require.NoError(t, err)
		require.True(t, NewEvaluator(filter).Eval(types.Row{"i": int32(math.MinInt32)}), "%s", filter)
		assert.True(t, NewManifestEvaluator(spec, filter).Eval(mf), "%s pruned the partition of %d", filter, math.MinInt32)
	}
}

func TestStrictMetricsEvaluator(t *testing.T) {
	lower, upper := longBounds(10, 20)
	f := &manifest.DataFile{
		RecordCount:     10,
		ValueCounts:     map[int]int64{1: 10, 2: 10},
		NullValueCounts: map[int]int64{1: 0, 2: 3},
		LowerBounds:     lower,
		UpperBounds:     upper,
	}
	tests := []struct {
		name string
		expr Expression
		want bool
	}{
		{"lt above upper", LessThan("id", 21), true},
		{"lt upper", LessThan("id", 20), false},
		{"gte lower", GreaterThanEqual("id", 10), true},
		{"not eq outside", NotEqual("id", 9), true},
		{"not eq inside", NotEqual("id", 15), false},
		{"not in outside", NotIn("id", 1, 30), true},
		{"not null", NotNull("id"), true},
		{"column with nulls", NotEqual("level", "x"), false},
		{"and", NewAnd(GreaterThan("id", 0), LessThan("id", 100)), true},
		{"or", NewOr(Equal("id", 1), LessThan("id", 100)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewStrictMetricsEvaluator(bind(t, tt.expr)).Eval(f))
		})
	}
}

func TestResidualEvaluator(t *testing.T) {
	spec := dayTsSpec()
	filter := bind(t, NewAnd(Equal("level", "warn"), GreaterThanEqual("ts", 10*microsPerDay+5)))
	ev := NewResidualEvaluator(spec, filter)

	tuple := partition.Tuple{types.DateLiteral(10), types.IntLiteral(3), types.StringLiteral("warn")}
	res := ev.ResidualFor(tuple)
	p, ok := res.(*BoundPredicate)
	require.True(t, ok, "got %s", res)
	assert.Equal(t, "ts", p.Field.Name)

	tuple[2] = types.StringLiteral("info")
	assert.Equal(t, AlwaysFalse, ev.ResidualFor(tuple))

	tuple[2] = types.StringLiteral("warn")
	tuple[0] = types.DateLiteral(9)
	assert.Equal(t, AlwaysFalse, ev.ResidualFor(tuple))

	f := &manifest.DataFile{
		Partition:       partition.Tuple{types.DateLiteral(11), types.IntLiteral(3), types.StringLiteral("warn")},
		RecordCount:     4,
		ValueCounts:     map[int]int64{3: 4},
		NullValueCounts: map[int]int64{3: 0},
		LowerBounds:     map[int][]byte{3: types.ToBytes(types.TimestampLiteral(11 * microsPerDay))},
		UpperBounds:     map[int][]byte{3: types.ToBytes(types.TimestampLiteral(11*microsPerDay + 100))},
	}
	assert.Equal(t, AlwaysTrue, ev.ResidualForFile(f))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "true"},
		{"id = 5", `id = 5`},
		{"level != 'it''s'", `level != "it's"`},
		{"id > -3 AND score <= 1.5", `(id > -3 and score <= 1.5)`},
		{"level IS NOT NULL", `not_null(level)`},
		{"score is nan", `is_nan(score)`},
		{"id IN (1, 2)", `id in (1, 2)`},
		{"id NOT IN (1)", `not(id in (1))`},
		{"level LIKE 'wa%'", `level starts_with "wa"`},
		{"id BETWEEN 1 AND 3 OR NOT (level = 'x')", `((id >= 1 and id <= 3) or not(level = "x"))`},
		{`"my col" < 2`, `my col < 2`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			e, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, e.String())
		})
	}

	for _, bad := range []string{"id =", "id = 'x", "(id = 1", "id LIKE '%x'", "id ~ 3", "id = 1 level"} {
		_, err := Parse(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseThenBind(t *testing.T) {
	e, err := Parse("level = 'warn' AND ts >= '2026-01-01T00:00:00Z' AND day < '2026-02-01'")
	require.NoError(t, err)
	bound := bind(t, e)
	ev := NewEvaluator(bound)
	assert.True(t, ev.Eval(types.Row{"level": "warn", "ts": int64(1798761600000000), "day": int32(20000)}))
	assert.False(t, ev.Eval(types.Row{"level": "warn", "ts": int64(0), "day": int32(20000)}))
}
