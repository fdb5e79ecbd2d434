package expr

import (
	"math"
	"math/rand"
	"testing"

	"github.com/arkilian/strata/internal/bloom"
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func nanValue() float64 { return math.NaN() }

func bloomOf(lits ...types.Literal) []byte {
	bf := bloom.NewWithEstimates(100, 0.001)
	for _, l := range lits {
		bf.AddLiteral(l)
	}
	return bf.Encode()
}

// Generated values above nullMarker select an entry of extremes.
const nullMarker = 31

var extremes = []int64{math.MinInt64, math.MinInt64 + 1, math.MinInt64 + 2, math.MinInt64 + 4, math.MaxInt64 - 1, math.MaxInt64}

var propSchema = schema.New(1, schema.Field{ID: 1, Name: "x", Type: types.Long})

var propSpec = &partition.Spec{SpecID: 1, Fields: []partition.Field{
	{SourceID: 1, FieldID: 1000, Name: "x_trunc", Transform: partition.Transform{Kind: partition.Truncate, Param: 5}},
	{SourceID: 1, FieldID: 1001, Name: "x_bucket", Transform: partition.Transform{Kind: partition.Bucket, Param: 4}},
}}

// randomFilter builds a filter on column x from a seed.
func randomFilter(r *rand.Rand, depth int) Expression {
	if depth > 0 && r.Intn(3) == 0 {
		l, rt := randomFilter(r, depth-1), randomFilter(r, depth-1)
		switch r.Intn(3) {
		case 0:
			return NewAnd(l, rt)
		case 1:
			return NewOr(l, rt)
		default:
			return NewNot(l)
		}
	}
	v := func() any {
		if r.Intn(8) == 0 {
			return extremes[r.Intn(len(extremes))]
		}
		return int64(r.Intn(61) - 30)
	}
	switch r.Intn(11) {
	case 0:
		return LessThan("x", v())
	case 1:
		return LessThanEqual("x", v())
	case 2:
		return GreaterThan("x", v())
	case 3:
		return GreaterThanEqual("x", v())
	case 4:
		return Equal("x", v())
	case 5:
		return NotEqual("x", v())
	case 6:
		return In("x", v(), v(), v())
	case 7:
		return NotIn("x", v(), v())
	case 8:
		return IsNull("x")
	case 9:
		return NotNull("x")
	}
	return AlwaysTrue
}

func toRows(vals []int64) []types.Row {
	rows := make([]types.Row, len(vals))
	for i, v := range vals {
		switch {
		case v == nullMarker:
			rows[i] = types.Row{"x": nil}
		case v > nullMarker:
			rows[i] = types.Row{"x": extremes[v-nullMarker-1]}
		default:
			rows[i] = types.Row{"x": v}
		}
	}
	return rows
}

// fileFor builds a data file with exact statistics for rows that share a
// partition tuple.
func fileFor(rows []types.Row, tuple partition.Tuple) *manifest.DataFile {
	f := &manifest.DataFile{
		Partition:       tuple,
		RecordCount:     int64(len(rows)),
		ValueCounts:     map[int]int64{1: int64(len(rows))},
		NullValueCounts: map[int]int64{1: 0},
		LowerBounds:     map[int][]byte{},
		UpperBounds:     map[int][]byte{},
	}
	var lo, hi types.Literal
	var lits []types.Literal
	for _, row := range rows {
		if row["x"] == nil {
			f.NullValueCounts[1]++
			continue
		}
		l := types.LongLiteral(row["x"].(int64))
		lits = append(lits, l)
		if lo.IsNull() || types.Compare(l, lo) < 0 {
			lo = l
		}
		if hi.IsNull() || types.Compare(l, hi) > 0 {
			hi = l
		}
	}
	if !lo.IsNull() {
		f.LowerBounds[1] = types.ToBytes(lo)
		f.UpperBounds[1] = types.ToBytes(hi)
		f.BloomFilters = map[int][]byte{1: bloomOf(lits...)}
	}
	return f
}

// summaries builds manifest partition summaries for a set of tuples.
func summaries(tuples []partition.Tuple) []manifest.FieldSummary {
	out := make([]manifest.FieldSummary, len(propSpec.Fields))
	for i := range out {
		var lo, hi types.Literal
		for _, t := range tuples {
			v := t[i]
			if v.IsNull() {
				out[i].ContainsNull = true
				continue
			}
			if lo.IsNull() || types.Compare(v, lo) < 0 {
				lo = v
			}
			if hi.IsNull() || types.Compare(v, hi) > 0 {
				hi = v
			}
		}
		if !lo.IsNull() {
			out[i].LowerBound = types.ToBytes(lo)
			out[i].UpperBound = types.ToBytes(hi)
		}
	}
	return out
}

func TestProperty_PruningIsSound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	router, err := partition.NewRouter(propSpec, propSchema)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	properties.Property("no matching row is ever pruned and residuals are exact", prop.ForAll(
		func(vals []int64, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			filter, err := BindAndRewrite(propSchema, randomFilter(r, 3), true)
			if err != nil {
				t.Logf("bind: %v", err)
				return false
			}
			rows := toRows(vals)
			groups, err := router.RouteRows(rows)
			if err != nil {
				t.Logf("route: %v", err)
				return false
			}

			rowEval := NewEvaluator(filter)
			metrics := NewMetricsEvaluator(filter)
			residuals := NewResidualEvaluator(propSpec, filter)

			var tuples []partition.Tuple
			anyMatch := false
			for _, g := range groups {
				tuples = append(tuples, g.Partition)
				f := fileFor(g.Rows, g.Partition)
				residual := residuals.ResidualForFile(f)
				residualEval := NewEvaluator(residual)
				fileMatch := false
				for _, row := range g.Rows {
					want := rowEval.Eval(row)
					if residualEval.Eval(row) != want {
						t.Logf("residual %s disagrees with %s on %v", residual, filter, row)
						return false
					}
					fileMatch = fileMatch || want
				}
				if fileMatch && !metrics.Eval(f) {
					t.Logf("metrics pruned a matching file for %s", filter)
					return false
				}
				anyMatch = anyMatch || fileMatch
			}

			mf := manifest.ManifestFile{Partitions: summaries(tuples)}
			if anyMatch && !NewManifestEvaluator(propSpec, filter).Eval(mf) {
				t.Logf("manifest pruned for %s", filter)
				return false
			}
			return true
		},
		gen.SliceOf(gen.Int64Range(-30, nullMarker+int64(len(extremes)))),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

var floatSchema = schema.New(1, schema.Field{ID: 1, Name: "score", Type: types.Double})

// floatValues holds values that compare equal without being identical
// (signed zeros) and NaN, which compares equal to nothing.
var floatValues = []float64{math.Copysign(0, -1), 0, math.NaN(), 1.5, -1.5, 2, math.Inf(1)}

func randomFloatFilter(r *rand.Rand, depth int) Expression {
	if depth > 0 && r.Intn(3) == 0 {
		l, rt := randomFloatFilter(r, depth-1), randomFloatFilter(r, depth-1)
		switch r.Intn(3) {
		case 0:
			return NewAnd(l, rt)
		case 1:
			return NewOr(l, rt)
		default:
			return NewNot(l)
		}
	}
	v := func() any { return floatValues[r.Intn(len(floatValues))] }
	switch r.Intn(11) {
	case 0:
		return LessThan("score", v())
	case 1:
		return GreaterThanEqual("score", v())
	case 2:
		return Equal("score", v())
	case 3:
		return NotEqual("score", v())
	case 4:
		return In("score", v(), v())
	case 5:
		return NotIn("score", v())
	case 6:
		return IsNaN("score")
	case 7:
		return NotNaN("score")
	case 8:
		return IsNull("score")
	case 9:
		return LessThanEqual("score", v())
	}
	return GreaterThan("score", v())
}

// floatFile builds a data file with the statistics and bloom filter the
// writer would produce for rows.
func floatFile(rows []types.Row) *manifest.DataFile {
	f := &manifest.DataFile{
		RecordCount:     int64(len(rows)),
		ValueCounts:     map[int]int64{1: int64(len(rows))},
		NullValueCounts: map[int]int64{1: 0},
		NaNValueCounts:  map[int]int64{1: 0},
		LowerBounds:     map[int][]byte{},
		UpperBounds:     map[int][]byte{},
	}
	bf := bloom.NewWithEstimates(max(len(rows), 1), 0.01)
	var lo, hi types.Literal
	for _, row := range rows {
		if row["score"] == nil {
			f.NullValueCounts[1]++
			continue
		}
		l := types.DoubleLiteral(row["score"].(float64))
		if l.IsNaN() {
			f.NaNValueCounts[1]++
			continue
		}
		bf.AddLiteral(l)
		if lo.IsNull() || types.Compare(l, lo) < 0 {
			lo = l
		}
		if hi.IsNull() || types.Compare(l, hi) > 0 {
			hi = l
		}
	}
	if !lo.IsNull() {
		f.LowerBounds[1] = types.ToBytes(lo)
		f.UpperBounds[1] = types.ToBytes(hi)
		f.BloomFilters = map[int][]byte{1: bf.Encode()}
	}
	return f
}

func TestProperty_FloatPruningIsSound(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("signed zeros and NaN never cause a matching file to be pruned", prop.ForAll(
		func(idx []int, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			filter, err := BindAndRewrite(floatSchema, randomFloatFilter(r, 2), true)
			if err != nil {
				t.Logf("bind: %v", err)
				return false
			}
			rows := make([]types.Row, len(idx))
			for i, j := range idx {
				if j == len(floatValues) {
					rows[i] = types.Row{"score": nil}
				} else {
					rows[i] = types.Row{"score": floatValues[j]}
				}
			}
			f := floatFile(rows)
			rowEval := NewEvaluator(filter)
			for _, row := range rows {
				if rowEval.Eval(row) && !NewMetricsEvaluator(filter).Eval(f) {
					t.Logf("metrics pruned a file with matching row %v for %s", row, filter)
					return false
				}
			}
			return true
		},
		gen.SliceOfN(4, gen.IntRange(0, len(floatValues))),
		gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestProperty_NegationPartitionsNonNullRows(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("exactly one of p and not p selects a non-null row", prop.ForAll(
		func(x int64, seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			e := randomFilter(r, 0)
			if e.Op() == OpTrue {
				return true
			}
			pos, err := BindAndRewrite(propSchema, e, true)
			if err != nil {
				return false
			}
			neg, err := BindAndRewrite(propSchema, NewNot(e), true)
			if err != nil {
				return false
			}
			row := types.Row{"x": x}
			return NewEvaluator(pos).Eval(row) != NewEvaluator(neg).Eval(row)
		},
		gen.Int64Range(-40, 40),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
