package expr

import (
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/pkg/types"
)

// ManifestEvaluator decides from a manifest list entry's partition
// summaries whether the manifest may hold a file matching a row filter.
type ManifestEvaluator struct {
	expr      Expression
	positions map[int]int
}

// NewManifestEvaluator projects a bound, Not-free row filter onto spec and
// returns an evaluator for manifests written with that spec.
func NewManifestEvaluator(spec *partition.Spec, rowFilter Expression) *ManifestEvaluator {
	positions := make(map[int]int, len(spec.Fields))
	for i, f := range spec.Fields {
		positions[f.FieldID] = i
	}
	return &ManifestEvaluator{expr: Project(spec, RewriteNot(rowFilter)), positions: positions}
}

// Projected returns the partition filter the evaluator tests.
func (m *ManifestEvaluator) Projected() Expression { return m.expr }

// Eval returns false only when no file in the manifest can match.
func (m *ManifestEvaluator) Eval(mf manifest.ManifestFile) bool {
	return m.eval(m.expr, mf.Partitions)
}

func (m *ManifestEvaluator) eval(e Expression, sums []manifest.FieldSummary) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return m.eval(x.Left, sums) && m.eval(x.Right, sums)
	case OrExpr:
		return m.eval(x.Left, sums) || m.eval(x.Right, sums)
	case *BoundPredicate:
		pos, ok := m.positions[x.Field.ID]
		if !ok || pos >= len(sums) {
			return true
		}
		return summaryMightMatch(x, sums[pos])
	}
	return true
}

func summaryMightMatch(p *BoundPredicate, s manifest.FieldSummary) bool {
	knownNoNaN := s.ContainsNaN != nil && !*s.ContainsNaN
	hasNaN := p.Field.Type.IsFloating() && !knownNoNaN
	noValues := s.LowerBound == nil

	lower, lerr := types.FromBytes(p.Field.Type, s.LowerBound)
	upper, uerr := types.FromBytes(p.Field.Type, s.UpperBound)
	if lerr != nil || uerr != nil {
		return true
	}

	switch p.op {
	case OpIsNull:
		return s.ContainsNull
	case OpNotNull:
		return !noValues || hasNaN
	case OpIsNaN:
		return !knownNoNaN
	case OpNotNaN:
		return !noValues
	case OpNotEq, OpNotIn, OpNotStartsWith:
		return !noValues || hasNaN
	}

	if noValues {
		return false
	}
	lit := p.Literal()
	switch p.op {
	case OpLT:
		return types.Compare(lower, lit) < 0
	case OpLTEq:
		return types.Compare(lower, lit) <= 0
	case OpGT:
		return types.Compare(upper, lit) > 0
	case OpGTEq:
		return types.Compare(upper, lit) >= 0
	case OpEq:
		return types.Compare(lower, lit) <= 0 && types.Compare(upper, lit) >= 0
	case OpIn:
		for _, l := range p.Literals {
			if types.Compare(lower, l) <= 0 && types.Compare(upper, l) >= 0 {
				return true
			}
		}
		return false
	case OpStartsWith:
		return prefixInRange(lit, lower, upper)
	}
	return true
}

// prefixInRange reports whether some string in [lower, upper] may start
// with prefix.
func prefixInRange(prefix, lower, upper types.Literal) bool {
	p, _ := prefix.Value().(string)
	lo, _ := lower.Value().(string)
	hi, _ := upper.Value().(string)
	if len(lo) > len(p) {
		lo = lo[:len(p)]
	}
	if len(hi) > len(p) {
		hi = hi[:len(p)]
	}
	return lo <= p && p <= hi
}
