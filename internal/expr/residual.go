package expr

import (
	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/internal/partition"
)

// ResidualEvaluator computes, for a file, the part of a row filter that is
// not already decided by the file's partition tuple and statistics. Readers
// apply the residual to the file's rows.
type ResidualEvaluator struct {
	spec *partition.Spec
	expr Expression
}

// NewResidualEvaluator returns an evaluator for files written with spec.
func NewResidualEvaluator(spec *partition.Spec, bound Expression) *ResidualEvaluator {
	return &ResidualEvaluator{spec: spec, expr: RewriteNot(bound)}
}

// ResidualFor simplifies the filter using a partition tuple. Predicates on
// identity-partitioned columns are decided exactly; predicates whose
// inclusive projection rejects the tuple become AlwaysFalse.
func (r *ResidualEvaluator) ResidualFor(tuple partition.Tuple) Expression {
	return r.simplify(r.expr, func(p *BoundPredicate) Expression {
		return r.partitionResidual(p, tuple)
	})
}

// ResidualForFile simplifies the filter using both the partition tuple and
// the column statistics of f.
func (r *ResidualEvaluator) ResidualForFile(f *manifest.DataFile) Expression {
	return r.simplify(r.expr, func(p *BoundPredicate) Expression {
		out := r.partitionResidual(p, f.Partition)
		if out.Op() == OpTrue || out.Op() == OpFalse {
			return out
		}
		if predicateMustMatch(p, f) {
			return AlwaysTrue
		}
		if f.RecordCount == 0 || !predicateMightMatch(p, f) {
			return AlwaysFalse
		}
		return out
	})
}

func (r *ResidualEvaluator) simplify(e Expression, leaf func(*BoundPredicate) Expression) Expression {
	switch x := e.(type) {
	case AndExpr:
		return NewAnd(r.simplify(x.Left, leaf), r.simplify(x.Right, leaf))
	case OrExpr:
		return NewOr(r.simplify(x.Left, leaf), r.simplify(x.Right, leaf))
	case *BoundPredicate:
		return leaf(x)
	}
	return e
}

func (r *ResidualEvaluator) partitionResidual(p *BoundPredicate, tuple partition.Tuple) Expression {
	for i, pf := range r.spec.Fields {
		if pf.SourceID != p.Field.ID || i >= len(tuple) {
			continue
		}
		value := tuple[i]
		switch pf.Transform.Kind {
		case partition.Void:
			continue
		case partition.Identity:
			v, err := value.To(p.Field.Type)
			if err != nil {
				continue
			}
			if Test(p, v) {
				return AlwaysTrue
			}
			return AlwaysFalse
		}
		proj, ok := projectPredicate(pf, p).(*BoundPredicate)
		if ok && !Test(proj, value) {
			return AlwaysFalse
		}
	}
	return p
}
