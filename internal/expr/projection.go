package expr

import (
	"math"

	"github.com/arkilian/strata/internal/partition"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

// Project converts a bound, Not-free row filter into a filter on the
// partition fields of spec. The projection is inclusive: whenever a row
// matches the row filter, the row's partition tuple matches the
// projection. Predicates that cannot be projected become AlwaysTrue.
func Project(spec *partition.Spec, rowFilter Expression) Expression {
	switch x := rowFilter.(type) {
	case trueExpr, falseExpr:
		return rowFilter
	case AndExpr:
		return NewAnd(Project(spec, x.Left), Project(spec, x.Right))
	case OrExpr:
		return NewOr(Project(spec, x.Left), Project(spec, x.Right))
	case NotExpr:
		return Project(spec, RewriteNot(x))
	case *BoundPredicate:
		out := AlwaysTrue
		for _, pf := range spec.FieldsBySource(x.Field.ID) {
			out = NewAnd(out, projectPredicate(pf, x))
		}
		return out
	}
	return AlwaysTrue
}

// PartitionField returns the schema field a projected predicate refers
// to: the partition field's ID and name with the transform's result type.
func PartitionField(pf partition.Field, sourceType types.Type) schema.Field {
	return schema.Field{
		ID:   pf.FieldID,
		Name: pf.Name,
		Type: pf.Transform.ResultType(sourceType),
	}
}

func projectPredicate(pf partition.Field, p *BoundPredicate) Expression {
	t := pf.Transform
	if t.Kind == partition.Void {
		return AlwaysTrue
	}
	target := PartitionField(pf, p.Field.Type)
	pred := func(op Operation, lits ...types.Literal) Expression {
		return NewBoundPredicate(op, target, lits...)
	}
	apply := func(l types.Literal) (types.Literal, bool) {
		out, err := t.Apply(l)
		return out, err == nil && !out.IsNull()
	}

	switch p.op {
	case OpIsNull, OpNotNull:
		return pred(p.op)
	case OpIsNaN, OpNotNaN:
		if t.Kind == partition.Identity {
			return pred(p.op)
		}
		return AlwaysTrue
	}

	if t.Kind == partition.Identity {
		return pred(p.op, p.Literals...)
	}

	switch p.op {
	case OpEq:
		if v, ok := apply(p.Literal()); ok {
			return pred(OpEq, v)
		}
	case OpIn:
		vals := make([]types.Literal, 0, len(p.Literals))
		for _, l := range p.Literals {
			v, ok := apply(l)
			if !ok {
				return AlwaysTrue
			}
			vals = append(vals, v)
		}
		vals = dedupe(vals)
		if len(vals) == 1 {
			return pred(OpEq, vals[0])
		}
		return pred(OpIn, vals...)
	case OpLT, OpLTEq, OpGT, OpGTEq:
		if !t.PreservesOrder() {
			return AlwaysTrue
		}
		return projectRange(t, p, pred, apply)
	case OpStartsWith:
		if t.Kind != partition.Truncate {
			return AlwaysTrue
		}
		prefix, _ := p.Literal().Value().(string)
		if len([]rune(prefix)) <= t.Param {
			return pred(OpStartsWith, p.Literal())
		}
		if v, ok := apply(p.Literal()); ok {
			return pred(OpEq, v)
		}
	}
	return AlwaysTrue
}

// projectRange projects a comparison through an order-preserving
// transform. Strict bounds on integer-backed sources are first tightened
// to inclusive ones so that the boundary partition can be excluded.
func projectRange(t partition.Transform, p *BoundPredicate, pred func(Operation, ...types.Literal) Expression, apply func(types.Literal) (types.Literal, bool)) Expression {
	lit := p.Literal()
	op := p.op
	if x, ok := lit.Int64(); ok {
		switch {
		case op == OpLT && x > math.MinInt64:
			lit, ok = adjust(lit, x-1)
			op = OpLTEq
		case op == OpGT && x < math.MaxInt64:
			lit, ok = adjust(lit, x+1)
			op = OpGTEq
		}
		if !ok {
			return AlwaysTrue
		}
	}
	v, ok := apply(lit)
	if !ok {
		return AlwaysTrue
	}
	switch op {
	case OpLT, OpLTEq:
		return pred(OpLTEq, v)
	default:
		return pred(OpGTEq, v)
	}
}

// adjust rebuilds an integer-backed literal with a new value, keeping its
// type.
func adjust(l types.Literal, x int64) (types.Literal, bool) {
	switch l.Type() {
	case types.Int, types.Date:
		if x < math.MinInt32 || x > math.MaxInt32 {
			return l, false
		}
	}
	out, err := types.Coerce(l.Type(), x)
	if err != nil {
		return l, false
	}
	return out, true
}
