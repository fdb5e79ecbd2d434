package expr

import (
	"fmt"

	strataerrors "github.com/arkilian/strata/internal/errors"
	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

// Bind resolves column names against sch and converts values to the
// column types. Predicates that are decided by the schema alone, such as
// is_null on a required column, fold to constants.
func Bind(sch *schema.Schema, e Expression, caseSensitive bool) (Expression, error) {
	switch e.Op() {
	case OpTrue, OpFalse:
		return e, nil
	case OpAnd:
		a := e.(AndExpr)
		l, err := Bind(sch, a.Left, caseSensitive)
		if err != nil {
			return nil, err
		}
		r, err := Bind(sch, a.Right, caseSensitive)
		if err != nil {
			return nil, err
		}
		return NewAnd(l, r), nil
	case OpOr:
		o := e.(OrExpr)
		l, err := Bind(sch, o.Left, caseSensitive)
		if err != nil {
			return nil, err
		}
		r, err := Bind(sch, o.Right, caseSensitive)
		if err != nil {
			return nil, err
		}
		return NewOr(l, r), nil
	case OpNot:
		c, err := Bind(sch, e.(NotExpr).Child, caseSensitive)
		if err != nil {
			return nil, err
		}
		return NewNot(c), nil
	}

	switch p := e.(type) {
	case *BoundPredicate:
		return p, nil
	case *UnboundPredicate:
		return bindPredicate(sch, p, caseSensitive)
	}
	return nil, fmt.Errorf("expr: unexpected expression %T", e)
}

func invalid(format string, args ...any) error {
	return strataerrors.NewValidationError(strataerrors.CodeInvalidArgument, fmt.Sprintf(format, args...))
}

func bindPredicate(sch *schema.Schema, p *UnboundPredicate, caseSensitive bool) (Expression, error) {
	field, ok := sch.FieldByName(p.Column, caseSensitive)
	if !ok {
		return nil, invalid("cannot find column %q in schema %d", p.Column, sch.SchemaID)
	}

	switch p.op {
	case OpIsNull:
		if field.Required {
			return AlwaysFalse, nil
		}
		return NewBoundPredicate(p.op, field), nil
	case OpNotNull:
		if field.Required {
			return AlwaysTrue, nil
		}
		return NewBoundPredicate(p.op, field), nil
	case OpIsNaN, OpNotNaN:
		if !field.Type.IsFloating() {
			return nil, invalid("%s requires a floating point column, %q is %s", p.op, field.Name, field.Type)
		}
		return NewBoundPredicate(p.op, field), nil
	case OpStartsWith, OpNotStartsWith:
		if field.Type != types.String {
			return nil, invalid("%s requires a string column, %q is %s", p.op, field.Name, field.Type)
		}
	}

	lits := make([]types.Literal, 0, len(p.Values))
	for _, v := range p.Values {
		lit, err := types.Coerce(field.Type, v)
		if err != nil {
			return nil, invalid("column %q: %v", field.Name, err)
		}
		if lit.IsNull() {
			return nil, invalid("column %q: null literal in %s; use is_null", field.Name, p.op)
		}
		lits = append(lits, lit)
	}

	if p.op.isSet() {
		lits = dedupe(lits)
		switch {
		case len(lits) == 0 && p.op == OpIn:
			return AlwaysFalse, nil
		case len(lits) == 0:
			return bindPredicate(sch, &UnboundPredicate{op: OpNotNull, Column: p.Column}, caseSensitive)
		case len(lits) == 1 && p.op == OpIn:
			return NewBoundPredicate(OpEq, field, lits[0]), nil
		case len(lits) == 1:
			return NewBoundPredicate(OpNotEq, field, lits[0]), nil
		}
		return NewBoundPredicate(p.op, field, lits...), nil
	}

	if len(lits) != 1 {
		return nil, invalid("%s on %q takes exactly one value, got %d", p.op, field.Name, len(lits))
	}
	return NewBoundPredicate(p.op, field, lits[0]), nil
}

func dedupe(lits []types.Literal) []types.Literal {
	out := lits[:0:0]
outer:
	for _, l := range lits {
		for _, seen := range out {
			if types.Compare(l, seen) == 0 && l.IsNaN() == seen.IsNaN() {
				continue outer
			}
		}
		out = append(out, l)
	}
	return out
}

// RewriteNot pushes negations down to predicates so that the result has
// no Not nodes.
func RewriteNot(e Expression) Expression {
	switch e.Op() {
	case OpAnd:
		a := e.(AndExpr)
		return NewAnd(RewriteNot(a.Left), RewriteNot(a.Right))
	case OpOr:
		o := e.(OrExpr)
		return NewOr(RewriteNot(o.Left), RewriteNot(o.Right))
	case OpNot:
		return RewriteNot(e.(NotExpr).Child.Negate())
	}
	return e
}

// BindAndRewrite binds e to sch and removes Not nodes.
func BindAndRewrite(sch *schema.Schema, e Expression, caseSensitive bool) (Expression, error) {
	if e == nil {
		return AlwaysTrue, nil
	}
	bound, err := Bind(sch, e, caseSensitive)
	if err != nil {
		return nil, err
	}
	return RewriteNot(bound), nil
}

// ReferencedFieldIDs returns the IDs of the columns a bound expression
// reads.
func ReferencedFieldIDs(e Expression) []int {
	seen := map[int]bool{}
	var out []int
	var walk func(Expression)
	walk = func(e Expression) {
		switch x := e.(type) {
		case AndExpr:
			walk(x.Left)
			walk(x.Right)
		case OrExpr:
			walk(x.Left)
			walk(x.Right)
		case NotExpr:
			walk(x.Child)
		case *BoundPredicate:
			if !seen[x.Field.ID] {
				seen[x.Field.ID] = true
				out = append(out, x.Field.ID)
			}
		}
	}
	walk(e)
	return out
}
