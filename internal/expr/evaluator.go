package expr

import (
	"strings"

	"github.com/arkilian/strata/pkg/types"
)

// Evaluator tests rows against a bound expression.
type Evaluator struct {
	expr Expression
}

// NewEvaluator returns an evaluator for a bound expression. Not nodes are
// rewritten first.
func NewEvaluator(bound Expression) *Evaluator {
	return &Evaluator{expr: RewriteNot(bound)}
}

// Eval reports whether the row is selected. Values are looked up by the
// bound field's name and converted to its type; a value that cannot be
// converted does not match.
func (ev *Evaluator) Eval(row types.Row) bool {
	return evalRow(ev.expr, row)
}

func evalRow(e Expression, row types.Row) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return evalRow(x.Left, row) && evalRow(x.Right, row)
	case OrExpr:
		return evalRow(x.Left, row) || evalRow(x.Right, row)
	case NotExpr:
		return evalRow(RewriteNot(x), row)
	case *BoundPredicate:
		v, err := types.Coerce(x.Field.Type, row[x.Field.Name])
		if err != nil {
			return false
		}
		return Test(x, v)
	}
	return false
}

// Test evaluates a bound predicate against a single value.
func Test(p *BoundPredicate, v types.Literal) bool {
	switch p.op {
	case OpIsNull:
		return v.IsNull()
	case OpNotNull:
		return !v.IsNull()
	case OpIsNaN:
		return v.IsNaN()
	case OpNotNaN:
		return !v.IsNull() && !v.IsNaN()
	}
	if v.IsNull() {
		return false
	}
	if v.IsNaN() {
		return p.op == OpNotEq || p.op == OpNotIn
	}

	switch p.op {
	case OpLT:
		return types.Compare(v, p.Literal()) < 0
	case OpLTEq:
		return types.Compare(v, p.Literal()) <= 0
	case OpGT:
		return types.Compare(v, p.Literal()) > 0
	case OpGTEq:
		return types.Compare(v, p.Literal()) >= 0
	case OpEq:
		return types.Compare(v, p.Literal()) == 0
	case OpNotEq:
		return types.Compare(v, p.Literal()) != 0
	case OpIn:
		return containsLiteral(p.Literals, v)
	case OpNotIn:
		return !containsLiteral(p.Literals, v)
	case OpStartsWith:
		return hasPrefix(v, p.Literal())
	case OpNotStartsWith:
		return !hasPrefix(v, p.Literal())
	}
	return false
}

func containsLiteral(set []types.Literal, v types.Literal) bool {
	for _, l := range set {
		if !l.IsNaN() && types.Compare(l, v) == 0 {
			return true
		}
	}
	return false
}

func hasPrefix(v, prefix types.Literal) bool {
	s, ok := v.Value().(string)
	if !ok {
		return false
	}
	p, _ := prefix.Value().(string)
	return strings.HasPrefix(s, p)
}
