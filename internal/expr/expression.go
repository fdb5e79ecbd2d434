// Package expr implements row filters: construction, binding to a schema,
// negation push-down, projection onto partition specs and the evaluators
// the planner uses to prune manifests and files.
//
// Evaluation follows SQL semantics for a WHERE clause: a comparison with a
// null operand never selects the row. Evaluators are only ever applied to
// expressions without Not nodes (see RewriteNot), which makes two-valued
// evaluation exact.
package expr

import (
	"fmt"
	"strings"

	"github.com/arkilian/strata/internal/schema"
	"github.com/arkilian/strata/pkg/types"
)

// Operation identifies an expression node.
type Operation int

const (
	OpTrue Operation = iota
	OpFalse
	OpAnd
	OpOr
	OpNot
	OpIsNull
	OpNotNull
	OpIsNaN
	OpNotNaN
	OpLT
	OpLTEq
	OpGT
	OpGTEq
	OpEq
	OpNotEq
	OpIn
	OpNotIn
	OpStartsWith
	OpNotStartsWith
)

var opNames = map[Operation]string{
	OpTrue: "true", OpFalse: "false", OpAnd: "and", OpOr: "or", OpNot: "not",
	OpIsNull: "is_null", OpNotNull: "not_null", OpIsNaN: "is_nan", OpNotNaN: "not_nan",
	OpLT: "<", OpLTEq: "<=", OpGT: ">", OpGTEq: ">=", OpEq: "=", OpNotEq: "!=",
	OpIn: "in", OpNotIn: "not_in", OpStartsWith: "starts_with", OpNotStartsWith: "not_starts_with",
}

func (op Operation) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op(%d)", int(op))
}

// Negate returns the operation selecting exactly the non-null rows the
// original rejects.
func (op Operation) Negate() Operation {
	switch op {
	case OpIsNull:
		return OpNotNull
	case OpNotNull:
		return OpIsNull
	case OpIsNaN:
		return OpNotNaN
	case OpNotNaN:
		return OpIsNaN
	case OpLT:
		return OpGTEq
	case OpLTEq:
		return OpGT
	case OpGT:
		return OpLTEq
	case OpGTEq:
		return OpLT
	case OpEq:
		return OpNotEq
	case OpNotEq:
		return OpEq
	case OpIn:
		return OpNotIn
	case OpNotIn:
		return OpIn
	case OpStartsWith:
		return OpNotStartsWith
	case OpNotStartsWith:
		return OpStartsWith
	}
	panic(fmt.Sprintf("expr: cannot negate %s", op))
}

func (op Operation) isUnary() bool {
	switch op {
	case OpIsNull, OpNotNull, OpIsNaN, OpNotNaN:
		return true
	}
	return false
}

func (op Operation) isSet() bool {
	return op == OpIn || op == OpNotIn
}

// Expression is a node of a filter tree.
type Expression interface {
	Op() Operation
	Negate() Expression
	String() string
}

type trueExpr struct{}
type falseExpr struct{}

// AlwaysTrue selects every row; AlwaysFalse selects none.
var (
	AlwaysTrue  Expression = trueExpr{}
	AlwaysFalse Expression = falseExpr{}
)

func (trueExpr) Op() Operation       { return OpTrue }
func (trueExpr) Negate() Expression  { return AlwaysFalse }
func (trueExpr) String() string      { return "true" }
func (falseExpr) Op() Operation      { return OpFalse }
func (falseExpr) Negate() Expression { return AlwaysTrue }
func (falseExpr) String() string     { return "false" }

// AndExpr is a conjunction.
type AndExpr struct{ Left, Right Expression }

func (e AndExpr) Op() Operation      { return OpAnd }
func (e AndExpr) Negate() Expression { return NewOr(e.Left.Negate(), e.Right.Negate()) }
func (e AndExpr) String() string     { return "(" + e.Left.String() + " and " + e.Right.String() + ")" }

// OrExpr is a disjunction.
type OrExpr struct{ Left, Right Expression }

func (e OrExpr) Op() Operation      { return OpOr }
func (e OrExpr) Negate() Expression { return NewAnd(e.Left.Negate(), e.Right.Negate()) }
func (e OrExpr) String() string     { return "(" + e.Left.String() + " or " + e.Right.String() + ")" }

// NotExpr is a negation.
type NotExpr struct{ Child Expression }

func (e NotExpr) Op() Operation      { return OpNot }
func (e NotExpr) Negate() Expression { return e.Child }
func (e NotExpr) String() string     { return "not(" + e.Child.String() + ")" }

// NewAnd builds a conjunction, folding constants.
func NewAnd(left, right Expression, more ...Expression) Expression {
	out := and2(left, right)
	for _, e := range more {
		out = and2(out, e)
	}
	return out
}

func and2(l, r Expression) Expression {
	switch {
	case l.Op() == OpFalse || r.Op() == OpFalse:
		return AlwaysFalse
	case l.Op() == OpTrue:
		return r
	case r.Op() == OpTrue:
		return l
	}
	return AndExpr{Left: l, Right: r}
}

// NewOr builds a disjunction, folding constants.
func NewOr(left, right Expression, more ...Expression) Expression {
	out := or2(left, right)
	for _, e := range more {
		out = or2(out, e)
	}
	return out
}

func or2(l, r Expression) Expression {
	switch {
	case l.Op() == OpTrue || r.Op() == OpTrue:
		return AlwaysTrue
	case l.Op() == OpFalse:
		return r
	case r.Op() == OpFalse:
		return l
	}
	return OrExpr{Left: l, Right: r}
}

// NewNot builds a negation, folding constants and double negation.
func NewNot(child Expression) Expression {
	switch child.Op() {
	case OpTrue:
		return AlwaysFalse
	case OpFalse:
		return AlwaysTrue
	case OpNot:
		return child.(NotExpr).Child
	}
	return NotExpr{Child: child}
}

// UnboundPredicate references a column by name with untyped values.
type UnboundPredicate struct {
	op     Operation
	Column string
	Values []any
}

func (p *UnboundPredicate) Op() Operation { return p.op }

func (p *UnboundPredicate) Negate() Expression {
	return &UnboundPredicate{op: p.op.Negate(), Column: p.Column, Values: p.Values}
}

func (p *UnboundPredicate) String() string {
	return formatPredicate(p.op, p.Column, len(p.Values), func(i int) string { return fmt.Sprintf("%#v", p.Values[i]) })
}

// BoundPredicate references a resolved field with typed literals.
type BoundPredicate struct {
	op       Operation
	Field    schema.Field
	Literals []types.Literal
}

func (p *BoundPredicate) Op() Operation { return p.op }

// Literal returns the single literal of a comparison predicate.
func (p *BoundPredicate) Literal() types.Literal {
	if len(p.Literals) == 0 {
		return types.Null
	}
	return p.Literals[0]
}

func (p *BoundPredicate) Negate() Expression {
	return &BoundPredicate{op: p.op.Negate(), Field: p.Field, Literals: p.Literals}
}

func (p *BoundPredicate) String() string {
	return formatPredicate(p.op, p.Field.Name, len(p.Literals), func(i int) string { return p.Literals[i].String() })
}

func formatPredicate(op Operation, col string, n int, lit func(int) string) string {
	switch {
	case op.isUnary():
		return fmt.Sprintf("%s(%s)", op, col)
	case op.isSet():
		parts := make([]string, n)
		for i := range parts {
			parts[i] = lit(i)
		}
		return fmt.Sprintf("%s %s (%s)", col, op, strings.Join(parts, ", "))
	case n > 0:
		return fmt.Sprintf("%s %s %s", col, op, lit(0))
	}
	return fmt.Sprintf("%s %s", col, op)
}

func newPred(op Operation, col string, values ...any) Expression {
	return &UnboundPredicate{op: op, Column: col, Values: values}
}

func IsNull(col string) Expression                    { return newPred(OpIsNull, col) }
func NotNull(col string) Expression                   { return newPred(OpNotNull, col) }
func IsNaN(col string) Expression                     { return newPred(OpIsNaN, col) }
func NotNaN(col string) Expression                    { return newPred(OpNotNaN, col) }
func LessThan(col string, v any) Expression           { return newPred(OpLT, col, v) }
func LessThanEqual(col string, v any) Expression      { return newPred(OpLTEq, col, v) }
func GreaterThan(col string, v any) Expression        { return newPred(OpGT, col, v) }
func GreaterThanEqual(col string, v any) Expression   { return newPred(OpGTEq, col, v) }
func Equal(col string, v any) Expression              { return newPred(OpEq, col, v) }
func NotEqual(col string, v any) Expression           { return newPred(OpNotEq, col, v) }
func In(col string, vs ...any) Expression             { return newPred(OpIn, col, vs...) }
func NotIn(col string, vs ...any) Expression          { return newPred(OpNotIn, col, vs...) }
func StartsWith(col string, prefix string) Expression { return newPred(OpStartsWith, col, prefix) }
func NotStartsWith(col string, prefix string) Expression {
	return newPred(OpNotStartsWith, col, prefix)
}

// NewBoundPredicate constructs a predicate on an already resolved field.
// Literals must already have the field's type.
func NewBoundPredicate(op Operation, field schema.Field, lits ...types.Literal) *BoundPredicate {
	return &BoundPredicate{op: op, Field: field, Literals: lits}
}
