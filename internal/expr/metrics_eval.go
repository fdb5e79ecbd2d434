package expr

import (
	"strings"

	"github.com/arkilian/strata/internal/manifest"
	"github.com/arkilian/strata/pkg/types"
)

// colStats is the view of one column's statistics in a data file.
type colStats struct {
	valueCount, nullCount, nanCount int64
	hasValues, hasNulls, hasNaNs    bool
	lower, upper                    types.Literal
	hasLower, hasUpper              bool
	floating                        bool
}

func statsFor(f *manifest.DataFile, p *BoundPredicate) colStats {
	id := p.Field.ID
	var s colStats
	s.valueCount, s.hasValues = f.ValueCounts[id]
	s.nullCount, s.hasNulls = f.NullValueCounts[id]
	s.nanCount, s.hasNaNs = f.NaNValueCounts[id]
	s.floating = p.Field.Type.IsFloating()
	if raw, ok := f.LowerBounds[id]; ok {
		if l, err := types.FromBytes(p.Field.Type, raw); err == nil && !l.IsNull() && !l.IsNaN() {
			s.lower, s.hasLower = l, true
		}
	}
	if raw, ok := f.UpperBounds[id]; ok {
		if u, err := types.FromBytes(p.Field.Type, raw); err == nil && !u.IsNull() && !u.IsNaN() {
			s.upper, s.hasUpper = u, true
		}
	}
	return s
}

// allNulls reports whether every value is known to be null.
func (s colStats) allNulls() bool {
	return s.hasValues && s.hasNulls && s.nullCount == s.valueCount
}

// noComparableValues reports whether every value is known to be null or
// NaN, so that no range predicate can match.
func (s colStats) noComparableValues() bool {
	if !s.hasValues {
		return false
	}
	var n int64
	if s.hasNulls {
		n += s.nullCount
	}
	if s.hasNaNs {
		n += s.nanCount
	}
	return n == s.valueCount && (s.hasNulls || s.hasNaNs)
}

func (s colStats) knownNoNulls() bool { return s.hasNulls && s.nullCount == 0 }

func (s colStats) knownNoNaNs() bool { return !s.floating || (s.hasNaNs && s.nanCount == 0) }

// MetricsEvaluator decides from a file's column statistics whether the file
// may contain a row matching the filter.
type MetricsEvaluator struct {
	expr Expression
}

// NewMetricsEvaluator returns an inclusive evaluator for a bound filter.
func NewMetricsEvaluator(bound Expression) *MetricsEvaluator {
	return &MetricsEvaluator{expr: RewriteNot(bound)}
}

// Eval returns false only when no row of f can match.
func (m *MetricsEvaluator) Eval(f *manifest.DataFile) bool {
	if f.RecordCount == 0 {
		return false
	}
	return mightMatch(m.expr, f)
}

func mightMatch(e Expression, f *manifest.DataFile) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return mightMatch(x.Left, f) && mightMatch(x.Right, f)
	case OrExpr:
		return mightMatch(x.Left, f) || mightMatch(x.Right, f)
	case *BoundPredicate:
		return predicateMightMatch(x, f)
	}
	return true
}

func predicateMightMatch(p *BoundPredicate, f *manifest.DataFile) bool {
	s := statsFor(f, p)

	switch p.op {
	case OpIsNull:
		return !s.knownNoNulls()
	case OpNotNull:
		return !s.allNulls()
	case OpIsNaN:
		return !(s.hasNaNs && s.nanCount == 0) && !s.allNulls()
	case OpNotNaN:
		return !s.noComparableValues()
	case OpNotEq:
		if s.allNulls() {
			return false
		}
		if s.hasLower && s.hasUpper && s.knownNoNaNs() &&
			types.Compare(s.lower, p.Literal()) == 0 && types.Compare(s.upper, p.Literal()) == 0 {
			return false
		}
		return true
	case OpNotIn:
		if s.allNulls() {
			return false
		}
		if s.hasLower && s.hasUpper && s.knownNoNaNs() &&
			types.Compare(s.lower, s.upper) == 0 && containsLiteral(p.Literals, s.lower) {
			return false
		}
		return true
	case OpNotStartsWith:
		if s.allNulls() {
			return false
		}
		if s.hasLower && s.hasUpper {
			prefix, _ := p.Literal().Value().(string)
			lo, _ := s.lower.Value().(string)
			hi, _ := s.upper.Value().(string)
			if strings.HasPrefix(lo, prefix) && strings.HasPrefix(hi, prefix) {
				return false
			}
		}
		return true
	}

	if s.noComparableValues() {
		return false
	}
	lit := p.Literal()
	switch p.op {
	case OpLT:
		return !s.hasLower || types.Compare(s.lower, lit) < 0
	case OpLTEq:
		return !s.hasLower || types.Compare(s.lower, lit) <= 0
	case OpGT:
		return !s.hasUpper || types.Compare(s.upper, lit) > 0
	case OpGTEq:
		return !s.hasUpper || types.Compare(s.upper, lit) >= 0
	case OpEq:
		if s.hasLower && types.Compare(s.lower, lit) > 0 {
			return false
		}
		if s.hasUpper && types.Compare(s.upper, lit) < 0 {
			return false
		}
		return bloomMightContain(f, p.Field.ID, lit)
	case OpIn:
		var candidates []types.Literal
		for _, l := range p.Literals {
			if s.hasLower && types.Compare(s.lower, l) > 0 {
				continue
			}
			if s.hasUpper && types.Compare(s.upper, l) < 0 {
				continue
			}
			candidates = append(candidates, l)
		}
		if len(candidates) == 0 {
			return false
		}
		return bloomMightContain(f, p.Field.ID, candidates...)
	case OpStartsWith:
		if !s.hasLower || !s.hasUpper {
			return true
		}
		return prefixInRange(lit, s.lower, s.upper)
	}
	return true
}

// bloomMightContain consults the file's bloom filter for the column, if
// any. A missing or unreadable filter never prunes.
func bloomMightContain(f *manifest.DataFile, fieldID int, lits ...types.Literal) bool {
	bf, ok, err := f.BloomFilter(fieldID)
	if err != nil || !ok {
		return true
	}
	for _, l := range lits {
		if l.IsNaN() || bf.ContainsLiteral(l) {
			return true
		}
	}
	return false
}

// StrictMetricsEvaluator decides from a file's column statistics whether
// every row of the file matches the filter.
type StrictMetricsEvaluator struct {
	expr Expression
}

// NewStrictMetricsEvaluator returns a strict evaluator for a bound filter.
func NewStrictMetricsEvaluator(bound Expression) *StrictMetricsEvaluator {
	return &StrictMetricsEvaluator{expr: RewriteNot(bound)}
}

// Eval returns true only when every row of f matches.
func (m *StrictMetricsEvaluator) Eval(f *manifest.DataFile) bool {
	if f.RecordCount == 0 {
		return true
	}
	return mustMatch(m.expr, f)
}

func mustMatch(e Expression, f *manifest.DataFile) bool {
	switch x := e.(type) {
	case trueExpr:
		return true
	case falseExpr:
		return false
	case AndExpr:
		return mustMatch(x.Left, f) && mustMatch(x.Right, f)
	case OrExpr:
		return mustMatch(x.Left, f) || mustMatch(x.Right, f)
	case *BoundPredicate:
		return predicateMustMatch(x, f)
	}
	return false
}

func predicateMustMatch(p *BoundPredicate, f *manifest.DataFile) bool {
	s := statsFor(f, p)

	switch p.op {
	case OpIsNull:
		return s.allNulls()
	case OpNotNull:
		return s.knownNoNulls()
	case OpIsNaN:
		return s.hasValues && s.hasNaNs && s.nanCount == s.valueCount
	case OpNotNaN:
		return s.knownNoNulls() && s.knownNoNaNs()
	}

	if !s.knownNoNulls() || !s.hasLower || !s.hasUpper {
		return false
	}
	lit := p.Literal()
	switch p.op {
	case OpNotEq:
		return types.Compare(lit, s.lower) < 0 || types.Compare(lit, s.upper) > 0
	case OpNotIn:
		for _, l := range p.Literals {
			if types.Compare(l, s.lower) >= 0 && types.Compare(l, s.upper) <= 0 {
				return false
			}
		}
		return true
	case OpNotStartsWith:
		return !prefixInRange(lit, s.lower, s.upper)
	}

	if !s.knownNoNaNs() {
		return false
	}
	switch p.op {
	case OpLT:
		return types.Compare(s.upper, lit) < 0
	case OpLTEq:
		return types.Compare(s.upper, lit) <= 0
	case OpGT:
		return types.Compare(s.lower, lit) > 0
	case OpGTEq:
		return types.Compare(s.lower, lit) >= 0
	case OpEq:
		return types.Compare(s.lower, lit) == 0 && types.Compare(s.upper, lit) == 0
	case OpIn:
		return types.Compare(s.lower, s.upper) == 0 && containsLiteral(p.Literals, s.lower)
	case OpStartsWith:
		prefix, _ := lit.Value().(string)
		lo, _ := s.lower.Value().(string)
		hi, _ := s.upper.Value().(string)
		return strings.HasPrefix(lo, prefix) && strings.HasPrefix(hi, prefix)
	}
	return false
}
