package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseError reports a malformed filter string.
type ParseError struct {
	Message  string
	Position int
	Token    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at position %d: %s (got %s)", e.Position, e.Message, e.Token)
}

// parser is a recursive descent parser over the filter grammar:
//
//	expr    := and { OR and }
//	and     := unary { AND unary }
//	unary   := NOT unary | primary
//	primary := '(' expr ')' | TRUE | FALSE | column predicate
type parser struct {
	lex  *lexer
	cur  token
	peek token
}

// Parse parses a SQL-like filter such as
//
//	level = 'error' AND ts >= '2026-01-01T00:00:00Z' AND user_id IN (1, 2)
//
// into an unbound expression. Supported predicates are comparisons,
// IS [NOT] NULL, IS [NOT] NAN, [NOT] IN, [NOT] BETWEEN and [NOT] LIKE with
// a trailing-% prefix pattern. An empty string parses to AlwaysTrue.
func Parse(input string) (Expression, error) {
	if strings.TrimSpace(input) == "" {
		return AlwaysTrue, nil
	}
	p := &parser{lex: newLexer(input)}
	p.advance()
	p.advance()
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.cur.typ != tokenEOF {
		return nil, p.errorf("unexpected trailing input")
	}
	return e, nil
}

func (p *parser) advance() {
	p.cur = p.peek
	p.peek = p.lex.next()
}

func (p *parser) errorf(format string, args ...any) error {
	return &ParseError{Message: fmt.Sprintf(format, args...), Position: p.cur.pos, Token: p.cur.String()}
}

func (p *parser) expect(t tokenType, what string) error {
	if p.cur.typ != t {
		return p.errorf("expected %s", what)
	}
	p.advance()
	return nil
}

func (p *parser) parseOr() (Expression, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenOr {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = NewOr(left, right)
	}
	return left, nil
}

func (p *parser) parseAnd() (Expression, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.cur.typ == tokenAnd {
		p.advance()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = NewAnd(left, right)
	}
	return left, nil
}

func (p *parser) parseUnary() (Expression, error) {
	if p.cur.typ == tokenNot {
		p.advance()
		child, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return NewNot(child), nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expression, error) {
	switch p.cur.typ {
	case tokenLParen:
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tokenTrue:
		p.advance()
		return AlwaysTrue, nil
	case tokenFalse:
		p.advance()
		return AlwaysFalse, nil
	case tokenIdent:
		col := p.cur.literal
		p.advance()
		return p.parsePredicate(col)
	}
	return nil, p.errorf("expected column name or '('")
}

func (p *parser) parsePredicate(col string) (Expression, error) {
	var cmp func(string, any) Expression
	switch p.cur.typ {
	case tokenEq:
		cmp = Equal
	case tokenNe:
		cmp = NotEqual
	case tokenLt:
		cmp = LessThan
	case tokenLe:
		cmp = LessThanEqual
	case tokenGt:
		cmp = GreaterThan
	case tokenGe:
		cmp = GreaterThanEqual
	}
	if cmp != nil {
		p.advance()
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		return cmp(col, v), nil
	}

	if p.cur.typ == tokenIs {
		p.advance()
		negate := false
		if p.cur.typ == tokenNot {
			negate = true
			p.advance()
		}
		var e Expression
		switch p.cur.typ {
		case tokenNull:
			e = IsNull(col)
		case tokenNaN:
			e = IsNaN(col)
		default:
			return nil, p.errorf("expected NULL or NAN")
		}
		p.advance()
		if negate {
			return e.Negate(), nil
		}
		return e, nil
	}

	negate := false
	if p.cur.typ == tokenNot {
		negate = true
		p.advance()
	}
	var e Expression
	switch p.cur.typ {
	case tokenIn:
		p.advance()
		vals, err := p.parseList()
		if err != nil {
			return nil, err
		}
		e = In(col, vals...)
	case tokenBetween:
		p.advance()
		lo, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if err := p.expect(tokenAnd, "AND"); err != nil {
			return nil, err
		}
		hi, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		e = NewAnd(GreaterThanEqual(col, lo), LessThanEqual(col, hi))
	case tokenLike:
		p.advance()
		if p.cur.typ != tokenString {
			return nil, p.errorf("expected pattern string")
		}
		pattern := p.cur.literal
		prefix, ok := strings.CutSuffix(pattern, "%")
		if !ok || strings.ContainsAny(prefix, "%_") {
			return nil, p.errorf("only prefix patterns ending in %% are supported")
		}
		p.advance()
		e = StartsWith(col, prefix)
	default:
		return nil, p.errorf("expected comparison operator")
	}
	if negate {
		return NewNot(e), nil
	}
	return e, nil
}

func (p *parser) parseList() ([]any, error) {
	if err := p.expect(tokenLParen, "'('"); err != nil {
		return nil, err
	}
	var vals []any
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		vals = append(vals, v)
		if p.cur.typ != tokenComma {
			break
		}
		p.advance()
	}
	if err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}
	return vals, nil
}

// parseValue returns a string, bool, int64 or float64.
func (p *parser) parseValue() (any, error) {
	neg := false
	if p.cur.typ == tokenMinus {
		neg = true
		p.advance()
	}
	tok := p.cur
	switch tok.typ {
	case tokenString:
		if neg {
			return nil, p.errorf("unexpected '-' before string")
		}
		p.advance()
		return tok.literal, nil
	case tokenTrue, tokenFalse:
		p.advance()
		return tok.typ == tokenTrue, nil
	case tokenNumber:
		p.advance()
		lit := tok.literal
		if neg {
			lit = "-" + lit
		}
		if i, err := strconv.ParseInt(lit, 10, 64); err == nil {
			return i, nil
		}
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return nil, &ParseError{Message: "invalid number", Position: tok.pos, Token: tok.String()}
		}
		return f, nil
	}
	return nil, p.errorf("expected a value")
}
