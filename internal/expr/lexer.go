package expr

import (
	"fmt"
	"strings"
	"unicode"
)

// tokenType is the type of a lexical token in a filter string.
type tokenType int

const (
	tokenEOF tokenType = iota
	tokenError
	tokenIdent
	tokenNumber
	tokenString

	tokenAnd
	tokenOr
	tokenNot
	tokenIn
	tokenIs
	tokenNull
	tokenNaN
	tokenLike
	tokenBetween
	tokenTrue
	tokenFalse

	tokenEq     // =
	tokenNe     // <> or !=
	tokenLt     // <
	tokenGt     // >
	tokenLe     // <=
	tokenGe     // >=
	tokenMinus  // -
	tokenComma  // ,
	tokenLParen // (
	tokenRParen // )
)

type token struct {
	typ     tokenType
	literal string
	pos     int
}

var keywords = map[string]tokenType{
	"AND":     tokenAnd,
	"OR":      tokenOr,
	"NOT":     tokenNot,
	"IN":      tokenIn,
	"IS":      tokenIs,
	"NULL":    tokenNull,
	"NAN":     tokenNaN,
	"LIKE":    tokenLike,
	"BETWEEN": tokenBetween,
	"TRUE":    tokenTrue,
	"FALSE":   tokenFalse,
}

// lexer tokenizes a filter string.
type lexer struct {
	input   string
	pos     int
	readPos int
	ch      byte
}

func newLexer(input string) *lexer {
	l := &lexer{input: input}
	l.readChar()
	return l
}

func (l *lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++
}

func (l *lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *lexer) skipWhitespace() {
	for l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r' {
		l.readChar()
	}
}

func (l *lexer) next() token {
	l.skipWhitespace()

	start := l.pos
	var tok token

	switch l.ch {
	case '=':
		if l.peekChar() == '=' {
			l.readChar()
		}
		tok = token{tokenEq, "=", start}
	case '<':
		switch l.peekChar() {
		case '=':
			l.readChar()
			tok = token{tokenLe, "<=", start}
		case '>':
			l.readChar()
			tok = token{tokenNe, "<>", start}
		default:
			tok = token{tokenLt, "<", start}
		}
	case '>':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token{tokenGe, ">=", start}
		} else {
			tok = token{tokenGt, ">", start}
		}
	case '!':
		if l.peekChar() == '=' {
			l.readChar()
			tok = token{tokenNe, "!=", start}
		} else {
			tok = token{tokenError, "!", start}
		}
	case '-':
		tok = token{tokenMinus, "-", start}
	case ',':
		tok = token{tokenComma, ",", start}
	case '(':
		tok = token{tokenLParen, "(", start}
	case ')':
		tok = token{tokenRParen, ")", start}
	case '\'':
		tok = l.readString()
	case '"':
		tok = l.readQuotedIdent()
	case 0:
		return token{tokenEOF, "", start}
	default:
		switch {
		case isLetter(l.ch) || l.ch == '_':
			return l.readIdentifier()
		case isDigit(l.ch):
			return l.readNumber()
		}
		tok = token{tokenError, string(l.ch), start}
	}

	l.readChar()
	return tok
}

func (l *lexer) readIdentifier() token {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) || l.ch == '_' || l.ch == '.' {
		l.readChar()
	}
	lit := l.input[start:l.pos]
	if typ, ok := keywords[strings.ToUpper(lit)]; ok {
		return token{typ, strings.ToUpper(lit), start}
	}
	return token{tokenIdent, lit, start}
}

func (l *lexer) readNumber() token {
	start := l.pos
	seenDot, seenExp := false, false
	for {
		switch {
		case isDigit(l.ch):
		case l.ch == '.' && !seenDot && !seenExp:
			seenDot = true
		case (l.ch == 'e' || l.ch == 'E') && !seenExp:
			seenExp = true
			if p := l.peekChar(); p == '-' || p == '+' {
				l.readChar()
			}
		default:
			return token{tokenNumber, l.input[start:l.pos], start}
		}
		l.readChar()
	}
}

// readString reads a single-quoted string; ” escapes a quote.
func (l *lexer) readString() token {
	start := l.pos
	var sb strings.Builder
	for {
		l.readChar()
		switch {
		case l.ch == 0:
			return token{tokenError, "unterminated string", start}
		case l.ch == '\'' && l.peekChar() == '\'':
			sb.WriteByte('\'')
			l.readChar()
		case l.ch == '\'':
			return token{tokenString, sb.String(), start}
		default:
			sb.WriteByte(l.ch)
		}
	}
}

// readQuotedIdent reads a double-quoted column name.
func (l *lexer) readQuotedIdent() token {
	start := l.pos
	l.readChar()
	begin := l.pos
	for l.ch != '"' {
		if l.ch == 0 {
			return token{tokenError, "unterminated identifier", start}
		}
		l.readChar()
	}
	return token{tokenIdent, l.input[begin:l.pos], start}
}

func isLetter(ch byte) bool {
	return ch < unicode.MaxASCII && unicode.IsLetter(rune(ch))
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func (t token) String() string {
	if t.typ == tokenEOF {
		return "end of input"
	}
	return fmt.Sprintf("%q", t.literal)
}
