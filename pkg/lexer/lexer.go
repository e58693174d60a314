// Package lexer turns E-Minor source text into a flat token stream.
package lexer

import (
	"fmt"

	"eminor/pkg/token"
)

// Error reports a malformed byte, unterminated literal, or unknown
// directive, together with the cursor position where it was found.
type Error struct {
	Line    int
	Column  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s @%d:%d", e.Message, e.Line, e.Column)
}

const durNs = 1
const durMs = 1_000_000
const durS = 1_000_000_000
const durM = 60 * durS
const durH = 3600 * durS

// Lexer holds all mutable state for a single scanning pass over src.
type Lexer struct {
	src    []rune
	pos    int
	line   int
	column int
}

func New(src string) *Lexer {
	return &Lexer{src: []rune(src), pos: 0, line: 1, column: 1}
}

func (l *Lexer) peek() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *Lexer) peek2() rune {
	if l.pos+1 >= len(l.src) {
		return 0
	}
	return l.src[l.pos+1]
}

func (l *Lexer) advance() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	r := l.src[l.pos]
	l.pos++
	if r == '\n' {
		l.line++
		l.column = 1
	} else {
		l.column++
	}
	return r
}

func isLetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '_'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isHexDigit(r rune) bool {
	return isDigit(r) || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}

func isIdentBody(r rune) bool {
	return isLetter(r) || isDigit(r)
}

func (l *Lexer) skipWhitespace() {
	for l.pos < len(l.src) {
		switch l.peek() {
		case ' ', '\t', '\r', '\n':
			l.advance()
		default:
			return
		}
	}
}

// skipLineComment discards from just after "//" to end of line.
func (l *Lexer) skipLineComment() {
	for l.pos < len(l.src) && l.peek() != '\n' {
		l.advance()
	}
}

// skipBlockComment discards up to and including the closing "*/". The
// opening "/*" must already have been consumed. Nesting is not supported.
func (l *Lexer) skipBlockComment() error {
	startLine, startCol := l.line, l.column
	for l.pos < len(l.src) {
		if l.peek() == '*' && l.peek2() == '/' {
			l.advance()
			l.advance()
			return nil
		}
		l.advance()
	}
	return &Error{startLine, startCol, "unterminated block comment"}
}

func (l *Lexer) readIdentOrKeyword() token.Token {
	line, col := l.line, l.column
	start := l.pos
	for l.pos < len(l.src) && isIdentBody(l.peek()) {
		l.advance()
	}
	lex := string(l.src[start:l.pos])

	if lex == "true" || lex == "false" {
		return token.Token{Kind: token.BOOL, Lexeme: lex, Line: line, Column: col, Value: lex == "true"}
	}
	if kw, ok := token.Keywords[lex]; ok {
		return token.Token{Kind: kw, Lexeme: lex, Line: line, Column: col}
	}
	return token.Token{Kind: token.IDENT, Lexeme: lex, Line: line, Column: col, Value: lex}
}

// readDollarIdent reads a $-prefixed capsule/function sigil. The '$' must
// still be at l.peek().
func (l *Lexer) readDollarIdent() (token.Token, error) {
	line, col := l.line, l.column
	l.advance() // consume '$'
	if !isLetter(l.peek()) {
		return token.Token{}, &Error{line, col, "invalid identifier after '$'"}
	}
	start := l.pos
	for l.pos < len(l.src) && isIdentBody(l.peek()) {
		l.advance()
	}
	name := string(l.src[start:l.pos])
	return token.Token{Kind: token.DOLLAR_IDENT, Lexeme: "$" + name, Line: line, Column: col, Value: name}, nil
}

// readLabel reads a :-prefixed label. The ':' must still be at l.peek();
// the caller has already confirmed the following rune starts an identifier.
func (l *Lexer) readLabel() token.Token {
	line, col := l.line, l.column
	l.advance() // consume ':'
	start := l.pos
	for l.pos < len(l.src) && isIdentBody(l.peek()) {
		l.advance()
	}
	name := string(l.src[start:l.pos])
	return token.Token{Kind: token.LABEL, Lexeme: ":" + name, Line: line, Column: col, Value: name}
}

func (l *Lexer) readString() (token.Token, error) {
	line, col := l.line, l.column
	l.advance() // consume opening quote
	var out []rune
	for {
		if l.pos >= len(l.src) {
			return token.Token{}, &Error{line, col, "unterminated string literal"}
		}
		r := l.peek()
		if r == '"' {
			l.advance()
			return token.Token{Kind: token.STRING, Lexeme: string(out), Line: line, Column: col, Value: string(out)}, nil
		}
		if r == '\n' {
			return token.Token{}, &Error{line, col, "unterminated string literal"}
		}
		if r == '\\' {
			l.advance()
			esc := l.peek()
			switch esc {
			case 'n':
				out = append(out, '\n')
			case 't':
				out = append(out, '\t')
			case '"':
				out = append(out, '"')
			case '\\':
				out = append(out, '\\')
			case 'x':
				l.advance()
				h1, h2 := l.peek(), l.peek2()
				if !isHexDigit(h1) || !isHexDigit(h2) {
					return token.Token{}, &Error{l.line, l.column, "bad \\x escape"}
				}
				l.advance()
				l.advance()
				v := hexVal(h1)*16 + hexVal(h2)
				out = append(out, rune(v))
				continue
			default:
				return token.Token{}, &Error{l.line, l.column, fmt.Sprintf("unknown escape '\\%c'", esc)}
			}
			l.advance()
			continue
		}
		out = append(out, r)
		l.advance()
	}
}

func hexVal(r rune) int {
	switch {
	case r >= '0' && r <= '9':
		return int(r - '0')
	case r >= 'a' && r <= 'f':
		return int(r-'a') + 10
	default:
		return int(r-'A') + 10
	}
}

// readNumber reads a decimal or hex integer literal, scaling to a Duration
// token when followed immediately by a recognized unit suffix.
func (l *Lexer) readNumber() (token.Token, error) {
	line, col := l.line, l.column
	start := l.pos

	if l.peek() == '0' && (l.peek2() == 'x' || l.peek2() == 'X') {
		l.advance()
		l.advance()
		digitsStart := l.pos
		for l.pos < len(l.src) && isHexDigit(l.peek()) {
			l.advance()
		}
		if l.pos == digitsStart {
			return token.Token{}, &Error{line, col, "invalid hex literal"}
		}
		lex := string(l.src[start:l.pos])
		var v int64
		fmt.Sscanf(lex[2:], "%x", &v)
		return token.Token{Kind: token.HEX, Lexeme: lex, Line: line, Column: col, Value: v}, nil
	}

	for l.pos < len(l.src) && isDigit(l.peek()) {
		l.advance()
	}
	numEnd := l.pos
	var num int64
	fmt.Sscanf(string(l.src[start:numEnd]), "%d", &num)

	mult, unitLen, ok := l.matchUnitSuffix()
	if !ok {
		return token.Token{Kind: token.INT, Lexeme: string(l.src[start:numEnd]), Line: line, Column: col, Value: num}, nil
	}
	for i := 0; i < unitLen; i++ {
		l.advance()
	}
	lex := string(l.src[start:l.pos])
	return token.Token{Kind: token.DURATION, Lexeme: lex, Line: line, Column: col, Value: uint64(num) * uint64(mult)}, nil
}

// matchUnitSuffix looks ahead (without consuming) for one of ns|ms|s|m|h.
// Returns the nanosecond multiplier, the suffix length in runes, and
// whether a suffix matched at all. A letter suffix that doesn't match any
// known unit is left for the caller: this function only recognizes valid
// units, so e.g. "10x" simply yields an INT followed by an IDENT "x".
func (l *Lexer) matchUnitSuffix() (mult int64, length int, ok bool) {
	c := l.peek()
	c2 := l.peek2()
	switch {
	case c == 'n' && c2 == 's':
		return durNs, 2, true
	case c == 'm' && c2 == 's':
		return durMs, 2, true
	case c == 's' && !isIdentBody(c2):
		return durS, 1, true
	case c == 'm' && !isIdentBody(c2):
		return durM, 1, true
	case c == 'h' && !isIdentBody(c2):
		return durH, 1, true
	default:
		return 0, 0, false
	}
}

// readDirective reads a '#'- or '@'-prefixed keyword-shaped lexeme and
// looks it up in the given table. Unknown lexemes are a lex error.
func (l *Lexer) readDirective(prefix rune, table map[string]token.Kind, what string) (token.Token, error) {
	line, col := l.line, l.column
	l.advance() // consume prefix
	start := l.pos
	for l.pos < len(l.src) && isIdentBody(l.peek()) {
		l.advance()
	}
	name := string(l.src[start:l.pos])
	kind, ok := table[name]
	if !ok {
		return token.Token{}, &Error{line, col, fmt.Sprintf("unknown %s directive '%c%s'", what, prefix, name)}
	}
	return token.Token{Kind: kind, Lexeme: string(prefix) + name, Line: line, Column: col}, nil
}

// Next scans and returns the next token, or an error on the first
// malformed byte or unterminated literal/comment.
func (l *Lexer) Next() (token.Token, error) {
	for {
		l.skipWhitespace()
		if l.pos >= len(l.src) {
			return token.Token{Kind: token.EOF, Line: l.line, Column: l.column}, nil
		}
		if l.peek() == '/' && l.peek2() == '/' {
			l.advance()
			l.advance()
			l.skipLineComment()
			continue
		}
		if l.peek() == '/' && l.peek2() == '*' {
			l.advance()
			l.advance()
			if err := l.skipBlockComment(); err != nil {
				return token.Token{}, err
			}
			continue
		}
		break
	}

	line, col := l.line, l.column
	ch := l.peek()

	switch {
	case isLetter(ch):
		return l.readIdentOrKeyword(), nil
	case isDigit(ch):
		return l.readNumber()
	case ch == '"':
		return l.readString()
	case ch == '$':
		return l.readDollarIdent()
	case ch == '#':
		return l.readDirective('#', token.HashKeywords, "shortcode")
	case ch == '@':
		return l.readDirective('@', token.AtKeywords, "at")
	case ch == ':' && isLetter(l.peek2()):
		return l.readLabel(), nil
	}

	l.advance()
	switch ch {
	case '(':
		return token.Token{Kind: token.LPAREN, Lexeme: "(", Line: line, Column: col}, nil
	case ')':
		return token.Token{Kind: token.RPAREN, Lexeme: ")", Line: line, Column: col}, nil
	case '{':
		return token.Token{Kind: token.LBRACE, Lexeme: "{", Line: line, Column: col}, nil
	case '}':
		return token.Token{Kind: token.RBRACE, Lexeme: "}", Line: line, Column: col}, nil
	case '[':
		return token.Token{Kind: token.LBRACKET, Lexeme: "[", Line: line, Column: col}, nil
	case ']':
		return token.Token{Kind: token.RBRACKET, Lexeme: "]", Line: line, Column: col}, nil
	case '.':
		return token.Token{Kind: token.DOT, Lexeme: ".", Line: line, Column: col}, nil
	case ';':
		return token.Token{Kind: token.SEMICOLON, Lexeme: ";", Line: line, Column: col}, nil
	case ',':
		return token.Token{Kind: token.COMMA, Lexeme: ",", Line: line, Column: col}, nil
	case ':':
		return token.Token{Kind: token.COLON, Lexeme: ":", Line: line, Column: col}, nil
	case '+':
		return token.Token{Kind: token.PLUS, Lexeme: "+", Line: line, Column: col}, nil
	case '-':
		return token.Token{Kind: token.MINUS, Lexeme: "-", Line: line, Column: col}, nil
	case '*':
		return token.Token{Kind: token.STAR, Lexeme: "*", Line: line, Column: col}, nil
	case '/':
		return token.Token{Kind: token.SLASH, Lexeme: "/", Line: line, Column: col}, nil
	case '%':
		return token.Token{Kind: token.PERCENT, Lexeme: "%", Line: line, Column: col}, nil
	case '~':
		return token.Token{Kind: token.TILDE, Lexeme: "~", Line: line, Column: col}, nil
	case '!':
		if l.peek() == '=' {
			l.advance()
			return token.Token{Kind: token.NE, Lexeme: "!=", Line: line, Column: col}, nil
		}
		return token.Token{Kind: token.BANG, Lexeme: "!", Line: line, Column: col}, nil
	case '=':
		if l.peek() == '=' {
			l.advance()
			return token.Token{Kind: token.EQ, Lexeme: "==", Line: line, Column: col}, nil
		}
		return token.Token{Kind: token.ASSIGN, Lexeme: "=", Line: line, Column: col}, nil
	case '<':
		if l.peek() == '=' {
			l.advance()
			return token.Token{Kind: token.LE, Lexeme: "<=", Line: line, Column: col}, nil
		}
		return token.Token{Kind: token.LT, Lexeme: "<", Line: line, Column: col}, nil
	case '>':
		if l.peek() == '=' {
			l.advance()
			return token.Token{Kind: token.GE, Lexeme: ">=", Line: line, Column: col}, nil
		}
		return token.Token{Kind: token.GT, Lexeme: ">", Line: line, Column: col}, nil
	case '&':
		if l.peek() == '&' {
			l.advance()
			return token.Token{Kind: token.AND_AND, Lexeme: "&&", Line: line, Column: col}, nil
		}
		return token.Token{}, &Error{line, col, "unexpected character '&'"}
	case '|':
		if l.peek() == '|' {
			l.advance()
			return token.Token{Kind: token.OR_OR, Lexeme: "||", Line: line, Column: col}, nil
		}
		return token.Token{}, &Error{line, col, "unexpected character '|'"}
	default:
		return token.Token{}, &Error{line, col, fmt.Sprintf("unexpected character %q", ch)}
	}
}

// Lex tokenizes src and returns the full token stream, terminated by an
// EOF token. It returns a non-nil *Error on the first malformed byte or
// unterminated literal/comment, discarding any partial stream.
func Lex(src string) ([]token.Token, error) {
	l := New(src)
	var toks []token.Token
	for {
		tok, err := l.Next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks, nil
		}
	}
}
