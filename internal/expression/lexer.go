package expression

import (
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent
	tokTrue
	tokFalse
	tokLParen
	tokRParen
	tokComma
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLT
	tokGT
	tokLTE
	tokGTE
	tokEQ
	tokNEQ
	tokAnd
	tokOr
	tokNot
	tokQuestion
	tokColon
)

var tokenNames = map[tokenType]string{
	tokEOF:      "end of expression",
	tokNumber:   "number",
	tokString:   "string",
	tokIdent:    "identifier",
	tokTrue:     "true",
	tokFalse:    "false",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokComma:    "','",
	tokPlus:     "'+'",
	tokMinus:    "'-'",
	tokStar:     "'*'",
	tokSlash:    "'/'",
	tokLT:       "'<'",
	tokGT:       "'>'",
	tokLTE:      "'<='",
	tokGTE:      "'>='",
	tokEQ:       "'=='",
	tokNEQ:      "'!='",
	tokAnd:      "'&&'",
	tokOr:       "'||'",
	tokNot:      "'!'",
	tokQuestion: "'?'",
	tokColon:    "':'",
}

func (t tokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return "token(" + strconv.Itoa(int(t)) + ")"
}

type token struct {
	typ  tokenType
	text string  // raw text, or the unescaped body for strings
	num  float64 // parsed value for tokNumber
	pos  Position
}

// lexer turns expression source into tokens, tracking rune-based line and column.
type lexer struct {
	src  []rune
	off  int
	line int
	col  int
}

func newLexer(src string) *lexer {
	return &lexer{src: []rune(src), line: 1, col: 1}
}

func (l *lexer) peek() rune {
	return l.peekN(0)
}

func (l *lexer) peekN(n int) rune {
	if l.off+n >= len(l.src) {
		return 0
	}
	return l.src[l.off+n]
}

func (l *lexer) read() rune {
	if l.off >= len(l.src) {
		return 0
	}
	r := l.src[l.off]
	l.off++
	if r == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return r
}

func (l *lexer) here() Position {
	return Position{Line: l.line, Column: l.col}
}

func (l *lexer) skipSpace() {
	for l.off < len(l.src) && unicode.IsSpace(l.src[l.off]) {
		l.read()
	}
}

// tokenize scans the whole source; the last token is always tokEOF.
func tokenize(src string) ([]token, error) {
	l := newLexer(src)
	var out []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
		if tok.typ == tokEOF {
			return out, nil
		}
	}
}

var twoCharOps = map[string]tokenType{
	"<=": tokLTE,
	">=": tokGTE,
	"==": tokEQ,
	"!=": tokNEQ,
	"&&": tokAnd,
	"||": tokOr,
}

var oneCharOps = map[rune]tokenType{
	'(': tokLParen,
	')': tokRParen,
	',': tokComma,
	'+': tokPlus,
	'-': tokMinus,
	'*': tokStar,
	'/': tokSlash,
	'<': tokLT,
	'>': tokGT,
	'!': tokNot,
	'?': tokQuestion,
	':': tokColon,
}

func (l *lexer) next() (token, error) {
	l.skipSpace()
	start := l.here()
	r := l.peek()
	switch {
	case l.off >= len(l.src):
		return token{typ: tokEOF, pos: start}, nil
	case unicode.IsDigit(r) || (r == '.' && unicode.IsDigit(l.peekN(1))):
		return l.lexNumber(start)
	case r == '_' || unicode.IsLetter(r):
		return l.lexIdent(start), nil
	case r == '"' || r == '\'':
		return l.lexString(start)
	}

	if l.off+1 < len(l.src) {
		pair := string(l.src[l.off : l.off+2])
		if typ, ok := twoCharOps[pair]; ok {
			l.read()
			l.read()
			return token{typ: typ, text: pair, pos: start}, nil
		}
	}
	if typ, ok := oneCharOps[r]; ok {
		l.read()
		return token{typ: typ, text: string(r), pos: start}, nil
	}
	switch r {
	case '&', '|', '=':
		return token{}, parseErrorf(start, "unexpected character %q (did you mean %q?)", r, string([]rune{r, r}))
	}
	return token{}, parseErrorf(start, "unexpected character %q", r)
}

func (l *lexer) lexNumber(start Position) (token, error) {
	var sb strings.Builder
	seenDot := false
	for {
		r := l.peek()
		if unicode.IsDigit(r) {
			sb.WriteRune(l.read())
			continue
		}
		if r == '.' && !seenDot {
			seenDot = true
			sb.WriteRune(l.read())
			continue
		}
		break
	}
	if r := l.peek(); r == 'e' || r == 'E' {
		next := l.peekN(1)
		if unicode.IsDigit(next) || ((next == '+' || next == '-') && unicode.IsDigit(l.peekN(2))) {
			sb.WriteRune(l.read())
			if next == '+' || next == '-' {
				sb.WriteRune(l.read())
			}
			for unicode.IsDigit(l.peek()) {
				sb.WriteRune(l.read())
			}
		}
	}
	text := sb.String()
	if r := l.peek(); r == '_' || unicode.IsLetter(r) || r == '.' {
		return token{}, parseErrorf(start, "malformed number %q", text+string(r))
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, parseErrorf(start, "malformed number %q", text)
	}
	return token{typ: tokNumber, text: text, num: f, pos: start}, nil
}

func (l *lexer) lexIdent(start Position) token {
	var sb strings.Builder
	for {
		r := l.peek()
		if r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(l.read())
			continue
		}
		break
	}
	text := sb.String()
	switch strings.ToLower(text) {
	case "true":
		return token{typ: tokTrue, text: text, pos: start}
	case "false":
		return token{typ: tokFalse, text: text, pos: start}
	}
	return token{typ: tokIdent, text: text, pos: start}
}

func (l *lexer) lexString(start Position) (token, error) {
	quote := l.read()
	var sb strings.Builder
	for {
		if l.off >= len(l.src) {
			return token{}, parseErrorf(start, "unterminated string literal")
		}
		r := l.read()
		if r == quote {
			return token{typ: tokString, text: sb.String(), pos: start}, nil
		}
		if r == '\n' {
			return token{}, parseErrorf(start, "unterminated string literal")
		}
		if r != '\\' {
			sb.WriteRune(r)
			continue
		}
		escAt := l.here()
		esc := l.read()
		switch esc {
		case 'n':
			sb.WriteRune('\n')
		case 't':
			sb.WriteRune('\t')
		case 'r':
			sb.WriteRune('\r')
		case '\\', '\'', '"':
			sb.WriteRune(esc)
		case 0:
			return token{}, parseErrorf(start, "unterminated string literal")
		default:
			return token{}, parseErrorf(escAt, "unknown escape sequence \\%c", esc)
		}
	}
}
