package expression

import "strings"

// maxNestingDepth bounds recursion for pathological inputs like "((((...".
const maxNestingDepth = 200

type parser struct {
	tokens []token
	pos    int
	depth  int
}

// Parse turns expression source into a tree. Malformed input yields a
// *ParseError carrying the line and column of the offending token.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, &ParseError{Line: 1, Column: 1, Message: "expression is empty"}
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	root, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.typ != tokEOF {
		if tok.typ == tokRParen {
			return nil, parseErrorf(tok.pos, "unbalanced parentheses: unexpected ')'")
		}
		return nil, parseErrorf(tok.pos, "unexpected %s after end of expression", describe(tok))
	}
	return root, nil
}

// MustParse is Parse for tests and static tables; it panics on error.
func MustParse(src string) Node {
	n, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return n
}

func describe(tok token) string {
	switch tok.typ {
	case tokIdent:
		return "identifier '" + tok.text + "'"
	case tokNumber:
		return "number " + tok.text
	case tokString:
		return "string literal"
	default:
		return tok.typ.String()
	}
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) advance() token {
	tok := p.tokens[p.pos]
	if tok.typ != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(typ tokenType, context string) (token, error) {
	tok := p.peek()
	if tok.typ != typ {
		return tok, parseErrorf(tok.pos, "expected %s %s, found %s", typ, context, describe(tok))
	}
	return p.advance(), nil
}

func (p *parser) enter(at Position) error {
	p.depth++
	if p.depth > maxNestingDepth {
		return parseErrorf(at, "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// Expression: OrExpr ( '?' Expression ':' Expression )?
func (p *parser) parseExpression() (Node, error) {
	if err := p.enter(p.peek().pos); err != nil {
		return nil, err
	}
	defer p.leave()

	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokQuestion {
		return cond, nil
	}
	q := p.advance()
	then, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon, "in conditional expression"); err != nil {
		return nil, err
	}
	els, err := p.parseExpression()
	if err != nil {
		return nil, err
	}
	return &CondExpr{Cond: cond, Then: then, Else: els, At: q.pos}, nil
}

// parseBinary handles one left-associative precedence level.
func (p *parser) parseBinary(operand func() (Node, error), ops ...tokenType) (Node, error) {
	left, err := operand()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		matched := false
		for _, op := range ops {
			if tok.typ == op {
				matched = true
				break
			}
		}
		if !matched {
			return left, nil
		}
		p.advance()
		right, err := operand()
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{Op: tok.text, Left: left, Right: right, At: tok.pos}
	}
}

func (p *parser) parseOr() (Node, error) {
	return p.parseBinary(p.parseAnd, tokOr)
}

func (p *parser) parseAnd() (Node, error) {
	return p.parseBinary(p.parseEquality, tokAnd)
}

func (p *parser) parseEquality() (Node, error) {
	return p.parseBinary(p.parseRelational, tokEQ, tokNEQ)
}

func (p *parser) parseRelational() (Node, error) {
	return p.parseBinary(p.parseAdditive, tokLT, tokGT, tokLTE, tokGTE)
}

func (p *parser) parseAdditive() (Node, error) {
	return p.parseBinary(p.parseMultiplicative, tokPlus, tokMinus)
}

func (p *parser) parseMultiplicative() (Node, error) {
	return p.parseBinary(p.parseUnary, tokStar, tokSlash)
}

// Unary: ('!' | '-') Unary | Primary
func (p *parser) parseUnary() (Node, error) {
	tok := p.peek()
	if tok.typ != tokNot && tok.typ != tokMinus {
		return p.parsePrimary()
	}
	if err := p.enter(tok.pos); err != nil {
		return nil, err
	}
	defer p.leave()
	p.advance()
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &UnaryExpr{Op: tok.text, X: x, At: tok.pos}, nil
}

func (p *parser) parsePrimary() (Node, error) {
	tok := p.peek()
	switch tok.typ {
	case tokNumber:
		p.advance()
		return &NumberLit{Value: tok.num, Raw: tok.text, At: tok.pos}, nil
	case tokString:
		p.advance()
		return &StringLit{Value: tok.text, At: tok.pos}, nil
	case tokTrue, tokFalse:
		p.advance()
		return &BoolLit{Value: tok.typ == tokTrue, At: tok.pos}, nil
	case tokIdent:
		p.advance()
		if p.peek().typ == tokLParen {
			return p.parseCall(tok)
		}
		return &Ident{Name: tok.text, At: tok.pos}, nil
	case tokLParen:
		p.advance()
		inner, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		if closing := p.peek(); closing.typ != tokRParen {
			if closing.typ == tokEOF {
				return nil, parseErrorf(closing.pos, "unbalanced parentheses: '(' opened at %s is never closed", tok.pos)
			}
			return nil, parseErrorf(closing.pos, "expected ')' to close '(' opened at %s, found %s", tok.pos, describe(closing))
		}
		p.advance()
		return inner, nil
	case tokEOF:
		return nil, parseErrorf(tok.pos, "unexpected end of expression")
	case tokRParen:
		return nil, parseErrorf(tok.pos, "unbalanced parentheses: unexpected ')'")
	default:
		return nil, parseErrorf(tok.pos, "unexpected %s", describe(tok))
	}
}

// Call: IDENT '(' ( Expression ( ',' Expression )* )? ')'
func (p *parser) parseCall(name token) (Node, error) {
	open := p.advance()
	call := &CallExpr{Name: name.text, At: name.pos}
	if p.peek().typ == tokRParen {
		p.advance()
		return call, nil
	}
	for {
		arg, err := p.parseExpression()
		if err != nil {
			return nil, err
		}
		call.Args = append(call.Args, arg)
		tok := p.peek()
		switch tok.typ {
		case tokComma:
			p.advance()
		case tokRParen:
			p.advance()
			return call, nil
		case tokEOF:
			return nil, parseErrorf(tok.pos, "unbalanced parentheses: call to %s opened at %s is never closed", name.text, open.pos)
		default:
			return nil, parseErrorf(tok.pos, "expected ',' or ')' in call to %s, found %s", name.text, describe(tok))
		}
	}
}
