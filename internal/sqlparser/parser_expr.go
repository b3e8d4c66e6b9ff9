package sqlparser

import "strings"

// parseExpression parses an expression using precedence climbing.
func (p *Parser) parseExpression() Expr {
	return p.parseExpressionWithPrecedence(PrecedenceNone + 1)
}

func (p *Parser) parseExpressionWithPrecedence(minPrecedence int) Expr {
	left := p.parsePrefixExpr()
	for {
		prec := p.getInfixPrecedence()
		if prec < minPrecedence {
			return left
		}
		left = p.parseInfixExpr(left, prec)
	}
}

func (p *Parser) parseExprList() []Expr {
	var exprs []Expr
	for {
		exprs = append(exprs, p.parseExpression())
		if !p.match(TOKEN_COMMA) {
			return exprs
		}
	}
}

func (p *Parser) parsePrefixExpr() Expr {
	switch p.token.Type {
	case TOKEN_NOT:
		p.nextToken()
		return &UnaryExpr{Op: TOKEN_NOT, Expr: p.parseExpressionWithPrecedence(PrecedenceNot)}
	case TOKEN_MINUS, TOKEN_PLUS:
		op := p.token.Type
		p.nextToken()
		return &UnaryExpr{Op: op, Expr: p.parseExpressionWithPrecedence(PrecedenceUnary)}
	default:
		return p.parsePrimary()
	}
}

func (p *Parser) getInfixPrecedence() int {
	switch p.token.Type {
	case TOKEN_OR:
		return PrecedenceOr
	case TOKEN_AND:
		return PrecedenceAnd
	case TOKEN_EQ, TOKEN_NE, TOKEN_LT, TOKEN_GT, TOKEN_LE, TOKEN_GE,
		TOKEN_IS, TOKEN_IN, TOKEN_BETWEEN:
		return PrecedenceComparison
	case TOKEN_NOT:
		if p.peek.Type == TOKEN_IN || p.peek.Type == TOKEN_BETWEEN {
			return PrecedenceComparison
		}
		return PrecedenceNone
	case TOKEN_PLUS, TOKEN_MINUS, TOKEN_DPIPE:
		return PrecedenceAddition
	case TOKEN_STAR, TOKEN_SLASH, TOKEN_MOD:
		return PrecedenceMultiply
	case TOKEN_DCOLON:
		return PrecedencePostfix
	default:
		return PrecedenceNone
	}
}

func (p *Parser) parseInfixExpr(left Expr, prec int) Expr {
	switch p.token.Type {
	case TOKEN_NOT:
		p.nextToken()
		if p.match(TOKEN_IN) {
			return p.parseInExpr(left, true)
		}
		p.expect(TOKEN_BETWEEN)
		return p.parseBetweenExpr(left, true)
	case TOKEN_IS:
		p.nextToken()
		not := p.match(TOKEN_NOT)
		p.expect(TOKEN_NULL)
		return &IsNullExpr{Expr: left, Not: not}
	case TOKEN_IN:
		p.nextToken()
		return p.parseInExpr(left, false)
	case TOKEN_BETWEEN:
		p.nextToken()
		return p.parseBetweenExpr(left, false)
	case TOKEN_DCOLON:
		p.nextToken()
		return &CastExpr{Expr: left, TypeName: p.parseTypeName()}
	default:
		op := p.token.Type
		p.nextToken()
		right := p.parseExpressionWithPrecedence(prec + 1)
		return &BinaryExpr{Left: left, Op: op, Right: right}
	}
}

func (p *Parser) parseInExpr(left Expr, not bool) Expr {
	p.expect(TOKEN_LPAREN)
	if p.check(TOKEN_SELECT) {
		p.fail("subqueries are not supported in IN")
	}
	values := p.parseExprList()
	p.expect(TOKEN_RPAREN)
	return &InExpr{Expr: left, Not: not, Values: values}
}

func (p *Parser) parseBetweenExpr(left Expr, not bool) Expr {
	low := p.parseExpressionWithPrecedence(PrecedenceAddition)
	p.expect(TOKEN_AND)
	high := p.parseExpressionWithPrecedence(PrecedenceAddition)
	return &BetweenExpr{Expr: left, Not: not, Low: low, High: high}
}

func (p *Parser) parsePrimary() Expr {
	tok := p.token
	switch tok.Type {
	case TOKEN_NUMBER:
		p.nextToken()
		return &Literal{Type: LiteralNumber, Value: tok.Literal}
	case TOKEN_STRING:
		p.nextToken()
		return &Literal{Type: LiteralString, Value: tok.Literal}
	case TOKEN_TRUE, TOKEN_FALSE:
		p.nextToken()
		return &Literal{Type: LiteralBool, Value: strings.ToLower(tok.Literal)}
	case TOKEN_NULL:
		p.nextToken()
		return &Literal{Type: LiteralNull, Value: "NULL"}
	case TOKEN_STAR:
		p.nextToken()
		return &StarExpr{}
	case TOKEN_LPAREN:
		p.nextToken()
		if p.check(TOKEN_SELECT) {
			p.fail("scalar subqueries are not supported")
		}
		expr := p.parseExpression()
		p.expect(TOKEN_RPAREN)
		return expr
	case TOKEN_LBRACKET:
		p.nextToken()
		list := &ListExpr{}
		if !p.check(TOKEN_RBRACKET) {
			list.Items = p.parseExprList()
		}
		p.expect(TOKEN_RBRACKET)
		return list
	case TOKEN_CAST:
		p.nextToken()
		p.expect(TOKEN_LPAREN)
		expr := p.parseExpression()
		p.expect(TOKEN_AS)
		typeName := p.parseTypeName()
		p.expect(TOKEN_RPAREN)
		return &CastExpr{Expr: expr, TypeName: typeName}
	}

	if !p.isIdent() {
		p.fail("unexpected %s in expression", describe(tok))
	}
	name := p.parseIdent()
	switch {
	case p.check(TOKEN_LPAREN):
		return p.parseFuncCall(name)
	case p.match(TOKEN_DOT):
		if p.match(TOKEN_STAR) {
			return &StarExpr{Table: name}
		}
		return &ColumnRef{Table: name, Column: p.parseIdent()}
	}
	return &ColumnRef{Column: name}
}

func (p *Parser) parseFuncCall(name string) Expr {
	p.expect(TOKEN_LPAREN)
	call := &FuncCall{Name: name}
	switch {
	case p.match(TOKEN_STAR):
		call.Star = true
	case p.check(TOKEN_RPAREN):
	default:
		if p.match(TOKEN_DISTINCT) {
			call.Distinct = true
		} else {
			p.match(TOKEN_ALL)
		}
		call.Args = p.parseExprList()
	}
	p.expect(TOKEN_RPAREN)

	if p.check(TOKEN_IGNORE) || p.check(TOKEN_RESPECT) {
		ignore := p.token.Type == TOKEN_IGNORE
		p.nextToken()
		p.expect(TOKEN_NULLS)
		call.IgnoreNulls = &ignore
	}
	return call
}

// parseTypeName reads a type name such as BIGINT, DOUBLE PRECISION or
// VARCHAR(32). Length parameters are accepted and dropped.
func (p *Parser) parseTypeName() string {
	name := strings.ToUpper(p.parseIdent())
	if name == "DOUBLE" && p.check(TOKEN_IDENT) && strings.EqualFold(p.token.Literal, "precision") {
		p.nextToken()
		name = "DOUBLE PRECISION"
	}
	if p.match(TOKEN_LPAREN) {
		for !p.check(TOKEN_RPAREN) {
			if p.check(TOKEN_EOF) {
				p.fail("unexpected end of input in type name")
			}
			p.nextToken()
		}
		p.nextToken()
	}
	return name
}
