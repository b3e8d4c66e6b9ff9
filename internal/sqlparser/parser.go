package sqlparser

import (
	"fmt"
	"strings"
)

// Error is a syntax error at a byte offset of the input.
type Error struct {
	Pos int
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("syntax error at position %d: %s", e.Pos, e.Msg)
}

// Parser parses SQL into an AST.
type Parser struct {
	lexer *Lexer
	token Token // current token
	peek  Token // lookahead token
}

// NewParser creates a new parser for the given SQL input.
func NewParser(sql string) *Parser {
	p := &Parser{lexer: NewLexer(sql)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a single statement. A trailing semicolon is allowed; more
// than one statement is not.
func Parse(sql string) (stmt Stmt, err error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &Error{Pos: 0, Msg: "empty statement"}
	}
	p := NewParser(sql)
	defer p.recover(&err)

	stmt = p.parseTopLevel()
	p.match(TOKEN_SEMICOLON)
	if !p.check(TOKEN_EOF) {
		if p.token.Type == TOKEN_SELECT || p.token.Type == TOKEN_CREATE || p.token.Type == TOKEN_DROP {
			p.fail("multi-statement queries are not allowed")
		}
		p.fail("unexpected %s", describe(p.token))
	}
	if lexErr := p.lexer.Err(); lexErr != nil {
		return nil, lexErr
	}
	return stmt, nil
}

// ParseExpr parses a standalone expression.
func ParseExpr(sql string) (expr Expr, err error) {
	if strings.TrimSpace(sql) == "" {
		return nil, &Error{Pos: 0, Msg: "empty expression"}
	}
	p := NewParser(sql)
	defer p.recover(&err)

	expr = p.parseExpression()
	if !p.check(TOKEN_EOF) {
		p.fail("unexpected %s after expression", describe(p.token))
	}
	if lexErr := p.lexer.Err(); lexErr != nil {
		return nil, lexErr
	}
	return expr, nil
}

// recover turns a parse failure into an error return. Lexical errors take
// precedence since they usually cause the parse failure.
func (p *Parser) recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	e, ok := r.(*Error)
	if !ok {
		panic(r)
	}
	if lexErr := p.lexer.Err(); lexErr != nil {
		*errp = lexErr
		return
	}
	*errp = e
}

func (p *Parser) parseTopLevel() Stmt {
	switch p.token.Type {
	case TOKEN_SELECT:
		return p.parseSelect()
	case TOKEN_CREATE:
		return p.parseCreateView()
	case TOKEN_DROP:
		return p.parseDrop()
	case TOKEN_EXPLAIN:
		p.nextToken()
		return &ExplainStmt{Select: p.parseSelect()}
	}
	p.fail("unexpected %s at start of statement", describe(p.token))
	return nil
}

// === Token Helpers ===

func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) check(t TokenType) bool {
	return p.token.Type == t
}

func (p *Parser) match(t TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

func (p *Parser) expect(t TokenType) Token {
	tok := p.token
	if !p.match(t) {
		p.fail("unexpected %s, expected %s", describe(p.token), t)
	}
	return tok
}

func (p *Parser) fail(format string, args ...any) {
	panic(&Error{Pos: p.token.Pos, Msg: fmt.Sprintf(format, args...)})
}

func describe(tok Token) string {
	switch tok.Type {
	case TOKEN_EOF:
		return "end of input"
	case TOKEN_IDENT, TOKEN_NUMBER, TOKEN_STRING, TOKEN_ILLEGAL:
		return fmt.Sprintf("%s %q", tok.Type, tok.Literal)
	}
	return fmt.Sprintf("%q", tok.Literal)
}

// softKeywords may be used as identifiers.
var softKeywords = map[TokenType]bool{
	TOKEN_FIRST:   true,
	TOKEN_LAST:    true,
	TOKEN_NULLS:   true,
	TOKEN_IGNORE:  true,
	TOKEN_RESPECT: true,
	TOKEN_REPLACE: true,
	TOKEN_VIEW:    true,
	TOKEN_TABLE:   true,
	TOKEN_IF:      true,
	TOKEN_EXISTS:  true,
	TOKEN_EXPLAIN: true,
}

func (p *Parser) isIdent() bool {
	return p.check(TOKEN_IDENT) || softKeywords[p.token.Type]
}

func (p *Parser) parseIdent() string {
	if !p.isIdent() {
		p.fail("unexpected %s, expected identifier", describe(p.token))
	}
	name := p.token.Literal
	p.nextToken()
	return name
}

// === Statements ===

func (p *Parser) parseSelect() *SelectStmt {
	p.expect(TOKEN_SELECT)
	stmt := &SelectStmt{}
	if p.match(TOKEN_DISTINCT) {
		stmt.Distinct = true
	} else {
		p.match(TOKEN_ALL)
	}

	for {
		stmt.Columns = append(stmt.Columns, p.parseSelectItem())
		if !p.match(TOKEN_COMMA) {
			break
		}
	}

	if p.match(TOKEN_FROM) {
		stmt.From = p.parseTableRef()
	}
	if p.match(TOKEN_WHERE) {
		stmt.Where = p.parseExpression()
	}
	if p.match(TOKEN_GROUP) {
		p.expect(TOKEN_BY)
		stmt.GroupBy = p.parseExprList()
	}
	if p.match(TOKEN_HAVING) {
		stmt.Having = p.parseExpression()
	}
	if p.match(TOKEN_ORDER) {
		p.expect(TOKEN_BY)
		for {
			stmt.OrderBy = append(stmt.OrderBy, p.parseOrderByItem())
			if !p.match(TOKEN_COMMA) {
				break
			}
		}
	}
	for {
		switch {
		case stmt.Limit == nil && p.match(TOKEN_LIMIT):
			stmt.Limit = p.parseExpression()
		case stmt.Offset == nil && p.match(TOKEN_OFFSET):
			stmt.Offset = p.parseExpression()
		default:
			return stmt
		}
	}
}

func (p *Parser) parseSelectItem() SelectItem {
	item := SelectItem{Expr: p.parseExpression()}
	if p.match(TOKEN_AS) {
		item.Alias = p.parseIdent()
	} else if p.check(TOKEN_IDENT) {
		item.Alias = p.parseIdent()
	}
	return item
}

func (p *Parser) parseOrderByItem() OrderByItem {
	item := OrderByItem{Expr: p.parseExpression()}
	if p.match(TOKEN_DESC) {
		item.Desc = true
	} else {
		p.match(TOKEN_ASC)
	}
	if p.match(TOKEN_NULLS) {
		first := false
		switch {
		case p.match(TOKEN_FIRST):
			first = true
		case p.match(TOKEN_LAST):
		default:
			p.fail("unexpected %s, expected FIRST or LAST", describe(p.token))
		}
		item.NullsFirst = &first
	}
	return item
}

func (p *Parser) parseTableRef() TableRef {
	if p.match(TOKEN_LPAREN) {
		sel := p.parseSelect()
		p.expect(TOKEN_RPAREN)
		return &DerivedTable{Select: sel, Alias: p.parseOptionalAlias()}
	}
	name := p.parseIdent()
	if p.match(TOKEN_LPAREN) {
		call := &FuncCall{Name: name}
		if !p.check(TOKEN_RPAREN) {
			call.Args = p.parseExprList()
		}
		p.expect(TOKEN_RPAREN)
		return &FuncTable{Func: call, Alias: p.parseOptionalAlias()}
	}
	return &TableName{Name: name, Alias: p.parseOptionalAlias()}
}

func (p *Parser) parseOptionalAlias() string {
	if p.match(TOKEN_AS) {
		return p.parseIdent()
	}
	if p.check(TOKEN_IDENT) {
		return p.parseIdent()
	}
	return ""
}

func (p *Parser) parseCreateView() Stmt {
	p.expect(TOKEN_CREATE)
	stmt := &CreateViewStmt{}
	if p.match(TOKEN_OR) {
		p.expect(TOKEN_REPLACE)
		stmt.OrReplace = true
	}
	p.expect(TOKEN_VIEW)
	stmt.Name = p.parseIdent()
	p.expect(TOKEN_AS)
	stmt.Select = p.parseSelect()
	return stmt
}

func (p *Parser) parseDrop() Stmt {
	p.expect(TOKEN_DROP)
	stmt := &DropStmt{}
	switch {
	case p.match(TOKEN_VIEW):
		stmt.View = true
	case p.match(TOKEN_TABLE):
	default:
		p.fail("unexpected %s, expected TABLE or VIEW", describe(p.token))
	}
	if p.match(TOKEN_IF) {
		p.expect(TOKEN_EXISTS)
		stmt.IfExists = true
	}
	stmt.Name = p.parseIdent()
	return stmt
}
