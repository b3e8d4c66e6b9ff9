// Package sqlparser parses the SQL dialect of the engine: single SELECT
// queries over registered tables and read_parquet, CREATE VIEW and DROP.
package sqlparser

import "fmt"

// TokenType represents the type of a lexical token.
type TokenType int

// TOKEN_EOF and friends enumerate all token types produced by the lexer.
const (
	TOKEN_EOF     TokenType = iota // end of input
	TOKEN_ILLEGAL                  // unexpected character

	TOKEN_IDENT  // identifier
	TOKEN_NUMBER // 123, 45.67, 1e10
	TOKEN_STRING // 'hello'

	TOKEN_PLUS      // +
	TOKEN_MINUS     // -
	TOKEN_STAR      // *
	TOKEN_SLASH     // /
	TOKEN_MOD       // %
	TOKEN_DPIPE     // ||
	TOKEN_EQ        // =
	TOKEN_NE        // != or <>
	TOKEN_LT        // <
	TOKEN_GT        // >
	TOKEN_LE        // <=
	TOKEN_GE        // >=
	TOKEN_DOT       // .
	TOKEN_COMMA     // ,
	TOKEN_SEMICOLON // ;
	TOKEN_LPAREN    // (
	TOKEN_RPAREN    // )
	TOKEN_LBRACKET  // [
	TOKEN_RBRACKET  // ]
	TOKEN_DCOLON    // ::

	// TOKEN_ALL and below are SQL keywords (alphabetical).
	TOKEN_ALL
	TOKEN_AND
	TOKEN_AS
	TOKEN_ASC
	TOKEN_BETWEEN
	TOKEN_BY
	TOKEN_CAST
	TOKEN_CREATE
	TOKEN_DESC
	TOKEN_DISTINCT
	TOKEN_DROP
	TOKEN_EXISTS
	TOKEN_EXPLAIN
	TOKEN_FALSE
	TOKEN_FIRST
	TOKEN_FROM
	TOKEN_GROUP
	TOKEN_HAVING
	TOKEN_IF
	TOKEN_IGNORE
	TOKEN_IN
	TOKEN_IS
	TOKEN_LAST
	TOKEN_LIMIT
	TOKEN_NOT
	TOKEN_NULL
	TOKEN_NULLS
	TOKEN_OFFSET
	TOKEN_OR
	TOKEN_ORDER
	TOKEN_REPLACE
	TOKEN_RESPECT
	TOKEN_SELECT
	TOKEN_TABLE
	TOKEN_TRUE
	TOKEN_VIEW
	TOKEN_WHERE
)

var tokenNames = map[TokenType]string{
	TOKEN_EOF:       "EOF",
	TOKEN_ILLEGAL:   "ILLEGAL",
	TOKEN_IDENT:     "IDENT",
	TOKEN_NUMBER:    "NUMBER",
	TOKEN_STRING:    "STRING",
	TOKEN_PLUS:      "+",
	TOKEN_MINUS:     "-",
	TOKEN_STAR:      "*",
	TOKEN_SLASH:     "/",
	TOKEN_MOD:       "%",
	TOKEN_DPIPE:     "||",
	TOKEN_EQ:        "=",
	TOKEN_NE:        "<>",
	TOKEN_LT:        "<",
	TOKEN_GT:        ">",
	TOKEN_LE:        "<=",
	TOKEN_GE:        ">=",
	TOKEN_DOT:       ".",
	TOKEN_COMMA:     ",",
	TOKEN_SEMICOLON: ";",
	TOKEN_LPAREN:    "(",
	TOKEN_RPAREN:    ")",
	TOKEN_LBRACKET:  "[",
	TOKEN_RBRACKET:  "]",
	TOKEN_DCOLON:    "::",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	for kw, tok := range keywords {
		if tok == t {
			return fmt.Sprintf("keyword %s", kw)
		}
	}
	return fmt.Sprintf("TOKEN(%d)", int(t))
}

var keywords = map[string]TokenType{
	"all":      TOKEN_ALL,
	"and":      TOKEN_AND,
	"as":       TOKEN_AS,
	"asc":      TOKEN_ASC,
	"between":  TOKEN_BETWEEN,
	"by":       TOKEN_BY,
	"cast":     TOKEN_CAST,
	"create":   TOKEN_CREATE,
	"desc":     TOKEN_DESC,
	"distinct": TOKEN_DISTINCT,
	"drop":     TOKEN_DROP,
	"exists":   TOKEN_EXISTS,
	"explain":  TOKEN_EXPLAIN,
	"false":    TOKEN_FALSE,
	"first":    TOKEN_FIRST,
	"from":     TOKEN_FROM,
	"group":    TOKEN_GROUP,
	"having":   TOKEN_HAVING,
	"if":       TOKEN_IF,
	"ignore":   TOKEN_IGNORE,
	"in":       TOKEN_IN,
	"is":       TOKEN_IS,
	"last":     TOKEN_LAST,
	"limit":    TOKEN_LIMIT,
	"not":      TOKEN_NOT,
	"null":     TOKEN_NULL,
	"nulls":    TOKEN_NULLS,
	"offset":   TOKEN_OFFSET,
	"or":       TOKEN_OR,
	"order":    TOKEN_ORDER,
	"replace":  TOKEN_REPLACE,
	"respect":  TOKEN_RESPECT,
	"select":   TOKEN_SELECT,
	"table":    TOKEN_TABLE,
	"true":     TOKEN_TRUE,
	"view":     TOKEN_VIEW,
	"where":    TOKEN_WHERE,
}

// lookupKeyword returns the token type for the given lowercase identifier.
// Returns TOKEN_IDENT if it's not a keyword.
func lookupKeyword(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return TOKEN_IDENT
}

// Token represents a lexical token with its literal value and byte offset.
type Token struct {
	Type    TokenType
	Literal string
	Pos     int
	// Quoted is set for double-quoted identifiers, which are never keywords.
	Quoted bool
}

// Precedence constants for operator precedence parsing.
const (
	PrecedenceNone       = 0
	PrecedenceOr         = 1
	PrecedenceAnd        = 2
	PrecedenceNot        = 3
	PrecedenceComparison = 4 // =, <>, <, >, <=, >=, IS, IN, BETWEEN
	PrecedenceAddition   = 5 // +, -, ||
	PrecedenceMultiply   = 6 // *, /, %
	PrecedenceUnary      = 7 // -, + (prefix)
	PrecedencePostfix    = 8 // ::
)
