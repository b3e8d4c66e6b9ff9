package sqlparser

// Node is the base interface for all AST nodes.
type Node interface {
	node()
}

// Expr is a marker interface for expression nodes.
type Expr interface {
	Node
	exprNode()
}

// Stmt is a marker interface for statement nodes.
type Stmt interface {
	Node
	stmtNode()
}

// TableRef is a marker interface for table reference nodes.
type TableRef interface {
	Node
	tableRefNode()
}

// === Statement Nodes ===

// SelectStmt is a single SELECT query.
type SelectStmt struct {
	Distinct bool
	Columns  []SelectItem
	From     TableRef // nil for SELECT without FROM
	Where    Expr
	GroupBy  []Expr
	Having   Expr
	OrderBy  []OrderByItem
	Limit    Expr
	Offset   Expr
}

func (*SelectStmt) node()     {}
func (*SelectStmt) stmtNode() {}

// SelectItem is an entry of the SELECT list.
type SelectItem struct {
	Expr  Expr
	Alias string
}

// OrderByItem is an ORDER BY key. NullsFirst is nil when unspecified.
type OrderByItem struct {
	Expr       Expr
	Desc       bool
	NullsFirst *bool
}

// CreateViewStmt is CREATE [OR REPLACE] VIEW name AS select.
type CreateViewStmt struct {
	Name      string
	OrReplace bool
	Select    *SelectStmt
}

func (*CreateViewStmt) node()     {}
func (*CreateViewStmt) stmtNode() {}

// DropStmt is DROP TABLE|VIEW [IF EXISTS] name.
type DropStmt struct {
	View     bool
	Name     string
	IfExists bool
}

func (*DropStmt) node()     {}
func (*DropStmt) stmtNode() {}

// ExplainStmt is EXPLAIN select.
type ExplainStmt struct {
	Select *SelectStmt
}

func (*ExplainStmt) node()     {}
func (*ExplainStmt) stmtNode() {}

// === Table Reference Nodes ===

// TableName references a registered table or view.
type TableName struct {
	Name  string
	Alias string
}

func (*TableName) node()         {}
func (*TableName) tableRefNode() {}

// DerivedTable is a subquery in FROM.
type DerivedTable struct {
	Select *SelectStmt
	Alias  string
}

func (*DerivedTable) node()         {}
func (*DerivedTable) tableRefNode() {}

// FuncTable is a table-valued function in FROM, such as read_parquet(...).
type FuncTable struct {
	Func  *FuncCall
	Alias string
}

func (*FuncTable) node()         {}
func (*FuncTable) tableRefNode() {}

// === Expression Nodes ===

// ColumnRef is a column reference, optionally qualified with a table name.
type ColumnRef struct {
	Table  string
	Column string
}

func (*ColumnRef) node()     {}
func (*ColumnRef) exprNode() {}

// LiteralType represents the type of a literal.
type LiteralType int

const (
	LiteralNumber LiteralType = iota
	LiteralString
	LiteralBool
	LiteralNull
)

// Literal is a literal value kept in its source spelling.
type Literal struct {
	Type  LiteralType
	Value string
}

func (*Literal) node()     {}
func (*Literal) exprNode() {}

// BinaryExpr is left op right.
type BinaryExpr struct {
	Left  Expr
	Op    TokenType
	Right Expr
}

func (*BinaryExpr) node()     {}
func (*BinaryExpr) exprNode() {}

// UnaryExpr is NOT x, -x or +x.
type UnaryExpr struct {
	Op   TokenType
	Expr Expr
}

func (*UnaryExpr) node()     {}
func (*UnaryExpr) exprNode() {}

// FuncCall is a function call. IgnoreNulls is nil unless IGNORE NULLS or
// RESPECT NULLS follows the call.
type FuncCall struct {
	Name        string
	Distinct    bool
	Star        bool
	Args        []Expr
	IgnoreNulls *bool
}

func (*FuncCall) node()     {}
func (*FuncCall) exprNode() {}

// CastExpr is CAST(x AS type) or x::type.
type CastExpr struct {
	Expr     Expr
	TypeName string
}

func (*CastExpr) node()     {}
func (*CastExpr) exprNode() {}

// IsNullExpr is x IS [NOT] NULL.
type IsNullExpr struct {
	Expr Expr
	Not  bool
}

func (*IsNullExpr) node()     {}
func (*IsNullExpr) exprNode() {}

// InExpr is x [NOT] IN (v1, v2, ...).
type InExpr struct {
	Expr   Expr
	Not    bool
	Values []Expr
}

func (*InExpr) node()     {}
func (*InExpr) exprNode() {}

// BetweenExpr is x [NOT] BETWEEN low AND high.
type BetweenExpr struct {
	Expr Expr
	Not  bool
	Low  Expr
	High Expr
}

func (*BetweenExpr) node()     {}
func (*BetweenExpr) exprNode() {}

// StarExpr is * or t.* in a SELECT list.
type StarExpr struct {
	Table string
}

func (*StarExpr) node()     {}
func (*StarExpr) exprNode() {}

// ListExpr is a bracketed list, accepted as a table function argument.
type ListExpr struct {
	Items []Expr
}

func (*ListExpr) node()     {}
func (*ListExpr) exprNode() {}
