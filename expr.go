package sedonadb

import (
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// Expr is an immutable expression tree node. Expressions are built bottom-up
// and carry their resolved type once it is known; Type returns nil until then.
type Expr interface {
	String() string
	// Type returns the resolved output type, or nil if it depends on a schema.
	Type() TypeInfo

	children() []Expr
	withChildren(children []Expr) Expr
}

// BinaryOp is the operator of a BinaryExpr.
type BinaryOp int

const (
	OP_ADD BinaryOp = iota
	OP_SUB
	OP_MUL
	OP_DIV
	OP_MOD
	OP_EQ
	OP_NOT_EQ
	OP_LT
	OP_LT_EQ
	OP_GT
	OP_GT_EQ
	OP_AND
	OP_OR
	OP_CONCAT
)

var binaryOpSymbols = map[BinaryOp]string{
	OP_ADD:    "+",
	OP_SUB:    "-",
	OP_MUL:    "*",
	OP_DIV:    "/",
	OP_MOD:    "%",
	OP_EQ:     "=",
	OP_NOT_EQ: "!=",
	OP_LT:     "<",
	OP_LT_EQ:  "<=",
	OP_GT:     ">",
	OP_GT_EQ:  ">=",
	OP_AND:    "AND",
	OP_OR:     "OR",
	OP_CONCAT: "||",
}

func (op BinaryOp) String() string {
	if s, ok := binaryOpSymbols[op]; ok {
		return s
	}
	return "?"
}

// ParseBinaryOp parses an operator symbol. Unknown operators are an ErrBinding.
func ParseBinaryOp(symbol string) (BinaryOp, error) {
	switch strings.ToUpper(strings.TrimSpace(symbol)) {
	case "+":
		return OP_ADD, nil
	case "-":
		return OP_SUB, nil
	case "*":
		return OP_MUL, nil
	case "/":
		return OP_DIV, nil
	case "%":
		return OP_MOD, nil
	case "=", "==":
		return OP_EQ, nil
	case "!=", "<>":
		return OP_NOT_EQ, nil
	case "<":
		return OP_LT, nil
	case "<=":
		return OP_LT_EQ, nil
	case ">":
		return OP_GT, nil
	case ">=":
		return OP_GT_EQ, nil
	case "AND", "&&":
		return OP_AND, nil
	case "OR":
		return OP_OR, nil
	case "||":
		return OP_CONCAT, nil
	}
	return 0, getError(ErrBinding, fmt.Errorf("unknown binary operator %q", symbol))
}

func (op BinaryOp) isArithmetic() bool {
	return op <= OP_MOD
}

func (op BinaryOp) isComparison() bool {
	return op >= OP_EQ && op <= OP_GT_EQ
}

func (op BinaryOp) isLogical() bool {
	return op == OP_AND || op == OP_OR
}

func (op BinaryOp) precedence() int {
	switch op {
	case OP_OR:
		return 1
	case OP_AND:
		return 2
	case OP_EQ, OP_NOT_EQ, OP_LT, OP_LT_EQ, OP_GT, OP_GT_EQ:
		return 3
	case OP_CONCAT:
		return 4
	case OP_ADD, OP_SUB:
		return 5
	}
	return 6
}

// ColumnExpr references a column by name, optionally qualified by a table name.
type ColumnExpr struct {
	Name      string
	Qualifier string

	relation string
	typ      TypeInfo
}

// LiteralExpr is a constant. Value holds the normalized Go value: bool, int32,
// int64, float32, float64, string, []byte, time.Time, WKB bytes for geometry,
// or nil.
type LiteralExpr struct {
	Value any

	typ TypeInfo
}

// BinaryExpr applies an operator to two operands.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr

	typ TypeInfo
}

// ScalarFunctionExpr calls a builtin or user-defined scalar function.
type ScalarFunctionExpr struct {
	Name string
	Args []Expr

	fn  *scalarFunction
	typ TypeInfo
}

// AggregateFunctionExpr calls an aggregate function. Distinct aggregates only
// consider distinct argument values. With NaRm set, rows with a null argument
// are skipped; otherwise any null argument makes the result null.
type AggregateFunctionExpr struct {
	Name     string
	Args     []Expr
	Distinct bool
	NaRm     bool

	fn  *aggregateFunction
	typ TypeInfo
}

// CastExpr converts its operand to T.
type CastExpr struct {
	Expr Expr
	T    TypeInfo

	// implicit casts are inserted by type coercion and are not displayed.
	implicit bool
}

// AliasExpr names the output of an expression.
type AliasExpr struct {
	Expr Expr
	Name string
}

// NegateExpr is arithmetic negation.
type NegateExpr struct {
	Expr Expr

	typ TypeInfo
}

// NotExpr is boolean negation.
type NotExpr struct {
	Expr Expr
}

// IsNullExpr tests for null, or for non-null if Negated is set.
type IsNullExpr struct {
	Expr    Expr
	Negated bool
}

// WildcardExpr expands to all columns of the input, or of one relation.
type WildcardExpr struct {
	Qualifier string
}

// Col returns a reference to the named column.
func Col(name string) *ColumnExpr {
	return &ColumnExpr{Name: name}
}

// QualifiedCol returns a reference to a column of the named relation.
func QualifiedCol(qualifier string, name string) *ColumnExpr {
	return &ColumnExpr{Name: name, Qualifier: qualifier}
}

// NewLiteral creates a literal from a Go value. Unsupported Go types are an
// ErrBinding.
func NewLiteral(v any) (*LiteralExpr, error) {
	switch val := v.(type) {
	case nil:
		return &LiteralExpr{typ: nullInfo}, nil
	case bool:
		return &LiteralExpr{Value: val, typ: boolInfo}, nil
	case int32:
		return &LiteralExpr{Value: val, typ: int32Info}, nil
	case int, int8, int16, int64, uint8, uint16, uint32, uint64:
		i, err := toInt64(val)
		if err != nil {
			return nil, getError(ErrBinding, err)
		}
		return &LiteralExpr{Value: i, typ: int64Info}, nil
	case float32:
		return &LiteralExpr{Value: val, typ: float32Info}, nil
	case float64:
		return &LiteralExpr{Value: val, typ: float64Info}, nil
	case string:
		return &LiteralExpr{Value: val, typ: stringInfo}, nil
	case []byte:
		return &LiteralExpr{Value: cloneBytes(val), typ: blobInfo}, nil
	case time.Time:
		return &LiteralExpr{Value: val.UTC(), typ: tsInfo}, nil
	case orb.Geometry:
		data, err := wkb.Marshal(val)
		if err != nil {
			return nil, getError(ErrBinding, err)
		}
		return &LiteralExpr{Value: data, typ: NewGeometryInfo(geometryKindOf(val), nil)}, nil
	}
	return nil, getError(ErrBinding, unsupportedTypeError(reflect.TypeOf(v).String()))
}

// Lit is like NewLiteral but panics on unsupported Go types.
func Lit(v any) *LiteralExpr {
	lit, err := NewLiteral(v)
	if err != nil {
		panic(err)
	}
	return lit
}

// NewBinary combines two expressions. If both operand types are known, the
// result type is resolved immediately and incompatible operands are an ErrBinding.
func NewBinary(op BinaryOp, left Expr, right Expr) (*BinaryExpr, error) {
	if left == nil || right == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("Expr"))
	}
	if _, ok := binaryOpSymbols[op]; !ok {
		return nil, getError(ErrBinding, fmt.Errorf("unknown binary operator %d", op))
	}
	e := &BinaryExpr{Op: op, Left: left, Right: right}
	if left.Type() != nil && right.Type() != nil {
		result, _, err := binaryType(op, left.Type(), right.Type())
		if err != nil {
			return nil, err
		}
		e.typ = result
	}
	return e, nil
}

// Cast converts e to t. Only categorically incompatible casts fail here;
// narrowing casts may fail at evaluation time.
func Cast(e Expr, t TypeInfo) (*CastExpr, error) {
	if e == nil || t == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("Expr"))
	}
	if e.Type() != nil && !castCompatible(e.Type().InternalType(), t.InternalType()) {
		return nil, getError(ErrBinding, castError(e.Type().String(), t.String()))
	}
	return &CastExpr{Expr: e, T: t}, nil
}

// Alias names an expression.
func Alias(e Expr, name string) *AliasExpr {
	// Re-aliasing replaces the previous name.
	if a, ok := e.(*AliasExpr); ok {
		e = a.Expr
	}
	return &AliasExpr{Expr: e, Name: name}
}

// Negate negates a numeric expression.
func Negate(e Expr) (*NegateExpr, error) {
	if e == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("Expr"))
	}
	n := &NegateExpr{Expr: e}
	if t := e.Type(); t != nil {
		if !isNumeric(t.InternalType()) && t.InternalType() != TYPE_NULL {
			return nil, getError(ErrBinding, typeMismatchError("negation", "numeric", t.String()))
		}
		n.typ = t
	}
	return n, nil
}

// Not negates a boolean expression.
func Not(e Expr) *NotExpr {
	return &NotExpr{Expr: e}
}

// IsNull tests e for null.
func IsNull(e Expr) *IsNullExpr {
	return &IsNullExpr{Expr: e}
}

// IsNotNull tests e for non-null.
func IsNotNull(e Expr) *IsNullExpr {
	return &IsNullExpr{Expr: e, Negated: true}
}

// ExprFactory builds expressions that need the function registry of a Context.
type ExprFactory struct {
	funcs func() functionResolver
}

// Column returns a column reference. The qualifier may be empty.
func (f *ExprFactory) Column(name string, qualifier string) Expr {
	return QualifiedCol(qualifier, name)
}

// Literal returns a literal.
func (f *ExprFactory) Literal(v any) (Expr, error) {
	return NewLiteral(v)
}

// Binary combines two expressions with an operator symbol such as "+" or "AND".
func (f *ExprFactory) Binary(op string, left Expr, right Expr) (Expr, error) {
	bop, err := ParseBinaryOp(op)
	if err != nil {
		return nil, err
	}
	return NewBinary(bop, left, right)
}

// ScalarFunction calls a scalar function. Unknown functions and arity
// mismatches are an ErrBinding.
func (f *ExprFactory) ScalarFunction(name string, args ...Expr) (Expr, error) {
	h, ok := f.funcs().lookupFunction(name)
	if !ok {
		return nil, getError(ErrBinding, unknownFunctionError(name))
	}
	if h.Kind() != FUNCTION_SCALAR {
		return nil, getError(ErrBinding, fmt.Errorf("%s is an aggregate function", h.Name()))
	}
	fn := h.scalar
	if err := checkArity(fn.name, fn.minArgs, fn.maxArgs, len(args)); err != nil {
		return nil, err
	}
	e := &ScalarFunctionExpr{Name: fn.name, Args: args, fn: fn}
	if types, ok := knownTypes(args); ok {
		result, _, err := fn.returnType(types)
		if err != nil {
			return nil, err
		}
		e.typ = result
	}
	return e, nil
}

// AggregateFunction calls an aggregate function. COUNT accepts no arguments
// or a WildcardExpr to count rows.
func (f *ExprFactory) AggregateFunction(name string, args []Expr, distinct bool, naRm bool) (Expr, error) {
	h, ok := f.funcs().lookupFunction(name)
	if !ok {
		return nil, getError(ErrBinding, unknownFunctionError(name))
	}
	if h.Kind() != FUNCTION_AGGREGATE {
		return nil, getError(ErrBinding, fmt.Errorf("%s is not an aggregate function", h.Name()))
	}
	return newAggregate(h.aggregate, args, distinct, naRm)
}

func newAggregate(fn *aggregateFunction, args []Expr, distinct bool, naRm bool) (*AggregateFunctionExpr, error) {
	if len(args) == 1 {
		if _, star := args[0].(*WildcardExpr); star {
			if !fn.star {
				return nil, getError(ErrBinding, fmt.Errorf("%s does not accept *", fn.name))
			}
			args = nil
		}
	}
	if err := checkArity(fn.name, fn.minArgs, fn.maxArgs, len(args)); err != nil {
		return nil, err
	}
	e := &AggregateFunctionExpr{Name: fn.name, Args: args, Distinct: distinct, NaRm: naRm, fn: fn}
	if types, ok := knownTypes(args); ok {
		result, _, err := fn.returnType(types)
		if err != nil {
			return nil, err
		}
		e.typ = result
	}
	return e, nil
}

func knownTypes(args []Expr) ([]TypeInfo, bool) {
	types := make([]TypeInfo, len(args))
	for i, a := range args {
		if a.Type() == nil {
			return nil, false
		}
		types[i] = a.Type()
	}
	return types, true
}

// binaryType returns the result type of op and the type both operands are
// coerced to.
func binaryType(op BinaryOp, left TypeInfo, right TypeInfo) (TypeInfo, TypeInfo, error) {
	lt, rt := left.InternalType(), right.InternalType()
	mismatch := func() error {
		return getError(ErrBinding, typeMismatchError(fmt.Sprintf("operator %s", op), left.String(), right.String()))
	}
	switch {
	case op.isArithmetic():
		if (!isNumeric(lt) && lt != TYPE_NULL) || (!isNumeric(rt) && rt != TYPE_NULL) {
			return nil, nil, mismatch()
		}
		common, _ := commonType(left, right)
		return common, common, nil
	case op.isComparison():
		common, ok := commonType(left, right)
		if !ok {
			return nil, nil, mismatch()
		}
		return boolInfo, common, nil
	case op.isLogical():
		if (lt != TYPE_BOOLEAN && lt != TYPE_NULL) || (rt != TYPE_BOOLEAN && rt != TYPE_NULL) {
			return nil, nil, mismatch()
		}
		return boolInfo, boolInfo, nil
	case op == OP_CONCAT:
		if !castCompatible(lt, TYPE_VARCHAR) || !castCompatible(rt, TYPE_VARCHAR) {
			return nil, nil, mismatch()
		}
		return stringInfo, stringInfo, nil
	}
	return nil, nil, mismatch()
}

func (e *ColumnExpr) String() string {
	if e.Qualifier != "" {
		return e.Qualifier + "." + e.Name
	}
	return e.Name
}

func (e *ColumnExpr) Type() TypeInfo             { return e.typ }
func (e *ColumnExpr) children() []Expr           { return nil }
func (e *ColumnExpr) withChildren(_ []Expr) Expr { return e }

func (e *LiteralExpr) String() string {
	return formatLiteral(e.Value, e.typ)
}

func (e *LiteralExpr) Type() TypeInfo             { return e.typ }
func (e *LiteralExpr) children() []Expr           { return nil }
func (e *LiteralExpr) withChildren(_ []Expr) Expr { return e }

func formatLiteral(v any, t TypeInfo) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case float64:
		return formatFloat(val, 64)
	case float32:
		return formatFloat(float64(val), 32)
	case []byte:
		if t != nil && t.InternalType() == TYPE_GEOMETRY {
			return "'" + wkbToText(val) + "'"
		}
		return "X'" + hex.EncodeToString(val) + "'"
	case time.Time:
		return "TIMESTAMP '" + val.Format("2006-01-02 15:04:05.999999") + "'"
	}
	return fmt.Sprint(v)
}

func formatFloat(f float64, bits int) string {
	s := strconv.FormatFloat(f, 'g', -1, bits)
	if !math.IsInf(f, 0) && !math.IsNaN(f) && !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func (e *BinaryExpr) String() string {
	return operand(e.Left, e.Op, false) + " " + e.Op.String() + " " + operand(e.Right, e.Op, true)
}

func operand(e Expr, parent BinaryOp, right bool) string {
	e = stripImplicit(e)
	if b, ok := e.(*BinaryExpr); ok {
		p := b.Op.precedence()
		if p < parent.precedence() || (right && p == parent.precedence() && !parent.isLogical()) {
			return "(" + b.String() + ")"
		}
	}
	return e.String()
}

func (e *BinaryExpr) Type() TypeInfo   { return e.typ }
func (e *BinaryExpr) children() []Expr { return []Expr{e.Left, e.Right} }

func (e *BinaryExpr) withChildren(children []Expr) Expr {
	out := *e
	out.Left, out.Right = children[0], children[1]
	return &out
}

func (e *ScalarFunctionExpr) String() string {
	return e.Name + "(" + joinExprs(e.Args) + ")"
}

func (e *ScalarFunctionExpr) Type() TypeInfo   { return e.typ }
func (e *ScalarFunctionExpr) children() []Expr { return e.Args }

func (e *ScalarFunctionExpr) withChildren(children []Expr) Expr {
	out := *e
	out.Args = children
	return &out
}

func (e *AggregateFunctionExpr) String() string {
	var sb strings.Builder
	sb.WriteString(e.Name)
	sb.WriteByte('(')
	if e.Distinct {
		sb.WriteString("DISTINCT ")
	}
	if len(e.Args) == 0 {
		sb.WriteByte('*')
	}
	sb.WriteString(joinExprs(e.Args))
	sb.WriteByte(')')
	if !e.NaRm {
		sb.WriteString(" RESPECT NULLS")
	}
	return sb.String()
}

func (e *AggregateFunctionExpr) Type() TypeInfo   { return e.typ }
func (e *AggregateFunctionExpr) children() []Expr { return e.Args }

func (e *AggregateFunctionExpr) withChildren(children []Expr) Expr {
	out := *e
	out.Args = children
	return &out
}

func (e *CastExpr) String() string {
	if e.implicit {
		return e.Expr.String()
	}
	return "CAST(" + e.Expr.String() + " AS " + e.T.String() + ")"
}

func (e *CastExpr) Type() TypeInfo   { return e.T }
func (e *CastExpr) children() []Expr { return []Expr{e.Expr} }

func (e *CastExpr) withChildren(children []Expr) Expr {
	out := *e
	out.Expr = children[0]
	return &out
}

func (e *AliasExpr) String() string {
	return e.Expr.String() + " AS " + e.Name
}

func (e *AliasExpr) Type() TypeInfo   { return e.Expr.Type() }
func (e *AliasExpr) children() []Expr { return []Expr{e.Expr} }

func (e *AliasExpr) withChildren(children []Expr) Expr {
	return &AliasExpr{Expr: children[0], Name: e.Name}
}

func (e *NegateExpr) String() string {
	inner := stripImplicit(e.Expr)
	if _, ok := inner.(*BinaryExpr); ok {
		return "(- " + inner.String() + ")"
	}
	return "-" + inner.String()
}

func (e *NegateExpr) Type() TypeInfo   { return e.typ }
func (e *NegateExpr) children() []Expr { return []Expr{e.Expr} }

func (e *NegateExpr) withChildren(children []Expr) Expr {
	out := *e
	out.Expr = children[0]
	return &out
}

func (e *NotExpr) String() string {
	inner := stripImplicit(e.Expr)
	if _, ok := inner.(*BinaryExpr); ok {
		return "NOT (" + inner.String() + ")"
	}
	return "NOT " + inner.String()
}

func (e *NotExpr) Type() TypeInfo {
	if e.Expr.Type() == nil {
		return nil
	}
	return boolInfo
}

func (e *NotExpr) children() []Expr { return []Expr{e.Expr} }

func (e *NotExpr) withChildren(children []Expr) Expr {
	return &NotExpr{Expr: children[0]}
}

func (e *IsNullExpr) String() string {
	inner := stripImplicit(e.Expr).String()
	if _, ok := stripImplicit(e.Expr).(*BinaryExpr); ok {
		inner = "(" + inner + ")"
	}
	if e.Negated {
		return inner + " IS NOT NULL"
	}
	return inner + " IS NULL"
}

func (e *IsNullExpr) Type() TypeInfo   { return boolInfo }
func (e *IsNullExpr) children() []Expr { return []Expr{e.Expr} }

func (e *IsNullExpr) withChildren(children []Expr) Expr {
	return &IsNullExpr{Expr: children[0], Negated: e.Negated}
}

func (e *WildcardExpr) String() string {
	if e.Qualifier != "" {
		return e.Qualifier + ".*"
	}
	return "*"
}

func (e *WildcardExpr) Type() TypeInfo             { return nil }
func (e *WildcardExpr) children() []Expr           { return nil }
func (e *WildcardExpr) withChildren(_ []Expr) Expr { return e }

func joinExprs(exprs []Expr) string {
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = e.String()
	}
	return strings.Join(parts, ", ")
}

func stripImplicit(e Expr) Expr {
	for {
		c, ok := e.(*CastExpr)
		if !ok || !c.implicit {
			return e
		}
		e = c.Expr
	}
}

// exprName is the output column name of a projected expression.
func exprName(e Expr) string {
	switch v := stripImplicit(e).(type) {
	case *AliasExpr:
		return v.Name
	case *ColumnExpr:
		return v.Name
	}
	return e.String()
}

// transformExpr rewrites a tree bottom-up. fn sees each node after its
// children were rewritten.
func transformExpr(e Expr, fn func(Expr) (Expr, error)) (Expr, error) {
	children := e.children()
	if len(children) > 0 {
		rewritten := make([]Expr, len(children))
		changed := false
		for i, c := range children {
			nc, err := transformExpr(c, fn)
			if err != nil {
				return nil, err
			}
			rewritten[i] = nc
			changed = changed || nc != c
		}
		if changed {
			e = e.withChildren(rewritten)
		}
	}
	return fn(e)
}

// walkExpr visits a tree top-down until fn returns false.
func walkExpr(e Expr, fn func(Expr) bool) {
	if !fn(e) {
		return
	}
	for _, c := range e.children() {
		walkExpr(c, fn)
	}
}

func containsAggregate(e Expr) bool {
	found := false
	walkExpr(e, func(n Expr) bool {
		if _, ok := n.(*AggregateFunctionExpr); ok {
			found = true
		}
		return !found
	})
	return found
}

func exprColumns(e Expr) []*ColumnExpr {
	var cols []*ColumnExpr
	walkExpr(e, func(n Expr) bool {
		if c, ok := n.(*ColumnExpr); ok {
			cols = append(cols, c)
		}
		return true
	})
	return cols
}

func isVolatile(e Expr) bool {
	volatile := false
	walkExpr(e, func(n Expr) bool {
		if f, ok := n.(*ScalarFunctionExpr); ok && f.fn != nil && f.fn.volatile {
			volatile = true
		}
		return !volatile
	})
	return volatile
}

// DebugString returns a structural dump of an expression tree.
func DebugString(e Expr) string {
	var sb strings.Builder
	debugExpr(&sb, e)
	return sb.String()
}

func debugExpr(sb *strings.Builder, e Expr) {
	switch v := e.(type) {
	case *ColumnExpr:
		fmt.Fprintf(sb, "Column { name: %q", v.Name)
		if v.Qualifier != "" {
			fmt.Fprintf(sb, ", qualifier: %q", v.Qualifier)
		}
		sb.WriteString(" }")
		return
	case *LiteralExpr:
		fmt.Fprintf(sb, "Literal { value: %s, type: %s }", formatLiteral(v.Value, v.typ), v.typ)
		return
	case *WildcardExpr:
		fmt.Fprintf(sb, "Wildcard { qualifier: %q }", v.Qualifier)
		return
	case *BinaryExpr:
		fmt.Fprintf(sb, "Binary { op: %s, ", v.Op)
	case *ScalarFunctionExpr:
		fmt.Fprintf(sb, "ScalarFunction { name: %s, ", v.Name)
	case *AggregateFunctionExpr:
		fmt.Fprintf(sb, "AggregateFunction { name: %s, distinct: %t, na_rm: %t, ", v.Name, v.Distinct, v.NaRm)
	case *CastExpr:
		fmt.Fprintf(sb, "Cast { type: %s, implicit: %t, ", v.T, v.implicit)
	case *AliasExpr:
		fmt.Fprintf(sb, "Alias { name: %q, ", v.Name)
	case *NegateExpr:
		sb.WriteString("Negate { ")
	case *NotExpr:
		sb.WriteString("Not { ")
	case *IsNullExpr:
		fmt.Fprintf(sb, "IsNull { negated: %t, ", v.Negated)
	}
	sb.WriteString("args: [")
	for i, c := range e.children() {
		if i > 0 {
			sb.WriteString(", ")
		}
		debugExpr(sb, c)
	}
	sb.WriteString("] }")
}
