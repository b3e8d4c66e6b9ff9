package sedonadb

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sedonadb/go-sedonadb/internal/sqlparser"
)

// sqlPlanner turns parsed SELECT statements into logical plans bound against
// one catalog snapshot.
type sqlPlanner struct {
	planBuilder
	snapshot *catalogSnapshot
	// readParquet opens the files named by read_parquet(...).
	readParquet func(paths []string) (TableProvider, error)
}

func newSQLPlanner(snapshot *catalogSnapshot, readParquet func(paths []string) (TableProvider, error)) *sqlPlanner {
	return &sqlPlanner{
		planBuilder: planBuilder{funcs: snapshot},
		snapshot:    snapshot,
		readParquet: readParquet,
	}
}

// parseSQL parses one statement and reports syntax errors as ErrParse with
// line and column.
func parseSQL(query string) (sqlparser.Stmt, error) {
	stmt, err := sqlparser.Parse(query)
	if err == nil {
		return stmt, nil
	}
	if perr, ok := err.(*sqlparser.Error); ok {
		line, col := lineColumn(query, perr.Pos)
		return nil, getError(ErrParse, fmt.Errorf("line %d, column %d: %s", line, col, perr.Msg))
	}
	return nil, getError(ErrParse, err)
}

func lineColumn(s string, pos int) (int, int) {
	if pos > len(s) {
		pos = len(s)
	}
	line := 1 + strings.Count(s[:pos], "\n")
	col := pos - strings.LastIndex(s[:pos], "\n")
	return line, col
}

func (p *sqlPlanner) planSelect(stmt *sqlparser.SelectStmt) (LogicalPlan, error) {
	input, err := p.planFrom(stmt.From)
	if err != nil {
		return nil, err
	}

	if stmt.Where != nil {
		where, err := p.convertExpr(stmt.Where)
		if err != nil {
			return nil, err
		}
		if input, err = p.filter(input, where); err != nil {
			return nil, err
		}
	}

	// Bind the select list against the input. Aggregates are allowed here and
	// extracted below if the query aggregates.
	var selectExprs []Expr
	for _, item := range stmt.Columns {
		if star, ok := item.Expr.(*sqlparser.StarExpr); ok {
			cols, err := expandWildcard(input.planSchema(), &WildcardExpr{Qualifier: star.Table})
			if err != nil {
				return nil, err
			}
			selectExprs = append(selectExprs, cols...)
			continue
		}
		e, err := p.convertExpr(item.Expr)
		if err != nil {
			return nil, err
		}
		bound, err := p.bind(e, input, "SELECT", true)
		if err != nil {
			return nil, err
		}
		if item.Alias != "" {
			bound = Alias(bound, item.Alias)
		}
		selectExprs = append(selectExprs, bound)
	}

	var having Expr
	if stmt.Having != nil {
		e, err := p.convertExpr(stmt.Having)
		if err != nil {
			return nil, err
		}
		if having, err = p.bind(e, input, "HAVING", true); err != nil {
			return nil, err
		}
		if having, err = requireBoolean(having, "HAVING"); err != nil {
			return nil, err
		}
	}

	// ORDER BY keys that do not name an output column are bound against the
	// input, like the select list.
	orderKeys := make([]orderKey, len(stmt.OrderBy))
	for i, item := range stmt.OrderBy {
		key, err := p.resolveOrderKey(item, selectExprs, input)
		if err != nil {
			return nil, err
		}
		orderKeys[i] = key
	}

	groupBy, err := p.groupExprs(stmt.GroupBy, selectExprs, input)
	if err != nil {
		return nil, err
	}

	aggregated := len(groupBy) > 0 || having != nil || anyAggregate(selectExprs) || anyOrderAggregate(orderKeys)
	if aggregated {
		agg, rewrite, err := p.planAggregation(input, groupBy, selectExprs, having, orderKeys)
		if err != nil {
			return nil, err
		}
		input = agg
		for i, e := range selectExprs {
			if selectExprs[i], err = rewrite(e, "SELECT"); err != nil {
				return nil, err
			}
		}
		if having != nil {
			if having, err = rewrite(having, "HAVING"); err != nil {
				return nil, err
			}
			input = &FilterNode{Predicate: having, Input: input}
		}
		for i, k := range orderKeys {
			if k.expr == nil {
				continue
			}
			if orderKeys[i].expr, err = rewrite(k.expr, "ORDER BY"); err != nil {
				return nil, err
			}
		}
	}

	project, err := newProjectNode(selectExprs, input)
	if err != nil {
		return nil, err
	}
	var plan LogicalPlan = project
	visible := len(selectExprs)

	if stmt.Distinct {
		groups := make([]Expr, visible)
		for i := range groups {
			groups[i] = columnOf(plan, i)
		}
		if plan, err = newAggregateNode(groups, nil, plan); err != nil {
			return nil, err
		}
	}

	if len(orderKeys) > 0 {
		if plan, err = p.planOrderBy(plan, project, orderKeys, stmt.Distinct); err != nil {
			return nil, err
		}
	}

	if stmt.Limit != nil || stmt.Offset != nil {
		fetch, skip := -1, 0
		if stmt.Limit != nil {
			if fetch, err = p.integerClause(stmt.Limit, "LIMIT"); err != nil {
				return nil, err
			}
		}
		if stmt.Offset != nil {
			if skip, err = p.integerClause(stmt.Offset, "OFFSET"); err != nil {
				return nil, err
			}
		}
		if plan, err = limitPlan(plan, skip, fetch); err != nil {
			return nil, err
		}
	}

	// Hidden sort columns are dropped last.
	if len(plan.planSchema()) > visible {
		exprs := make([]Expr, visible)
		for i := range exprs {
			exprs[i] = columnOf(plan, i)
		}
		if plan, err = newProjectNode(exprs, plan); err != nil {
			return nil, err
		}
	}
	return plan, nil
}

func (p *sqlPlanner) planFrom(ref sqlparser.TableRef) (LogicalPlan, error) {
	switch t := ref.(type) {
	case nil:
		return &EmptyRelationNode{ProduceOneRow: true}, nil
	case *sqlparser.TableName:
		entry, ok := p.snapshot.table(t.Name)
		if !ok {
			return nil, getError(ErrBinding, notFoundError("table", t.Name))
		}
		plan, err := sourcePlan(entry.name, entry.provider)
		if err != nil {
			return nil, err
		}
		if t.Alias != "" {
			return &SubqueryAliasNode{Alias: t.Alias, Input: plan}, nil
		}
		return plan, nil
	case *sqlparser.DerivedTable:
		plan, err := p.planSelect(t.Select)
		if err != nil {
			return nil, err
		}
		if t.Alias != "" {
			return &SubqueryAliasNode{Alias: t.Alias, Input: plan}, nil
		}
		return plan, nil
	case *sqlparser.FuncTable:
		return p.planTableFunction(t)
	}
	return nil, getError(ErrUnsupported, fmt.Errorf("table reference %T", ref))
}

// sourcePlan scans a provider, inlining the plan of views and data frames so
// that the optimizer sees through them.
func sourcePlan(name string, provider TableProvider) (LogicalPlan, error) {
	if src, ok := provider.(planSource); ok {
		return &SubqueryAliasNode{Alias: name, Input: src.logicalPlan()}, nil
	}
	return newScanNode(name, provider, nil, -1)
}

func (p *sqlPlanner) planTableFunction(t *sqlparser.FuncTable) (LogicalPlan, error) {
	name := strings.ToLower(t.Func.Name)
	if name != "read_parquet" {
		return nil, getError(ErrBinding, fmt.Errorf("unknown table function %s", t.Func.Name))
	}
	if len(t.Func.Args) != 1 {
		return nil, getError(ErrBinding, arityError(name, "1", len(t.Func.Args)))
	}
	var items []sqlparser.Expr
	switch arg := t.Func.Args[0].(type) {
	case *sqlparser.ListExpr:
		items = arg.Items
	default:
		items = []sqlparser.Expr{arg}
	}
	paths := make([]string, len(items))
	for i, item := range items {
		lit, ok := item.(*sqlparser.Literal)
		if !ok || lit.Type != sqlparser.LiteralString {
			return nil, getError(ErrBinding, typeMismatchError("read_parquet path", "string literal", fmt.Sprintf("%T", item)))
		}
		paths[i] = lit.Value
	}
	if p.readParquet == nil {
		return nil, getError(ErrUnsupported, fmt.Errorf("read_parquet is not available"))
	}
	provider, err := p.readParquet(paths)
	if err != nil {
		return nil, err
	}
	relation := name
	if t.Alias != "" {
		relation = t.Alias
	}
	return newScanNode(relation, provider, nil, -1)
}

// groupExprs binds GROUP BY items. An item may be an ordinal or the alias of
// a select item, in which case it stands for that item's expression.
func (p *sqlPlanner) groupExprs(items []sqlparser.Expr, selectExprs []Expr, input LogicalPlan) ([]Expr, error) {
	var groups []Expr
	for _, item := range items {
		if n, ok := ordinal(item); ok {
			if n < 1 || n > len(selectExprs) {
				return nil, getError(ErrBinding, fmt.Errorf("GROUP BY position %d is not in select list", n))
			}
			e := stripAlias(selectExprs[n-1])
			if containsAggregate(e) {
				return nil, getError(ErrBinding, fmt.Errorf("GROUP BY position %d refers to aggregate %s", n, e))
			}
			groups = append(groups, e)
			continue
		}
		e, err := p.convertExpr(item)
		if err != nil {
			return nil, err
		}
		bound, err := p.bind(e, input, "GROUP BY", false)
		if err != nil {
			alias, isAlias := selectAlias(item, selectExprs)
			if !isAlias || containsAggregate(alias) {
				return nil, err
			}
			bound = alias
		}
		groups = append(groups, bound)
	}
	return groups, nil
}

func selectAlias(item sqlparser.Expr, selectExprs []Expr) (Expr, bool) {
	ref, ok := item.(*sqlparser.ColumnRef)
	if !ok || ref.Table != "" {
		return nil, false
	}
	for _, e := range selectExprs {
		if a, ok := e.(*AliasExpr); ok && strings.EqualFold(a.Name, ref.Column) {
			return a.Expr, true
		}
	}
	return nil, false
}

func ordinal(e sqlparser.Expr) (int, bool) {
	lit, ok := e.(*sqlparser.Literal)
	if !ok || lit.Type != sqlparser.LiteralNumber {
		return 0, false
	}
	n, err := strconv.Atoi(lit.Value)
	if err != nil {
		return 0, false
	}
	return n, true
}

func anyAggregate(exprs []Expr) bool {
	for _, e := range exprs {
		if containsAggregate(e) {
			return true
		}
	}
	return false
}

// planAggregation builds the Aggregate node of a grouped query. The returned
// rewrite function maps expressions bound against the input onto the
// aggregate's output columns.
func (p *sqlPlanner) planAggregation(input LogicalPlan, groupBy []Expr, selectExprs []Expr, having Expr, orderKeys []orderKey) (LogicalPlan, func(Expr, string) (Expr, error), error) {
	var aggs []Expr
	seen := map[string]bool{}
	collect := func(e Expr) {
		walkExpr(e, func(n Expr) bool {
			agg, ok := n.(*AggregateFunctionExpr)
			if !ok {
				return true
			}
			if key := boundKey(agg); !seen[key] {
				seen[key] = true
				aggs = append(aggs, agg)
			}
			return false
		})
	}
	for _, e := range selectExprs {
		collect(e)
	}
	if having != nil {
		collect(having)
	}
	for _, k := range orderKeys {
		if k.expr != nil {
			collect(k.expr)
		}
	}

	// Deduplicate group keys so that GROUP BY a, a yields one column.
	var groups []Expr
	groupSeen := map[string]bool{}
	for _, g := range groupBy {
		if key := boundKey(g); !groupSeen[key] {
			groupSeen[key] = true
			groups = append(groups, g)
		}
	}

	agg, err := newAggregateNode(groups, aggs, input)
	if err != nil {
		return nil, nil, err
	}
	outputs := map[string]*ColumnExpr{}
	for i, e := range append(append([]Expr{}, groups...), aggs...) {
		outputs[boundKey(e)] = columnOf(agg, i)
	}

	rewrite := func(e Expr, clause string) (Expr, error) {
		replaced := map[*ColumnExpr]bool{}
		out := replaceExprs(e, func(n Expr) (Expr, bool) {
			if c, ok := outputs[boundKey(n)]; ok {
				col := &ColumnExpr{Name: c.Name, relation: c.relation, typ: c.typ}
				replaced[col] = true
				return col, true
			}
			return nil, false
		})
		var bad *ColumnExpr
		walkExpr(out, func(n Expr) bool {
			if c, ok := n.(*ColumnExpr); ok && !replaced[c] && bad == nil {
				bad = c
			}
			return bad == nil
		})
		if bad != nil {
			return nil, getError(ErrBinding, fmt.Errorf("column %s in %s must appear in GROUP BY or be used in an aggregate function", bad, clause))
		}
		return out, nil
	}
	return agg, rewrite, nil
}

// boundKey identifies a bound expression. Columns are compared by the
// relation they resolved to rather than by how they were spelled.
func boundKey(e Expr) string {
	return DebugString(replaceExprs(e, func(n Expr) (Expr, bool) {
		if c, ok := n.(*ColumnExpr); ok {
			return &ColumnExpr{Name: c.Name, Qualifier: c.relation}, true
		}
		return nil, false
	}))
}

// replaceExprs rewrites a tree top-down. When fn replaces a node its subtree
// is not visited.
func replaceExprs(e Expr, fn func(Expr) (Expr, bool)) Expr {
	if r, ok := fn(e); ok {
		return r
	}
	children := e.children()
	if len(children) == 0 {
		return e
	}
	rewritten := make([]Expr, len(children))
	changed := false
	for i, c := range children {
		rewritten[i] = replaceExprs(c, fn)
		changed = changed || rewritten[i] != c
	}
	if !changed {
		return e
	}
	return e.withChildren(rewritten)
}

// orderKey is an ORDER BY item. It either names output column index or holds
// an expression bound against the query input.
type orderKey struct {
	index      int
	expr       Expr
	asc        bool
	nullsFirst bool
}

func anyOrderAggregate(keys []orderKey) bool {
	for _, k := range keys {
		if k.expr != nil && containsAggregate(k.expr) {
			return true
		}
	}
	return false
}

func (p *sqlPlanner) resolveOrderKey(item sqlparser.OrderByItem, selectExprs []Expr, input LogicalPlan) (orderKey, error) {
	key := orderKey{index: -1, asc: !item.Desc, nullsFirst: item.Desc}
	if item.NullsFirst != nil {
		key.nullsFirst = *item.NullsFirst
	}
	if n, ok := ordinal(item.Expr); ok {
		if n < 1 || n > len(selectExprs) {
			return key, getError(ErrBinding, fmt.Errorf("ORDER BY position %d is not in select list", n))
		}
		key.index = n - 1
		return key, nil
	}
	if ref, ok := item.Expr.(*sqlparser.ColumnRef); ok && ref.Table == "" {
		for i, e := range selectExprs {
			if a, ok := e.(*AliasExpr); ok && a.Name == ref.Column {
				key.index = i
				return key, nil
			}
		}
	}
	e, err := p.convertExpr(item.Expr)
	if err != nil {
		return key, err
	}
	if key.expr, err = p.bind(e, input, "ORDER BY", true); err != nil {
		return key, err
	}
	return key, nil
}

// planOrderBy sorts the projected plan. Keys that are not in the select list
// are computed as hidden columns of the projection.
func (p *sqlPlanner) planOrderBy(plan LogicalPlan, project *ProjectNode, keys []orderKey, distinct bool) (LogicalPlan, error) {
	exprs := project.Exprs
	var hidden []Expr
	indices := make([]int, len(keys))
	for i, k := range keys {
		if k.index >= 0 {
			indices[i] = k.index
			continue
		}
		idx := -1
		target := boundKey(k.expr)
		for j, e := range exprs {
			if boundKey(stripAlias(e)) == target || boundKey(e) == target {
				idx = j
				break
			}
		}
		if idx < 0 {
			if distinct {
				return nil, getError(ErrBinding, fmt.Errorf("for SELECT DISTINCT, ORDER BY expression %s must appear in select list", k.expr))
			}
			idx = len(exprs) + len(hidden)
			hidden = append(hidden, Alias(k.expr, fmt.Sprintf("__sort_key_%d", i)))
		}
		indices[i] = idx
	}

	if len(hidden) > 0 {
		// plan is the projection itself since DISTINCT never adds hidden keys.
		var err error
		if plan, err = newProjectNode(append(append([]Expr{}, exprs...), hidden...), project.Input); err != nil {
			return nil, err
		}
	}

	sortKeys := make([]SortKey, len(keys))
	for i, k := range keys {
		col := columnOf(plan, indices[i])
		if col.typ.InternalType() == TYPE_GEOMETRY {
			return nil, getError(ErrUnsupported, fmt.Errorf("ordering by geometry expression %s", col))
		}
		sortKeys[i] = SortKey{Expr: col, Asc: k.asc, NullsFirst: k.nullsFirst}
	}
	return &SortNode{Keys: sortKeys, Fetch: -1, Input: plan}, nil
}

func (p *sqlPlanner) integerClause(e sqlparser.Expr, clause string) (int, error) {
	expr, err := p.convertExpr(e)
	if err != nil {
		return 0, err
	}
	lit, ok := expr.(*LiteralExpr)
	if !ok {
		return 0, getError(ErrBinding, typeMismatchError(clause, "integer literal", expr.String()))
	}
	switch v := lit.Value.(type) {
	case int64:
		if v < 0 {
			return 0, getError(ErrBinding, fmt.Errorf("%s must not be negative, got %d", clause, v))
		}
		if v > math.MaxInt32 {
			v = math.MaxInt32
		}
		return int(v), nil
	case nil:
		if clause == "LIMIT" {
			return -1, nil
		}
		return 0, nil
	}
	return 0, getError(ErrBinding, typeMismatchError(clause, "integer literal", lit.String()))
}

// convertExpr translates a parsed expression into an unbound expression.
func (p *sqlPlanner) convertExpr(e sqlparser.Expr) (Expr, error) {
	switch v := e.(type) {
	case *sqlparser.ColumnRef:
		return QualifiedCol(v.Table, v.Column), nil

	case *sqlparser.Literal:
		return convertLiteral(v, false)

	case *sqlparser.UnaryExpr:
		switch v.Op {
		case sqlparser.TOKEN_NOT:
			inner, err := p.convertExpr(v.Expr)
			if err != nil {
				return nil, err
			}
			return Not(inner), nil
		case sqlparser.TOKEN_PLUS:
			return p.convertExpr(v.Expr)
		}
		if lit, ok := v.Expr.(*sqlparser.Literal); ok && lit.Type == sqlparser.LiteralNumber {
			return convertLiteral(lit, true)
		}
		inner, err := p.convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return Negate(inner)

	case *sqlparser.BinaryExpr:
		op, ok := sqlBinaryOps[v.Op]
		if !ok {
			return nil, getError(ErrUnsupported, fmt.Errorf("operator %s", v.Op))
		}
		left, err := p.convertExpr(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := p.convertExpr(v.Right)
		if err != nil {
			return nil, err
		}
		return NewBinary(op, left, right)

	case *sqlparser.IsNullExpr:
		inner, err := p.convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: inner, Negated: v.Not}, nil

	case *sqlparser.InExpr:
		return p.convertIn(v)

	case *sqlparser.BetweenExpr:
		return p.convertBetween(v)

	case *sqlparser.CastExpr:
		t, err := parseTypeName(v.TypeName)
		if err != nil {
			return nil, err
		}
		inner, err := p.convertExpr(v.Expr)
		if err != nil {
			return nil, err
		}
		return Cast(inner, t)

	case *sqlparser.FuncCall:
		return p.convertCall(v)

	case *sqlparser.StarExpr:
		return &WildcardExpr{Qualifier: v.Table}, nil

	case *sqlparser.ListExpr:
		return nil, getError(ErrUnsupported, fmt.Errorf("list literals are only supported as read_parquet arguments"))
	}
	return nil, getError(ErrUnsupported, fmt.Errorf("expression %T", e))
}

var sqlBinaryOps = map[sqlparser.TokenType]BinaryOp{
	sqlparser.TOKEN_PLUS:  OP_ADD,
	sqlparser.TOKEN_MINUS: OP_SUB,
	sqlparser.TOKEN_STAR:  OP_MUL,
	sqlparser.TOKEN_SLASH: OP_DIV,
	sqlparser.TOKEN_MOD:   OP_MOD,
	sqlparser.TOKEN_EQ:    OP_EQ,
	sqlparser.TOKEN_NE:    OP_NOT_EQ,
	sqlparser.TOKEN_LT:    OP_LT,
	sqlparser.TOKEN_LE:    OP_LT_EQ,
	sqlparser.TOKEN_GT:    OP_GT,
	sqlparser.TOKEN_GE:    OP_GT_EQ,
	sqlparser.TOKEN_AND:   OP_AND,
	sqlparser.TOKEN_OR:    OP_OR,
	sqlparser.TOKEN_DPIPE: OP_CONCAT,
}

// convertLiteral types number literals as BIGINT, or DOUBLE if they have a
// fraction, an exponent, or do not fit.
func convertLiteral(lit *sqlparser.Literal, negative bool) (Expr, error) {
	switch lit.Type {
	case sqlparser.LiteralNull:
		return NewLiteral(nil)
	case sqlparser.LiteralBool:
		return NewLiteral(lit.Value == "true")
	case sqlparser.LiteralString:
		return NewLiteral(lit.Value)
	}
	text := lit.Value
	if negative {
		text = "-" + text
	}
	if !strings.ContainsAny(text, ".eE") {
		if i, err := strconv.ParseInt(text, 10, 64); err == nil {
			return NewLiteral(i)
		}
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil, getError(ErrParse, fmt.Errorf("invalid number %q", text))
	}
	return NewLiteral(f)
}

// convertIn rewrites x IN (a, b) to x = a OR x = b, and the negated form to
// x != a AND x != b.
func (p *sqlPlanner) convertIn(v *sqlparser.InExpr) (Expr, error) {
	x, err := p.convertExpr(v.Expr)
	if err != nil {
		return nil, err
	}
	cmp, join := OP_EQ, OP_OR
	if v.Not {
		cmp, join = OP_NOT_EQ, OP_AND
	}
	var out Expr
	for _, item := range v.Values {
		val, err := p.convertExpr(item)
		if err != nil {
			return nil, err
		}
		term, err := NewBinary(cmp, x, val)
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = term
			continue
		}
		if out, err = NewBinary(join, out, term); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// convertBetween rewrites x BETWEEN a AND b to x >= a AND x <= b.
func (p *sqlPlanner) convertBetween(v *sqlparser.BetweenExpr) (Expr, error) {
	x, err := p.convertExpr(v.Expr)
	if err != nil {
		return nil, err
	}
	low, err := p.convertExpr(v.Low)
	if err != nil {
		return nil, err
	}
	high, err := p.convertExpr(v.High)
	if err != nil {
		return nil, err
	}
	lowOp, highOp, join := OP_GT_EQ, OP_LT_EQ, OP_AND
	if v.Not {
		lowOp, highOp, join = OP_LT, OP_GT, OP_OR
	}
	left, err := NewBinary(lowOp, x, low)
	if err != nil {
		return nil, err
	}
	right, err := NewBinary(highOp, x, high)
	if err != nil {
		return nil, err
	}
	return NewBinary(join, left, right)
}

func (p *sqlPlanner) convertCall(v *sqlparser.FuncCall) (Expr, error) {
	h, ok := p.funcs.lookupFunction(v.Name)
	if !ok {
		return nil, getError(ErrBinding, unknownFunctionError(v.Name))
	}
	args := make([]Expr, 0, len(v.Args))
	if v.Star {
		args = append(args, &WildcardExpr{})
	}
	for _, a := range v.Args {
		e, err := p.convertExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, e)
	}

	if h.Kind() == FUNCTION_AGGREGATE {
		naRm := true
		if v.IgnoreNulls != nil {
			naRm = *v.IgnoreNulls
		}
		return &AggregateFunctionExpr{Name: h.Name(), Args: args, Distinct: v.Distinct, NaRm: naRm}, nil
	}
	if v.Distinct || v.Star || v.IgnoreNulls != nil {
		return nil, getError(ErrBinding, fmt.Errorf("%s is not an aggregate function", h.Name()))
	}
	return &ScalarFunctionExpr{Name: h.Name(), Args: args}, nil
}

var sqlTypeNames = map[string]Type{
	"BOOLEAN":          TYPE_BOOLEAN,
	"BOOL":             TYPE_BOOLEAN,
	"TINYINT":          TYPE_INTEGER,
	"SMALLINT":         TYPE_INTEGER,
	"INT":              TYPE_INTEGER,
	"INT4":             TYPE_INTEGER,
	"INTEGER":          TYPE_INTEGER,
	"BIGINT":           TYPE_BIGINT,
	"INT8":             TYPE_BIGINT,
	"LONG":             TYPE_BIGINT,
	"REAL":             TYPE_FLOAT,
	"FLOAT":            TYPE_FLOAT,
	"FLOAT4":           TYPE_FLOAT,
	"DOUBLE":           TYPE_DOUBLE,
	"DOUBLE PRECISION": TYPE_DOUBLE,
	"FLOAT8":           TYPE_DOUBLE,
	"VARCHAR":          TYPE_VARCHAR,
	"TEXT":             TYPE_VARCHAR,
	"STRING":           TYPE_VARCHAR,
	"CHAR":             TYPE_VARCHAR,
	"BLOB":             TYPE_BLOB,
	"BYTEA":            TYPE_BLOB,
	"BINARY":           TYPE_BLOB,
	"VARBINARY":        TYPE_BLOB,
	"TIMESTAMP":        TYPE_TIMESTAMP,
	"GEOMETRY":         TYPE_GEOMETRY,
}

// parseTypeName maps a SQL type name to type information.
func parseTypeName(name string) (TypeInfo, error) {
	t, ok := sqlTypeNames[strings.ToUpper(name)]
	if !ok {
		return nil, getError(ErrBinding, unsupportedTypeError(name))
	}
	if t == TYPE_GEOMETRY {
		return NewGeometryInfo(GEOMETRY_ANY, nil), nil
	}
	return NewTypeInfo(t)
}
