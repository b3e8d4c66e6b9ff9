package sedonadb

import (
	"fmt"
	"strings"
)

// planBuilder binds expressions and assembles plan nodes. The SQL planner and
// DataFrame transformations both build plans through it.
type planBuilder struct {
	funcs functionResolver
}

func (b planBuilder) bind(e Expr, input LogicalPlan, clause string, aggregates bool) (Expr, error) {
	if e == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("Expr"))
	}
	binder := &exprBinder{funcs: b.funcs, schema: input.planSchema(), clause: clause, aggregates: aggregates}
	return binder.bind(e)
}

func (b planBuilder) filter(input LogicalPlan, predicate Expr) (LogicalPlan, error) {
	bound, err := b.bind(predicate, input, "WHERE", false)
	if err != nil {
		return nil, err
	}
	if bound, err = requireBoolean(bound, "WHERE"); err != nil {
		return nil, err
	}
	return &FilterNode{Predicate: bound, Input: input}, nil
}

// project binds exprs against input, expanding wildcards. Aggregates are
// rejected; use aggregate for them.
func (b planBuilder) project(input LogicalPlan, exprs []Expr) (*ProjectNode, error) {
	if len(exprs) == 0 {
		return nil, getError(ErrBinding, fmt.Errorf("projection needs at least one expression"))
	}
	var bound []Expr
	for _, e := range exprs {
		if w, ok := e.(*WildcardExpr); ok {
			cols, err := expandWildcard(input.planSchema(), w)
			if err != nil {
				return nil, err
			}
			bound = append(bound, cols...)
			continue
		}
		be, err := b.bind(e, input, "SELECT", false)
		if err != nil {
			return nil, err
		}
		bound = append(bound, be)
	}
	return newProjectNode(bound, input)
}

// aggregate binds the group keys and aggregate calls. Each aggregate must be an
// aggregate function call, optionally aliased.
func (b planBuilder) aggregate(input LogicalPlan, groupBy []Expr, aggs []Expr) (*AggregateNode, error) {
	groups := make([]Expr, len(groupBy))
	for i, g := range groupBy {
		bound, err := b.bind(g, input, "GROUP BY", false)
		if err != nil {
			return nil, err
		}
		groups[i] = bound
	}
	bound := make([]Expr, len(aggs))
	for i, a := range aggs {
		e, err := b.bind(a, input, "aggregate", true)
		if err != nil {
			return nil, err
		}
		if _, ok := stripAlias(e).(*AggregateFunctionExpr); !ok {
			return nil, getError(ErrBinding, fmt.Errorf("%s is not an aggregate function call", a))
		}
		bound[i] = e
	}
	return newAggregateNode(groups, bound, input)
}

func (b planBuilder) sort(input LogicalPlan, keys []SortKey) (*SortNode, error) {
	if len(keys) == 0 {
		return nil, getError(ErrBinding, fmt.Errorf("sort needs at least one key"))
	}
	bound := make([]SortKey, len(keys))
	for i, k := range keys {
		e, err := b.bind(k.Expr, input, "ORDER BY", false)
		if err != nil {
			return nil, err
		}
		if e.Type().InternalType() == TYPE_GEOMETRY {
			return nil, getError(ErrUnsupported, fmt.Errorf("ordering by geometry expression %s", e))
		}
		bound[i] = SortKey{Expr: e, Asc: k.Asc, NullsFirst: k.NullsFirst}
	}
	return &SortNode{Keys: bound, Fetch: -1, Input: input}, nil
}

func limitPlan(input LogicalPlan, skip int, fetch int) (LogicalPlan, error) {
	if skip < 0 {
		return nil, getError(ErrBinding, fmt.Errorf("offset must not be negative, got %d", skip))
	}
	if fetch < -1 {
		return nil, getError(ErrBinding, fmt.Errorf("%w, got %d", errNegativeLimit, fetch))
	}
	return &LimitNode{Skip: skip, Fetch: fetch, Input: input}, nil
}

// expandWildcard returns bound references to every column of schema, or of the
// columns of one relation if the wildcard is qualified.
func expandWildcard(schema planSchema, w *WildcardExpr) ([]Expr, error) {
	var cols []Expr
	for _, c := range schema {
		if w.Qualifier != "" && !strings.EqualFold(c.relation, w.Qualifier) {
			continue
		}
		cols = append(cols, &ColumnExpr{Name: c.name, relation: c.relation, typ: c.typ})
	}
	if len(cols) == 0 {
		if w.Qualifier != "" {
			return nil, getError(ErrBinding, notFoundError("relation", w.Qualifier))
		}
		return nil, getError(ErrBinding, fmt.Errorf("%s expands to no columns", w))
	}
	return cols, nil
}

// columnOf returns a bound reference to column i of a plan's output.
func columnOf(p LogicalPlan, i int) *ColumnExpr {
	c := p.planSchema()[i]
	return &ColumnExpr{Name: c.name, relation: c.relation, typ: c.typ}
}
