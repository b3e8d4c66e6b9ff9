package sedonadb

import (
	"fmt"
	"strings"
)

// planColumn is a column of a plan node's output, qualified by the relation
// that produced it. Computed columns have no relation.
type planColumn struct {
	relation string
	name     string
	typ      TypeInfo
	nullable bool
}

type planSchema []planColumn

func planSchemaFromSchema(relation string, s *Schema) planSchema {
	out := make(planSchema, s.Len())
	for i, col := range s.Columns() {
		out[i] = planColumn{relation: relation, name: col.Name, typ: col.T, nullable: col.Nullable}
	}
	return out
}

func (s planSchema) qualifiedNames() []string {
	names := make([]string, len(s))
	for i, c := range s {
		if c.relation != "" {
			names[i] = c.relation + "." + c.name
		} else {
			names[i] = c.name
		}
	}
	return names
}

// resolve finds the column a possibly qualified reference names. Exact matches
// take precedence over case-insensitive ones; several matches are ambiguous.
func (s planSchema) resolve(qualifier string, name string) (int, error) {
	match := func(fold bool) []int {
		var found []int
		for i, c := range s {
			if qualifier != "" && !strings.EqualFold(c.relation, qualifier) {
				continue
			}
			if c.name == name || (fold && strings.EqualFold(c.name, name)) {
				found = append(found, i)
			}
		}
		return found
	}
	found := match(false)
	if len(found) == 0 {
		found = match(true)
	}
	ref := name
	if qualifier != "" {
		ref = qualifier + "." + name
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return -1, getError(ErrBinding, unknownColumnError(ref, s.qualifiedNames()))
	}
	candidates := make([]string, len(found))
	for i, idx := range found {
		candidates[i] = s.qualifiedNames()[idx]
	}
	return -1, getError(ErrBinding, ambiguousColumnError(ref, candidates))
}

// indexOf locates a bound column reference.
func (s planSchema) indexOf(c *ColumnExpr) (int, error) {
	for i, col := range s {
		if col.relation == c.relation && col.name == c.Name {
			return i, nil
		}
	}
	return s.resolve("", c.Name)
}

func (s planSchema) withRelation(relation string) planSchema {
	out := make(planSchema, len(s))
	for i, c := range s {
		c.relation = relation
		out[i] = c
	}
	return out
}

func (s planSchema) toSchema() (*Schema, error) {
	cols := make([]ColumnInfo, len(s))
	for i, c := range s {
		cols[i] = ColumnInfo{Name: c.name, T: c.typ, Nullable: c.nullable}
	}
	return NewSchema(cols...)
}

// LogicalPlan is an immutable tree of relational operators. Rewrites produce
// new trees through WithChildren and never modify a node in place.
type LogicalPlan interface {
	// Schema returns the output schema.
	Schema() *Schema
	Children() []LogicalPlan
	// WithChildren returns a copy of the node with its inputs replaced.
	WithChildren(children ...LogicalPlan) (LogicalPlan, error)
	// String describes the node without its inputs.
	String() string

	planSchema() planSchema
}

// ScanNode reads a table provider.
type ScanNode struct {
	TableName string
	Source    TableProvider
	// Projection lists the source columns to read, nil for all of them.
	Projection []int
	// Fetch is the maximum number of rows needed, -1 for all.
	Fetch int

	schema planSchema
}

func newScanNode(name string, source TableProvider, projection []int, fetch int) (*ScanNode, error) {
	full := planSchemaFromSchema(name, source.Schema())
	schema := full
	if projection != nil {
		schema = make(planSchema, len(projection))
		for i, idx := range projection {
			if idx < 0 || idx >= len(full) {
				return nil, getError(ErrBinding, addIndexToError(fmt.Errorf("projection of %s out of range", name), idx))
			}
			schema[i] = full[idx]
		}
	}
	return &ScanNode{TableName: name, Source: source, Projection: projection, Fetch: fetch, schema: schema}, nil
}

func (n *ScanNode) Schema() *Schema            { return mustPlanSchema(n.schema) }
func (n *ScanNode) planSchema() planSchema     { return n.schema }
func (n *ScanNode) Children() []LogicalPlan    { return nil }
func (n *ScanNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 0 {
		return nil, childCountError(n, len(children))
	}
	return n, nil
}

func (n *ScanNode) String() string {
	var sb strings.Builder
	sb.WriteString("TableScan: ")
	sb.WriteString(n.TableName)
	if n.Projection != nil {
		names := make([]string, len(n.schema))
		for i, c := range n.schema {
			names[i] = c.name
		}
		fmt.Fprintf(&sb, " projection=[%s]", strings.Join(names, ", "))
	}
	if n.Fetch >= 0 {
		fmt.Fprintf(&sb, " fetch=%d", n.Fetch)
	}
	return sb.String()
}

// FilterNode keeps the rows for which Predicate is true.
type FilterNode struct {
	Predicate Expr
	Input     LogicalPlan
}

func (n *FilterNode) Schema() *Schema         { return n.Input.Schema() }
func (n *FilterNode) planSchema() planSchema  { return n.Input.planSchema() }
func (n *FilterNode) Children() []LogicalPlan { return []LogicalPlan{n.Input} }
func (n *FilterNode) String() string          { return "Filter: " + n.Predicate.String() }

func (n *FilterNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, childCountError(n, len(children))
	}
	return &FilterNode{Predicate: n.Predicate, Input: children[0]}, nil
}

// ProjectNode computes one output column per expression.
type ProjectNode struct {
	Exprs []Expr
	Input LogicalPlan

	schema planSchema
}

func newProjectNode(exprs []Expr, input LogicalPlan) (*ProjectNode, error) {
	schema := make(planSchema, len(exprs))
	seen := make(map[string]bool, len(exprs))
	for i, e := range exprs {
		name := exprName(e)
		if seen[name] {
			return nil, getError(ErrBinding, fmt.Errorf("duplicate output column %q, use an alias", name))
		}
		seen[name] = true
		col := planColumn{name: name, typ: e.Type(), nullable: true}
		if c, ok := e.(*ColumnExpr); ok {
			col.relation = c.relation
			if idx, err := input.planSchema().indexOf(c); err == nil {
				col.nullable = input.planSchema()[idx].nullable
			}
		}
		schema[i] = col
	}
	return &ProjectNode{Exprs: exprs, Input: input, schema: schema}, nil
}

func (n *ProjectNode) Schema() *Schema         { return mustPlanSchema(n.schema) }
func (n *ProjectNode) planSchema() planSchema  { return n.schema }
func (n *ProjectNode) Children() []LogicalPlan { return []LogicalPlan{n.Input} }
func (n *ProjectNode) String() string          { return "Projection: " + joinExprs(n.Exprs) }

func (n *ProjectNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, childCountError(n, len(children))
	}
	return &ProjectNode{Exprs: n.Exprs, Input: children[0], schema: n.schema}, nil
}

// LimitNode skips Skip rows and then passes at most Fetch rows, or all
// remaining rows if Fetch is -1.
type LimitNode struct {
	Skip  int
	Fetch int
	Input LogicalPlan
}

func (n *LimitNode) Schema() *Schema         { return n.Input.Schema() }
func (n *LimitNode) planSchema() planSchema  { return n.Input.planSchema() }
func (n *LimitNode) Children() []LogicalPlan { return []LogicalPlan{n.Input} }

func (n *LimitNode) String() string {
	if n.Fetch < 0 {
		return fmt.Sprintf("Limit: skip=%d, fetch=None", n.Skip)
	}
	return fmt.Sprintf("Limit: skip=%d, fetch=%d", n.Skip, n.Fetch)
}

func (n *LimitNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, childCountError(n, len(children))
	}
	return &LimitNode{Skip: n.Skip, Fetch: n.Fetch, Input: children[0]}, nil
}

// AggregateNode groups its input by GroupBy and computes Aggs per group.
// The output holds the group columns followed by the aggregates.
type AggregateNode struct {
	GroupBy []Expr
	Aggs    []Expr
	Input   LogicalPlan

	schema planSchema
}

func newAggregateNode(groupBy []Expr, aggs []Expr, input LogicalPlan) (*AggregateNode, error) {
	exprs := append(append([]Expr{}, groupBy...), aggs...)
	project, err := newProjectNode(exprs, input)
	if err != nil {
		return nil, err
	}
	schema := project.schema
	for i := len(groupBy); i < len(schema); i++ {
		agg, _ := stripAlias(aggs[i-len(groupBy)]).(*AggregateFunctionExpr)
		schema[i].nullable = agg == nil || agg.Name != "count" || !agg.NaRm
	}
	return &AggregateNode{GroupBy: groupBy, Aggs: aggs, Input: input, schema: schema}, nil
}

func (n *AggregateNode) Schema() *Schema         { return mustPlanSchema(n.schema) }
func (n *AggregateNode) planSchema() planSchema  { return n.schema }
func (n *AggregateNode) Children() []LogicalPlan { return []LogicalPlan{n.Input} }

func (n *AggregateNode) String() string {
	return fmt.Sprintf("Aggregate: groupBy=[%s], aggr=[%s]", joinExprs(n.GroupBy), joinExprs(n.Aggs))
}

func (n *AggregateNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, childCountError(n, len(children))
	}
	return &AggregateNode{GroupBy: n.GroupBy, Aggs: n.Aggs, Input: children[0], schema: n.schema}, nil
}

// SortKey orders rows by an expression.
type SortKey struct {
	Expr       Expr
	Asc        bool
	NullsFirst bool
}

// Asc orders ascending with nulls last.
func Asc(e Expr) SortKey {
	return SortKey{Expr: e, Asc: true}
}

// Desc orders descending with nulls first.
func Desc(e Expr) SortKey {
	return SortKey{Expr: e, NullsFirst: true}
}

func (k SortKey) String() string {
	dir := "ASC"
	if !k.Asc {
		dir = "DESC"
	}
	nulls := "NULLS LAST"
	if k.NullsFirst {
		nulls = "NULLS FIRST"
	}
	return k.Expr.String() + " " + dir + " " + nulls
}

// SortNode orders its input. A non-negative Fetch keeps only the first rows.
type SortNode struct {
	Keys  []SortKey
	Fetch int
	Input LogicalPlan
}

func (n *SortNode) Schema() *Schema         { return n.Input.Schema() }
func (n *SortNode) planSchema() planSchema  { return n.Input.planSchema() }
func (n *SortNode) Children() []LogicalPlan { return []LogicalPlan{n.Input} }

func (n *SortNode) String() string {
	parts := make([]string, len(n.Keys))
	for i, k := range n.Keys {
		parts[i] = k.String()
	}
	s := "Sort: " + strings.Join(parts, ", ")
	if n.Fetch >= 0 {
		s += fmt.Sprintf(", fetch=%d", n.Fetch)
	}
	return s
}

func (n *SortNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, childCountError(n, len(children))
	}
	return &SortNode{Keys: n.Keys, Fetch: n.Fetch, Input: children[0]}, nil
}

// EmptyRelationNode produces no rows, or a single row without columns for
// SELECT without FROM.
type EmptyRelationNode struct {
	ProduceOneRow bool

	schema planSchema
}

func (n *EmptyRelationNode) Schema() *Schema         { return mustPlanSchema(n.schema) }
func (n *EmptyRelationNode) planSchema() planSchema  { return n.schema }
func (n *EmptyRelationNode) Children() []LogicalPlan { return nil }

func (n *EmptyRelationNode) String() string {
	return fmt.Sprintf("EmptyRelation: rows=%d", map[bool]int{false: 0, true: 1}[n.ProduceOneRow])
}

func (n *EmptyRelationNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 0 {
		return nil, childCountError(n, len(children))
	}
	return n, nil
}

// SubqueryAliasNode renames the relation of its input's columns.
type SubqueryAliasNode struct {
	Alias string
	Input LogicalPlan
}

func (n *SubqueryAliasNode) Schema() *Schema         { return n.Input.Schema() }
func (n *SubqueryAliasNode) planSchema() planSchema  { return n.Input.planSchema().withRelation(n.Alias) }
func (n *SubqueryAliasNode) Children() []LogicalPlan { return []LogicalPlan{n.Input} }
func (n *SubqueryAliasNode) String() string          { return "SubqueryAlias: " + n.Alias }

func (n *SubqueryAliasNode) WithChildren(children ...LogicalPlan) (LogicalPlan, error) {
	if len(children) != 1 {
		return nil, childCountError(n, len(children))
	}
	return &SubqueryAliasNode{Alias: n.Alias, Input: children[0]}, nil
}

func childCountError(n LogicalPlan, got int) error {
	return getError(ErrExecution, fmt.Errorf("%T: unexpected number of children: %d", n, got))
}

func mustPlanSchema(s planSchema) *Schema {
	schema, err := s.toSchema()
	if err != nil {
		// Plan constructors reject duplicate output names.
		panic(err)
	}
	return schema
}

func stripAlias(e Expr) Expr {
	if a, ok := e.(*AliasExpr); ok {
		return a.Expr
	}
	return e
}

// FormatPlan renders a plan as an indented tree.
func FormatPlan(p LogicalPlan) string {
	var sb strings.Builder
	formatPlan(&sb, p, 0, false)
	return sb.String()
}

// planFingerprint renders a plan including implicit casts and resolved
// relations. Two plans with equal fingerprints are equivalent.
func planFingerprint(p LogicalPlan) string {
	var sb strings.Builder
	formatPlan(&sb, p, 0, true)
	return sb.String()
}

func formatPlan(sb *strings.Builder, p LogicalPlan, depth int, verbose bool) {
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(p.String())
	if verbose {
		sb.WriteString(" ")
		sb.WriteString(verboseExprs(p))
	}
	sb.WriteByte('\n')
	for _, c := range p.Children() {
		formatPlan(sb, c, depth+1, verbose)
	}
}

func verboseExprs(p LogicalPlan) string {
	var exprs []Expr
	switch n := p.(type) {
	case *FilterNode:
		exprs = []Expr{n.Predicate}
	case *ProjectNode:
		exprs = n.Exprs
	case *AggregateNode:
		exprs = append(append(exprs, n.GroupBy...), n.Aggs...)
	case *SortNode:
		for _, k := range n.Keys {
			exprs = append(exprs, k.Expr)
		}
	}
	parts := make([]string, len(exprs))
	for i, e := range exprs {
		parts[i] = DebugString(e)
	}
	names := p.planSchema().qualifiedNames()
	return "[" + strings.Join(parts, "; ") + "] -> [" + strings.Join(names, ", ") + "]"
}
