package sedonadb

import (
	"context"
	"log/slog"
)

// maxOptimizerPasses bounds the fixpoint loop. Every rule only ever moves
// nodes towards the leaves or removes them, so a plan converges long before.
const maxOptimizerPasses = 16

type optimizerRule struct {
	name  string
	apply func(o *optimizer, p LogicalPlan) (LogicalPlan, error)
}

// optimizer rewrites logical plans into equivalent, cheaper ones. Rules run
// in order until a whole pass leaves the plan unchanged, which makes
// optimizing an optimized plan a no-op.
type optimizer struct {
	ec     *execContext
	logger *slog.Logger
	rules  []optimizerRule
}

func newOptimizer(ec *execContext, logger *slog.Logger) *optimizer {
	return &optimizer{
		ec:     ec,
		logger: logger,
		rules: []optimizerRule{
			{name: "simplify_expressions", apply: simplifyExpressions},
			{name: "push_down_filter", apply: pushDownFilters},
			{name: "push_down_limit", apply: pushDownLimits},
			{name: "prune_columns", apply: pruneColumns},
		},
	}
}

func (o *optimizer) optimize(p LogicalPlan) (LogicalPlan, error) {
	current := planFingerprint(p)
	for pass := 0; pass < maxOptimizerPasses; pass++ {
		start := current
		for _, rule := range o.rules {
			next, err := rule.apply(o, p)
			if err != nil {
				return nil, err
			}
			if fp := planFingerprint(next); fp != current {
				o.logger.Debug("optimizer rule applied", "rule", rule.name, "pass", pass)
				current = fp
			}
			p = next
		}
		if current == start {
			return p, nil
		}
	}
	return p, nil
}

// transformUp rewrites every node of a plan after its children.
func transformUp(p LogicalPlan, fn func(LogicalPlan) (LogicalPlan, error)) (LogicalPlan, error) {
	p, err := rewriteChildren(p, func(c LogicalPlan) (LogicalPlan, error) {
		return transformUp(c, fn)
	})
	if err != nil {
		return nil, err
	}
	return fn(p)
}

// transformDown rewrites a node and then the children of the result.
func transformDown(p LogicalPlan, fn func(LogicalPlan) (LogicalPlan, error)) (LogicalPlan, error) {
	p, err := fn(p)
	if err != nil {
		return nil, err
	}
	return rewriteChildren(p, func(c LogicalPlan) (LogicalPlan, error) {
		return transformDown(c, fn)
	})
}

func rewriteChildren(p LogicalPlan, fn func(LogicalPlan) (LogicalPlan, error)) (LogicalPlan, error) {
	children := p.Children()
	if len(children) == 0 {
		return p, nil
	}
	rewritten := make([]LogicalPlan, len(children))
	changed := false
	for i, c := range children {
		nc, err := fn(c)
		if err != nil {
			return nil, err
		}
		rewritten[i] = nc
		changed = changed || nc != c
	}
	if !changed {
		return p, nil
	}
	return p.WithChildren(rewritten...)
}

func simplifyExpressions(o *optimizer, p LogicalPlan) (LogicalPlan, error) {
	return transformUp(p, func(p LogicalPlan) (LogicalPlan, error) {
		switch n := p.(type) {
		case *FilterNode:
			pred := o.simplify(n.Predicate)
			if lit, ok := pred.(*LiteralExpr); ok {
				if lit.Value == true {
					return n.Input, nil
				}
				return &EmptyRelationNode{schema: n.Input.planSchema()}, nil
			}
			if pred == n.Predicate {
				return n, nil
			}
			return &FilterNode{Predicate: pred, Input: n.Input}, nil
		case *ProjectNode:
			exprs, changed := o.simplifyNamed(n.Exprs)
			if !changed {
				return n, nil
			}
			return &ProjectNode{Exprs: exprs, Input: n.Input, schema: n.schema}, nil
		case *AggregateNode:
			groupBy, g := o.simplifyNamed(n.GroupBy)
			aggs, a := o.simplifyNamed(n.Aggs)
			if !g && !a {
				return n, nil
			}
			return &AggregateNode{GroupBy: groupBy, Aggs: aggs, Input: n.Input, schema: n.schema}, nil
		case *SortNode:
			keys := make([]SortKey, len(n.Keys))
			changed := false
			for i, k := range n.Keys {
				keys[i] = k
				keys[i].Expr = o.simplify(k.Expr)
				changed = changed || keys[i].Expr != k.Expr
			}
			if !changed {
				return n, nil
			}
			return &SortNode{Keys: keys, Fetch: n.Fetch, Input: n.Input}, nil
		}
		return p, nil
	})
}

// simplifyNamed simplifies output expressions, aliasing a rewritten one to
// its original name so the node's schema does not change.
func (o *optimizer) simplifyNamed(exprs []Expr) ([]Expr, bool) {
	out := make([]Expr, len(exprs))
	changed := false
	for i, e := range exprs {
		out[i] = o.simplify(e)
		if out[i] == e {
			continue
		}
		changed = true
		if name := exprName(e); exprName(out[i]) != name {
			out[i] = Alias(out[i], name)
		}
	}
	return out, changed
}

// simplify folds constant subexpressions and short-circuits boolean
// connectives with a literal operand. A subexpression that fails to evaluate
// is left alone so the error surfaces at execution time.
func (o *optimizer) simplify(e Expr) Expr {
	out, _ := transformExpr(e, func(n Expr) (Expr, error) {
		if b, ok := n.(*BinaryExpr); ok && b.Op.isLogical() {
			if s := simplifyLogical(b); s != nil {
				return s, nil
			}
		}
		if !o.foldable(n) {
			return n, nil
		}
		v, err := evaluateConstant(context.Background(), o.ec, n)
		if err != nil {
			return n, nil
		}
		return &LiteralExpr{Value: v, typ: n.Type()}, nil
	})
	return out
}

func (o *optimizer) foldable(e Expr) bool {
	if e.Type() == nil {
		return false
	}
	switch v := e.(type) {
	case *BinaryExpr, *CastExpr, *NegateExpr, *NotExpr, *IsNullExpr:
	case *ScalarFunctionExpr:
		if v.fn == nil || v.fn.volatile {
			return false
		}
	default:
		return false
	}
	for _, c := range e.children() {
		if _, ok := c.(*LiteralExpr); !ok {
			return false
		}
	}
	return true
}

// simplifyLogical applies the identities that hold under three-valued logic:
// true AND x = x, false AND x = false, true OR x = true, false OR x = x.
func simplifyLogical(b *BinaryExpr) Expr {
	for i, side := range []Expr{b.Left, b.Right} {
		lit, ok := side.(*LiteralExpr)
		if !ok || lit.Value == nil {
			continue
		}
		val, ok := lit.Value.(bool)
		if !ok {
			continue
		}
		other := b.Right
		if i == 1 {
			other = b.Left
		}
		switch {
		case b.Op == OP_AND && val, b.Op == OP_OR && !val:
			return other
		default:
			return lit
		}
	}
	return nil
}

func splitConjunction(e Expr) []Expr {
	if b, ok := e.(*BinaryExpr); ok && b.Op == OP_AND {
		return append(splitConjunction(b.Left), splitConjunction(b.Right)...)
	}
	return []Expr{e}
}

func conjoin(exprs []Expr) (Expr, error) {
	out := exprs[0]
	for _, e := range exprs[1:] {
		b, err := NewBinary(OP_AND, out, e)
		if err != nil {
			return nil, err
		}
		out = b
	}
	return out, nil
}

// substituteColumns replaces the column references of e, which resolve
// against schema, by repl. It reports false if repl rejects any column.
func substituteColumns(e Expr, schema planSchema, repl func(idx int) (Expr, bool)) (Expr, bool) {
	ok := true
	out, _ := transformExpr(e, func(n Expr) (Expr, error) {
		c, isCol := n.(*ColumnExpr)
		if !isCol || !ok {
			return n, nil
		}
		idx, err := schema.indexOf(c)
		if err != nil {
			ok = false
			return n, nil
		}
		r, accepted := repl(idx)
		if !accepted {
			ok = false
			return n, nil
		}
		return r, nil
	})
	return out, ok
}

func columnRef(col planColumn) *ColumnExpr {
	return &ColumnExpr{Name: col.name, Qualifier: col.relation, relation: col.relation, typ: col.typ}
}

func pushDownFilters(_ *optimizer, p LogicalPlan) (LogicalPlan, error) {
	return transformDown(p, func(p LogicalPlan) (LogicalPlan, error) {
		f, ok := p.(*FilterNode)
		if !ok {
			return p, nil
		}
		return pushFilter(f)
	})
}

// pushFilter moves the conjuncts of a filter below its input where the input
// does not change which rows they select.
func pushFilter(f *FilterNode) (LogicalPlan, error) {
	switch in := f.Input.(type) {
	case *FilterNode:
		merged, err := conjoin([]Expr{in.Predicate, f.Predicate})
		if err != nil {
			return nil, err
		}
		return &FilterNode{Predicate: merged, Input: in.Input}, nil

	case *ProjectNode:
		return splitFilter(f, in, func(idx int) (Expr, bool) {
			e := stripAlias(in.Exprs[idx])
			return e, !containsAggregate(e) && !isVolatile(e)
		})

	case *AggregateNode:
		return splitFilter(f, in, func(idx int) (Expr, bool) {
			if idx >= len(in.GroupBy) {
				return nil, false
			}
			return stripAlias(in.GroupBy[idx]), true
		})

	case *SubqueryAliasNode:
		inner := in.Input.planSchema()
		return splitFilter(f, in, func(idx int) (Expr, bool) {
			return columnRef(inner[idx]), true
		})

	case *SortNode:
		if in.Fetch >= 0 {
			return f, nil
		}
		return in.WithChildren(&FilterNode{Predicate: f.Predicate, Input: in.Input})
	}
	return f, nil
}

func splitFilter(f *FilterNode, in LogicalPlan, repl func(idx int) (Expr, bool)) (LogicalPlan, error) {
	var pushed, kept []Expr
	for _, c := range splitConjunction(f.Predicate) {
		if isVolatile(c) || len(exprColumns(c)) == 0 {
			kept = append(kept, c)
			continue
		}
		if s, ok := substituteColumns(c, in.planSchema(), repl); ok {
			pushed = append(pushed, s)
		} else {
			kept = append(kept, c)
		}
	}
	if len(pushed) == 0 {
		return f, nil
	}
	pred, err := conjoin(pushed)
	if err != nil {
		return nil, err
	}
	below := in.Children()[0]
	out, err := in.WithChildren(&FilterNode{Predicate: pred, Input: below})
	if err != nil {
		return nil, err
	}
	if len(kept) == 0 {
		return out, nil
	}
	rest, err := conjoin(kept)
	if err != nil {
		return nil, err
	}
	return &FilterNode{Predicate: rest, Input: out}, nil
}

func pushDownLimits(_ *optimizer, p LogicalPlan) (LogicalPlan, error) {
	return transformDown(p, func(p LogicalPlan) (LogicalPlan, error) {
		l, ok := p.(*LimitNode)
		if !ok {
			return p, nil
		}
		return pushLimit(l)
	})
}

func pushLimit(l *LimitNode) (LogicalPlan, error) {
	switch in := l.Input.(type) {
	case *LimitNode:
		return combineLimits(l, in), nil

	case *ProjectNode, *SubqueryAliasNode:
		inner, err := l.WithChildren(in.Children()[0])
		if err != nil {
			return nil, err
		}
		return in.WithChildren(inner)

	case *SortNode:
		if l.Fetch < 0 {
			return l, nil
		}
		want := l.Skip + l.Fetch
		if in.Fetch >= 0 && in.Fetch <= want {
			return l, nil
		}
		return l.WithChildren(&SortNode{Keys: in.Keys, Fetch: want, Input: in.Input})

	case *ScanNode:
		if l.Fetch < 0 {
			return l, nil
		}
		want := l.Skip + l.Fetch
		if in.Fetch >= 0 && in.Fetch <= want {
			return l, nil
		}
		scan, err := newScanNode(in.TableName, in.Source, in.Projection, want)
		if err != nil {
			return nil, err
		}
		return l.WithChildren(scan)
	}
	return l, nil
}

// combineLimits merges outer(inner(x)) into a single limit over x.
func combineLimits(outer *LimitNode, inner *LimitNode) *LimitNode {
	remaining := -1
	if inner.Fetch >= 0 {
		remaining = max(inner.Fetch-outer.Skip, 0)
	}
	fetch := outer.Fetch
	switch {
	case fetch < 0:
		fetch = remaining
	case remaining >= 0:
		fetch = min(fetch, remaining)
	}
	return &LimitNode{Skip: inner.Skip + outer.Skip, Fetch: fetch, Input: inner.Input}
}

// columnSet holds columns by relation and name.
type columnSet map[[2]string]struct{}

func keyOf(c planColumn) [2]string {
	return [2]string{c.relation, c.name}
}

func (s columnSet) addExprs(schema planSchema, exprs ...Expr) {
	for _, e := range exprs {
		for _, c := range exprColumns(e) {
			if idx, err := schema.indexOf(c); err == nil {
				s[keyOf(schema[idx])] = struct{}{}
			}
		}
	}
}

func (s columnSet) has(c planColumn) bool {
	_, ok := s[keyOf(c)]
	return ok
}

func pruneColumns(_ *optimizer, p LogicalPlan) (LogicalPlan, error) {
	return prune(p, nil)
}

// prune drops columns nobody above needs. need is nil when every output
// column of p is required.
func prune(p LogicalPlan, need columnSet) (LogicalPlan, error) {
	withChild := func(childNeed columnSet) (LogicalPlan, error) {
		return rewriteChildren(p, func(c LogicalPlan) (LogicalPlan, error) {
			return prune(c, childNeed)
		})
	}
	extend := func(schema planSchema, exprs ...Expr) columnSet {
		if need == nil {
			return nil
		}
		out := make(columnSet, len(need))
		for k := range need {
			out[k] = struct{}{}
		}
		out.addExprs(schema, exprs...)
		return out
	}

	switch n := p.(type) {
	case *ScanNode:
		if need == nil {
			return n, nil
		}
		projection := []int{}
		for i, col := range n.schema {
			if !need.has(col) {
				continue
			}
			if n.Projection == nil {
				projection = append(projection, i)
			} else {
				projection = append(projection, n.Projection[i])
			}
		}
		if len(projection) == len(n.schema) {
			return n, nil
		}
		return newScanNode(n.TableName, n.Source, projection, n.Fetch)

	case *FilterNode:
		return withChild(extend(n.Input.planSchema(), n.Predicate))

	case *SortNode:
		exprs := make([]Expr, len(n.Keys))
		for i, k := range n.Keys {
			exprs[i] = k.Expr
		}
		return withChild(extend(n.Input.planSchema(), exprs...))

	case *LimitNode:
		return withChild(need)

	case *ProjectNode:
		exprs := n.Exprs
		if need != nil {
			exprs = nil
			for i, e := range n.Exprs {
				if need.has(n.schema[i]) {
					exprs = append(exprs, e)
				}
			}
		}
		childNeed := columnSet{}
		childNeed.addExprs(n.Input.planSchema(), exprs...)
		input, err := prune(n.Input, childNeed)
		if err != nil {
			return nil, err
		}
		if len(exprs) == len(n.Exprs) {
			if input == n.Input {
				return n, nil
			}
			return n.WithChildren(input)
		}
		return newProjectNode(exprs, input)

	case *AggregateNode:
		childNeed := columnSet{}
		childNeed.addExprs(n.Input.planSchema(), n.GroupBy...)
		childNeed.addExprs(n.Input.planSchema(), n.Aggs...)
		return withChild(childNeed)

	case *SubqueryAliasNode:
		if need == nil {
			return withChild(nil)
		}
		inner := n.Input.planSchema()
		childNeed := columnSet{}
		for i, col := range n.planSchema() {
			if need.has(col) {
				childNeed[keyOf(inner[i])] = struct{}{}
			}
		}
		return withChild(childNeed)
	}
	return p, nil
}
