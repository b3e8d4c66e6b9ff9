package sedonadb

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func optimizeSQL(t *testing.T, c *Context, query string) (LogicalPlan, LogicalPlan) {
	t.Helper()
	df, err := c.SQL(context.Background(), query)
	require.NoError(t, err)
	o := newOptimizer(c.newExecContext(context.Background()), c.logger)
	optimized, err := o.optimize(df.LogicalPlan())
	require.NoError(t, err)
	return df.LogicalPlan(), optimized
}

func planLines(p LogicalPlan) []string {
	lines := strings.Split(strings.TrimRight(FormatPlan(p), "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return lines
}

func indexOfPrefix(lines []string, prefix string) int {
	for i, l := range lines {
		if strings.HasPrefix(l, prefix) {
			return i
		}
	}
	return -1
}

func TestOptimizerIsIdempotent(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	queries := []string{
		"SELECT name FROM users WHERE age > 20 LIMIT 2",
		"SELECT t.n FROM (SELECT id * 2 AS n, name FROM users) t WHERE t.n > 6 ORDER BY t.n LIMIT 1",
		"SELECT age, count(*) AS n FROM users WHERE 1 + 1 = 2 GROUP BY age HAVING count(*) > 1",
		"SELECT DISTINCT age FROM users ORDER BY age OFFSET 1",
	}
	for _, q := range queries {
		t.Run(q, func(t *testing.T) {
			_, once := optimizeSQL(t, c, q)
			o := newOptimizer(c.newExecContext(context.Background()), c.logger)
			twice, err := o.optimize(once)
			require.NoError(t, err)
			require.Equal(t, planFingerprint(once), planFingerprint(twice))
		})
	}
}

func TestOptimizerPreservesSchema(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	plan, optimized := optimizeSQL(t, c, "SELECT id + 1 AS next, 2 * 3 FROM users WHERE true AND age > 20")
	require.True(t, plan.Schema().Equal(optimized.Schema()))
	require.Equal(t, []string{"next", "2 * 3"}, optimized.Schema().Names())
}

func TestPushDownFilter(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	_, optimized := optimizeSQL(t, c, "SELECT * FROM (SELECT id, name, age FROM users) t WHERE t.age > 20")
	lines := planLines(optimized)
	filter := indexOfPrefix(lines, "Filter:")
	require.GreaterOrEqual(t, filter, 0, FormatPlan(optimized))
	require.Less(t, filter+1, len(lines))
	assert.True(t, strings.HasPrefix(lines[filter+1], "TableScan: users"), FormatPlan(optimized))

	// A filter over an aggregate moves below it only for group keys.
	_, optimized = optimizeSQL(t, c, "SELECT age, count(*) AS n FROM users GROUP BY age HAVING age > 20 AND count(*) > 1")
	lines = planLines(optimized)
	agg := indexOfPrefix(lines, "Aggregate:")
	require.GreaterOrEqual(t, agg, 0)
	assert.True(t, strings.HasPrefix(lines[agg-1], "Filter:"), FormatPlan(optimized))
	assert.True(t, strings.HasPrefix(lines[agg+1], "Filter:"), FormatPlan(optimized))
}

func TestPushDownLimit(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	_, optimized := optimizeSQL(t, c, "SELECT name FROM users LIMIT 3")
	assert.Contains(t, FormatPlan(optimized), "fetch=3")
	lines := planLines(optimized)
	assert.True(t, strings.HasPrefix(lines[0], "Projection:"), FormatPlan(optimized))

	_, optimized = optimizeSQL(t, c, "SELECT id FROM users ORDER BY id LIMIT 2 OFFSET 1")
	assert.Contains(t, FormatPlan(optimized), "Sort: id ASC NULLS LAST, fetch=3")

	// A limit never passes a filter.
	_, optimized = optimizeSQL(t, c, "SELECT name FROM users WHERE age > 20 LIMIT 1")
	assert.NotContains(t, FormatPlan(optimized), "TableScan: users projection=[name, age] fetch")
}

func TestCombineLimits(t *testing.T) {
	tests := []struct {
		outer, inner   LimitNode
		skip, expected int
	}{
		{LimitNode{Skip: 0, Fetch: 5}, LimitNode{Skip: 0, Fetch: 10}, 0, 5},
		{LimitNode{Skip: 2, Fetch: 5}, LimitNode{Skip: 1, Fetch: 4}, 3, 2},
		{LimitNode{Skip: 0, Fetch: -1}, LimitNode{Skip: 3, Fetch: -1}, 3, -1},
		{LimitNode{Skip: 10, Fetch: 5}, LimitNode{Skip: 0, Fetch: 4}, 10, 0},
		{LimitNode{Skip: 1, Fetch: -1}, LimitNode{Skip: 0, Fetch: 4}, 1, 3},
	}
	for _, test := range tests {
		got := combineLimits(&test.outer, &test.inner)
		assert.Equal(t, test.skip, got.Skip)
		assert.Equal(t, test.expected, got.Fetch)
	}
}

func TestSimplifyExpressions(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	_, optimized := optimizeSQL(t, c, "SELECT id FROM users WHERE 1 = 0")
	assert.Contains(t, FormatPlan(optimized), "EmptyRelation: rows=0")
	assert.NotContains(t, FormatPlan(optimized), "TableScan")

	_, optimized = optimizeSQL(t, c, "SELECT id FROM users WHERE 1 + 1 = 2")
	assert.NotContains(t, FormatPlan(optimized), "Filter")

	_, optimized = optimizeSQL(t, c, "SELECT id FROM users WHERE false OR age > 20")
	assert.Contains(t, FormatPlan(optimized), "Filter: age > 20")

	_, optimized = optimizeSQL(t, c, "SELECT id FROM users WHERE true AND NULL")
	assert.Contains(t, FormatPlan(optimized), "EmptyRelation")
}

func TestPruneColumns(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	_, optimized := optimizeSQL(t, c, "SELECT name FROM users WHERE age > 20")
	assert.Contains(t, FormatPlan(optimized), "TableScan: users projection=[name, age]")

	_, optimized = optimizeSQL(t, c, "SELECT count(*) AS n FROM (SELECT id, name FROM users) t")
	assert.NotContains(t, FormatPlan(optimized), "name")

	rows := sqlRows(t, c, "SELECT count(*) AS n FROM (SELECT id, name FROM users) t")
	require.Equal(t, []any{int64(5)}, columnValues(rows, "n"))
}
