package sedonadb

import (
	"context"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBinary(t *testing.T, op BinaryOp, left, right Expr) *BinaryExpr {
	t.Helper()
	e, err := NewBinary(op, left, right)
	require.NoError(t, err)
	return e
}

func TestNewLiteral(t *testing.T) {
	tests := []struct {
		value    any
		expected Type
		str      string
	}{
		{nil, TYPE_NULL, "NULL"},
		{true, TYPE_BOOLEAN, "true"},
		{int32(7), TYPE_INTEGER, "7"},
		{7, TYPE_BIGINT, "7"},
		{uint16(7), TYPE_BIGINT, "7"},
		{float32(1.5), TYPE_FLOAT, "1.5"},
		{2.0, TYPE_DOUBLE, "2.0"},
		{"it's", TYPE_VARCHAR, "'it''s'"},
		{[]byte{0xab}, TYPE_BLOB, "X'ab'"},
		{time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), TYPE_TIMESTAMP, "TIMESTAMP '2024-01-02 03:04:05'"},
		{orb.Point{1, 2}, TYPE_GEOMETRY, "'POINT(1 2)'"},
	}
	for _, test := range tests {
		lit, err := NewLiteral(test.value)
		require.NoError(t, err)
		assert.Equal(t, test.expected, lit.Type().InternalType())
		assert.Equal(t, test.str, lit.String())
	}

	_, err := NewLiteral(struct{}{})
	require.ErrorIs(t, err, ErrBinding)

	_, err = NewLiteral(uint64(1) << 63)
	require.ErrorIs(t, err, ErrBinding)

	require.Panics(t, func() { Lit(map[string]int{}) })
}

func TestExprString(t *testing.T) {
	one, two, three := Lit(1), Lit(2), Lit(3)

	tests := []struct {
		expr     Expr
		expected string
	}{
		{Col("a"), "a"},
		{QualifiedCol("t", "a"), "t.a"},
		{mustBinary(t, OP_ADD, one, mustBinary(t, OP_MUL, two, three)), "1 + 2 * 3"},
		{mustBinary(t, OP_MUL, mustBinary(t, OP_ADD, one, two), three), "(1 + 2) * 3"},
		{mustBinary(t, OP_SUB, one, mustBinary(t, OP_SUB, two, three)), "1 - (2 - 3)"},
		{mustBinary(t, OP_SUB, mustBinary(t, OP_SUB, one, two), three), "1 - 2 - 3"},
		{mustBinary(t, OP_AND, mustBinary(t, OP_AND, Lit(true), Lit(false)), Lit(true)), "true AND false AND true"},
		{mustBinary(t, OP_OR, Col("a"), mustBinary(t, OP_AND, Col("b"), Col("c"))), "a OR b AND c"},
		{mustBinary(t, OP_AND, mustBinary(t, OP_OR, Col("a"), Col("b")), Col("c")), "(a OR b) AND c"},
		{Alias(Col("a"), "b"), "a AS b"},
		{Alias(Alias(Col("a"), "b"), "c"), "a AS c"},
		{Not(Col("a")), "NOT a"},
		{Not(mustBinary(t, OP_EQ, Col("a"), one)), "NOT (a = 1)"},
		{IsNull(Col("a")), "a IS NULL"},
		{IsNotNull(mustBinary(t, OP_ADD, Col("a"), one)), "(a + 1) IS NOT NULL"},
		{&WildcardExpr{}, "*"},
		{&WildcardExpr{Qualifier: "t"}, "t.*"},
	}
	for _, test := range tests {
		assert.Equal(t, test.expected, test.expr.String())
	}

	neg, err := Negate(mustBinary(t, OP_ADD, Col("a"), one))
	require.NoError(t, err)
	assert.Equal(t, "(- a + 1)", neg.String())

	cast, err := Cast(Col("a"), float64Info)
	require.NoError(t, err)
	assert.Equal(t, "CAST(a AS DOUBLE)", cast.String())
}

func TestNewBinaryTypes(t *testing.T) {
	e := mustBinary(t, OP_ADD, Lit(int32(1)), Lit(int64(2)))
	assert.Equal(t, TYPE_BIGINT, e.Type().InternalType())

	e = mustBinary(t, OP_DIV, Lit(1), Lit(2.0))
	assert.Equal(t, TYPE_DOUBLE, e.Type().InternalType())

	e = mustBinary(t, OP_LT, Lit("a"), Lit("b"))
	assert.Equal(t, TYPE_BOOLEAN, e.Type().InternalType())

	e = mustBinary(t, OP_ADD, Col("a"), Lit(1))
	assert.Nil(t, e.Type())

	_, err := NewBinary(OP_ADD, Lit("a"), Lit(1))
	require.ErrorIs(t, err, ErrBinding)

	_, err = NewBinary(OP_AND, Lit(1), Lit(true))
	require.ErrorIs(t, err, ErrBinding)

	_, err = NewBinary(BinaryOp(99), Lit(1), Lit(1))
	require.ErrorIs(t, err, ErrBinding)

	_, err = NewBinary(OP_ADD, nil, Lit(1))
	require.ErrorIs(t, err, ErrBinding)

	_, err = Negate(Lit("a"))
	require.ErrorIs(t, err, ErrBinding)

	_, err = Cast(Lit(true), geomInfo)
	require.ErrorIs(t, err, ErrBinding)
}

func TestParseBinaryOp(t *testing.T) {
	for symbol, expected := range map[string]BinaryOp{
		"+": OP_ADD, "<>": OP_NOT_EQ, "==": OP_EQ, "and": OP_AND, " OR ": OP_OR, "||": OP_CONCAT,
	} {
		op, err := ParseBinaryOp(symbol)
		require.NoError(t, err)
		assert.Equal(t, expected, op)
	}
	_, err := ParseBinaryOp("^")
	require.ErrorIs(t, err, ErrBinding)
}

func TestDebugString(t *testing.T) {
	e := Alias(mustBinary(t, OP_GT, QualifiedCol("t", "a"), Lit(1)), "big")
	assert.Equal(t,
		`Alias { name: "big", args: [Binary { op: >, args: [Column { name: "a", qualifier: "t" }, Literal { value: 1, type: BIGINT }] }] }`,
		DebugString(e))
}

func TestExprFactory(t *testing.T) {
	c := newTestContext(t)
	f := c.Exprs()

	pt, err := f.ScalarFunction("ST_Point", Lit(1.0), Lit(2.0))
	require.NoError(t, err)
	assert.Equal(t, TYPE_GEOMETRY, pt.Type().InternalType())
	assert.Equal(t, "st_point(1.0, 2.0)", pt.String())

	_, err = f.ScalarFunction("st_point", Lit(1.0))
	require.ErrorIs(t, err, ErrBinding)

	_, err = f.ScalarFunction("sum", Col("a"))
	require.ErrorIs(t, err, ErrBinding)

	_, err = f.ScalarFunction("nope")
	require.ErrorIs(t, err, ErrBinding)

	count, err := f.AggregateFunction("count", []Expr{&WildcardExpr{}}, false, true)
	require.NoError(t, err)
	assert.Equal(t, "count(*)", count.String())
	assert.Equal(t, TYPE_BIGINT, count.Type().InternalType())

	sum, err := f.AggregateFunction("sum", []Expr{Col("a")}, true, false)
	require.NoError(t, err)
	assert.Equal(t, "sum(DISTINCT a) RESPECT NULLS", sum.String())

	_, err = f.AggregateFunction("sum", []Expr{&WildcardExpr{}}, false, true)
	require.ErrorIs(t, err, ErrBinding)

	_, err = f.AggregateFunction("upper", []Expr{Col("a")}, false, true)
	require.ErrorIs(t, err, ErrBinding)

	b, err := f.Binary(">=", f.Column("age", ""), Lit(18))
	require.NoError(t, err)
	assert.Equal(t, "age >= 18", b.String())

	_, err = f.Binary("~", Col("a"), Col("b"))
	require.ErrorIs(t, err, ErrBinding)
}

func TestDataFrameExpressions(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()
	f := c.Exprs()

	df, err := c.Table("users")
	require.NoError(t, err)

	adult, err := f.Binary(">=", Col("age"), Lit(18))
	require.NoError(t, err)
	df, err = df.Filter(adult)
	require.NoError(t, err)

	upper, err := f.ScalarFunction("upper", Col("name"))
	require.NoError(t, err)
	df, err = df.Select(Col("id"), Alias(upper, "shout"))
	require.NoError(t, err)
	df, err = df.Sort(Desc(Col("id")))
	require.NoError(t, err)

	rows, err := df.CollectRows(ctx)
	require.NoError(t, err)
	require.Equal(t, []any{int64(3), int64(1)}, columnValues(rows, "id"))
	require.Equal(t, []any{nil, "ADA"}, columnValues(rows, "shout"))

	_, err = df.Filter(Col("id"))
	require.ErrorIs(t, err, ErrBinding)

	_, err = df.Select(Col("missing"))
	require.ErrorIs(t, err, ErrBinding)

	_, err = df.Select()
	require.ErrorIs(t, err, ErrBinding)

	_, err = df.Select(Col("id"), Col("id"))
	require.ErrorIs(t, err, ErrBinding)

	_, err = df.Sort()
	require.ErrorIs(t, err, ErrBinding)
}

func TestDataFrameAggregate(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()
	f := c.Exprs()

	df, err := c.Table("users")
	require.NoError(t, err)

	n, err := f.AggregateFunction("count", nil, false, true)
	require.NoError(t, err)
	avg, err := f.AggregateFunction("avg", []Expr{Col("score")}, false, true)
	require.NoError(t, err)
	grouped, err := df.Aggregate([]Expr{Col("age")}, []Expr{Alias(n, "n"), Alias(avg, "mean")})
	require.NoError(t, err)
	require.Equal(t, []string{"age", "n", "mean"}, grouped.Schema().Names())

	sorted, err := grouped.Sort(Asc(Col("age")))
	require.NoError(t, err)
	rows, err := sorted.CollectRows(ctx)
	require.NoError(t, err)
	require.Equal(t, []any{int32(17), int32(36), int32(52), nil}, columnValues(rows, "age"))
	require.Equal(t, []any{int64(2), int64(1), int64(1), int64(1)}, columnValues(rows, "n"))
	require.Equal(t, []any{3.25, 1.5, 3.0, nil}, columnValues(rows, "mean"))

	_, err = df.Aggregate(nil, []Expr{Col("age")})
	require.ErrorIs(t, err, ErrBinding)

	_, err = df.Aggregate(nil, []Expr{Alias(n, "n"), Alias(avg, "n")})
	require.ErrorIs(t, err, ErrBinding)
}
