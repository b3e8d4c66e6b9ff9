package sedonadb

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type longestUDAF struct{}

func (longestUDAF) Config() AggregateFuncConfig {
	return AggregateFuncConfig{InputTypeInfos: []TypeInfo{stringInfo}, ResultTypeInfo: stringInfo}
}

func (longestUDAF) NewState() AggregateState {
	return &longestState{}
}

type longestState struct {
	value string
	seen  bool
}

func (s *longestState) Update(args []any) error {
	v := args[0].(string)
	if !s.seen || len(v) > len(s.value) {
		s.value, s.seen = v, true
	}
	return nil
}

func (s *longestState) Result() (any, error) {
	if !s.seen {
		return nil, nil
	}
	return s.value, nil
}

type rowCountUDAF struct{}

func (rowCountUDAF) Config() AggregateFuncConfig {
	return AggregateFuncConfig{InputTypeInfos: []TypeInfo{}, ResultTypeInfo: int64Info}
}

func (rowCountUDAF) NewState() AggregateState {
	return &rowCountState{}
}

type rowCountState struct {
	n int64
}

func (s *rowCountState) Update([]any) error {
	s.n++
	return nil
}

func (s *rowCountState) Result() (any, error) {
	return s.n, nil
}

type brokenUDAF struct{}

func (brokenUDAF) Config() AggregateFuncConfig {
	return AggregateFuncConfig{InputTypeInfos: []TypeInfo{int64Info}, ResultTypeInfo: int64Info}
}

func (brokenUDAF) NewState() AggregateState {
	return brokenState{}
}

type brokenState struct{}

func (brokenState) Update([]any) error { return errors.New("cannot update") }

func (brokenState) Result() (any, error) { return nil, nil }

func TestAggregateUDF(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	require.NoError(t, c.RegisterAggregateUDF("longest", longestUDAF{}))
	rows := sqlRows(t, c, "SELECT age, longest(name) AS l FROM users GROUP BY age")
	require.Equal(t, []any{int32(36), int32(17), int32(52), nil}, columnValues(rows, "age"))
	require.Equal(t, []any{"ada", "bob", nil, "dan"}, columnValues(rows, "l"))

	rows = sqlRows(t, c, "SELECT longest(name) RESPECT NULLS AS l FROM users")
	require.Equal(t, []any{nil}, columnValues(rows, "l"))

	h, ok := c.LookupFunction("LONGEST")
	require.True(t, ok)
	assert.Equal(t, FUNCTION_AGGREGATE, h.Kind())
	assert.Equal(t, "longest(VARCHAR) -> VARCHAR", h.Signature())

	_, err := c.SQL(context.Background(), "SELECT longest(name) FROM users WHERE longest(name) = 'x'")
	require.ErrorIs(t, err, ErrBinding)
}

func TestAggregateUDFStar(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	require.NoError(t, c.RegisterAggregateUDF("row_count", rowCountUDAF{}))
	rows := sqlRows(t, c, "SELECT row_count(*) AS a, row_count() AS b FROM users")
	require.Equal(t, int64(5), rows[0]["a"])
	require.Equal(t, int64(5), rows[0]["b"])
}

func TestAggregateUDFErrors(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	require.NoError(t, c.RegisterAggregateUDF("broken", brokenUDAF{}))
	df, err := c.SQL(ctx, "SELECT broken(id) FROM users")
	require.NoError(t, err)
	_, err = df.Collect(ctx)
	require.ErrorIs(t, err, ErrExecution)
	require.ErrorContains(t, err, "cannot update")

	require.ErrorIs(t, c.RegisterAggregateUDF("broken", brokenUDAF{}), ErrNameConflict)
	require.ErrorIs(t, c.RegisterAggregateUDF("sum", brokenUDAF{}), ErrNameConflict)
	require.ErrorIs(t, c.RegisterAggregateUDF("", brokenUDAF{}), ErrBinding)
	require.ErrorIs(t, c.RegisterAggregateUDF("x", nil), ErrBinding)

	require.NoError(t, c.DeregisterFunction("broken"))
	_, err = c.SQL(ctx, "SELECT broken(id) FROM users")
	require.ErrorIs(t, err, ErrBinding)
}

func TestBuiltinAggregateModifiers(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	rows := sqlRows(t, c, `SELECT count(DISTINCT age) AS d, sum(score) RESPECT NULLS AS s,
		sum(score) IGNORE NULLS AS i FROM users`)
	require.Equal(t, int64(3), rows[0]["d"])
	require.Nil(t, rows[0]["s"])
	require.InDelta(t, 11.0, rows[0]["i"], 1e-9)

	_, err := c.SQL(context.Background(), "SELECT min(ST_Point(1.0, 2.0)) FROM users")
	require.ErrorIs(t, err, ErrBinding)
}
