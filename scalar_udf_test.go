package sedonadb

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doubleUDF struct{}

func (doubleUDF) Config() ScalarFuncConfig {
	return ScalarFuncConfig{
		InputTypeInfos: []TypeInfo{int64Info},
		ResultTypeInfo: int64Info,
	}
}

func (doubleUDF) ExecuteRow(args []any) (any, error) {
	return args[0].(int64) * 2, nil
}

type joinUDF struct{}

func (joinUDF) Config() ScalarFuncConfig {
	variadic := TypeInfo(stringInfo)
	return ScalarFuncConfig{VariadicTypeInfo: &variadic, ResultTypeInfo: stringInfo}
}

func (joinUDF) ExecuteRow(args []any) (any, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.(string)
	}
	return strings.Join(parts, "-"), nil
}

type describeNullUDF struct{}

func (describeNullUDF) Config() ScalarFuncConfig {
	return ScalarFuncConfig{
		InputTypeInfos:      []TypeInfo{stringInfo},
		ResultTypeInfo:      stringInfo,
		SpecialNullHandling: true,
	}
}

func (describeNullUDF) ExecuteRow(args []any) (any, error) {
	if args[0] == nil {
		return "missing", nil
	}
	return args[0], nil
}

type countingUDF struct {
	calls    *atomic.Int64
	volatile bool
}

func (f countingUDF) Config() ScalarFuncConfig {
	return ScalarFuncConfig{InputTypeInfos: []TypeInfo{}, ResultTypeInfo: int64Info, Volatile: f.volatile}
}

func (f countingUDF) ExecuteRow([]any) (any, error) {
	return f.calls.Add(1), nil
}

type failingUDF struct {
	panics bool
}

func (failingUDF) Config() ScalarFuncConfig {
	return ScalarFuncConfig{InputTypeInfos: []TypeInfo{int64Info}, ResultTypeInfo: int64Info}
}

func (f failingUDF) ExecuteRow(args []any) (any, error) {
	if f.panics {
		panic("boom")
	}
	return nil, errors.New("refusing")
}

type badConfigUDF struct {
	config ScalarFuncConfig
}

func (f badConfigUDF) Config() ScalarFuncConfig { return f.config }

func (badConfigUDF) ExecuteRow([]any) (any, error) { return nil, nil }

// plusOneChunk adds one to every BIGINT of a batch.
type plusOneChunk struct {
	resultType TypeInfo
}

func (f plusOneChunk) Config() ScalarFuncConfig {
	return ScalarFuncConfig{InputTypeInfos: []TypeInfo{int64Info}, ResultTypeInfo: f.resultType}
}

func (plusOneChunk) ExecuteChunk(_ context.Context, args []arrow.Array) (arrow.Array, error) {
	in := args[0].(*array.Int64)
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < in.Len(); i++ {
		if in.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(in.Value(i) + 1)
	}
	return b.NewArray(), nil
}

func TestScalarUDF(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	require.NoError(t, c.RegisterScalarUDF("Double", doubleUDF{}))
	rows := sqlRows(t, c, "SELECT double(id) AS d, Double(age) AS a FROM users ORDER BY id")
	require.Equal(t, []any{int64(2), int64(4), int64(6), int64(8), int64(10)}, columnValues(rows, "d"))
	require.Equal(t, []any{int64(72), int64(34), int64(104), nil, int64(34)}, columnValues(rows, "a"))

	h, ok := c.LookupFunction("DOUBLE")
	require.True(t, ok)
	assert.Equal(t, "double", h.Name())
	assert.Equal(t, FUNCTION_SCALAR, h.Kind())
	assert.False(t, h.IsBuiltin())
	assert.Equal(t, "double(BIGINT) -> BIGINT", h.Signature())

	_, err := c.SQL(context.Background(), "SELECT double(ST_Point(1.0, 2.0)) FROM users")
	require.ErrorIs(t, err, ErrBinding)
	_, err = c.SQL(context.Background(), "SELECT double(id, id) FROM users")
	require.ErrorIs(t, err, ErrBinding)
}

func TestScalarUDFVariadic(t *testing.T) {
	c := newTestContext(t)
	require.NoError(t, c.RegisterScalarUDF("join_all", joinUDF{}))

	rows := sqlRows(t, c, "SELECT join_all('a', 'b', 'c') AS j, join_all() AS e, join_all('x', 1) AS m")
	require.Equal(t, "a-b-c", rows[0]["j"])
	require.Equal(t, "", rows[0]["e"])
	require.Equal(t, "x-1", rows[0]["m"])

	h, ok := c.LookupFunction("join_all")
	require.True(t, ok)
	assert.Equal(t, "join_all(VARCHAR...) -> VARCHAR", h.Signature())
}

func TestScalarUDFNullHandling(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	require.NoError(t, c.RegisterScalarUDF("describe", describeNullUDF{}))
	require.NoError(t, c.RegisterScalarUDF("double", doubleUDF{}))

	rows := sqlRows(t, c, "SELECT describe(name) AS d, double(NULL) AS n FROM users WHERE id = 3")
	require.Equal(t, "missing", rows[0]["d"])
	require.Nil(t, rows[0]["n"])
}

func TestScalarUDFVolatility(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	var stable, volatile atomic.Int64
	require.NoError(t, c.RegisterScalarUDF("stable_counter", countingUDF{calls: &stable}))
	require.NoError(t, c.RegisterScalarUDF("volatile_counter", countingUDF{calls: &volatile, volatile: true}))

	rows := sqlRows(t, c, "SELECT stable_counter() AS s, volatile_counter() AS v FROM users")
	require.Len(t, rows, 5)
	assert.EqualValues(t, 1, stable.Load())
	assert.EqualValues(t, 5, volatile.Load())
	assert.Equal(t, []any{int64(1), int64(1), int64(1), int64(1), int64(1)}, columnValues(rows, "s"))
}

func TestScalarUDFErrors(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	require.NoError(t, c.RegisterScalarUDF("fails", failingUDF{}))
	require.NoError(t, c.RegisterScalarUDF("panics", failingUDF{panics: true}))

	for _, query := range []string{"SELECT fails(id) FROM users", "SELECT panics(id) FROM users"} {
		df, err := c.SQL(ctx, query)
		require.NoError(t, err)
		_, err = df.Collect(ctx)
		require.ErrorIs(t, err, ErrExecution)
	}

	df, err := c.SQL(ctx, "SELECT panics(id) FROM users")
	require.NoError(t, err)
	_, err = df.Collect(ctx)
	require.ErrorContains(t, err, "panic in panics")
}

func TestRegisterScalarUDFErrors(t *testing.T) {
	c := newTestContext(t)

	require.ErrorIs(t, c.RegisterScalarUDF("upper", doubleUDF{}), ErrNameConflict)
	require.NoError(t, c.RegisterScalarUDF("double", doubleUDF{}))
	require.ErrorIs(t, c.RegisterScalarUDF("DOUBLE", doubleUDF{}), ErrNameConflict)

	require.ErrorIs(t, c.RegisterScalarUDF("", doubleUDF{}), ErrBinding)
	require.ErrorIs(t, c.RegisterScalarUDF("x", nil), ErrBinding)
	require.ErrorIs(t, c.RegisterScalarUDF("x", badConfigUDF{ScalarFuncConfig{InputTypeInfos: []TypeInfo{int64Info}}}), ErrBinding)
	require.ErrorIs(t, c.RegisterScalarUDF("x", badConfigUDF{ScalarFuncConfig{ResultTypeInfo: int64Info}}), ErrBinding)
	require.ErrorIs(t, c.RegisterScalarUDF("x", badConfigUDF{ScalarFuncConfig{InputTypeInfos: []TypeInfo{nil}, ResultTypeInfo: int64Info}}), ErrBinding)
	var nilVariadic TypeInfo
	require.ErrorIs(t, c.RegisterScalarUDF("x", badConfigUDF{ScalarFuncConfig{VariadicTypeInfo: &nilVariadic, ResultTypeInfo: int64Info}}), ErrBinding)

	require.NoError(t, c.DeregisterFunction("Double"))
	require.ErrorIs(t, c.DeregisterFunction("double"), ErrNotFound)
	require.ErrorIs(t, c.DeregisterFunction("upper"), ErrNotFound)
	_, err := c.SQL(context.Background(), "SELECT double(1)")
	require.ErrorIs(t, err, ErrBinding)

	h, ok := c.LookupFunction("upper")
	require.True(t, ok)
	assert.True(t, h.IsBuiltin())
}

func TestChunkScalarUDF(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	require.NoError(t, c.RegisterChunkScalarUDF("plus_one", plusOneChunk{resultType: int64Info}))
	rows := sqlRows(t, c, "SELECT plus_one(id) AS p FROM users ORDER BY id")
	require.Equal(t, []any{int64(2), int64(3), int64(4), int64(5), int64(6)}, columnValues(rows, "p"))

	require.NoError(t, c.RegisterChunkScalarUDF("bad_plus_one", plusOneChunk{resultType: stringInfo}))
	df, err := c.SQL(ctx, "SELECT bad_plus_one(id) FROM users")
	require.NoError(t, err)
	_, err = df.Collect(ctx)
	require.ErrorIs(t, err, ErrExecution)

	require.ErrorIs(t, c.RegisterChunkScalarUDF("x", nil), ErrBinding)
}
