package sedonadb

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testErrorInternal(t *testing.T, actual error, contains []string) {
	require.Error(t, actual)
	for _, msg := range contains {
		require.Contains(t, actual.Error(), msg)
	}

	levels := strings.Count(actual.Error(), sedonaErrMsg+":")
	require.Equal(t, 1, levels, actual.Error())
}

func testError(t *testing.T, actual error, contains ...string) {
	testErrorInternal(t, actual, contains)
}

func TestErrOpen(t *testing.T) {
	t.Run(errParseDSN.Error(), func(t *testing.T) {
		_, err := Open("%zz")
		testError(t, err, errParseDSN.Error(), ErrInvalidConfig.Error())
	})

	t.Run("unknown option", func(t *testing.T) {
		_, err := Open("?threads=4")
		testError(t, err, ErrInvalidConfig.Error(), "threads")
	})
}

func TestErrClosedContext(t *testing.T) {
	c, err := NewContext(Config{})
	require.NoError(t, err)
	df, err := c.SQL(context.Background(), "SELECT 1 AS one")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.SQL(context.Background(), "SELECT 1")
	testError(t, err, ErrClosed.Error())
	require.ErrorIs(t, err, ErrClosed)

	_, err = df.Collect(context.Background())
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, c.RegisterTable("t", usersTable(t)), ErrClosed)
	_, err = c.Table("t")
	require.ErrorIs(t, err, ErrClosed)
	_, err = c.ReadParquet(context.Background(), "x.parquet")
	require.ErrorIs(t, err, ErrClosed)
}

func TestErrCatalog(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	t.Run(ErrNameConflict.Error(), func(t *testing.T) {
		err := c.RegisterTable("USERS", usersTable(t))
		testError(t, err, ErrNameConflict.Error(), "users")
	})

	t.Run(ErrNotFound.Error(), func(t *testing.T) {
		err := c.DeregisterTable("nope")
		testError(t, err, ErrNotFound.Error(), `"nope"`)
		_, err = c.Table("nope")
		testError(t, err, ErrNotFound.Error())
	})

	t.Run(errNilProvider.Error(), func(t *testing.T) {
		_, err := c.FromProvider(nil)
		testError(t, err, ErrBinding.Error(), errNilProvider.Error())
	})

	t.Run(errProfilingInfoEmpty.Error(), func(t *testing.T) {
		fresh := newTestContext(t)
		_, err := fresh.ProfilingInfo()
		testError(t, err, errProfilingInfoEmpty.Error())
	})
}

func TestErrQuery(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	t.Run(unknownColumnErrMsg, func(t *testing.T) {
		_, err := c.SQL(ctx, "SELECT nope FROM users")
		testError(t, err, ErrBinding.Error(), unknownColumnErrMsg, "nope")
	})

	t.Run(unknownFunctionErrMsg, func(t *testing.T) {
		_, err := c.SQL(ctx, "SELECT nope(id) FROM users")
		testError(t, err, ErrBinding.Error(), unknownFunctionErrMsg)
	})

	t.Run(arityErrMsg, func(t *testing.T) {
		_, err := c.SQL(ctx, "SELECT upper(name, name) FROM users")
		testError(t, err, ErrBinding.Error(), arityErrMsg)
	})

	t.Run(errNegativeLimit.Error(), func(t *testing.T) {
		df, err := c.Table("users")
		require.NoError(t, err)
		_, err = df.Limit(-1)
		testError(t, err, errNegativeLimit.Error())
	})

	t.Run(errIntegerOverflow.Error(), func(t *testing.T) {
		df, err := c.SQL(ctx, "SELECT id * 9223372036854775807 AS big FROM users")
		require.NoError(t, err)
		_, err = df.Collect(ctx)
		testError(t, err, ErrExecution.Error(), errIntegerOverflow.Error())
	})
}

func TestWrapError(t *testing.T) {
	require.NoError(t, wrapError(ErrExecution, nil))

	base := errors.New("disk on fire")
	wrapped := wrapError(ErrExecution, base)
	require.ErrorIs(t, wrapped, ErrExecution)
	require.Equal(t, "sedonadb: execution error: disk on fire", wrapped.Error())

	again := wrapError(ErrExecution, wrapped)
	require.Equal(t, wrapped, again)
	kept := wrapError(ErrExecution, getError(ErrSchemaMismatch, base))
	require.ErrorIs(t, kept, ErrSchemaMismatch)
	require.NotErrorIs(t, kept, ErrExecution)

	require.Equal(t, "sedonadb: context closed", getError(ErrClosed, nil).Error())
	require.True(t, isEngineError(getError(ErrParse, base)))
	require.False(t, isEngineError(base))

	err := columnError(addIndexToError(base, 3), 1)
	require.Equal(t, "disk on fire: index: 3: column index: 1", err.Error())
	require.ErrorIs(t, err, base)
}
