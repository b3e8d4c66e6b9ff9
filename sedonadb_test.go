package sedonadb

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/stretchr/testify/require"
)

func newTestContext(t *testing.T) *Context {
	t.Helper()
	c, err := NewContext(Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, c.Close())
	})
	return c
}

// newTestTable builds a single-batch table from one value slice per column.
func newTestTable(t *testing.T, schema *Schema, columns ...[]any) *MemTable {
	t.Helper()
	rec, err := buildRecord(memory.DefaultAllocator, schema, columns...)
	require.NoError(t, err)
	defer rec.Release()
	table, err := NewMemTable(schema, rec)
	require.NoError(t, err)
	return table
}

// newBatchedTable splits rows into batches of the given size.
func newBatchedTable(t *testing.T, schema *Schema, batch int, columns ...[]any) *MemTable {
	t.Helper()
	rows := len(columns[0])
	var records []arrow.Record
	for start := 0; start < rows; start += batch {
		end := min(start+batch, rows)
		parts := make([][]any, len(columns))
		for i, col := range columns {
			parts[i] = col[start:end]
		}
		rec, err := buildRecord(memory.DefaultAllocator, schema, parts...)
		require.NoError(t, err)
		records = append(records, rec)
	}
	table, err := NewMemTable(schema, records...)
	require.NoError(t, err)
	releaseRecords(records)
	return table
}

// usersTable has the columns id BIGINT, name VARCHAR, age INTEGER, score DOUBLE.
func usersTable(t *testing.T) *MemTable {
	t.Helper()
	schema := mustSchema(
		ColumnInfo{Name: "id", T: int64Info},
		ColumnInfo{Name: "name", T: stringInfo, Nullable: true},
		ColumnInfo{Name: "age", T: int32Info, Nullable: true},
		ColumnInfo{Name: "score", T: float64Info, Nullable: true},
	)
	return newBatchedTable(t, schema, 2,
		[]any{int64(1), int64(2), int64(3), int64(4), int64(5)},
		[]any{"ada", "bob", nil, "dan", "eve"},
		[]any{int32(36), int32(17), int32(52), nil, int32(17)},
		[]any{1.5, 2.5, 3.0, nil, 4.0},
	)
}

func registerUsers(t *testing.T, c *Context) {
	t.Helper()
	require.NoError(t, c.RegisterTable("users", usersTable(t)))
}

func sqlRows(t *testing.T, c *Context, query string) []map[string]any {
	t.Helper()
	df, err := c.SQL(context.Background(), query)
	require.NoError(t, err)
	rows, err := df.CollectRows(context.Background())
	require.NoError(t, err)
	return rows
}

func columnValues(rows []map[string]any, name string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r[name]
	}
	return out
}

func mustWKB(t *testing.T, g orb.Geometry) []byte {
	t.Helper()
	b, err := wkb.Marshal(g)
	require.NoError(t, err)
	return b
}

func TestOpen(t *testing.T) {
	c, err := Open("?batch_size=100&target_partitions=2&overflow=wrap")
	require.NoError(t, err)
	defer c.Close()

	cfg := c.Config()
	require.Equal(t, 100, cfg.BatchSize)
	require.Equal(t, 2, cfg.TargetPartitions)
	require.Equal(t, OverflowWrap, cfg.Overflow)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Allocator)

	_, err = Open("?batch_size=-1")
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open("?no_such_option=1")
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestContextClose(t *testing.T) {
	c, err := NewContext(Config{})
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.SQL(context.Background(), "SELECT 1")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, c.RegisterTable("t", usersTable(t)), ErrClosed)
	_, err = c.Table("t")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRegisterTable(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	t.Run("conflict", func(t *testing.T) {
		err := c.RegisterTable("USERS", usersTable(t))
		require.ErrorIs(t, err, ErrNameConflict)
	})

	t.Run("replace", func(t *testing.T) {
		require.NoError(t, c.ReplaceTable("users", usersTable(t)))
		require.Equal(t, []string{"users"}, c.Tables())
	})

	t.Run("nil provider", func(t *testing.T) {
		require.ErrorIs(t, c.RegisterTable("x", nil), ErrBinding)
	})

	t.Run("empty name", func(t *testing.T) {
		require.ErrorIs(t, c.RegisterTable(" ", usersTable(t)), ErrBinding)
	})

	t.Run("deregister", func(t *testing.T) {
		require.NoError(t, c.RegisterTable("other", usersTable(t)))
		require.NoError(t, c.DeregisterTable("other"))
		require.ErrorIs(t, c.DeregisterTable("other"), ErrNotFound)
		_, err := c.Table("other")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestTableLookupIsCaseInsensitive(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	df, err := c.Table("Users")
	require.NoError(t, err)
	n, err := df.Count(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 5, n)
}

func TestViews(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	_, err := c.SQL(ctx, "CREATE VIEW adults AS SELECT id, name FROM users WHERE age >= 18")
	require.NoError(t, err)
	rows := sqlRows(t, c, "SELECT id FROM adults ORDER BY id")
	require.Equal(t, []any{int64(1), int64(3)}, columnValues(rows, "id"))

	_, err = c.SQL(ctx, "CREATE VIEW adults AS SELECT id FROM users")
	require.ErrorIs(t, err, ErrNameConflict)

	_, err = c.SQL(ctx, "CREATE OR REPLACE VIEW adults AS SELECT id FROM users WHERE age < 18")
	require.NoError(t, err)
	rows = sqlRows(t, c, "SELECT id FROM adults ORDER BY id")
	require.Equal(t, []any{int64(2), int64(5)}, columnValues(rows, "id"))

	_, err = c.SQL(ctx, "DROP TABLE adults")
	require.ErrorIs(t, err, ErrBinding)
	_, err = c.SQL(ctx, "DROP VIEW adults")
	require.NoError(t, err)
	_, err = c.SQL(ctx, "DROP VIEW adults")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = c.SQL(ctx, "DROP VIEW IF EXISTS adults")
	require.NoError(t, err)
}

func TestCreateViewFromOtherContext(t *testing.T) {
	c := newTestContext(t)
	other := newTestContext(t)
	registerUsers(t, other)

	df, err := other.Table("users")
	require.NoError(t, err)
	require.ErrorIs(t, c.CreateView("v", df, false), ErrBinding)
	require.ErrorIs(t, c.CreateView("v", nil, false), ErrBinding)
}

func TestInterrupt(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	df, err := c.SQL(ctx, "SELECT * FROM users")
	require.NoError(t, err)
	stream, err := df.Stream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	rec, err := stream.Next(ctx)
	require.NoError(t, err)
	rec.Release()

	require.Equal(t, 1, c.Interrupt())
	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, ErrExecution)
	require.Equal(t, 0, c.queries.len())
}

func TestStreamCancelledContext(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	df, err := c.SQL(ctx, "SELECT name FROM users")
	require.NoError(t, err)
	stream, err := df.Stream(ctx)
	require.NoError(t, err)
	defer stream.Close()

	cancel()
	_, err = stream.Next(ctx)
	require.ErrorIs(t, err, ErrExecution)
}

func TestConcurrentRegistration(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()

	tables := make([]*MemTable, 8)
	for i := range tables {
		tables[i] = usersTable(t)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			name := string(rune('a' + i))
			if err := c.RegisterTable(name, tables[i]); err != nil {
				errs <- err
				return
			}
			if err := c.DeregisterTable(name); err != nil {
				errs <- err
			}
		}(i)
		go func() {
			defer wg.Done()
			df, err := c.SQL(ctx, "SELECT count(*) AS n FROM users")
			if err != nil {
				errs <- err
				return
			}
			n, err := df.Count(ctx)
			if err != nil {
				errs <- err
				return
			}
			if n != 1 {
				errs <- errors.New("unexpected row count")
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, []string{"users"}, c.Tables())
}

func TestConcurrentRegistrationSameName(t *testing.T) {
	c := newTestContext(t)
	const n = 16

	schema := mustSchema(ColumnInfo{Name: "k", T: int64Info})
	tables := make([]*MemTable, n)
	for i := range tables {
		tables[i] = newTestTable(t, schema, []any{int64(i)})
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = c.RegisterTable("t", tables[i])
		}()
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "more than one registration succeeded")
			winner = i
			continue
		}
		require.ErrorIs(t, err, ErrNameConflict)
	}
	require.GreaterOrEqual(t, winner, 0)

	rows := sqlRows(t, c, "SELECT k FROM t")
	require.Equal(t, []any{int64(winner)}, columnValues(rows, "k"))
	require.Equal(t, []string{"t"}, c.Tables())
}

// countingTable counts the batches its scans hand out.
type countingTable struct {
	*MemTable
	pulls atomic.Int64
}

func (t *countingTable) Scan(ctx context.Context, opts ScanOptions) (RecordStream, error) {
	s, err := t.MemTable.Scan(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &countingStream{RecordStream: s, pulls: &t.pulls}, nil
}

type countingStream struct {
	RecordStream
	pulls *atomic.Int64
}

func (s *countingStream) Next(ctx context.Context) (arrow.Record, error) {
	rec, err := s.RecordStream.Next(ctx)
	if err == nil {
		s.pulls.Add(1)
	}
	return rec, err
}

func TestLimitStopsPulling(t *testing.T) {
	c := newTestContext(t)

	const n = 100
	values := make([]any, n)
	for i := range values {
		values[i] = int64(i)
	}
	schema := mustSchema(ColumnInfo{Name: "a", T: int64Info})
	table := &countingTable{MemTable: newBatchedTable(t, schema, 1, values)}
	require.NoError(t, c.RegisterTable("t", table))

	// The filter keeps the limit out of the scan, so the limit operator has
	// to stop pulling on its own.
	rows := sqlRows(t, c, "SELECT a FROM t WHERE a > 1 LIMIT 2")
	require.Equal(t, []any{int64(2), int64(3)}, columnValues(rows, "a"))
	require.Equal(t, int64(4), table.pulls.Load())

	table.pulls.Store(0)
	rows = sqlRows(t, c, "SELECT a FROM t LIMIT 3")
	require.Len(t, rows, 3)
	require.LessOrEqual(t, table.pulls.Load(), int64(3))
}

func TestProfilingInfo(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)

	_, err := c.ProfilingInfo()
	require.ErrorIs(t, err, ErrNotFound)

	sqlRows(t, c, "SELECT name FROM users WHERE age > 20")
	info, err := c.ProfilingInfo()
	require.NoError(t, err)
	require.Equal(t, "Query", info.Metrics[MetricOperator])
	require.Equal(t, "2", info.Metrics[MetricRows])
	require.NotEmpty(t, info.Metrics[MetricQueryID])
	require.Len(t, info.Children, 1)
}
