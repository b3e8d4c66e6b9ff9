package sedonadb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// DataFrame is a lazy, immutable query. Transformations return new frames
// that share the plan of their input; nothing runs until a terminal method
// such as Collect or Stream is called.
type DataFrame struct {
	ctx  *Context
	plan LogicalPlan
}

// Schema returns the output schema.
func (df *DataFrame) Schema() *Schema {
	return df.plan.Schema()
}

// ArrowSchema returns the output schema as an Arrow schema, with geometry
// columns tagged with their extension type.
func (df *DataFrame) ArrowSchema() *arrow.Schema {
	return df.plan.Schema().ToArrow()
}

// LogicalPlan returns the unoptimized plan.
func (df *DataFrame) LogicalPlan() LogicalPlan {
	return df.plan
}

// PrimaryGeometryColumnIndex returns the index of the first geometry column,
// or -1 if there is none.
func (df *DataFrame) PrimaryGeometryColumnIndex() int {
	for i, col := range df.Schema().Columns() {
		if col.T.InternalType() == TYPE_GEOMETRY {
			return i
		}
	}
	return -1
}

func (df *DataFrame) builder() planBuilder {
	return planBuilder{funcs: df.ctx.catalog.snapshot()}
}

func (df *DataFrame) derive(plan LogicalPlan, err error) (*DataFrame, error) {
	if err != nil {
		return nil, err
	}
	return df.ctx.newDataFrame(plan), nil
}

// Select projects expressions. A *WildcardExpr expands to all columns.
func (df *DataFrame) Select(exprs ...Expr) (*DataFrame, error) {
	p, err := df.builder().project(df.plan, exprs)
	return df.derive(p, err)
}

// SelectIndices projects columns by position.
func (df *DataFrame) SelectIndices(indices ...int) (*DataFrame, error) {
	schema := df.plan.planSchema()
	exprs := make([]Expr, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(schema) {
			return nil, getError(ErrBinding, fmt.Errorf("column index %d out of range [0, %d)", idx, len(schema)))
		}
		exprs[i] = columnOf(df.plan, idx)
	}
	p, err := newProjectNode(exprs, df.plan)
	return df.derive(p, err)
}

// Filter keeps the rows for which predicate is true.
func (df *DataFrame) Filter(predicate Expr) (*DataFrame, error) {
	return df.derive(df.builder().filter(df.plan, predicate))
}

// Limit keeps the first n rows.
func (df *DataFrame) Limit(n int) (*DataFrame, error) {
	if n < 0 {
		return nil, getError(ErrBinding, fmt.Errorf("%w, got %d", errNegativeLimit, n))
	}
	return df.derive(limitPlan(df.plan, 0, n))
}

// Offset skips the first n rows.
func (df *DataFrame) Offset(n int) (*DataFrame, error) {
	return df.derive(limitPlan(df.plan, n, -1))
}

// Aggregate groups by groupBy and computes aggs. The output has the group
// keys followed by the aggregates. Without group keys it has exactly one row.
func (df *DataFrame) Aggregate(groupBy []Expr, aggs []Expr) (*DataFrame, error) {
	p, err := df.builder().aggregate(df.plan, groupBy, aggs)
	return df.derive(p, err)
}

// Sort orders rows by keys. The sort is stable.
func (df *DataFrame) Sort(keys ...SortKey) (*DataFrame, error) {
	p, err := df.builder().sort(df.plan, keys)
	return df.derive(p, err)
}

// Stream executes the query and returns its batches incrementally. Batches
// delivered before an error stay valid; the error ends the stream. The caller
// must Close the stream.
func (df *DataFrame) Stream(ctx context.Context) (RecordStream, error) {
	return df.ctx.execute(ctx, df.plan)
}

// RecordReader executes the query and adapts the result to an
// array.RecordReader. Each record is valid until the next call to Next.
func (df *DataFrame) RecordReader(ctx context.Context) (array.RecordReader, error) {
	stream, err := df.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return newStreamReader(ctx, stream), nil
}

// Collect executes the query and returns all batches. On error no batches are
// returned. The caller must release the records.
func (df *DataFrame) Collect(ctx context.Context) ([]arrow.Record, error) {
	stream, err := df.Stream(ctx)
	if err != nil {
		return nil, err
	}
	return drain(ctx, stream)
}

// Count returns the number of rows.
func (df *DataFrame) Count(ctx context.Context) (int64, error) {
	count := Alias(&AggregateFunctionExpr{Name: "count", NaRm: true}, "count")
	counted, err := df.Aggregate(nil, []Expr{count})
	if err != nil {
		return 0, err
	}
	records, err := counted.Collect(ctx)
	if err != nil {
		return 0, err
	}
	defer releaseRecords(records)
	for _, rec := range records {
		if rec.NumRows() > 0 {
			return rec.Column(0).(*array.Int64).Value(0), nil
		}
	}
	return 0, nil
}

// Compute executes the query and returns a frame over the materialized
// result. The new frame can be executed any number of times.
func (df *DataFrame) Compute(ctx context.Context) (*DataFrame, error) {
	table, err := df.materialize(ctx)
	if err != nil {
		return nil, err
	}
	return df.ctx.FromProvider(table)
}

func (df *DataFrame) materialize(ctx context.Context) (*MemTable, error) {
	records, err := df.Collect(ctx)
	if err != nil {
		return nil, err
	}
	defer releaseRecords(records)
	return NewMemTable(df.Schema(), records...)
}

// ToView registers the frame as a view of its context.
func (df *DataFrame) ToView(name string, overwrite bool) error {
	return df.ctx.CreateView(name, df, overwrite)
}

// ToProvider returns a provider that executes the frame when scanned.
// Registering it elsewhere in the same context inlines the plan.
func (df *DataFrame) ToProvider() TableProvider {
	return &dataFrameProvider{df: df}
}

// Explain renders the logical plan, the optimized plan and the physical
// operator pipeline.
func (df *DataFrame) Explain() (string, error) {
	rows, err := df.explainRows()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i, r := range rows {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s:\n%s", r[0], r[1])
	}
	return sb.String(), nil
}

func (df *DataFrame) explainRows() ([][2]string, error) {
	ec := df.ctx.newExecContext(context.Background())
	optimized, err := newOptimizer(ec, df.ctx.logger).optimize(df.plan)
	if err != nil {
		return nil, err
	}
	root, err := ec.compile(optimized)
	if err != nil {
		return nil, err
	}
	defer root.Close()

	var physical strings.Builder
	formatOperator(&physical, root, 0)
	return [][2]string{
		{"logical_plan", FormatPlan(df.plan)},
		{"optimized_plan", FormatPlan(optimized)},
		{"physical_plan", physical.String()},
	}, nil
}

func formatOperator(sb *strings.Builder, op operator, depth int) {
	st := op.stats()
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(st.name)
	if st.detail != "" {
		sb.WriteString(": ")
		sb.WriteString(st.detail)
	}
	sb.WriteString("\n")
	for _, c := range st.children {
		formatOperator(sb, c, depth+1)
	}
}

// explainFrame returns the plans of df as rows of (plan_type, plan).
func (c *Context) explainFrame(df *DataFrame) (*DataFrame, error) {
	rows, err := df.explainRows()
	if err != nil {
		return nil, err
	}
	types := make([]any, len(rows))
	plans := make([]any, len(rows))
	for i, r := range rows {
		types[i] = r[0]
		plans[i] = strings.TrimRight(r[1], "\n")
	}
	schema := mustSchema(
		ColumnInfo{Name: "plan_type", T: stringInfo},
		ColumnInfo{Name: "plan", T: stringInfo},
	)
	rec, err := buildRecord(c.cfg.Allocator, schema, types, plans)
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	table, err := NewMemTable(schema, rec)
	if err != nil {
		return nil, err
	}
	return c.FromProvider(table)
}

// buildRecord assembles a record from one value slice per column.
func buildRecord(mem memory.Allocator, schema *Schema, columns ...[]any) (arrow.Record, error) {
	cols := make([]arrow.Array, len(columns))
	rows := 0
	for i, values := range columns {
		arr, err := buildArray(mem, schema.Column(i).T, values)
		if err != nil {
			releaseArrays(cols[:i])
			return nil, err
		}
		cols[i] = arr
		rows = len(values)
	}
	defer releaseArrays(cols)
	return newRecord(schema.ToArrow(), cols, int64(rows))
}

// streamReader adapts a RecordStream to array.RecordReader.
type streamReader struct {
	refs   atomic.Int64
	ctx    context.Context
	stream RecordStream
	cur    arrow.Record
	err    error
	done   bool
}

func newStreamReader(ctx context.Context, stream RecordStream) *streamReader {
	r := &streamReader{ctx: ctx, stream: stream}
	r.refs.Store(1)
	return r
}

func (r *streamReader) Retain() {
	r.refs.Add(1)
}

func (r *streamReader) Release() {
	if r.refs.Add(-1) != 0 {
		return
	}
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	_ = r.stream.Close()
}

func (r *streamReader) Schema() *arrow.Schema {
	return r.stream.Schema()
}

func (r *streamReader) Next() bool {
	if r.cur != nil {
		r.cur.Release()
		r.cur = nil
	}
	if r.done {
		return false
	}
	rec, err := r.stream.Next(r.ctx)
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		return false
	}
	r.cur = rec
	return true
}

func (r *streamReader) Record() arrow.Record {
	return r.cur
}

func (r *streamReader) Err() error {
	return r.err
}
