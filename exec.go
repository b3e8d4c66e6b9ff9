package sedonadb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/sedonadb/go-sedonadb/objectstore"
)

// execContext carries the settings of one query's execution.
type execContext struct {
	mem              memory.Allocator
	overflow         OverflowPolicy
	batchSize        int
	targetPartitions int
	logger           *slog.Logger
	store            *objectstore.Router
	crs              *crsCache
	// queryCtx governs the lifetime of provider streams opened by the query.
	queryCtx context.Context
}

// operator is a compiled, single-use physical operator.
type operator interface {
	RecordStream
	stats() *operatorStats
}

// compile turns an optimized logical plan into a pipeline of pull-based
// operators. A pipeline cannot be rewound; running a plan again compiles it again.
func (ec *execContext) compile(p LogicalPlan) (operator, error) {
	switch n := p.(type) {
	case *ScanNode:
		return newScanOp(ec, n)
	case *SubqueryAliasNode:
		return ec.compile(n.Input)
	case *EmptyRelationNode:
		return &emptyOp{operatorStats: operatorStats{name: "EmptyRelation"}, schema: n.Schema().ToArrow(), oneRow: n.ProduceOneRow}, nil
	}

	children := p.Children()
	inputs := make([]operator, len(children))
	for i, c := range children {
		op, err := ec.compile(c)
		if err != nil {
			return nil, err
		}
		inputs[i] = op
	}

	switch n := p.(type) {
	case *FilterNode:
		pred, err := compileExpr(n.Predicate, n.Input.planSchema(), ec)
		if err != nil {
			return nil, err
		}
		return &filterOp{
			operatorStats: operatorStats{name: "Filter", detail: n.Predicate.String(), children: inputs},
			ec:            ec,
			input:         inputs[0],
			predicate:     pred,
		}, nil
	case *ProjectNode:
		exprs := make([]physicalExpr, len(n.Exprs))
		for i, e := range n.Exprs {
			pe, err := compileExpr(e, n.Input.planSchema(), ec)
			if err != nil {
				return nil, err
			}
			exprs[i] = pe
		}
		return &projectOp{
			operatorStats: operatorStats{name: "Projection", detail: joinExprs(n.Exprs), children: inputs},
			input:         inputs[0],
			exprs:         exprs,
			schema:        n.Schema().ToArrow(),
		}, nil
	case *LimitNode:
		return &limitOp{
			operatorStats: operatorStats{name: "Limit", detail: n.String(), children: inputs},
			input:         inputs[0],
			skip:          int64(n.Skip),
			fetch:         int64(n.Fetch),
		}, nil
	case *AggregateNode:
		return newAggregateOp(ec, n, inputs[0])
	case *SortNode:
		return newSortOp(ec, n, inputs[0])
	}
	return nil, getError(ErrUnsupported, fmt.Errorf("no physical operator for %T", p))
}

// newRecord assembles a record, checking column types instead of panicking.
func newRecord(schema *arrow.Schema, cols []arrow.Array, rows int64) (arrow.Record, error) {
	for i, col := range cols {
		if !arrow.TypeEqual(schema.Field(i).Type, col.DataType()) {
			return nil, getError(ErrSchemaMismatch, columnError(typeMismatchError(schema.Field(i).Name, schema.Field(i).Type.String(), col.DataType().String()), i))
		}
	}
	return array.NewRecord(schema, cols, rows), nil
}

type scanOp struct {
	operatorStats
	ec          *execContext
	provider    TableProvider
	projection  []int
	fetch       int64
	full        *Schema
	expected    *Schema
	arrowSchema *arrow.Schema
	stream      RecordStream
	emitted     int64
	done        bool
}

func newScanOp(ec *execContext, n *ScanNode) (*scanOp, error) {
	full := n.Source.Schema()
	expected := full
	if n.Projection != nil {
		var err error
		if expected, err = full.Project(n.Projection); err != nil {
			return nil, err
		}
	}
	return &scanOp{
		operatorStats: operatorStats{name: "TableScan", detail: n.String()},
		ec:            ec,
		provider:      n.Source,
		projection:    n.Projection,
		fetch:         int64(n.Fetch),
		full:          full,
		expected:      expected,
		arrowSchema:   expected.ToArrow(),
	}, nil
}

func (s *scanOp) Schema() *arrow.Schema {
	return s.arrowSchema
}

func (s *scanOp) Next(ctx context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { s.observe(rec, start) }()

	for {
		if err := ctx.Err(); err != nil {
			return nil, getError(ErrExecution, err)
		}
		if s.done || (s.fetch >= 0 && s.emitted >= s.fetch) {
			s.finish()
			return nil, io.EOF
		}
		if s.stream == nil {
			stream, err := s.provider.Scan(s.ec.queryCtx, ScanOptions{Projection: s.projection, Limit: int(s.fetch)})
			if err != nil {
				return nil, wrapError(ErrExecution, err)
			}
			s.stream = stream
		}
		next, err := s.stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			s.finish()
			return nil, io.EOF
		}
		if err != nil {
			return nil, wrapError(ErrExecution, err)
		}
		next, err = s.conform(next)
		if err != nil {
			return nil, err
		}
		if next.NumRows() == 0 {
			next.Release()
			continue
		}
		if s.fetch >= 0 && s.emitted+next.NumRows() > s.fetch {
			sliced := next.NewSlice(0, s.fetch-s.emitted)
			next.Release()
			next = sliced
		}
		s.emitted += next.NumRows()
		return next, nil
	}
}

// conform validates a provider batch and applies the projection if the
// provider ignored it.
func (s *scanOp) conform(rec arrow.Record) (arrow.Record, error) {
	if s.projection != nil && int(rec.NumCols()) == s.full.Len() && s.full.Len() != s.expected.Len() {
		if err := ValidateBatch(s.full, rec); err != nil {
			rec.Release()
			return nil, err
		}
		projected := projectRecord(rec, s.arrowSchema, s.projection)
		rec.Release()
		return projected, nil
	}
	if err := ValidateBatch(s.expected, rec); err != nil {
		rec.Release()
		return nil, err
	}
	return rec, nil
}

func (s *scanOp) finish() {
	s.done = true
	if s.stream != nil {
		_ = s.stream.Close()
	}
}

func (s *scanOp) Close() error {
	if s.stream == nil {
		s.done = true
		return nil
	}
	s.done = true
	return s.stream.Close()
}

type filterOp struct {
	operatorStats
	ec        *execContext
	input     operator
	predicate physicalExpr
}

func (f *filterOp) Schema() *arrow.Schema {
	return f.input.Schema()
}

func (f *filterOp) Next(ctx context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { f.observe(rec, start) }()

	for {
		in, err := f.input.Next(ctx)
		if err != nil {
			return nil, err
		}
		mask, err := f.predicate.evaluate(ctx, in)
		if err != nil {
			in.Release()
			return nil, err
		}
		out, err := compute.FilterRecordBatch(f.ec.kernelContext(ctx), in, mask, compute.DefaultFilterOptions())
		mask.Release()
		in.Release()
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		if out.NumRows() == 0 {
			out.Release()
			continue
		}
		return out, nil
	}
}

func (f *filterOp) Close() error {
	return f.input.Close()
}

type projectOp struct {
	operatorStats
	input  operator
	exprs  []physicalExpr
	schema *arrow.Schema
}

func (p *projectOp) Schema() *arrow.Schema {
	return p.schema
}

func (p *projectOp) Next(ctx context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { p.observe(rec, start) }()

	in, err := p.input.Next(ctx)
	if err != nil {
		return nil, err
	}
	defer in.Release()

	cols := make([]arrow.Array, 0, len(p.exprs))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for _, e := range p.exprs {
		arr, err := e.evaluate(ctx, in)
		if err != nil {
			return nil, err
		}
		cols = append(cols, arr)
	}
	return newRecord(p.schema, cols, in.NumRows())
}

func (p *projectOp) Close() error {
	return p.input.Close()
}

// limitOp stops pulling from its input, and closes it, as soon as enough rows
// were produced.
type limitOp struct {
	operatorStats
	input   operator
	skip    int64
	fetch   int64
	skipped int64
	emitted int64
	done    bool
}

func (l *limitOp) Schema() *arrow.Schema {
	return l.input.Schema()
}

func (l *limitOp) Next(ctx context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { l.observe(rec, start) }()

	for {
		if l.done || (l.fetch >= 0 && l.emitted >= l.fetch) {
			l.finish()
			return nil, io.EOF
		}
		in, err := l.input.Next(ctx)
		if err != nil {
			return nil, err
		}
		n := in.NumRows()
		var offset int64
		if l.skipped < l.skip {
			offset = min(l.skip-l.skipped, n)
			l.skipped += offset
		}
		end := n
		if l.fetch >= 0 {
			end = min(n, offset+l.fetch-l.emitted)
		}
		if offset >= end {
			in.Release()
			continue
		}
		out := in
		if offset > 0 || end < n {
			out = in.NewSlice(offset, end)
			in.Release()
		}
		l.emitted += out.NumRows()
		if l.fetch >= 0 && l.emitted >= l.fetch {
			l.finish()
		}
		return out, nil
	}
}

func (l *limitOp) finish() {
	if !l.done {
		l.done = true
		_ = l.input.Close()
	}
}

func (l *limitOp) Close() error {
	if l.done {
		return nil
	}
	l.done = true
	return l.input.Close()
}

type emptyOp struct {
	operatorStats
	schema *arrow.Schema
	oneRow bool
	done   bool
}

func (e *emptyOp) Schema() *arrow.Schema {
	return e.schema
}

func (e *emptyOp) Next(_ context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { e.observe(rec, start) }()
	if e.done || !e.oneRow {
		return nil, io.EOF
	}
	e.done = true
	return array.NewRecord(e.schema, nil, 1), nil
}

func (e *emptyOp) Close() error {
	e.done = true
	return nil
}

// queryStream is the RecordStream handed to callers. It ties the pipeline to
// the query registry so that Interrupt and Close can cancel it.
type queryStream struct {
	c       *Context
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	root    operator
	started time.Time
	rows    int64
	closed  bool
}

func (q *queryStream) Schema() *arrow.Schema {
	return q.root.Schema()
}

func (q *queryStream) Next(ctx context.Context) (arrow.Record, error) {
	if q.closed {
		return nil, io.EOF
	}
	if err := q.ctx.Err(); err != nil {
		err = getError(ErrExecution, fmt.Errorf("query %s interrupted: %w", q.id, err))
		q.finish(err)
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.ctx, cancel)
	defer func() {
		stop()
		cancel()
	}()

	rec, err := q.root.Next(ctx)
	if errors.Is(err, io.EOF) {
		q.finish(nil)
		return nil, io.EOF
	}
	if err != nil {
		if q.ctx.Err() != nil {
			err = getError(ErrExecution, fmt.Errorf("query %s interrupted: %w", q.id, q.ctx.Err()))
		}
		err = wrapError(ErrExecution, err)
		q.finish(err)
		return nil, err
	}
	q.rows += rec.NumRows()
	return rec, nil
}

func (q *queryStream) finish(err error) {
	if q.closed {
		return
	}
	q.closed = true
	closeErr := q.root.Close()
	q.cancel()
	q.c.queries.remove(q.id)

	profile := q.root.stats().profile()
	root := ProfilingInfo{
		Metrics: map[string]string{
			MetricOperator:  "Query",
			MetricQueryID:   q.id,
			MetricRows:      fmt.Sprint(q.rows),
			MetricElapsedMS: fmt.Sprintf("%.3f", float64(time.Since(q.started).Microseconds())/1000),
		},
		Children: []ProfilingInfo{profile},
	}
	q.c.profiles.set(root)

	if err == nil {
		err = closeErr
	}
	if err != nil {
		q.c.logger.Debug("query failed", "query_id", q.id, "rows", q.rows, "duration", time.Since(q.started), "error", err)
		return
	}
	q.c.logger.Debug("query finished", "query_id", q.id, "rows", q.rows, "duration", time.Since(q.started))
}

func (q *queryStream) Close() error {
	q.finish(nil)
	return nil
}

// drain collects all batches of a stream. On error every batch produced so
// far is released and only the error is returned.
func drain(ctx context.Context, s RecordStream) ([]arrow.Record, error) {
	defer s.Close()
	var out []arrow.Record
	for {
		rec, err := s.Next(ctx)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			for _, r := range out {
				r.Release()
			}
			return nil, err
		}
		out = append(out, rec)
	}
}
