package sedonadb

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

type sortKey struct {
	expr       physicalExpr
	asc        bool
	nullsFirst bool
}

// sortOp materializes its input and emits it in key order. The sort is
// stable, so rows with equal keys keep their input order.
type sortOp struct {
	operatorStats
	ec     *execContext
	input  operator
	keys   []sortKey
	fetch  int
	schema *arrow.Schema
	output []arrow.Record
	done   bool
}

func newSortOp(ec *execContext, n *SortNode, input operator) (*sortOp, error) {
	op := &sortOp{
		operatorStats: operatorStats{name: "Sort", detail: n.String(), children: []operator{input}},
		ec:            ec,
		input:         input,
		fetch:         n.Fetch,
		schema:        n.Schema().ToArrow(),
	}
	for _, k := range n.Keys {
		pe, err := compileExpr(k.Expr, n.Input.planSchema(), ec)
		if err != nil {
			return nil, err
		}
		op.keys = append(op.keys, sortKey{expr: pe, asc: k.Asc, nullsFirst: k.NullsFirst})
	}
	return op, nil
}

func (s *sortOp) Schema() *arrow.Schema {
	return s.schema
}

func (s *sortOp) Next(ctx context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { s.observe(rec, start) }()

	if !s.done {
		s.done = true
		if s.output, err = s.run(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.output) == 0 {
		return nil, io.EOF
	}
	rec = s.output[0]
	s.output = s.output[1:]
	return rec, nil
}

func (s *sortOp) run(ctx context.Context) ([]arrow.Record, error) {
	batches, err := drain(ctx, s.input)
	if err != nil {
		return nil, err
	}
	all, err := s.concat(batches)
	for _, b := range batches {
		b.Release()
	}
	if err != nil || all == nil {
		return nil, err
	}
	defer all.Release()

	rows := int(all.NumRows())
	keyValues := make([][]any, len(s.keys))
	for i, k := range s.keys {
		arr, err := k.expr.evaluate(ctx, all)
		if err != nil {
			return nil, err
		}
		values := make([]any, rows)
		for row := range values {
			if values[row], err = getValue(arr, row); err != nil {
				arr.Release()
				return nil, getError(ErrExecution, err)
			}
		}
		arr.Release()
		keyValues[i] = values
	}

	perm := make([]int, rows)
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool {
		return s.less(keyValues, perm[a], perm[b])
	})
	if s.fetch >= 0 && s.fetch < len(perm) {
		perm = perm[:s.fetch]
	}

	sorted, err := s.take(ctx, all, perm)
	if err != nil {
		return nil, err
	}
	defer sorted.Release()
	return chunkRecord(sorted, s.ec.batchSize), nil
}

// less orders rows i and j. Nulls go last in ascending order and first in
// descending order unless the key says otherwise.
func (s *sortOp) less(keyValues [][]any, i int, j int) bool {
	for k, key := range s.keys {
		a, b := keyValues[k][i], keyValues[k][j]
		switch {
		case a == nil && b == nil:
			continue
		case a == nil:
			return key.nullsFirst
		case b == nil:
			return !key.nullsFirst
		}
		c := compareValues(a, b)
		if c == 0 {
			continue
		}
		if key.asc {
			return c < 0
		}
		return c > 0
	}
	return false
}

func (s *sortOp) concat(batches []arrow.Record) (arrow.Record, error) {
	if len(batches) == 0 {
		return nil, nil
	}
	var rows int64
	for _, b := range batches {
		rows += b.NumRows()
	}
	cols := make([]arrow.Array, s.schema.NumFields())
	defer func() { releaseArrays(cols) }()
	for i := range cols {
		parts := make([]arrow.Array, len(batches))
		for j, b := range batches {
			parts[j] = b.Column(i)
		}
		arr, err := array.Concatenate(parts, s.ec.mem)
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		cols[i] = arr
	}
	return newRecord(s.schema, cols, rows)
}

func (s *sortOp) take(ctx context.Context, rec arrow.Record, perm []int) (arrow.Record, error) {
	return takeRows(s.ec.kernelContext(ctx), s.ec.mem, s.schema, rec, perm)
}

// takeRows gathers the rows of rec at the given positions into a new record.
func takeRows(kctx context.Context, mem memory.Allocator, schema *arrow.Schema, rec arrow.Record, rows []int) (arrow.Record, error) {
	ib := array.NewInt64Builder(mem)
	defer ib.Release()
	for _, p := range rows {
		ib.Append(int64(p))
	}
	indices := ib.NewInt64Array()
	defer indices.Release()

	cols := make([]arrow.Array, rec.NumCols())
	defer func() { releaseArrays(cols) }()
	for i := range cols {
		arr, err := compute.TakeArray(kctx, rec.Column(i), indices)
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		cols[i] = arr
	}
	return newRecord(schema, cols, int64(len(rows)))
}

func (s *sortOp) Close() error {
	for _, rec := range s.output {
		rec.Release()
	}
	s.output = nil
	s.done = true
	return s.input.Close()
}
