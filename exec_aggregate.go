package sedonadb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// accumulator folds the argument values of one group. Rows reach update in
// delivery order: batches in the order the input produced them and rows in
// order within a batch, which fixes the floating point summation order.
type accumulator interface {
	update(args []any) error
	result() (any, error)
}

// aggregateState wraps an accumulator with the DISTINCT and null handling
// shared by all aggregate functions.
type aggregateState struct {
	acc     accumulator
	sawNull bool
	seen    map[string]struct{}
}

type aggregateSpec struct {
	fn       *aggregateFunction
	args     []physicalExpr
	distinct bool
	naRm     bool
	result   TypeInfo
}

func (spec *aggregateSpec) newState(ec *execContext) (*aggregateState, error) {
	acc, err := spec.fn.newAccumulator(ec, spec.result)
	if err != nil {
		return nil, wrapError(ErrExecution, err)
	}
	st := &aggregateState{acc: acc}
	if spec.distinct {
		st.seen = map[string]struct{}{}
	}
	return st, nil
}

func (spec *aggregateSpec) update(st *aggregateState, values []any) error {
	for _, v := range values {
		if v != nil {
			continue
		}
		if !spec.naRm {
			st.sawNull = true
		}
		return nil
	}
	if st.sawNull {
		return nil
	}
	if st.seen != nil {
		key := encodeKey(values)
		if _, ok := st.seen[key]; ok {
			return nil
		}
		st.seen[key] = struct{}{}
	}
	if err := st.acc.update(values); err != nil {
		return wrapError(ErrExecution, fmt.Errorf("%s: %w", spec.fn.name, err))
	}
	return nil
}

func (spec *aggregateSpec) finish(st *aggregateState) (any, error) {
	if st.sawNull {
		return nil, nil
	}
	v, err := st.acc.result()
	if err != nil {
		return nil, wrapError(ErrExecution, fmt.Errorf("%s: %w", spec.fn.name, err))
	}
	return v, nil
}

type aggregateGroup struct {
	keys   []any
	states []*aggregateState
}

// aggregateOp is a hash aggregation. It drains its input before producing
// output; groups are emitted in the order they were first seen.
type aggregateOp struct {
	operatorStats
	ec         *execContext
	input      operator
	groupExprs []physicalExpr
	groupTypes []TypeInfo
	aggs       []*aggregateSpec
	schema     *arrow.Schema
	output     []arrow.Record
	done       bool
}

func newAggregateOp(ec *execContext, n *AggregateNode, input operator) (*aggregateOp, error) {
	inSchema := n.Input.planSchema()
	op := &aggregateOp{
		operatorStats: operatorStats{name: "Aggregate", detail: n.String(), children: []operator{input}},
		ec:            ec,
		input:         input,
		schema:        n.Schema().ToArrow(),
	}
	for _, g := range n.GroupBy {
		pe, err := compileExpr(g, inSchema, ec)
		if err != nil {
			return nil, err
		}
		op.groupExprs = append(op.groupExprs, pe)
		op.groupTypes = append(op.groupTypes, g.Type())
	}
	for _, a := range n.Aggs {
		agg, ok := stripAlias(a).(*AggregateFunctionExpr)
		if !ok || agg.fn == nil {
			return nil, getError(ErrBinding, fmt.Errorf("%s is not an aggregate expression", a))
		}
		spec := &aggregateSpec{fn: agg.fn, distinct: agg.Distinct, naRm: agg.NaRm, result: agg.typ}
		for _, arg := range agg.Args {
			pe, err := compileExpr(arg, inSchema, ec)
			if err != nil {
				return nil, err
			}
			spec.args = append(spec.args, pe)
		}
		op.aggs = append(op.aggs, spec)
	}
	return op, nil
}

func (a *aggregateOp) Schema() *arrow.Schema {
	return a.schema
}

func (a *aggregateOp) Next(ctx context.Context) (rec arrow.Record, err error) {
	start := time.Now()
	defer func() { a.observe(rec, start) }()

	if !a.done {
		a.done = true
		if a.output, err = a.run(ctx); err != nil {
			return nil, err
		}
	}
	if len(a.output) == 0 {
		return nil, io.EOF
	}
	rec = a.output[0]
	a.output = a.output[1:]
	return rec, nil
}

func (a *aggregateOp) run(ctx context.Context) ([]arrow.Record, error) {
	index := map[string]int{}
	var groups []*aggregateGroup

	newGroup := func(keys []any) (*aggregateGroup, error) {
		g := &aggregateGroup{keys: keys, states: make([]*aggregateState, len(a.aggs))}
		for i, spec := range a.aggs {
			st, err := spec.newState(a.ec)
			if err != nil {
				return nil, err
			}
			g.states[i] = st
		}
		return g, nil
	}

	for {
		in, err := a.input.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		err = a.consume(ctx, in, index, &groups, newGroup)
		in.Release()
		if err != nil {
			return nil, err
		}
	}

	// Without GROUP BY there is exactly one output row, even for empty input.
	if len(a.groupExprs) == 0 && len(groups) == 0 {
		g, err := newGroup(nil)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return a.emit(groups)
}

func (a *aggregateOp) consume(ctx context.Context, in arrow.Record, index map[string]int, groups *[]*aggregateGroup, newGroup func([]any) (*aggregateGroup, error)) error {
	evalAll := func(exprs []physicalExpr) ([]arrow.Array, error) {
		out := make([]arrow.Array, 0, len(exprs))
		for _, e := range exprs {
			arr, err := e.evaluate(ctx, in)
			if err != nil {
				releaseArrays(out)
				return nil, err
			}
			out = append(out, arr)
		}
		return out, nil
	}
	keyCols, err := evalAll(a.groupExprs)
	if err != nil {
		return err
	}
	defer releaseArrays(keyCols)
	argCols := make([][]arrow.Array, len(a.aggs))
	defer func() {
		for _, cols := range argCols {
			releaseArrays(cols)
		}
	}()
	for i, spec := range a.aggs {
		if argCols[i], err = evalAll(spec.args); err != nil {
			return err
		}
	}

	rows := int(in.NumRows())
	keys := make([]any, len(keyCols))
	for row := 0; row < rows; row++ {
		for i, col := range keyCols {
			if keys[i], err = getValue(col, row); err != nil {
				return getError(ErrExecution, err)
			}
		}
		key := encodeKey(keys)
		gi, ok := index[key]
		if !ok {
			g, err := newGroup(append([]any(nil), keys...))
			if err != nil {
				return err
			}
			gi = len(*groups)
			index[key] = gi
			*groups = append(*groups, g)
		}
		g := (*groups)[gi]
		for i, spec := range a.aggs {
			values := make([]any, len(argCols[i]))
			for j, col := range argCols[i] {
				if values[j], err = getValue(col, row); err != nil {
					return getError(ErrExecution, err)
				}
			}
			if err := spec.update(g.states[i], values); err != nil {
				return err
			}
		}
	}
	return nil
}

func (a *aggregateOp) emit(groups []*aggregateGroup) ([]arrow.Record, error) {
	ncols := len(a.groupExprs) + len(a.aggs)
	columns := make([][]any, ncols)
	for _, g := range groups {
		for i, k := range g.keys {
			columns[i] = append(columns[i], k)
		}
		for i, spec := range a.aggs {
			v, err := spec.finish(g.states[i])
			if err != nil {
				return nil, err
			}
			columns[len(a.groupExprs)+i] = append(columns[len(a.groupExprs)+i], v)
		}
	}

	arrays := make([]arrow.Array, 0, ncols)
	defer func() { releaseArrays(arrays) }()
	for i := 0; i < ncols; i++ {
		var t TypeInfo
		if i < len(a.groupExprs) {
			t = a.groupTypes[i]
		} else {
			t = a.aggs[i-len(a.groupExprs)].result
		}
		values := columns[i]
		if values == nil {
			values = []any{}
		}
		arr, err := buildArray(a.ec.mem, t, values)
		if err != nil {
			return nil, getError(ErrExecution, columnError(err, i))
		}
		arrays = append(arrays, arr)
	}
	rec, err := newRecord(a.schema, arrays, int64(len(groups)))
	if err != nil {
		return nil, err
	}
	defer rec.Release()
	return chunkRecord(rec, a.ec.batchSize), nil
}

func (a *aggregateOp) Close() error {
	for _, rec := range a.output {
		rec.Release()
	}
	a.output = nil
	a.done = true
	return a.input.Close()
}

// chunkRecord splits rec into slices of at most size rows. The slices are new
// references; rec keeps its own.
func chunkRecord(rec arrow.Record, size int) []arrow.Record {
	n := rec.NumRows()
	if n == 0 {
		return nil
	}
	if size <= 0 || n <= int64(size) {
		rec.Retain()
		return []arrow.Record{rec}
	}
	var out []arrow.Record
	for off := int64(0); off < n; off += int64(size) {
		out = append(out, rec.NewSlice(off, min(off+int64(size), n)))
	}
	return out
}

func releaseArrays(arrs []arrow.Array) {
	for _, a := range arrs {
		if a != nil {
			a.Release()
		}
	}
}

// encodeKey encodes a row of values into a map key. Equal values, and only
// equal values, encode to the same key.
func encodeKey(values []any) string {
	var sb strings.Builder
	for _, v := range values {
		switch val := v.(type) {
		case nil:
			sb.WriteString("n;")
		case bool:
			if val {
				sb.WriteString("b1;")
			} else {
				sb.WriteString("b0;")
			}
		case int32:
			sb.WriteString("i" + strconv.FormatInt(int64(val), 10) + ";")
		case int64:
			sb.WriteString("i" + strconv.FormatInt(val, 10) + ";")
		case float32:
			sb.WriteString("f" + strconv.FormatUint(math.Float64bits(float64(val)), 16) + ";")
		case float64:
			sb.WriteString("f" + strconv.FormatUint(math.Float64bits(val), 16) + ";")
		case string:
			sb.WriteString("s" + strconv.Itoa(len(val)) + ":" + val)
		case []byte:
			sb.WriteString("x" + strconv.Itoa(len(val)) + ":" + string(val))
		case time.Time:
			sb.WriteString("t" + strconv.FormatInt(val.UnixNano(), 10) + ";")
		default:
			sb.WriteString(fmt.Sprintf("?%T:%v;", v, v))
		}
	}
	return sb.String()
}

// compareValues orders two non-null values of the same type. NaN sorts after
// every other float.
func compareValues(a any, b any) int {
	switch x := a.(type) {
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	case int32:
		return cmpOrdered(x, b.(int32))
	case int64:
		return cmpOrdered(x, b.(int64))
	case float32:
		return cmpFloat(float64(x), float64(b.(float32)))
	case float64:
		return cmpFloat(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	case time.Time:
		return x.Compare(b.(time.Time))
	}
	return 0
}

func cmpOrdered[T int32 | int64 | string](a T, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a float64, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type countAccumulator struct {
	n int64
}

func (c *countAccumulator) update(_ []any) error {
	c.n++
	return nil
}

func (c *countAccumulator) result() (any, error) {
	return c.n, nil
}

type sumIntAccumulator struct {
	overflow OverflowPolicy
	sum      int64
	any      bool
}

func (s *sumIntAccumulator) update(args []any) error {
	v := args[0].(int64)
	sum := s.sum + v
	if s.overflow != OverflowWrap && ((v > 0 && sum < s.sum) || (v < 0 && sum > s.sum)) {
		return fmt.Errorf("%w: sum exceeds BIGINT", errIntegerOverflow)
	}
	s.sum = sum
	s.any = true
	return nil
}

func (s *sumIntAccumulator) result() (any, error) {
	if !s.any {
		return nil, nil
	}
	return s.sum, nil
}

type sumFloatAccumulator struct {
	sum float64
	any bool
}

func (s *sumFloatAccumulator) update(args []any) error {
	s.sum += args[0].(float64)
	s.any = true
	return nil
}

func (s *sumFloatAccumulator) result() (any, error) {
	if !s.any {
		return nil, nil
	}
	return s.sum, nil
}

type avgAccumulator struct {
	sum float64
	n   int64
}

func (s *avgAccumulator) update(args []any) error {
	s.sum += args[0].(float64)
	s.n++
	return nil
}

func (s *avgAccumulator) result() (any, error) {
	if s.n == 0 {
		return nil, nil
	}
	return s.sum / float64(s.n), nil
}

type minMaxAccumulator struct {
	// sign is -1 for MIN and 1 for MAX.
	sign int
	best any
}

func (m *minMaxAccumulator) update(args []any) error {
	v := args[0]
	if m.best == nil || compareValues(v, m.best)*m.sign > 0 {
		m.best = v
	}
	return nil
}

func (m *minMaxAccumulator) result() (any, error) {
	return m.best, nil
}

// numericArgument checks the single argument of SUM and AVG.
func numericArgument(name string, args []TypeInfo) (TypeInfo, error) {
	t := args[0]
	if !isNumeric(t.InternalType()) && t.InternalType() != TYPE_NULL {
		return nil, getError(ErrBinding, typeMismatchError(name, "numeric", t.String()))
	}
	return t, nil
}

func init() {
	registerBuiltinAggregate(&aggregateFunction{
		name:      "count",
		signature: "count(*) -> BIGINT",
		minArgs:   0,
		maxArgs:   1,
		star:      true,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			return int64Info, nil, nil
		},
		newAccumulator: func(*execContext, TypeInfo) (accumulator, error) {
			return &countAccumulator{}, nil
		},
	})
	registerBuiltinAggregate(&aggregateFunction{
		name:      "sum",
		signature: "sum(numeric) -> BIGINT | DOUBLE",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := numericArgument("sum", args)
			if err != nil {
				return nil, nil, err
			}
			if isFloating(t.InternalType()) {
				return float64Info, []TypeInfo{float64Info}, nil
			}
			return int64Info, []TypeInfo{int64Info}, nil
		},
		newAccumulator: func(ec *execContext, result TypeInfo) (accumulator, error) {
			if result.InternalType() == TYPE_DOUBLE {
				return &sumFloatAccumulator{}, nil
			}
			return &sumIntAccumulator{overflow: ec.overflow}, nil
		},
	})
	registerBuiltinAggregate(&aggregateFunction{
		name:      "avg",
		signature: "avg(numeric) -> DOUBLE",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			if _, err := numericArgument("avg", args); err != nil {
				return nil, nil, err
			}
			return float64Info, []TypeInfo{float64Info}, nil
		},
		newAccumulator: func(*execContext, TypeInfo) (accumulator, error) {
			return &avgAccumulator{}, nil
		},
	})
	for name, sign := range map[string]int{"min": -1, "max": 1} {
		registerBuiltinAggregate(&aggregateFunction{
			name:      name,
			signature: name + "(any) -> any",
			minArgs:   1,
			maxArgs:   1,
			returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
				if args[0].InternalType() == TYPE_GEOMETRY {
					return nil, nil, getError(ErrBinding, typeMismatchError(name, "orderable type", args[0].String()))
				}
				return args[0], nil, nil
			},
			newAccumulator: func(*execContext, TypeInfo) (accumulator, error) {
				return &minMaxAccumulator{sign: sign}, nil
			},
		})
	}
}
