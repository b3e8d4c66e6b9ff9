package sedonadb

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/compute/exec"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
)

// physicalExpr evaluates a bound expression over one record batch. The
// returned array has one value per row and is owned by the caller.
type physicalExpr interface {
	evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error)
}

type columnEval struct {
	index int
}

type literalEval struct {
	ec    *execContext
	value any
	typ   TypeInfo
}

type binaryEval struct {
	ec          *execContext
	op          BinaryOp
	left, right physicalExpr
	operandType TypeInfo
	resultType  TypeInfo
}

type scalarFunctionEval struct {
	ec     *execContext
	fn     *scalarFunction
	args   []physicalExpr
	result TypeInfo
}

type castEval struct {
	ec       *execContext
	input    physicalExpr
	from, to TypeInfo
}

type negateEval struct {
	ec    *execContext
	input physicalExpr
	typ   TypeInfo
}

type notEval struct {
	ec    *execContext
	input physicalExpr
}

type isNullEval struct {
	ec      *execContext
	input   physicalExpr
	negated bool
}

// compileExpr turns a bound expression into its physical form. Column
// references are resolved to positions of the input schema.
func compileExpr(e Expr, input planSchema, ec *execContext) (physicalExpr, error) {
	compileChildren := func(children []Expr) ([]physicalExpr, error) {
		out := make([]physicalExpr, len(children))
		for i, c := range children {
			p, err := compileExpr(c, input, ec)
			if err != nil {
				return nil, err
			}
			out[i] = p
		}
		return out, nil
	}

	switch v := e.(type) {
	case *ColumnExpr:
		idx, err := input.indexOf(v)
		if err != nil {
			return nil, err
		}
		return &columnEval{index: idx}, nil
	case *LiteralExpr:
		return &literalEval{ec: ec, value: v.Value, typ: v.typ}, nil
	case *AliasExpr:
		return compileExpr(v.Expr, input, ec)
	case *BinaryExpr:
		children, err := compileChildren(v.children())
		if err != nil {
			return nil, err
		}
		return &binaryEval{ec: ec, op: v.Op, left: children[0], right: children[1], operandType: v.Left.Type(), resultType: v.typ}, nil
	case *ScalarFunctionExpr:
		args, err := compileChildren(v.Args)
		if err != nil {
			return nil, err
		}
		return &scalarFunctionEval{ec: ec, fn: v.fn, args: args, result: v.typ}, nil
	case *CastExpr:
		inner, err := compileExpr(v.Expr, input, ec)
		if err != nil {
			return nil, err
		}
		return &castEval{ec: ec, input: inner, from: v.Expr.Type(), to: v.T}, nil
	case *NegateExpr:
		inner, err := compileExpr(v.Expr, input, ec)
		if err != nil {
			return nil, err
		}
		return &negateEval{ec: ec, input: inner, typ: v.typ}, nil
	case *NotExpr:
		inner, err := compileExpr(v.Expr, input, ec)
		if err != nil {
			return nil, err
		}
		return &notEval{ec: ec, input: inner}, nil
	case *IsNullExpr:
		inner, err := compileExpr(v.Expr, input, ec)
		if err != nil {
			return nil, err
		}
		return &isNullEval{ec: ec, input: inner, negated: v.Negated}, nil
	case *AggregateFunctionExpr:
		return nil, getError(ErrBinding, fmt.Errorf("aggregate function %s outside of an aggregation", v))
	}
	return nil, getError(ErrBinding, fmt.Errorf("cannot evaluate %s", e))
}

func (c *columnEval) evaluate(_ context.Context, rec arrow.Record) (arrow.Array, error) {
	arr := rec.Column(c.index)
	arr.Retain()
	return arr, nil
}

func (l *literalEval) evaluate(_ context.Context, rec arrow.Record) (arrow.Array, error) {
	return repeatValue(l.ec.mem, l.typ, l.value, int(rec.NumRows()))
}

func repeatValue(mem memory.Allocator, t TypeInfo, v any, n int) (arrow.Array, error) {
	if v == nil {
		return newNullArray(mem, t.ArrowType(), n), nil
	}
	b := array.NewBuilder(mem, t.ArrowType())
	defer b.Release()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		if err := appendValue(b, v); err != nil {
			return nil, getError(ErrExecution, err)
		}
	}
	return b.NewArray(), nil
}

func (b *binaryEval) evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error) {
	left, err := b.left.evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer left.Release()
	right, err := b.right.evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer right.Release()

	n := int(rec.NumRows())
	if b.operandType.InternalType() == TYPE_NULL {
		return newNullArray(b.ec.mem, b.resultType.ArrowType(), n), nil
	}
	cctx := b.ec.kernelContext(ctx)
	switch {
	case b.op == OP_MOD:
		return evalModulo(b.ec, b.operandType, left, right)
	case b.op == OP_CONCAT:
		return evalConcat(b.ec, left, right)
	case b.op.isArithmetic():
		return callKernel(cctx, arithmeticKernel(b.op, b.operandType, b.ec.overflow), left, right)
	case b.op.isLogical():
		name := "and_kleene"
		if b.op == OP_OR {
			name = "or_kleene"
		}
		return callKernel(cctx, name, left, right)
	}
	return evalComparison(cctx, b.op, b.operandType, left, right)
}

var comparisonKernels = map[BinaryOp]string{
	OP_EQ:     "equal",
	OP_NOT_EQ: "not_equal",
	OP_LT:     "less",
	OP_LT_EQ:  "less_equal",
	OP_GT:     "greater",
	OP_GT_EQ:  "greater_equal",
}

func evalComparison(ctx context.Context, op BinaryOp, t TypeInfo, left arrow.Array, right arrow.Array) (arrow.Array, error) {
	left, right = storageOf(left), storageOf(right)
	if t.InternalType() == TYPE_BOOLEAN && op != OP_EQ && op != OP_NOT_EQ {
		// Boolean kernels only support equality; order false < true as integers.
		l, err := compute.CastArray(ctx, left, compute.SafeCastOptions(arrow.PrimitiveTypes.Int8))
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		defer l.Release()
		r, err := compute.CastArray(ctx, right, compute.SafeCastOptions(arrow.PrimitiveTypes.Int8))
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		defer r.Release()
		return callKernel(ctx, comparisonKernels[op], l, r)
	}
	return callKernel(ctx, comparisonKernels[op], left, right)
}

// storageOf unwraps extension arrays so kernels see their storage.
func storageOf(arr arrow.Array) arrow.Array {
	if ext, ok := arr.(array.ExtensionArray); ok {
		return ext.Storage()
	}
	return arr
}

func arithmeticKernel(op BinaryOp, t TypeInfo, overflow OverflowPolicy) string {
	var name string
	switch op {
	case OP_ADD:
		name = "add"
	case OP_SUB:
		name = "sub"
	case OP_MUL:
		name = "multiply"
	case OP_DIV:
		name = "divide"
		if isFloating(t.InternalType()) {
			// IEEE semantics: division by zero yields Inf or NaN.
			return "divide_unchecked"
		}
		// Integer division by zero is always an error.
		return name
	}
	if overflow == OverflowWrap {
		return name + "_unchecked"
	}
	return name
}

// callKernel calls an arrow compute function over arrays.
func callKernel(ctx context.Context, name string, args ...arrow.Array) (arrow.Array, error) {
	datums := make([]compute.Datum, len(args))
	for i, a := range args {
		datums[i] = compute.NewDatumWithoutOwning(a)
	}
	out, err := compute.CallFunction(ctx, name, nil, datums...)
	if err != nil {
		return nil, kernelError(name, err)
	}
	defer out.Release()
	arrDatum, ok := out.(*compute.ArrayDatum)
	if !ok {
		return nil, getError(ErrExecution, fmt.Errorf("%s: unexpected result %s", name, out))
	}
	return arrDatum.MakeArray(), nil
}

func kernelError(name string, err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "overflow") {
		return getError(ErrExecution, fmt.Errorf("%s: %w: %s", name, errIntegerOverflow, err.Error()))
	}
	return getError(ErrExecution, fmt.Errorf("%s: %w", name, err))
}

func evalModulo(ec *execContext, t TypeInfo, left arrow.Array, right arrow.Array) (arrow.Array, error) {
	b := array.NewBuilder(ec.mem, t.ArrowType())
	defer b.Release()
	n := left.Len()
	b.Reserve(n)
	for i := 0; i < n; i++ {
		if left.IsNull(i) || right.IsNull(i) {
			b.AppendNull()
			continue
		}
		switch t.InternalType() {
		case TYPE_INTEGER:
			l, r := left.(*array.Int32).Value(i), right.(*array.Int32).Value(i)
			if r == 0 {
				return nil, getError(ErrExecution, errors.New("divide by zero"))
			}
			b.(*array.Int32Builder).Append(l % r)
		case TYPE_BIGINT:
			l, r := left.(*array.Int64).Value(i), right.(*array.Int64).Value(i)
			if r == 0 {
				return nil, getError(ErrExecution, errors.New("divide by zero"))
			}
			b.(*array.Int64Builder).Append(l % r)
		case TYPE_FLOAT:
			l, r := left.(*array.Float32).Value(i), right.(*array.Float32).Value(i)
			b.(*array.Float32Builder).Append(float32(math.Mod(float64(l), float64(r))))
		case TYPE_DOUBLE:
			l, r := left.(*array.Float64).Value(i), right.(*array.Float64).Value(i)
			b.(*array.Float64Builder).Append(math.Mod(l, r))
		default:
			return nil, getError(ErrUnsupported, typeMismatchError("operator %", "numeric", t.String()))
		}
	}
	return b.NewArray(), nil
}

func evalConcat(ec *execContext, left arrow.Array, right arrow.Array) (arrow.Array, error) {
	l, lok := left.(*array.String)
	r, rok := right.(*array.String)
	if !lok || !rok {
		return nil, getError(ErrExecution, typeMismatchError("operator ||", TYPE_VARCHAR.String(), left.DataType().String()))
	}
	b := array.NewStringBuilder(ec.mem)
	defer b.Release()
	b.Reserve(l.Len())
	for i := 0; i < l.Len(); i++ {
		if l.IsNull(i) || r.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(l.Value(i) + r.Value(i))
	}
	return b.NewArray(), nil
}

func (f *scalarFunctionEval) evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error) {
	args := make([]arrow.Array, 0, len(f.args))
	defer func() {
		for _, a := range args {
			a.Release()
		}
	}()
	for _, a := range f.args {
		arr, err := a.evaluate(ctx, rec)
		if err != nil {
			return nil, err
		}
		args = append(args, arr)
	}
	out, err := f.fn.invoke(ctx, f.ec, f.result, args, int(rec.NumRows()))
	if err != nil {
		return nil, wrapError(ErrExecution, fmt.Errorf("%s: %w", f.fn.name, err))
	}
	if out.Len() != int(rec.NumRows()) {
		out.Release()
		return nil, getError(ErrExecution, fmt.Errorf("%s returned %d rows, expected %d", f.fn.name, out.Len(), rec.NumRows()))
	}
	return out, nil
}

func (c *castEval) evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error) {
	arr, err := c.input.evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	return castArray(c.ec.kernelContext(ctx), c.ec, arr, c.from, c.to)
}

// castArray converts arr from one type to another. Geometry conversions go
// through WKB and WKT; everything else uses the arrow cast kernels.
func castArray(ctx context.Context, ec *execContext, arr arrow.Array, from TypeInfo, to TypeInfo) (arrow.Array, error) {
	if from.Equal(to) {
		arr.Retain()
		return arr, nil
	}
	if from.InternalType() == TYPE_NULL {
		return newNullArray(ec.mem, to.ArrowType(), arr.Len()), nil
	}
	if to.InternalType() == TYPE_GEOMETRY {
		return castToGeometry(ec, arr, from, to)
	}
	if from.InternalType() == TYPE_GEOMETRY {
		return castFromGeometry(ec, arr, to)
	}
	opts := &compute.CastOptions{
		ToType:               to.ArrowType(),
		AllowIntOverflow:     ec.overflow == OverflowWrap,
		AllowFloatTruncate:   true,
		AllowTimeTruncate:    true,
		AllowDecimalTruncate: true,
	}
	out, err := compute.CastArray(ctx, arr, opts)
	if err != nil {
		return nil, kernelError("cast", fmt.Errorf("%w: %s", castError(from.String(), to.String()), err.Error()))
	}
	return out, nil
}

func castToGeometry(ec *execContext, arr arrow.Array, from TypeInfo, to TypeInfo) (arrow.Array, error) {
	ext := to.ArrowType().(*GeometryExtensionType)
	switch from.InternalType() {
	case TYPE_GEOMETRY:
		return newGeometryArray(ext, storageOf(arr)), nil
	case TYPE_BLOB:
		bin := arr.(*array.Binary)
		for i := 0; i < bin.Len(); i++ {
			if bin.IsNull(i) {
				continue
			}
			if _, err := wkb.Unmarshal(bin.Value(i)); err != nil {
				return nil, getError(ErrExecution, addIndexToError(castError("invalid WKB", TYPE_GEOMETRY.String()), i))
			}
		}
		return newGeometryArray(ext, arr), nil
	case TYPE_VARCHAR:
		str := arr.(*array.String)
		b := array.NewBinaryBuilder(ec.mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for i := 0; i < str.Len(); i++ {
			if str.IsNull(i) {
				b.AppendNull()
				continue
			}
			g, err := wkt.Unmarshal(str.Value(i))
			if err != nil {
				return nil, getError(ErrExecution, addIndexToError(fmt.Errorf("%w: %s", castError(fmt.Sprintf("%q", str.Value(i)), TYPE_GEOMETRY.String()), err.Error()), i))
			}
			data, err := wkb.Marshal(g)
			if err != nil {
				return nil, getError(ErrExecution, err)
			}
			b.Append(data)
		}
		storage := b.NewArray()
		defer storage.Release()
		return newGeometryArray(ext, storage), nil
	}
	return nil, getError(ErrUnsupported, castError(from.String(), to.String()))
}

func castFromGeometry(ec *execContext, arr arrow.Array, to TypeInfo) (arrow.Array, error) {
	storage := storageOf(arr)
	switch to.InternalType() {
	case TYPE_BLOB:
		storage.Retain()
		return storage, nil
	case TYPE_VARCHAR:
		bin := storage.(*array.Binary)
		b := array.NewStringBuilder(ec.mem)
		defer b.Release()
		for i := 0; i < bin.Len(); i++ {
			if bin.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(wkbToText(bin.Value(i)))
		}
		return b.NewArray(), nil
	}
	return nil, getError(ErrUnsupported, castError(TYPE_GEOMETRY.String(), to.String()))
}

func (n *negateEval) evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error) {
	arr, err := n.input.evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	if n.typ.InternalType() == TYPE_NULL {
		arr.Retain()
		return arr, nil
	}
	name := "negate"
	if n.ec.overflow == OverflowWrap {
		name = "negate_unchecked"
	}
	return callKernel(n.ec.kernelContext(ctx), name, arr)
}

func (n *notEval) evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error) {
	arr, err := n.input.evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	return callKernel(n.ec.kernelContext(ctx), "not", arr)
}

func (n *isNullEval) evaluate(ctx context.Context, rec arrow.Record) (arrow.Array, error) {
	arr, err := n.input.evaluate(ctx, rec)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	b := array.NewBooleanBuilder(n.ec.mem)
	defer b.Release()
	b.Reserve(arr.Len())
	for i := 0; i < arr.Len(); i++ {
		b.Append(arr.IsNull(i) != n.negated)
	}
	return b.NewArray(), nil
}

// evaluateConstant evaluates an expression without column references over a
// single row. It is used for constant folding.
func evaluateConstant(ctx context.Context, ec *execContext, e Expr) (any, error) {
	p, err := compileExpr(e, nil, ec)
	if err != nil {
		return nil, err
	}
	one := array.NewRecord(arrow.NewSchema(nil, nil), nil, 1)
	defer one.Release()
	arr, err := p.evaluate(ctx, one)
	if err != nil {
		return nil, err
	}
	defer arr.Release()
	return getValue(arr, 0)
}

func (ec *execContext) kernelContext(ctx context.Context) context.Context {
	return exec.WithAllocator(ctx, ec.mem)
}
