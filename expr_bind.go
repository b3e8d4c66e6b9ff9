package sedonadb

import (
	"fmt"
)

// exprBinder resolves names and types of an expression against an input schema.
// Binding never mutates its input; it returns a new tree with types set and
// implicit casts inserted where operands are coerced.
type exprBinder struct {
	funcs  functionResolver
	schema planSchema
	// clause names the SQL clause for error messages, e.g. "WHERE".
	clause     string
	aggregates bool
}

func bindExpr(e Expr, schema planSchema, funcs functionResolver, clause string) (Expr, error) {
	b := &exprBinder{funcs: funcs, schema: schema, clause: clause}
	return b.bind(e)
}

func (b *exprBinder) bind(e Expr) (Expr, error) {
	switch v := e.(type) {
	case *ColumnExpr:
		idx, err := b.schema.resolve(v.Qualifier, v.Name)
		if err != nil {
			return nil, err
		}
		col := b.schema[idx]
		return &ColumnExpr{Name: col.name, Qualifier: v.Qualifier, relation: col.relation, typ: col.typ}, nil

	case *LiteralExpr:
		return v, nil

	case *BinaryExpr:
		left, err := b.bind(v.Left)
		if err != nil {
			return nil, err
		}
		right, err := b.bind(v.Right)
		if err != nil {
			return nil, err
		}
		result, operandType, err := binaryType(v.Op, left.Type(), right.Type())
		if err != nil {
			return nil, err
		}
		return &BinaryExpr{Op: v.Op, Left: coerce(left, operandType), Right: coerce(right, operandType), typ: result}, nil

	case *ScalarFunctionExpr:
		h, ok := b.funcs.lookupFunction(v.Name)
		if !ok {
			return nil, getError(ErrBinding, unknownFunctionError(v.Name))
		}
		if h.Kind() != FUNCTION_SCALAR {
			if !b.aggregates {
				return nil, getError(ErrBinding, fmt.Errorf("aggregate function %s is not allowed in %s", h.Name(), b.clause))
			}
			agg, err := newAggregate(h.aggregate, v.Args, false, true)
			if err != nil {
				return nil, err
			}
			return b.bind(agg)
		}
		fn := h.scalar
		if err := checkArity(fn.name, fn.minArgs, fn.maxArgs, len(v.Args)); err != nil {
			return nil, err
		}
		args, types, err := b.bindArgs(v.Args)
		if err != nil {
			return nil, err
		}
		result, coerced, err := fn.returnType(types)
		if err != nil {
			return nil, err
		}
		for i := range args {
			if i < len(coerced) && coerced[i] != nil {
				args[i] = coerce(args[i], coerced[i])
			}
		}
		return &ScalarFunctionExpr{Name: fn.name, Args: args, fn: fn, typ: result}, nil

	case *AggregateFunctionExpr:
		if !b.aggregates {
			return nil, getError(ErrBinding, fmt.Errorf("aggregate function %s is not allowed in %s", v.Name, b.clause))
		}
		h, ok := b.funcs.lookupFunction(v.Name)
		if !ok {
			return nil, getError(ErrBinding, unknownFunctionError(v.Name))
		}
		if h.Kind() != FUNCTION_AGGREGATE {
			return nil, getError(ErrBinding, fmt.Errorf("%s is not an aggregate function", h.Name()))
		}
		agg, err := newAggregate(h.aggregate, v.Args, v.Distinct, v.NaRm)
		if err != nil {
			return nil, err
		}
		// Aggregates do not nest.
		inner := &exprBinder{funcs: b.funcs, schema: b.schema, clause: "aggregate arguments"}
		args, types, err := inner.bindArgs(agg.Args)
		if err != nil {
			return nil, err
		}
		result, coerced, err := agg.fn.returnType(types)
		if err != nil {
			return nil, err
		}
		for i := range args {
			if i < len(coerced) && coerced[i] != nil {
				args[i] = coerce(args[i], coerced[i])
			}
		}
		agg.Args = args
		agg.typ = result
		return agg, nil

	case *CastExpr:
		inner, err := b.bind(v.Expr)
		if err != nil {
			return nil, err
		}
		if !castCompatible(inner.Type().InternalType(), v.T.InternalType()) {
			return nil, getError(ErrBinding, castError(inner.Type().String(), v.T.String()))
		}
		return &CastExpr{Expr: inner, T: v.T, implicit: v.implicit}, nil

	case *AliasExpr:
		inner, err := b.bind(v.Expr)
		if err != nil {
			return nil, err
		}
		return &AliasExpr{Expr: inner, Name: v.Name}, nil

	case *NegateExpr:
		inner, err := b.bind(v.Expr)
		if err != nil {
			return nil, err
		}
		t := inner.Type()
		if !isNumeric(t.InternalType()) && t.InternalType() != TYPE_NULL {
			return nil, getError(ErrBinding, typeMismatchError("negation of "+inner.String(), "numeric", t.String()))
		}
		return &NegateExpr{Expr: inner, typ: t}, nil

	case *NotExpr:
		inner, err := b.bind(v.Expr)
		if err != nil {
			return nil, err
		}
		t := inner.Type().InternalType()
		if t != TYPE_BOOLEAN && t != TYPE_NULL {
			return nil, getError(ErrBinding, typeMismatchError("NOT "+inner.String(), TYPE_BOOLEAN.String(), inner.Type().String()))
		}
		return &NotExpr{Expr: coerce(inner, boolInfo)}, nil

	case *IsNullExpr:
		inner, err := b.bind(v.Expr)
		if err != nil {
			return nil, err
		}
		return &IsNullExpr{Expr: inner, Negated: v.Negated}, nil

	case *WildcardExpr:
		return nil, getError(ErrBinding, fmt.Errorf("%s is not allowed in %s", v, b.clause))
	}
	return nil, getError(ErrBinding, interfaceIsNilError("Expr"))
}

func (b *exprBinder) bindArgs(args []Expr) ([]Expr, []TypeInfo, error) {
	bound := make([]Expr, len(args))
	types := make([]TypeInfo, len(args))
	for i, a := range args {
		e, err := b.bind(a)
		if err != nil {
			return nil, nil, err
		}
		bound[i] = e
		types[i] = e.Type()
	}
	return bound, types, nil
}

// coerce converts e to t, folding typed NULL literals and marking the cast as
// implicit so that it does not change display names.
func coerce(e Expr, t TypeInfo) Expr {
	if e.Type().Equal(t) {
		return e
	}
	if lit, ok := e.(*LiteralExpr); ok && lit.Value == nil {
		return &LiteralExpr{typ: t}
	}
	return &CastExpr{Expr: e, T: t, implicit: true}
}

// requireBoolean checks that a bound predicate is boolean.
func requireBoolean(e Expr, clause string) (Expr, error) {
	switch e.Type().InternalType() {
	case TYPE_BOOLEAN:
		return e, nil
	case TYPE_NULL:
		return coerce(e, boolInfo), nil
	}
	return nil, getError(ErrBinding, typeMismatchError(clause+" predicate "+e.String(), TYPE_BOOLEAN.String(), e.Type().String()))
}
