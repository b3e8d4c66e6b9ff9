package sedonadb

import (
	"context"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// mapRows evaluates fn row by row. With strict set, rows where any argument is
// null produce null without calling fn.
func mapRows(ec *execContext, result TypeInfo, args []arrow.Array, rows int, strict bool, fn func(values []any) (any, error)) (arrow.Array, error) {
	b := array.NewBuilder(ec.mem, result.ArrowType())
	defer b.Release()
	b.Reserve(rows)
	values := make([]any, len(args))
	for row := 0; row < rows; row++ {
		null := false
		for i, arg := range args {
			v, err := getValue(arg, row)
			if err != nil {
				return nil, err
			}
			values[i] = v
			null = null || v == nil
		}
		if strict && null {
			b.AppendNull()
			continue
		}
		out, err := fn(values)
		if err != nil {
			return nil, addIndexToError(err, row)
		}
		if err := appendValue(b, out); err != nil {
			return nil, addIndexToError(err, row)
		}
	}
	return b.NewArray(), nil
}

// unaryType checks that a single-argument function receives one of the
// accepted types. NULL arguments are coerced to fallback.
func unaryType(name string, arg TypeInfo, fallback TypeInfo, accept func(Type) bool) (TypeInfo, error) {
	if arg.InternalType() == TYPE_NULL {
		return fallback, nil
	}
	if !accept(arg.InternalType()) {
		return nil, getError(ErrBinding, typeMismatchError(name, fallback.String(), arg.String()))
	}
	return arg, nil
}

func isString(t Type) bool {
	return t == TYPE_VARCHAR
}

func stringFunction(name string, transform func(string) string) *scalarFunction {
	return &scalarFunction{
		name:      name,
		signature: name + "(VARCHAR) -> VARCHAR",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := unaryType(name, args[0], stringInfo, isString)
			if err != nil {
				return nil, nil, err
			}
			return stringInfo, []TypeInfo{t}, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				return transform(values[0].(string)), nil
			})
		},
	}
}

func roundTo(v float64, digits int64) float64 {
	if digits == 0 {
		return math.Round(v)
	}
	scale := math.Pow(10, float64(digits))
	return math.Round(v*scale) / scale
}

func init() {
	registerBuiltinScalar(&scalarFunction{
		name:      "abs",
		signature: "abs(numeric) -> numeric",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := unaryType("abs", args[0], int64Info, isNumeric)
			if err != nil {
				return nil, nil, err
			}
			return t, []TypeInfo{t}, nil
		},
		invoke: func(ctx context.Context, ec *execContext, result TypeInfo, args []arrow.Array, _ int) (arrow.Array, error) {
			name := "abs_unchecked"
			if ec.overflow == OverflowError && isInteger(result.InternalType()) {
				name = "abs"
			}
			return callKernel(ec.kernelContext(ctx), name, args[0])
		},
	})

	registerBuiltinScalar(stringFunction("lower", strings.ToLower))
	registerBuiltinScalar(stringFunction("upper", strings.ToUpper))

	registerBuiltinScalar(&scalarFunction{
		name:      "length",
		signature: "length(VARCHAR) -> BIGINT",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := unaryType("length", args[0], stringInfo, isString)
			if err != nil {
				return nil, nil, err
			}
			return int64Info, []TypeInfo{t}, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				return int64(utf8.RuneCountInString(values[0].(string))), nil
			})
		},
	})

	registerBuiltinScalar(&scalarFunction{
		name:      "coalesce",
		signature: "coalesce(any, ...) -> any",
		minArgs:   1,
		maxArgs:   -1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			return sameTypes("coalesce", args)
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, false, func(values []any) (any, error) {
				for _, v := range values {
					if v != nil {
						return v, nil
					}
				}
				return nil, nil
			})
		},
	})

	registerBuiltinScalar(&scalarFunction{
		name:      "round",
		signature: "round(numeric[, BIGINT]) -> numeric",
		minArgs:   1,
		maxArgs:   2,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := unaryType("round", args[0], float64Info, isNumeric)
			if err != nil {
				return nil, nil, err
			}
			if isFloating(t.InternalType()) {
				t = float64Info
			}
			coerced := []TypeInfo{t}
			if len(args) == 2 {
				if _, err := unaryType("round", args[1], int64Info, isInteger); err != nil {
					return nil, nil, err
				}
				coerced = append(coerced, int64Info)
			}
			return t, coerced, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				var digits int64
				if len(values) == 2 {
					digits = values[1].(int64)
				}
				switch v := values[0].(type) {
				case float64:
					return roundTo(v, digits), nil
				case int32:
					if digits >= 0 {
						return v, nil
					}
					return int64(roundTo(float64(v), digits)), nil
				case int64:
					if digits >= 0 {
						return v, nil
					}
					return int64(roundTo(float64(v), digits)), nil
				}
				return values[0], nil
			})
		},
	})
}
