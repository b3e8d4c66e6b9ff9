package sedonadb

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

type ScalarFuncConfig struct {
	InputTypeInfos []TypeInfo
	ResultTypeInfo TypeInfo

	// VariadicTypeInfo, if set, makes the function accept any number of
	// arguments of that type. InputTypeInfos is ignored.
	VariadicTypeInfo *TypeInfo
	// Volatile functions are never constant folded.
	Volatile bool
	// SpecialNullHandling passes null arguments to the function instead of
	// producing null without calling it.
	SpecialNullHandling bool
}

// ScalarFunc is a row-at-a-time scalar user-defined function.
type ScalarFunc interface {
	Config() ScalarFuncConfig
	ExecuteRow(args []any) (any, error)
}

// ChunkScalarFunc is a scalar user-defined function that processes a whole
// batch per call. It must return an array of the configured result type with
// one element per input row. Null handling is up to the function.
type ChunkScalarFunc interface {
	Config() ScalarFuncConfig
	ExecuteChunk(ctx context.Context, args []arrow.Array) (arrow.Array, error)
}

func validateUDFSignature(inputs []TypeInfo, variadic *TypeInfo, result TypeInfo) error {
	if variadic != nil {
		if *variadic == nil {
			return errUDFInputTypeIsNil
		}
	} else {
		if inputs == nil {
			return errUDFNilInputTypes
		}
		for i, info := range inputs {
			if info == nil {
				return addIndexToError(errUDFInputTypeIsNil, i)
			}
		}
	}
	if result == nil {
		return errUDFResultTypeIsNil
	}
	return nil
}

func udfSignature(name string, inputs []TypeInfo, variadic *TypeInfo, result TypeInfo) string {
	if variadic != nil {
		return fmt.Sprintf("%s(%s...) -> %s", name, *variadic, result)
	}
	return fmt.Sprintf("%s(%s) -> %s", name, typeSignature(inputs), result)
}

// udfArgumentTypes checks the argument types of a call against the declared
// parameters and returns the types to coerce them to.
func udfArgumentTypes(name string, inputs []TypeInfo, variadic *TypeInfo, args []TypeInfo) ([]TypeInfo, error) {
	coerced := make([]TypeInfo, len(args))
	for i, arg := range args {
		want := *variadicOr(variadic, inputs, i)
		if arg.Equal(want) {
			continue
		}
		if !castCompatible(arg.InternalType(), want.InternalType()) {
			return nil, getError(ErrBinding, typeMismatchError(fmt.Sprintf("%s argument %d", name, i+1), want.String(), arg.String()))
		}
		coerced[i] = want
	}
	return coerced, nil
}

func variadicOr(variadic *TypeInfo, inputs []TypeInfo, i int) *TypeInfo {
	if variadic != nil {
		return variadic
	}
	return &inputs[i]
}

func newScalarUDF(name string, config ScalarFuncConfig) (*scalarFunction, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errScalarUDFNoName
	}
	if err := validateUDFSignature(config.InputTypeInfos, config.VariadicTypeInfo, config.ResultTypeInfo); err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	f := &scalarFunction{
		name:      name,
		signature: udfSignature(name, config.InputTypeInfos, config.VariadicTypeInfo, config.ResultTypeInfo),
		minArgs:   len(config.InputTypeInfos),
		maxArgs:   len(config.InputTypeInfos),
		volatile:  config.Volatile,
	}
	if config.VariadicTypeInfo != nil {
		f.minArgs, f.maxArgs = 0, -1
	}
	f.returnType = func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
		coerced, err := udfArgumentTypes(name, config.InputTypeInfos, config.VariadicTypeInfo, args)
		if err != nil {
			return nil, nil, err
		}
		return config.ResultTypeInfo, coerced, nil
	}
	return f, nil
}

func createScalarFunc(name string, f ScalarFunc) (*scalarFunction, error) {
	if f == nil {
		return nil, errScalarUDFIsNil
	}
	config := f.Config()
	fn, err := newScalarUDF(name, config)
	if err != nil {
		return nil, err
	}
	fn.invoke = func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
		return mapRows(ec, result, args, rows, !config.SpecialNullHandling, func(values []any) (out any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic in %s: %v", fn.name, r)
				}
			}()
			return f.ExecuteRow(slices.Clone(values))
		})
	}
	return fn, nil
}

func createChunkScalarFunc(name string, f ChunkScalarFunc) (*scalarFunction, error) {
	if f == nil {
		return nil, errScalarUDFIsNil
	}
	fn, err := newScalarUDF(name, f.Config())
	if err != nil {
		return nil, err
	}
	fn.invoke = func(ctx context.Context, _ *execContext, result TypeInfo, args []arrow.Array, _ int) (out arrow.Array, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in %s: %v", fn.name, r)
			}
		}()
		out, err = f.ExecuteChunk(ctx, args)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, interfaceIsNilError("arrow.Array")
		}
		if !arrow.TypeEqual(out.DataType(), result.ArrowType()) {
			out.Release()
			return nil, typeMismatchError(fn.name+" result", result.ArrowType().String(), out.DataType().String())
		}
		return out, nil
	}
	return fn, nil
}

// RegisterScalarUDF registers a row-at-a-time scalar user-defined function.
// Names are case-insensitive and must not collide with builtin or already
// registered functions.
func (c *Context) RegisterScalarUDF(name string, f ScalarFunc) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	fn, err := createScalarFunc(name, f)
	if err != nil {
		return getError(ErrBinding, err)
	}
	return c.catalog.registerScalar(fn)
}

// RegisterChunkScalarUDF registers a batch-at-a-time scalar user-defined function.
func (c *Context) RegisterChunkScalarUDF(name string, f ChunkScalarFunc) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	fn, err := createChunkScalarFunc(name, f)
	if err != nil {
		return getError(ErrBinding, err)
	}
	return c.catalog.registerScalar(fn)
}

// DeregisterFunction removes a user-defined scalar or aggregate function.
func (c *Context) DeregisterFunction(name string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.catalog.deregisterFunction(name)
}
