package sedonadb

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// FunctionKind distinguishes scalar from aggregate functions.
type FunctionKind int

const (
	FUNCTION_SCALAR FunctionKind = iota
	FUNCTION_AGGREGATE
)

func (k FunctionKind) String() string {
	if k == FUNCTION_AGGREGATE {
		return "aggregate"
	}
	return "scalar"
}

// FunctionHandle is the result of a function lookup.
type FunctionHandle struct {
	kind      FunctionKind
	builtin   bool
	scalar    *scalarFunction
	aggregate *aggregateFunction
}

// Name returns the lower-case function name.
func (h *FunctionHandle) Name() string {
	if h.kind == FUNCTION_AGGREGATE {
		return h.aggregate.name
	}
	return h.scalar.name
}

// Kind reports whether the function is scalar or aggregate.
func (h *FunctionHandle) Kind() FunctionKind {
	return h.kind
}

// IsBuiltin reports whether the function ships with the engine.
func (h *FunctionHandle) IsBuiltin() bool {
	return h.builtin
}

// Signature returns a display form such as "double(BIGINT) -> BIGINT".
func (h *FunctionHandle) Signature() string {
	if h.kind == FUNCTION_AGGREGATE {
		return h.aggregate.signature
	}
	return h.scalar.signature
}

// scalarFunction is the engine-internal form of builtins and scalar UDFs.
type scalarFunction struct {
	name      string
	signature string
	minArgs   int
	// maxArgs is -1 for variadic functions.
	maxArgs  int
	volatile bool
	// returnType resolves the result type and the types the arguments are
	// coerced to before invoke sees them.
	returnType func(args []TypeInfo) (TypeInfo, []TypeInfo, error)
	invoke     func(ctx context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error)
}

// aggregateFunction is the engine-internal form of builtin aggregates and UDAFs.
type aggregateFunction struct {
	name      string
	signature string
	minArgs   int
	maxArgs   int
	// star reports whether the function accepts "*" in place of arguments.
	star           bool
	returnType     func(args []TypeInfo) (TypeInfo, []TypeInfo, error)
	newAccumulator func(ec *execContext, result TypeInfo) (accumulator, error)
}

func checkArity(name string, minArgs int, maxArgs int, n int) error {
	if n >= minArgs && (maxArgs < 0 || n <= maxArgs) {
		return nil
	}
	var expected string
	switch {
	case maxArgs < 0:
		expected = fmt.Sprintf("at least %d", minArgs)
	case minArgs == maxArgs:
		expected = fmt.Sprint(minArgs)
	default:
		expected = fmt.Sprintf("%d to %d", minArgs, maxArgs)
	}
	return getError(ErrBinding, arityError(name, expected, n))
}

var (
	builtinScalars    = map[string]*scalarFunction{}
	builtinAggregates = map[string]*aggregateFunction{}
)

func registerBuiltinScalar(f *scalarFunction) {
	builtinScalars[f.name] = f
}

func registerBuiltinAggregate(f *aggregateFunction) {
	builtinAggregates[f.name] = f
}

func isBuiltinFunction(name string) bool {
	name = strings.ToLower(name)
	_, scalar := builtinScalars[name]
	_, agg := builtinAggregates[name]
	return scalar || agg
}

// functionResolver looks functions up by case-insensitive name. Catalog
// snapshots implement it for UDFs; builtins are always visible.
type functionResolver interface {
	lookupFunction(name string) (*FunctionHandle, bool)
}

func lookupBuiltin(name string) (*FunctionHandle, bool) {
	name = strings.ToLower(name)
	if f, ok := builtinScalars[name]; ok {
		return &FunctionHandle{kind: FUNCTION_SCALAR, builtin: true, scalar: f}, true
	}
	if f, ok := builtinAggregates[name]; ok {
		return &FunctionHandle{kind: FUNCTION_AGGREGATE, builtin: true, aggregate: f}, true
	}
	return nil, false
}

type builtinResolver struct{}

func (builtinResolver) lookupFunction(name string) (*FunctionHandle, bool) {
	return lookupBuiltin(name)
}

// typeSignature formats argument types for signatures and error messages.
func typeSignature(types []TypeInfo) string {
	parts := make([]string, len(types))
	for i, t := range types {
		if t == nil {
			parts[i] = "?"
			continue
		}
		parts[i] = t.String()
	}
	return strings.Join(parts, ", ")
}

// sameTypes coerces all arguments to one common type.
func sameTypes(name string, args []TypeInfo) (TypeInfo, []TypeInfo, error) {
	if len(args) == 0 {
		return nullInfo, nil, nil
	}
	common := args[0]
	for _, t := range args[1:] {
		c, ok := commonType(common, t)
		if !ok {
			return nil, nil, getError(ErrBinding, typeMismatchError(name, common.String(), t.String()))
		}
		common = c
	}
	coerced := make([]TypeInfo, len(args))
	for i := range coerced {
		coerced[i] = common
	}
	return common, coerced, nil
}
