package sedonadb

import (
	"fmt"
	"strings"
)

type AggregateFuncConfig struct {
	InputTypeInfos []TypeInfo
	ResultTypeInfo TypeInfo

	// VariadicTypeInfo, if set, makes the function accept any number of
	// arguments of that type. InputTypeInfos is ignored.
	VariadicTypeInfo *TypeInfo
}

// AggregateFunc is an aggregate user-defined function. NewState is called
// once per group.
type AggregateFunc interface {
	Config() AggregateFuncConfig
	NewState() AggregateState
}

// AggregateState accumulates one group. Update is called once per input row
// in delivery order. Rows with a null argument are skipped unless the call
// respects nulls, in which case the result is null and Update is not called
// for the rest of the group.
type AggregateState interface {
	Update(args []any) error
	Result() (any, error)
}

type udafAccumulator struct {
	name  string
	state AggregateState
}

func (u *udafAccumulator) update(args []any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", u.name, r)
		}
	}()
	return u.state.Update(args)
}

func (u *udafAccumulator) result() (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", u.name, r)
		}
	}()
	return u.state.Result()
}

func createAggregateFunc(name string, f AggregateFunc) (*aggregateFunction, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errScalarUDFNoName
	}
	if f == nil {
		return nil, errScalarUDFIsNil
	}
	config := f.Config()
	if err := validateUDFSignature(config.InputTypeInfos, config.VariadicTypeInfo, config.ResultTypeInfo); err != nil {
		return nil, err
	}
	name = strings.ToLower(name)
	fn := &aggregateFunction{
		name:      name,
		signature: udfSignature(name, config.InputTypeInfos, config.VariadicTypeInfo, config.ResultTypeInfo),
		minArgs:   len(config.InputTypeInfos),
		maxArgs:   len(config.InputTypeInfos),
		star:      config.VariadicTypeInfo == nil && len(config.InputTypeInfos) == 0,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			coerced, err := udfArgumentTypes(name, config.InputTypeInfos, config.VariadicTypeInfo, args)
			if err != nil {
				return nil, nil, err
			}
			return config.ResultTypeInfo, coerced, nil
		},
		newAccumulator: func(*execContext, TypeInfo) (accumulator, error) {
			state := f.NewState()
			if state == nil {
				return nil, interfaceIsNilError("AggregateState")
			}
			return &udafAccumulator{name: name, state: state}, nil
		},
	}
	if config.VariadicTypeInfo != nil {
		fn.minArgs, fn.maxArgs = 0, -1
	}
	return fn, nil
}

// RegisterAggregateUDF registers an aggregate user-defined function.
func (c *Context) RegisterAggregateUDF(name string, f AggregateFunc) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	fn, err := createAggregateFunc(name, f)
	if err != nil {
		return getError(ErrBinding, err)
	}
	return c.catalog.registerAggregate(fn)
}
