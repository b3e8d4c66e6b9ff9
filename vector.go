package sedonadb

import (
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
)

// getValue returns element i of arr as a Go value, or nil for null.
// Geometry values are returned as WKB bytes.
func getValue(arr arrow.Array, i int) (any, error) {
	if arr.IsNull(i) {
		return nil, nil
	}
	switch a := arr.(type) {
	case *array.Boolean:
		return a.Value(i), nil
	case *array.Int32:
		return a.Value(i), nil
	case *array.Int64:
		return a.Value(i), nil
	case *array.Float32:
		return a.Value(i), nil
	case *array.Float64:
		return a.Value(i), nil
	case *array.String:
		return a.Value(i), nil
	case *array.Binary:
		return cloneBytes(a.Value(i)), nil
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), nil
	case *GeometryArray:
		return cloneBytes(a.Value(i)), nil
	case *array.Null:
		return nil, nil
	}
	return nil, getError(ErrUnsupported, unsupportedTypeError(arr.DataType().String()))
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// appendValue appends a Go value to a builder, converting where lossless.
func appendValue(b array.Builder, v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	switch builder := b.(type) {
	case *array.BooleanBuilder:
		val, ok := v.(bool)
		if !ok {
			return castError(reflect.TypeOf(v).String(), "bool")
		}
		builder.Append(val)
	case *array.Int32Builder:
		val, err := toInt64(v)
		if err != nil {
			return err
		}
		if val < math.MinInt32 || val > math.MaxInt32 {
			return fmt.Errorf("%w: %d does not fit INTEGER", errIntegerOverflow, val)
		}
		builder.Append(int32(val))
	case *array.Int64Builder:
		val, err := toInt64(v)
		if err != nil {
			return err
		}
		builder.Append(val)
	case *array.Float32Builder:
		val, err := toFloat64(v)
		if err != nil {
			return err
		}
		builder.Append(float32(val))
	case *array.Float64Builder:
		val, err := toFloat64(v)
		if err != nil {
			return err
		}
		builder.Append(val)
	case *array.StringBuilder:
		val, ok := v.(string)
		if !ok {
			return castError(reflect.TypeOf(v).String(), "string")
		}
		builder.Append(val)
	case *array.BinaryBuilder:
		switch val := v.(type) {
		case []byte:
			builder.Append(val)
		case string:
			builder.AppendString(val)
		default:
			return castError(reflect.TypeOf(v).String(), "[]byte")
		}
	case *array.TimestampBuilder:
		val, ok := v.(time.Time)
		if !ok {
			return castError(reflect.TypeOf(v).String(), "time.Time")
		}
		unit := builder.Type().(*arrow.TimestampType).Unit
		ts, err := arrow.TimestampFromTime(val, unit)
		if err != nil {
			return err
		}
		builder.Append(ts)
	case *array.ExtensionBuilder:
		return appendGeometry(builder, v)
	case *array.NullBuilder:
		return castError(reflect.TypeOf(v).String(), TYPE_NULL.String())
	default:
		return unsupportedTypeError(b.Type().String())
	}
	return nil
}

func appendGeometry(b *array.ExtensionBuilder, v any) error {
	storage, ok := b.StorageBuilder().(*array.BinaryBuilder)
	if !ok {
		return unsupportedTypeError(b.Type().String())
	}
	switch val := v.(type) {
	case []byte:
		storage.Append(val)
	case orb.Geometry:
		data, err := wkb.Marshal(val)
		if err != nil {
			return err
		}
		storage.Append(data)
	default:
		return castError(reflect.TypeOf(v).String(), TYPE_GEOMETRY.String())
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch val := v.(type) {
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		if val > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d does not fit BIGINT", errIntegerOverflow, val)
		}
		return int64(val), nil
	}
	return 0, castError(reflect.TypeOf(v).String(), "int64")
}

func toFloat64(v any) (float64, error) {
	switch val := v.(type) {
	case float32:
		return float64(val), nil
	case float64:
		return val, nil
	}
	i, err := toInt64(v)
	if err != nil {
		return 0, castError(reflect.TypeOf(v).String(), "float64")
	}
	return float64(i), nil
}

// buildArray builds an array of type info from Go values.
func buildArray(mem memory.Allocator, info TypeInfo, values []any) (arrow.Array, error) {
	b := array.NewBuilder(mem, info.ArrowType())
	defer b.Release()
	b.Reserve(len(values))
	for i, v := range values {
		if err := appendValue(b, v); err != nil {
			return nil, addIndexToError(err, i)
		}
	}
	return b.NewArray(), nil
}

// newNullArray returns an all-null array of the given type and length.
func newNullArray(mem memory.Allocator, dt arrow.DataType, n int) arrow.Array {
	b := array.NewBuilder(mem, dt)
	defer b.Release()
	b.AppendNulls(n)
	return b.NewArray()
}
