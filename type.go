package sedonadb

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Type represents a logical engine type.
type Type int

const (
	TYPE_INVALID Type = iota
	TYPE_NULL
	TYPE_BOOLEAN
	TYPE_INTEGER
	TYPE_BIGINT
	TYPE_FLOAT
	TYPE_DOUBLE
	TYPE_VARCHAR
	TYPE_BLOB
	TYPE_TIMESTAMP
	TYPE_GEOMETRY
)

var typeToStringMap = map[Type]string{
	TYPE_INVALID:   "INVALID",
	TYPE_NULL:      "NULL",
	TYPE_BOOLEAN:   "BOOLEAN",
	TYPE_INTEGER:   "INTEGER",
	TYPE_BIGINT:    "BIGINT",
	TYPE_FLOAT:     "FLOAT",
	TYPE_DOUBLE:    "DOUBLE",
	TYPE_VARCHAR:   "VARCHAR",
	TYPE_BLOB:      "BLOB",
	TYPE_TIMESTAMP: "TIMESTAMP",
	TYPE_GEOMETRY:  "GEOMETRY",
}

// logicalTypeNames are the lower-case names reported by ColumnType.LogicalTypeName.
var logicalTypeNames = map[Type]string{
	TYPE_NULL:      "null",
	TYPE_BOOLEAN:   "boolean",
	TYPE_INTEGER:   "int32",
	TYPE_BIGINT:    "int64",
	TYPE_FLOAT:     "float32",
	TYPE_DOUBLE:    "float64",
	TYPE_VARCHAR:   "utf8",
	TYPE_BLOB:      "binary",
	TYPE_TIMESTAMP: "timestamp",
	TYPE_GEOMETRY:  "geometry",
}

func (t Type) String() string {
	if name, ok := typeToStringMap[t]; ok {
		return name
	}
	return typeToStringMap[TYPE_INVALID]
}

// TypeInfo describes a column or expression type.
type TypeInfo interface {
	// InternalType returns the logical Type.
	InternalType() Type
	// ArrowType returns the Arrow data type used to store values of this type.
	ArrowType() arrow.DataType
	// LogicalTypeName returns the lower-case logical name, e.g. "int64" or "geometry".
	LogicalTypeName() string
	// Equal reports whether both type infos describe the same type.
	Equal(other TypeInfo) bool
	String() string
}

// GeometryTypeInfo is the TypeInfo of geometry columns.
type GeometryTypeInfo interface {
	TypeInfo
	// Kind returns the geometry subtype.
	Kind() GeometryKind
	// CRS returns the coordinate reference system, or nil if there is none.
	CRS() *CRS
}

type typeInfo struct {
	t  Type
	dt arrow.DataType
}

type geometryTypeInfo struct {
	kind GeometryKind
	crs  *CRS
}

var defaultArrowTypes = map[Type]arrow.DataType{
	TYPE_NULL:      arrow.Null,
	TYPE_BOOLEAN:   arrow.FixedWidthTypes.Boolean,
	TYPE_INTEGER:   arrow.PrimitiveTypes.Int32,
	TYPE_BIGINT:    arrow.PrimitiveTypes.Int64,
	TYPE_FLOAT:     arrow.PrimitiveTypes.Float32,
	TYPE_DOUBLE:    arrow.PrimitiveTypes.Float64,
	TYPE_VARCHAR:   arrow.BinaryTypes.String,
	TYPE_BLOB:      arrow.BinaryTypes.Binary,
	TYPE_TIMESTAMP: arrow.FixedWidthTypes.Timestamp_us,
}

// NewTypeInfo returns type information for the primitive types.
// Geometry types carry parameters and are created with NewGeometryInfo.
func NewTypeInfo(t Type) (TypeInfo, error) {
	if t == TYPE_GEOMETRY {
		return nil, getError(ErrUnsupported, fmt.Errorf("use NewGeometryInfo to create %s type information", t))
	}
	dt, ok := defaultArrowTypes[t]
	if !ok {
		return nil, getError(ErrUnsupported, unsupportedTypeError(t.String()))
	}
	return &typeInfo{t: t, dt: dt}, nil
}

// NewGeometryInfo returns GEOMETRY type information with a subtype and an optional CRS.
func NewGeometryInfo(kind GeometryKind, crs *CRS) TypeInfo {
	return &geometryTypeInfo{kind: kind, crs: crs}
}

func mustTypeInfo(t Type) TypeInfo {
	info, err := NewTypeInfo(t)
	if err != nil {
		panic(err)
	}
	return info
}

var (
	nullInfo    = mustTypeInfo(TYPE_NULL)
	boolInfo    = mustTypeInfo(TYPE_BOOLEAN)
	int32Info   = mustTypeInfo(TYPE_INTEGER)
	int64Info   = mustTypeInfo(TYPE_BIGINT)
	float32Info = mustTypeInfo(TYPE_FLOAT)
	float64Info = mustTypeInfo(TYPE_DOUBLE)
	stringInfo  = mustTypeInfo(TYPE_VARCHAR)
	blobInfo    = mustTypeInfo(TYPE_BLOB)
	tsInfo      = mustTypeInfo(TYPE_TIMESTAMP)
	geomInfo    = NewGeometryInfo(GEOMETRY_ANY, nil)
)

func (info *typeInfo) InternalType() Type {
	return info.t
}

func (info *typeInfo) ArrowType() arrow.DataType {
	return info.dt
}

func (info *typeInfo) LogicalTypeName() string {
	return logicalTypeNames[info.t]
}

func (info *typeInfo) Equal(other TypeInfo) bool {
	o, ok := other.(*typeInfo)
	if !ok {
		return false
	}
	return info.t == o.t && arrow.TypeEqual(info.dt, o.dt)
}

func (info *typeInfo) String() string {
	if info.t == TYPE_TIMESTAMP {
		if ts, ok := info.dt.(*arrow.TimestampType); ok && ts.Unit != arrow.Microsecond {
			return fmt.Sprintf("%s(%s)", info.t, ts.Unit)
		}
	}
	return info.t.String()
}

func (info *geometryTypeInfo) InternalType() Type {
	return TYPE_GEOMETRY
}

func (info *geometryTypeInfo) ArrowType() arrow.DataType {
	return NewGeometryExtensionType(info.kind, info.crs)
}

func (info *geometryTypeInfo) LogicalTypeName() string {
	return logicalTypeNames[TYPE_GEOMETRY]
}

func (info *geometryTypeInfo) Kind() GeometryKind {
	return info.kind
}

func (info *geometryTypeInfo) CRS() *CRS {
	return info.crs
}

func (info *geometryTypeInfo) Equal(other TypeInfo) bool {
	o, ok := other.(*geometryTypeInfo)
	if !ok {
		return false
	}
	return info.kind == o.kind && info.crs.Equal(o.crs)
}

func (info *geometryTypeInfo) String() string {
	if info.crs == nil {
		if info.kind == GEOMETRY_ANY {
			return TYPE_GEOMETRY.String()
		}
		return fmt.Sprintf("%s(%s)", TYPE_GEOMETRY, info.kind.upper())
	}
	return fmt.Sprintf("%s(%s, %s)", TYPE_GEOMETRY, info.kind.upper(), info.crs)
}

// typeInfoFromArrow maps an Arrow data type to its TypeInfo without copying or converting data.
func typeInfoFromArrow(dt arrow.DataType) (TypeInfo, error) {
	switch dt.ID() {
	case arrow.NULL:
		return nullInfo, nil
	case arrow.BOOL:
		return boolInfo, nil
	case arrow.INT32:
		return int32Info, nil
	case arrow.INT64:
		return int64Info, nil
	case arrow.FLOAT32:
		return float32Info, nil
	case arrow.FLOAT64:
		return float64Info, nil
	case arrow.STRING:
		return stringInfo, nil
	case arrow.BINARY:
		return blobInfo, nil
	case arrow.TIMESTAMP:
		return &typeInfo{t: TYPE_TIMESTAMP, dt: dt}, nil
	case arrow.EXTENSION:
		if ext, ok := dt.(*GeometryExtensionType); ok {
			return NewGeometryInfo(ext.Kind(), ext.CRS()), nil
		}
		return nil, getError(ErrUnsupported, unsupportedTypeError(dt.(arrow.ExtensionType).ExtensionName()))
	}
	return nil, getError(ErrUnsupported, unsupportedTypeError(dt.String()))
}

func isInteger(t Type) bool {
	return t == TYPE_INTEGER || t == TYPE_BIGINT
}

func isFloating(t Type) bool {
	return t == TYPE_FLOAT || t == TYPE_DOUBLE
}

func isNumeric(t Type) bool {
	return isInteger(t) || isFloating(t)
}

// commonType returns the type both sides of a binary operation are coerced to.
func commonType(a TypeInfo, b TypeInfo) (TypeInfo, bool) {
	ta, tb := a.InternalType(), b.InternalType()
	switch {
	case ta == TYPE_NULL:
		return b, true
	case tb == TYPE_NULL:
		return a, true
	case a.Equal(b):
		return a, true
	case isNumeric(ta) && isNumeric(tb):
		if isFloating(ta) || isFloating(tb) {
			return float64Info, true
		}
		return int64Info, true
	case ta == TYPE_TIMESTAMP && tb == TYPE_TIMESTAMP:
		return tsInfo, true
	case ta == TYPE_GEOMETRY && tb == TYPE_GEOMETRY:
		return geomInfo, true
	}
	return nil, false
}

// castCompatible reports whether a cast between two types can be constructed.
// Numeric narrowing is always constructible and may fail at evaluation time.
func castCompatible(from Type, to Type) bool {
	if from == to || from == TYPE_NULL {
		return true
	}
	switch to {
	case TYPE_GEOMETRY:
		return from == TYPE_BLOB || from == TYPE_VARCHAR
	case TYPE_BOOLEAN:
		return isNumeric(from) || from == TYPE_VARCHAR
	case TYPE_INTEGER, TYPE_BIGINT, TYPE_FLOAT, TYPE_DOUBLE:
		return isNumeric(from) || from == TYPE_BOOLEAN || from == TYPE_VARCHAR || (from == TYPE_TIMESTAMP && to == TYPE_BIGINT)
	case TYPE_VARCHAR:
		return from != TYPE_BLOB
	case TYPE_BLOB:
		return from == TYPE_VARCHAR || from == TYPE_GEOMETRY
	case TYPE_TIMESTAMP:
		return from == TYPE_VARCHAR || from == TYPE_BIGINT
	}
	return false
}
