package sedonadb

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
)

const (
	extensionNameKey     = "ARROW:extension:name"
	extensionMetadataKey = "ARROW:extension:metadata"
)

// ColumnInfo describes a single column.
type ColumnInfo struct {
	// Name is the column name, unique within a schema.
	Name string
	// T is the column type.
	T TypeInfo
	// Nullable reports whether the column may contain nulls.
	Nullable bool
}

// Schema is an ordered list of uniquely named columns.
type Schema struct {
	columns []ColumnInfo
	index   map[string]int
}

// NewSchema creates a schema. Duplicate or empty column names are an ErrBinding.
func NewSchema(columns ...ColumnInfo) (*Schema, error) {
	s := &Schema{columns: make([]ColumnInfo, len(columns)), index: make(map[string]int, len(columns))}
	for i, col := range columns {
		if col.Name == "" {
			return nil, getError(ErrBinding, columnError(errEmptyName, i))
		}
		if col.T == nil {
			return nil, getError(ErrBinding, columnError(interfaceIsNilError("TypeInfo"), i))
		}
		if _, ok := s.index[col.Name]; ok {
			return nil, getError(ErrBinding, fmt.Errorf("duplicate column name %q", col.Name))
		}
		s.index[col.Name] = i
		s.columns[i] = col
	}
	return s, nil
}

func mustSchema(columns ...ColumnInfo) *Schema {
	s, err := NewSchema(columns...)
	if err != nil {
		panic(err)
	}
	return s
}

// Len returns the number of columns.
func (s *Schema) Len() int {
	return len(s.columns)
}

// Column returns the column at index i.
func (s *Schema) Column(i int) ColumnInfo {
	return s.columns[i]
}

// Columns returns a copy of the columns.
func (s *Schema) Columns() []ColumnInfo {
	out := make([]ColumnInfo, len(s.columns))
	copy(out, s.columns)
	return out
}

// Names returns the column names in order.
func (s *Schema) Names() []string {
	names := make([]string, len(s.columns))
	for i, col := range s.columns {
		names[i] = col.Name
	}
	return names
}

// IndexOf returns the position of a column.
func (s *Schema) IndexOf(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Project returns a schema with the columns at the given indices.
func (s *Schema) Project(indices []int) (*Schema, error) {
	cols := make([]ColumnInfo, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(s.columns) {
			return nil, getError(ErrBinding, addIndexToError(errors.New("column index out of range"), idx))
		}
		cols[i] = s.columns[idx]
	}
	return NewSchema(cols...)
}

// Equal compares names, types (including CRS) and nullability.
func (s *Schema) Equal(other *Schema) bool {
	if s == nil || other == nil {
		return s == other
	}
	if len(s.columns) != len(other.columns) {
		return false
	}
	for i, col := range s.columns {
		o := other.columns[i]
		if col.Name != o.Name || col.Nullable != o.Nullable || !col.T.Equal(o.T) {
			return false
		}
	}
	return true
}

// equalTypes compares names and types, ignoring nullability.
func (s *Schema) equalTypes(other *Schema) bool {
	if len(s.columns) != len(other.columns) {
		return false
	}
	for i, col := range s.columns {
		o := other.columns[i]
		if col.Name != o.Name || !col.T.Equal(o.T) {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	parts := make([]string, len(s.columns))
	for i, col := range s.columns {
		parts[i] = col.Name + ": " + col.T.String()
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// ToArrow converts the schema to an Arrow schema.
func (s *Schema) ToArrow() *arrow.Schema {
	fields := make([]arrow.Field, len(s.columns))
	for i, col := range s.columns {
		fields[i] = arrow.Field{Name: col.Name, Type: col.T.ArrowType(), Nullable: col.Nullable}
	}
	return arrow.NewSchema(fields, nil)
}

// SchemaFromArrow converts an Arrow schema. Geometry columns whose extension
// metadata cannot be read are kept with UnknownCRS.
func SchemaFromArrow(sc *arrow.Schema) (*Schema, error) {
	cols := make([]ColumnInfo, sc.NumFields())
	for i, f := range sc.Fields() {
		info, err := typeInfoFromField(f)
		if err != nil {
			return nil, columnError(err, i)
		}
		cols[i] = ColumnInfo{Name: f.Name, T: info, Nullable: f.Nullable}
	}
	return NewSchema(cols...)
}

func typeInfoFromField(f arrow.Field) (TypeInfo, error) {
	if f.Type.ID() == arrow.BINARY {
		// The extension may arrive as plain field metadata when a foreign producer
		// exported it without our type registered on its side.
		if name, ok := f.Metadata.GetValue(extensionNameKey); ok && name == GeometryExtensionName {
			meta, _ := f.Metadata.GetValue(extensionMetadataKey)
			kind, crs := parseGeoArrowMetadata(meta)
			return NewGeometryInfo(kind, crs), nil
		}
	}
	return typeInfoFromArrow(f.Type)
}

// SerializeSchema encodes the schema as an Arrow IPC schema message.
func SerializeSchema(s *Schema) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(s.ToArrow()))
	if err := w.Close(); err != nil {
		return nil, getError(ErrExecution, err)
	}
	return buf.Bytes(), nil
}

// DeserializeSchema decodes a schema written by SerializeSchema.
func DeserializeSchema(data []byte) (*Schema, error) {
	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, getError(ErrSchemaMismatch, err)
	}
	defer r.Release()
	return SchemaFromArrow(r.Schema())
}

// ValidateBatch checks that a record conforms to the schema: same column count,
// names and types, including geometry CRS.
func ValidateBatch(s *Schema, rec arrow.Record) error {
	actual, err := SchemaFromArrow(rec.Schema())
	if err != nil {
		return getError(ErrSchemaMismatch, err)
	}
	if !s.equalTypes(actual) {
		return getError(ErrSchemaMismatch, schemaMismatchError(s.String(), actual.String()))
	}
	return nil
}

// ColumnType exposes the logical type of a single Arrow field.
type ColumnType struct {
	name string
	info TypeInfo
}

// NewColumnType inspects an Arrow field.
func NewColumnType(f arrow.Field) (*ColumnType, error) {
	info, err := typeInfoFromField(f)
	if err != nil {
		return nil, err
	}
	return &ColumnType{name: f.Name, info: info}, nil
}

// Name returns the field name.
func (c *ColumnType) Name() string {
	return c.name
}

// TypeInfo returns the type information.
func (c *ColumnType) TypeInfo() TypeInfo {
	return c.info
}

// LogicalTypeName returns names like "geometry", "utf8" or "int64".
func (c *ColumnType) LogicalTypeName() string {
	return c.info.LogicalTypeName()
}

// CRS returns the CRS of a geometry column. It fails for other types and for
// geometry columns without a CRS.
func (c *ColumnType) CRS() (*CRS, error) {
	geo, ok := c.info.(GeometryTypeInfo)
	if !ok {
		return nil, getError(ErrUnsupported, fmt.Errorf("column %q of type %s has no CRS", c.name, c.info))
	}
	if geo.CRS() == nil {
		return nil, getError(ErrNotFound, fmt.Errorf("column %q has no CRS", c.name))
	}
	return geo.CRS(), nil
}

// CRSDisplay returns " (CRS: EPSG:4326)" style text, or "" without a CRS.
func (c *ColumnType) CRSDisplay() string {
	geo, ok := c.info.(GeometryTypeInfo)
	if !ok || geo.CRS() == nil {
		return ""
	}
	return fmt.Sprintf(" (CRS: %s)", geo.CRS())
}
