package sedonadb

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSchema(t *testing.T) {
	s, err := NewSchema(
		ColumnInfo{Name: "id", T: int64Info},
		ColumnInfo{Name: "name", T: stringInfo, Nullable: true},
	)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	require.Equal(t, []string{"id", "name"}, s.Names())
	require.Equal(t, "{id: BIGINT, name: VARCHAR}", s.String())

	i, ok := s.IndexOf("name")
	require.True(t, ok)
	require.Equal(t, 1, i)
	_, ok = s.IndexOf("NAME")
	require.False(t, ok)

	_, err = NewSchema(ColumnInfo{Name: "a", T: int64Info}, ColumnInfo{Name: "a", T: stringInfo})
	require.ErrorIs(t, err, ErrBinding)
	_, err = NewSchema(ColumnInfo{Name: "", T: int64Info})
	require.ErrorIs(t, err, ErrBinding)
	_, err = NewSchema(ColumnInfo{Name: "a"})
	require.ErrorIs(t, err, ErrBinding)

	projected, err := s.Project([]int{1})
	require.NoError(t, err)
	require.Equal(t, []string{"name"}, projected.Names())
	_, err = s.Project([]int{2})
	require.ErrorIs(t, err, ErrBinding)

	cols := s.Columns()
	cols[0].Name = "changed"
	require.Equal(t, "id", s.Column(0).Name)
}

func TestSchemaEqual(t *testing.T) {
	wgs := mustCRS(t, "EPSG:4326")
	a := mustSchema(ColumnInfo{Name: "g", T: NewGeometryInfo(GEOMETRY_POINT, wgs), Nullable: true})
	b := mustSchema(ColumnInfo{Name: "g", T: NewGeometryInfo(GEOMETRY_POINT, mustCRS(t, "epsg:4326")), Nullable: true})
	c := mustSchema(ColumnInfo{Name: "g", T: NewGeometryInfo(GEOMETRY_POINT, nil), Nullable: true})
	d := mustSchema(ColumnInfo{Name: "g", T: NewGeometryInfo(GEOMETRY_POINT, wgs)})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(d))
	assert.True(t, a.equalTypes(d))
	assert.False(t, a.Equal(nil))
}

func TestSchemaArrowRoundTrip(t *testing.T) {
	s := mustSchema(
		ColumnInfo{Name: "id", T: int64Info},
		ColumnInfo{Name: "ratio", T: float32Info, Nullable: true},
		ColumnInfo{Name: "seen", T: tsInfo, Nullable: true},
		ColumnInfo{Name: "geom", T: NewGeometryInfo(GEOMETRY_POLYGON, mustCRS(t, "EPSG:3857")), Nullable: true},
	)

	back, err := SchemaFromArrow(s.ToArrow())
	require.NoError(t, err)
	require.True(t, s.Equal(back), back.String())

	data, err := SerializeSchema(s)
	require.NoError(t, err)
	back, err = DeserializeSchema(data)
	require.NoError(t, err)
	require.True(t, s.Equal(back), back.String())

	_, err = DeserializeSchema([]byte("not ipc"))
	require.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestSchemaFromArrowFieldMetadata(t *testing.T) {
	md := arrow.NewMetadata(
		[]string{extensionNameKey, extensionMetadataKey},
		[]string{GeometryExtensionName, `{"crs": "EPSG:4326", "geometry_type": "point"}`},
	)
	sc := arrow.NewSchema([]arrow.Field{{Name: "g", Type: arrow.BinaryTypes.Binary, Nullable: true, Metadata: md}}, nil)

	s, err := SchemaFromArrow(sc)
	require.NoError(t, err)
	geo, ok := s.Column(0).T.(GeometryTypeInfo)
	require.True(t, ok)
	assert.Equal(t, GEOMETRY_POINT, geo.Kind())
	assert.Equal(t, "EPSG:4326", geo.CRS().String())

	md = arrow.NewMetadata([]string{extensionNameKey, extensionMetadataKey}, []string{GeometryExtensionName, "{oops"})
	sc = arrow.NewSchema([]arrow.Field{{Name: "g", Type: arrow.BinaryTypes.Binary, Metadata: md}}, nil)
	s, err = SchemaFromArrow(sc)
	require.NoError(t, err)
	assert.True(t, s.Column(0).T.(GeometryTypeInfo).CRS().IsUnknown())

	sc = arrow.NewSchema([]arrow.Field{{Name: "plain", Type: arrow.BinaryTypes.Binary}}, nil)
	s, err = SchemaFromArrow(sc)
	require.NoError(t, err)
	assert.Equal(t, TYPE_BLOB, s.Column(0).T.InternalType())
}

func TestValidateBatch(t *testing.T) {
	s := mustSchema(ColumnInfo{Name: "id", T: int64Info, Nullable: true})

	b := array.NewRecordBuilder(memory.DefaultAllocator, s.ToArrow())
	defer b.Release()
	b.Field(0).(*array.Int64Builder).Append(1)
	rec := b.NewRecord()
	defer rec.Release()
	require.NoError(t, ValidateBatch(s, rec))

	other := mustSchema(ColumnInfo{Name: "id", T: stringInfo, Nullable: true})
	err := ValidateBatch(other, rec)
	require.ErrorIs(t, err, ErrSchemaMismatch)

	renamed := mustSchema(ColumnInfo{Name: "ID", T: int64Info})
	require.ErrorIs(t, ValidateBatch(renamed, rec), ErrSchemaMismatch)
}

func TestColumnType(t *testing.T) {
	geomField := arrow.Field{Name: "geom", Type: NewGeometryExtensionType(GEOMETRY_POINT, mustCRS(t, "EPSG:4326"))}
	ct, err := NewColumnType(geomField)
	require.NoError(t, err)
	assert.Equal(t, "geom", ct.Name())
	assert.Equal(t, "geometry", ct.LogicalTypeName())
	assert.Equal(t, " (CRS: EPSG:4326)", ct.CRSDisplay())
	crs, err := ct.CRS()
	require.NoError(t, err)
	srid, _ := crs.SRID()
	assert.Equal(t, 4326, srid)

	ct, err = NewColumnType(arrow.Field{Name: "g", Type: NewGeometryExtensionType(GEOMETRY_ANY, nil)})
	require.NoError(t, err)
	assert.Equal(t, "", ct.CRSDisplay())
	_, err = ct.CRS()
	require.ErrorIs(t, err, ErrNotFound)

	ct, err = NewColumnType(arrow.Field{Name: "n", Type: arrow.BinaryTypes.String})
	require.NoError(t, err)
	assert.Equal(t, "utf8", ct.LogicalTypeName())
	_, err = ct.CRS()
	require.ErrorIs(t, err, ErrUnsupported)
}
