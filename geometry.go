package sedonadb

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
)

// GeometryExtensionName is the Arrow extension name of geometry columns.
const GeometryExtensionName = "geoarrow.wkb"

// GeometryKind is the geometry subtype of a GEOMETRY column.
type GeometryKind int

const (
	GEOMETRY_ANY GeometryKind = iota
	GEOMETRY_POINT
	GEOMETRY_LINESTRING
	GEOMETRY_POLYGON
	GEOMETRY_MULTIPOINT
	GEOMETRY_MULTILINESTRING
	GEOMETRY_MULTIPOLYGON
	GEOMETRY_COLLECTION
)

var geometryKindNames = []string{
	"geometry", "point", "linestring", "polygon",
	"multipoint", "multilinestring", "multipolygon", "geometrycollection",
}

// GeoJSON/GeoParquet spelling of each kind. GEOMETRY_ANY has none.
var geoJSONKindNames = []string{
	"", "Point", "LineString", "Polygon",
	"MultiPoint", "MultiLineString", "MultiPolygon", "GeometryCollection",
}

func (k GeometryKind) String() string {
	if k < 0 || int(k) >= len(geometryKindNames) {
		return geometryKindNames[GEOMETRY_ANY]
	}
	return geometryKindNames[k]
}

func (k GeometryKind) upper() string {
	return strings.ToUpper(k.String())
}

// ParseGeometryKind parses a subtype name. Unknown names map to GEOMETRY_ANY.
func ParseGeometryKind(name string) GeometryKind {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, " z")
	for i, n := range geometryKindNames {
		if n == name {
			return GeometryKind(i)
		}
	}
	if name == "collection" {
		return GEOMETRY_COLLECTION
	}
	return GEOMETRY_ANY
}

func geometryKindOf(g orb.Geometry) GeometryKind {
	switch g.(type) {
	case orb.Point:
		return GEOMETRY_POINT
	case orb.LineString:
		return GEOMETRY_LINESTRING
	case orb.Polygon, orb.Ring, orb.Bound:
		return GEOMETRY_POLYGON
	case orb.MultiPoint:
		return GEOMETRY_MULTIPOINT
	case orb.MultiLineString:
		return GEOMETRY_MULTILINESTRING
	case orb.MultiPolygon:
		return GEOMETRY_MULTIPOLYGON
	case orb.Collection:
		return GEOMETRY_COLLECTION
	}
	return GEOMETRY_ANY
}

// GeometryExtensionType is the geoarrow.wkb extension type: WKB values in a binary
// storage array, tagged with a subtype and a CRS.
type GeometryExtensionType struct {
	arrow.ExtensionBase
	kind GeometryKind
	crs  *CRS
}

// NewGeometryExtensionType returns the extension type for a geometry subtype and CRS.
// A nil crs means the column has no CRS.
func NewGeometryExtensionType(kind GeometryKind, crs *CRS) *GeometryExtensionType {
	return &GeometryExtensionType{
		ExtensionBase: arrow.ExtensionBase{Storage: arrow.BinaryTypes.Binary},
		kind:          kind,
		crs:           crs,
	}
}

func (*GeometryExtensionType) ArrayType() reflect.Type {
	return reflect.TypeOf(GeometryArray{})
}

func (*GeometryExtensionType) ExtensionName() string {
	return GeometryExtensionName
}

func (e *GeometryExtensionType) Kind() GeometryKind {
	return e.kind
}

func (e *GeometryExtensionType) CRS() *CRS {
	return e.crs
}

func (e *GeometryExtensionType) String() string {
	return fmt.Sprintf("extension<%s[%s]>", GeometryExtensionName, NewGeometryInfo(e.kind, e.crs))
}

type geoArrowMetadata struct {
	CRS          json.RawMessage `json:"crs,omitempty"`
	GeometryType string          `json:"geometry_type,omitempty"`
}

// Serialize writes GeoArrow extension metadata.
func (e *GeometryExtensionType) Serialize() string {
	meta := geoArrowMetadata{}
	if e.kind != GEOMETRY_ANY {
		meta.GeometryType = e.kind.String()
	}
	if e.crs != nil {
		meta.CRS = json.RawMessage(e.crs.JSON())
	}
	out, err := json.Marshal(meta)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// Deserialize never fails on malformed metadata: an unreadable CRS becomes UnknownCRS.
func (*GeometryExtensionType) Deserialize(storage arrow.DataType, data string) (arrow.ExtensionType, error) {
	if storage.ID() != arrow.BINARY {
		return nil, fmt.Errorf("%s: invalid storage type %s, expected binary", GeometryExtensionName, storage)
	}
	kind, crs := parseGeoArrowMetadata(data)
	return NewGeometryExtensionType(kind, crs), nil
}

func (e *GeometryExtensionType) ExtensionEquals(other arrow.ExtensionType) bool {
	o, ok := other.(*GeometryExtensionType)
	if !ok {
		return false
	}
	return e.kind == o.kind && e.crs.Equal(o.crs)
}

func parseGeoArrowMetadata(data string) (GeometryKind, *CRS) {
	if strings.TrimSpace(data) == "" {
		return GEOMETRY_ANY, nil
	}
	var meta geoArrowMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return GEOMETRY_ANY, UnknownCRS
	}
	kind := ParseGeometryKind(meta.GeometryType)
	if len(meta.CRS) == 0 {
		return kind, nil
	}
	crs, err := builtinCRSResolve(meta.CRS)
	if err != nil {
		return kind, UnknownCRS
	}
	return kind, crs
}

// GeometryArray holds WKB encoded geometries.
type GeometryArray struct {
	array.ExtensionArrayBase
}

// Value returns the WKB bytes of element i.
func (a *GeometryArray) Value(i int) []byte {
	return a.Storage().(*array.Binary).Value(i)
}

// Geometry decodes element i.
func (a *GeometryArray) Geometry(i int) (orb.Geometry, error) {
	return wkb.Unmarshal(a.Value(i))
}

// ValueStr renders element i as WKT.
func (a *GeometryArray) ValueStr(i int) string {
	if a.IsNull(i) {
		return array.NullValueStr
	}
	return wkbToText(a.Value(i))
}

func (a *GeometryArray) String() string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < a.Len(); i++ {
		if i > 0 {
			b.WriteString(" ")
		}
		if a.IsNull(i) {
			b.WriteString(array.NullValueStr)
			continue
		}
		b.WriteString(wkbToText(a.Value(i)))
	}
	b.WriteString("]")
	return b.String()
}

func (a *GeometryArray) GetOneForMarshal(i int) interface{} {
	if a.IsNull(i) {
		return nil
	}
	return wkbToText(a.Value(i))
}

func (a *GeometryArray) MarshalJSON() ([]byte, error) {
	vals := make([]interface{}, a.Len())
	for i := range vals {
		vals[i] = a.GetOneForMarshal(i)
	}
	return json.Marshal(vals)
}

func wkbToText(b []byte) string {
	g, err := wkb.Unmarshal(b)
	if err != nil {
		return fmt.Sprintf("<invalid wkb: %d bytes>", len(b))
	}
	return wkt.MarshalString(g)
}

// newGeometryArray wraps a binary array of WKB values into a geometry array.
func newGeometryArray(ext *GeometryExtensionType, storage arrow.Array) arrow.Array {
	return array.NewExtensionArrayWithStorage(ext, storage)
}

func init() {
	if arrow.GetExtensionType(GeometryExtensionName) != nil {
		return
	}
	if err := arrow.RegisterExtensionType(NewGeometryExtensionType(GEOMETRY_ANY, nil)); err != nil {
		panic(err)
	}
}
