package sedonadb

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/planar"
)

func isGeometry(t Type) bool {
	return t == TYPE_GEOMETRY
}

// geometryArgument accepts any geometry subtype and CRS without coercion.
func geometryArgument(name string, arg TypeInfo) ([]TypeInfo, error) {
	if arg.InternalType() == TYPE_NULL {
		return []TypeInfo{geomInfo}, nil
	}
	if !isGeometry(arg.InternalType()) {
		return nil, getError(ErrBinding, typeMismatchError(name, TYPE_GEOMETRY.String(), arg.String()))
	}
	return []TypeInfo{nil}, nil
}

// geometryFunction builds a strict single-argument function over decoded
// geometries.
func geometryFunction(name string, result TypeInfo, fn func(g orb.Geometry) (any, error)) *scalarFunction {
	return &scalarFunction{
		name:      name,
		signature: fmt.Sprintf("%s(GEOMETRY) -> %s", name, result),
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			coerced, err := geometryArgument(name, args[0])
			if err != nil {
				return nil, nil, err
			}
			return result, coerced, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				g, err := wkb.Unmarshal(values[0].([]byte))
				if err != nil {
					return nil, fmt.Errorf("invalid WKB: %w", err)
				}
				return fn(g)
			})
		},
	}
}

func pointCoordinate(axis int) func(g orb.Geometry) (any, error) {
	return func(g orb.Geometry) (any, error) {
		p, ok := g.(orb.Point)
		if !ok {
			return nil, nil
		}
		return p[axis], nil
	}
}

func init() {
	registerBuiltinScalar(&scalarFunction{
		name:      "st_point",
		signature: "st_point(DOUBLE, DOUBLE) -> GEOMETRY(point)",
		minArgs:   2,
		maxArgs:   2,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			for _, a := range args {
				if _, err := unaryType("st_point", a, float64Info, isNumeric); err != nil {
					return nil, nil, err
				}
			}
			return NewGeometryInfo(GEOMETRY_POINT, nil), []TypeInfo{float64Info, float64Info}, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				return orb.Point{values[0].(float64), values[1].(float64)}, nil
			})
		},
	})

	registerBuiltinScalar(geometryFunction("st_x", float64Info, pointCoordinate(0)))
	registerBuiltinScalar(geometryFunction("st_y", float64Info, pointCoordinate(1)))

	registerBuiltinScalar(geometryFunction("st_astext", stringInfo, func(g orb.Geometry) (any, error) {
		return wkt.MarshalString(g), nil
	}))

	registerBuiltinScalar(geometryFunction("st_geometrytype", stringInfo, func(g orb.Geometry) (any, error) {
		kind := geometryKindOf(g)
		if kind == GEOMETRY_ANY {
			return nil, fmt.Errorf("unsupported geometry %s", g.GeoJSONType())
		}
		return "ST_" + geoJSONKindNames[kind], nil
	}))

	registerBuiltinScalar(geometryFunction("st_area", float64Info, func(g orb.Geometry) (any, error) {
		return planar.Area(g), nil
	}))

	registerBuiltinScalar(geometryFunction("st_length", float64Info, func(g orb.Geometry) (any, error) {
		return planar.Length(g), nil
	}))

	registerBuiltinScalar(geometryFunction("st_envelope", geomInfo, func(g orb.Geometry) (any, error) {
		b := g.Bound()
		if b.Min == b.Max {
			return b.Min, nil
		}
		return b.ToPolygon(), nil
	}))

	registerBuiltinScalar(&scalarFunction{
		name:      "st_geomfromtext",
		signature: "st_geomfromtext(VARCHAR) -> GEOMETRY",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := unaryType("st_geomfromtext", args[0], stringInfo, isString)
			if err != nil {
				return nil, nil, err
			}
			return geomInfo, []TypeInfo{t}, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				g, err := wkt.Unmarshal(values[0].(string))
				if err != nil {
					return nil, fmt.Errorf("invalid WKT %q: %w", values[0], err)
				}
				return g, nil
			})
		},
	})

	registerBuiltinScalar(&scalarFunction{
		name:      "st_geomfromwkb",
		signature: "st_geomfromwkb(BLOB) -> GEOMETRY",
		minArgs:   1,
		maxArgs:   1,
		returnType: func(args []TypeInfo) (TypeInfo, []TypeInfo, error) {
			t, err := unaryType("st_geomfromwkb", args[0], blobInfo, func(t Type) bool { return t == TYPE_BLOB })
			if err != nil {
				return nil, nil, err
			}
			return geomInfo, []TypeInfo{t}, nil
		},
		invoke: func(_ context.Context, ec *execContext, result TypeInfo, args []arrow.Array, rows int) (arrow.Array, error) {
			return mapRows(ec, result, args, rows, true, func(values []any) (any, error) {
				b := values[0].([]byte)
				if _, err := wkb.Unmarshal(b); err != nil {
					return nil, fmt.Errorf("invalid WKB: %w", err)
				}
				return b, nil
			})
		},
	})
}
