//go:build cgo && !no_sedonadb_arrow

package sedonadb

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"
	"github.com/stretchr/testify/require"
)

func TestArrowStreamRoundTrip(t *testing.T) {
	src := newTestContext(t)
	dst := newTestContext(t)
	ctx := context.Background()

	places, err := src.FromProvider(placesTable(t, mustCRS(t, "EPSG:4326")))
	require.NoError(t, err)

	for _, lazy := range []bool{false, true} {
		var stream cdata.CArrowArrayStream
		require.NoError(t, places.ExportArrowStream(ctx, &stream))

		df, err := dst.ImportArrowStream(ctx, &stream, lazy)
		require.NoError(t, err)
		require.True(t, places.Schema().Equal(df.Schema()), df.Schema().String())

		geo, ok := df.Schema().Column(2).T.(GeometryTypeInfo)
		require.True(t, ok)
		require.Equal(t, GEOMETRY_POINT, geo.Kind())
		require.Equal(t, "EPSG:4326", geo.CRS().String())

		rows, err := df.CollectRows(ctx)
		require.NoError(t, err)
		require.Equal(t, []any{int64(1), int64(2), int64(3)}, columnValues(rows, "id"))
		require.Nil(t, rows[2]["geom"])
	}
}

func TestArrowExportSchema(t *testing.T) {
	c := newTestContext(t)
	places, err := c.FromProvider(placesTable(t, mustCRS(t, "OGC:CRS84")))
	require.NoError(t, err)

	var out cdata.CArrowSchema
	places.ExportArrowSchema(&out)
	sc, err := cdata.ImportCArrowSchema(&out)
	require.NoError(t, err)

	s, err := SchemaFromArrow(sc)
	require.NoError(t, err)
	require.True(t, places.Schema().Equal(s), s.String())
}

func TestArrowRecordBatchRoundTrip(t *testing.T) {
	rec := idRecord(t, 7, 8, 9)
	defer rec.Release()

	var arr cdata.CArrowArray
	var schema cdata.CArrowSchema
	ExportRecordBatch(rec, &arr, &schema)

	back, err := ImportRecordBatch(&arr, &schema)
	require.NoError(t, err)
	defer back.Release()
	require.True(t, array.RecordEqual(rec, back))
}

func TestArrowImportErrors(t *testing.T) {
	c, err := NewContext(Config{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.ImportArrowStream(ctx, nil, true)
	require.ErrorIs(t, err, ErrBinding)

	require.NoError(t, c.Close())
	var stream cdata.CArrowArrayStream
	_, err = c.ImportArrowStream(ctx, &stream, true)
	require.ErrorIs(t, err, ErrClosed)
}
