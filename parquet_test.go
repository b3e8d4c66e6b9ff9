package sedonadb

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func placesTable(t *testing.T, crs *CRS) *MemTable {
	t.Helper()
	schema := mustSchema(
		ColumnInfo{Name: "id", T: int64Info},
		ColumnInfo{Name: "name", T: stringInfo, Nullable: true},
		ColumnInfo{Name: "geom", T: NewGeometryInfo(GEOMETRY_POINT, crs), Nullable: true},
	)
	return newTestTable(t, schema,
		[]any{int64(1), int64(2), int64(3)},
		[]any{"a", "b", nil},
		[]any{mustWKB(t, orb.Point{1, 2}), mustWKB(t, orb.Point{3, 4}), nil},
	)
}

func writeParquet(t *testing.T, df *DataFrame, target string, opts WriteOptions) {
	t.Helper()
	require.NoError(t, df.ToParquet(context.Background(), target, opts))
}

func readGeoMetadata(t *testing.T, path string) *geoParquetMetadata {
	t.Helper()
	r, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer r.Close()
	geo, err := parseGeoParquetMetadata(r.MetaData().KeyValueMetadata().FindValue(geoParquetKey))
	require.NoError(t, err)
	return geo
}

func parquetFieldNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := file.OpenParquetFile(path, false)
	require.NoError(t, err)
	defer r.Close()
	fr, err := pqarrow.NewFileReader(r, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	sc, err := fr.Schema()
	require.NoError(t, err)
	var names []string
	for _, f := range sc.Fields() {
		names = append(names, f.Name)
	}
	return names
}

func frameOf(t *testing.T, c *Context, provider TableProvider) *DataFrame {
	t.Helper()
	df, err := c.FromProvider(provider)
	require.NoError(t, err)
	return df
}

func TestParquetRoundTrip(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()
	wgs := mustCRS(t, "EPSG:4326")
	places := placesTable(t, wgs)
	path := filepath.Join(t.TempDir(), "places.parquet")

	writeParquet(t, frameOf(t, c, places), path, WriteOptions{})

	df, err := c.ReadParquet(ctx, path)
	require.NoError(t, err)
	require.True(t, places.Schema().Equal(df.Schema()), df.Schema().String())

	rows, err := df.CollectRows(ctx)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3)}, columnValues(rows, "id"))
	require.Equal(t, []any{"a", "b", nil}, columnValues(rows, "name"))
	require.Equal(t, []any{mustWKB(t, orb.Point{1, 2}), mustWKB(t, orb.Point{3, 4}), nil}, columnValues(rows, "geom"))

	geo := readGeoMetadata(t, path)
	require.NotNil(t, geo)
	assert.Equal(t, "1.0.0", geo.Version)
	assert.Equal(t, "geom", geo.PrimaryColumn)
	col := geo.Columns["geom"]
	assert.Equal(t, "WKB", col.Encoding)
	assert.Equal(t, []string{"Point"}, col.GeometryTypes)
	assert.Equal(t, []float64{1, 2, 3, 4}, col.BBox)
	assert.JSONEq(t, `"EPSG:4326"`, string(col.CRS))
	assert.Nil(t, col.Covering)

	ct, err := NewColumnType(df.ArrowSchema().Field(2))
	require.NoError(t, err)
	assert.Equal(t, " (CRS: EPSG:4326)", ct.CRSDisplay())
}

func TestParquetCRSEncoding(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()
	dir := t.TempDir()

	crs84 := filepath.Join(dir, "crs84.parquet")
	writeParquet(t, frameOf(t, c, placesTable(t, mustCRS(t, "OGC:CRS84"))), crs84, WriteOptions{})
	geo := readGeoMetadata(t, crs84)
	assert.Nil(t, geo.Columns["geom"].CRS)

	df, err := c.ReadParquet(ctx, crs84)
	require.NoError(t, err)
	crs := df.Schema().Column(2).T.(GeometryTypeInfo).CRS()
	code, ok := crs.AuthorityCode()
	require.True(t, ok)
	assert.Equal(t, "OGC:CRS84", code)

	none := filepath.Join(dir, "none.parquet")
	writeParquet(t, frameOf(t, c, placesTable(t, nil)), none, WriteOptions{})
	geo = readGeoMetadata(t, none)
	assert.Equal(t, "null", string(geo.Columns["geom"].CRS))

	df, err = c.ReadParquet(ctx, none)
	require.NoError(t, err)
	assert.Nil(t, df.Schema().Column(2).T.(GeometryTypeInfo).CRS())

	plain := filepath.Join(dir, "plain.parquet")
	writeParquet(t, frameOf(t, c, placesTable(t, nil)), plain, WriteOptions{GeoParquetVersion: GeoParquetNone})
	require.Nil(t, readGeoMetadata(t, plain))
	df, err = c.ReadParquet(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, TYPE_BLOB, df.Schema().Column(2).T.InternalType())
}

func TestParquetCoveringBBox(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()
	dir := t.TempDir()
	places := frameOf(t, c, placesTable(t, mustCRS(t, "EPSG:4326")))

	path := filepath.Join(dir, "covered.parquet")
	writeParquet(t, places, path, WriteOptions{GeoParquetVersion: GeoParquetV1_1, WriteCoveringBBox: true})
	require.Equal(t, []string{"id", "name", "geom", "geom_bbox"}, parquetFieldNames(t, path))

	geo := readGeoMetadata(t, path)
	assert.Equal(t, "1.1.0", geo.Version)
	require.NotNil(t, geo.Columns["geom"].Covering)
	assert.Equal(t, []string{"geom_bbox", "xmin"}, geo.Columns["geom"].Covering.BBox["xmin"])
	assert.Equal(t, []string{"geom_bbox", "ymax"}, geo.Columns["geom"].Covering.BBox["ymax"])

	df, err := c.ReadParquet(ctx, path)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "geom"}, df.Schema().Names())

	err = places.ToParquet(ctx, filepath.Join(dir, "v10.parquet"), WriteOptions{WriteCoveringBBox: true})
	require.ErrorIs(t, err, ErrUnsupported)

	f := c.Exprs()
	label, err := f.ScalarFunction("upper", Col("name"))
	require.NoError(t, err)
	withBBox, err := places.Select(Col("id"), Col("geom"), Alias(label, "geom_bbox"))
	require.NoError(t, err)
	err = withBBox.ToParquet(ctx, filepath.Join(dir, "conflict.parquet"),
		WriteOptions{GeoParquetVersion: GeoParquetV1_1, WriteCoveringBBox: true})
	require.ErrorIs(t, err, ErrNameConflict)

	overwritten := filepath.Join(dir, "overwritten.parquet")
	writeParquet(t, withBBox, overwritten,
		WriteOptions{GeoParquetVersion: GeoParquetV1_1, WriteCoveringBBox: true, OverwriteBBoxColumns: true})
	require.Equal(t, []string{"id", "geom", "geom_bbox"}, parquetFieldNames(t, overwritten))
}

func TestParquetPartitionedWrite(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()
	out := filepath.Join(t.TempDir(), "users")

	users, err := c.Table("users")
	require.NoError(t, err)
	writeParquet(t, users, out, WriteOptions{PartitionBy: []string{"age"}})

	entries, err := os.ReadDir(out)
	require.NoError(t, err)
	var dirs []string
	for _, e := range entries {
		require.True(t, e.IsDir())
		dirs = append(dirs, e.Name())
	}
	require.Equal(t, []string{"age=17", "age=36", "age=52", "age=" + hiveDefaultPartition}, dirs)

	files, err := filepath.Glob(filepath.Join(out, "age=17", "part-*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	rows := sqlRows(t, c, "SELECT count(*) AS n, sum(score) AS s FROM read_parquet('"+out+"')")
	require.Equal(t, int64(5), rows[0]["n"])
	require.InDelta(t, 11.0, rows[0]["s"], 1e-9)

	rows = sqlRows(t, c, "SELECT id FROM read_parquet('"+filepath.Join(out, "age=17")+"') ORDER BY id")
	require.Equal(t, []any{int64(2), int64(5)}, columnValues(rows, "id"))

	err = users.ToParquet(ctx, filepath.Join(out, "x.parquet"), WriteOptions{PartitionBy: []string{"age"}, SingleFileOutput: true})
	require.ErrorIs(t, err, ErrBinding)
	err = users.ToParquet(ctx, out, WriteOptions{PartitionBy: []string{"missing"}})
	require.ErrorIs(t, err, ErrBinding)

	places := frameOf(t, c, placesTable(t, nil))
	err = places.ToParquet(ctx, out, WriteOptions{PartitionBy: []string{"geom"}})
	require.ErrorIs(t, err, ErrUnsupported)
}

func TestParquetHivePartitions(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()
	dir := t.TempDir()

	eu, err := c.SQL(ctx, "SELECT id, name FROM users WHERE id <= 2")
	require.NoError(t, err)
	us, err := c.SQL(ctx, "SELECT id, name FROM users WHERE id = 5")
	require.NoError(t, err)
	writeParquet(t, eu, filepath.Join(dir, "region=eu", "data.parquet"), WriteOptions{})
	writeParquet(t, us, filepath.Join(dir, "region=us", "data.parquet"), WriteOptions{})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "_SUCCESS"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.parquet"), []byte("junk"), 0o644))

	table, err := c.OpenParquet(ctx, dir)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "region"}, table.Schema().Names())
	require.Equal(t, TYPE_VARCHAR, table.Schema().Column(2).T.InternalType())
	require.EqualValues(t, 3, table.NumRows())
	require.Len(t, table.Files(), 2)

	require.NoError(t, c.RegisterTable("regions", table))
	rows := sqlRows(t, c, "SELECT id, region FROM regions ORDER BY id")
	require.Equal(t, []any{int64(1), int64(2), int64(5)}, columnValues(rows, "id"))
	require.Equal(t, []any{"eu", "eu", "us"}, columnValues(rows, "region"))

	rows = sqlRows(t, c, "SELECT region, count(*) AS n FROM regions GROUP BY region")
	require.Equal(t, []any{"eu", "us"}, columnValues(rows, "region"))
	require.Equal(t, []any{int64(2), int64(1)}, columnValues(rows, "n"))

	df, err := c.Table("regions")
	require.NoError(t, err)
	n, err := df.Count(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	assert.Equal(t, map[string]string{"a": "1", "b": "x y"}, hivePartitions("a=1/b=x%20y/part.parquet"))
	assert.Nil(t, hivePartitions("part.parquet"))
	assert.False(t, isDataFile("_tmp/part.parquet"))
	assert.False(t, isDataFile("data.csv"))
	assert.True(t, isDataFile("a=1/part.PARQUET"))
}

func TestParquetSchemaMerge(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()
	dir := t.TempDir()

	a, err := c.SQL(ctx, "SELECT id, name FROM users WHERE id <= 2")
	require.NoError(t, err)
	b, err := c.SQL(ctx, "SELECT id, score FROM users WHERE id > 2")
	require.NoError(t, err)
	writeParquet(t, a, filepath.Join(dir, "a.parquet"), WriteOptions{})
	writeParquet(t, b, filepath.Join(dir, "b.parquet"), WriteOptions{})

	df, err := c.ReadParquet(ctx, filepath.Join(dir, "*.parquet"))
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name", "score"}, df.Schema().Names())
	require.True(t, df.Schema().Column(1).Nullable)

	rows, err := df.CollectRows(ctx)
	require.NoError(t, err)
	require.Equal(t, []any{int64(1), int64(2), int64(3), int64(4), int64(5)}, columnValues(rows, "id"))
	require.Equal(t, []any{"ada", "bob", nil, nil, nil}, columnValues(rows, "name"))
	require.Equal(t, []any{nil, nil, 3.0, nil, 4.0}, columnValues(rows, "score"))

	conflict, err := c.SQL(ctx, "SELECT name AS id FROM users")
	require.NoError(t, err)
	writeParquet(t, conflict, filepath.Join(dir, "c.parquet"), WriteOptions{})
	_, err = c.ReadParquet(ctx, filepath.Join(dir, "*.parquet"))
	require.ErrorIs(t, err, ErrSchemaMismatch)

	wgs := mustCRS(t, "EPSG:4326")
	merged, ok := mergeColumnType(NewGeometryInfo(GEOMETRY_POINT, wgs), NewGeometryInfo(GEOMETRY_POLYGON, wgs))
	require.True(t, ok)
	require.True(t, merged.Equal(NewGeometryInfo(GEOMETRY_ANY, wgs)))
	_, ok = mergeColumnType(NewGeometryInfo(GEOMETRY_POINT, wgs), NewGeometryInfo(GEOMETRY_POINT, nil))
	require.False(t, ok)
}

func TestParquetWriteOptions(t *testing.T) {
	c := newTestContext(t)
	registerUsers(t, c)
	ctx := context.Background()
	dir := t.TempDir()

	users, err := c.Table("users")
	require.NoError(t, err)

	sorted := filepath.Join(dir, "sorted.parquet")
	writeParquet(t, users, sorted, WriteOptions{SortBy: []string{"age"}})
	df, err := c.ReadParquet(ctx, sorted)
	require.NoError(t, err)
	rows, err := df.CollectRows(ctx)
	require.NoError(t, err)
	require.Equal(t, []any{int64(2), int64(5), int64(1), int64(3), int64(4)}, columnValues(rows, "id"))

	out := filepath.Join(dir, "dataset")
	writeParquet(t, users, out, WriteOptions{})
	files, err := filepath.Glob(filepath.Join(out, "part-*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)

	single := filepath.Join(dir, "single")
	writeParquet(t, users, single, WriteOptions{SingleFileOutput: true})
	info, err := os.Stat(single)
	require.NoError(t, err)
	require.False(t, info.IsDir())

	empty, err := c.SQL(ctx, "SELECT id, name FROM users WHERE id > 100")
	require.NoError(t, err)
	emptyPath := filepath.Join(dir, "empty.parquet")
	writeParquet(t, empty, emptyPath, WriteOptions{})
	df, err = c.ReadParquet(ctx, emptyPath)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "name"}, df.Schema().Names())
	n, err := df.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	err = users.ToParquet(ctx, filepath.Join(dir, "bad.parquet"), WriteOptions{GeoParquetVersion: "2.0"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestReadParquetSQL(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()
	dir := t.TempDir()
	first := filepath.Join(dir, "first.parquet")
	second := filepath.Join(dir, "second.parquet")
	places := frameOf(t, c, placesTable(t, mustCRS(t, "EPSG:4326")))
	writeParquet(t, places, first, WriteOptions{})
	writeParquet(t, places, second, WriteOptions{})

	rows := sqlRows(t, c, "SELECT p.id FROM read_parquet(['"+first+"', '"+second+"']) AS p WHERE p.id > 1")
	require.Equal(t, []any{int64(2), int64(3), int64(2), int64(3)}, columnValues(rows, "id"))

	rows = sqlRows(t, c, "SELECT ST_AsText(geom) AS wkt FROM read_parquet('"+first+"') LIMIT 1")
	require.Equal(t, []any{"POINT(1 2)"}, columnValues(rows, "wkt"))

	_, err := c.SQL(ctx, "SELECT * FROM read_parquet(1)")
	require.ErrorIs(t, err, ErrBinding)
	_, err = c.SQL(ctx, "SELECT * FROM read_parquet('a', 'b')")
	require.ErrorIs(t, err, ErrBinding)
	_, err = c.SQL(ctx, "SELECT * FROM read_csv('a')")
	require.ErrorIs(t, err, ErrBinding)
}

func TestReadParquetErrors(t *testing.T) {
	c := newTestContext(t)
	ctx := context.Background()
	dir := t.TempDir()

	_, err := c.ReadParquet(ctx)
	require.ErrorIs(t, err, ErrBinding)

	_, err = c.ReadParquet(ctx, filepath.Join(dir, "missing.parquet"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.ReadParquet(ctx, filepath.Join(dir, "*.parquet"))
	require.ErrorIs(t, err, ErrNotFound)

	_, err = c.ReadParquet(ctx, dir)
	require.ErrorIs(t, err, ErrNotFound)

	bogus := filepath.Join(dir, "bogus.parquet")
	require.NoError(t, os.WriteFile(bogus, []byte("definitely not parquet"), 0o644))
	_, err = c.ReadParquet(ctx, bogus)
	require.ErrorIs(t, err, ErrExecution)

	_, err = parseGeoParquetMetadata(new(string))
	require.Error(t, err)

	raw := `{"version": "1.0.0", "primary_column": "g", "columns": {"g": {"encoding": "WKB", "geometry_types": []}}}`
	geo, err := parseGeoParquetMetadata(&raw)
	require.NoError(t, err)
	out, err := json.Marshal(geo.Columns["g"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"encoding": "WKB", "geometry_types": []}`, string(out))
}
