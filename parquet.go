package sedonadb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"golang.org/x/sync/errgroup"

	"github.com/sedonadb/go-sedonadb/objectstore"
)

const (
	geoParquetKey         = "geo"
	hiveDefaultPartition  = "__HIVE_DEFAULT_PARTITION__"
	parquetChannelBacklog = 2
)

// geoParquetMetadata is the "geo" key-value metadata of a GeoParquet file.
type geoParquetMetadata struct {
	Version       string                      `json:"version"`
	PrimaryColumn string                      `json:"primary_column"`
	Columns       map[string]geoParquetColumn `json:"columns"`
}

type geoParquetColumn struct {
	Encoding      string   `json:"encoding"`
	GeometryTypes []string `json:"geometry_types"`
	// CRS is absent for OGC:CRS84 and the JSON null for no CRS.
	CRS      json.RawMessage     `json:"crs,omitempty"`
	BBox     []float64           `json:"bbox,omitempty"`
	Covering *geoParquetCovering `json:"covering,omitempty"`
}

type geoParquetCovering struct {
	BBox map[string][]string `json:"bbox"`
}

// parquetFile is the footer information of one file of a ParquetTable.
type parquetFile struct {
	path    string
	numRows int64
	// columns maps column names to field positions of the file's Arrow schema.
	columns map[string]int
	schema  *Schema
	// partitions holds the hive partition values of the file's directory.
	partitions map[string]string
}

// ParquetTable is a table over a set of Parquet files. Geometry columns and
// their CRS are restored from GeoParquet metadata. Scans decode up to
// target_partitions files concurrently and deliver batches in file order.
type ParquetTable struct {
	store      *objectstore.Router
	mem        memory.Allocator
	batchSize  int
	partitions int
	schema     *Schema
	files      []parquetFile
}

// ReadParquet returns a data frame over Parquet files. Paths may be files,
// directories, glob patterns or object store URLs.
func (c *Context) ReadParquet(ctx context.Context, paths ...string) (*DataFrame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	table, err := c.OpenParquet(ctx, paths...)
	if err != nil {
		return nil, err
	}
	plan, err := newScanNode("read_parquet", table, nil, -1)
	if err != nil {
		return nil, err
	}
	return c.newDataFrame(plan), nil
}

// OpenParquet reads the footers of Parquet files and returns a table that can
// be registered with RegisterTable. The schemas of all files are merged;
// a column with different types in two files is an ErrSchemaMismatch.
func (c *Context) OpenParquet(ctx context.Context, paths ...string) (*ParquetTable, error) {
	if len(paths) == 0 {
		return nil, getError(ErrBinding, errEmptyPaths)
	}
	files, err := expandParquetPaths(ctx, c.store, paths)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.TargetPartitions)
	for i := range files {
		g.Go(func() error {
			return readParquetFooter(gctx, c.store, c.crs, &files[i])
		})
	}
	if err = g.Wait(); err != nil {
		return nil, err
	}

	schema, err := mergeParquetSchemas(files)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("opened parquet table", "files", len(files), "schema", schema.String())
	return &ParquetTable{
		store:      c.store,
		mem:        c.cfg.Allocator,
		batchSize:  c.cfg.BatchSize,
		partitions: c.cfg.TargetPartitions,
		schema:     schema,
		files:      files,
	}, nil
}

// openParquet backs read_parquet(...) in SQL.
func (c *Context) openParquet(ctx context.Context, paths []string) (TableProvider, error) {
	table, err := c.OpenParquet(ctx, paths...)
	if err != nil {
		return nil, err
	}
	return table, nil
}

// expandParquetPaths resolves directories and globs into the sorted list of
// Parquet files below them. Directory listings skip hidden and metadata files.
func expandParquetPaths(ctx context.Context, store *objectstore.Router, paths []string) ([]parquetFile, error) {
	var files []parquetFile
	for _, p := range paths {
		if objectstore.HasGlob(p) {
			matches, err := objectstore.Glob(ctx, store, p)
			if err != nil {
				return nil, getError(ErrExecution, err)
			}
			if len(matches) == 0 {
				return nil, getError(ErrNotFound, notFoundError("parquet file", p))
			}
			for _, m := range matches {
				files = append(files, parquetFile{path: m})
			}
			continue
		}

		dir, err := store.IsDir(ctx, p)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, getError(ErrNotFound, notFoundError("parquet file", p))
		}
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		if !dir {
			files = append(files, parquetFile{path: p})
			continue
		}
		listed, err := store.List(ctx, p)
		if err != nil {
			return nil, getError(ErrExecution, err)
		}
		found := 0
		for _, f := range listed {
			rel := objectstore.Rel(p, f)
			if !isDataFile(rel) {
				continue
			}
			files = append(files, parquetFile{path: f, partitions: hivePartitions(rel)})
			found++
		}
		if found == 0 {
			return nil, getError(ErrNotFound, fmt.Errorf("no parquet files in %s", p))
		}
	}
	return files, nil
}

func isDataFile(rel string) bool {
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") || strings.HasPrefix(part, "_") {
			return false
		}
	}
	return strings.HasSuffix(strings.ToLower(rel), ".parquet")
}

// hivePartitions parses the k=v directories of a relative file path.
func hivePartitions(rel string) map[string]string {
	var out map[string]string
	for _, part := range strings.Split(path.Dir(rel), "/") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || k == "" {
			continue
		}
		if unescaped, err := url.PathUnescape(v); err == nil {
			v = unescaped
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[k] = v
	}
	return out
}

func readParquetFooter(ctx context.Context, store *objectstore.Router, crs *crsCache, pf *parquetFile) error {
	f, err := store.Open(ctx, pf.path)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("open %s: %w", pf.path, err))
	}
	defer f.Close()

	reader, err := file.NewParquetReader(f)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("read %s: %w", pf.path, err))
	}
	defer reader.Close()
	fr, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("read %s: %w", pf.path, err))
	}
	sc, err := fr.Schema()
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("read schema of %s: %w", pf.path, err))
	}

	geo, err := parseGeoParquetMetadata(reader.MetaData().KeyValueMetadata().FindValue(geoParquetKey))
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("%s: %w", pf.path, err))
	}
	schema, columns, err := parquetSchema(sc, geo, crs)
	if err != nil {
		return wrapError(ErrSchemaMismatch, fmt.Errorf("%s: %w", pf.path, err))
	}
	pf.numRows = reader.NumRows()
	pf.schema = schema
	pf.columns = columns
	return nil
}

func parseGeoParquetMetadata(raw *string) (*geoParquetMetadata, error) {
	if raw == nil {
		return nil, nil
	}
	var geo geoParquetMetadata
	if err := json.Unmarshal([]byte(*raw), &geo); err != nil {
		return nil, fmt.Errorf("invalid GeoParquet metadata: %w", err)
	}
	return &geo, nil
}

// parquetSchema converts a file's Arrow schema, turning GeoParquet geometry
// columns into GEOMETRY columns and hiding bbox covering columns.
func parquetSchema(sc *arrow.Schema, geo *geoParquetMetadata, crs *crsCache) (*Schema, map[string]int, error) {
	hidden := map[string]bool{}
	if geo != nil {
		for _, col := range geo.Columns {
			if col.Covering == nil {
				continue
			}
			for _, ref := range col.Covering.BBox {
				if len(ref) > 0 {
					hidden[ref[0]] = true
				}
			}
		}
	}

	var cols []ColumnInfo
	positions := make(map[string]int, sc.NumFields())
	for i, f := range sc.Fields() {
		if hidden[f.Name] {
			continue
		}
		var (
			info TypeInfo
			err  error
		)
		if gc, ok := geoColumn(geo, f.Name); ok {
			info, err = geoParquetTypeInfo(f, gc, crs)
		} else {
			info, err = typeInfoFromField(f)
		}
		if err != nil {
			return nil, nil, columnError(err, i)
		}
		positions[f.Name] = i
		cols = append(cols, ColumnInfo{Name: f.Name, T: info, Nullable: f.Nullable})
	}
	schema, err := NewSchema(cols...)
	if err != nil {
		return nil, nil, err
	}
	return schema, positions, nil
}

func geoColumn(geo *geoParquetMetadata, name string) (geoParquetColumn, bool) {
	if geo == nil {
		return geoParquetColumn{}, false
	}
	col, ok := geo.Columns[name]
	return col, ok
}

func geoParquetTypeInfo(f arrow.Field, col geoParquetColumn, cache *crsCache) (TypeInfo, error) {
	if col.Encoding != "" && !strings.EqualFold(col.Encoding, "WKB") {
		return nil, getError(ErrUnsupported, fmt.Errorf("geometry encoding %q of column %q", col.Encoding, f.Name))
	}
	switch f.Type.ID() {
	case arrow.BINARY, arrow.EXTENSION:
	default:
		return nil, getError(ErrSchemaMismatch, typeMismatchError("geometry column "+f.Name, "binary", f.Type.String()))
	}

	kind := GEOMETRY_ANY
	if len(col.GeometryTypes) == 1 {
		kind = ParseGeometryKind(col.GeometryTypes[0])
	}

	var crs *CRS
	switch {
	case len(col.CRS) == 0:
		crs, _ = cache.resolve(json.RawMessage(`"OGC:CRS84"`))
	case string(col.CRS) == "null":
	default:
		var err error
		if crs, err = cache.resolve(col.CRS); err != nil {
			crs = UnknownCRS
		}
	}
	return NewGeometryInfo(kind, crs), nil
}

// mergeParquetSchemas unions the columns of all files in first-seen order.
// Columns missing from some files are nullable. Hive partition keys that no
// file stores become VARCHAR columns.
func mergeParquetSchemas(files []parquetFile) (*Schema, error) {
	var cols []ColumnInfo
	index := map[string]int{}
	source := map[string]string{}
	for _, f := range files {
		for _, col := range f.schema.Columns() {
			i, ok := index[col.Name]
			if !ok {
				index[col.Name] = len(cols)
				source[col.Name] = f.path
				cols = append(cols, col)
				continue
			}
			merged, ok := mergeColumnType(cols[i].T, col.T)
			if !ok {
				return nil, getError(ErrSchemaMismatch, fmt.Errorf("column %q is %s in %s but %s in %s",
					col.Name, cols[i].T, source[col.Name], col.T, f.path))
			}
			cols[i].T = merged
			cols[i].Nullable = cols[i].Nullable || col.Nullable
		}
	}
	for i := range cols {
		for _, f := range files {
			if _, ok := f.columns[cols[i].Name]; !ok {
				cols[i].Nullable = true
				break
			}
		}
	}

	var keys []string
	for _, f := range files {
		for k := range f.partitions {
			if _, ok := index[k]; !ok {
				index[k] = -1
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		cols = append(cols, ColumnInfo{Name: k, T: stringInfo, Nullable: true})
	}
	return NewSchema(cols...)
}

// mergeColumnType widens geometry subtypes to GEOMETRY_ANY. Every other
// difference is a conflict.
func mergeColumnType(a TypeInfo, b TypeInfo) (TypeInfo, bool) {
	if a.Equal(b) {
		return a, true
	}
	ga, okA := a.(GeometryTypeInfo)
	gb, okB := b.(GeometryTypeInfo)
	if okA && okB && ga.CRS().Equal(gb.CRS()) {
		return NewGeometryInfo(GEOMETRY_ANY, ga.CRS()), true
	}
	return nil, false
}

func (t *ParquetTable) Schema() *Schema {
	return t.schema
}

// NumRows returns the total row count recorded in the file footers.
func (t *ParquetTable) NumRows() int64 {
	var n int64
	for _, f := range t.files {
		n += f.numRows
	}
	return n
}

// Files returns the paths of the files of the table.
func (t *ParquetTable) Files() []string {
	out := make([]string, len(t.files))
	for i, f := range t.files {
		out[i] = f.path
	}
	return out
}

// Scan decodes the files. Batches are delivered in file order; within a file
// in row order.
func (t *ParquetTable) Scan(ctx context.Context, opts ScanOptions) (RecordStream, error) {
	projection := opts.Projection
	if projection == nil {
		projection = make([]int, t.schema.Len())
		for i := range projection {
			projection[i] = i
		}
	}
	projected, err := t.schema.Project(projection)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &parquetStream{
		table:      t,
		schema:     projected.ToArrow(),
		columns:    projected,
		limit:      int64(opts.Limit),
		cancel:     cancel,
		results:    make([]chan arrow.Record, len(t.files)),
		errs:       make([]error, len(t.files)),
		done:       make(chan error, 1),
		remaining:  len(t.files),
		outputCols: projected.Columns(),
	}
	for i := range s.results {
		s.results[i] = make(chan arrow.Record, parquetChannelBacklog)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.partitions)
	go func() {
		for i := range t.files {
			g.Go(func() error {
				defer close(s.results[i])
				err := s.decodeFile(gctx, i)
				s.errs[i] = err
				return err
			})
		}
		s.done <- g.Wait()
	}()
	return s, nil
}

type parquetStream struct {
	table      *ParquetTable
	schema     *arrow.Schema
	columns    *Schema
	outputCols []ColumnInfo
	limit      int64
	emitted    int64
	cancel     context.CancelFunc

	// results holds one channel per file; the consumer reads them in order.
	results   []chan arrow.Record
	errs      []error
	done      chan error
	cur       int
	remaining int

	closeOnce sync.Once
	closeErr  error
}

func (s *parquetStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *parquetStream) Next(ctx context.Context) (arrow.Record, error) {
	for s.cur < len(s.results) {
		if s.limit >= 0 && s.emitted >= s.limit {
			return nil, io.EOF
		}
		select {
		case rec, ok := <-s.results[s.cur]:
			if !ok {
				if s.errs[s.cur] != nil {
					s.cancel()
					s.cur = len(s.results)
					return nil, s.wait()
				}
				s.cur++
				continue
			}
			s.emitted += rec.NumRows()
			return rec, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := s.wait(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// wait returns the first error of the decode workers. It must be called only
// after all workers have stopped or been cancelled.
func (s *parquetStream) wait() error {
	s.closeOnce.Do(func() {
		s.closeErr = <-s.done
	})
	if errors.Is(s.closeErr, context.Canceled) {
		return nil
	}
	return s.closeErr
}

func (s *parquetStream) Close() error {
	s.cancel()
	for ; s.cur < len(s.results); s.cur++ {
		for rec := range s.results[s.cur] {
			rec.Release()
		}
	}
	_ = s.wait()
	return nil
}

func (s *parquetStream) send(ctx context.Context, i int, rec arrow.Record) error {
	select {
	case s.results[i] <- rec:
		return nil
	case <-ctx.Done():
		rec.Release()
		return ctx.Err()
	}
}

func (s *parquetStream) decodeFile(ctx context.Context, i int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pf := s.table.files[i]
	batchSize := int64(s.table.batchSize)

	var leaves []int
	f, err := s.table.store.Open(ctx, pf.path)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("open %s: %w", pf.path, err))
	}
	defer f.Close()
	reader, err := file.NewParquetReader(f)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("read %s: %w", pf.path, err))
	}
	defer reader.Close()
	fr, err := pqarrow.NewFileReader(reader, pqarrow.ArrowReadProperties{BatchSize: batchSize}, s.table.mem)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("read %s: %w", pf.path, err))
	}

	decoded := 0
	for _, col := range s.outputCols {
		if pos, ok := pf.columns[col.Name]; ok {
			leaves = append(leaves, leafColumns(fr.Manifest.Fields[pos], nil)...)
			decoded++
		}
	}
	if decoded == 0 {
		return s.emitRowCounts(ctx, i, pf, batchSize)
	}

	rr, err := fr.GetRecordReader(ctx, leaves, nil)
	if err != nil {
		return getError(ErrExecution, fmt.Errorf("read %s: %w", pf.path, err))
	}
	defer rr.Release()

	var emitted int64
	for rr.Next() {
		rec, err := s.conform(pf, rr.Record())
		if err != nil {
			return err
		}
		emitted += rec.NumRows()
		if err = s.send(ctx, i, rec); err != nil {
			return err
		}
		if s.limit >= 0 && emitted >= s.limit {
			return nil
		}
	}
	if err := rr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return getError(ErrExecution, fmt.Errorf("decode %s: %w", pf.path, err))
	}
	return nil
}

// emitRowCounts produces column-less batches from footer row counts.
func (s *parquetStream) emitRowCounts(ctx context.Context, i int, pf parquetFile, batchSize int64) error {
	remaining := pf.numRows
	if s.limit >= 0 {
		remaining = min(remaining, s.limit)
	}
	for remaining > 0 {
		n := min(remaining, batchSize)
		cols := make([]arrow.Array, len(s.outputCols))
		for j, col := range s.outputCols {
			cols[j] = s.partitionColumn(pf, col, int(n))
		}
		rec := array.NewRecord(s.schema, cols, n)
		releaseArrays(cols)
		if err := s.send(ctx, i, rec); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}

// conform assembles an output record from a decoded record: geometry storage
// is tagged with the table's extension type, and columns the file lacks are
// filled with partition values or nulls.
func (s *parquetStream) conform(pf parquetFile, rec arrow.Record) (arrow.Record, error) {
	n := int(rec.NumRows())
	cols := make([]arrow.Array, len(s.outputCols))
	defer func() { releaseArrays(cols) }()
	for j, col := range s.outputCols {
		idx := rec.Schema().FieldIndices(col.Name)
		if len(idx) == 0 {
			cols[j] = s.partitionColumn(pf, col, n)
			continue
		}
		arr := rec.Column(idx[0])
		if ext, ok := col.T.ArrowType().(*GeometryExtensionType); ok {
			storage := arr
			if ea, ok := arr.(array.ExtensionArray); ok {
				storage = ea.Storage()
			}
			cols[j] = newGeometryArray(ext, storage)
			continue
		}
		arr.Retain()
		cols[j] = arr
	}
	out, err := newRecord(s.schema, cols, int64(n))
	if err != nil {
		return nil, wrapError(ErrSchemaMismatch, fmt.Errorf("%s: %w", pf.path, err))
	}
	return out, nil
}

func (s *parquetStream) partitionColumn(pf parquetFile, col ColumnInfo, n int) arrow.Array {
	if v, ok := pf.partitions[col.Name]; ok && v != hiveDefaultPartition && col.T.InternalType() == TYPE_VARCHAR {
		if arr, err := repeatValue(s.table.mem, col.T, v, n); err == nil {
			return arr
		}
	}
	return newNullArray(s.table.mem, col.T.ArrowType(), n)
}

// leafColumns returns the Parquet leaf column indices of a field.
func leafColumns(f pqarrow.SchemaField, out []int) []int {
	if len(f.Children) == 0 {
		return append(out, f.ColIndex)
	}
	for _, c := range f.Children {
		out = leafColumns(c, out)
	}
	return out
}
