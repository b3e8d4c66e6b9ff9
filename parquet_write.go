package sedonadb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"

	"github.com/sedonadb/go-sedonadb/objectstore"
)

// GeoParquet metadata versions accepted by WriteOptions.GeoParquetVersion.
const (
	GeoParquetV1_0 = "1.0"
	GeoParquetV1_1 = "1.1"
	GeoParquetNone = "none"
)

// WriteOptions configures DataFrame.ToParquet.
type WriteOptions struct {
	// PartitionBy writes one hive-style directory level per column, e.g.
	// "a=1/b=x". The partition columns are also stored in the files.
	PartitionBy []string
	// SortBy sorts the rows ascending by these columns before writing.
	SortBy []string
	// SingleFileOutput writes exactly one file at the target path. Otherwise
	// the target is a directory of part-<uuid>.parquet files.
	SingleFileOutput bool
	// GeoParquetVersion selects the "geo" metadata: "1.0" (default), "1.1"
	// or "none".
	GeoParquetVersion string
	// WriteCoveringBBox adds a <column>_bbox struct column for every geometry
	// column and references it from the metadata. Requires version "1.1".
	WriteCoveringBBox bool
	// OverwriteBBoxColumns replaces existing <column>_bbox columns instead of
	// failing with ErrNameConflict.
	OverwriteBBoxColumns bool
}

func (o WriteOptions) geoVersion() (string, error) {
	switch o.GeoParquetVersion {
	case "", GeoParquetV1_0, "1.0.0":
		return "1.0.0", nil
	case GeoParquetV1_1, "1.1.0":
		return "1.1.0", nil
	case GeoParquetNone:
		return "", nil
	}
	return "", getError(ErrInvalidConfig, fmt.Errorf("unknown GeoParquet version %q", o.GeoParquetVersion))
}

var bboxStructType = arrow.StructOf(
	arrow.Field{Name: "xmin", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "ymin", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "xmax", Type: arrow.PrimitiveTypes.Float64},
	arrow.Field{Name: "ymax", Type: arrow.PrimitiveTypes.Float64},
)

// ToParquet executes the query and writes the result to Parquet files.
func (df *DataFrame) ToParquet(ctx context.Context, target string, opts WriteOptions) error {
	version, err := opts.geoVersion()
	if err != nil {
		return err
	}
	if opts.WriteCoveringBBox && version != "1.1.0" {
		return getError(ErrUnsupported, fmt.Errorf("covering bbox columns require GeoParquet %s", GeoParquetV1_1))
	}
	if opts.SingleFileOutput && len(opts.PartitionBy) > 0 {
		return getError(ErrBinding, fmt.Errorf("single file output cannot be partitioned"))
	}

	frame, err := df.prepareWrite(opts)
	if err != nil {
		return err
	}
	schema := frame.Schema()
	partCols := make([]int, len(opts.PartitionBy))
	for i, name := range opts.PartitionBy {
		idx, ok := schema.IndexOf(name)
		if !ok {
			return getError(ErrBinding, unknownColumnError(name, schema.Names()))
		}
		if schema.Column(idx).T.InternalType() == TYPE_GEOMETRY {
			return getError(ErrUnsupported, fmt.Errorf("partitioning by geometry column %q", name))
		}
		partCols[i] = idx
	}

	w := &parquetDatasetWriter{
		ctx:      ctx,
		store:    df.ctx.store,
		tempDir:  df.ctx.cfg.TempDir,
		mem:      df.ctx.cfg.Allocator,
		logger:   df.ctx.logger,
		target:   target,
		single:   opts.SingleFileOutput || (len(partCols) == 0 && strings.HasSuffix(strings.ToLower(target), ".parquet")),
		schema:   schema,
		partCols: partCols,
		version:  version,
		bbox:     opts.WriteCoveringBBox,
		parts:    map[string]*parquetPartWriter{},
	}
	w.fileSchema = w.buildFileSchema()

	stream, err := frame.Stream(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		rec, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			w.abort()
			return err
		}
		err = w.write(rec)
		rec.Release()
		if err != nil {
			w.abort()
			return err
		}
	}
	return w.close()
}

// prepareWrite drops bbox columns that will be regenerated and applies SortBy.
func (df *DataFrame) prepareWrite(opts WriteOptions) (*DataFrame, error) {
	frame := df
	if opts.WriteCoveringBBox {
		schema := df.Schema()
		drop := map[int]bool{}
		for _, col := range schema.Columns() {
			if col.T.InternalType() != TYPE_GEOMETRY {
				continue
			}
			if idx, ok := schema.IndexOf(col.Name + "_bbox"); ok {
				if !opts.OverwriteBBoxColumns {
					return nil, getError(ErrNameConflict, nameConflictError("column", col.Name+"_bbox"))
				}
				drop[idx] = true
			}
		}
		if len(drop) > 0 {
			var keep []int
			for i := 0; i < schema.Len(); i++ {
				if !drop[i] {
					keep = append(keep, i)
				}
			}
			var err error
			if frame, err = frame.SelectIndices(keep...); err != nil {
				return nil, err
			}
		}
	}
	if len(opts.SortBy) > 0 {
		keys := make([]SortKey, len(opts.SortBy))
		for i, name := range opts.SortBy {
			keys[i] = Asc(Col(name))
		}
		var err error
		if frame, err = frame.Sort(keys...); err != nil {
			return nil, err
		}
	}
	return frame, nil
}

// parquetDatasetWriter routes batches to one writer per partition.
type parquetDatasetWriter struct {
	ctx        context.Context
	store      *objectstore.Router
	tempDir    string
	mem        memory.Allocator
	logger     *slog.Logger
	target     string
	single     bool
	schema     *Schema
	fileSchema *arrow.Schema
	partCols   []int
	version    string
	bbox       bool

	parts map[string]*parquetPartWriter
	order []string
}

// buildFileSchema stores geometry as binary WKB and appends the bbox columns.
func (w *parquetDatasetWriter) buildFileSchema() *arrow.Schema {
	var fields []arrow.Field
	var bboxes []arrow.Field
	for _, col := range w.schema.Columns() {
		dt := col.T.ArrowType()
		if col.T.InternalType() == TYPE_GEOMETRY {
			dt = arrow.BinaryTypes.Binary
			if w.bbox {
				bboxes = append(bboxes, arrow.Field{Name: col.Name + "_bbox", Type: bboxStructType, Nullable: true})
			}
		}
		fields = append(fields, arrow.Field{Name: col.Name, Type: dt, Nullable: col.Nullable})
	}
	return arrow.NewSchema(append(fields, bboxes...), nil)
}

func (w *parquetDatasetWriter) write(rec arrow.Record) error {
	if len(w.partCols) == 0 {
		part, err := w.part("")
		if err != nil {
			return err
		}
		return part.write(rec)
	}

	// Group rows by partition directory in first-seen order.
	var keys []string
	rows := map[string][]int{}
	values := make([]any, len(w.partCols))
	for r := 0; r < int(rec.NumRows()); r++ {
		for i, c := range w.partCols {
			v, err := getValue(rec.Column(c), r)
			if err != nil {
				return getError(ErrExecution, err)
			}
			values[i] = v
		}
		dir := w.partitionDir(values)
		if _, ok := rows[dir]; !ok {
			keys = append(keys, dir)
		}
		rows[dir] = append(rows[dir], r)
	}
	for _, dir := range keys {
		part, err := w.part(dir)
		if err != nil {
			return err
		}
		sub, err := takeRows(w.ctx, w.mem, rec.Schema(), rec, rows[dir])
		if err != nil {
			return err
		}
		err = part.write(sub)
		sub.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *parquetDatasetWriter) partitionDir(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		name := w.schema.Column(w.partCols[i]).Name
		s := hiveDefaultPartition
		if v != nil {
			s = url.PathEscape(formatPartitionValue(v))
		}
		parts[i] = name + "=" + s
	}
	return strings.Join(parts, "/")
}

func formatPartitionValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	}
	return fmt.Sprint(v)
}

// part returns the writer of a partition directory, creating its file on first use.
func (w *parquetDatasetWriter) part(dir string) (*parquetPartWriter, error) {
	if p, ok := w.parts[dir]; ok {
		return p, nil
	}
	target := w.target
	if !w.single {
		name := "part-" + uuid.NewString() + ".parquet"
		if dir == "" {
			target = objectstore.Join(w.target, name)
		} else {
			target = objectstore.Join(w.target, append(strings.Split(dir, "/"), name)...)
		}
	}
	sink, err := w.createSink(target)
	if err != nil {
		return nil, err
	}
	p, err := newParquetPartWriter(target, sink, w.schema, w.fileSchema, w.mem, w.version, w.bbox)
	if err != nil {
		_ = sink.Close()
		return nil, err
	}
	w.parts[dir] = p
	w.order = append(w.order, dir)
	return p, nil
}

// createSink opens the output file. Remote files are staged in TempDir and
// uploaded on Close.
func (w *parquetDatasetWriter) createSink(target string) (io.WriteCloser, error) {
	if !objectstore.IsRemote(target) {
		sink, err := w.store.Create(w.ctx, target)
		if err != nil {
			return nil, getError(ErrExecution, fmt.Errorf("create %s: %w", target, err))
		}
		return sink, nil
	}
	tmp, err := os.CreateTemp(w.tempDir, "sedonadb-*.parquet")
	if err != nil {
		return nil, getError(ErrExecution, err)
	}
	return &stagedFile{File: tmp, ctx: w.ctx, store: w.store, target: target}, nil
}

// close finishes every file. Files are closed in creation order.
func (w *parquetDatasetWriter) close() error {
	if len(w.parts) == 0 {
		// An empty result still produces one file with the schema.
		if _, err := w.part(""); err != nil {
			return err
		}
	}
	var firstErr error
	for _, dir := range w.order {
		if err := w.parts[dir].close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr == nil {
		w.logger.Debug("wrote parquet", "target", w.target, "files", len(w.order))
	}
	return firstErr
}

func (w *parquetDatasetWriter) abort() {
	for _, p := range w.parts {
		_ = p.close()
	}
	w.parts = map[string]*parquetPartWriter{}
	w.order = nil
}

// stagedFile uploads a local temporary file to an object store on Close.
type stagedFile struct {
	*os.File
	ctx    context.Context
	store  *objectstore.Router
	target string
}

func (f *stagedFile) Close() error {
	defer os.Remove(f.Name())
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.File.Close()
		return getError(ErrExecution, err)
	}
	out, err := f.store.Create(f.ctx, f.target)
	if err != nil {
		f.File.Close()
		return getError(ErrExecution, fmt.Errorf("create %s: %w", f.target, err))
	}
	if _, err = io.Copy(out, f.File); err != nil {
		out.Close()
		f.File.Close()
		return getError(ErrExecution, fmt.Errorf("upload %s: %w", f.target, err))
	}
	f.File.Close()
	if err = out.Close(); err != nil {
		return getError(ErrExecution, fmt.Errorf("upload %s: %w", f.target, err))
	}
	return nil
}

// writerOnly hides Close so that the Parquet writer does not close the sink.
type writerOnly struct {
	io.Writer
}

// geometryStats accumulates the GeoParquet column metadata of one file.
type geometryStats struct {
	column int
	name   string
	kind   GeometryKind
	crs    *CRS
	bound  orb.Bound
	seen   bool
}

func (g *geometryStats) observe(geom orb.Geometry) {
	b := geom.Bound()
	if !g.seen {
		g.bound = b
		g.seen = true
		return
	}
	g.bound = g.bound.Union(b)
}

func (g *geometryStats) metadata(bboxColumn bool) geoParquetColumn {
	// An empty list allows any geometry type.
	col := geoParquetColumn{Encoding: "WKB", GeometryTypes: []string{}}
	if g.kind != GEOMETRY_ANY {
		col.GeometryTypes = append(col.GeometryTypes, geoJSONKindNames[g.kind])
	}
	if g.seen {
		col.BBox = []float64{g.bound.Min.X(), g.bound.Min.Y(), g.bound.Max.X(), g.bound.Max.Y()}
	}
	col.CRS = geoParquetCRS(g.crs)
	if bboxColumn {
		name := g.name + "_bbox"
		col.Covering = &geoParquetCovering{BBox: map[string][]string{
			"xmin": {name, "xmin"},
			"ymin": {name, "ymin"},
			"xmax": {name, "xmax"},
			"ymax": {name, "ymax"},
		}}
	}
	return col
}

// geoParquetCRS encodes a CRS for the "crs" key. OGC:CRS84 is the default and
// is omitted; columns without a CRS are written as null.
func geoParquetCRS(crs *CRS) json.RawMessage {
	switch {
	case crs == nil, crs.IsUnknown():
		return json.RawMessage("null")
	}
	if code, ok := crs.AuthorityCode(); ok && strings.EqualFold(code, "OGC:CRS84") {
		return nil
	}
	return json.RawMessage(crs.JSON())
}

// parquetPartWriter writes one Parquet file.
type parquetPartWriter struct {
	path       string
	sink       io.WriteCloser
	fw         *pqarrow.FileWriter
	mem        memory.Allocator
	fileSchema *arrow.Schema
	version    string
	bbox       bool
	geo        []*geometryStats
	closed     bool
}

func newParquetPartWriter(path string, sink io.WriteCloser, schema *Schema, fileSchema *arrow.Schema, mem memory.Allocator, version string, bbox bool) (*parquetPartWriter, error) {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(mem),
	)
	fw, err := pqarrow.NewFileWriter(fileSchema, writerOnly{sink}, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, getError(ErrExecution, fmt.Errorf("write %s: %w", path, err))
	}
	p := &parquetPartWriter{path: path, sink: sink, fw: fw, mem: mem, fileSchema: fileSchema, version: version, bbox: bbox}
	for i, col := range schema.Columns() {
		g, ok := col.T.(GeometryTypeInfo)
		if !ok {
			continue
		}
		p.geo = append(p.geo, &geometryStats{column: i, name: col.Name, kind: g.Kind(), crs: g.CRS()})
	}
	return p, nil
}

func (p *parquetPartWriter) write(rec arrow.Record) error {
	n := int(rec.NumRows())
	cols := make([]arrow.Array, 0, p.fileSchema.NumFields())
	defer func() { releaseArrays(cols) }()
	for i := 0; i < int(rec.NumCols()); i++ {
		arr := rec.Column(i)
		if ea, ok := arr.(array.ExtensionArray); ok {
			arr = ea.Storage()
		}
		arr.Retain()
		cols = append(cols, arr)
	}

	for _, g := range p.geo {
		storage := cols[g.column].(*array.Binary)
		var bb *array.StructBuilder
		if p.bbox {
			bb = array.NewStructBuilder(p.mem, bboxStructType)
		}
		for r := 0; r < n; r++ {
			if storage.IsNull(r) {
				if bb != nil {
					bb.AppendNull()
				}
				continue
			}
			geom, err := wkb.Unmarshal(storage.Value(r))
			if err != nil {
				if bb != nil {
					bb.Release()
				}
				return getError(ErrExecution, fmt.Errorf("column %q row %d: invalid WKB: %w", g.name, r, err))
			}
			g.observe(geom)
			if bb != nil {
				b := geom.Bound()
				bb.Append(true)
				bb.FieldBuilder(0).(*array.Float64Builder).Append(b.Min.X())
				bb.FieldBuilder(1).(*array.Float64Builder).Append(b.Min.Y())
				bb.FieldBuilder(2).(*array.Float64Builder).Append(b.Max.X())
				bb.FieldBuilder(3).(*array.Float64Builder).Append(b.Max.Y())
			}
		}
		if bb != nil {
			cols = append(cols, bb.NewArray())
			bb.Release()
		}
	}

	out, err := newRecord(p.fileSchema, cols, int64(n))
	if err != nil {
		return err
	}
	defer out.Release()
	if err = p.fw.Write(out); err != nil {
		return getError(ErrExecution, fmt.Errorf("write %s: %w", p.path, err))
	}
	return nil
}

func (p *parquetPartWriter) close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.version != "" && len(p.geo) > 0 {
		meta := geoParquetMetadata{
			Version:       p.version,
			PrimaryColumn: p.geo[0].name,
			Columns:       make(map[string]geoParquetColumn, len(p.geo)),
		}
		for _, g := range p.geo {
			meta.Columns[g.name] = g.metadata(p.bbox)
		}
		data, err := json.Marshal(meta)
		if err != nil {
			return getError(ErrExecution, err)
		}
		if err = p.fw.AppendKeyValueMetadata(geoParquetKey, string(data)); err != nil {
			return getError(ErrExecution, err)
		}
	}
	if err := p.fw.Close(); err != nil {
		_ = p.sink.Close()
		return getError(ErrExecution, fmt.Errorf("write %s: %w", p.path, err))
	}
	if err := p.sink.Close(); err != nil {
		return getError(ErrExecution, fmt.Errorf("close %s: %w", p.path, err))
	}
	return nil
}
