package sedonadb

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// RecordStream is a pull-based sequence of record batches. Next returns io.EOF
// after the last batch. The caller owns every returned record and must release
// it. A stream is single-use.
type RecordStream interface {
	Schema() *arrow.Schema
	Next(ctx context.Context) (arrow.Record, error)
	Close() error
}

// ScanOptions are hints a TableProvider may honor. The engine applies the
// projection and the limit itself if the provider ignores them.
type ScanOptions struct {
	// Projection lists the columns to produce, nil for all.
	Projection []int
	// Limit is the maximum number of rows needed, -1 for all.
	Limit int
}

// TableProvider is anything that can describe its schema and produce batches.
// Register one with Context.RegisterTable to make it scannable from SQL.
// The context passed to Scan governs the lifetime of the returned stream.
type TableProvider interface {
	Schema() *Schema
	Scan(ctx context.Context, opts ScanOptions) (RecordStream, error)
}

// planSource is implemented by providers that wrap a logical plan. The planner
// inlines their plan instead of scanning them.
type planSource interface {
	logicalPlan() LogicalPlan
}

// MemTable is a restartable in-memory table.
type MemTable struct {
	schema  *Schema
	records []arrow.Record
}

// NewMemTable creates an in-memory table. Every record must conform to the
// schema. The table retains the records.
func NewMemTable(schema *Schema, records ...arrow.Record) (*MemTable, error) {
	if schema == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("Schema"))
	}
	for i, rec := range records {
		if err := ValidateBatch(schema, rec); err != nil {
			return nil, addIndexToError(err, i)
		}
	}
	for _, rec := range records {
		rec.Retain()
	}
	return &MemTable{schema: schema, records: records}, nil
}

func (t *MemTable) Schema() *Schema {
	return t.schema
}

// NumRows returns the total number of rows.
func (t *MemTable) NumRows() int64 {
	var n int64
	for _, rec := range t.records {
		n += rec.NumRows()
	}
	return n
}

func (t *MemTable) Scan(_ context.Context, opts ScanOptions) (RecordStream, error) {
	schema := t.schema
	if opts.Projection != nil {
		var err error
		if schema, err = schema.Project(opts.Projection); err != nil {
			return nil, err
		}
	}
	return &memStream{table: t, schema: schema.ToArrow(), projection: opts.Projection, limit: opts.Limit}, nil
}

// Release releases the retained records.
func (t *MemTable) Release() {
	for _, rec := range t.records {
		rec.Release()
	}
	t.records = nil
}

type memStream struct {
	table      *MemTable
	schema     *arrow.Schema
	projection []int
	limit      int
	pos        int
	emitted    int64
}

func (s *memStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *memStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.table.records) || (s.limit >= 0 && s.emitted >= int64(s.limit)) {
		return nil, io.EOF
	}
	rec := s.table.records[s.pos]
	s.pos++
	s.emitted += rec.NumRows()
	return projectRecord(rec, s.schema, s.projection), nil
}

func (s *memStream) Close() error {
	s.pos = len(s.table.records)
	return nil
}

// projectRecord returns a new reference to rec restricted to the given columns.
func projectRecord(rec arrow.Record, schema *arrow.Schema, projection []int) arrow.Record {
	if projection == nil {
		rec.Retain()
		return rec
	}
	cols := make([]arrow.Array, len(projection))
	for i, idx := range projection {
		cols[i] = rec.Column(idx)
	}
	return array.NewRecord(schema, cols, rec.NumRows())
}

// ReaderProvider exposes an array.RecordReader as a one-shot table. A second
// scan fails with ErrExecution.
type ReaderProvider struct {
	schema  *Schema
	reader  array.RecordReader
	scanned atomic.Bool
}

// NewReaderProvider wraps a record reader. The provider takes ownership of
// the reader.
func NewReaderProvider(reader array.RecordReader) (*ReaderProvider, error) {
	if reader == nil {
		return nil, getError(ErrBinding, errNilProvider)
	}
	schema, err := SchemaFromArrow(reader.Schema())
	if err != nil {
		return nil, err
	}
	return &ReaderProvider{schema: schema, reader: reader}, nil
}

func (p *ReaderProvider) Schema() *Schema {
	return p.schema
}

func (p *ReaderProvider) Scan(_ context.Context, opts ScanOptions) (RecordStream, error) {
	if !p.scanned.CompareAndSwap(false, true) {
		return nil, getError(ErrExecution, errStreamConsumed)
	}
	schema := p.schema
	if opts.Projection != nil {
		var err error
		if schema, err = schema.Project(opts.Projection); err != nil {
			return nil, err
		}
	}
	return &readerStream{reader: p.reader, schema: schema.ToArrow(), projection: opts.Projection}, nil
}

type readerStream struct {
	reader     array.RecordReader
	schema     *arrow.Schema
	projection []int
	once       sync.Once
}

func (s *readerStream) Schema() *arrow.Schema {
	return s.schema
}

func (s *readerStream) Next(ctx context.Context) (arrow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.reader.Next() {
		if err := s.reader.Err(); err != nil && err != io.EOF {
			return nil, getError(ErrExecution, err)
		}
		return nil, io.EOF
	}
	return projectRecord(s.reader.Record(), s.schema, s.projection), nil
}

func (s *readerStream) Close() error {
	s.once.Do(s.reader.Release)
	return nil
}

// dataFrameProvider exposes a DataFrame as a table. Scanning executes the
// frame's plan; the planner inlines the plan instead.
type dataFrameProvider struct {
	df *DataFrame
}

func (p *dataFrameProvider) Schema() *Schema {
	return p.df.Schema()
}

func (p *dataFrameProvider) Scan(ctx context.Context, _ ScanOptions) (RecordStream, error) {
	return p.df.Stream(ctx)
}

func (p *dataFrameProvider) logicalPlan() LogicalPlan {
	return p.df.plan
}

// viewProvider is a named view stored in the catalog.
type viewProvider struct {
	dataFrameProvider
	name string
}
