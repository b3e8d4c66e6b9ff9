//go:build cgo && !no_sedonadb_arrow

package sedonadb

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/cdata"
)

// ExportArrowSchema writes the output schema of df to out. Geometry columns
// carry the geoarrow.wkb extension metadata. The consumer owns out and must
// call its release callback.
func (df *DataFrame) ExportArrowSchema(out *cdata.CArrowSchema) {
	cdata.ExportArrowSchema(df.ArrowSchema(), out)
}

// ExportRecordBatch writes rec and its schema to the C data interface.
func ExportRecordBatch(rec arrow.Record, out *cdata.CArrowArray, outSchema *cdata.CArrowSchema) {
	cdata.ExportArrowRecordBatch(rec, out, outSchema)
}

// ExportArrowStream executes the query and exposes the result as an
// ArrowArrayStream. The query runs as the consumer pulls batches and stops
// when the consumer releases the stream.
func (df *DataFrame) ExportArrowStream(ctx context.Context, out *cdata.CArrowArrayStream) error {
	reader, err := df.RecordReader(ctx)
	if err != nil {
		return err
	}
	defer reader.Release()
	cdata.ExportRecordReader(reader, out)
	return nil
}

// ImportArrowStream returns a data frame over an ArrowArrayStream produced by
// another library. The frame takes ownership of the stream. A lazy frame
// reads the stream when it is executed and can be executed only once.
func (c *Context) ImportArrowStream(ctx context.Context, stream *cdata.CArrowArrayStream, lazy bool) (*DataFrame, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	if stream == nil {
		return nil, getError(ErrBinding, interfaceIsNilError("CArrowArrayStream"))
	}
	imported, err := cdata.ImportCRecordReader(stream, nil)
	if err != nil {
		return nil, getError(ErrSchemaMismatch, err)
	}
	reader, ok := imported.(array.RecordReader)
	if !ok {
		return nil, getError(ErrUnsupported, fmt.Errorf("imported stream of type %T is not a record reader", imported))
	}
	return c.FromArrowStream(ctx, reader, lazy)
}

// ImportRecordBatch imports a single batch from the C data interface. The
// caller must release the record.
func ImportRecordBatch(arr *cdata.CArrowArray, schema *cdata.CArrowSchema) (arrow.Record, error) {
	rec, err := cdata.ImportCRecordBatch(arr, schema)
	if err != nil {
		return nil, getError(ErrSchemaMismatch, err)
	}
	return rec, nil
}
