package sedonadb

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"reflect"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
)

// result is returned by Exec. Statements do not modify rows.
type result struct{}

func (result) LastInsertId() (int64, error) {
	return 0, getError(ErrUnsupported, errors.New("LastInsertId"))
}

func (result) RowsAffected() (int64, error) {
	return 0, nil
}

// rows adapts a RecordStream to driver.Rows. Only one batch is held at a time.
type rows struct {
	ctx     context.Context
	stream  RecordStream
	schema  *Schema
	columns []string
	rec     arrow.Record
	rowIdx  int
}

func newRows(ctx context.Context, df *DataFrame) (*rows, error) {
	stream, err := df.Stream(ctx)
	if err != nil {
		return nil, err
	}
	schema := df.Schema()
	return &rows{ctx: ctx, stream: stream, schema: schema, columns: schema.Names()}, nil
}

func (r *rows) Columns() []string {
	return r.columns
}

func (r *rows) Next(dst []driver.Value) error {
	for r.rec == nil || r.rowIdx >= int(r.rec.NumRows()) {
		if r.rec != nil {
			r.rec.Release()
			r.rec = nil
		}
		rec, err := r.stream.Next(r.ctx)
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if err != nil {
			return err
		}
		r.rec = rec
		r.rowIdx = 0
	}

	for colIdx, col := range r.rec.Columns() {
		v, err := getValue(col, r.rowIdx)
		if err != nil {
			return columnError(err, colIdx)
		}
		dst[colIdx] = driverValue(v)
	}
	r.rowIdx++
	return nil
}

// driverValue widens values to the types database/sql accepts.
func driverValue(v any) driver.Value {
	switch val := v.(type) {
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	}
	return v
}

// ColumnTypeScanType implements driver.RowsColumnTypeScanType.
func (r *rows) ColumnTypeScanType(index int) reflect.Type {
	switch r.schema.Column(index).T.InternalType() {
	case TYPE_BOOLEAN:
		return reflect.TypeOf(true)
	case TYPE_INTEGER, TYPE_BIGINT:
		return reflect.TypeOf(int64(0))
	case TYPE_FLOAT, TYPE_DOUBLE:
		return reflect.TypeOf(float64(0))
	case TYPE_VARCHAR:
		return reflect.TypeOf("")
	case TYPE_BLOB, TYPE_GEOMETRY:
		return reflect.TypeOf([]byte{})
	case TYPE_TIMESTAMP:
		return reflect.TypeOf(time.Time{})
	}
	return reflect.TypeOf((*any)(nil)).Elem()
}

// ColumnTypeDatabaseTypeName implements driver.RowsColumnTypeDatabaseTypeName.
func (r *rows) ColumnTypeDatabaseTypeName(index int) string {
	return r.schema.Column(index).T.InternalType().String()
}

// ColumnTypeNullable implements driver.RowsColumnTypeNullable.
func (r *rows) ColumnTypeNullable(index int) (nullable, ok bool) {
	return r.schema.Column(index).Nullable, true
}

func (r *rows) Close() error {
	if r.rec != nil {
		r.rec.Release()
		r.rec = nil
	}
	return r.stream.Close()
}
