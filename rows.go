package sedonadb

import (
	"context"
	"fmt"
	"reflect"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/go-viper/mapstructure/v2"
)

// CollectRows executes the query and returns every row as a map from column
// name to Go value. Nulls are nil and geometries are WKB bytes.
func (df *DataFrame) CollectRows(ctx context.Context) ([]map[string]any, error) {
	records, err := df.Collect(ctx)
	if err != nil {
		return nil, err
	}
	defer releaseRecords(records)

	names := df.Schema().Names()
	var rows []map[string]any
	for _, rec := range records {
		for i := 0; i < int(rec.NumRows()); i++ {
			row, err := scanRow(rec, names, i)
			if err != nil {
				return nil, err
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func scanRow(rec arrow.Record, names []string, i int) (map[string]any, error) {
	row := make(map[string]any, len(names))
	for j, col := range rec.Columns() {
		v, err := getValue(col, i)
		if err != nil {
			return nil, columnError(err, j)
		}
		row[names[j]] = v
	}
	return row, nil
}

// ScanStructs executes the query and decodes its rows into dst, which must be
// a pointer to a slice of structs. Fields are matched to columns by their
// `sedona` tag, or by name ignoring case.
func (df *DataFrame) ScanStructs(ctx context.Context, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Slice {
		return getError(ErrBinding, fmt.Errorf("ScanStructs: expected a pointer to a slice, got %T", dst))
	}
	rows, err := df.CollectRows(ctx)
	if err != nil {
		return err
	}
	return decode(rows, dst)
}

func decode(data any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "sedona",
		Result:  out,
	})
	if err != nil {
		return getError(ErrBinding, err)
	}
	if err = dec.Decode(data); err != nil {
		return getError(ErrSchemaMismatch, err)
	}
	return nil
}
