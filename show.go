package sedonadb

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
)

const nullDisplay = "NULL"

// Show executes the query and writes up to limit rows to w as a text table.
// A negative limit shows every row. Geometry values are rendered as WKT.
func (df *DataFrame) Show(ctx context.Context, w io.Writer, limit int) error {
	target := df
	if limit >= 0 {
		var err error
		if target, err = df.Limit(limit); err != nil {
			return err
		}
	}
	records, err := target.Collect(ctx)
	if err != nil {
		return err
	}
	defer releaseRecords(records)

	t := table.NewWriter()
	t.SetOutputMirror(w)

	// Column names keep their case.
	t.Style().Format.Header = text.FormatDefault

	header := table.Row{}
	for _, name := range df.Schema().Names() {
		header = append(header, name)
	}
	t.AppendHeader(header)
	for _, rec := range records {
		for i := 0; i < int(rec.NumRows()); i++ {
			t.AppendRow(displayRow(rec, i))
		}
	}
	t.Render()
	return nil
}

// displayRow renders row i of rec. go-pretty does not expect nil values, so
// nulls are replaced by a marker.
func displayRow(rec arrow.Record, i int) table.Row {
	row := make(table.Row, rec.NumCols())
	for j, col := range rec.Columns() {
		if col.IsNull(i) {
			row[j] = nullDisplay
			continue
		}
		row[j] = col.ValueStr(i)
	}
	return row
}
