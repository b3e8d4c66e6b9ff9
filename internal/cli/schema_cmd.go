package cli

import (
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/spf13/cobra"

	"github.com/sedonadb/go-sedonadb"
)

type schemaColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	CRS      string `json:"crs,omitempty"`
}

func newSchemaCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "schema PATH...",
		Short: "Print the merged schema of Parquet files",
		Long: "Print the schema of one or more Parquet files, directories or globs. " +
			"Schemas of multiple files are merged and geometry columns show their CRS.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sctx, err := openContext(cmd, configFile)
			if err != nil {
				return err
			}
			defer sctx.Close()

			pt, err := sctx.OpenParquet(cmd.Context(), args...)
			if err != nil {
				return err
			}
			cols := describeSchema(pt.Schema())
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"files":   pt.Files(),
					"rows":    pt.NumRows(),
					"columns": cols,
				})
			}

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.Style().Format.Header = text.FormatDefault
			t.AppendHeader(table.Row{"column", "type", "nullable", "crs"})
			for _, c := range cols {
				t.AppendRow(table.Row{c.Name, c.Type, c.Nullable, c.CRS})
			}
			t.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	return cmd
}

func describeSchema(s *sedonadb.Schema) []schemaColumn {
	cols := make([]schemaColumn, 0, s.Len())
	for _, c := range s.Columns() {
		col := schemaColumn{Name: c.Name, Type: c.T.String(), Nullable: c.Nullable}
		if geo, ok := c.T.(sedonadb.GeometryTypeInfo); ok && geo.CRS() != nil {
			col.CRS = geo.CRS().String()
		}
		cols = append(cols, col)
	}
	return cols
}
