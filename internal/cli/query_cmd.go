package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sedonadb/go-sedonadb"
)

func newQueryCmd() *cobra.Command {
	var (
		tables     []string
		configFile string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "query [flags] SQL",
		Short: "Run a SQL query and print its result",
		Example: `  sedonadb query --table cities=data/cities.parquet \
    "SELECT name, ST_AsText(geom) FROM cities WHERE population > 1000000"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sctx, err := openContext(cmd, configFile)
			if err != nil {
				return err
			}
			defer sctx.Close()

			for _, spec := range tables {
				if err = registerParquet(ctx, sctx, spec); err != nil {
					return err
				}
			}

			df, err := sctx.SQL(ctx, args[0])
			if err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				if limit >= 0 {
					if df, err = df.Limit(limit); err != nil {
						return err
					}
				}
				rows, err := collectJSONRows(ctx, df)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rows)
			}
			return df.Show(ctx, cmd.OutOrStdout(), limit)
		},
	}

	cmd.Flags().StringArrayVarP(&tables, "table", "t", nil, "Register a Parquet table as name=path (repeatable)")
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "YAML configuration file")
	cmd.Flags().IntVarP(&limit, "limit", "n", -1, "Maximum number of rows to print (-1 for all)")
	return cmd
}

func openContext(cmd *cobra.Command, configFile string) (*sedonadb.Context, error) {
	cfg := sedonadb.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = sedonadb.LoadConfigFile(configFile); err != nil {
			return nil, err
		}
	}
	cfg.Logger = newLogger(cmd)
	return sedonadb.NewContext(cfg)
}

func registerParquet(ctx context.Context, sctx *sedonadb.Context, spec string) error {
	name, path, ok := strings.Cut(spec, "=")
	if !ok || name == "" || path == "" {
		return fmt.Errorf("invalid table %q: expected name=path", spec)
	}
	table, err := sctx.OpenParquet(ctx, path)
	if err != nil {
		return err
	}
	return sctx.RegisterTable(name, table)
}

// collectJSONRows renders each row as an object. Geometries become WKT and
// timestamps use their Arrow string form.
func collectJSONRows(ctx context.Context, df *sedonadb.DataFrame) ([]map[string]any, error) {
	records, err := df.Collect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, rec := range records {
			rec.Release()
		}
	}()

	names := df.Schema().Names()
	rows := []map[string]any{}
	for _, rec := range records {
		for i := 0; i < int(rec.NumRows()); i++ {
			row := make(map[string]any, len(names))
			for j, col := range rec.Columns() {
				row[names[j]] = col.GetOneForMarshal(i)
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}
