package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sedonadb/go-sedonadb"
)

func newCRSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crs METADATA",
		Short: "Parse GeoArrow CRS metadata",
		Long: `Parse the metadata of a geoarrow.wkb column, e.g. '{"crs": "EPSG:4326"}', ` +
			"and print the resolved CRS. A bare descriptor such as EPSG:3857 is also accepted.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := parseCRSArg(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if getOutputFormat(cmd) == "json" {
				return printJSON(out, info)
			}
			if info == nil {
				_, err = fmt.Fprintln(out, "no CRS")
				return err
			}
			_, err = fmt.Fprintf(out, "name: %s\nauthority_code: %s\nsrid: %d\nproj: %s\n",
				info.Name, info.AuthorityCode, info.SRID, info.ProjString)
			return err
		},
	}
}

func parseCRSArg(arg string) (*sedonadb.CRSInfo, error) {
	var obj map[string]json.RawMessage
	if json.Unmarshal([]byte(arg), &obj) == nil {
		if _, ok := obj["crs"]; ok {
			return sedonadb.ParseCRSMetadata(arg)
		}
	}
	crs, err := sedonadb.ResolveCRS(arg)
	if err != nil || crs == nil {
		return nil, err
	}
	meta, err := json.Marshal(map[string]json.RawMessage{"crs": json.RawMessage(crs.JSON())})
	if err != nil {
		return nil, err
	}
	return sedonadb.ParseCRSMetadata(string(meta))
}
