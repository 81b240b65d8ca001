package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/raysh454/perfsandbox/internal/runners"
	"github.com/raysh454/perfsandbox/internal/tools"
)

type toolRow struct {
	tools.Info
	Runnable bool `json:"runnable"`
}

func newToolsCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tool catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(v)
			if err != nil {
				return err
			}
			catalog := tools.DefaultCatalog()
			if cfg.CatalogPath != "" {
				if catalog, err = tools.LoadCatalogFile(cfg.CatalogPath); err != nil {
					return err
				}
			}
			registry, err := tools.NewRegistry(catalog, runners.Default(cfg.RunnersCfg, catalog))
			if err != nil {
				return err
			}

			rows := make([]toolRow, 0, len(catalog.All()))
			for _, info := range catalog.All() {
				_, ok := registry.Resolve(info.Code)
				rows = append(rows, toolRow{Info: info, Runnable: ok})
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tNAME\tRUNNABLE\tURL")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", r.Code, r.Name, r.Runnable, r.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the catalog as JSON")
	return cmd
}
