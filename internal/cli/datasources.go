package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDatasourcesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasources",
		Aliases: []string{"datasource", "ds"},
		Short:   "Inspect configured datasources",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List datasources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().ListDatasources(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "ID\tKIND\tCOLLECTION\tSTATUS\tWATERMARK")
				for _, d := range res.Datasources {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Kind, d.TargetCollection, d.Status, orDash(d.Watermark))
				}
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one datasource",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := a.client().GetDatasource(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.render(d, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "ID:\t%s\n", d.ID)
				fmt.Fprintf(w, "Kind:\t%s\n", d.Kind)
				fmt.Fprintf(w, "Source:\t%s\n", orDash(d.Table+d.Path))
				fmt.Fprintf(w, "Key / marker:\t%s / %s (%s)\n", d.KeyColumn, d.MarkerColumn, d.WatermarkKind)
				fmt.Fprintf(w, "Text columns:\t%s\n", strings.Join(d.TextColumns, ", "))
				fmt.Fprintf(w, "Collection:\t%s\n", d.TargetCollection)
				fmt.Fprintf(w, "Status:\t%s\n", d.Status)
				fmt.Fprintf(w, "Watermark:\t%s\n", orDash(d.Watermark))
				if d.LastError != "" {
					fmt.Fprintf(w, "Last error:\t%s\n", d.LastError)
				}
			})
		},
	}

	cmd.AddCommand(list, get)
	return cmd
}
