package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/domain"
)

func newValidateCmd(a *app) *cobra.Command {
	var req domain.ValidateProductRequest
	cmd := &cobra.Command{
		Use:   "validate <collection>",
		Short: "Check whether a product already exists before inserting it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Collection = args[0]
			res, err := a.client().Validate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.render(res, func(w *tabwriter.Writer) {
				fmt.Fprintf(w, "Recommendation:\t%s\n", res.Recommendation)
				fmt.Fprintf(w, "Confidence:\t%.3f\n", res.Confidence)
				fmt.Fprintf(w, "Reason:\t%s\n", res.Reason)
				if len(res.MatchedProducts) == 0 {
					return
				}
				fmt.Fprintln(w)
				fmt.Fprintln(w, "MATCH\tSIMILARITY\tDESCRIPCION")
				for _, m := range res.MatchedProducts {
					fmt.Fprintf(w, "%s\t%.3f\t%v\n", m.ID, m.Similarity, m.Payload["descripcion"])
				}
			})
		},
	}
	cmd.Flags().StringVar(&req.Descripcion, "descripcion", "", "product description (required)")
	cmd.Flags().StringVar(&req.Marca, "marca", "", "brand")
	cmd.Flags().StringVar(&req.Modelo, "modelo", "", "model")
	cmd.Flags().Float64Var(&req.SimilarityThreshold, "threshold", 0, "minimum similarity (default from server config)")
	_ = cmd.MarkFlagRequired("descripcion")
	return cmd
}
