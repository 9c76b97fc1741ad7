package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/domain"
)

func newCollectionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"collection"},
		Short:   "Manage vector collections",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().ListCollections(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "NAME\tSIZE\tDISTANCE\tPOINTS\tLAST SYNC")
				for _, c := range res.Collections {
					lastSync := "-"
					if c.LastSyncedAt != nil {
						lastSync = c.LastSyncedAt.Local().Format(time.DateTime)
					}
					fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", c.Name, c.VectorSize, c.Distance, c.TotalPoints, lastSync)
				}
			})
		},
	}

	get := &cobra.Command{
		Use:   "get <name>",
		Short: "Show one collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client().GetCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.renderCollection(c)
		},
	}

	var (
		spec     domain.CollectionSpec
		distance string
	)
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a collection (no-op when an identical one exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec.Name = args[0]
			if distance != "" {
				d, ok := domain.ParseDistance(distance)
				if !ok {
					return fmt.Errorf("unknown distance %q", distance)
				}
				spec.Distance = d
			}
			c, err := a.client().CreateCollection(cmd.Context(), spec)
			if err != nil {
				return err
			}
			return a.renderCollection(c)
		},
	}
	create.Flags().IntVar(&spec.VectorSize, "size", 0, "vector size (required)")
	create.Flags().StringVar(&distance, "distance", "", "cosine, euclidean or dot (default from server config)")
	create.Flags().Uint64Var(&spec.HNSW.M, "hnsw-m", 0, "HNSW m")
	create.Flags().Uint64Var(&spec.HNSW.EfConstruct, "hnsw-ef", 0, "HNSW ef_construct")
	_ = create.MarkFlagRequired("size")

	refresh := &cobra.Command{
		Use:   "refresh <name>",
		Short: "Recount points from the vector store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client().RefreshCollection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.renderCollection(c)
		},
	}

	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Drop a collection from the vector store and the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().DeleteCollection(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "collection %s deleted\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(list, get, create, refresh, del)
	return cmd
}

func (a *app) renderCollection(c *domain.Collection) error {
	return a.render(c, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Name:\t%s\n", c.Name)
		fmt.Fprintf(w, "Vector size:\t%d\n", c.VectorSize)
		fmt.Fprintf(w, "Distance:\t%s\n", c.Distance)
		fmt.Fprintf(w, "HNSW:\tm=%d ef_construct=%d\n", c.HNSW.M, c.HNSW.EfConstruct)
		fmt.Fprintf(w, "Points:\t%d\n", c.TotalPoints)
	})
}
