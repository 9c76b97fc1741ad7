package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/domain"
)

func newDuplicatesCmd(a *app) *cobra.Command {
	var (
		req     domain.DetectDuplicatesRequest
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "duplicates <collection>",
		Short: "Find groups of near-duplicate products in a collection",
		Long: `Scan a collection for points whose similarity reaches the threshold and
group them transitively. With --ai every group is classified as a real
duplicate or a variant.

Examples:
  catalogctl duplicates productos --threshold 0.9
  catalogctl duplicates productos --filter marca=Bosch --ai --persist`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Collection = args[0]
			parsed, err := parseFilters(filters)
			if err != nil {
				return err
			}
			req.Filters = parsed
			report, err := a.client().DetectDuplicates(cmd.Context(), req)
			if err != nil {
				return err
			}
			return a.renderReport(report)
		},
	}
	cmd.Flags().Float64Var(&req.SimilarityThreshold, "threshold", 0, "minimum similarity (default from server config)")
	cmd.Flags().IntVar(&req.Limit, "limit", 0, "maximum points to scan (default from server config)")
	cmd.Flags().BoolVar(&req.UseAIClassification, "ai", false, "classify groups with the AI classifier")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "payload filter key=value (repeatable)")
	cmd.Flags().BoolVar(&req.Persist, "persist", false, "store the report in object storage")

	report := &cobra.Command{
		Use:   "report <collection> <name>",
		Short: "Fetch a persisted duplicate report",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.client().GetReport(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return a.renderReport(r)
		},
	}
	cmd.AddCommand(report)
	return cmd
}

// parseFilters turns key=value pairs into a payload filter. Integer, float
// and boolean values keep their type.
func parseFilters(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid filter %q, want key=value", p)
		}
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			out[key] = i
		} else if f, err := strconv.ParseFloat(value, 64); err == nil {
			out[key] = f
		} else if b, err := strconv.ParseBool(value); err == nil {
			out[key] = b
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func (a *app) renderReport(r *domain.DuplicateReport) error {
	return a.render(r, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Collection:\t%s\n", r.Collection)
		fmt.Fprintf(w, "Threshold:\t%.3f\n", r.SimilarityThreshold)
		fmt.Fprintf(w, "Scanned:\t%d points\n", r.ScannedPoints)
		fmt.Fprintf(w, "Groups:\t%d (%d redundant products)\n", r.TotalGroups, r.TotalDuplicates)
		if r.ReportURL != "" {
			fmt.Fprintf(w, "Report:\t%s\n", r.ReportURL)
		}
		if len(r.CategorySummary) > 0 {
			cats := make([]string, 0, len(r.CategorySummary))
			for c := range r.CategorySummary {
				cats = append(cats, string(c))
			}
			sort.Strings(cats)
			for _, c := range cats {
				fmt.Fprintf(w, "  %s:\t%d\n", c, r.CategorySummary[domain.DuplicateCategory(c)])
			}
		}
		fmt.Fprintln(w)
		fmt.Fprintln(w, "GROUP\tSIZE\tAVG SIM\tKEEP\tCATEGORY\tMEMBERS")
		for i, g := range r.Groups {
			category := "-"
			if g.Classification != nil {
				category = string(g.Classification.Category)
			}
			ids := make([]string, len(g.Members))
			for j, m := range g.Members {
				ids[j] = m.ID
			}
			fmt.Fprintf(w, "%d\t%d\t%.3f\t%s\t%s\t%s\n",
				i+1, len(g.Members), g.AvgSimilarity, g.Recommended, category, strings.Join(ids, ","))
		}
	})
}
