package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/domain"
)

func newJobsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and cancel sync jobs",
	}

	var (
		datasourceID string
		status       string
		limit        int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent sync jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().ListJobs(cmd.Context(), datasourceID, domain.JobStatus(status), limit)
			if err != nil {
				return err
			}
			return a.render(res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "JOB\tDATASOURCE\tTYPE\tSTATUS\tPROCESSED\tFAILED\tCREATED")
				for _, j := range res.Jobs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d\t%s\n",
						j.ID, j.DatasourceID, j.Type, j.Status,
						j.ProcessedRecords, j.TotalRecords, j.FailedRecords,
						j.CreatedAt.Local().Format(time.DateTime))
				}
			})
		},
	}
	list.Flags().StringVar(&datasourceID, "datasource", "", "only jobs of this datasource")
	list.Flags().StringVar(&status, "status", "", "only jobs in this status")
	list.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs")

	var wait time.Duration
	get := &cobra.Command{
		Use:   "get <job>",
		Short: "Show one sync job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := a.client().GetJob(cmd.Context(), args[0], wait)
			if err != nil {
				return err
			}
			return a.renderJob(job)
		},
	}

	get.Flags().DurationVar(&wait, "wait", 0, "block up to this long for the job to finish")

	cancel := &cobra.Command{
		Use:   "cancel <job>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.client().CancelJob(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "cancellation requested for %s\n", args[0])
			return nil
		},
	}

	var errLimit, errOffset int
	errs := &cobra.Command{
		Use:   "errors <job>",
		Short: "List the row errors of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.client().JobErrors(cmd.Context(), args[0], errLimit, errOffset)
			if err != nil {
				return err
			}
			return a.render(res, func(w *tabwriter.Writer) {
				fmt.Fprintln(w, "RECORD\tERROR")
				for _, e := range res.Errors {
					fmt.Fprintf(w, "%s\t%s\n", e.RecordID, e.ErrorMessage)
				}
				fmt.Fprintf(w, "\n%d of %d errors\n", len(res.Errors), res.Total)
			})
		},
	}
	errs.Flags().IntVar(&errLimit, "limit", 100, "page size")
	errs.Flags().IntVar(&errOffset, "offset", 0, "page offset")

	cmd.AddCommand(list, get, cancel, errs)
	return cmd
}

func (a *app) renderJob(job *domain.SyncJob) error {
	return a.render(job, func(w *tabwriter.Writer) {
		fmt.Fprintf(w, "Job:\t%s\n", job.ID)
		fmt.Fprintf(w, "Datasource:\t%s\n", job.DatasourceID)
		fmt.Fprintf(w, "Collection:\t%s\n", job.Collection)
		fmt.Fprintf(w, "Type:\t%s\n", job.Type)
		fmt.Fprintf(w, "Status:\t%s\n", job.Status)
		fmt.Fprintf(w, "Records:\t%d processed of %d (%d ok, %d failed)\n",
			job.ProcessedRecords, job.TotalRecords, job.SuccessfulRecords, job.FailedRecords)
		fmt.Fprintf(w, "Watermark:\t%s -> %s\n", orDash(job.StartWatermark), orDash(job.EndWatermark))
		if job.ErrorMessage != "" {
			fmt.Fprintf(w, "Error:\t%s\n", job.ErrorMessage)
		}
	})
}
